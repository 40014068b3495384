package config

import (
	"fmt"
	"math"
	"strings"

	"github.com/rotisserie/eris"
)

const maxConcurrentDocuments = 16

// Validate checks that the settings a command needs are present and sane.
// Every problem is reported at once.
func (c *Config) Validate(mode string) error {
	var errs []string
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Sprintf(format, args...))
	}

	switch mode {
	case "catalog":
	case "records", "export", "migrate":
		c.validateStore(add)
	case "generate", "program":
		c.validateStore(add)
		c.validateGeneration(add)
	case "serve":
		c.validateStore(add)
		c.validateGeneration(add)
		if c.Server.Port <= 0 {
			add("server.port must be > 0")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if mode == "program" || mode == "serve" {
		if n := c.Program.MaxConcurrentDocuments; n < 1 || n > maxConcurrentDocuments {
			add("program.max_concurrent_documents must be between 1 and %d", maxConcurrentDocuments)
		}
	}

	if len(errs) > 0 {
		return eris.Errorf("config: invalid for %s: %s", mode, strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) validateStore(add func(string, ...any)) {
	switch c.Store.Driver {
	case "memory":
	case "sqlite", "postgres":
		if c.Store.DatabaseURL == "" {
			add("store.database_url is required for the %s driver", c.Store.Driver)
		}
	default:
		add("store.driver must be one of memory, sqlite, postgres")
	}
}

func (c *Config) validateGeneration(add func(string, ...any)) {
	if c.Anthropic.Key == "" {
		add("anthropic.key is required")
	}
	if c.Anthropic.Model == "" {
		add("anthropic.model is required")
	}

	switch c.Retrieval.Provider {
	case "", "none":
	case "jina":
		if c.Jina.Key == "" {
			add("jina.key is required for the jina retrieval provider")
		}
	case "perplexity":
		if c.Perplexity.Key == "" {
			add("perplexity.key is required for the perplexity retrieval provider")
		}
	default:
		add("retrieval.provider must be one of none, jina, perplexity")
	}

	r := c.Refinement
	if r.MaxIterations < 0 {
		add("refinement.max_iterations must be >= 0")
	}
	if r.QualityThreshold < 0 || r.QualityThreshold > 100 {
		add("refinement.quality_threshold must be between 0 and 100")
	}
	if r.Epsilon < 0 {
		add("refinement.epsilon must be >= 0")
	}

	w := c.Quality.Weights
	if w.Hallucination < 0 || w.Vague < 0 || w.Citations < 0 || w.Compliance < 0 || w.Completeness < 0 {
		add("quality.weights values must be >= 0")
	} else if math.Abs(w.Sum()-1) > 1e-6 {
		add("quality.weights must sum to 1.0, got %.4f", w.Sum())
	}
}
