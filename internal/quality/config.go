package quality

import (
	"strconv"

	"github.com/sells-group/acqdocs/internal/model"
)

// Weights of each check in the overall score.
type Weights struct {
	Hallucination float64 `mapstructure:"hallucination" yaml:"hallucination"`
	Vague         float64 `mapstructure:"vague" yaml:"vague"`
	Citations     float64 `mapstructure:"citations" yaml:"citations"`
	Compliance    float64 `mapstructure:"compliance" yaml:"compliance"`
	Completeness  float64 `mapstructure:"completeness" yaml:"completeness"`
}

// DefaultWeights returns the standard weighting.
func DefaultWeights() Weights {
	return Weights{
		Hallucination: 0.30,
		Vague:         0.15,
		Citations:     0.20,
		Compliance:    0.25,
		Completeness:  0.10,
	}
}

// Map keys the weights by check name.
func (w Weights) Map() map[string]float64 {
	return map[string]float64{
		model.CheckHallucination: w.Hallucination,
		model.CheckVagueLanguage: w.Vague,
		model.CheckCitations:     w.Citations,
		model.CheckCompliance:    w.Compliance,
		model.CheckCompleteness:  w.Completeness,
	}
}

// Config tunes the standard checks.
type Config struct {
	Weights Weights
	// CitationDensityThreshold is the citation count above which the
	// assessed hallucination risk drops one band.
	CitationDensityThreshold int
	// MaxExcerptChars bounds the text sent to assessment calls.
	MaxExcerptChars int
	// CitationWindowChars is how far from a figure a citation may sit and
	// still support it.
	CitationWindowChars int
}

// DefaultConfig returns the standard settings.
func DefaultConfig() Config {
	return Config{
		Weights:                  DefaultWeights(),
		CitationDensityThreshold: 20,
		MaxExcerptChars:          12000,
		CitationWindowChars:      240,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Weights == (Weights{}) {
		c.Weights = d.Weights
	}
	if c.CitationDensityThreshold <= 0 {
		c.CitationDensityThreshold = d.CitationDensityThreshold
	}
	if c.MaxExcerptChars <= 0 {
		c.MaxExcerptChars = d.MaxExcerptChars
	}
	if c.CitationWindowChars <= 0 {
		c.CitationWindowChars = d.CitationWindowChars
	}
	return c
}

// Metadata keys shared between checks and the aggregator.
const (
	metaRisk      = "risk"
	metaCitations = "citations"
)

func metaInt(m map[string]string, key string) (int, bool) {
	v, ok := m[key]
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	return n, err == nil
}
