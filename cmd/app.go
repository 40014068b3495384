package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/acqdocs/internal/catalog"
	"github.com/sells-group/acqdocs/internal/cost"
	"github.com/sells-group/acqdocs/internal/generate"
	"github.com/sells-group/acqdocs/internal/llm"
	"github.com/sells-group/acqdocs/internal/program"
	"github.com/sells-group/acqdocs/internal/quality"
	"github.com/sells-group/acqdocs/internal/refine"
	"github.com/sells-group/acqdocs/internal/resilience"
	"github.com/sells-group/acqdocs/internal/retrieval"
	"github.com/sells-group/acqdocs/internal/store"
	"github.com/sells-group/acqdocs/internal/xref"
	"github.com/sells-group/acqdocs/pkg/anthropic"
	"github.com/sells-group/acqdocs/pkg/jina"
	"github.com/sells-group/acqdocs/pkg/perplexity"
)

// appEnv holds the store, catalog and refinement stack shared by the
// generate, program and serve commands.
type appEnv struct {
	Store    store.Store
	Catalog  *catalog.Catalog
	Refiner  *refine.Orchestrator
	Runner   *program.Runner
	Breakers *resilience.ServiceBreakers
}

// Close releases resources held by the environment.
func (e *appEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initApp validates the config for mode, opens the store and builds the
// refinement stack against the Anthropic API. Callers should defer
// env.Close().
func initApp(ctx context.Context, mode string) (*appEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := openStore(ctx)
	if err != nil {
		return nil, err
	}

	cat, err := loadCatalog()
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	calc := newCalculator()
	env, err := buildApp(st, cat, anthropic.NewClient(cfg.Anthropic.Key), newRetriever(calc), calc)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	return env, nil
}

// buildApp wires the refinement stack around client. Split from initApp so
// tests can supply a scripted client.
func buildApp(st store.Store, cat *catalog.Catalog, client anthropic.Client, retriever retrieval.Retriever, calc *cost.Calculator) (*appEnv, error) {
	breakers := resilience.NewServiceBreakers(resilience.FromCircuitConfig(
		cfg.Resilience.CircuitFailureThreshold,
		cfg.Resilience.CircuitResetSecs,
	))
	caller := llm.NewCaller(client, breakers.Get(llm.Service), llm.Config{
		Timeout:           time.Duration(cfg.Anthropic.TimeoutSecs) * time.Second,
		RequestsPerSecond: cfg.Anthropic.RequestsPerSecond,
	})

	evaluator, err := quality.New(qualityConfig(), quality.NewLLMAssessor(caller, cfg.Anthropic.AssessModel, cfg.Anthropic.AssessMaxTokens))
	if err != nil {
		return nil, eris.Wrap(err, "build evaluator")
	}

	refiner, err := refine.New(refineConfig(), refine.Deps{
		Catalog: cat,
		Builder: xref.NewBuilder(xref.NewResolver(st), st, cat),
		Generator: generate.NewInvoker(caller, generate.Config{
			Model:     cfg.Anthropic.Model,
			MaxTokens: cfg.Anthropic.MaxTokens,
			CacheTTL:  cfg.Anthropic.CacheTTL,
		}),
		Evaluator: evaluator,
		Store:     st,
		Retriever: retriever,
		Costs:     calc,
	})
	if err != nil {
		return nil, eris.Wrap(err, "build refiner")
	}

	runner := program.NewRunner(cat, refiner, st, program.Options{
		MaxConcurrent: cfg.Program.MaxConcurrentDocuments,
		ReuseExisting: cfg.Program.ReuseExisting,
	})

	return &appEnv{
		Store:    st,
		Catalog:  cat,
		Refiner:  refiner,
		Runner:   runner,
		Breakers: breakers,
	}, nil
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "memory":
		zap.L().Warn("memory store selected, documents will not outlive this process")
		return store.NewMemory(), nil
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "acqdocs.db"
		}
		st, err := store.NewSQLite(dsn)
		if err != nil {
			return nil, err
		}
		return st, nil
	case "postgres":
		st, err := store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
		if err != nil {
			return nil, err
		}
		return st, nil
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// openStore connects and applies migrations.
func openStore(ctx context.Context) (store.Store, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

func loadCatalog() (*catalog.Catalog, error) {
	if cfg.Catalog.Path == "" {
		return catalog.Default(), nil
	}
	cat, err := catalog.LoadFile(cfg.Catalog.Path)
	if err != nil {
		return nil, err
	}
	zap.L().Info("catalog loaded", zap.String("path", cfg.Catalog.Path), zap.Int("documents", len(cat.Types())))
	return cat, nil
}

func newCalculator() *cost.Calculator {
	rates := cost.Rates{
		Anthropic:  make(map[string]cost.ModelRate, len(cfg.Pricing.Anthropic)),
		Jina:       cost.JinaRate{PerMTok: cfg.Pricing.Jina.PerMTok},
		Perplexity: cost.PerplexityRate{PerQuery: cfg.Pricing.Perplexity.PerQuery},
	}
	for model, p := range cfg.Pricing.Anthropic {
		rates.Anthropic[model] = cost.ModelRate{
			Input:         p.Input,
			Output:        p.Output,
			CacheWriteMul: p.CacheWriteMul,
			CacheReadMul:  p.CacheReadMul,
		}
	}
	return cost.NewCalculator(rates)
}

func newRetriever(calc *cost.Calculator) retrieval.Retriever {
	switch cfg.Retrieval.Provider {
	case "jina":
		var opts []jina.Option
		if cfg.Jina.SearchBaseURL != "" {
			opts = append(opts, jina.WithSearchBaseURL(cfg.Jina.SearchBaseURL))
		}
		return retrieval.NewJina(jina.NewClient(cfg.Jina.Key, opts...), calc, cfg.Retrieval.Site)
	case "perplexity":
		client := perplexity.NewClient(cfg.Perplexity.Key,
			perplexity.WithBaseURL(cfg.Perplexity.BaseURL),
			perplexity.WithModel(cfg.Perplexity.Model),
		)
		return retrieval.NewPerplexity(client, calc, cfg.Retrieval.Domains)
	default:
		return retrieval.None{}
	}
}

func qualityConfig() quality.Config {
	w := cfg.Quality.Weights
	return quality.Config{
		Weights: quality.Weights{
			Hallucination: w.Hallucination,
			Vague:         w.Vague,
			Citations:     w.Citations,
			Compliance:    w.Compliance,
			Completeness:  w.Completeness,
		},
		CitationDensityThreshold: cfg.Quality.CitationDensityThreshold,
		MaxExcerptChars:          cfg.Quality.MaxExcerptChars,
		CitationWindowChars:      cfg.Quality.CitationWindowChars,
	}
}

func refineConfig() refine.Config {
	return refine.Config{
		MaxIterations:    cfg.Refinement.MaxIterations,
		QualityThreshold: cfg.Refinement.QualityThreshold,
		Epsilon:          cfg.Refinement.Epsilon,
		TopK:             cfg.Retrieval.TopK,
	}
}
