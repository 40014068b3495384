// Package quality scores a draft across five independent checks and
// combines them into a weighted QualityReport.
package quality

import (
	"context"
	"math"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/acqdocs/internal/model"
)

// Check is one scoring strategy. Implementations must not share mutable
// state: the Evaluator runs them concurrently.
type Check interface {
	Name() string
	Run(ctx context.Context, text string, gc *model.GenerationContext) (model.CheckResult, error)
}

// Evaluator runs a fixed set of checks and aggregates their scores.
type Evaluator struct {
	checks  []Check
	weights map[string]float64
}

// NewEvaluator pairs checks with weights. Every check needs a weight, every
// weight a check, and the weights must sum to 1.
func NewEvaluator(checks []Check, weights map[string]float64) (*Evaluator, error) {
	if len(checks) == 0 {
		return nil, eris.New("quality: no checks")
	}
	seen := make(map[string]bool, len(checks))
	for _, c := range checks {
		if seen[c.Name()] {
			return nil, eris.Errorf("quality: duplicate check %q", c.Name())
		}
		seen[c.Name()] = true
		w, ok := weights[c.Name()]
		if !ok {
			return nil, eris.Errorf("quality: check %q has no weight", c.Name())
		}
		if w < 0 {
			return nil, eris.Errorf("quality: check %q has negative weight %v", c.Name(), w)
		}
	}
	sum := 0.0
	for name, w := range weights {
		if !seen[name] {
			return nil, eris.Errorf("quality: weight for unknown check %q", name)
		}
		sum += w
	}
	if math.Abs(sum-1) > 1e-6 {
		return nil, eris.Errorf("quality: weights sum to %.4f, want 1.0", sum)
	}

	w := make(map[string]float64, len(weights))
	for k, v := range weights {
		w[k] = v
	}
	return &Evaluator{checks: append([]Check(nil), checks...), weights: w}, nil
}

// New builds the standard five-check Evaluator.
func New(cfg Config, assessor Assessor) (*Evaluator, error) {
	cfg = cfg.withDefaults()
	checks := []Check{
		NewHallucinationCheck(assessor, cfg),
		NewVagueLanguageCheck(),
		NewCitationCheck(cfg.CitationWindowChars),
		NewComplianceCheck(assessor, cfg.MaxExcerptChars),
		NewCompletenessCheck(),
	}
	return NewEvaluator(checks, cfg.Weights.Map())
}

// Evaluate scores text. Any check failure aborts the evaluation with an
// *EvaluationError.
func (e *Evaluator) Evaluate(ctx context.Context, text string, gc *model.GenerationContext) (*model.QualityReport, error) {
	if strings.TrimSpace(text) == "" {
		return nil, &EvaluationError{Err: eris.New("draft is empty")}
	}

	results := make([]model.CheckResult, len(e.checks))
	g, gctx := errgroup.WithContext(ctx)
	for i, c := range e.checks {
		g.Go(func() error {
			res, err := c.Run(gctx, text, gc)
			if err != nil {
				return &EvaluationError{Check: c.Name(), Err: err}
			}
			res.Name = c.Name()
			res.Score = clampScore(res.Score)
			res.Weight = e.weights[c.Name()]
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return e.aggregate(results), nil
}

func (e *Evaluator) aggregate(results []model.CheckResult) *model.QualityReport {
	report := &model.QualityReport{
		Checks:            make(map[string]model.CheckResult, len(results)),
		HallucinationRisk: model.RiskLow,
	}

	total := 0.0
	seenSuggestion := make(map[string]bool)
	for _, r := range results {
		total += float64(r.Score) * r.Weight
		report.Checks[r.Name] = r
		report.Issues = append(report.Issues, r.Issues...)
		for _, s := range r.Suggestions {
			if !seenSuggestion[s] {
				seenSuggestion[s] = true
				report.Suggestions = append(report.Suggestions, s)
			}
		}
		if risk := model.RiskLevel(r.Metadata[metaRisk]); risk.Valid() {
			report.HallucinationRisk = risk
		}
		if n, ok := metaInt(r.Metadata, metaCitations); ok && n > report.CitationCount {
			report.CitationCount = n
		}
	}

	report.OverallScore = clampScore(int(math.Round(total)))
	report.Grade = model.GradeFor(report.OverallScore)
	return report
}

func clampScore(s int) int {
	return max(0, min(100, s))
}
