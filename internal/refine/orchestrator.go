// Package refine drives the generate, evaluate, revise loop for one
// document and persists the best draft it sees.
package refine

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/acqdocs/internal/catalog"
	"github.com/sells-group/acqdocs/internal/cost"
	"github.com/sells-group/acqdocs/internal/generate"
	"github.com/sells-group/acqdocs/internal/model"
	"github.com/sells-group/acqdocs/internal/quality"
	"github.com/sells-group/acqdocs/internal/resilience"
	"github.com/sells-group/acqdocs/internal/retrieval"
	"github.com/sells-group/acqdocs/internal/xref"
)

// Evaluator scores a draft.
type Evaluator interface {
	Evaluate(ctx context.Context, text string, gc *model.GenerationContext) (*model.QualityReport, error)
}

// ContextBuilder resolves prerequisites into a GenerationContext.
type ContextBuilder interface {
	Build(ctx context.Context, program string, docType model.DocumentType, passages []model.Passage) (*model.GenerationContext, error)
}

// Store is what the Orchestrator writes on termination.
type Store interface {
	PutContent(ctx context.Context, text string) (string, error)
	Save(ctx context.Context, rec *model.DocumentRecord) (string, error)
	SaveReport(ctx context.Context, report *model.RefinementReport) error
}

// Deps are the collaborators of an Orchestrator. Retriever and Costs are
// optional.
type Deps struct {
	Catalog   *catalog.Catalog
	Builder   ContextBuilder
	Generator generate.Generator
	Evaluator Evaluator
	Store     Store
	Retriever retrieval.Retriever
	Costs     *cost.Calculator
}

// Orchestrator runs refinement loops. Runs share nothing but the store, so
// one Orchestrator may serve many documents concurrently.
type Orchestrator struct {
	cfg  Config
	deps Deps
}

// New validates cfg and deps.
func New(cfg Config, deps Deps) (*Orchestrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch {
	case deps.Catalog == nil:
		return nil, eris.New("refine: catalog is required")
	case deps.Builder == nil:
		return nil, eris.New("refine: context builder is required")
	case deps.Generator == nil:
		return nil, eris.New("refine: generator is required")
	case deps.Evaluator == nil:
		return nil, eris.New("refine: evaluator is required")
	case deps.Store == nil:
		return nil, eris.New("refine: store is required")
	}
	if deps.Retriever == nil {
		deps.Retriever = retrieval.None{}
	}
	return &Orchestrator{cfg: cfg, deps: deps}, nil
}

// Config returns the loop bounds in use.
func (o *Orchestrator) Config() Config { return o.cfg }

type candidate struct {
	iteration int
	draft     string
	report    *model.QualityReport
}

// Run produces, refines and persists one document. Generation and
// evaluation failures after the initial draft end the loop but not the run:
// the best draft so far is persisted and reported. Store failures, an
// unknown document type, cancellation before the first draft and a failed
// initial generation are returned as errors.
func (o *Orchestrator) Run(ctx context.Context, program string, docType model.DocumentType) (*model.RefinementReport, error) {
	start := time.Now()
	log := zap.L().With(zap.String("program", program), zap.String("doc_type", string(docType)))

	entry, ok := o.deps.Catalog.Lookup(docType)
	if !ok {
		return nil, eris.Errorf("refine: unknown document type %q", docType)
	}
	if err := ctx.Err(); err != nil {
		return nil, eris.Wrap(err, "refine: cancelled before start")
	}

	tracker := cost.NewTracker(o.deps.Costs)
	ctx = cost.WithTracker(ctx, tracker)

	passages := o.retrieve(ctx, log, program, entry)
	gc, err := o.deps.Builder.Build(ctx, program, docType, passages)
	if err != nil {
		return nil, eris.Wrap(err, "refine: build context")
	}
	if len(gc.Unresolved) > 0 {
		log.Info("refine: prerequisites missing, drafting with placeholders",
			zap.Strings("unresolved", typeNames(gc.Unresolved)))
	}

	report := &model.RefinementReport{
		ProgramName: program,
		Type:        docType,
		Threshold:   o.cfg.QualityThreshold,
		Unresolved:  gc.Unresolved,
		StartedAt:   start.UTC(),
	}

	draft, err := o.deps.Generator.Generate(ctx, generate.Request{
		Mode:         generate.ModeInitial,
		Instructions: entry.Instructions,
		Context:      gc,
	})
	if err != nil {
		return nil, eris.Wrap(err, "refine: initial draft")
	}

	best := candidate{iteration: 0, draft: draft}
	scored := true
	best.report, err = o.deps.Evaluator.Evaluate(ctx, draft, gc)
	if err != nil {
		// The draft is returned unscored rather than discarded.
		log.Warn("refine: initial evaluation failed", zap.Error(err))
		best.report = &model.QualityReport{Grade: model.GradeFor(0), HallucinationRisk: model.RiskHigh}
		report.Termination = model.TerminationEvaluationFailed
		scored = false
	}
	report.Iterations = append(report.Iterations, model.RefinementIteration{
		Index:      0,
		Kind:       model.IterationInitial,
		ScoreAfter: best.report.OverallScore,
		IssueCount: best.report.IssueCount(),
	})
	log.Info("refine: initial draft scored",
		zap.Int("iteration", 0),
		zap.Int("score", best.report.OverallScore),
	)

	if report.Termination == "" {
		report.Termination = o.refine(ctx, log, entry, gc, &best, report)
	}

	report.FinalReport = *best.report
	report.BestIteration = best.iteration
	report.Draft = best.draft
	report.ThresholdMet = best.report.OverallScore >= o.cfg.QualityThreshold
	report.Usage = tracker.Snapshot()
	report.DurationMs = time.Since(start).Milliseconds()

	// An unscored draft is not registered, so the latest scored record of
	// this type stays the one dependants and metrics see.
	if !scored {
		log.Warn("refine: draft unscored, not persisted",
			zap.Int64("duration_ms", report.DurationMs))
		return report, nil
	}

	// A cancelled run still persists its best draft.
	if err := o.persist(context.WithoutCancel(ctx), gc, best, report); err != nil {
		log.Error("refine: persist failed", zap.Error(err))
		return nil, err
	}

	log.Info("refine: document complete",
		zap.String("document_id", report.DocumentID),
		zap.Int("score", report.FinalScore()),
		zap.Int("iteration", report.BestIteration),
		zap.String("termination", string(report.Termination)),
		zap.Float64("cost_usd", report.Usage.CostUSD),
		zap.Int64("duration_ms", report.DurationMs),
	)
	return report, nil
}

// refine revises best until a stop condition and returns why it stopped.
func (o *Orchestrator) refine(ctx context.Context, log *zap.Logger, entry catalog.Entry, gc *model.GenerationContext, best *candidate, report *model.RefinementReport) model.Termination {
	for n := 1; n <= o.cfg.MaxIterations; n++ {
		if best.report.OverallScore >= o.cfg.QualityThreshold {
			return model.TerminationConverged
		}
		if ctx.Err() != nil {
			log.Info("refine: cancelled", zap.Int("iteration", n))
			return model.TerminationCancelled
		}

		draft, err := o.deps.Generator.Generate(ctx, generate.Request{
			Mode:         generate.ModeRevision,
			Instructions: entry.Instructions,
			Context:      gc,
			PriorDraft:   best.draft,
			Feedback:     best.report,
		})
		if err != nil {
			logIterationFailure(log, "refine: revision failed, keeping best draft", n, err)
			return model.TerminationGenerationFailed
		}

		scored, err := o.deps.Evaluator.Evaluate(ctx, draft, gc)
		if err != nil {
			logIterationFailure(log, "refine: evaluation failed, keeping best draft", n, err)
			return model.TerminationEvaluationFailed
		}

		before := best.report.OverallScore
		delta := scored.OverallScore - before
		report.Iterations = append(report.Iterations, model.RefinementIteration{
			Index:       n,
			Kind:        model.IterationRefinement,
			ScoreBefore: &before,
			ScoreAfter:  scored.OverallScore,
			Delta:       delta,
			IssueCount:  scored.IssueCount(),
		})
		log.Info("refine: revision scored",
			zap.Int("iteration", n),
			zap.Int("score", scored.OverallScore),
			zap.Int("delta", delta),
		)

		if scored.OverallScore > best.report.OverallScore {
			*best = candidate{iteration: n, draft: draft, report: scored}
		}
		if best.report.OverallScore >= o.cfg.QualityThreshold {
			return model.TerminationConverged
		}
		if delta <= o.cfg.Epsilon {
			return model.TerminationNoImprovement
		}
	}
	if best.report.OverallScore >= o.cfg.QualityThreshold {
		return model.TerminationConverged
	}
	return model.TerminationMaxIterations
}

func (o *Orchestrator) retrieve(ctx context.Context, log *zap.Logger, program string, entry catalog.Entry) []model.Passage {
	if o.cfg.TopK == 0 {
		return nil
	}
	passages, err := o.deps.Retriever.Retrieve(ctx, program+" "+entry.Title, o.cfg.TopK)
	if err != nil {
		log.Warn("refine: retrieval failed, continuing without passages", zap.Error(err))
		return nil
	}
	return passages
}

func (o *Orchestrator) persist(ctx context.Context, gc *model.GenerationContext, best candidate, report *model.RefinementReport) error {
	pointer, err := o.deps.Store.PutContent(ctx, best.draft)
	if err != nil {
		return eris.Wrap(err, "refine: store draft")
	}

	rec := &model.DocumentRecord{
		Type:           report.Type,
		ProgramName:    report.ProgramName,
		ContentPointer: pointer,
		QualityScore:   best.report.OverallScore,
		CitationCount:  best.report.CitationCount,
		References:     gc.ReferenceIDs(),
		ExtractedData:  xref.ExtractData(best.draft),
	}
	id, err := o.deps.Store.Save(ctx, rec)
	if err != nil {
		return eris.Wrap(err, "refine: save record")
	}
	report.DocumentID = id

	if err := o.deps.Store.SaveReport(ctx, report); err != nil {
		return eris.Wrap(err, "refine: save report")
	}
	return nil
}

func logIterationFailure(log *zap.Logger, msg string, n int, err error) {
	fields := []zap.Field{zap.Int("iteration", n), zap.Error(err)}
	var ese *resilience.ExternalServiceError
	if errors.As(err, &ese) {
		fields = append(fields, zap.String("service", ese.Service), zap.Int("attempt", ese.Attempts))
	}
	if quality.IsEvaluation(err) {
		fields = append(fields, zap.Bool("evaluation_error", true))
	}
	log.Warn(msg, fields...)
}

func typeNames(ts []model.DocumentType) []string {
	out := make([]string, len(ts))
	for i, t := range ts {
		out[i] = string(t)
	}
	return out
}
