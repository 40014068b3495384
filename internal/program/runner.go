// Package program generates a set of documents for one program, phase by
// phase, so every document is drafted after its prerequisites exist.
package program

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/acqdocs/internal/catalog"
	"github.com/sells-group/acqdocs/internal/model"
	"github.com/sells-group/acqdocs/internal/xref"
)

// DocumentRunner refines and persists one document.
type DocumentRunner interface {
	Run(ctx context.Context, program string, docType model.DocumentType) (*model.RefinementReport, error)
}

// Status of one document in a program run.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusReused    Status = "reused"
	StatusSkipped   Status = "skipped"
)

// Outcome is the result for one document type.
type Outcome struct {
	Type   model.DocumentType      `json:"type"`
	Phase  int                     `json:"phase"`
	Status Status                  `json:"status"`
	Report *model.RefinementReport `json:"report,omitempty"`
	Error  string                  `json:"error,omitempty"`
	Reused *model.DocumentRecord   `json:"reused,omitempty"`
}

// Result of a program run, in phase order.
type Result struct {
	Program    string    `json:"program"`
	Outcomes   []Outcome `json:"outcomes"`
	DurationMs int64     `json:"duration_ms"`
}

// Count returns the number of outcomes with status s.
func (r *Result) Count(s Status) int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Status == s {
			n++
		}
	}
	return n
}

// Options tune a Runner.
type Options struct {
	// MaxConcurrent bounds documents generated at once within a phase.
	MaxConcurrent int
	// ReuseExisting skips prerequisites that were not requested explicitly
	// when the program already has a record of that type.
	ReuseExisting bool
}

// Runner schedules refinement runs across catalog phases.
type Runner struct {
	catalog *catalog.Catalog
	docs    DocumentRunner
	lookup  xref.Lookup
	opts    Options
}

// NewRunner returns a Runner. lookup is only consulted with ReuseExisting.
func NewRunner(cat *catalog.Catalog, docs DocumentRunner, lookup xref.Lookup, opts Options) *Runner {
	if opts.MaxConcurrent < 1 {
		opts.MaxConcurrent = 1
	}
	return &Runner{catalog: cat, docs: docs, lookup: lookup, opts: opts}
}

// Run generates types and their missing prerequisites. A failed document
// never stops its siblings; dependants of a failure are still attempted and
// draft with placeholders. Cancellation skips phases not yet started.
func (r *Runner) Run(ctx context.Context, program string, types []model.DocumentType) (*Result, error) {
	if program == "" {
		return nil, eris.New("program: program name is required")
	}
	phases, err := r.catalog.Phases(types)
	if err != nil {
		return nil, eris.Wrap(err, "program: plan phases")
	}

	requested := make(map[model.DocumentType]bool, len(types))
	for _, t := range types {
		requested[t] = true
	}

	start := time.Now()
	log := zap.L().With(zap.String("program", program))
	log.Info("program: starting", zap.Int("phases", len(phases)), zap.Int("requested", len(types)))

	res := &Result{Program: program}
	for i, phase := range phases {
		if ctx.Err() != nil {
			for _, t := range phase {
				res.Outcomes = append(res.Outcomes, Outcome{Type: t, Phase: i + 1, Status: StatusSkipped, Error: ctx.Err().Error()})
			}
			continue
		}
		res.Outcomes = append(res.Outcomes, r.runPhase(ctx, log, program, i+1, phase, requested)...)
	}

	res.DurationMs = time.Since(start).Milliseconds()
	log.Info("program: complete",
		zap.Int("completed", res.Count(StatusCompleted)),
		zap.Int("failed", res.Count(StatusFailed)),
		zap.Int("reused", res.Count(StatusReused)),
		zap.Int64("duration_ms", res.DurationMs),
	)
	return res, nil
}

func (r *Runner) runPhase(ctx context.Context, log *zap.Logger, program string, phase int, types []model.DocumentType, requested map[model.DocumentType]bool) []Outcome {
	out := make([]Outcome, len(types))

	g := new(errgroup.Group)
	g.SetLimit(r.opts.MaxConcurrent)
	for i, t := range types {
		g.Go(func() error {
			o := r.runOne(ctx, log, program, t, !requested[t])
			o.Phase = phase
			out[i] = o
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func (r *Runner) runOne(ctx context.Context, log *zap.Logger, program string, t model.DocumentType, prerequisite bool) Outcome {
	if prerequisite && r.opts.ReuseExisting && r.lookup != nil {
		rec, err := r.lookup.GetLatestByType(ctx, program, t)
		switch {
		case err != nil:
			log.Warn("program: existing record lookup failed, regenerating", zap.String("doc_type", string(t)), zap.Error(err))
		case rec != nil:
			return Outcome{Type: t, Status: StatusReused, Reused: rec}
		}
	}

	report, err := r.docs.Run(ctx, program, t)
	if err != nil {
		log.Error("program: document failed", zap.String("doc_type", string(t)), zap.Error(err))
		return Outcome{Type: t, Status: StatusFailed, Error: err.Error()}
	}
	if !report.Persisted() {
		log.Warn("program: document not stored", zap.String("doc_type", string(t)),
			zap.String("termination", string(report.Termination)))
		return Outcome{Type: t, Status: StatusFailed, Report: report, Error: "draft not stored: " + string(report.Termination)}
	}
	return Outcome{Type: t, Status: StatusCompleted, Report: report}
}
