package refine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/acqdocs/internal/catalog"
	"github.com/sells-group/acqdocs/internal/generate"
	"github.com/sells-group/acqdocs/internal/model"
	"github.com/sells-group/acqdocs/internal/quality"
	"github.com/sells-group/acqdocs/internal/resilience"
	"github.com/sells-group/acqdocs/internal/store"
	"github.com/sells-group/acqdocs/internal/xref"
)

// scriptedGenerator returns "draft-N" for call N unless errs[N] is set.
type scriptedGenerator struct {
	mu     sync.Mutex
	errs   map[int]error
	hook   func(call int)
	reqs   []generate.Request
	prefix string
}

func (g *scriptedGenerator) Generate(_ context.Context, req generate.Request) (string, error) {
	g.mu.Lock()
	n := len(g.reqs)
	g.reqs = append(g.reqs, req)
	g.mu.Unlock()
	if g.hook != nil {
		g.hook(n)
	}
	if err := g.errs[n]; err != nil {
		return "", err
	}
	return fmt.Sprintf("%sdraft-%d", g.prefix, n), nil
}

// scriptedEvaluator scores call N with scores[N].
type scriptedEvaluator struct {
	mu     sync.Mutex
	scores []int
	errs   map[int]error
	calls  int
}

func (e *scriptedEvaluator) Evaluate(_ context.Context, text string, _ *model.GenerationContext) (*model.QualityReport, error) {
	e.mu.Lock()
	n := e.calls
	e.calls++
	e.mu.Unlock()
	if err := e.errs[n]; err != nil {
		return nil, err
	}
	if n >= len(e.scores) {
		return nil, fmt.Errorf("unexpected evaluation %d", n)
	}
	s := e.scores[n]
	return &model.QualityReport{
		OverallScore:  s,
		Grade:         model.GradeFor(s),
		CitationCount: n,
		Issues:        []string{fmt.Sprintf("issue in %s", text)},
		Suggestions:   []string{"be specific"},
	}, nil
}

type harness struct {
	store *store.MemoryStore
	gen   *scriptedGenerator
	eval  *scriptedEvaluator
	orch  *Orchestrator
}

func newHarness(t *testing.T, cfg Config, scores ...int) *harness {
	t.Helper()
	h := &harness{
		store: store.NewMemory(),
		gen:   &scriptedGenerator{errs: map[int]error{}},
		eval:  &scriptedEvaluator{scores: scores, errs: map[int]error{}},
	}
	h.orch = h.build(t, cfg, h.store)
	return h
}

func (h *harness) build(t *testing.T, cfg Config, st Store) *Orchestrator {
	t.Helper()
	cat := catalog.Default()
	o, err := New(cfg, Deps{
		Catalog:   cat,
		Builder:   xref.NewBuilder(xref.NewResolver(h.store), h.store, cat),
		Generator: h.gen,
		Evaluator: h.eval,
		Store:     st,
	})
	require.NoError(t, err)
	return o
}

func loopConfig(maxIter int) Config {
	return Config{MaxIterations: maxIter, QualityThreshold: 85, Epsilon: 1}
}

// assertBestRetained checks the reported score is the maximum seen.
func assertBestRetained(t *testing.T, r *model.RefinementReport) {
	t.Helper()
	maxScore := -1
	for _, it := range r.Iterations {
		maxScore = max(maxScore, it.ScoreAfter)
	}
	assert.Equal(t, maxScore, r.FinalScore())
	assert.Equal(t, maxScore, r.Iterations[r.BestIteration].ScoreAfter)
}

func TestRun_RegressionKeepsBestDraft(t *testing.T) {
	h := newHarness(t, loopConfig(3), 66, 65)

	r, err := h.orch.Run(context.Background(), "Falcon", model.DocPWS)
	require.NoError(t, err)

	assert.Equal(t, 66, r.FinalScore())
	assert.Equal(t, 0, r.BestIteration)
	assert.Equal(t, "draft-0", r.Draft)
	assert.Equal(t, model.TerminationNoImprovement, r.Termination)
	require.Len(t, r.Iterations, 2)
	assert.Equal(t, -1, r.Iterations[1].Delta)
	require.NotNil(t, r.Iterations[1].ScoreBefore)
	assert.Equal(t, 66, *r.Iterations[1].ScoreBefore)
	assert.False(t, r.ThresholdMet)
	assertBestRetained(t, r)

	rec, err := h.store.GetLatestByType(context.Background(), "Falcon", model.DocPWS)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, 66, rec.QualityScore)
	text, err := h.store.GetContent(context.Background(), rec.ContentPointer)
	require.NoError(t, err)
	assert.Equal(t, "draft-0", text)
}

func TestRun_NoImprovementConvergence(t *testing.T) {
	h := newHarness(t, loopConfig(2), 68, 84, 84)

	r, err := h.orch.Run(context.Background(), "Falcon", model.DocPWS)
	require.NoError(t, err)

	assert.Equal(t, model.TerminationNoImprovement, r.Termination)
	assert.Equal(t, 84, r.FinalScore())
	assert.Equal(t, 1, r.BestIteration)
	assert.Equal(t, 2, r.RefinementCount())
	assert.Equal(t, []int{68, 84, 84}, scoresOf(r))
	assert.Equal(t, 0, r.Iterations[2].Delta)
	assertBestRetained(t, r)
}

func TestRun_InitialMeetsThreshold(t *testing.T) {
	h := newHarness(t, loopConfig(3), 90)

	r, err := h.orch.Run(context.Background(), "Falcon", model.DocPWS)
	require.NoError(t, err)

	assert.Equal(t, model.TerminationConverged, r.Termination)
	assert.Zero(t, r.RefinementCount())
	assert.True(t, r.ThresholdMet)
	assert.Len(t, h.gen.reqs, 1)
	assert.Nil(t, r.Iterations[0].ScoreBefore)
	assert.Equal(t, model.IterationInitial, r.Iterations[0].Kind)
}

func TestRun_ConvergesMidLoop(t *testing.T) {
	h := newHarness(t, loopConfig(3), 70, 86)

	r, err := h.orch.Run(context.Background(), "Falcon", model.DocPWS)
	require.NoError(t, err)
	assert.Equal(t, model.TerminationConverged, r.Termination)
	assert.Equal(t, 86, r.FinalScore())
	assert.Equal(t, "draft-1", r.Draft)

	rev := h.gen.reqs[1]
	assert.Equal(t, generate.ModeRevision, rev.Mode)
	assert.Equal(t, "draft-0", rev.PriorDraft)
	assert.Equal(t, 70, rev.Feedback.OverallScore)
	assert.Equal(t, []string{"issue in draft-0"}, rev.Feedback.Issues)
}

func TestRun_MaxIterations(t *testing.T) {
	h := newHarness(t, loopConfig(3), 50, 60, 70, 80)

	r, err := h.orch.Run(context.Background(), "Falcon", model.DocPWS)
	require.NoError(t, err)
	assert.Equal(t, model.TerminationMaxIterations, r.Termination)
	assert.Equal(t, 3, r.RefinementCount())
	assert.Equal(t, 80, r.FinalScore())
	assert.Len(t, h.gen.reqs, 4)
}

func TestRun_ZeroIterations(t *testing.T) {
	h := newHarness(t, loopConfig(0), 50)

	r, err := h.orch.Run(context.Background(), "Falcon", model.DocPWS)
	require.NoError(t, err)
	assert.Equal(t, model.TerminationMaxIterations, r.Termination)
	assert.Len(t, r.Iterations, 1)
}

func TestRun_RevisionServiceErrorKeepsBest(t *testing.T) {
	h := newHarness(t, loopConfig(3), 70, 75)
	h.gen.errs[2] = &resilience.ExternalServiceError{Service: "anthropic", Op: "generate_revision", Attempts: 2, Err: errors.New("timeout")}

	r, err := h.orch.Run(context.Background(), "Falcon", model.DocPWS)
	require.NoError(t, err)

	assert.Equal(t, model.TerminationGenerationFailed, r.Termination)
	assert.Equal(t, 75, r.FinalScore())
	assert.Equal(t, "draft-1", r.Draft)
	assert.Len(t, r.Iterations, 2, "a failed call is not a scored iteration")
	assert.NotEmpty(t, r.DocumentID)
}

func TestRun_RevisionEvaluationErrorKeepsBest(t *testing.T) {
	h := newHarness(t, loopConfig(3), 70)
	h.eval.errs[1] = &quality.EvaluationError{Check: model.CheckCompliance, Err: errors.New("bad json")}

	r, err := h.orch.Run(context.Background(), "Falcon", model.DocPWS)
	require.NoError(t, err)
	assert.Equal(t, model.TerminationEvaluationFailed, r.Termination)
	assert.Equal(t, 70, r.FinalScore())
	assert.Equal(t, "draft-0", r.Draft)
	assert.Len(t, r.Iterations, 1)
}

func TestRun_InitialEvaluationFailureKeepsEarlierRecord(t *testing.T) {
	h := newHarness(t, loopConfig(3))
	ctx := context.Background()
	earlier := &model.DocumentRecord{
		Type:           model.DocPWS,
		ProgramName:    "Falcon",
		ContentPointer: store.ContentPointer("earlier pws"),
		QualityScore:   81,
	}
	earlierID, err := h.store.Save(ctx, earlier)
	require.NoError(t, err)

	h.eval.errs[0] = &quality.EvaluationError{Err: errors.New("assessment down")}

	r, err := h.orch.Run(ctx, "Falcon", model.DocPWS)
	require.NoError(t, err)
	assert.Equal(t, model.TerminationEvaluationFailed, r.Termination)
	assert.Zero(t, r.FinalScore())
	assert.Equal(t, "draft-0", r.Draft)
	assert.False(t, r.Persisted())
	assert.Len(t, h.gen.reqs, 1)

	latest, err := h.store.GetLatestByType(ctx, "Falcon", model.DocPWS)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, earlierID, latest.ID)
	assert.Equal(t, 81, latest.QualityScore)

	recs, err := h.store.ListByProgram(ctx, "Falcon")
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func TestRun_InitialGenerationFailure(t *testing.T) {
	h := newHarness(t, loopConfig(3))
	h.gen.errs[0] = &resilience.ExternalServiceError{Service: "anthropic", Op: "generate_initial", Attempts: 2, Err: errors.New("503")}

	_, err := h.orch.Run(context.Background(), "Falcon", model.DocPWS)
	require.Error(t, err)
	assert.True(t, resilience.IsExternalService(err))

	rec, err := h.store.GetLatestByType(context.Background(), "Falcon", model.DocPWS)
	require.NoError(t, err)
	assert.Nil(t, rec)
}

type failingStore struct {
	*store.MemoryStore
}

func (failingStore) Save(context.Context, *model.DocumentRecord) (string, error) {
	return "", &store.UnavailableError{Op: "save", Err: errors.New("connection refused")}
}

func TestRun_StoreFailureIsFatal(t *testing.T) {
	h := newHarness(t, loopConfig(1), 90)
	orch := h.build(t, loopConfig(1), failingStore{h.store})

	r, err := orch.Run(context.Background(), "Falcon", model.DocPWS)
	require.Error(t, err)
	assert.Nil(t, r)
	assert.True(t, store.IsUnavailable(err))
}

func TestRun_CancelledBetweenIterations(t *testing.T) {
	h := newHarness(t, loopConfig(3), 60, 70)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.gen.hook = func(call int) {
		if call == 1 {
			cancel()
		}
	}

	r, err := h.orch.Run(ctx, "Falcon", model.DocPWS)
	require.NoError(t, err)
	// The revision already in flight completes; the next iteration sees
	// the cancellation.
	assert.Equal(t, model.TerminationCancelled, r.Termination)
	assert.Equal(t, 70, r.FinalScore())
	assert.Len(t, h.gen.reqs, 2)

	rec, err := h.store.GetLatestByType(context.Background(), "Falcon", model.DocPWS)
	require.NoError(t, err)
	require.NotNil(t, rec, "a cancelled run still persists")
}

func TestRun_CancelledBeforeStart(t *testing.T) {
	h := newHarness(t, loopConfig(3), 60)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := h.orch.Run(ctx, "Falcon", model.DocPWS)
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, h.gen.reqs)
}

func TestRun_UnknownType(t *testing.T) {
	h := newHarness(t, loopConfig(3))
	_, err := h.orch.Run(context.Background(), "Falcon", "white_paper")
	assert.ErrorContains(t, err, "unknown document type")
}

func TestRun_RoundTripAndCrossReference(t *testing.T) {
	ctx := context.Background()

	mr := newHarness(t, loopConfig(0), 88)
	mr.gen.prefix = "Twelve capable vendors under NAICS 541512 at $2.5 million. "
	mrReport, err := mr.orch.Run(ctx, "Falcon", model.DocMarketResearch)
	require.NoError(t, err)

	// Share the store with a second run of a dependant type.
	pws := &harness{
		store: mr.store,
		gen:   &scriptedGenerator{errs: map[int]error{}},
		eval:  &scriptedEvaluator{scores: []int{90}, errs: map[int]error{}},
	}
	pws.orch = pws.build(t, loopConfig(0), pws.store)
	pwsReport, err := pws.orch.Run(ctx, "Falcon", model.DocPWS)
	require.NoError(t, err)

	gc := pws.gen.reqs[0].Context
	require.Len(t, gc.References, 1)
	assert.Equal(t, mrReport.DocumentID, gc.References[0].Record.ID)
	assert.Empty(t, gc.Unresolved)

	saved, err := pws.store.Get(ctx, pwsReport.DocumentID)
	require.NoError(t, err)
	latest, err := pws.store.GetLatestByType(ctx, "Falcon", model.DocPWS)
	require.NoError(t, err)
	assert.Equal(t, saved, latest)
	assert.Equal(t, []string{mrReport.DocumentID}, latest.References)

	mrRec, err := mr.store.Get(ctx, mrReport.DocumentID)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		xref.KeyVendorCount:     "12",
		xref.KeyNAICSCode:       "541512",
		xref.KeyCurrencyFigures: "$2.5 million",
		xref.KeyEstimatedTotal:  "$2,500,000",
	}, mrRec.ExtractedData)

	referrers, err := mr.store.GetReferrers(ctx, mrReport.DocumentID)
	require.NoError(t, err)
	require.Len(t, referrers, 1)
	assert.Equal(t, pwsReport.DocumentID, referrers[0].ID)

	stored, err := mr.store.GetReport(ctx, pwsReport.DocumentID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, pwsReport.FinalScore(), stored.FinalScore())
	assert.Empty(t, stored.Draft)
}

func TestRun_MissingPrerequisitesRecorded(t *testing.T) {
	h := newHarness(t, loopConfig(0), 60)
	r, err := h.orch.Run(context.Background(), "Falcon", model.DocAcquisitionPlan)
	require.NoError(t, err)
	assert.Equal(t, []model.DocumentType{model.DocMarketResearch, model.DocIGCE, model.DocPWS}, r.Unresolved)
}

type stubRetriever struct {
	passages []model.Passage
	err      error
	queries  []string
}

func (s *stubRetriever) Retrieve(_ context.Context, query string, _ int) ([]model.Passage, error) {
	s.queries = append(s.queries, query)
	return s.passages, s.err
}

func TestRun_RetrievalPassagesAndFailure(t *testing.T) {
	for _, tc := range []struct {
		name string
		ret  *stubRetriever
		want int
	}{
		{"passages", &stubRetriever{passages: []model.Passage{{Text: "rate $142", Source: "gsa.gov"}}}, 1},
		{"failure", &stubRetriever{err: errors.New("search down")}, 0},
	} {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, loopConfig(0), 60)
			cat := catalog.Default()
			o, err := New(Config{QualityThreshold: 85, TopK: 3}, Deps{
				Catalog:   cat,
				Builder:   xref.NewBuilder(xref.NewResolver(h.store), h.store, cat),
				Generator: h.gen,
				Evaluator: h.eval,
				Store:     h.store,
				Retriever: tc.ret,
			})
			require.NoError(t, err)

			_, err = o.Run(context.Background(), "Falcon", model.DocMarketResearch)
			require.NoError(t, err)
			assert.Equal(t, []string{"Falcon Market Research Report"}, tc.ret.queries)
			assert.Len(t, h.gen.reqs[0].Context.Passages, tc.want)
		})
	}
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{MaxIterations: -1}, Deps{})
	assert.ErrorContains(t, err, "max_iterations")

	_, err = New(Config{QualityThreshold: 101}, Deps{})
	assert.ErrorContains(t, err, "quality_threshold")

	_, err = New(Config{Epsilon: -1}, Deps{})
	assert.ErrorContains(t, err, "epsilon")

	_, err = New(DefaultConfig(), Deps{})
	assert.ErrorContains(t, err, "catalog is required")
}

func scoresOf(r *model.RefinementReport) []int {
	out := make([]int, len(r.Iterations))
	for i, it := range r.Iterations {
		out[i] = it.ScoreAfter
	}
	return out
}
