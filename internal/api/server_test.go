package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/acqdocs/internal/catalog"
	"github.com/sells-group/acqdocs/internal/model"
	"github.com/sells-group/acqdocs/internal/monitoring"
	"github.com/sells-group/acqdocs/internal/resilience"
	"github.com/sells-group/acqdocs/internal/store"
)

// fakeGenerator persists a fixed draft the way a refinement run would.
type fakeGenerator struct {
	store *store.MemoryStore
	score int
	err   error
}

func (g *fakeGenerator) Run(ctx context.Context, program string, t model.DocumentType) (*model.RefinementReport, error) {
	if g.err != nil {
		return nil, g.err
	}
	ptr, err := g.store.PutContent(ctx, "## Scope\nDraft for "+program)
	if err != nil {
		return nil, err
	}
	id, err := g.store.Save(ctx, &model.DocumentRecord{Type: t, ProgramName: program, ContentPointer: ptr, QualityScore: g.score})
	if err != nil {
		return nil, err
	}
	report := &model.RefinementReport{
		DocumentID:  id,
		ProgramName: program,
		Type:        t,
		FinalReport: model.QualityReport{OverallScore: g.score},
		Termination: model.TerminationConverged,
	}
	return report, g.store.SaveReport(ctx, report)
}

type fixture struct {
	srv   *Server
	ts    *httptest.Server
	store *store.MemoryStore
	gen   *fakeGenerator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := store.NewMemory()
	gen := &fakeGenerator{store: st, score: 88}
	srv := New(context.Background(), st, gen, catalog.Default(), monitoring.NewCollector(st), Options{Threshold: 85})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &fixture{srv: srv, ts: ts, store: st, gen: gen}
}

func (f *fixture) get(t *testing.T, path string) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Get(f.ts.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, body
}

func (f *fixture) seed(t *testing.T, rec *model.DocumentRecord, text string) string {
	t.Helper()
	ctx := context.Background()
	if text != "" {
		ptr, err := f.store.PutContent(ctx, text)
		require.NoError(t, err)
		rec.ContentPointer = ptr
	}
	id, err := f.store.Save(ctx, rec)
	require.NoError(t, err)
	return id
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	resp, body := f.get(t, "/health")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"ok"}`, string(body))
}

func TestHealth_ReportsCircuits(t *testing.T) {
	st := store.NewMemory()
	breakers := resilience.NewServiceBreakers(resilience.CircuitBreakerConfig{FailureThreshold: 1, ResetTimeout: time.Hour})
	srv := New(context.Background(), st, &fakeGenerator{store: st}, catalog.Default(), monitoring.NewCollector(st), Options{Breakers: breakers})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	health := func() map[string]any {
		resp, err := http.Get(ts.URL + "/health")
		require.NoError(t, err)
		defer resp.Body.Close() //nolint:errcheck
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		var out map[string]any
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
		return out
	}

	cb := breakers.Get("anthropic")
	out := health()
	assert.Equal(t, "ok", out["status"])
	assert.Equal(t, map[string]any{"anthropic": "closed"}, out["circuits"])

	_ = cb.Execute(context.Background(), func(context.Context) error { return errors.New("overloaded") })
	out = health()
	assert.Equal(t, "degraded", out["status"])
	assert.Equal(t, map[string]any{"anthropic": "open"}, out["circuits"])
}

type downStore struct{ *store.MemoryStore }

func (downStore) Ping(context.Context) error { return errors.New("connection refused") }

func (downStore) ListByProgram(context.Context, string) ([]model.DocumentRecord, error) {
	return nil, &store.UnavailableError{Op: "list", Err: errors.New("connection refused")}
}

func TestHealth_StoreDown(t *testing.T) {
	st := downStore{store.NewMemory()}
	srv := New(context.Background(), st, &fakeGenerator{}, catalog.Default(), monitoring.NewCollector(st), Options{})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close() //nolint:errcheck
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/v1/programs/Falcon/documents")
	require.NoError(t, err)
	resp.Body.Close() //nolint:errcheck
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestGenerateDocument_Async(t *testing.T) {
	f := newFixture(t)

	resp, err := http.Post(f.ts.URL+"/v1/programs/Falcon/documents/Market-Research", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var job Job
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&job))
	assert.Equal(t, "Falcon", job.Program)
	assert.Equal(t, model.DocMarketResearch, job.Type)
	assert.Equal(t, "/v1/jobs/"+job.ID, resp.Header.Get("Location"))

	f.srv.Wait()

	r, body := f.get(t, "/v1/jobs/"+job.ID)
	require.Equal(t, http.StatusOK, r.StatusCode)
	var done Job
	require.NoError(t, json.Unmarshal(body, &done))
	assert.Equal(t, JobCompleted, done.Status)
	assert.Equal(t, 88, done.Score)
	assert.NotEmpty(t, done.DocumentID)
	assert.NotNil(t, done.FinishedAt)

	r, body = f.get(t, "/v1/programs/Falcon/documents/mr/latest")
	require.Equal(t, http.StatusOK, r.StatusCode)
	var rec model.DocumentRecord
	require.NoError(t, json.Unmarshal(body, &rec))
	assert.Equal(t, done.DocumentID, rec.ID)
}

func TestGenerateDocument_Failure(t *testing.T) {
	f := newFixture(t)
	f.gen.err = errors.New("store: save: unavailable")

	resp, err := http.Post(f.ts.URL+"/v1/programs/Falcon/documents/pws", "application/json", nil)
	require.NoError(t, err)
	var job Job
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&job))
	resp.Body.Close() //nolint:errcheck
	f.srv.Wait()

	_, body := f.get(t, "/v1/jobs/"+job.ID)
	var done Job
	require.NoError(t, json.Unmarshal(body, &done))
	assert.Equal(t, JobFailed, done.Status)
	assert.Contains(t, done.Error, "unavailable")
}

func TestGenerateDocument_UnknownType(t *testing.T) {
	f := newFixture(t)
	resp, err := http.Post(f.ts.URL+"/v1/programs/Falcon/documents/white_paper", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGetJob_NotFound(t *testing.T) {
	f := newFixture(t)
	resp, _ := f.get(t, "/v1/jobs/nope")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestListDocuments(t *testing.T) {
	f := newFixture(t)
	f.seed(t, &model.DocumentRecord{Type: model.DocMarketResearch, ProgramName: "Falcon"}, "")
	f.seed(t, &model.DocumentRecord{Type: model.DocPWS, ProgramName: "Falcon"}, "")

	resp, body := f.get(t, "/v1/programs/Falcon/documents")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var recs []model.DocumentRecord
	require.NoError(t, json.Unmarshal(body, &recs))
	assert.Len(t, recs, 2)

	_, body = f.get(t, "/v1/programs/Osprey/documents")
	assert.JSONEq(t, `[]`, string(body))
}

func TestLatestDocument_NotFound(t *testing.T) {
	f := newFixture(t)
	resp, _ := f.get(t, "/v1/programs/Falcon/documents/igce/latest")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestDocumentEndpoints(t *testing.T) {
	f := newFixture(t)
	mr := f.seed(t, &model.DocumentRecord{Type: model.DocMarketResearch, ProgramName: "Falcon"}, "## Market Research\nFive vendors.")
	pws := f.seed(t, &model.DocumentRecord{Type: model.DocPWS, ProgramName: "Falcon", References: []string{mr}}, "")
	require.NoError(t, f.store.SaveReport(context.Background(), &model.RefinementReport{DocumentID: mr, Type: model.DocMarketResearch, ProgramName: "Falcon", Termination: model.TerminationMaxIterations}))

	resp, body := f.get(t, "/v1/documents/"+mr)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var rec model.DocumentRecord
	require.NoError(t, json.Unmarshal(body, &rec))
	assert.Equal(t, model.DocMarketResearch, rec.Type)

	resp, body = f.get(t, "/v1/documents/"+mr+"/referrers")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var refs []model.DocumentRecord
	require.NoError(t, json.Unmarshal(body, &refs))
	require.Len(t, refs, 1)
	assert.Equal(t, pws, refs[0].ID)

	resp, body = f.get(t, "/v1/documents/"+mr+"/report")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var report model.RefinementReport
	require.NoError(t, json.Unmarshal(body, &report))
	assert.Equal(t, model.TerminationMaxIterations, report.Termination)

	resp, body = f.get(t, "/v1/documents/"+mr+"/content")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.HasPrefix(resp.Header.Get("Content-Type"), "text/markdown"))
	assert.Equal(t, "## Market Research\nFive vendors.", string(body))

	resp, _ = f.get(t, "/v1/documents/"+pws+"/report")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp, _ = f.get(t, "/v1/documents/"+pws+"/content")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestDocumentEndpoints_UnknownID(t *testing.T) {
	f := newFixture(t)
	for _, path := range []string{"", "/referrers", "/report", "/content"} {
		resp, _ := f.get(t, "/v1/documents/missing"+path)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode, path)
	}
}

func TestProgramMetrics(t *testing.T) {
	f := newFixture(t)
	f.seed(t, &model.DocumentRecord{Type: model.DocMarketResearch, ProgramName: "Falcon", QualityScore: 90, CitationCount: 7}, "")
	f.seed(t, &model.DocumentRecord{Type: model.DocPWS, ProgramName: "Falcon", QualityScore: 80, CitationCount: 3}, "")

	resp, body := f.get(t, "/v1/programs/Falcon/metrics")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var snap monitoring.Snapshot
	require.NoError(t, json.Unmarshal(body, &snap))
	assert.Equal(t, 2, snap.DocumentCount)
	assert.Equal(t, 85, snap.Threshold)
	assert.Equal(t, 1, snap.BelowThreshold)
	assert.Equal(t, 10, snap.CitationTotal)
	assert.InDelta(t, 85.0, snap.MeanScore, 0.001)

	_, body = f.get(t, "/v1/programs/Falcon/metrics?threshold=75")
	require.NoError(t, json.Unmarshal(body, &snap))
	assert.Zero(t, snap.BelowThreshold)

	resp, _ = f.get(t, "/v1/programs/Falcon/metrics?threshold=abc")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCatalog(t *testing.T) {
	f := newFixture(t)
	resp, body := f.get(t, "/v1/catalog")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var entries []catalog.Entry
	require.NoError(t, json.Unmarshal(body, &entries))
	require.Len(t, entries, 9)
	assert.Equal(t, model.DocMarketResearch, entries[0].Type)
}

func TestCORS(t *testing.T) {
	f := newFixture(t)
	req, err := http.NewRequest(http.MethodOptions, f.ts.URL+"/v1/catalog", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://contracts.example.gov")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestServer_BackgroundRunsUseServerContext(t *testing.T) {
	st := store.NewMemory()
	ctx, cancel := context.WithCancel(context.Background())
	block := &blockingGenerator{started: make(chan struct{})}
	srv := New(ctx, st, block, catalog.Default(), monitoring.NewCollector(st), Options{})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/v1/programs/Falcon/documents/qasp", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close() //nolint:errcheck
	<-block.started

	cancel()
	done := make(chan struct{})
	go func() {
		srv.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("background generation ignored server shutdown")
	}
}

type blockingGenerator struct{ started chan struct{} }

func (b *blockingGenerator) Run(ctx context.Context, _ string, _ model.DocumentType) (*model.RefinementReport, error) {
	close(b.started)
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestJobs_UnstoredReportIsFailed(t *testing.T) {
	j := newJobs()
	job := j.start("Falcon", model.DocPWS)

	j.finish(job.ID, &model.RefinementReport{Termination: model.TerminationEvaluationFailed}, nil)

	got, ok := j.get(job.ID)
	require.True(t, ok)
	assert.Equal(t, JobFailed, got.Status)
	assert.Equal(t, "draft not stored: evaluation_failed", got.Error)
	assert.Equal(t, model.TerminationEvaluationFailed, got.Termination)
	assert.Empty(t, got.DocumentID)
	assert.NotNil(t, got.FinishedAt)
}
