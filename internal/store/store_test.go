package store

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/acqdocs/internal/model"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	st, err := NewSQLite(filepath.Join(t.TempDir(), "acqdocs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

// backends runs fn against every embedded Store implementation.
func backends(t *testing.T, fn func(t *testing.T, st Store)) {
	t.Run("memory", func(t *testing.T) { fn(t, NewMemory()) })
	t.Run("sqlite", func(t *testing.T) { fn(t, newTestSQLiteStore(t)) })
}

var t0 = time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)

func record(program string, docType model.DocumentType, at time.Time) *model.DocumentRecord {
	return &model.DocumentRecord{
		Type:           docType,
		ProgramName:    program,
		ContentPointer: ContentPointer(string(docType) + at.String()),
		CreatedAt:      at,
		QualityScore:   82,
		CitationCount:  9,
	}
}

func TestStore_SaveThenResolveRoundTrip(t *testing.T) {
	backends(t, func(t *testing.T, st Store) {
		ctx := context.Background()
		rec := record("NAVSEA Cloud", model.DocPWS, t0)
		rec.ID = "pws-001"
		rec.References = []string{"mr-001", "igce-001"}
		rec.ExtractedData = map[string]string{"estimated_total": "$4,200,000.00", "vendor_count": "7"}
		want := rec.Clone()

		id, err := st.Save(ctx, rec)
		require.NoError(t, err)
		assert.Equal(t, "pws-001", id)

		got, err := st.GetLatestByType(ctx, "NAVSEA Cloud", model.DocPWS)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, want, *got)

		byID, err := st.Get(ctx, "pws-001")
		require.NoError(t, err)
		assert.Equal(t, want, *byID)
	})
}

func TestStore_SaveAssignsIDAndTime(t *testing.T) {
	backends(t, func(t *testing.T, st Store) {
		rec := &model.DocumentRecord{Type: model.DocIGCE, ProgramName: "P", ContentPointer: ContentPointer("x")}
		id, err := st.Save(context.Background(), rec)
		require.NoError(t, err)
		assert.NotEmpty(t, id)
		assert.Equal(t, id, rec.ID)
		assert.False(t, rec.CreatedAt.IsZero())
		assert.Equal(t, time.UTC, rec.CreatedAt.Location())
	})
}

func TestStore_DuplicateIDIsError(t *testing.T) {
	backends(t, func(t *testing.T, st Store) {
		ctx := context.Background()
		a := record("P", model.DocQASP, t0)
		a.ID = "same"
		_, err := st.Save(ctx, a)
		require.NoError(t, err)

		b := record("P", model.DocQASP, t0.Add(time.Hour))
		b.ID = "same"
		b.QualityScore = 99
		_, err = st.Save(ctx, b)
		assert.ErrorIs(t, err, ErrDuplicateID)

		got, err := st.Get(ctx, "same")
		require.NoError(t, err)
		assert.Equal(t, 82, got.QualityScore)
	})
}

func TestStore_RejectsIncompleteRecord(t *testing.T) {
	backends(t, func(t *testing.T, st Store) {
		_, err := st.Save(context.Background(), &model.DocumentRecord{ProgramName: "P"})
		assert.Error(t, err)
		_, err = st.Save(context.Background(), &model.DocumentRecord{Type: model.DocPWS})
		assert.Error(t, err)
	})
}

func TestStore_LatestByTypeMissing(t *testing.T) {
	backends(t, func(t *testing.T, st Store) {
		got, err := st.GetLatestByType(context.Background(), "unknown", model.DocIGCE)
		require.NoError(t, err)
		assert.Nil(t, got)

		got, err = st.Get(context.Background(), "nope")
		require.NoError(t, err)
		assert.Nil(t, got)
	})
}

func TestStore_LatestByTypeReturnsNewest(t *testing.T) {
	backends(t, func(t *testing.T, st Store) {
		ctx := context.Background()
		old := record("P", model.DocIGCE, t0)
		old.ID = "igce-old"
		newest := record("P", model.DocIGCE, t0.Add(2*time.Hour))
		newest.ID = "igce-new"
		middle := record("P", model.DocIGCE, t0.Add(time.Hour))
		middle.ID = "igce-mid"
		other := record("Other", model.DocIGCE, t0.Add(5*time.Hour))

		for _, r := range []*model.DocumentRecord{old, newest, middle, other} {
			_, err := st.Save(ctx, r)
			require.NoError(t, err)
		}

		got, err := st.GetLatestByType(ctx, "P", model.DocIGCE)
		require.NoError(t, err)
		assert.Equal(t, "igce-new", got.ID)
	})
}

func TestStore_LatestByTypeTieBreaksOnInsertOrder(t *testing.T) {
	backends(t, func(t *testing.T, st Store) {
		ctx := context.Background()
		first := record("P", model.DocQASP, t0)
		first.ID = "first"
		second := record("P", model.DocQASP, t0)
		second.ID = "second"
		_, err := st.Save(ctx, first)
		require.NoError(t, err)
		_, err = st.Save(ctx, second)
		require.NoError(t, err)

		got, err := st.GetLatestByType(ctx, "P", model.DocQASP)
		require.NoError(t, err)
		assert.Equal(t, "second", got.ID)
	})
}

func TestStore_GetReferrers(t *testing.T) {
	backends(t, func(t *testing.T, st Store) {
		ctx := context.Background()
		mr := record("P", model.DocMarketResearch, t0)
		mr.ID = "mr"
		pws := record("P", model.DocPWS, t0.Add(time.Minute))
		pws.ID = "pws"
		pws.References = []string{"mr"}
		ap := record("P", model.DocAcquisitionPlan, t0.Add(2*time.Minute))
		ap.ID = "ap"
		ap.References = []string{"pws", "mr"}

		for _, r := range []*model.DocumentRecord{mr, pws, ap} {
			_, err := st.Save(ctx, r)
			require.NoError(t, err)
		}

		refs, err := st.GetReferrers(ctx, "mr")
		require.NoError(t, err)
		require.Len(t, refs, 2)
		assert.Equal(t, "pws", refs[0].ID)
		assert.Equal(t, "ap", refs[1].ID)
		assert.Equal(t, []string{"pws", "mr"}, refs[1].References)

		none, err := st.GetReferrers(ctx, "ap")
		require.NoError(t, err)
		assert.Empty(t, none)
	})
}

func TestStore_ListByProgramNewestFirst(t *testing.T) {
	backends(t, func(t *testing.T, st Store) {
		ctx := context.Background()
		for i, dt := range []model.DocumentType{model.DocMarketResearch, model.DocIGCE, model.DocPWS} {
			r := record("P", dt, t0.Add(time.Duration(i)*time.Minute))
			_, err := st.Save(ctx, r)
			require.NoError(t, err)
		}
		_, err := st.Save(ctx, record("Q", model.DocPWS, t0))
		require.NoError(t, err)

		recs, err := st.ListByProgram(ctx, "P")
		require.NoError(t, err)
		require.Len(t, recs, 3)
		assert.Equal(t, model.DocPWS, recs[0].Type)
		assert.Equal(t, model.DocMarketResearch, recs[2].Type)
	})
}

func TestStore_ReturnedRecordsAreCopies(t *testing.T) {
	backends(t, func(t *testing.T, st Store) {
		ctx := context.Background()
		rec := record("P", model.DocPWS, t0)
		rec.References = []string{"a"}
		rec.ExtractedData = map[string]string{"k": "v"}
		_, err := st.Save(ctx, rec)
		require.NoError(t, err)

		rec.ExtractedData["k"] = "mutated"
		got, err := st.Get(ctx, rec.ID)
		require.NoError(t, err)
		got.References[0] = "mutated"

		again, err := st.Get(ctx, rec.ID)
		require.NoError(t, err)
		assert.Equal(t, "v", again.ExtractedData["k"])
		assert.Equal(t, []string{"a"}, again.References)
	})
}

func TestStore_Content(t *testing.T) {
	backends(t, func(t *testing.T, st Store) {
		ctx := context.Background()
		text := "# Statement of Need\n\nThe Government requires..."
		p1, err := st.PutContent(ctx, text)
		require.NoError(t, err)
		p2, err := st.PutContent(ctx, text)
		require.NoError(t, err)
		assert.Equal(t, p1, p2)
		assert.True(t, strings.HasPrefix(p1, "sha256:"))

		got, err := st.GetContent(ctx, p1)
		require.NoError(t, err)
		assert.Equal(t, text, got)

		_, err = st.GetContent(ctx, ContentPointer("missing"))
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestStore_Reports(t *testing.T) {
	backends(t, func(t *testing.T, st Store) {
		ctx := context.Background()
		before := 70
		report := &model.RefinementReport{
			DocumentID:  "doc-1",
			ProgramName: "P",
			Type:        model.DocPWS,
			Iterations: []model.RefinementIteration{
				{Index: 0, Kind: model.IterationInitial, ScoreAfter: 70, IssueCount: 4},
				{Index: 1, Kind: model.IterationRefinement, ScoreBefore: &before, ScoreAfter: 88, Delta: 18, IssueCount: 1},
			},
			FinalReport: model.QualityReport{OverallScore: 88, Grade: model.GradeB},
			Draft:       "full draft text",
			Termination: model.TerminationConverged,
			Threshold:   85,
		}
		require.NoError(t, st.SaveReport(ctx, report))
		assert.ErrorIs(t, st.SaveReport(ctx, report), ErrDuplicateID)

		got, err := st.GetReport(ctx, "doc-1")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, 88, got.FinalScore())
		assert.Equal(t, 1, got.RefinementCount())
		require.NotNil(t, got.Iterations[1].ScoreBefore)
		assert.Equal(t, 70, *got.Iterations[1].ScoreBefore)
		assert.Empty(t, got.Draft)
		assert.Equal(t, "full draft text", report.Draft)

		missing, err := st.GetReport(ctx, "nope")
		require.NoError(t, err)
		assert.Nil(t, missing)

		assert.Error(t, st.SaveReport(ctx, &model.RefinementReport{}))
	})
}

func TestStore_ConcurrentSaves(t *testing.T) {
	backends(t, func(t *testing.T, st Store) {
		ctx := context.Background()
		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, err := st.Save(ctx, record("P", model.DocPWS, t0.Add(time.Duration(i)*time.Second)))
				assert.NoError(t, err)
			}(i)
		}
		wg.Wait()

		recs, err := st.ListByProgram(ctx, "P")
		require.NoError(t, err)
		assert.Len(t, recs, 10)
	})
}

func TestContentPointer(t *testing.T) {
	p := ContentPointer("abc")
	assert.Equal(t, "sha256:ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad", p)
	assert.True(t, ValidPointer(p))
	assert.False(t, ValidPointer("sha256:xyz"))
	assert.False(t, ValidPointer("md5:"+strings.Repeat("0", 64)))
}

func TestSQLite_ClosedIsUnavailable(t *testing.T) {
	st, err := NewSQLite(filepath.Join(t.TempDir(), "closed.db"))
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	require.NoError(t, st.Close())

	_, err = st.Save(context.Background(), record("P", model.DocPWS, t0))
	require.Error(t, err)
	assert.True(t, IsUnavailable(err))

	var ue *UnavailableError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, "begin save", ue.Op)
}
