package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/acqdocs/internal/model"
)

func TestSQLite_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "reopen.db")

	st, err := NewSQLite(path)
	require.NoError(t, err)
	require.NoError(t, st.Migrate(ctx))

	rec := record("Falcon", model.DocIGCE, t0)
	rec.References = []string{"mr-1"}
	rec.ExtractedData = map[string]string{"estimated_total": "$950,000"}
	id, err := st.Save(ctx, rec)
	require.NoError(t, err)
	pointer, err := st.PutContent(ctx, "## Cost Summary\n")
	require.NoError(t, err)
	require.NoError(t, st.SaveReport(ctx, &model.RefinementReport{DocumentID: id, Type: model.DocIGCE, Threshold: 85}))
	require.NoError(t, st.Close())

	st, err = NewSQLite(path)
	require.NoError(t, err)
	defer st.Close() //nolint:errcheck
	require.NoError(t, st.Migrate(ctx))

	got, err := st.GetLatestByType(ctx, "Falcon", model.DocIGCE)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, id, got.ID)
	assert.Equal(t, []string{"mr-1"}, got.References)
	assert.Equal(t, "$950,000", got.ExtractedData["estimated_total"])
	assert.True(t, got.CreatedAt.Equal(t0))

	body, err := st.GetContent(ctx, pointer)
	require.NoError(t, err)
	assert.Equal(t, "## Cost Summary\n", body)

	report, err := st.GetReport(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, report)
	assert.Equal(t, 85, report.Threshold)
}

func TestSQLite_Migrate_Idempotent(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	// newTestSQLiteStore already migrated once.
	require.NoError(t, st.Migrate(ctx))
	require.NoError(t, st.Ping(ctx))
}

func TestSQLite_ReferencesKeepOrder(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	rec := record("Falcon", model.DocAcquisitionPlan, t0)
	rec.References = []string{"pws-1", "mr-1", "igce-1"}
	id, err := st.Save(ctx, rec)
	require.NoError(t, err)

	got, err := st.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []string{"pws-1", "mr-1", "igce-1"}, got.References)

	var n int
	require.NoError(t, st.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM document_references WHERE document_id = ?`, id).Scan(&n))
	assert.Equal(t, 3, n)
}

func TestSQLite_DuplicateLeavesNoReferences(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	first := record("Falcon", model.DocPWS, t0)
	first.ID = "pws-1"
	first.References = []string{"mr-1"}
	_, err := st.Save(ctx, first)
	require.NoError(t, err)

	dup := record("Falcon", model.DocPWS, t0.Add(time.Minute))
	dup.ID = "pws-1"
	dup.References = []string{"mr-2", "igce-2"}
	_, err = st.Save(ctx, dup)
	require.ErrorIs(t, err, ErrDuplicateID)

	got, err := st.Get(ctx, "pws-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"mr-1"}, got.References)
	assert.True(t, got.CreatedAt.Equal(t0))
}

func TestSQLite_PutContentIsIdempotent(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	p1, err := st.PutContent(ctx, "draft")
	require.NoError(t, err)
	p2, err := st.PutContent(ctx, "draft")
	require.NoError(t, err)
	assert.Equal(t, p1, p2)

	var n int
	require.NoError(t, st.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM contents`).Scan(&n))
	assert.Equal(t, 1, n)
}

func TestSQLite_CustomDSNKeepsQuery(t *testing.T) {
	path := filepath.Join(t.TempDir(), "custom.db")
	st, err := NewSQLite(path + "?_pragma=busy_timeout(1000)")
	require.NoError(t, err)
	defer st.Close() //nolint:errcheck

	require.NoError(t, st.Migrate(context.Background()))
	require.NoError(t, st.Ping(context.Background()))
}

func TestSQLite_CorruptExtractedDataIsNotUnavailable(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	rec := record("Falcon", model.DocIGCE, t0)
	rec.ExtractedData = map[string]string{"estimated_total": "$950,000"}
	id, err := st.Save(ctx, rec)
	require.NoError(t, err)
	_, err = st.db.ExecContext(ctx, `UPDATE documents SET extracted_data = '{not json' WHERE id = ?`, id)
	require.NoError(t, err)

	_, err = st.Get(ctx, id)
	require.Error(t, err)
	assert.True(t, IsCorrupt(err))
	assert.False(t, IsUnavailable(err))
}

func TestPlaceholders(t *testing.T) {
	assert.Equal(t, "?", placeholders(1))
	assert.Equal(t, "?,?,?", placeholders(3))
}

func TestPrefixColumns(t *testing.T) {
	assert.Equal(t, "d.id, d.doc_type", prefixColumns("d.", "id, doc_type"))
}
