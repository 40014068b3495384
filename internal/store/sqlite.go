package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/acqdocs/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
// Per-connection pragmas ride on the DSN so every pooled connection gets them.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	if !strings.Contains(dsn, "?") {
		dsn += "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_txlock=immediate"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

// created_at is unix nanoseconds so ordering is exact.
const sqliteMigration = `
CREATE TABLE IF NOT EXISTS documents (
	id              TEXT PRIMARY KEY,
	doc_type        TEXT NOT NULL,
	program_name    TEXT NOT NULL,
	content_pointer TEXT NOT NULL,
	created_at      INTEGER NOT NULL,
	quality_score   INTEGER NOT NULL,
	citation_count  INTEGER NOT NULL,
	extracted_data  TEXT
);

CREATE TABLE IF NOT EXISTS document_references (
	document_id   TEXT NOT NULL REFERENCES documents(id),
	referenced_id TEXT NOT NULL,
	position      INTEGER NOT NULL,
	PRIMARY KEY (document_id, position)
);

CREATE TABLE IF NOT EXISTS contents (
	pointer    TEXT PRIMARY KEY,
	body       TEXT NOT NULL,
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS refinement_reports (
	document_id TEXT PRIMARY KEY,
	report      TEXT NOT NULL,
	created_at  INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_documents_program_type ON documents(program_name, doc_type, created_at);
CREATE INDEX IF NOT EXISTS idx_document_references_referenced ON document_references(referenced_id);
`

const sqliteDocumentColumns = `id, doc_type, program_name, content_pointer, created_at, quality_score, citation_count, extracted_data`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return classifySQLite("migrate", err)
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return classifySQLite("ping", s.db.PingContext(ctx))
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Save(ctx context.Context, rec *model.DocumentRecord) (string, error) {
	if err := prepareRecord(rec); err != nil {
		return "", err
	}
	extracted, err := encodeExtracted(rec.ExtractedData)
	if err != nil {
		return "", err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", classifySQLite("begin save", err)
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.ExecContext(ctx,
		`INSERT INTO documents (`+sqliteDocumentColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO NOTHING`,
		rec.ID, string(rec.Type), rec.ProgramName, rec.ContentPointer,
		rec.CreatedAt.UnixNano(), rec.QualityScore, rec.CitationCount, string(extracted),
	)
	if err != nil {
		return "", classifySQLite("insert document", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return "", classifySQLite("rows affected", err)
	}
	if n == 0 {
		return "", eris.Wrapf(ErrDuplicateID, "sqlite: save %s", rec.ID)
	}

	for i, ref := range rec.References {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO document_references (document_id, referenced_id, position) VALUES (?, ?, ?)`,
			rec.ID, ref, i,
		); err != nil {
			return "", classifySQLite("insert reference", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", classifySQLite("commit save", err)
	}
	return rec.ID, nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*model.DocumentRecord, error) {
	return s.one(ctx, "get document",
		`SELECT `+sqliteDocumentColumns+` FROM documents WHERE id = ?`, id)
}

func (s *SQLiteStore) GetLatestByType(ctx context.Context, program string, docType model.DocumentType) (*model.DocumentRecord, error) {
	return s.one(ctx, "get latest by type",
		`SELECT `+sqliteDocumentColumns+` FROM documents
		 WHERE program_name = ? AND doc_type = ?
		 ORDER BY created_at DESC, rowid DESC LIMIT 1`,
		program, string(docType))
}

func (s *SQLiteStore) GetReferrers(ctx context.Context, id string) ([]model.DocumentRecord, error) {
	return s.many(ctx, "get referrers",
		`SELECT `+prefixColumns("d.", sqliteDocumentColumns)+` FROM documents d
		 WHERE d.id IN (SELECT document_id FROM document_references WHERE referenced_id = ?)
		 ORDER BY d.created_at ASC, d.rowid ASC`,
		id)
}

func (s *SQLiteStore) ListByProgram(ctx context.Context, program string) ([]model.DocumentRecord, error) {
	return s.many(ctx, "list by program",
		`SELECT `+sqliteDocumentColumns+` FROM documents
		 WHERE program_name = ?
		 ORDER BY created_at DESC, rowid DESC`,
		program)
}

func (s *SQLiteStore) PutContent(ctx context.Context, text string) (string, error) {
	p := ContentPointer(text)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO contents (pointer, body, created_at) VALUES (?, ?, ?) ON CONFLICT(pointer) DO NOTHING`,
		p, text, time.Now().UnixNano(),
	)
	if err != nil {
		return "", classifySQLite("put content", err)
	}
	return p, nil
}

func (s *SQLiteStore) GetContent(ctx context.Context, pointer string) (string, error) {
	var body string
	err := s.db.QueryRowContext(ctx, `SELECT body FROM contents WHERE pointer = ?`, pointer).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return "", eris.Wrapf(ErrNotFound, "sqlite: content %s", pointer)
	}
	if err != nil {
		return "", classifySQLite("get content", err)
	}
	return body, nil
}

func (s *SQLiteStore) SaveReport(ctx context.Context, report *model.RefinementReport) error {
	data, err := encodeReport(report)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO refinement_reports (document_id, report, created_at) VALUES (?, ?, ?)
		 ON CONFLICT(document_id) DO NOTHING`,
		report.DocumentID, string(data), time.Now().UnixNano(),
	)
	if err != nil {
		return classifySQLite("save report", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return eris.Wrapf(ErrDuplicateID, "sqlite: report %s", report.DocumentID)
	}
	return nil
}

func (s *SQLiteStore) GetReport(ctx context.Context, documentID string) (*model.RefinementReport, error) {
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT report FROM refinement_reports WHERE document_id = ?`, documentID,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classifySQLite("get report", err)
	}
	return decodeReport([]byte(data))
}

// helpers

type scannable interface {
	Scan(dest ...any) error
}

func scanSQLiteRecord(row scannable) (*model.DocumentRecord, error) {
	var (
		r         model.DocumentRecord
		docType   string
		createdAt int64
		extracted sql.NullString
	)
	if err := row.Scan(&r.ID, &docType, &r.ProgramName, &r.ContentPointer,
		&createdAt, &r.QualityScore, &r.CitationCount, &extracted); err != nil {
		return nil, err
	}
	r.Type = model.DocumentType(docType)
	r.CreatedAt = time.Unix(0, createdAt).UTC()

	m, err := decodeExtracted([]byte(extracted.String))
	if err != nil {
		return nil, err
	}
	r.ExtractedData = m
	return &r, nil
}

func (s *SQLiteStore) one(ctx context.Context, op, query string, args ...any) (*model.DocumentRecord, error) {
	rec, err := scanSQLiteRecord(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classifySQLite(op, err)
	}
	if err := s.attachReferences(ctx, []*model.DocumentRecord{rec}); err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *SQLiteStore) many(ctx context.Context, op, query string, args ...any) ([]model.DocumentRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classifySQLite(op, err)
	}
	defer rows.Close() //nolint:errcheck

	var recs []*model.DocumentRecord
	for rows.Next() {
		rec, err := scanSQLiteRecord(rows)
		if err != nil {
			return nil, classifySQLite(op, err)
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, classifySQLite(op, err)
	}
	if err := s.attachReferences(ctx, recs); err != nil {
		return nil, err
	}
	return derefAll(recs), nil
}

// attachReferences loads reference edges for recs in one query.
func (s *SQLiteStore) attachReferences(ctx context.Context, recs []*model.DocumentRecord) error {
	if len(recs) == 0 {
		return nil
	}
	byID := make(map[string]*model.DocumentRecord, len(recs))
	args := make([]any, 0, len(recs))
	for _, r := range recs {
		byID[r.ID] = r
		args = append(args, r.ID)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT document_id, referenced_id FROM document_references
		 WHERE document_id IN (`+placeholders(len(args))+`)
		 ORDER BY document_id, position`,
		args...,
	)
	if err != nil {
		return classifySQLite("load references", err)
	}
	defer rows.Close() //nolint:errcheck

	for rows.Next() {
		var docID, refID string
		if err := rows.Scan(&docID, &refID); err != nil {
			return classifySQLite("scan reference", err)
		}
		if r, ok := byID[docID]; ok {
			r.References = append(r.References, refID)
		}
	}
	return classifySQLite("load references", rows.Err())
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func prefixColumns(prefix, cols string) string {
	parts := strings.Split(cols, ", ")
	for i, p := range parts {
		parts[i] = prefix + p
	}
	return strings.Join(parts, ", ")
}

func derefAll(recs []*model.DocumentRecord) []model.DocumentRecord {
	out := make([]model.DocumentRecord, len(recs))
	for i, r := range recs {
		out[i] = *r
	}
	return out
}
