package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/acqdocs/internal/db"
	"github.com/sells-group/acqdocs/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(1)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, &UnavailableError{Op: "connect", Err: err}
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresWithPool wraps an existing pool. The caller keeps ownership.
func NewPostgresWithPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS documents (
	seq             BIGSERIAL UNIQUE,
	id              TEXT PRIMARY KEY,
	doc_type        TEXT NOT NULL,
	program_name    TEXT NOT NULL,
	content_pointer TEXT NOT NULL,
	created_at      TIMESTAMPTZ NOT NULL,
	quality_score   INTEGER NOT NULL CHECK (quality_score BETWEEN 0 AND 100),
	citation_count  INTEGER NOT NULL,
	extracted_data  JSONB
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
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS refinement_reports (
	document_id TEXT PRIMARY KEY,
	report      JSONB NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_documents_program_type ON documents(program_name, doc_type, created_at DESC, seq DESC);
CREATE INDEX IF NOT EXISTS idx_document_references_referenced ON document_references(referenced_id);
`

const pgDocumentColumns = `id, doc_type, program_name, content_pointer, created_at, quality_score, citation_count, extracted_data`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return classifyPostgres("migrate", err)
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return classifyPostgres("ping", s.pool.Ping(ctx))
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) Save(ctx context.Context, rec *model.DocumentRecord) (string, error) {
	if err := prepareRecord(rec); err != nil {
		return "", err
	}
	extracted, err := encodeExtracted(rec.ExtractedData)
	if err != nil {
		return "", err
	}

	err = db.InTx(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`INSERT INTO documents (`+pgDocumentColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			 ON CONFLICT (id) DO NOTHING`,
			rec.ID, string(rec.Type), rec.ProgramName, rec.ContentPointer,
			rec.CreatedAt, rec.QualityScore, rec.CitationCount, extracted,
		)
		if err != nil {
			return classifyPostgres("insert document", err)
		}
		if tag.RowsAffected() == 0 {
			return eris.Wrapf(ErrDuplicateID, "postgres: save %s", rec.ID)
		}

		rows := make([][]any, len(rec.References))
		for i, ref := range rec.References {
			rows[i] = []any{rec.ID, ref, int32(i)}
		}
		if _, err := db.CopyFrom(ctx, tx, "document_references",
			[]string{"document_id", "referenced_id", "position"}, rows); err != nil {
			return classifyPostgres("insert references", err)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrDuplicateID) || IsUnavailable(err) {
			return "", err
		}
		return "", classifyPostgres("save", err)
	}
	return rec.ID, nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*model.DocumentRecord, error) {
	return s.one(ctx, "get document",
		`SELECT `+pgDocumentColumns+` FROM documents WHERE id = $1`, id)
}

func (s *PostgresStore) GetLatestByType(ctx context.Context, program string, docType model.DocumentType) (*model.DocumentRecord, error) {
	return s.one(ctx, "get latest by type",
		`SELECT `+pgDocumentColumns+` FROM documents
		 WHERE program_name = $1 AND doc_type = $2
		 ORDER BY created_at DESC, seq DESC LIMIT 1`,
		program, string(docType))
}

func (s *PostgresStore) GetReferrers(ctx context.Context, id string) ([]model.DocumentRecord, error) {
	return s.many(ctx, "get referrers",
		`SELECT `+prefixColumns("d.", pgDocumentColumns)+` FROM documents d
		 WHERE d.id IN (SELECT document_id FROM document_references WHERE referenced_id = $1)
		 ORDER BY d.created_at ASC, d.seq ASC`,
		id)
}

func (s *PostgresStore) ListByProgram(ctx context.Context, program string) ([]model.DocumentRecord, error) {
	return s.many(ctx, "list by program",
		`SELECT `+pgDocumentColumns+` FROM documents
		 WHERE program_name = $1
		 ORDER BY created_at DESC, seq DESC`,
		program)
}

func (s *PostgresStore) PutContent(ctx context.Context, text string) (string, error) {
	p := ContentPointer(text)
	_, err := s.pool.Exec(ctx,
		`INSERT INTO contents (pointer, body) VALUES ($1, $2) ON CONFLICT (pointer) DO NOTHING`,
		p, text,
	)
	if err != nil {
		return "", classifyPostgres("put content", err)
	}
	return p, nil
}

func (s *PostgresStore) GetContent(ctx context.Context, pointer string) (string, error) {
	var body string
	err := s.pool.QueryRow(ctx, `SELECT body FROM contents WHERE pointer = $1`, pointer).Scan(&body)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", eris.Wrapf(ErrNotFound, "postgres: content %s", pointer)
	}
	if err != nil {
		return "", classifyPostgres("get content", err)
	}
	return body, nil
}

func (s *PostgresStore) SaveReport(ctx context.Context, report *model.RefinementReport) error {
	data, err := encodeReport(report)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO refinement_reports (document_id, report) VALUES ($1, $2)
		 ON CONFLICT (document_id) DO NOTHING`,
		report.DocumentID, data,
	)
	if err != nil {
		return classifyPostgres("save report", err)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrDuplicateID, "postgres: report %s", report.DocumentID)
	}
	return nil
}

func (s *PostgresStore) GetReport(ctx context.Context, documentID string) (*model.RefinementReport, error) {
	var data []byte
	err := s.pool.QueryRow(ctx,
		`SELECT report FROM refinement_reports WHERE document_id = $1`, documentID,
	).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classifyPostgres("get report", err)
	}
	return decodeReport(data)
}

func scanPostgresRecord(row scannable) (*model.DocumentRecord, error) {
	var (
		r         model.DocumentRecord
		docType   string
		extracted []byte
	)
	if err := row.Scan(&r.ID, &docType, &r.ProgramName, &r.ContentPointer,
		&r.CreatedAt, &r.QualityScore, &r.CitationCount, &extracted); err != nil {
		return nil, err
	}
	r.Type = model.DocumentType(docType)
	r.CreatedAt = r.CreatedAt.UTC()

	m, err := decodeExtracted(extracted)
	if err != nil {
		return nil, err
	}
	r.ExtractedData = m
	return &r, nil
}

func (s *PostgresStore) one(ctx context.Context, op, query string, args ...any) (*model.DocumentRecord, error) {
	rec, err := scanPostgresRecord(s.pool.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classifyPostgres(op, err)
	}
	if err := s.attachReferences(ctx, []*model.DocumentRecord{rec}); err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *PostgresStore) many(ctx context.Context, op, query string, args ...any) ([]model.DocumentRecord, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, classifyPostgres(op, err)
	}

	var recs []*model.DocumentRecord
	for rows.Next() {
		rec, err := scanPostgresRecord(rows)
		if err != nil {
			rows.Close()
			return nil, classifyPostgres(op, err)
		}
		recs = append(recs, rec)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, classifyPostgres(op, err)
	}
	if err := s.attachReferences(ctx, recs); err != nil {
		return nil, err
	}
	return derefAll(recs), nil
}

func (s *PostgresStore) attachReferences(ctx context.Context, recs []*model.DocumentRecord) error {
	if len(recs) == 0 {
		return nil
	}
	byID := make(map[string]*model.DocumentRecord, len(recs))
	ids := make([]string, 0, len(recs))
	for _, r := range recs {
		byID[r.ID] = r
		ids = append(ids, r.ID)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT document_id, referenced_id FROM document_references
		 WHERE document_id = ANY($1)
		 ORDER BY document_id, position`,
		ids,
	)
	if err != nil {
		return classifyPostgres("load references", err)
	}
	defer rows.Close()

	for rows.Next() {
		var docID, refID string
		if err := rows.Scan(&docID, &refID); err != nil {
			return classifyPostgres("scan reference", err)
		}
		if r, ok := byID[docID]; ok {
			r.References = append(r.References, refID)
		}
	}
	return classifyPostgres("load references", rows.Err())
}
