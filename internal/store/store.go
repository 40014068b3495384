// Package store persists document records, their content and refinement
// reports. Records are append-only: nothing is ever updated or deleted.
package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/sells-group/acqdocs/internal/model"
)

// Store is the metadata registry shared by every refinement run.
type Store interface {
	// Save appends rec. An empty ID is filled with a fresh UUID and a zero
	// CreatedAt with the current time. A colliding ID yields ErrDuplicateID.
	Save(ctx context.Context, rec *model.DocumentRecord) (string, error)
	// Get returns the record with the given id, or nil when absent.
	Get(ctx context.Context, id string) (*model.DocumentRecord, error)
	// GetLatestByType returns the most recently created record for the
	// (program, type) pair, or nil when none exists.
	GetLatestByType(ctx context.Context, program string, docType model.DocumentType) (*model.DocumentRecord, error)
	// GetReferrers lists records whose references include id, oldest first.
	GetReferrers(ctx context.Context, id string) ([]model.DocumentRecord, error)
	// ListByProgram lists every record of a program, newest first.
	ListByProgram(ctx context.Context, program string) ([]model.DocumentRecord, error)

	// PutContent stores text and returns its content-addressed pointer.
	PutContent(ctx context.Context, text string) (string, error)
	// GetContent returns the text behind pointer or ErrNotFound.
	GetContent(ctx context.Context, pointer string) (string, error)

	// SaveReport stores the refinement report of a persisted document.
	SaveReport(ctx context.Context, report *model.RefinementReport) error
	// GetReport returns the report for a document, or nil when absent.
	GetReport(ctx context.Context, documentID string) (*model.RefinementReport, error)

	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

const pointerPrefix = "sha256:"

// ContentPointer returns the content-addressed pointer for text.
func ContentPointer(text string) string {
	sum := sha256.Sum256([]byte(text))
	return pointerPrefix + hex.EncodeToString(sum[:])
}

// ValidPointer reports whether p has the shape produced by ContentPointer.
func ValidPointer(p string) bool {
	hexPart, ok := strings.CutPrefix(p, pointerPrefix)
	if !ok || len(hexPart) != sha256.Size*2 {
		return false
	}
	_, err := hex.DecodeString(hexPart)
	return err == nil
}

// prepareRecord fills defaults and validates rec before it is written.
func prepareRecord(rec *model.DocumentRecord) error {
	if rec == nil {
		return eris.New("store: nil record")
	}
	if rec.Type == "" {
		return eris.New("store: record has no document type")
	}
	if rec.ProgramName == "" {
		return eris.New("store: record has no program name")
	}
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	rec.CreatedAt = rec.CreatedAt.UTC()
	return nil
}

// encodeReport serializes a report for storage. The draft text is dropped:
// it lives behind the document's content pointer.
func encodeReport(report *model.RefinementReport) ([]byte, error) {
	if report == nil || report.DocumentID == "" {
		return nil, eris.New("store: report has no document id")
	}
	r := *report
	r.Draft = ""
	data, err := json.Marshal(r)
	return data, eris.Wrap(err, "store: marshal report")
}

func decodeReport(data []byte) (*model.RefinementReport, error) {
	var r model.RefinementReport
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, &CorruptError{What: "report", Err: err}
	}
	return &r, nil
}

func encodeExtracted(m map[string]string) ([]byte, error) {
	data, err := json.Marshal(m)
	return data, eris.Wrap(err, "store: marshal extracted data")
}

func decodeExtracted(data []byte) (map[string]string, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var m map[string]string
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, &CorruptError{What: "extracted data", Err: err}
	}
	return m, nil
}
