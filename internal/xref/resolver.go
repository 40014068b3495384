// Package xref resolves the prerequisite documents of a document type and
// turns them into prompt context.
package xref

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/acqdocs/internal/model"
)

// Lookup is the part of the store the Resolver reads.
type Lookup interface {
	GetLatestByType(ctx context.Context, program string, docType model.DocumentType) (*model.DocumentRecord, error)
}

// Resolver finds the latest record of each required type for a program. It
// never writes and is safe for concurrent use.
type Resolver struct {
	store Lookup
}

// NewResolver returns a Resolver reading from store.
func NewResolver(store Lookup) *Resolver {
	return &Resolver{store: store}
}

// Resolve returns one entry per required type. A type with no record maps
// to nil; only a store failure is an error.
func (r *Resolver) Resolve(ctx context.Context, program string, types []model.DocumentType) (map[model.DocumentType]*model.DocumentRecord, error) {
	out := make(map[model.DocumentType]*model.DocumentRecord, len(types))
	for _, t := range types {
		if _, done := out[t]; done {
			continue
		}
		rec, err := r.store.GetLatestByType(ctx, program, t)
		if err != nil {
			return nil, eris.Wrapf(err, "xref: resolve %s for %s", t, program)
		}
		out[t] = rec
	}
	return out, nil
}
