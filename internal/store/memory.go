package store

import (
	"context"
	"sort"
	"sync"

	"github.com/rotisserie/eris"

	"github.com/sells-group/acqdocs/internal/model"
)

// MemoryStore is an in-process Store for tests and single-shot CLI runs.
// Records are deep-copied on the way in and out.
type MemoryStore struct {
	mu       sync.RWMutex
	seq      int64
	records  map[string]memRecord
	content  map[string]string
	reports  map[string][]byte
	referrer map[string][]string
}

type memRecord struct {
	rec model.DocumentRecord
	seq int64
}

// NewMemory creates an empty MemoryStore.
func NewMemory() *MemoryStore {
	return &MemoryStore{
		records:  make(map[string]memRecord),
		content:  make(map[string]string),
		reports:  make(map[string][]byte),
		referrer: make(map[string][]string),
	}
}

func (s *MemoryStore) Save(_ context.Context, rec *model.DocumentRecord) (string, error) {
	if err := prepareRecord(rec); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[rec.ID]; ok {
		return "", eris.Wrapf(ErrDuplicateID, "memory: save %s", rec.ID)
	}
	s.seq++
	s.records[rec.ID] = memRecord{rec: rec.Clone(), seq: s.seq}
	for _, ref := range rec.References {
		s.referrer[ref] = append(s.referrer[ref], rec.ID)
	}
	return rec.ID, nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*model.DocumentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.records[id]
	if !ok {
		return nil, nil
	}
	out := m.rec.Clone()
	return &out, nil
}

func (s *MemoryStore) GetLatestByType(_ context.Context, program string, docType model.DocumentType) (*model.DocumentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var best *memRecord
	for _, m := range s.records {
		if m.rec.ProgramName != program || m.rec.Type != docType {
			continue
		}
		if best == nil || newer(m, *best) {
			m := m
			best = &m
		}
	}
	if best == nil {
		return nil, nil
	}
	out := best.rec.Clone()
	return &out, nil
}

func (s *MemoryStore) GetReferrers(_ context.Context, id string) ([]model.DocumentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]bool)
	var ms []memRecord
	for _, rid := range s.referrer[id] {
		if seen[rid] {
			continue
		}
		seen[rid] = true
		ms = append(ms, s.records[rid])
	}
	sort.Slice(ms, func(i, j int) bool { return newer(ms[j], ms[i]) })
	return cloneAll(ms), nil
}

func (s *MemoryStore) ListByProgram(_ context.Context, program string) ([]model.DocumentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ms []memRecord
	for _, m := range s.records {
		if m.rec.ProgramName == program {
			ms = append(ms, m)
		}
	}
	sort.Slice(ms, func(i, j int) bool { return newer(ms[i], ms[j]) })
	return cloneAll(ms), nil
}

func (s *MemoryStore) PutContent(_ context.Context, text string) (string, error) {
	p := ContentPointer(text)
	s.mu.Lock()
	s.content[p] = text
	s.mu.Unlock()
	return p, nil
}

func (s *MemoryStore) GetContent(_ context.Context, pointer string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	text, ok := s.content[pointer]
	if !ok {
		return "", eris.Wrapf(ErrNotFound, "memory: content %s", pointer)
	}
	return text, nil
}

func (s *MemoryStore) SaveReport(_ context.Context, report *model.RefinementReport) error {
	data, err := encodeReport(report)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.reports[report.DocumentID]; ok {
		return eris.Wrapf(ErrDuplicateID, "memory: report %s", report.DocumentID)
	}
	s.reports[report.DocumentID] = data
	return nil
}

func (s *MemoryStore) GetReport(_ context.Context, documentID string) (*model.RefinementReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.reports[documentID]
	if !ok {
		return nil, nil
	}
	return decodeReport(data)
}

func (s *MemoryStore) Migrate(context.Context) error { return nil }
func (s *MemoryStore) Ping(context.Context) error    { return nil }
func (s *MemoryStore) Close() error                  { return nil }

// newer orders by creation time, breaking ties by insertion order.
func newer(a, b memRecord) bool {
	if !a.rec.CreatedAt.Equal(b.rec.CreatedAt) {
		return a.rec.CreatedAt.After(b.rec.CreatedAt)
	}
	return a.seq > b.seq
}

func cloneAll(ms []memRecord) []model.DocumentRecord {
	out := make([]model.DocumentRecord, len(ms))
	for i, m := range ms {
		out[i] = m.rec.Clone()
	}
	return out
}
