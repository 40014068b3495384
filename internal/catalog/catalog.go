// Package catalog describes the acquisition document kinds: their titles,
// prerequisite documents, required sections and drafting instructions.
package catalog

import (
	"sort"
	"sync"

	"github.com/rotisserie/eris"

	"github.com/sells-group/acqdocs/internal/model"
)

// Entry describes one document kind.
type Entry struct {
	Type          model.DocumentType   `yaml:"type" json:"type"`
	Title         string               `yaml:"title" json:"title"`
	Prerequisites []model.DocumentType `yaml:"prerequisites" json:"prerequisites"`
	Sections      []string             `yaml:"sections" json:"sections"`
	Instructions  string               `yaml:"instructions" json:"instructions"`
}

// Catalog is a validated, acyclic set of entries. It is safe for concurrent
// use; Replace swaps the whole set atomically.
type Catalog struct {
	mu      sync.RWMutex
	entries map[model.DocumentType]Entry
}

// New validates entries and builds a Catalog. Every prerequisite must name an
// entry in the set and the prerequisite graph must be acyclic.
func New(entries []Entry) (*Catalog, error) {
	m := make(map[model.DocumentType]Entry, len(entries))
	for _, e := range entries {
		if e.Type == "" {
			return nil, eris.New("catalog: entry without type")
		}
		if _, dup := m[e.Type]; dup {
			return nil, eris.Errorf("catalog: duplicate entry %q", e.Type)
		}
		if e.Title == "" {
			e.Title = string(e.Type)
		}
		m[e.Type] = e
	}
	for _, e := range m {
		for _, p := range e.Prerequisites {
			if p == e.Type {
				return nil, eris.Errorf("catalog: %q lists itself as a prerequisite", e.Type)
			}
			if _, ok := m[p]; !ok {
				return nil, eris.Errorf("catalog: %q requires unknown type %q", e.Type, p)
			}
		}
	}
	c := &Catalog{entries: m}
	if _, err := c.Phases(c.Types()); err != nil {
		return nil, err
	}
	return c, nil
}

// Lookup returns the entry for t.
func (c *Catalog) Lookup(t model.DocumentType) (Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[t]
	return e, ok
}

// Types returns every known type, sorted.
func (c *Catalog) Types() []model.DocumentType {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]model.DocumentType, 0, len(c.entries))
	for t := range c.entries {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Entries returns every entry in dependency order.
func (c *Catalog) Entries() []Entry {
	phases, _ := c.Phases(c.Types())
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []Entry
	for _, phase := range phases {
		for _, t := range phase {
			out = append(out, c.entries[t])
		}
	}
	return out
}

// Replace swaps in the contents of other.
func (c *Catalog) Replace(other *Catalog) {
	other.mu.RLock()
	m := other.entries
	other.mu.RUnlock()

	c.mu.Lock()
	c.entries = m
	c.mu.Unlock()
}

// Phases layers the requested types, plus their transitive prerequisites,
// so that every type appears in a later phase than all of its prerequisites.
// Types inside one phase are independent and sorted by name.
func (c *Catalog) Phases(types []model.DocumentType) ([][]model.DocumentType, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	need := make(map[model.DocumentType]bool)
	var visit func(t model.DocumentType) error
	visit = func(t model.DocumentType) error {
		if need[t] {
			return nil
		}
		e, ok := c.entries[t]
		if !ok {
			return eris.Errorf("catalog: unknown document type %q", t)
		}
		need[t] = true
		for _, p := range e.Prerequisites {
			if err := visit(p); err != nil {
				return err
			}
		}
		return nil
	}
	for _, t := range types {
		if err := visit(t); err != nil {
			return nil, err
		}
	}

	indegree := make(map[model.DocumentType]int, len(need))
	dependants := make(map[model.DocumentType][]model.DocumentType)
	for t := range need {
		indegree[t] += 0
		for _, p := range c.entries[t].Prerequisites {
			indegree[t]++
			dependants[p] = append(dependants[p], t)
		}
	}

	var phases [][]model.DocumentType
	placed := 0
	for placed < len(need) {
		var phase []model.DocumentType
		for t, d := range indegree {
			if d == 0 {
				phase = append(phase, t)
			}
		}
		if len(phase) == 0 {
			return nil, eris.New("catalog: prerequisite cycle detected")
		}
		sort.Slice(phase, func(i, j int) bool { return phase[i] < phase[j] })
		for _, t := range phase {
			delete(indegree, t)
			for _, d := range dependants[t] {
				indegree[d]--
			}
		}
		placed += len(phase)
		phases = append(phases, phase)
	}
	return phases, nil
}
