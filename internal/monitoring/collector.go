// Package monitoring summarises document quality per program and raises
// webhook alerts when documents fall short of the refinement threshold.
package monitoring

import (
	"context"
	"sort"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/acqdocs/internal/model"
)

// DocumentMetric describes the latest document of one type.
type DocumentMetric struct {
	Type          model.DocumentType `json:"type"`
	DocumentID    string             `json:"document_id"`
	Score         int                `json:"score"`
	Grade         model.Grade        `json:"grade"`
	CitationCount int                `json:"citation_count"`
	Versions      int                `json:"versions"`
	Termination   model.Termination  `json:"termination,omitempty"`
	Refinements   int                `json:"refinements"`
	CostUSD       float64            `json:"cost_usd"`
	CreatedAt     time.Time          `json:"created_at"`
}

// Snapshot is a point-in-time view of one program's documents.
type Snapshot struct {
	Program string `json:"program"`
	// DocumentCount counts every stored version, not just the latest.
	DocumentCount  int              `json:"document_count"`
	Latest         []DocumentMetric `json:"latest"`
	MeanScore      float64          `json:"mean_score"`
	BelowThreshold int              `json:"below_threshold"`
	CitationTotal  int              `json:"citation_total"`
	CostUSD        float64          `json:"cost_usd"`
	Threshold      int              `json:"threshold"`
	CollectedAt    time.Time        `json:"collected_at"`
}

// Below returns the latest documents scoring under the threshold.
func (s *Snapshot) Below() []DocumentMetric {
	var out []DocumentMetric
	for _, m := range s.Latest {
		if m.Score < s.Threshold {
			out = append(out, m)
		}
	}
	return out
}

// Reader is the part of the store the collector needs.
type Reader interface {
	ListByProgram(ctx context.Context, program string) ([]model.DocumentRecord, error)
	GetReport(ctx context.Context, documentID string) (*model.RefinementReport, error)
}

// Collector gathers program metrics from the store.
type Collector struct {
	store Reader
}

// NewCollector creates a new metrics collector.
func NewCollector(st Reader) *Collector {
	return &Collector{store: st}
}

// Collect summarises the latest document of every type in program.
// Documents scoring under threshold are counted in BelowThreshold.
func (c *Collector) Collect(ctx context.Context, program string, threshold int) (*Snapshot, error) {
	snap := &Snapshot{
		Program:     program,
		Threshold:   threshold,
		CollectedAt: time.Now().UTC(),
	}

	recs, err := c.store.ListByProgram(ctx, program)
	if err != nil {
		return nil, eris.Wrapf(err, "monitoring: list documents for %s", program)
	}
	snap.DocumentCount = len(recs)

	// Records arrive newest first, so the first of each type is the latest.
	latest := make(map[model.DocumentType]*DocumentMetric)
	for _, rec := range recs {
		if m, ok := latest[rec.Type]; ok {
			m.Versions++
			continue
		}
		latest[rec.Type] = &DocumentMetric{
			Type:          rec.Type,
			DocumentID:    rec.ID,
			Score:         rec.QualityScore,
			Grade:         model.GradeFor(rec.QualityScore),
			CitationCount: rec.CitationCount,
			Versions:      1,
			CreatedAt:     rec.CreatedAt,
		}
	}

	var total int
	for _, m := range latest {
		report, err := c.store.GetReport(ctx, m.DocumentID)
		if err != nil {
			return nil, eris.Wrapf(err, "monitoring: report for %s", m.DocumentID)
		}
		if report != nil {
			m.Termination = report.Termination
			m.Refinements = report.RefinementCount()
			m.CostUSD = report.Usage.CostUSD
		}

		total += m.Score
		snap.CitationTotal += m.CitationCount
		snap.CostUSD += m.CostUSD
		if m.Score < threshold {
			snap.BelowThreshold++
		}
		snap.Latest = append(snap.Latest, *m)
	}
	if n := len(snap.Latest); n > 0 {
		snap.MeanScore = float64(total) / float64(n)
	}

	order := make(map[model.DocumentType]int)
	for i, t := range model.AllDocumentTypes() {
		order[t] = i + 1
	}
	sort.Slice(snap.Latest, func(i, j int) bool {
		a, b := snap.Latest[i].Type, snap.Latest[j].Type
		oa, ob := order[a], order[b]
		if oa == 0 {
			oa = len(order) + 1
		}
		if ob == 0 {
			ob = len(order) + 1
		}
		if oa != ob {
			return oa < ob
		}
		return a < b
	})

	return snap, nil
}
