package model

import "time"

// IterationKind distinguishes the initial draft from revisions.
type IterationKind string

const (
	IterationInitial    IterationKind = "initial"
	IterationRefinement IterationKind = "refinement"
)

// RefinementIteration records one generate/evaluate pass.
type RefinementIteration struct {
	Index       int           `json:"index"`
	Kind        IterationKind `json:"kind"`
	ScoreBefore *int          `json:"score_before"`
	ScoreAfter  int           `json:"score_after"`
	Delta       int           `json:"delta"`
	IssueCount  int           `json:"issue_count"`
}

// Termination explains why a refinement loop stopped.
type Termination string

const (
	TerminationConverged        Termination = "converged"
	TerminationNoImprovement    Termination = "no_improvement"
	TerminationMaxIterations    Termination = "max_iterations"
	TerminationGenerationFailed Termination = "generation_failed"
	TerminationEvaluationFailed Termination = "evaluation_failed"
	TerminationCancelled        Termination = "cancelled"
)

// Usage totals token consumption and estimated spend for one run.
type Usage struct {
	Calls            int     `json:"calls"`
	InputTokens      int64   `json:"input_tokens"`
	OutputTokens     int64   `json:"output_tokens"`
	CacheWriteTokens int64   `json:"cache_write_tokens"`
	CacheReadTokens  int64   `json:"cache_read_tokens"`
	CostUSD          float64 `json:"cost_usd"`
}

// RefinementReport is the full record of one document's refinement loop.
type RefinementReport struct {
	DocumentID    string                `json:"document_id,omitempty"`
	ProgramName   string                `json:"program_name"`
	Type          DocumentType          `json:"type"`
	Iterations    []RefinementIteration `json:"iterations"`
	FinalReport   QualityReport         `json:"final_report"`
	BestIteration int                   `json:"best_iteration"`
	Draft         string                `json:"draft,omitempty"`
	Termination   Termination           `json:"termination"`
	ThresholdMet  bool                  `json:"threshold_met"`
	Threshold     int                   `json:"threshold"`
	Unresolved    []DocumentType        `json:"unresolved,omitempty"`
	Usage         Usage                 `json:"usage"`
	StartedAt     time.Time             `json:"started_at"`
	DurationMs    int64                 `json:"duration_ms"`
}

// FinalScore is the score of the retained best draft.
func (r *RefinementReport) FinalScore() int {
	return r.FinalReport.OverallScore
}

// Persisted reports whether the best draft was stored as a document record.
// Drafts whose initial evaluation failed are returned but never stored.
func (r *RefinementReport) Persisted() bool {
	return r.DocumentID != ""
}

// RefinementCount is the number of revision passes (iteration 0 excluded).
func (r *RefinementReport) RefinementCount() int {
	n := 0
	for _, it := range r.Iterations {
		if it.Kind == IterationRefinement {
			n++
		}
	}
	return n
}
