package model

// RiskLevel is the hallucination risk band.
type RiskLevel string

const (
	RiskLow    RiskLevel = "LOW"
	RiskMedium RiskLevel = "MEDIUM"
	RiskHigh   RiskLevel = "HIGH"
)

// Downgrade lowers the risk by exactly one band. LOW stays LOW.
func (r RiskLevel) Downgrade() RiskLevel {
	switch r {
	case RiskHigh:
		return RiskMedium
	case RiskMedium:
		return RiskLow
	default:
		return r
	}
}

// Valid reports whether r is one of the three known bands.
func (r RiskLevel) Valid() bool {
	return r == RiskLow || r == RiskMedium || r == RiskHigh
}

// Grade is the letter band derived from an overall score.
type Grade string

const (
	GradeA Grade = "A"
	GradeB Grade = "B"
	GradeC Grade = "C"
	GradeD Grade = "D"
	GradeF Grade = "F"
)

// GradeFor bands a 0-100 score: >=90 A, 80-89 B, 70-79 C, 60-69 D, else F.
func GradeFor(score int) Grade {
	switch {
	case score >= 90:
		return GradeA
	case score >= 80:
		return GradeB
	case score >= 70:
		return GradeC
	case score >= 60:
		return GradeD
	default:
		return GradeF
	}
}

// Check names used as keys in QualityReport.Checks.
const (
	CheckHallucination = "hallucination"
	CheckVagueLanguage = "vague_language"
	CheckCitations     = "citations"
	CheckCompliance    = "compliance"
	CheckCompleteness  = "completeness"
)

// CheckResult is the outcome of one quality check.
type CheckResult struct {
	Name        string            `json:"name"`
	Score       int               `json:"score"`
	Weight      float64           `json:"weight"`
	Issues      []string          `json:"issues"`
	Suggestions []string          `json:"suggestions,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// QualityReport is the weighted composite of all checks for one draft.
type QualityReport struct {
	OverallScore      int                    `json:"overall_score"`
	Grade             Grade                  `json:"grade"`
	HallucinationRisk RiskLevel              `json:"hallucination_risk"`
	CitationCount     int                    `json:"citation_count"`
	Checks            map[string]CheckResult `json:"checks"`
	Issues            []string               `json:"issues"`
	Suggestions       []string               `json:"suggestions"`
}

// IssueCount is the number of flattened issues.
func (q *QualityReport) IssueCount() int {
	if q == nil {
		return 0
	}
	return len(q.Issues)
}
