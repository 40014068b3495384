package model

import (
	"strings"
	"time"

	"golang.org/x/text/cases"
)

// DocumentType identifies an acquisition document kind.
type DocumentType string

const (
	DocMarketResearch      DocumentType = "market_research"
	DocSourcesSought       DocumentType = "sources_sought"
	DocIGCE                DocumentType = "igce"
	DocPWS                 DocumentType = "pws"
	DocQASP                DocumentType = "qasp"
	DocAcquisitionPlan     DocumentType = "acquisition_plan"
	DocEvaluationCriteria  DocumentType = "evaluation_criteria"
	DocSectionL            DocumentType = "section_l"
	DocSourceSelectionPlan DocumentType = "source_selection_plan"
)

// AllDocumentTypes returns the built-in document kinds in generation order.
func AllDocumentTypes() []DocumentType {
	return []DocumentType{
		DocMarketResearch,
		DocSourcesSought,
		DocIGCE,
		DocPWS,
		DocQASP,
		DocAcquisitionPlan,
		DocEvaluationCriteria,
		DocSectionL,
		DocSourceSelectionPlan,
	}
}

// ParseDocumentType normalizes a user supplied type name ("Market-Research",
// "market research") to its DocumentType form. It does not check the catalog.
func ParseDocumentType(s string) DocumentType {
	s = cases.Fold().String(strings.TrimSpace(s))
	s = strings.NewReplacer("-", "_", " ", "_").Replace(s)
	return DocumentType(s)
}

// DocumentRecord is the immutable registry entry for one persisted document.
type DocumentRecord struct {
	ID             string            `json:"id"`
	Type           DocumentType      `json:"type"`
	ProgramName    string            `json:"program_name"`
	ContentPointer string            `json:"content_pointer"`
	CreatedAt      time.Time         `json:"created_at"`
	QualityScore   int               `json:"quality_score"`
	CitationCount  int               `json:"citation_count"`
	References     []string          `json:"references"`
	ExtractedData  map[string]string `json:"extracted_data"`
}

// Clone returns a deep copy so callers can never mutate a stored record.
func (r DocumentRecord) Clone() DocumentRecord {
	out := r
	if r.References != nil {
		out.References = append([]string(nil), r.References...)
	}
	if r.ExtractedData != nil {
		out.ExtractedData = make(map[string]string, len(r.ExtractedData))
		for k, v := range r.ExtractedData {
			out.ExtractedData[k] = v
		}
	}
	return out
}
