package quality

import (
	"context"
	"strings"

	"github.com/sells-group/acqdocs/internal/model"
)

var complianceScores = map[ComplianceLevel]int{
	Compliant:    100,
	MinorIssues:  80,
	MajorIssues:  50,
	NonCompliant: 20,
}

// ComplianceCheck scores the assessed compliance level.
type ComplianceCheck struct {
	assessor   Assessor
	maxExcerpt int
}

// NewComplianceCheck returns a ComplianceCheck.
func NewComplianceCheck(a Assessor, maxExcerpt int) *ComplianceCheck {
	return &ComplianceCheck{assessor: a, maxExcerpt: maxExcerpt}
}

func (c *ComplianceCheck) Name() string { return model.CheckCompliance }

func (c *ComplianceCheck) Run(ctx context.Context, text string, gc *model.GenerationContext) (model.CheckResult, error) {
	title := "acquisition document"
	if gc != nil && gc.Title != "" {
		title = gc.Title
	}
	verdict, err := c.assessor.AssessCompliance(ctx, excerptOf(text, c.maxExcerpt), title)
	if err != nil {
		return model.CheckResult{}, err
	}

	res := model.CheckResult{
		Score:       complianceScores[verdict.Level],
		Suggestions: verdict.Suggestions,
		Metadata:    map[string]string{"level": string(verdict.Level)},
	}
	for _, f := range verdict.Findings {
		cat := strings.ReplaceAll(f.Category, "_", " ")
		if cat == "" {
			cat = "compliance"
		}
		res.Issues = append(res.Issues, cat+": "+f.Detail)
	}
	return res, nil
}
