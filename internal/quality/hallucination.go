package quality

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/sells-group/acqdocs/internal/model"
	"github.com/sells-group/acqdocs/internal/xref"
)

// riskScores maps the final risk band to a check score.
var riskScores = map[model.RiskLevel]int{
	model.RiskLow:    95,
	model.RiskMedium: 70,
	model.RiskHigh:   35,
}

// HallucinationCheck combines a model plausibility verdict with citation
// density: a well-cited draft has its assessed risk lowered one band.
type HallucinationCheck struct {
	assessor   Assessor
	threshold  int
	maxExcerpt int
}

// NewHallucinationCheck returns a HallucinationCheck.
func NewHallucinationCheck(a Assessor, cfg Config) *HallucinationCheck {
	cfg = cfg.withDefaults()
	return &HallucinationCheck{
		assessor:   a,
		threshold:  cfg.CitationDensityThreshold,
		maxExcerpt: cfg.MaxExcerptChars,
	}
}

func (c *HallucinationCheck) Name() string { return model.CheckHallucination }

func (c *HallucinationCheck) Run(ctx context.Context, text string, gc *model.GenerationContext) (model.CheckResult, error) {
	citations := CountCitations(text)

	verdict, err := c.assessor.AssessHallucination(ctx, excerptOf(text, c.maxExcerpt), grounding(gc))
	if err != nil {
		return model.CheckResult{}, err
	}

	risk := verdict.Risk
	downgraded := false
	if citations > c.threshold && risk != model.RiskLow {
		risk = risk.Downgrade()
		downgraded = true
	}

	res := model.CheckResult{
		Score: riskScores[risk],
		Metadata: map[string]string{
			metaRisk:        string(risk),
			"assessed_risk": string(verdict.Risk),
			metaCitations:   strconv.Itoa(citations),
			"downgraded":    strconv.FormatBool(downgraded),
		},
	}
	if risk != model.RiskLow {
		issue := "hallucination risk " + string(risk)
		if verdict.Rationale != "" {
			issue += ": " + verdict.Rationale
		}
		res.Issues = append(res.Issues, issue)
		res.Suggestions = append(res.Suggestions, "Support every fact with a prerequisite document or a cited source, or replace it with a [TBD: ...] placeholder")
	}
	for _, claim := range verdict.UnsupportedClaims {
		res.Issues = append(res.Issues, fmt.Sprintf("unsupported claim: %q", claim))
	}
	return res, nil
}

// grounding lists what the draft may legitimately rely on.
func grounding(gc *model.GenerationContext) string {
	if gc == nil {
		return ""
	}
	var sb strings.Builder
	for _, ref := range gc.References {
		fmt.Fprintf(&sb, "%s (%s):\n", ref.Title, ref.Record.ID)
		for _, k := range xref.SortedKeys(ref.Record.ExtractedData) {
			fmt.Fprintf(&sb, "- %s: %s\n", k, ref.Record.ExtractedData[k])
		}
	}
	for _, p := range gc.Passages {
		fmt.Fprintf(&sb, "Source %s: %s\n", p.Source, excerptOf(p.Text, 500))
	}
	return strings.TrimSpace(sb.String())
}
