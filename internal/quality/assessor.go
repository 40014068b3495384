package quality

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/rotisserie/eris"

	"github.com/sells-group/acqdocs/internal/model"
	"github.com/sells-group/acqdocs/pkg/anthropic"
)

// Assessor answers the two model-judged questions of an evaluation.
type Assessor interface {
	AssessHallucination(ctx context.Context, excerpt, grounding string) (*HallucinationAssessment, error)
	AssessCompliance(ctx context.Context, excerpt, title string) (*ComplianceAssessment, error)
}

// HallucinationAssessment is the model's plausibility verdict on a draft.
type HallucinationAssessment struct {
	Risk              model.RiskLevel `json:"risk"`
	Rationale         string          `json:"rationale"`
	UnsupportedClaims []string        `json:"unsupported_claims"`
}

// ComplianceLevel is the assessed compliance band.
type ComplianceLevel string

const (
	Compliant    ComplianceLevel = "COMPLIANT"
	MinorIssues  ComplianceLevel = "MINOR_ISSUES"
	MajorIssues  ComplianceLevel = "MAJOR_ISSUES"
	NonCompliant ComplianceLevel = "NON_COMPLIANT"
)

// ComplianceFinding is one flagged passage.
type ComplianceFinding struct {
	Category string `json:"category"`
	Detail   string `json:"detail"`
}

// ComplianceAssessment is the model's compliance verdict on a draft.
type ComplianceAssessment struct {
	Level       ComplianceLevel     `json:"level"`
	Findings    []ComplianceFinding `json:"findings"`
	Suggestions []string            `json:"suggestions"`
}

// Messenger sends one model request under the shared call discipline.
type Messenger interface {
	Call(ctx context.Context, op string, req anthropic.MessageRequest) (*anthropic.MessageResponse, error)
}

// LLMAssessor implements Assessor with short, JSON-only model calls.
type LLMAssessor struct {
	caller    Messenger
	model     string
	maxTokens int64
}

// NewLLMAssessor returns an LLMAssessor using model for every call.
func NewLLMAssessor(caller Messenger, model string, maxTokens int64) *LLMAssessor {
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	return &LLMAssessor{caller: caller, model: model, maxTokens: maxTokens}
}

const hallucinationPrompt = `You review U.S. federal acquisition documents for fabricated content.
Judge whether the document states facts (prices, vendor names, counts, dates,
regulation numbers) that are implausible or unsupported by the grounding
material. Respond with JSON only:
{"risk": "LOW" | "MEDIUM" | "HIGH", "rationale": "<one sentence>", "unsupported_claims": ["<quoted claim>", ...]}`

const compliancePrompt = `You review U.S. federal acquisition documents for compliance problems:
anti-competitive language (brand-name or single-source requirements without
justification), discriminatory terms, overly restrictive requirements not
supported by the need, and missing required disclosures. Respond with JSON only:
{"level": "COMPLIANT" | "MINOR_ISSUES" | "MAJOR_ISSUES" | "NON_COMPLIANT",
 "findings": [{"category": "anti_competitive" | "discriminatory" | "overly_restrictive" | "missing_disclosure", "detail": "<text>"}],
 "suggestions": ["<fix>", ...]}`

// AssessHallucination asks for a risk band for excerpt given grounding.
func (a *LLMAssessor) AssessHallucination(ctx context.Context, excerpt, grounding string) (*HallucinationAssessment, error) {
	if grounding == "" {
		grounding = "(none supplied)"
	}
	user := fmt.Sprintf("<grounding>\n%s\n</grounding>\n\n<document>\n%s\n</document>", grounding, excerpt)

	var out HallucinationAssessment
	if err := a.ask(ctx, "assess_hallucination", hallucinationPrompt, user, &out); err != nil {
		return nil, err
	}
	out.Risk = model.RiskLevel(strings.ToUpper(strings.TrimSpace(string(out.Risk))))
	if !out.Risk.Valid() {
		return nil, eris.Errorf("quality: hallucination assessment returned risk %q", out.Risk)
	}
	return &out, nil
}

// AssessCompliance asks for a compliance level for excerpt.
func (a *LLMAssessor) AssessCompliance(ctx context.Context, excerpt, title string) (*ComplianceAssessment, error) {
	user := fmt.Sprintf("Document type: %s\n\n<document>\n%s\n</document>", title, excerpt)

	var out ComplianceAssessment
	if err := a.ask(ctx, "assess_compliance", compliancePrompt, user, &out); err != nil {
		return nil, err
	}
	out.Level = ComplianceLevel(strings.ToUpper(strings.TrimSpace(string(out.Level))))
	if _, ok := complianceScores[out.Level]; !ok {
		return nil, eris.Errorf("quality: compliance assessment returned level %q", out.Level)
	}
	return &out, nil
}

func (a *LLMAssessor) ask(ctx context.Context, op, system, user string, into any) error {
	resp, err := a.caller.Call(ctx, op, anthropic.MessageRequest{
		Model:     a.model,
		MaxTokens: a.maxTokens,
		System:    anthropic.BuildCachedSystemBlocks(system, ""),
		Messages:  []anthropic.Message{{Role: "user", Content: user}},
	})
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(cleanJSON(resp.Text())), into); err != nil {
		return eris.Wrapf(err, "quality: parse %s response", op)
	}
	return nil
}

// cleanJSON extracts a JSON object from text that may carry Markdown code
// fences or surrounding prose.
func cleanJSON(text string) string {
	text = strings.TrimSpace(text)

	if strings.HasPrefix(text, "```json") {
		text = strings.TrimPrefix(text, "```json")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	} else if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		text = text[start : end+1]
	}
	return strings.TrimSpace(text)
}

// excerptOf bounds text to n bytes on a line boundary where possible, and
// never inside a multi-byte rune.
func excerptOf(text string, n int) string {
	if n <= 0 || len(text) <= n {
		return text
	}
	for n > 0 && !utf8.RuneStart(text[n]) {
		n--
	}
	cut := text[:n]
	if i := strings.LastIndexByte(cut, '\n'); i > n/2 {
		cut = cut[:i]
	}
	return cut
}
