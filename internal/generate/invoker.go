// Package generate drafts and revises acquisition documents through the
// model API.
package generate

import (
	"context"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/acqdocs/internal/model"
	"github.com/sells-group/acqdocs/internal/xref"
	"github.com/sells-group/acqdocs/pkg/anthropic"
)

// Mode selects between a first draft and a revision.
type Mode string

const (
	ModeInitial  Mode = "initial"
	ModeRevision Mode = "revision"
)

// Request is one generation call. PriorDraft and Feedback are only read in
// ModeRevision, where both are required.
type Request struct {
	Mode         Mode
	Instructions string
	Context      *model.GenerationContext
	PriorDraft   string
	Feedback     *model.QualityReport
}

// Generator produces draft text. Failures after the retry budget are
// *resilience.ExternalServiceError.
type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// Messenger sends one model request under the shared call discipline.
type Messenger interface {
	Call(ctx context.Context, op string, req anthropic.MessageRequest) (*anthropic.MessageResponse, error)
}

// Config for an Invoker.
type Config struct {
	Model     string
	MaxTokens int64
	CacheTTL  string
}

// Invoker is the Generator backed by the model API.
type Invoker struct {
	caller Messenger
	cfg    Config
}

// NewInvoker returns an Invoker.
func NewInvoker(caller Messenger, cfg Config) *Invoker {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 8192
	}
	return &Invoker{caller: caller, cfg: cfg}
}

const systemPreamble = `You are a senior U.S. federal contracting officer drafting acquisition
documents. Output only the document itself, in Markdown, with no preamble or
closing remarks.

`

// Generate builds the prompt for req and returns the drafted text.
func (g *Invoker) Generate(ctx context.Context, req Request) (string, error) {
	user, err := buildUserPrompt(req)
	if err != nil {
		return "", err
	}

	resp, err := g.caller.Call(ctx, "generate_"+string(req.Mode), anthropic.MessageRequest{
		Model:     g.cfg.Model,
		MaxTokens: g.cfg.MaxTokens,
		System:    anthropic.BuildCachedSystemBlocks(systemPreamble+req.Instructions, g.cfg.CacheTTL),
		Messages:  []anthropic.Message{{Role: "user", Content: user}},
	})
	if err != nil {
		return "", err
	}
	return stripFence(resp.Text()), nil
}

func buildUserPrompt(req Request) (string, error) {
	if req.Context == nil {
		return "", eris.New("generate: request has no context")
	}

	var sb strings.Builder
	sb.WriteString(xref.Render(req.Context))

	switch req.Mode {
	case ModeInitial:
		sb.WriteString("\nWrite the complete document now.\n")
	case ModeRevision:
		if strings.TrimSpace(req.PriorDraft) == "" || req.Feedback == nil {
			return "", eris.New("generate: revision requires a prior draft and feedback")
		}
		sb.WriteString("\n<current_draft>\n")
		sb.WriteString(req.PriorDraft)
		sb.WriteString("\n</current_draft>\n")
		sb.WriteString(renderFeedback(req.Feedback))
		sb.WriteString("\nRevise the current draft. Keep every correct passage as it is and change only what the review flags. Return the full revised document.\n")
	default:
		return "", eris.Errorf("generate: unknown mode %q", req.Mode)
	}
	return sb.String(), nil
}

func renderFeedback(q *model.QualityReport) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "\n<review score=\"%d\" grade=%q hallucination_risk=%q>\n", q.OverallScore, q.Grade, q.HallucinationRisk)
	if len(q.Issues) > 0 {
		sb.WriteString("Issues:\n")
		for _, is := range q.Issues {
			fmt.Fprintf(&sb, "- %s\n", is)
		}
	}
	if len(q.Suggestions) > 0 {
		sb.WriteString("Suggestions:\n")
		for _, s := range q.Suggestions {
			fmt.Fprintf(&sb, "- %s\n", s)
		}
	}
	sb.WriteString("</review>\n")
	return sb.String()
}

// stripFence removes a Markdown code fence wrapping the whole response.
func stripFence(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	if nl := strings.IndexByte(text, '\n'); nl >= 0 {
		text = text[nl+1:]
	}
	text = strings.TrimSpace(text)
	text = strings.TrimSuffix(text, "```")
	return strings.TrimSpace(text)
}
