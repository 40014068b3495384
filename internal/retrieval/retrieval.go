// Package retrieval supplies citable passages for a document draft from an
// external search service. Retrieval is optional: callers treat an error or
// an empty result as "no passages".
package retrieval

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/acqdocs/internal/cost"
	"github.com/sells-group/acqdocs/internal/model"
	"github.com/sells-group/acqdocs/pkg/jina"
	"github.com/sells-group/acqdocs/pkg/perplexity"
)

// maxPassageChars bounds each passage handed to prompts.
const maxPassageChars = 1500

// Retriever returns up to k ranked passages for query.
type Retriever interface {
	Retrieve(ctx context.Context, query string, k int) ([]model.Passage, error)
}

// None is the Retriever used when no search provider is configured.
type None struct{}

// Retrieve returns no passages.
func (None) Retrieve(context.Context, string, int) ([]model.Passage, error) {
	return nil, nil
}

// Jina retrieves passages from Jina Search.
type Jina struct {
	client jina.Client
	calc   *cost.Calculator
	site   string
}

// NewJina wraps a Jina client. site, when set, restricts results to one domain.
func NewJina(client jina.Client, calc *cost.Calculator, site string) *Jina {
	return &Jina{client: client, calc: calc, site: site}
}

// Retrieve ranks results in the order Jina returns them.
func (j *Jina) Retrieve(ctx context.Context, query string, k int) ([]model.Passage, error) {
	var opts []jina.SearchOption
	if j.site != "" {
		opts = append(opts, jina.WithSiteFilter(j.site))
	}
	resp, err := j.client.Search(ctx, query, opts...)
	if err != nil {
		return nil, eris.Wrap(err, "retrieval: jina search")
	}
	if t := cost.FromContext(ctx); t != nil && j.calc != nil {
		t.AddCost(j.calc.Jina(resp.Tokens()))
	}

	n := len(resp.Data)
	if k > 0 && n > k {
		n = k
	}
	out := make([]model.Passage, 0, n)
	for i, r := range resp.Data[:n] {
		text := r.Content
		if text == "" {
			text = r.Description
		}
		text = truncate(strings.TrimSpace(text), maxPassageChars)
		if text == "" {
			continue
		}
		source := r.URL
		if r.Title != "" {
			source = r.Title + " (" + r.URL + ")"
		}
		out = append(out, model.Passage{
			Text:      text,
			Source:    source,
			Relevance: rankRelevance(i, n),
		})
	}
	zap.L().Debug("retrieval: jina passages", zap.String("query", query), zap.Int("passages", len(out)))
	return out, nil
}

// Perplexity asks Perplexity for a cited research summary and splits the
// answer into paragraph passages attributed to the citations they reference.
type Perplexity struct {
	client  perplexity.Client
	calc    *cost.Calculator
	domains []string
}

// NewPerplexity wraps a Perplexity client. domains optionally restricts the
// sources it searches.
func NewPerplexity(client perplexity.Client, calc *cost.Calculator, domains []string) *Perplexity {
	return &Perplexity{client: client, calc: calc, domains: domains}
}

const researchPrompt = `You support U.S. federal acquisition planning. Summarize current market
facts relevant to the query: typical pricing, number and size of capable vendors,
applicable NAICS codes, common contract types and relevant FAR provisions.
Write short factual paragraphs and mark sources with [n].`

var citationMarker = regexp.MustCompile(`\[(\d+)\]`)

// Retrieve returns up to k paragraphs of the answer.
func (p *Perplexity) Retrieve(ctx context.Context, query string, k int) ([]model.Passage, error) {
	maxTokens := 1200
	resp, err := p.client.ChatCompletion(ctx, perplexity.ChatCompletionRequest{
		Messages: []perplexity.Message{
			{Role: "system", Content: researchPrompt},
			{Role: "user", Content: query},
		},
		MaxTokens:          &maxTokens,
		SearchDomainFilter: p.domains,
	})
	if err != nil {
		return nil, eris.Wrap(err, "retrieval: perplexity research")
	}
	if t := cost.FromContext(ctx); t != nil && p.calc != nil {
		t.AddCost(p.calc.PerplexityQuery())
	}

	var paras []string
	for _, para := range strings.Split(resp.Content(), "\n\n") {
		if para = strings.TrimSpace(para); para != "" {
			paras = append(paras, para)
		}
	}
	if k > 0 && len(paras) > k {
		paras = paras[:k]
	}

	out := make([]model.Passage, 0, len(paras))
	for i, para := range paras {
		out = append(out, model.Passage{
			Text:      truncate(para, maxPassageChars),
			Source:    sourcesFor(para, resp.Citations),
			Relevance: rankRelevance(i, len(paras)),
		})
	}
	return out, nil
}

// sourcesFor resolves the [n] markers in text against 1-based citations.
func sourcesFor(text string, citations []string) string {
	var refs []string
	seen := make(map[int]bool)
	for _, m := range citationMarker.FindAllStringSubmatch(text, -1) {
		n, err := strconv.Atoi(m[1])
		if err != nil || n < 1 || n > len(citations) || seen[n] {
			continue
		}
		seen[n] = true
		refs = append(refs, citations[n-1])
	}
	if len(refs) == 0 {
		return "perplexity"
	}
	return strings.Join(refs, ", ")
}

// rankRelevance maps rank i of n to (0,1], first result highest.
func rankRelevance(i, n int) float64 {
	if n <= 0 {
		return 0
	}
	return float64(n-i) / float64(n)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := s[:n]
	if i := strings.LastIndexByte(cut, ' '); i > n/2 {
		cut = cut[:i]
	}
	return cut + "…"
}
