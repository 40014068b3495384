package retrieval

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/acqdocs/internal/cost"
	"github.com/sells-group/acqdocs/pkg/jina"
	"github.com/sells-group/acqdocs/pkg/perplexity"
)

type mockJina struct{ mock.Mock }

func (m *mockJina) Search(ctx context.Context, query string, opts ...jina.SearchOption) (*jina.SearchResponse, error) {
	args := m.Called(ctx, query, len(opts))
	resp, _ := args.Get(0).(*jina.SearchResponse)
	return resp, args.Error(1)
}

type mockPerplexity struct{ mock.Mock }

func (m *mockPerplexity) ChatCompletion(ctx context.Context, req perplexity.ChatCompletionRequest) (*perplexity.ChatCompletionResponse, error) {
	args := m.Called(ctx, req)
	resp, _ := args.Get(0).(*perplexity.ChatCompletionResponse)
	return resp, args.Error(1)
}

func TestNone(t *testing.T) {
	t.Parallel()
	ps, err := None{}.Retrieve(context.Background(), "anything", 5)
	require.NoError(t, err)
	assert.Empty(t, ps)
}

func TestJina_Retrieve(t *testing.T) {
	t.Parallel()

	m := new(mockJina)
	m.On("Search", mock.Anything, "Program Falcon Market Research Report", 1).Return(&jina.SearchResponse{
		Data: []jina.SearchResult{
			{Title: "GSA Schedule pricing", URL: "https://gsa.gov/a", Content: "Median labor rate is $142/hr.", Usage: jina.SearchUsage{Tokens: 500_000}},
			{URL: "https://sam.gov/b", Description: "Twelve awards in NAICS 541512."},
			{URL: "https://empty.example", Content: "   "},
		},
	}, nil)

	tracker := cost.NewTracker(nil)
	ctx := cost.WithTracker(context.Background(), tracker)
	r := NewJina(m, cost.NewCalculator(cost.DefaultRates()), "gov")

	ps, err := r.Retrieve(ctx, "Program Falcon Market Research Report", 5)
	require.NoError(t, err)
	require.Len(t, ps, 2)
	assert.Equal(t, "GSA Schedule pricing (https://gsa.gov/a)", ps[0].Source)
	assert.Equal(t, "Median labor rate is $142/hr.", ps[0].Text)
	assert.InDelta(t, 1.0, ps[0].Relevance, 1e-9)
	assert.Equal(t, "https://sam.gov/b", ps[1].Source)
	assert.Greater(t, ps[0].Relevance, ps[1].Relevance)
	assert.InDelta(t, 0.01, tracker.Snapshot().CostUSD, 1e-9)
	m.AssertExpectations(t)
}

func TestJina_LimitsToK(t *testing.T) {
	t.Parallel()

	m := new(mockJina)
	m.On("Search", mock.Anything, "q", 0).Return(&jina.SearchResponse{
		Data: []jina.SearchResult{
			{URL: "a", Content: "one"}, {URL: "b", Content: "two"}, {URL: "c", Content: "three"},
		},
	}, nil)

	ps, err := NewJina(m, nil, "").Retrieve(context.Background(), "q", 2)
	require.NoError(t, err)
	assert.Len(t, ps, 2)
}

func TestJina_Error(t *testing.T) {
	t.Parallel()

	m := new(mockJina)
	m.On("Search", mock.Anything, "q", 0).Return(nil, errors.New("unavailable"))

	_, err := NewJina(m, nil, "").Retrieve(context.Background(), "q", 2)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "retrieval: jina search")
}

func TestPerplexity_Retrieve(t *testing.T) {
	t.Parallel()

	m := new(mockPerplexity)
	m.On("ChatCompletion", mock.Anything, mock.MatchedBy(func(req perplexity.ChatCompletionRequest) bool {
		return len(req.Messages) == 2 && req.Messages[1].Content == "cloud hosting" &&
			len(req.SearchDomainFilter) == 1
	})).Return(&perplexity.ChatCompletionResponse{
		Choices: []perplexity.Choice{{Message: perplexity.Message{
			Content: "Rates average $150/hr [1][2].\n\nAbout 40 small businesses compete [2].\n\nNo citation here.",
		}}},
		Citations: []string{"https://gsa.gov/calc", "https://sam.gov/search"},
	}, nil)

	r := NewPerplexity(m, nil, []string{"gov"})
	ps, err := r.Retrieve(context.Background(), "cloud hosting", 5)
	require.NoError(t, err)
	require.Len(t, ps, 3)
	assert.Equal(t, "https://gsa.gov/calc, https://sam.gov/search", ps[0].Source)
	assert.Equal(t, "https://sam.gov/search", ps[1].Source)
	assert.Equal(t, "perplexity", ps[2].Source)
	m.AssertExpectations(t)
}

func TestPerplexity_Error(t *testing.T) {
	t.Parallel()

	m := new(mockPerplexity)
	m.On("ChatCompletion", mock.Anything, mock.Anything).Return(nil, errors.New("429"))

	_, err := NewPerplexity(m, nil, nil).Retrieve(context.Background(), "q", 3)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "retrieval: perplexity research")
}

func TestSourcesFor_IgnoresOutOfRange(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "a", sourcesFor("x [1] [7] [1]", []string{"a"}))
	assert.Equal(t, "perplexity", sourcesFor("x [0]", []string{"a"}))
}

func TestTruncate(t *testing.T) {
	t.Parallel()
	long := strings.Repeat("word ", 500)
	out := truncate(long, 100)
	assert.LessOrEqual(t, len(out), 100+len("…"))
	assert.True(t, strings.HasSuffix(out, "…"))
	assert.Equal(t, "short", truncate("short", 100))
}
