package quality

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/sells-group/acqdocs/internal/model"
)

// vagueTerms are hedges that make a requirement unmeasurable.
var vagueTerms = []string{
	"adequate", "adequately", "appropriate", "appropriately", "as needed",
	"as necessary", "as required", "as applicable", "reasonable", "reasonably",
	"sufficient", "sufficiently", "timely", "approximately", "various",
	"etc.", "and/or", "best effort", "best efforts", "user-friendly",
	"state-of-the-art", "robust", "seamless", "seamlessly", "industry standard",
	"minimal", "significant", "high quality", "high-quality", "if possible",
	"to the extent possible", "as soon as possible", "normally", "generally",
}

// idioms are accepted phrases containing a vague term. Their term does not
// count.
var idioms = []string{
	"fair and reasonable",
	"reasonable accommodation",
	"adequate price competition",
	"adequate competition",
	"as required by",
	"as required under",
	"significant weakness",
	"significant weaknesses",
	"significant strength",
	"significant strengths",
	"appropriate contracting officer",
	"timely manner as specified",
}

const (
	vaguePenalty = 5
	vagueFloor   = 40
)

// VagueLanguageCheck penalises hedge terms outside accepted idioms.
type VagueLanguageCheck struct {
	terms  []*regexp.Regexp
	idioms []*regexp.Regexp
}

// NewVagueLanguageCheck compiles the term lists.
func NewVagueLanguageCheck() *VagueLanguageCheck {
	c := &VagueLanguageCheck{}
	for _, t := range vagueTerms {
		c.terms = append(c.terms, phrasePattern(t))
	}
	for _, i := range idioms {
		c.idioms = append(c.idioms, phrasePattern(i))
	}
	return c
}

// phrasePattern matches p as whole words. Terms that end in punctuation
// ("etc.") only need a boundary at the start.
func phrasePattern(p string) *regexp.Regexp {
	q := regexp.QuoteMeta(p)
	q = strings.ReplaceAll(q, " ", `\s+`)
	end := `\b`
	if last := p[len(p)-1]; !isWordByte(last) {
		end = ``
	}
	return regexp.MustCompile(`\b` + q + end)
}

func isWordByte(b byte) bool {
	return b == '_' || b >= '0' && b <= '9' || b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z'
}

func (c *VagueLanguageCheck) Name() string { return model.CheckVagueLanguage }

func (c *VagueLanguageCheck) Run(_ context.Context, text string, _ *model.GenerationContext) (model.CheckResult, error) {
	// A Caser is stateful; build one per call.
	folded := cases.Fold().String(norm.NFKC.String(text))

	var accepted []span
	for _, re := range c.idioms {
		for _, loc := range re.FindAllStringIndex(folded, -1) {
			accepted = append(accepted, span{loc[0], loc[1]})
		}
	}

	var found []span
	hits := make(map[string]int)
	for i, re := range c.terms {
		for _, loc := range re.FindAllStringIndex(folded, -1) {
			s := span{loc[0], loc[1]}
			if inside(s, accepted) {
				continue
			}
			found = append(found, s)
			hits[vagueTerms[i]]++
		}
	}
	count := len(mergeSpans(found))

	res := model.CheckResult{
		Score:    max(vagueFloor, 100-vaguePenalty*count),
		Metadata: map[string]string{"instances": strconv.Itoa(count)},
	}
	if count > 0 {
		terms := make([]string, 0, len(hits))
		for t := range hits {
			terms = append(terms, t)
		}
		sort.Slice(terms, func(i, j int) bool {
			if hits[terms[i]] != hits[terms[j]] {
				return hits[terms[i]] > hits[terms[j]]
			}
			return terms[i] < terms[j]
		})
		res.Issues = append(res.Issues, fmt.Sprintf("%d vague term(s): %s", count, strings.Join(terms, ", ")))
		res.Suggestions = append(res.Suggestions, "Replace vague terms with measurable standards (quantities, deadlines, acceptance criteria)")
	}
	return res, nil
}
