package quality

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/sells-group/acqdocs/internal/model"
)

var (
	markdownHeading = regexp.MustCompile(`^\s{0,3}#{1,6}\s+(.+?)\s*#*\s*$`)
	boldHeading     = regexp.MustCompile(`^\s*\*\*(.+?)\*\*:?\s*$`)
	headingNumber   = regexp.MustCompile(`^(?:(?:section|part)\s+)?(?:[0-9]+(?:\.[0-9]+)*[.):]?|[ivxlc]+[.)]|[a-z][.)])\s+`)
	nonAlnum        = regexp.MustCompile(`[^\p{L}\p{N}]+`)
	placeholderRe   = regexp.MustCompile(`(?i)\[(?:TBD|INSERT|TO BE DETERMINED)[^\]]*\]|\bTBD\b|\bto be determined\b|\bX{3,}\b`)
)

const (
	missingSectionWeight = 70.0
	placeholderPerK      = 5.0
	maxPlaceholderCost   = 30.0
)

// CompletenessCheck verifies required sections and penalises unresolved
// placeholders by density per thousand words.
type CompletenessCheck struct{}

// NewCompletenessCheck returns a CompletenessCheck.
func NewCompletenessCheck() *CompletenessCheck { return &CompletenessCheck{} }

func (c *CompletenessCheck) Name() string { return model.CheckCompleteness }

func (c *CompletenessCheck) Run(_ context.Context, text string, gc *model.GenerationContext) (model.CheckResult, error) {
	var required []string
	if gc != nil {
		required = gc.RequiredSections
	}

	// A section is present only when a heading names it exactly; "Life-Cycle
	// Cost Analysis" does not satisfy "Cost".
	present := make(map[string]bool)
	for _, h := range Headings(text) {
		present[h] = true
	}
	var missing []string
	for _, sec := range required {
		if !present[normalizeHeading(sec)] {
			missing = append(missing, sec)
		}
	}

	placeholders := len(placeholderRe.FindAllStringIndex(text, -1))
	words := len(strings.Fields(text))
	density := 0.0
	if words > 0 {
		density = float64(placeholders) * 1000 / float64(words)
	}

	penalty := math.Min(maxPlaceholderCost, placeholderPerK*density)
	if len(required) > 0 {
		penalty += missingSectionWeight * float64(len(missing)) / float64(len(required))
	}

	res := model.CheckResult{
		Score: int(math.Round(100 - penalty)),
		Metadata: map[string]string{
			"missing_sections": strconv.Itoa(len(missing)),
			"placeholders":     strconv.Itoa(placeholders),
		},
	}
	if len(missing) > 0 {
		res.Issues = append(res.Issues, "missing required sections: "+strings.Join(missing, ", "))
		res.Suggestions = append(res.Suggestions, "Add a \"##\" heading and content for each missing section")
	}
	if placeholders > 0 {
		res.Issues = append(res.Issues, fmt.Sprintf("%d unresolved placeholder(s)", placeholders))
		res.Suggestions = append(res.Suggestions, "Resolve placeholders from the prerequisite documents where the data exists")
	}
	return res, nil
}

// Headings returns the normalised section headings of a Markdown document.
func Headings(text string) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		var h string
		if m := markdownHeading.FindStringSubmatch(line); m != nil {
			h = m[1]
		} else if m := boldHeading.FindStringSubmatch(line); m != nil {
			h = m[1]
		} else {
			continue
		}
		if n := normalizeHeading(h); n != "" {
			out = append(out, n)
		}
	}
	return out
}

// normalizeHeading folds case, strips numbering ("3.2 ", "IV. ", "Section 1 ")
// and collapses punctuation so "3. Performance-Requirements" matches
// "Performance Requirements".
func normalizeHeading(s string) string {
	s = cases.Fold().String(norm.NFKC.String(strings.TrimSpace(s)))
	s = strings.ReplaceAll(s, "*", "")
	s = headingNumber.ReplaceAllString(s, "")
	s = nonAlnum.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}
