package quality

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/sells-group/acqdocs/internal/model"
)

// Recognised reference formats.
var citationPatterns = []*regexp.Regexp{
	// FAR 52.212-4, DFARS 252.204-7012, FAR Part 10, FAR 15.304(c)(1)
	regexp.MustCompile(`\b(?:FAR|DFARS)\s+(?:Part\s+|Subpart\s+)?\d{1,3}(?:\.\d{1,4})?(?:-\d{1,4})?(?:\([a-z0-9]+\))*`),
	// 41 U.S.C. 3306, 10 USC § 3201
	regexp.MustCompile(`\b\d{1,2}\s+U\.?S\.?C\.?\s+(?:§+\s*)?\d+[a-z]?`),
	// 48 CFR 19.502-2, 2 C.F.R. Part 200
	regexp.MustCompile(`\b\d{1,2}\s+C\.?F\.?R\.?\s+(?:§+\s*|Part\s+)?\d+(?:\.\d+)?(?:-\d+)?`),
	// (Ref: GSA CALC, 2024) (Ref: SAM.gov, March 2025) (Ref: SAM.gov, Mar. 15, 2025)
	// (Ref: GSA CALC, 03/15/2025) (Ref: FPDS, 2025-03-15)
	regexp.MustCompile(`\(Ref:\s*[^(),\n]+,\s*` + refDate + `\)`),
}

const (
	monthName = `(?i:jan(?:uary)?|feb(?:ruary)?|mar(?:ch)?|apr(?:il)?|may|june?|july?|aug(?:ust)?|sept?(?:ember)?|oct(?:ober)?|nov(?:ember)?|dec(?:ember)?)`
	refDate   = `(?:\d{4}(?:-\d{2}(?:-\d{2})?)?` +
		`|\d{1,2}/\d{1,2}/\d{4}` +
		`|` + monthName + `\.?\s+(?:\d{1,2}(?:st|nd|rd|th)?,?\s+)?\d{4})`
)

// Figures that usually need a source.
var claimPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\$\s?\d[\d,]*(?:\.\d+)?(?:\s*(?:billion|million|thousand|[BMK])\b)?`),
	regexp.MustCompile(`(?i)\b\d+(?:\.\d+)?\s?(?:%|percent\b)`),
	regexp.MustCompile(`(?i)\b\d+\s+(?:(?:capable|potential|qualified|small|large|active|registered)\s+)*(?:vendors|contractors|firms|businesses|companies|awards|contracts|offerors|sources)\b`),
}

var placeholderSpan = regexp.MustCompile(`\[(?:TBD|INSERT|TO BE DETERMINED)[^\]]*\]`)

type span struct{ start, end int }

// FindCitations returns every recognised citation in text, in order.
func FindCitations(text string) []string {
	var out []string
	for _, s := range citationSpans(text) {
		out = append(out, text[s.start:s.end])
	}
	return out
}

// CountCitations returns the number of recognised citations in text.
func CountCitations(text string) int {
	return len(citationSpans(text))
}

func citationSpans(text string) []span {
	var spans []span
	for _, re := range citationPatterns {
		for _, loc := range re.FindAllStringIndex(text, -1) {
			spans = append(spans, span{loc[0], loc[1]})
		}
	}
	return mergeSpans(spans)
}

// mergeSpans sorts spans and drops any that overlap an earlier one, so a
// citation matched by two patterns counts once.
func mergeSpans(spans []span) []span {
	sort.Slice(spans, func(i, j int) bool { return spans[i].start < spans[j].start })
	var out []span
	for _, s := range spans {
		if len(out) > 0 && s.start < out[len(out)-1].end {
			continue
		}
		out = append(out, s)
	}
	return out
}

func claimSpans(text string) []span {
	var excluded []span
	for _, loc := range placeholderSpan.FindAllStringIndex(text, -1) {
		excluded = append(excluded, span{loc[0], loc[1]})
	}
	cites := citationSpans(text)

	var spans []span
	for _, re := range claimPatterns {
		for _, loc := range re.FindAllStringIndex(text, -1) {
			s := span{loc[0], loc[1]}
			if inside(s, excluded) || inside(s, cites) {
				continue
			}
			spans = append(spans, s)
		}
	}
	return mergeSpans(spans)
}

func inside(s span, in []span) bool {
	for _, o := range in {
		if s.start >= o.start && s.end <= o.end {
			return true
		}
	}
	return false
}

// CitationCheck scores how well figures are backed by citations.
type CitationCheck struct {
	window int
}

// NewCitationCheck returns a CitationCheck. A figure counts as cited when a
// citation starts within window characters after it, or ends within window
// characters before it, without crossing a paragraph break.
func NewCitationCheck(window int) *CitationCheck {
	if window <= 0 {
		window = DefaultConfig().CitationWindowChars
	}
	return &CitationCheck{window: window}
}

func (c *CitationCheck) Name() string { return model.CheckCitations }

const (
	noClaimsScore     = 80
	maxUncitedSamples = 5
)

func (c *CitationCheck) Run(_ context.Context, text string, _ *model.GenerationContext) (model.CheckResult, error) {
	cites := citationSpans(text)
	claims := claimSpans(text)

	var uncited []string
	for _, cl := range claims {
		if !c.supported(text, cl, cites) {
			uncited = append(uncited, text[cl.start:cl.end])
		}
	}

	res := model.CheckResult{
		Metadata: map[string]string{
			metaCitations: strconv.Itoa(len(cites)),
			"claims":      strconv.Itoa(len(claims)),
			"uncited":     strconv.Itoa(len(uncited)),
		},
	}

	valid, missing := len(cites), len(uncited)
	switch {
	case valid+missing == 0:
		res.Score = noClaimsScore
		res.Issues = append(res.Issues, "no citations: regulatory requirements should reference FAR/DFARS clauses")
		res.Suggestions = append(res.Suggestions, "Cite the governing FAR/DFARS clauses for each regulatory requirement")
	default:
		res.Score = int(math.Round(100 * float64(valid) / float64(valid+missing)))
	}

	if missing > 0 {
		samples := uncited
		if len(samples) > maxUncitedSamples {
			samples = samples[:maxUncitedSamples]
		}
		res.Issues = append(res.Issues, fmt.Sprintf("%d figure(s) without a nearby citation: %s",
			missing, strings.Join(samples, ", ")))
		res.Suggestions = append(res.Suggestions, "Add an inline (Ref: source, year) citation after every price, percentage and vendor count")
	}
	return res, nil
}

func (c *CitationCheck) supported(text string, claim span, cites []span) bool {
	for _, ct := range cites {
		var between string
		switch {
		case ct.start >= claim.end && ct.start-claim.end <= c.window:
			between = text[claim.end:ct.start]
		case ct.end <= claim.start && claim.start-ct.end <= c.window:
			between = text[ct.end:claim.start]
		default:
			continue
		}
		if !strings.Contains(between, "\n\n") {
			return true
		}
	}
	return false
}
