package xref

import (
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Keys written by ExtractData.
const (
	KeyEstimatedTotal      = "estimated_total"
	KeyCurrencyFigures     = "currency_figures"
	KeyVendorCount         = "vendor_count"
	KeyNAICSCode           = "naics_code"
	KeyPeriodOfPerformance = "period_of_performance"
	KeyContractType        = "contract_type"
)

const maxCurrencyFigures = 10

var (
	currencyRe = regexp.MustCompile(`(?i)\$\s?(\d{1,3}(?:,\d{3})+|\d+)(\.\d+)?(?:\s*(billion|million|thousand|[BMK])\b)?`)
	vendorRe   = regexp.MustCompile(`(?i)\b(\d+|one|two|three|four|five|six|seven|eight|nine|ten|eleven|twelve|fifteen|twenty)\s+(?:(?:capable|potential|qualified|small|large|interested|responsible|viable|eligible)\s+)*(?:vendors|sources|offerors|contractors|firms|businesses|companies)\b`)
	naicsRe    = regexp.MustCompile(`(?i)\bNAICS(?:\s+code)?(?:\s+(?:of|is))?\s*:?\s*(\d{6})\b`)
	popRe      = regexp.MustCompile(`(?i)period of performance[^.\n]{0,80}?\b` + countPattern + `\s*(?:\(\d+\)\s*)?-?\s*(years?|months?)`)
	popLeadRe  = regexp.MustCompile(`(?i)\b` + countPattern + `\s*(?:\(\d+\)\s*)?-?\s*(years?|months?)\s+period of performance`)
	baseOptRe  = regexp.MustCompile(`(?i)\b` + countPattern + `\s*(?:\(\d+\)\s*)?-?\s*base\s+(?:years?|periods?)(?:\s+(?:plus|and|with)|,)\s+` +
		countPattern + `\s*(?:\(\d+\)\s*)?(?:(?:\d+|one|twelve)-(?:year|month)\s+)?option\s+(?:years?|periods?)`)
)

const countPattern = `(\d+|one|two|three|four|five|six|seven|eight|nine|ten|twelve|eighteen|twenty-four|thirty-six)`

var numberWords = map[string]int{
	"one": 1, "two": 2, "three": 3, "four": 4, "five": 5, "six": 6, "seven": 7,
	"eight": 8, "nine": 9, "ten": 10, "eleven": 11, "twelve": 12, "fifteen": 15,
	"eighteen": 18, "twenty": 20, "twenty-four": 24, "thirty-six": 36,
}

var contractTypes = []struct {
	name string
	re   *regexp.Regexp
}{
	{"Firm-Fixed-Price", regexp.MustCompile(`(?i)\bfirm[\s-]fixed[\s-]price\b|\bFFP\b`)},
	{"Fixed-Price Incentive", regexp.MustCompile(`(?i)\bfixed[\s-]price[\s-]incentive\b`)},
	{"Time-and-Materials", regexp.MustCompile(`(?i)\btime[\s-]and[\s-]materials?\b|\bT&M\b`)},
	{"Labor-Hour", regexp.MustCompile(`(?i)\blabor[\s-]hour\b`)},
	{"Cost-Plus-Fixed-Fee", regexp.MustCompile(`(?i)\bcost[\s-]plus[\s-]fixed[\s-]fee\b|\bCPFF\b`)},
	{"Cost-Plus-Award-Fee", regexp.MustCompile(`(?i)\bcost[\s-]plus[\s-]award[\s-]fee\b|\bCPAF\b`)},
	{"Cost-Plus-Incentive-Fee", regexp.MustCompile(`(?i)\bcost[\s-]plus[\s-]incentive[\s-]fee\b|\bCPIF\b`)},
	{"IDIQ", regexp.MustCompile(`(?i)\bindefinite[\s-]delivery[\s/,-]+indefinite[\s-]quantity\b|\bIDIQ\b`)},
	{"BPA", regexp.MustCompile(`(?i)\bblanket purchase agreement\b|\bBPA\b`)},
}

// ExtractData scans a finished draft for the figures dependants most often
// need. Keys are only present when a value was found.
func ExtractData(text string) map[string]string {
	out := make(map[string]string)

	var (
		figures []string
		seen    = make(map[string]bool)
		largest = -1.0
		total   string
	)
	for _, m := range currencyRe.FindAllStringSubmatch(text, -1) {
		raw := strings.TrimSpace(m[0])
		v := currencyValue(m[1], m[2], m[3])
		if v > largest {
			largest, total = v, formatUSD(v)
		}
		if !seen[raw] && len(figures) < maxCurrencyFigures {
			seen[raw] = true
			figures = append(figures, raw)
		}
	}
	if len(figures) > 0 {
		out[KeyCurrencyFigures] = strings.Join(figures, "; ")
		out[KeyEstimatedTotal] = total
	}

	if m := vendorRe.FindStringSubmatch(text); m != nil {
		if n, ok := parseCount(m[1]); ok {
			out[KeyVendorCount] = strconv.Itoa(n)
		}
	}

	if m := naicsRe.FindStringSubmatch(text); m != nil {
		out[KeyNAICSCode] = m[1]
	}

	if pop := periodOfPerformance(text); pop != "" {
		out[KeyPeriodOfPerformance] = pop
	}

	first := -1
	for _, ct := range contractTypes {
		loc := ct.re.FindStringIndex(text)
		if loc != nil && (first < 0 || loc[0] < first) {
			first = loc[0]
			out[KeyContractType] = ct.name
		}
	}

	return out
}

// periodOfPerformance prefers "N base year(s) plus M option years", summed,
// over a single stated duration.
func periodOfPerformance(text string) string {
	if m := baseOptRe.FindStringSubmatch(text); m != nil {
		base, ok1 := parseCount(m[1])
		opts, ok2 := parseCount(m[2])
		if ok1 && ok2 {
			return formatPeriod(strconv.Itoa(base+opts), "years")
		}
	}
	if m := popRe.FindStringSubmatch(text); m != nil {
		return formatPeriod(m[1], m[2])
	}
	if m := popLeadRe.FindStringSubmatch(text); m != nil {
		return formatPeriod(m[1], m[2])
	}
	return ""
}

// SortedKeys returns the keys of data in a stable order.
func SortedKeys(data map[string]string) []string {
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func currencyValue(whole, frac, scale string) float64 {
	v, err := strconv.ParseFloat(strings.ReplaceAll(whole, ",", "")+frac, 64)
	if err != nil {
		return 0
	}
	switch strings.ToLower(scale) {
	case "billion", "b":
		v *= 1e9
	case "million", "m":
		v *= 1e6
	case "thousand", "k":
		v *= 1e3
	}
	if math.IsInf(v, 0) {
		return 0
	}
	return v
}

// formatUSD renders v as whole dollars with thousands separators.
func formatUSD(v float64) string {
	// FormatFloat keeps totals beyond the int64 range positive.
	s := strconv.FormatFloat(math.Round(v), 'f', 0, 64)
	var sb strings.Builder
	sb.WriteByte('$')
	for i, r := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			sb.WriteByte(',')
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

func parseCount(s string) (int, bool) {
	if n, err := strconv.Atoi(s); err == nil {
		return n, true
	}
	n, ok := numberWords[strings.ToLower(s)]
	return n, ok
}

func formatPeriod(count, unit string) string {
	n, ok := parseCount(count)
	if !ok {
		return count + " " + unit
	}
	unit = strings.TrimSuffix(strings.ToLower(unit), "s")
	if n != 1 {
		unit += "s"
	}
	return strconv.Itoa(n) + " " + unit
}
