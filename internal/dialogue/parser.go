package dialogue

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/ashureev/sparkpath/internal/domain"
)

// CategoryAnalysis is the structured result of a career analysis completion.
type CategoryAnalysis struct {
	Category    string
	HasCategory bool
	Confidence  int
	Reasoning   string
}

// WellnessAnalysis is the structured result of a wellness analysis completion.
type WellnessAnalysis struct {
	Outcome        domain.WellnessOutcome
	Reasoning      string
	Recommendation string
}

// Tag grammar: TAG: followed by the rest of the line, or by the rest of the
// text for the trailing free-form field. Single-line values never continue
// onto the next line, so an empty tag stays empty.
var (
	categoryTag       = regexp.MustCompile(`(?i)CATEGORY:[ \t]*(.+)`)
	confidenceTag     = regexp.MustCompile(`(?i)CONFIDENCE:[ \t]*\[?[ \t]*(\d+)`)
	reasoningTextTag  = regexp.MustCompile(`(?is)REASONING:\s*(.+)`)
	outcomeTag        = regexp.MustCompile(`(?i)OUTCOME:[ \t]*(.+)`)
	reasoningLineTag  = regexp.MustCompile(`(?i)REASONING:[ \t]*(.+)`)
	recommendationTag = regexp.MustCompile(`(?is)RECOMMENDATION:\s*(.+)`)
	integerRun        = regexp.MustCompile(`\d+`)
)

// ParseCategoryAnalysis extracts category, confidence and reasoning.
// Missing or malformed fields yield no category, zero confidence and empty reasoning.
func ParseCategoryAnalysis(text string) CategoryAnalysis {
	var out CategoryAnalysis
	if v, ok := capture(categoryTag, text); ok {
		out.Category = v
		out.HasCategory = true
	}
	if v, ok := capture(confidenceTag, text); ok {
		n, err := strconv.Atoi(v)
		if err != nil || n > 100 {
			n = 100
		}
		out.Confidence = n
	}
	out.Reasoning, _ = capture(reasoningTextTag, text)
	return out
}

// ParseSubcategoryList splits a comma-separated list and keeps only entries
// present in allowed, in their original order.
func ParseSubcategoryList(text string, allowed []string) []string {
	set := make(map[string]struct{}, len(allowed))
	for _, a := range allowed {
		set[a] = struct{}{}
	}
	out := []string{}
	seen := make(map[string]struct{})
	for _, part := range strings.Split(text, ",") {
		part = strings.TrimSpace(part)
		if _, ok := set[part]; !ok {
			continue
		}
		if _, dup := seen[part]; dup {
			continue
		}
		seen[part] = struct{}{}
		out = append(out, part)
	}
	return out
}

// ParseWellnessOutcome extracts outcome, reasoning and recommendation.
// A missing or unrecognized outcome is HappyWithPath.
func ParseWellnessOutcome(text string) WellnessAnalysis {
	out := WellnessAnalysis{Outcome: domain.HappyWithPath}
	if v, ok := capture(outcomeTag, text); ok {
		if o, ok := normalizeOutcome(v); ok {
			out.Outcome = o
		}
	}
	out.Reasoning, _ = capture(reasoningLineTag, text)
	out.Recommendation, _ = capture(recommendationTag, text)
	return out
}

// ParseRankingIndices returns every integer in text converted from 1-based to
// 0-based, in order of appearance.
func ParseRankingIndices(text string) []int {
	matches := integerRun.FindAllString(text, -1)
	out := make([]int, 0, len(matches))
	for _, m := range matches {
		n, err := strconv.Atoi(m)
		if err != nil {
			continue
		}
		out = append(out, n-1)
	}
	return out
}

func capture(re *regexp.Regexp, text string) (string, bool) {
	m := re.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	v := strings.TrimSpace(m[1])
	return v, v != ""
}

func normalizeOutcome(v string) (domain.WellnessOutcome, bool) {
	v = strings.Trim(strings.TrimSpace(v), "[]*\"'.")
	v = strings.ToUpper(strings.NewReplacer(" ", "_", "-", "_").Replace(strings.TrimSpace(v)))
	for _, o := range domain.WellnessOutcomes {
		if v == string(o) {
			return o, true
		}
	}
	return "", false
}
