package multihop

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/smhanov/multihop/hop"
)

var (
	properNounRegex = regexp.MustCompile(`\b[A-Z][a-z]+(?:\s+[A-Z][a-z]+)*\b`) //nolint:gochecknoglobals
	yearRegex       = regexp.MustCompile(`\b\d{4}\b`)                          //nolint:gochecknoglobals
)

const noFailurePattern = "No clear failure pattern"

// collectFindings gathers what is worth keeping across a replan: every step
// answer, evidence lines carrying a relevance marker, and untried documents
// whose titles match a topical keyword.
func collectFindings(s *hop.Session, p *Policy) hop.Findings {
	var f hop.Findings
	f.Entities = s.Entities()

	seen := make(map[string]bool)
	addEvidence := func(ev string) {
		if seen[ev] || !containsAny(ev, p.RelevanceMarkers) {
			return
		}
		seen[ev] = true
		f.Evidence = append(f.Evidence, ev)
	}
	for _, a := range s.StepAnswers {
		for _, ev := range a.Evidence {
			addEvidence(ev)
		}
	}
	for _, ev := range s.CurrentEvidence {
		addEvidence(ev)
	}

	for _, d := range s.Context {
		if s.IsFailed(s.StepIdx, d.Title) {
			continue
		}
		if containsAny(d.Title, p.TopicalKeywords) {
			f.UsefulDocs = append(f.UsefulDocs, d.Title)
		}
	}
	return f
}

// analyzeFailure classifies why the active step is stuck. The checks are
// independent and every match is reported.
func analyzeFailure(s *hop.Session, p *Policy) string {
	var patterns []string

	recent := s.CurrentEvidence
	if len(recent) > 3 {
		recent = recent[len(recent)-3:]
	}
	if len(recent) > 0 {
		allAbsent := true
		for _, ev := range recent {
			if !containsAny(ev, p.AbsenceMarkers) {
				allAbsent = false
				break
			}
		}
		if allAbsent {
			patterns = append(patterns, "Information not found in available documents")
		}
	}

	if s.Retries(s.StepIdx) > p.WrongDocumentRetries {
		patterns = append(patterns, "Repeatedly selecting wrong documents")
	}

	if s.StepIdx > 0 && len(s.StepAnswers) == 0 {
		patterns = append(patterns, "Dependency chain broken - no previous results to build on")
	}

	if n := len(s.StepAnswers); n > 0 && containsAny(s.StepAnswers[n-1].Answer, p.PartialMarkers) {
		patterns = append(patterns, "Only partial information available")
	}

	if len(patterns) == 0 {
		return noFailurePattern
	}
	return "Failure patterns detected: " + strings.Join(patterns, ", ")
}

// synthesizeStrategy turns findings and the failure analysis into ranked
// replanning hints. attempt is the zero-based ordinal of the replan being
// prepared.
func synthesizeStrategy(f hop.Findings, analysis string, attempt int, keywords []string) []string {
	var hints []string
	if len(f.Entities) > 0 {
		hints = append(hints, "Search directly for information about these entities: "+strings.Join(firstN(f.Entities, 3), ", "))
	}
	if len(f.UsefulDocs) > 0 {
		hints = append(hints, "Focus on these promising documents: "+strings.Join(firstN(f.UsefulDocs, 3), ", "))
	}
	if strings.Contains(strings.ToLower(analysis), "not found") && attempt == 0 {
		hints = append(hints, "Try a REVERSE approach: start from the answer type and work backwards")
	}
	if len(f.Evidence) > 0 && attempt == 1 {
		hints = append(hints, "Use partial information to approximate the answer")
	}
	if len(keywords) > 0 {
		hints = append(hints, "Focus search on these key terms: "+strings.Join(keywords, ", "))
	}
	return hints
}

// extractKeywords derives search terms without consulting the oracle:
// proper-noun spans and years from the question, capitalized tokens from
// earlier answers, title tokens that also occur in the question, and answer
// type hints from the question word. The result is sorted.
//
// A title token only counts when it equals a whole question token, ignoring
// case and edge punctuation. This is narrower than a substring test on
// purpose: short title words like "a" or "of" would otherwise match nearly
// every question.
func extractKeywords(question string, answers []hop.StepAnswer, titles []string) []string {
	set := make(map[string]struct{})
	add := func(k string) {
		k = strings.TrimSpace(k)
		if k != "" {
			set[k] = struct{}{}
		}
	}

	for _, m := range properNounRegex.FindAllString(question, -1) {
		add(m)
	}
	for _, m := range yearRegex.FindAllString(question, -1) {
		add(m)
	}

	for _, a := range answers {
		for _, w := range strings.Fields(a.Answer) {
			r, _ := utf8.DecodeRuneInString(w)
			if unicode.IsUpper(r) {
				add(strings.TrimFunc(w, isEdgePunct))
			}
		}
	}

	questionTokens := make(map[string]bool)
	for _, w := range strings.Fields(question) {
		questionTokens[strings.ToLower(strings.TrimFunc(w, isEdgePunct))] = true
	}
	for _, title := range titles {
		for _, w := range strings.Fields(title) {
			w = strings.TrimFunc(w, isEdgePunct)
			if w != "" && questionTokens[strings.ToLower(w)] {
				add(w)
			}
		}
	}

	lower := strings.ToLower(question)
	if strings.Contains(lower, "when") {
		add("year")
		add("date")
	}
	if strings.Contains(lower, "where") {
		add("location")
		add("place")
	}
	if strings.Contains(lower, "who") {
		add("person")
		add("name")
	}

	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// isSynthesisStep reports whether a step combines earlier answers instead of
// looking up new evidence.
func isSynthesisStep(step string, p *Policy) bool {
	return containsAny(step, p.SynthesisPhrases)
}

func isEdgePunct(r rune) bool {
	return unicode.IsPunct(r) && r != '-'
}

func firstN(values []string, n int) []string {
	if len(values) > n {
		return values[:n]
	}
	return values
}

func docTitles(docs []hop.Document) []string {
	out := make([]string, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.Title)
	}
	return out
}

func formatHints(hints []string) string {
	var b strings.Builder
	for i, h := range hints {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "%d. %s", i+1, h)
	}
	return b.String()
}
