package multihop

import (
	"context"

	"github.com/smhanov/multihop/hop"
)

// searcher picks the most promising untried document for the active step.
// The pick is recorded as tried immediately so a retry never sees it again.
func (r *run) searcher(ctx context.Context) hop.Node {
	s := r.s
	p := r.policy()

	available := s.Available(s.StepIdx)
	if len(available) == 0 {
		s.CurrentEvidence = []string{noDocumentSentinel}
		s.CurrentDoc = nil
		s.Tracef(hop.NodeSearcher, "no untried documents for step %d", s.StepIdx+1)
		return hop.NodeReasoner
	}

	step, _ := s.ActiveStep()
	var referenced []string
	if len(s.StepAnswers) > 0 && containsAny(step, p.SearchReferencePhrases) {
		referenced = s.RecentEntities(2)
	}

	idx := 0
	prompt, err := renderTemplate(hop.TmplSelectDoc, selectPromptData{
		Step:       step,
		Previous:   s.RecentAnswers(2),
		Referenced: referenced,
		Titles:     docTitles(available),
	})
	if err == nil {
		var raw string
		raw, err = r.generate(ctx, "select_doc", selectorSystemPrompt, prompt, tempSelect)
		if err == nil {
			if picked, ok := parseOrdinal(raw, len(available)); ok {
				idx = picked
			} else {
				r.fallback("select_doc", nil)
			}
		}
	}
	if err != nil {
		r.fallback("select_doc", err)
	}

	doc := available[idx]
	s.MarkFailed(s.StepIdx, doc.Title)
	s.CurrentDoc = &doc
	s.Tracef(hop.NodeSearcher, "selected %q for step %d", doc.Title, s.StepIdx+1)
	return hop.NodeExtractor
}
