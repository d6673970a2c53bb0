package multihop

import (
	"context"
	"strings"

	"github.com/smhanov/multihop/hop"
)

// extractor reads the selected document and appends what it says about the
// active step to the current evidence.
func (r *run) extractor(ctx context.Context) hop.Node {
	s := r.s
	p := r.policy()

	doc := s.CurrentDoc
	if doc == nil {
		s.Tracef(hop.NodeExtractor, "no document selected")
		return hop.NodeReasoner
	}

	step, _ := s.ActiveStep()
	var referenced []string
	if len(s.StepAnswers) > 0 && containsAny(step, p.ExtractReferencePhrases) {
		referenced = s.RecentEntities(2)
	}

	prompt, err := renderTemplate(hop.TmplExtract, extractPromptData{
		Step:       step,
		Previous:   s.RecentAnswers(3),
		Referenced: referenced,
		Title:      doc.Title,
		Text:       truncateRunes(doc.Text(), p.DocumentWindow),
	})
	if err == nil {
		var raw string
		raw, err = r.generate(ctx, "extract", extractorSystemPrompt, prompt, tempExtract)
		if err == nil {
			if ev := strings.TrimSpace(raw); ev != "" {
				s.CurrentEvidence = append(s.CurrentEvidence, ev)
				s.Tracef(hop.NodeExtractor, "evidence from %q: %s", doc.Title, truncateRunes(ev, 120))
			}
		}
	}
	if err != nil {
		r.fallback("extract", err)
		s.Tracef(hop.NodeExtractor, "extraction from %q failed", doc.Title)
	}
	return hop.NodeReasoner
}
