package multihop

import (
	"context"

	"github.com/smhanov/multihop/hop"
)

// answer produces the final answer from the step answers and ends the
// session.
func (r *run) answer(ctx context.Context) hop.Node {
	s := r.s
	if len(s.StepAnswers) == 0 {
		s.Answer = FallbackAnswer
		s.Tracef(hop.NodeAnswer, "no step answers")
		return hop.NodeTerminal
	}

	final := s.StepAnswers[len(s.StepAnswers)-1].Answer
	prompt, err := renderTemplate(hop.TmplFinalAnswer, finalPromptData{
		Question: s.Question,
		Steps:    withEvidenceLimit(s.StepAnswers, 2, 200),
	})
	if err == nil {
		var raw string
		raw, err = r.generate(ctx, "final_answer", answerSystemPrompt, prompt, tempFinal)
		if err == nil {
			var parsed finalAnswer
			parsed, err = parseFinalAnswer(raw)
			if err == nil {
				final = parsed.FinalAnswer
				s.Tracef(hop.NodeAnswer, "question type %s: %s", parsed.QuestionType, parsed.Reasoning)
			}
		}
	}
	if err != nil {
		r.fallback("final_answer", err)
	}

	s.Answer = final
	s.Tracef(hop.NodeAnswer, "final answer: %s", final)
	return hop.NodeTerminal
}
