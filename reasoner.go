package multihop

import (
	"context"
	"strings"

	"github.com/smhanov/multihop/hop"
)

// noDocumentSentinel is written as evidence when every document was already
// tried for the active step.
const noDocumentSentinel = "No relevant document found in context"

// reasoner enforces the session bounds, detects stuck steps and decides
// whether the active step needs more evidence, a synthesis or an answer.
func (r *run) reasoner(ctx context.Context) hop.Node {
	s := r.s
	p := r.policy()

	s.TotalIterations++
	if s.TotalIterations >= p.MaxIterations {
		if len(s.StepAnswers) == 0 {
			s.Answer = FallbackAnswer
		}
		s.Tracef(hop.NodeReasoner, "iteration cap %d reached, finishing", p.MaxIterations)
		r.log.Warn("iteration cap reached", "iterations", s.TotalIterations)
		return hop.NodeAnswer
	}

	retries := s.Retries(s.StepIdx)
	remaining := s.Remaining(s.StepIdx)
	if retries >= p.StuckRetryLimit || (remaining == 0 && retries >= p.ExhaustedRetryLimit) {
		s.Tracef(hop.NodeReasoner, "step %d stuck after %d retries with %d documents left", s.StepIdx+1, retries, remaining)
		return r.requestReplan()
	}

	step, ok := s.ActiveStep()
	if !ok {
		s.Tracef(hop.NodeReasoner, "plan complete")
		return hop.NodeAnswer
	}

	if isSynthesisStep(step, p) {
		return r.synthesize(ctx, step)
	}

	if len(s.CurrentEvidence) == 0 {
		s.Tracef(hop.NodeReasoner, "step %d needs evidence", s.StepIdx+1)
		return hop.NodeSearcher
	}

	if s.CurrentEvidence[0] == noDocumentSentinel {
		n := s.IncRetry(s.StepIdx)
		if n >= p.SentinelRetryLimit {
			s.Tracef(hop.NodeReasoner, "no documents left for step %d", s.StepIdx+1)
			return r.requestReplan()
		}
		s.Tracef(hop.NodeReasoner, "no documents left for step %d, retry %d", s.StepIdx+1, n)
		return hop.NodeSearcher
	}

	if !r.sufficient(ctx, step) {
		n := s.IncRetry(s.StepIdx)
		s.Tracef(hop.NodeReasoner, "evidence insufficient for step %d, retry %d", s.StepIdx+1, n)
		return hop.NodeSearcher
	}

	answer := r.stepAnswer(ctx, step)
	s.CompleteStep(answer, s.CurrentEvidence)
	s.Tracef(hop.NodeReasoner, "step %d answered: %s", s.StepIdx, answer)
	r.log.Info("step answered", "step", s.StepIdx, "answer", answer)
	return r.afterStep()
}

// requestReplan hands control to the Planner, or finishes once the replan
// cap has been exceeded.
func (r *run) requestReplan() hop.Node {
	s := r.s
	if s.ReplanCount > r.policy().MaxReplans {
		s.Tracef(hop.NodeReasoner, "replan cap reached, finishing")
		return hop.NodeAnswer
	}
	s.ReplanRequested = true
	s.ReplanCount++
	r.log.Info("replan requested", "step", s.StepIdx, "replans", s.ReplanCount)
	return hop.NodePlanner
}

func (r *run) afterStep() hop.Node {
	if r.s.PlanExhausted() {
		return hop.NodeAnswer
	}
	return hop.NodeReasoner
}

// synthesize answers a step that combines earlier answers without collecting
// new evidence.
func (r *run) synthesize(ctx context.Context, step string) hop.Node {
	s := r.s
	if len(s.StepAnswers) < 2 {
		s.Tracef(hop.NodeReasoner, "synthesis step %d lacks earlier answers, searching", s.StepIdx+1)
		return hop.NodeSearcher
	}

	last := s.StepAnswers[len(s.StepAnswers)-1].Answer
	answer := last
	prompt, err := renderTemplate(hop.TmplSynthesize, synthesizePromptData{
		Step:     step,
		Previous: withEvidenceLimit(s.StepAnswers, 2, 0),
	})
	if err == nil {
		var raw string
		raw, err = r.generate(ctx, "synthesize", synthesizerSystemPrompt, prompt, tempSynthesize)
		if err == nil && strings.TrimSpace(raw) != "" {
			answer = strings.TrimSpace(raw)
		}
	}
	if err != nil {
		r.fallback("synthesize", err)
	}

	s.CompleteStep(answer, nil)
	s.Tracef(hop.NodeReasoner, "step %d synthesized: %s", s.StepIdx, answer)
	r.log.Info("step synthesized", "step", s.StepIdx, "answer", answer)
	return r.afterStep()
}

// sufficient asks the oracle whether the gathered evidence answers step.
// Oracle errors count as sufficient so a flaky backend cannot pin the loop.
func (r *run) sufficient(ctx context.Context, step string) bool {
	prompt, err := renderTemplate(hop.TmplVerify, evidencePromptData{Step: step, Evidence: r.s.CurrentEvidence})
	if err != nil {
		r.fallback("verify", err)
		return true
	}
	raw, err := r.generate(ctx, "verify", judgeSystemPrompt, prompt, tempVerify)
	if err != nil {
		r.fallback("verify", err)
		return true
	}
	return strings.Contains(strings.ToLower(raw), "yes")
}

// stepAnswer extracts the short value the step asks for. Without an oracle
// answer the latest evidence line stands in.
func (r *run) stepAnswer(ctx context.Context, step string) string {
	ev := r.s.CurrentEvidence
	fallback := strings.TrimSpace(ev[len(ev)-1])

	prompt, err := renderTemplate(hop.TmplStepAnswer, evidencePromptData{Step: step, Evidence: ev})
	if err != nil {
		r.fallback("step_answer", err)
		return fallback
	}
	raw, err := r.generate(ctx, "step_answer", stepAnswerSystemPrompt, prompt, tempStepAnswer)
	if err != nil {
		r.fallback("step_answer", err)
		return fallback
	}
	if answer := strings.TrimSpace(raw); answer != "" {
		return answer
	}
	return fallback
}
