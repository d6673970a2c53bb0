package multihop

import (
	"context"
	"strings"

	"github.com/smhanov/multihop/hop"
)

// defaultPlanStep is used when the initial decomposition cannot be parsed.
const defaultPlanStep = "Find information to answer the question."

// planner builds the initial plan on first entry and revises it when the
// Reasoner requests a replan.
func (r *run) planner(ctx context.Context) hop.Node {
	s := r.s
	if s.ReplanRequested {
		return r.replan(ctx)
	}
	if len(s.Plan) > 0 {
		return hop.NodeReasoner
	}

	maxSteps := r.policy().MaxPlanSteps
	plan := []string{defaultPlanStep}

	prompt, err := renderTemplate(hop.TmplPlan, struct {
		Question string
		MaxSteps int
	}{s.Question, maxSteps})
	if err == nil {
		var raw string
		raw, err = r.generate(ctx, "plan", plannerSystemPrompt, prompt, tempPlan)
		if err == nil {
			var steps []string
			steps, err = parsePlan(raw, maxSteps)
			if err == nil {
				plan = steps
			}
		}
	}
	if err != nil {
		r.fallback("plan", err)
	}

	s.Plan = plan
	s.StepIdx = 0
	s.Tracef(hop.NodePlanner, "initial plan with %d steps", len(plan))
	r.log.Info("plan created", "steps", len(plan), "plan", plan)
	return hop.NodeReasoner
}

// replan revises the remaining plan while keeping every completed step
// answer. It forces the session to finish once the replan cap is exceeded or
// the oracle's revision cannot be parsed.
func (r *run) replan(ctx context.Context) hop.Node {
	s := r.s
	p := r.policy()

	if s.ReplanCount > p.MaxReplans {
		s.ReplanRequested = false
		s.Tracef(hop.NodePlanner, "replan cap reached after %d requests, finishing", s.ReplanCount)
		r.log.Info("replan cap reached", "replans", s.ReplanCount)
		return hop.NodeAnswer
	}

	attempt := s.ReplanCount - 1
	if attempt < 0 {
		attempt = 0
	}

	findings := collectFindings(s, p)
	analysis := analyzeFailure(s, p)
	keywords := extractKeywords(s.Question, s.StepAnswers, docTitles(s.Context))
	strategy := synthesizeStrategy(findings, analysis, attempt, keywords)

	progress := make([]progressEntry, 0, len(s.StepAnswers))
	for _, a := range s.StepAnswers {
		progress = append(progress, progressEntry{Step: a.Step, Answer: a.Answer})
	}

	prompt, err := renderTemplate(hop.TmplReplan, replanPromptData{
		Question:          s.Question,
		Plan:              s.Plan,
		StuckStep:         s.StepIdx,
		Progress:          progress,
		Findings:          findings,
		Preserved:         s.PreservedFindings,
		PromisingEvidence: firstN(findings.Evidence, 3),
		FailureAnalysis:   analysis,
		Strategy:          strategy,
		Attempt:           attempt,
		MaxReplans:        p.MaxReplans,
		MaxSteps:          p.MaxPlanSteps,
	})
	var plan []string
	if err == nil {
		var raw string
		raw, err = r.generate(ctx, "replan", replannerSystemPrompt, prompt, tempPlan)
		if err == nil {
			plan, err = parsePlan(raw, len(s.StepAnswers)+p.MaxPlanSteps)
		}
	}
	if err != nil {
		r.fallback("replan", err)
		s.ReplanRequested = false
		s.Tracef(hop.NodePlanner, "replan failed (%v), finishing", err)
		return hop.NodeAnswer
	}

	plan, prefixed := alignRevisedPlan(plan, s.StepAnswers)
	if limit := len(s.StepAnswers) + p.MaxPlanSteps; len(plan) > limit {
		plan = plan[:limit]
	}
	if prefixed {
		s.Tracef(hop.NodePlanner, "revision omitted completed steps, keeping them ahead of %d new steps", len(plan)-len(s.StepAnswers))
	}

	s.Plan = plan
	s.StepIdx = len(s.StepAnswers)
	s.PreservedFindings = findings
	s.RetryCount = make(map[int]int)
	delete(s.FailedDocuments, s.StepIdx)
	s.ReplanRequested = false
	s.CurrentEvidence = nil
	s.CurrentDoc = nil
	replansTotal.Inc()

	s.Tracef(hop.NodePlanner, "replan %d: %s; resuming at step %d of %d", s.ReplanCount, analysis, s.StepIdx+1, len(plan))
	r.log.Info("plan revised",
		"replan", s.ReplanCount,
		"analysis", analysis,
		"hints", formatHints(strategy),
		"preserved", !findings.Empty(),
		"plan", plan,
		"resume_step", s.StepIdx,
	)
	return hop.NodeReasoner
}

// alignRevisedPlan makes sure a revised plan starts with the completed steps,
// so resuming at len(answers) lands on the first new step. A revision that
// does not repeat them verbatim (case and surrounding space ignored) is taken
// to hold only the remaining steps and gets them prepended.
func alignRevisedPlan(plan []string, answers []hop.StepAnswer) ([]string, bool) {
	if len(plan) > len(answers) {
		matched := true
		for i, a := range answers {
			if !strings.EqualFold(strings.TrimSpace(plan[i]), strings.TrimSpace(a.Step)) {
				matched = false
				break
			}
		}
		if matched {
			return plan, false
		}
	}

	out := make([]string, 0, len(answers)+len(plan))
	for _, a := range answers {
		out = append(out, a.Step)
	}
	return append(out, plan...), len(answers) > 0
}
