package multihop

import (
	"bytes"
	"text/template"

	"github.com/smhanov/multihop/hop"
)

const plannerSystemPrompt = `You are a planner that decomposes a multi-hop question into 1-3 simple, ordered lookup steps.
Each step finds one new entity or fact. If a step depends on an earlier result, say so explicitly:
"(from step N)" or "(from step 1 and 2)". Use the entity names that appear in the question.
For "in common", "same" or comparison questions, end with a synthesis step such as
"Determine which was started first (from step 1 and 2)."
Return JSON only: {"plan": ["step 1", "step 2"]}`

const replannerSystemPrompt = "You are a strategic replanner. Use found information, don't restart."

const selectorSystemPrompt = "You are a document selector who tracks entity references."

const extractorSystemPrompt = "You are a precise extractor who carefully tracks entity references across steps."

const judgeSystemPrompt = "You are a strict but fair evidence judge. Be lenient with partial information."

const stepAnswerSystemPrompt = "You are a precise extractor."

const synthesizerSystemPrompt = "You are a precise information synthesizer. Answer based ONLY on the evidence provided."

const answerSystemPrompt = `You are a precise answer generator. Produce the final answer to the original question
from the step results and their evidence. Keep the answer minimal (1-10 words) with no
explanatory sentence. Yes/no questions confirm a single fact; "which of A or B" and
"who was older" questions select one entity and are never answered yes or no.
Return JSON with question_type, final_answer and reasoning.`

// Oracle temperatures per call site.
const (
	tempPlan       = 0.2
	tempSelect     = 0.2
	tempVerify     = 0.0
	tempExtract    = 0.1
	tempStepAnswer = 0.1
	tempSynthesize = 0.1
	tempFinal      = 0.1
)

type progressEntry struct {
	Step   string `json:"step"`
	Answer string `json:"answer"`
}

type replanPromptData struct {
	Question          string
	Plan              []string
	StuckStep         int
	Progress          []progressEntry
	Findings          hop.Findings
	Preserved         hop.Findings
	PromisingEvidence []string
	FailureAnalysis   string
	Strategy          []string
	Attempt           int
	MaxReplans        int
	MaxSteps          int
}

type selectPromptData struct {
	Step       string
	Previous   []hop.StepAnswer
	Referenced []string
	Titles     []string
}

type extractPromptData struct {
	Step       string
	Previous   []hop.StepAnswer
	Referenced []string
	Title      string
	Text       string
}

type evidencePromptData struct {
	Step     string
	Evidence []string
}

type synthesizePromptData struct {
	Step     string
	Previous []hop.StepAnswer
}

type finalPromptData struct {
	Question string
	Steps    []hop.StepAnswer
}

func renderTemplate(tmpl *template.Template, data any) (string, error) {
	var b bytes.Buffer
	if err := tmpl.Execute(&b, data); err != nil {
		return "", err
	}
	return b.String(), nil
}

// withEvidenceLimit copies answers keeping at most n evidence lines each, each
// cut to maxChars characters (0 keeps the full line).
func withEvidenceLimit(answers []hop.StepAnswer, n, maxChars int) []hop.StepAnswer {
	out := make([]hop.StepAnswer, 0, len(answers))
	for _, a := range answers {
		ev := a.Evidence
		if len(ev) > n {
			ev = ev[:n]
		}
		lines := make([]string, 0, len(ev))
		for _, line := range ev {
			if maxChars > 0 && len([]rune(line)) > maxChars {
				line = truncateRunes(line, maxChars) + "..."
			}
			lines = append(lines, line)
		}
		a.Evidence = lines
		out = append(out, a)
	}
	return out
}
