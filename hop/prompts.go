package hop

import (
	"encoding/json"
	"strings"
	"text/template"
)

// PlanPromptTemplate asks for the initial decomposition.
const PlanPromptTemplate = `Question:
{{.Question}}

Break this question into at most {{.MaxSteps}} ordered lookup steps.
Return JSON only.`

// ReplanPromptTemplate asks for a revised plan that builds on what was found.
const ReplanPromptTemplate = `The current plan is stuck and needs revising.
This is replan attempt {{inc .Attempt}}/{{.MaxReplans}}.

ORIGINAL QUESTION:
{{.Question}}

CURRENT SITUATION:
- Original plan: {{json .Plan}}
- Stuck at: Step {{inc .StuckStep}}
- Progress so far: {{json .Progress}}

FINDINGS TO PRESERVE:
Found entities: {{json .Findings.Entities}}
Promising evidence: {{json .PromisingEvidence}}
Useful documents: {{json .Findings.UsefulDocs}}
{{if not .Preserved.Empty}}
KEPT FROM THE PREVIOUS REPLAN:
Entities: {{json .Preserved.Entities}}
Evidence: {{json .Preserved.Evidence}}
Documents: {{json .Preserved.UsefulDocs}}
{{end}}
FAILURE ANALYSIS:
{{.FailureAnalysis}}

SUGGESTED STRATEGY:
{{range $i, $s := .Strategy}}{{inc $i}}. {{$s}}
{{else}}(none)
{{end}}
RULES FOR THE NEW PLAN:
1. Build on the information already found; do not start over.
{{if .Progress}}2. List the {{len .Progress}} completed step(s) first, word for word:
{{range .Progress}}   - {{.Step}}
{{end}}{{else}}2. There are no completed steps yet.
{{end}}3. Name the found entities explicitly in the steps that need them.
4. After the completed steps, only look for the missing pieces.
5. At most {{.MaxSteps}} new steps.

Return ONLY valid JSON:
{"plan": ["step 1", "step 2"]}`

// SelectDocTemplate asks for the ordinal of the best remaining document.
const SelectDocTemplate = `Select the BEST document for this search goal.

Current goal: {{.Step}}
{{if .Previous}}
Previous findings:
{{range .Previous}}- {{.Step}}: {{.Answer}}
{{end}}{{end}}{{if .Referenced}}
The current goal refers to: {{join .Referenced ", "}}
Choose the document most likely to describe these entities.
{{end}}
Available documents:
{{range $i, $t := .Titles}}{{inc $i}}. {{$t}}
{{end}}
Return ONLY the number (1-{{len .Titles}}):`

// ExtractTemplate asks for a short evidence snippet from one document.
const ExtractTemplate = `Extract relevant information from the document.

CURRENT STEP:
{{.Step}}
{{if .Previous}}
PREVIOUS FINDINGS (use these):
{{range .Previous}}Step {{inc .StepIdx}}: {{.Step}}
  -> Answer: {{.Answer}}
{{end}}{{end}}{{if .Referenced}}
REFERENCED ENTITIES:
The current step uses referential language that points at:
{{range .Referenced}}  - {{.}}
{{end}}Find information about THESE entities only, not other entities in the document.
{{end}}
DOCUMENT:
Title: {{.Title}}
Content:
{{.Text}}

TASK:
{{if .Referenced}}Find information about: {{join .Referenced ", "}}{{else}}Extract information that answers the current step{{end}}

Extracted information (1-2 sentences):`

// VerifyTemplate asks whether the evidence can answer the step.
const VerifyTemplate = `Judge if the evidence is sufficient to answer the question.

QUESTION:
{{.Step}}

EVIDENCE:
{{range .Evidence}}- {{.}}
{{end}}
Partial information counts as sufficient.
If the evidence says the document does not provide the information, it is not sufficient.

Answer ONLY "yes" or "no":`

// StepAnswerTemplate asks for the short value a step is looking for.
const StepAnswerTemplate = `Extract the answer from the evidence for this step.

Step question: {{.Step}}

Evidence:
{{range .Evidence}}{{.}}
{{end}}
Extract exactly the kind of value the step asks for:
- a position -> the position title, not a person
- a name or a person -> the name
- a location -> the place
- a date or year -> the date
Keep it short. No explanations.

Answer:`

// SynthesizeTemplate asks the oracle to combine earlier step answers.
const SynthesizeTemplate = `Answer the question using only the information gathered so far.

CURRENT QUESTION:
{{.Step}}

ALL INFORMATION GATHERED:
{{range .Previous}}
Step {{inc .StepIdx}}: {{.Step}}
  Answer: {{.Answer}}
{{if .Evidence}}  Evidence:
{{range .Evidence}}    - {{.}}
{{end}}{{end}}{{end}}
Return ONLY the direct answer (very concise):`

// FinalAnswerTemplate asks for the minimal final answer as JSON.
const FinalAnswerTemplate = `Analyze the question and generate the final answer.

ORIGINAL QUESTION:
{{.Question}}

STEP-BY-STEP ANALYSIS (with evidence):
{{range $i, $a := .Steps}}
Step {{inc $i}}: {{$a.Step}}
  Answer: {{$a.Answer}}
{{if $a.Evidence}}  Evidence:
{{range $a.Evidence}}    - {{.}}
{{end}}{{end}}{{end}}
Check the evidence first; it outranks the step answers.
Classify the question (yes_no, which_select, what, who, where, when) and answer
with the minimal span (1-10 words).

Return ONLY valid JSON:
{
  "question_type": "yes_no / which_select / what / who / where / when",
  "final_answer": "minimal answer",
  "reasoning": "brief justification"
}`

var funcs = template.FuncMap{ //nolint:gochecknoglobals
	"inc":  func(i int) int { return i + 1 },
	"join": strings.Join,
	"json": func(v any) string {
		b, err := json.Marshal(v)
		if err != nil {
			return "[]"
		}
		return string(b)
	},
}

var (
	TmplPlan        = template.Must(template.New("plan").Funcs(funcs).Parse(PlanPromptTemplate))
	TmplReplan      = template.Must(template.New("replan").Funcs(funcs).Parse(ReplanPromptTemplate))
	TmplSelectDoc   = template.Must(template.New("select_doc").Funcs(funcs).Parse(SelectDocTemplate))
	TmplExtract     = template.Must(template.New("extract").Funcs(funcs).Parse(ExtractTemplate))
	TmplVerify      = template.Must(template.New("verify").Funcs(funcs).Parse(VerifyTemplate))
	TmplStepAnswer  = template.Must(template.New("step_answer").Funcs(funcs).Parse(StepAnswerTemplate))
	TmplSynthesize  = template.Must(template.New("synthesize").Funcs(funcs).Parse(SynthesizeTemplate))
	TmplFinalAnswer = template.Must(template.New("final_answer").Funcs(funcs).Parse(FinalAnswerTemplate))
)
