package hop

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Document is one candidate in the fixed pool a session searches.
type Document struct {
	Title     string   `json:"title"`
	Sentences []string `json:"sentences"`
}

// Text joins the sentences with single spaces.
func (d Document) Text() string {
	return strings.Join(d.Sentences, " ")
}

// UnmarshalJSON accepts both the object form and the HotpotQA pair form
// ["title", ["sentence", ...]].
func (d *Document) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "[") {
		var pair []json.RawMessage
		if err := json.Unmarshal(data, &pair); err != nil {
			return err
		}
		if len(pair) != 2 {
			return fmt.Errorf("document pair: expected 2 elements, got %d", len(pair))
		}
		if err := json.Unmarshal(pair[0], &d.Title); err != nil {
			return fmt.Errorf("document title: %w", err)
		}
		if err := json.Unmarshal(pair[1], &d.Sentences); err != nil {
			return fmt.Errorf("document sentences: %w", err)
		}
		return nil
	}
	type plain Document
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	if p.Title == "" {
		return errors.New("document: missing title")
	}
	*d = Document(p)
	return nil
}

// StepAnswer is the resolved answer for one plan step.
type StepAnswer struct {
	StepIdx  int      `json:"step_idx"`
	Step     string   `json:"step"`
	Answer   string   `json:"answer"`
	Evidence []string `json:"evidence"`
}

// Findings is the snapshot taken when the planner accepts a replan.
type Findings struct {
	Entities   []string `json:"entities"`
	Evidence   []string `json:"evidence"`
	UsefulDocs []string `json:"useful_docs"`
}

// Empty reports whether nothing worth preserving was found.
func (f Findings) Empty() bool {
	return len(f.Entities) == 0 && len(f.Evidence) == 0 && len(f.UsefulDocs) == 0
}

// Node identifies a stage of the control loop.
type Node int

const (
	NodePlanner Node = iota
	NodeReasoner
	NodeSearcher
	NodeExtractor
	NodeAnswer
	NodeTerminal
)

func (n Node) String() string {
	switch n {
	case NodePlanner:
		return "planner"
	case NodeReasoner:
		return "reasoner"
	case NodeSearcher:
		return "searcher"
	case NodeExtractor:
		return "extractor"
	case NodeAnswer:
		return "answer"
	case NodeTerminal:
		return "terminal"
	default:
		return fmt.Sprintf("node(%d)", int(n))
	}
}

// TraceEvent records what a node did during one invocation.
type TraceEvent struct {
	Iteration int    `json:"iteration"`
	Node      string `json:"node"`
	Message   string `json:"message"`
}

// Session is the full mutable record of one question's progress. It is owned
// by a single control loop and never shared between runs.
type Session struct {
	Question string
	Context  []Document

	Plan        []string
	StepIdx     int
	StepAnswers []StepAnswer

	CurrentEvidence []string
	CurrentDoc      *Document

	RetryCount      map[int]int
	FailedDocuments map[int][]string

	ReplanCount       int
	ReplanRequested   bool
	TotalIterations   int
	PreservedFindings Findings

	Next   Node
	Answer string

	Trace []TraceEvent
	Cost  float64
}

// NewSession initializes a session positioned at the planner.
func NewSession(question string, docs []Document) *Session {
	return &Session{
		Question:        strings.TrimSpace(question),
		Context:         docs,
		RetryCount:      make(map[int]int),
		FailedDocuments: make(map[int][]string),
		Next:            NodePlanner,
	}
}

// ActiveStep returns the text of the step at StepIdx.
func (s *Session) ActiveStep() (string, bool) {
	if s.StepIdx < 0 || s.StepIdx >= len(s.Plan) {
		return "", false
	}
	return s.Plan[s.StepIdx], true
}

// PlanExhausted reports whether every step has been consumed.
func (s *Session) PlanExhausted() bool {
	return s.StepIdx >= len(s.Plan)
}

// Retries returns the consecutive failure count for a step.
func (s *Session) Retries(step int) int {
	return s.RetryCount[step]
}

// IncRetry bumps the failure count for a step and returns the new value.
func (s *Session) IncRetry(step int) int {
	if s.RetryCount == nil {
		s.RetryCount = make(map[int]int)
	}
	s.RetryCount[step]++
	return s.RetryCount[step]
}

// FailedFor returns the titles already tried for a step.
func (s *Session) FailedFor(step int) []string {
	return s.FailedDocuments[step]
}

// IsFailed reports whether title was already tried for step.
func (s *Session) IsFailed(step int, title string) bool {
	for _, t := range s.FailedDocuments[step] {
		if t == title {
			return true
		}
	}
	return false
}

// MarkFailed records title as tried for step. Titles compare verbatim and are
// stored at most once; the return value reports whether it was added.
func (s *Session) MarkFailed(step int, title string) bool {
	if s.IsFailed(step, title) {
		return false
	}
	if s.FailedDocuments == nil {
		s.FailedDocuments = make(map[int][]string)
	}
	s.FailedDocuments[step] = append(s.FailedDocuments[step], title)
	return true
}

// Remaining is the number of documents not yet tried for step.
func (s *Session) Remaining(step int) int {
	return len(s.Context) - len(s.FailedDocuments[step])
}

// Available returns the documents whose titles were not tried for step,
// in pool order.
func (s *Session) Available(step int) []Document {
	out := make([]Document, 0, len(s.Context))
	for _, d := range s.Context {
		if s.IsFailed(step, d.Title) {
			continue
		}
		out = append(out, d)
	}
	return out
}

// Entities returns every step answer in order.
func (s *Session) Entities() []string {
	out := make([]string, 0, len(s.StepAnswers))
	for _, a := range s.StepAnswers {
		out = append(out, a.Answer)
	}
	return out
}

// RecentAnswers returns up to the last n step answers.
func (s *Session) RecentAnswers(n int) []StepAnswer {
	if n <= 0 || len(s.StepAnswers) == 0 {
		return nil
	}
	if n > len(s.StepAnswers) {
		n = len(s.StepAnswers)
	}
	return s.StepAnswers[len(s.StepAnswers)-n:]
}

// RecentEntities returns the answers of up to the last n steps.
func (s *Session) RecentEntities(n int) []string {
	recent := s.RecentAnswers(n)
	out := make([]string, 0, len(recent))
	for _, a := range recent {
		out = append(out, a.Answer)
	}
	return out
}

// CompleteStep appends the answer for the active step, advances the cursor
// and clears per-step scratch state.
func (s *Session) CompleteStep(answer string, evidence []string) {
	step, _ := s.ActiveStep()
	ev := make([]string, len(evidence))
	copy(ev, evidence)
	s.StepAnswers = append(s.StepAnswers, StepAnswer{
		StepIdx:  s.StepIdx,
		Step:     step,
		Answer:   answer,
		Evidence: ev,
	})
	delete(s.RetryCount, s.StepIdx)
	s.StepIdx++
	s.CurrentEvidence = nil
	s.CurrentDoc = nil
}

// Tracef appends a trace event for node at the current iteration.
func (s *Session) Tracef(node Node, format string, args ...any) {
	s.Trace = append(s.Trace, TraceEvent{
		Iteration: s.TotalIterations,
		Node:      node.String(),
		Message:   fmt.Sprintf(format, args...),
	})
}
