package multihop

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smhanov/multihop/hop"
)

type oracleCall struct {
	system      string
	user        string
	temperature float64
}

// scriptedOracle replies from a per-system-prompt script. The last entry of
// each script repeats once the script runs out; prompts without a script fail.
type scriptedOracle struct {
	scripts map[string][]string
	pos     map[string]int
	calls   []oracleCall

	costPerCall float64
}

func newScriptedOracle(scripts map[string][]string) *scriptedOracle {
	return &scriptedOracle{scripts: scripts, pos: make(map[string]int)}
}

func (o *scriptedOracle) Generate(_ context.Context, system, user string, temperature float64) (OracleResponse, error) {
	o.calls = append(o.calls, oracleCall{system: system, user: user, temperature: temperature})
	list := o.scripts[system]
	if len(list) == 0 {
		return OracleResponse{}, errors.New("no scripted response available")
	}
	i := o.pos[system]
	if i >= len(list) {
		i = len(list) - 1
	}
	o.pos[system]++
	return OracleResponse{Text: list[i], Cost: o.costPerCall}, nil
}

func (o *scriptedOracle) callsTo(system string) []oracleCall {
	var out []oracleCall
	for _, c := range o.calls {
		if c.system == system {
			out = append(out, c)
		}
	}
	return out
}

func text(s string) (OracleResponse, error) {
	return OracleResponse{Text: s}, nil
}

func magazineDocs() []Document {
	return []Document{
		{Title: "Arthur's Magazine", Sentences: []string{"Arthur's Magazine (1844-1846) was an American literary periodical.", "It was published in Philadelphia."}},
		{Title: "First for Women", Sentences: []string{"First for Women is a woman's magazine published by Bauer Media Group.", "It was started in 1989."}},
	}
}

// runSession drives a session to completion and returns it for inspection.
func runSession(t *testing.T, a *Agent, question string, docs []Document) *hop.Session {
	t.Helper()
	s := hop.NewSession(question, docs)
	r := &run{agent: a, s: s, log: a.logger}
	require.NoError(t, r.loop(context.Background()))
	return s
}

func assertSessionBounds(t *testing.T, s *hop.Session) {
	t.Helper()
	assert.LessOrEqual(t, s.TotalIterations, 40)
	assert.LessOrEqual(t, s.ReplanCount, 3)
	for step, titles := range s.FailedDocuments {
		seen := make(map[string]bool)
		for _, title := range titles {
			assert.Falsef(t, seen[title], "title %q recorded twice for step %d", title, step)
			seen[title] = true
		}
	}
}

func TestRunAnswersTwoHopQuestion(t *testing.T) {
	o := newScriptedOracle(map[string][]string{
		plannerSystemPrompt:    {`{"plan": ["Find when Arthur's Magazine was started", "Find when First for Women was started"]}`},
		selectorSystemPrompt:   {"1", "2"},
		extractorSystemPrompt:  {"Arthur's Magazine was first published in 1844.", "First for Women was started in 1989."},
		judgeSystemPrompt:      {"yes"},
		stepAnswerSystemPrompt: {"1844", "1989"},
		answerSystemPrompt:     {"```json\n{\"question_type\": \"which_select\", \"final_answer\": \"Arthur's Magazine\", \"reasoning\": \"1844 < 1989\"}\n```"},
	})
	o.costPerCall = 0.01

	a := New(WithOracle(o))
	res, err := a.Run(context.Background(), "Which magazine was started first, Arthur's Magazine or First for Women?", magazineDocs())
	require.NoError(t, err)

	assert.Equal(t, "Arthur's Magazine", res.Answer)
	require.Len(t, res.StepAnswers, 2)
	assert.Equal(t, "1844", res.StepAnswers[0].Answer)
	assert.Equal(t, "1989", res.StepAnswers[1].Answer)
	assert.Equal(t, []string{"First for Women was started in 1989."}, res.StepAnswers[1].Evidence)
	assert.Len(t, res.Plan, 2)
	assert.Equal(t, 4, res.Iterations)
	assert.Zero(t, res.Replans)
	assert.NotEmpty(t, res.ID)
	assert.Equal(t, Digest("Which magazine was started first, Arthur's Magazine or First for Women?", magazineDocs()), res.Digest)
	assert.InDelta(t, 0.01*float64(len(o.calls)), res.Cost, 1e-9)
	assert.NotEmpty(t, res.Trace)

	for _, c := range o.callsTo(judgeSystemPrompt) {
		assert.Zero(t, c.temperature)
	}
	for _, c := range o.callsTo(plannerSystemPrompt) {
		assert.InDelta(t, 0.2, c.temperature, 1e-9)
	}
}

func TestRunUnparsablePlanFallsBackToDefaultStep(t *testing.T) {
	o := newScriptedOracle(map[string][]string{
		plannerSystemPrompt:    {"I think the plan should be to look things up."},
		selectorSystemPrompt:   {"1"},
		extractorSystemPrompt:  {"Arthur's Magazine started in 1844."},
		judgeSystemPrompt:      {"yes"},
		stepAnswerSystemPrompt: {"1844"},
		answerSystemPrompt:     {`{"final_answer": "1844"}`},
	})

	s := runSession(t, New(WithOracle(o)), "When did Arthur's Magazine start?", magazineDocs())

	assert.Equal(t, []string{defaultPlanStep}, s.Plan)
	require.NotEmpty(t, s.Trace)
	assert.Equal(t, "planner", s.Trace[0].Node)
	assert.Equal(t, "reasoner", s.Trace[1].Node)
	assert.Equal(t, "1844", s.Answer)
}

func TestRunPlannerOracleErrorFallsBack(t *testing.T) {
	o := newScriptedOracle(map[string][]string{
		selectorSystemPrompt:   {"1"},
		extractorSystemPrompt:  {"evidence"},
		judgeSystemPrompt:      {"yes"},
		stepAnswerSystemPrompt: {"answer"},
		answerSystemPrompt:     {`{"final_answer": "answer"}`},
	})

	s := runSession(t, New(WithOracle(o)), "Q?", magazineDocs())
	assert.Equal(t, []string{defaultPlanStep}, s.Plan)
	assert.Equal(t, "answer", s.Answer)
}

func TestRunZeroDocumentsWritesSentinel(t *testing.T) {
	o := newScriptedOracle(map[string][]string{
		plannerSystemPrompt: {`{"plan": ["Find the founder of Acme"]}`},
	})

	s := runSession(t, New(WithOracle(o)), "Who founded Acme?", nil)

	assert.Empty(t, o.callsTo(extractorSystemPrompt))
	assert.Empty(t, o.callsTo(selectorSystemPrompt))
	for _, ev := range s.Trace {
		assert.NotEqual(t, "extractor", ev.Node)
	}
	assert.Equal(t, FallbackAnswer, s.Answer)
	assert.Equal(t, 1, s.ReplanCount)
	assertSessionBounds(t, s)
}

func TestReasonerSentinelIncrementsRetry(t *testing.T) {
	a := New(WithOracle(newScriptedOracle(nil)))
	s := hop.NewSession("Q?", nil)
	s.Plan = []string{"Find X"}
	s.CurrentEvidence = []string{noDocumentSentinel}
	r := &run{agent: a, s: s, log: a.logger}

	assert.Equal(t, hop.NodeSearcher, r.reasoner(context.Background()))
	assert.Equal(t, 1, s.Retries(0))

	assert.Equal(t, hop.NodePlanner, r.reasoner(context.Background()))
	assert.Equal(t, 2, s.Retries(0))
	assert.True(t, s.ReplanRequested)
	assert.Equal(t, 1, s.ReplanCount)
}

func TestSearcherEmptyPoolRoutesToReasoner(t *testing.T) {
	a := New(WithOracle(newScriptedOracle(nil)))
	s := hop.NewSession("Q?", nil)
	s.Plan = []string{"Find X"}
	r := &run{agent: a, s: s, log: a.logger}

	assert.Equal(t, hop.NodeReasoner, r.searcher(context.Background()))
	assert.Equal(t, []string{"No relevant document found in context"}, s.CurrentEvidence)
	assert.Nil(t, s.CurrentDoc)
}

func TestSearcherFallsBackToFirstAvailable(t *testing.T) {
	o := newScriptedOracle(map[string][]string{selectorSystemPrompt: {"document 7"}})
	a := New(WithOracle(o))
	s := hop.NewSession("Q?", magazineDocs())
	s.Plan = []string{"Find X"}
	s.MarkFailed(0, "Arthur's Magazine")
	r := &run{agent: a, s: s, log: a.logger}

	assert.Equal(t, hop.NodeExtractor, r.searcher(context.Background()))
	require.NotNil(t, s.CurrentDoc)
	assert.Equal(t, "First for Women", s.CurrentDoc.Title)
	assert.Equal(t, []string{"Arthur's Magazine", "First for Women"}, s.FailedFor(0))

	// Only untried titles are offered.
	require.Len(t, o.calls, 1)
	assert.NotContains(t, o.calls[0].user, "Arthur's Magazine")
}

func TestSearcherPassesReferencedEntities(t *testing.T) {
	o := newScriptedOracle(map[string][]string{selectorSystemPrompt: {"2"}})
	a := New(WithOracle(o))
	s := hop.NewSession("Q?", magazineDocs())
	s.Plan = []string{"Find X", "Find Y", "Find the publisher of those magazines"}
	s.StepAnswers = []hop.StepAnswer{{Answer: "Alpha"}, {Answer: "Beta"}}
	s.StepIdx = 2
	r := &run{agent: a, s: s, log: a.logger}

	r.searcher(context.Background())
	require.Len(t, o.calls, 1)
	assert.Contains(t, o.calls[0].user, "The current goal refers to: Alpha, Beta")
	assert.Equal(t, "First for Women", s.CurrentDoc.Title)
}

func TestSearcherShowsOnlyRecentAnswers(t *testing.T) {
	o := newScriptedOracle(map[string][]string{selectorSystemPrompt: {"1"}})
	a := New(WithOracle(o))
	s := hop.NewSession("Q?", magazineDocs())
	s.Plan = []string{"s1", "s2", "s3", "s4"}
	s.StepAnswers = []hop.StepAnswer{
		{Step: "s1", Answer: "Alpha"},
		{Step: "s2", Answer: "Beta"},
		{Step: "s3", Answer: "Gamma"},
	}
	s.StepIdx = 3
	r := &run{agent: a, s: s, log: a.logger}

	r.searcher(context.Background())
	require.Len(t, o.calls, 1)
	assert.NotContains(t, o.calls[0].user, "- s1: Alpha")
	assert.Contains(t, o.calls[0].user, "- s2: Beta\n- s3: Gamma\n")
}

func TestExtractorWithoutDocument(t *testing.T) {
	o := newScriptedOracle(nil)
	a := New(WithOracle(o))
	s := hop.NewSession("Q?", magazineDocs())
	s.Plan = []string{"Find X"}
	r := &run{agent: a, s: s, log: a.logger}

	assert.Equal(t, hop.NodeReasoner, r.extractor(context.Background()))
	assert.Empty(t, s.CurrentEvidence)
	assert.Empty(t, o.calls)
}

func TestExtractorTruncatesDocument(t *testing.T) {
	o := newScriptedOracle(map[string][]string{extractorSystemPrompt: {"fact"}})
	p := DefaultPolicy()
	p.DocumentWindow = 10
	a := New(WithOracle(o), WithPolicy(p))

	s := hop.NewSession("Q?", nil)
	s.Plan = []string{"Find X"}
	s.CurrentDoc = &hop.Document{Title: "Long", Sentences: []string{"abcdefghij", "KLMNOP"}}
	r := &run{agent: a, s: s, log: a.logger}

	assert.Equal(t, hop.NodeReasoner, r.extractor(context.Background()))
	assert.Equal(t, []string{"fact"}, s.CurrentEvidence)
	require.Len(t, o.calls, 1)
	assert.Contains(t, o.calls[0].user, "abcdefghij")
	assert.NotContains(t, o.calls[0].user, "KLMNOP")
}

func TestReasonerRoutesSynthesisStep(t *testing.T) {
	o := newScriptedOracle(map[string][]string{synthesizerSystemPrompt: {"Arthur's Magazine"}})
	a := New(WithOracle(o))
	s := hop.NewSession("Which magazine was started first?", magazineDocs())
	s.Plan = []string{
		"Find when Arthur's Magazine was started",
		"Find when First for Women was started",
		"Determine which was started first (from step 1 and 2)",
	}
	s.StepAnswers = []hop.StepAnswer{
		{StepIdx: 0, Step: s.Plan[0], Answer: "1844", Evidence: []string{"Started in 1844.", "Monthly.", "Philadelphia."}},
		{StepIdx: 1, Step: s.Plan[1], Answer: "1989", Evidence: []string{"Started in 1989."}},
	}
	s.StepIdx = 2
	r := &run{agent: a, s: s, log: a.logger}

	assert.Equal(t, hop.NodeAnswer, r.reasoner(context.Background()))
	require.Len(t, s.StepAnswers, 3)
	assert.Equal(t, "Arthur's Magazine", s.StepAnswers[2].Answer)
	assert.Empty(t, s.StepAnswers[2].Evidence)
	assert.Equal(t, 3, s.StepIdx)
	assert.Empty(t, o.callsTo(selectorSystemPrompt))

	require.Len(t, o.calls, 1)
	assert.Contains(t, o.calls[0].user, "Monthly.")
	assert.NotContains(t, o.calls[0].user, "Philadelphia.")
}

func TestReasonerSynthesisNeedsTwoAnswers(t *testing.T) {
	a := New(WithOracle(newScriptedOracle(nil)))
	s := hop.NewSession("Q?", magazineDocs())
	s.Plan = []string{"Find A", "Determine which was started first (from step 1 and 2)"}
	s.StepAnswers = []hop.StepAnswer{{Answer: "1844"}}
	s.StepIdx = 1
	r := &run{agent: a, s: s, log: a.logger}

	assert.Equal(t, hop.NodeSearcher, r.reasoner(context.Background()))
}

func TestReasonerSynthesisFallsBackToLastAnswer(t *testing.T) {
	a := New(WithOracle(newScriptedOracle(nil)))
	s := hop.NewSession("Q?", nil)
	s.Plan = []string{"A", "B", "What they have in common", "Find more"}
	s.StepAnswers = []hop.StepAnswer{{Answer: "x"}, {Answer: "y"}}
	s.StepIdx = 2
	r := &run{agent: a, s: s, log: a.logger}

	assert.Equal(t, hop.NodeReasoner, r.reasoner(context.Background()))
	assert.Equal(t, "y", s.StepAnswers[2].Answer)
}

func TestReasonerVerifyFailsOpen(t *testing.T) {
	o := newScriptedOracle(map[string][]string{stepAnswerSystemPrompt: {"Philadelphia"}})
	a := New(WithOracle(o))
	s := hop.NewSession("Q?", magazineDocs())
	s.Plan = []string{"Find where Arthur's Magazine was published"}
	s.CurrentEvidence = []string{"It was published in Philadelphia."}
	r := &run{agent: a, s: s, log: a.logger}

	assert.Equal(t, hop.NodeAnswer, r.reasoner(context.Background()))
	require.Len(t, s.StepAnswers, 1)
	assert.Equal(t, "Philadelphia", s.StepAnswers[0].Answer)
	assert.Empty(t, s.CurrentEvidence)
	assert.Zero(t, s.Retries(0))
}

func TestReasonerInsufficientEvidenceRetries(t *testing.T) {
	o := newScriptedOracle(map[string][]string{judgeSystemPrompt: {"No, the document does not provide this."}})
	a := New(WithOracle(o))
	s := hop.NewSession("Q?", magazineDocs())
	s.Plan = []string{"Find X"}
	s.CurrentEvidence = []string{"The document does not provide X."}
	r := &run{agent: a, s: s, log: a.logger}

	assert.Equal(t, hop.NodeSearcher, r.reasoner(context.Background()))
	assert.Equal(t, 1, s.Retries(0))
	assert.Empty(t, s.StepAnswers)
}

func TestReasonerStepAnswerFallsBackToEvidence(t *testing.T) {
	o := newScriptedOracle(map[string][]string{judgeSystemPrompt: {"yes"}})
	a := New(WithOracle(o))
	s := hop.NewSession("Q?", magazineDocs())
	s.Plan = []string{"Find X", "Find Y"}
	s.CurrentEvidence = []string{"first line", " X is 42. "}
	r := &run{agent: a, s: s, log: a.logger}

	assert.Equal(t, hop.NodeReasoner, r.reasoner(context.Background()))
	require.Len(t, s.StepAnswers, 1)
	assert.Equal(t, "X is 42.", s.StepAnswers[0].Answer)
	assert.Equal(t, 1, s.StepIdx)
}

func TestReasonerStuckDetection(t *testing.T) {
	tests := []struct {
		name      string
		docs      []Document
		failed    []string
		retries   int
		replans   int
		wantNode  hop.Node
		wantCount int
	}{
		{name: "retry limit", docs: magazineDocs(), retries: 10, wantNode: hop.NodePlanner, wantCount: 1},
		{name: "exhausted pool", docs: magazineDocs(), failed: []string{"Arthur's Magazine", "First for Women"}, retries: 2, wantNode: hop.NodePlanner, wantCount: 1},
		{name: "exhausted pool, few retries", docs: magazineDocs(), failed: []string{"Arthur's Magazine", "First for Women"}, retries: 1, wantNode: hop.NodeSearcher},
		{name: "pool left, below limit", docs: magazineDocs(), retries: 9, wantNode: hop.NodeSearcher},
		{name: "replan cap exceeded", docs: magazineDocs(), retries: 10, replans: 3, wantNode: hop.NodeAnswer, wantCount: 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := New(WithOracle(newScriptedOracle(nil)))
			s := hop.NewSession("Q?", tt.docs)
			s.Plan = []string{"Find X"}
			s.RetryCount[0] = tt.retries
			s.ReplanCount = tt.replans
			for _, title := range tt.failed {
				s.MarkFailed(0, title)
			}
			r := &run{agent: a, s: s, log: a.logger}

			assert.Equal(t, tt.wantNode, r.reasoner(context.Background()))
			assert.Equal(t, tt.wantCount, s.ReplanCount)
		})
	}
}

func TestReasonerIterationCap(t *testing.T) {
	a := New(WithOracle(newScriptedOracle(nil)))
	s := hop.NewSession("Q?", nil)
	s.Plan = []string{"Find X"}
	s.TotalIterations = 39
	r := &run{agent: a, s: s, log: a.logger}

	assert.Equal(t, hop.NodeAnswer, r.reasoner(context.Background()))
	assert.Equal(t, 40, s.TotalIterations)
	assert.Equal(t, FallbackAnswer, s.Answer)
}

func TestRunIterationCapWithManyDocuments(t *testing.T) {
	docs := make([]Document, 50)
	for i := range docs {
		docs[i] = Document{Title: strings.Repeat("d", i+1), Sentences: []string{"nothing useful"}}
	}
	o := newScriptedOracle(map[string][]string{
		plannerSystemPrompt:   {`{"plan": ["Find X"]}`},
		selectorSystemPrompt:  {"1"},
		extractorSystemPrompt: {"The document does not mention X."},
		judgeSystemPrompt:     {"no"},
	})

	res, err := New(WithOracle(o), WithMaxIterations(5)).Run(context.Background(), "What is X?", docs)
	require.NoError(t, err)
	assert.Equal(t, 5, res.Iterations)
	assert.Equal(t, FallbackAnswer, res.Answer)
	assert.Empty(t, res.StepAnswers)
}

func TestRunNeverSufficientStaysBounded(t *testing.T) {
	o := newScriptedOracle(map[string][]string{
		plannerSystemPrompt:   {`{"plan": ["Find X"]}`},
		replannerSystemPrompt: {`{"plan": ["Find X directly"]}`},
		selectorSystemPrompt:  {"1"},
		extractorSystemPrompt: {"The document does not provide X."},
		judgeSystemPrompt:     {"no"},
	})

	s := runSession(t, New(WithOracle(o)), "What is X?", magazineDocs())

	assertSessionBounds(t, s)
	// The third request is refused by the Planner at the cap.
	assert.Equal(t, 3, s.ReplanCount)
	assert.Len(t, o.callsTo(replannerSystemPrompt), 2)
	assert.Equal(t, FallbackAnswer, s.Answer)
}

func TestRunReplanKeepsCompletedSteps(t *testing.T) {
	var replanPrompts []string
	o := OracleFunc(func(_ context.Context, system, user string, _ float64) (OracleResponse, error) {
		switch system {
		case plannerSystemPrompt:
			return text(`{"plan": ["find X", "find Y (from step 1)"]}`)
		case replannerSystemPrompt:
			replanPrompts = append(replanPrompts, user)
			return text(`{"plan": ["find X", "Find Y for Xval"]}`)
		case selectorSystemPrompt:
			return text("1")
		case extractorSystemPrompt:
			switch {
			case strings.Contains(user, "CURRENT STEP:\nfind Y (from step 1)"):
				return OracleResponse{}, errors.New("backend unavailable")
			case strings.Contains(user, "CURRENT STEP:\nfind X"):
				return text("X is Xval.")
			default:
				return text("Y is Yval.")
			}
		case judgeSystemPrompt:
			return text("yes")
		case stepAnswerSystemPrompt:
			if strings.Contains(user, "Step question: find X") {
				return text("Xval")
			}
			return text("Yval")
		case answerSystemPrompt:
			return text(`{"question_type": "what", "final_answer": "Yval", "reasoning": "from step 2"}`)
		}
		return OracleResponse{}, errors.New("unexpected system prompt")
	})

	s := runSession(t, New(WithOracle(o)), "What is the Y of X?", magazineDocs())

	require.Len(t, replanPrompts, 1)
	assert.Contains(t, replanPrompts[0], `Found entities: ["Xval"]`)
	assert.Contains(t, replanPrompts[0], "Search directly for information about these entities: Xval")
	assert.Contains(t, replanPrompts[0], "Stuck at: Step 2")

	assert.Equal(t, 1, s.ReplanCount)
	assert.Equal(t, []string{"find X", "Find Y for Xval"}, s.Plan)
	require.Len(t, s.StepAnswers, 2)
	assert.Equal(t, "Xval", s.StepAnswers[0].Answer)
	assert.Equal(t, "Yval", s.StepAnswers[1].Answer)
	assert.Equal(t, []string{"Xval"}, s.PreservedFindings.Entities)
	assert.Equal(t, "Yval", s.Answer)
	assertSessionBounds(t, s)
}

func TestPlannerReplanResumesAfterCompletedSteps(t *testing.T) {
	o := newScriptedOracle(map[string][]string{replannerSystemPrompt: {`{"plan": ["a", "b", "c"]}`}})
	a := New(WithOracle(o))
	s := hop.NewSession("Q?", magazineDocs())
	s.Plan = []string{"a", "b"}
	s.StepAnswers = []hop.StepAnswer{{StepIdx: 0, Step: "a", Answer: "A"}}
	s.StepIdx = 1
	s.ReplanRequested = true
	s.ReplanCount = 1
	s.RetryCount[1] = 4
	s.MarkFailed(1, "Arthur's Magazine")
	s.MarkFailed(2, "First for Women")
	s.CurrentEvidence = []string{noDocumentSentinel}
	r := &run{agent: a, s: s, log: a.logger}

	assert.Equal(t, hop.NodeReasoner, r.planner(context.Background()))
	assert.Equal(t, []string{"a", "b", "c"}, s.Plan)
	assert.Equal(t, 1, s.StepIdx)
	assert.Len(t, s.StepAnswers, 1)
	assert.Empty(t, s.RetryCount)
	assert.Empty(t, s.FailedFor(1))
	assert.Equal(t, []string{"First for Women"}, s.FailedFor(2))
	assert.False(t, s.ReplanRequested)
	assert.Empty(t, s.CurrentEvidence)
	assert.Equal(t, 1, s.ReplanCount)

	require.Len(t, o.calls, 1)
	assert.Contains(t, o.calls[0].user, "Try a REVERSE approach")
}

func TestPlannerReplanParseFailureFinishes(t *testing.T) {
	o := newScriptedOracle(map[string][]string{replannerSystemPrompt: {"no idea"}})
	a := New(WithOracle(o))
	s := hop.NewSession("Q?", nil)
	s.Plan = []string{"a"}
	s.ReplanRequested = true
	s.ReplanCount = 1
	r := &run{agent: a, s: s, log: a.logger}

	assert.Equal(t, hop.NodeAnswer, r.planner(context.Background()))
	assert.Equal(t, []string{"a"}, s.Plan)
}

func TestPlannerReplanCap(t *testing.T) {
	o := newScriptedOracle(map[string][]string{replannerSystemPrompt: {`{"plan": ["a"]}`}})
	a := New(WithOracle(o))
	s := hop.NewSession("Q?", nil)
	s.Plan = []string{"a"}
	s.ReplanRequested = true
	s.ReplanCount = 3
	r := &run{agent: a, s: s, log: a.logger}

	assert.Equal(t, hop.NodeAnswer, r.planner(context.Background()))
	assert.Empty(t, o.calls)
}

func TestRunReplanWithOnlyRemainingSteps(t *testing.T) {
	o := OracleFunc(func(_ context.Context, system, user string, _ float64) (OracleResponse, error) {
		switch system {
		case plannerSystemPrompt:
			return text(`{"plan": ["find X", "find Y (from step 1)"]}`)
		case replannerSystemPrompt:
			return text(`{"plan": ["Find Y for Xval"]}`)
		case selectorSystemPrompt:
			return text("1")
		case extractorSystemPrompt:
			switch {
			case strings.Contains(user, "CURRENT STEP:\nfind Y (from step 1)"):
				return OracleResponse{}, errors.New("backend unavailable")
			case strings.Contains(user, "CURRENT STEP:\nfind X"):
				return text("X is Xval.")
			default:
				return text("Y is Yval.")
			}
		case judgeSystemPrompt:
			return text("yes")
		case stepAnswerSystemPrompt:
			if strings.Contains(user, "Step question: find X") {
				return text("Xval")
			}
			return text("Yval")
		case answerSystemPrompt:
			return text(`{"question_type": "what", "final_answer": "Yval", "reasoning": "from step 2"}`)
		}
		return OracleResponse{}, errors.New("unexpected system prompt")
	})

	s := runSession(t, New(WithOracle(o)), "What is the Y of X?", magazineDocs())

	assert.Equal(t, 1, s.ReplanCount)
	assert.Equal(t, []string{"find X", "Find Y for Xval"}, s.Plan)
	require.Len(t, s.StepAnswers, 2)
	assert.Equal(t, "Find Y for Xval", s.StepAnswers[1].Step)
	assert.Equal(t, "Yval", s.StepAnswers[1].Answer)
	assert.Equal(t, "Yval", s.Answer)
	assertSessionBounds(t, s)
}

func TestPlannerReplanShorterThanCompletedSteps(t *testing.T) {
	o := newScriptedOracle(map[string][]string{replannerSystemPrompt: {`{"plan": ["find Z"]}`}})
	a := New(WithOracle(o))
	s := hop.NewSession("Q?", magazineDocs())
	s.Plan = []string{"a", "b", "c"}
	s.StepAnswers = []hop.StepAnswer{{StepIdx: 0, Step: "a", Answer: "A"}, {StepIdx: 1, Step: "b", Answer: "B"}}
	s.StepIdx = 2
	s.ReplanRequested = true
	s.ReplanCount = 1
	r := &run{agent: a, s: s, log: a.logger}

	assert.Equal(t, hop.NodeReasoner, r.planner(context.Background()))
	assert.Equal(t, []string{"a", "b", "find Z"}, s.Plan)
	assert.Equal(t, 2, s.StepIdx)

	step, ok := s.ActiveStep()
	assert.True(t, ok)
	assert.Equal(t, "find Z", step)

	require.Len(t, o.calls, 1)
	assert.Contains(t, o.calls[0].user, "List the 2 completed step(s) first, word for word:\n   - a\n   - b\n")
}

func TestAlignRevisedPlan(t *testing.T) {
	done := []hop.StepAnswer{{Step: "find X"}}
	tests := []struct {
		name     string
		plan     []string
		answers  []hop.StepAnswer
		want     []string
		prefixed bool
	}{
		{"no completed steps", []string{"a", "b"}, nil, []string{"a", "b"}, false},
		{"completed steps repeated", []string{"find X", "find Y"}, done, []string{"find X", "find Y"}, false},
		{"repeated with other case", []string{" Find x ", "find Y"}, done, []string{" Find x ", "find Y"}, false},
		{"remaining steps only", []string{"find Y"}, done, []string{"find X", "find Y"}, true},
		{"rephrased completed step", []string{"look up X", "find Y"}, done, []string{"find X", "look up X", "find Y"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, prefixed := alignRevisedPlan(tt.plan, tt.answers)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.prefixed, prefixed)
			assert.Greater(t, len(got), len(tt.answers))
		})
	}
}

func TestPlannerReplanShowsPreviousFindings(t *testing.T) {
	o := newScriptedOracle(map[string][]string{replannerSystemPrompt: {`{"plan": ["a", "b"]}`}})
	a := New(WithOracle(o))
	s := hop.NewSession("Q?", magazineDocs())
	s.Plan = []string{"a", "b"}
	s.StepAnswers = []hop.StepAnswer{{StepIdx: 0, Step: "a", Answer: "A"}}
	s.StepIdx = 1
	s.ReplanRequested = true
	s.ReplanCount = 2
	s.PreservedFindings = hop.Findings{Entities: []string{"Earlier"}, UsefulDocs: []string{"Old Journal"}}
	r := &run{agent: a, s: s, log: a.logger}

	r.planner(context.Background())
	require.Len(t, o.calls, 1)
	assert.Contains(t, o.calls[0].user, "KEPT FROM THE PREVIOUS REPLAN:\nEntities: [\"Earlier\"]")
	assert.Contains(t, o.calls[0].user, `Documents: ["Old Journal"]`)
	assert.Equal(t, []string{"A"}, s.PreservedFindings.Entities)
}

func TestPlannerFirstReplanHasNoPreviousFindings(t *testing.T) {
	o := newScriptedOracle(map[string][]string{replannerSystemPrompt: {`{"plan": ["a"]}`}})
	a := New(WithOracle(o))
	s := hop.NewSession("Q?", nil)
	s.Plan = []string{"a"}
	s.ReplanRequested = true
	s.ReplanCount = 1
	r := &run{agent: a, s: s, log: a.logger}

	r.planner(context.Background())
	require.Len(t, o.calls, 1)
	assert.NotContains(t, o.calls[0].user, "KEPT FROM THE PREVIOUS REPLAN")
	assert.Contains(t, o.calls[0].user, "2. There are no completed steps yet.")
}

func TestPlannerTruncatesPlan(t *testing.T) {
	o := newScriptedOracle(map[string][]string{plannerSystemPrompt: {`{"plan": ["a", "", "b", "c", "d"]}`}})
	a := New(WithOracle(o))
	s := hop.NewSession("Q?", nil)
	r := &run{agent: a, s: s, log: a.logger}

	assert.Equal(t, hop.NodeReasoner, r.planner(context.Background()))
	assert.Equal(t, []string{"a", "b", "c"}, s.Plan)
}

func TestAnswerFallbacks(t *testing.T) {
	t.Run("no step answers", func(t *testing.T) {
		o := newScriptedOracle(nil)
		a := New(WithOracle(o))
		s := hop.NewSession("Q?", nil)
		r := &run{agent: a, s: s, log: a.logger}

		assert.Equal(t, hop.NodeTerminal, r.answer(context.Background()))
		assert.Equal(t, FallbackAnswer, s.Answer)
		assert.Empty(t, o.calls)
	})

	t.Run("unparsable final answer", func(t *testing.T) {
		o := newScriptedOracle(map[string][]string{answerSystemPrompt: {"It is probably Philadelphia."}})
		a := New(WithOracle(o))
		s := hop.NewSession("Q?", nil)
		s.StepAnswers = []hop.StepAnswer{{Answer: "Boston"}, {Answer: "Philadelphia"}}
		r := &run{agent: a, s: s, log: a.logger}

		assert.Equal(t, hop.NodeTerminal, r.answer(context.Background()))
		assert.Equal(t, "Philadelphia", s.Answer)
	})

	t.Run("evidence is truncated", func(t *testing.T) {
		o := newScriptedOracle(map[string][]string{answerSystemPrompt: {`{"final_answer": "ok"}`}})
		a := New(WithOracle(o))
		s := hop.NewSession("Q?", nil)
		s.StepAnswers = []hop.StepAnswer{{Answer: "x", Evidence: []string{strings.Repeat("e", 300), "second", "third"}}}
		r := &run{agent: a, s: s, log: a.logger}

		r.answer(context.Background())
		require.Len(t, o.calls, 1)
		assert.Contains(t, o.calls[0].user, strings.Repeat("e", 200)+"...")
		assert.NotContains(t, o.calls[0].user, strings.Repeat("e", 201))
		assert.NotContains(t, o.calls[0].user, "third")
		assert.Equal(t, "ok", s.Answer)
	})
}

func TestRunIsDeterministic(t *testing.T) {
	o := OracleFunc(func(_ context.Context, system, user string, _ float64) (OracleResponse, error) {
		switch system {
		case plannerSystemPrompt:
			return text(`{"plan": ["Find when Arthur's Magazine was started"]}`)
		case selectorSystemPrompt:
			return text("1")
		case extractorSystemPrompt:
			return text("Started in 1844.")
		case judgeSystemPrompt:
			return text("yes")
		case stepAnswerSystemPrompt:
			return text("1844")
		default:
			return text(`{"final_answer": "1844"}`)
		}
	})
	a := New(WithOracle(o))
	q := "When was Arthur's Magazine started?"

	first, err := a.Run(context.Background(), q, magazineDocs())
	require.NoError(t, err)
	second, err := a.Run(context.Background(), q, magazineDocs())
	require.NoError(t, err)

	assert.Equal(t, first.Plan, second.Plan)
	assert.Equal(t, first.StepAnswers, second.StepAnswers)
	assert.Equal(t, first.Answer, second.Answer)
	assert.Equal(t, first.Digest, second.Digest)
	assert.NotEqual(t, first.ID, second.ID)
}

func TestRunValidatesInput(t *testing.T) {
	_, err := New(WithOracle(newScriptedOracle(nil))).Run(context.Background(), "  ", nil)
	require.ErrorIs(t, err, ErrEmptyQuestion)

	_, err = New().Run(context.Background(), "Q?", nil)
	require.ErrorIs(t, err, ErrNoOracle)
}

func TestRunHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(WithOracle(newScriptedOracle(nil))).Run(ctx, "Q?", magazineDocs())
	require.ErrorIs(t, err, context.Canceled)
}

func TestDigestDependsOnInput(t *testing.T) {
	docs := magazineDocs()
	assert.Equal(t, Digest("Q?", docs), Digest(" Q? ", docs))
	assert.NotEqual(t, Digest("Q?", docs), Digest("Q?", docs[:1]))
	assert.Len(t, Digest("Q?", nil), 64)
}

func TestThinkBlocksAreStrippedBeforeParsing(t *testing.T) {
	o := newScriptedOracle(map[string][]string{
		plannerSystemPrompt: {"<think>let me see</think>\n{\"plan\": [\"Find X\"]}"},
	})
	a := New(WithOracle(o))
	s := hop.NewSession("Q?", nil)
	r := &run{agent: a, s: s, log: a.logger}

	r.planner(context.Background())
	assert.Equal(t, []string{"Find X"}, s.Plan)
}
