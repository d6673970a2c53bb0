package multihop

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/oklog/ulid/v2"
	"github.com/zeebo/blake3"

	"github.com/smhanov/multihop/hop"
)

var (
	// ErrNoOracle is returned by Run when no oracle was configured.
	ErrNoOracle = errors.New("oracle is not configured")
	// ErrEmptyQuestion is returned by Run for a blank question.
	ErrEmptyQuestion = errors.New("question is empty")
)

// FallbackAnswer is the answer returned when no step ever succeeded.
const FallbackAnswer = "Unable to answer - information not found in context"

// Agent runs the planner, reasoner, searcher, extractor and answer nodes over
// a fixed document pool. An Agent holds no per-question state, so one Agent
// may serve concurrent Run calls.
type Agent struct {
	oracle Oracle
	policy Policy
	logger *slog.Logger
	debug  bool
}

// New constructs an Agent with optional configuration.
func New(opts ...Option) *Agent {
	a := &Agent{
		policy: DefaultPolicy(),
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Policy returns the policy in effect.
func (a *Agent) Policy() Policy {
	return a.policy
}

// Run answers question using only the documents in docs. Oracle failures
// never surface here; the returned error is reserved for misconfiguration
// and context cancellation.
func (a *Agent) Run(ctx context.Context, question string, docs []Document) (Result, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return Result{}, ErrEmptyQuestion
	}
	if a.oracle == nil {
		return Result{}, ErrNoOracle
	}

	id := ulid.Make().String()
	s := hop.NewSession(question, docs)
	log := a.logger.With("session", id)
	log.Info("session started", "question", question, "documents", len(docs))

	r := &run{agent: a, s: s, log: log}
	if err := r.loop(ctx); err != nil {
		return Result{}, fmt.Errorf("session %s: %w", id, err)
	}

	outcome := "answered"
	if len(s.StepAnswers) == 0 {
		outcome = "unanswered"
	}
	sessionsTotal.WithLabelValues(outcome).Inc()
	sessionIterations.Observe(float64(s.TotalIterations))
	log.Info("session finished",
		"outcome", outcome,
		"iterations", s.TotalIterations,
		"replans", s.ReplanCount,
		"steps", len(s.StepAnswers),
		"answer", s.Answer,
	)

	return Result{
		ID:          id,
		Digest:      Digest(question, docs),
		Answer:      s.Answer,
		Plan:        append([]string(nil), s.Plan...),
		StepAnswers: append([]StepAnswer(nil), s.StepAnswers...),
		Trace:       s.Trace,
		Iterations:  s.TotalIterations,
		Replans:     s.ReplanCount,
		Cost:        s.Cost,
	}, nil
}

// Digest fingerprints a question and its document pool. Runs with the same
// digest and a deterministic oracle produce the same plan and answers.
func Digest(question string, docs []Document) string {
	h := blake3.New()
	_, _ = h.Write([]byte(strings.TrimSpace(question)))
	for _, d := range docs {
		_, _ = h.Write([]byte{0})
		_, _ = h.Write([]byte(d.Title))
		for _, sentence := range d.Sentences {
			_, _ = h.Write([]byte{1})
			_, _ = h.Write([]byte(sentence))
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}

