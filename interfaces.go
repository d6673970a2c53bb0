package multihop

import (
	"context"

	"github.com/smhanov/multihop/hop"
)

// Document is a (title, sentences) pair from the candidate pool.
type Document = hop.Document

// StepAnswer is the resolved answer for one plan step.
type StepAnswer = hop.StepAnswer

// TraceEvent records one node invocation.
type TraceEvent = hop.TraceEvent

// OracleResponse is returned by Oracle.Generate and carries the generated
// text together with the cost (in dollars) of the call.
type OracleResponse struct {
	Text      string
	Reasoning string
	Cost      float64
}

// Oracle is the external text-generation capability every node consults.
// Calls are synchronous; any error is treated as recoverable by the caller.
type Oracle interface {
	Generate(ctx context.Context, systemPrompt, userPrompt string, temperature float64) (OracleResponse, error)
}

// OracleFunc adapts a plain function to the Oracle interface.
type OracleFunc func(ctx context.Context, systemPrompt, userPrompt string, temperature float64) (OracleResponse, error)

// Generate calls f.
func (f OracleFunc) Generate(ctx context.Context, systemPrompt, userPrompt string, temperature float64) (OracleResponse, error) {
	return f(ctx, systemPrompt, userPrompt, temperature)
}

// Result is returned by Agent.Run.
type Result struct {
	// ID identifies this run; it differs between otherwise identical runs.
	ID string `json:"id"`
	// Digest is a blake3 fingerprint of the question and document pool.
	Digest string `json:"digest"`

	Answer      string       `json:"answer"`
	Plan        []string     `json:"plan"`
	StepAnswers []StepAnswer `json:"step_answers"`
	Trace       []TraceEvent `json:"trace"`

	Iterations int `json:"iterations"`
	// Replans counts replan requests, including a final one refused at the cap.
	Replans int     `json:"replans"`
	Cost    float64 `json:"cost"`
}
