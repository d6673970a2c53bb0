// Package multihop answers multi-hop questions over a fixed pool of
// documents by driving a small, bounded control loop around a text
// generation oracle.
//
// Every question gets its own Session, and exactly one node runs at a time.
// The loop ends when a node returns NodeTerminal.
//
// # Architecture
//
// The agent moves between five nodes:
//
//  1. The Planner decomposes the question into at most three lookup steps,
//     and later revises the remaining plan when the Reasoner reports a stuck
//     step. A revision keeps every completed step answer.
//  2. The Reasoner enforces the iteration and replan caps, detects stuck
//     steps, asks the oracle whether the gathered evidence is sufficient and
//     extracts the step answer. Steps that combine earlier answers are
//     answered directly from those answers.
//  3. The Searcher asks the oracle to pick one untried document for the
//     active step.
//  4. The Extractor reads the chosen document and appends evidence.
//  5. The Answer node turns the step answers into a minimal final answer.
//
// # Failure Handling
//
// Oracle failures never reach the caller. Each call site has a fallback: an
// unparsable plan becomes a single generic step, a failed sufficiency check
// counts as sufficient, and an unparsable final answer falls back to the last
// step answer. When nothing could be answered the result is FallbackAnswer.
//
// # Basic Usage
//
//	agent := multihop.New(
//	    multihop.WithOracle(myOracle),
//	    multihop.WithLogger(slog.Default()),
//	)
//
//	res, err := agent.Run(ctx, "Which magazine was started first?", docs)
//	if err != nil {
//	    return err
//	}
//	fmt.Println(res.Answer)
//	fmt.Printf("Cost: $%.4f\n", res.Cost)
//
// # Interfaces
//
// Implement Oracle to connect any language model:
//
//	type Oracle interface {
//	    Generate(ctx context.Context, systemPrompt, userPrompt string, temperature float64) (OracleResponse, error)
//	}
//
// The oracle subpackage adapts langchaingo models (OpenAI compatible
// endpoints and Ollama), and the corpus subpackage loads HotpotQA style
// items from files or URLs.
//
// # Policy
//
// Limits and heuristic vocabularies live in an embedded YAML policy. Use
// LoadPolicy or ParsePolicy to overlay a custom file and WithPolicy to apply
// it.
package multihop
