package multihop

import (
	"context"
	"log/slog"
	"time"

	"github.com/smhanov/multihop/hop"
)

// run binds one session to the agent that drives it. It lives for a single
// Run call and is never shared.
type run struct {
	agent *Agent
	s     *hop.Session
	log   *slog.Logger
}

// loop executes the node named by s.Next until a node hands back
// NodeTerminal. Bounding is the Reasoner's and Planner's job: every cycle in
// the topology passes through the Reasoner, which enforces the iteration cap.
func (r *run) loop(ctx context.Context) error {
	for r.s.Next != hop.NodeTerminal {
		if err := ctx.Err(); err != nil {
			return err
		}
		node := r.s.Next
		nodeInvocationsTotal.WithLabelValues(node.String()).Inc()
		r.s.Next = r.step(ctx, node)
		r.log.Debug("node finished",
			"node", node.String(),
			"next", r.s.Next.String(),
			"iteration", r.s.TotalIterations,
			"step", r.s.StepIdx,
		)
	}
	return nil
}

// step runs one node and returns the node to run next.
func (r *run) step(ctx context.Context, node hop.Node) hop.Node {
	switch node {
	case hop.NodePlanner:
		return r.planner(ctx)
	case hop.NodeReasoner:
		return r.reasoner(ctx)
	case hop.NodeSearcher:
		return r.searcher(ctx)
	case hop.NodeExtractor:
		return r.extractor(ctx)
	case hop.NodeAnswer:
		return r.answer(ctx)
	default:
		return hop.NodeTerminal
	}
}

func (r *run) policy() *Policy {
	return &r.agent.policy
}

// generate makes one oracle call for the named call site, accumulating cost
// on the session and recording metrics. The returned text has think blocks
// stripped.
func (r *run) generate(ctx context.Context, site, system, user string, temperature float64) (string, error) {
	if r.agent.debug {
		r.log.Debug("oracle request", "site", site, "system", system, "user", user, "temperature", temperature)
	}
	start := time.Now()
	resp, err := r.agent.oracle.Generate(ctx, system, user, temperature)
	oracleCallDuration.WithLabelValues(site).Observe(time.Since(start).Seconds())
	if err != nil {
		oracleCallsTotal.WithLabelValues(site, "error").Inc()
		r.log.Warn("oracle call failed", "site", site, "error", err)
		return "", err
	}
	oracleCallsTotal.WithLabelValues(site, "success").Inc()
	r.s.Cost += resp.Cost
	text := responseText(resp)
	if r.agent.debug {
		r.log.Debug("oracle response", "site", site, "text", text, "cost", resp.Cost)
	}
	return text, nil
}

// fallback notes that a call site substituted its documented default.
func (r *run) fallback(site string, err error) {
	fallbacksTotal.WithLabelValues(site).Inc()
	r.log.Debug("using fallback", "site", site, "error", err)
}
