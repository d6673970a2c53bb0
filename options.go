package multihop

import "log/slog"

// Option configures an Agent.
type Option func(*Agent)

// WithOracle sets the model used by every node.
func WithOracle(o Oracle) Option {
	return func(a *Agent) { a.oracle = o }
}

// WithPolicy replaces the whole policy.
func WithPolicy(p Policy) Option {
	return func(a *Agent) { a.policy = p }
}

// WithMaxIterations overrides the hard iteration cap.
func WithMaxIterations(n int) Option {
	return func(a *Agent) {
		if n > 0 {
			a.policy.MaxIterations = n
		}
	}
}

// WithMaxReplans overrides the replan cap.
func WithMaxReplans(n int) Option {
	return func(a *Agent) {
		if n >= 0 {
			a.policy.MaxReplans = n
		}
	}
}

// WithLogger sets the structured logger. The default discards everything.
func WithLogger(l *slog.Logger) Option {
	return func(a *Agent) {
		if l != nil {
			a.logger = l
		}
	}
}

// WithDebug enables logging of all oracle prompts and responses.
func WithDebug(enabled bool) Option {
	return func(a *Agent) { a.debug = enabled }
}
