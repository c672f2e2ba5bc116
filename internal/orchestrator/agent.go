package orchestrator

import (
	"context"
)

// AgentCaller is the boundary to the language model. One call produces
// one role turn. Retry and backoff are the caller's own concern; the
// scheduler treats any returned error as a single unrecoverable
// agent_error for the turn.
type AgentCaller interface {
	Call(ctx context.Context, role Role, payload *ContextPayload) (string, error)
}

// AgentCallerFunc adapts a function to the AgentCaller interface
type AgentCallerFunc func(ctx context.Context, role Role, payload *ContextPayload) (string, error)

// Call invokes the wrapped function
func (f AgentCallerFunc) Call(ctx context.Context, role Role, payload *ContextPayload) (string, error) {
	return f(ctx, role, payload)
}
