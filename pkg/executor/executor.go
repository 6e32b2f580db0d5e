// Package executor performs the real-world effect behind a substep or job:
// sending a message, creating a meeting link, firing a reminder. The
// orchestrator and scheduler only see the Execute contract; everything else
// is wiring.
package executor

import (
	"context"
	"fmt"
	"time"
)

// Result is what an action reports back. Any status other than "completed",
// or an error return, counts as a handler failure for retry purposes.
type Result struct {
	Status string                 `json:"status"` // completed|failed
	Result map[string]interface{} `json:"result,omitempty"`
	Error  string                 `json:"error,omitempty"`
}

// Completed wraps a payload in a successful result.
func Completed(payload map[string]interface{}) Result {
	return Result{Status: "completed", Result: payload}
}

// Failed builds a failed result carrying the error message.
func Failed(err error) Result {
	return Result{Status: "failed", Error: err.Error()}
}

// Executor runs a named action with opaque parameters.
type Executor interface {
	Execute(ctx context.Context, actionType string, params map[string]interface{}) (Result, error)
}

// HandlerFunc implements one action.
type HandlerFunc func(ctx context.Context, params map[string]interface{}) (Result, error)

// UnknownActionError reports an action type with no registered handler.
// Dispatch is a closed registry resolved at startup; unknown names fail fast
// instead of falling through to a default branch.
type UnknownActionError struct {
	ActionType string
}

func (e *UnknownActionError) Error() string {
	return fmt.Sprintf("unknown action type: %s", e.ActionType)
}

// Registry is the default Executor: a fixed map of action name to handler.
// Register before first Execute; the map is not guarded for concurrent
// mutation afterwards.
type Registry struct {
	handlers map[string]HandlerFunc
	timeout  time.Duration
}

// NewRegistry creates an empty registry. timeout bounds each handler call;
// zero means no bound.
func NewRegistry(timeout time.Duration) *Registry {
	return &Registry{
		handlers: make(map[string]HandlerFunc),
		timeout:  timeout,
	}
}

// Register binds an action name to a handler, replacing any previous one.
func (r *Registry) Register(actionType string, h HandlerFunc) {
	r.handlers[actionType] = h
}

// Execute dispatches to the registered handler. A handler that overruns the
// registry timeout fails like any other handler error.
func (r *Registry) Execute(ctx context.Context, actionType string, params map[string]interface{}) (Result, error) {
	h, ok := r.handlers[actionType]
	if !ok {
		return Result{}, &UnknownActionError{ActionType: actionType}
	}
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	type outcome struct {
		res Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := h(ctx, params)
		done <- outcome{res, err}
	}()
	select {
	case o := <-done:
		return o.res, o.err
	case <-ctx.Done():
		return Result{}, fmt.Errorf("action %s: %w", actionType, ctx.Err())
	}
}
