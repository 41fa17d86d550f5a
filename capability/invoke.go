package capability

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rapp-os/brainstem/core/protocol"
)

// Status is the terminal state of one invocation.
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusTimedOut  Status = "timed_out"
	StatusCancelled Status = "cancelled"
)

// Outcome is the result of invoking one capability. Failures are data, not
// errors: a failed Outcome never aborts the surrounding dispatch.
type Outcome struct {
	Name     string        `json:"name"`
	Status   Status        `json:"status"`
	Output   string        `json:"output,omitempty"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Succeeded reports whether the capability produced output.
func (o Outcome) Succeeded() bool {
	return o.Status == StatusSucceeded
}

// Invocation identifies the caller on whose behalf a capability runs.
// Handlers use it to scope their effects to one user.
type Invocation struct {
	UserID    string
	SessionID string
	ContextID string
}

type invocationKey struct{}

// WithInvocation attaches caller identity to ctx.
func WithInvocation(ctx context.Context, inv Invocation) context.Context {
	return context.WithValue(ctx, invocationKey{}, inv)
}

// InvocationFrom returns the caller identity attached to ctx.
func InvocationFrom(ctx context.Context) (Invocation, bool) {
	inv, ok := ctx.Value(invocationKey{}).(Invocation)
	return inv, ok
}

// Invoke checks args against the descriptor's schema and runs its handler
// under the descriptor's timeout, falling back to defaultTimeout. Panics,
// errors, timeouts, and cancellation all become failed outcomes.
//
// A handler that ignores its context is abandoned once the timeout elapses;
// its eventual result is discarded.
func Invoke(ctx context.Context, d Descriptor, args map[string]any, defaultTimeout time.Duration) Outcome {
	start := time.Now()
	out := Outcome{Name: d.Name}

	finish := func(status Status, output string, err error) Outcome {
		out.Status = status
		out.Output = output
		if err != nil {
			out.Error = err.Error()
		}
		out.Duration = time.Since(start)
		return out
	}

	if err := ctx.Err(); err != nil {
		return finish(StatusCancelled, "", err)
	}
	if d.handler == nil {
		return finish(StatusFailed, "", fmt.Errorf("%w: %s", ErrNotFound, d.Name))
	}
	if args == nil {
		args = map[string]any{}
	}
	schema := d.schema
	if schema == nil {
		var err error
		if schema, err = compileSchema(d.Parameters); err != nil {
			return finish(StatusFailed, "", fmt.Errorf("%w: %s: %v", ErrInvalidDefinition, d.Name, err))
		}
	}
	if err := checkArgs(schema, args); err != nil {
		return finish(StatusFailed, "", err)
	}

	timeout := d.Timeout.Std()
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	var (
		callCtx context.Context
		cancel  context.CancelFunc
	)
	if timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, timeout)
	} else {
		callCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	type result struct {
		output string
		err    error
	}
	done := make(chan result, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: fmt.Errorf("panic: %v", r)}
			}
		}()
		output, err := d.handler.Invoke(callCtx, protocol.CloneMap(args))
		done <- result{output: output, err: err}
	}()

	select {
	case r := <-done:
		if r.err == nil {
			return finish(StatusSucceeded, r.output, nil)
		}
		if ctx.Err() != nil {
			return finish(StatusCancelled, "", r.err)
		}
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return finish(StatusTimedOut, "", fmt.Errorf("timed out after %s", timeout))
		}
		return finish(StatusFailed, "", r.err)

	case <-callCtx.Done():
		if ctx.Err() != nil {
			return finish(StatusCancelled, "", ctx.Err())
		}
		return finish(StatusTimedOut, "", fmt.Errorf("timed out after %s", timeout))
	}
}
