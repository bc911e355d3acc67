// Package mock provides a scriptable [rpc.Caller] for unit tests.
//
// Responses are registered per procedure with Handle. Each call is recorded
// in order, so tests can assert on the exact RPC sequence:
//
//	c := &mock.Caller{Open: true}
//	c.Respond("nl.itslanguage.recording.init_recording", &rpc.Result{Args: []any{"tok"}})
//	c.Fail("nl.itslanguage.recording.close", &rpc.Error{URI: "nl.itslanguage.analysis_failed"})
//	...
//	if c.Count("nl.itslanguage.recording.write") != 3 { ... }
package mock

import (
	"context"
	"sync"

	"github.com/itslanguage/itslanguage-go/pkg/rpc"
)

// Call records a single invocation of Caller.Call.
type Call struct {
	// Procedure is the procedure URI.
	Procedure string
	// Args is the positional argument list.
	Args []any
	// Kwargs is the keyword argument map.
	Kwargs map[string]any
	// Progress reports whether progressive results were requested.
	Progress bool
}

// HandlerFunc answers a call. progress is nil unless the caller asked for
// progressive results.
type HandlerFunc func(ctx context.Context, call Call, progress rpc.ProgressFunc) (*rpc.Result, error)

// Caller is a mock implementation of [rpc.Caller].
//
// Procedures without a registered handler return an empty result. The zero
// value reports the channel as closed.
type Caller struct {
	mu sync.Mutex

	// Open is returned by IsOpen.
	Open bool

	// OnCall, if non-nil, is invoked synchronously with every recorded call
	// before its handler runs.
	OnCall func(Call)

	handlers map[string]HandlerFunc
	calls    []Call
}

// Handle registers fn as the answer for procedure, replacing any previous one.
func (c *Caller) Handle(procedure string, fn HandlerFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.handlers == nil {
		c.handlers = make(map[string]HandlerFunc)
	}
	c.handlers[procedure] = fn
}

// Respond makes procedure succeed with res.
func (c *Caller) Respond(procedure string, res *rpc.Result) {
	c.Handle(procedure, func(context.Context, Call, rpc.ProgressFunc) (*rpc.Result, error) {
		return res, nil
	})
}

// Fail makes procedure fail with err.
func (c *Caller) Fail(procedure string, err error) {
	c.Handle(procedure, func(context.Context, Call, rpc.ProgressFunc) (*rpc.Result, error) {
		return nil, err
	})
}

// Call implements [rpc.Caller].
func (c *Caller) Call(ctx context.Context, procedure string, args []any, kwargs map[string]any, opts ...rpc.CallOption) (*rpc.Result, error) {
	o := rpc.ApplyOptions(opts...)
	call := Call{Procedure: procedure, Args: args, Kwargs: kwargs, Progress: o.Progress != nil}

	c.mu.Lock()
	c.calls = append(c.calls, call)
	h := c.handlers[procedure]
	onCall := c.OnCall
	c.mu.Unlock()

	if onCall != nil {
		onCall(call)
	}
	if h == nil {
		return &rpc.Result{}, nil
	}
	return h(ctx, call, o.Progress)
}

// IsOpen implements [rpc.Caller].
func (c *Caller) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Open
}

// SetOpen updates the value returned by IsOpen.
func (c *Caller) SetOpen(open bool) {
	c.mu.Lock()
	c.Open = open
	c.mu.Unlock()
}

// Calls returns a copy of every recorded call in invocation order.
func (c *Caller) Calls() []Call {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Call, len(c.calls))
	copy(out, c.calls)
	return out
}

// Procedures returns the procedure URIs of every recorded call in order.
func (c *Caller) Procedures() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.calls))
	for i, call := range c.calls {
		out[i] = call.Procedure
	}
	return out
}

// CallsTo returns the recorded calls to procedure in order.
func (c *Caller) CallsTo(procedure string) []Call {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Call
	for _, call := range c.calls {
		if call.Procedure == procedure {
			out = append(out, call)
		}
	}
	return out
}

// Count returns how many times procedure was called.
func (c *Caller) Count(procedure string) int {
	return len(c.CallsTo(procedure))
}

// Reset clears all recorded calls. Thread-safe.
func (c *Caller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = nil
}

var _ rpc.Caller = (*Caller)(nil)
