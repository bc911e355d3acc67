// Package rpc defines the Caller interface for the authenticated RPC channel
// that streaming sessions are driven over.
//
// A Caller wraps one persistent, already-authenticated bidirectional channel
// (in production a WAMP session, see package transport/wamp) and exposes a
// single request/response primitive with optional progressive results. The
// ITSLanguage backend names its procedures nl.itslanguage.<domain>.<verb> and
// reports callee failures as URIs of the form nl.itslanguage.<code>.
//
// Implementations must be safe for concurrent use.
package rpc

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Namespace is the URI prefix shared by every ITSLanguage procedure and error.
const Namespace = "nl.itslanguage."

// ErrClosed is returned by Call when the channel is not open.
var ErrClosed = errors.New("rpc: channel closed")

// Procedure returns the fully qualified procedure URI for domain and verb,
// e.g. Procedure("pronunciation", "analyse").
func Procedure(domain, verb string) string {
	return Namespace + domain + "." + verb
}

// Result is the payload of a successful call or of a progress notification.
type Result struct {
	// Args holds the positional results.
	Args []any

	// Kwargs holds the keyword results.
	Kwargs map[string]any
}

// Arg returns the positional result at index i, or nil when absent.
func (r *Result) Arg(i int) any {
	if r == nil || i < 0 || i >= len(r.Args) {
		return nil
	}
	return r.Args[i]
}

// ProgressFunc receives progressive results while a call is in flight. It is
// invoked sequentially, never after Call has returned.
type ProgressFunc func(*Result)

// CallOptions holds per-call settings assembled from [CallOption] values.
// Implementations of [Caller] use [ApplyOptions] to read them.
type CallOptions struct {
	// Progress, when non-nil, requests progressive results from the callee.
	Progress ProgressFunc
}

// CallOption configures a single call.
type CallOption func(*CallOptions)

// WithProgress requests progressive results and delivers them to fn.
func WithProgress(fn ProgressFunc) CallOption {
	return func(o *CallOptions) { o.Progress = fn }
}

// ApplyOptions folds opts into a CallOptions value.
func ApplyOptions(opts ...CallOption) CallOptions {
	var o CallOptions
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

// Caller is the RPC half of the authenticated transport.
type Caller interface {
	// Call invokes procedure with positional args and keyword kwargs and blocks
	// until the callee answers or ctx is done. A callee-reported failure is
	// returned as *Error; anything else is a transport failure.
	Call(ctx context.Context, procedure string, args []any, kwargs map[string]any, opts ...CallOption) (*Result, error)

	// IsOpen reports whether the channel is currently established.
	IsOpen() bool
}

// Error is a failure reported by the callee.
type Error struct {
	// URI identifies the failure, e.g. nl.itslanguage.alignment_failed.
	URI string

	// Args holds positional error details.
	Args []any

	// Kwargs holds keyword error details. The backend places partial results
	// here when a session recorded audio but could not score it.
	Kwargs map[string]any
}

// Error implements the error interface.
func (e *Error) Error() string {
	if len(e.Args) > 0 {
		if msg, ok := e.Args[0].(string); ok && msg != "" {
			return fmt.Sprintf("rpc: %s: %s", e.URI, msg)
		}
	}
	return "rpc: " + e.URI
}

// Code returns the URI with the ITSLanguage namespace stripped, e.g.
// "alignment_failed". Foreign URIs are returned unchanged.
func (e *Error) Code() string {
	return strings.TrimPrefix(e.URI, Namespace)
}
