package streaming

import (
	"log/slog"

	"github.com/itslanguage/itslanguage-go/internal/observe"
	"github.com/itslanguage/itslanguage-go/pkg/rpc"
	"github.com/itslanguage/itslanguage-go/pkg/types"
)

// Trim values sent with the init call. Trimming cuts the first 150ms of the
// recording, which usually holds the click of the record button.
const (
	trimStartDefault = 0.15
	trimEnd          = 0.0
)

// Option is a functional option for configuring a [Client].
type Option func(*Client)

// WithRegistry shares reg between clients that use the same transport. By
// default every Client gets its own Registry.
func WithRegistry(reg *Registry) Option {
	return func(c *Client) { c.registry = reg }
}

// WithSigner signs audio URLs in results. Without a signer URLs are handed
// out unchanged.
func WithSigner(s URLSigner) Option {
	return func(c *Client) { c.signer = s }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.log = l }
}

// WithMetrics sets the metric instruments. Defaults to
// observe.DefaultMetrics().
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithDefaultTrim sets whether sessions trim the start of the recording when
// the caller does not say otherwise. Defaults to true.
func WithDefaultTrim(trim bool) Option {
	return func(c *Client) { c.trim = trim }
}

// Progress is an intermediate analysis update delivered while the backend
// scores a pronunciation attempt.
type Progress struct {
	// Words holds the words scored so far, if the update carried any.
	Words []types.Word

	// Raw is the update as received.
	Raw *rpc.Result

	// Reference is the reference alignment of the challenge, fetched once
	// before audio was streamed.
	Reference any
}

// StartOption configures a single session.
type StartOption func(*startOptions)

type startOptions struct {
	trim     *bool
	progress func(Progress)
	student  *types.Student
	observer func(State)
}

// WithTrim overrides whether the first 150ms of the recording are trimmed.
func WithTrim(trim bool) StartOption {
	return func(o *startOptions) { o.trim = &trim }
}

// WithProgress receives intermediate updates while a pronunciation analysis
// is being scored. It is ignored for other session kinds. fn runs on the
// transport's goroutine and must not block.
func WithProgress(fn func(Progress)) StartOption {
	return func(o *startOptions) { o.progress = fn }
}

// WithStudent attaches the attempting student to the result.
func WithStudent(s *types.Student) StartOption {
	return func(o *startOptions) { o.student = s }
}

// WithStateObserver receives every state transition of the session.
func WithStateObserver(fn func(State)) StartOption {
	return func(o *startOptions) { o.observer = fn }
}
