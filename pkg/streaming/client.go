// Package streaming drives ITSLanguage streaming sessions: it records audio
// from an [audio.Source], streams it over an [rpc.Caller], and turns the
// backend's verdict into a typed result.
//
// Every session follows the same state machine:
//
//	Idle → Initializing → AwaitingMediaApproval → AudioNegotiated
//	     → Streaming → Finalizing → Completed | Failed
//
// The three variants (speech recording, pronunciation analysis, choice
// recognition) differ only in procedure names and result shape. At most one
// session per variant may be outstanding on a transport; see [Registry].
//
// A Start call blocks until the session ends. The audio source is expected to
// be started by the caller, typically after the call was made:
//
//	go func() { res, err = client.StartPronunciationAnalysis(ctx, ch, src) }()
//	src.Start(ctx)
package streaming

import (
	"context"
	"errors"
	"log/slog"

	"github.com/itslanguage/itslanguage-go/internal/observe"
	"github.com/itslanguage/itslanguage-go/pkg/audio"
	"github.com/itslanguage/itslanguage-go/pkg/rpc"
	"github.com/itslanguage/itslanguage-go/pkg/types"
)

// Client starts streaming sessions on one RPC transport. It is safe for
// concurrent use.
type Client struct {
	caller   rpc.Caller
	registry *Registry
	signer   URLSigner
	log      *slog.Logger
	metrics  *observe.Metrics
	trim     bool
}

// New returns a Client that issues its calls on caller.
func New(caller rpc.Caller, opts ...Option) *Client {
	c := &Client{
		caller: caller,
		log:    slog.Default(),
		trim:   true,
	}
	for _, o := range opts {
		o(c)
	}
	if c.registry == nil {
		c.registry = NewRegistry()
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	return c
}

// Registry returns the session registry of the client.
func (c *Client) Registry() *Registry { return c.registry }

// StartSpeechRecording records src against challenge and returns the stored
// recording.
func (c *Client) StartSpeechRecording(ctx context.Context, challenge *types.SpeechChallenge, src audio.Source, opts ...StartOption) (*types.Recording, error) {
	if challenge == nil {
		return nil, ErrInvalidChallenge
	}
	o := c.startOptions(opts)
	payload, err := c.run(ctx, recordingVariant, challenge, src, o)
	if payload == nil {
		return nil, err
	}
	res, aerr := AssembleRecording(payload, challenge, o.student, c.signer)
	return finish(res, err, aerr)
}

// StartPronunciationAnalysis streams src for analysis against challenge.
//
// When alignment fails the partial analysis (without score or words) is
// returned together with a *[FailureError].
func (c *Client) StartPronunciationAnalysis(ctx context.Context, challenge *types.PronunciationChallenge, src audio.Source, opts ...StartOption) (*types.PronunciationAnalysis, error) {
	if challenge == nil {
		return nil, ErrInvalidChallenge
	}
	o := c.startOptions(opts)
	payload, err := c.run(ctx, pronunciationVariant, challenge, src, o)
	if payload == nil {
		return nil, err
	}
	res, aerr := AssembleAnalysis(payload, challenge, o.student, c.signer)
	return finish(res, err, aerr)
}

// StartChoiceRecognition streams src to recognise which of the challenge's
// choices was spoken.
//
// When recognition fails the partial result (without Recognised) is returned
// together with a *[FailureError].
func (c *Client) StartChoiceRecognition(ctx context.Context, challenge *types.ChoiceChallenge, src audio.Source, opts ...StartOption) (*types.ChoiceRecognition, error) {
	if challenge == nil {
		return nil, ErrInvalidChallenge
	}
	o := c.startOptions(opts)
	payload, err := c.run(ctx, choiceVariant, challenge, src, o)
	if payload == nil {
		return nil, err
	}
	res, aerr := AssembleRecognition(payload, challenge, o.student, c.signer)
	return finish(res, err, aerr)
}

// CancelStreaming ends every outstanding session on the transport: it drops
// their audio listeners, releases all session tokens, and stops src if it is
// recording. Sessions that have not reached finalization return
// [ErrCancelled]. No call is made to the backend.
func (c *Client) CancelStreaming(src audio.Source) {
	c.registry.CancelAll()
	if src != nil && src.IsRecording() {
		if err := src.Stop(); err != nil {
			c.log.Warn("streaming: stop audio source on cancel", "err", err)
		}
	}
}

func (c *Client) startOptions(opts []StartOption) *startOptions {
	o := &startOptions{}
	for _, fn := range opts {
		fn(o)
	}
	if o.trim == nil {
		o.trim = &c.trim
	}
	return o
}

// finish combines the session error with an assembly error. A result that
// could not be assembled is dropped.
func finish[T any](res *T, runErr, assembleErr error) (*T, error) {
	if assembleErr != nil {
		if runErr != nil {
			return nil, errors.Join(runErr, assembleErr)
		}
		return nil, assembleErr
	}
	return res, runErr
}

// run checks the preconditions, reserves the registry slot, and drives one
// session. It returns the raw result payload, which is non-nil on success and
// alongside a *FailureError.
func (c *Client) run(ctx context.Context, v variant, challenge types.Challenge, src audio.Source, o *startOptions) (any, error) {
	slot, err := c.admit(v, challenge, src)
	if err != nil {
		c.metrics.RecordSessionOutcome(ctx, v.kind.String(), observe.OutcomeRejected)
		c.log.Debug("streaming: session rejected", "kind", v.kind.String(), "err", err)
		return nil, err
	}
	s := newSession(c, v, challenge, src, slot, o)
	return s.run(ctx)
}

// admit checks the preconditions in order and reserves the registry slot.
// Nothing is sent to the backend before it succeeds.
func (c *Client) admit(v variant, challenge types.Challenge, src audio.Source) (*Slot, error) {
	if challenge.ChallengeID() == "" || challenge.Organisation() == "" {
		return nil, ErrInvalidChallenge
	}
	if src == nil {
		return nil, ErrNoSource
	}
	if !c.caller.IsOpen() {
		return nil, ErrNotOpen
	}
	if src.IsRecording() {
		return nil, ErrAlreadyRecording
	}
	return c.registry.Begin(v.kind)
}
