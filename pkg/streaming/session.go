package streaming

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/itslanguage/itslanguage-go/internal/observe"
	"github.com/itslanguage/itslanguage-go/pkg/audio"
	"github.com/itslanguage/itslanguage-go/pkg/rpc"
	"github.com/itslanguage/itslanguage-go/pkg/types"
)

// session is one run of the state machine. The goroutine calling run owns
// every state transition; audio callbacks only enqueue chunks or signal the
// recorded event.
type session struct {
	c         *Client
	v         variant
	challenge types.Challenge
	src       audio.Source
	slot      *Slot
	opts      *startOptions
	attemptID string
	log       *slog.Logger

	mu    sync.Mutex
	state State
	offs  []func()
}

func newSession(c *Client, v variant, challenge types.Challenge, src audio.Source, slot *Slot, o *startOptions) *session {
	id := uuid.NewString()
	return &session{
		c:         c,
		v:         v,
		challenge: challenge,
		src:       src,
		slot:      slot,
		opts:      o,
		attemptID: id,
		log:       c.log.With("kind", v.kind.String(), "attempt_id", id),
		state:     StateIdle,
	}
}

func (s *session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
	s.log.Debug("streaming: state", "state", st.String())
	if s.opts.observer != nil {
		s.opts.observer(st)
	}
}

// listen records an unsubscribe function for unsubscribeAll.
func (s *session) listen(off func()) {
	s.mu.Lock()
	s.offs = append(s.offs, off)
	s.mu.Unlock()
}

// unsubscribeAll removes every audio listener the session registered. Safe
// to call repeatedly and from any goroutine.
func (s *session) unsubscribeAll() {
	s.mu.Lock()
	offs := s.offs
	s.offs = nil
	s.mu.Unlock()
	for _, off := range offs {
		off()
	}
}

// call issues one RPC and records its metrics.
func (s *session) call(ctx context.Context, verb string, args []any, kwargs map[string]any, opts ...rpc.CallOption) (*rpc.Result, error) {
	procedure := s.v.procedure(verb)
	start := time.Now()
	res, err := s.c.caller.Call(ctx, procedure, args, kwargs, opts...)
	status := "ok"
	if err != nil {
		status = "error"
	}
	s.c.metrics.RecordRPC(ctx, procedure, status, time.Since(start))
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (s *session) run(ctx context.Context) (payload any, err error) {
	ctx, span := observe.StartSession(ctx, s.v.kind.String(), s.challenge.ChallengeID(), s.attemptID)
	s.log = observe.WithTrace(ctx, s.log)

	runCtx, cancel := context.WithCancelCause(ctx)
	if !s.slot.OnCancel(func() {
		s.unsubscribeAll()
		cancel(ErrCancelled)
	}) {
		cancel(ErrCancelled)
	}

	kind := s.v.kind.String()
	start := time.Now()
	s.c.metrics.SessionStarted(ctx, kind)

	defer func() {
		s.unsubscribeAll()
		s.slot.Clear()
		cancel(nil)

		outcome := observe.OutcomeCompleted
		var fe *FailureError
		switch {
		case errors.Is(err, ErrCancelled):
			outcome = observe.OutcomeCancelled
		case err != nil:
			outcome = observe.OutcomeFailed
		}
		if err != nil {
			if errors.As(err, &fe) {
				s.log.Info("streaming: attempt recorded but not scored", "code", fe.Code, "message", fe.Message)
			} else {
				s.log.Warn("streaming: session failed", "err", err)
			}
			s.setState(StateFailed)
		} else {
			s.setState(StateCompleted)
		}
		s.c.metrics.SessionEnded(ctx, kind, outcome, time.Since(start))
		observe.EndSpan(span, err)
	}()

	payload, err = s.drive(runCtx)
	if err != nil && payload == nil {
		if cause := context.Cause(runCtx); errors.Is(cause, ErrCancelled) {
			err = ErrCancelled
		}
	}
	return payload, err
}

// drive runs the transitions up to the finalize call.
func (s *session) drive(ctx context.Context) (any, error) {
	// Idle → Initializing.
	s.setState(StateInitializing)
	trimStart := 0.0
	if *s.opts.trim {
		trimStart = trimStartDefault
	}
	res, err := s.call(ctx, s.v.initVerb, nil, map[string]any{
		"trimStart": trimStart,
		"trimEnd":   trimEnd,
	})
	if err != nil {
		return nil, fmt.Errorf("streaming: %s: %w", s.v.initVerb, err)
	}
	token, _ := res.Arg(0).(string)
	if token == "" {
		return nil, fmt.Errorf("streaming: %s returned no session token", s.v.initVerb)
	}
	if !s.slot.Set(token) {
		return nil, ErrCancelled
	}
	s.log = s.log.With("token", token)
	s.log.Debug("streaming: session initialised")

	// Challenge bind and media approval run side by side; audio is only
	// admitted once both are through.
	s.setState(StateAwaitingMediaApproval)
	var reference any
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		args := []any{token, s.challenge.Organisation(), s.challenge.ChallengeID()}
		if _, err := s.call(gctx, "init_challenge", args, nil); err != nil {
			return fmt.Errorf("streaming: init_challenge: %w", err)
		}
		if !s.v.alignment {
			return nil
		}
		res, err := s.call(gctx, "alignment", []any{token}, nil)
		if err != nil {
			return fmt.Errorf("streaming: alignment: %w", err)
		}
		reference = resultPayload(res, "alignment")
		return nil
	})
	g.Go(func() error {
		if err := s.awaitApproval(gctx); err != nil {
			return err
		}
		specs := s.src.Specs()
		if err := specs.Validate(); err != nil {
			return fmt.Errorf("streaming: audio specs: %w", err)
		}
		if _, err := s.call(gctx, "init_audio", []any{token, specs.AudioFormat}, specs.Parameters()); err != nil {
			return fmt.Errorf("streaming: init_audio: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	s.setState(StateAudioNegotiated)

	// AudioNegotiated → Streaming.
	w := newWriter(s, token)
	go w.loop(ctx)
	defer w.abort()

	recorded := make(chan audio.Recorded, 1)
	var recordedOnce sync.Once
	s.listen(s.src.OnDataAvailable(w.enqueue))
	s.listen(s.src.OnRecorded(func(r audio.Recorded) {
		recordedOnce.Do(func() {
			// No chunk may be admitted after this point, and the slot is
			// released before the server answers.
			s.unsubscribeAll()
			w.close()
			s.slot.Clear()
			recorded <- r
		})
	}))
	s.setState(StateStreaming)

	var rec audio.Recorded
	select {
	case rec = <-recorded:
	case <-w.failed:
		return nil, w.wait()
	case <-ctx.Done():
		return nil, context.Cause(ctx)
	}

	// Streaming → Finalizing.
	s.setState(StateFinalizing)
	s.log.Debug("streaming: recording finished", "recording_id", rec.ID, "forced_stop", rec.ForcedStop)
	if err := w.wait(); err != nil {
		return nil, err
	}
	return s.finalize(ctx, token, reference)
}

// awaitApproval returns once the audio source has media approval. It never
// times out on its own.
func (s *session) awaitApproval(ctx context.Context) error {
	ready := make(chan struct{})
	var once sync.Once
	off := s.src.OnReady(func() { once.Do(func() { close(ready) }) })
	defer off()

	if s.src.HasUserMediaApproval() {
		return nil
	}
	s.log.Debug("streaming: waiting for media approval")
	select {
	case <-ready:
		return nil
	case <-ctx.Done():
		return context.Cause(ctx)
	}
}

// finalize issues the kind-specific finalize call and maps its outcome.
func (s *session) finalize(ctx context.Context, token string, reference any) (any, error) {
	var (
		kwargs map[string]any
		opts   []rpc.CallOption
	)
	if s.v.alignment {
		kwargs = map[string]any{}
		opts = append(opts, rpc.WithProgress(func(r *rpc.Result) {
			s.progress(r, reference)
		}))
	}

	res, err := s.call(ctx, s.v.finalVerb, []any{token}, kwargs, opts...)
	if err != nil {
		var rerr *rpc.Error
		if errors.As(err, &rerr) {
			partial := errorPayload(rerr, s.v.resultKey)
			return partial, &FailureError{Code: rerr.Code(), Message: FailureMessage(rerr.Code()), Err: err}
		}
		return nil, fmt.Errorf("streaming: %s: %w", s.v.finalVerb, err)
	}
	return resultPayload(res, s.v.resultKey), nil
}

// progress forwards an intermediate analysis update to the observer.
func (s *session) progress(r *rpc.Result, reference any) {
	if s.opts.progress == nil {
		return
	}
	p := Progress{Raw: r, Reference: reference}
	if m, ok := resultPayload(r, s.v.resultKey).(map[string]any); ok {
		if raw, ok := m["words"]; ok {
			words, err := AssembleWords(raw)
			if err != nil {
				s.log.Debug("streaming: progress words", "err", err)
			}
			p.Words = words
		}
	}
	s.opts.progress(p)
}

// resultPayload extracts the payload of a successful call: the keyword named
// key, else the first positional result, else all keywords.
func resultPayload(r *rpc.Result, key string) any {
	if r == nil {
		return map[string]any{}
	}
	if v, ok := r.Kwargs[key]; ok && v != nil {
		return v
	}
	if v := r.Arg(0); v != nil {
		return v
	}
	if r.Kwargs != nil {
		return r.Kwargs
	}
	return map[string]any{}
}

// errorPayload extracts the partial result carried by a callee error. It is
// never nil: a domain failure always means an attempt exists.
func errorPayload(e *rpc.Error, key string) any {
	if v, ok := e.Kwargs[key]; ok && v != nil {
		return v
	}
	for _, a := range e.Args {
		if m, ok := a.(map[string]any); ok {
			return m
		}
	}
	return map[string]any{}
}
