package streaming

import (
	"context"
	"encoding/base64"
	"fmt"
	"sync"
)

type chunk struct {
	encoded string
	size    int
}

// writer issues write calls for one session on a single goroutine, in the
// order chunks were enqueued. Enqueueing never blocks the audio source.
type writer struct {
	s     *session
	token string

	mu     sync.Mutex
	queue  []chunk
	closed bool
	err    error

	wake   chan struct{}
	done   chan struct{}
	failed chan struct{}
}

func newWriter(s *session, token string) *writer {
	return &writer{
		s:      s,
		token:  token,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
		failed: make(chan struct{}),
	}
}

// enqueue base64-encodes b and queues it. Chunks arriving after close are
// dropped.
func (w *writer) enqueue(b []byte) {
	c := chunk{encoded: base64.StdEncoding.EncodeToString(b), size: len(b)}
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.queue = append(w.queue, c)
	w.mu.Unlock()
	w.signal()
}

func (w *writer) signal() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// close stops admitting chunks. Queued chunks are still written.
func (w *writer) close() {
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()
	w.signal()
}

// abort stops admitting chunks and drops the queue.
func (w *writer) abort() {
	w.mu.Lock()
	w.closed = true
	w.queue = nil
	w.mu.Unlock()
	w.signal()
}

// wait blocks until the loop has exited and returns the first write error.
func (w *writer) wait() error {
	<-w.done
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

func (w *writer) fail(err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	w.queue = nil
	if w.err == nil {
		w.err = err
		close(w.failed)
	}
}

func (w *writer) loop(ctx context.Context) {
	defer close(w.done)
	kind := w.s.v.kind.String()
	for {
		w.mu.Lock()
		if len(w.queue) == 0 {
			closed := w.closed
			w.mu.Unlock()
			if closed {
				return
			}
			select {
			case <-w.wake:
				continue
			case <-ctx.Done():
				w.fail(context.Cause(ctx))
				return
			}
		}
		c := w.queue[0]
		w.queue = w.queue[1:]
		w.mu.Unlock()

		if _, err := w.s.call(ctx, "write", []any{w.token, c.encoded, "base64"}, nil); err != nil {
			w.s.unsubscribeAll()
			w.fail(fmt.Errorf("streaming: write: %w", err))
			return
		}
		w.s.c.metrics.RecordAudioChunk(ctx, kind, c.size)
	}
}
