package wamp

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Default reconnection parameters.
const (
	defaultMaxRetries = 10
	defaultBackoff    = 1 * time.Second
	defaultMaxBackoff = 30 * time.Second
)

// Connector is a connection that publishes its closure. [*Transport]
// implements it.
type Connector interface {
	Connect(ctx context.Context) error
	OnClose(fn func(error)) (off func())
}

// Reconnector re-establishes a dropped connection with exponential backoff.
//
// Sessions that were running when the connection dropped still fail; only
// later sessions benefit from the new connection. Call [Reconnector.Stop]
// before closing the connection on purpose, or the close is treated as a
// drop.
//
// All methods are safe for concurrent use.
type Reconnector struct {
	conn        Connector
	maxRetries  int
	backoff     time.Duration
	maxBackoff  time.Duration
	onReconnect func()
	log         *slog.Logger

	done         chan struct{}
	stopOnce     sync.Once
	disconnected chan struct{}

	mu  sync.Mutex
	off func()
}

// ReconnectorConfig configures a [Reconnector].
type ReconnectorConfig struct {
	// MaxRetries is the number of attempts per drop. Default: 10.
	MaxRetries int

	// Backoff is the delay after the first failed attempt. It doubles each
	// attempt up to MaxBackoff. Default: 1s.
	Backoff time.Duration

	// MaxBackoff caps the delay. Default: 30s.
	MaxBackoff time.Duration

	// OnReconnect is called after each successful reconnection. May be nil.
	OnReconnect func()

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// NewReconnector returns a Reconnector for conn.
func NewReconnector(conn Connector, cfg ReconnectorConfig) *Reconnector {
	r := &Reconnector{
		conn:         conn,
		maxRetries:   cfg.MaxRetries,
		backoff:      cfg.Backoff,
		maxBackoff:   cfg.MaxBackoff,
		onReconnect:  cfg.OnReconnect,
		log:          cfg.Logger,
		done:         make(chan struct{}),
		disconnected: make(chan struct{}, 1),
	}
	if r.maxRetries <= 0 {
		r.maxRetries = defaultMaxRetries
	}
	if r.backoff <= 0 {
		r.backoff = defaultBackoff
	}
	if r.maxBackoff <= 0 {
		r.maxBackoff = defaultMaxBackoff
	}
	if r.log == nil {
		r.log = slog.Default()
	}
	return r
}

// Connect performs the initial connection, retrying with backoff like a
// reconnection would.
func (r *Reconnector) Connect(ctx context.Context) error {
	if err := r.retry(ctx); err != nil {
		return fmt.Errorf("wamp: initial connect: %w", err)
	}
	return nil
}

// Monitor watches for dropped connections until ctx ends or Stop is called.
func (r *Reconnector) Monitor(ctx context.Context) {
	off := r.conn.OnClose(func(error) { r.NotifyDisconnect() })
	r.mu.Lock()
	r.off = off
	r.mu.Unlock()
	go r.monitorLoop(ctx)
}

// NotifyDisconnect asks the monitor to reconnect. Signals arriving while a
// reconnection is already pending are merged.
func (r *Reconnector) NotifyDisconnect() {
	select {
	case r.disconnected <- struct{}{}:
	default:
	}
}

// Stop ends monitoring. It does not close the connection.
func (r *Reconnector) Stop() {
	r.stopOnce.Do(func() {
		close(r.done)
		r.mu.Lock()
		off := r.off
		r.off = nil
		r.mu.Unlock()
		if off != nil {
			off()
		}
	})
}

func (r *Reconnector) monitorLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.done:
			return
		case <-r.disconnected:
			if err := r.retry(ctx); err != nil {
				r.log.Error("wamp: reconnection failed", "max_retries", r.maxRetries, "err", err)
				continue
			}
			if r.onReconnect != nil {
				r.onReconnect()
			}
		}
	}
}

// retry calls Connect until it succeeds, the attempts run out, or the
// reconnector stops.
func (r *Reconnector) retry(ctx context.Context) error {
	backoff := r.backoff
	var err error
	for attempt := 1; attempt <= r.maxRetries; attempt++ {
		if err = r.conn.Connect(ctx); err == nil {
			if attempt > 1 {
				r.log.Info("wamp: reconnected", "attempt", attempt)
			}
			return nil
		}
		r.log.Warn("wamp: connect attempt failed",
			"attempt", attempt,
			"max_retries", r.maxRetries,
			"backoff", backoff,
			"err", err,
		)
		if attempt == r.maxRetries {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-r.done:
			return err
		case <-time.After(backoff):
		}

		backoff = min(backoff*2, r.maxBackoff)
	}
	return err
}
