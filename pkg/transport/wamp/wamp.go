// Package wamp provides the production [rpc.Caller]: a WAMP session over
// WebSocket, authenticated with a ticket.
//
// The WAMP protocol itself is handled by github.com/gammazero/nexus/v3. This
// package adds ITSLanguage specifics on top of it: ticket authentication from
// a static token or an OAuth2 token source, conversion between nexus and
// [rpc] types, and open/close lifecycle events.
//
//	tr, err := wamp.New("wss://api.itslanguage.nl/ws", wamp.WithTokenSource(ts))
//	if err := tr.Connect(ctx); err != nil { ... }
//	defer tr.Close()
package wamp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gammazero/nexus/v3/client"
	nexus "github.com/gammazero/nexus/v3/wamp"
	"golang.org/x/oauth2"

	"github.com/itslanguage/itslanguage-go/pkg/event"
	"github.com/itslanguage/itslanguage-go/pkg/rpc"
)

const (
	defaultRealm  = "default"
	defaultAuthID = "oauth2"
	ticketMethod  = "ticket"
)

// session is the subset of *client.Client the transport uses.
type session interface {
	Call(ctx context.Context, procedure string, options nexus.Dict, args nexus.List, kwargs nexus.Dict, progCb client.ProgressHandler) (*nexus.Result, error)
	Done() <-chan struct{}
	Close() error
}

// connectFunc dials the router and completes the WAMP handshake.
type connectFunc func(ctx context.Context, url string, cfg client.Config) (session, error)

func connectNexus(ctx context.Context, url string, cfg client.Config) (session, error) {
	return client.ConnectNet(ctx, url, cfg)
}

// Option is a functional option for configuring a [Transport].
type Option func(*Transport)

// WithRealm sets the WAMP realm to join. Defaults to "default".
func WithRealm(realm string) Option {
	return func(t *Transport) { t.realm = realm }
}

// WithTicket authenticates with a fixed ticket, typically a bearer token
// obtained out of band.
func WithTicket(ticket string) Option {
	return func(t *Transport) {
		t.tokens = oauth2.StaticTokenSource(&oauth2.Token{AccessToken: ticket})
	}
}

// WithTokenSource authenticates with the access token of ts. A fresh token
// is requested on every Connect.
func WithTokenSource(ts oauth2.TokenSource) Option {
	return func(t *Transport) { t.tokens = ts }
}

// WithAuthID sets the authid announced in HELLO. Defaults to "oauth2".
func WithAuthID(id string) Option {
	return func(t *Transport) { t.authID = id }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(t *Transport) { t.log = l }
}

// Transport implements [rpc.Caller] over a WAMP session.
//
// A Transport may be connected again after it closed. All methods are safe
// for concurrent use.
type Transport struct {
	url    string
	realm  string
	authID string
	tokens oauth2.TokenSource
	log    *slog.Logger

	connect connectFunc

	opened event.Emitter[struct{}]
	closed event.Emitter[error]

	mu   sync.Mutex
	sess session
}

// New creates a Transport for the router at url. A ticket or token source
// is required.
func New(url string, opts ...Option) (*Transport, error) {
	if url == "" {
		return nil, errors.New("wamp: url must not be empty")
	}
	t := &Transport{
		url:     url,
		realm:   defaultRealm,
		authID:  defaultAuthID,
		log:     slog.Default(),
		connect: connectNexus,
	}
	for _, o := range opts {
		o(t)
	}
	if t.tokens == nil {
		return nil, errors.New("wamp: a ticket or token source is required")
	}
	return t, nil
}

// Connect opens the WAMP session and publishes an open event. Connecting an
// open transport is a no-op.
func (t *Transport) Connect(ctx context.Context) error {
	t.mu.Lock()
	if t.sess != nil {
		t.mu.Unlock()
		return nil
	}
	t.mu.Unlock()

	tok, err := t.tokens.Token()
	if err != nil {
		return fmt.Errorf("wamp: obtain ticket: %w", err)
	}
	ticket := tok.AccessToken

	cfg := client.Config{
		Realm: t.realm,
		HelloDetails: nexus.Dict{
			"authid":      t.authID,
			"authmethods": nexus.List{ticketMethod},
		},
		AuthHandlers: map[string]client.AuthFunc{
			ticketMethod: func(*nexus.Challenge) (string, nexus.Dict) {
				return ticket, nexus.Dict{}
			},
		},
		Logger: slog.NewLogLogger(t.log.Handler(), slog.LevelDebug),
	}

	sess, err := t.connect(ctx, t.url, cfg)
	if err != nil {
		return fmt.Errorf("wamp: connect %s: %w", t.url, err)
	}

	t.mu.Lock()
	if t.sess != nil {
		// Lost a race with a concurrent Connect.
		t.mu.Unlock()
		_ = sess.Close()
		return nil
	}
	t.sess = sess
	t.mu.Unlock()

	t.log.Info("wamp: session open", "url", t.url, "realm", t.realm)
	go t.watch(sess)
	t.opened.Emit(struct{}{})
	return nil
}

// watch publishes a close event once sess ends, whether by Close or by the
// router dropping it.
func (t *Transport) watch(sess session) {
	<-sess.Done()

	t.mu.Lock()
	if t.sess != sess {
		t.mu.Unlock()
		return
	}
	t.sess = nil
	t.mu.Unlock()

	t.log.Info("wamp: session closed", "url", t.url)
	t.closed.Emit(nil)
}

// Close ends the session. The close event is published asynchronously.
func (t *Transport) Close() error {
	t.mu.Lock()
	sess := t.sess
	t.mu.Unlock()
	if sess == nil {
		return nil
	}
	if err := sess.Close(); err != nil {
		return fmt.Errorf("wamp: close: %w", err)
	}
	return nil
}

var _ Connector = (*Transport)(nil)

// IsOpen implements [rpc.Caller].
func (t *Transport) IsOpen() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sess != nil
}

// OnOpen subscribes to session establishment.
func (t *Transport) OnOpen(fn func()) (off func()) {
	return t.opened.On(func(struct{}) { fn() })
}

// OnClose subscribes to session termination.
func (t *Transport) OnClose(fn func(error)) (off func()) {
	return t.closed.On(fn)
}

// Call implements [rpc.Caller].
func (t *Transport) Call(ctx context.Context, procedure string, args []any, kwargs map[string]any, opts ...rpc.CallOption) (*rpc.Result, error) {
	t.mu.Lock()
	sess := t.sess
	t.mu.Unlock()
	if sess == nil {
		return nil, rpc.ErrClosed
	}

	o := rpc.ApplyOptions(opts...)
	var progCb client.ProgressHandler
	if o.Progress != nil {
		progCb = func(r *nexus.Result) { o.Progress(fromNexus(r)) }
	}

	res, err := sess.Call(ctx, procedure, nil, nexus.List(args), nexus.Dict(kwargs), progCb)
	if err != nil {
		return nil, convertError(procedure, err)
	}
	return fromNexus(res), nil
}

func fromNexus(r *nexus.Result) *rpc.Result {
	if r == nil {
		return &rpc.Result{}
	}
	return &rpc.Result{Args: r.Arguments, Kwargs: r.ArgumentsKw}
}

// convertError turns a callee ERROR message into *rpc.Error and wraps
// anything else.
func convertError(procedure string, err error) error {
	var rpcErr client.RPCError
	if errors.As(err, &rpcErr) && rpcErr.Err != nil {
		return toRPCError(rpcErr.Err)
	}
	var rpcErrPtr *client.RPCError
	if errors.As(err, &rpcErrPtr) && rpcErrPtr.Err != nil {
		return toRPCError(rpcErrPtr.Err)
	}
	return fmt.Errorf("wamp: call %s: %w", procedure, err)
}

func toRPCError(e *nexus.Error) *rpc.Error {
	return &rpc.Error{URI: string(e.Error), Args: e.Arguments, Kwargs: e.ArgumentsKw}
}

var _ rpc.Caller = (*Transport)(nil)
