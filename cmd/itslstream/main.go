// Command itslstream streams a WAV file to the ITSLanguage backend as a
// speech recording, pronunciation analysis, or choice recognition and prints
// the result as JSON.
//
//	itslstream -config config.yaml -kind pronunciation -org o1 -challenge c1 -wav attempt.wav
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/oauth2"

	"github.com/itslanguage/itslanguage-go/internal/config"
	"github.com/itslanguage/itslanguage-go/internal/health"
	"github.com/itslanguage/itslanguage-go/internal/observe"
	"github.com/itslanguage/itslanguage-go/pkg/audio"
	"github.com/itslanguage/itslanguage-go/pkg/audio/wavfile"
	"github.com/itslanguage/itslanguage-go/pkg/auth"
	"github.com/itslanguage/itslanguage-go/pkg/streaming"
	"github.com/itslanguage/itslanguage-go/pkg/transport/rest"
	"github.com/itslanguage/itslanguage-go/pkg/transport/wamp"
)

// Exit codes.
const (
	exitOK       = 0
	exitError    = 1
	exitUnscored = 2
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	var f flags
	fs := flag.NewFlagSet("itslstream", flag.ContinueOnError)
	f.register(fs)
	if err := fs.Parse(os.Args[1:]); err != nil {
		return exitError
	}
	if err := f.validate(); err != nil {
		fmt.Fprintf(os.Stderr, "itslstream: %v\n", err)
		fs.Usage()
		return exitError
	}

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(f.configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "itslstream: config file %q not found\n", f.configPath)
		} else {
			fmt.Fprintf(os.Stderr, "itslstream: %v\n", err)
		}
		return exitError
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	telemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: cfg.Telemetry.ServiceVersion,
		SampleRatio:    cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return exitError
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := telemetry.Shutdown(sctx); err != nil {
			slog.Warn("telemetry shutdown", "err", err)
		}
	}()

	// ── Authentication ────────────────────────────────────────────────────────
	httpClient := &http.Client{Timeout: cfg.API.Timeout}
	tokens, err := tokenSource(ctx, cfg, httpClient)
	if err != nil {
		slog.Error("failed to configure authentication", "err", err)
		return exitError
	}
	var signer *auth.Signer
	if creds := cfg.Auth.BasicCredentials(); !creds.IsZero() {
		signer = auth.NewSigner(creds)
	}

	// ── REST collaborator (optional) ──────────────────────────────────────────
	var api *rest.Client
	if cfg.API.BaseURL != "" {
		opts := []rest.Option{
			rest.WithTokenSource(tokens),
			rest.WithHTTPClient(httpClient),
			rest.WithLogger(logger),
		}
		if signer != nil {
			opts = append(opts, rest.WithSigner(signer))
		}
		if api, err = rest.New(cfg.API.BaseURL, opts...); err != nil {
			slog.Error("failed to create REST client", "err", err)
			return exitError
		}
	}

	// ── WAMP transport ────────────────────────────────────────────────────────
	transport, err := wamp.New(cfg.API.WebSocketURL,
		wamp.WithRealm(cfg.API.Realm),
		wamp.WithTokenSource(tokens),
		wamp.WithAuthID(cfg.Auth.AuthID),
		wamp.WithLogger(logger),
	)
	if err != nil {
		slog.Error("failed to create WAMP transport", "err", err)
		return exitError
	}
	transport.OnClose(func(err error) {
		slog.Warn("wamp connection closed", "err", err)
	})

	// ── Health and metrics ────────────────────────────────────────────────────
	checkers := []health.Checker{health.Open("rpc", transport.IsOpen)}
	if api != nil {
		checkers = append(checkers, health.Checker{Name: "rest", Check: api.Breaker().Check})
	}
	if cfg.Server.ListenAddr != "" {
		srv := newOpsServer(cfg.Server.ListenAddr, health.New(checkers...), telemetry.MetricsHandler())
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("ops server error", "err", err)
			}
		}()
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(sctx)
		}()
		slog.Info("serving health and metrics", "addr", cfg.Server.ListenAddr)
	}

	reconnector := wamp.NewReconnector(transport, wamp.ReconnectorConfig{Logger: logger})
	if err := reconnector.Connect(ctx); err != nil {
		slog.Error("failed to connect", "url", cfg.API.WebSocketURL, "err", err)
		return exitError
	}
	defer transport.Close()
	reconnector.Monitor(ctx)
	defer reconnector.Stop()

	// ── Challenge and audio ───────────────────────────────────────────────────
	challenge, err := f.challenge(ctx, api)
	if err != nil {
		slog.Error("failed to resolve challenge", "err", err)
		return exitError
	}

	src, err := wavfile.Open(f.wavPath,
		wavfile.WithChunkDuration(cfg.Streaming.ChunkDuration),
		wavfile.WithRealtime(cfg.Streaming.Realtime),
		wavfile.WithTarget(audio.Format{
			SampleRate:  cfg.Streaming.SampleRate,
			Channels:    cfg.Streaming.Channels,
			SampleWidth: cfg.Streaming.SampleWidth,
		}),
		wavfile.WithLogger(logger),
	)
	if err != nil {
		slog.Error("failed to open audio", "path", f.wavPath, "err", err)
		return exitError
	}
	slog.Info("streaming",
		"kind", f.kind.String(),
		"challenge", challenge.ChallengeID(),
		"audio", f.wavPath,
		"duration", src.Duration(),
	)

	// ── Session ───────────────────────────────────────────────────────────────
	opts := []streaming.Option{
		streaming.WithLogger(logger),
		streaming.WithDefaultTrim(cfg.Streaming.TrimEnabled()),
	}
	if signer != nil {
		opts = append(opts, streaming.WithSigner(signer))
	}
	client := streaming.New(transport, opts...)
	stopCancel := context.AfterFunc(ctx, func() { client.CancelStreaming(src) })
	defer stopCancel()

	res, err := runSession(ctx, client, f.kind, challenge, src, f.student)
	return report(os.Stdout, res, err)
}

// tokenSource returns the bearer token source for both the WAMP ticket and
// REST requests.
func tokenSource(ctx context.Context, cfg *config.Config, hc *http.Client) (oauth2.TokenSource, error) {
	if cfg.Auth.Ticket != "" {
		return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Auth.Ticket, TokenType: "Bearer"}), nil
	}
	tc := auth.TokenConfig{
		TokenURL:    cfg.Auth.TokenURL,
		Credentials: cfg.Auth.BasicCredentials(),
		HTTPClient:  hc,
	}
	if scope := cfg.Auth.Scope(); scope != "" {
		tc.Scopes = []string{scope}
	}
	return auth.NewTokenSource(ctx, tc)
}

// newOpsServer serves /healthz, /readyz, and the Prometheus /metrics endpoint.
func newOpsServer(addr string, h *health.Handler, metrics http.Handler) *http.Server {
	mux := http.NewServeMux()
	h.Register(mux)
	mux.Handle("GET /metrics", metrics)
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// newLogger creates a text slog.Logger at the given level.
func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
