// Package config provides the configuration schema and loader of the
// itslstream command.
package config

import (
	"strings"
	"time"

	"github.com/itslanguage/itslanguage-go/pkg/auth"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Defaults applied by [Config.ApplyDefaults].
const (
	DefaultRealm         = "default"
	DefaultAuthID        = "oauth2"
	DefaultTimeout       = 30 * time.Second
	DefaultChunkDuration = 250 * time.Millisecond
	DefaultSampleRate    = 16000
	DefaultChannels      = 1
	DefaultSampleWidth   = 2
	DefaultServiceName   = "itslstream"
)

// Config is the root configuration structure. It is typically loaded from a
// YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	API       APIConfig       `yaml:"api"`
	Auth      AuthConfig      `yaml:"auth"`
	Streaming StreamingConfig `yaml:"streaming"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig holds logging settings and the address of the health and
// metrics endpoints.
type ServerConfig struct {
	// LogLevel controls verbosity. Default: info.
	LogLevel LogLevel `yaml:"log_level"`

	// ListenAddr serves /healthz, /readyz and /metrics (e.g. ":9090"). Empty
	// disables the listener.
	ListenAddr string `yaml:"listen_addr"`
}

// APIConfig locates the ITSLanguage backend.
type APIConfig struct {
	// BaseURL is the REST API root, e.g. "https://api.itslanguage.nl". It is
	// used to fetch challenges and, unless auth.token_url is set, tokens.
	BaseURL string `yaml:"base_url"`

	// WebSocketURL is the WAMP router endpoint, e.g.
	// "wss://api.itslanguage.nl/ws". Required.
	WebSocketURL string `yaml:"ws_url"`

	// Realm is the WAMP realm. Default: "default".
	Realm string `yaml:"realm"`

	// Timeout bounds every REST request. Default: 30s.
	Timeout time.Duration `yaml:"timeout"`
}

// AuthConfig holds credentials. Either a static ticket or a principal with
// credentials is required; the latter is exchanged for a bearer token through
// the OAuth2 client-credentials grant.
type AuthConfig struct {
	// Principal and Credentials are the Basic credentials of the client.
	// They also sign audio URLs.
	Principal   string `yaml:"principal"`
	Credentials string `yaml:"credentials"`

	// Ticket is a pre-issued bearer token used as-is.
	Ticket string `yaml:"ticket"`

	// TokenURL overrides the token endpoint. Default: api.base_url + "/tokens".
	TokenURL string `yaml:"token_url"`

	// AuthID is the WAMP authid. Default: "oauth2".
	AuthID string `yaml:"auth_id"`

	// Tenant, Organisation, and Student narrow the requested token scope.
	Tenant       string `yaml:"tenant"`
	Organisation string `yaml:"organisation"`
	Student      string `yaml:"student"`
}

// BasicCredentials returns the Basic credentials.
func (a AuthConfig) BasicCredentials() auth.Credentials {
	return auth.Credentials{Principal: a.Principal, Credentials: a.Credentials}
}

// Scope returns the OAuth2 scope built from tenant, organisation, and
// student.
func (a AuthConfig) Scope() string {
	return auth.Scope("tenant", a.Tenant, "organisation", a.Organisation, "student", a.Student)
}

// StreamingConfig tunes streaming sessions and the WAV file source.
type StreamingConfig struct {
	// Trim cuts the first 150ms of every recording. Default: true.
	Trim *bool `yaml:"trim"`

	// ChunkDuration is the amount of audio per written chunk. Default: 250ms.
	ChunkDuration time.Duration `yaml:"chunk_duration"`

	// Realtime paces chunks at playback speed instead of as fast as
	// possible.
	Realtime bool `yaml:"realtime"`

	// SampleRate, Channels, and SampleWidth describe the audio sent to the
	// backend. Input files are converted. Defaults: 16000, 1, 2.
	SampleRate  int `yaml:"sample_rate"`
	Channels    int `yaml:"channels"`
	SampleWidth int `yaml:"sample_width"`
}

// TrimEnabled reports the effective trim setting.
func (s StreamingConfig) TrimEnabled() bool {
	return s.Trim == nil || *s.Trim
}

// TelemetryConfig names the service in exported telemetry.
type TelemetryConfig struct {
	ServiceName    string `yaml:"service_name"`
	ServiceVersion string `yaml:"service_version"`

	// SampleRatio is the fraction of sessions traced. Zero traces all.
	SampleRatio float64 `yaml:"sample_ratio"`
}

// ApplyDefaults fills unset fields with their defaults.
func (c *Config) ApplyDefaults() {
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = LogInfo
	}
	if c.API.Realm == "" {
		c.API.Realm = DefaultRealm
	}
	if c.API.Timeout == 0 {
		c.API.Timeout = DefaultTimeout
	}
	if c.Auth.AuthID == "" {
		c.Auth.AuthID = DefaultAuthID
	}
	if c.Auth.TokenURL == "" && c.API.BaseURL != "" {
		c.Auth.TokenURL = strings.TrimSuffix(c.API.BaseURL, "/") + "/tokens"
	}
	if c.Streaming.ChunkDuration == 0 {
		c.Streaming.ChunkDuration = DefaultChunkDuration
	}
	if c.Streaming.SampleRate == 0 {
		c.Streaming.SampleRate = DefaultSampleRate
	}
	if c.Streaming.Channels == 0 {
		c.Streaming.Channels = DefaultChannels
	}
	if c.Streaming.SampleWidth == 0 {
		c.Streaming.SampleWidth = DefaultSampleWidth
	}
	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = DefaultServiceName
	}
}
