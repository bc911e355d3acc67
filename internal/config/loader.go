package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"

	"gopkg.in/yaml.v3"
)

// Environment variables that override secrets from the file.
const (
	EnvPrincipal   = "ITSLANGUAGE_PRINCIPAL"
	EnvCredentials = "ITSLANGUAGE_CREDENTIALS"
	EnvTicket      = "ITSLANGUAGE_TICKET"
)

// Load reads the YAML configuration file at path, applies environment
// overrides and defaults, and validates the result.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := decode(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	ApplyEnv(cfg, os.Getenv)
	cfg.ApplyDefaults()
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults, and
// validates the result. The environment is not consulted.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg, err := decode(r)
	if err != nil {
		return nil, err
	}
	cfg.ApplyDefaults()
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overrides secrets with non-empty values from getenv.
func ApplyEnv(cfg *Config, getenv func(string) string) {
	if v := getenv(EnvPrincipal); v != "" {
		cfg.Auth.Principal = v
	}
	if v := getenv(EnvCredentials); v != "" {
		cfg.Auth.Credentials = v
	}
	if v := getenv(EnvTicket); v != "" {
		cfg.Auth.Ticket = v
	}
}

// Validate checks that cfg contains a coherent set of values. It returns a
// joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// API
	if cfg.API.WebSocketURL == "" {
		errs = append(errs, errors.New("api.ws_url is required"))
	} else if err := checkURL(cfg.API.WebSocketURL, "ws", "wss"); err != nil {
		errs = append(errs, fmt.Errorf("api.ws_url: %w", err))
	}
	if cfg.API.BaseURL != "" {
		if err := checkURL(cfg.API.BaseURL, "http", "https"); err != nil {
			errs = append(errs, fmt.Errorf("api.base_url: %w", err))
		}
	}
	if cfg.API.Timeout < 0 {
		errs = append(errs, fmt.Errorf("api.timeout %s must not be negative", cfg.API.Timeout))
	}

	// Auth
	a := cfg.Auth
	switch {
	case a.Principal != "" && a.Credentials == "":
		errs = append(errs, errors.New("auth.credentials is required when auth.principal is set"))
	case a.Principal == "" && a.Credentials != "":
		errs = append(errs, errors.New("auth.principal is required when auth.credentials is set"))
	}
	if a.Ticket == "" {
		switch {
		case a.Principal == "":
			errs = append(errs, errors.New("auth: either auth.ticket or auth.principal with auth.credentials is required"))
		case a.TokenURL == "":
			errs = append(errs, errors.New("auth: api.base_url or auth.token_url is required to obtain a ticket"))
		}
	} else if a.Principal != "" {
		slog.Warn("auth.ticket is set; principal and credentials are only used to sign audio urls")
	}
	if a.TokenURL != "" {
		if err := checkURL(a.TokenURL, "http", "https"); err != nil {
			errs = append(errs, fmt.Errorf("auth.token_url: %w", err))
		}
	}

	// Streaming
	s := cfg.Streaming
	if s.ChunkDuration < 0 {
		errs = append(errs, fmt.Errorf("streaming.chunk_duration %s must not be negative", s.ChunkDuration))
	}
	if s.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("streaming.sample_rate %d must not be negative", s.SampleRate))
	}
	if s.Channels < 0 || s.Channels > 2 {
		errs = append(errs, fmt.Errorf("streaming.channels %d is out of range [1, 2]", s.Channels))
	}
	if s.SampleWidth < 0 || s.SampleWidth > 2 {
		errs = append(errs, fmt.Errorf("streaming.sample_width %d is out of range [1, 2]", s.SampleWidth))
	}

	// Telemetry
	if r := cfg.Telemetry.SampleRatio; r < 0 || r > 1 {
		errs = append(errs, fmt.Errorf("telemetry.sample_ratio %g is out of range [0, 1]", r))
	}

	return errors.Join(errs...)
}

func checkURL(raw string, schemes ...string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	for _, s := range schemes {
		if u.Scheme == s {
			if u.Host == "" {
				return fmt.Errorf("%q has no host", raw)
			}
			return nil
		}
	}
	return fmt.Errorf("%q must use scheme %v", raw, schemes)
}
