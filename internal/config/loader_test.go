package config_test

import (
	"strings"
	"testing"

	"github.com/itslanguage/itslanguage-go/internal/config"
)

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		yaml     string
		wantErrs []string
	}{
		{
			name: "missing ws url",
			yaml: `
auth:
  ticket: abc
`,
			wantErrs: []string{"api.ws_url is required"},
		},
		{
			name: "wrong schemes",
			yaml: `
api:
  ws_url: https://api.itslanguage.nl/ws
  base_url: wss://api.itslanguage.nl
auth:
  ticket: abc
`,
			wantErrs: []string{"api.ws_url", "api.base_url"},
		},
		{
			name: "no auth at all",
			yaml: `
api:
  ws_url: wss://x/ws
`,
			wantErrs: []string{"either auth.ticket or auth.principal"},
		},
		{
			name: "principal without credentials",
			yaml: `
api:
  ws_url: wss://x/ws
  base_url: https://x
auth:
  principal: id
`,
			wantErrs: []string{"auth.credentials is required"},
		},
		{
			name: "credentials without token endpoint",
			yaml: `
api:
  ws_url: wss://x/ws
auth:
  principal: id
  credentials: secret
`,
			wantErrs: []string{"auth.token_url is required"},
		},
		{
			name: "invalid log level and streaming",
			yaml: `
server:
  log_level: verbose
api:
  ws_url: wss://x/ws
auth:
  ticket: abc
streaming:
  chunk_duration: -1s
  channels: 6
  sample_width: 3
telemetry:
  sample_ratio: 1.5
`,
			wantErrs: []string{"server.log_level", "streaming.chunk_duration", "streaming.channels", "streaming.sample_width", "telemetry.sample_ratio"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := config.LoadFromReader(strings.NewReader(tt.yaml))
			if err == nil {
				t.Fatal("expected validation error, got nil")
			}
			for _, want := range tt.wantErrs {
				if !strings.Contains(err.Error(), want) {
					t.Errorf("error should mention %q, got: %v", want, err)
				}
			}
		})
	}
}

func TestValidate_Valid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		yaml string
	}{
		{
			name: "ticket only",
			yaml: `
api:
  ws_url: ws://localhost:8080/ws
auth:
  ticket: abc
`,
		},
		{
			name: "client credentials with explicit token url",
			yaml: `
api:
  ws_url: wss://x/ws
auth:
  principal: id
  credentials: secret
  token_url: https://auth.example.com/tokens
`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := config.LoadFromReader(strings.NewReader(tt.yaml)); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestLogLevel_IsValid(t *testing.T) {
	t.Parallel()
	for _, l := range []config.LogLevel{config.LogDebug, config.LogInfo, config.LogWarn, config.LogError} {
		if !l.IsValid() {
			t.Errorf("%q.IsValid() = false", l)
		}
	}
	if config.LogLevel("trace").IsValid() {
		t.Error(`"trace".IsValid() = true`)
	}
}
