package auth

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
)

func TestAddAccessToken(t *testing.T) {
	t.Parallel()

	s := NewSigner(Credentials{Principal: "princ", Credentials: "cred"})
	token := url.QueryEscape(base64.StdEncoding.EncodeToString([]byte("princ:cred")))

	tests := []struct {
		in   string
		want string
	}{
		{"https://x/y", "https://x/y?access_token=" + token},
		{"https://x/y?a=1", "https://x/y?a=1&access_token=" + token},
		{"https://x/y#t=3", "https://x/y?access_token=" + token + "#t=3"},
	}
	for _, tt := range tests {
		got, err := s.AddAccessToken(tt.in)
		if err != nil {
			t.Fatalf("AddAccessToken(%q): %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("AddAccessToken(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestAddAccessToken_DecodesToCredentials(t *testing.T) {
	t.Parallel()

	s := NewSigner(Credentials{Principal: "user@example.com", Credentials: "p+ss/w=rd"})
	for _, raw := range []string{"https://x/y", "https://x/y?a=1"} {
		signed, err := s.AddAccessToken(raw)
		if err != nil {
			t.Fatalf("AddAccessToken: %v", err)
		}
		u, err := url.Parse(signed)
		if err != nil {
			t.Fatalf("parse %q: %v", signed, err)
		}
		decoded, err := base64.StdEncoding.DecodeString(u.Query().Get("access_token"))
		if err != nil {
			t.Fatalf("decode token: %v", err)
		}
		if string(decoded) != "user@example.com:p+ss/w=rd" {
			t.Errorf("decoded token = %q", decoded)
		}
		if raw == "https://x/y?a=1" && u.Query().Get("a") != "1" {
			t.Error("existing query parameter lost")
		}
	}
}

func TestAddAccessToken_NoCredentials(t *testing.T) {
	t.Parallel()

	for _, s := range []*Signer{nil, {}, NewSigner(Credentials{})} {
		if _, err := s.AddAccessToken("https://x/y"); !errors.Is(err, ErrNoCredentials) {
			t.Errorf("err = %v, want ErrNoCredentials", err)
		}
	}
}

func TestAddAccessToken_InvalidURL(t *testing.T) {
	t.Parallel()

	s := NewSigner(Credentials{Principal: "p", Credentials: "c"})
	if _, err := s.AddAccessToken("http://[::1"); err == nil {
		t.Error("expected error for malformed URL")
	}
}

func TestNewTokenSource(t *testing.T) {
	t.Parallel()

	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		if r.Method != http.MethodPost || r.URL.Path != "/tokens" {
			http.Error(w, "unexpected request", http.StatusNotFound)
			return
		}
		if err := r.ParseForm(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if r.Form.Get("grant_type") != "client_credentials" {
			http.Error(w, "bad grant", http.StatusBadRequest)
			return
		}
		id, secret, ok := r.BasicAuth()
		if !ok {
			id, secret = r.Form.Get("client_id"), r.Form.Get("client_secret")
		}
		if id != "princ" || secret != "cred" {
			http.Error(w, "bad client", http.StatusUnauthorized)
			return
		}
		if r.Form.Get("scope") != "tenant/t1/organisation/o1" {
			http.Error(w, "bad scope", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"abc123","token_type":"bearer","expires_in":3600}`))
	}))
	defer srv.Close()

	ts, err := NewTokenSource(context.Background(), TokenConfig{
		TokenURL:    srv.URL + "/tokens",
		Credentials: Credentials{Principal: "princ", Credentials: "cred"},
		Scopes:      []string{Scope("tenant", "t1", "organisation", "o1")},
		HTTPClient:  srv.Client(),
	})
	if err != nil {
		t.Fatalf("NewTokenSource: %v", err)
	}

	for range 2 {
		tok, err := ts.Token()
		if err != nil {
			t.Fatalf("Token: %v", err)
		}
		if tok.AccessToken != "abc123" {
			t.Errorf("AccessToken = %q, want abc123", tok.AccessToken)
		}
	}
	if n := requests.Load(); n != 1 {
		t.Errorf("token endpoint hit %d times, want 1 (cached)", n)
	}
}

func TestNewTokenSource_Validation(t *testing.T) {
	t.Parallel()

	if _, err := NewTokenSource(context.Background(), TokenConfig{TokenURL: "http://x/tokens"}); !errors.Is(err, ErrNoCredentials) {
		t.Errorf("err = %v, want ErrNoCredentials", err)
	}
	if _, err := NewTokenSource(context.Background(), TokenConfig{Credentials: Credentials{Principal: "p"}}); err == nil {
		t.Error("missing token url should be rejected")
	}
}

func TestScope(t *testing.T) {
	t.Parallel()

	tests := []struct {
		pairs []string
		want  string
	}{
		{nil, ""},
		{[]string{"tenant", "t1"}, "tenant/t1"},
		{[]string{"tenant", "t1", "organisation", "o1", "student", "s1"}, "tenant/t1/organisation/o1/student/s1"},
		{[]string{"tenant", "t1", "organisation", "", "student", "s1"}, "tenant/t1"},
		{[]string{"tenant"}, ""},
	}
	for _, tt := range tests {
		if got := Scope(tt.pairs...); got != tt.want {
			t.Errorf("Scope(%s) = %q, want %q", strings.Join(tt.pairs, ","), got, tt.want)
		}
	}
}
