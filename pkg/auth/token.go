package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// TokenConfig configures the client-credentials token source.
type TokenConfig struct {
	// TokenURL is the token endpoint, normally <api>/tokens.
	TokenURL string

	// Credentials are sent as client ID and secret.
	Credentials Credentials

	// Scopes narrows the token, e.g. to one organisation. See [Scope].
	Scopes []string

	// HTTPClient performs the token request. Nil means http.DefaultClient.
	HTTPClient *http.Client
}

// NewTokenSource returns a caching [oauth2.TokenSource] that obtains bearer
// tokens from cfg.TokenURL with the client-credentials grant. ctx governs
// every token request made by the source.
func NewTokenSource(ctx context.Context, cfg TokenConfig) (oauth2.TokenSource, error) {
	if cfg.Credentials.IsZero() {
		return nil, ErrNoCredentials
	}
	if cfg.TokenURL == "" {
		return nil, errors.New("auth: token url must not be empty")
	}
	if cfg.HTTPClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, cfg.HTTPClient)
	}
	cc := clientcredentials.Config{
		ClientID:     cfg.Credentials.Principal,
		ClientSecret: cfg.Credentials.Credentials,
		TokenURL:     cfg.TokenURL,
		Scopes:       cfg.Scopes,
	}
	return cc.TokenSource(ctx), nil
}

// Scope builds a hierarchical scope from alternating kind/id pairs, e.g.
// Scope("tenant", "t1", "organisation", "o1") returns
// "tenant/t1/organisation/o1". Pairs with an empty id end the scope.
func Scope(pairs ...string) string {
	var parts []string
	for i := 0; i+1 < len(pairs); i += 2 {
		if pairs[i+1] == "" {
			break
		}
		parts = append(parts, pairs[i], pairs[i+1])
	}
	return strings.Join(parts, "/")
}
