// Package auth holds the credentials used to talk to the ITSLanguage backend
// and the helpers derived from them.
//
// [Signer] appends an access token to media URLs so they can be fetched
// without an Authorization header, e.g. by an audio element. [TokenSource]
// obtains OAuth2 bearer tokens with the client-credentials grant; the tokens
// authenticate REST requests and serve as the WAMP ticket.
package auth

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrNoCredentials is returned when a signer or token source is used before
// credentials were configured.
var ErrNoCredentials = errors.New("auth: no credentials configured")

// Credentials is a Basic-auth principal/secret pair.
type Credentials struct {
	Principal   string
	Credentials string
}

// IsZero reports whether no credentials are set.
func (c Credentials) IsZero() bool {
	return c.Principal == "" && c.Credentials == ""
}

// Basic returns base64(principal:credentials), the value used both in the
// Basic Authorization header and as the media access token.
func (c Credentials) Basic() string {
	return base64.StdEncoding.EncodeToString([]byte(c.Principal + ":" + c.Credentials))
}

// Signer adds access tokens to URLs. The zero value has no credentials.
type Signer struct {
	creds Credentials
}

// NewSigner returns a Signer for creds.
func NewSigner(creds Credentials) *Signer {
	return &Signer{creds: creds}
}

// AddAccessToken appends access_token=<token> to rawURL, using '&' when the
// URL already carries a query string and '?' otherwise. The rest of the URL
// is left untouched.
func (s *Signer) AddAccessToken(rawURL string) (string, error) {
	if s == nil || s.creds.IsZero() {
		return "", ErrNoCredentials
	}
	if _, err := url.Parse(rawURL); err != nil {
		return "", fmt.Errorf("auth: sign url: %w", err)
	}

	base, fragment, hasFragment := strings.Cut(rawURL, "#")
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	signed := base + sep + "access_token=" + url.QueryEscape(s.creds.Basic())
	if hasFragment {
		signed += "#" + fragment
	}
	return signed, nil
}
