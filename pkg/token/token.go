// Package token acquires and caches OAuth2 client-credentials access tokens.
package token

import (
	"strings"
	"time"

	"github.com/goliatone/go-apiaccess/pkg/secrets"
)

// AccessToken is a bearer token together with its absolute expiry.
type AccessToken struct {
	Value     string
	Type      string
	ExpiresAt time.Time
	Scope     string
	Authority string
}

// ValidAt reports whether the token can still be handed out at now, keeping
// skew of headroom before expiry.
func (t AccessToken) ValidAt(now time.Time, skew time.Duration) bool {
	if t.Value == "" {
		return false
	}
	return now.Add(skew).Before(t.ExpiresAt)
}

// AuthorizationHeader returns the value for the Authorization header.
func (t AccessToken) AuthorizationHeader() string {
	typ := t.Type
	if typ == "" || strings.EqualFold(typ, "bearer") {
		typ = "Bearer"
	}
	return typ + " " + t.Value
}

// String never renders the full token.
func (t AccessToken) String() string {
	return secrets.Mask(t.Value)
}

// Request names the credentials and audience of a token.
type Request struct {
	Authority    string
	ClientID     string
	ClientSecret string
	Scope        string
	Resource     string
}

type cacheKey struct {
	authority string
	scope     string
}

func (k cacheKey) String() string {
	return k.authority + "|" + k.scope
}

func keyFor(authority, scope string) cacheKey {
	return cacheKey{
		authority: strings.TrimRight(strings.TrimSpace(authority), "/"),
		scope:     strings.TrimSpace(scope),
	}
}

// Endpoint resolves the token endpoint for an authority. Authorities that
// already name a token endpoint are used as is.
func Endpoint(authority, tokenPath string) string {
	authority = strings.TrimRight(strings.TrimSpace(authority), "/")
	if strings.HasSuffix(authority, "/token") {
		return authority
	}
	if tokenPath == "" {
		tokenPath = DefaultTokenPath
	}
	if !strings.HasPrefix(tokenPath, "/") {
		tokenPath = "/" + tokenPath
	}
	return authority + tokenPath
}
