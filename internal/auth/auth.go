// Package auth resolves API bearer tokens into scoped principals.
package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
)

// Scopes understood by the API.
const (
	ScopeAll       = "*"
	ScopeRunnersRO = "runners:ro"
	ScopeRunnersRW = "runners:rw"
	ScopeEventsRO  = "events:ro"
	ScopeMetricsRO = "metrics:ro"
)

// implied lists scopes granted alongside another.
var implied = map[string][]string{
	ScopeRunnersRW: {ScopeRunnersRO},
}

// KnownScope reports whether s is a scope the API checks for.
func KnownScope(s string) bool {
	switch s {
	case ScopeAll, ScopeRunnersRO, ScopeRunnersRW, ScopeEventsRO, ScopeMetricsRO:
		return true
	}
	return false
}

var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrMalformed    = errors.New("invalid Authorization header format")
)

// TokenConfig is a bearer token with a set of scopes.
type TokenConfig struct {
	Token  string
	Scopes []string
}

// Principal is an authenticated caller.
type Principal struct {
	// Label identifies the token in logs without revealing it.
	Label  string
	scopes map[string]struct{}
}

// Allows reports whether p holds at least one of required. No requirement
// always passes.
func (p Principal) Allows(required ...string) bool {
	if len(required) == 0 {
		return true
	}
	if _, ok := p.scopes[ScopeAll]; ok {
		return true
	}
	for _, s := range required {
		if _, ok := p.scopes[s]; ok {
			return true
		}
	}
	return false
}

type keyEntry struct {
	digest    [sha256.Size]byte
	principal Principal
}

// Keyring holds the configured tokens, stored as digests so comparisons run
// over equal-length values.
type Keyring struct {
	keys []keyEntry
}

// NewKeyring builds a keyring. A non-empty legacyKey authenticates with
// every scope.
func NewKeyring(legacyKey string, tokens []TokenConfig) *Keyring {
	k := &Keyring{}
	if legacyKey != "" {
		k.add(legacyKey, []string{ScopeAll})
	}
	for _, t := range tokens {
		if t.Token != "" {
			k.add(t.Token, t.Scopes)
		}
	}
	return k
}

func (k *Keyring) add(token string, scopes []string) {
	set := make(map[string]struct{}, len(scopes))
	for _, s := range scopes {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		set[s] = struct{}{}
		for _, extra := range implied[s] {
			set[extra] = struct{}{}
		}
	}
	k.keys = append(k.keys, keyEntry{
		digest:    sha256.Sum256([]byte(token)),
		principal: Principal{Label: label(token), scopes: set},
	})
}

// Lookup returns the principal owning presented. Every entry is compared so
// timing does not reveal which one matched.
func (k *Keyring) Lookup(presented string) (Principal, bool) {
	if presented == "" {
		return Principal{}, false
	}
	d := sha256.Sum256([]byte(presented))
	var (
		found Principal
		ok    bool
	)
	for _, e := range k.keys {
		if subtle.ConstantTimeCompare(d[:], e.digest[:]) == 1 && !ok {
			found, ok = e.principal, true
		}
	}
	return found, ok
}

func label(token string) string {
	if len(token) <= 4 {
		return "****"
	}
	return "****" + token[len(token)-4:]
}

// BearerToken extracts the token from an "Authorization: Bearer" header.
func BearerToken(r *http.Request) (string, error) {
	h := r.Header.Get("Authorization")
	if h == "" {
		return "", ErrMissingToken
	}
	token, found := strings.CutPrefix(h, "Bearer ")
	if !found {
		return "", ErrMalformed
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", ErrMissingToken
	}
	return token, nil
}

type principalKey struct{}

func NewContext(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func FromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}
