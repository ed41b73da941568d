// Package auth maps bearer tokens to key namespaces.
package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
)

var ErrUnauthorized = errors.New("unauthorized")

// Authenticator resolves a caller's token to the prefix prepended to every
// key it touches. An Authenticator with no tokens is disabled and lets every
// caller through with an empty prefix.
type Authenticator struct {
	tokens map[string]string
}

// New parses "token=namespace" pairs.
func New(pairs []string) (*Authenticator, error) {
	a := &Authenticator{tokens: make(map[string]string, len(pairs))}
	for _, p := range pairs {
		token, ns, ok := strings.Cut(p, "=")
		if !ok || token == "" || ns == "" {
			return nil, fmt.Errorf("invalid auth token %q, expected token=namespace", p)
		}
		if strings.ContainsAny(ns, " \t\r\n:") {
			return nil, fmt.Errorf("invalid namespace %q", ns)
		}
		a.tokens[token] = ns
	}
	return a, nil
}

// Enabled reports whether callers must present a token.
func (a *Authenticator) Enabled() bool {
	return a != nil && len(a.tokens) > 0
}

// Prefix returns the key prefix for token.
func (a *Authenticator) Prefix(token string) (string, error) {
	if !a.Enabled() {
		return "", nil
	}
	for t, ns := range a.tokens {
		if subtle.ConstantTimeCompare([]byte(t), []byte(token)) == 1 {
			return ns + ":", nil
		}
	}
	return "", ErrUnauthorized
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
		return "", false
	}
	return strings.TrimSpace(token), true
}
