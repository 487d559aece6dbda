// Package identity resolves the acting party from a ledger access token.
package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// ledgerClaimsKey is the namespace of the custom ledger claims in access tokens
const ledgerClaimsKey = "https://daml.com/ledger-api"

var (
	// ErrMissingToken is returned when no bearer token is supplied
	ErrMissingToken = errors.New("missing bearer token")
	// ErrMissingParty is returned when a token names no acting party
	ErrMissingParty = errors.New("token does not name an acting party")
)

// Identity is the acting user together with the token that authorizes it
type Identity struct {
	Party string
	Token string
}

// Resolver turns bearer tokens into identities
type Resolver struct {
	secret []byte
}

// NewResolver creates a resolver. With an empty secret tokens are decoded without
// signature verification and the ledger remains the verifying party.
func NewResolver(secret string) *Resolver {
	return &Resolver{secret: []byte(secret)}
}

// Resolve parses token and extracts the acting party
func (r *Resolver) Resolve(token string) (Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Identity{}, ErrMissingToken
	}

	claims := jwt.MapClaims{}
	if len(r.secret) == 0 {
		if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
			return Identity{}, fmt.Errorf("invalid token: %w", err)
		}
	} else {
		parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, errors.New("unexpected signing method")
			}
			return r.secret, nil
		})
		if err != nil || !parsed.Valid {
			return Identity{}, fmt.Errorf("invalid token: %w", err)
		}
	}

	party := partyFromClaims(claims)
	if party == "" {
		return Identity{}, ErrMissingParty
	}
	return Identity{Party: party, Token: token}, nil
}

// ResolveHeader resolves an Authorization header value of the form "Bearer <token>"
func (r *Resolver) ResolveHeader(header string) (Identity, error) {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return Identity{}, ErrMissingToken
	}
	return r.Resolve(parts[1])
}

// partyFromClaims prefers the first actAs party of the custom ledger claims and
// falls back to the standard subject
func partyFromClaims(claims jwt.MapClaims) string {
	if custom, ok := claims[ledgerClaimsKey].(map[string]interface{}); ok {
		if actAs, ok := custom["actAs"].([]interface{}); ok {
			for _, p := range actAs {
				if party, ok := p.(string); ok && party != "" {
					return party
				}
			}
		}
	}
	sub, _ := claims.GetSubject()
	return sub
}

type contextKey struct{}

// NewContext returns a context carrying id
func NewContext(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

// FromContext extracts the identity stored by NewContext
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(contextKey{}).(Identity)
	return id, ok
}
