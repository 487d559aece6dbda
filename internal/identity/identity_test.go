package identity

import (
	"context"
	"errors"
	"testing"

	"github.com/golang-jwt/jwt/v5"
)

func sign(t *testing.T, claims jwt.MapClaims, secret string) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("Failed to sign token: %v", err)
	}
	return token
}

func TestResolve(t *testing.T) {
	tests := []struct {
		name    string
		claims  jwt.MapClaims
		want    string
		wantErr error
	}{
		{
			name: "custom ledger claims",
			claims: jwt.MapClaims{
				ledgerClaimsKey: map[string]interface{}{"actAs": []interface{}{"alice"}, "applicationId": "dat"},
			},
			want: "alice",
		},
		{
			name:   "subject fallback",
			claims: jwt.MapClaims{"sub": "bob", "scope": "daml_ledger_api"},
			want:   "bob",
		},
		{
			name:    "no party",
			claims:  jwt.MapClaims{"scope": "daml_ledger_api"},
			wantErr: ErrMissingParty,
		},
	}

	resolver := NewResolver("")
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := resolver.Resolve(sign(t, tt.claims, "irrelevant"))
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Resolve() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Resolve() error = %v", err)
			}
			if id.Party != tt.want {
				t.Errorf("Resolve() party = %q, want %q", id.Party, tt.want)
			}
		})
	}
}

func TestResolveVerifiesSignatureWhenSecretSet(t *testing.T) {
	resolver := NewResolver("s3cret")

	good := sign(t, jwt.MapClaims{"sub": "alice"}, "s3cret")
	if id, err := resolver.Resolve(good); err != nil || id.Party != "alice" {
		t.Fatalf("Resolve(good) = %+v, %v", id, err)
	}

	bad := sign(t, jwt.MapClaims{"sub": "alice"}, "other")
	if _, err := resolver.Resolve(bad); err == nil {
		t.Error("Expected signature verification failure")
	}
}

func TestResolveHeader(t *testing.T) {
	resolver := NewResolver("")
	token := sign(t, jwt.MapClaims{"sub": "carol"}, "k")

	if id, err := resolver.ResolveHeader("Bearer " + token); err != nil || id.Party != "carol" || id.Token != token {
		t.Errorf("ResolveHeader() = %+v, %v", id, err)
	}
	if _, err := resolver.ResolveHeader("Basic abc"); !errors.Is(err, ErrMissingToken) {
		t.Errorf("ResolveHeader(Basic) error = %v, want ErrMissingToken", err)
	}
	if _, err := resolver.ResolveHeader(""); !errors.Is(err, ErrMissingToken) {
		t.Errorf("ResolveHeader(empty) error = %v, want ErrMissingToken", err)
	}
}

func TestContextRoundTrip(t *testing.T) {
	ctx := NewContext(context.Background(), Identity{Party: "alice"})
	if id, ok := FromContext(ctx); !ok || id.Party != "alice" {
		t.Errorf("FromContext() = %+v, %v", id, ok)
	}
	if _, ok := FromContext(context.Background()); ok {
		t.Error("Expected no identity in empty context")
	}
}
