package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testSigningSecret = "unit-test-signing-secret"

func newTestIssuer(t *testing.T, clock func() time.Time) *TokenIssuer {
	t.Helper()
	return NewTokenIssuer(TokenIssuerConfig{
		SigningSecret: []byte(testSigningSecret),
		Issuer:        "parley-auth",
		Audience:      "parley-api",
		TokenTTL:      time.Hour,
		Clock:         clock,
	})
}

func newTestVerifier(t *testing.T, clock func() time.Time) *Verifier {
	t.Helper()
	verifier, err := NewVerifier(VerifierConfig{
		SigningSecret: []byte(testSigningSecret),
		Issuer:        "parley-auth",
		Audience:      "parley-api",
		Clock:         clock,
	})
	if err != nil {
		t.Fatalf("unexpected verifier error: %v", err)
	}
	return verifier
}

func TestVerifyReturnsPrincipalFromIssuedToken(t *testing.T) {
	issuer := newTestIssuer(t, nil)
	verifier := newTestVerifier(t, nil)

	principal := Principal{ID: "user-1", DisplayName: "Ada", Email: "ada@example.com"}
	token, expiresIn, err := issuer.IssueToken(principal)
	if err != nil {
		t.Fatalf("unexpected issue error: %v", err)
	}
	if expiresIn != int64(time.Hour.Seconds()) {
		t.Fatalf("unexpected expiry: got %d", expiresIn)
	}

	verified, err := verifier.Verify(token)
	if err != nil {
		t.Fatalf("unexpected verify error: %v", err)
	}
	if verified != principal {
		t.Fatalf("unexpected principal: got %+v, want %+v", verified, principal)
	}
}

func TestVerifyFallsBackToEmailWhenDisplayNameMissing(t *testing.T) {
	issuer := newTestIssuer(t, nil)
	verifier := newTestVerifier(t, nil)

	token, _, err := issuer.IssueToken(Principal{ID: "user-2", Email: "grace@example.com"})
	if err != nil {
		t.Fatalf("unexpected issue error: %v", err)
	}

	verified, err := verifier.Verify(token)
	if err != nil {
		t.Fatalf("unexpected verify error: %v", err)
	}
	if verified.DisplayName != "grace@example.com" {
		t.Fatalf("expected email fallback, got %q", verified.DisplayName)
	}
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	issuedAt := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	issuer := newTestIssuer(t, func() time.Time { return issuedAt })
	verifier := newTestVerifier(t, func() time.Time { return issuedAt.Add(2 * time.Hour) })

	token, _, err := issuer.IssueToken(Principal{ID: "user-3", Email: "late@example.com"})
	if err != nil {
		t.Fatalf("unexpected issue error: %v", err)
	}

	if _, err := verifier.Verify(token); !errors.Is(err, ErrExpiredToken) {
		t.Fatalf("expected expired token error, got %v", err)
	}
}

func TestVerifyRejectsEmptyToken(t *testing.T) {
	verifier := newTestVerifier(t, nil)
	if _, err := verifier.Verify("   "); !errors.Is(err, ErrMissingToken) {
		t.Fatalf("expected missing token error, got %v", err)
	}
}

func TestVerifyRejectsForeignSignature(t *testing.T) {
	foreignIssuer := NewTokenIssuer(TokenIssuerConfig{
		SigningSecret: []byte("some-other-secret"),
		Issuer:        "parley-auth",
		Audience:      "parley-api",
	})
	token, _, err := foreignIssuer.IssueToken(Principal{ID: "user-4", Email: "mallory@example.com"})
	if err != nil {
		t.Fatalf("unexpected issue error: %v", err)
	}

	verifier := newTestVerifier(t, nil)
	if _, err := verifier.Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected invalid token error, got %v", err)
	}
}

func TestVerifyRejectsMissingSubject(t *testing.T) {
	claims := principalClaims{
		Email: "nobody@example.com",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "parley-auth",
			Audience:  []string{"parley-api"},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSigningSecret))
	if err != nil {
		t.Fatalf("unexpected signing error: %v", err)
	}

	verifier := newTestVerifier(t, nil)
	if _, err := verifier.Verify(token); !errors.Is(err, ErrMissingSubject) {
		t.Fatalf("expected missing subject error, got %v", err)
	}
}

func TestNewVerifierRequiresSigningSecret(t *testing.T) {
	if _, err := NewVerifier(VerifierConfig{}); !errors.Is(err, ErrMissingSigningSecret) {
		t.Fatalf("expected missing signing secret error, got %v", err)
	}
}
