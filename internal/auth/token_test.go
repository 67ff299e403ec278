package auth

import (
	"errors"
	"testing"
	"time"
)

var testTokenSecret = []byte("0123456789abcdef0123456789abcdef")

func newTestSigner(t *testing.T) *tokenSigner {
	t.Helper()
	signer, err := newTokenSigner(testTokenSecret, "finnexus")
	if err != nil {
		t.Fatalf("newTokenSigner: %v", err)
	}
	return signer
}

func TestTokenSignAndParse(t *testing.T) {
	signer := newTestSigner(t)
	user := &User{ID: "u-1", Email: "alice@example.com", Username: "alice"}
	now := time.Now()

	token, jti, exp, err := signer.sign(user, []string{"trader"}, TokenKindAccess, now, time.Hour)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if jti == "" {
		t.Fatal("empty jti")
	}
	if !exp.After(now) {
		t.Fatalf("expiry %v not after %v", exp, now)
	}

	claims, err := signer.parse(token, TokenKindAccess)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.Subject != "u-1" || claims.Email != "alice@example.com" {
		t.Fatalf("claims = %+v", claims)
	}
	if len(claims.Roles) != 1 || claims.Roles[0] != "trader" {
		t.Fatalf("roles = %v", claims.Roles)
	}
}

func TestTokenKindMismatch(t *testing.T) {
	signer := newTestSigner(t)
	user := &User{ID: "u-1", Email: "alice@example.com"}

	refresh, _, _, err := signer.sign(user, nil, TokenKindRefresh, time.Now(), time.Hour)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := signer.parse(refresh, TokenKindAccess); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("refresh token accepted as access token: %v", err)
	}
}

func TestTokenExpiryRejected(t *testing.T) {
	signer := newTestSigner(t)
	user := &User{ID: "u-1"}

	token, _, _, err := signer.sign(user, nil, TokenKindAccess, time.Now().Add(-2*time.Hour), time.Hour)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := signer.parse(token, TokenKindAccess); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expired token accepted: %v", err)
	}

	// Logout still needs the claims out of an expired token.
	claims, err := signer.parseUnverifiedExpiry(token)
	if err != nil {
		t.Fatalf("parseUnverifiedExpiry: %v", err)
	}
	if claims.Subject != "u-1" {
		t.Fatalf("claims = %+v", claims)
	}
}

func TestTokenWrongSecretRejected(t *testing.T) {
	signer := newTestSigner(t)
	other, err := newTokenSigner([]byte("ffffffffffffffffffffffffffffffff"), "finnexus")
	if err != nil {
		t.Fatalf("newTokenSigner: %v", err)
	}
	token, _, _, err := other.sign(&User{ID: "u-1"}, nil, TokenKindAccess, time.Now(), time.Hour)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := signer.parse(token, TokenKindAccess); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("token with wrong signature accepted: %v", err)
	}
}

func TestNewTokenSignerRejectsShortSecret(t *testing.T) {
	if _, err := newTokenSigner([]byte("short"), "finnexus"); err == nil {
		t.Fatal("expected error for a short secret")
	}
}

func TestTokenHashEqual(t *testing.T) {
	hash := hashToken("some.jwt.value")
	if !tokenHashEqual(hash, "some.jwt.value") {
		t.Fatal("hash mismatch for same token")
	}
	if tokenHashEqual(hash, "other.jwt.value") {
		t.Fatal("hash match for different token")
	}
}
