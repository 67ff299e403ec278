package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Token kinds embedded in the token_kind claim. An access token can never be
// replayed as a refresh token or vice versa.
const (
	TokenKindAccess  = "access"
	TokenKindRefresh = "refresh"
)

// Claims is the signed claim set carried by both token kinds.
type Claims struct {
	Email     string   `json:"email,omitempty"`
	Username  string   `json:"username,omitempty"`
	Roles     []string `json:"roles,omitempty"`
	TokenKind string   `json:"token_kind"`
	jwt.RegisteredClaims
}

// tokenSigner signs and verifies HS256 bearer tokens.
type tokenSigner struct {
	secret []byte
	issuer string
	now    func() time.Time
}

func newTokenSigner(secret []byte, issuer string) (*tokenSigner, error) {
	if len(secret) < 32 {
		return nil, errors.New("token secret must be at least 32 bytes")
	}
	return &tokenSigner{secret: secret, issuer: strings.TrimSpace(issuer), now: time.Now}, nil
}

// sign issues a token of the given kind. The returned jti keys the persisted
// refresh-token record.
func (s *tokenSigner) sign(user *User, roles []string, kind string, now time.Time, ttl time.Duration) (token, jti string, expiresAt time.Time, err error) {
	if user == nil || user.ID == "" {
		return "", "", time.Time{}, errors.New("user is required")
	}
	if ttl <= 0 {
		return "", "", time.Time{}, errors.New("ttl must be greater than zero")
	}
	now = now.UTC()
	expiresAt = now.Add(ttl)
	jti = uuid.NewString()
	claims := Claims{
		Email:     user.Email,
		Username:  user.Username,
		Roles:     roles,
		TokenKind: kind,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        jti,
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", "", time.Time{}, err
	}
	return signed, jti, expiresAt, nil
}

// parse verifies signature and registered claims and checks the token kind.
func (s *tokenSigner) parse(token, kind string) (*Claims, error) {
	claims, err := s.parseWith(token, jwt.WithIssuer(s.issuer), jwt.WithExpirationRequired())
	if err != nil {
		return nil, err
	}
	if claims.TokenKind != kind {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// parseUnverifiedExpiry extracts claims while tolerating an expired token.
// Logout uses it so an expired refresh token can still be purged.
func (s *tokenSigner) parseUnverifiedExpiry(token string) (*Claims, error) {
	return s.parseWith(token, jwt.WithoutClaimsValidation())
}

func (s *tokenSigner) parseWith(token string, opts ...jwt.ParserOption) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidToken
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrInvalidToken
		}
		return s.secret, nil
	}, append([]jwt.ParserOption{jwt.WithTimeFunc(s.now)}, opts...)...)
	if err != nil {
		return nil, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || strings.TrimSpace(claims.Subject) == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// hashToken derives the at-rest fingerprint of a presented token. Only this
// hash is persisted alongside the refresh-token record.
func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func tokenHashEqual(storedHash, token string) bool {
	actual := hashToken(token)
	if len(storedHash) != len(actual) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(storedHash), []byte(actual)) == 1
}
