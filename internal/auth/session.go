package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"finnexus.org/internal/audit"
	"finnexus.org/internal/obs"
)

// Audit event types emitted by the session manager.
const (
	EventLoginSuccess      = "USER_LOGIN_SUCCESS"
	EventLoginFailed       = "USER_LOGIN_FAILED"
	EventLogout            = "USER_LOGOUT"
	EventTokenRefreshed    = "TOKEN_REFRESHED"
	EventUserRegistered    = "USER_REGISTERED"
	EventUserDeactivated   = "USER_DEACTIVATED"
	EventPasswordChanged   = "PASSWORD_CHANGED"
	EventTwoFactorSetup    = "TWO_FACTOR_SETUP"
	EventTwoFactorEnabled  = "TWO_FACTOR_ENABLED"
	EventTwoFactorDisabled = "TWO_FACTOR_DISABLED"
)

const (
	defaultAccessTTL        = 24 * time.Hour
	defaultRefreshTTL       = 7 * 24 * time.Hour
	defaultRememberMeTTL    = 30 * 24 * time.Hour
	defaultLockoutThreshold = 5
	defaultLockoutDuration  = 30 * time.Minute
)

// Credentials is the login input.
type Credentials struct {
	Email         string
	Password      string
	TwoFactorCode string
	RememberMe    bool
}

// SessionManager authenticates users, issues and revokes bearer tokens and
// manages two-factor enrollment. All failure paths fail closed.
type SessionManager struct {
	store  Store
	audit  *audit.Recorder
	signer *tokenSigner
	box    *SecretBox
	now    func() time.Time

	issuer           string
	accessTTL        time.Duration
	refreshTTL       time.Duration
	rememberMeTTL    time.Duration
	lockoutThreshold int
	lockoutDuration  time.Duration
	bcryptCost       int

	// attempts serializes login attempts per account so concurrent failures
	// cannot race past the lockout threshold.
	attempts keyedMutex
}

// SessionOption configures SessionManager behavior.
type SessionOption func(*SessionManager) error

// WithAccessTTL overrides the access token lifetime.
func WithAccessTTL(ttl time.Duration) SessionOption {
	return func(m *SessionManager) error {
		if ttl > 0 {
			m.accessTTL = ttl
		}
		return nil
	}
}

// WithRefreshTTL overrides the refresh token lifetimes.
func WithRefreshTTL(ttl, rememberMe time.Duration) SessionOption {
	return func(m *SessionManager) error {
		if ttl > 0 {
			m.refreshTTL = ttl
		}
		if rememberMe > 0 {
			m.rememberMeTTL = rememberMe
		}
		return nil
	}
}

// WithLockoutPolicy overrides the failed-attempt threshold and lock duration.
func WithLockoutPolicy(threshold int, duration time.Duration) SessionOption {
	return func(m *SessionManager) error {
		if threshold > 0 {
			m.lockoutThreshold = threshold
		}
		if duration > 0 {
			m.lockoutDuration = duration
		}
		return nil
	}
}

// WithBcryptCost overrides the password hashing cost factor.
func WithBcryptCost(cost int) SessionOption {
	return func(m *SessionManager) error {
		m.bcryptCost = cost
		return nil
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) SessionOption {
	return func(m *SessionManager) error {
		if fn != nil {
			m.now = fn
		}
		return nil
	}
}

// NewSessionManager constructs the manager. tokenSecret signs bearer tokens;
// boxKey (32 bytes) seals two-factor material at rest.
func NewSessionManager(store Store, rec *audit.Recorder, tokenSecret, boxKey []byte, issuer string, opts ...SessionOption) (*SessionManager, error) {
	if store == nil {
		return nil, errors.New("store is required")
	}
	signer, err := newTokenSigner(tokenSecret, issuer)
	if err != nil {
		return nil, err
	}
	box, err := NewSecretBox(boxKey)
	if err != nil {
		return nil, err
	}
	m := &SessionManager{
		store:            store,
		audit:            rec,
		signer:           signer,
		box:              box,
		now:              time.Now,
		issuer:           issuer,
		accessTTL:        defaultAccessTTL,
		refreshTTL:       defaultRefreshTTL,
		rememberMeTTL:    defaultRememberMeTTL,
		lockoutThreshold: defaultLockoutThreshold,
		lockoutDuration:  defaultLockoutDuration,
		bcryptCost:       DefaultBcryptCost,
	}
	for _, opt := range opts {
		if err := opt(m); err != nil {
			return nil, err
		}
	}
	// Token verification must follow the same clock as issuance (review F5).
	m.signer.now = m.now
	return m, nil
}

// Authenticate verifies credentials and issues a token pair. The failure
// order is fixed: unknown account, lockout, inactive status, password,
// two-factor. Unknown accounts and bad passwords are indistinguishable.
func (m *SessionManager) Authenticate(ctx context.Context, creds Credentials) (*Session, error) {
	email := strings.TrimSpace(strings.ToLower(creds.Email))
	if email == "" || creds.Password == "" {
		obs.LoginObserved("invalid")
		return nil, ErrInvalidCredentials
	}

	unlock := m.attempts.lock(email)
	defer unlock()

	user, err := m.store.Users(ctx).FindByEmail(ctx, email)
	if err != nil {
		obs.LoginObserved("invalid")
		return nil, ErrInvalidCredentials
	}
	now := m.now().UTC()
	if user.LockedUntil != nil && user.LockedUntil.After(now) {
		obs.LoginObserved("locked")
		return nil, &LockedError{Until: *user.LockedUntil, Remaining: user.LockedUntil.Sub(now)}
	}
	if user.Status != UserStatusActive {
		obs.LoginObserved("inactive")
		return nil, ErrAccountInactive
	}
	if err := VerifyPassword(user.PasswordHash, creds.Password); err != nil {
		m.registerFailure(ctx, user, now, "password")
		obs.LoginObserved("invalid")
		return nil, ErrInvalidCredentials
	}
	if user.TwoFactorEnabled {
		if strings.TrimSpace(creds.TwoFactorCode) == "" {
			obs.LoginObserved("two_factor_required")
			return nil, ErrTwoFactorRequired
		}
		secret, err := m.box.Open(user.TwoFactorSecret)
		if err != nil || !verifyTOTPCode(strings.TrimSpace(creds.TwoFactorCode), string(secret), now) {
			m.registerFailure(ctx, user, now, "two_factor")
			obs.LoginObserved("invalid")
			return nil, ErrInvalidTwoFactor
		}
	}

	if err := m.store.Users(ctx).RecordLoginSuccess(ctx, user.ID, now); err != nil {
		return nil, fmt.Errorf("record login: %w", err)
	}
	user.FailedLogins = 0
	user.LockedUntil = nil
	user.LastLoginAt = &now

	session, err := m.issueSession(ctx, user, now, creds.RememberMe)
	if err != nil {
		return nil, err
	}
	obs.LoginObserved("success")
	m.audit.Record(ctx, EventLoginSuccess, user.ID, user.ID, map[string]any{"email": user.Email})
	return session, nil
}

// registerFailure bumps the failed-login counter and arms the lockout when
// the configured threshold is reached. It never returns an error: lockout
// bookkeeping must not mask the credential failure the caller reports.
func (m *SessionManager) registerFailure(ctx context.Context, user *User, now time.Time, reason string) {
	failed := user.FailedLogins + 1
	var lockedUntil *time.Time
	if failed >= m.lockoutThreshold {
		until := now.Add(m.lockoutDuration)
		lockedUntil = &until
	}
	if err := m.store.Users(ctx).RecordLoginFailure(ctx, user.ID, failed, lockedUntil); err != nil {
		obs.Logger().Printf(`{"level":"warn","msg":"record login failure","user_id":%q,"error":%q}`, user.ID, err.Error())
	}
	details := map[string]any{"reason": reason, "failed_attempts": failed}
	if lockedUntil != nil {
		details["locked_until"] = lockedUntil.UTC()
	}
	m.audit.Record(ctx, EventLoginFailed, user.ID, user.ID, details)
}

func (m *SessionManager) issueSession(ctx context.Context, user *User, now time.Time, rememberMe bool) (*Session, error) {
	roles := m.activeRoleNames(ctx, user.ID)

	accessToken, _, accessExp, err := m.signer.sign(user, roles, TokenKindAccess, now, m.accessTTL)
	if err != nil {
		return nil, fmt.Errorf("sign access token: %w", err)
	}
	refreshTTL := m.refreshTTL
	if rememberMe {
		refreshTTL = m.rememberMeTTL
	}
	refreshToken, jti, refreshExp, err := m.signer.sign(user, nil, TokenKindRefresh, now, refreshTTL)
	if err != nil {
		return nil, fmt.Errorf("sign refresh token: %w", err)
	}
	rec := &RefreshToken{
		ID:        jti,
		UserID:    user.ID,
		TokenHash: hashToken(refreshToken),
		ExpiresAt: refreshExp,
		CreatedAt: now,
	}
	if err := m.store.RefreshTokens(ctx).Create(ctx, rec); err != nil {
		return nil, fmt.Errorf("persist refresh token: %w", err)
	}
	return &Session{
		AccessToken:      accessToken,
		RefreshToken:     refreshToken,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
		User:             user,
	}, nil
}

// activeRoleNames loads role names for token claims. Claims are advisory
// (resolved again per decision); a store failure yields no role claims.
func (m *SessionManager) activeRoleNames(ctx context.Context, userID string) []string {
	assignments, err := m.store.Assignments(ctx).ActiveByUser(ctx, userID)
	if err != nil {
		return nil
	}
	seen := make(map[string]struct{}, len(assignments))
	var names []string
	for _, a := range assignments {
		if _, ok := seen[a.RoleName]; ok {
			continue
		}
		seen[a.RoleName] = struct{}{}
		names = append(names, a.RoleName)
	}
	return names
}

// Refresh verifies a refresh token against the persisted record and issues a
// new access token. Every failure is reported as ErrInvalidToken: the caller
// learns nothing about which check failed.
func (m *SessionManager) Refresh(ctx context.Context, refreshToken string) (*Session, error) {
	claims, err := m.signer.parse(refreshToken, TokenKindRefresh)
	if err != nil {
		return nil, ErrInvalidToken
	}
	rec, err := m.store.RefreshTokens(ctx).Find(ctx, claims.ID)
	if err != nil {
		return nil, ErrInvalidToken
	}
	now := m.now().UTC()
	if now.After(rec.ExpiresAt) {
		return nil, ErrInvalidToken
	}
	if !tokenHashEqual(rec.TokenHash, refreshToken) {
		return nil, ErrInvalidToken
	}
	user, err := m.store.Users(ctx).Find(ctx, rec.UserID)
	if err != nil || user.Status != UserStatusActive {
		return nil, ErrInvalidToken
	}

	roles := m.activeRoleNames(ctx, user.ID)
	accessToken, _, accessExp, err := m.signer.sign(user, roles, TokenKindAccess, now, m.accessTTL)
	if err != nil {
		return nil, fmt.Errorf("sign access token: %w", err)
	}
	m.audit.Record(ctx, EventTokenRefreshed, user.ID, user.ID, nil)
	return &Session{
		AccessToken:     accessToken,
		AccessExpiresAt: accessExp,
		User:            user,
	}, nil
}

// VerifyAccessToken validates an access token and returns its claims.
func (m *SessionManager) VerifyAccessToken(token string) (*Claims, error) {
	return m.signer.parse(token, TokenKindAccess)
}

// Logout deletes the persisted refresh token if present. It is idempotent
// and always succeeds; an expired or malformed token still yields a clean
// logout.
func (m *SessionManager) Logout(ctx context.Context, userID, refreshToken string) {
	claims, err := m.signer.parseUnverifiedExpiry(refreshToken)
	if err == nil && claims.TokenKind == TokenKindRefresh {
		if userID == "" || claims.Subject == userID {
			if err := m.store.RefreshTokens(ctx).Delete(ctx, claims.ID); err != nil {
				obs.Logger().Printf(`{"level":"warn","msg":"delete refresh token","error":%q}`, err.Error())
			}
		}
	}
	m.audit.Record(ctx, EventLogout, userID, userID, nil)
}

// Register creates a credential record. Email uniqueness is enforced by the
// store (case-insensitive); a duplicate surfaces as ErrConflict.
func (m *SessionManager) Register(ctx context.Context, email, username, password string) (*User, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, fmt.Errorf("%w: valid email is required", ErrInvalidInput)
	}
	if len(password) < 8 {
		return nil, fmt.Errorf("%w: password must be at least 8 characters", ErrInvalidInput)
	}
	hash, err := HashPassword(password, m.bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	now := m.now().UTC()
	user := &User{
		Email:        email,
		Username:     strings.TrimSpace(username),
		PasswordHash: hash,
		Status:       UserStatusActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := m.store.Users(ctx).Create(ctx, user); err != nil {
		return nil, err
	}
	m.audit.Record(ctx, EventUserRegistered, user.ID, user.ID, map[string]any{"email": user.Email})
	return user, nil
}

// ChangePassword re-hashes the password after verifying the current one.
// A successful change clears any lockout state.
func (m *SessionManager) ChangePassword(ctx context.Context, userID, current, newPassword string) error {
	user, err := m.store.Users(ctx).Find(ctx, userID)
	if err != nil {
		return err
	}
	if err := VerifyPassword(user.PasswordHash, current); err != nil {
		return ErrInvalidCredentials
	}
	if len(newPassword) < 8 {
		return fmt.Errorf("%w: password must be at least 8 characters", ErrInvalidInput)
	}
	hash, err := HashPassword(newPassword, m.bcryptCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := m.store.Users(ctx).UpdatePassword(ctx, userID, hash); err != nil {
		return err
	}
	m.audit.Record(ctx, EventPasswordChanged, userID, userID, nil)
	return nil
}

// Deactivate flips the account to inactive and revokes its refresh tokens.
// Credential records are never hard-deleted.
func (m *SessionManager) Deactivate(ctx context.Context, userID, actorID string) error {
	if err := m.store.Users(ctx).UpdateStatus(ctx, userID, UserStatusInactive); err != nil {
		return err
	}
	if err := m.store.RefreshTokens(ctx).DeleteByUser(ctx, userID); err != nil {
		obs.Logger().Printf(`{"level":"warn","msg":"revoke refresh tokens","user_id":%q,"error":%q}`, userID, err.Error())
	}
	m.audit.Record(ctx, EventUserDeactivated, actorID, userID, nil)
	return nil
}

// SetupTwoFactor generates a fresh TOTP secret and ten backup codes, seals
// both into storage and returns the plaintext exactly once. The enrollment
// stays pending until EnableTwoFactor confirms a code.
func (m *SessionManager) SetupTwoFactor(ctx context.Context, userID string) (*TwoFactorSetup, error) {
	user, err := m.store.Users(ctx).Find(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user.TwoFactorEnabled {
		return nil, fmt.Errorf("%w: two-factor already enabled", ErrConflict)
	}
	secret, qrPayload, err := generateTOTPSecret(m.issuer, user.Email)
	if err != nil {
		return nil, err
	}
	codes, err := generateBackupCodes()
	if err != nil {
		return nil, err
	}
	sealedSecret, err := m.box.Seal([]byte(secret))
	if err != nil {
		return nil, fmt.Errorf("seal secret: %w", err)
	}
	sealedCodes := make([][]byte, 0, len(codes))
	for _, code := range codes {
		sealed, err := m.box.Seal([]byte(code))
		if err != nil {
			return nil, fmt.Errorf("seal backup code: %w", err)
		}
		sealedCodes = append(sealedCodes, sealed)
	}
	if err := m.store.Users(ctx).UpdateTwoFactor(ctx, userID, false, sealedSecret, sealedCodes); err != nil {
		return nil, err
	}
	m.audit.Record(ctx, EventTwoFactorSetup, userID, userID, nil)
	return &TwoFactorSetup{Secret: secret, QRPayload: qrPayload, BackupCodes: codes}, nil
}

// EnableTwoFactor confirms the pending enrollment with a live TOTP code.
// A bad code mutates nothing.
func (m *SessionManager) EnableTwoFactor(ctx context.Context, userID, code string) error {
	user, err := m.store.Users(ctx).Find(ctx, userID)
	if err != nil {
		return err
	}
	if user.TwoFactorEnabled {
		return fmt.Errorf("%w: two-factor already enabled", ErrConflict)
	}
	if len(user.TwoFactorSecret) == 0 {
		return fmt.Errorf("%w: two-factor setup not started", ErrNotFound)
	}
	secret, err := m.box.Open(user.TwoFactorSecret)
	if err != nil {
		return fmt.Errorf("unseal secret: %w", err)
	}
	if !verifyTOTPCode(strings.TrimSpace(code), string(secret), m.now().UTC()) {
		return ErrInvalidTwoFactor
	}
	if err := m.store.Users(ctx).UpdateTwoFactor(ctx, userID, true, user.TwoFactorSecret, user.BackupCodes); err != nil {
		return err
	}
	m.audit.Record(ctx, EventTwoFactorEnabled, userID, userID, nil)
	return nil
}

// DisableTwoFactor turns two-factor off given either a live TOTP code or an
// unused backup code. Success clears the secret and every backup code, so a
// consumed code can never be presented again.
func (m *SessionManager) DisableTwoFactor(ctx context.Context, userID, code string) error {
	user, err := m.store.Users(ctx).Find(ctx, userID)
	if err != nil {
		return err
	}
	if !user.TwoFactorEnabled {
		return fmt.Errorf("%w: two-factor not enabled", ErrNotFound)
	}
	code = strings.TrimSpace(code)
	verified := false
	if secret, err := m.box.Open(user.TwoFactorSecret); err == nil {
		verified = verifyTOTPCode(code, string(secret), m.now().UTC())
	}
	if !verified {
		for _, sealed := range user.BackupCodes {
			plain, err := m.box.Open(sealed)
			if err != nil {
				continue
			}
			if backupCodeEqual(string(plain), code) {
				verified = true
				break
			}
		}
	}
	if !verified {
		return ErrInvalidTwoFactor
	}
	if err := m.store.Users(ctx).UpdateTwoFactor(ctx, userID, false, nil, nil); err != nil {
		return err
	}
	m.audit.Record(ctx, EventTwoFactorDisabled, userID, userID, nil)
	return nil
}

// keyedMutex serializes callers by string key with refcounted entries.
type keyedMutex struct {
	mu      sync.Mutex
	entries map[string]*keyedMutexEntry
}

type keyedMutexEntry struct {
	mu   sync.Mutex
	refs int
}

func (k *keyedMutex) lock(key string) (unlock func()) {
	k.mu.Lock()
	if k.entries == nil {
		k.entries = make(map[string]*keyedMutexEntry)
	}
	e, ok := k.entries[key]
	if !ok {
		e = &keyedMutexEntry{}
		k.entries[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.entries, key)
		}
		k.mu.Unlock()
	}
}
