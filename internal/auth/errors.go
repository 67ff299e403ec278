package auth

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrInvalidInput       = errors.New("auth: invalid input")
	ErrNotFound           = errors.New("auth: not found")
	ErrConflict           = errors.New("auth: resource conflict")
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	ErrAccountLocked      = errors.New("auth: account locked")
	ErrAccountInactive    = errors.New("auth: account inactive")
	ErrTwoFactorRequired  = errors.New("auth: two-factor code required")
	ErrInvalidTwoFactor   = errors.New("auth: invalid two-factor code")
	ErrInvalidToken       = errors.New("auth: invalid token")
)

// LockedError reports how long an account remains locked. It matches
// ErrAccountLocked under errors.Is so callers can branch on the sentinel.
// Remaining is fixed at construction against the session manager's clock.
type LockedError struct {
	Until     time.Time
	Remaining time.Duration
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("auth: account locked for another %d minute(s)", e.RemainingMinutes())
}

func (e *LockedError) Is(target error) bool { return target == ErrAccountLocked }

// RemainingMinutes returns the wait time rounded up to whole minutes, never
// less than one while the lock is in effect.
func (e *LockedError) RemainingMinutes() int {
	if e.Remaining <= 0 {
		return 0
	}
	minutes := int((e.Remaining + time.Minute - 1) / time.Minute)
	if minutes < 1 {
		minutes = 1
	}
	return minutes
}
