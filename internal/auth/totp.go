package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

const (
	totpPeriod = 30
	// totpSkew accepts codes from ±2 time steps (±60s) around now.
	totpSkew        = 2
	backupCodeCount = 10
	backupCodeBytes = 5
)

// generateTOTPSecret creates a fresh base32 TOTP secret and the otpauth URL
// an authenticator app can enroll from.
func generateTOTPSecret(issuer, accountName string) (secret, qrPayload string, err error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      issuer,
		AccountName: accountName,
		Period:      totpPeriod,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return "", "", fmt.Errorf("generate totp secret: %w", err)
	}
	return key.Secret(), key.URL(), nil
}

// verifyTOTPCode validates a six-digit code against the secret with the
// configured tolerance window.
func verifyTOTPCode(code, secret string, at time.Time) bool {
	ok, err := totp.ValidateCustom(code, secret, at, totp.ValidateOpts{
		Period:    totpPeriod,
		Skew:      totpSkew,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	return err == nil && ok
}

// generateBackupCodes returns ten random one-time codes.
func generateBackupCodes() ([]string, error) {
	codes := make([]string, 0, backupCodeCount)
	buf := make([]byte, backupCodeBytes)
	for i := 0; i < backupCodeCount; i++ {
		if _, err := rand.Read(buf); err != nil {
			return nil, fmt.Errorf("generate backup code: %w", err)
		}
		codes = append(codes, hex.EncodeToString(buf))
	}
	return codes, nil
}

func backupCodeEqual(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
