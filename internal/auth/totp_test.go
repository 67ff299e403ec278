package auth

import (
	"strings"
	"testing"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

func TestGenerateTOTPSecret(t *testing.T) {
	secret, qrPayload, err := generateTOTPSecret("finnexus", "alice@example.com")
	if err != nil {
		t.Fatalf("generateTOTPSecret: %v", err)
	}
	if secret == "" {
		t.Fatal("empty secret")
	}
	if !strings.HasPrefix(qrPayload, "otpauth://totp/") {
		t.Fatalf("qr payload = %q", qrPayload)
	}
	if !strings.Contains(qrPayload, "finnexus") {
		t.Fatalf("qr payload missing issuer: %q", qrPayload)
	}
}

func TestVerifyTOTPCodeWindow(t *testing.T) {
	secret, _, err := generateTOTPSecret("finnexus", "alice@example.com")
	if err != nil {
		t.Fatalf("generateTOTPSecret: %v", err)
	}
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	code, err := totp.GenerateCodeCustom(secret, now, totp.ValidateOpts{
		Period: totpPeriod, Digits: otp.DigitsSix, Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil {
		t.Fatalf("GenerateCodeCustom: %v", err)
	}

	if !verifyTOTPCode(code, secret, now) {
		t.Fatal("current code rejected")
	}
	// Inside the ±2 step tolerance.
	if !verifyTOTPCode(code, secret, now.Add(2*totpPeriod*time.Second)) {
		t.Fatal("code within skew rejected")
	}
	// Outside the tolerance.
	if verifyTOTPCode(code, secret, now.Add(5*totpPeriod*time.Second)) {
		t.Fatal("stale code accepted")
	}
	if verifyTOTPCode("000000", secret, now) && code != "000000" {
		t.Fatal("arbitrary code accepted")
	}
}

func TestGenerateBackupCodes(t *testing.T) {
	codes, err := generateBackupCodes()
	if err != nil {
		t.Fatalf("generateBackupCodes: %v", err)
	}
	if len(codes) != backupCodeCount {
		t.Fatalf("got %d codes, want %d", len(codes), backupCodeCount)
	}
	seen := make(map[string]struct{}, len(codes))
	for _, code := range codes {
		if len(code) != backupCodeBytes*2 {
			t.Fatalf("code %q has length %d", code, len(code))
		}
		if _, dup := seen[code]; dup {
			t.Fatalf("duplicate backup code %q", code)
		}
		seen[code] = struct{}{}
	}
}

func TestBackupCodeEqual(t *testing.T) {
	if !backupCodeEqual("abc123", "abc123") {
		t.Fatal("equal codes rejected")
	}
	if backupCodeEqual("abc123", "abc124") {
		t.Fatal("different codes accepted")
	}
	if backupCodeEqual("abc123", "abc1234") {
		t.Fatal("different length codes accepted")
	}
}
