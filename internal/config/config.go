// Package config loads service configuration from the environment. A local
// .env file is honored when present; real deployments set variables directly.
package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds every tunable of the access service.
type Config struct {
	ListenAddr      string
	PGDSN           string
	ShutdownTimeout time.Duration

	// TokenSecret signs bearer tokens (HS256, at least 32 bytes).
	TokenSecret []byte
	// TwoFactorKey seals TOTP secrets and backup codes at rest (32 bytes, hex).
	TwoFactorKey []byte
	Issuer       string

	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
	RememberMeTTL   time.Duration

	LockoutThreshold int
	LockoutDuration  time.Duration
	BcryptCost       int

	RateLimitPerSecond int
	RateLimitBurst     int
}

// Load reads configuration from the environment.
func Load() (*Config, error) {
	// Missing .env is the normal case outside local development.
	_ = godotenv.Load()

	cfg := &Config{
		ListenAddr:         envString("NEXUS_LISTEN_ADDR", ":8080"),
		PGDSN:              os.Getenv("NEXUS_PG_DSN"),
		ShutdownTimeout:    envDuration("NEXUS_SHUTDOWN_TIMEOUT", 10*time.Second),
		Issuer:             envString("NEXUS_TOKEN_ISSUER", "finnexus"),
		AccessTokenTTL:     envDuration("NEXUS_ACCESS_TOKEN_TTL", 24*time.Hour),
		RefreshTokenTTL:    envDuration("NEXUS_REFRESH_TOKEN_TTL", 7*24*time.Hour),
		RememberMeTTL:      envDuration("NEXUS_REMEMBER_ME_TTL", 30*24*time.Hour),
		LockoutThreshold:   envInt("NEXUS_LOCKOUT_THRESHOLD", 5),
		LockoutDuration:    envDuration("NEXUS_LOCKOUT_DURATION", 30*time.Minute),
		BcryptCost:         envInt("NEXUS_BCRYPT_COST", 12),
		RateLimitPerSecond: envInt("NEXUS_RATE_LIMIT_PER_SECOND", 20),
		RateLimitBurst:     envInt("NEXUS_RATE_LIMIT_BURST", 40),
	}

	secret := strings.TrimSpace(os.Getenv("NEXUS_TOKEN_SECRET"))
	if secret == "" {
		return nil, fmt.Errorf("NEXUS_TOKEN_SECRET is required")
	}
	if len(secret) < 32 {
		return nil, fmt.Errorf("NEXUS_TOKEN_SECRET must be at least 32 bytes")
	}
	cfg.TokenSecret = []byte(secret)

	rawKey := strings.TrimSpace(os.Getenv("NEXUS_TWO_FACTOR_KEY"))
	if rawKey == "" {
		return nil, fmt.Errorf("NEXUS_TWO_FACTOR_KEY is required")
	}
	key, err := hex.DecodeString(rawKey)
	if err != nil || len(key) != 32 {
		return nil, fmt.Errorf("NEXUS_TWO_FACTOR_KEY must be 64 hex characters (32 bytes)")
	}
	cfg.TwoFactorKey = key

	return cfg, nil
}

func envString(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
