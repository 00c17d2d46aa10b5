package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds runtime configuration sourced from env vars.
type Config struct {
	Port        string
	DatabaseURL string

	JWTSecret string
	JWTIssuer string

	AccessTTL   time.Duration
	RememberTTL time.Duration
	RefreshTTL  time.Duration

	LockoutThreshold int
	LockoutDuration  time.Duration

	RateBurst  int
	RatePerSec int

	CORSOrigins []string
}

// Load reads configuration from the environment and performs minimal validation.
func Load() (Config, error) {
	cfg := Config{
		Port:             fallback(os.Getenv("PORT"), "8080"),
		DatabaseURL:      strings.TrimSpace(os.Getenv("VG_PG_DSN")),
		JWTSecret:        strings.TrimSpace(os.Getenv("VG_AUTH_SECRET")),
		JWTIssuer:        fallback(os.Getenv("VG_JWT_ISSUER"), "villagegrid"),
		AccessTTL:        durationEnv("VG_ACCESS_TTL", 24*time.Hour),
		RememberTTL:      durationEnv("VG_REMEMBER_TTL", 30*24*time.Hour),
		RefreshTTL:       durationEnv("VG_REFRESH_TTL", 7*24*time.Hour),
		LockoutThreshold: intEnv("VG_LOCKOUT_THRESHOLD", 5),
		LockoutDuration:  durationEnv("VG_LOCKOUT_DURATION", 15*time.Minute),
		RateBurst:        intEnv("VG_RATE_BURST", 20),
		RatePerSec:       intEnv("VG_RATE_PER_SEC", 10),
		CORSOrigins:      parseCSV(fallback(os.Getenv("VG_CORS_ORIGINS"), "")),
	}

	if cfg.JWTSecret == "" {
		return Config{}, errors.New("VG_AUTH_SECRET is required")
	}
	if cfg.LockoutThreshold < 1 {
		return Config{}, errors.New("VG_LOCKOUT_THRESHOLD must be >= 1")
	}

	return cfg, nil
}

// HTTPAddress returns the host:port pair for the HTTP server to bind to.
func (c Config) HTTPAddress() string {
	return fmt.Sprintf(":%s", c.Port)
}

func fallback(value, def string) string {
	if strings.TrimSpace(value) == "" {
		return def
	}
	return strings.TrimSpace(value)
}

func durationEnv(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func intEnv(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}

func parseCSV(input string) []string {
	if input == "" {
		return nil
	}
	parts := strings.Split(input, ",")
	var out []string
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
