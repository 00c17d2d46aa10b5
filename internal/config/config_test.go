package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("VG_AUTH_SECRET", "unit-test-secret")
	for _, key := range []string{"PORT", "VG_JWT_ISSUER", "VG_ACCESS_TTL",
		"VG_REMEMBER_TTL", "VG_LOCKOUT_THRESHOLD", "VG_LOCKOUT_DURATION"} {
		t.Setenv(key, "")
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != "8080" {
		t.Fatalf("port = %q", cfg.Port)
	}
	if cfg.JWTIssuer != "villagegrid" {
		t.Fatalf("issuer = %q", cfg.JWTIssuer)
	}
	if cfg.AccessTTL != 24*time.Hour || cfg.RememberTTL != 30*24*time.Hour {
		t.Fatalf("ttls = %v / %v", cfg.AccessTTL, cfg.RememberTTL)
	}
	if cfg.LockoutThreshold != 5 || cfg.LockoutDuration != 15*time.Minute {
		t.Fatalf("lockout = %d / %v", cfg.LockoutThreshold, cfg.LockoutDuration)
	}
	if cfg.HTTPAddress() != ":8080" {
		t.Fatalf("address = %q", cfg.HTTPAddress())
	}
}

func TestLoadRequiresSecret(t *testing.T) {
	t.Setenv("VG_AUTH_SECRET", "")
	if _, err := Load(); err == nil {
		t.Fatal("expected error without VG_AUTH_SECRET")
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("VG_AUTH_SECRET", "unit-test-secret")
	t.Setenv("PORT", "9090")
	t.Setenv("VG_ACCESS_TTL", "2h")
	t.Setenv("VG_LOCKOUT_THRESHOLD", "3")
	t.Setenv("VG_CORS_ORIGINS", "https://a.example, https://b.example")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != "9090" || cfg.AccessTTL != 2*time.Hour || cfg.LockoutThreshold != 3 {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
	if len(cfg.CORSOrigins) != 2 || cfg.CORSOrigins[1] != "https://b.example" {
		t.Fatalf("cors = %v", cfg.CORSOrigins)
	}
}

func TestBadDurationFallsBack(t *testing.T) {
	t.Setenv("VG_AUTH_SECRET", "unit-test-secret")
	t.Setenv("VG_ACCESS_TTL", "not-a-duration")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.AccessTTL != 24*time.Hour {
		t.Fatalf("ttl = %v, want default", cfg.AccessTTL)
	}
}
