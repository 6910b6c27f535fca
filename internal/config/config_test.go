package config

import (
	"strings"
	"testing"
	"time"
)

func validLocal() Config {
	return Config{
		App:  AppConfig{Env: "local", Port: 8080},
		DB:   DBConfig{Host: "localhost", Port: 5432, User: "postgres", Password: "x", Name: "callwallet"},
		Auth: AuthConfig{JWTSecret: "secret"},
	}
}

func TestLoad_ReportsMissingRequired(t *testing.T) {
	// Ensure a clean env by not setting anything and calling validation directly.
	c := Config{}
	if err := c.Validate(); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestValidate_ProductionRequiresSSLMode(t *testing.T) {
	c := validLocal()
	c.App.Env = "production"
	c.Auth.JWTIssuer, c.Auth.JWTAudience = "iss", "aud"
	if err := c.Validate(); err == nil || !strings.Contains(err.Error(), "DB_SSLMODE") {
		t.Fatalf("expected error for production without DB_SSLMODE, got %v", err)
	}
}

func TestValidate_LocalDefaults(t *testing.T) {
	c := validLocal()
	if err := c.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if c.DB.SSLMode != "disable" {
		t.Fatalf("expected sslmode disable default, got %q", c.DB.SSLMode)
	}
	if c.Storage.Driver != StorageDriverPostgres {
		t.Fatalf("expected postgres driver default, got %q", c.Storage.Driver)
	}
	if c.Billing.Currency != "NGN" || c.Billing.VoiceRateMinor != 10 || c.Billing.MinBalanceMinor != 10 || c.Billing.MinTopUpMinor != 100 {
		t.Fatalf("unexpected billing defaults: %+v", c.Billing)
	}
	if c.Calls.ActiveSlotTTL != 2*time.Hour {
		t.Fatalf("unexpected slot ttl: %v", c.Calls.ActiveSlotTTL)
	}
	if c.RedisEnabled() {
		t.Fatalf("redis must be optional")
	}
}

func TestValidate_MemoryDriverSkipsDB(t *testing.T) {
	c := Config{
		App:     AppConfig{Env: "dev", Port: 8080},
		Storage: StorageConfig{Driver: StorageDriverMemory},
		Auth:    AuthConfig{JWTSecret: "secret"},
	}
	if err := c.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	c.App.Env = "production"
	c.Auth.JWTIssuer, c.Auth.JWTAudience = "iss", "aud"
	if err := c.Validate(); err == nil {
		t.Fatalf("memory storage must be rejected in production")
	}
}

func TestValidate_ProductionRejectsDevTokens(t *testing.T) {
	c := validLocal()
	c.App.Env = "production"
	c.DB.SSLMode = "require"
	c.Auth.JWTIssuer, c.Auth.JWTAudience = "iss", "aud"
	c.Auth.DevTokens = true
	if err := c.Validate(); err == nil || !strings.Contains(err.Error(), "AUTH_DEV_TOKENS") {
		t.Fatalf("expected AUTH_DEV_TOKENS error, got %v", err)
	}
}

func TestLoad_FromEnv(t *testing.T) {
	t.Setenv("APP_ENV", "dev")
	t.Setenv("APP_PORT", "9000")
	t.Setenv("STORAGE_DRIVER", "memory")
	t.Setenv("JWT_SECRET", "s")
	t.Setenv("BILLING_VIDEO_RATE", "25")
	t.Setenv("CALLS_SINGLE_ACTIVE", "true")
	t.Setenv("GATEWAY_SUCCESS_RATE", "1")

	c, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.App.Port != 9000 || c.Billing.VideoRateMinor != 25 || !c.Calls.SingleActive || c.Gateway.SuccessRate != 1 {
		t.Fatalf("unexpected config: %+v", c)
	}

	t.Setenv("BILLING_MIN_TOPUP", "lots")
	if _, err := Load(); err == nil {
		t.Fatalf("expected parse error")
	}
}
