package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadValidConfig(t *testing.T) {
	path := writeConfig(t, `
port: "8080"
databaseURL: "postgres://libreria:pw@localhost:5432/libreria"
redisAddr: "localhost:6379"
geminiAPIKey: "test-key"
loginRateLimitPerMinute: 10
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Port != "8080" {
		t.Fatalf("port mismatch: %q", cfg.Port)
	}
	if cfg.LoginRateLimitPerMinute != 10 {
		t.Fatalf("login rate limit mismatch: %d", cfg.LoginRateLimitPerMinute)
	}
}

func TestLoadRequiresDatabaseURL(t *testing.T) {
	path := writeConfig(t, `
port: "8080"
redisAddr: "localhost:6379"
`)
	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "databaseURL") {
		t.Fatalf("expected databaseURL error, got %v", err)
	}
}

func TestLoadRequiresRedisAddr(t *testing.T) {
	path := writeConfig(t, `
port: "8080"
databaseURL: "postgres://localhost/libreria"
`)
	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "redisAddr") {
		t.Fatalf("expected redisAddr error, got %v", err)
	}
}

func TestLoadAllowsMissingGeminiKey(t *testing.T) {
	path := writeConfig(t, `
port: "8080"
databaseURL: "postgres://localhost/libreria"
redisAddr: "localhost:6379"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("missing gemini key must not be fatal: %v", err)
	}
	if cfg.GeminiAPIKey != "" {
		t.Fatalf("unexpected gemini key: %q", cfg.GeminiAPIKey)
	}
}

func TestLoadJWTStrategyRequiresSecret(t *testing.T) {
	path := writeConfig(t, `
port: "8080"
databaseURL: "postgres://localhost/libreria"
redisAddr: "localhost:6379"
sessionStrategy: "jwt"
`)
	if _, err := Load(path); err == nil {
		t.Fatalf("expected jwtSecret error")
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	path := writeConfig(t, `
port: "8080"
databaseURL: "postgres://localhost/libreria"
redisAddr: "localhost:6379"
`)
	t.Setenv("LIBRERIA_PORT", "9090")
	t.Setenv("GEMINI_API_KEY", "env-key")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Port != "9090" {
		t.Fatalf("env port override not applied: %q", cfg.Port)
	}
	if cfg.GeminiAPIKey != "env-key" {
		t.Fatalf("env gemini key override not applied: %q", cfg.GeminiAPIKey)
	}
}

func TestParseSessionTTL(t *testing.T) {
	d, err := ParseSessionTTL("45m")
	if err != nil {
		t.Fatalf("parse ttl: %v", err)
	}
	if d != 45*time.Minute {
		t.Fatalf("ttl mismatch: %v", d)
	}
	if _, err := ParseSessionTTL("bogus"); err == nil {
		t.Fatalf("expected error for invalid duration")
	}
	if d, err := ParseSessionTTL(""); err != nil || d != 0 {
		t.Fatalf("empty ttl should be zero, got %v %v", d, err)
	}
}
