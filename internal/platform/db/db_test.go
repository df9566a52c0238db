package db

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return p
}

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("DB_PASSWORD", "")
	t.Setenv("JWT_SECRET", "")
	t.Setenv("APP_MODE", "")
	p := writeConfig(t, `
version: "1"
mode: dev
database:
  host: 127.0.0.1
  port: 3306
  user: presensi
  password: secret
  dbname: presensi
`)
	cfg, err := LoadConfig(p)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Mode != "dev" || cfg.DB.Port != 3306 || cfg.DB.Password != "secret" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if cfg.QR.DefaultValidFor != 2*time.Minute {
		t.Fatalf("expected default qr validity 2m, got %s", cfg.QR.DefaultValidFor)
	}
	if cfg.Bulk.Workers != 4 {
		t.Fatalf("expected 4 workers, got %d", cfg.Bulk.Workers)
	}
	if cfg.Timezone != "Asia/Jakarta" {
		t.Fatalf("expected default timezone, got %s", cfg.Timezone)
	}
}

func TestLoadConfigDurationsAndEnv(t *testing.T) {
	t.Setenv("DB_PASSWORD", "from-env")
	t.Setenv("JWT_SECRET", "jwt-from-env")
	t.Setenv("APP_MODE", "")
	p := writeConfig(t, `
mode: release
timezone: UTC
auth:
  jwt_secret: file-secret
qr:
  default_valid_for: 90s
  max_valid_for: 10m
redis:
  addr: 127.0.0.1:6379
  ttl: 1m
`)
	cfg, err := LoadConfig(p)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.QR.DefaultValidFor != 90*time.Second || cfg.QR.MaxValidFor != 10*time.Minute {
		t.Fatalf("unexpected qr config: %+v", cfg.QR)
	}
	if cfg.Redis.TTL != time.Minute {
		t.Fatalf("unexpected redis ttl: %s", cfg.Redis.TTL)
	}
	if cfg.DB.Password != "from-env" || cfg.Auth.JWTSecret != "jwt-from-env" {
		t.Fatalf("env overrides not applied: %+v", cfg)
	}
	loc, err := cfg.Location()
	if err != nil || loc != time.UTC {
		t.Fatalf("expected UTC location, got %v (%v)", loc, err)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
