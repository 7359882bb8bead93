package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/widesquare")
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("PORT", "")
	t.Setenv("JWT_TTL_MINUTES", "")
	t.Setenv("ADMIN_EMAILS", "")
	t.Setenv("CORS_ALLOWED_ORIGINS", "")
	t.Setenv("PUBLIC_BASE_URL", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: unexpected error: %v", err)
	}
	if cfg.HTTPAddress() != ":8080" {
		t.Fatalf("expected :8080, got %s", cfg.HTTPAddress())
	}
	if cfg.JWTTTL != 24*time.Hour {
		t.Fatalf("expected 24h token ttl, got %v", cfg.JWTTTL)
	}
	if len(cfg.AdminEmails) != 0 {
		t.Fatalf("expected empty allow-list, got %v", cfg.AdminEmails)
	}
	if len(cfg.CORSOrigins) != 1 || cfg.CORSOrigins[0] != "*" {
		t.Fatalf("expected wildcard CORS, got %v", cfg.CORSOrigins)
	}
	if cfg.PublicBaseURL != "http://localhost:8080" {
		t.Fatalf("unexpected base url %q", cfg.PublicBaseURL)
	}
}

func TestLoad_AdminEmailsNormalized(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/widesquare")
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("ADMIN_EMAILS", " Root@Example.com, ,ops@example.com ")
	t.Setenv("JWT_TTL_MINUTES", "30")
	t.Setenv("PUBLIC_BASE_URL", "https://api.example.com/")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: unexpected error: %v", err)
	}
	if len(cfg.AdminEmails) != 2 || cfg.AdminEmails[0] != "root@example.com" || cfg.AdminEmails[1] != "ops@example.com" {
		t.Fatalf("unexpected allow-list %v", cfg.AdminEmails)
	}
	if cfg.JWTTTL != 30*time.Minute {
		t.Fatalf("expected 30m, got %v", cfg.JWTTTL)
	}
	if cfg.PublicBaseURL != "https://api.example.com" {
		t.Fatalf("expected trailing slash trimmed, got %q", cfg.PublicBaseURL)
	}
}

func TestLoad_RequiresDatabaseAndSecret(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("JWT_SECRET", "secret")
	if _, err := Load(); err == nil {
		t.Fatal("expected error without DATABASE_URL")
	}

	t.Setenv("DATABASE_URL", "postgres://localhost/widesquare")
	t.Setenv("JWT_SECRET", "")
	if _, err := Load(); err == nil {
		t.Fatal("expected error without JWT_SECRET")
	}
}
