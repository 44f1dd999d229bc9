package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {

	t.Setenv("SNAPFIND_S3_BUCKET", "snapfind-media")
	t.Setenv("SNAPFIND_PUBLIC_SITE_URL", "https://snapfind.example.com")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected config to load, got %v", err)
	}

	if cfg.HttpAddr != ":8080" {
		t.Errorf("expected default http addr ':8080', got '%s'", cfg.HttpAddr)
	}

	if cfg.Pipeline.MaxConcurrent != 5 {
		t.Errorf("expected default concurrency 5, got %d", cfg.Pipeline.MaxConcurrent)
	}

	if cfg.Pipeline.MaxAttempts != 5 {
		t.Errorf("expected default attempt cap 5, got %d", cfg.Pipeline.MaxAttempts)
	}

	if cfg.Pipeline.BaseDelay != 2*time.Second {
		t.Errorf("expected default base delay 2s, got %s", cfg.Pipeline.BaseDelay)
	}

	if cfg.FaceIndex.ChunkSize != 10 {
		t.Errorf("expected default chunk size 10, got %d", cfg.FaceIndex.ChunkSize)
	}

	// the legacy branding override ships by default
	if ref := cfg.Branding.Overrides["910245"]; ref != "/taf and child logo.png" {
		t.Errorf("expected the default branding override, got '%s'", ref)
	}
}

func TestLoadMissingRequired(t *testing.T) {

	t.Setenv("SNAPFIND_S3_BUCKET", "")
	t.Setenv("SNAPFIND_PUBLIC_SITE_URL", "https://snapfind.example.com")

	if _, err := Load(); err == nil {
		t.Errorf("expected a missing bucket to fail the load")
	}

	t.Setenv("SNAPFIND_S3_BUCKET", "snapfind-media")
	t.Setenv("SNAPFIND_PUBLIC_SITE_URL", "")

	if _, err := Load(); err == nil {
		t.Errorf("expected a missing site url to fail the load")
	}
}

func TestLoadOverridesAndTunables(t *testing.T) {

	t.Setenv("SNAPFIND_S3_BUCKET", "snapfind-media")
	t.Setenv("SNAPFIND_PUBLIC_SITE_URL", "https://snapfind.example.com")
	t.Setenv("SNAPFIND_BRANDING_OVERRIDES", "evt-1=/a.png; evt-2=https://cdn.example.com/b.png")
	t.Setenv("SNAPFIND_MAX_CONCURRENT", "8")
	t.Setenv("SNAPFIND_RETRY_BASE_DELAY", "500ms")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected config to load, got %v", err)
	}

	if len(cfg.Branding.Overrides) != 2 {
		t.Fatalf("expected 2 overrides, got %d", len(cfg.Branding.Overrides))
	}

	if cfg.Branding.Overrides["evt-2"] != "https://cdn.example.com/b.png" {
		t.Errorf("unexpected override value: '%s'", cfg.Branding.Overrides["evt-2"])
	}

	if cfg.Pipeline.MaxConcurrent != 8 {
		t.Errorf("expected concurrency 8, got %d", cfg.Pipeline.MaxConcurrent)
	}

	if cfg.Pipeline.BaseDelay != 500*time.Millisecond {
		t.Errorf("expected base delay 500ms, got %s", cfg.Pipeline.BaseDelay)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {

	t.Setenv("SNAPFIND_S3_BUCKET", "snapfind-media")
	t.Setenv("SNAPFIND_PUBLIC_SITE_URL", "https://snapfind.example.com")

	t.Setenv("SNAPFIND_MAX_CONCURRENT", "zero")
	if _, err := Load(); err == nil {
		t.Errorf("expected a non-numeric tunable to fail the load")
	}

	t.Setenv("SNAPFIND_MAX_CONCURRENT", "-1")
	if _, err := Load(); err == nil {
		t.Errorf("expected a negative tunable to fail the load")
	}

	t.Setenv("SNAPFIND_MAX_CONCURRENT", "")
	t.Setenv("SNAPFIND_BRANDING_OVERRIDES", "missing-separator")
	if _, err := Load(); err == nil {
		t.Errorf("expected a malformed override entry to fail the load")
	}
}
