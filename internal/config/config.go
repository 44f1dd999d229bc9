package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all service configuration, loaded from the environment once at startup.
type Config struct {
	ServiceName string
	HttpAddr    string

	Storage   Storage
	Tables    Tables
	Site      Site
	Branding  Branding
	Pipeline  Pipeline
	FaceIndex FaceIndex
}

// Storage holds the object storage settings.
type Storage struct {
	Bucket string
}

// Tables holds the metadata store table names.
type Tables struct {
	Events string
	Users  string
}

// Site holds the public site settings used to resolve relative logo references.
type Site struct {
	PublicUrl      string
	ImageProxyPath string
}

// Branding holds the forced-branding override table: event id -> logo reference.
// An entry forces branding on for that event regardless of the organizer's stored preference.
type Branding struct {
	Overrides map[string]string
}

// Pipeline holds the batch orchestrator tunables.
type Pipeline struct {
	MaxConcurrent int
	MaxAttempts   int
	BaseDelay     time.Duration
	MaxDelay      time.Duration
	Jitter        time.Duration
	ItemTimeout   time.Duration
}

// FaceIndex holds the bulk face indexing tunables.
type FaceIndex struct {
	ChunkSize   int
	ChunkDelay  time.Duration
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Jitter      time.Duration
}

// Load reads the service configuration from the environment, applying defaults
// for tunables and returning an error if any required value is missing.
func Load() (*Config, error) {

	// load .env file if present -> env vars already set take precedence
	_ = godotenv.Load()

	cfg := &Config{
		ServiceName: "snapfind",
		HttpAddr:    envOrDefault("SNAPFIND_HTTP_ADDR", ":8080"),
		Storage: Storage{
			Bucket: os.Getenv("SNAPFIND_S3_BUCKET"),
		},
		Tables: Tables{
			Events: envOrDefault("SNAPFIND_EVENTS_TABLE", "Events"),
			Users:  envOrDefault("SNAPFIND_USERS_TABLE", "Users"),
		},
		Site: Site{
			PublicUrl:      os.Getenv("SNAPFIND_PUBLIC_SITE_URL"),
			ImageProxyPath: envOrDefault("SNAPFIND_IMAGE_PROXY_PATH", "/api/proxy-image"),
		},
	}

	var err error

	// legacy default: event 910245 always gets branding with the fixed logo
	overrides := envOrDefault("SNAPFIND_BRANDING_OVERRIDES", "910245=/taf and child logo.png")
	cfg.Branding.Overrides, err = parseOverrides(overrides)
	if err != nil {
		return nil, fmt.Errorf("failed to parse SNAPFIND_BRANDING_OVERRIDES: %v", err)
	}

	if cfg.Pipeline, err = loadPipeline(); err != nil {
		return nil, err
	}

	if cfg.FaceIndex, err = loadFaceIndex(); err != nil {
		return nil, err
	}

	// validate required values -> fail at startup, not at first batch
	if cfg.Storage.Bucket == "" {
		return nil, fmt.Errorf("missing required environment variable SNAPFIND_S3_BUCKET")
	}

	if cfg.Site.PublicUrl == "" {
		return nil, fmt.Errorf("missing required environment variable SNAPFIND_PUBLIC_SITE_URL")
	}

	return cfg, nil
}

// loadPipeline reads the batch orchestrator tunables from the environment.
func loadPipeline() (Pipeline, error) {

	p := Pipeline{}

	var err error
	if p.MaxConcurrent, err = envInt("SNAPFIND_MAX_CONCURRENT", 5); err != nil {
		return p, err
	}

	if p.MaxAttempts, err = envInt("SNAPFIND_RETRY_MAX_ATTEMPTS", 5); err != nil {
		return p, err
	}

	if p.BaseDelay, err = envDuration("SNAPFIND_RETRY_BASE_DELAY", 2*time.Second); err != nil {
		return p, err
	}

	if p.MaxDelay, err = envDuration("SNAPFIND_RETRY_MAX_DELAY", 30*time.Second); err != nil {
		return p, err
	}

	if p.Jitter, err = envDuration("SNAPFIND_RETRY_JITTER", time.Second); err != nil {
		return p, err
	}

	if p.ItemTimeout, err = envDuration("SNAPFIND_ITEM_TIMEOUT", 5*time.Minute); err != nil {
		return p, err
	}

	return p, nil
}

// loadFaceIndex reads the bulk face indexing tunables from the environment.
func loadFaceIndex() (FaceIndex, error) {

	f := FaceIndex{}

	var err error
	if f.ChunkSize, err = envInt("SNAPFIND_FACE_INDEX_CHUNK_SIZE", 10); err != nil {
		return f, err
	}

	if f.ChunkDelay, err = envDuration("SNAPFIND_FACE_INDEX_CHUNK_DELAY", time.Second); err != nil {
		return f, err
	}

	if f.MaxAttempts, err = envInt("SNAPFIND_FACE_INDEX_MAX_ATTEMPTS", 3); err != nil {
		return f, err
	}

	if f.BaseDelay, err = envDuration("SNAPFIND_FACE_INDEX_BASE_DELAY", time.Second); err != nil {
		return f, err
	}

	if f.MaxDelay, err = envDuration("SNAPFIND_FACE_INDEX_MAX_DELAY", 30*time.Second); err != nil {
		return f, err
	}

	if f.Jitter, err = envDuration("SNAPFIND_FACE_INDEX_JITTER", time.Second); err != nil {
		return f, err
	}

	return f, nil
}

// parseOverrides parses a semicolon-separated list of eventId=logoRef pairs.
func parseOverrides(raw string) (map[string]string, error) {

	overrides := make(map[string]string)

	for _, pair := range strings.Split(raw, ";") {

		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}

		parts := strings.SplitN(pair, "=", 2)
		if len(parts) != 2 || strings.TrimSpace(parts[0]) == "" || strings.TrimSpace(parts[1]) == "" {
			return nil, fmt.Errorf("invalid override entry %q: expected eventId=logoRef", pair)
		}

		overrides[strings.TrimSpace(parts[0])] = strings.TrimSpace(parts[1])
	}

	return overrides, nil
}

// envOrDefault returns the value of the environment variable or the default if unset.
func envOrDefault(key, def string) string {

	if v := os.Getenv(key); v != "" {
		return v
	}

	return def
}

// envInt reads an integer environment variable, returning the default if unset.
func envInt(key string, def int) (int, error) {

	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}

	i, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid value %q for %s: %v", v, key, err)
	}

	if i <= 0 {
		return 0, fmt.Errorf("value for %s must be positive, got %d", key, i)
	}

	return i, nil
}

// envDuration reads a duration environment variable, returning the default if unset.
func envDuration(key string, def time.Duration) (time.Duration, error) {

	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}

	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid value %q for %s: %v", v, key, err)
	}

	if d <= 0 {
		return 0, fmt.Errorf("value for %s must be positive, got %s", key, d)
	}

	return d, nil
}
