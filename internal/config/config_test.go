package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "narrascope.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	Reset()
	t.Cleanup(Reset)

	cfg, err := Load(writeConfig(t, "app:\n  log_level: debug\n"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.App.LogLevel != "debug" {
		t.Errorf("log_level = %q", cfg.App.LogLevel)
	}
	if cfg.Clustering.Dimensions != 768 {
		t.Errorf("default dimensions = %d", cfg.Clustering.Dimensions)
	}
	if cfg.Clustering.Threshold != 0.75 || cfg.Clustering.MergeThreshold != 0.90 {
		t.Errorf("default thresholds = %g / %g", cfg.Clustering.Threshold, cfg.Clustering.MergeThreshold)
	}
	if cfg.Timeline.BucketHours != 24 {
		t.Errorf("default bucket_hours = %d", cfg.Timeline.BucketHours)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("default port = %d", cfg.Server.Port)
	}
	if cfg.Feeds.MaxAgeHours != 24 {
		t.Errorf("default max_age_hours = %d", cfg.Feeds.MaxAgeHours)
	}
}

func TestLoad_Overrides(t *testing.T) {
	Reset()
	t.Cleanup(Reset)

	cfg, err := Load(writeConfig(t, `
clustering:
  dimensions: 128
  threshold: 0.8
  merge_threshold: 0.92
server:
  port: 9999
feeds:
  urls:
    - https://example.com/feed.xml
`))
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Clustering.Dimensions != 128 || cfg.Clustering.Threshold != 0.8 {
		t.Errorf("clustering = %+v", cfg.Clustering)
	}
	if cfg.Server.Port != 9999 {
		t.Errorf("port = %d", cfg.Server.Port)
	}
	if len(cfg.Feeds.URLs) != 1 || cfg.Feeds.URLs[0] != "https://example.com/feed.xml" {
		t.Errorf("feeds = %v", cfg.Feeds.URLs)
	}
}

func TestLoad_Validation(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"zero dimensions", "clustering:\n  dimensions: 0\n"},
		{"threshold above one", "clustering:\n  threshold: 1.5\n"},
		{"merge below join", "clustering:\n  threshold: 0.9\n  merge_threshold: 0.5\n"},
		{"zero bucket hours", "timeline:\n  bucket_hours: 0\n"},
		{"bad port", "server:\n  port: 70000\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			Reset()
			t.Cleanup(Reset)
			if _, err := Load(writeConfig(t, tt.yaml)); err == nil {
				t.Error("expected a validation error")
			}
		})
	}
}

func TestLoad_Cached(t *testing.T) {
	Reset()
	t.Cleanup(Reset)

	first, err := Load(writeConfig(t, "server:\n  port: 9001\n"))
	if err != nil {
		t.Fatal(err)
	}
	// A second Load ignores its argument and returns the cached config.
	second, err := Load("does-not-exist.yaml")
	if err != nil {
		t.Fatal(err)
	}
	if first != second {
		t.Error("expected the cached config instance")
	}
}
