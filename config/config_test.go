package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Paths.EntityOut != "data/kg/entities.nt" {
		t.Errorf("expected default entity output data/kg/entities.nt, got %s", cfg.Paths.EntityOut)
	}
	if cfg.Sanitizer.MaxContinuationLines != 6 {
		t.Errorf("expected continuation bound 6, got %d", cfg.Sanitizer.MaxContinuationLines)
	}
	if cfg.Grouping.Buckets != 0 {
		t.Errorf("expected adaptive bucket count by default, got %d", cfg.Grouping.Buckets)
	}
	if cfg.Diagnostics.SampleLimit != 50 {
		t.Errorf("expected sample limit 50, got %d", cfg.Diagnostics.SampleLimit)
	}
	if cfg.Notify.URL != "" {
		t.Error("expected notifications disabled by default")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should be valid: %v", err)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid default config",
			modify:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:    "missing entity output",
			modify:  func(c *Config) { c.Paths.EntityOut = "" },
			wantErr: true,
		},
		{
			name:    "same output paths",
			modify:  func(c *Config) { c.Paths.RelationshipOut = c.Paths.EntityOut },
			wantErr: true,
		},
		{
			name:    "zero continuation bound",
			modify:  func(c *Config) { c.Sanitizer.MaxContinuationLines = 0 },
			wantErr: true,
		},
		{
			name:    "inverted bucket bounds",
			modify:  func(c *Config) { c.Grouping.MinBuckets, c.Grouping.MaxBuckets = 64, 8 },
			wantErr: true,
		},
		{
			name:    "fixed bucket count",
			modify:  func(c *Config) { c.Grouping.Buckets = 256 },
			wantErr: false,
		},
		{
			name:    "zero chunk size",
			modify:  func(c *Config) { c.Validation.ChunkSize = 0 },
			wantErr: true,
		},
		{
			name:    "zero validation timeout",
			modify:  func(c *Config) { c.Validation.Timeout = 0 },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	content := `
paths:
  entity_out: "out/nodes.nt"
  combined_out: "out/combined.ttl"
partition:
  heuristic_threshold: 1048576
  entity_predicates:
    - "http://schema.org/sameAs"
grouping:
  buckets: 128
validation:
  timeout: 90s
notify:
  url: "nats://test:4222"
`
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := LoadFromFile(configPath)
	if err != nil {
		t.Fatalf("LoadFromFile() error = %v", err)
	}

	if cfg.Paths.EntityOut != "out/nodes.nt" {
		t.Errorf("expected entity output out/nodes.nt, got %s", cfg.Paths.EntityOut)
	}
	if cfg.Paths.RelationshipOut != "data/kg/relationships.nt" {
		t.Errorf("expected default relationship output, got %s", cfg.Paths.RelationshipOut)
	}
	if cfg.Partition.HeuristicThreshold != 1<<20 {
		t.Errorf("expected threshold 1MiB, got %d", cfg.Partition.HeuristicThreshold)
	}
	if len(cfg.Partition.EntityPredicates) != 1 {
		t.Errorf("expected 1 entity predicate, got %d", len(cfg.Partition.EntityPredicates))
	}
	if cfg.Grouping.Buckets != 128 {
		t.Errorf("expected 128 buckets, got %d", cfg.Grouping.Buckets)
	}
	if cfg.Validation.Timeout != 90*time.Second {
		t.Errorf("expected timeout 90s, got %v", cfg.Validation.Timeout)
	}
	if cfg.Notify.URL != "nats://test:4222" {
		t.Errorf("expected NATS URL nats://test:4222, got %s", cfg.Notify.URL)
	}
}

func TestLoadFromFile_Invalid(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte("paths: [unclosed"), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	if _, err := LoadFromFile(configPath); err == nil {
		t.Error("expected parse error")
	}
}

func TestConfigMerge(t *testing.T) {
	base := DefaultConfig()
	override := &Config{
		Paths: PathsConfig{
			EntityOut: "/override/entities.nt",
		},
		Grouping: GroupingConfig{
			PreserveOrder: true,
		},
	}

	base.Merge(override)

	if base.Paths.EntityOut != "/override/entities.nt" {
		t.Errorf("expected entity output /override/entities.nt, got %s", base.Paths.EntityOut)
	}
	// Relationship output should remain from base since override didn't set it
	if base.Paths.RelationshipOut != "data/kg/relationships.nt" {
		t.Errorf("expected relationship output to remain default, got %s", base.Paths.RelationshipOut)
	}
	if !base.Grouping.PreserveOrder {
		t.Error("expected preserve_order to be switched on")
	}

	base.Merge(&Config{})
	if !base.Grouping.PreserveOrder {
		t.Error("an empty layer must not switch preserve_order off")
	}
}

func TestConfigSaveToFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "subdir", "config.yaml")

	cfg := DefaultConfig()
	cfg.Validation.Shapes = "shapes/core.ttl"

	if err := cfg.SaveToFile(configPath); err != nil {
		t.Fatalf("SaveToFile() error = %v", err)
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		t.Error("config file was not created")
	}

	loaded, err := LoadFromFile(configPath)
	if err != nil {
		t.Fatalf("failed to load saved config: %v", err)
	}
	if loaded.Validation.Shapes != "shapes/core.ttl" {
		t.Errorf("expected shapes shapes/core.ttl, got %s", loaded.Validation.Shapes)
	}
	if loaded.Validation.Timeout != 10*time.Minute {
		t.Errorf("expected timeout to round-trip, got %v", loaded.Validation.Timeout)
	}
}
