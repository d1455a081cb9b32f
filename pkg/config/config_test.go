package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}

	tests := []struct {
		name string
		got  any
		want any
	}{
		{"source", cfg.Source, SourceArxiv},
		{"output_dir", cfg.OutputDir, "papers_data"},
		{"checkpoint_dir", cfg.CheckpointDir, "checkpoints"},
		{"categories", len(cfg.Categories), len(DefaultCategories)},
		{"arxiv.page_size", cfg.Arxiv.PageSize, 100},
		{"arxiv.min_interval", cfg.Arxiv.MinInterval, 3 * time.Second},
		{"retry.base_delay", cfg.Retry.BaseDelay, 10 * time.Second},
		{"retry.multiplier", cfg.Retry.Multiplier, 1.5},
		{"retry.max_delay", cfg.Retry.MaxDelay, 300 * time.Second},
		{"retry.stall_threshold", cfg.Retry.StallThreshold, 3},
		{"retry.max_wait", cfg.Retry.MaxWait, 24 * time.Hour},
		{"daemon.error_delay", cfg.Daemon.ErrorDelay, time.Hour},
		{"daemon.lookback_days", cfg.Daemon.LookbackDays, 2},
		{"redis.enabled", cfg.Redis.Enabled, false},
		{"log.level", cfg.Log.Level, "info"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %v, want %v", tt.name, tt.got, tt.want)
		}
	}
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
source: pubmed
categories: [oncology]
output_dir: /data/out
pubmed:
  feeds:
    oncology: https://pubmed.ncbi.nlm.nih.gov/rss/search/abc/
retry:
  base_delay: 5s
  max_wait: 2h
publish:
  s3:
    enabled: true
    bucket: papers
    prefix: daily
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}

	if cfg.Source != SourcePubMed || cfg.OutputDir != "/data/out" {
		t.Errorf("source = %s, output_dir = %s", cfg.Source, cfg.OutputDir)
	}
	if cfg.PubMed.Feeds["oncology"] == "" {
		t.Errorf("feeds = %v", cfg.PubMed.Feeds)
	}
	if cfg.Retry.BaseDelay != 5*time.Second || cfg.Retry.MaxWait != 2*time.Hour {
		t.Errorf("retry = %+v", cfg.Retry)
	}
	if cfg.Retry.Multiplier != 1.5 {
		t.Errorf("unset keys should keep defaults, multiplier = %v", cfg.Retry.Multiplier)
	}
	s3 := cfg.S3()
	if s3.Bucket != "papers" || s3.Prefix != "daily" || !s3.UsePathStyle {
		t.Errorf("S3() = %+v", s3)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("HARVEST_CATEGORIES", "cs.AI,cs.LG")
	t.Setenv("HARVEST_RETRY_MAX_WAIT", "90m")
	t.Setenv("HARVEST_LOG_LEVEL", "debug")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "s3cr3t")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if strings.Join(cfg.Categories, ",") != "cs.AI,cs.LG" {
		t.Errorf("categories = %v", cfg.Categories)
	}
	if cfg.Retry.MaxWait != 90*time.Minute {
		t.Errorf("retry.max_wait = %s", cfg.Retry.MaxWait)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("log.level = %s", cfg.Log.Level)
	}
	if cfg.Publish.S3.SecretAccessKey != "s3cr3t" {
		t.Error("AWS_SECRET_ACCESS_KEY not bound")
	}
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("Load() with a missing explicit file should fail")
	}
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		cfg, err := Load("")
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown source", func(c *Config) { c.Source = "scholar" }},
		{"no categories", func(c *Config) { c.Categories = nil }},
		{"zero base delay", func(c *Config) { c.Retry.BaseDelay = 0 }},
		{"multiplier below one", func(c *Config) { c.Retry.Multiplier = 0.5 }},
		{"zero stall threshold", func(c *Config) { c.Retry.StallThreshold = 0 }},
		{"zero min interval", func(c *Config) { c.Arxiv.MinInterval = 0 }},
		{"pubmed without feeds", func(c *Config) { c.Source = SourcePubMed }},
		{"zero check interval", func(c *Config) { c.Daemon.CheckInterval = 0 }},
		{"no lookback", func(c *Config) { c.Daemon.LookbackDays = 0 }},
		{"s3 without bucket", func(c *Config) { c.Publish.S3.Enabled = true }},
		{"bad log level", func(c *Config) { c.Log.Level = "loud" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate() error = nil")
			}
		})
	}
}

func TestOrchestratorConfig(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	oc := cfg.Orchestrator()
	if oc.Policy != cfg.Policy() {
		t.Errorf("Policy = %+v", oc.Policy)
	}
	if oc.Pagination.MaxConcurrency != 1 || oc.Pagination.Timeout <= 0 {
		t.Errorf("Pagination = %+v", oc.Pagination)
	}
	if cfg.Logging().Level != "info" {
		t.Errorf("Logging().Level = %s", cfg.Logging().Level)
	}
}
