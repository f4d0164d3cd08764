package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/JakeFAU/regionpulse/internal/pulse"
)

const regionsYAML = `
regions:
  - name: berlin
    country: DE
    city: Berlin
    language: de
    latitude: 52.52
    longitude: 13.405
    topics: [transit, culture]
    max_queries: 6
  - name: paris
    country: FR
    city: Paris
    language: fr
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
server:
  port: 9090
auth:
  enabled: true
  api_key: secret
pipeline:
  search_concurrency: 6
  max_urls: 12
  recency_days: 3
search:
  base_url: http://searx.internal:8080
  engines: [bing, duckduckgo]
fetch:
  user_agent: pulse-agent
  timeout: 20s
headless:
  enabled: true
  max_parallel: 2
  navigation_timeout: 30s
llm:
  api_key: sk-test
  model: claude-test
storage:
  backend: gcs
  gcs_bucket: pulse-pages
schedule:
  enabled: true
  cron: "0 * * * *"
  regions: [berlin]
`+regionsYAML)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Fatalf("expected port 9090, got %d", cfg.Server.Port)
	}
	if !cfg.Auth.Enabled || cfg.Auth.APIKey != "secret" {
		t.Fatalf("expected auth enabled with secret key")
	}
	settings := cfg.Pipeline.Settings()
	if settings.SearchConcurrency != 6 || settings.MaxURLs != 12 || settings.RecencyDays != 3 {
		t.Fatalf("expected pipeline overrides to apply: %+v", settings)
	}
	if settings.ScrapeConcurrency != 5 || settings.ResultsPerQuery != 10 {
		t.Fatalf("expected pipeline defaults to survive: %+v", settings)
	}
	if cfg.Search.BaseURL != "http://searx.internal:8080" || len(cfg.Search.Engines) != 2 {
		t.Fatalf("expected search overrides: %+v", cfg.Search)
	}
	if cfg.Fetch.Timeout != 20*time.Second || !cfg.Fetch.RespectRobots {
		t.Fatalf("expected fetch timeout 20s with robots respected: %+v", cfg.Fetch)
	}
	if !cfg.Headless.Enabled || cfg.Headless.MaxParallel != 2 || cfg.Headless.NavigationTimeout != 30*time.Second {
		t.Fatalf("expected squashed headless config: %+v", cfg.Headless)
	}
	if cfg.LLM.APIKey != "sk-test" || cfg.LLM.Model != "claude-test" || cfg.LLM.MaxTokens != 2048 {
		t.Fatalf("expected llm config: %+v", cfg.LLM)
	}
	if cfg.Storage.Backend != StorageGCS || cfg.Storage.GCSBucket != "pulse-pages" {
		t.Fatalf("expected gcs storage: %+v", cfg.Storage)
	}
	if cfg.Redis.TTL != 720*time.Hour {
		t.Fatalf("expected default redis ttl, got %v", cfg.Redis.TTL)
	}
	if len(cfg.Regions) != 2 || cfg.Regions[0].Name != "berlin" || cfg.Regions[0].MaxQueries != 6 {
		t.Fatalf("expected regions to load: %+v", cfg.Regions)
	}
	if got := cfg.Regions[0].Topics; len(got) != 2 || got[1] != "culture" {
		t.Fatalf("expected region topics, got %v", got)
	}
	if !cfg.Schedule.Enabled || len(cfg.Schedule.Regions) != 1 {
		t.Fatalf("expected schedule config: %+v", cfg.Schedule)
	}
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	path := writeConfig(t, regionsYAML)
	t.Setenv("PULSE_SERVER_PORT", "7070")
	t.Setenv("PULSE_LLM_API_KEY", "from-env")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 7070 {
		t.Fatalf("expected env port 7070, got %d", cfg.Server.Port)
	}
	if cfg.LLM.APIKey != "from-env" {
		t.Fatalf("expected env api key, got %q", cfg.LLM.APIKey)
	}
}

func TestLoadErrors(t *testing.T) {
	t.Parallel()

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
	if _, err := Load(writeConfig(t, "server:\n  port: 8080\n")); err == nil ||
		!strings.Contains(err.Error(), "region") {
		t.Fatalf("expected region validation error, got %v", err)
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		Server: ServerConfig{Port: 8080},
		Pipeline: PipelineConfig{
			SearchConcurrency: 1,
			ScrapeConcurrency: 1,
			RegionConcurrency: 1,
			RecencyDays:       7,
			QueueDepth:        4,
		},
		Storage: StorageConfig{Backend: StorageMemory},
		Regions: []pulse.RegionConfig{{Name: "berlin"}},
	}
	if err := base.Validate(); err != nil {
		t.Fatalf("expected base config to validate, got %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"invalid port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"invalid concurrency", func(c *Config) { c.Pipeline.ScrapeConcurrency = 0 }, "concurrency"},
		{"invalid recency", func(c *Config) { c.Pipeline.RecencyDays = 0 }, "pipeline.recency_days"},
		{"invalid queue depth", func(c *Config) { c.Pipeline.QueueDepth = 0 }, "pipeline.queue_depth"},
		{"auth missing api key", func(c *Config) { c.Auth.Enabled = true }, "auth.api_key"},
		{
			"headless missing max parallel",
			func(c *Config) { c.Headless.Enabled = true },
			"headless.max_parallel",
		},
		{"unknown storage", func(c *Config) { c.Storage.Backend = "s3" }, "storage.backend"},
		{"gcs without bucket", func(c *Config) { c.Storage.Backend = StorageGCS }, "storage.gcs_bucket"},
		{"local without dir", func(c *Config) { c.Storage.Backend = StorageLocal }, "storage.local_dir"},
		{
			"bad cron",
			func(c *Config) { c.Schedule = ScheduleConfig{Enabled: true, Cron: "every minute"} },
			"schedule.cron",
		},
		{"no regions", func(c *Config) { c.Regions = nil }, "at least one region"},
		{"blank region", func(c *Config) { c.Regions = []pulse.RegionConfig{{Name: " "}} }, "regions[0].name"},
		{
			"duplicate region",
			func(c *Config) { c.Regions = []pulse.RegionConfig{{Name: "Berlin"}, {Name: "berlin"}} },
			"configured twice",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := base
			cfg.Regions = append([]pulse.RegionConfig(nil), base.Regions...)
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}
