// Package config loads and validates service configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"

	collyfetcher "github.com/JakeFAU/regionpulse/internal/fetcher/colly"
	"github.com/JakeFAU/regionpulse/internal/fetcher/headless"
	"github.com/JakeFAU/regionpulse/internal/geocode"
	"github.com/JakeFAU/regionpulse/internal/index/elasticsearch"
	"github.com/JakeFAU/regionpulse/internal/llm"
	"github.com/JakeFAU/regionpulse/internal/policy/ratelimit"
	"github.com/JakeFAU/regionpulse/internal/pulse"
	"github.com/JakeFAU/regionpulse/internal/scrape"
	"github.com/JakeFAU/regionpulse/internal/search"
)

// Storage backends accepted by storage.backend.
const (
	StorageMemory = "memory"
	StorageLocal  = "local"
	StorageGCS    = "gcs"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server        ServerConfig         `mapstructure:"server"`
	Auth          AuthConfig           `mapstructure:"auth"`
	Logging       LoggingConfig        `mapstructure:"logging"`
	Pipeline      PipelineConfig       `mapstructure:"pipeline"`
	Search        search.Config        `mapstructure:"search"`
	Fetch         collyfetcher.Config  `mapstructure:"fetch"`
	Scrape        scrape.Config        `mapstructure:"scrape"`
	RateLimit     ratelimit.Config     `mapstructure:"ratelimit"`
	Headless      HeadlessConfig       `mapstructure:"headless"`
	LLM           llm.Config           `mapstructure:"llm"`
	Geocode       GeocodeConfig        `mapstructure:"geocode"`
	Redis         RedisConfig          `mapstructure:"redis"`
	DB            DBConfig             `mapstructure:"db"`
	Storage       StorageConfig        `mapstructure:"storage"`
	PubSub        PubSubConfig         `mapstructure:"pubsub"`
	Elasticsearch ElasticsearchConfig  `mapstructure:"elasticsearch"`
	Schedule      ScheduleConfig       `mapstructure:"schedule"`
	Regions       []pulse.RegionConfig `mapstructure:"regions"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// PipelineConfig governs the per-region pipeline and scan fan-out.
type PipelineConfig struct {
	SearchConcurrency  int `mapstructure:"search_concurrency"`
	ScrapeConcurrency  int `mapstructure:"scrape_concurrency"`
	MaxQueries         int `mapstructure:"max_queries"`
	MaxURLs            int `mapstructure:"max_urls"`
	ResultsPerQuery    int `mapstructure:"results_per_query"`
	RecencyDays        int `mapstructure:"recency_days"`
	RegionConcurrency  int `mapstructure:"region_concurrency"`
	SummaryConcurrency int `mapstructure:"summary_concurrency"`
	QueueDepth         int `mapstructure:"queue_depth"`
}

// Settings converts the pipeline knobs into pulse.Settings.
func (p PipelineConfig) Settings() pulse.Settings {
	return pulse.Settings{
		SearchConcurrency: p.SearchConcurrency,
		ScrapeConcurrency: p.ScrapeConcurrency,
		MaxQueries:        p.MaxQueries,
		MaxURLs:           p.MaxURLs,
		ResultsPerQuery:   p.ResultsPerQuery,
		RecencyDays:       p.RecencyDays,
	}
}

// HeadlessConfig configures the headless rendering fallback.
type HeadlessConfig struct {
	Enabled         bool `mapstructure:"enabled"`
	headless.Config `mapstructure:",squash"`
}

// GeocodeConfig configures place lookups.
type GeocodeConfig struct {
	Enabled        bool `mapstructure:"enabled"`
	geocode.Config `mapstructure:",squash"`
}

// RedisConfig configures the geocode cache.
type RedisConfig struct {
	Enabled             bool `mapstructure:"enabled"`
	geocode.RedisConfig `mapstructure:",squash"`
}

// DBConfig controls access to the relational database. An empty DSN keeps
// items in memory.
type DBConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	Migrate         bool          `mapstructure:"migrate"`
}

// StorageConfig selects where scraped pages are archived.
type StorageConfig struct {
	Backend       string `mapstructure:"backend"`
	LocalDir      string `mapstructure:"local_dir"`
	GCSBucket     string `mapstructure:"gcs_bucket"`
	ArchivePrefix string `mapstructure:"archive_prefix"`
}

// PubSubConfig holds metadata for publish-subscribe notifications. An empty
// project disables publishing.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// ElasticsearchConfig configures item indexing.
type ElasticsearchConfig struct {
	Enabled              bool `mapstructure:"enabled"`
	elasticsearch.Config `mapstructure:",squash"`
}

// ScheduleConfig drives periodic scans.
type ScheduleConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Cron    string   `mapstructure:"cron"`
	Regions []string `mapstructure:"regions"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("PULSE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_timeout", "15s")
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.api_key", "")
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")
	v.SetDefault("pipeline.search_concurrency", pulse.DefaultSearchConcurrency)
	v.SetDefault("pipeline.scrape_concurrency", pulse.DefaultScrapeConcurrency)
	v.SetDefault("pipeline.max_queries", pulse.DefaultMaxQueries)
	v.SetDefault("pipeline.max_urls", pulse.DefaultMaxURLs)
	v.SetDefault("pipeline.results_per_query", pulse.DefaultResultsPerQuery)
	v.SetDefault("pipeline.recency_days", pulse.DefaultRecencyDays)
	v.SetDefault("pipeline.region_concurrency", 3)
	v.SetDefault("pipeline.summary_concurrency", 4)
	v.SetDefault("pipeline.queue_depth", 16)
	v.SetDefault("search.base_url", "http://localhost:8888")
	v.SetDefault("search.api_key", "")
	v.SetDefault("search.timeout", "10s")
	v.SetDefault("search.rate_limit", 2.0)
	v.SetDefault("search.rate_burst", 2)
	v.SetDefault("fetch.user_agent", "regionpulse-bot/0.1")
	v.SetDefault("fetch.respect_robots", true)
	v.SetDefault("fetch.timeout", "15s")
	v.SetDefault("fetch.max_body_size", 5<<20)
	v.SetDefault("scrape.max_content_chars", 20000)
	v.SetDefault("scrape.min_text_length", 200)
	v.SetDefault("scrape.body_length_threshold", 2048)
	v.SetDefault("ratelimit.default_rps", 1.0)
	v.SetDefault("ratelimit.default_burst", 2)
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.navigation_timeout", "25s")
	v.SetDefault("headless.settle_delay", "500ms")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.model", "claude-3-5-haiku-latest")
	v.SetDefault("llm.max_tokens", 2048)
	v.SetDefault("llm.timeout", "60s")
	v.SetDefault("llm.max_retries", 2)
	v.SetDefault("geocode.enabled", true)
	v.SetDefault("geocode.base_url", "https://nominatim.openstreetmap.org")
	v.SetDefault("geocode.user_agent", "regionpulse/1.0")
	v.SetDefault("geocode.rate_limit", 1.0)
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.ttl", "720h")
	v.SetDefault("redis.miss_ttl", "24h")
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.max_conns", 8)
	v.SetDefault("db.migrate", true)
	v.SetDefault("storage.backend", StorageMemory)
	v.SetDefault("storage.local_dir", "data/pages")
	v.SetDefault("storage.archive_prefix", "scans")
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic", "pulse-scans")
	v.SetDefault("elasticsearch.enabled", false)
	v.SetDefault("elasticsearch.addresses", []string{"http://localhost:9200"})
	v.SetDefault("elasticsearch.index", "pulse_items")
	v.SetDefault("schedule.enabled", false)
	v.SetDefault("schedule.cron", "*/30 * * * *")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return errors.New("server.port must be > 0")
	}
	p := c.Pipeline
	if p.SearchConcurrency < 1 || p.ScrapeConcurrency < 1 || p.RegionConcurrency < 1 {
		return errors.New("pipeline concurrency values must be >= 1")
	}
	if p.RecencyDays < 1 {
		return errors.New("pipeline.recency_days must be >= 1")
	}
	if p.QueueDepth < 1 {
		return errors.New("pipeline.queue_depth must be >= 1")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return errors.New("auth.api_key must be set when auth is enabled")
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return errors.New("headless.max_parallel must be > 0 when headless is enabled")
	}
	switch c.Storage.Backend {
	case StorageMemory:
	case StorageLocal:
		if c.Storage.LocalDir == "" {
			return errors.New("storage.local_dir must be set for the local backend")
		}
	case StorageGCS:
		if c.Storage.GCSBucket == "" {
			return errors.New("storage.gcs_bucket must be set for the gcs backend")
		}
	default:
		return fmt.Errorf("storage.backend %q is not one of memory, local, gcs", c.Storage.Backend)
	}
	if c.Schedule.Enabled {
		if _, err := cron.ParseStandard(c.Schedule.Cron); err != nil {
			return fmt.Errorf("schedule.cron %q: %w", c.Schedule.Cron, err)
		}
	}
	return c.validateRegions()
}

func (c Config) validateRegions() error {
	if len(c.Regions) == 0 {
		return errors.New("at least one region must be configured")
	}
	seen := make(map[string]struct{}, len(c.Regions))
	for i, r := range c.Regions {
		name := strings.ToLower(strings.TrimSpace(r.Name))
		if name == "" {
			return fmt.Errorf("regions[%d].name must be set", i)
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("region %q is configured twice", r.Name)
		}
		seen[name] = struct{}{}
	}
	return nil
}
