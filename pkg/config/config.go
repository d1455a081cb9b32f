// Package config loads harvester configuration from an optional YAML file,
// a .env file and HARVEST_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/Sternrassler/arxiv-harvester/pkg/harvest"
	"github.com/Sternrassler/arxiv-harvester/pkg/logging"
	"github.com/Sternrassler/arxiv-harvester/pkg/orchestrator"
	"github.com/Sternrassler/arxiv-harvester/pkg/pagination"
	"github.com/Sternrassler/arxiv-harvester/pkg/snapshot"
)

// EnvPrefix is prepended to every environment override: retry.max_wait → HARVEST_RETRY_MAX_WAIT.
const EnvPrefix = "HARVEST"

// Supported sources.
const (
	SourceArxiv  = "arxiv"
	SourcePubMed = "pubmed"
)

// DefaultCategories is the category set swept when none is configured.
var DefaultCategories = []string{"cs.AI", "cs.CL", "cs.CV", "cs.LG", "cs.NE", "cs.CC", "stat.ML"}

// Config is the complete harvester configuration.
type Config struct {
	Source        string   `mapstructure:"source"`
	Categories    []string `mapstructure:"categories"`
	OutputDir     string   `mapstructure:"output_dir"`
	CheckpointDir string   `mapstructure:"checkpoint_dir"`

	Arxiv      ArxivConfig      `mapstructure:"arxiv"`
	PubMed     PubMedConfig     `mapstructure:"pubmed"`
	Retry      RetryConfig      `mapstructure:"retry"`
	Pagination PaginationConfig `mapstructure:"pagination"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Daemon     DaemonConfig     `mapstructure:"daemon"`
	Publish    PublishConfig    `mapstructure:"publish"`
	Log        LogConfig        `mapstructure:"log"`
}

// ArxivConfig configures the arXiv API source and its listing pages.
type ArxivConfig struct {
	APIURL      string        `mapstructure:"api_url"`
	ListURL     string        `mapstructure:"list_url"`
	PageSize    int           `mapstructure:"page_size"`
	ListingSize int           `mapstructure:"listing_size"`
	MinInterval time.Duration `mapstructure:"min_interval"`
	Timeout     time.Duration `mapstructure:"timeout"`
	MaxRetries  int           `mapstructure:"max_retries"`
	UserAgent   string        `mapstructure:"user_agent"`
}

// PubMedConfig configures the PubMed RSS source.
type PubMedConfig struct {
	// Feeds maps a category name to its RSS feed URL.
	Feeds       map[string]string `mapstructure:"feeds"`
	MinInterval time.Duration     `mapstructure:"min_interval"`
}

// RetryConfig holds the fetch loop backoff and stall settings.
type RetryConfig struct {
	BaseDelay      time.Duration `mapstructure:"base_delay"`
	Multiplier     float64       `mapstructure:"multiplier"`
	MaxDelay       time.Duration `mapstructure:"max_delay"`
	StallThreshold int           `mapstructure:"stall_threshold"`
	MaxWait        time.Duration `mapstructure:"max_wait"`
}

// PaginationConfig bounds concurrent page fetches.
type PaginationConfig struct {
	MaxConcurrency int `mapstructure:"max_concurrency"`
}

// RedisConfig enables the shared rate limiter and record cache.
type RedisConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	Addr       string        `mapstructure:"addr"`
	Password   string        `mapstructure:"password"`
	DB         int           `mapstructure:"db"`
	RecordTTL  time.Duration `mapstructure:"record_ttl"`
	LimiterKey string        `mapstructure:"limiter_key"`
}

// DaemonConfig controls continuous mode.
type DaemonConfig struct {
	CheckInterval time.Duration `mapstructure:"check_interval"`
	ErrorDelay    time.Duration `mapstructure:"error_delay"`
	LookbackDays  int           `mapstructure:"lookback_days"`
	MetricsAddr   string        `mapstructure:"metrics_addr"`
}

// PublishConfig holds snapshot mirroring targets.
type PublishConfig struct {
	S3 S3Config `mapstructure:"s3"`
}

// S3Config configures mirroring snapshots to an S3-compatible bucket.
type S3Config struct {
	Enabled         bool   `mapstructure:"enabled"`
	Endpoint        string `mapstructure:"endpoint"`
	Region          string `mapstructure:"region"`
	Bucket          string `mapstructure:"bucket"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UsePathStyle    bool   `mapstructure:"use_path_style"`
	Prefix          string `mapstructure:"prefix"`
}

// LogConfig controls log level and format.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

// Load reads configuration. configPath may be empty, in which case config.yaml
// is looked up in ./configs and the working directory; a missing file is fine.
func Load(configPath string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configPath != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Credentials commonly live under their conventional names.
	_ = v.BindEnv("publish.s3.access_key_id", EnvPrefix+"_PUBLISH_S3_ACCESS_KEY_ID", "AWS_ACCESS_KEY_ID")
	_ = v.BindEnv("publish.s3.secret_access_key", EnvPrefix+"_PUBLISH_S3_SECRET_ACCESS_KEY", "AWS_SECRET_ACCESS_KEY")
	_ = v.BindEnv("redis.password", EnvPrefix+"_REDIS_PASSWORD", "REDIS_PASSWORD")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.Categories = splitList(cfg.Categories)

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("source", SourceArxiv)
	v.SetDefault("categories", DefaultCategories)
	v.SetDefault("output_dir", "papers_data")
	v.SetDefault("checkpoint_dir", "checkpoints")

	v.SetDefault("arxiv.api_url", "http://export.arxiv.org/api/query")
	v.SetDefault("arxiv.list_url", "https://arxiv.org/list")
	v.SetDefault("arxiv.page_size", 100)
	v.SetDefault("arxiv.listing_size", 2000)
	v.SetDefault("arxiv.min_interval", 3*time.Second)
	v.SetDefault("arxiv.timeout", 60*time.Second)
	v.SetDefault("arxiv.max_retries", 3)
	v.SetDefault("arxiv.user_agent", "arxiv-harvester/1.0 (mailto:harvester@example.org)")

	v.SetDefault("pubmed.feeds", map[string]string{})
	v.SetDefault("pubmed.min_interval", time.Second)

	policy := harvest.DefaultRetryPolicy()
	v.SetDefault("retry.base_delay", policy.BaseDelay)
	v.SetDefault("retry.multiplier", policy.Multiplier)
	v.SetDefault("retry.max_delay", policy.MaxDelay)
	v.SetDefault("retry.stall_threshold", policy.StallThreshold)
	v.SetDefault("retry.max_wait", policy.MaxWait)

	v.SetDefault("pagination.max_concurrency", pagination.DefaultConfig().MaxConcurrency)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.record_ttl", 24*time.Hour)
	v.SetDefault("redis.limiter_key", "harvest:ratelimit:arxiv")

	v.SetDefault("daemon.check_interval", orchestrator.DefaultInterval)
	v.SetDefault("daemon.error_delay", orchestrator.DefaultErrorDelay)
	v.SetDefault("daemon.lookback_days", orchestrator.DefaultLookbackDays)
	v.SetDefault("daemon.metrics_addr", ":9090")

	v.SetDefault("publish.s3.enabled", false)
	v.SetDefault("publish.s3.region", "us-east-1")
	v.SetDefault("publish.s3.use_path_style", true)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
}

// splitList flattens comma-separated entries, as environment overrides arrive
// as a single "cs.AI,cs.LG" string.
func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.FieldsFunc(item, func(r rune) bool { return r == ',' || r == ' ' }) {
			out = append(out, part)
		}
	}
	return out
}

// Validate checks the configuration for values the harvester cannot run with.
func (c *Config) Validate() error {
	switch c.Source {
	case SourceArxiv:
		if c.Arxiv.PageSize <= 0 {
			return fmt.Errorf("arxiv.page_size must be positive")
		}
		if c.Arxiv.MinInterval <= 0 {
			return fmt.Errorf("arxiv.min_interval must be positive")
		}
	case SourcePubMed:
		if len(c.PubMed.Feeds) == 0 {
			return fmt.Errorf("pubmed.feeds must name at least one feed")
		}
		if c.PubMed.MinInterval <= 0 {
			return fmt.Errorf("pubmed.min_interval must be positive")
		}
	default:
		return fmt.Errorf("unknown source %q (want %s or %s)", c.Source, SourceArxiv, SourcePubMed)
	}

	if len(c.Categories) == 0 {
		return fmt.Errorf("categories must not be empty")
	}
	if c.OutputDir == "" || c.CheckpointDir == "" {
		return fmt.Errorf("output_dir and checkpoint_dir are required")
	}
	if err := c.Policy().Validate(); err != nil {
		return fmt.Errorf("retry: %w", err)
	}
	if c.Daemon.CheckInterval <= 0 || c.Daemon.ErrorDelay <= 0 {
		return fmt.Errorf("daemon intervals must be positive")
	}
	if c.Daemon.LookbackDays < 1 {
		return fmt.Errorf("daemon.lookback_days must be at least 1")
	}
	if c.Redis.Enabled && c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required when redis is enabled")
	}
	if c.Publish.S3.Enabled && c.Publish.S3.Bucket == "" {
		return fmt.Errorf("publish.s3.bucket is required when publishing is enabled")
	}
	if !logging.ValidLevel(c.Log.Level) {
		return fmt.Errorf("unknown log level %q", c.Log.Level)
	}
	return nil
}

// Policy returns the retry policy of the fetch loop.
func (c *Config) Policy() harvest.RetryPolicy {
	return harvest.RetryPolicy{
		BaseDelay:      c.Retry.BaseDelay,
		Multiplier:     c.Retry.Multiplier,
		MaxDelay:       c.Retry.MaxDelay,
		StallThreshold: c.Retry.StallThreshold,
		MaxWait:        c.Retry.MaxWait,
	}
}

// Orchestrator returns the orchestrator configuration.
func (c *Config) Orchestrator() orchestrator.Config {
	return orchestrator.Config{
		CheckpointDir: c.CheckpointDir,
		OutputDir:     c.OutputDir,
		Categories:    c.Categories,
		Policy:        c.Policy(),
		Pagination: pagination.Config{
			MaxConcurrency: c.Pagination.MaxConcurrency,
			Timeout:        pagination.DefaultConfig().Timeout,
		},
	}
}

// Logging returns the logger configuration.
func (c *Config) Logging() logging.Config {
	cfg := logging.DefaultConfig()
	cfg.Level = logging.LogLevel(c.Log.Level)
	cfg.Pretty = c.Log.Pretty
	return cfg
}

// S3 returns the snapshot publisher configuration.
func (c *Config) S3() snapshot.S3Config {
	s := c.Publish.S3
	return snapshot.S3Config{
		Endpoint:        s.Endpoint,
		Region:          s.Region,
		Bucket:          s.Bucket,
		AccessKeyID:     s.AccessKeyID,
		SecretAccessKey: s.SecretAccessKey,
		UsePathStyle:    s.UsePathStyle,
		Prefix:          s.Prefix,
	}
}
