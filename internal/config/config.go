// Package config loads and validates harvester configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/JakeFAU/pom-harvester/internal/github"
)

// Config captures all harvester configuration knobs loaded via Viper.
type Config struct {
	GitHub  GitHubConfig  `mapstructure:"github"`
	Crawl   CrawlConfig   `mapstructure:"crawl"`
	Data    DataConfig    `mapstructure:"data"`
	Logging LoggingConfig `mapstructure:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Mirror  MirrorConfig  `mapstructure:"mirror"`
}

// GitHubConfig configures API access and credential rotation.
type GitHubConfig struct {
	// Tokens is a comma separated credential list. GH_TOKENS also feeds it.
	Tokens            string        `mapstructure:"tokens"`
	BaseURL           string        `mapstructure:"base_url"`
	GraphQLURL        string        `mapstructure:"graphql_url"`
	RawBaseURL        string        `mapstructure:"raw_base_url"`
	UserAgent         string        `mapstructure:"user_agent"`
	Timeout           time.Duration `mapstructure:"timeout"`
	Cooldown          time.Duration `mapstructure:"cooldown"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	// RawRequestsPerSecond paces descriptor downloads from RawBaseURL's host.
	RawRequestsPerSecond float64 `mapstructure:"raw_requests_per_second"`
}

// TokenList splits Tokens into individual credentials.
func (g GitHubConfig) TokenList() []string {
	return github.ParseTokens(g.Tokens)
}

// CrawlConfig governs scan pacing, batching and what is harvested.
type CrawlConfig struct {
	BatchSize              int           `mapstructure:"batch_size"`
	PagePeriod             time.Duration `mapstructure:"page_period"`
	MaxInflightBatches     int           `mapstructure:"max_inflight_batches"`
	MaxConcurrentDownloads int           `mapstructure:"max_concurrent_downloads"`
	TargetFile             string        `mapstructure:"target_file"`
	TargetLanguage         string        `mapstructure:"target_language"`
}

// DataConfig locates the persistent crawl state.
type DataConfig struct {
	Dir         string `mapstructure:"dir"`
	ResultsName string `mapstructure:"results_name"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// MetricsConfig controls the status server. An empty Addr disables it.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// MirrorConfig lists the optional remote copies of crawl output.
type MirrorConfig struct {
	GCS      GCSMirrorConfig      `mapstructure:"gcs"`
	Postgres PostgresMirrorConfig `mapstructure:"postgres"`
	PubSub   PubSubConfig         `mapstructure:"pubsub"`
}

// GCSMirrorConfig mirrors descriptor files into a bucket when Bucket is set.
type GCSMirrorConfig struct {
	Bucket string `mapstructure:"bucket"`
	Prefix string `mapstructure:"prefix"`
}

// PostgresMirrorConfig mirrors result records into a table when DSN is set.
type PostgresMirrorConfig struct {
	DSN   string `mapstructure:"dsn"`
	Table string `mapstructure:"table"`
}

// PubSubConfig publishes progress milestones when both ids are set.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicID   string `mapstructure:"topic_id"`
}

// Load builds a Config from a .env file, the optional config file at path and
// the environment, in increasing precedence.
func Load(path string) (Config, error) {
	return load(path, ".env")
}

func load(path, dotenv string) (Config, error) {
	if dotenv != "" {
		// A missing .env is the common case.
		_ = godotenv.Load(dotenv)
	}

	v := viper.New()
	v.SetEnvPrefix("HARVESTER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("github.tokens", "HARVESTER_GITHUB_TOKENS", "GH_TOKENS"); err != nil {
		return Config{}, fmt.Errorf("bind GH_TOKENS: %w", err)
	}

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
	v.SetDefault("github.tokens", "")
	v.SetDefault("github.base_url", github.DefaultBaseURL)
	v.SetDefault("github.graphql_url", github.DefaultGraphQLURL)
	v.SetDefault("github.raw_base_url", github.DefaultRawBaseURL)
	v.SetDefault("github.user_agent", github.DefaultUserAgent)
	v.SetDefault("github.timeout", github.DefaultTimeout)
	v.SetDefault("github.cooldown", github.DefaultCooldown)
	v.SetDefault("github.requests_per_second", 0)
	v.SetDefault("github.raw_requests_per_second", 0)
	v.SetDefault("crawl.batch_size", github.MaxBatchSize)
	v.SetDefault("crawl.page_period", 250*time.Millisecond)
	v.SetDefault("crawl.max_inflight_batches", 16)
	v.SetDefault("crawl.max_concurrent_downloads", 8)
	v.SetDefault("crawl.target_file", "pom.xml")
	v.SetDefault("crawl.target_language", "Java")
	v.SetDefault("data.dir", "./data/sample10_000")
	v.SetDefault("data.results_name", "github")
	v.SetDefault("logging.development", false)
	v.SetDefault("metrics.addr", "")
	v.SetDefault("mirror.gcs.bucket", "")
	v.SetDefault("mirror.gcs.prefix", "poms")
	v.SetDefault("mirror.postgres.dsn", "")
	v.SetDefault("mirror.postgres.table", "harvested_repositories")
	v.SetDefault("mirror.pubsub.project_id", "")
	v.SetDefault("mirror.pubsub.topic_id", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Crawl.BatchSize <= 0 || c.Crawl.BatchSize > github.MaxBatchSize {
		return fmt.Errorf("crawl.batch_size must be between 1 and %d", github.MaxBatchSize)
	}
	if c.Crawl.PagePeriod <= 0 {
		return errors.New("crawl.page_period must be > 0")
	}
	if c.Crawl.MaxInflightBatches <= 0 {
		return errors.New("crawl.max_inflight_batches must be > 0")
	}
	if c.Crawl.MaxConcurrentDownloads <= 0 {
		return errors.New("crawl.max_concurrent_downloads must be > 0")
	}
	if strings.TrimSpace(c.Crawl.TargetFile) == "" {
		return errors.New("crawl.target_file must be set")
	}
	if strings.TrimSpace(c.Crawl.TargetLanguage) == "" {
		return errors.New("crawl.target_language must be set")
	}
	if c.GitHub.Timeout <= 0 {
		return errors.New("github.timeout must be > 0")
	}
	if c.GitHub.Cooldown < 0 {
		return errors.New("github.cooldown must be >= 0")
	}
	if c.GitHub.RequestsPerSecond < 0 {
		return errors.New("github.requests_per_second must be >= 0")
	}
	if c.GitHub.RawRequestsPerSecond < 0 {
		return errors.New("github.raw_requests_per_second must be >= 0")
	}
	for key, raw := range map[string]string{
		"github.base_url":     c.GitHub.BaseURL,
		"github.graphql_url":  c.GitHub.GraphQLURL,
		"github.raw_base_url": c.GitHub.RawBaseURL,
	} {
		if err := validateURL(raw); err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
	}
	if strings.TrimSpace(c.Data.Dir) == "" {
		return errors.New("data.dir must be set")
	}
	pubsub := c.Mirror.PubSub
	if (pubsub.ProjectID == "") != (pubsub.TopicID == "") {
		return errors.New("mirror.pubsub.project_id and mirror.pubsub.topic_id must be set together")
	}
	return nil
}

// RequireTokens reports an error when no credential is configured. Commands
// that talk to GitHub call it; offline maintenance commands do not.
func (c Config) RequireTokens() error {
	if len(c.GitHub.TokenList()) == 0 {
		return errors.New("no GitHub credentials: set GH_TOKENS or github.tokens")
	}
	return nil
}

func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid url %q: %w", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("url %q must be http or https", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("url %q has no host", raw)
	}
	return nil
}
