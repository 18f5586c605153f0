// Package config loads sourcer settings from defaults, an optional YAML file,
// .env files and SOURCER_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/JakeFAU/catalog-image-sourcer/internal/catalogsync"
	"github.com/JakeFAU/catalog-image-sourcer/internal/pacing"
	"github.com/JakeFAU/catalog-image-sourcer/internal/publisher/pubsub"
	"github.com/JakeFAU/catalog-image-sourcer/internal/publisher/wordpress"
	"github.com/JakeFAU/catalog-image-sourcer/internal/sourcing"
	"github.com/JakeFAU/catalog-image-sourcer/internal/storage/gcs"
	"github.com/JakeFAU/catalog-image-sourcer/internal/storage/postgres"
)

// EnvPrefix prefixes every environment override, e.g. SOURCER_SOURCING_THRESHOLD.
const EnvPrefix = "SOURCER"

// Config is the full application configuration.
type Config struct {
	Logging     LoggingConfig      `mapstructure:"logging"`
	Sourcing    SourcingConfig     `mapstructure:"sourcing"`
	Pacing      pacing.Config      `mapstructure:"pacing"`
	HTTP        HTTPConfig         `mapstructure:"http"`
	Search      SearchConfig       `mapstructure:"search"`
	Publication PublicationConfig  `mapstructure:"publication"`
	Storage     StorageConfig      `mapstructure:"storage"`
	DB          DBConfig           `mapstructure:"db"`
	PubSub      PubSubConfig       `mapstructure:"pubsub"`
	Server      ServerConfig       `mapstructure:"server"`
	Auth        AuthConfig         `mapstructure:"auth"`
	Telemetry   TelemetryConfig    `mapstructure:"telemetry"`
	Sync        catalogsync.Config `mapstructure:"sync"`
}

// LoggingConfig selects the zap preset and level.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// SourcingConfig controls the per-item pipeline.
type SourcingConfig struct {
	OutputDir           string                      `mapstructure:"output_dir"`
	Ledger              string                      `mapstructure:"ledger"`
	Threshold           int                         `mapstructure:"threshold"`
	SkipItemsWithImages bool                        `mapstructure:"skip_items_with_images"`
	HashImages          bool                        `mapstructure:"hash_images"`
	Strategies          []sourcing.StrategyTemplate `mapstructure:"strategies"`
}

// HTTPConfig tunes outbound requests to search providers and image hosts.
type HTTPConfig struct {
	UserAgent       string        `mapstructure:"user_agent"`
	SearchTimeout   time.Duration `mapstructure:"search_timeout"`
	DownloadTimeout time.Duration `mapstructure:"download_timeout"`
	MaxImageBytes   int           `mapstructure:"max_image_bytes"`
	RateLimitRPS    float64       `mapstructure:"rate_limit_rps"`
	RateLimitBurst  int           `mapstructure:"rate_limit_burst"`
	// SearchAttempts bounds tries per search request; 1 disables retries.
	SearchAttempts  int           `mapstructure:"search_attempts"`
	RetryBaseDelay  time.Duration `mapstructure:"retry_base_delay"`
}

// SearchConfig points each backend at its endpoint.
type SearchConfig struct {
	MaxCandidates int            `mapstructure:"max_candidates"`
	DuckDuckGoURL string         `mapstructure:"duckduckgo_url"`
	BingURL       string         `mapstructure:"bing_url"`
	YahooURL      string         `mapstructure:"yahoo_url"`
	Headless      HeadlessConfig `mapstructure:"headless"`
}

// HeadlessConfig enables Chrome rendering for result pages that come back
// without results.
type HeadlessConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	MaxParallel int           `mapstructure:"max_parallel"`
	NavTimeout  time.Duration `mapstructure:"nav_timeout"`
	Scrolls     int           `mapstructure:"scrolls"`
	ExecPath    string        `mapstructure:"exec_path"`
}

// PublicationConfig controls the optional WordPress/WooCommerce step.
type PublicationConfig struct {
	Enabled   bool             `mapstructure:"enabled"`
	WordPress wordpress.Config `mapstructure:"wordpress"`
}

// Image mirror and notifier backends.
const (
	StorageBackendGCS    = "gcs"
	StorageBackendMemory = "memory"
	PubSubBackendGCP     = "gcp"
	PubSubBackendMemory  = "memory"
)

// StorageConfig configures the optional image mirror.
type StorageConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// Backend is "gcs" or "memory"; memory keeps copies in-process for local development.
	Backend string     `mapstructure:"backend"`
	GCS     gcs.Config `mapstructure:"gcs"`
}

// DBConfig configures the optional Postgres outcome and run mirror.
type DBConfig struct {
	Enabled         bool `mapstructure:"enabled"`
	postgres.Config `mapstructure:",squash"`
}

// PubSubConfig configures optional outcome notifications.
type PubSubConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// Backend is "gcp" or "memory"; memory records messages in-process.
	Backend       string `mapstructure:"backend"`
	pubsub.Config `mapstructure:",squash"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	MaxUploadBytes  int64         `mapstructure:"max_upload_bytes"`
}

// AuthConfig guards the HTTP API with a static key.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// TelemetryConfig configures tracing export.
type TelemetryConfig struct {
	ServiceName string  `mapstructure:"service_name"`
	ProjectID   string  `mapstructure:"project_id"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// LoadEnvFiles loads ENV_FILE (when set), .env.local and .env. Variables
// already present in the environment are never overwritten.
func LoadEnvFiles() error {
	files := []string{".env.local", ".env"}
	if explicit := os.Getenv("ENV_FILE"); explicit != "" {
		if err := godotenv.Load(explicit); err != nil {
			return fmt.Errorf("load env file %s: %w", explicit, err)
		}
	}
	for _, f := range files {
		err := godotenv.Load(f)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("load env file %s: %w", f, err)
		}
	}
	return nil
}

// Load builds a Config. An empty path skips the YAML file.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	if err := bindLegacyEnv(v); err != nil {
		return Config{}, err
	}

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
	if len(cfg.Sourcing.Strategies) == 0 {
		cfg.Sourcing.Strategies = sourcing.DefaultStrategies()
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// bindLegacyEnv lets the unprefixed WordPress variables used by existing
// deployments fill the publication section.
func bindLegacyEnv(v *viper.Viper) error {
	bindings := map[string]string{
		"publication.wordpress.url":          "WP_URL",
		"publication.wordpress.user":         "WP_USER",
		"publication.wordpress.app_password": "WP_APP_PASSWORD",
	}
	for key, legacy := range bindings {
		prefixed := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, legacy); err != nil {
			return fmt.Errorf("bind env %s: %w", key, err)
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")

	v.SetDefault("sourcing.output_dir", "sourced_images")
	v.SetDefault("sourcing.ledger", "sourcing_ledger.csv")
	v.SetDefault("sourcing.threshold", sourcing.DefaultThreshold)
	v.SetDefault("sourcing.skip_items_with_images", true)
	v.SetDefault("sourcing.hash_images", true)

	def := pacing.DefaultConfig()
	v.SetDefault("pacing.pre_search.min", def.PreSearch.Min)
	v.SetDefault("pacing.pre_search.max", def.PreSearch.Max)
	v.SetDefault("pacing.pre_download.min", def.PreDownload.Min)
	v.SetDefault("pacing.pre_download.max", def.PreDownload.Max)
	v.SetDefault("pacing.inter_item.min", def.InterItem.Min)
	v.SetDefault("pacing.inter_item.max", def.InterItem.Max)

	v.SetDefault("http.user_agent", "")
	v.SetDefault("http.search_timeout", 15*time.Second)
	v.SetDefault("http.download_timeout", 30*time.Second)
	v.SetDefault("http.max_image_bytes", 20<<20)
	v.SetDefault("http.rate_limit_rps", 1.0)
	v.SetDefault("http.rate_limit_burst", 2)
	v.SetDefault("http.search_attempts", 2)
	v.SetDefault("http.retry_base_delay", 500*time.Millisecond)

	v.SetDefault("search.max_candidates", sourcing.DefaultMaxCandidates)
	v.SetDefault("search.duckduckgo_url", "https://duckduckgo.com")
	v.SetDefault("search.bing_url", "https://www.bing.com")
	v.SetDefault("search.yahoo_url", "https://images.search.yahoo.com")
	v.SetDefault("search.headless.enabled", false)
	v.SetDefault("search.headless.max_parallel", 1)
	v.SetDefault("search.headless.nav_timeout", 45*time.Second)
	v.SetDefault("search.headless.scrolls", 2)
	v.SetDefault("search.headless.exec_path", "")

	v.SetDefault("publication.enabled", false)
	v.SetDefault("publication.wordpress.timeout", 15*time.Second)
	v.SetDefault("publication.wordpress.upload_timeout", 60*time.Second)

	v.SetDefault("storage.enabled", false)
	v.SetDefault("storage.backend", StorageBackendGCS)
	v.SetDefault("storage.gcs.bucket", "")
	v.SetDefault("storage.gcs.prefix", "images")

	v.SetDefault("db.enabled", false)
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.outcome_table", "sourcing_outcomes")
	v.SetDefault("db.run_table", "sourcing_runs")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("db.ensure_schema", true)

	v.SetDefault("pubsub.enabled", false)
	v.SetDefault("pubsub.backend", PubSubBackendGCP)
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic", "")

	v.SetDefault("server.port", 8080)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.api_key", "")
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.max_upload_bytes", 32<<20)

	v.SetDefault("telemetry.service_name", "catalog-image-sourcer")
	v.SetDefault("telemetry.project_id", "")
	v.SetDefault("telemetry.sample_ratio", 0.0)

	v.SetDefault("sync.limit", catalogsync.DefaultLimit)
	v.SetDefault("sync.page_size", catalogsync.DefaultPageSize)
	v.SetDefault("sync.min_confidence", catalogsync.DefaultMinConfidence)
}

// Validate checks ranges and required settings.
func (c Config) Validate() error {
	if c.Sourcing.Threshold < 0 || c.Sourcing.Threshold > 100 {
		return fmt.Errorf("sourcing.threshold must be within 0..100")
	}
	if err := sourcing.ValidateTemplates(c.Sourcing.Strategies); err != nil {
		return fmt.Errorf("sourcing.strategies: %w", err)
	}
	if err := c.Pacing.Validate(); err != nil {
		return fmt.Errorf("pacing: %w", err)
	}
	if c.HTTP.SearchTimeout <= 0 {
		return fmt.Errorf("http.search_timeout must be > 0")
	}
	if c.HTTP.DownloadTimeout <= 0 {
		return fmt.Errorf("http.download_timeout must be > 0")
	}
	if c.HTTP.MaxImageBytes <= 0 {
		return fmt.Errorf("http.max_image_bytes must be > 0")
	}
	if c.HTTP.SearchAttempts < 1 {
		return fmt.Errorf("http.search_attempts must be >= 1")
	}
	if c.Search.MaxCandidates <= 0 {
		return fmt.Errorf("search.max_candidates must be > 0")
	}
	if c.Search.Headless.Enabled && c.Search.Headless.MaxParallel <= 0 {
		return fmt.Errorf("search.headless.max_parallel must be > 0 when headless is enabled")
	}
	if c.Publication.Enabled && !c.Publication.WordPress.Configured() {
		return fmt.Errorf("publication.wordpress url, user and app_password must be set when publication is enabled")
	}
	if c.Storage.Enabled {
		switch c.Storage.Backend {
		case StorageBackendGCS:
			if c.Storage.GCS.Bucket == "" {
				return fmt.Errorf("storage.gcs.bucket must be set when the gcs backend is enabled")
			}
		case StorageBackendMemory:
		default:
			return fmt.Errorf("storage.backend %q is not supported", c.Storage.Backend)
		}
	}
	if c.DB.Enabled && c.DB.DSN == "" {
		return fmt.Errorf("db.dsn must be set when db is enabled")
	}
	if c.PubSub.Enabled {
		switch c.PubSub.Backend {
		case PubSubBackendGCP:
			if c.PubSub.ProjectID == "" || c.PubSub.Topic == "" {
				return fmt.Errorf("pubsub.project_id and pubsub.topic must be set when the gcp backend is enabled")
			}
		case PubSubBackendMemory:
		default:
			return fmt.Errorf("pubsub.backend %q is not supported", c.PubSub.Backend)
		}
	}
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Sync.Limit < 0 {
		return fmt.Errorf("sync.limit must be >= 0")
	}
	if c.Sync.PageSize < 0 || c.Sync.PageSize > 100 {
		return fmt.Errorf("sync.page_size must be within 0..100")
	}
	if c.Sync.MinConfidence < 0 || c.Sync.MinConfidence > 100 {
		return fmt.Errorf("sync.min_confidence must be within 0..100")
	}
	return nil
}

// Publishing reports whether publication should run for this process.
func (c Config) Publishing() bool {
	return c.Publication.Enabled && c.Publication.WordPress.Configured()
}
