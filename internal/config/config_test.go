package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/catalog-image-sourcer/internal/catalogsync"
	"github.com/JakeFAU/catalog-image-sourcer/internal/sourcing"
)

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, sourcing.DefaultThreshold, cfg.Sourcing.Threshold)
	assert.Equal(t, "sourcing_ledger.csv", cfg.Sourcing.Ledger)
	assert.True(t, cfg.Sourcing.SkipItemsWithImages)
	assert.Equal(t, sourcing.DefaultStrategies(), cfg.Sourcing.Strategies)
	assert.Equal(t, 15*time.Second, cfg.HTTP.SearchTimeout)
	assert.Equal(t, 30*time.Second, cfg.HTTP.DownloadTimeout)
	assert.Equal(t, sourcing.DefaultMaxCandidates, cfg.Search.MaxCandidates)
	assert.Equal(t, "sourcing_outcomes", cfg.DB.OutcomeTable)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, StorageBackendGCS, cfg.Storage.Backend)
	assert.False(t, cfg.Publishing())
	assert.Equal(t, catalogsync.Config{Limit: 10, PageSize: 100, MinConfidence: 80}, cfg.Sync)
}

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.yaml")
	configYAML := `
sourcing:
  threshold: 85
  output_dir: out
  strategies:
    - backend: bing
      query: "{name} product"
      description: Bing only
pacing:
  pre_search: {min: 0s, max: 0s}
  pre_download: {min: 0s, max: 0s}
  inter_item: {min: 1s, max: 2s}
http:
  search_timeout: 5s
  rate_limit_rps: 3
search:
  headless:
    enabled: true
    max_parallel: 2
db:
  enabled: true
  dsn: postgres://localhost/sourcer
  outcome_table: outcomes
pubsub:
  enabled: true
  project_id: proj
  topic: outcomes
server:
  port: 9090
auth:
  enabled: true
  api_key: secret
`
	require.NoError(t, os.WriteFile(path, []byte(configYAML), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 85, cfg.Sourcing.Threshold)
	assert.Equal(t, "out", cfg.Sourcing.OutputDir)
	assert.Equal(t, []sourcing.StrategyTemplate{
		{Backend: sourcing.BackendBing, Query: "{name} product", Description: "Bing only"},
	}, cfg.Sourcing.Strategies)
	assert.Equal(t, time.Duration(0), cfg.Pacing.PreSearch.Max)
	assert.Equal(t, 2*time.Second, cfg.Pacing.InterItem.Max)
	assert.Equal(t, 5*time.Second, cfg.HTTP.SearchTimeout)
	assert.InDelta(t, 3.0, cfg.HTTP.RateLimitRPS, 0.001)
	assert.True(t, cfg.Search.Headless.Enabled)
	assert.Equal(t, 2, cfg.Search.Headless.MaxParallel)
	assert.Equal(t, "postgres://localhost/sourcer", cfg.DB.DSN)
	assert.Equal(t, "outcomes", cfg.DB.OutcomeTable)
	assert.Equal(t, "sourcing_runs", cfg.DB.RunTable)
	assert.Equal(t, "proj", cfg.PubSub.ProjectID)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "secret", cfg.Auth.APIKey)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("SOURCER_SOURCING_THRESHOLD", "60")
	t.Setenv("SOURCER_HTTP_DOWNLOAD_TIMEOUT", "12s")
	t.Setenv("SOURCER_PUBLICATION_ENABLED", "true")
	t.Setenv("WP_URL", "https://shop.example")
	t.Setenv("WP_USER", "editor")
	t.Setenv("WP_APP_PASSWORD", "abcd efgh")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 60, cfg.Sourcing.Threshold)
	assert.Equal(t, 12*time.Second, cfg.HTTP.DownloadTimeout)
	assert.Equal(t, "https://shop.example", cfg.Publication.WordPress.BaseURL)
	assert.Equal(t, "editor", cfg.Publication.WordPress.User)
	assert.True(t, cfg.Publishing())
}

func TestPrefixedWordPressEnvWins(t *testing.T) {
	t.Setenv("WP_URL", "https://legacy.example")
	t.Setenv("SOURCER_PUBLICATION_WORDPRESS_URL", "https://new.example")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "https://new.example", cfg.Publication.WordPress.BaseURL)
}

func TestLoadEnvFiles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "creds.env")
	require.NoError(t, os.WriteFile(path, []byte("WP_USER=from-file\n"), 0o600))
	t.Setenv("ENV_FILE", path)
	t.Setenv("WP_USER", "")
	require.NoError(t, os.Unsetenv("WP_USER"))

	require.NoError(t, LoadEnvFiles())
	assert.Equal(t, "from-file", os.Getenv("WP_USER"))
}

func TestLoadEnvFilesMissingExplicit(t *testing.T) {
	t.Setenv("ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))
	require.Error(t, LoadEnvFiles())
}

func TestLoadReadError(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.ErrorContains(t, err, "read config")
}

func TestValidate(t *testing.T) {
	t.Parallel()

	base, err := Load("")
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"threshold", func(c *Config) { c.Sourcing.Threshold = 101 }, "sourcing.threshold"},
		{"strategies", func(c *Config) { c.Sourcing.Strategies = []sourcing.StrategyTemplate{{Backend: "altavista"}} }, "sourcing.strategies"},
		{"pacing", func(c *Config) { c.Pacing.InterItem.Min = 3 * time.Second; c.Pacing.InterItem.Max = time.Second }, "pacing"},
		{"search timeout", func(c *Config) { c.HTTP.SearchTimeout = 0 }, "http.search_timeout"},
		{"download timeout", func(c *Config) { c.HTTP.DownloadTimeout = -time.Second }, "http.download_timeout"},
		{"image bytes", func(c *Config) { c.HTTP.MaxImageBytes = 0 }, "http.max_image_bytes"},
		{"attempts", func(c *Config) { c.HTTP.SearchAttempts = 0 }, "http.search_attempts"},
		{"candidates", func(c *Config) { c.Search.MaxCandidates = 0 }, "search.max_candidates"},
		{"headless", func(c *Config) { c.Search.Headless.Enabled = true; c.Search.Headless.MaxParallel = 0 }, "search.headless"},
		{"publication", func(c *Config) { c.Publication.Enabled = true }, "publication.wordpress"},
		{"storage", func(c *Config) { c.Storage.Enabled = true }, "storage.gcs.bucket"},
		{"storage backend", func(c *Config) { c.Storage.Enabled = true; c.Storage.Backend = "s3" }, "storage.backend"},
		{"db", func(c *Config) { c.DB.Enabled = true }, "db.dsn"},
		{"pubsub", func(c *Config) { c.PubSub.Enabled = true }, "pubsub.project_id"},
		{"pubsub backend", func(c *Config) { c.PubSub.Enabled = true; c.PubSub.Backend = "kafka" }, "pubsub.backend"},
		{"port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"auth", func(c *Config) { c.Auth.Enabled = true }, "auth.api_key"},
		{"sync limit", func(c *Config) { c.Sync.Limit = -1 }, "sync.limit"},
		{"sync page size", func(c *Config) { c.Sync.PageSize = 101 }, "sync.page_size"},
		{"sync confidence", func(c *Config) { c.Sync.MinConfidence = 120 }, "sync.min_confidence"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := base
			cfg.Sourcing.Strategies = append([]sourcing.StrategyTemplate(nil), base.Sourcing.Strategies...)
			tt.mutate(&cfg)
			require.ErrorContains(t, cfg.Validate(), tt.want)
		})
	}
}
