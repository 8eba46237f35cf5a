package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })
	return dir
}

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, int32(10), cfg.Store.MaxConns)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, []string{"*"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, "http", cfg.Dispatch.Transport)
	assert.Equal(t, 30, cfg.Dispatch.TimeoutMins)
	assert.Equal(t, 3, cfg.Dispatch.MaxAttempts)
	assert.Equal(t, 2, cfg.Dispatch.InitialBackoffSecs)
	assert.Equal(t, 30, cfg.Dispatch.MaxBackoffSecs)
	assert.Equal(t, "registry-scrape", cfg.Temporal.TaskQueue)
	assert.Equal(t, 1000, cfg.Checks.WebsiteStepTimeoutMs)
	assert.Equal(t, 168, cfg.Checks.DomainCacheTTLHours)
	assert.InDelta(t, 0.60, cfg.Checks.PressThreshold, 0.001)
	assert.Empty(t, cfg.Checks.FailClosed)
	assert.Equal(t, "https://newsapi.org", cfg.News.BaseURL)
	assert.Equal(t, "none", cfg.Classifier.Provider)
	assert.Equal(t, "facebook/bart-large-mnli", cfg.Classifier.HFModel)
	assert.InDelta(t, 2.0, cfg.Classifier.RatePerSec, 0.001)
	assert.Equal(t, 10, cfg.Processor.Concurrency)
	assert.Equal(t, 5, cfg.Reaper.ThresholdMins)
	assert.Equal(t, 60, cfg.Reaper.IntervalSecs)
	assert.Equal(t, "qualify:inbound_batches", cfg.Redis.Key)
	assert.Empty(t, cfg.Sources)
	assert.Empty(t, cfg.Monitoring.WebhookURL)
	assert.Equal(t, 24, cfg.Monitoring.LookbackWindowHours)
	assert.InDelta(t, 0.25, cfg.Monitoring.FailureRateThreshold, 0.001)
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: sqlite
  database_url: qualify.db
log:
  level: debug
  format: console
server:
  port: 9090
checks:
  fail_closed: [status]
sources:
  - companies_house
  - sec_edgar
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "qualify.db", cfg.Store.DatabaseURL)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, []string{"status"}, cfg.Checks.FailClosed)
	assert.Equal(t, []string{"companies_house", "sec_edgar"}, cfg.Sources)
	// Defaults still apply for unset values
	assert.Equal(t, 10, cfg.Processor.Concurrency)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: sqlite
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	t.Setenv("QUALIFY_STORE_DRIVER", "postgres")
	t.Setenv("QUALIFY_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	// Env overrides file
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	chdirTemp(t)

	t.Setenv("QUALIFY_SERVER_PORT", "3000")
	t.Setenv("QUALIFY_NEWS_KEY", "news-key")
	t.Setenv("QUALIFY_DISPATCH_WORKFLOW_URL", "https://workflows.example.com/scrape")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, "news-key", cfg.News.Key)
	assert.Equal(t, "https://workflows.example.com/scrape", cfg.Dispatch.WorkflowURL)
}

func TestLoadDotEnv(t *testing.T) {
	dir := chdirTemp(t)

	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("QUALIFY_REGISTRY_KEY=from-dotenv\n"), 0644))
	t.Cleanup(func() { os.Unsetenv("QUALIFY_REGISTRY_KEY") })

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "from-dotenv", cfg.Registry.Key)
}

func TestLoadDotEnvDoesNotOverrideEnv(t *testing.T) {
	dir := chdirTemp(t)

	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("QUALIFY_WHOIS_KEY=from-dotenv\n"), 0644))
	t.Setenv("QUALIFY_WHOIS_KEY", "from-env")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Whois.Key)
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}

// validDefaults returns a Config with all defaults populated for validation tests.
func validDefaults() *Config {
	cfg := &Config{}
	cfg.Store.Driver = "sqlite"
	cfg.Store.DatabaseURL = "qualify.db"
	cfg.Server.Port = 8080
	cfg.Dispatch.Transport = "http"
	cfg.Dispatch.WorkflowURL = "https://workflows.example.com/scrape"
	cfg.Dispatch.MaxAttempts = 3
	cfg.Dispatch.TimeoutMins = 30
	cfg.Checks.PressThreshold = 0.6
	cfg.Classifier.Provider = "none"
	cfg.Processor.Concurrency = 10
	cfg.Reaper.ThresholdMins = 5
	cfg.Reaper.IntervalSecs = 60
	return cfg
}

func TestValidateServe(t *testing.T) {
	assert.NoError(t, validDefaults().Validate("serve"))
}

func TestValidateServe_InvalidPort(t *testing.T) {
	cfg := validDefaults()
	cfg.Server.Port = 0

	err := cfg.Validate("serve")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "server.port must be > 0")
}

func TestValidateStore(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.Driver = "mysql"
	cfg.Store.DatabaseURL = ""

	err := cfg.Validate("cli")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "store.driver must be postgres or sqlite")
	assert.Contains(t, err.Error(), "store.database_url is required")
}

func TestValidateDispatch_Transport(t *testing.T) {
	cfg := validDefaults()
	cfg.Dispatch.WorkflowURL = ""

	err := cfg.Validate("dispatch")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "dispatch.workflow_url is required")

	cfg.Dispatch.Transport = "temporal"
	cfg.Temporal.HostPort = "localhost:7233"
	assert.NoError(t, cfg.Validate("dispatch"))

	cfg.Dispatch.Transport = "carrier-pigeon"
	err = cfg.Validate("dispatch")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "dispatch.transport must be http or temporal")
}

func TestValidateChecks(t *testing.T) {
	cfg := validDefaults()
	cfg.Checks.PressThreshold = 1.5
	cfg.Checks.FailClosed = []string{"status", "astrology"}
	cfg.Classifier.Provider = "anthropic"

	err := cfg.Validate("process")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "checks.press_threshold must be between 0 and 1")
	assert.Contains(t, err.Error(), `unknown checker "astrology"`)
	assert.Contains(t, err.Error(), "anthropic.key is required")
	assert.NotContains(t, err.Error(), `"status"`)
}

func TestValidateProcessorBounds(t *testing.T) {
	cfg := validDefaults()

	cfg.Processor.Concurrency = 0
	err := cfg.Validate("process")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "processor.concurrency must be between 1 and 10")

	cfg.Processor.Concurrency = 11
	assert.Error(t, cfg.Validate("process"))

	cfg.Processor.Concurrency = 10
	assert.NoError(t, cfg.Validate("process"))
}

func TestValidateReaper(t *testing.T) {
	cfg := validDefaults()
	cfg.Reaper.ThresholdMins = 0

	err := cfg.Validate("reap")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "reaper.threshold_mins must be >= 1")
}

func TestValidateUnknownMode(t *testing.T) {
	cfg := validDefaults()
	err := cfg.Validate("unknown")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}

func TestChecksConfig_IsFailClosed(t *testing.T) {
	c := ChecksConfig{FailClosed: []string{" Status ", "press"}}
	assert.True(t, c.IsFailClosed("status"))
	assert.True(t, c.IsFailClosed("press"))
	assert.False(t, c.IsFailClosed("domain"))
}
