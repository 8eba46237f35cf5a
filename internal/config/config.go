package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Redis      RedisConfig      `yaml:"redis" mapstructure:"redis"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Dispatch   DispatchConfig   `yaml:"dispatch" mapstructure:"dispatch"`
	Temporal   TemporalConfig   `yaml:"temporal" mapstructure:"temporal"`
	Checks     ChecksConfig     `yaml:"checks" mapstructure:"checks"`
	News       APIConfig        `yaml:"news" mapstructure:"news"`
	Search     SearchConfig     `yaml:"search" mapstructure:"search"`
	Registry   APIConfig        `yaml:"registry" mapstructure:"registry"`
	Whois      APIConfig        `yaml:"whois" mapstructure:"whois"`
	Classifier ClassifierConfig `yaml:"classifier" mapstructure:"classifier"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	Processor  ProcessorConfig  `yaml:"processor" mapstructure:"processor"`
	Reaper     ReaperConfig     `yaml:"reaper" mapstructure:"reaper"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`

	// Sources narrows the dispatch whitelist. Empty enables every source.
	Sources []string `yaml:"sources" mapstructure:"sources"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
}

// RedisConfig configures the inbound batch wake-up list. An empty URL falls
// back to polling the store.
type RedisConfig struct {
	URL      string `yaml:"url" mapstructure:"url"`
	Key      string `yaml:"key" mapstructure:"key"`
	PollSecs int    `yaml:"poll_secs" mapstructure:"poll_secs"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	WebhookSecret  string   `yaml:"webhook_secret" mapstructure:"webhook_secret"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// DispatchConfig configures how scrape workflows are triggered.
type DispatchConfig struct {
	Transport          string `yaml:"transport" mapstructure:"transport"`
	WorkflowURL        string `yaml:"workflow_url" mapstructure:"workflow_url"`
	CallbackURL        string `yaml:"callback_url" mapstructure:"callback_url"`
	Token              string `yaml:"token" mapstructure:"token"`
	TimeoutMins        int    `yaml:"timeout_mins" mapstructure:"timeout_mins"`
	MaxAttempts        int    `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffSecs int    `yaml:"initial_backoff_secs" mapstructure:"initial_backoff_secs"`
	MaxBackoffSecs     int    `yaml:"max_backoff_secs" mapstructure:"max_backoff_secs"`
}

// TemporalConfig is used when dispatch.transport is "temporal".
type TemporalConfig struct {
	HostPort     string `yaml:"host_port" mapstructure:"host_port"`
	Namespace    string `yaml:"namespace" mapstructure:"namespace"`
	TaskQueue    string `yaml:"task_queue" mapstructure:"task_queue"`
	WorkflowType string `yaml:"workflow_type" mapstructure:"workflow_type"`
}

// ChecksConfig configures the external checkers.
type ChecksConfig struct {
	DomainTimeoutSecs    int     `yaml:"domain_timeout_secs" mapstructure:"domain_timeout_secs"`
	PressTimeoutSecs     int     `yaml:"press_timeout_secs" mapstructure:"press_timeout_secs"`
	PresenceTimeoutSecs  int     `yaml:"presence_timeout_secs" mapstructure:"presence_timeout_secs"`
	StatusTimeoutSecs    int     `yaml:"status_timeout_secs" mapstructure:"status_timeout_secs"`
	LookupTimeoutSecs    int     `yaml:"lookup_timeout_secs" mapstructure:"lookup_timeout_secs"`
	WebsiteStepTimeoutMs int     `yaml:"website_step_timeout_ms" mapstructure:"website_step_timeout_ms"`
	DomainCacheTTLHours  int     `yaml:"domain_cache_ttl_hours" mapstructure:"domain_cache_ttl_hours"`
	PressThreshold       float64 `yaml:"press_threshold" mapstructure:"press_threshold"`
	PressMaxArticles     int     `yaml:"press_max_articles" mapstructure:"press_max_articles"`

	// FailClosed lists the checkers ("domain", "press", "presence",
	// "status") that reject instead of pass when they cannot decide.
	FailClosed []string `yaml:"fail_closed" mapstructure:"fail_closed"`

	BreakerFailureThreshold int `yaml:"breaker_failure_threshold" mapstructure:"breaker_failure_threshold"`
	BreakerResetSecs        int `yaml:"breaker_reset_secs" mapstructure:"breaker_reset_secs"`
}

// IsFailClosed reports whether the named checker is configured fail-closed.
func (c ChecksConfig) IsFailClosed(name string) bool {
	for _, n := range c.FailClosed {
		if strings.EqualFold(strings.TrimSpace(n), name) {
			return true
		}
	}
	return false
}

// APIConfig holds credentials for a keyed HTTP API.
type APIConfig struct {
	Key        string  `yaml:"key" mapstructure:"key"`
	BaseURL    string  `yaml:"base_url" mapstructure:"base_url"`
	RatePerSec float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
}

// SearchConfig holds web search API settings.
type SearchConfig struct {
	Key        string  `yaml:"key" mapstructure:"key"`
	EngineID   string  `yaml:"engine_id" mapstructure:"engine_id"`
	BaseURL    string  `yaml:"base_url" mapstructure:"base_url"`
	RatePerSec float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
}

// ClassifierConfig selects the negative-press topic classifier.
type ClassifierConfig struct {
	Provider  string `yaml:"provider" mapstructure:"provider"`
	HFToken   string `yaml:"hf_token" mapstructure:"hf_token"`
	HFModel   string `yaml:"hf_model" mapstructure:"hf_model"`
	HFBaseURL string `yaml:"hf_base_url" mapstructure:"hf_base_url"`

	RatePerSec float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key        string `yaml:"key" mapstructure:"key"`
	Model      string `yaml:"model" mapstructure:"model"`
	MaxRetries int    `yaml:"max_retries" mapstructure:"max_retries"`
}

// ProcessorConfig configures the inbound batch processor.
type ProcessorConfig struct {
	Concurrency      int `yaml:"concurrency" mapstructure:"concurrency"`
	PollIntervalSecs int `yaml:"poll_interval_secs" mapstructure:"poll_interval_secs"`
}

// ReaperConfig configures the stale job reaper.
type ReaperConfig struct {
	IntervalSecs  int `yaml:"interval_secs" mapstructure:"interval_secs"`
	ThresholdMins int `yaml:"threshold_mins" mapstructure:"threshold_mins"`
}

// MonitoringConfig configures job health alerts. Alerts are only sent when
// WebhookURL is set.
type MonitoringConfig struct {
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	CheckIntervalSecs    int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackWindowHours  int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	MinFinishedJobs      int     `yaml:"min_finished_jobs" mapstructure:"min_finished_jobs"`
	TimeoutThreshold     int     `yaml:"timeout_threshold" mapstructure:"timeout_threshold"`
}

// Load reads configuration from .env, config file and environment.
func Load() (*Config, error) {
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			return nil, eris.Wrap(err, "config: load .env")
		}
	}

	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("QUALIFY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults. Keys without a useful default are still registered so that
	// AutomaticEnv picks them up during Unmarshal.
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.database_url", "")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("redis.url", "")
	v.SetDefault("redis.key", "qualify:inbound_batches")
	v.SetDefault("redis.poll_secs", 5)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.webhook_secret", "")
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("dispatch.transport", "http")
	v.SetDefault("dispatch.workflow_url", "")
	v.SetDefault("dispatch.callback_url", "")
	v.SetDefault("dispatch.token", "")
	v.SetDefault("dispatch.timeout_mins", 30)
	v.SetDefault("dispatch.max_attempts", 3)
	v.SetDefault("dispatch.initial_backoff_secs", 2)
	v.SetDefault("dispatch.max_backoff_secs", 30)
	v.SetDefault("temporal.host_port", "localhost:7233")
	v.SetDefault("temporal.namespace", "default")
	v.SetDefault("temporal.task_queue", "registry-scrape")
	v.SetDefault("temporal.workflow_type", "ScrapeRegistry")
	v.SetDefault("checks.domain_timeout_secs", 10)
	v.SetDefault("checks.press_timeout_secs", 15)
	v.SetDefault("checks.presence_timeout_secs", 10)
	v.SetDefault("checks.status_timeout_secs", 10)
	v.SetDefault("checks.lookup_timeout_secs", 5)
	v.SetDefault("checks.website_step_timeout_ms", 1000)
	v.SetDefault("checks.domain_cache_ttl_hours", 7*24)
	v.SetDefault("checks.press_threshold", 0.60)
	v.SetDefault("checks.press_max_articles", 20)
	v.SetDefault("checks.fail_closed", []string{})
	v.SetDefault("checks.breaker_failure_threshold", 5)
	v.SetDefault("checks.breaker_reset_secs", 30)
	v.SetDefault("news.key", "")
	v.SetDefault("news.base_url", "https://newsapi.org")
	v.SetDefault("news.rate_per_sec", 1.0)
	v.SetDefault("search.key", "")
	v.SetDefault("search.engine_id", "")
	v.SetDefault("search.base_url", "https://www.googleapis.com/customsearch/v1")
	v.SetDefault("search.rate_per_sec", 1.0)
	v.SetDefault("registry.key", "")
	v.SetDefault("registry.base_url", "https://api.company-information.service.gov.uk")
	v.SetDefault("registry.rate_per_sec", 2.0)
	v.SetDefault("whois.key", "")
	v.SetDefault("whois.base_url", "https://whois.example-api.com")
	v.SetDefault("whois.rate_per_sec", 1.0)
	v.SetDefault("classifier.provider", "none")
	v.SetDefault("classifier.hf_token", "")
	v.SetDefault("classifier.hf_model", "facebook/bart-large-mnli")
	v.SetDefault("classifier.hf_base_url", "https://api-inference.huggingface.co")
	v.SetDefault("classifier.rate_per_sec", 2.0)
	v.SetDefault("anthropic.key", "")
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.max_retries", 2)
	v.SetDefault("processor.concurrency", 10)
	v.SetDefault("processor.poll_interval_secs", 5)
	v.SetDefault("reaper.interval_secs", 60)
	v.SetDefault("reaper.threshold_mins", 5)
	v.SetDefault("monitoring.webhook_url", "")
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("monitoring.failure_rate_threshold", 0.25)
	v.SetDefault("monitoring.min_finished_jobs", 5)
	v.SetDefault("monitoring.timeout_threshold", 1)
	v.SetDefault("sources", []string{})

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the fields the given mode needs. Modes: "serve",
// "dispatch", "process", "reap", "aggregate", "cli".
func (c *Config) Validate(mode string) error {
	var errs []string
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Sprintf(format, args...))
	}

	switch c.Store.Driver {
	case "postgres", "sqlite":
	default:
		add("store.driver must be postgres or sqlite, got %q", c.Store.Driver)
	}
	if c.Store.DatabaseURL == "" {
		add("store.database_url is required")
	}

	switch mode {
	case "serve":
		if c.Server.Port <= 0 {
			add("server.port must be > 0")
		}
		c.validateDispatch(add)
		c.validateChecks(add)
		c.validateProcessor(add)
		c.validateReaper(add)
	case "dispatch":
		c.validateDispatch(add)
	case "process":
		c.validateChecks(add)
		c.validateProcessor(add)
	case "reap":
		c.validateReaper(add)
	case "aggregate":
		c.validateChecks(add)
	case "cli":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) validateDispatch(add func(string, ...any)) {
	switch c.Dispatch.Transport {
	case "http":
		if c.Dispatch.WorkflowURL == "" {
			add("dispatch.workflow_url is required for http transport")
		}
	case "temporal":
		if c.Temporal.HostPort == "" {
			add("temporal.host_port is required for temporal transport")
		}
	default:
		add("dispatch.transport must be http or temporal, got %q", c.Dispatch.Transport)
	}
	if c.Dispatch.MaxAttempts < 1 {
		add("dispatch.max_attempts must be >= 1")
	}
	if c.Dispatch.TimeoutMins < 1 {
		add("dispatch.timeout_mins must be >= 1")
	}
}

func (c *Config) validateChecks(add func(string, ...any)) {
	if c.Checks.PressThreshold < 0 || c.Checks.PressThreshold > 1 {
		add("checks.press_threshold must be between 0 and 1")
	}
	for _, n := range c.Checks.FailClosed {
		switch strings.ToLower(strings.TrimSpace(n)) {
		case "domain", "press", "presence", "status":
		default:
			add("checks.fail_closed: unknown checker %q", n)
		}
	}
	switch c.Classifier.Provider {
	case "", "none":
	case "hf":
		if c.Classifier.HFToken == "" {
			add("classifier.hf_token is required for hf provider")
		}
	case "anthropic":
		if c.Anthropic.Key == "" {
			add("anthropic.key is required for anthropic provider")
		}
	default:
		add("classifier.provider must be none, hf or anthropic, got %q", c.Classifier.Provider)
	}
}

func (c *Config) validateProcessor(add func(string, ...any)) {
	if c.Processor.Concurrency < 1 || c.Processor.Concurrency > 10 {
		add("processor.concurrency must be between 1 and 10")
	}
}

func (c *Config) validateReaper(add func(string, ...any)) {
	if c.Reaper.ThresholdMins < 1 {
		add("reaper.threshold_mins must be >= 1")
	}
	if c.Reaper.IntervalSecs < 1 {
		add("reaper.interval_secs must be >= 1")
	}
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
