package config

import (
	"errors"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	LeetCode      LeetCodeConfig      `yaml:"leetcode" mapstructure:"leetcode"`
	GitHub        GitHubConfig        `yaml:"github" mapstructure:"github"`
	StackOverflow StackOverflowConfig `yaml:"stackoverflow" mapstructure:"stackoverflow"`
	Retry         RetryConfig         `yaml:"retry" mapstructure:"retry"`
	Circuit       CircuitConfig       `yaml:"circuit" mapstructure:"circuit"`
	Output        OutputConfig        `yaml:"output" mapstructure:"output"`
	Store         StoreConfig         `yaml:"store" mapstructure:"store"`
	Metrics       MetricsConfig       `yaml:"metrics" mapstructure:"metrics"`
	Monitoring    MonitoringConfig    `yaml:"monitoring" mapstructure:"monitoring"`
	Log           LogConfig           `yaml:"log" mapstructure:"log"`
}

// SourceConfig holds the settings every source shares.
type SourceConfig struct {
	TargetCount int    `yaml:"target_count" mapstructure:"target_count"`
	Concurrency int    `yaml:"concurrency_limit" mapstructure:"concurrency_limit"`
	CallDelayMs int    `yaml:"call_delay_ms" mapstructure:"call_delay_ms"`
	PageDelayMs int    `yaml:"page_delay_ms" mapstructure:"page_delay_ms"`
	BaseURL     string `yaml:"base_url" mapstructure:"base_url"`
	Output      string `yaml:"output" mapstructure:"output"`
}

// CallDelay is the minimum spacing between calls.
func (s SourceConfig) CallDelay() time.Duration {
	return time.Duration(s.CallDelayMs) * time.Millisecond
}

// PageDelay is the pause between listing pages.
func (s SourceConfig) PageDelay() time.Duration {
	return time.Duration(s.PageDelayMs) * time.Millisecond
}

// LeetCodeConfig configures the LeetCode collector.
type LeetCodeConfig struct {
	SourceConfig    `yaml:",inline" mapstructure:",squash"`
	MaxRank         int `yaml:"max_rank" mapstructure:"max_rank"`
	MaxPages        int `yaml:"max_pages" mapstructure:"max_pages"`
	EmptyPageWaitMs int `yaml:"empty_page_wait_ms" mapstructure:"empty_page_wait_ms"`
}

// GitHubConfig configures the GitHub collector.
type GitHubConfig struct {
	SourceConfig     `yaml:",inline" mapstructure:",squash"`
	Token            string `yaml:"token" mapstructure:"token"`
	MinFollowers     int    `yaml:"min_followers" mapstructure:"min_followers"`
	MaxPagesPerQuery int    `yaml:"max_pages_per_query" mapstructure:"max_pages_per_query"`
	PerPage          int    `yaml:"per_page" mapstructure:"per_page"`
	RepoLimit        int    `yaml:"repo_limit" mapstructure:"repo_limit"`
	Shuffle          bool   `yaml:"shuffle" mapstructure:"shuffle"`
}

// StackOverflowConfig configures the StackOverflow collector.
type StackOverflowConfig struct {
	SourceConfig      `yaml:",inline" mapstructure:",squash"`
	Key               string `yaml:"key" mapstructure:"key"`
	Site              string `yaml:"site" mapstructure:"site"`
	MinReputation     int    `yaml:"min_reputation" mapstructure:"min_reputation"`
	MaxPages          int    `yaml:"max_pages" mapstructure:"max_pages"`
	PageSize          int    `yaml:"page_size" mapstructure:"page_size"`
	DetailPageSize    int    `yaml:"detail_page_size" mapstructure:"detail_page_size"`
	RateLimitWaitSecs int    `yaml:"rate_limit_wait_secs" mapstructure:"rate_limit_wait_secs"`
}

// RetryConfig configures the retry policy shared by all sources.
type RetryConfig struct {
	MaxAttempts      int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	Multiplier       float64 `yaml:"multiplier" mapstructure:"multiplier"`
	JitterFraction   float64 `yaml:"jitter_fraction" mapstructure:"jitter_fraction"`
}

// CircuitConfig configures the per-source circuit breaker.
type CircuitConfig struct {
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs int `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
}

// OutputConfig configures the tabular artifacts.
type OutputConfig struct {
	Dir    string `yaml:"dir" mapstructure:"dir"`
	Format string `yaml:"format" mapstructure:"format"`
}

// StoreConfig configures the optional run store.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	SQLitePath  string `yaml:"sqlite_path" mapstructure:"sqlite_path"`
}

// MetricsConfig configures the prometheus endpoint.
type MetricsConfig struct {
	Addr string `yaml:"addr" mapstructure:"addr"`
}

// MonitoringConfig configures run health alerts.
type MonitoringConfig struct {
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	LookbackHours        int     `yaml:"lookback_hours" mapstructure:"lookback_hours"`
	StallMinutes         int     `yaml:"stall_minutes" mapstructure:"stall_minutes"`
	CheckIntervalSecs    int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// legacyEnv maps config keys to the environment names the standalone
// collector scripts read.
var legacyEnv = map[string]string{
	"github.token":                 "GITHUB_TOKEN",
	"github.min_followers":         "MIN_GITHUB_FOLLOWERS",
	"leetcode.max_rank":            "MAX_LEETCODE_RANK",
	"stackoverflow.min_reputation": "MIN_STACKOVERFLOW_REPUTATION",
	"stackoverflow.key":            "STACKEXCHANGE_KEY",
}

// Load reads configuration from .env, config file and environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, eris.Wrap(err, "config: read .env")
	}

	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("PROFILES")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, legacy := range legacyEnv {
		envKey := "PROFILES_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, envKey, legacy); err != nil {
			return nil, eris.Wrapf(err, "config: bind %s", key)
		}
	}

	// Defaults
	v.SetDefault("leetcode.target_count", 3000)
	v.SetDefault("leetcode.concurrency_limit", 3)
	v.SetDefault("leetcode.call_delay_ms", 100)
	v.SetDefault("leetcode.page_delay_ms", 500)
	v.SetDefault("leetcode.base_url", "https://leetcode.com/graphql")
	v.SetDefault("leetcode.output", "leetcode_profiles")
	v.SetDefault("leetcode.max_rank", 1000000)
	v.SetDefault("leetcode.max_pages", 0)
	v.SetDefault("leetcode.empty_page_wait_ms", 2000)

	v.SetDefault("github.target_count", 1000)
	v.SetDefault("github.concurrency_limit", 10)
	v.SetDefault("github.call_delay_ms", 0)
	v.SetDefault("github.page_delay_ms", 1000)
	v.SetDefault("github.base_url", "https://api.github.com/")
	v.SetDefault("github.output", "Github_Profiles")
	v.SetDefault("github.token", "")
	v.SetDefault("github.min_followers", 50)
	v.SetDefault("github.max_pages_per_query", 10)
	v.SetDefault("github.per_page", 100)
	v.SetDefault("github.repo_limit", 100)
	v.SetDefault("github.shuffle", true)

	v.SetDefault("stackoverflow.target_count", 1000)
	v.SetDefault("stackoverflow.concurrency_limit", 2)
	v.SetDefault("stackoverflow.call_delay_ms", 500)
	v.SetDefault("stackoverflow.page_delay_ms", 500)
	v.SetDefault("stackoverflow.base_url", "https://api.stackexchange.com/2.3")
	v.SetDefault("stackoverflow.output", "StackOverflow-20K-Formatted")
	v.SetDefault("stackoverflow.key", "")
	v.SetDefault("stackoverflow.site", "stackoverflow")
	v.SetDefault("stackoverflow.min_reputation", 0)
	v.SetDefault("stackoverflow.max_pages", 10)
	v.SetDefault("stackoverflow.page_size", 100)
	v.SetDefault("stackoverflow.detail_page_size", 5)
	v.SetDefault("stackoverflow.rate_limit_wait_secs", 20)

	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.initial_backoff_ms", 500)
	v.SetDefault("retry.max_backoff_ms", 60000)
	v.SetDefault("retry.multiplier", 2.0)
	v.SetDefault("retry.jitter_fraction", 0.25)
	v.SetDefault("circuit.failure_threshold", 5)
	v.SetDefault("circuit.reset_timeout_secs", 30)

	v.SetDefault("output.dir", "Profile_Data")
	v.SetDefault("output.format", "csv")
	v.SetDefault("store.driver", "")
	v.SetDefault("store.sqlite_path", "profiles.db")
	v.SetDefault("metrics.addr", "")
	v.SetDefault("monitoring.webhook_url", "")
	v.SetDefault("monitoring.failure_rate_threshold", 0.10)
	v.SetDefault("monitoring.lookback_hours", 24)
	v.SetDefault("monitoring.stall_minutes", 60)
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

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

// Validate checks the settings a command mode depends on.
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "collect":
		for name, s := range map[string]SourceConfig{
			"leetcode":      c.LeetCode.SourceConfig,
			"github":        c.GitHub.SourceConfig,
			"stackoverflow": c.StackOverflow.SourceConfig,
		} {
			if s.TargetCount < 0 {
				errs = append(errs, name+".target_count must be >= 0")
			}
			if s.Concurrency < 1 || s.Concurrency > 50 {
				errs = append(errs, name+".concurrency_limit must be between 1 and 50")
			}
			if s.BaseURL == "" {
				errs = append(errs, name+".base_url is required")
			}
		}
		if c.Output.Format != "csv" && c.Output.Format != "xlsx" {
			errs = append(errs, "output.format must be csv or xlsx")
		}
		errs = append(errs, c.validateStore(false)...)
	case "runs":
		errs = append(errs, c.validateStore(true)...)
		if c.Monitoring.LookbackHours < 1 {
			errs = append(errs, "monitoring.lookback_hours must be >= 1")
		}
		if c.Monitoring.FailureRateThreshold < 0 || c.Monitoring.FailureRateThreshold > 1 {
			errs = append(errs, "monitoring.failure_rate_threshold must be between 0 and 1")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if c.Retry.MaxAttempts < 1 {
		errs = append(errs, "retry.max_attempts must be >= 1")
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) validateStore(required bool) []string {
	switch c.Store.Driver {
	case "":
		if required {
			return []string{"store.driver is required"}
		}
	case "sqlite":
		if c.Store.SQLitePath == "" {
			return []string{"store.sqlite_path is required for sqlite"}
		}
	case "postgres":
		if c.Store.DatabaseURL == "" {
			return []string{"store.database_url is required for postgres"}
		}
	default:
		return []string{"store.driver must be sqlite or postgres"}
	}
	return nil
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
