// Package config loads and validates crawler configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/pccwatch/tender-crawler/internal/tender"
)

// Config captures all service configuration knobs loaded via Viper. It is
// loaded once at startup and passed to components as an immutable value.
type Config struct {
	Search     SearchConfig     `mapstructure:"search"`
	Session    SessionConfig    `mapstructure:"session"`
	Captcha    CaptchaConfig    `mapstructure:"captcha"`
	Detail     DetailConfig     `mapstructure:"detail"`
	DB         DBConfig         `mapstructure:"db"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Categories CategoriesConfig `mapstructure:"categories"`
}

// SearchConfig holds the discovery query parameters.
type SearchConfig struct {
	Query     string `mapstructure:"query"`
	TimeRange string `mapstructure:"time_range"` // ROC era year as text
	PageSize  int    `mapstructure:"page_size"`
	Phase     string `mapstructure:"phase"`
}

// SessionConfig controls the browsing session.
type SessionConfig struct {
	BaseURL          string  `mapstructure:"base_url"`
	Headless         bool    `mapstructure:"headless"`
	UserAgent        string  `mapstructure:"user_agent"`
	NavTimeoutSec    int     `mapstructure:"nav_timeout_seconds"`
	PageQPS          float64 `mapstructure:"page_qps"`
	PageCheckRetries int     `mapstructure:"page_check_retries"`
	OrgLookupRetries int     `mapstructure:"org_lookup_retries"`
}

// CaptchaConfig controls the challenge solver and matcher.
type CaptchaConfig struct {
	MaxAttempts         int     `mapstructure:"max_attempts"`
	SimilarityThreshold float64 `mapstructure:"similarity_threshold"`
	VerifyWaitMs        int     `mapstructure:"verify_wait_ms"`
	KeepDebug           bool    `mapstructure:"keep_debug"`
	DebugDir            string  `mapstructure:"debug_dir"`
}

// DetailConfig configures the detail phase retry behavior.
type DetailConfig struct {
	MaxRetries       int `mapstructure:"max_retries"`
	BackoffInitialMs int `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs     int `mapstructure:"backoff_max_ms"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

// MetricsConfig toggles the observability HTTP endpoint.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// CategoriesConfig points at an optional JSON reference file to import at
// startup.
type CategoriesConfig struct {
	File string `mapstructure:"file"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("TENDER")
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
	v.SetDefault("search.query", "案")
	v.SetDefault("search.time_range", "113")
	v.SetDefault("search.page_size", 100)
	v.SetDefault("search.phase", string(tender.PhaseBoth))
	v.SetDefault("session.base_url", "https://web.pcc.gov.tw")
	v.SetDefault("session.headless", true)
	v.SetDefault("session.user_agent", "")
	v.SetDefault("session.nav_timeout_seconds", 25)
	v.SetDefault("session.page_qps", 0.5)
	v.SetDefault("session.page_check_retries", 5)
	v.SetDefault("session.org_lookup_retries", 5)
	v.SetDefault("captcha.max_attempts", 5)
	v.SetDefault("captcha.similarity_threshold", 0.60)
	v.SetDefault("captcha.verify_wait_ms", 3000)
	v.SetDefault("captcha.keep_debug", false)
	v.SetDefault("captcha.debug_dir", "debug_images")
	v.SetDefault("detail.max_retries", 3)
	v.SetDefault("detail.backoff_initial_ms", 500)
	v.SetDefault("detail.backoff_max_ms", 5000)
	v.SetDefault("db.max_conns", 2)
	v.SetDefault("db.min_conns", 1)
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 9180)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits. It fails fast
// before any network activity.
func (c Config) Validate() error {
	if c.Search.PageSize < 1 || c.Search.PageSize > 100 {
		return fmt.Errorf("search.page_size must be within 1..100")
	}
	if !tender.Phase(c.Search.Phase).Valid() {
		return fmt.Errorf("search.phase must be one of discovery, detail, both")
	}
	if c.Search.TimeRange == "" {
		return fmt.Errorf("search.time_range is required")
	}
	if c.Session.BaseURL == "" {
		return fmt.Errorf("session.base_url is required")
	}
	if c.Session.NavTimeoutSec <= 0 {
		return fmt.Errorf("session.nav_timeout_seconds must be > 0")
	}
	if c.Captcha.MaxAttempts <= 0 {
		return fmt.Errorf("captcha.max_attempts must be > 0")
	}
	if c.Captcha.SimilarityThreshold <= 0 || c.Captcha.SimilarityThreshold >= 1 {
		return fmt.Errorf("captcha.similarity_threshold must be within (0, 1)")
	}
	if c.Captcha.KeepDebug && c.Captcha.DebugDir == "" {
		return fmt.Errorf("captcha.debug_dir must be set when keep_debug is enabled")
	}
	if c.Detail.MaxRetries <= 0 {
		return fmt.Errorf("detail.max_retries must be > 0")
	}
	if c.DB.DSN == "" {
		return fmt.Errorf("db.dsn is required")
	}
	if c.Metrics.Enabled && c.Metrics.Port <= 0 {
		return fmt.Errorf("metrics.port must be > 0 when metrics are enabled")
	}
	return nil
}

// Phase returns the validated run phase.
func (c Config) Phase() tender.Phase {
	return tender.Phase(c.Search.Phase)
}

// NavTimeout converts the session timeout config into a duration.
func (c Config) NavTimeout() time.Duration {
	return time.Duration(c.Session.NavTimeoutSec) * time.Second
}

// VerifyWait converts the solver verification wait into a duration.
func (c Config) VerifyWait() time.Duration {
	return time.Duration(c.Captcha.VerifyWaitMs) * time.Millisecond
}

// DetailBackoff returns the initial and maximum detail retry backoff.
func (c Config) DetailBackoff() (time.Duration, time.Duration) {
	return time.Duration(c.Detail.BackoffInitialMs) * time.Millisecond,
		time.Duration(c.Detail.BackoffMaxMs) * time.Millisecond
}
