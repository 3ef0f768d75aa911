// Package config loads and validates scraper configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/clinic-scraper/internal/crawler"
)

// ErrInvalidConfig marks configuration that prevents the service from starting.
var ErrInvalidConfig = errors.New("invalid config")

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Crawler   CrawlerConfig   `mapstructure:"crawler"`
	Headless  HeadlessConfig  `mapstructure:"headless"`
	Gemini    GeminiConfig    `mapstructure:"gemini"`
	Extractor ExtractorConfig `mapstructure:"extractor"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Host                  string   `mapstructure:"host"`
	Port                  int      `mapstructure:"port"`
	RequestTimeoutSeconds int      `mapstructure:"request_timeout_seconds"`
	CORSAllowedOrigins    []string `mapstructure:"cors_allowed_origins"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// CrawlerConfig governs the site crawl.
type CrawlerConfig struct {
	UserAgent             string `mapstructure:"user_agent"`
	IgnoreRobots          bool   `mapstructure:"ignore_robots"`
	RequestTimeoutSeconds int    `mapstructure:"request_timeout_seconds"`
	MaxDepthDefault       int    `mapstructure:"max_depth_default"`
	MaxPagesDefault       int    `mapstructure:"max_pages_default"`

	// HostQPS paces plain HTTP fetches per host; zero disables pacing.
	HostQPS float64 `mapstructure:"host_qps"`

	// BlockedHosts lists seed hosts to refuse: exact names or "*.suffix" wildcards.
	BlockedHosts []string `mapstructure:"blocked_hosts"`
}

// HeadlessConfig configures the headless rendering subsystem.
type HeadlessConfig struct {
	Enabled         bool    `mapstructure:"enabled"`
	Mode            string  `mapstructure:"mode"`
	MaxParallel     int     `mapstructure:"max_parallel"`
	NavTimeoutSec   int     `mapstructure:"nav_timeout_seconds"`
	DomainQPS       float64 `mapstructure:"domain_qps"`
	PromotionThresh int     `mapstructure:"promotion_threshold"`
}

// GeminiConfig configures the extraction model client.
type GeminiConfig struct {
	APIKey         string `mapstructure:"api_key"`
	Model          string `mapstructure:"model"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// ExtractorConfig bounds how much crawled text reaches the model.
type ExtractorConfig struct {
	MaxPageChars  int `mapstructure:"max_page_chars"`
	MaxTotalChars int `mapstructure:"max_total_chars"`
	MaxInputChars int `mapstructure:"max_input_chars"`
}

// PubSubConfig holds metadata for publish-subscribe notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SCRAPER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	if err := bindAliases(v); err != nil {
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

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// bindAliases lets the bare platform variables (HOST, PORT, GEMINI_API_KEY) fill their keys.
func bindAliases(v *viper.Viper) error {
	aliases := map[string][]string{
		"server.host":    {"SCRAPER_SERVER_HOST", "HOST"},
		"server.port":    {"SCRAPER_SERVER_PORT", "PORT"},
		"gemini.api_key": {"SCRAPER_GEMINI_API_KEY", "GEMINI_API_KEY"},
	}
	for key, envs := range aliases {
		args := append([]string{key}, envs...)
		if err := v.BindEnv(args...); err != nil {
			return fmt.Errorf("bind env %s: %w", key, err)
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout_seconds", 300)
	v.SetDefault("server.cors_allowed_origins", []string{"*"})
	v.SetDefault("auth.enabled", false)
	v.SetDefault("crawler.user_agent", "clinic-scraper/0.1")
	v.SetDefault("crawler.ignore_robots", false)
	v.SetDefault("crawler.request_timeout_seconds", 15)
	v.SetDefault("crawler.max_depth_default", crawler.DefaultMaxDepth)
	v.SetDefault("crawler.max_pages_default", crawler.DefaultMaxPages)
	v.SetDefault("crawler.host_qps", 4.0)
	v.SetDefault("crawler.blocked_hosts", []string{})
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.mode", string(crawler.RenderAuto))
	v.SetDefault("headless.max_parallel", 2)
	v.SetDefault("headless.nav_timeout_seconds", 45)
	v.SetDefault("headless.domain_qps", 2.0)
	v.SetDefault("headless.promotion_threshold", 2048)
	v.SetDefault("gemini.model", "gemini-2.5-flash")
	v.SetDefault("gemini.timeout_seconds", 120)
	v.SetDefault("extractor.max_page_chars", 50000)
	v.SetDefault("extractor.max_total_chars", 500000)
	v.SetDefault("extractor.max_input_chars", 500000)
	v.SetDefault("logging.development", false)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("%w: server.port must be between 1 and 65535", ErrInvalidConfig)
	}
	if c.Server.RequestTimeoutSeconds <= 0 {
		return fmt.Errorf("%w: server.request_timeout_seconds must be > 0", ErrInvalidConfig)
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("%w: auth.api_key must be set when auth is enabled", ErrInvalidConfig)
	}
	if strings.TrimSpace(c.Gemini.APIKey) == "" {
		return fmt.Errorf("%w: GEMINI_API_KEY is required", ErrInvalidConfig)
	}
	if c.Gemini.Model == "" {
		return fmt.Errorf("%w: gemini.model must be set", ErrInvalidConfig)
	}
	if c.Gemini.TimeoutSeconds <= 0 {
		return fmt.Errorf("%w: gemini.timeout_seconds must be > 0", ErrInvalidConfig)
	}
	if c.Crawler.RequestTimeoutSeconds <= 0 {
		return fmt.Errorf("%w: crawler.request_timeout_seconds must be > 0", ErrInvalidConfig)
	}
	if c.Crawler.HostQPS < 0 {
		return fmt.Errorf("%w: crawler.host_qps must be >= 0", ErrInvalidConfig)
	}
	defaults := crawler.CrawlRequest{
		URL:      "http://localhost",
		MaxDepth: c.Crawler.MaxDepthDefault,
		MaxPages: c.Crawler.MaxPagesDefault,
	}
	if err := defaults.Validate(); err != nil {
		return fmt.Errorf("%w: crawler defaults: %v", ErrInvalidConfig, err)
	}
	switch crawler.RenderMode(c.Headless.Mode) {
	case crawler.RenderAuto, crawler.RenderAlways, crawler.RenderNever:
	default:
		return fmt.Errorf("%w: headless.mode must be one of auto, always, never", ErrInvalidConfig)
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("%w: headless.max_parallel must be > 0 when headless is enabled", ErrInvalidConfig)
	}
	if c.Headless.DomainQPS < 0 {
		return fmt.Errorf("%w: headless.domain_qps must be >= 0", ErrInvalidConfig)
	}
	if c.Extractor.MaxPageChars <= 0 || c.Extractor.MaxTotalChars <= 0 || c.Extractor.MaxInputChars <= 0 {
		return fmt.Errorf("%w: extractor character limits must be > 0", ErrInvalidConfig)
	}
	if (c.PubSub.ProjectID == "") != (c.PubSub.TopicName == "") {
		return fmt.Errorf("%w: pubsub.project_id and pubsub.topic_name must be set together", ErrInvalidConfig)
	}
	return nil
}

// Addr returns the listen address for the HTTP server.
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// RequestTimeout is the end-to-end budget for a single scrape request.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.Server.RequestTimeoutSeconds) * time.Second
}

// RenderingEnabled reports whether pages may be rendered in headless Chrome.
func (c Config) RenderingEnabled() bool {
	return c.Headless.Enabled && c.RenderMode() != crawler.RenderNever
}

// RenderMode returns the configured headless promotion mode.
func (c Config) RenderMode() crawler.RenderMode {
	return crawler.RenderMode(c.Headless.Mode)
}
