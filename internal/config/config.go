// ABOUTME: Configuration loading and parsing for the concierge engine
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete concierge configuration
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Auth       AuthConfig       `yaml:"auth"`
	Batching   BatchingConfig   `yaml:"batching"`
	Pipeline   PipelineConfig   `yaml:"pipeline"`
	Generator  GeneratorConfig  `yaml:"generator"`
	Messaging  MessagingConfig  `yaml:"messaging"`
	Notifier   NotifierConfig   `yaml:"notifier"`
	Knowledge  KnowledgeConfig  `yaml:"knowledge"`
	Rules      RulesConfig      `yaml:"rules"`
	Logging    LoggingConfig    `yaml:"logging"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

// ServerConfig holds the ops API server address
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// AuthConfig holds ops API authentication configuration
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

// BatchingConfig controls the message batcher and conversation scheduler
type BatchingConfig struct {
	DebounceWindow time.Duration `yaml:"-"`
	DebounceCeil   time.Duration `yaml:"-"`
	GreetingDelay  time.Duration `yaml:"-"`
	MaxConcurrency int           `yaml:"max_concurrency"`

	// Raw string values for YAML unmarshaling
	DebounceWindowRaw string `yaml:"debounce_window"`
	DebounceCeilRaw   string `yaml:"debounce_ceiling"`
	GreetingDelayRaw  string `yaml:"greeting_delay"`
}

// PipelineConfig controls decision pipeline thresholds and timing
type PipelineConfig struct {
	HistoryLimit        int     `yaml:"history_limit"`
	ConfidenceThreshold float64 `yaml:"confidence_threshold"`
	ComplexityThreshold float64 `yaml:"complexity_threshold"`
	EmotionThreshold    float64 `yaml:"emotion_threshold"`
	ProbingThreshold    float64 `yaml:"probing_threshold"`
	OffTopicLimit       int     `yaml:"off_topic_limit"`

	LongGap        time.Duration `yaml:"-"`
	ShortGap       time.Duration `yaml:"-"`
	OffHoursRepeat time.Duration `yaml:"-"`

	OpenHour  int `yaml:"open_hour"`
	CloseHour int `yaml:"close_hour"`

	LongGapRaw        string `yaml:"long_gap"`
	ShortGapRaw       string `yaml:"short_gap"`
	OffHoursRepeatRaw string `yaml:"off_hours_repeat"`
}

// GeneratorConfig holds response generation backend settings
type GeneratorConfig struct {
	Endpoint    string  `yaml:"endpoint"`
	APIKey      string  `yaml:"api_key"`
	Model       string  `yaml:"model"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`

	RequestTimeout time.Duration `yaml:"-"`
	RetryDelay     time.Duration `yaml:"-"`
	MaxAttempts    int           `yaml:"max_attempts"`

	StallingMessages []string `yaml:"stalling_messages"`
	FallbackText     string   `yaml:"fallback_text"`

	RequestTimeoutRaw string `yaml:"request_timeout"`
	RetryDelayRaw     string `yaml:"retry_delay"`
}

// MessagingConfig holds the messaging platform adapter settings
type MessagingConfig struct {
	Platform string `yaml:"platform"`
	BaseURL  string `yaml:"base_url"`
	Token    string `yaml:"token"`

	PollTimeout time.Duration `yaml:"-"`

	PollTimeoutRaw string `yaml:"poll_timeout"`
}

// NotifierConfig holds operator notification settings
type NotifierConfig struct {
	WebhookURL string `yaml:"webhook_url"`
}

// KnowledgeConfig holds knowledge base ingestion settings
type KnowledgeConfig struct {
	Dir         string `yaml:"dir"`
	SearchLimit int    `yaml:"search_limit"`
}

// RulesConfig points at the TOML rule-set file for the pluggable matchers
type RulesConfig struct {
	Path string `yaml:"path"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// applyDefaults fills in defaults for everything the file leaves unset.
func (c *Config) applyDefaults() {
	if c.Batching.DebounceWindow == 0 {
		c.Batching.DebounceWindow = 6 * time.Second
	}
	if c.Batching.DebounceCeil == 0 {
		c.Batching.DebounceCeil = 30 * time.Second
	}
	if c.Batching.GreetingDelay == 0 {
		c.Batching.GreetingDelay = 2 * time.Second
	}
	if c.Batching.MaxConcurrency == 0 {
		c.Batching.MaxConcurrency = 16
	}
	if c.Pipeline.HistoryLimit == 0 {
		c.Pipeline.HistoryLimit = 40
	}
	if c.Pipeline.ConfidenceThreshold == 0 {
		c.Pipeline.ConfidenceThreshold = 0.4
	}
	if c.Pipeline.ComplexityThreshold == 0 {
		c.Pipeline.ComplexityThreshold = 0.8
	}
	if c.Pipeline.EmotionThreshold == 0 {
		c.Pipeline.EmotionThreshold = 0.7
	}
	if c.Pipeline.ProbingThreshold == 0 {
		c.Pipeline.ProbingThreshold = 0.8
	}
	if c.Pipeline.OffTopicLimit == 0 {
		c.Pipeline.OffTopicLimit = 3
	}
	if c.Pipeline.LongGap == 0 {
		c.Pipeline.LongGap = 180 * 24 * time.Hour
	}
	if c.Pipeline.ShortGap == 0 {
		c.Pipeline.ShortGap = 12 * time.Hour
	}
	if c.Pipeline.OffHoursRepeat == 0 {
		c.Pipeline.OffHoursRepeat = 12 * time.Hour
	}
	if c.Pipeline.CloseHour == 0 {
		c.Pipeline.CloseHour = 24 // open around the clock unless configured
	}
	if c.Generator.MaxAttempts == 0 {
		c.Generator.MaxAttempts = 3
	}
	if c.Generator.RequestTimeout == 0 {
		c.Generator.RequestTimeout = 60 * time.Second
	}
	if c.Generator.RetryDelay == 0 {
		c.Generator.RetryDelay = 2 * time.Second
	}
	if c.Messaging.PollTimeout == 0 {
		c.Messaging.PollTimeout = 30 * time.Second
	}
	if c.Knowledge.SearchLimit == 0 {
		c.Knowledge.SearchLimit = 5
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Batching.DebounceWindow > c.Batching.DebounceCeil {
		return fmt.Errorf("batching.debounce_window must not exceed batching.debounce_ceiling")
	}
	if c.Pipeline.ShortGap > c.Pipeline.LongGap {
		return fmt.Errorf("pipeline.short_gap must not exceed pipeline.long_gap")
	}
	if c.Pipeline.OpenHour < 0 || c.Pipeline.OpenHour > 23 {
		return fmt.Errorf("pipeline.open_hour must be between 0 and 23")
	}
	if c.Pipeline.CloseHour < 1 || c.Pipeline.CloseHour > 24 {
		return fmt.Errorf("pipeline.close_hour must be between 1 and 24")
	}
	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		raw  string
		name string
		dst  *time.Duration
	}{
		{cfg.Batching.DebounceWindowRaw, "batching.debounce_window", &cfg.Batching.DebounceWindow},
		{cfg.Batching.DebounceCeilRaw, "batching.debounce_ceiling", &cfg.Batching.DebounceCeil},
		{cfg.Batching.GreetingDelayRaw, "batching.greeting_delay", &cfg.Batching.GreetingDelay},
		{cfg.Pipeline.LongGapRaw, "pipeline.long_gap", &cfg.Pipeline.LongGap},
		{cfg.Pipeline.ShortGapRaw, "pipeline.short_gap", &cfg.Pipeline.ShortGap},
		{cfg.Pipeline.OffHoursRepeatRaw, "pipeline.off_hours_repeat", &cfg.Pipeline.OffHoursRepeat},
		{cfg.Generator.RequestTimeoutRaw, "generator.request_timeout", &cfg.Generator.RequestTimeout},
		{cfg.Generator.RetryDelayRaw, "generator.retry_delay", &cfg.Generator.RetryDelay},
		{cfg.Messaging.PollTimeoutRaw, "messaging.poll_timeout", &cfg.Messaging.PollTimeout},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}
	return nil
}
