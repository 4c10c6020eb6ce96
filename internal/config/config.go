// ABOUTME: Configuration loading and parsing for the noa binaries
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/2389/noa/internal/llm"
)

// Config is the complete configuration shared by the noa binaries. Each
// binary reads the sections it needs.
type Config struct {
	Broker    BrokerConfig    `yaml:"broker"`
	Space     string          `yaml:"space"`
	LLM       llm.Config      `yaml:"llm"`
	Moderator ModeratorConfig `yaml:"moderator"`
	Assistant AssistantConfig `yaml:"assistant"`
	UserProxy UserProxyConfig `yaml:"userproxy"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// BrokerConfig holds the shared-space broker address.
type BrokerConfig struct {
	Addr string `yaml:"addr"`
}

// ModeratorConfig holds moderator settings.
type ModeratorConfig struct {
	RosterDir  string `yaml:"roster_dir"`
	LedgerPath string `yaml:"ledger_path"`

	// SkipTargetCheck disables rejecting speaking grants addressed to
	// agents missing from the roster.
	SkipTargetCheck bool `yaml:"skip_target_check"`
}

// AssistantConfig holds settings for one assistant process.
type AssistantConfig struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	RosterDir   string `yaml:"roster_dir"`

	Weather WeatherConfig `yaml:"weather"`
	Files   FilesConfig   `yaml:"files"`
}

// WeatherConfig overrides the weather task endpoints.
type WeatherConfig struct {
	GeocodeURL  string `yaml:"geocode_url"`
	ForecastURL string `yaml:"forecast_url"`
}

// FilesConfig points the file task at its documents and index.
type FilesConfig struct {
	DocsDir   string `yaml:"docs_dir"`
	IndexPath string `yaml:"index_path"`
}

// UserProxyConfig holds the user proxy HTTP settings.
type UserProxyConfig struct {
	HTTPAddr  string `yaml:"http_addr"`
	JWTSecret string `yaml:"jwt_secret"`
	Echo      bool   `yaml:"echo"`

	AskTimeout    time.Duration `yaml:"-"`
	AskTimeoutRaw string        `yaml:"ask_timeout"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed
// Config. Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
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

// LoadOrDefault loads path if it exists and otherwise returns the built-in
// defaults, for binaries that can run without a config file.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := &Config{}
		cfg.applyDefaults()
		return cfg, nil
	}
	return Load(path)
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding
// environment variable values. ${VAR_NAME:-default} substitutes the
// default when the variable is unset or empty; a plain ${VAR_NAME} that
// is unset becomes an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		expr := re.FindStringSubmatch(match)[1]
		name, fallback, hasFallback := strings.Cut(expr, ":-")
		if v := os.Getenv(name); v != "" {
			return v
		}
		if hasFallback {
			return fallback
		}
		return ""
	})
}

func (c *Config) applyDefaults() {
	if c.Space == "" {
		c.Space = "noa"
	}
	if c.Broker.Addr == "" {
		c.Broker.Addr = "localhost:9400"
	}
	if c.UserProxy.HTTPAddr == "" {
		c.UserProxy.HTTPAddr = "localhost:9401"
	}
}

// Validate checks the fields shared by every binary. Sections like llm are
// validated by the binaries that use them.
func (c *Config) Validate() error {
	if c.Broker.Addr == "" {
		return fmt.Errorf("broker.addr is required")
	}
	if c.Space == "" {
		return fmt.Errorf("space is required")
	}
	return nil
}

// parseDurations converts the raw duration strings into time.Duration values.
func parseDurations(cfg *Config) error {
	var err error

	if cfg.UserProxy.AskTimeoutRaw != "" {
		cfg.UserProxy.AskTimeout, err = time.ParseDuration(cfg.UserProxy.AskTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing ask_timeout %q: %w", cfg.UserProxy.AskTimeoutRaw, err)
		}
	}

	return nil
}
