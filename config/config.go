package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"dario.cat/mergo"
	"github.com/aschepis/backscratcher/streamchat/llm"
	"github.com/aschepis/backscratcher/streamchat/llm/retry"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Environment variables read by Load.
const (
	EnvConfigPath    = "STREAMCHAT_CONFIG_PATH"
	EnvAPIKey        = "ANTHROPIC_API_KEY"
	EnvMaxTokens     = "MR_MAX_TOKENS"
	EnvThinkingLevel = "MR_THINKING_LEVEL"
)

// AnthropicConfig represents configuration for the Anthropic API.
type AnthropicConfig struct {
	APIKey  string `yaml:"api_key,omitempty"`  // Anthropic API key (falls back to ANTHROPIC_API_KEY)
	BaseURL string `yaml:"base_url,omitempty"` // Custom base URL (default: official API)
}

// RetryConfig controls how establishing a stream is retried.
type RetryConfig struct {
	MaxRetries   *int          `yaml:"max_retries,omitempty"`   // Retries after the first attempt
	InitialDelay time.Duration `yaml:"initial_delay,omitempty"` // Delay after the first failure, e.g. "2s"
	MaxDelay     time.Duration `yaml:"max_delay,omitempty"`     // Upper bound on the delay, e.g. "32s"
	Factor       float64       `yaml:"factor,omitempty"`        // Growth per consecutive failure
	Jitter       *bool         `yaml:"jitter,omitempty"`        // Scale each delay by a random factor in [0.5, 1]
}

// CatalogConfig controls the cached model list.
type CatalogConfig struct {
	Refresh string `yaml:"refresh,omitempty"` // e.g. "@every 1h", "30m", "0 0 * * * *" (cron)
}

// UsageConfig controls usage recording.
type UsageConfig struct {
	Disabled  bool   `yaml:"disabled,omitempty"`  // Skip recording usage
	Component string `yaml:"component,omitempty"` // Component id usage is recorded under
}

// Config is the complete client configuration.
type Config struct {
	Anthropic     AnthropicConfig `yaml:"anthropic,omitempty"`
	Model         string          `yaml:"model,omitempty"`
	MaxTokens     int64           `yaml:"max_tokens,omitempty"`
	Temperature   float64         `yaml:"temperature,omitempty"`
	ThinkingLevel string          `yaml:"thinking_level,omitempty"` // off|minimal|low|medium|high|very_high|maximum or a token count
	Betas         []string        `yaml:"betas,omitempty"`
	Retry         RetryConfig     `yaml:"retry,omitempty"`
	Database      string          `yaml:"database,omitempty"` // sqlite file for usage records
	Catalog       CatalogConfig   `yaml:"catalog,omitempty"`
	Usage         UsageConfig     `yaml:"usage,omitempty"`
	LogFile       string          `yaml:"log_file,omitempty"` // empty logs to stderr
}

// GetConfigPath returns the default config file path.
// Can be overridden via STREAMCHAT_CONFIG_PATH environment variable.
func GetConfigPath() string {
	if envPath := os.Getenv(EnvConfigPath); envPath != "" {
		return expandPath(envPath)
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "./.streamchat/config.yaml"
	}
	return filepath.Join(homeDir, ".streamchat", "config.yaml")
}

// expandPath expands ~ to the user's home directory.
func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(homeDir, path[2:])
	}
	return path
}

// Defaults returns the configuration used when nothing is overridden.
func Defaults() Config {
	maxRetries := retry.DefaultMaxRetries
	jitter := true
	return Config{
		Model:         "claude-3-7-sonnet-latest",
		MaxTokens:     4000,
		Temperature:   0,
		ThinkingLevel: llm.DefaultThinkingLevel,
		Betas:         []string{"prompt-caching-2024-07-31", "output-128k-2025-02-19"},
		Retry: RetryConfig{
			MaxRetries:   &maxRetries,
			InitialDelay: retry.DefaultInitialDelay,
			MaxDelay:     retry.DefaultMaxDelay,
			Factor:       retry.DefaultFactor,
			Jitter:       &jitter,
		},
		Database: "streamchat.db",
		Catalog:  CatalogConfig{Refresh: "@every 1h"},
		Usage:    UsageConfig{Component: "ah_anthropic"},
	}
}

// LoadEnvFiles loads .env files from the working directory.
func LoadEnvFiles() {
	envFiles := []string{
		".env",
		".env.local",
	}

	for _, f := range envFiles {
		// godotenv.Load does NOT overwrite existing env vars.
		_ = godotenv.Load(f)
	}
}

// Load builds the configuration: defaults, then the YAML file at path if it
// exists, then environment overrides. The result is validated.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	expandedPath := expandPath(path)
	if _, err := os.Stat(expandedPath); err == nil {
		data, err := os.ReadFile(expandedPath) //#nosec 304 -- intentional file read for config
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %q: %w", expandedPath, err)
		}

		var fileConfig Config
		if err := yaml.Unmarshal(data, &fileConfig); err != nil {
			return nil, fmt.Errorf("failed to parse config file %q: %w", expandedPath, err)
		}

		if err := mergo.Merge(&cfg, fileConfig, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge config file: %w", err)
		}

		// mergo never overrides with zero values, so explicit 0 and false are
		// copied over here.
		if fileConfig.Retry.MaxRetries != nil {
			cfg.Retry.MaxRetries = fileConfig.Retry.MaxRetries
		}
		if fileConfig.Retry.Jitter != nil {
			cfg.Retry.Jitter = fileConfig.Retry.Jitter
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return nil, err
	}
	cfg.Database = expandPath(cfg.Database)
	cfg.LogFile = expandPath(cfg.LogFile)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnv applies environment overrides.
func applyEnv(cfg *Config) error {
	if cfg.Anthropic.APIKey == "" {
		cfg.Anthropic.APIKey = os.Getenv(EnvAPIKey)
	}
	if v := strings.TrimSpace(os.Getenv(EnvMaxTokens)); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", EnvMaxTokens, v, err)
		}
		cfg.MaxTokens = n
	}
	if v := strings.TrimSpace(os.Getenv(EnvThinkingLevel)); v != "" {
		cfg.ThinkingLevel = v
	}
	return nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.Model == "" {
		return fmt.Errorf("model is required")
	}
	if c.MaxTokens <= 0 {
		return fmt.Errorf("max_tokens must be positive, got %d", c.MaxTokens)
	}
	if c.Temperature < 0 || c.Temperature > 1 {
		return fmt.Errorf("temperature must be between 0 and 1, got %v", c.Temperature)
	}
	if c.Retry.MaxRetries != nil && *c.Retry.MaxRetries < 0 {
		return fmt.Errorf("retry.max_retries must not be negative, got %d", *c.Retry.MaxRetries)
	}
	if c.Retry.Factor != 0 && c.Retry.Factor < 1 {
		return fmt.Errorf("retry.factor must be at least 1, got %v", c.Retry.Factor)
	}
	if c.Retry.InitialDelay < 0 || c.Retry.MaxDelay < 0 {
		return fmt.Errorf("retry delays must not be negative")
	}
	if c.Retry.MaxDelay > 0 && c.Retry.MaxDelay < c.Retry.InitialDelay {
		return fmt.Errorf("retry.max_delay (%s) must not be less than retry.initial_delay (%s)", c.Retry.MaxDelay, c.Retry.InitialDelay)
	}
	return nil
}

// MaxRetries returns the configured retry count.
func (c *Config) MaxRetries() int {
	if c.Retry.MaxRetries == nil {
		return retry.DefaultMaxRetries
	}
	return *c.Retry.MaxRetries
}

// Backoff returns the per-model backoff settings.
func (c *Config) Backoff() retry.Config {
	return retry.Config{
		InitialDelay: c.Retry.InitialDelay,
		MaxDelay:     c.Retry.MaxDelay,
		Factor:       c.Retry.Factor,
		Jitter:       c.Retry.Jitter == nil || *c.Retry.Jitter,
	}
}

// Save saves the configuration to the specified path.
func Save(cfg *Config, path string) error {
	expandedPath := expandPath(path)

	// Ensure directory exists
	dir := filepath.Dir(expandedPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(expandedPath, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
