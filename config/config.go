// Package config loads analyser settings from a YAML file, environment
// variables and built-in defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"bloodtest/analyser-app/llm"
	"bloodtest/analyser-app/tools"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

const (
	EnvPrefix  = "ANALYSER"
	configName = "analyser"
)

// Config holds all configuration for the analyser.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Uploads   UploadsConfig   `mapstructure:"uploads"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Providers ProvidersConfig `mapstructure:"providers"`
	Search    SearchConfig    `mapstructure:"search"`
	Crew      CrewConfig      `mapstructure:"crew"`
	Log       LogConfig       `mapstructure:"log"`
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr" validate:"required"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gte=0"`
	// RunTimeout bounds one crew run; zero means the request context only.
	RunTimeout time.Duration `mapstructure:"run_timeout" validate:"gte=0"`
}

type UploadsConfig struct {
	Dir      string `mapstructure:"dir" validate:"required"`
	MaxBytes int64  `mapstructure:"max_bytes" validate:"gt=0"`
}

// LLMConfig selects the model every agent uses unless the crew catalog
// overrides it per agent.
type LLMConfig struct {
	Provider    string   `mapstructure:"provider" validate:"oneof=gemini google openai anthropic claude ollama dummy"`
	Model       string   `mapstructure:"model"`
	APIKey      string   `mapstructure:"api_key"`
	Host        string   `mapstructure:"host"`
	Temperature *float64 `mapstructure:"temperature" validate:"omitempty,gte=0,lte=2"`
}

// ProvidersConfig holds the per-provider credentials read from the usual
// environment variables.
type ProvidersConfig struct {
	GeminiAPIKey    string `mapstructure:"gemini_api_key"`
	OpenAIAPIKey    string `mapstructure:"openai_api_key"`
	AnthropicAPIKey string `mapstructure:"anthropic_api_key"`
	OllamaHost      string `mapstructure:"ollama_host"`
}

type SearchConfig struct {
	Backend string        `mapstructure:"backend" validate:"oneof=duckduckgo serper disabled"`
	APIKey  string        `mapstructure:"api_key" validate:"required_if=Backend serper"`
	Timeout time.Duration `mapstructure:"timeout" validate:"gte=0"`
}

type CrewConfig struct {
	// File is a crew catalog; empty uses the built-in one.
	File     string `mapstructure:"file"`
	Pipeline string `mapstructure:"pipeline"`
	// RateWindow is the window max_rpm is measured over.
	RateWindow time.Duration `mapstructure:"rate_window" validate:"gte=0"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=text json"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Load reads configuration. Precedence (highest to lowest):
// 1. Environment variables (ANALYSER_<SECTION>_<KEY>, GEMINI_API_KEY, ...)
// 2. The file at path, or analyser.yaml in the working directory or the XDG config dir
// 3. Built-in defaults
func Load(path string) (*Config, error) {
	v := newViper()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(configName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath(userConfigDir())
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	return decode(v)
}

// Default returns the built-in defaults with environment overrides applied.
func Default() (*Config, error) {
	return decode(newViper())
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Map the conventional provider variables
	_ = v.BindEnv("providers.gemini_api_key", "GEMINI_API_KEY", "GOOGLE_API_KEY")
	_ = v.BindEnv("providers.openai_api_key", "OPENAI_API_KEY")
	_ = v.BindEnv("providers.anthropic_api_key", "ANTHROPIC_API_KEY")
	_ = v.BindEnv("providers.ollama_host", "OLLAMA_HOST")
	_ = v.BindEnv("search.api_key", EnvPrefix+"_SEARCH_API_KEY", "SERPER_API_KEY")
	return v
}

func decode(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	// Expand ${VAR} references
	cfg.LLM.APIKey = os.ExpandEnv(cfg.LLM.APIKey)
	cfg.Search.APIKey = os.ExpandEnv(cfg.Search.APIKey)
	cfg.Uploads.Dir = os.ExpandEnv(cfg.Uploads.Dir)
	cfg.LLM.Provider = strings.ToLower(cfg.LLM.Provider)
	cfg.Search.Backend = strings.ToLower(cfg.Search.Backend)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// setDefaults configures default values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8000")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.run_timeout", "0s")

	v.SetDefault("uploads.dir", "data")
	v.SetDefault("uploads.max_bytes", tools.DefaultMaxDocumentBytes)

	v.SetDefault("llm.provider", llm.ProviderGemini)
	v.SetDefault("llm.model", "")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.host", "")

	v.SetDefault("providers.gemini_api_key", "")
	v.SetDefault("providers.openai_api_key", "")
	v.SetDefault("providers.anthropic_api_key", "")
	v.SetDefault("providers.ollama_host", "")

	v.SetDefault("search.backend", tools.SearchDuckDuckGo)
	v.SetDefault("search.api_key", "")
	v.SetDefault("search.timeout", "20s")

	v.SetDefault("crew.file", "")
	v.SetDefault("crew.pipeline", "")
	v.SetDefault("crew.rate_window", "1m")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

func userConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, configName)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", configName)
	}
	return filepath.Join(home, ".config", configName)
}

// ProviderDefaults holds the key and host of each provider, for agents whose
// catalog entry selects a provider other than the default. ollama_host only
// applies to ollama.
func (c *Config) ProviderDefaults() map[string]llm.ProviderDefaults {
	gemini := llm.ProviderDefaults{APIKey: c.Providers.GeminiAPIKey}
	anthropic := llm.ProviderDefaults{APIKey: c.Providers.AnthropicAPIKey}
	return map[string]llm.ProviderDefaults{
		llm.ProviderGemini:    gemini,
		"google":              gemini,
		llm.ProviderOpenAI:    {APIKey: c.Providers.OpenAIAPIKey},
		llm.ProviderAnthropic: anthropic,
		"claude":              anthropic,
		llm.ProviderOllama:    {Host: c.Providers.OllamaHost},
	}
}

// LLMSettings resolves the default model settings. llm.api_key wins over the
// provider's conventional variable.
func (c *Config) LLMSettings() llm.Settings {
	s := llm.Settings{
		Provider:    c.LLM.Provider,
		Model:       c.LLM.Model,
		APIKey:      c.LLM.APIKey,
		Host:        c.LLM.Host,
		Temperature: c.LLM.Temperature,
	}
	defaults := c.ProviderDefaults()[s.Provider]
	if s.APIKey == "" {
		s.APIKey = defaults.APIKey
	}
	if s.Host == "" {
		s.Host = defaults.Host
	}
	return s
}

func (c *Config) ToolOptions() tools.Options {
	return tools.Options{
		MaxDocumentBytes: c.Uploads.MaxBytes,
		Search: tools.SearchOptions{
			Backend: c.Search.Backend,
			APIKey:  c.Search.APIKey,
			Timeout: c.Search.Timeout,
		},
	}
}
