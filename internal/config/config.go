package config

import (
	"errors"
	"io/fs"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Inference InferenceConfig         `yaml:"inference" mapstructure:"inference"`
	Anthropic AnthropicConfig         `yaml:"anthropic" mapstructure:"anthropic"`
	Run       RunConfig               `yaml:"run" mapstructure:"run"`
	Store     StoreConfig             `yaml:"store" mapstructure:"store"`
	Pricing   map[string]ModelPricing `yaml:"pricing" mapstructure:"pricing"`
	Log       LogConfig               `yaml:"log" mapstructure:"log"`
}

// InferenceConfig configures the model backend and the transport policy
// around it.
type InferenceConfig struct {
	Provider    string        `yaml:"provider" mapstructure:"provider"`
	Model       string        `yaml:"model" mapstructure:"model"`
	BaseURL     string        `yaml:"base_url" mapstructure:"base_url"`
	APIKey      string        `yaml:"api_key" mapstructure:"api_key"`
	MaxTokens   int           `yaml:"max_tokens" mapstructure:"max_tokens"`
	Temperature float64       `yaml:"temperature" mapstructure:"temperature"`
	TimeoutSecs int           `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RateLimit   float64       `yaml:"rate_limit" mapstructure:"rate_limit"` // requests per second, 0 disables
	Burst       int           `yaml:"burst" mapstructure:"burst"`
	Retry       RetryConfig   `yaml:"retry" mapstructure:"retry"`
	Circuit     CircuitConfig `yaml:"circuit" mapstructure:"circuit"`
}

// RetryConfig configures transport-level retries of transient failures.
type RetryConfig struct {
	MaxAttempts      int `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
}

// CircuitConfig configures the backend circuit breaker.
type CircuitConfig struct {
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs int `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
}

// AnthropicConfig holds Anthropic API settings, used when
// inference.provider is "anthropic".
type AnthropicConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// RunConfig configures the analysis command.
type RunConfig struct {
	Threads     int    `yaml:"threads" mapstructure:"threads"`
	Variant     string `yaml:"variant" mapstructure:"variant"`
	SchemasFile string `yaml:"schemas_file" mapstructure:"schemas_file"`
}

// StoreConfig configures the run ledger backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// ModelPricing holds per-model token pricing (USD per million tokens).
type ModelPricing struct {
	Input  float64 `yaml:"input" mapstructure:"input"`
	Output float64 `yaml:"output" mapstructure:"output"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// envAliases binds the unprefixed variables used by existing deployments.
var envAliases = map[string][]string{
	"inference.model":    {"DOCSCAN_INFERENCE_MODEL", "MODEL_NAME"},
	"inference.base_url": {"DOCSCAN_INFERENCE_BASE_URL", "API_BASE"},
	"inference.api_key":  {"DOCSCAN_INFERENCE_API_KEY", "API_KEY"},
	"anthropic.key":      {"DOCSCAN_ANTHROPIC_KEY", "ANTHROPIC_API_KEY"},
}

// Load reads configuration from .env, file and environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, eris.Wrap(err, "config: load .env")
	}

	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("DOCSCAN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, names := range envAliases {
		if err := v.BindEnv(append([]string{key}, names...)...); err != nil {
			return nil, eris.Wrapf(err, "config: bind env %s", key)
		}
	}

	// Defaults
	v.SetDefault("inference.provider", "openai")
	v.SetDefault("inference.model", "qwen")
	v.SetDefault("inference.base_url", "http://localhost:6002/v1")
	v.SetDefault("inference.api_key", "fake-key")
	v.SetDefault("inference.max_tokens", 2000)
	v.SetDefault("inference.temperature", 0.1)
	v.SetDefault("inference.timeout_secs", 120)
	v.SetDefault("inference.rate_limit", 10)
	v.SetDefault("inference.burst", 10)
	v.SetDefault("inference.retry.max_attempts", 3)
	v.SetDefault("inference.retry.initial_backoff_ms", 500)
	v.SetDefault("inference.retry.max_backoff_ms", 10000)
	v.SetDefault("inference.circuit.failure_threshold", 5)
	v.SetDefault("inference.circuit.reset_timeout_secs", 30)
	v.SetDefault("run.threads", 8)
	v.SetDefault("run.variant", "kyc")
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "docscan.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")

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

var providers = map[string]bool{"openai": true, "anthropic": true, "ollama": true}

// Validate checks that the fields required by the given command are set.
// Supported modes: "run", "ledger". Other commands need no validation.
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "run":
		if !providers[strings.ToLower(c.Inference.Provider)] {
			errs = append(errs, "inference.provider must be one of openai, anthropic, ollama")
		}
		if c.Inference.Model == "" {
			errs = append(errs, "inference.model is required")
		}
		if strings.EqualFold(c.Inference.Provider, "anthropic") && c.Anthropic.Key == "" {
			errs = append(errs, "anthropic.key is required for the anthropic provider")
		}
		if c.Inference.MaxTokens < 1 {
			errs = append(errs, "inference.max_tokens must be positive")
		}
		if c.Inference.Temperature < 0 || c.Inference.Temperature > 2 {
			errs = append(errs, "inference.temperature must be between 0 and 2")
		}
		if c.Inference.RateLimit < 0 {
			errs = append(errs, "inference.rate_limit must not be negative")
		}
		if c.Run.Threads < 1 {
			errs = append(errs, "run.threads must be at least 1")
		}
	case "ledger":
		if c.Store.Driver == "" || strings.EqualFold(c.Store.Driver, "none") {
			errs = append(errs, "store.driver is required")
		}
	}
	if c.Store.Driver == "postgres" && c.Store.DatabaseURL == "" {
		errs = append(errs, "store.database_url is required for postgres")
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
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
