// Package config provides application configuration management.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (runtime override)
//  2. Config file (~/.quadra/config.yaml or ./config.yaml)
//  3. Default values
//
// Main categories:
//   - AI: provider, model, embedder, temperature
//   - Storage: PostgreSQL connection (see storage.go)
//   - Gate: input validation limits and keyword lists
//   - Search: web search backend and domain allow-list
//   - Learning: scheduler intervals and trigger thresholds
//
// Validation lives in validation.go and uses sentinel errors so callers can
// check with errors.Is().
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

var (
	// ErrConfigNil indicates the configuration is nil.
	ErrConfigNil = errors.New("configuration is nil")

	// ErrInvalidModelName indicates the model name is invalid.
	ErrInvalidModelName = errors.New("invalid model name")

	// ErrInvalidTemperature indicates the temperature value is out of range.
	ErrInvalidTemperature = errors.New("invalid temperature")

	// ErrInvalidProvider indicates the AI provider is not supported.
	ErrInvalidProvider = errors.New("invalid provider")

	// ErrInvalidPostgresHost indicates the PostgreSQL host is invalid.
	ErrInvalidPostgresHost = errors.New("invalid PostgreSQL host")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrInvalidQuestionLength indicates the gate length limit is out of range.
	ErrInvalidQuestionLength = errors.New("invalid max question length")

	// ErrInvalidTriggerThreshold indicates the feedback-count trigger is out of range.
	ErrInvalidTriggerThreshold = errors.New("invalid feedback trigger threshold")

	// ErrInvalidMinExamples indicates the optimizer example minimum is out of range.
	ErrInvalidMinExamples = errors.New("invalid minimum training examples")

	// ErrMissingSearchAPIKey indicates web search is enabled without an API key.
	ErrMissingSearchAPIKey = errors.New("missing search API key")
)

// AI provider identifiers used in Config.Provider.
const (
	ProviderGemini = "gemini"
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"
)

// DefaultEmbedderModel is the default Gemini embedder model.
// gemini-embedding-001 supports truncation to 768 dimensions via
// OutputDimensionality; the pgvector schema uses 768 dimensions.
const DefaultEmbedderModel = "gemini-embedding-001"

// GateConfig holds input/output validation settings.
type GateConfig struct {
	// MaxQuestionLength is the maximum accepted question length in runes.
	MaxQuestionLength int `mapstructure:"max_question_length" json:"max_question_length"`

	// MathKeywords accept a question outright when present.
	MathKeywords []string `mapstructure:"math_keywords" json:"math_keywords"`

	// BlockedTerms reject a question as inappropriate.
	BlockedTerms []string `mapstructure:"blocked_terms" json:"blocked_terms"`
}

// SearchConfig holds web search backend settings.
type SearchConfig struct {
	APIKey string `mapstructure:"api_key" json:"api_key"` // SENSITIVE: masked in MarshalJSON
	// BaseURL of the Tavily-compatible search API.
	BaseURL string `mapstructure:"base_url" json:"base_url"`
	// AllowedDomains restricts results to trusted educational sources.
	AllowedDomains []string `mapstructure:"allowed_domains" json:"allowed_domains"`
	MaxResults     int      `mapstructure:"max_results" json:"max_results"`
}

// LearningConfig holds learning-cycle scheduler settings.
type LearningConfig struct {
	// DailyHour is the UTC hour of the daily scheduled cycle.
	DailyHour int `mapstructure:"daily_hour" json:"daily_hour"`

	// FeedbackThreshold fires a cycle once this much feedback accumulated
	// since the last completed cycle.
	FeedbackThreshold int `mapstructure:"feedback_threshold" json:"feedback_threshold"`

	// CheckIntervalMinutes is how often the threshold is checked.
	CheckIntervalMinutes int `mapstructure:"check_interval_minutes" json:"check_interval_minutes"`

	// HealthIntervalHours is how often the scheduler health check logs.
	HealthIntervalHours int `mapstructure:"health_interval_hours" json:"health_interval_hours"`

	// MinTrainingExamples is the minimum mined example count before the
	// optimizer runs.
	MinTrainingExamples int `mapstructure:"min_training_examples" json:"min_training_examples"`
}

// Config stores application configuration.
// SECURITY: sensitive fields are explicitly masked in MarshalJSON().
type Config struct {
	// AI provider and model configuration
	Provider      string  `mapstructure:"provider" json:"provider"`
	ModelName     string  `mapstructure:"model_name" json:"model_name"`
	EmbedderModel string  `mapstructure:"embedder_model" json:"embedder_model"`
	Temperature   float32 `mapstructure:"temperature" json:"temperature"`
	MaxTokens     int     `mapstructure:"max_tokens" json:"max_tokens"`

	// Ollama configuration (only used when provider is "ollama")
	OllamaHost string `mapstructure:"ollama_host" json:"ollama_host"`

	// Storage configuration (see storage.go)
	PostgresHost     string `mapstructure:"postgres_host" json:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port" json:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user" json:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password" json:"postgres_password"` // SENSITIVE: masked in MarshalJSON
	PostgresDBName   string `mapstructure:"postgres_db_name" json:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode" json:"postgres_ssl_mode"`

	// HTTP server
	ServerAddr string `mapstructure:"server_addr" json:"server_addr"`

	Gate     GateConfig     `mapstructure:"gate" json:"gate"`
	Search   SearchConfig   `mapstructure:"search" json:"search"`
	Learning LearningConfig `mapstructure:"learning" json:"learning"`
}

// Load loads configuration.
// Priority: environment variables > configuration file > default values.
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}

	configDir := filepath.Join(home, ".quadra")
	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configDir)
	v.AddConfigPath(".")

	setDefaults(v)
	bindEnvVariables(v)

	if err := v.ReadInConfig(); err != nil {
		// A missing config file is fine; defaults apply.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using defaults",
			"search_paths", []string{configDir, "."})
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	if err := cfg.parseDatabaseURL(); err != nil {
		return nil, fmt.Errorf("parsing DATABASE_URL: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets all default configuration values.
func setDefaults(v *viper.Viper) {
	// AI defaults
	v.SetDefault("provider", ProviderGemini)
	v.SetDefault("model_name", "gemini-2.5-flash")
	v.SetDefault("embedder_model", DefaultEmbedderModel)
	v.SetDefault("temperature", 0.1)
	v.SetDefault("max_tokens", 2048)
	v.SetDefault("ollama_host", "http://localhost:11434")

	// PostgreSQL defaults (matching docker-compose.yml)
	v.SetDefault("postgres_host", "localhost")
	v.SetDefault("postgres_port", 5432)
	v.SetDefault("postgres_user", "quadra")
	v.SetDefault("postgres_password", "quadra_dev_password")
	v.SetDefault("postgres_db_name", "quadra")
	v.SetDefault("postgres_ssl_mode", "disable")

	v.SetDefault("server_addr", "127.0.0.1:3400")

	// Gate defaults
	v.SetDefault("gate.max_question_length", 500)
	v.SetDefault("gate.math_keywords", []string{
		"mathematics", "math", "algebra", "geometry", "calculus",
		"trigonometry", "statistics", "probability", "arithmetic",
		"number theory",
	})
	v.SetDefault("gate.blocked_terms", []string{
		"hack", "exploit", "crack", "illegal", "piracy",
	})

	// Search defaults
	v.SetDefault("search.base_url", "https://api.tavily.com")
	v.SetDefault("search.max_results", 5)
	v.SetDefault("search.allowed_domains", []string{
		"khanacademy.org",
		"mathworld.wolfram.com",
		"wikipedia.org",
		"brilliant.org",
		"mathsisfun.com",
		"stackexchange.com",
		"math.stackexchange.com",
	})

	// Learning defaults
	v.SetDefault("learning.daily_hour", 2)
	v.SetDefault("learning.feedback_threshold", 100)
	v.SetDefault("learning.check_interval_minutes", 60)
	v.SetDefault("learning.health_interval_hours", 6)
	v.SetDefault("learning.min_training_examples", 5)
}

// bindEnvVariables binds environment variables.
// Secrets are env-only and never written to the config file.
func bindEnvVariables(v *viper.Viper) {
	v.SetEnvPrefix("QUADRA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicit binds for secrets so they resolve without a config entry.
	_ = v.BindEnv("postgres_password", "QUADRA_POSTGRES_PASSWORD")
	_ = v.BindEnv("search.api_key", "QUADRA_SEARCH_API_KEY", "TAVILY_API_KEY")
}
