package config

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Validate checks the configuration for obviously wrong values.
// It returns the first error found, wrapped around a sentinel error.
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigNil
	}

	switch c.Provider {
	case ProviderGemini, ProviderOllama, ProviderOpenAI:
	default:
		return fmt.Errorf("%w: %q (must be one of: gemini, ollama, openai)", ErrInvalidProvider, c.Provider)
	}

	if strings.TrimSpace(c.ModelName) == "" {
		return fmt.Errorf("%w: model name must not be empty", ErrInvalidModelName)
	}

	if c.Temperature < 0 || c.Temperature > 2 {
		return fmt.Errorf("%w: %v (must be in [0, 2])", ErrInvalidTemperature, c.Temperature)
	}

	if strings.TrimSpace(c.PostgresHost) == "" {
		return fmt.Errorf("%w: host must not be empty", ErrInvalidPostgresHost)
	}
	if c.PostgresPort < 1 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: %d", ErrInvalidPostgresPort, c.PostgresPort)
	}

	if c.Gate.MaxQuestionLength < 10 || c.Gate.MaxQuestionLength > 100_000 {
		return fmt.Errorf("%w: %d (must be in [10, 100000])", ErrInvalidQuestionLength, c.Gate.MaxQuestionLength)
	}

	if c.Learning.FeedbackThreshold < 1 {
		return fmt.Errorf("%w: %d (must be >= 1)", ErrInvalidTriggerThreshold, c.Learning.FeedbackThreshold)
	}
	if c.Learning.MinTrainingExamples < 1 {
		return fmt.Errorf("%w: %d (must be >= 1)", ErrInvalidMinExamples, c.Learning.MinTrainingExamples)
	}

	return nil
}

// ValidateServe performs additional checks required for serve mode.
// Web search needs an API key only when the server will call out.
func (c *Config) ValidateServe() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(c.Search.APIKey) == "" {
		return fmt.Errorf("%w: set QUADRA_SEARCH_API_KEY or TAVILY_API_KEY", ErrMissingSearchAPIKey)
	}
	return nil
}

// MarshalJSON masks sensitive fields so a dumped config never leaks secrets.
func (c *Config) MarshalJSON() ([]byte, error) {
	type alias Config // avoid recursion
	masked := alias(*c)
	if masked.PostgresPassword != "" {
		masked.PostgresPassword = "********"
	}
	if masked.Search.APIKey != "" {
		masked.Search.APIKey = "********"
	}
	return json.Marshal(masked)
}
