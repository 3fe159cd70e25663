package config

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

// validConfig returns a configuration that passes Validate().
func validConfig() *Config {
	return &Config{
		Provider:         ProviderGemini,
		ModelName:        "gemini-2.5-flash",
		EmbedderModel:    DefaultEmbedderModel,
		Temperature:      0.1,
		PostgresHost:     "localhost",
		PostgresPort:     5432,
		PostgresUser:     "quadra",
		PostgresPassword: "secret",
		PostgresDBName:   "quadra",
		PostgresSSLMode:  "disable",
		Gate: GateConfig{
			MaxQuestionLength: 500,
		},
		Learning: LearningConfig{
			FeedbackThreshold:   100,
			MinTrainingExamples: 5,
		},
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr error
	}{
		{
			name:   "valid config",
			mutate: func(*Config) {},
		},
		{
			name:    "unknown provider",
			mutate:  func(c *Config) { c.Provider = "bard" },
			wantErr: ErrInvalidProvider,
		},
		{
			name:    "empty model name",
			mutate:  func(c *Config) { c.ModelName = "  " },
			wantErr: ErrInvalidModelName,
		},
		{
			name:    "temperature out of range",
			mutate:  func(c *Config) { c.Temperature = 3 },
			wantErr: ErrInvalidTemperature,
		},
		{
			name:    "empty postgres host",
			mutate:  func(c *Config) { c.PostgresHost = "" },
			wantErr: ErrInvalidPostgresHost,
		},
		{
			name:    "postgres port too large",
			mutate:  func(c *Config) { c.PostgresPort = 70000 },
			wantErr: ErrInvalidPostgresPort,
		},
		{
			name:    "question length too small",
			mutate:  func(c *Config) { c.Gate.MaxQuestionLength = 1 },
			wantErr: ErrInvalidQuestionLength,
		},
		{
			name:    "zero feedback threshold",
			mutate:  func(c *Config) { c.Learning.FeedbackThreshold = 0 },
			wantErr: ErrInvalidTriggerThreshold,
		},
		{
			name:    "zero training example minimum",
			mutate:  func(c *Config) { c.Learning.MinTrainingExamples = 0 },
			wantErr: ErrInvalidMinExamples,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateServe_RequiresSearchKey(t *testing.T) {
	cfg := validConfig()
	if err := cfg.ValidateServe(); !errors.Is(err, ErrMissingSearchAPIKey) {
		t.Errorf("ValidateServe() = %v, want ErrMissingSearchAPIKey", err)
	}

	cfg.Search.APIKey = "tvly-test"
	if err := cfg.ValidateServe(); err != nil {
		t.Errorf("ValidateServe() with key = %v, want nil", err)
	}
}

func TestMarshalJSON_MasksSecrets(t *testing.T) {
	cfg := validConfig()
	cfg.Search.APIKey = "tvly-very-secret"

	data, err := json.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	s := string(data)
	if strings.Contains(s, "secret") || strings.Contains(s, "tvly-very-secret") {
		t.Errorf("marshaled config leaks secrets: %s", s)
	}
	if !strings.Contains(s, "********") {
		t.Errorf("expected masked values in %s", s)
	}
}

func TestPostgresConnectionString_QuotesPassword(t *testing.T) {
	cfg := validConfig()
	cfg.PostgresPassword = "pa'ss word"

	dsn := cfg.PostgresConnectionString()
	if !strings.Contains(dsn, `password='pa\'ss word'`) {
		t.Errorf("password not quoted correctly: %s", dsn)
	}
}

func TestParseDatabaseURL(t *testing.T) {
	cfg := validConfig()
	t.Setenv("DATABASE_URL", "postgres://u:p@db.example.com:5433/qa?sslmode=require")

	if err := cfg.parseDatabaseURL(); err != nil {
		t.Fatalf("parseDatabaseURL() = %v", err)
	}
	if cfg.PostgresHost != "db.example.com" || cfg.PostgresPort != 5433 {
		t.Errorf("host/port = %s:%d, want db.example.com:5433", cfg.PostgresHost, cfg.PostgresPort)
	}
	if cfg.PostgresUser != "u" || cfg.PostgresPassword != "p" {
		t.Errorf("credentials not applied")
	}
	if cfg.PostgresDBName != "qa" || cfg.PostgresSSLMode != "require" {
		t.Errorf("dbname/sslmode = %s/%s", cfg.PostgresDBName, cfg.PostgresSSLMode)
	}
}

func TestParseDatabaseURL_RejectsWrongScheme(t *testing.T) {
	cfg := validConfig()
	t.Setenv("DATABASE_URL", "mysql://u:p@host/db")

	if err := cfg.parseDatabaseURL(); err == nil {
		t.Error("expected error for non-postgres scheme")
	}
}
