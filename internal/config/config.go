package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all configuration for the consultation service.
type Config struct {
	Port string `envconfig:"PORT" default:"8080"`

	// Generative AI backend (any OpenAI-compatible endpoint)
	OpenAIAPIKey  string `envconfig:"OPENAI_API_KEY" required:"true"`
	OpenAIBaseURL string `envconfig:"OPENAI_BASE_URL" default:""`
	OpenAIModel   string `envconfig:"OPENAI_MODEL_CHAT" default:"gpt-4o-mini"`

	// Capability call policy
	CapabilityTimeout   time.Duration `envconfig:"CAPABILITY_TIMEOUT" default:"30s"`
	RetryMaxAttempts    int           `envconfig:"RETRY_MAX_ATTEMPTS" default:"3"`
	RetryInitialBackoff time.Duration `envconfig:"RETRY_INITIAL_BACKOFF" default:"200ms"`

	// Session store; in-memory when DATABASE_URL is empty
	DatabaseURL string        `envconfig:"DATABASE_URL" default:""`
	SessionTTL  time.Duration `envconfig:"SESSION_TTL" default:"2h"`

	// Doctor notifications; disabled unless both are set
	TelegramBotToken string `envconfig:"TELEGRAM_BOT_TOKEN" default:""`
	DoctorChatID     int64  `envconfig:"DOCTOR_CHAT_ID" default:"0"`
	ReportFontPath   string `envconfig:"REPORT_FONT_PATH" default:""`

	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`
	LogPretty      bool   `envconfig:"LOG_PRETTY" default:"false"`
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true"`
}

// Load reads a .env file if one exists, then the environment.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return LoadFromEnv()
}

// LoadFromEnv reads configuration from the environment only.
func LoadFromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.OpenAIAPIKey == "" {
		return errors.New("OPENAI_API_KEY is required")
	}
	if c.RetryMaxAttempts < 1 {
		return fmt.Errorf("RETRY_MAX_ATTEMPTS must be at least 1, got %d", c.RetryMaxAttempts)
	}
	if c.CapabilityTimeout < 0 {
		return fmt.Errorf("CAPABILITY_TIMEOUT must not be negative")
	}
	return nil
}

// NotificationsEnabled reports whether doctor alerts can be delivered.
func (c *Config) NotificationsEnabled() bool {
	return c.TelegramBotToken != "" && c.DoctorChatID != 0
}
