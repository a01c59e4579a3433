// Package config provides environment configuration for the API server.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	Env                string
	ServerPort         string
	ServerReadTimeout  time.Duration
	ServerWriteTimeout time.Duration

	// NATS settings; an empty URL disables the event feed
	NATSURL      string
	NATSCAFile   string
	NATSCertFile string
	NATSKeyFile  string
	NATSToken    string

	// JWT settings
	JWTSecret string

	// LLM settings
	LLMProvider     string
	AnthropicAPIKey string
	OpenAIAPIKey    string
	OpenAIBaseURL   string
	LLMModel        string
	LLMTimeout      time.Duration
	LLMMaxRetries   int
	LLMRetryBase    time.Duration
	LLMRateLimit    float64
	LLMRateBurst    int
	LLMTemperature  float64
	LLMMaxTokens    int

	// Store settings
	StoreDriver string
	StorePath   string

	// Conversation windows
	HistoryTurns      int
	ClassifierHistory int
	ProfileWindow     int

	// Rate limiting
	RateLimitRequests int
	RateLimitWindow   time.Duration

	// Logging
	LogLevel string

	// Tracing
	TracingEndpoint string
	TracingEnabled  bool
}

// Load reads configuration from environment variables.
func Load() *Config {
	return &Config{
		// Server
		Env:                getEnv("ENV", "production"),
		ServerPort:         getEnv("PORT", "8080"),
		ServerReadTimeout:  getDurationEnv("SERVER_READ_TIMEOUT", 30*time.Second),
		ServerWriteTimeout: getDurationEnv("SERVER_WRITE_TIMEOUT", 120*time.Second),

		// NATS
		NATSURL:      getEnv("NATS_URL", ""),
		NATSCAFile:   getEnv("NATS_CA_FILE", ""),
		NATSCertFile: getEnv("NATS_CERT_FILE", ""),
		NATSKeyFile:  getEnv("NATS_KEY_FILE", ""),
		NATSToken:    getEnv("NATS_TOKEN", ""),

		// JWT
		JWTSecret: getEnv("JWT_SECRET", "development-secret-change-in-production"),

		// LLM
		LLMProvider:     getEnv("LLM_PROVIDER", "anthropic"),
		AnthropicAPIKey: getEnv("ANTHROPIC_API_KEY", ""),
		OpenAIAPIKey:    getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL:   getEnv("OPENAI_BASE_URL", ""),
		LLMModel:        getEnv("LLM_MODEL", ""),
		LLMTimeout:      getDurationEnv("LLM_TIMEOUT", 10*time.Second),
		LLMMaxRetries:   getIntEnv("LLM_MAX_RETRIES", 2),
		LLMRetryBase:    getDurationEnv("LLM_RETRY_BASE", 500*time.Millisecond),
		LLMRateLimit:    getFloatEnv("LLM_RATE_LIMIT", 5),
		LLMRateBurst:    getIntEnv("LLM_RATE_BURST", 10),
		LLMTemperature:  getFloatEnv("LLM_TEMPERATURE", 0.7),
		LLMMaxTokens:    getIntEnv("LLM_MAX_TOKENS", 1024),

		// Store
		StoreDriver: getEnv("STORE_DRIVER", "sqlite"),
		StorePath:   getEnv("STORE_PATH", "data/lifeos.db"),

		// Conversation windows
		HistoryTurns:      getIntEnv("HISTORY_TURNS", 5),
		ClassifierHistory: getIntEnv("CLASSIFIER_HISTORY", 3),
		ProfileWindow:     getIntEnv("PROFILE_WINDOW", 20),

		// Rate limiting
		RateLimitRequests: getIntEnv("RATE_LIMIT_REQUESTS", 60),
		RateLimitWindow:   getDurationEnv("RATE_LIMIT_WINDOW", time.Minute),

		// Logging
		LogLevel: getEnv("LOG_LEVEL", "info"),

		// Tracing
		TracingEndpoint: getEnv("TRACING_ENDPOINT", "localhost:4318"),
		TracingEnabled:  getBoolEnv("TRACING_ENABLED", false),
	}
}

// Validate reports every setting that cannot work.
func (c *Config) Validate() error {
	var errs []error
	positive := func(name string, v int) {
		if v <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %d", name, v))
		}
	}
	positiveDuration := func(name string, d time.Duration) {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", name, d))
		}
	}

	positiveDuration("SERVER_READ_TIMEOUT", c.ServerReadTimeout)
	positiveDuration("SERVER_WRITE_TIMEOUT", c.ServerWriteTimeout)
	positiveDuration("LLM_TIMEOUT", c.LLMTimeout)
	positiveDuration("LLM_RETRY_BASE", c.LLMRetryBase)
	positiveDuration("RATE_LIMIT_WINDOW", c.RateLimitWindow)
	positive("HISTORY_TURNS", c.HistoryTurns)
	positive("CLASSIFIER_HISTORY", c.ClassifierHistory)
	positive("PROFILE_WINDOW", c.ProfileWindow)
	positive("RATE_LIMIT_REQUESTS", c.RateLimitRequests)
	positive("LLM_MAX_TOKENS", c.LLMMaxTokens)

	if c.LLMMaxRetries < 0 {
		errs = append(errs, fmt.Errorf("LLM_MAX_RETRIES must not be negative, got %d", c.LLMMaxRetries))
	}
	if c.LLMTemperature < 0 || c.LLMTemperature > 2 {
		errs = append(errs, fmt.Errorf("LLM_TEMPERATURE must be within [0, 2], got %g", c.LLMTemperature))
	}

	switch c.LLMProvider {
	case "anthropic", "openai", "none":
	default:
		errs = append(errs, fmt.Errorf("unknown LLM_PROVIDER %q", c.LLMProvider))
	}
	switch c.StoreDriver {
	case "sqlite", "memory":
	default:
		errs = append(errs, fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver))
	}
	if c.StoreDriver == "sqlite" && c.StorePath == "" {
		errs = append(errs, errors.New("STORE_PATH is required for the sqlite driver"))
	}
	if c.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}

	return errors.Join(errs...)
}

// APIKey returns the key for the configured provider.
func (c *Config) APIKey() string {
	switch c.LLMProvider {
	case "anthropic":
		return c.AnthropicAPIKey
	case "openai":
		return c.OpenAIAPIKey
	}
	return ""
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
