package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Addr        string
	AdminAddr   string
	LogLevel    string
	RedisURL    string
	DatabaseURL string

	OpenAIAPIKey    string
	OpenAIBaseURL   string
	OpenAIModel     string
	AnthropicAPIKey string
	AnthropicModel  string
	GoogleAPIKey    string
	GoogleModel     string
	AWSRegion       string
	BedrockModel    string

	DefaultTemperature float64
	DefaultMaxTokens   int
	FallbackOrder      []string
	ProviderTimeout    time.Duration

	RateLimitRequests int
	RateLimitWindow   time.Duration

	PricingFile        string
	OTLPEndpoint       string
	SNSTopicARN        string
	SQSRequestQueueURL string
	SQSResponseQueue   string
	SecretsName        string
	ModerationKeywords []string

	// Graceful shutdown
	ShutdownTimeout time.Duration
}

// Load reads configuration from the environment. A .env file in the working
// directory is applied first; variables already set in the process win.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Addr:               getEnv("ADDR", ":8080"),
		AdminAddr:          getEnv("ADMIN_ADDR", "127.0.0.1:9090"),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		RedisURL:           getEnv("REDIS_URL", ""),
		DatabaseURL:        getEnv("DATABASE_URL", ""),
		OpenAIAPIKey:       getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL:      getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		OpenAIModel:        getEnv("OPENAI_MODEL", "gpt-4o-mini"),
		AnthropicAPIKey:    getEnv("ANTHROPIC_API_KEY", ""),
		AnthropicModel:     getEnv("ANTHROPIC_MODEL", "claude-3-5-haiku-20241022"),
		GoogleAPIKey:       getEnv("GOOGLE_API_KEY", ""),
		GoogleModel:        getEnv("GOOGLE_MODEL", "gemini-1.5-flash"),
		AWSRegion:          getEnv("AWS_REGION", ""),
		BedrockModel:       getEnv("BEDROCK_MODEL", "anthropic.claude-3-haiku-20240307-v1:0"),
		DefaultTemperature: getFloatEnv("DEFAULT_TEMPERATURE", 0.7),
		DefaultMaxTokens:   getIntEnv("DEFAULT_MAX_TOKENS", 1024),
		FallbackOrder:      getListEnv("FALLBACK_ORDER", []string{"openai", "anthropic", "google"}),
		ProviderTimeout:    getDurationEnv("PROVIDER_TIMEOUT", 10*time.Second),
		RateLimitRequests:  getIntEnv("RATE_LIMIT_REQUESTS", 30),
		RateLimitWindow:    getDurationEnv("RATE_LIMIT_WINDOW", 60*time.Second),
		PricingFile:        getEnv("PRICING_FILE", ""),
		OTLPEndpoint:       getEnv("OTLP_ENDPOINT", ""),
		SNSTopicARN:        getEnv("SNS_TOPIC_ARN", ""),
		SQSRequestQueueURL: getEnv("SQS_REQUEST_QUEUE_URL", ""),
		SQSResponseQueue:   getEnv("SQS_RESPONSE_QUEUE_URL", ""),
		SecretsName:        getEnv("SECRETS_NAME", ""),
		ModerationKeywords: getListEnv("MODERATION_KEYWORDS", nil),
		ShutdownTimeout:    getDurationEnv("SHUTDOWN_TIMEOUT", 30*time.Second),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.DefaultTemperature < 0 || c.DefaultTemperature > 2 {
		return fmt.Errorf("DEFAULT_TEMPERATURE must be between 0 and 2, got %v", c.DefaultTemperature)
	}
	if c.DefaultMaxTokens <= 0 {
		return fmt.Errorf("DEFAULT_MAX_TOKENS must be positive, got %d", c.DefaultMaxTokens)
	}
	if c.RateLimitRequests <= 0 {
		return fmt.Errorf("RATE_LIMIT_REQUESTS must be positive, got %d", c.RateLimitRequests)
	}
	if c.RateLimitWindow <= 0 {
		return fmt.Errorf("RATE_LIMIT_WINDOW must be positive")
	}
	if c.ProviderTimeout <= 0 {
		return fmt.Errorf("PROVIDER_TIMEOUT must be positive")
	}
	if len(c.FallbackOrder) == 0 {
		return fmt.Errorf("FALLBACK_ORDER must name at least one provider")
	}
	return nil
}

// ProviderKeys returns the credential fields that may be overlaid from a
// secret store, keyed by their environment variable name.
func (c *Config) ProviderKeys() map[string]*string {
	return map[string]*string{
		"OPENAI_API_KEY":    &c.OpenAIAPIKey,
		"ANTHROPIC_API_KEY": &c.AnthropicAPIKey,
		"GOOGLE_API_KEY":    &c.GoogleAPIKey,
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getDurationEnv accepts whole seconds ("60") or a Go duration ("1m30s").
func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if seconds, err := strconv.Atoi(value); err == nil {
			return time.Duration(seconds) * time.Second
		}
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
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

func getListEnv(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(strings.ToLower(part)); part != "" {
			out = append(out, part)
		}
	}
	return out
}
