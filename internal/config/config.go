// Package config provides environment configuration for the orchestration
// engine.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	ServerPort         string
	ServerReadTimeout  time.Duration
	ServerWriteTimeout time.Duration

	// DynamoDB settings
	AWSRegion         string
	DynamoTablePrefix string
	DynamoEndpoint    string

	// NATS settings
	NATSURL      string
	NATSCAFile   string
	NATSCertFile string
	NATSKeyFile  string
	NATSToken    string

	// Notification consumer
	NotifyAckWait    time.Duration
	NotifyMaxDeliver int

	// Webhook settings
	WebhookVerifyToken string
	WebhookAppSecret   string

	// JWT settings
	JWTSecret     string
	JWTExpiration time.Duration

	// LLM settings
	AnthropicAPIKey string
	OpenAIAPIKey    string
	DefaultModel    string

	// Catalog service
	CatalogBaseURL string
	CatalogAPIKey  string

	// Channel API
	ChannelBaseURL string

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
		ServerPort:         getEnv("PORT", "8080"),
		ServerReadTimeout:  getDurationEnv("SERVER_READ_TIMEOUT", 30*time.Second),
		ServerWriteTimeout: getDurationEnv("SERVER_WRITE_TIMEOUT", 120*time.Second),

		// DynamoDB
		AWSRegion:         getEnv("AWS_REGION", "us-east-1"),
		DynamoTablePrefix: getEnv("DYNAMO_TABLE_PREFIX", "orchestrator_"),
		DynamoEndpoint:    getEnv("DYNAMO_ENDPOINT", ""),

		// NATS
		NATSURL:      getEnv("NATS_URL", "nats://localhost:4222"),
		NATSCAFile:   getEnv("NATS_CA_FILE", ""),
		NATSCertFile: getEnv("NATS_CERT_FILE", ""),
		NATSKeyFile:  getEnv("NATS_KEY_FILE", ""),
		NATSToken:    getEnv("NATS_TOKEN", ""),

		// Notification consumer
		NotifyAckWait:    getDurationEnv("NOTIFY_ACK_WAIT", 2*time.Minute),
		NotifyMaxDeliver: getIntEnv("NOTIFY_MAX_DELIVER", 5),

		// Webhook
		WebhookVerifyToken: getEnv("WEBHOOK_VERIFY_TOKEN", ""),
		WebhookAppSecret:   getEnv("WEBHOOK_APP_SECRET", ""),

		// JWT
		JWTSecret:     getEnv("JWT_SECRET", "development-secret-change-in-production"),
		JWTExpiration: getDurationEnv("JWT_EXPIRATION", 15*time.Minute),

		// LLM
		AnthropicAPIKey: getEnv("ANTHROPIC_API_KEY", ""),
		OpenAIAPIKey:    getEnv("OPENAI_API_KEY", ""),
		DefaultModel:    getEnv("DEFAULT_MODEL", "gpt-4o"),

		// Catalog
		CatalogBaseURL: getEnv("CATALOG_BASE_URL", ""),
		CatalogAPIKey:  getEnv("CATALOG_API_KEY", ""),

		// Channel
		ChannelBaseURL: getEnv("CHANNEL_BASE_URL", ""),

		// Rate limiting
		RateLimitRequests: getIntEnv("RATE_LIMIT_REQUESTS", 300),
		RateLimitWindow:   getDurationEnv("RATE_LIMIT_WINDOW", time.Minute),

		// Logging
		LogLevel: getEnv("LOG_LEVEL", "info"),

		// Tracing
		TracingEndpoint: getEnv("TRACING_ENDPOINT", "localhost:4318"),
		TracingEnabled:  getBoolEnv("TRACING_ENABLED", false),
	}
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
