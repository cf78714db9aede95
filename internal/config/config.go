package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the application.
type Config struct {
	Port          string
	DatabaseURL   string
	RedisURL      string
	KafkaBrokers  string // empty disables the event bus
	KafkaTopic    string
	PublicBaseURL string

	NukiAPIURL       string
	NukiTokenURL     string
	NukiClientID     string
	NukiClientSecret string

	WebhookID     string
	WebhookSecret string

	TokenRefreshMargin time.Duration
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:          getEnv("PORT", "8080"),
		DatabaseURL:   getEnv("DATABASE_URL", ""),
		RedisURL:      getEnv("REDIS_URL", ""),
		KafkaBrokers:  getEnv("KAFKA_BROKERS", ""),
		KafkaTopic:    getEnv("KAFKA_TOPIC", "nuki-lock-events"),
		PublicBaseURL: getEnv("PUBLIC_BASE_URL", ""),

		NukiAPIURL:       getEnv("NUKI_API_URL", "https://api.nuki.io"),
		NukiTokenURL:     getEnv("NUKI_TOKEN_URL", "https://web.nuki.io/oauth/token"),
		NukiClientID:     getEnv("NUKI_CLIENT_ID", ""),
		NukiClientSecret: getEnv("NUKI_CLIENT_SECRET", ""),

		WebhookID:     getEnv("WEBHOOK_ID", ""),
		WebhookSecret: getEnv("WEBHOOK_SECRET", ""),

		TokenRefreshMargin: time.Duration(getEnvInt("TOKEN_REFRESH_MARGIN_SECONDS", 300)) * time.Second,
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("REDIS_URL is required")
	}
	if cfg.PublicBaseURL == "" {
		return nil, fmt.Errorf("PUBLIC_BASE_URL is required")
	}
	if cfg.NukiClientID == "" || cfg.NukiClientSecret == "" {
		return nil, fmt.Errorf("NUKI_CLIENT_ID and NUKI_CLIENT_SECRET are required")
	}
	if cfg.WebhookSecret == "" {
		return nil, fmt.Errorf("WEBHOOK_SECRET is required")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		n, err := strconv.Atoi(val)
		if err == nil {
			return n
		}
	}
	return fallback
}
