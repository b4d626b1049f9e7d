// Package config loads the bridge's runtime configuration from the
// environment.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/birddigital/voicebridge/pkg/pricing"
)

// Config holds everything the server needs at startup. Telephony
// credentials are not here: they resolve at call time through the
// settings store with an environment fallback.
type Config struct {
	Port string

	// PublicHost is the externally reachable host for media stream and
	// webhook URLs, e.g. bridge.example.com.
	PublicHost string

	// DatabaseURL enables the Postgres store; empty runs in-memory.
	DatabaseURL string

	OpenAIKey     string
	RealtimeModel string

	RateCentsPerMinute float64

	DefaultVoice        string
	DefaultGreeting     string
	DefaultSystemPrompt string
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:                getEnv("PORT", "8080"),
		PublicHost:          os.Getenv("PUBLIC_HOST"),
		DatabaseURL:         os.Getenv("DATABASE_URL"),
		OpenAIKey:           os.Getenv("OPENAI_API_KEY"),
		RealtimeModel:       getEnv("OPENAI_REALTIME_MODEL", "gpt-4o-realtime-preview-2024-10-01"),
		RateCentsPerMinute:  pricing.DefaultRateCentsPerMinute,
		DefaultVoice:        getEnv("DEFAULT_VOICE", "alloy"),
		DefaultGreeting:     getEnv("DEFAULT_GREETING", "Hello! How can I help you today?"),
		DefaultSystemPrompt: getEnv("DEFAULT_SYSTEM_PROMPT", "You are a helpful phone assistant. Keep responses short and conversational."),
	}

	if raw := os.Getenv("CALL_RATE_CENTS_PER_MINUTE"); raw != "" {
		rate, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("CALL_RATE_CENTS_PER_MINUTE: %w", err)
		}
		cfg.RateCentsPerMinute = rate
	}

	if cfg.PublicHost == "" {
		return nil, fmt.Errorf("PUBLIC_HOST is required: the telephony provider must be able to reach this server")
	}
	if cfg.OpenAIKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY is required")
	}

	return cfg, nil
}

// MediaStreamBaseURL is the wss:// base the provider streams media to.
func (c *Config) MediaStreamBaseURL() string {
	return "wss://" + c.PublicHost
}

// StatusCallbackURL receives provider status webhooks.
func (c *Config) StatusCallbackURL() string {
	return "https://" + c.PublicHost + "/api/webhooks/telephony/status"
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
