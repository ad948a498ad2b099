// Package config handles application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds the application configuration.
type Config struct {
	DiscordBotToken string
	NexusAPIKey     string
	DatabasePath    string
	LogLevel        string
	PollInterval    time.Duration
}

// Load reads configuration from environment variables. A missing bot
// token or API key is a startup error; everything else has a default.
func Load() (*Config, error) {
	token := os.Getenv("DISCORD_BOT_TOKEN")
	if token == "" {
		return nil, fmt.Errorf("DISCORD_BOT_TOKEN is required")
	}

	apiKey := os.Getenv("NEXUS_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("NEXUS_API_KEY is required")
	}

	dbPath := os.Getenv("DATABASE_PATH")
	if dbPath == "" {
		dbPath = "./data/bot.db"
	}

	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "info"
	}

	interval := 10 * time.Minute
	if raw := os.Getenv("POLL_INTERVAL_MINUTES"); raw != "" {
		mins, err := strconv.Atoi(raw)
		if err != nil || mins < 1 || mins > 1440 {
			return nil, fmt.Errorf("POLL_INTERVAL_MINUTES must be between 1 and 1440, got %q", raw)
		}
		interval = time.Duration(mins) * time.Minute
	}

	return &Config{
		DiscordBotToken: token,
		NexusAPIKey:     apiKey,
		DatabasePath:    dbPath,
		LogLevel:        logLevel,
		PollInterval:    interval,
	}, nil
}
