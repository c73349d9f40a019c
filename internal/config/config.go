// Package config handles application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the application configuration.
type Config struct {
	TelegramBotToken string
	PlacesAPIURL     string
	DatabasePath     string
	LogLevel         string
	AllowedUsers     []int64

	// CheckInterval is the scheduler tick; due watches are collected once
	// per tick. Workers bounds how many subscribers are checked at once.
	CheckInterval time.Duration
	Workers       int

	// SendRate is the outgoing message budget in messages per second.
	SendRate float64
}

// Load reads configuration from the environment, after loading a .env file
// when one is present.
func Load() (*Config, error) {
	// A missing .env file is fine; deployments set the environment directly.
	_ = godotenv.Load()

	token := os.Getenv("TELEGRAM_BOT_TOKEN")
	if token == "" {
		return nil, fmt.Errorf("TELEGRAM_BOT_TOKEN is required")
	}

	placesURL := os.Getenv("PLACES_API_URL")
	if placesURL == "" {
		return nil, fmt.Errorf("PLACES_API_URL is required")
	}

	dbPath := os.Getenv("DATABASE_PATH")
	if dbPath == "" {
		dbPath = "./data/bot.db"
	}

	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "info"
	}

	checkInterval := time.Minute
	if raw := os.Getenv("CHECK_INTERVAL"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("invalid CHECK_INTERVAL %q", raw)
		}
		checkInterval = d
	}

	workers := 4
	if raw := os.Getenv("WORKERS"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return nil, fmt.Errorf("invalid WORKERS %q", raw)
		}
		workers = n
	}

	sendRate := 20.0
	if raw := os.Getenv("SEND_RATE"); raw != "" {
		r, err := strconv.ParseFloat(raw, 64)
		if err != nil || r <= 0 {
			return nil, fmt.Errorf("invalid SEND_RATE %q", raw)
		}
		sendRate = r
	}

	var allowedUsers []int64
	if raw := os.Getenv("ALLOWED_USERS"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			s = strings.TrimSpace(s)
			if s == "" {
				continue
			}
			uid, err := strconv.ParseInt(s, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid user ID %q in ALLOWED_USERS: %w", s, err)
			}
			allowedUsers = append(allowedUsers, uid)
		}
	}

	return &Config{
		TelegramBotToken: token,
		PlacesAPIURL:     placesURL,
		DatabasePath:     dbPath,
		LogLevel:         logLevel,
		AllowedUsers:     allowedUsers,
		CheckInterval:    checkInterval,
		Workers:          workers,
		SendRate:         sendRate,
	}, nil
}

// IsUserAllowed checks whether a user ID is in the allow list.
// Returns true if the allow list is empty (all users permitted).
func (c *Config) IsUserAllowed(userID int64) bool {
	if len(c.AllowedUsers) == 0 {
		return true
	}
	for _, id := range c.AllowedUsers {
		if id == userID {
			return true
		}
	}
	return false
}
