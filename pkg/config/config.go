// Package config loads application settings from the environment, with an
// optional .env file for local development.
package config

import (
	"os"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	Addr         string
	DatabasePath string

	DarajaConsumerKey    string
	DarajaConsumerSecret string
	DarajaShortcode      string
	DarajaPasskey        string
	DarajaBaseURL        string
	DarajaCallbackURL    string

	SMSUsername string
	SMSAPIKey   string
	SMSTestMode bool
}

// Load reads the configuration. A missing .env file is fine; the
// environment always wins.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Addr:                 getEnv("ADDR", ":8080"),
		DatabasePath:         getEnv("DATABASE_PATH", "nagolie.db"),
		DarajaConsumerKey:    os.Getenv("DARAJA_CONSUMER_KEY"),
		DarajaConsumerSecret: os.Getenv("DARAJA_CONSUMER_SECRET"),
		DarajaShortcode:      os.Getenv("DARAJA_SHORTCODE"),
		DarajaPasskey:        os.Getenv("DARAJA_PASSKEY"),
		DarajaBaseURL:        os.Getenv("DARAJA_BASE_URL"),
		DarajaCallbackURL:    os.Getenv("DARAJA_CALLBACK_URL"),
		SMSUsername:          getEnv("AFRICAS_TALKING_USERNAME", "sandbox"),
		SMSAPIKey:            os.Getenv("AFRICAS_TALKING_API_KEY"),
		SMSTestMode:          getBool("SMS_TEST_MODE", true),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return strings.EqualFold(value, "true") || value == "1"
}
