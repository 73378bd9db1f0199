package config

import (
	"fmt"
	"os"
	"time"
)

// Config holds application configuration
type Config struct {
	Port          string
	DBConn        string
	LogLevel      string
	EncryptionKey string
	Currency      string
	LockWait      time.Duration
	SweepSchedule string
	SMTPHost      string
	SMTPPort      string
	SMTPUsername  string
	SMTPPassword  string
	SenderEmail   string
	OpsEmail      string
}

// NewConfig loads configuration from environment variables.
// The CARD_ENC_SECRET default is for local development only and must be
// overridden in any real deployment.
func NewConfig() (*Config, error) {
	cfg := &Config{
		Port:          getEnv("PORT", "8080"),
		DBConn:        getEnv("DB_CONN", "host=localhost port=5432 user=cards password=cards dbname=cards sslmode=disable"),
		LogLevel:      getEnv("LOG_LEVEL", "INFO"),
		EncryptionKey: getEnv("CARD_ENC_SECRET", "dev-secret-key-for-cards-please-change"),
		Currency:      getEnv("CURRENCY", "USD"),
		SweepSchedule: getEnv("SWEEP_SCHEDULE", "@daily"),
		SMTPHost:      getEnv("SMTP_HOST", ""),
		SMTPPort:      getEnv("SMTP_PORT", "587"),
		SMTPUsername:  getEnv("SMTP_USERNAME", ""),
		SMTPPassword:  getEnv("SMTP_PASSWORD", ""),
		SenderEmail:   getEnv("SENDER_EMAIL", "noreply@cards.local"),
		OpsEmail:      getEnv("OPS_EMAIL", ""),
	}

	lockWait := getEnv("LOCK_WAIT", "3s")
	d, err := time.ParseDuration(lockWait)
	if err != nil {
		return nil, fmt.Errorf("invalid LOCK_WAIT %q: %w", lockWait, err)
	}
	cfg.LockWait = d

	if cfg.DBConn == "" {
		return nil, fmt.Errorf("DB_CONN is required")
	}
	if cfg.EncryptionKey == "" {
		return nil, fmt.Errorf("CARD_ENC_SECRET is required")
	}
	if len(cfg.Currency) != 3 {
		return nil, fmt.Errorf("CURRENCY must be a 3-letter code, got %q", cfg.Currency)
	}

	return cfg, nil
}

func getEnv(key, defaultVal string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultVal
}
