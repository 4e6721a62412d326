package config

import (
	"os"
	"time"
)

// Config holds environment-level settings. Flags in main override these.
type Config struct {
	Addr           string
	DBPath         string
	WebhookURL     string
	RunDelay       time.Duration
	WebhookTimeout time.Duration
	SweepSchedule  string
}

func FromEnv() Config {
	return Config{
		Addr:           getEnv("JOBDESK_ADDR", ":5000"),
		DBPath:         getEnv("JOBDESK_DB", "jobs.db"),
		WebhookURL:     getEnv("WEBHOOK_URL", ""),
		RunDelay:       getDuration("JOBDESK_RUN_DELAY", 3*time.Second),
		WebhookTimeout: getDuration("JOBDESK_WEBHOOK_TIMEOUT", 5*time.Second),
		SweepSchedule:  getEnv("JOBDESK_SWEEP_SCHEDULE", "@every 30s"),
	}
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}
