package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	Port        string
	Env         string
	LogLevel    string
	DatabaseURL string

	RedisAddr     string
	RedisPassword string
	RedisTLS      bool

	AWSRegion                string
	AWSAccessKeyID           string
	AWSSecretAccessKey       string
	AWSEndpointOverride      string
	SchedulingEventsQueueURL string

	CORSAllowedOrigins []string
	RateLimitRPS       float64
	RateLimitBurst     int

	// Scheduling engine overrides. Zero values keep the engine defaults.
	SchedulingTimezone     string
	DefaultSessionMinutes  int
	MaxRecurrenceInstances int
	AutoResolveConflicts   bool
	MaxTimeShiftMinutes    int
	ShiftStepMinutes       int

	// Week used for therapists without a stored schedule.
	DefaultWorkingDays []string
	DefaultWorkStart   string
	DefaultWorkEnd     string
	DefaultBreakStart  string
	DefaultBreakEnd    string

	LockTTL            time.Duration
	LockWait           time.Duration
	OutboxPollInterval time.Duration
	OutboxBatchSize    int
}

// Load reads configuration from environment variables. A .env file in the
// working directory is loaded first when present; real environment values win.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Port:        getEnv("PORT", "8080"),
		Env:         getEnv("ENV", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		DatabaseURL: getEnv("DATABASE_URL", ""),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),

		AWSRegion:                getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:           getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:       getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride:      getEnv("AWS_ENDPOINT_OVERRIDE", ""),
		SchedulingEventsQueueURL: getEnv("SCHEDULING_EVENTS_QUEUE_URL", ""),

		CORSAllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS", nil),
		RateLimitRPS:       getEnvAsFloat("RATE_LIMIT_RPS", 20),
		RateLimitBurst:     getEnvAsInt("RATE_LIMIT_BURST", 40),

		SchedulingTimezone:     getEnv("SCHEDULING_TIMEZONE", "UTC"),
		DefaultSessionMinutes:  getEnvAsInt("DEFAULT_SESSION_MINUTES", 0),
		MaxRecurrenceInstances: getEnvAsInt("MAX_RECURRENCE_INSTANCES", 0),
		AutoResolveConflicts:   getEnvAsBool("AUTO_RESOLVE_CONFLICTS", false),
		MaxTimeShiftMinutes:    getEnvAsInt("MAX_TIME_SHIFT_MINUTES", 0),
		ShiftStepMinutes:       getEnvAsInt("SHIFT_STEP_MINUTES", 0),

		DefaultWorkingDays: getEnvAsList("DEFAULT_WORKING_DAYS", []string{"MONDAY", "TUESDAY", "WEDNESDAY", "THURSDAY", "FRIDAY"}),
		DefaultWorkStart:   getEnv("DEFAULT_WORK_START", "09:00"),
		DefaultWorkEnd:     getEnv("DEFAULT_WORK_END", "17:00"),
		DefaultBreakStart:  getEnv("DEFAULT_BREAK_START", "12:00"),
		DefaultBreakEnd:    getEnv("DEFAULT_BREAK_END", "13:00"),

		LockTTL:            getEnvAsDuration("LOCK_TTL", 30*time.Second),
		LockWait:           getEnvAsDuration("LOCK_WAIT", 5*time.Second),
		OutboxPollInterval: getEnvAsDuration("OUTBOX_POLL_INTERVAL", time.Second),
		OutboxBatchSize:    getEnvAsInt("OUTBOX_BATCH_SIZE", 50),
	}
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsList splits a comma separated variable, dropping blanks.
func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
