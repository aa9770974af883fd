package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	Port          string
	Env           string
	LogLevel      string
	PublicBaseURL string

	DatabaseURL string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Primary LLM backend (OpenAI-style chat completion schema)
	OpenAIAPIKey  string
	OpenAIBaseURL string
	OpenAIModel   string

	// Secondary LLM backend (bridge-style chat schema)
	BridgeBaseURL string
	BridgeAPIKey  string
	BridgeModel   string

	// Per-attempt timeout applied to each LLM backend call
	LLMAttemptTimeout time.Duration
	LLMMaxTokens      int

	// Operational timezone used for all viewing slots
	Timezone string

	ViewingDurationMins int
	ViewingDays         []string
	ViewingHours        []string
	ViewingSlotCount    int

	CalendarBaseURL string
	CalendarAPIKey  string

	WebhookToken string

	// Operators alerted when a conversation hands off to a human
	OperatorRecipients []string
	OperatorFrom       string

	HistoryLimit int
	HistoryTTL   time.Duration

	ListingHosts []string
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:          getEnv("PORT", "8080"),
		Env:           getEnv("ENV", "development"),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		PublicBaseURL: getEnv("PUBLIC_BASE_URL", ""),

		DatabaseURL: getEnv("DATABASE_URL", ""),

		RedisAddr:     getEnv("REDIS_ADDR", "redis:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvAsInt("REDIS_DB", 0),

		OpenAIAPIKey:  getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL: getEnv("OPENAI_BASE_URL", ""),
		OpenAIModel:   getEnv("OPENAI_MODEL", "gpt-4o-mini"),

		BridgeBaseURL: getEnv("BRIDGE_BASE_URL", ""),
		BridgeAPIKey:  getEnv("BRIDGE_API_KEY", ""),
		BridgeModel:   getEnv("BRIDGE_MODEL", ""),

		LLMAttemptTimeout: getEnvAsDuration("LLM_ATTEMPT_TIMEOUT", 20*time.Second),
		LLMMaxTokens:      getEnvAsInt("LLM_MAX_TOKENS", 512),

		Timezone: getEnv("OPERATIONAL_TIMEZONE", "America/New_York"),

		ViewingDurationMins: getEnvAsInt("VIEWING_DURATION_MINS", 30),
		ViewingDays:         getEnvAsList("VIEWING_DAYS", "Monday,Tuesday,Wednesday,Thursday,Friday"),
		ViewingHours:        getEnvAsList("VIEWING_HOURS", "10:00,13:00,16:00"),
		ViewingSlotCount:    getEnvAsInt("VIEWING_SLOT_COUNT", 3),

		CalendarBaseURL: getEnv("CALENDAR_BASE_URL", ""),
		CalendarAPIKey:  getEnv("CALENDAR_API_KEY", ""),

		WebhookToken: getEnv("WEBHOOK_TOKEN", ""),

		OperatorRecipients: getEnvAsList("OPERATOR_RECIPIENTS", ""),
		OperatorFrom:       getEnv("OPERATOR_FROM", ""),

		HistoryLimit: getEnvAsInt("HISTORY_LIMIT", 40),
		HistoryTTL:   getEnvAsDuration("HISTORY_TTL", 72*time.Hour),

		ListingHosts: getEnvAsList("LISTING_HOSTS", ""),
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

// getEnvAsList splits a comma-separated environment variable, trimming
// whitespace and dropping empty entries.
func getEnvAsList(key, defaultValue string) []string {
	raw := getEnv(key, defaultValue)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
