package config

import (
	"os"
	"strconv"
	"strings"
)

// Config holds application configuration
type Config struct {
	Environment      string // "development", "staging", "production"
	ServerPort       string
	LogLevel         string
	LogFormat        string
	LogFile          string
	MaxConnections   int
	WorkerCount      int
	DefaultTimeoutMs int
	MetricsEnabled   bool
	AuthEnabled      bool
	TracingEnabled   bool
	TracingEndpoint  string
	TracingInsecure  bool
	TracingStdout    bool
}

// Load loads configuration from environment variables with defaults
func Load() *Config {
	return &Config{
		Environment:      getEnv("ENVIRONMENT", "development"),
		ServerPort:       getEnv("SERVER_PORT", "8080"),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		LogFormat:        getEnv("LOG_FORMAT", "json"),
		LogFile:          getEnv("LOG_FILE", ""),
		MaxConnections:   getEnvAsInt("MAX_CONNECTIONS", 1000),
		WorkerCount:      getEnvAsInt("WORKER_COUNT", 10),
		DefaultTimeoutMs: getEnvAsInt("DEFAULT_TIMEOUT_MS", 30000),
		MetricsEnabled:   getEnvAsBool("METRICS_ENABLED", true),
		AuthEnabled:      getEnvAsBool("AUTH_ENABLED", false),
		TracingEnabled:   getEnvAsBool("TRACING_ENABLED", false),
		TracingEndpoint:  getEnv("TRACING_ENDPOINT", "localhost:4317"),
		TracingInsecure:  getEnvAsBool("TRACING_INSECURE", true),
		TracingStdout:    getEnvAsBool("TRACING_STDOUT", false),
	}
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		switch strings.ToLower(value) {
		case "true", "1", "yes", "on":
			return true
		case "false", "0", "no", "off":
			return false
		}
	}
	return defaultValue
}
