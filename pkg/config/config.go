package config

import (
	"os"
	"strconv"
)

// Config holds server configuration.
type Config struct {
	Port           string
	LogLevel       string
	DatabasePath   string
	JWTSecret      string
	PolicyPackPath string
	RateLimitRPS   float64
	RateLimitBurst int
	OTLPEndpoint   string
	Environment    string
}

// Load loads configuration from environment variables.
func Load() *Config {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "INFO"
	}

	dbPath := os.Getenv("DATABASE_PATH")
	if dbPath == "" {
		dbPath = "aegis.db"
	}

	env := os.Getenv("ENVIRONMENT")
	if env == "" {
		env = "development"
	}

	rps := 50.0
	if v := os.Getenv("RATE_LIMIT_RPS"); v != "" {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil && parsed > 0 {
			rps = parsed
		}
	}

	burst := 100
	if v := os.Getenv("RATE_LIMIT_BURST"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			burst = parsed
		}
	}

	return &Config{
		Port:           port,
		LogLevel:       logLevel,
		DatabasePath:   dbPath,
		JWTSecret:      os.Getenv("JWT_SECRET"),
		PolicyPackPath: os.Getenv("POLICY_PACK_PATH"),
		RateLimitRPS:   rps,
		RateLimitBurst: burst,
		OTLPEndpoint:   os.Getenv("OTLP_ENDPOINT"),
		Environment:    env,
	}
}
