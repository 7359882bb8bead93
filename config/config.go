package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds runtime configuration sourced from env vars.
type Config struct {
	Port          string
	Environment   string
	ServiceName   string
	LogLevel      string
	DatabaseURL   string
	JWTSecret     string
	JWTTTL        time.Duration
	ResetTokenTTL time.Duration
	AdminEmails   []string
	CORSOrigins   []string
	MongoURI      string
	MongoDatabase string
	PublicBaseURL string
	RedisURL      string
	NotifyQueue   string
}

// Load reads configuration from the environment and performs minimal validation.
func Load() (Config, error) {
	cfg := Config{
		Port:          fallback(os.Getenv("PORT"), "8080"),
		Environment:   fallback(os.Getenv("APP_ENV"), "production"),
		ServiceName:   fallback(os.Getenv("SERVICE_NAME"), "widesquare-api"),
		LogLevel:      fallback(os.Getenv("LOG_LEVEL"), "info"),
		DatabaseURL:   strings.TrimSpace(os.Getenv("DATABASE_URL")),
		JWTSecret:     strings.TrimSpace(os.Getenv("JWT_SECRET")),
		JWTTTL:        minutes(os.Getenv("JWT_TTL_MINUTES"), 24*time.Hour),
		ResetTokenTTL: minutes(os.Getenv("RESET_TOKEN_TTL_MINUTES"), time.Hour),
		AdminEmails:   lowerAll(parseCSV(os.Getenv("ADMIN_EMAILS"))),
		CORSOrigins:   parseCSV(fallback(os.Getenv("CORS_ALLOWED_ORIGINS"), "*")),
		MongoURI:      fallback(os.Getenv("MONGO_URI"), "mongodb://localhost:27017"),
		MongoDatabase: fallback(os.Getenv("MONGO_DATABASE"), "widesquare"),
		PublicBaseURL: strings.TrimRight(fallback(os.Getenv("PUBLIC_BASE_URL"), "http://localhost:8080"), "/"),
		RedisURL:      strings.TrimSpace(os.Getenv("REDIS_URL")),
		NotifyQueue:   fallback(os.Getenv("NOTIFY_QUEUE"), "notifications:email"),
	}

	if cfg.DatabaseURL == "" {
		return Config{}, errors.New("DATABASE_URL is required")
	}
	if cfg.JWTSecret == "" {
		return Config{}, errors.New("JWT_SECRET is required")
	}

	return cfg, nil
}

// HTTPAddress returns the host:port pair for the HTTP server to bind to.
func (c Config) HTTPAddress() string {
	return fmt.Sprintf(":%s", c.Port)
}

// Development reports whether the service runs in a local development setup.
func (c Config) Development() bool {
	return strings.EqualFold(c.Environment, "development")
}

func fallback(value, def string) string {
	if strings.TrimSpace(value) == "" {
		return def
	}
	return strings.TrimSpace(value)
}

func minutes(value string, def time.Duration) time.Duration {
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || n <= 0 {
		return def
	}
	return time.Duration(n) * time.Minute
}

func parseCSV(input string) []string {
	parts := strings.Split(input, ",")
	var out []string
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func lowerAll(in []string) []string {
	for i := range in {
		in[i] = strings.ToLower(in[i])
	}
	return in
}
