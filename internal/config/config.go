// Package config loads service settings from MEALMOOD_* environment
// variables, optionally seeded from a .env file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/dukerupert/mealmood/internal/analysis"
	"github.com/dukerupert/mealmood/internal/foodlog"
	"github.com/dukerupert/mealmood/internal/photo"
)

type Config struct {
	Port      string
	DBPath    string
	LogLevel  string
	LogFormat string

	JWTSecret string
	TokenTTL  time.Duration

	OpenAI          analysis.OpenAIConfig
	ProviderTimeout time.Duration

	S3 photo.S3Config

	// Requests per minute per client IP on auth routes and per user on
	// routes that call the analysis provider.
	AuthRateLimit    int
	AnalyzeRateLimit int
	MaintenanceEvery time.Duration
	ShutdownTimeout  time.Duration
}

// Load reads .env files when present and then the environment. Existing
// environment variables win over .env values.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
	}

	cfg := &Config{
		Port:      getenv("MEALMOOD_PORT", "8080"),
		DBPath:    getenv("MEALMOOD_DB_PATH", "mealmood.db"),
		LogLevel:  getenv("MEALMOOD_LOG_LEVEL", "info"),
		LogFormat: getenv("MEALMOOD_LOG_FORMAT", "text"),
		JWTSecret: os.Getenv("MEALMOOD_JWT_SECRET"),
		OpenAI: analysis.OpenAIConfig{
			APIKey:  os.Getenv("MEALMOOD_OPENAI_API_KEY"),
			Model:   os.Getenv("MEALMOOD_OPENAI_MODEL"),
			BaseURL: os.Getenv("MEALMOOD_OPENAI_BASE_URL"),
		},
		S3: photo.S3Config{
			Endpoint:  os.Getenv("MEALMOOD_S3_ENDPOINT"),
			Bucket:    os.Getenv("MEALMOOD_S3_BUCKET"),
			Region:    getenv("MEALMOOD_S3_REGION", "us-east-1"),
			AccessKey: os.Getenv("MEALMOOD_S3_ACCESS_KEY"),
			SecretKey: os.Getenv("MEALMOOD_S3_SECRET_KEY"),
		},
	}

	var err error
	if cfg.TokenTTL, err = durationEnv("MEALMOOD_TOKEN_TTL", 72*time.Hour); err != nil {
		return nil, err
	}
	if cfg.ProviderTimeout, err = durationEnv("MEALMOOD_PROVIDER_TIMEOUT", foodlog.DefaultProviderTimeout); err != nil {
		return nil, err
	}
	if cfg.S3.PresignTTL, err = durationEnv("MEALMOOD_S3_PRESIGN_TTL", 15*time.Minute); err != nil {
		return nil, err
	}
	if cfg.MaintenanceEvery, err = durationEnv("MEALMOOD_MAINTENANCE_INTERVAL", time.Hour); err != nil {
		return nil, err
	}
	if cfg.ShutdownTimeout, err = durationEnv("MEALMOOD_SHUTDOWN_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}
	if cfg.AuthRateLimit, err = intEnv("MEALMOOD_AUTH_RATE_LIMIT", 10); err != nil {
		return nil, err
	}
	if cfg.AnalyzeRateLimit, err = intEnv("MEALMOOD_ANALYZE_RATE_LIMIT", 20); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the settings serve needs.
func (c *Config) Validate() error {
	if len(c.JWTSecret) < 16 {
		return errors.New("MEALMOOD_JWT_SECRET must be at least 16 characters")
	}
	if c.OpenAI.APIKey == "" {
		return errors.New("MEALMOOD_OPENAI_API_KEY is required")
	}
	if c.ProviderTimeout <= 0 {
		return errors.New("MEALMOOD_PROVIDER_TIMEOUT must be positive")
	}
	if c.AuthRateLimit <= 0 || c.AnalyzeRateLimit <= 0 {
		return errors.New("rate limits must be positive")
	}
	return nil
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func durationEnv(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func intEnv(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}
