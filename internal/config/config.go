package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

// Config holds everything the relay reads from the environment.
type Config struct {
	Port      string
	JWTSecret string

	// Provider selects the upstream: openai, gemini, or mock.
	Provider string

	OpenAIAPIKey string
	OpenAIModel  string
	GeminiModel  string

	// Session parameters passed upstream.
	Voice             string
	Instructions      string
	SampleRate        int
	MaxResponseTokens int

	// Relay core bounds.
	HistoryMax      int
	PendingQueueMax int
	CloseGrace      time.Duration
}

// Load reads .env (if present) and the environment, applying defaults.
func Load(logger *zap.Logger) Config {
	if err := godotenv.Load(); err != nil {
		logger.Debug("No .env file loaded", zap.Error(err))
	}

	cfg := Config{
		Port:              getEnv("PORT", "8080"),
		JWTSecret:         getEnv("JWT_SECRET", ""),
		Provider:          getEnv("RELAY_PROVIDER", "openai"),
		OpenAIAPIKey:      getEnv("OPENAI_API_KEY", ""),
		OpenAIModel:       getEnv("OPENAI_REALTIME_MODEL", ""),
		GeminiModel:       getEnv("GEMINI_LIVE_MODEL", ""),
		Voice:             getEnv("RELAY_VOICE", "alloy"),
		Instructions:      getEnv("RELAY_INSTRUCTIONS", "You are a concise voice assistant on a watch. Keep answers short."),
		SampleRate:        getEnvInt("RELAY_SAMPLE_RATE", 24000),
		MaxResponseTokens: getEnvInt("RELAY_MAX_RESPONSE_TOKENS", 4096),
		HistoryMax:        getEnvInt("RELAY_HISTORY_MAX", 20),
		PendingQueueMax:   getEnvInt("RELAY_PENDING_QUEUE_MAX", 256),
		CloseGrace:        getEnvDuration("RELAY_CLOSE_GRACE", 2*time.Second),
	}

	if cfg.JWTSecret == "" {
		logger.Warn("JWT_SECRET is not set; using an insecure development secret")
		cfg.JWTSecret = "insecure-dev-secret"
	}

	return cfg
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return fallback
}
