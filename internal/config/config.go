package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the persona RAG service.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string
	LogLevel         string

	AllowAnyOrigin bool

	// Pipeline tuning.
	HistoryWindow     int
	RetrieveTopN      int
	RerankTopK        int
	ContextCharBudget int
	CapabilityTimeout time.Duration
	RetryBackoffBase  time.Duration
	RetryBackoffCap   time.Duration
	RedactStoredText  bool

	// Collaborator providers.
	CapabilityProvider string
	GeminiAPIKey       string
	GeminiModel        string
	EmbeddingModel     string
	EmbeddingDim       int
	RerankerURL        string

	// Persona roster. Empty path means the built-in seed roster.
	PersonaRosterPath string

	DatabaseURL string
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:           envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace:   envOrDefault("APP_METRICS_NAMESPACE", "kemet"),
		LogLevel:           envOrDefault("APP_LOG_LEVEL", "info"),
		AllowAnyOrigin:     false,
		HistoryWindow:      6,
		RetrieveTopN:       30,
		RerankTopK:         8,
		ContextCharBudget:  6000,
		CapabilityTimeout:  15 * time.Second,
		RetryBackoffBase:   500 * time.Millisecond,
		RetryBackoffCap:    5 * time.Second,
		RedactStoredText:   true,
		CapabilityProvider: envOrDefault("CAPABILITY_PROVIDER", "auto"),
		GeminiAPIKey:       envTrimmed("GEMINI_API_KEY"),
		GeminiModel:        envOrDefault("GEMINI_MODEL", "gemini-2.0-flash"),
		EmbeddingModel:     envOrDefault("EMBEDDING_MODEL", "gemini-embedding-001"),
		EmbeddingDim:       768,
		RerankerURL:        envTrimmed("RERANKER_URL"),
		PersonaRosterPath:  envTrimmed("PERSONA_ROSTER_PATH"),
		DatabaseURL:        envTrimmed("DATABASE_URL"),
		ShutdownTimeout:    15 * time.Second,
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.CapabilityTimeout, err = durationFromEnv("CAPABILITY_TIMEOUT", cfg.CapabilityTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.RetryBackoffBase, err = durationFromEnv("RETRY_BACKOFF_BASE", cfg.RetryBackoffBase)
	if err != nil {
		return Config{}, err
	}
	cfg.RetryBackoffCap, err = durationFromEnv("RETRY_BACKOFF_CAP", cfg.RetryBackoffCap)
	if err != nil {
		return Config{}, err
	}
	cfg.HistoryWindow, err = intFromEnv("HISTORY_WINDOW", cfg.HistoryWindow)
	if err != nil {
		return Config{}, err
	}
	cfg.RetrieveTopN, err = intFromEnv("RETRIEVE_TOP_N", cfg.RetrieveTopN)
	if err != nil {
		return Config{}, err
	}
	cfg.RerankTopK, err = intFromEnv("RERANK_TOP_K", cfg.RerankTopK)
	if err != nil {
		return Config{}, err
	}
	cfg.ContextCharBudget, err = intFromEnv("CONTEXT_CHAR_BUDGET", cfg.ContextCharBudget)
	if err != nil {
		return Config{}, err
	}
	cfg.EmbeddingDim, err = intFromEnv("EMBEDDING_DIM", cfg.EmbeddingDim)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}
	cfg.RedactStoredText, err = boolFromEnv("REDACT_STORED_TEXT", cfg.RedactStoredText)
	if err != nil {
		return Config{}, err
	}

	if cfg.HistoryWindow <= 0 {
		return Config{}, fmt.Errorf("HISTORY_WINDOW must be positive")
	}
	if cfg.RetrieveTopN <= 0 {
		return Config{}, fmt.Errorf("RETRIEVE_TOP_N must be positive")
	}
	if cfg.RerankTopK <= 0 || cfg.RerankTopK > cfg.RetrieveTopN {
		return Config{}, fmt.Errorf("RERANK_TOP_K must be between 1 and RETRIEVE_TOP_N")
	}
	if cfg.ContextCharBudget <= 0 {
		return Config{}, fmt.Errorf("CONTEXT_CHAR_BUDGET must be positive")
	}
	if cfg.EmbeddingDim <= 0 {
		return Config{}, fmt.Errorf("EMBEDDING_DIM must be positive")
	}
	if cfg.CapabilityTimeout < time.Second {
		return Config{}, fmt.Errorf("CAPABILITY_TIMEOUT must be at least 1s")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func envTrimmed(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := envTrimmed(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := envTrimmed(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(envTrimmed(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
