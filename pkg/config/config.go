// Package config loads service configuration from the environment, with an
// optional .env file for local development.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all recognized options.
type Config struct {
	// Classifier call (type/language/summary).
	LLMEndpoint string
	LLMModel    string
	LLMAPIKey   string
	LLMTimeout  time.Duration

	// Sentiment call. May point at the same provider as the classifier.
	SentimentEndpoint string
	SentimentModel    string
	SentimentAPIKey   string
	SentimentTimeout  time.Duration

	// Geocoder ladder.
	PrimaryGeocoderKey  string
	PrimaryGeocoderURL  string
	FallbackGeocoderURL string
	GeocoderTimeout     time.Duration

	// Probability cutoff for the spam classifier stage.
	SpamThreshold float64

	// Countries granting the priority engine's expansion extra.
	ExpansionCountries []string

	// Upload handling.
	UploadsDir      string
	MaxUploadSizeMB int

	// HTTP server.
	HTTPPort string
}

// Defaults matching the production deployment.
const (
	defaultLLMEndpoint        = "https://openrouter.ai/api/v1/chat/completions"
	defaultLLMModel           = "google/gemini-2.0-flash-001"
	defaultSentimentModel     = "google/gemma-3-4b-it"
	defaultPrimaryGeocoder    = "https://catalog.api.2gis.com/3.0/items/geocode"
	defaultFallbackGeocoder   = "https://nominatim.openstreetmap.org/search"
	defaultSpamThreshold      = 0.5
	defaultUploadsDir         = "./uploads"
	defaultMaxUploadSizeMB    = 50
	defaultHTTPPort           = "8080"
	defaultExpansionCountries = "Германия,Germany,Узбекистан,Uzbekistan"
)

// Load reads configuration from the environment. If envPath is non-empty the
// file is loaded first; a missing file is logged and skipped.
func Load(envPath string) (*Config, error) {
	if envPath != "" {
		if err := godotenv.Load(envPath); err != nil {
			slog.Warn("Could not load .env file, continuing with existing environment",
				"path", envPath, "error", err)
		} else {
			slog.Info("Loaded environment file", "path", envPath)
		}
	}

	cfg := &Config{
		LLMEndpoint:         getEnv("LLM_ENDPOINT", defaultLLMEndpoint),
		LLMModel:            getEnv("LLM_MODEL", defaultLLMModel),
		LLMAPIKey:           os.Getenv("LLM_API_KEY"),
		LLMTimeout:          45 * time.Second,
		SentimentEndpoint:   getEnv("SENTIMENT_ENDPOINT", getEnv("LLM_ENDPOINT", defaultLLMEndpoint)),
		SentimentModel:      getEnv("SENTIMENT_MODEL", defaultSentimentModel),
		SentimentAPIKey:     getEnv("SENTIMENT_API_KEY", os.Getenv("LLM_API_KEY")),
		SentimentTimeout:    30 * time.Second,
		PrimaryGeocoderKey:  os.Getenv("PRIMARY_GEOCODER_KEY"),
		PrimaryGeocoderURL:  getEnv("PRIMARY_GEOCODER_URL", defaultPrimaryGeocoder),
		FallbackGeocoderURL: getEnv("FALLBACK_GEOCODER_URL", defaultFallbackGeocoder),
		GeocoderTimeout:     10 * time.Second,
		UploadsDir:          getEnv("UPLOADS_DIR", defaultUploadsDir),
		HTTPPort:            getEnv("HTTP_PORT", defaultHTTPPort),
	}

	var err error
	if cfg.SpamThreshold, err = getEnvFloat("SPAM_THRESHOLD", defaultSpamThreshold); err != nil {
		return nil, err
	}
	if cfg.MaxUploadSizeMB, err = getEnvInt("MAX_UPLOAD_SIZE_MB", defaultMaxUploadSizeMB); err != nil {
		return nil, err
	}
	cfg.ExpansionCountries = splitList(getEnv("EXPANSION_COUNTRIES", defaultExpansionCountries))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks option ranges. API keys may be empty: the affected stages
// fail open to their safe defaults, which is a supported degraded mode.
func (c *Config) Validate() error {
	if c.SpamThreshold < 0 || c.SpamThreshold > 1 {
		return fmt.Errorf("SPAM_THRESHOLD must be in [0,1], got %v", c.SpamThreshold)
	}
	if c.MaxUploadSizeMB <= 0 {
		return fmt.Errorf("MAX_UPLOAD_SIZE_MB must be positive, got %d", c.MaxUploadSizeMB)
	}
	if c.LLMEndpoint == "" {
		return fmt.Errorf("LLM_ENDPOINT must not be empty")
	}
	return nil
}

// MaxUploadSizeBytes returns the upload cap in bytes.
func (c *Config) MaxUploadSizeBytes() int64 {
	return int64(c.MaxUploadSizeMB) << 20
}

// IsExpansionCountry reports whether the country participates in the
// expansion program. Matching is case-insensitive on the trimmed name.
func (c *Config) IsExpansionCountry(country string) bool {
	country = strings.TrimSpace(country)
	for _, e := range c.ExpansionCountries {
		if strings.EqualFold(e, country) {
			return true
		}
	}
	return false
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) (float64, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return v, nil
}

func getEnvInt(key string, defaultValue int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return v, nil
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
