package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, defaultLLMEndpoint, cfg.LLMEndpoint)
	assert.Equal(t, defaultLLMModel, cfg.LLMModel)
	assert.Equal(t, defaultSentimentModel, cfg.SentimentModel)
	assert.Equal(t, 0.5, cfg.SpamThreshold)
	assert.Equal(t, 50, cfg.MaxUploadSizeMB)
	assert.Equal(t, "./uploads", cfg.UploadsDir)
	assert.Equal(t, "8080", cfg.HTTPPort)
	assert.Len(t, cfg.ExpansionCountries, 4)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("LLM_ENDPOINT", "https://llm.internal/v1/chat/completions")
	t.Setenv("SENTIMENT_ENDPOINT", "https://sentiment.internal/v1/chat/completions")
	t.Setenv("SPAM_THRESHOLD", "0.75")
	t.Setenv("MAX_UPLOAD_SIZE_MB", "10")
	t.Setenv("EXPANSION_COUNTRIES", "Georgia, Армения")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "https://llm.internal/v1/chat/completions", cfg.LLMEndpoint)
	assert.Equal(t, "https://sentiment.internal/v1/chat/completions", cfg.SentimentEndpoint)
	assert.Equal(t, 0.75, cfg.SpamThreshold)
	assert.Equal(t, 10, cfg.MaxUploadSizeMB)
	assert.Equal(t, []string{"Georgia", "Армения"}, cfg.ExpansionCountries)
}

func TestLoad_SentimentFallsBackToLLM(t *testing.T) {
	t.Setenv("LLM_ENDPOINT", "https://llm.internal/v1/chat/completions")
	t.Setenv("LLM_API_KEY", "sk-test")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, cfg.LLMEndpoint, cfg.SentimentEndpoint)
	assert.Equal(t, "sk-test", cfg.SentimentAPIKey)
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{name: "threshold not a number", key: "SPAM_THRESHOLD", value: "high"},
		{name: "threshold out of range", key: "SPAM_THRESHOLD", value: "1.5"},
		{name: "upload size not a number", key: "MAX_UPLOAD_SIZE_MB", value: "big"},
		{name: "upload size zero", key: "MAX_UPLOAD_SIZE_MB", value: "0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := Load("")
			assert.Error(t, err)
		})
	}
}

func TestIsExpansionCountry(t *testing.T) {
	cfg := &Config{ExpansionCountries: []string{"Германия", "Germany"}}

	assert.True(t, cfg.IsExpansionCountry("Germany"))
	assert.True(t, cfg.IsExpansionCountry("germany"))
	assert.True(t, cfg.IsExpansionCountry("  Германия "))
	assert.False(t, cfg.IsExpansionCountry("Kazakhstan"))
	assert.False(t, cfg.IsExpansionCountry(""))
}

func TestMaxUploadSizeBytes(t *testing.T) {
	cfg := &Config{MaxUploadSizeMB: 50}
	assert.Equal(t, int64(50*1024*1024), cfg.MaxUploadSizeBytes())
}
