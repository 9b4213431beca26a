package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	assert.Equal(t, ProviderGemini, config.Provider)
	assert.Equal(t, "gemini-2.5-flash-lite", config.GetModel(TierLite))
	assert.Equal(t, "gemini-2.5-flash", config.GetModel(TierStandard))

	lite, ok := config.Settings(TierLite)
	require.True(t, ok)
	assert.Equal(t, DefaultTemperature, lite.Temperature)
	assert.Equal(t, int32(512), lite.MaxOutputTokens)
}

func TestSettings_Fallback(t *testing.T) {
	config := &Config{Tiers: map[ModelTier]ModelSettings{
		TierLite: {Model: "only-lite"},
	}}

	s, ok := config.Settings("scoring-xl")
	require.True(t, ok)
	assert.Equal(t, "only-lite", s.Model)
	assert.Equal(t, DefaultTemperature, s.Temperature, "zero temperature gets the default")
}

func TestSettings_Empty(t *testing.T) {
	config := &Config{Tiers: map[ModelTier]ModelSettings{TierLite: {}}}

	_, ok := config.Settings(TierLite)
	assert.False(t, ok, "a tier without a model name is not configured")
	assert.Equal(t, "", config.GetModel(TierLite))
}

func TestWithModel(t *testing.T) {
	config := DefaultConfig()
	custom := config.WithModel(TierLite, "gemini-custom")

	assert.Equal(t, "gemini-2.5-flash-lite", config.GetModel(TierLite), "original unchanged")
	assert.Equal(t, "gemini-custom", custom.GetModel(TierLite))
	assert.Equal(t, "gemini-2.5-flash", custom.GetModel(TierStandard))

	s, _ := custom.Settings(TierLite)
	assert.Equal(t, int32(512), s.MaxOutputTokens, "tier keeps its generation settings")
}

func TestWithModel_NewTierInheritsFallback(t *testing.T) {
	custom := DefaultConfig().WithModel("answers", "gemini-answers")

	s, ok := custom.Settings("answers")
	require.True(t, ok)
	assert.Equal(t, "gemini-answers", s.Model)
	assert.Equal(t, int32(1024), s.MaxOutputTokens)
}
