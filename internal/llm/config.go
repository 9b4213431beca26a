// Package llm provides centralized LLM configuration and client abstractions.
// The scoring oracle and the chatbot answerer both talk to the model through Client.
package llm

// ModelTier represents the complexity/capability level of a model
type ModelTier string

const (
	// TierLite serves the high-volume calls: per-job scoring and questionnaire answers.
	TierLite ModelTier = "lite"
	// TierStandard is the fallback for any tier without its own settings.
	TierStandard ModelTier = "standard"
)

// Provider represents an LLM provider
type Provider string

const (
	ProviderGemini Provider = "gemini"
)

// DefaultTemperature keeps output consistent between calls.
const DefaultTemperature float32 = 0.1

// ModelSettings are the generation settings for one tier.
type ModelSettings struct {
	Model       string
	Temperature float32
	// MaxOutputTokens caps the response; 0 leaves the provider default.
	MaxOutputTokens int32
}

// Config holds the model configuration for the application
type Config struct {
	Provider Provider
	Tiers    map[ModelTier]ModelSettings
}

// DefaultConfig returns the default configuration (currently Gemini)
func DefaultConfig() *Config {
	return DefaultGeminiConfig()
}

// DefaultGeminiConfig returns the default Gemini configuration
func DefaultGeminiConfig() *Config {
	return &Config{
		Provider: ProviderGemini,
		Tiers: map[ModelTier]ModelSettings{
			TierLite:     {Model: "gemini-2.5-flash-lite", Temperature: DefaultTemperature, MaxOutputTokens: 512},
			TierStandard: {Model: "gemini-2.5-flash", Temperature: 0.2, MaxOutputTokens: 1024},
		},
	}
}

// Settings returns the settings for tier, falling back to TierStandard and then TierLite.
// A zero temperature is replaced with DefaultTemperature.
func (c *Config) Settings(tier ModelTier) (ModelSettings, bool) {
	for _, t := range []ModelTier{tier, TierStandard, TierLite} {
		if s, ok := c.Tiers[t]; ok && s.Model != "" {
			if s.Temperature <= 0 {
				s.Temperature = DefaultTemperature
			}
			return s, true
		}
	}
	return ModelSettings{}, false
}

// GetModel returns the model name for a given tier, or "" when nothing is configured.
func (c *Config) GetModel(tier ModelTier) string {
	s, _ := c.Settings(tier)
	return s.Model
}

// WithModel returns a copy of the config whose tier uses model. The tier keeps its
// generation settings, or inherits those of the tier it previously fell back to.
func (c *Config) WithModel(tier ModelTier, model string) *Config {
	out := &Config{Provider: c.Provider, Tiers: make(map[ModelTier]ModelSettings, len(c.Tiers)+1)}
	for k, v := range c.Tiers {
		out.Tiers[k] = v
	}
	s, ok := c.Tiers[tier]
	if !ok {
		s, _ = c.Settings(tier)
	}
	s.Model = model
	out.Tiers[tier] = s
	return out
}
