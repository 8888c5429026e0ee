package config

import "os"

// GeminiModels defines which Gemini models to use for different tasks
type GeminiModels struct {
	// Sympathy is for the short acknowledgment after each answer (needs to be fast)
	Sympathy string `json:"sympathy"`

	// Mapping is for matching a free-form answer to a category or scale value
	Mapping string `json:"mapping"`
}

// AIConfig holds all AI-related configuration
type AIConfig struct {
	APIKey    string       `json:"-"` // Never serialize
	Models    GeminiModels `json:"models"`
	TimeoutMS int          `json:"timeoutMs"`
}

// DefaultAIConfig returns the default AI configuration
func DefaultAIConfig() *AIConfig {
	return &AIConfig{
		APIKey: os.Getenv("GEMINI_API_KEY"),
		Models: GeminiModels{
			Sympathy: getEnv("GEMINI_MODEL_SYMPATHY", "gemini-2.0-flash"),
			Mapping:  getEnv("GEMINI_MODEL_MAPPING", "gemini-2.0-flash"),
		},
		TimeoutMS: 10000, // 10 second default timeout
	}
}

// IsEnabled returns true if the AI API is configured
func (c *AIConfig) IsEnabled() bool {
	return c.APIKey != ""
}
