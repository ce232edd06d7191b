package model

import "time"

// ================ Config ================
type ConversationConfig struct {
	Tools struct {
		MaxRounds int `envconfig:"CONVERSATION_TOOL_MAX_ROUNDS" default:"10"`
	}
}

type SessionConfig struct {
	Backend string        `envconfig:"SESSION_BACKEND" default:"memory"`
	TTL     time.Duration `envconfig:"SESSION_TTL" default:"24h"`
}

type LLMConfig struct {
	Provider       string        `envconfig:"LLM_PROVIDER" default:"gemini"`
	GeminiAPIKey   string        `envconfig:"GEMINI_API_KEY"`
	GeminiBaseURL  string        `envconfig:"GEMINI_BASE_URL"`
	OpenAIAPIKey   string        `envconfig:"OPENAI_API_KEY"`
	OpenAIBaseURL  string        `envconfig:"OPENAI_BASE_URL"`
	RateLimitDelay time.Duration `envconfig:"LLM_RATE_LIMIT_DELAY" default:"20s"`
}

type RouterModelConfig struct {
	Model       string  `envconfig:"ROUTER_MODEL" default:"gemini-2.5-flash"`
	MaxTokens   int     `envconfig:"ROUTER_MAX_TOKENS" default:"2000"`
	Temperature float32 `envconfig:"ROUTER_TEMPERATURE" default:"0.2"`
}

type ClassifierModelConfig struct {
	Model       string  `envconfig:"CLASSIFIER_MODEL" default:"gemini-2.5-flash-lite"`
	MaxTokens   int     `envconfig:"CLASSIFIER_MAX_TOKENS" default:"20"`
	Temperature float32 `envconfig:"CLASSIFIER_TEMPERATURE" default:"0"`
}

type EmbeddingConfig struct {
	Model      string `envconfig:"EMBEDDING_MODEL" default:"text-embedding-004"`
	Dimensions int    `envconfig:"EMBEDDING_DIMENSIONS" default:"768"`
}

// APIKey returns the key for the configured provider.
func (c LLMConfig) APIKey() string {
	if c.Provider == "openai" {
		return c.OpenAIAPIKey
	}
	return c.GeminiAPIKey
}

// BaseURL returns the base URL override for the configured provider.
func (c LLMConfig) BaseURL() string {
	if c.Provider == "openai" {
		return c.OpenAIBaseURL
	}
	return c.GeminiBaseURL
}
