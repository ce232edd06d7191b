package main

import (
	"fmt"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/cinephile-gpt/server/internal/agent/model"
	"github.com/cinephile-gpt/server/internal/core"
	logx "github.com/cinephile-gpt/server/pkg/logger"
	pkgredis "github.com/cinephile-gpt/server/pkg/redis"
	"github.com/cinephile-gpt/server/pkg/sqldb"
	"github.com/cinephile-gpt/server/pkg/vectordb"
)

// AppConfig defines all configurable parameters of the assistant,
// sourced from environment variables (loaded from .env for local runs).
type AppConfig struct {
	Env      string `envconfig:"APP_ENV" default:"development"`
	LogLevel string `envconfig:"LOG_LEVEL"`

	// LLM provider and models
	LLM        model.LLMConfig
	Router     model.RouterModelConfig
	Classifier model.ClassifierModelConfig
	Embedding  model.EmbeddingConfig

	// Agent configs
	Conversation model.ConversationConfig
	Session      model.SessionConfig

	// Infrastructure
	Redis  pkgredis.Config
	SQL    sqldb.Config
	Qdrant vectordb.Config
}

// loadConfig reads envFile (when present) and binds the environment.
func loadConfig(envFile string) (*AppConfig, error) {
	envErr := godotenv.Load(envFile)

	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment config: %w", err)
	}

	logx.Init(logx.LoggerOpts{
		Environment: core.ParseEnvironment(cfg.Env),
		Level:       cfg.LogLevel,
	})
	if envErr != nil {
		logx.Debug().Err(envErr).Str("file", envFile).Msg("No env file loaded")
	}

	if err := cfg.SQL.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// requireLLM checks the provider credentials. Only commands that call a chat
// or embedding model need them.
func (c *AppConfig) requireLLM() error {
	if c.LLM.APIKey() == "" {
		return fmt.Errorf("missing API key for LLM provider %q", c.LLM.Provider)
	}
	return nil
}
