package nodes

import (
	"context"
	"fmt"
	"time"

	"github.com/cloudwego/eino-ext/components/model/gemini"
	"github.com/cloudwego/eino-ext/components/model/openai"
	einomodel "github.com/cloudwego/eino/components/model"
	"google.golang.org/genai"

	"github.com/cinephile-gpt/server/internal/agent/graph/tools"
	"github.com/cinephile-gpt/server/internal/agent/model"
	logx "github.com/cinephile-gpt/server/pkg/logger"
)

const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
)

// ChatModelConfig holds the configuration for chat model creation
type ChatModelConfig struct {
	LLM        model.LLMConfig
	Router     model.RouterModelConfig
	Classifier model.ClassifierModelConfig
}

// ChatModels holds the router and classifier models, both wrapped in the
// rate-limit retry policy, plus one tool-bound router per classification.
type ChatModels struct {
	Router              einomodel.ToolCallingChatModel
	Classifier          einomodel.ToolCallingChatModel
	RouterModelName     string
	ClassifierModelName string

	bound map[model.Classification]einomodel.ToolCallingChatModel
}

// NewChatModels creates the router and classifier models for the configured provider.
func NewChatModels(ctx context.Context, config ChatModelConfig) (*ChatModels, error) {
	var router, classifier einomodel.ToolCallingChatModel
	var err error

	switch config.LLM.Provider {
	case ProviderOpenAI:
		router, classifier, err = newOpenAIModels(ctx, config)
	case ProviderGemini, "":
		router, classifier, err = newGeminiModels(ctx, config)
	default:
		err = fmt.Errorf("unsupported LLM_PROVIDER %q", config.LLM.Provider)
	}
	if err != nil {
		return nil, err
	}

	return WrapChatModels(router, classifier, config.Router.Model, config.Classifier.Model, config.LLM.RateLimitDelay), nil
}

// WrapChatModels applies the retry policy to already constructed models.
func WrapChatModels(router, classifier einomodel.ToolCallingChatModel, routerName, classifierName string, delay time.Duration) *ChatModels {
	return &ChatModels{
		Router:              NewRetryingChatModel(router, routerName, delay),
		Classifier:          NewRetryingChatModel(classifier, classifierName, delay),
		RouterModelName:     routerName,
		ClassifierModelName: classifierName,
		bound:               make(map[model.Classification]einomodel.ToolCallingChatModel),
	}
}

func newGeminiModels(ctx context.Context, config ChatModelConfig) (einomodel.ToolCallingChatModel, einomodel.ToolCallingChatModel, error) {
	clientCfg := &genai.ClientConfig{
		APIKey:  config.LLM.GeminiAPIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if config.LLM.GeminiBaseURL != "" {
		clientCfg.HTTPOptions.BaseURL = config.LLM.GeminiBaseURL
	}

	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		logx.Error().Err(err).Msg("Error creating Gemini client")
		return nil, nil, fmt.Errorf("error creating Gemini client: %w", err)
	}

	router, err := gemini.NewChatModel(ctx, &gemini.Config{
		Client:      client,
		Model:       config.Router.Model,
		Temperature: &config.Router.Temperature,
		MaxTokens:   &config.Router.MaxTokens,
		ThinkingConfig: &genai.ThinkingConfig{
			ThinkingBudget: genai.Ptr(int32(1024)),
		},
	})
	if err != nil {
		logx.Error().Err(err).Msg("Error creating router model")
		return nil, nil, fmt.Errorf("error creating router model: %w", err)
	}

	// The classifier answers with one word; thinking would eat its token budget.
	classifier, err := gemini.NewChatModel(ctx, &gemini.Config{
		Client:      client,
		Model:       config.Classifier.Model,
		Temperature: &config.Classifier.Temperature,
		MaxTokens:   &config.Classifier.MaxTokens,
		ThinkingConfig: &genai.ThinkingConfig{
			ThinkingBudget: genai.Ptr(int32(0)),
		},
	})
	if err != nil {
		logx.Error().Err(err).Msg("Error creating classifier model")
		return nil, nil, fmt.Errorf("error creating classifier model: %w", err)
	}
	return router, classifier, nil
}

func newOpenAIModels(ctx context.Context, config ChatModelConfig) (einomodel.ToolCallingChatModel, einomodel.ToolCallingChatModel, error) {
	router, err := openai.NewChatModel(ctx, &openai.ChatModelConfig{
		APIKey:      config.LLM.OpenAIAPIKey,
		BaseURL:     config.LLM.OpenAIBaseURL,
		Model:       config.Router.Model,
		Temperature: &config.Router.Temperature,
		MaxTokens:   &config.Router.MaxTokens,
	})
	if err != nil {
		logx.Error().Err(err).Msg("Error creating router model")
		return nil, nil, fmt.Errorf("error creating router model: %w", err)
	}

	classifier, err := openai.NewChatModel(ctx, &openai.ChatModelConfig{
		APIKey:      config.LLM.OpenAIAPIKey,
		BaseURL:     config.LLM.OpenAIBaseURL,
		Model:       config.Classifier.Model,
		Temperature: &config.Classifier.Temperature,
		MaxTokens:   &config.Classifier.MaxTokens,
	})
	if err != nil {
		logx.Error().Err(err).Msg("Error creating classifier model")
		return nil, nil, fmt.Errorf("error creating classifier model: %w", err)
	}
	return router, classifier, nil
}

// BindToolSets builds one tool-bound router per classification in the registry.
func (cm *ChatModels) BindToolSets(ctx context.Context, registry *tools.Registry) error {
	for _, label := range registry.Labels() {
		bound, err := cm.Router.WithTools(registry.Infos(label))
		if err != nil {
			logx.Error().Err(err).Str("classification", label.String()).Msg("Failed to bind tools")
			return fmt.Errorf("failed to bind %s tools: %w", label, err)
		}
		cm.bound[label] = bound
		logx.Debug().
			Str("classification", label.String()).
			Strs("tools", registry.Names(label)).
			Msg("Bound tools to router model")
	}
	return nil
}

// ForClassification returns the tool-bound router for c, falling back to the
// Hybrid set when c has no set of its own.
func (cm *ChatModels) ForClassification(c model.Classification) (einomodel.ToolCallingChatModel, bool) {
	if m, ok := cm.bound[c]; ok {
		return m, true
	}
	m, ok := cm.bound[model.Hybrid]
	return m, ok
}
