package main

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/components/embedding"
	"github.com/cloudwego/eino/components/tool"
	"github.com/qdrant/go-client/qdrant"

	"github.com/cinephile-gpt/server/internal/agent/graph"
	"github.com/cinephile-gpt/server/internal/agent/graph/tools"
	"github.com/cinephile-gpt/server/internal/agent/model"
	"github.com/cinephile-gpt/server/internal/agent/repo"
	"github.com/cinephile-gpt/server/pkg/embedder"
	logx "github.com/cinephile-gpt/server/pkg/logger"
)

// backends holds the long-lived clients shared by the commands.
type backends struct {
	qdrant   *qdrant.Client
	embedder embedding.Embedder
	closers  []func() error
}

func (b *backends) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil {
			logx.Warn().Err(err).Msg("Error closing backend")
		}
	}
}

// openBackends connects the model-backed clients. It fails fast when the LLM
// provider has no API key.
func openBackends(ctx context.Context, cfg *AppConfig) (*backends, error) {
	if err := cfg.requireLLM(); err != nil {
		return nil, err
	}
	b := &backends{}

	qc, err := cfg.Qdrant.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create Qdrant client: %w", err)
	}
	b.qdrant = qc
	b.closers = append(b.closers, qc.Close)

	b.embedder, err = embedder.New(ctx, embedder.Config{
		Provider:   cfg.LLM.Provider,
		APIKey:     cfg.LLM.APIKey(),
		BaseURL:    cfg.LLM.BaseURL(),
		Model:      cfg.Embedding.Model,
		Dimensions: cfg.Embedding.Dimensions,
	})
	if err != nil {
		b.Close()
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}
	return b, nil
}

func (b *backends) sessionRepo(ctx context.Context, cfg *AppConfig) (model.SessionRepository, error) {
	switch cfg.Session.Backend {
	case "", "memory":
		return repo.NewMemorySessionRepository(), nil
	case "redis":
		rdb, err := cfg.Redis.New(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to initialise Redis client: %w", err)
		}
		b.closers = append(b.closers, rdb.Close)
		logx.Info().Msg("Connected to Redis successfully")
		return repo.NewRedisSessionRepository(rdb, cfg.Session.TTL), nil
	default:
		return nil, fmt.Errorf("unsupported SESSION_BACKEND %q", cfg.Session.Backend)
	}
}

// newRunner builds the router graph entirely from cfg.
func newRunner(ctx context.Context, cfg *AppConfig, b *backends) (graph.Runner, error) {
	sessions, err := b.sessionRepo(ctx, cfg)
	if err != nil {
		return nil, err
	}

	movieSQL := tools.NewMovieSQL(cfg.SQL)
	vectors := tools.NewMovieVectors(b.qdrant, b.embedder, cfg.Qdrant.Collection)

	return graph.BuildRouterGraph(ctx, graph.Config{
		LLM:             cfg.LLM,
		RouterModel:     cfg.Router,
		ClassifierModel: cfg.Classifier,
		Conversation:    cfg.Conversation,
		SessionRepo:     sessions,
		NumericTools:    movieSQL.NumericTools(),
		SemanticTools:   append(vectors.SemanticTools(), movieSQL.PosterTool()),
		HybridTools:     []tool.InvokableTool{tools.NewHybridTool()},
	})
}
