package graph

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/cinephile-gpt/server/internal/agent/graph/classifier"
	"github.com/cinephile-gpt/server/internal/agent/graph/conversations"
	"github.com/cinephile-gpt/server/internal/agent/graph/dispatch"
	"github.com/cinephile-gpt/server/internal/agent/graph/nodes"
	"github.com/cinephile-gpt/server/internal/agent/graph/observers"
	"github.com/cinephile-gpt/server/internal/agent/graph/tools"
	"github.com/cinephile-gpt/server/internal/agent/model"
	logx "github.com/cinephile-gpt/server/pkg/logger"
)

// Runner executes one conversational turn end to end.
type Runner interface {
	Chat(ctx context.Context, in model.TurnInput) (*model.Reply, error)
	Reset(ctx context.Context, sessionID string) error
}

// Config holds everything needed to compose the router end-to-end.
// This is a convenience layer over GraphConfig that also constructs the chat
// models, classifier and tool registry.
type Config struct {
	LLM             model.LLMConfig
	RouterModel     model.RouterModelConfig
	ClassifierModel model.ClassifierModelConfig
	Conversation    model.ConversationConfig
	SessionRepo     model.SessionRepository

	NumericTools  []tool.InvokableTool
	SemanticTools []tool.InvokableTool
	HybridTools   []tool.InvokableTool
}

// GraphConfig holds all configuration needed to build the graph
type GraphConfig struct {
	ChatModels *nodes.ChatModels
	Classifier *classifier.Classifier
	Registry   *tools.Registry
	MaxRounds  int
}

// GraphBuilder handles the construction of the router graph
type GraphBuilder struct {
	config *GraphConfig
	graph  *compose.Graph[model.TurnInput, *schema.Message]
}

type turnStateKey struct{}

type graphRunner struct {
	runnable compose.Runnable[model.TurnInput, *schema.Message]
	sessions *conversations.SessionManager
}

// Chat serialises turns per session, primes new sessions, runs the graph and
// persists the session.
func (r *graphRunner) Chat(ctx context.Context, in model.TurnInput) (*model.Reply, error) {
	if strings.TrimSpace(in.SessionID) == "" {
		return nil, fmt.Errorf("session id is required")
	}
	unlock := r.sessions.Lock(in.SessionID)
	defer unlock()

	sess, created, err := r.sessions.LoadOrCreate(ctx, in.SessionID)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	ctx = conversations.WithSession(ctx, sess)

	if created {
		if _, err := r.invoke(ctx, model.TurnInput{SessionID: in.SessionID}); err != nil {
			return nil, fmt.Errorf("prime session: %w", err)
		}
	}

	out, state, err := r.invokeWithState(ctx, in)
	if err != nil {
		return nil, err
	}

	sess.UpdatedAt = time.Now().UTC()
	if err := r.sessions.Save(ctx, sess); err != nil {
		return nil, fmt.Errorf("save session: %w", err)
	}

	reply := &model.Reply{
		SessionID:         sess.ID,
		Classification:    sess.TaskClassification,
		ToolIntent:        sess.ToolIntent,
		Rounds:            state.Rounds,
		ToolCalls:         state.ToolCalls,
		RoundLimitReached: state.RoundLimitReached,
		CostUSD:           state.TotalCostUSD,
	}
	if out != nil && out.Role == schema.Assistant {
		reply.Content = out.Content
	} else if last := sess.LastAssistant(); last != nil {
		reply.Content = last.Content
	}

	logx.Debug().
		Str("session_id", sess.ID).
		Str("classification", reply.Classification.String()).
		Bool("tool_intent", reply.ToolIntent).
		Int("rounds", reply.Rounds).
		Int("tool_calls", reply.ToolCalls).
		Float64("cost_usd", reply.CostUSD).
		Msg("Turn completed")
	return reply, nil
}

func (r *graphRunner) Reset(ctx context.Context, sessionID string) error {
	return r.sessions.Reset(ctx, sessionID)
}

func (r *graphRunner) invoke(ctx context.Context, in model.TurnInput) (*schema.Message, error) {
	out, _, err := r.invokeWithState(ctx, in)
	return out, err
}

// invokeWithState runs the graph with a state the caller can read afterwards.
func (r *graphRunner) invokeWithState(ctx context.Context, in model.TurnInput) (*schema.Message, *model.AppState, error) {
	state := &model.AppState{}
	ctx = context.WithValue(ctx, turnStateKey{}, state)
	out, err := r.runnable.Invoke(ctx, in, compose.WithCallbacks(observers.NewAllCallbacks()))
	return out, state, err
}

// genState returns the turn state prepared by the runner, bound to the session
// attached to ctx.
func genState(ctx context.Context) *model.AppState {
	state, ok := ctx.Value(turnStateKey{}).(*model.AppState)
	if !ok || state == nil {
		state = &model.AppState{}
	}
	state.Session = conversations.SessionFromContext(ctx)
	return state
}

// BuildRouterGraph composes ChatModels, tools and the session manager, builds
// the graph, and returns a Runner.
func BuildRouterGraph(ctx context.Context, cfg Config) (Runner, error) {
	if cfg.SessionRepo == nil {
		return nil, fmt.Errorf("session repo is nil")
	}

	cms, err := nodes.NewChatModels(ctx, nodes.ChatModelConfig{
		LLM:        cfg.LLM,
		Router:     cfg.RouterModel,
		Classifier: cfg.ClassifierModel,
	})
	if err != nil {
		return nil, err
	}

	registry, err := tools.NewRegistry(ctx, cfg.NumericTools, cfg.SemanticTools, cfg.HybridTools)
	if err != nil {
		logx.Error().Err(err).Msg("Failed to build tool registry")
		return nil, fmt.Errorf("failed to build tool registry: %w", err)
	}

	return NewRunner(ctx, &GraphConfig{
		ChatModels: cms,
		Classifier: classifier.New(cms.Classifier),
		Registry:   registry,
		MaxRounds:  cfg.Conversation.Tools.MaxRounds,
	}, conversations.NewSessionManager(cfg.SessionRepo))
}

// NewRunner binds tools, compiles the graph and wraps it with session handling.
func NewRunner(ctx context.Context, config *GraphConfig, sessions *conversations.SessionManager) (Runner, error) {
	if sessions == nil {
		return nil, fmt.Errorf("session manager is nil")
	}
	runnable, err := BuildGraph(ctx, config)
	if err != nil {
		return nil, err
	}
	logx.Debug().Msg("Router graph built successfully")
	return &graphRunner{runnable: runnable, sessions: sessions}, nil
}

// BuildGraph constructs and returns the compiled router graph
func BuildGraph(ctx context.Context, config *GraphConfig) (compose.Runnable[model.TurnInput, *schema.Message], error) {
	// Basic config validation
	if config == nil {
		return nil, fmt.Errorf("graph config is nil")
	}
	if config.ChatModels == nil || config.ChatModels.Router == nil {
		return nil, fmt.Errorf("chat models are not properly initialized")
	}
	if config.Classifier == nil {
		return nil, fmt.Errorf("classifier is nil")
	}
	if config.Registry == nil {
		return nil, fmt.Errorf("tool registry is nil")
	}

	if err := config.ChatModels.BindToolSets(ctx, config.Registry); err != nil {
		return nil, err
	}

	builder := &GraphBuilder{
		config: config,
		graph:  compose.NewGraph[model.TurnInput, *schema.Message](compose.WithGenLocalState(genState)),
	}

	if err := builder.addNodes(); err != nil {
		return nil, err
	}
	if err := builder.addEdges(); err != nil {
		return nil, err
	}
	if err := builder.addBranches(); err != nil {
		return nil, err
	}

	return builder.compile(ctx)
}

// addNodes adds all processing nodes to the graph
func (b *GraphBuilder) addNodes() error {
	cms := b.config.ChatModels

	steps := []struct {
		name string
		add  func() error
	}{
		{nodes.NodeInput, func() error {
			return b.graph.AddLambdaNode(nodes.NodeInput,
				nodes.NewInputNode(),
				compose.WithNodeName(nodes.NodeInput),
				compose.WithStatePreHandler(nodes.NewInputPreHandler()),
			)
		}},
		{nodes.NodeIntern, func() error {
			return b.graph.AddLambdaNode(nodes.NodeIntern,
				nodes.NewInternNode(cms.Router, cms.RouterModelName),
				compose.WithNodeName(nodes.NodeIntern),
				compose.WithStatePostHandler(nodes.NewInternPostHandler(cms.RouterModelName)),
			)
		}},
		{nodes.NodeClassify, func() error {
			return b.graph.AddLambdaNode(nodes.NodeClassify,
				nodes.NewClassifyNode(b.config.Classifier, cms.ClassifierModelName),
				compose.WithNodeName(nodes.NodeClassify),
			)
		}},
		{nodes.NodeTool, func() error {
			return b.graph.AddLambdaNode(nodes.NodeTool,
				nodes.NewAgentNode(cms, b.config.Registry, b.config.MaxRounds),
				compose.WithNodeName(nodes.NodeTool),
				compose.WithStatePostHandler(nodes.NewAgentPostHandler(cms.RouterModelName)),
			)
		}},
		{nodes.NodeToolExecutor, func() error {
			return b.graph.AddLambdaNode(nodes.NodeToolExecutor,
				nodes.NewToolExecutorNode(dispatch.New(b.config.Registry)),
				compose.WithNodeName(nodes.NodeToolExecutor),
			)
		}},
	}

	for _, s := range steps {
		if err := s.add(); err != nil {
			logx.Error().Err(err).Str("node", s.name).Msg("Error adding node")
			return fmt.Errorf("error adding node %s: %w", s.name, err)
		}
	}
	return nil
}

// addEdges creates the main flow connections between nodes
func (b *GraphBuilder) addEdges() error {
	edges := [][2]string{
		{compose.START, nodes.NodeInput},
		{nodes.NodeClassify, nodes.NodeTool},
		{nodes.NodeToolExecutor, nodes.NodeTool},
	}

	for _, edge := range edges {
		if err := b.graph.AddEdge(edge[0], edge[1]); err != nil {
			logx.Error().Err(err).Str("from", edge[0]).Str("to", edge[1]).Msg("Error adding edge")
			return fmt.Errorf("error adding edge %s -> %s: %w", edge[0], edge[1], err)
		}
	}
	return nil
}

// addBranches creates conditional routing branches
func (b *GraphBuilder) addBranches() error {
	branches := []struct {
		from      string
		condition func(context.Context, *schema.Message) (string, error)
		targets   map[string]bool
	}{
		{nodes.NodeInput, nodes.NewInputCondition(), map[string]bool{nodes.NodeIntern: true, compose.END: true}},
		{nodes.NodeIntern, nodes.NewInternCondition(), map[string]bool{nodes.NodeClassify: true, compose.END: true}},
		{nodes.NodeTool, nodes.NewToolExecutorCondition(), map[string]bool{nodes.NodeToolExecutor: true, compose.END: true}},
	}

	for _, br := range branches {
		if err := b.graph.AddBranch(br.from, compose.NewGraphBranch(br.condition, br.targets)); err != nil {
			logx.Error().Err(err).Str("node", br.from).Msg("Error adding branch")
			return fmt.Errorf("error adding branch after %s: %w", br.from, err)
		}
	}
	return nil
}

// compile finalizes and compiles the graph
func (b *GraphBuilder) compile(ctx context.Context) (compose.Runnable[model.TurnInput, *schema.Message], error) {
	// input, intern, classify, two steps per tool round, the wrap-up round
	// and some slack.
	rounds := b.config.MaxRounds
	if rounds <= 0 {
		rounds = nodes.DefaultMaxRounds
	}
	maxSteps := 10 + (rounds+1)*2
	if maxSteps < 20 {
		maxSteps = 20
	}

	runnable, err := b.graph.Compile(ctx, compose.WithMaxRunSteps(maxSteps), compose.WithGraphName("cinephile_router"))
	if err != nil {
		logx.Error().Err(err).Msg("Error compiling graph")
		return nil, fmt.Errorf("error compiling graph: %w", err)
	}

	logx.Debug().Msg("Graph compiled successfully")
	return runnable, nil
}
