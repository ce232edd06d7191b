package nodes

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components"
	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/cinephile-gpt/server/internal/agent/graph/classifier"
	"github.com/cinephile-gpt/server/internal/agent/graph/dispatch"
	"github.com/cinephile-gpt/server/internal/agent/graph/prompts"
	"github.com/cinephile-gpt/server/internal/agent/graph/tools"
	"github.com/cinephile-gpt/server/internal/agent/model"
	logx "github.com/cinephile-gpt/server/pkg/logger"
)

const (
	NodeInput        = "input_node"
	NodeIntern       = "intern_node"
	NodeClassify     = "classify_node"
	NodeTool         = "tool_node"
	NodeToolExecutor = "tool_executor"
)

// generate calls chat under the node's run info so model callbacks are
// attributed to the node.
func generate(ctx context.Context, chat einomodel.BaseChatModel, node, modelName string, msgs []*schema.Message) (*schema.Message, error) {
	ctx = callbacks.ReuseHandlers(ctx, &callbacks.RunInfo{
		Name:      node,
		Type:      modelName,
		Component: components.ComponentOfChatModel,
	})
	return chat.Generate(ctx, msgs)
}

// snapshot copies the session history so model calls never observe later appends.
func snapshot(s *model.Session) []*schema.Message {
	out := make([]*schema.Message, len(s.Messages))
	copy(out, s.Messages)
	return out
}

// ===================================
// input_node
// ===================================

// NewInputPreHandler resets the per-turn counters.
func NewInputPreHandler() func(context.Context, model.TurnInput, *model.AppState) (model.TurnInput, error) {
	return func(ctx context.Context, in model.TurnInput, s *model.AppState) (model.TurnInput, error) {
		if s.Session == nil {
			return in, fmt.Errorf("no session attached to graph run %q", in.SessionID)
		}
		s.Rounds = 0
		s.ToolCalls = 0
		s.RoundLimitReached = false
		s.NeedsClarification = false
		s.ToolCallIDSeq = 0
		s.TotalCostUSD = 0
		return in, nil
	}
}

// NewInputNode seeds the system prompt on a fresh session and appends the
// user query. An empty query only primes the session; the node then returns
// the system prompt and the graph ends.
func NewInputNode() *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, in model.TurnInput) (*schema.Message, error) {
		var out *schema.Message
		err := compose.ProcessState(ctx, func(ctx context.Context, state *model.AppState) error {
			sess := state.Session
			if len(sess.Messages) == 0 {
				sys, err := prompts.RenderSystem(ctx)
				if err != nil {
					return fmt.Errorf("render system prompt: %w", err)
				}
				sess.Append(schema.SystemMessage(sys))
				logx.Debug().Str("session_id", sess.ID).Str("node", NodeInput).Msg("Session primed with system prompt")
			}

			query := strings.TrimSpace(in.Query)
			if query == "" {
				out = sess.Messages[0]
				return nil
			}
			out = schema.UserMessage(query)
			sess.Append(out)
			sess.CurrentTask = query
			sess.ToolIntent = false
			return nil
		})
		if err != nil {
			return nil, err
		}
		return out, nil
	})
}

// NewInputCondition routes user messages to the intent gate and ends priming runs.
func NewInputCondition() func(context.Context, *schema.Message) (string, error) {
	return func(ctx context.Context, in *schema.Message) (string, error) {
		if in != nil && in.Role == schema.User {
			return NodeIntern, nil
		}
		return compose.END, nil
	}
}

// ===================================
// intern_node
// ===================================

// NewInternNode asks the tool-less router whether the latest message needs a
// data lookup. The instruction is sent but not stored.
func NewInternNode(chat einomodel.BaseChatModel, modelName string) *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, in *schema.Message) (*schema.Message, error) {
		instruction, err := prompts.RenderIntent(ctx)
		if err != nil {
			return nil, fmt.Errorf("render intent prompt: %w", err)
		}

		var history []*schema.Message
		if err := compose.ProcessState(ctx, func(_ context.Context, state *model.AppState) error {
			history = snapshot(state.Session)
			return nil
		}); err != nil {
			return nil, fmt.Errorf("failed to access state: %w", err)
		}

		out, err := generate(ctx, chat, NodeIntern, modelName, append(history, schema.SystemMessage(instruction)))
		if err != nil {
			return nil, fmt.Errorf("intent gate: %w", err)
		}
		if out == nil {
			out = schema.AssistantMessage("", nil)
		}
		return out, nil
	})
}

// NewInternPostHandler records the intent and always stores the raw reply.
func NewInternPostHandler(modelName string) func(context.Context, *schema.Message, *model.AppState) (*schema.Message, error) {
	return func(ctx context.Context, out *schema.Message, state *model.AppState) (*schema.Message, error) {
		recordUsage(state, NodeIntern, modelName, out)

		sess := state.Session
		sess.ToolIntent = hasToolIntent(out.Content, prompts.ToolIntentSentinel)
		sess.Append(out)

		logx.Debug().
			Str("session_id", sess.ID).
			Str("node", NodeIntern).
			Bool("tool_intent", sess.ToolIntent).
			Msg("Intent gate decided")
		return out, nil
	}
}

// NewInternCondition continues to classification only when tools are needed.
func NewInternCondition() func(context.Context, *schema.Message) (string, error) {
	return func(ctx context.Context, _ *schema.Message) (string, error) {
		var intent bool
		if err := compose.ProcessState(ctx, func(_ context.Context, state *model.AppState) error {
			intent = state.Session.ToolIntent
			return nil
		}); err != nil {
			return "", fmt.Errorf("failed to access state: %w", err)
		}
		if intent {
			return NodeClassify, nil
		}
		return compose.END, nil
	}
}

// ===================================
// classify_node
// ===================================

// NewClassifyNode labels the current task. Unknown (including a failed model
// classification) stores a clarification instruction and falls back to the
// Hybrid set with tools disabled for the next round.
func NewClassifyNode(c *classifier.Classifier, modelName string) *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, in *schema.Message) (*schema.Message, error) {
		var task, sessionID string
		if err := compose.ProcessState(ctx, func(_ context.Context, state *model.AppState) error {
			task = state.Session.CurrentTask
			sessionID = state.Session.ID
			return nil
		}); err != nil {
			return nil, fmt.Errorf("failed to access state: %w", err)
		}

		cctx := callbacks.ReuseHandlers(ctx, &callbacks.RunInfo{
			Name:      NodeClassify,
			Type:      modelName,
			Component: components.ComponentOfChatModel,
		})
		res, err := c.Classify(cctx, task)
		if err != nil {
			logx.Warn().
				Err(err).
				Str("session_id", sessionID).
				Str("node", NodeClassify).
				Msg("Classifier failed; treating task as Unknown")
			res.Label = model.Unknown
		}

		var clarify *schema.Message
		if res.Label == model.Unknown {
			text, err := prompts.RenderClarification(ctx, task)
			if err != nil {
				return nil, fmt.Errorf("render clarification prompt: %w", err)
			}
			clarify = schema.SystemMessage(text)
		}

		if err := compose.ProcessState(ctx, func(_ context.Context, state *model.AppState) error {
			sess := state.Session
			if clarify != nil {
				sess.Append(clarify)
				sess.TaskClassification = model.Hybrid
				state.NeedsClarification = true
				return nil
			}
			sess.TaskClassification = res.Label
			return nil
		}); err != nil {
			return nil, fmt.Errorf("failed to access state: %w", err)
		}

		logx.Debug().
			Str("session_id", sessionID).
			Str("node", NodeClassify).
			Str("classification", res.Label.String()).
			Str("source", res.Source).
			Bool("needs_clarification", clarify != nil).
			Msg("Task classification stored")

		if clarify != nil {
			return clarify, nil
		}
		return in, nil
	})
}

// ===================================
// tool_node
// ===================================

// NewAgentNode runs one model round. Normal rounds use the router bound to
// the classification's tools plus the reasoning instruction. Clarification
// and wrap-up rounds use the tool-less router.
func NewAgentNode(models *ChatModels, registry *tools.Registry, maxRounds int) *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, in *schema.Message) (*schema.Message, error) {
		var (
			label     model.Classification
			toolless  bool
			wrapUp    bool
			sessionID string
			round     int
		)
		if err := compose.ProcessState(ctx, func(_ context.Context, state *model.AppState) error {
			wrapUp = checkAndMarkRoundLimit(state, maxRounds)
			toolless = state.NeedsClarification || state.RoundLimitReached
			state.Rounds++
			round = state.Rounds
			label = state.Session.TaskClassification
			sessionID = state.Session.ID
			return nil
		}); err != nil {
			return nil, fmt.Errorf("failed to access state: %w", err)
		}

		if wrapUp {
			notice, err := prompts.RenderWrapUp(ctx, normalizeMaxRounds(maxRounds))
			if err != nil {
				return nil, fmt.Errorf("render wrap-up prompt: %w", err)
			}
			logx.Warn().
				Str("session_id", sessionID).
				Str("node", NodeTool).
				Int("max_rounds", normalizeMaxRounds(maxRounds)).
				Msg("Tool round limit reached - forcing final answer without tools")
			if err := compose.ProcessState(ctx, func(_ context.Context, state *model.AppState) error {
				state.Session.Append(schema.SystemMessage(notice))
				return nil
			}); err != nil {
				return nil, fmt.Errorf("failed to access state: %w", err)
			}
		}

		var history []*schema.Message
		if err := compose.ProcessState(ctx, func(_ context.Context, state *model.AppState) error {
			history = snapshot(state.Session)
			return nil
		}); err != nil {
			return nil, fmt.Errorf("failed to access state: %w", err)
		}

		var chat einomodel.BaseChatModel = models.Router
		msgs := history
		if !toolless {
			if bound, ok := models.ForClassification(label); ok {
				chat = bound
			}
			instruction, err := prompts.RenderReasoning(ctx, label, registry.Names(label), tools.ToolHybridIntersection)
			if err != nil {
				return nil, fmt.Errorf("render reasoning prompt: %w", err)
			}
			msgs = append(history, schema.SystemMessage(instruction))
		}

		logx.Debug().
			Str("session_id", sessionID).
			Str("node", NodeTool).
			Str("classification", label.String()).
			Int("round", round).
			Bool("tools_enabled", !toolless).
			Msg("AI thinking...")

		out, err := generate(ctx, chat, NodeTool, models.RouterModelName, msgs)
		if err != nil {
			return nil, fmt.Errorf("tool node: %w", err)
		}
		if out == nil {
			out = schema.AssistantMessage("", nil)
		}
		return out, nil
	})
}

// NewAgentPostHandler normalises tool call ids, records usage and stores the
// reply. Tool calls returned in a tool-less round are dropped.
func NewAgentPostHandler(modelName string) func(context.Context, *schema.Message, *model.AppState) (*schema.Message, error) {
	return func(ctx context.Context, out *schema.Message, state *model.AppState) (*schema.Message, error) {
		recordUsage(state, NodeTool, modelName, out)

		if (state.NeedsClarification || state.RoundLimitReached) && len(out.ToolCalls) > 0 {
			logx.Warn().
				Str("session_id", state.Session.ID).
				Int("tool_count", len(out.ToolCalls)).
				Msg("Dropping tool calls from a tool-less round")
			out.ToolCalls = nil
		}
		normalizeToolCallIDs(state, out)
		state.Session.Append(out)

		if len(out.ToolCalls) > 0 {
			logx.Debug().Str("session_id", state.Session.ID).Int("tool_count", len(out.ToolCalls)).Msg("Calling tools")
		} else {
			logx.Debug().Str("session_id", state.Session.ID).Msg("AI response ready")
		}
		return out, nil
	}
}

// NewToolExecutorCondition routes to the dispatcher while the model keeps
// requesting tools.
func NewToolExecutorCondition() func(context.Context, *schema.Message) (string, error) {
	return func(ctx context.Context, input *schema.Message) (string, error) {
		var stop bool
		if err := compose.ProcessState(ctx, func(_ context.Context, state *model.AppState) error {
			stop = state.RoundLimitReached || state.NeedsClarification
			return nil
		}); err != nil {
			return "", fmt.Errorf("failed to access state: %w", err)
		}
		if stop {
			logx.Debug().Msg("Tool-less round finished - routing to end")
			return compose.END, nil
		}
		if input != nil && len(input.ToolCalls) > 0 {
			logx.Debug().Int("tool_count", len(input.ToolCalls)).Msg("Routing to ToolExecutor")
			return NodeToolExecutor, nil
		}
		logx.Debug().Msg("No tool calls - continuing to end")
		return compose.END, nil
	}
}

// ===================================
// tool_executor
// ===================================

// NewToolExecutorNode dispatches the requested calls and stores one tool
// message per call. It returns the last tool message.
func NewToolExecutorNode(d *dispatch.Dispatcher) *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, in *schema.Message) (*schema.Message, error) {
		var sess *model.Session
		if err := compose.ProcessState(ctx, func(_ context.Context, state *model.AppState) error {
			sess = state.Session
			return nil
		}); err != nil {
			return nil, fmt.Errorf("failed to access state: %w", err)
		}

		results := d.Dispatch(ctx, sess, in)

		if err := compose.ProcessState(ctx, func(_ context.Context, state *model.AppState) error {
			state.Session.Append(results...)
			state.ToolCalls += len(results)
			logx.Debug().
				Str("session_id", state.Session.ID).
				Str("node", NodeToolExecutor).
				Int("tool_results", len(results)).
				Int("tool_calls_total", state.ToolCalls).
				Msg("Tool results stored")
			return nil
		}); err != nil {
			return nil, fmt.Errorf("failed to access state: %w", err)
		}

		if len(results) == 0 {
			return in, nil
		}
		return results[len(results)-1], nil
	})
}
