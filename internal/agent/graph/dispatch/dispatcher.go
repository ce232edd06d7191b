package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components"
	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"

	"github.com/cinephile-gpt/server/internal/agent/graph/tools"
	"github.com/cinephile-gpt/server/internal/agent/model"
	errx "github.com/cinephile-gpt/server/internal/core/error"
	logx "github.com/cinephile-gpt/server/pkg/logger"
)

// RunInfoType tags tool callbacks fired by the dispatcher.
const RunInfoType = "MovieTool"

// HybridMissingInputsMessage is returned in-band when the intersection tool is
// requested before both a SQL and a vector result exist.
const HybridMissingInputsMessage = "cannot run hybrid_intersection_top_movies without prior SQL and vector results"

// Dispatcher executes the tool calls of one assistant message against the
// tool set allowed for the session's classification.
type Dispatcher struct {
	registry *tools.Registry
}

func New(registry *tools.Registry) *Dispatcher {
	return &Dispatcher{registry: registry}
}

// Dispatch runs every call of msg in order and returns one tool message per
// call. Tool failures are reported in-band; Dispatch itself never fails.
// Successful sql_ and qdrant_ results are appended to the session logs.
func (d *Dispatcher) Dispatch(ctx context.Context, session *model.Session, msg *schema.Message) []*schema.Message {
	if msg == nil || len(msg.ToolCalls) == 0 {
		return nil
	}
	label := session.TaskClassification

	out := make([]*schema.Message, 0, len(msg.ToolCalls))
	for i, call := range msg.ToolCalls {
		id := strings.TrimSpace(call.ID)
		if id == "" {
			id = fmt.Sprintf("call_%d", i+1)
		}
		name := strings.TrimSpace(call.Function.Name)

		content, ok := d.run(ctx, session, label, name, call.Function.Arguments)
		if ok {
			switch tools.KindOf(name) {
			case tools.ResultSQL:
				session.LastSQLResults = append(session.LastSQLResults, content)
			case tools.ResultVector:
				session.LastVectorResults = append(session.LastVectorResults, content)
			}
		}

		out = append(out, schema.ToolMessage(content, id, schema.WithToolName(name)))
	}
	return out
}

// run resolves and invokes a single call. ok is false when content is an
// error or warning result.
func (d *Dispatcher) run(ctx context.Context, session *model.Session, label model.Classification, name, args string) (content string, ok bool) {
	t, found := d.registry.Lookup(label, name)
	if !found {
		logx.Warn().
			Err(errx.ErrToolNotAllowed).
			Str("session_id", session.ID).
			Str("tool_name", name).
			Str("classification", label.String()).
			Msg("Model requested a tool outside the allowed set; skipping")
		return unknownToolResult(name), false
	}

	if name == tools.ToolHybridIntersection {
		sqlJSON, hasSQL := session.LatestSQLResult()
		vecJSON, hasVec := session.LatestVectorResult()
		if !hasSQL || !hasVec {
			logx.Warn().
				Err(errx.ErrHybridMissingInputs).
				Str("session_id", session.ID).
				Bool("has_sql", hasSQL).
				Bool("has_vector", hasVec).
				Msg("Hybrid intersection requested without inputs")
			return tools.ErrorResult(HybridMissingInputsMessage), false
		}
		args = tools.HybridArgs{SQLJSON: sqlJSON, QdrantJSON: vecJSON}.Arguments()
	}

	logx.Debug().
		Str("session_id", session.ID).
		Str("tool_name", name).
		Str("classification", label.String()).
		Str("arguments", args).
		Msg("Invoking tool")
	res, err := invoke(ctx, t, name, args)
	if err != nil {
		logx.Error().
			Err(err).
			Str("session_id", session.ID).
			Str("tool_name", name).
			Msg("Tool invocation failed")
		return tools.ErrorResult(fmt.Sprintf("%s failed: %v", name, err)), false
	}
	if isErrorResult(res) {
		return res, false
	}
	return res, true
}

// invoke runs the tool with tool callbacks around it.
func invoke(ctx context.Context, t tool.InvokableTool, name, args string) (res string, err error) {
	ctx = callbacks.ReuseHandlers(ctx, &callbacks.RunInfo{
		Name:      name,
		Type:      RunInfoType,
		Component: components.ComponentOfTool,
	})
	ctx = callbacks.OnStart(ctx, &tool.CallbackInput{ArgumentsInJSON: args})

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
		if err != nil {
			callbacks.OnError(ctx, err)
			return
		}
		callbacks.OnEnd(ctx, &tool.CallbackOutput{Response: res})
	}()

	return t.InvokableRun(ctx, args)
}

func unknownToolResult(name string) string {
	b, _ := json.Marshal(map[string]string{"warning": "unknown_tool", "name": name})
	return string(b)
}

// isErrorResult detects tools that report failure in-band as {"error": ...}.
func isErrorResult(s string) bool {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "{") {
		return false
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return false
	}
	_, has := m["error"]
	return has && len(m) == 1
}
