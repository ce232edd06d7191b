package dispatch

import (
	"context"
	"errors"
	"testing"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cinephile-gpt/server/internal/agent/graph/tools"
	"github.com/cinephile-gpt/server/internal/agent/model"
)

type fakeTool struct {
	name  string
	resp  string
	err   error
	calls []string
}

func (f *fakeTool) Info(context.Context) (*schema.ToolInfo, error) {
	return &schema.ToolInfo{Name: f.name, Desc: f.name}, nil
}

func (f *fakeTool) InvokableRun(_ context.Context, args string, _ ...tool.Option) (string, error) {
	f.calls = append(f.calls, args)
	return f.resp, f.err
}

type fixture struct {
	sql    *fakeTool
	vector *fakeTool
	broken *fakeTool
	hybrid *fakeTool
	d      *Dispatcher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		sql:    &fakeTool{name: tools.ToolSQLAggregate, resp: `[{"movie_id":1},{"movie_id":2}]`},
		vector: &fakeTool{name: tools.ToolVectorSearch, resp: `[{"id":2,"score":0.9}]`},
		broken: &fakeTool{name: tools.ToolSQLSearch, err: errors.New("connection refused")},
		hybrid: &fakeTool{name: tools.ToolHybridIntersection, resp: `[]`},
	}
	r, err := tools.NewRegistry(context.Background(),
		[]tool.InvokableTool{f.sql, f.broken},
		[]tool.InvokableTool{f.vector},
		[]tool.InvokableTool{f.hybrid},
	)
	require.NoError(t, err)
	f.d = New(r)
	return f
}

func call(id, name, args string) schema.ToolCall {
	return schema.ToolCall{ID: id, Function: schema.FunctionCall{Name: name, Arguments: args}}
}

func sessionWith(c model.Classification) *model.Session {
	s := model.NewSession("s1")
	s.TaskClassification = c
	return s
}

func TestDispatchRoutesResultsByPrefix(t *testing.T) {
	f := newFixture(t)
	s := sessionWith(model.Hybrid)

	msgs := f.d.Dispatch(context.Background(), s, schema.AssistantMessage("", []schema.ToolCall{
		call("a", tools.ToolSQLAggregate, `{"column":"IMDB_Rating","group_by":"Director","limit":5}`),
		call("b", tools.ToolVectorSearch, `{"text_to_embed":"heist"}`),
	}))

	require.Len(t, msgs, 2)
	assert.Equal(t, schema.Tool, msgs[0].Role)
	assert.Equal(t, "a", msgs[0].ToolCallID)
	assert.Equal(t, tools.ToolSQLAggregate, msgs[0].ToolName)
	assert.Equal(t, "b", msgs[1].ToolCallID)
	assert.Equal(t, []string{f.sql.resp}, s.LastSQLResults)
	assert.Equal(t, []string{f.vector.resp}, s.LastVectorResults)
}

func TestDispatchUnknownToolDoesNotStopOthers(t *testing.T) {
	f := newFixture(t)
	s := sessionWith(model.Numeric)

	msgs := f.d.Dispatch(context.Background(), s, schema.AssistantMessage("", []schema.ToolCall{
		call("a", "mysql_drop_everything", `{}`),
		call("b", tools.ToolVectorSearch, `{"text_to_embed":"heist"}`),
		call("c", tools.ToolSQLAggregate, `{}`),
	}))

	require.Len(t, msgs, 3)
	assert.JSONEq(t, `{"warning":"unknown_tool","name":"mysql_drop_everything"}`, msgs[0].Content)
	assert.JSONEq(t, `{"warning":"unknown_tool","name":"qdrant_vector_search"}`, msgs[1].Content)
	assert.Empty(t, f.vector.calls)
	assert.Len(t, f.sql.calls, 1)
	assert.Len(t, s.LastSQLResults, 1)
	assert.Empty(t, s.LastVectorResults)
}

func TestDispatchToolErrorIsInBand(t *testing.T) {
	f := newFixture(t)
	s := sessionWith(model.Numeric)

	msgs := f.d.Dispatch(context.Background(), s, schema.AssistantMessage("", []schema.ToolCall{
		call("a", tools.ToolSQLSearch, `{"blank":"x","column":"Genre","limit":1}`),
	}))

	require.Len(t, msgs, 1)
	assert.JSONEq(t, `{"error":"sql_search failed: connection refused"}`, msgs[0].Content)
	assert.Empty(t, s.LastSQLResults)
}

func TestDispatchHybridWithoutInputs(t *testing.T) {
	f := newFixture(t)
	s := sessionWith(model.Hybrid)
	s.LastSQLResults = []string{`[{"movie_id":1}]`}

	msgs := f.d.Dispatch(context.Background(), s, schema.AssistantMessage("", []schema.ToolCall{
		call("h", tools.ToolHybridIntersection, `{}`),
	}))

	require.Len(t, msgs, 1)
	assert.JSONEq(t, `{"error":"`+HybridMissingInputsMessage+`"}`, msgs[0].Content)
	assert.Empty(t, f.hybrid.calls)
}

func TestDispatchHybridSubstitutesLatestResults(t *testing.T) {
	f := newFixture(t)
	s := sessionWith(model.Hybrid)
	s.LastSQLResults = []string{`[{"movie_id":9}]`, `[{"movie_id":1}]`}
	s.LastVectorResults = []string{`[{"id":1}]`}

	f.d.Dispatch(context.Background(), s, schema.AssistantMessage("", []schema.ToolCall{
		call("h", tools.ToolHybridIntersection, `{"sql_json":"made up","qdrant_json":"made up"}`),
	}))

	require.Len(t, f.hybrid.calls, 1)
	assert.JSONEq(t, `{"sql_json":"[{\"movie_id\":1}]","qdrant_json":"[{\"id\":1}]"}`, f.hybrid.calls[0])
}

func TestDispatchSynthesizesMissingIDs(t *testing.T) {
	f := newFixture(t)
	s := sessionWith(model.Numeric)

	msgs := f.d.Dispatch(context.Background(), s, schema.AssistantMessage("", []schema.ToolCall{
		call("", tools.ToolSQLAggregate, `{}`),
		call("", tools.ToolSQLAggregate, `{}`),
	}))
	require.Len(t, msgs, 2)
	assert.Equal(t, "call_1", msgs[0].ToolCallID)
	assert.Equal(t, "call_2", msgs[1].ToolCallID)
}

func TestIsErrorResult(t *testing.T) {
	assert.True(t, isErrorResult(`{"error":"x"}`))
	assert.False(t, isErrorResult(`[{"error":"x"}]`))
	assert.False(t, isErrorResult(`{"error":"x","id":1}`))
	assert.False(t, isErrorResult(`No movie found`))
}
