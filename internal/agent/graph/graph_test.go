package graph

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cinephile-gpt/server/internal/agent/graph/classifier"
	"github.com/cinephile-gpt/server/internal/agent/graph/conversations"
	"github.com/cinephile-gpt/server/internal/agent/graph/nodes"
	"github.com/cinephile-gpt/server/internal/agent/graph/prompts"
	"github.com/cinephile-gpt/server/internal/agent/graph/tools"
	"github.com/cinephile-gpt/server/internal/agent/model"
	"github.com/cinephile-gpt/server/internal/agent/repo"
)

// script is a queue of replies shared by a model and its tool-bound clones.
type script struct {
	mu      sync.Mutex
	replies []*schema.Message
	calls   []recordedCall
}

type recordedCall struct {
	tools []string
	msgs  []*schema.Message
}

type scriptedModel struct {
	s     *script
	tools []*schema.ToolInfo
}

func newScriptedModel(replies ...*schema.Message) *scriptedModel {
	return &scriptedModel{s: &script{replies: replies}}
}

func (m *scriptedModel) Generate(_ context.Context, input []*schema.Message, _ ...einomodel.Option) (*schema.Message, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()

	names := make([]string, 0, len(m.tools))
	for _, t := range m.tools {
		names = append(names, t.Name)
	}
	m.s.calls = append(m.s.calls, recordedCall{tools: names, msgs: input})

	if len(m.s.replies) == 0 {
		return nil, errors.New("script exhausted")
	}
	out := m.s.replies[0]
	m.s.replies = m.s.replies[1:]
	return out, nil
}

func (m *scriptedModel) Stream(context.Context, []*schema.Message, ...einomodel.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("not supported")
}

func (m *scriptedModel) WithTools(ts []*schema.ToolInfo) (einomodel.ToolCallingChatModel, error) {
	return &scriptedModel{s: m.s, tools: ts}, nil
}

func (m *scriptedModel) recorded() []recordedCall {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	return append([]recordedCall(nil), m.s.calls...)
}

type stubTool struct {
	name  string
	resp  string
	calls int
}

func (t *stubTool) Info(context.Context) (*schema.ToolInfo, error) {
	return &schema.ToolInfo{Name: t.name, Desc: t.name}, nil
}

func (t *stubTool) InvokableRun(context.Context, string, ...tool.Option) (string, error) {
	t.calls++
	return t.resp, nil
}

type harness struct {
	runner     Runner
	router     *scriptedModel
	classifier *scriptedModel
	sessions   *repo.MemorySessionRepository
	aggregate  *stubTool
	vector     *stubTool
}

func newHarness(t *testing.T, maxRounds int, router, cls *scriptedModel) *harness {
	t.Helper()
	h := &harness{
		router:     router,
		classifier: cls,
		sessions:   repo.NewMemorySessionRepository(),
		aggregate:  &stubTool{name: tools.ToolSQLAggregate, resp: `[{"Director":"Frank Darabont","result":9.3}]`},
		vector:     &stubTool{name: tools.ToolVectorSearch, resp: `[{"id":1,"score":0.9}]`},
	}
	registry, err := tools.NewRegistry(context.Background(),
		[]tool.InvokableTool{h.aggregate},
		[]tool.InvokableTool{h.vector},
		[]tool.InvokableTool{tools.NewHybridTool()},
	)
	require.NoError(t, err)

	cms := nodes.WrapChatModels(router, cls, "gemini-2.5-flash", "gemini-2.5-flash-lite", 0)
	h.runner, err = NewRunner(context.Background(), &GraphConfig{
		ChatModels: cms,
		Classifier: classifier.New(cms.Classifier),
		Registry:   registry,
		MaxRounds:  maxRounds,
	}, conversations.NewSessionManager(h.sessions))
	require.NoError(t, err)
	return h
}

func (h *harness) session(t *testing.T, id string) *model.Session {
	t.Helper()
	s, err := h.sessions.Load(context.Background(), id)
	require.NoError(t, err)
	return s
}

func countRole(msgs []*schema.Message, role schema.RoleType) int {
	n := 0
	for _, m := range msgs {
		if m.Role == role {
			n++
		}
	}
	return n
}

func toolCall(id, name, args string) []schema.ToolCall {
	return []schema.ToolCall{{ID: id, Function: schema.FunctionCall{Name: name, Arguments: args}}}
}

func TestChatGreetingEndsAfterIntentGate(t *testing.T) {
	h := newHarness(t, 10, newScriptedModel(schema.AssistantMessage("Hello! Ask me about movies.", nil)), newScriptedModel())

	reply, err := h.runner.Chat(context.Background(), model.TurnInput{SessionID: "s1", Query: "hello"})
	require.NoError(t, err)

	assert.Equal(t, "Hello! Ask me about movies.", reply.Content)
	assert.False(t, reply.ToolIntent)
	assert.Zero(t, reply.Rounds)
	assert.Zero(t, reply.ToolCalls)

	s := h.session(t, "s1")
	require.Len(t, s.Messages, 3)
	assert.Equal(t, schema.System, s.Messages[0].Role)
	assert.Equal(t, schema.User, s.Messages[1].Role)
	assert.Equal(t, 1, countRole(s.Messages, schema.Assistant))
	assert.Len(t, h.router.recorded(), 1)
	assert.Empty(t, h.classifier.recorded())
}

func TestChatNumericToolLoop(t *testing.T) {
	router := newScriptedModel(
		schema.AssistantMessage(prompts.ToolIntentSentinel, nil),
		schema.AssistantMessage("", toolCall("c1", tools.ToolSQLAggregate, `{"column":"IMDB_Rating","group_by":"Director","limit":5}`)),
		schema.AssistantMessage("Frank Darabont has the highest average rating (9.3).", nil),
	)
	h := newHarness(t, 10, router, newScriptedModel())

	reply, err := h.runner.Chat(context.Background(), model.TurnInput{SessionID: "s2", Query: "what is the average rating by director"})
	require.NoError(t, err)

	assert.Equal(t, model.Numeric, reply.Classification)
	assert.True(t, reply.ToolIntent)
	assert.Equal(t, 2, reply.Rounds)
	assert.Equal(t, 1, reply.ToolCalls)
	assert.False(t, reply.RoundLimitReached)
	assert.Contains(t, reply.Content, "Frank Darabont")
	assert.Equal(t, 1, h.aggregate.calls)

	calls := router.recorded()
	require.Len(t, calls, 3)
	assert.Empty(t, calls[0].tools)
	assert.Equal(t, []string{tools.ToolSQLAggregate}, calls[1].tools)

	s := h.session(t, "s2")
	assert.Equal(t, []string{h.aggregate.resp}, s.LastSQLResults)
	assert.Equal(t, 1, countRole(s.Messages, schema.Tool))
	assert.Equal(t, "c1", s.Messages[len(s.Messages)-2].ToolCallID)
}

func TestChatUnknownFallsBackToHybridWithClarification(t *testing.T) {
	router := newScriptedModel(
		schema.AssistantMessage(prompts.ToolIntentSentinel, nil),
		schema.AssistantMessage("Do you want movies ranked by data or movies similar to something?", nil),
	)
	cls := newScriptedModel(schema.AssistantMessage("banana", nil))
	h := newHarness(t, 10, router, cls)

	reply, err := h.runner.Chat(context.Background(), model.TurnInput{SessionID: "s3", Query: "Inception"})
	require.NoError(t, err)

	assert.Equal(t, model.Hybrid, reply.Classification)
	assert.Equal(t, 1, reply.Rounds)
	assert.Zero(t, reply.ToolCalls)

	calls := router.recorded()
	require.Len(t, calls, 2)
	assert.Empty(t, calls[1].tools)

	s := h.session(t, "s3")
	assert.Equal(t, model.Hybrid, s.TaskClassification)
	var clarified bool
	for _, m := range s.Messages[1:] {
		if m.Role == schema.System && strings.Contains(m.Content, `"Inception"`) {
			clarified = true
		}
	}
	assert.True(t, clarified)
	assert.Len(t, cls.recorded(), 1)
}

func TestChatRoundLimitForcesFinalAnswer(t *testing.T) {
	router := newScriptedModel(
		schema.AssistantMessage(prompts.ToolIntentSentinel, nil),
		schema.AssistantMessage("", toolCall("", tools.ToolSQLAggregate, `{}`)),
		schema.AssistantMessage("Here is what I found so far.", toolCall("", tools.ToolSQLAggregate, `{}`)),
	)
	h := newHarness(t, 1, router, newScriptedModel())

	reply, err := h.runner.Chat(context.Background(), model.TurnInput{SessionID: "s4", Query: "top 5 movies by gross"})
	require.NoError(t, err)

	assert.True(t, reply.RoundLimitReached)
	assert.Equal(t, 2, reply.Rounds)
	assert.Equal(t, 1, reply.ToolCalls)
	assert.Equal(t, "Here is what I found so far.", reply.Content)

	calls := router.recorded()
	require.Len(t, calls, 3)
	assert.Empty(t, calls[2].tools)

	s := h.session(t, "s4")
	last := s.Messages[len(s.Messages)-1]
	assert.Empty(t, last.ToolCalls)
	assert.Equal(t, "call_1", s.Messages[len(s.Messages)-3].ToolCallID)
}

func TestChatUnknownToolDoesNotAbortTurn(t *testing.T) {
	router := newScriptedModel(
		schema.AssistantMessage(prompts.ToolIntentSentinel, nil),
		schema.AssistantMessage("", toolCall("c1", "mysql_query_tool", `{"query":"SELECT 1"}`)),
		schema.AssistantMessage("I could not run that lookup.", nil),
	)
	h := newHarness(t, 10, router, newScriptedModel())

	reply, err := h.runner.Chat(context.Background(), model.TurnInput{SessionID: "s5", Query: "top rated movies"})
	require.NoError(t, err)
	assert.Equal(t, "I could not run that lookup.", reply.Content)
	assert.Equal(t, 1, reply.ToolCalls)

	s := h.session(t, "s5")
	assert.Contains(t, s.Messages[len(s.Messages)-2].Content, "unknown_tool")
	assert.Empty(t, s.LastSQLResults)
}

func TestChatKeepsHistoryAcrossTurns(t *testing.T) {
	router := newScriptedModel(
		schema.AssistantMessage("Hi!", nil),
		schema.AssistantMessage("You're welcome.", nil),
	)
	h := newHarness(t, 10, router, newScriptedModel())

	_, err := h.runner.Chat(context.Background(), model.TurnInput{SessionID: "s6", Query: "hello"})
	require.NoError(t, err)
	_, err = h.runner.Chat(context.Background(), model.TurnInput{SessionID: "s6", Query: "thanks"})
	require.NoError(t, err)

	s := h.session(t, "s6")
	assert.Len(t, s.Messages, 5)
	assert.Equal(t, 1, countRole(s.Messages, schema.System))

	calls := router.recorded()
	require.Len(t, calls, 2)
	// history + intent instruction
	assert.Len(t, calls[1].msgs, 5)

	require.NoError(t, h.runner.Reset(context.Background(), "s6"))
	_, err = h.sessions.Load(context.Background(), "s6")
	assert.Error(t, err)
}

func TestChatModelErrorIsReturned(t *testing.T) {
	h := newHarness(t, 10, newScriptedModel(), newScriptedModel())

	_, err := h.runner.Chat(context.Background(), model.TurnInput{SessionID: "s7", Query: "hello"})
	assert.ErrorContains(t, err, "script exhausted")

	_, err = h.runner.Chat(context.Background(), model.TurnInput{Query: "hello"})
	assert.Error(t, err)
}
