package nodes

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"github.com/cinephile-gpt/server/internal/agent/graph/prompts"
	"github.com/cinephile-gpt/server/internal/agent/model"
)

type flakyModel struct {
	errs  []error
	calls int
	tools []*schema.ToolInfo
}

func (f *flakyModel) Generate(context.Context, []*schema.Message, ...einomodel.Option) (*schema.Message, error) {
	f.calls++
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return nil, err
	}
	return schema.AssistantMessage("ok", nil), nil
}

func (f *flakyModel) Stream(context.Context, []*schema.Message, ...einomodel.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("stream unsupported")
}

func (f *flakyModel) WithTools(ts []*schema.ToolInfo) (einomodel.ToolCallingChatModel, error) {
	return &flakyModel{errs: f.errs, tools: ts}, nil
}

func TestIsRateLimit(t *testing.T) {
	assert.True(t, IsRateLimit(genai.APIError{Code: 429, Message: "slow down"}))
	assert.True(t, IsRateLimit(fmt.Errorf("wrapped: %w", genai.APIError{Code: 429})))
	assert.True(t, IsRateLimit(genai.APIError{Code: 429, Message: "You exceeded your current quota"}))
	assert.True(t, IsRateLimit(errors.New("Error 429: RESOURCE_EXHAUSTED")))
	assert.True(t, IsRateLimit(errors.New("error, status code: 429, message: Rate limit reached")))
	assert.True(t, IsRateLimit(errors.New("Too Many Requests")))

	assert.False(t, IsRateLimit(errors.New("invalid api key")))
	assert.False(t, IsRateLimit(genai.APIError{Code: 400, Message: "bad request"}))
	assert.False(t, IsRateLimit(errors.New("400: input has 4291 tokens")))
	assert.False(t, IsRateLimit(errors.New("model limit is 14290 tokens")))
	assert.False(t, IsRateLimit(errors.New("error, status code: 429, type: insufficient_quota")))
	assert.False(t, IsRateLimit(errors.New("You exceeded your current quota, please check your plan")))
	assert.False(t, IsRateLimit(nil))
}

func TestRetryingChatModelRetriesRateLimits(t *testing.T) {
	inner := &flakyModel{errs: []error{errors.New("429 rate limit"), errors.New("resource_exhausted"), errors.New("too many requests")}}
	r := NewRetryingChatModel(inner, "gemini-2.5-flash", time.Second)
	var waits []time.Duration
	r.wait = func(_ context.Context, d time.Duration) error {
		waits = append(waits, d)
		return nil
	}

	out, err := r.Generate(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", out.Content)
	assert.Equal(t, 4, inner.calls)
	assert.Equal(t, []time.Duration{time.Second, time.Second, time.Second}, waits)
}

func TestRetryingChatModelPropagatesOtherErrors(t *testing.T) {
	inner := &flakyModel{errs: []error{errors.New("invalid argument: prompt has 4291 tokens")}}
	r := NewRetryingChatModel(inner, "m", time.Second)
	r.wait = func(context.Context, time.Duration) error {
		t.Fatal("must not wait")
		return nil
	}

	_, err := r.Generate(context.Background(), nil)
	assert.ErrorContains(t, err, "invalid argument")
	assert.Equal(t, 1, inner.calls)
}

func TestRetryingChatModelStopsOnCancel(t *testing.T) {
	inner := &flakyModel{errs: []error{errors.New("429"), errors.New("429")}}
	r := NewRetryingChatModel(inner, "m", time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := r.Generate(ctx, nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, inner.calls)
}

func TestRetryingChatModelWithToolsKeepsPolicy(t *testing.T) {
	r := NewRetryingChatModel(&flakyModel{}, "m", 0)
	assert.Equal(t, DefaultRateLimitDelay, r.delay)

	bound, err := r.WithTools([]*schema.ToolInfo{{Name: "sql_search"}})
	require.NoError(t, err)
	rb, ok := bound.(*RetryingChatModel)
	require.True(t, ok)
	assert.Len(t, rb.inner.(*flakyModel).tools, 1)
}

func TestRoundLimit(t *testing.T) {
	s := &model.AppState{}
	assert.False(t, checkAndMarkRoundLimit(s, 2))
	s.Rounds = 2
	assert.True(t, checkAndMarkRoundLimit(s, 2))
	assert.True(t, s.RoundLimitReached)
	assert.False(t, checkAndMarkRoundLimit(s, 2))

	assert.Equal(t, DefaultMaxRounds, normalizeMaxRounds(0))
	assert.Equal(t, 3, normalizeMaxRounds(3))
}

func TestNormalizeToolCallIDs(t *testing.T) {
	s := &model.AppState{}
	msg := schema.AssistantMessage("", []schema.ToolCall{{ID: ""}, {ID: "keep"}, {ID: " "}})
	normalizeToolCallIDs(s, msg)
	assert.Equal(t, "call_1", msg.ToolCalls[0].ID)
	assert.Equal(t, "keep", msg.ToolCalls[1].ID)
	assert.Equal(t, "call_2", msg.ToolCalls[2].ID)
}

func TestHasToolIntent(t *testing.T) {
	assert.True(t, hasToolIntent(prompts.ToolIntentSentinel, prompts.ToolIntentSentinel))
	assert.True(t, hasToolIntent("  {\"tool_intent\":true}\n", prompts.ToolIntentSentinel))
	assert.True(t, hasToolIntent("{anything", prompts.ToolIntentSentinel))
	assert.False(t, hasToolIntent("Hello! {\"tool_intent\": true}", prompts.ToolIntentSentinel))
	assert.False(t, hasToolIntent("", prompts.ToolIntentSentinel))
}

func TestRecordUsageAccumulates(t *testing.T) {
	s := &model.AppState{Session: model.NewSession("s")}
	msg := schema.AssistantMessage("hi", nil)
	msg.ResponseMeta = &schema.ResponseMeta{Usage: &schema.TokenUsage{PromptTokens: 1_000_000, CompletionTokens: 0}}

	recordUsage(s, NodeTool, "gemini-2.5-flash", msg)
	recordUsage(s, NodeTool, "gemini-2.5-flash", msg)
	assert.InDelta(t, 0.60, s.TotalCostUSD, 1e-9)
	assert.Contains(t, msg.Extra, "usage_cost")

	recordUsage(s, NodeTool, "gemini-2.5-flash", schema.AssistantMessage("no usage", nil))
	assert.InDelta(t, 0.60, s.TotalCostUSD, 1e-9)
}

func TestConditionsFailWithoutGraphState(t *testing.T) {
	_, err := NewInternCondition()(context.Background(), schema.AssistantMessage("hi", nil))
	assert.ErrorContains(t, err, "failed to access state")

	_, err = NewToolExecutorCondition()(context.Background(), schema.AssistantMessage("", nil))
	assert.ErrorContains(t, err, "failed to access state")
}
