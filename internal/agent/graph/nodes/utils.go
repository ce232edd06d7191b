package nodes

import (
	"fmt"
	"strings"

	"github.com/cloudwego/eino/schema"

	"github.com/cinephile-gpt/server/internal/agent/model"
	logx "github.com/cinephile-gpt/server/pkg/logger"
)

const DefaultMaxRounds = 10

// ===== Small helpers to keep handlers simple/readable =====
// normalizeMaxRounds returns a sane default when the provided value is invalid.
func normalizeMaxRounds(n int) int {
	if n <= 0 {
		return DefaultMaxRounds
	}
	return n
}

// checkAndMarkRoundLimit marks the state when the tool-enabled rounds are
// used up. Returns true only on the call that marks it.
func checkAndMarkRoundLimit(state *model.AppState, max int) bool {
	max = normalizeMaxRounds(max)
	if !state.RoundLimitReached && state.Rounds >= max {
		state.RoundLimitReached = true
		return true
	}
	return false
}

// normalizeToolCallIDs fills tool call ids some providers omit.
func normalizeToolCallIDs(state *model.AppState, out *schema.Message) {
	if out == nil {
		return
	}
	for i := range out.ToolCalls {
		if strings.TrimSpace(out.ToolCalls[i].ID) == "" {
			state.ToolCallIDSeq++
			out.ToolCalls[i].ID = fmt.Sprintf("call_%d", state.ToolCallIDSeq)
		}
	}
}

// recordUsage computes and logs the USD cost of one model reply and adds it
// to the turn total.
func recordUsage(state *model.AppState, node, modelName string, out *schema.Message) {
	if out == nil || out.ResponseMeta == nil || out.ResponseMeta.Usage == nil {
		return
	}
	usage := out.ResponseMeta.Usage
	inC, outC, totalC := model.ComputeCost(usage, model.ResolvePricing(modelName))
	if out.Extra == nil {
		out.Extra = map[string]any{}
	}
	out.Extra["usage_cost"] = map[string]any{
		"currency":          "USD",
		"model":             modelName,
		"prompt_tokens":     usage.PromptTokens,
		"completion_tokens": usage.CompletionTokens,
		"total_tokens":      usage.TotalTokens,
		"input_cost":        inC,
		"output_cost":       outC,
		"total_cost":        totalC,
	}

	sessionID := ""
	if state.Session != nil {
		sessionID = state.Session.ID
	}
	logx.Debug().
		Str("session_id", sessionID).
		Str("node", node).
		Str("model", modelName).
		Int("prompt_tokens", usage.PromptTokens).
		Int("completion_tokens", usage.CompletionTokens).
		Int("total_tokens", usage.TotalTokens).
		Float64("input_cost_usd", inC).
		Float64("output_cost_usd", outC).
		Float64("total_cost_usd", totalC).
		Msg("LLM usage")

	// Accumulate only total cost into state
	state.TotalCostUSD += totalC
	out.Extra["usage_cost_total_usd"] = state.TotalCostUSD
}

// hasToolIntent reads the intent gate reply.
func hasToolIntent(reply string, sentinel string) bool {
	r := strings.TrimSpace(reply)
	return strings.HasPrefix(r, "{") || r == sentinel
}
