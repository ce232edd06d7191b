package model

// AppState stores per-turn state for the eino graph.
// Concurrency model:
//   - Registered as graph local state via compose.WithGenLocalState.
//   - Read and written only inside state handlers or compose.ProcessState.
//   - Session points at the conversation loaded by the runner; the runner
//     holds the per-session lock for the whole invocation.
type AppState struct {
	Session            *Session
	Rounds             int  // model rounds in the dispatch loop this turn
	ToolCalls          int  // tool results emitted this turn
	RoundLimitReached  bool // set when the round cap forced a tool-less answer
	NeedsClarification bool // set by the classifier on Unknown
	ToolCallIDSeq      int  // local sequence to synthesize tool_call_id when a provider omits it

	// Accumulated total LLM cost (USD) across model invocations for this turn
	TotalCostUSD float64
}

// TurnInput is the conversational entry point input.
type TurnInput struct {
	SessionID string `json:"session_id"`
	Query     string `json:"query"`
}

// Reply is returned to the caller after a turn.
type Reply struct {
	SessionID         string         `json:"session_id"`
	Content           string         `json:"content"`
	Classification    Classification `json:"classification"`
	ToolIntent        bool           `json:"tool_intent"`
	Rounds            int            `json:"rounds"`
	ToolCalls         int            `json:"tool_calls"`
	RoundLimitReached bool           `json:"round_limit_reached"`
	CostUSD           float64        `json:"cost_usd"`
}
