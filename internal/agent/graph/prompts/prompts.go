package prompts

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"

	"github.com/cinephile-gpt/server/internal/agent/model"
)

// ToolIntentSentinel is the exact reply the intent gate asks for when a
// lookup is needed.
const ToolIntentSentinel = `{"tool_intent": true}`

var (
	//go:embed template/system_prompt.txt
	systemPrompt string
	//go:embed template/intent_prompt.txt
	intentPrompt string
	//go:embed template/classify_prompt.txt
	classifyPrompt string
	//go:embed template/reasoning_prompt.txt
	reasoningPrompt string
	//go:embed template/clarify_prompt.txt
	clarifyPrompt string
	//go:embed template/wrapup_prompt.txt
	wrapUpPrompt string
)

// render formats a system template through an eino prompt component so that
// prompt callbacks fire.
func render(ctx context.Context, name, tpl string, vars map[string]any) (string, error) {
	ctx = callbacks.ReuseHandlers(ctx, &callbacks.RunInfo{
		Name:      name,
		Type:      "GoTemplate",
		Component: components.ComponentOfPrompt,
	})
	t := prompt.FromMessages(schema.GoTemplate, schema.SystemMessage(tpl))
	msgs, err := t.Format(ctx, vars)
	if err != nil {
		return "", fmt.Errorf("%s prompt render: %w", name, err)
	}
	if len(msgs) == 0 || msgs[0] == nil {
		return "", fmt.Errorf("%s prompt render: empty result", name)
	}
	return strings.TrimSpace(msgs[0].Content), nil
}

func columns() string {
	return strings.Join(model.MovieColumns, ", ")
}

// RenderSystem renders the conversation's opening system prompt.
func RenderSystem(ctx context.Context) (string, error) {
	return render(ctx, "system", systemPrompt, map[string]any{"Columns": columns()})
}

// RenderIntent renders the intent gate instruction.
func RenderIntent(ctx context.Context) (string, error) {
	return render(ctx, "intent", intentPrompt, map[string]any{"Sentinel": ToolIntentSentinel})
}

// RenderClassifier renders the model-based classifier instruction.
func RenderClassifier(ctx context.Context) (string, error) {
	return render(ctx, "classify", classifyPrompt, map[string]any{"Columns": columns()})
}

// RenderReasoning renders the per-round tool instruction.
func RenderReasoning(ctx context.Context, c model.Classification, toolNames []string, hybridTool string) (string, error) {
	return render(ctx, "reasoning", reasoningPrompt, map[string]any{
		"Classification": c.String(),
		"Tools":          strings.Join(toolNames, ", "),
		"HybridTool":     hybridTool,
	})
}

// RenderClarification renders the instruction injected on Unknown.
func RenderClarification(ctx context.Context, task string) (string, error) {
	return render(ctx, "clarify", clarifyPrompt, map[string]any{"Task": task})
}

// RenderWrapUp renders the notice injected when the round cap is hit.
func RenderWrapUp(ctx context.Context, maxRounds int) (string, error) {
	return render(ctx, "wrapup", wrapUpPrompt, map[string]any{"MaxRounds": maxRounds})
}
