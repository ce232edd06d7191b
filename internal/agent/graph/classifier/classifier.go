package classifier

import (
	"context"
	"fmt"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/cinephile-gpt/server/internal/agent/graph/prompts"
	"github.com/cinephile-gpt/server/internal/agent/model"
	logx "github.com/cinephile-gpt/server/pkg/logger"
)

const (
	SourceKeywords = "keywords"
	SourceModel    = "model"
)

// Result is the outcome of one classification.
type Result struct {
	Label        model.Classification
	Source       string
	NumericHits  []string
	SemanticHits []string
	ModelReply   string
}

// Classifier maps a task to Numeric, Semantic, Hybrid or Unknown. Keyword
// lists decide first; the model is only asked when neither list matches.
type Classifier struct {
	chat einomodel.BaseChatModel
}

func New(chat einomodel.BaseChatModel) *Classifier {
	return &Classifier{chat: chat}
}

// Classify never returns a label outside the four classifications. A model
// failure yields Unknown together with the error.
func (c *Classifier) Classify(ctx context.Context, task string) (Result, error) {
	res := Result{
		Source:       SourceKeywords,
		NumericHits:  numericSet.Matches(task),
		SemanticHits: semanticSet.Matches(task),
	}
	isNumeric, isSemantic := len(res.NumericHits) > 0, len(res.SemanticHits) > 0

	switch {
	case isNumeric && !isSemantic:
		res.Label = model.Numeric
	case isSemantic && !isNumeric:
		res.Label = model.Semantic
	case isNumeric && isSemantic:
		res.Label = model.Hybrid
	default:
		res.Source = SourceModel
		label, reply, err := c.classifyWithModel(ctx, task)
		res.Label, res.ModelReply = label, reply
		if err != nil {
			return res, err
		}
	}

	logx.Debug().
		Str("classification", res.Label.String()).
		Str("source", res.Source).
		Strs("numeric_hits", res.NumericHits).
		Strs("semantic_hits", res.SemanticHits).
		Msg("Task classified")
	return res, nil
}

func (c *Classifier) classifyWithModel(ctx context.Context, task string) (model.Classification, string, error) {
	if c.chat == nil {
		return model.Unknown, "", fmt.Errorf("classifier model is nil")
	}
	instruction, err := prompts.RenderClassifier(ctx)
	if err != nil {
		return model.Unknown, "", err
	}
	out, err := c.chat.Generate(ctx, []*schema.Message{
		schema.SystemMessage(instruction),
		schema.UserMessage(task),
	})
	if err != nil {
		return model.Unknown, "", fmt.Errorf("model classification failed: %w", err)
	}
	if out == nil {
		return model.Unknown, "", nil
	}
	label, ok := model.ParseClassification(out.Content)
	if !ok {
		logx.Debug().Str("reply", out.Content).Msg("Classifier reply is not a known label")
		return model.Unknown, out.Content, nil
	}
	return label, out.Content, nil
}
