package prompts

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cinephile-gpt/server/internal/agent/model"
)

func TestRenderIntentContainsSentinel(t *testing.T) {
	out, err := RenderIntent(context.Background())
	require.NoError(t, err)
	assert.Contains(t, out, ToolIntentSentinel)
}

func TestRenderClassifierListsColumns(t *testing.T) {
	out, err := RenderClassifier(context.Background())
	require.NoError(t, err)
	for _, c := range model.MovieColumns {
		assert.Contains(t, out, c)
	}
	assert.Contains(t, out, "Numeric, Semantic or Hybrid")
}

func TestRenderReasoning(t *testing.T) {
	out, err := RenderReasoning(context.Background(), model.Numeric, []string{"sql_search", "sql_aggregate"}, "hybrid_intersection_top_movies")
	require.NoError(t, err)
	assert.Contains(t, out, "classified as Numeric")
	assert.Contains(t, out, "sql_search, sql_aggregate")
	assert.Contains(t, out, "hybrid_intersection_top_movies")
}

func TestRenderClarificationAndWrapUp(t *testing.T) {
	out, err := RenderClarification(context.Background(), "films please")
	require.NoError(t, err)
	assert.Contains(t, out, `"films please"`)

	out, err = RenderWrapUp(context.Background(), 4)
	require.NoError(t, err)
	assert.Contains(t, out, "(4)")
}

func TestRenderSystem(t *testing.T) {
	out, err := RenderSystem(context.Background())
	require.NoError(t, err)
	assert.Contains(t, out, "CinephileGPT")
	assert.Contains(t, out, "IMDB_Rating")
}
