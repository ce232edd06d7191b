package tools

import (
	"context"
	"testing"

	"github.com/cloudwego/eino/components/tool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cinephile-gpt/server/internal/agent/model"
)

func TestRegistrySets(t *testing.T) {
	sqlTools := newMovieSQL(t, false)
	vec := NewMovieVectors(&fakePoints{}, &fakeEmbedder{}, "top_movies")

	r, err := NewRegistry(context.Background(),
		sqlTools.NumericTools(),
		append(vec.SemanticTools(), sqlTools.PosterTool()),
		[]tool.InvokableTool{NewHybridTool()},
	)
	require.NoError(t, err)

	_, ok := r.Lookup(model.Numeric, ToolSQLSearch)
	assert.True(t, ok)
	_, ok = r.Lookup(model.Numeric, ToolVectorSearch)
	assert.False(t, ok)
	_, ok = r.Lookup(model.Semantic, ToolSQLPoster)
	assert.True(t, ok)
	_, ok = r.Lookup(model.Hybrid, ToolHybridIntersection)
	assert.True(t, ok)
	_, ok = r.Lookup(model.Unknown, ToolSQLSearch)
	assert.False(t, ok)

	hybrid := r.Names(model.Hybrid)
	assert.Len(t, hybrid, len(r.Names(model.Numeric))+len(r.Names(model.Semantic))+1)
	assert.Len(t, r.Infos(model.Semantic), 5)
	assert.Equal(t, []model.Classification{model.Numeric, model.Semantic, model.Hybrid}, r.Labels())
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	_, err := NewRegistry(context.Background(),
		[]tool.InvokableTool{NewHybridTool()}, nil, []tool.InvokableTool{NewHybridTool()})
	assert.Error(t, err)
}
