package embedder

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

type fakeModels struct {
	gotModel string
	gotDims  *int32
	resp     *genai.EmbedContentResponse
	err      error
}

func (f *fakeModels) EmbedContent(_ context.Context, model string, contents []*genai.Content, cfg *genai.EmbedContentConfig) (*genai.EmbedContentResponse, error) {
	f.gotModel = model
	if cfg != nil {
		f.gotDims = cfg.OutputDimensionality
	}
	return f.resp, f.err
}

func TestGeminiEmbedStrings(t *testing.T) {
	fm := &fakeModels{resp: &genai.EmbedContentResponse{
		Embeddings: []*genai.ContentEmbedding{
			{Values: []float32{0.5, 0.25}},
			{Values: []float32{1, 0}},
		},
	}}
	g := NewGemini(fm, "text-embedding-004", 2)

	vecs, err := g.EmbedStrings(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, [][]float64{{0.5, 0.25}, {1, 0}}, vecs)
	assert.Equal(t, "text-embedding-004", fm.gotModel)
	require.NotNil(t, fm.gotDims)
	assert.Equal(t, int32(2), *fm.gotDims)
}

func TestGeminiEmbedStringsMismatch(t *testing.T) {
	fm := &fakeModels{resp: &genai.EmbedContentResponse{}}
	_, err := NewGemini(fm, "m", 0).EmbedStrings(context.Background(), []string{"a"})
	assert.Error(t, err)
}

func TestGeminiEmbedStringsError(t *testing.T) {
	fm := &fakeModels{err: errors.New("quota")}
	_, err := NewGemini(fm, "m", 0).EmbedStrings(context.Background(), []string{"a"})
	assert.EqualError(t, err, "quota")
}

func TestToFloat32(t *testing.T) {
	assert.Equal(t, []float32{1.5, -2}, ToFloat32([]float64{1.5, -2}))
}
