package tools

import (
	"context"
	"errors"
	"testing"

	"github.com/cloudwego/eino/components/embedding"
	"github.com/qdrant/go-client/qdrant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errx "github.com/cinephile-gpt/server/internal/core/error"
)

type fakeEmbedder struct {
	texts []string
}

func (f *fakeEmbedder) EmbedStrings(_ context.Context, texts []string, _ ...embedding.Option) ([][]float64, error) {
	f.texts = append(f.texts, texts...)
	out := make([][]float64, len(texts))
	for i := range texts {
		out[i] = []float64{0.1, 0.2, 0.3}
	}
	return out, nil
}

type fakePoints struct {
	queries []*qdrant.QueryPoints
	scrolls []*qdrant.ScrollPoints
	scored  []*qdrant.ScoredPoint
	found   []*qdrant.RetrievedPoint
	err     error
}

func (f *fakePoints) Query(_ context.Context, r *qdrant.QueryPoints) ([]*qdrant.ScoredPoint, error) {
	f.queries = append(f.queries, r)
	return f.scored, f.err
}

func (f *fakePoints) Scroll(_ context.Context, r *qdrant.ScrollPoints) ([]*qdrant.RetrievedPoint, error) {
	f.scrolls = append(f.scrolls, r)
	return f.found, f.err
}

func (f *fakePoints) Upsert(context.Context, *qdrant.UpsertPoints) (*qdrant.UpdateResult, error) {
	return &qdrant.UpdateResult{}, nil
}

func (f *fakePoints) Count(context.Context, *qdrant.CountPoints) (uint64, error) { return 0, nil }

func (f *fakePoints) CollectionExists(context.Context, string) (bool, error) { return true, nil }

func (f *fakePoints) CreateCollection(context.Context, *qdrant.CreateCollection) error { return nil }

func scored(id uint64, score float32, title string) *qdrant.ScoredPoint {
	return &qdrant.ScoredPoint{
		Id:      qdrant.NewIDNum(id),
		Score:   score,
		Payload: qdrant.NewValueMap(map[string]any{"Series_Title": title}),
	}
}

func TestVectorSearch(t *testing.T) {
	pts := &fakePoints{scored: []*qdrant.ScoredPoint{scored(4, 0.91, "Inception"), scored(3, 0.8, "The Dark Knight")}}
	emb := &fakeEmbedder{}
	v := NewMovieVectors(pts, emb, "top_movies")

	hits, err := v.Search(context.Background(), &VectorSearchInput{TextToEmbed: "dream heist"})
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, uint64(4), hits[0].ID)
	assert.Equal(t, "Inception", hits[0].Payload["Series_Title"])
	assert.Equal(t, []string{"dream heist"}, emb.texts)

	require.Len(t, pts.queries, 1)
	assert.Equal(t, "top_movies", pts.queries[0].CollectionName)
	assert.Equal(t, uint64(defaultVectorLimit), pts.queries[0].GetLimit())
	assert.Nil(t, pts.queries[0].Filter)
}

func TestVectorSearchWithFilter(t *testing.T) {
	pts := &fakePoints{}
	v := NewMovieVectors(pts, &fakeEmbedder{}, "top_movies")

	_, err := v.SearchWithFilter(context.Background(), &VectorFilterInput{
		TextToEmbed: "space", Limit: 3, Genre: "Sci-Fi", Actor: "Matthew McConaughey",
	})
	require.NoError(t, err)
	require.Len(t, pts.queries, 1)

	f := pts.queries[0].Filter
	require.NotNil(t, f)
	require.Len(t, f.Must, 2)
	assert.Equal(t, GenreListField, f.Must[0].GetField().GetKey())
	assert.Len(t, f.Must[1].GetFilter().GetShould(), 4)
	assert.Equal(t, uint64(3), pts.queries[0].GetLimit())
}

func TestSimilarByIDDropsSelf(t *testing.T) {
	pts := &fakePoints{scored: []*qdrant.ScoredPoint{
		scored(4, 1, "Inception"), scored(3, 0.9, "The Dark Knight"), scored(7, 0.8, "Interstellar"),
	}}
	v := NewMovieVectors(pts, &fakeEmbedder{}, "top_movies")

	hits, err := v.SimilarByID(context.Background(), &SimilarByIDInput{MovieID: 4, Limit: 2})
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, uint64(3), hits[0].ID)
	assert.Equal(t, uint64(7), hits[1].ID)
	assert.Equal(t, uint64(3), pts.queries[0].GetLimit())
	assert.Equal(t, uint64(4), pts.queries[0].GetQuery().GetNearest().GetId().GetNum())
}

func TestIDByTitle(t *testing.T) {
	pts := &fakePoints{}
	v := NewMovieVectors(pts, &fakeEmbedder{}, "top_movies")

	got, err := v.IDByTitle(context.Background(), &IDByTitleInput{Title: "Nope"})
	require.NoError(t, err)
	assert.Equal(t, "No movie found with title 'Nope'", got.Message)

	pts.found = []*qdrant.RetrievedPoint{{
		Id:      qdrant.NewIDNum(4),
		Payload: qdrant.NewValueMap(map[string]any{"Series_Title": "Inception"}),
	}}
	got, err = v.IDByTitle(context.Background(), &IDByTitleInput{Title: "Inception"})
	require.NoError(t, err)
	assert.Equal(t, uint64(4), got.ID)
	assert.Empty(t, got.Message)
}

func TestVectorErrors(t *testing.T) {
	pts := &fakePoints{err: errors.New("connection refused")}
	v := NewMovieVectors(pts, &fakeEmbedder{}, "top_movies")

	_, err := v.Search(context.Background(), &VectorSearchInput{TextToEmbed: "x"})
	assert.ErrorContains(t, err, "connection refused")

	_, err = v.Search(context.Background(), &VectorSearchInput{TextToEmbed: "  "})
	assert.ErrorIs(t, err, errx.ErrInvalidArgument)
}

func TestSemanticToolNames(t *testing.T) {
	v := NewMovieVectors(&fakePoints{}, &fakeEmbedder{}, "top_movies")
	assert.Equal(t, []string{ToolVectorSearch, ToolVectorSearchFilter, ToolVectorSimilarByID, ToolVectorIDByTitle},
		toolNames(t, v.SemanticTools()))
}
