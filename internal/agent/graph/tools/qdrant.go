package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/embedding"
	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/components/tool/utils"
	"github.com/cloudwego/eino/schema"
	"github.com/qdrant/go-client/qdrant"

	"github.com/cinephile-gpt/server/internal/agent/model"
	errx "github.com/cinephile-gpt/server/internal/core/error"
	"github.com/cinephile-gpt/server/pkg/embedder"
	logx "github.com/cinephile-gpt/server/pkg/logger"
	"github.com/cinephile-gpt/server/pkg/vectordb"
)

const (
	defaultVectorLimit = 5
	maxVectorLimit     = 50
	titleScrollLimit   = 5

	// GenreListField holds the split Genre column so one genre can be matched
	// exactly.
	GenreListField = "Genre_List"
)

// MovieVectors runs the semantic movie tools against a Qdrant collection.
type MovieVectors struct {
	points     vectordb.Points
	embedder   embedding.Embedder
	collection string
}

func NewMovieVectors(points vectordb.Points, emb embedding.Embedder, collection string) *MovieVectors {
	return &MovieVectors{points: points, embedder: emb, collection: collection}
}

type VectorSearchInput struct {
	TextToEmbed string `json:"text_to_embed"`
	Limit       int    `json:"limit"`
}

type VectorFilterInput struct {
	TextToEmbed string `json:"text_to_embed"`
	Limit       int    `json:"limit"`
	Genre       string `json:"genre,omitempty"`
	Certificate string `json:"certificate,omitempty"`
	Director    string `json:"director,omitempty"`
	Actor       string `json:"actor,omitempty"`
}

type SimilarByIDInput struct {
	MovieID uint64 `json:"movie_id"`
	Limit   int    `json:"limit"`
}

type IDByTitleInput struct {
	Title string `json:"title"`
}

// TitleMatch is the result of a title lookup. Message is set instead of ID
// when nothing matched.
type TitleMatch struct {
	ID      any            `json:"id,omitempty"`
	Payload map[string]any `json:"payload,omitempty"`
	Message string         `json:"message,omitempty"`
}

func vectorLimit(n int) uint64 {
	if n <= 0 {
		return defaultVectorLimit
	}
	if n > maxVectorLimit {
		return maxVectorLimit
	}
	return uint64(n)
}

func (v *MovieVectors) embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, errx.Invalid("text_to_embed is required")
	}
	vecs, err := v.embedder.EmbedStrings(ctx, []string{text})
	if err != nil {
		return nil, errx.WrapLLM(fmt.Errorf("embedding query: %w", err))
	}
	if len(vecs) != 1 {
		return nil, errx.WrapLLM(fmt.Errorf("embedding query: got %d vectors", len(vecs)))
	}
	return embedder.ToFloat32(vecs[0]), nil
}

func (v *MovieVectors) query(ctx context.Context, q *qdrant.Query, limit uint64, filter *qdrant.Filter) ([]model.VectorHit, error) {
	res, err := v.points.Query(ctx, &qdrant.QueryPoints{
		CollectionName: v.collection,
		Query:          q,
		Filter:         filter,
		Limit:          qdrant.PtrOf(limit),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		logx.Error().Err(err).Str("collection", v.collection).Msg("Qdrant query failed")
		return nil, errx.WrapVector(err)
	}
	hits := make([]model.VectorHit, 0, len(res))
	for _, p := range res {
		hits = append(hits, model.VectorHit{
			ID:      vectordb.PointID(p.GetId()),
			Score:   p.GetScore(),
			Payload: vectordb.PayloadToMap(p.GetPayload()),
		})
	}
	return hits, nil
}

func (v *MovieVectors) Search(ctx context.Context, in *VectorSearchInput) ([]model.VectorHit, error) {
	vec, err := v.embed(ctx, in.TextToEmbed)
	if err != nil {
		return nil, err
	}
	return v.query(ctx, qdrant.NewQuery(vec...), vectorLimit(in.Limit), nil)
}

// payloadFilter builds the must conditions for the optional metadata
// filters. The actor matches any of the four star fields.
func payloadFilter(in *VectorFilterInput) *qdrant.Filter {
	var must []*qdrant.Condition
	if g := strings.TrimSpace(in.Genre); g != "" {
		must = append(must, qdrant.NewMatch(GenreListField, g))
	}
	if c := strings.TrimSpace(in.Certificate); c != "" {
		must = append(must, qdrant.NewMatch(model.ColCertificate, c))
	}
	if d := strings.TrimSpace(in.Director); d != "" {
		must = append(must, qdrant.NewMatch(model.ColDirector, d))
	}
	if a := strings.TrimSpace(in.Actor); a != "" {
		must = append(must, qdrant.NewFilterAsCondition(&qdrant.Filter{
			Should: []*qdrant.Condition{
				qdrant.NewMatch(model.ColStar1, a),
				qdrant.NewMatch(model.ColStar2, a),
				qdrant.NewMatch(model.ColStar3, a),
				qdrant.NewMatch(model.ColStar4, a),
			},
		}))
	}
	if len(must) == 0 {
		return nil
	}
	return &qdrant.Filter{Must: must}
}

func (v *MovieVectors) SearchWithFilter(ctx context.Context, in *VectorFilterInput) ([]model.VectorHit, error) {
	vec, err := v.embed(ctx, in.TextToEmbed)
	if err != nil {
		return nil, err
	}
	return v.query(ctx, qdrant.NewQuery(vec...), vectorLimit(in.Limit), payloadFilter(in))
}

// SimilarByID queries with a stored point's vector and drops the point itself.
func (v *MovieVectors) SimilarByID(ctx context.Context, in *SimilarByIDInput) ([]model.VectorHit, error) {
	if in.MovieID == 0 {
		return nil, errx.Invalid("movie_id is required")
	}
	limit := vectorLimit(in.Limit)
	hits, err := v.query(ctx, qdrant.NewQueryID(qdrant.NewIDNum(in.MovieID)), limit+1, nil)
	if err != nil {
		return nil, err
	}
	out := make([]model.VectorHit, 0, len(hits))
	for _, h := range hits {
		if id, ok := h.ID.(uint64); ok && id == in.MovieID {
			continue
		}
		out = append(out, h)
	}
	if uint64(len(out)) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (v *MovieVectors) IDByTitle(ctx context.Context, in *IDByTitleInput) (*TitleMatch, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, errx.Invalid("title is required")
	}
	points, err := v.points.Scroll(ctx, &qdrant.ScrollPoints{
		CollectionName: v.collection,
		Filter: &qdrant.Filter{
			Must: []*qdrant.Condition{qdrant.NewMatch(model.ColSeriesTitle, title)},
		},
		Limit:       qdrant.PtrOf(uint32(titleScrollLimit)),
		WithPayload: qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, errx.WrapVector(err)
	}
	if len(points) == 0 {
		return &TitleMatch{Message: fmt.Sprintf("No movie found with title '%s'", title)}, nil
	}
	return &TitleMatch{
		ID:      vectordb.PointID(points[0].GetId()),
		Payload: vectordb.PayloadToMap(points[0].GetPayload()),
	}, nil
}

func limitVectorParam() *schema.ParameterInfo {
	return &schema.ParameterInfo{
		Type: schema.Integer,
		Desc: fmt.Sprintf("Number of results (default %d).", defaultVectorLimit),
	}
}

// SemanticTools returns the vector tool set.
func (v *MovieVectors) SemanticTools() []tool.InvokableTool {
	return []tool.InvokableTool{
		utils.NewTool(&schema.ToolInfo{
			Name: ToolVectorSearch,
			Desc: "Semantic 'vibe-based' movie search by vector similarity. Use when the user describes a feeling, plot, theme or example movie.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"text_to_embed": {Type: schema.String, Desc: "Description of the movies wanted.", Required: true},
				"limit":         limitVectorParam(),
			}),
		}, v.Search),
		utils.NewTool(&schema.ToolInfo{
			Name: ToolVectorSearchFilter,
			Desc: "Vector similarity search with optional exact-match filters: one genre, certificate (e.g. PG-13, R), director, or one actor (matches Star1..Star4).",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"text_to_embed": {Type: schema.String, Desc: "Description of the movies wanted.", Required: true},
				"limit":         limitVectorParam(),
				"genre":         {Type: schema.String, Desc: "A single genre, e.g. Drama."},
				"certificate":   {Type: schema.String, Desc: "Certificate, e.g. PG-13."},
				"director":      {Type: schema.String, Desc: "Director name."},
				"actor":         {Type: schema.String, Desc: "One actor name."},
			}),
		}, v.SearchWithFilter),
		utils.NewTool(&schema.ToolInfo{
			Name: ToolVectorSimilarByID,
			Desc: "Find movies similar to a stored movie by its id. If the id is unknown, call qdrant_get_id_by_title first.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"movie_id": {Type: schema.Integer, Desc: "The movie id.", Required: true},
				"limit":    limitVectorParam(),
			}),
		}, v.SimilarByID),
		utils.NewTool(&schema.ToolInfo{
			Name: ToolVectorIDByTitle,
			Desc: "Look up a movie id by exact title. Useful before qdrant_similarity_by_id.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"title": {Type: schema.String, Desc: "Exact movie title.", Required: true},
			}),
		}, v.IDByTitle),
	}
}
