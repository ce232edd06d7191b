package seed

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/components/embedding"
	"github.com/qdrant/go-client/qdrant"

	"github.com/cinephile-gpt/server/internal/agent/graph/tools"
	"github.com/cinephile-gpt/server/internal/agent/model"
	errx "github.com/cinephile-gpt/server/internal/core/error"
	"github.com/cinephile-gpt/server/pkg/embedder"
	logx "github.com/cinephile-gpt/server/pkg/logger"
	"github.com/cinephile-gpt/server/pkg/vectordb"
)

const DefaultBatchSize = 100

// VectorTarget describes where and how movies are indexed.
type VectorTarget struct {
	Points     vectordb.Points
	Embedder   embedding.Embedder
	Collection string
	VectorSize uint64
	BatchSize  int
}

func payload(m Movie) (map[string]*qdrant.Value, error) {
	p := make(map[string]any, len(model.VectorPayloadFields)+1)
	for _, c := range model.VectorPayloadFields {
		p[c] = m.Fields[c]
	}
	genres := make([]any, 0, 4)
	for _, g := range m.Genres() {
		genres = append(genres, g)
	}
	p[tools.GenreListField] = genres
	return qdrant.TryValueMap(p)
}

// SeedVectors creates the collection when missing and, if it holds no
// points, embeds and upserts every movie in batches. Point ids are movie ids.
func SeedVectors(ctx context.Context, t VectorTarget, movies []Movie) (int, error) {
	if _, err := vectordb.EnsureCollection(ctx, t.Points, t.Collection, t.VectorSize); err != nil {
		return 0, errx.WrapVector(fmt.Errorf("ensure collection: %w", err))
	}
	count, err := t.Points.Count(ctx, &qdrant.CountPoints{CollectionName: t.Collection, Exact: qdrant.PtrOf(true)})
	if err != nil {
		return 0, errx.WrapVector(fmt.Errorf("count points: %w", err))
	}
	if count > 0 {
		logx.Info().Str("collection", t.Collection).Uint64("points", count).Msg("Collection already populated, skipping")
		return 0, nil
	}

	batch := t.BatchSize
	if batch <= 0 {
		batch = DefaultBatchSize
	}

	total := 0
	for start := 0; start < len(movies); start += batch {
		end := min(start+batch, len(movies))
		chunk := movies[start:end]

		texts := make([]string, len(chunk))
		for i, m := range chunk {
			texts[i] = m.EmbeddingText()
		}
		vecs, err := t.Embedder.EmbedStrings(ctx, texts)
		if err != nil {
			return total, errx.WrapLLM(fmt.Errorf("embed movies %d-%d: %w", chunk[0].ID, chunk[len(chunk)-1].ID, err))
		}
		if len(vecs) != len(chunk) {
			return total, fmt.Errorf("embedder returned %d vectors for %d movies", len(vecs), len(chunk))
		}

		points := make([]*qdrant.PointStruct, 0, len(chunk))
		for i, m := range chunk {
			p, err := payload(m)
			if err != nil {
				return total, fmt.Errorf("payload for movie %d: %w", m.ID, err)
			}
			points = append(points, &qdrant.PointStruct{
				Id:      qdrant.NewIDNum(uint64(m.ID)),
				Vectors: qdrant.NewVectors(embedder.ToFloat32(vecs[i])...),
				Payload: p,
			})
		}
		if _, err := t.Points.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: t.Collection,
			Wait:           qdrant.PtrOf(true),
			Points:         points,
		}); err != nil {
			return total, errx.WrapVector(fmt.Errorf("upsert: %w", err))
		}
		total += len(points)
		logx.Debug().Str("collection", t.Collection).Int("upserted", total).Int("of", len(movies)).Msg("Vector batch stored")
	}

	logx.Info().Str("collection", t.Collection).Int("points", total).Msg("Seeded vector collection")
	return total, nil
}
