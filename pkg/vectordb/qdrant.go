package vectordb

import (
	"context"

	"github.com/qdrant/go-client/qdrant"
)

// Config is bound from QDRANT_* variables.
type Config struct {
	Host       string `envconfig:"QDRANT_HOST" default:"localhost"`
	Port       int    `envconfig:"QDRANT_PORT" default:"6334"`
	APIKey     string `envconfig:"QDRANT_API_KEY"`
	UseTLS     bool   `envconfig:"QDRANT_USE_TLS" default:"false"`
	Collection string `envconfig:"QDRANT_COLLECTION" default:"top_movies"`
	VectorSize uint64 `envconfig:"EMBEDDING_DIMENSIONS" default:"768"`
}

// Points is the subset of the Qdrant client the movie tools and the seeder
// depend on. *qdrant.Client satisfies it.
type Points interface {
	Query(ctx context.Context, request *qdrant.QueryPoints) ([]*qdrant.ScoredPoint, error)
	Scroll(ctx context.Context, request *qdrant.ScrollPoints) ([]*qdrant.RetrievedPoint, error)
	Upsert(ctx context.Context, request *qdrant.UpsertPoints) (*qdrant.UpdateResult, error)
	Count(ctx context.Context, request *qdrant.CountPoints) (uint64, error)
	CollectionExists(ctx context.Context, collectionName string) (bool, error)
	CreateCollection(ctx context.Context, request *qdrant.CreateCollection) error
}

var _ Points = (*qdrant.Client)(nil)

// New dials the Qdrant gRPC endpoint.
func (c Config) New() (*qdrant.Client, error) {
	return qdrant.NewClient(&qdrant.Config{
		Host:   c.Host,
		Port:   c.Port,
		APIKey: c.APIKey,
		UseTLS: c.UseTLS,
	})
}

// EnsureCollection creates the cosine collection when it is missing.
func EnsureCollection(ctx context.Context, p Points, name string, size uint64) (created bool, err error) {
	exists, err := p.CollectionExists(ctx, name)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}
	err = p.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: name,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     size,
			Distance: qdrant.Distance_Cosine,
		}),
	})
	return err == nil, err
}

// PointID renders a point id in the canonical string form used to compare
// against relational movie ids.
func PointID(id *qdrant.PointId) any {
	if id == nil {
		return nil
	}
	if u := id.GetUuid(); u != "" {
		return u
	}
	return id.GetNum()
}

// ValueToAny converts a Qdrant payload value into plain Go data.
func ValueToAny(v *qdrant.Value) any {
	if v == nil {
		return nil
	}
	switch k := v.GetKind().(type) {
	case *qdrant.Value_StringValue:
		return k.StringValue
	case *qdrant.Value_IntegerValue:
		return k.IntegerValue
	case *qdrant.Value_DoubleValue:
		return k.DoubleValue
	case *qdrant.Value_BoolValue:
		return k.BoolValue
	case *qdrant.Value_StructValue:
		return PayloadToMap(k.StructValue.GetFields())
	case *qdrant.Value_ListValue:
		items := k.ListValue.GetValues()
		out := make([]any, 0, len(items))
		for _, item := range items {
			out = append(out, ValueToAny(item))
		}
		return out
	default:
		return nil
	}
}

// PayloadToMap converts a Qdrant payload into a JSON-friendly map.
func PayloadToMap(payload map[string]*qdrant.Value) map[string]any {
	out := make(map[string]any, len(payload))
	for k, v := range payload {
		out[k] = ValueToAny(v)
	}
	return out
}
