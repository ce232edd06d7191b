package tools

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"

	"github.com/cinephile-gpt/server/internal/agent/model"
)

const (
	ToolSQLQuery           = "sql_query"
	ToolSQLSelectHighest   = "sql_select_highest"
	ToolSQLSearch          = "sql_search"
	ToolSQLFilter          = "sql_filter"
	ToolSQLAggregate       = "sql_aggregate"
	ToolSQLUniqueValues    = "sql_get_unique_values"
	ToolSQLMovieByID       = "sql_get_movie_by_id"
	ToolSQLPoster          = "sql_get_poster"
	ToolVectorSearch       = "qdrant_vector_search"
	ToolVectorSearchFilter = "qdrant_vector_search_with_filter"
	ToolVectorSimilarByID  = "qdrant_similarity_by_id"
	ToolVectorIDByTitle    = "qdrant_get_id_by_title"
	ToolHybridIntersection = "hybrid_intersection_top_movies"
)

const (
	sqlPrefix    = "sql_"
	vectorPrefix = "qdrant_"
)

// ResultKind tells which structured-result log a tool's output belongs to.
type ResultKind int

const (
	ResultNone ResultKind = iota
	ResultSQL
	ResultVector
)

// KindOf classifies a tool by its name prefix.
func KindOf(toolName string) ResultKind {
	switch {
	case strings.HasPrefix(toolName, sqlPrefix):
		return ResultSQL
	case strings.HasPrefix(toolName, vectorPrefix):
		return ResultVector
	default:
		return ResultNone
	}
}

// Registry maps each classification to the tools it may call.
type Registry struct {
	sets map[model.Classification]map[string]tool.InvokableTool
	// order keeps tool declaration order for binding and prompts.
	order map[model.Classification][]string
	infos map[string]*schema.ToolInfo
}

// NewRegistry builds the Numeric, Semantic and Hybrid sets. Hybrid is the
// union of all three groups.
func NewRegistry(ctx context.Context, numeric, semantic, hybrid []tool.InvokableTool) (*Registry, error) {
	r := &Registry{
		sets:  make(map[model.Classification]map[string]tool.InvokableTool),
		order: make(map[model.Classification][]string),
		infos: make(map[string]*schema.ToolInfo),
	}
	union := make([]tool.InvokableTool, 0, len(numeric)+len(semantic)+len(hybrid))
	union = append(union, numeric...)
	union = append(union, semantic...)
	union = append(union, hybrid...)

	for label, ts := range map[model.Classification][]tool.InvokableTool{
		model.Numeric:  numeric,
		model.Semantic: semantic,
		model.Hybrid:   union,
	} {
		set := make(map[string]tool.InvokableTool, len(ts))
		for _, t := range ts {
			info, err := t.Info(ctx)
			if err != nil {
				return nil, fmt.Errorf("tool info: %w", err)
			}
			if _, dup := set[info.Name]; dup {
				return nil, fmt.Errorf("duplicate tool %q in %s set", info.Name, label)
			}
			set[info.Name] = t
			r.order[label] = append(r.order[label], info.Name)
			r.infos[info.Name] = info
		}
		r.sets[label] = set
	}
	return r, nil
}

// Lookup resolves name within the set allowed for c.
func (r *Registry) Lookup(c model.Classification, name string) (tool.InvokableTool, bool) {
	set, ok := r.sets[c]
	if !ok {
		return nil, false
	}
	t, ok := set[name]
	return t, ok
}

// Names lists the tool names allowed for c in declaration order.
func (r *Registry) Names(c model.Classification) []string {
	return append([]string(nil), r.order[c]...)
}

// Infos returns the tool schemas to bind for c.
func (r *Registry) Infos(c model.Classification) []*schema.ToolInfo {
	names := r.order[c]
	out := make([]*schema.ToolInfo, 0, len(names))
	for _, n := range names {
		out = append(out, r.infos[n])
	}
	return out
}

// Labels returns the classifications that have a tool set, in enum order.
func (r *Registry) Labels() []model.Classification {
	labels := make([]model.Classification, 0, len(r.sets))
	for l := range r.sets {
		labels = append(labels, l)
	}
	sort.Slice(labels, func(i, j int) bool { return labels[i] < labels[j] })
	return labels
}
