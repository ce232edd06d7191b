package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
)

// HybridArgs are the arguments of the intersection tool. The dispatcher
// overwrites whatever the model sent with the latest logged results.
type HybridArgs struct {
	SQLJSON    string `json:"sql_json"`
	QdrantJSON string `json:"qdrant_json"`
}

// Arguments renders args as the tool's JSON argument string.
func (a HybridArgs) Arguments() string {
	b, _ := json.Marshal(a)
	return string(b)
}

// Intersect returns the rows of sqlJSON whose movie_id (or id) is among the
// ids of vectorJSON, in relational order. No overlap yields "[]".
func Intersect(sqlJSON, vectorJSON string) (string, error) {
	rows, err := decodeObjects(sqlJSON)
	if err != nil {
		return "", fmt.Errorf("sql_json: %w", err)
	}
	hits, err := decodeObjects(vectorJSON)
	if err != nil {
		return "", fmt.Errorf("qdrant_json: %w", err)
	}

	ids := make(map[string]struct{}, len(hits))
	for _, h := range hits {
		if id, ok := canonicalID(h["id"]); ok {
			ids[id] = struct{}{}
		}
	}

	out := make([]map[string]any, 0)
	for _, row := range rows {
		if id, ok := canonicalID(row["movie_id"]); ok {
			if _, hit := ids[id]; hit {
				out = append(out, row)
				continue
			}
		}
		if id, ok := canonicalID(row["id"]); ok {
			if _, hit := ids[id]; hit {
				out = append(out, row)
			}
		}
	}
	b, err := json.Marshal(out)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// decodeObjects accepts a JSON array of objects or a single object.
func decodeObjects(s string) ([]map[string]any, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("empty input")
	}
	dec := json.NewDecoder(bytes.NewReader([]byte(s)))
	dec.UseNumber()
	if s[0] == '{' {
		var one map[string]any
		if err := dec.Decode(&one); err != nil {
			return nil, err
		}
		return []map[string]any{one}, nil
	}
	var many []map[string]any
	if err := dec.Decode(&many); err != nil {
		return nil, err
	}
	return many, nil
}

// canonicalID renders an id so that 7, 7.0 and "7" compare equal.
func canonicalID(v any) (string, bool) {
	switch x := v.(type) {
	case nil:
		return "", false
	case string:
		x = strings.TrimSpace(x)
		return x, x != ""
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return strconv.FormatInt(i, 10), true
		}
		if f, err := x.Float64(); err == nil {
			return canonicalFloat(f), true
		}
		return x.String(), true
	case float64:
		return canonicalFloat(x), true
	case int:
		return strconv.Itoa(x), true
	case int64:
		return strconv.FormatInt(x, 10), true
	case uint64:
		return strconv.FormatUint(x, 10), true
	default:
		return fmt.Sprint(x), true
	}
}

func canonicalFloat(f float64) string {
	if f == math.Trunc(f) && math.Abs(f) < 1e15 {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// hybridTool is the intersection tool. It returns its result as a raw JSON
// string, and malformed input becomes a JSON error object rather than a Go
// error.
type hybridTool struct{}

// NewHybridTool returns the hybrid_intersection_top_movies tool.
func NewHybridTool() tool.InvokableTool {
	return hybridTool{}
}

func (hybridTool) Info(context.Context) (*schema.ToolInfo, error) {
	return &schema.ToolInfo{
		Name: ToolHybridIntersection,
		Desc: "Find movies that appear in BOTH the most recent SQL result and the most recent Qdrant result, keeping the SQL order. ONLY call this tool after calling at least one sql_ tool and one qdrant_ tool.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"sql_json":    {Type: schema.String, Desc: "JSON of the SQL result (filled in automatically)."},
			"qdrant_json": {Type: schema.String, Desc: "JSON of the Qdrant result (filled in automatically)."},
		}),
	}, nil
}

func (hybridTool) InvokableRun(_ context.Context, argumentsInJSON string, _ ...tool.Option) (string, error) {
	var args HybridArgs
	if err := json.Unmarshal([]byte(argumentsInJSON), &args); err != nil {
		return ErrorResult("Hybrid tool failed: " + err.Error()), nil
	}
	out, err := Intersect(args.SQLJSON, args.QdrantJSON)
	if err != nil {
		return ErrorResult("Hybrid tool failed: " + err.Error()), nil
	}
	return out, nil
}

// ErrorResult renders the in-band {"error": msg} form of a failed tool call.
func ErrorResult(msg string) string {
	b, _ := json.Marshal(map[string]string{"error": msg})
	return string(b)
}
