package tools

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/components/tool/utils"
	"github.com/cloudwego/eino/schema"

	"github.com/cinephile-gpt/server/internal/agent/model"
	errx "github.com/cinephile-gpt/server/internal/core/error"
	logx "github.com/cinephile-gpt/server/pkg/logger"
	"github.com/cinephile-gpt/server/pkg/sqldb"
)

const (
	defaultSQLLimit = 10
	maxSQLLimit     = 100
)

// Row is one result row keyed by column name.
type Row = map[string]any

// MovieSQL runs the relational movie tools. Column names, sort orders and
// aggregate operations are checked against a fixed vocabulary and values are
// bound as parameters; only sql_query accepts free SQL and it is off unless
// AllowRawQuery is set.
type MovieSQL struct {
	cfg sqldb.Config
}

func NewMovieSQL(cfg sqldb.Config) *MovieSQL {
	return &MovieSQL{cfg: cfg}
}

// Query opens a fresh connection, runs one statement and closes it.
func (m *MovieSQL) Query(ctx context.Context, query string, args ...any) ([]Row, error) {
	db, err := m.cfg.Open(ctx)
	if err != nil {
		logx.Error().Err(err).Str("driver", m.cfg.Driver).Msg("failed to connect to the database")
		return nil, errx.WrapSQL(fmt.Errorf("failed to connect to the database: %w", err))
	}
	defer db.Close()

	q := m.cfg.Rebind(query)
	logx.Debug().Str("query", q).Interface("args", args).Msg("SQL tool query")

	rows, err := db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, errx.WrapSQL(fmt.Errorf("error executing query: %w", err))
	}
	defer rows.Close()
	return scanRows(rows)
}

func scanRows(rows *sql.Rows) ([]Row, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, errx.WrapSQL(err)
	}
	types, err := rows.ColumnTypes()
	if err != nil {
		return nil, errx.WrapSQL(err)
	}

	out := []Row{}
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, errx.WrapSQL(err)
		}
		row := make(Row, len(cols))
		for i, c := range cols {
			row[c] = jsonValue(vals[i], types[i].DatabaseTypeName())
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, errx.WrapSQL(err)
	}
	return out, nil
}

// jsonValue turns driver values into JSON-friendly ones: decimals become
// numbers, times ISO-8601 strings, bytes UTF-8 strings.
func jsonValue(v any, dbType string) any {
	switch x := v.(type) {
	case []byte:
		s := string(x)
		switch strings.ToUpper(dbType) {
		case "NUMERIC", "DECIMAL", "REAL", "FLOAT", "DOUBLE":
			if f, err := strconv.ParseFloat(s, 64); err == nil {
				return f
			}
		}
		return s
	case time.Time:
		return x.Format(time.RFC3339)
	default:
		return x
	}
}

func (m *MovieSQL) table() string {
	return m.cfg.QuoteIdent(m.cfg.Table)
}

func (m *MovieSQL) column(name string) (string, error) {
	if !model.IsMovieColumn(name) {
		return "", errx.Invalid("unknown column %q; allowed: %s", name, strings.Join(model.MovieColumns, ", "))
	}
	return m.cfg.QuoteIdent(name), nil
}

func clampLimit(n int) int {
	if n <= 0 {
		return defaultSQLLimit
	}
	if n > maxSQLLimit {
		return maxSQLLimit
	}
	return n
}

// ===================================
// Tool inputs
// ===================================

type SelectHighestInput struct {
	Column string `json:"blank"`
	Limit  int    `json:"limit"`
	Desc   *bool  `json:"desc,omitempty"`
}

type SearchInput struct {
	Value  string `json:"blank"`
	Column string `json:"column"`
	Limit  int    `json:"limit"`
}

type FilterInput struct {
	FilterMap map[string]any `json:"filter_map"`
	Limit     int            `json:"limit"`
}

type AggregateInput struct {
	Column    string `json:"column"`
	GroupBy   string `json:"group_by"`
	Limit     int    `json:"limit"`
	Operation string `json:"operation,omitempty"`
	Order     string `json:"order,omitempty"`
}

type UniqueValuesInput struct {
	Column string `json:"column"`
}

type MovieIDInput struct {
	MovieID int64 `json:"movie_id"`
}

type RawQueryInput struct {
	Query string `json:"query"`
}

// ===================================
// Operations
// ===================================

func (m *MovieSQL) SelectHighest(ctx context.Context, in *SelectHighestInput) ([]Row, error) {
	if !model.IsSortableColumn(in.Column) {
		return nil, errx.Invalid("column %q cannot be ranked; allowed: %s", in.Column, strings.Join(model.SortableColumns, ", "))
	}
	col, _ := m.column(in.Column)
	order := "DESC"
	if in.Desc != nil && !*in.Desc {
		order = "ASC"
	}
	q := fmt.Sprintf("SELECT * FROM %s WHERE %s IS NOT NULL ORDER BY %s %s LIMIT %d", m.table(), col, col, order, clampLimit(in.Limit))
	return m.Query(ctx, q)
}

func (m *MovieSQL) Search(ctx context.Context, in *SearchInput) ([]Row, error) {
	col, err := m.column(in.Column)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(in.Value) == "" {
		return nil, errx.Invalid("search value is required")
	}
	q := fmt.Sprintf("SELECT * FROM %s WHERE CAST(%s AS TEXT) LIKE ? LIMIT %d", m.table(), col, clampLimit(in.Limit))
	return m.Query(ctx, q, "%"+strings.TrimSpace(in.Value)+"%")
}

var comparatorRe = regexp.MustCompile(`^(>=|<=|!=|<>|=|>|<)\s*(.+)$`)

// whereClause builds an AND-joined clause from a filter map. Values with a
// leading comparator compare; everything else is a substring match.
func (m *MovieSQL) whereClause(filter map[string]any) (string, []any, error) {
	keys := make([]string, 0, len(filter))
	for k := range filter {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	clauses := make([]string, 0, len(keys))
	args := make([]any, 0, len(keys))
	for _, k := range keys {
		col, err := m.column(k)
		if err != nil {
			return "", nil, err
		}
		raw := strings.TrimSpace(fmt.Sprint(filter[k]))
		if match := comparatorRe.FindStringSubmatch(raw); match != nil {
			operand := strings.Trim(strings.TrimSpace(match[2]), `'"`)
			var arg any = operand
			if f, err := strconv.ParseFloat(operand, 64); err == nil {
				arg = f
			}
			op := match[1]
			if op == "<>" {
				op = "!="
			}
			clauses = append(clauses, fmt.Sprintf("%s %s ?", col, op))
			args = append(args, arg)
			continue
		}
		clauses = append(clauses, fmt.Sprintf("CAST(%s AS TEXT) LIKE ?", col))
		args = append(args, "%"+raw+"%")
	}
	if len(clauses) == 0 {
		return "1=1", nil, nil
	}
	return strings.Join(clauses, " AND "), args, nil
}

func (m *MovieSQL) Filter(ctx context.Context, in *FilterInput) ([]Row, error) {
	where, args, err := m.whereClause(in.FilterMap)
	if err != nil {
		return nil, err
	}
	q := fmt.Sprintf("SELECT * FROM %s WHERE %s LIMIT %d", m.table(), where, clampLimit(in.Limit))
	return m.Query(ctx, q, args...)
}

var aggregateOps = map[string]bool{"AVG": true, "SUM": true, "COUNT": true, "MAX": true, "MIN": true}

func (m *MovieSQL) Aggregate(ctx context.Context, in *AggregateInput) ([]Row, error) {
	op := strings.ToUpper(strings.TrimSpace(in.Operation))
	if op == "" {
		op = "AVG"
	}
	if !aggregateOps[op] {
		return nil, errx.Invalid("operation %q not allowed; use AVG, SUM, COUNT, MAX or MIN", in.Operation)
	}
	order := strings.ToUpper(strings.TrimSpace(in.Order))
	if order == "" {
		order = "DESC"
	}
	if order != "ASC" && order != "DESC" {
		return nil, errx.Invalid("order %q not allowed; use ASC or DESC", in.Order)
	}
	col, err := m.column(in.Column)
	if err != nil {
		return nil, err
	}
	group, err := m.column(in.GroupBy)
	if err != nil {
		return nil, err
	}
	q := fmt.Sprintf("SELECT %s, %s(%s) AS result FROM %s GROUP BY %s ORDER BY result %s LIMIT %d",
		group, op, col, m.table(), group, order, clampLimit(in.Limit))
	return m.Query(ctx, q)
}

func (m *MovieSQL) UniqueValues(ctx context.Context, in *UniqueValuesInput) ([]Row, error) {
	col, err := m.column(in.Column)
	if err != nil {
		return nil, err
	}
	q := fmt.Sprintf("SELECT DISTINCT %s FROM %s ORDER BY %s", col, m.table(), col)
	return m.Query(ctx, q)
}

func (m *MovieSQL) MovieByID(ctx context.Context, in *MovieIDInput) ([]Row, error) {
	q := fmt.Sprintf("SELECT * FROM %s WHERE %s = ?", m.table(), m.cfg.QuoteIdent(model.ColMovieID))
	return m.Query(ctx, q, in.MovieID)
}

func (m *MovieSQL) Poster(ctx context.Context, in *MovieIDInput) ([]Row, error) {
	q := fmt.Sprintf("SELECT %s, %s FROM %s WHERE %s = ?",
		m.cfg.QuoteIdent(model.ColMovieID), m.cfg.QuoteIdent(model.ColPosterLink), m.table(), m.cfg.QuoteIdent(model.ColMovieID))
	return m.Query(ctx, q, in.MovieID)
}

var readOnlyRe = regexp.MustCompile(`(?is)^\s*(select|with)\b`)

// RawQuery runs a single read-only statement. Registered only when the
// deployment marks tool input as trusted.
func (m *MovieSQL) RawQuery(ctx context.Context, in *RawQueryInput) ([]Row, error) {
	q := strings.TrimSpace(in.Query)
	q = strings.TrimSuffix(q, ";")
	if !readOnlyRe.MatchString(q) {
		return nil, errx.Invalid("only SELECT statements are allowed")
	}
	if strings.Contains(q, ";") {
		return nil, errx.Invalid("only a single statement is allowed")
	}
	return m.Query(ctx, q)
}

// ===================================
// Tool definitions
// ===================================

func columnParam(desc string, required bool) *schema.ParameterInfo {
	return &schema.ParameterInfo{
		Type:     schema.String,
		Desc:     desc + " One of: " + strings.Join(model.MovieColumns, ", ") + ".",
		Required: required,
	}
}

func limitParam(required bool) *schema.ParameterInfo {
	return &schema.ParameterInfo{
		Type:     schema.Integer,
		Desc:     fmt.Sprintf("Maximum number of rows to return (default %d, max %d).", defaultSQLLimit, maxSQLLimit),
		Required: required,
	}
}

// NumericTools returns the SQL tool set. sql_query is appended only when
// raw queries are allowed.
func (m *MovieSQL) NumericTools() []tool.InvokableTool {
	ts := []tool.InvokableTool{
		utils.NewTool(&schema.ToolInfo{
			Name: ToolSQLSelectHighest,
			Desc: "Select top (or bottom) movies ordered by a numeric column. Use for 'best rated', 'highest grossing', 'most voted' questions.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"blank": {
					Type:     schema.String,
					Desc:     "Column to sort by: " + strings.Join(model.SortableColumns, ", ") + ".",
					Required: true,
				},
				"limit": limitParam(true),
				"desc": {
					Type: schema.Boolean,
					Desc: "True (default) sorts highest first; false sorts lowest first.",
				},
			}),
		}, m.SelectHighest),
		utils.NewTool(&schema.ToolInfo{
			Name: ToolSQLSearch,
			Desc: "Search for a value inside one column (substring match). Use to find data for a given movie, person or genre.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"blank":  {Type: schema.String, Desc: "Value or keyword to search for.", Required: true},
				"column": columnParam("Column to search in.", true),
				"limit":  limitParam(true),
			}),
		}, m.Search),
		utils.NewTool(&schema.ToolInfo{
			Name: ToolSQLFilter,
			Desc: `Filter movies by several columns at once. filter_map maps a column to a value, e.g. {"Genre": "Horror", "IMDB_Rating": "> 7.8"}. Values starting with >, <, >=, <=, = or != compare; other values match as substrings. Clauses are combined with AND.`,
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"filter_map": {
					Type:     schema.Object,
					Desc:     "Object of column -> value. Columns: " + strings.Join(model.MovieColumns, ", ") + ".",
					Required: true,
				},
				"limit": limitParam(true),
			}),
		}, m.Filter),
		utils.NewTool(&schema.ToolInfo{
			Name: ToolSQLAggregate,
			Desc: "Aggregate a column grouped by another column, e.g. average IMDB_Rating per Director, total Gross per Genre, COUNT of movies per Director.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"column":   columnParam("Column to aggregate.", true),
				"group_by": columnParam("Column to group by.", true),
				"limit":    limitParam(true),
				"operation": {
					Type: schema.String,
					Desc: "AVG (default), SUM, COUNT, MAX or MIN.",
					Enum: []string{"AVG", "SUM", "COUNT", "MAX", "MIN"},
				},
				"order": {
					Type: schema.String,
					Desc: "DESC (default) or ASC.",
					Enum: []string{"DESC", "ASC"},
				},
			}),
		}, m.Aggregate),
		utils.NewTool(&schema.ToolInfo{
			Name: ToolSQLUniqueValues,
			Desc: "List the distinct values of a column. Values are case sensitive (Horror != horror), so call this before filtering by a genre or a person when unsure of the spelling.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"column": columnParam("Column to list.", true),
			}),
		}, m.UniqueValues),
		utils.NewTool(&schema.ToolInfo{
			Name: ToolSQLMovieByID,
			Desc: "Fetch a full movie record by movie_id. Vector search result ids are movie_ids.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"movie_id": {Type: schema.Integer, Desc: "The movie_id.", Required: true},
			}),
		}, m.MovieByID),
	}
	if m.cfg.AllowRawQuery {
		ts = append(ts, utils.NewTool(&schema.ToolInfo{
			Name: ToolSQLQuery,
			Desc: "Execute a single read-only SELECT on the " + m.cfg.Table + " table. Only use it when no other tool can answer.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"query": {Type: schema.String, Desc: "The SELECT statement.", Required: true},
			}),
		}, m.RawQuery))
	}
	return ts
}

// PosterTool looks up a poster link; it belongs to the Semantic set.
func (m *MovieSQL) PosterTool() tool.InvokableTool {
	return utils.NewTool(&schema.ToolInfo{
		Name: ToolSQLPoster,
		Desc: "Get the poster link of a movie by movie_id. Meant to be used with vector search results.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"movie_id": {Type: schema.Integer, Desc: "The movie_id.", Required: true},
		}),
	}, m.Poster)
}
