package seed

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/cinephile-gpt/server/internal/agent/model"
)

// Movie is one row of the IMDb top 1000 export. ID is the 1-based row number.
type Movie struct {
	ID     int64
	Fields map[string]string
}

// csvColumns are the columns read from the export, movie_id excluded.
var csvColumns = model.MovieColumns[1:]

// ReadMoviesFile opens path and parses it with ReadMovies.
func ReadMoviesFile(path string) ([]Movie, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadMovies(f)
}

// ReadMovies parses the CSV export. Columns are located by header name, so
// their order in the file does not matter.
func ReadMovies(r io.Reader) ([]Movie, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	index := make(map[string]int, len(header))
	for i, h := range header {
		index[strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))] = i
	}
	for _, c := range csvColumns {
		if _, ok := index[c]; !ok {
			return nil, fmt.Errorf("missing column %q", c)
		}
	}

	var movies []Movie
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		fields := make(map[string]string, len(csvColumns))
		for _, c := range csvColumns {
			if i := index[c]; i < len(rec) {
				fields[c] = strings.TrimSpace(rec[i])
			}
		}
		movies = append(movies, Movie{ID: int64(len(movies) + 1), Fields: fields})
	}
	return movies, nil
}

// Genres splits the comma separated Genre column.
func (m Movie) Genres() []string {
	var out []string
	for _, g := range strings.Split(m.Fields[model.ColGenre], ",") {
		if g = strings.TrimSpace(g); g != "" {
			out = append(out, g)
		}
	}
	return out
}

// EmbeddingText renders the vector payload as "Key: value" lines.
func (m Movie) EmbeddingText() string {
	var b strings.Builder
	for _, c := range model.VectorPayloadFields {
		fmt.Fprintf(&b, "%s: %s\n", c, m.Fields[c])
	}
	return b.String()
}

// sqlValue converts a raw CSV cell into the value stored for column c.
// Numeric columns drop thousands separators and Runtime keeps only its
// minutes; unparsable or empty cells become NULL.
func sqlValue(c, raw string) any {
	switch c {
	case model.ColIMDBRating:
		if f, err := strconv.ParseFloat(raw, 64); err == nil {
			return f
		}
		return nil
	case model.ColRuntime:
		if n, err := strconv.ParseInt(strings.TrimSpace(strings.TrimSuffix(raw, "min")), 10, 64); err == nil {
			return n
		}
		return nil
	case model.ColReleasedYear, model.ColMetaScore, model.ColNoOfVotes, model.ColGross:
		if n, err := strconv.ParseInt(strings.ReplaceAll(raw, ",", ""), 10, 64); err == nil {
			return n
		}
		return nil
	default:
		if raw == "" {
			return nil
		}
		return raw
	}
}
