package model

// Movie columns of the top_movies table, in CSV order.
const (
	ColMovieID      = "movie_id"
	ColPosterLink   = "Poster_Link"
	ColSeriesTitle  = "Series_Title"
	ColReleasedYear = "Released_Year"
	ColCertificate  = "Certificate"
	ColRuntime      = "Runtime"
	ColGenre        = "Genre"
	ColIMDBRating   = "IMDB_Rating"
	ColOverview     = "Overview"
	ColMetaScore    = "Meta_score"
	ColDirector     = "Director"
	ColStar1        = "Star1"
	ColStar2        = "Star2"
	ColStar3        = "Star3"
	ColStar4        = "Star4"
	ColNoOfVotes    = "No_of_Votes"
	ColGross        = "Gross"
)

// MovieColumns lists every column the SQL tools may reference.
var MovieColumns = []string{
	ColMovieID, ColPosterLink, ColSeriesTitle, ColReleasedYear, ColCertificate,
	ColRuntime, ColGenre, ColIMDBRating, ColOverview, ColMetaScore, ColDirector,
	ColStar1, ColStar2, ColStar3, ColStar4, ColNoOfVotes, ColGross,
}

// SortableColumns are the numeric columns used for ranking and aggregation.
var SortableColumns = []string{
	ColIMDBRating, ColMetaScore, ColGross, ColNoOfVotes, ColReleasedYear, ColRuntime,
}

// VectorPayloadFields are stored on every Qdrant point.
var VectorPayloadFields = []string{
	ColSeriesTitle, ColReleasedYear, ColCertificate, ColGenre, ColOverview,
	ColDirector, ColStar1, ColStar2, ColStar3, ColStar4,
}

// VectorHit is one ranked vector search result.
type VectorHit struct {
	ID      any            `json:"id"`
	Score   float32        `json:"score"`
	Payload map[string]any `json:"payload"`
}

// IsMovieColumn reports whether name is a known column (exact match).
func IsMovieColumn(name string) bool {
	for _, c := range MovieColumns {
		if c == name {
			return true
		}
	}
	return false
}

// IsSortableColumn reports whether name is a known numeric column.
func IsSortableColumn(name string) bool {
	for _, c := range SortableColumns {
		if c == name {
			return true
		}
	}
	return false
}
