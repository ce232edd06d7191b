package seed

import (
	"context"
	"fmt"
	"strings"

	"github.com/cinephile-gpt/server/internal/agent/model"
	errx "github.com/cinephile-gpt/server/internal/core/error"
	logx "github.com/cinephile-gpt/server/pkg/logger"
	"github.com/cinephile-gpt/server/pkg/sqldb"
)

func columnType(c string) string {
	switch c {
	case model.ColMovieID:
		return "INTEGER PRIMARY KEY"
	case model.ColIMDBRating:
		return "REAL"
	case model.ColReleasedYear, model.ColRuntime, model.ColMetaScore:
		return "INTEGER"
	case model.ColNoOfVotes, model.ColGross:
		return "BIGINT"
	default:
		return "TEXT"
	}
}

func createTableSQL(cfg sqldb.Config) string {
	cols := make([]string, 0, len(model.MovieColumns))
	for _, c := range model.MovieColumns {
		cols = append(cols, cfg.QuoteIdent(c)+" "+columnType(c))
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", cfg.QuoteIdent(cfg.Table), strings.Join(cols, ", "))
}

func insertSQL(cfg sqldb.Config) string {
	cols := make([]string, 0, len(model.MovieColumns))
	for _, c := range model.MovieColumns {
		cols = append(cols, cfg.QuoteIdent(c))
	}
	marks := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")
	return cfg.Rebind(fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", cfg.QuoteIdent(cfg.Table), strings.Join(cols, ", "), marks))
}

// SeedSQL creates the movie table when missing and loads movies into it if
// it is empty. It returns the number of inserted rows.
func SeedSQL(ctx context.Context, cfg sqldb.Config, movies []Movie) (int, error) {
	db, err := cfg.Open(ctx)
	if err != nil {
		return 0, errx.WrapSQL(err)
	}
	defer db.Close()

	if _, err := db.ExecContext(ctx, createTableSQL(cfg)); err != nil {
		return 0, errx.WrapSQL(fmt.Errorf("create table: %w", err))
	}

	var count int64
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+cfg.QuoteIdent(cfg.Table)).Scan(&count); err != nil {
		return 0, errx.WrapSQL(fmt.Errorf("count rows: %w", err))
	}
	if count > 0 {
		logx.Info().Str("table", cfg.Table).Int64("rows", count).Msg("Table already populated, skipping")
		return 0, nil
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, errx.WrapSQL(err)
	}
	stmt, err := tx.PrepareContext(ctx, insertSQL(cfg))
	if err != nil {
		_ = tx.Rollback()
		return 0, errx.WrapSQL(fmt.Errorf("prepare insert: %w", err))
	}
	defer stmt.Close()

	for _, m := range movies {
		args := make([]any, 0, len(model.MovieColumns))
		args = append(args, m.ID)
		for _, c := range csvColumns {
			args = append(args, sqlValue(c, m.Fields[c]))
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			_ = tx.Rollback()
			return 0, errx.WrapSQL(fmt.Errorf("insert movie %d: %w", m.ID, err))
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, errx.WrapSQL(err)
	}

	logx.Info().Str("table", cfg.Table).Int("rows", len(movies)).Msg("Seeded movie table")
	return len(movies), nil
}
