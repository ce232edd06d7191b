package sqldb

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config is bound from SQL_* variables.
type Config struct {
	Driver        string `envconfig:"SQL_DRIVER" default:"sqlite"`
	DSN           string `envconfig:"SQL_DSN" default:"file:cinephile.db"`
	Table         string `envconfig:"SQL_TABLE" default:"top_movies"`
	AllowRawQuery bool   `envconfig:"SQL_ALLOW_RAW_QUERY" default:"false"`
	ConnTimeout   int    `envconfig:"SQL_CONN_TIMEOUT" default:"5"`
}

// Validate checks the driver is one we ship.
func (c Config) Validate() error {
	switch c.Driver {
	case DriverSQLite, DriverPostgres:
	default:
		return fmt.Errorf("unsupported SQL_DRIVER %q", c.Driver)
	}
	if strings.TrimSpace(c.DSN) == "" {
		return fmt.Errorf("SQL_DSN is empty")
	}
	return nil
}

// Open opens a fresh handle and pings it. Callers close it when done; the
// tools open one per invocation.
func (c Config) Open(ctx context.Context) (*sql.DB, error) {
	db, err := sql.Open(c.Driver, c.DSN)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	timeout := time.Duration(c.ConnTimeout) * time.Second
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// Rebind rewrites '?' placeholders into the driver's bind style. Marks
// inside quoted literals or identifiers are left alone.
func (c Config) Rebind(query string) string {
	if c.Driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	var quote rune
	for _, r := range query {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			}
		case r == '\'' || r == '"':
			quote = r
		case r == '?':
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// QuoteIdent quotes a column or table name. Names are validated against a
// fixed vocabulary before they get here.
func (c Config) QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
