// Package sqldb opens a database from a single URL, picking the driver from
// its scheme.
package sqldb

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "github.com/tursodatabase/libsql-client-go/libsql"
	_ "modernc.org/sqlite"
)

type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectLibSQL   Dialect = "libsql"
	DialectPostgres Dialect = "postgres"
)

func init() {
	sqlx.BindDriver("sqlite", sqlx.QUESTION)
	sqlx.BindDriver("libsql", sqlx.QUESTION)
}

// Target is a resolved database URL.
type Target struct {
	Driver  string
	DSN     string
	Dialect Dialect
}

// Resolve maps a database URL onto a driver:
//   - postgres://, postgresql:// (and the postgresql+driver:// forms other
//     tooling writes) use pgx
//   - libsql://, http(s)://, ws(s):// use the libsql client
//   - sqlite://, file: and plain paths (or :memory:) use sqlite
func Resolve(url string) (Target, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return Target{}, fmt.Errorf("a database url was not specified")
	}

	scheme, rest, hasScheme := strings.Cut(url, "://")
	if !hasScheme {
		if strings.HasPrefix(url, "sqlite:") {
			return Target{Driver: "sqlite", DSN: strings.TrimPrefix(url, "sqlite:"), Dialect: DialectSQLite}, nil
		}
		return Target{Driver: "sqlite", DSN: url, Dialect: DialectSQLite}, nil
	}

	base, _, _ := strings.Cut(strings.ToLower(scheme), "+")
	switch base {
	case "postgres", "postgresql":
		return Target{Driver: "pgx", DSN: "postgres://" + rest, Dialect: DialectPostgres}, nil
	case "libsql", "http", "https", "ws", "wss":
		return Target{Driver: "libsql", DSN: url, Dialect: DialectLibSQL}, nil
	case "sqlite", "sqlite3":
		return Target{Driver: "sqlite", DSN: rest, Dialect: DialectSQLite}, nil
	}
	return Target{}, fmt.Errorf("unsupported database url scheme %q", scheme)
}

func isMemory(dsn string) bool {
	return dsn == ":memory:" || strings.Contains(dsn, "mode=memory")
}

// Open resolves url and opens the database with per driver pool settings.
func Open(url string) (*sqlx.DB, Target, error) {
	target, err := Resolve(url)
	if err != nil {
		return nil, target, err
	}

	if target.Dialect == DialectSQLite && !isMemory(target.DSN) && !strings.HasPrefix(target.DSN, "file:") {
		dir := filepath.Dir(target.DSN)
		err = os.MkdirAll(dir, 0755)
		if err != nil {
			return nil, target, err
		}
	}

	db, err := sqlx.Open(target.Driver, target.DSN)
	if err != nil {
		return nil, target, err
	}

	switch target.Dialect {
	case DialectSQLite:
		// see this stackoverflow post for information on why the following
		// lines exist: https://stackoverflow.com/questions/35804884/sqlite-concurrent-writing-performance
		db.SetMaxOpenConns(1)
		if !isMemory(target.DSN) {
			_, err = db.Exec("PRAGMA journal_mode=WAL")
			if err != nil {
				db.Close()
				return nil, target, err
			}
		}
	case DialectPostgres:
		// short lived runs, connections are not kept around between them
		db.SetMaxIdleConns(0)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	return db, target, nil
}
