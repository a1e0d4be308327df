// Package db opens the message archive database. DSNs select the backend by scheme:
// postgres:// or postgresql:// use pgx, sqlite3:// uses a local SQLite file.
package db

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
)

// Dialect names the SQL backend behind a DSN. Its value is also the migrations subdirectory.
type Dialect string

const (
	Postgres Dialect = "postgres"
	SQLite   Dialect = "sqlite3"
)

const sqliteScheme = "sqlite3://"

// ParseDSN returns the dialect of dsn and the data source name its driver expects.
func ParseDSN(dsn string) (Dialect, string, error) {
	dsn = strings.TrimSpace(dsn)
	switch {
	case dsn == "":
		return "", "", errors.New("db: empty DSN")
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return Postgres, dsn, nil
	case strings.HasPrefix(dsn, sqliteScheme):
		path := strings.TrimPrefix(dsn, sqliteScheme)
		if path == "" {
			return "", "", errors.New("db: sqlite3 DSN has no path")
		}
		return SQLite, path, nil
	default:
		return "", "", fmt.Errorf("db: unsupported DSN scheme in %q", dsn)
	}
}

// Open opens and pings the database named by dsn. Caller must call Close when done.
func Open(dsn string) (*sql.DB, Dialect, error) {
	dialect, source, err := ParseDSN(dsn)
	if err != nil {
		return nil, "", err
	}
	driver := "pgx"
	if dialect == SQLite {
		driver = "sqlite3"
		source = withParams(source, "_busy_timeout=5000&_journal_mode=WAL")
	}
	conn, err := sql.Open(driver, source)
	if err != nil {
		return nil, "", err
	}
	if dialect == SQLite {
		// One writer at a time; database/sql would otherwise race on the file lock.
		conn.SetMaxOpenConns(1)
	}
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, "", err
	}
	return conn, dialect, nil
}

func withParams(path, params string) string {
	if strings.Contains(path, "?") {
		return path + "&" + params
	}
	return path + "?" + params
}
