package echorm

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib" // postgres driver
	_ "modernc.org/sqlite"             // pure Go sqlite driver

	"echorm/internal/dialect"
)

// Engine wraps one database handle together with its dialect. Engines are
// created lazily by the extension the first time a bind is used and reused
// afterwards; the pool inside *sql.DB is owned by the driver.
type Engine struct {
	db      *sql.DB
	url     string
	bind    string
	dialect dialect.Dialect
}

// DB exposes the underlying handle for direct use alongside sessions.
func (e *Engine) DB() *sql.DB { return e.db }

// URL returns the configured database URL.
func (e *Engine) URL() string { return e.url }

// BindKey returns the bind key this engine serves; empty for the default.
func (e *Engine) BindKey() string { return e.bind }

// Dialect returns the SQL dialect for this engine.
func (e *Engine) Dialect() dialect.Dialect { return e.dialect }

// TableNames lists the user tables currently present on this engine.
func (e *Engine) TableNames(ctx context.Context) ([]string, error) {
	rows, err := e.db.QueryContext(ctx, e.dialect.TableNamesQuery())
	if err != nil {
		return nil, fmt.Errorf("echorm: list tables: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("echorm: list tables: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// Close closes the underlying handle.
func (e *Engine) Close() error {
	if e.db == nil {
		return nil
	}
	return e.db.Close()
}

// openEngine dials a database URL. Supported forms:
//
//	sqlite://                in-memory database
//	sqlite:///path/to/db     file database (directories are created)
//	postgres://user@host/db  postgres via the pgx stdlib driver
func openEngine(ctx context.Context, url, bind string) (*Engine, error) {
	d, err := dialect.ForURL(url)
	if err != nil {
		return nil, err
	}

	var db *sql.DB
	switch d.Name() {
	case "sqlite":
		db, err = openSQLite(strings.TrimPrefix(url, "sqlite://"))
	default:
		db, err = sql.Open("pgx", url)
	}
	if err != nil {
		return nil, fmt.Errorf("echorm: open %s engine: %w", d.Name(), err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("echorm: ping %s engine: %w", d.Name(), err)
	}

	return &Engine{db: db, url: url, bind: bind, dialect: d}, nil
}

func openSQLite(path string) (*sql.DB, error) {
	dsn := ":memory:"
	if path != "" && path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." && dir != "/" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
			}
		}
		// WAL mode allows concurrent reads while writing.
		dsn = path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}

	// SQLite allows a single writer; a second connection would also see a
	// different database entirely in the :memory: case.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	return db, nil
}
