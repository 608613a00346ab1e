// Package dialect abstracts the SQL differences between the supported
// database backends. Only the small surface the schema generator and the
// statement builder need is covered; everything else belongs to the driver.
package dialect

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// Dialect describes backend-specific SQL rendering.
type Dialect interface {
	// Name returns the dialect identifier ("sqlite" or "postgres").
	Name() string

	// Quote quotes an identifier.
	Quote(ident string) string

	// ColumnType maps a Go type to the backend column type. size is the
	// optional length hint from the column tag (0 means unspecified).
	ColumnType(t reflect.Type, size int) string

	// AutoIncrementPK renders the column definition for an auto-incrementing
	// integer primary key.
	AutoIncrementPK() string

	// UsesReturning reports whether INSERT must use a RETURNING clause to
	// obtain generated keys instead of sql.Result.LastInsertId.
	UsesReturning() bool

	// TableNamesQuery returns the statement listing user tables.
	TableNamesQuery() string
}

// ForURL selects the dialect for a database URL. The scheme decides:
// sqlite:// maps to SQLite, postgres:// and postgresql:// to PostgreSQL.
func ForURL(url string) (Dialect, error) {
	switch {
	case strings.HasPrefix(url, "sqlite:"):
		return SQLite{}, nil
	case strings.HasPrefix(url, "postgres:"), strings.HasPrefix(url, "postgresql:"):
		return Postgres{}, nil
	default:
		return nil, fmt.Errorf("dialect: unsupported database URL %q (expected sqlite:// or postgres://)", url)
	}
}

// Rebind rewrites ? placeholders into the dialect's positional form.
// SQLite keeps ?, PostgreSQL gets $1..$n. Placeholders inside quoted
// literals are not handled; the builders never produce those.
func Rebind(d Dialect, query string) string {
	if d.Name() != "postgres" {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// quoteQualified quotes an identifier, treating dots as schema separators so
// schema-qualified table names render as "schema"."table".
func quoteQualified(ident string) string {
	parts := strings.Split(ident, ".")
	for i, p := range parts {
		parts[i] = `"` + p + `"`
	}
	return strings.Join(parts, ".")
}

var timeType = reflect.TypeOf(time.Time{})

// SQLite renders SQL for the modernc.org/sqlite driver.
type SQLite struct{}

func (SQLite) Name() string { return "sqlite" }

func (SQLite) Quote(ident string) string { return quoteQualified(ident) }

func (SQLite) ColumnType(t reflect.Type, size int) string {
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == timeType {
		return "DATETIME"
	}
	switch t.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return "INTEGER"
	case reflect.Bool:
		return "BOOLEAN"
	case reflect.Float32, reflect.Float64:
		return "REAL"
	case reflect.Slice:
		if t.Elem().Kind() == reflect.Uint8 {
			return "BLOB"
		}
	}
	// SQLite ignores VARCHAR lengths, but keeping them makes the generated
	// schema readable and portable.
	if size > 0 {
		return fmt.Sprintf("VARCHAR(%d)", size)
	}
	return "TEXT"
}

func (SQLite) AutoIncrementPK() string { return "INTEGER PRIMARY KEY AUTOINCREMENT" }

func (SQLite) UsesReturning() bool { return false }

func (SQLite) TableNamesQuery() string {
	return `SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%'`
}

// Postgres renders SQL for the pgx stdlib driver.
type Postgres struct{}

func (Postgres) Name() string { return "postgres" }

func (Postgres) Quote(ident string) string { return quoteQualified(ident) }

func (Postgres) ColumnType(t reflect.Type, size int) string {
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == timeType {
		return "TIMESTAMPTZ"
	}
	switch t.Kind() {
	case reflect.Int, reflect.Int64, reflect.Uint, reflect.Uint32, reflect.Uint64:
		return "BIGINT"
	case reflect.Int8, reflect.Int16, reflect.Int32, reflect.Uint8, reflect.Uint16:
		return "INTEGER"
	case reflect.Bool:
		return "BOOLEAN"
	case reflect.Float32:
		return "REAL"
	case reflect.Float64:
		return "DOUBLE PRECISION"
	case reflect.Slice:
		if t.Elem().Kind() == reflect.Uint8 {
			return "BYTEA"
		}
	}
	if size > 0 {
		return fmt.Sprintf("VARCHAR(%d)", size)
	}
	return "TEXT"
}

func (Postgres) AutoIncrementPK() string { return "BIGSERIAL PRIMARY KEY" }

func (Postgres) UsesReturning() bool { return true }

func (Postgres) TableNamesQuery() string {
	return `SELECT tablename FROM pg_tables WHERE schemaname = current_schema()`
}
