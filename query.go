package echorm

import (
	"context"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"echorm/internal/cache"
	"echorm/internal/dialect"
)

// Query builds and runs a SELECT over one model's table inside a session.
// Methods chain; the first error sticks and surfaces on execution.
type Query struct {
	sess *Session
	info *TableInfo
	err  error

	conds  []queryCond
	order  string
	limit  int
	offset int
}

type queryCond struct {
	expr string
	args []any
}

// Filter adds a WHERE condition with ? placeholders. Multiple filters are
// joined with AND.
func (q *Query) Filter(expr string, args ...any) *Query {
	q.conds = append(q.conds, queryCond{expr: expr, args: args})
	return q
}

// OrderBy sets the ORDER BY expression.
func (q *Query) OrderBy(expr string) *Query {
	q.order = expr
	return q
}

// Limit caps the number of returned rows. Zero means no limit.
func (q *Query) Limit(n int) *Query {
	q.limit = n
	return q
}

// Offset skips the first n rows.
func (q *Query) Offset(n int) *Query {
	q.offset = n
	return q
}

// All executes the query into dest, which must be a pointer to a slice of
// the model type or of pointers to it. Loaded objects join the session's
// identity map.
func (q *Query) All(ctx context.Context, dest any) error {
	if q.err != nil {
		return q.err
	}
	slice := reflect.ValueOf(dest)
	if slice.Kind() != reflect.Pointer || slice.Elem().Kind() != reflect.Slice {
		return fmt.Errorf("echorm: All requires a pointer to a slice, got %T", dest)
	}
	elemType := slice.Elem().Type().Elem()
	byPtr := elemType.Kind() == reflect.Pointer
	structType := elemType
	if byPtr {
		structType = elemType.Elem()
	}
	if structType != q.info.GoType {
		return fmt.Errorf("echorm: All destination element is %s, model is %s", structType, q.info.GoType)
	}

	eng, err := q.sess.db.EngineFor(ctx, q.info.BindKey)
	if err != nil {
		return err
	}
	d := eng.Dialect()
	query, args := q.buildSelect(d, columnList(d, q.info))

	start := time.Now()
	rows, err := eng.DB().QueryContext(ctx, query, args...)
	q.sess.rec.observe("select", query, args, start)
	if err != nil {
		return fmt.Errorf("echorm: select from %s: %w", q.info.Name, err)
	}
	defer rows.Close()

	out := slice.Elem()
	out.SetLen(0)
	for rows.Next() {
		item := reflect.New(q.info.GoType)
		if err := scanInto(rows, q.info, item.Interface()); err != nil {
			return err
		}
		q.sess.track(item.Interface(), q.info)
		if byPtr {
			out = reflect.Append(out, item)
		} else {
			out = reflect.Append(out, item.Elem())
		}
	}
	slice.Elem().Set(out)
	return rows.Err()
}

// First executes the query limited to one row. ErrNotFound when empty.
func (q *Query) First(ctx context.Context, dest any) error {
	if q.err != nil {
		return q.err
	}
	if err := mustPointer(dest); err != nil {
		return err
	}

	eng, err := q.sess.db.EngineFor(ctx, q.info.BindKey)
	if err != nil {
		return err
	}
	d := eng.Dialect()
	limited := *q
	limited.limit = 1
	query, args := limited.buildSelect(d, columnList(d, q.info))

	start := time.Now()
	row := eng.DB().QueryRowContext(ctx, query, args...)
	err = scanInto(row, q.info, dest)
	q.sess.rec.observe("select", query, args, start)
	if err != nil {
		return err
	}
	q.sess.track(dest, q.info)
	return nil
}

// Count runs SELECT COUNT(*) with the query's filters.
func (q *Query) Count(ctx context.Context) (int64, error) {
	if q.err != nil {
		return 0, q.err
	}
	eng, err := q.sess.db.EngineFor(ctx, q.info.BindKey)
	if err != nil {
		return 0, err
	}
	d := eng.Dialect()
	counting := *q
	counting.order = ""
	counting.limit = 0
	counting.offset = 0
	query, args := counting.buildSelect(d, "COUNT(*)")

	start := time.Now()
	var n int64
	err = eng.DB().QueryRowContext(ctx, query, args...).Scan(&n)
	q.sess.rec.observe("select", query, args, start)
	if err != nil {
		return 0, fmt.Errorf("echorm: count %s: %w", q.info.Name, err)
	}
	return n, nil
}

// cachedCount consults the extension's cache before counting. Used by
// Paginate, where totals are recomputed on every page request.
func (q *Query) cachedCount(ctx context.Context, ttl time.Duration) (int64, error) {
	c := q.sess.db.cache
	if c == nil {
		return q.Count(ctx)
	}

	eng, err := q.sess.db.EngineFor(ctx, q.info.BindKey)
	if err != nil {
		return 0, err
	}
	counting := *q
	counting.order = ""
	counting.limit = 0
	counting.offset = 0
	stmt, args := counting.buildSelect(eng.Dialect(), "COUNT(*)")
	key := cache.Key("count:"+bindLabel(q.info.BindKey), stmt, args...)

	if buf, ok, err := c.Get(ctx, key); err == nil && ok {
		if n, perr := strconv.ParseInt(string(buf), 10, 64); perr == nil {
			return n, nil
		}
	} else if err != nil {
		q.sess.db.log.Warn("count cache read failed", "error", err)
	}

	n, err := q.Count(ctx)
	if err != nil {
		return 0, err
	}
	if err := c.Set(ctx, key, []byte(strconv.FormatInt(n, 10)), ttl); err != nil {
		q.sess.db.log.Warn("count cache write failed", "error", err)
	}
	return n, nil
}

// buildSelect renders the statement with dialect placeholders.
func (q *Query) buildSelect(d dialect.Dialect, projection string) (string, []any) {
	var b strings.Builder
	var args []any

	fmt.Fprintf(&b, "SELECT %s FROM %s", projection, d.Quote(q.info.QualifiedName()))
	for i, c := range q.conds {
		if i == 0 {
			b.WriteString(" WHERE ")
		} else {
			b.WriteString(" AND ")
		}
		b.WriteString("(" + c.expr + ")")
		for _, a := range c.args {
			args = append(args, bindValue(d, a))
		}
	}
	if q.order != "" {
		b.WriteString(" ORDER BY " + q.order)
	}
	if q.limit > 0 {
		fmt.Fprintf(&b, " LIMIT %d", q.limit)
	}
	if q.offset > 0 {
		fmt.Fprintf(&b, " OFFSET %d", q.offset)
	}
	return dialect.Rebind(d, b.String()), args
}
