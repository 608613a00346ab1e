package echorm

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/google/uuid"

	"echorm/internal/dialect"
)

// Operation classifies a committed change.
type Operation string

const (
	OpInsert Operation = "insert"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// Change is one model-level mutation delivered through the commit signals.
type Change struct {
	Model any
	Op    Operation
}

// Session is a unit of work over the extension's engines. It tracks pending
// inserts and deletes, keeps value snapshots of loaded objects for dirty
// detection, and writes everything in per-engine transactions on Commit.
//
// A session belongs to one scope (one request, usually) and is not safe for
// concurrent use; that mirrors the scoping discipline of the wrapped
// toolkit's own sessions.
type Session struct {
	db  *DB
	id  string
	rec *recorder

	scopeKey any

	pending []any
	deletes []any
	tracked map[any]*trackedObject

	closed bool
}

type trackedObject struct {
	info     *TableInfo
	snapshot []any
}

// snapshotPK returns the primary key value as of the last load or commit.
func (t *trackedObject) snapshotPK() any {
	for i, col := range t.info.Columns {
		if col == t.info.PK {
			return t.snapshot[i]
		}
	}
	return nil
}

func (db *DB) newSession() *Session {
	return &Session{
		db:      db,
		id:      uuid.NewString(),
		rec:     &recorder{enabled: db.cfg.RecordQueries},
		tracked: make(map[any]*trackedObject),
	}
}

// ID returns the session's identifier, used in log lines.
func (s *Session) ID() string { return s.id }

// DB returns the owning extension.
func (s *Session) DB() *DB { return s.db }

func (s *Session) isClosed() bool { return s.closed }

// Add queues a model instance for insertion on the next commit. model must be
// a pointer to a registered struct type.
func (s *Session) Add(model any) error {
	if s.closed {
		return ErrSessionClosed
	}
	if err := mustPointer(model); err != nil {
		return err
	}
	if _, err := s.db.meta.Lookup(model); err != nil {
		return err
	}
	if s.Contains(model) {
		return nil
	}
	s.pending = append(s.pending, model)
	return nil
}

// Delete queues a tracked model instance for deletion on the next commit.
// Adding and deleting the same instance before a commit cancels the insert.
func (s *Session) Delete(model any) error {
	if s.closed {
		return ErrSessionClosed
	}
	for i, p := range s.pending {
		if p == model {
			s.pending = append(s.pending[:i], s.pending[i+1:]...)
			return nil
		}
	}
	if _, ok := s.tracked[model]; !ok {
		return ErrNotPersistent
	}
	for _, d := range s.deletes {
		if d == model {
			return nil
		}
	}
	s.deletes = append(s.deletes, model)
	return nil
}

// Contains reports whether the session tracks the instance, either as a
// pending insert or as a loaded object.
func (s *Session) Contains(model any) bool {
	for _, p := range s.pending {
		if p == model {
			return true
		}
	}
	_, ok := s.tracked[model]
	return ok
}

// Commit writes all pending changes, fires BeforeCommit with the change set
// before touching the database and ModelsCommitted after every involved
// engine committed. A session with no changes commits as a no-op without
// firing signals.
func (s *Session) Commit(ctx context.Context) error {
	if s.closed {
		return ErrSessionClosed
	}

	changes, err := s.changeset()
	if err != nil {
		return err
	}
	if len(changes) == 0 {
		return nil
	}

	s.db.BeforeCommit.Send(changes)

	if err := s.write(ctx, changes); err != nil {
		return err
	}

	s.db.ModelsCommitted.Send(changes)
	s.db.log.Debug("session committed", "session", s.id, "changes", len(changes))
	return nil
}

// Flush writes pending changes like Commit but fires no signals. It returns
// the changes it applied.
func (s *Session) Flush(ctx context.Context) ([]Change, error) {
	if s.closed {
		return nil, ErrSessionClosed
	}
	changes, err := s.changeset()
	if err != nil {
		return nil, err
	}
	if len(changes) == 0 {
		return nil, nil
	}
	if err := s.write(ctx, changes); err != nil {
		return nil, err
	}
	return changes, nil
}

// Rollback discards pending inserts and deletes and restores tracked objects
// to their last committed state.
func (s *Session) Rollback() {
	if s.closed {
		return
	}
	s.pending = nil
	s.deletes = nil
	for model, t := range s.tracked {
		v := reflect.ValueOf(model).Elem()
		for i, col := range t.info.Columns {
			restoreValue(col.fieldValue(v), t.snapshot[i])
		}
	}
}

// Close rolls back and detaches the session from its scope. A closed session
// rejects further work.
func (s *Session) Close() {
	if s.closed {
		return
	}
	s.Rollback()
	s.closed = true
	if s.scopeKey != nil {
		s.db.scopeMu.Lock()
		if s.db.scopes[s.scopeKey] == s {
			delete(s.db.scopes, s.scopeKey)
		}
		s.db.scopeMu.Unlock()
	}
}

// Get loads the row with the given primary key into dest and tracks it.
func (s *Session) Get(ctx context.Context, dest any, pk any) error {
	if s.closed {
		return ErrSessionClosed
	}
	if err := mustPointer(dest); err != nil {
		return err
	}
	info, err := s.db.meta.Lookup(dest)
	if err != nil {
		return err
	}
	eng, err := s.db.EngineFor(ctx, info.BindKey)
	if err != nil {
		return err
	}

	d := eng.Dialect()
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s = ?",
		columnList(d, info), d.Quote(info.QualifiedName()), d.Quote(info.PK.Name))
	query = dialect.Rebind(d, query)

	args := []any{bindValue(d, pk)}
	start := time.Now()
	row := eng.DB().QueryRowContext(ctx, query, args...)
	err = scanInto(row, info, dest)
	s.rec.observe("select", query, args, start)
	if err != nil {
		return err
	}
	s.track(dest, info)
	return nil
}

// Query starts a query over the model's table in this session.
func (s *Session) Query(model any) *Query {
	q := &Query{sess: s}
	info, err := s.db.meta.Lookup(model)
	if err != nil {
		q.err = err
		return q
	}
	q.info = info
	return q
}

// track registers an instance as persistent with a fresh snapshot.
func (s *Session) track(model any, info *TableInfo) {
	v := reflect.ValueOf(model).Elem()
	s.tracked[model] = &trackedObject{info: info, snapshot: snapshotOf(v, info)}
}

// changeset collects inserts, dirty updates, and deletes, in that order.
func (s *Session) changeset() ([]Change, error) {
	var changes []Change

	for _, model := range s.pending {
		changes = append(changes, Change{Model: model, Op: OpInsert})
	}

	deleting := make(map[any]bool, len(s.deletes))
	for _, model := range s.deletes {
		deleting[model] = true
	}

	for model, t := range s.tracked {
		if deleting[model] {
			continue
		}
		v := reflect.ValueOf(model).Elem()
		if dirtyColumns(v, t) != nil {
			changes = append(changes, Change{Model: model, Op: OpUpdate})
		}
	}

	for _, model := range s.deletes {
		changes = append(changes, Change{Model: model, Op: OpDelete})
	}

	return changes, nil
}

// write applies the change set inside one transaction per involved engine.
// Either every engine commits or every transaction is rolled back.
func (s *Session) write(ctx context.Context, changes []Change) error {
	txs := make(map[string]*sql.Tx)
	engines := make(map[string]*Engine)

	rollbackAll := func() {
		for bind, tx := range txs {
			if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
				s.db.log.Error("rollback failed", "session", s.id, "bind", bindLabel(bind), "error", err)
			}
		}
	}

	txFor := func(info *TableInfo) (*sql.Tx, *Engine, error) {
		if tx, ok := txs[info.BindKey]; ok {
			return tx, engines[info.BindKey], nil
		}
		eng, err := s.db.EngineFor(ctx, info.BindKey)
		if err != nil {
			return nil, nil, err
		}
		tx, err := eng.DB().BeginTx(ctx, nil)
		if err != nil {
			return nil, nil, fmt.Errorf("echorm: begin transaction on %q: %w", bindLabel(info.BindKey), err)
		}
		txs[info.BindKey] = tx
		engines[info.BindKey] = eng
		return tx, eng, nil
	}

	for _, ch := range changes {
		info, err := s.db.meta.Lookup(ch.Model)
		if err != nil {
			rollbackAll()
			return err
		}
		tx, eng, err := txFor(info)
		if err != nil {
			rollbackAll()
			return err
		}

		switch ch.Op {
		case OpInsert:
			err = s.execInsert(ctx, tx, eng, info, ch.Model)
		case OpUpdate:
			err = s.execUpdate(ctx, tx, eng, info, ch.Model)
		case OpDelete:
			err = s.execDelete(ctx, tx, eng, info, ch.Model)
		}
		if err != nil {
			rollbackAll()
			return err
		}
	}

	for bind, tx := range txs {
		if err := tx.Commit(); err != nil {
			rollbackAll()
			return fmt.Errorf("echorm: commit on %q: %w", bindLabel(bind), err)
		}
	}

	// Bookkeeping only after every engine committed.
	for _, ch := range changes {
		info, _ := s.db.meta.Lookup(ch.Model)
		switch ch.Op {
		case OpInsert, OpUpdate:
			s.track(ch.Model, info)
		case OpDelete:
			delete(s.tracked, ch.Model)
		}
	}
	s.pending = nil
	s.deletes = nil
	return nil
}

func (s *Session) execInsert(ctx context.Context, tx *sql.Tx, eng *Engine, info *TableInfo, model any) error {
	d := eng.Dialect()
	v := reflect.ValueOf(model).Elem()

	var cols []string
	var placeholders []string
	var args []any
	for _, col := range info.Columns {
		fv := col.fieldValue(v)
		if col.AutoIncrement && fv.IsZero() {
			continue
		}
		cols = append(cols, d.Quote(col.Name))
		placeholders = append(placeholders, "?")
		args = append(args, bindValue(d, fv.Interface()))
	}

	var query string
	if len(cols) == 0 {
		// Only an unset generated key: both backends accept DEFAULT VALUES.
		query = fmt.Sprintf("INSERT INTO %s DEFAULT VALUES", d.Quote(info.QualifiedName()))
	} else {
		query = fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
			d.Quote(info.QualifiedName()), strings.Join(cols, ", "), strings.Join(placeholders, ", "))
	}

	returning := info.PK.AutoIncrement && info.PK.fieldValue(v).IsZero()
	start := time.Now()
	var err error
	if returning && d.UsesReturning() {
		query += " RETURNING " + d.Quote(info.PK.Name)
		var id int64
		err = tx.QueryRowContext(ctx, dialect.Rebind(d, query), args...).Scan(&id)
		if err == nil {
			setIntField(info.PK.fieldValue(v), id)
		}
	} else {
		var res sql.Result
		res, err = tx.ExecContext(ctx, dialect.Rebind(d, query), args...)
		if err == nil && returning {
			if id, idErr := res.LastInsertId(); idErr == nil {
				setIntField(info.PK.fieldValue(v), id)
			}
		}
	}
	s.rec.observe("insert", query, args, start)
	if err != nil {
		return fmt.Errorf("echorm: insert into %s: %w", info.Name, err)
	}
	return nil
}

func (s *Session) execUpdate(ctx context.Context, tx *sql.Tx, eng *Engine, info *TableInfo, model any) error {
	d := eng.Dialect()
	v := reflect.ValueOf(model).Elem()

	t, ok := s.tracked[model]
	if !ok {
		return ErrNotPersistent
	}
	dirty := dirtyColumns(v, t)
	if dirty == nil {
		return nil
	}

	var sets []string
	var args []any
	for _, col := range dirty {
		sets = append(sets, d.Quote(col.Name)+" = ?")
		args = append(args, bindValue(d, col.fieldValue(v).Interface()))
	}
	// Match on the key the row was loaded with, not the current field value,
	// so a mutated key updates the existing row.
	args = append(args, bindValue(d, t.snapshotPK()))

	query := fmt.Sprintf("UPDATE %s SET %s WHERE %s = ?",
		d.Quote(info.QualifiedName()), strings.Join(sets, ", "), d.Quote(info.PK.Name))

	start := time.Now()
	_, err := tx.ExecContext(ctx, dialect.Rebind(d, query), args...)
	s.rec.observe("update", query, args, start)
	if err != nil {
		return fmt.Errorf("echorm: update %s: %w", info.Name, err)
	}
	return nil
}

func (s *Session) execDelete(ctx context.Context, tx *sql.Tx, eng *Engine, info *TableInfo, model any) error {
	d := eng.Dialect()
	v := reflect.ValueOf(model).Elem()

	query := fmt.Sprintf("DELETE FROM %s WHERE %s = ?",
		d.Quote(info.QualifiedName()), d.Quote(info.PK.Name))
	pkVal := info.PK.fieldValue(v).Interface()
	if t, ok := s.tracked[model]; ok {
		pkVal = t.snapshotPK()
	}
	args := []any{bindValue(d, pkVal)}

	start := time.Now()
	_, err := tx.ExecContext(ctx, dialect.Rebind(d, query), args...)
	s.rec.observe("delete", query, args, start)
	if err != nil {
		return fmt.Errorf("echorm: delete from %s: %w", info.Name, err)
	}
	return nil
}

// dirtyColumns returns the columns whose current value differs from the
// snapshot, or nil when the object is clean.
func dirtyColumns(v reflect.Value, t *trackedObject) []*Column {
	var dirty []*Column
	for i, col := range t.info.Columns {
		cur := normalizeValue(col.fieldValue(v).Interface())
		if !reflect.DeepEqual(cur, t.snapshot[i]) {
			dirty = append(dirty, col)
		}
	}
	return dirty
}

func snapshotOf(v reflect.Value, info *TableInfo) []any {
	snap := make([]any, len(info.Columns))
	for i, col := range info.Columns {
		snap[i] = normalizeValue(col.fieldValue(v).Interface())
	}
	return snap
}

// normalizeValue produces a comparable copy of a field value for snapshots.
func normalizeValue(val any) any {
	switch v := val.(type) {
	case []byte:
		return string(v)
	case time.Time:
		return v.UTC().Format(time.RFC3339Nano)
	default:
		return val
	}
}

// restoreValue writes a snapshot value back into a struct field.
func restoreValue(f reflect.Value, snap any) {
	if snap == nil {
		f.SetZero()
		return
	}
	switch f.Interface().(type) {
	case []byte:
		f.SetBytes([]byte(snap.(string)))
		return
	case time.Time:
		if ts, err := time.Parse(time.RFC3339Nano, snap.(string)); err == nil {
			f.Set(reflect.ValueOf(ts))
		}
		return
	}
	sv := reflect.ValueOf(snap)
	if sv.Type().AssignableTo(f.Type()) {
		f.Set(sv)
	}
}

// bindValue converts a Go value to a driver-friendly argument. SQLite gets
// times as RFC3339 text so round-trips are deterministic; pgx handles
// time.Time natively.
func bindValue(d dialect.Dialect, val any) any {
	if ts, ok := val.(time.Time); ok && d.Name() == "sqlite" {
		return ts.UTC().Format(time.RFC3339Nano)
	}
	return val
}

func setIntField(f reflect.Value, id int64) {
	switch f.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		f.SetInt(id)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		f.SetUint(uint64(id))
	}
}

func mustPointer(model any) error {
	v := reflect.ValueOf(model)
	if v.Kind() != reflect.Pointer || v.IsNil() || v.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("echorm: model must be a non-nil pointer to a struct, got %T", model)
	}
	return nil
}

func columnList(d dialect.Dialect, info *TableInfo) string {
	names := make([]string, len(info.Columns))
	for i, c := range info.Columns {
		names[i] = d.Quote(c.Name)
	}
	return strings.Join(names, ", ")
}
