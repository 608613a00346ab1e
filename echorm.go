// Package echorm binds database/sql engines to the Echo request lifecycle.
//
// The extension owns a set of lazily created engines (a default one plus any
// number of named binds), a model metadata registry, and per-request sessions
// that the middleware opens and tears down. Models are plain structs; table
// names, columns and bind routing are derived by reflection. The SQL engine,
// pooling and HTTP routing stay with the wrapped libraries.
package echorm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/labstack/echo/v4"

	"echorm/internal/cache"
)

// Config holds the extension configuration, the Go rendering of the
// configuration keys the integration exposes.
type Config struct {
	// DatabaseURL is the default engine's URL (sqlite:// or postgres://).
	DatabaseURL string

	// Binds maps bind keys to additional database URLs. Models carrying a
	// matching BindKey route to these engines.
	Binds map[string]string

	// CommitOnTeardown makes the middleware commit the request session when
	// the handler succeeds. Handler errors always roll back.
	CommitOnTeardown bool

	// RecordQueries captures every executed statement with its arguments,
	// duration and caller location, retrievable via DebugQueries.
	RecordQueries bool
}

// Option customizes a DB beyond Config.
type Option func(*DB)

// WithScopeFunc replaces request scoping with a custom scope function.
// Sessions are then shared between calls that produce the same scope key.
func WithScopeFunc(fn func(ctx context.Context) any) Option {
	return func(db *DB) { db.scopeFn = fn }
}

// WithMetadata supplies a custom metadata registry, typically to set a
// schema prefix on every table.
func WithMetadata(m *Metadata) Option {
	return func(db *DB) { db.meta = m }
}

// WithCache enables count caching for pagination through the given backend.
func WithCache(c cache.Cache) Option {
	return func(db *DB) { db.cache = c }
}

// WithLogger replaces the default slog logger.
func WithLogger(l *slog.Logger) Option {
	return func(db *DB) { db.log = l }
}

// DB is the extension object. One DB serves one configuration; engines are
// opened on first use and shared afterwards. Safe for concurrent use.
type DB struct {
	cfg     Config
	log     *slog.Logger
	meta    *Metadata
	cache   cache.Cache
	scopeFn func(ctx context.Context) any

	mu      sync.Mutex
	engines map[string]*Engine

	appMu      sync.Mutex
	app        *echo.Echo
	appSession *Session

	scopeMu sync.Mutex
	scopes  map[any]*Session

	// BeforeCommit fires with the pending change set before a session's
	// database commit. ModelsCommitted fires after a successful commit.
	BeforeCommit    *Signal[[]Change]
	ModelsCommitted *Signal[[]Change]
}

// New creates the extension. Engines are not dialed until first use.
func New(cfg Config, opts ...Option) (*DB, error) {
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("echorm: DatabaseURL is required")
	}

	db := &DB{
		cfg:             cfg,
		log:             slog.Default(),
		engines:         make(map[string]*Engine),
		scopes:          make(map[any]*Session),
		BeforeCommit:    NewSignal[[]Change](),
		ModelsCommitted: NewSignal[[]Change](),
	}
	for _, opt := range opts {
		opt(db)
	}
	if db.meta == nil {
		db.meta = NewMetadata("")
	}
	return db, nil
}

// Metadata returns the model registry.
func (db *DB) Metadata() *Metadata { return db.meta }

// Register derives metadata for the given model types.
func (db *DB) Register(models ...any) error {
	return db.meta.Register(models...)
}

// Config returns a copy of the extension configuration.
func (db *DB) Config() Config { return db.cfg }

// Attach registers the request middleware on e and binds e as the
// application, which makes the application-level session available outside
// requests. Use Middleware directly to wire requests without binding.
func (db *DB) Attach(e *echo.Echo) {
	e.Use(db.Middleware())
	db.appMu.Lock()
	if db.app == nil {
		db.app = e
	}
	db.appMu.Unlock()
}

// App returns the bound Echo instance, or nil when none was attached.
func (db *DB) App() *echo.Echo {
	db.appMu.Lock()
	defer db.appMu.Unlock()
	return db.app
}

// Engine returns the default engine, dialing it on first use.
func (db *DB) Engine(ctx context.Context) (*Engine, error) {
	return db.EngineFor(ctx, "")
}

// EngineFor returns the engine for a bind key, dialing it on first use.
// The empty key selects the default engine.
func (db *DB) EngineFor(ctx context.Context, bind string) (*Engine, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if eng, ok := db.engines[bind]; ok {
		return eng, nil
	}

	url := db.cfg.DatabaseURL
	if bind != "" {
		var ok bool
		url, ok = db.cfg.Binds[bind]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownBind, bind)
		}
	}

	eng, err := openEngine(ctx, url, bind)
	if err != nil {
		return nil, err
	}
	db.log.Debug("engine opened", "bind", bindLabel(bind), "dialect", eng.Dialect().Name())
	db.engines[bind] = eng
	return eng, nil
}

// BindOf returns the engine a model routes to.
func (db *DB) BindOf(ctx context.Context, model any) (*Engine, error) {
	info, err := db.meta.Lookup(model)
	if err != nil {
		return nil, err
	}
	return db.EngineFor(ctx, info.BindKey)
}

// Session resolves the session for the current scope:
//
//  1. a custom scope function, when configured;
//  2. the request-scoped session the middleware stored in ctx;
//  3. the application-level session, when an app is bound.
//
// Outside any of those it returns ErrNoSession: model access needs either a
// request context or a bound application.
func (db *DB) Session(ctx context.Context) (*Session, error) {
	if db.scopeFn != nil {
		return db.scopedSession(db.scopeFn(ctx)), nil
	}
	if s, ok := sessionFromContext(ctx); ok {
		return s, nil
	}

	db.appMu.Lock()
	defer db.appMu.Unlock()
	if db.app == nil {
		return nil, ErrNoSession
	}
	if db.appSession == nil || db.appSession.isClosed() {
		db.appSession = db.newSession()
	}
	return db.appSession, nil
}

// NewSession creates an unscoped session the caller owns. Close it when done.
func (db *DB) NewSession() *Session {
	return db.newSession()
}

func (db *DB) scopedSession(key any) *Session {
	db.scopeMu.Lock()
	defer db.scopeMu.Unlock()
	if s, ok := db.scopes[key]; ok && !s.isClosed() {
		return s
	}
	s := db.newSession()
	s.scopeKey = key
	db.scopes[key] = s
	return s
}

// RemoveScope discards the session associated with a custom scope key.
func (db *DB) RemoveScope(key any) {
	db.scopeMu.Lock()
	s, ok := db.scopes[key]
	delete(db.scopes, key)
	db.scopeMu.Unlock()
	if ok {
		s.Close()
	}
}

// Close closes every engine that was opened, joining their errors.
func (db *DB) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()

	var errs []error
	for bind, eng := range db.engines {
		if err := eng.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close engine %q: %w", bindLabel(bind), err))
		}
		delete(db.engines, bind)
	}
	if db.cache != nil {
		if err := db.cache.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close cache: %w", err))
		}
	}
	return errors.Join(errs...)
}

func bindLabel(bind string) string {
	if bind == "" {
		return "default"
	}
	return bind
}
