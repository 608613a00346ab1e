// Package main is the entry point for the todod demo server, a small todo
// service showing the extension wired into a real Echo application.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"echorm"
	"echorm/config"
	"echorm/internal/cache"
	"echorm/internal/logging"
)

// Todo is the demo model. The table name derives to "todos" via TableName.
type Todo struct {
	ID      int64     `db:"todo_id,pk,auto"`
	Title   string    `db:"title,size:60"`
	Text    string    `db:"text"`
	Done    bool      `db:"done"`
	PubDate time.Time `db:"pub_date"`
}

// TableName pins the table name instead of the derived "todo".
func (Todo) TableName() string { return "todos" }

func main() {
	configPath := flag.String("config", "config.yaml", "Path to the YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logging.Setup(cfg.Logging.Level)
	slog.Info("starting todod", "port", cfg.Server.Port, "database", cfg.Database.URL)

	opts, closeCache, err := buildOptions(cfg)
	if err != nil {
		slog.Error("failed to build cache", "error", err)
		os.Exit(1)
	}
	defer closeCache()

	db, err := echorm.New(echorm.Config{
		DatabaseURL:      cfg.Database.URL,
		Binds:            cfg.Database.Binds,
		CommitOnTeardown: cfg.Database.CommitOnTeardown,
		RecordQueries:    cfg.Database.RecordQueries,
	}, opts...)
	if err != nil {
		slog.Error("failed to create extension", "error", err)
		os.Exit(1)
	}

	if err := db.Register(&Todo{}); err != nil {
		slog.Error("failed to register models", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	if err := db.CreateAll(ctx); err != nil {
		slog.Error("failed to create tables", "error", err)
		os.Exit(1)
	}

	// Log every change batch that commits.
	db.ModelsCommitted.Connect(func(changes []echorm.Change) {
		for _, ch := range changes {
			slog.Debug("model committed", "op", string(ch.Op), "model", ch.Model)
		}
	})

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	db.Attach(e)

	registerRoutes(e, db, cfg)

	// Graceful shutdown: stop the server first, then close engines.
	stop, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	go func() {
		if err := e.Start(":" + cfg.Server.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server failed", "error", err)
			cancel()
		}
	}()

	<-stop.Done()
	slog.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	err = errors.Join(e.Shutdown(shutdownCtx), db.Close())
	if err != nil {
		slog.Error("shutdown errors", "error", err)
		os.Exit(1)
	}
	slog.Info("shutdown complete")
}

// buildOptions assembles extension options from the config, returning a
// cleanup function for the cache backend.
func buildOptions(cfg *config.Config) ([]echorm.Option, func(), error) {
	noop := func() {}
	switch cfg.Cache.Backend {
	case "", "none":
		return nil, noop, nil
	case "local":
		return []echorm.Option{echorm.WithCache(cache.NewLocalCache())}, noop, nil
	case "redis":
		rc, err := cache.NewRedisCache(cache.RedisConfig{URL: cfg.Cache.RedisURL, KeyPrefix: "todod"})
		if err != nil {
			return nil, noop, err
		}
		// The extension closes its cache in Close; nothing extra to do.
		return []echorm.Option{echorm.WithCache(rc)}, noop, nil
	default:
		return nil, noop, errors.New("unknown cache backend: " + cfg.Cache.Backend)
	}
}

func registerRoutes(e *echo.Echo, db *echorm.DB, cfg *config.Config) {
	if cfg.Server.MetricsEnabled {
		metricsPath := path.Clean(cfg.Server.MetricsEndpoint)
		e.GET(metricsPath, echo.WrapHandler(promhttp.Handler()))
	}

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	// Plain-text title listing, oldest first.
	e.GET("/", func(c echo.Context) error {
		ctx := c.Request().Context()
		sess, err := db.Session(ctx)
		if err != nil {
			return err
		}
		var todos []*Todo
		if err := sess.Query(&Todo{}).OrderBy("todo_id").All(ctx, &todos); err != nil {
			return err
		}
		titles := make([]string, len(todos))
		for i, t := range todos {
			titles[i] = t.Title
		}
		return c.String(http.StatusOK, strings.Join(titles, "\n"))
	})

	// Paginated JSON listing; page/per_page come from the query string.
	e.GET("/todos", func(c echo.Context) error {
		sess, err := db.Session(c.Request().Context())
		if err != nil {
			return err
		}
		p, err := sess.Query(&Todo{}).OrderBy("todo_id").PaginateFromRequest(c)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, map[string]any{
			"items":    p.Items,
			"page":     p.Page,
			"per_page": p.PerPage,
			"total":    p.Total,
			"pages":    p.Pages(),
		})
	})

	// The commit happens on teardown when commit_on_teardown is set;
	// otherwise the handler's explicit Commit call does the work.
	e.POST("/todos", func(c echo.Context) error {
		ctx := c.Request().Context()
		sess, err := db.Session(ctx)
		if err != nil {
			return err
		}
		todo := &Todo{
			Title:   c.FormValue("title"),
			Text:    c.FormValue("text"),
			PubDate: time.Now().UTC(),
		}
		if err := sess.Add(todo); err != nil {
			return err
		}
		if !db.Config().CommitOnTeardown {
			if err := sess.Commit(ctx); err != nil {
				return err
			}
		}
		return c.String(http.StatusCreated, "added")
	})

	e.POST("/todos/:id/done", func(c echo.Context) error {
		ctx := c.Request().Context()
		sess, err := db.Session(ctx)
		if err != nil {
			return err
		}
		id, err := strconv.ParseInt(c.Param("id"), 10, 64)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "bad todo id")
		}
		var todo Todo
		if err := sess.Get(ctx, &todo, id); err != nil {
			if errors.Is(err, echorm.ErrNotFound) {
				return echo.NewHTTPError(http.StatusNotFound, "no such todo")
			}
			return err
		}
		todo.Done = true
		if err := sess.Commit(ctx); err != nil {
			return err
		}
		return c.NoContent(http.StatusNoContent)
	})

	e.DELETE("/todos/:id", func(c echo.Context) error {
		ctx := c.Request().Context()
		sess, err := db.Session(ctx)
		if err != nil {
			return err
		}
		id, err := strconv.ParseInt(c.Param("id"), 10, 64)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "bad todo id")
		}
		var todo Todo
		if err := sess.Get(ctx, &todo, id); err != nil {
			if errors.Is(err, echorm.ErrNotFound) {
				return echo.NewHTTPError(http.StatusNotFound, "no such todo")
			}
			return err
		}
		if err := sess.Delete(&todo); err != nil {
			return err
		}
		if err := sess.Commit(ctx); err != nil {
			return err
		}
		return c.NoContent(http.StatusNoContent)
	})
}
