package echorm

import (
	"context"
	"testing"
	"time"
)

// testTodo mirrors the demo model: custom table name, renamed key column.
type testTodo struct {
	ID      int64     `db:"todo_id,pk,auto"`
	Title   string    `db:"title,size:60"`
	Text    string    `db:"text"`
	Done    bool      `db:"done"`
	PubDate time.Time `db:"pub_date"`
}

func (testTodo) TableName() string { return "todos" }

func newTodo(title, text string) *testTodo {
	return &testTodo{Title: title, Text: text, PubDate: time.Now().UTC()}
}

// newTestDB creates an in-memory extension with the given models registered
// and their tables created. Closed on test cleanup.
func newTestDB(t *testing.T, cfg Config, models ...any) *DB {
	t.Helper()
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = "sqlite://"
	}
	db, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Errorf("close: %v", err)
		}
	})
	if len(models) > 0 {
		if err := db.Register(models...); err != nil {
			t.Fatalf("Register: %v", err)
		}
		if err := db.CreateAll(context.Background()); err != nil {
			t.Fatalf("CreateAll: %v", err)
		}
	}
	return db
}
