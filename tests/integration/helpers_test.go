//go:build integration

package integration

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"echorm"
)

type todo struct {
	ID      int64     `db:"todo_id,pk,auto"`
	Title   string    `db:"title,size:60"`
	Text    string    `db:"text"`
	Done    bool      `db:"done"`
	PubDate time.Time `db:"pub_date"`
}

func (todo) TableName() string { return "todos" }

// newPostgresDB builds an extension instance on the containerized database
// with a clean schema.
func newPostgresDB(t *testing.T, cfg echorm.Config, models ...any) *echorm.DB {
	t.Helper()
	cfg.DatabaseURL = pgURL

	db, err := echorm.New(cfg)
	require.NoError(t, err)
	require.NoError(t, db.Register(models...))

	ctx := context.Background()
	require.NoError(t, db.DropAll(ctx))
	require.NoError(t, db.CreateAll(ctx))

	t.Cleanup(func() {
		_ = db.DropAll(context.Background())
		_ = db.Close()
	})
	return db
}
