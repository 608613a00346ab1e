package echorm

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"echorm/internal/cache"
)

func seedTodos(t *testing.T, sess *Session, n int) {
	t.Helper()
	for i := 1; i <= n; i++ {
		td := newTodo(fmt.Sprintf("todo %02d", i), "")
		td.Done = i%2 == 0
		require.NoError(t, sess.Add(td))
	}
	require.NoError(t, sess.Commit(context.Background()))
}

func TestQueryFilterAndOrder(t *testing.T) {
	db := newTestDB(t, Config{}, &testTodo{})
	ctx := context.Background()

	sess := db.NewSession()
	defer sess.Close()
	seedTodos(t, sess, 5)

	var done []*testTodo
	err := sess.Query(&testTodo{}).
		Filter("done = ?", true).
		OrderBy("title DESC").
		All(ctx, &done)
	require.NoError(t, err)
	require.Len(t, done, 2)
	assert.Equal(t, "todo 04", done[0].Title)
	assert.Equal(t, "todo 02", done[1].Title)
}

func TestQueryFirst(t *testing.T) {
	db := newTestDB(t, Config{}, &testTodo{})
	ctx := context.Background()

	sess := db.NewSession()
	defer sess.Close()
	seedTodos(t, sess, 3)

	var td testTodo
	require.NoError(t, sess.Query(&testTodo{}).OrderBy("todo_id").First(ctx, &td))
	assert.Equal(t, "todo 01", td.Title)

	err := sess.Query(&testTodo{}).Filter("title = ?", "nope").First(ctx, &td)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestQueryCount(t *testing.T) {
	db := newTestDB(t, Config{}, &testTodo{})
	ctx := context.Background()

	sess := db.NewSession()
	defer sess.Close()
	seedTodos(t, sess, 7)

	n, err := sess.Query(&testTodo{}).Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(7), n)

	n, err = sess.Query(&testTodo{}).Filter("done = ?", false).Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)
}

func TestQueryLimitOffset(t *testing.T) {
	db := newTestDB(t, Config{}, &testTodo{})
	ctx := context.Background()

	sess := db.NewSession()
	defer sess.Close()
	seedTodos(t, sess, 6)

	var page []*testTodo
	err := sess.Query(&testTodo{}).OrderBy("todo_id").Limit(2).Offset(2).All(ctx, &page)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "todo 03", page[0].Title)
	assert.Equal(t, "todo 04", page[1].Title)
}

func TestQueryRejectsWrongSliceType(t *testing.T) {
	db := newTestDB(t, Config{}, &testTodo{})

	sess := db.NewSession()
	defer sess.Close()

	var wrong []*struct{ ID int }
	err := sess.Query(&testTodo{}).All(context.Background(), &wrong)
	assert.Error(t, err)
}

func TestQueryLoadedObjectsAreTracked(t *testing.T) {
	db := newTestDB(t, Config{}, &testTodo{})
	ctx := context.Background()

	sess := db.NewSession()
	defer sess.Close()
	seedTodos(t, sess, 1)

	other := db.NewSession()
	defer other.Close()
	var td testTodo
	require.NoError(t, other.Query(&testTodo{}).First(ctx, &td))
	assert.True(t, other.Contains(&td))

	// A tracked load can be deleted directly.
	require.NoError(t, other.Delete(&td))
	require.NoError(t, other.Commit(ctx))
	n, err := other.Query(&testTodo{}).Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestCountUsesCache(t *testing.T) {
	local := cache.NewLocalCache()
	db, err := New(Config{DatabaseURL: "sqlite://"}, WithCache(local))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Register(&testTodo{}))
	ctx := context.Background()
	require.NoError(t, db.CreateAll(ctx))

	sess := db.NewSession()
	defer sess.Close()
	seedTodos(t, sess, 4)

	page, err := sess.Query(&testTodo{}).Paginate(ctx, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(4), page.Total)

	// Grow the table; the cached total stays until the TTL expires.
	require.NoError(t, sess.Add(newTodo("late", "")))
	require.NoError(t, sess.Commit(ctx))

	page, err = sess.Query(&testTodo{}).Paginate(ctx, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(4), page.Total, "total should come from the cache")
}
