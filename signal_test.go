package echorm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommitSignals(t *testing.T) {
	db := newTestDB(t, Config{}, &testTodo{})
	ctx := context.Background()

	var before, after [][]Change
	db.BeforeCommit.Connect(func(cs []Change) {
		before = append(before, cs)
	})
	db.ModelsCommitted.Connect(func(cs []Change) {
		after = append(after, cs)
	})

	sess := db.NewSession()
	defer sess.Close()

	todo := newTodo("Awesome", "the text")
	require.NoError(t, sess.Add(todo))
	require.NoError(t, sess.Commit(ctx))

	require.Len(t, before, 1)
	require.Len(t, after, 1)
	require.Len(t, after[0], 1)
	assert.Same(t, todo, after[0][0].Model)
	assert.Equal(t, OpInsert, after[0][0].Op)

	todo.Text = "aha"
	require.NoError(t, sess.Commit(ctx))
	require.Len(t, after, 2)
	assert.Equal(t, OpUpdate, after[1][0].Op)

	require.NoError(t, sess.Delete(todo))
	require.NoError(t, sess.Commit(ctx))
	require.Len(t, after, 3)
	assert.Same(t, todo, after[2][0].Model)
	assert.Equal(t, OpDelete, after[2][0].Op)
}

func TestSignalDisconnect(t *testing.T) {
	db := newTestDB(t, Config{}, &testTodo{})
	ctx := context.Background()

	calls := 0
	off := db.ModelsCommitted.Connect(func([]Change) { calls++ })

	sess := db.NewSession()
	defer sess.Close()
	require.NoError(t, sess.Add(newTodo("one", "")))
	require.NoError(t, sess.Commit(ctx))
	assert.Equal(t, 1, calls)

	off()
	require.NoError(t, sess.Add(newTodo("two", "")))
	require.NoError(t, sess.Commit(ctx))
	assert.Equal(t, 1, calls, "disconnected handler must not fire")
}

func TestFlushFiresNoSignals(t *testing.T) {
	db := newTestDB(t, Config{}, &testTodo{})
	ctx := context.Background()

	fired := false
	db.ModelsCommitted.Connect(func([]Change) { fired = true })

	sess := db.NewSession()
	defer sess.Close()
	require.NoError(t, sess.Add(newTodo("quiet", "")))
	changes, err := sess.Flush(ctx)
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.Equal(t, OpInsert, changes[0].Op)
	assert.False(t, fired)
}
