package echorm

import (
	"context"
	"fmt"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPaginationPages(t *testing.T) {
	p := NewPagination(nil, 1, 20, 500, nil)
	assert.Equal(t, 25, p.Pages())
	assert.False(t, p.HasPrev())
	assert.True(t, p.HasNext())
	assert.Equal(t, 2, p.NextNum())

	last := NewPagination(nil, 25, 20, 500, nil)
	assert.True(t, last.HasPrev())
	assert.False(t, last.HasNext())

	// perPage zero cannot divide, so there are no pages.
	empty := NewPagination(nil, 1, 0, 500, nil)
	assert.Equal(t, 0, empty.Pages())
}

func TestIterPagesDefaults(t *testing.T) {
	p := NewPagination(nil, 1, 20, 500, nil)
	assert.Equal(t, []int{1, 2, 3, 4, 5, 0, 24, 25}, p.IterPages())

	p = NewPagination(nil, 10, 20, 500, nil)
	assert.Equal(t, []int{1, 2, 0, 8, 9, 10, 11, 12, 13, 14, 0, 24, 25}, p.IterPages())
}

func TestIterPagesCustomWindow(t *testing.T) {
	p := NewPagination(nil, 10, 20, 500, nil)
	got := p.IterPages(2, 2, 5, 5)
	assert.Equal(t, []int{1, 2, 0, 8, 9, 10, 11, 12, 13, 14, 0, 21, 22, 23, 24, 25}, got)
}

func TestPaginateLoadsItems(t *testing.T) {
	db := newTestDB(t, Config{}, &testTodo{})
	ctx := context.Background()

	sess := db.NewSession()
	defer sess.Close()
	for i := 1; i <= 25; i++ {
		require.NoError(t, sess.Add(newTodo(fmt.Sprintf("todo %02d", i), "")))
	}
	require.NoError(t, sess.Commit(ctx))

	page, err := sess.Query(&testTodo{}).OrderBy("todo_id").Paginate(ctx, 2, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(25), page.Total)
	assert.Equal(t, 3, page.Pages())
	require.Len(t, page.Items, 10)
	first, ok := page.Items[0].(*testTodo)
	require.True(t, ok)
	assert.Equal(t, "todo 11", first.Title)

	next, err := page.Next(ctx)
	require.NoError(t, err)
	assert.Len(t, next.Items, 5)
	assert.False(t, next.HasNext())
}

func TestPaginateClampsArguments(t *testing.T) {
	db := newTestDB(t, Config{}, &testTodo{})
	ctx := context.Background()

	sess := db.NewSession()
	defer sess.Close()
	page, err := sess.Query(&testTodo{}).Paginate(ctx, 0, -5)
	require.NoError(t, err)
	assert.Equal(t, 1, page.Page)
	assert.Equal(t, DefaultPerPage, page.PerPage)
}

func TestPaginateFromRequest(t *testing.T) {
	db := newTestDB(t, Config{}, &testTodo{})
	ctx := context.Background()

	sess := db.NewSession()
	defer sess.Close()
	for i := 1; i <= 12; i++ {
		require.NoError(t, sess.Add(newTodo(fmt.Sprintf("todo %02d", i), "")))
	}
	require.NoError(t, sess.Commit(ctx))

	e := echo.New()
	q := url.Values{"page": {"2"}, "per_page": {"10"}}
	req := httptest.NewRequest("GET", "/?"+q.Encode(), nil)
	req = req.WithContext(ContextWithSession(req.Context(), sess))
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	page, err := sess.Query(&testTodo{}).PaginateFromRequest(c)
	require.NoError(t, err)
	assert.Equal(t, 2, page.Page)
	assert.Equal(t, 10, page.PerPage)
	assert.Len(t, page.Items, 2)
}
