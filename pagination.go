package echorm

import (
	"context"
	"reflect"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
)

// Pagination defaults, matching the query parameters PaginateFromRequest
// reads.
const (
	DefaultPage    = 1
	DefaultPerPage = 20
)

// countCacheTTL bounds staleness of cached pagination totals.
const countCacheTTL = 30 * time.Second

// Pagination is one page of query results plus the arithmetic helpers views
// need to render pagers.
type Pagination struct {
	// Query is the source query, nil for hand-built paginations.
	Query *Query
	// Page is the current page, 1-based.
	Page int
	// PerPage is the page size.
	PerPage int
	// Total is the unfiltered result count.
	Total int64
	// Items holds the current page's objects.
	Items []any
}

// NewPagination builds a Pagination directly, without running a query.
func NewPagination(q *Query, page, perPage int, total int64, items []any) *Pagination {
	return &Pagination{Query: q, Page: page, PerPage: perPage, Total: total, Items: items}
}

// Pages returns the total page count: ceil(total/perPage), zero when the
// page size is zero.
func (p *Pagination) Pages() int {
	if p.PerPage == 0 {
		return 0
	}
	return int((p.Total + int64(p.PerPage) - 1) / int64(p.PerPage))
}

// HasPrev reports whether a previous page exists.
func (p *Pagination) HasPrev() bool { return p.Page > 1 }

// HasNext reports whether a following page exists.
func (p *Pagination) HasNext() bool { return p.Page < p.Pages() }

// PrevNum is the previous page number.
func (p *Pagination) PrevNum() int { return p.Page - 1 }

// NextNum is the next page number.
func (p *Pagination) NextNum() int { return p.Page + 1 }

// Prev loads the previous page with the source query.
func (p *Pagination) Prev(ctx context.Context) (*Pagination, error) {
	return p.Query.Paginate(ctx, p.Page-1, p.PerPage)
}

// Next loads the next page with the source query.
func (p *Pagination) Next(ctx context.Context) (*Pagination, error) {
	return p.Query.Paginate(ctx, p.Page+1, p.PerPage)
}

// IterPages returns page numbers for a pager, skipping ranges far from the
// current page. Skipped ranges appear as a single 0. The window arguments
// are the page counts kept at the left edge, left of current, right of
// current (inclusive of it), and right edge; defaults are 2, 2, 5, 2:
//
//	page 1 of 25:  [1 2 3 4 5 0 24 25]
//	page 10 of 25: [1 2 0 8 9 10 11 12 13 14 0 24 25]
func (p *Pagination) IterPages(window ...int) []int {
	leftEdge, leftCurrent, rightCurrent, rightEdge := 2, 2, 5, 2
	if len(window) == 4 {
		leftEdge, leftCurrent, rightCurrent, rightEdge = window[0], window[1], window[2], window[3]
	}

	pages := p.Pages()
	var out []int
	last := 0
	for num := 1; num <= pages; num++ {
		if num <= leftEdge ||
			(num > p.Page-leftCurrent-1 && num < p.Page+rightCurrent) ||
			num > pages-rightEdge {
			if last+1 != num {
				out = append(out, 0)
			}
			out = append(out, num)
			last = num
		}
	}
	return out
}

// Paginate runs the query for one page and counts the total. Counts go
// through the extension's cache when one is configured.
func (q *Query) Paginate(ctx context.Context, page, perPage int) (*Pagination, error) {
	if q.err != nil {
		return nil, q.err
	}
	if page < 1 {
		page = DefaultPage
	}
	if perPage < 0 {
		perPage = DefaultPerPage
	}

	items := []any{}
	if perPage > 0 {
		paged := *q
		paged.limit = perPage
		paged.offset = (page - 1) * perPage

		slicePtr := newSliceOf(q.info)
		if err := paged.All(ctx, slicePtr.Interface()); err != nil {
			return nil, err
		}
		loaded := slicePtr.Elem()
		for i := 0; i < loaded.Len(); i++ {
			items = append(items, loaded.Index(i).Interface())
		}
	}

	total, err := q.cachedCount(ctx, countCacheTTL)
	if err != nil {
		return nil, err
	}

	return NewPagination(q, page, perPage, total, items), nil
}

// PaginateFromRequest reads page and per_page from the request's query
// string, falling back to the defaults, and runs Paginate.
func (q *Query) PaginateFromRequest(c echo.Context) (*Pagination, error) {
	page := intParam(c, "page", DefaultPage)
	perPage := intParam(c, "per_page", DefaultPerPage)
	return q.Paginate(c.Request().Context(), page, perPage)
}

// newSliceOf allocates a *[]*T for the table's Go type.
func newSliceOf(info *TableInfo) reflect.Value {
	sliceType := reflect.SliceOf(reflect.PointerTo(info.GoType))
	ptr := reflect.New(sliceType)
	ptr.Elem().Set(reflect.MakeSlice(sliceType, 0, 0))
	return ptr
}

func intParam(c echo.Context, name string, fallback int) int {
	raw := c.QueryParam(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}
