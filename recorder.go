package echorm

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Statement metrics are process-wide; sessions label them by operation kind.
var (
	queriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "echorm_queries_total",
		Help: "Number of SQL statements executed by echorm sessions.",
	}, []string{"operation"})

	queryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "echorm_query_duration_seconds",
		Help:    "SQL statement latency observed by echorm sessions.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})
)

// QueryRecord describes one executed statement, captured when RecordQueries
// is enabled. Location and Function point at the application frame that
// triggered the statement.
type QueryRecord struct {
	Statement string
	Args      []any
	StartedAt time.Time
	Duration  time.Duration
	Location  string
	Function  string
}

// recorder accumulates per-session query records.
type recorder struct {
	enabled bool

	mu      sync.Mutex
	records []QueryRecord
}

func (r *recorder) observe(op, statement string, args []any, start time.Time) {
	elapsed := time.Since(start)
	queriesTotal.WithLabelValues(op).Inc()
	queryDuration.WithLabelValues(op).Observe(elapsed.Seconds())

	if !r.enabled {
		return
	}

	loc, fn := callerOutsideLibrary()
	rec := QueryRecord{
		Statement: statement,
		Args:      append([]any(nil), args...),
		StartedAt: start,
		Duration:  elapsed,
		Location:  loc,
		Function:  fn,
	}
	r.mu.Lock()
	r.records = append(r.records, rec)
	r.mu.Unlock()
}

func (r *recorder) all() []QueryRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]QueryRecord, len(r.records))
	copy(out, r.records)
	return out
}

// DebugQueries returns the statements recorded for the session resolved from
// ctx. It returns nil when recording is off or no session is in scope.
func (db *DB) DebugQueries(ctx context.Context) []QueryRecord {
	sess, err := db.Session(ctx)
	if err != nil {
		return nil
	}
	return sess.rec.all()
}

// callerOutsideLibrary walks the stack to the first frame outside this
// package, so records point at handler or test code rather than internals.
func callerOutsideLibrary() (string, string) {
	pcs := make([]uintptr, 24)
	n := runtime.Callers(3, pcs)
	frames := runtime.CallersFrames(pcs[:n])
	for {
		frame, more := frames.Next()
		if frame.Function != "" && !isLibraryFrame(frame.Function) {
			return fmt.Sprintf("%s:%d", frame.File, frame.Line), frame.Function
		}
		if !more {
			return "", ""
		}
	}
}

// isLibraryFrame matches the session, query, and recorder internals so the
// recorded location points at the code that issued the statement.
func isLibraryFrame(fn string) bool {
	for _, prefix := range []string{
		"echorm.(*Session)", "echorm.(*Query)", "echorm.(*DB)",
		"echorm.(*Engine)", "echorm.(*recorder)",
	} {
		if strings.HasPrefix(fn, prefix) {
			return true
		}
	}
	return false
}
