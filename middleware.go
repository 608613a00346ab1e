package echorm

import (
	"context"

	"github.com/labstack/echo/v4"
)

type sessionCtxKey struct{}

// sessionFromContext retrieves the request-scoped session the middleware
// stored, if any.
func sessionFromContext(ctx context.Context) (*Session, bool) {
	s, ok := ctx.Value(sessionCtxKey{}).(*Session)
	return s, ok
}

// ContextWithSession returns a context carrying the session, the same way
// the middleware does. Useful in tests and background jobs.
func ContextWithSession(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, sessionCtxKey{}, s)
}

// Middleware opens a session per request, stores it in the request context,
// and tears it down when the handler returns:
//
//   - handler error or panic: the session rolls back and the error or panic
//     propagates unchanged;
//   - success with CommitOnTeardown set: the session commits, and a commit
//     failure becomes the handler's error;
//   - in every case the session is closed and its scope released.
func (db *DB) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			sess := db.newSession()
			defer sess.Close()

			req := c.Request()
			ctx := ContextWithSession(req.Context(), sess)
			c.SetRequest(req.WithContext(ctx))

			defer func() {
				if p := recover(); p != nil {
					sess.Rollback()
					db.log.Error("request panicked, session rolled back",
						"session", sess.ID(), "panic", p)
					panic(p)
				}
			}()

			if err := next(c); err != nil {
				sess.Rollback()
				return err
			}

			if db.cfg.CommitOnTeardown {
				if err := sess.Commit(ctx); err != nil {
					sess.Rollback()
					db.log.Error("teardown commit failed", "session", sess.ID(), "error", err)
					return err
				}
			}
			return nil
		}
	}
}
