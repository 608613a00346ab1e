package echorm

import "errors"

var (
	// ErrNoSession is returned by DB.Session when the context carries no
	// request-scoped session and no application is bound to the extension.
	// Attach the middleware or create a session explicitly.
	ErrNoSession = errors.New("echorm: no session in context and no application bound")

	// ErrNotRegistered is returned when a model type was never registered
	// with the extension's metadata.
	ErrNotRegistered = errors.New("echorm: model type not registered")

	// ErrUnknownBind is returned when a model or lookup names a bind key
	// that is not present in the configuration.
	ErrUnknownBind = errors.New("echorm: unknown bind key")

	// ErrNotFound is returned by First and Get when no row matches.
	ErrNotFound = errors.New("echorm: record not found")

	// ErrSessionClosed is returned when operating on a closed session.
	ErrSessionClosed = errors.New("echorm: session is closed")

	// ErrNotPersistent is returned when deleting an object the session does
	// not track.
	ErrNotPersistent = errors.New("echorm: object is not tracked by this session")
)
