package domain

import "errors"

var (
	// ErrNotFound means the content blob for a slug does not exist.
	ErrNotFound = errors.New("content not found")

	// ErrTransport covers network-level failures talking to a backing service.
	ErrTransport = errors.New("transport error")

	// ErrStorage is a local cache read or write failure. It never leaves
	// the cache package.
	ErrStorage = errors.New("cache storage error")

	// ErrRecordNotFound means the record store has no row for a slug.
	ErrRecordNotFound = errors.New("record not found")

	// ErrUndefinedColumn is returned by a record store asked for a column
	// its schema does not have yet.
	ErrUndefinedColumn = errors.New("undefined column")

	// ErrCancelled reports that the owning load cycle was superseded.
	// It is a discard outcome, not a failure.
	ErrCancelled = errors.New("load cancelled")
)

// UndefinedColumnCode is the SQL state sent over HTTP for ErrUndefinedColumn.
const UndefinedColumnCode = "42703"
