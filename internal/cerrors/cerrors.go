// Package cerrors holds the sentinel error kinds described in the core's
// error handling design: callers branch on these with errors.Is, while call
// sites wrap them with context via fmt.Errorf("...: %w", ...).
package cerrors

import "errors"

var (
	// ErrNotFound means a record id or path is absent from the store.
	ErrNotFound = errors.New("not found")

	// ErrConflict means a uniqueness violation, e.g. a duplicate path on add.
	ErrConflict = errors.New("conflict")

	// ErrCorrupt means a malformed .vdx file or unreadable row. The caller
	// should log and skip rather than abort the whole query.
	ErrCorrupt = errors.New("corrupt")

	// ErrInvariant means a hard limit was violated (e.g. more than 65535
	// videos in one index). Per spec this is fatal; the caller must shard.
	ErrInvariant = errors.New("invariant violated")

	// ErrCancelled means the caller's cancellation flag was observed.
	ErrCancelled = errors.New("cancelled")
)
