package domain

import "errors"

var (
	// ErrNotFound reports a cache/store/archive miss. Misses are normal
	// control flow and fall through to the next tier.
	ErrNotFound = errors.New("not found")

	// ErrInvalidDocument reports an unreadable or malformed archive. This is
	// one of the few errors surfaced to the caller of a top-level load.
	ErrInvalidDocument = errors.New("invalid document")

	// ErrUnsupportedFormat reports that no engine can open the file.
	ErrUnsupportedFormat = errors.New("unsupported document format")

	// ErrClosed reports use of a disposed session or store.
	ErrClosed = errors.New("closed")
)
