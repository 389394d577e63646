// Package sentinel names the infrastructure outcomes a store can report.
// Stores wrap these; the names service maps them onto coded errors
// (ErrNotFound on Get or Remove becomes "unnamed", the rest become internal).
package sentinel

import "errors"

var (
	// ErrNotFound: the account has no record.
	ErrNotFound = errors.New("not found")
	// ErrConflict: a concurrent transaction touched the same row.
	ErrConflict = errors.New("conflict")
	// ErrInvalidState: a stored record or balance cannot be decoded or
	// violates a table constraint.
	ErrInvalidState = errors.New("invalid state")
	// ErrUnavailable: the backend could not be reached.
	ErrUnavailable = errors.New("unavailable")
)
