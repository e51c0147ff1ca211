// Package repository defines the persistence contract shared by the
// in-memory, JSON-file and relational backends, and the sentinel errors
// they return.  Higher layers classify failures with errors.Is; backend
// specific errors (driver codes, I/O failures) are wrapped, never leaked
// as the only signal.
package repository

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when an entity id (or lookup key) does not
// resolve to a stored record.  Handlers should translate this into an
// HTTP 404 response.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when a write would violate a uniqueness
// constraint.  The more specific errors below wrap it, so callers that
// only care about the class can test errors.Is(err, ErrConflict).
var ErrConflict = errors.New("conflict")

var (
	// ErrUsernameTaken signals a second user with an existing username.
	ErrUsernameTaken = fmt.Errorf("username already exists: %w", ErrConflict)
	// ErrDuplicateResponse signals a second response for the same
	// (form, patient) pair.
	ErrDuplicateResponse = fmt.Errorf("response already submitted: %w", ErrConflict)
	// ErrDuplicateID signals an insert with an id that is already stored.
	ErrDuplicateID = fmt.Errorf("duplicate id: %w", ErrConflict)
)

// ErrFormNotFound is returned when a response references a form that does
// not exist.  It wraps ErrNotFound.
var ErrFormNotFound = fmt.Errorf("form %w", ErrNotFound)

// ErrPersist wraps failures to write durable state (file rewrite,
// relational statement).  The in-memory state of a FileStore has already
// changed when it is returned.
var ErrPersist = errors.New("persist failed")
