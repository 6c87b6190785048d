package repository

import "github.com/splax/pado/internal/domain"

var (
	// ErrNotFound indicates an entity was not located.
	ErrNotFound = domain.ErrNotFound
	// ErrInvalidArgument indicates the store rejected malformed values.
	ErrInvalidArgument = domain.ErrInvalidArgument
	// ErrConflict indicates a uniqueness constraint was violated.
	ErrConflict = domain.ErrAlreadyExists
)
