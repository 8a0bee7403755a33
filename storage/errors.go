package storage

import (
	"errors"

	"tabsync/core"
)

// Storage error constants
var (
	// ErrOrderNotFound is returned when an order is not in the repository.
	// Aliased to the engine sentinel so errors.Is works across the cache
	// and repository layers.
	ErrOrderNotFound = core.ErrOrderNotFound

	// ErrDatabaseClosed is returned when using a closed database handle.
	ErrDatabaseClosed = errors.New("database is closed")
)
