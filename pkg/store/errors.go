package store

import "errors"

// Sentinel errors shared between storage implementations and the engine.
var (
	ErrEntityNotFound     = errors.New("entity not found")
	ErrDatabaseConnection = errors.New("database connection failed")
)
