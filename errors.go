package quilt

import (
	"errors"
)

var (
	// ErrMissingModel a relationship or polymorphic lookup names a record type
	// that was never registered
	ErrMissingModel = errors.New("missing model")
	// ErrNotBooted relationship used before Boot completed
	ErrNotBooted = errors.New("relationship not booted")
	// ErrUnpreparedRelation relationship value read before any successful Prepare
	ErrUnpreparedRelation = errors.New("unprepared relationship")
	// ErrMissingGlue through relationship configured with zero chain steps
	ErrMissingGlue = errors.New("missing glue")
	// ErrMissingPrimaryKey record has no primary key value
	ErrMissingPrimaryKey = errors.New("primary key required")
	// ErrReadOnlyStore store collection does not support writes
	ErrReadOnlyStore = errors.New("store is read-only")
	// ErrInvalidConfig relationship configuration is malformed
	ErrInvalidConfig = errors.New("invalid relationship configuration")
)
