// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import "errors"

// Common sentinels across store/metadata/repository layers.
var (
	// ErrNotFound indicates the requested blob or item does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists indicates a database (or item identifier) is already present.
	ErrAlreadyExists = errors.New("already exists")

	// ErrWrongPassword indicates the descriptor failed authentication on a structurally sound store.
	ErrWrongPassword = errors.New("wrong password")

	// ErrDamaged indicates a structural or parse failure independent of the password.
	ErrDamaged = errors.New("store damaged")

	// ErrUnsupportedVersion indicates the descriptor declares a format this engine cannot read.
	ErrUnsupportedVersion = errors.New("unsupported store version")

	// ErrNotUnlocked indicates an operation that requires an unlocked store.
	ErrNotUnlocked = errors.New("store not unlocked")

	// ErrReadOnly indicates a mutation on a read-only or write-prevented store.
	ErrReadOnly = errors.New("store is read-only")

	// ErrIncompleteMetadataSet indicates a merge attempted before all expected blocks arrived.
	ErrIncompleteMetadataSet = errors.New("incomplete metadata block set")

	// ErrRateLimited indicates unlock attempts are temporarily blocked.
	ErrRateLimited = errors.New("rate limited")

	// ErrBatchInProgress indicates beginBatchOperations was called twice without an end.
	ErrBatchInProgress = errors.New("batch already in progress")

	// ErrNoBatch indicates endBatchOperations without a matching begin.
	ErrNoBatch = errors.New("no batch in progress")

	// ErrClosed indicates the store's serial context has been shut down.
	ErrClosed = errors.New("store closed")
)
