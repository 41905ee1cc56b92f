package entity

import "errors"

var (
	// ErrPathNotResolved means a remote entity's position cannot be derived
	// from any known parent. The entity is skipped for this pass.
	ErrPathNotResolved = errors.New("path not resolved")
	// ErrParentNotFound means the mirror's parent directory has no record yet.
	// Retryable once the ancestor is synced.
	ErrParentNotFound = errors.New("parent not found")

	ErrNotAFileSystemEntity = errors.New("not a file system entity")
	ErrNotADirectory        = errors.New("not a directory")
	ErrIsADirectory         = errors.New("is a directory")
	ErrPathNotFound         = errors.New("path not found")
	ErrTypeUnset            = errors.New("entity type not set")
	ErrNameCollision        = errors.New("name collision")
	ErrOutsideRoot          = errors.New("path outside sync root")
)
