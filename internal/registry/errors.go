package registry

import (
	"github.com/pkg/errors"
)

var (
	ErrResourceNotFound = errors.New("resource not found")
	ErrDuplicateID      = errors.New("duplicate resource id")
	// ErrIDConflict is returned when a rename targets an identifier owned by another resource.
	ErrIDConflict = errors.New("resource id already in use")
	ErrCopy       = errors.New("resource copy failed")
)
