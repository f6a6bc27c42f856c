package model

import (
	"github.com/pkg/errors"
)

var (
	ErrConfig      = errors.New("configuration error")
	ErrUnknownKind = errors.New("unknown resource kind")
)
