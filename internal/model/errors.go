package model

import (
	"errors"
)

var (
	ErrUnknownSeverity  = errors.New("unknown severity")
	ErrInvalidThreshold = errors.New("invalid fail threshold")
	// ErrMalformed marks scanner output which can't be decoded. Such a file
	// contributes zero findings.
	ErrMalformed = errors.New("malformed scanner output")
)
