package identity

import "errors"

var (
	ErrNotFound     = errors.New("identity: not found")
	ErrInvalidInput = errors.New("identity: invalid input")
	ErrUnavailable  = errors.New("identity: directory unavailable")
)
