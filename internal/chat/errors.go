package chat

import "errors"

var (
	ErrForbidden         = errors.New("forbidden")
	ErrInvalidInput      = errors.New("invalid input")
	ErrUnknownConnection = errors.New("connection not found")
)
