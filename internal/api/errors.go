package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/npezzotti/jam-chat/internal/chat"
	"github.com/npezzotti/jam-chat/internal/database"
)

// ApiError is rendered to clients as {"error": Message}.
type ApiError struct {
	StatusCode int    `json:"-"`
	Message    string `json:"error"`
	Err        error  `json:"-"`
}

func (e *ApiError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s", e.Message, e.Err.Error())
	}

	return e.Message
}

func (e *ApiError) Unwrap() error {
	return e.Err
}

func NewBadRequestError(msg string) *ApiError {
	return &ApiError{
		StatusCode: http.StatusBadRequest,
		Message:    msg,
	}
}

func NewNotFoundError(msg string) *ApiError {
	return &ApiError{
		StatusCode: http.StatusNotFound,
		Message:    msg,
	}
}

func NewForbiddenError() *ApiError {
	return &ApiError{
		StatusCode: http.StatusForbidden,
		Message:    "Unauthorized",
	}
}

func NewTooManyRequestsError() *ApiError {
	return &ApiError{
		StatusCode: http.StatusTooManyRequests,
		Message:    "too many requests",
	}
}

// NewInternalServerError carries the failure text to the client, prefixed
// with what was being attempted.
func NewInternalServerError(prefix string, err error) *ApiError {
	msg := prefix
	if err != nil {
		msg = fmt.Sprintf("%s: %s", prefix, err)
	}

	return &ApiError{
		StatusCode: http.StatusInternalServerError,
		Message:    msg,
		Err:        err,
	}
}

// toApiError maps service and store errors onto HTTP responses. prefix
// describes the failed operation for 500s.
func toApiError(prefix string, err error) *ApiError {
	var apiErr *ApiError
	switch {
	case errors.As(err, &apiErr):
		return apiErr
	case errors.Is(err, chat.ErrInvalidInput):
		e := NewBadRequestError(err.Error())
		e.Err = err
		return e
	case errors.Is(err, chat.ErrForbidden):
		e := NewForbiddenError()
		e.Err = err
		return e
	case errors.Is(err, database.ErrRoomFull):
		return NewBadRequestError("Room is full")
	case errors.Is(err, database.ErrNotFound), errors.Is(err, database.ErrRoomInactive):
		return NewNotFoundError("Room not found or inactive")
	default:
		return NewInternalServerError(prefix, err)
	}
}
