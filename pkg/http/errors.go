package http

import (
	"errors"
	"fmt"
	"net/http"
)

// AppError is an error with the HTTP status and code it is reported under.
type AppError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Field   string                 `json:"field,omitempty"`
	Params  map[string]interface{} `json:"params,omitempty"`
	Status  int                    `json:"-"`
	Err     error                  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error { return e.Err }

func NewAppError(code, field, message string, status int) *AppError {
	return &AppError{Code: code, Message: message, Field: field, Status: status}
}

// WithParam attaches a value the client can use to correct the request.
func (e *AppError) WithParam(key string, value interface{}) *AppError {
	if e.Params == nil {
		e.Params = make(map[string]interface{})
	}
	e.Params[key] = value
	return e
}

func NotFoundError(message string) *AppError {
	return NewAppError("ERR_NOT_FOUND", "", message, http.StatusNotFound)
}

func BadRequestError(message string) *AppError {
	return NewAppError("ERR_BAD_REQUEST", "", message, http.StatusBadRequest)
}

// UnprocessableError is for well-formed requests the pipeline cannot serve.
func UnprocessableError(message string) *AppError {
	return NewAppError("ERR_UNPROCESSABLE", "", message, http.StatusUnprocessableEntity)
}

func TooManyRequestsError(message string) *AppError {
	return NewAppError("ERR_RATE_LIMITED", "", message, http.StatusTooManyRequests)
}

// StatusMapping pairs a sentinel with the AppError constructor it is reported through.
type StatusMapping struct {
	Target error
	New    func(message string) *AppError
}

// MapError returns the AppError for the first mapping err matches, wrapping err.
// It returns nil when nothing matches.
func MapError(err error, mappings ...StatusMapping) *AppError {
	for _, m := range mappings {
		if errors.Is(err, m.Target) {
			appErr := m.New(err.Error())
			appErr.Err = err
			return appErr
		}
	}
	return nil
}
