package errx

import (
	"errors"
	"fmt"
	"net/http"
)

const (
	// SystemErrorMessage is a user-facing fallback when internal errors occur.
	SystemErrorMessage = "internal server error"
	// RedisErrorMessage describes Redis related failures.
	RedisErrorMessage = "redis operation failed"
	// RedisNotFoundMessage describes a missing Redis key.
	RedisNotFoundMessage = "redis key not found"
	// SQLErrorMessage describes relational database failures.
	SQLErrorMessage = "sql operation failed"
	// VectorErrorMessage describes vector store failures.
	VectorErrorMessage = "vector store operation failed"
	// LLMErrorMessage describes chat model or embedding failures.
	LLMErrorMessage = "llm invocation failed"
)

var (
	// ErrSessionNotFound is returned by session repositories for unknown keys.
	ErrSessionNotFound = errors.New("session not found")
	// ErrToolNotAllowed marks a tool call outside the active tool set.
	ErrToolNotAllowed = errors.New("tool not allowed for classification")
	// ErrHybridMissingInputs marks a hybrid call without prior SQL and vector results.
	ErrHybridMissingInputs = errors.New("hybrid tool requires prior sql and vector results")
	// ErrInvalidArgument marks tool arguments rejected before touching a backend.
	ErrInvalidArgument = errors.New("invalid argument")
)

// AppError wraps an underlying error with an HTTP-like status and a safe message.
type AppError struct {
	Err     error
	Status  int
	Message string
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Err)
}

// Unwrap exposes the underlying error for errors.Is / errors.As support.
func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError with the provided information.
func New(err error, status int, message string) *AppError {
	return &AppError{
		Err:     err,
		Status:  status,
		Message: message,
	}
}

// Invalid builds a 400 AppError wrapping ErrInvalidArgument.
func Invalid(format string, args ...any) *AppError {
	return New(fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...)), http.StatusBadRequest, "invalid argument")
}

// StatusOf returns the status carried by the first AppError in the chain,
// or 500 when there is none.
func StatusOf(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Status
	}
	return http.StatusInternalServerError
}
