package errx

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
)

// WrapSQL maps database/sql errors to AppError.
func WrapSQL(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return New(err, http.StatusNotFound, SQLErrorMessage)
	case errors.Is(err, context.DeadlineExceeded):
		return New(err, http.StatusGatewayTimeout, SQLErrorMessage)
	}
	return New(err, http.StatusBadGateway, SQLErrorMessage)
}

// WrapVector maps vector store errors to AppError.
func WrapVector(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return New(err, http.StatusGatewayTimeout, VectorErrorMessage)
	}
	return New(err, http.StatusBadGateway, VectorErrorMessage)
}

// WrapLLM maps chat model and embedding errors to AppError.
func WrapLLM(err error) error {
	if err == nil {
		return nil
	}
	return New(err, http.StatusBadGateway, LLMErrorMessage)
}
