package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"corridor-router/internal/oracle"
	"corridor-router/internal/risk"
	"corridor-router/internal/routing"
)

// AppError is an error with an HTTP status and a stable code.
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

// Unwrap returns the underlying error.
func (e *AppError) Unwrap() error { return e.Err }

// NewAppError creates an application error.
func NewAppError(code, message string, status int, err error) *AppError {
	return &AppError{Code: code, Message: message, Status: status, Err: err}
}

// classify maps domain errors onto HTTP statuses.
func classify(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}

	var devErr *oracle.DeviationError
	switch {
	case errors.Is(err, risk.ErrUnknownCorridor):
		return NewAppError("ERR_UNKNOWN_CORRIDOR", err.Error(), http.StatusNotFound, err)
	case errors.Is(err, risk.ErrInvalidInput):
		return NewAppError("ERR_INVALID_INPUT", err.Error(), http.StatusBadRequest, err)
	case errors.Is(err, routing.ErrNoRouteAvailable):
		return NewAppError("ERR_NO_ROUTE", err.Error(), http.StatusUnprocessableEntity, err)
	case errors.Is(err, oracle.ErrUnsupportedSymbol):
		return NewAppError("ERR_UNSUPPORTED_SYMBOL", err.Error(), http.StatusNotFound, err)
	case errors.As(err, &devErr):
		e := NewAppError("ERR_ORACLE_DEVIATION", err.Error(), http.StatusBadGateway, err)
		e.Params = map[string]interface{}{
			"deviationBps": devErr.DeviationBps.String(),
			"thresholdBps": devErr.ThresholdBps.String(),
		}
		return e
	case errors.Is(err, oracle.ErrOracleUnavailable):
		return NewAppError("ERR_ORACLE_UNAVAILABLE", err.Error(), http.StatusServiceUnavailable, err)
	case errors.Is(err, context.DeadlineExceeded):
		return NewAppError("ERR_TIMEOUT", "request timed out", http.StatusServiceUnavailable, err)
	default:
		return NewAppError("ERR_INTERNAL", "Something went wrong", http.StatusInternalServerError, err)
	}
}

// AppErrorResponse writes err as an error envelope.
func AppErrorResponse(c echo.Context, err error) error {
	var verr *routing.ValidationError
	if errors.As(err, &verr) {
		fields := make([]ValidationError, 0, len(verr.Fields))
		for _, f := range verr.Fields {
			fields = append(fields, ValidationError{
				Code:    "ERR_" + strings.ToUpper(f.Tag),
				Field:   f.Field,
				Message: f.Message,
			})
		}
		return BadRequestResponse(c, fields)
	}

	appErr := classify(err)
	return DataResponse(c, appErr.Status, []*AppError{appErr})
}
