package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"evalgo.org/stratum/internal/auth"
	"evalgo.org/stratum/internal/cluster"
	"evalgo.org/stratum/internal/query"
)

// Error codes raised by the HTTP layer itself.
const (
	CodeInvalidFilter   = "INVALID_FILTER"
	CodeInvalidRequest  = "INVALID_REQUEST"
	CodeValidation      = "VALIDATION_FAILED"
	CodeForbidden       = "PROJECT_FORBIDDEN"
	CodeInternal        = "INTERNAL_ERROR"
	CodeRequestTimedOut = "REQUEST_TIMEOUT"
)

// APIError represents a structured API error with HTTP status code.
type APIError struct {
	Code       int                    `json:"code"`
	ErrorCode  string                 `json:"errorCode,omitempty"`
	Message    string                 `json:"message"`
	Details    string                 `json:"details,omitempty"`
	FieldError map[string]string      `json:"field_errors,omitempty"`
	Context    map[string]interface{} `json:"context,omitempty"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s", e.Message, e.Details)
	}
	return e.Message
}

// NewAPIError creates a new API error.
func NewAPIError(code int, errorCode, message, details string) *APIError {
	return &APIError{
		Code:      code,
		ErrorCode: errorCode,
		Message:   message,
		Details:   details,
	}
}

// Common error constructors
func BadRequestError(message, details string) *APIError {
	return NewAPIError(http.StatusBadRequest, CodeInvalidRequest, message, details)
}

func ValidationError(message string, fieldErrors map[string]string) *APIError {
	return &APIError{
		Code:       http.StatusBadRequest,
		ErrorCode:  CodeValidation,
		Message:    message,
		FieldError: fieldErrors,
	}
}

func InternalError(message, details string) *APIError {
	return NewAPIError(http.StatusInternalServerError, CodeInternal, message, details)
}

// statusForKind maps an orchestration error kind to an HTTP status.
func statusForKind(k cluster.Kind) int {
	switch k {
	case cluster.KindValidation:
		return http.StatusBadRequest
	case cluster.KindNotFound:
		return http.StatusNotFound
	case cluster.KindConflict:
		return http.StatusConflict
	case cluster.KindDownstream:
		return http.StatusInternalServerError
	}
	return http.StatusInternalServerError
}

// toAPIError converts domain errors into API errors. Errors it does not
// know are returned unchanged.
func toAPIError(err error) error {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}

	if ce, ok := cluster.AsError(err); ok {
		out := &APIError{
			Code:      statusForKind(ce.Kind),
			ErrorCode: ce.Code,
			Message:   ce.Message,
		}
		if ce.Err != nil {
			out.Details = ce.Err.Error()
		}
		return out
	}

	var syntaxErr *query.SyntaxError
	if errors.As(err, &syntaxErr) {
		return NewAPIError(http.StatusBadRequest, CodeInvalidFilter, "Invalid filter", syntaxErr.Error())
	}

	if errors.Is(err, auth.ErrProjectForbidden) {
		return NewAPIError(http.StatusForbidden, CodeForbidden, "Forbidden", "the requested project is not granted")
	}

	return err
}

// HTTPErrorHandler is a custom error handler for Echo.
func HTTPErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	var apiErr *APIError
	code := http.StatusInternalServerError

	var he *echo.HTTPError
	if errors.As(err, &he) {
		code = he.Code
		apiErr = &APIError{
			Code:    code,
			Message: getHTTPMessage(code),
			Details: fmt.Sprintf("%v", he.Message),
		}
	} else if ae, ok := toAPIError(err).(*APIError); ok {
		apiErr = ae
		code = ae.Code
	} else {
		apiErr = &APIError{
			Code:      code,
			ErrorCode: CodeInternal,
			Message:   "Internal server error",
			Details:   err.Error(),
		}
	}

	// Don't expose internal errors in production
	if code == http.StatusInternalServerError && !c.Echo().Debug {
		apiErr.Details = "An internal error occurred. Please try again later."
	}

	if err := c.JSON(code, apiErr); err != nil {
		c.Logger().Error(err)
	}
}

// getHTTPMessage returns a user-friendly message for HTTP status codes.
func getHTTPMessage(code int) string {
	messages := map[int]string{
		http.StatusBadRequest:           "Bad request",
		http.StatusUnauthorized:         "Unauthorized",
		http.StatusForbidden:            "Forbidden",
		http.StatusNotFound:             "Resource not found",
		http.StatusMethodNotAllowed:     "Method not allowed",
		http.StatusConflict:             "Conflict",
		http.StatusUnsupportedMediaType: "Unsupported media type",
		http.StatusTooManyRequests:      "Too many requests",
		http.StatusInternalServerError:  "Internal server error",
		http.StatusServiceUnavailable:   "Service unavailable",
	}

	if msg, ok := messages[code]; ok {
		return msg
	}
	return http.StatusText(code)
}
