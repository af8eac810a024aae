package httpresp

import (
	"errors"
	"net/http"

	"negotiation_server/server/common/errs"
)

const (
	ErrMissingBearerToken = "bearer token is required"
	ErrInvalidToken       = "invalid token"
	ErrInsufficientRole   = "insufficient permissions"
	ErrInternal           = "internal error"
)

type ErrorResponse struct {
	Error  string            `json:"error"`
	Code   string            `json:"code,omitempty"`
	Fields []errs.FieldError `json:"fields,omitempty"`
}

type URLResponse struct {
	URL string `json:"url"`
}

func NewErrorResponse(message string) ErrorResponse {
	return ErrorResponse{Error: message}
}

func NewURLResponse(url string) URLResponse {
	return URLResponse{URL: url}
}

// FromError maps the error taxonomy to an HTTP status and response body.
// Unknown errors become 500 without leaking their text.
func FromError(err error) (int, ErrorResponse) {
	var validation *errs.ValidationError
	switch {
	case errors.As(err, &validation):
		return http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "validation", Fields: validation.Fields}
	case errors.Is(err, errs.ErrValidation):
		return http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "validation"}
	case errors.Is(err, errs.ErrNotFound):
		return http.StatusNotFound, ErrorResponse{Error: err.Error(), Code: "not_found"}
	case errors.Is(err, errs.ErrConflict):
		code := errs.Code(err)
		if code == "" {
			code = "conflict"
		}
		return http.StatusConflict, ErrorResponse{Error: err.Error(), Code: code}
	case errors.Is(err, errs.ErrForbidden):
		return http.StatusForbidden, ErrorResponse{Error: err.Error(), Code: "forbidden"}
	case errors.Is(err, errs.ErrNetwork):
		return http.StatusServiceUnavailable, ErrorResponse{Error: err.Error(), Code: "network"}
	default:
		return http.StatusInternalServerError, ErrorResponse{Error: ErrInternal, Code: "internal"}
	}
}
