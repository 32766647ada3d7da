package transport

import (
	"encoding/json"
	"net/http"

	"github.com/rhuss/omnigate/pkg/api"
)

// ErrorResponse wraps an api.Error for JSON serialization as the top-level
// error response of HTTP-carried protocols that have no native error shape.
type ErrorResponse struct {
	Error *api.Error `json:"error"`
}

// HTTPStatusFromKind maps an error kind to the corresponding HTTP status
// code. Transport-level errors (body too large, bad upgrade) are handled
// separately by the HTTP adapter.
func HTTPStatusFromKind(kind api.ErrorKind) int {
	switch kind {
	case api.KindDecode:
		return http.StatusBadRequest
	case api.KindNotFound:
		return http.StatusNotFound
	case api.KindOverload, api.KindBackpressure:
		return http.StatusServiceUnavailable
	case api.KindTimeout:
		return http.StatusGatewayTimeout
	case api.KindCancelled:
		return http.StatusRequestTimeout
	case api.KindUnauthenticated:
		return http.StatusUnauthorized
	case api.KindForbidden:
		return http.StatusForbidden
	case api.KindRateLimited:
		return http.StatusTooManyRequests
	case api.KindHandler, api.KindInternal, api.KindDuplicate:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// RetryAfterSeconds is the Retry-After hint sent with retryable errors.
const RetryAfterSeconds = "1"

// WriteErrorResponse writes a JSON error response using the ErrorResponse
// wrapper format. Retryable errors carry a Retry-After header.
func WriteErrorResponse(w http.ResponseWriter, apiErr *api.Error, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	if apiErr.Retryable() {
		w.Header().Set("Retry-After", RetryAfterSeconds)
	}
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponse{Error: apiErr})
}

// WriteAPIError writes an api.Error response, deriving the HTTP status code
// from the error kind.
func WriteAPIError(w http.ResponseWriter, apiErr *api.Error) {
	WriteErrorResponse(w, apiErr, HTTPStatusFromKind(apiErr.Kind))
}
