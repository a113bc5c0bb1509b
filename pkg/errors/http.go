package errors

import (
	"encoding/json"
	"errors"
	"net/http"
)

// HTTP status code mappings. Fault attribution follows the taxonomy:
// client faults are 4xx, provider faults are 5xx.
var errorStatusCodes = map[error]int{
	ErrInvalidInput:        http.StatusBadRequest,
	ErrProviderUnavailable: http.StatusInternalServerError,
	ErrProviderRejected:    http.StatusBadGateway,
	ErrProviderTimeout:     http.StatusBadGateway,
	ErrMalformedOutput:     http.StatusBadGateway,
	ErrNoTranscript:        http.StatusBadGateway,
	ErrInternalError:       http.StatusInternalServerError,
}

// WriteError writes a standardized error response to the HTTP response writer.
func WriteError(w http.ResponseWriter, err error) {
	var statusCode int
	var response map[string]interface{}

	var serr *Error
	switch {
	case err == nil:
		statusCode = http.StatusInternalServerError
		response = map[string]interface{}{"error": "unknown error"}
	case errors.As(err, &serr):
		statusCode = HTTPStatusFromError(serr.original)
		response = serr.AsJSON()
	default:
		statusCode = HTTPStatusFromError(err)
		response = map[string]interface{}{"error": err.Error()}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.Encode(response)
}

// HTTPStatusFromError determines the appropriate HTTP status code for an error.
func HTTPStatusFromError(err error) int {
	for err != nil {
		if code, ok := errorStatusCodes[err]; ok {
			return code
		}
		unwrapped := errors.Unwrap(err)
		if unwrapped == err || unwrapped == nil {
			break
		}
		err = unwrapped
	}
	return http.StatusInternalServerError
}
