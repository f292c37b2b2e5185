package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/pkg/errors"
)

// ErrSessionExpired signals an unrecoverable refresh failure. The pipeline
// has already cleared the stored credentials and fired the session-expired
// callback by the time a caller sees this error.
var ErrSessionExpired = errors.New("session expired")

// APIError is the normalized shape of a backend error payload. The backend
// reports failures under several ad-hoc field names (detail, message, error,
// non_field_errors); normalization happens once at the pipeline boundary so
// downstream code consumes a single consistent shape.
type APIError struct {
	Status int    // HTTP status code
	Code   string // machine-readable error code, when the backend sends one
	Detail string // human-readable message
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error %d (%s): %s", e.Status, e.Code, e.Detail)
	}
	return fmt.Sprintf("api error %d: %s", e.Status, e.Detail)
}

func normalizeError(status int, body []byte) *APIError {
	var payload struct {
		Detail         string   `json:"detail"`
		Message        string   `json:"message"`
		ErrMessage     string   `json:"error"`
		Code           string   `json:"code"`
		NonFieldErrors []string `json:"non_field_errors"`
	}
	_ = json.Unmarshal(body, &payload) // non-JSON bodies fall through to the status text

	detail := payload.Detail
	if detail == "" {
		detail = payload.Message
	}
	if detail == "" {
		detail = payload.ErrMessage
	}
	if detail == "" && len(payload.NonFieldErrors) > 0 {
		detail = payload.NonFieldErrors[0]
	}
	if detail == "" {
		detail = http.StatusText(status)
	}

	return &APIError{Status: status, Code: payload.Code, Detail: detail}
}
