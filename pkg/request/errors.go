package request

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// CodeRequestFailed is used when an error response carries no error code.
const CodeRequestFailed = "request_failed"

// RequestFailedError is returned for responses with a non-2xx status.
type RequestFailedError struct {
	// Status is the HTTP status code.
	Status int
	// Code is the machine-readable error code from the body, or CodeRequestFailed.
	Code string
	// Message is a human-readable description.
	Message string
	// Body is the raw response body.
	Body []byte
}

func (e *RequestFailedError) Error() string {
	return fmt.Sprintf("request failed with status %d: %s: %s", e.Status, e.Code, e.Message)
}

// NetworkError is returned when a request could not be completed at the
// transport level, so no HTTP status is known.
type NetworkError struct {
	Method string
	URL    string
	Err    error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Method, e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// errorBody covers both OAuth error responses (RFC 6749 section 5.2) and the
// {"error", "message"} shape used by the platform's REST modules.
type errorBody struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
	Message          string `json:"message"`
}

func newRequestFailedError(status int, body []byte) *RequestFailedError {
	e := &RequestFailedError{
		Status: status,
		Code:   CodeRequestFailed,
		Body:   body,
	}

	var parsed errorBody
	if err := json.Unmarshal(body, &parsed); err == nil {
		if parsed.Error != "" {
			e.Code = parsed.Error
		}
		switch {
		case parsed.ErrorDescription != "":
			e.Message = parsed.ErrorDescription
		case parsed.Message != "":
			e.Message = parsed.Message
		}
	}
	if e.Message == "" {
		e.Message = http.StatusText(status)
	}
	return e
}
