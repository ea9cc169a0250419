package llm

import (
	"errors"
	"fmt"
)

// ErrModelUnavailable is returned when no credential is configured for the model provider.
var ErrModelUnavailable = errors.New("language model unavailable: no API credential configured")

// ResponseParseError is returned when a model's output is not a single valid JSON object
// or is missing required fields.
type ResponseParseError struct {
	Model   string
	Message string
	Raw     string
	Cause   error
}

func (e *ResponseParseError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("response parse error from %s: %s: %v", e.Model, e.Message, e.Cause)
	}
	return fmt.Sprintf("response parse error from %s: %s", e.Model, e.Message)
}

func (e *ResponseParseError) Unwrap() error {
	return e.Cause
}
