package relay

import "strings"

// GenerationRequest is one prompt pair submitted for generation
type GenerationRequest struct {
	Positive string `json:"positive"`
	Negative string `json:"negative"`
}

// Normalize trims surrounding whitespace from both prompts
func (r GenerationRequest) Normalize() GenerationRequest {
	return GenerationRequest{
		Positive: strings.TrimSpace(r.Positive),
		Negative: strings.TrimSpace(r.Negative),
	}
}

// Validate expects a normalized request
func (r GenerationRequest) Validate() error {
	if r.Positive == "" {
		return &ValidationError{Field: "positive", Message: "missing positive prompt"}
	}
	return nil
}

// ValidationError is a request the caller has to fix. Nothing was submitted.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}
