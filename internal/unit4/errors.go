package unit4

import "fmt"

// ConfigurationError reports missing or invalid client settings.
type ConfigurationError struct {
	Setting string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("unit4: configuration missing %s", e.Setting)
}

// AuthenticationError reports a token endpoint that refused the client credentials.
type AuthenticationError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *AuthenticationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("unit4: token request failed: %v", e.Err)
	}
	return fmt.Sprintf("unit4: token endpoint returned %d: %s", e.StatusCode, e.Body)
}

func (e *AuthenticationError) Unwrap() error {
	return e.Err
}

// SubmissionError reports a batch the API did not accept.
type SubmissionError struct {
	BatchID  string
	Response BatchResponse
	Err      error
}

func (e *SubmissionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("unit4: submit batch %s: %v", e.BatchID, e.Err)
	}
	return fmt.Sprintf("unit4: batch %s rejected: %s", e.BatchID, e.Response.Summary())
}

func (e *SubmissionError) Unwrap() error {
	return e.Err
}
