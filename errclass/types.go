package errclass

import (
	"errors"
	"fmt"
	"time"
)

// Category groups failures by the handling strategy they need.
type Category string

const (
	CategoryNetwork        Category = "network_error"
	CategoryAPI            Category = "api_error"
	CategoryRateLimit      Category = "rate_limit_error"
	CategoryAuthentication Category = "authentication_error"
	CategoryValidation     Category = "validation_error"
	CategoryProcessing     Category = "processing_error"
	CategorySystem         Category = "system_error"
	CategoryTimeout        Category = "timeout_error"
	CategoryResource       Category = "resource_error"
	CategoryUnknown        Category = "unknown_error"
)

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// ErrorInfo is the classified view of a single failure. It is created by
// Classifier.Classify and never mutated afterwards.
type ErrorInfo struct {
	Category    Category       `json:"category"`
	Severity    Severity       `json:"severity"`
	Message     string         `json:"message"`
	Agent       string         `json:"agent"`
	WorkflowID  string         `json:"workflow_id,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
	RetryCount  int            `json:"retry_count"`
	Recoverable bool           `json:"recoverable"`
	Context     map[string]any `json:"context,omitempty"`
}

var (
	// ErrCircuitOpen is returned when a circuit breaker denies a request.
	ErrCircuitOpen = errors.New("circuit breaker open")

	// ErrBulkheadFull is returned when an agent's bulkhead rejects admission.
	// It is never retried, retrying into a full bulkhead compounds overload.
	ErrBulkheadFull = errors.New("bulkhead capacity exceeded")

	// ErrRateLimited marks an upstream throttling response.
	ErrRateLimited = errors.New("rate limited")
)

// APIError carries a structured HTTP-ish failure from an external collaborator.
type APIError struct {
	StatusCode int
	Endpoint   string
	Body       string
	Err        error
}

func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("api error %d from %s: %v", e.StatusCode, e.Endpoint, e.Err)
	}
	return fmt.Sprintf("api error %d from %s", e.StatusCode, e.Endpoint)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// ValidationError marks malformed or rejected input. Validation failures are
// operator mistakes, not transient faults, and are never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation failed: %s", e.Reason)
	}
	return fmt.Sprintf("validation failed for %s: %s", e.Field, e.Reason)
}

// AuthenticationError marks a rejected credential or missing permission.
type AuthenticationError struct {
	Reason string
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("authentication failed: %s", e.Reason)
}

// ProcessingError marks a failure inside an agent's own computation.
type ProcessingError struct {
	Stage string
	Err   error
}

func (e *ProcessingError) Error() string {
	return fmt.Sprintf("processing failed at %s: %v", e.Stage, e.Err)
}

func (e *ProcessingError) Unwrap() error {
	return e.Err
}
