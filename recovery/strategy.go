package recovery

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/biomerkin-io/resilience-workflow/errclass"
)

// Action is the orchestrator's post-exhaustion decision for a failed agent.
type Action string

const (
	ActionRetry           Action = "retry"
	ActionFallback        Action = "fallback"
	ActionSkip            Action = "skip"
	ActionAbort           Action = "abort"
	ActionContinuePartial Action = "continue_partial"
)

// Impact describes how much of the workflow an error compromises.
type Impact string

const (
	ImpactMinimal  Impact = "minimal"
	ImpactModerate Impact = "moderate"
	ImpactSevere   Impact = "severe"
	ImpactCritical Impact = "critical"
)

// ImpactFor derives the workflow impact from an error's severity.
func ImpactFor(severity errclass.Severity) Impact {
	switch severity {
	case errclass.SeverityCritical:
		return ImpactCritical
	case errclass.SeverityHigh:
		return ImpactSevere
	case errclass.SeverityLow:
		return ImpactMinimal
	default:
		return ImpactModerate
	}
}

// Strategy describes how a failed agent is recovered.
type Strategy struct {
	Action               Action         `json:"action"`
	Description          string         `json:"description"`
	EstimatedSuccessRate float64        `json:"estimated_success_rate"`
	FallbackData         map[string]any `json:"fallback_data,omitempty"`
	SkipReason           string         `json:"skip_reason,omitempty"`
}

// EnhancedError is the durable record of one exhausted failure. It is created
// once retries give up and appended to the metrics aggregate; only the
// resolution fields may change afterwards.
type EnhancedError struct {
	ID string `json:"error_id"`
	errclass.ErrorInfo
	Impact           Impact    `json:"impact"`
	Strategy         *Strategy `json:"recovery_strategy,omitempty"`
	Resolved         bool      `json:"resolved"`
	ResolvedAt       time.Time `json:"resolved_at,omitzero"`
	ResolutionMethod string    `json:"resolution_method,omitempty"`
}

func NewEnhancedError(info errclass.ErrorInfo) *EnhancedError {
	return &EnhancedError{
		ID:        uuid.NewString(),
		ErrorInfo: info,
		Impact:    ImpactFor(info.Severity),
	}
}

// Resolve marks the error handled. The first resolution wins.
func (e *EnhancedError) Resolve(method string, at time.Time) {
	if e.Resolved {
		return
	}
	e.Resolved = true
	e.ResolvedAt = at
	e.ResolutionMethod = method
}

// DecideStrategy is the pure decision table picking a recovery action for an
// exhausted failure. Critical and authentication failures abort, validation
// failures skip, everything else degrades to a tagged fallback with a
// category-tuned success estimate.
func DecideStrategy(e *EnhancedError) Strategy {
	if e.Impact == ImpactCritical {
		return Strategy{
			Action:               ActionAbort,
			Description:          "critical error requires workflow termination",
			EstimatedSuccessRate: 0.0,
		}
	}

	switch e.Category {
	case errclass.CategoryAuthentication:
		return Strategy{
			Action:               ActionAbort,
			Description:          "authentication error requires manual intervention",
			EstimatedSuccessRate: 0.0,
		}
	case errclass.CategoryValidation:
		return Strategy{
			Action:               ActionSkip,
			Description:          "invalid input data cannot be processed",
			EstimatedSuccessRate: 0.0,
			SkipReason:           "input validation failed",
		}
	}

	rate := 0.8
	switch e.Category {
	case errclass.CategoryNetwork, errclass.CategoryTimeout:
		rate = 0.9
	case errclass.CategoryAPI:
		rate = 0.7
	case errclass.CategoryProcessing:
		rate = 0.6
	}

	return Strategy{
		Action:               ActionFallback,
		Description:          fmt.Sprintf("apply graceful degradation for %s", e.Category),
		EstimatedSuccessRate: rate,
		FallbackData:         map[string]any{},
	}
}
