package errclass

import (
	"context"
	"errors"
	"fmt"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func fixedClock() time.Time {
	return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
}

func TestClassify_BaseCategories(t *testing.T) {
	classifier := NewClassifier(WithClock(fixedClock))

	tests := []struct {
		name        string
		err         error
		category    Category
		severity    Severity
		recoverable bool
	}{
		{
			name:        "deadline exceeded",
			err:         context.DeadlineExceeded,
			category:    CategoryTimeout,
			severity:    SeverityMedium,
			recoverable: true,
		},
		{
			name:        "connection refused",
			err:         fmt.Errorf("dial upstream: %w", syscall.ECONNREFUSED),
			category:    CategoryNetwork,
			severity:    SeverityMedium,
			recoverable: true,
		},
		{
			name:        "authentication",
			err:         &AuthenticationError{Reason: "expired token"},
			category:    CategoryAuthentication,
			severity:    SeverityHigh,
			recoverable: false,
		},
		{
			name:        "validation",
			err:         &ValidationError{Field: "sequence", Reason: "empty"},
			category:    CategoryValidation,
			severity:    SeverityLow,
			recoverable: false,
		},
		{
			name:        "rate limited sentinel",
			err:         fmt.Errorf("upstream said no: %w", ErrRateLimited),
			category:    CategoryRateLimit,
			severity:    SeverityMedium,
			recoverable: true,
		},
		{
			name:        "api error",
			err:         &APIError{StatusCode: 404, Endpoint: "/v1/genes"},
			category:    CategoryAPI,
			severity:    SeverityMedium,
			recoverable: true,
		},
		{
			name:        "processing",
			err:         &ProcessingError{Stage: "alignment", Err: errors.New("bad frame")},
			category:    CategoryProcessing,
			severity:    SeverityMedium,
			recoverable: true,
		},
		{
			name:        "missing file",
			err:         fmt.Errorf("open reference: %w", os.ErrNotExist),
			category:    CategoryResource,
			severity:    SeverityMedium,
			recoverable: true,
		},
		{
			name:        "permission denied",
			err:         fmt.Errorf("write scratch: %w", os.ErrPermission),
			category:    CategorySystem,
			severity:    SeverityHigh,
			recoverable: true,
		},
		{
			name:        "unmatched",
			err:         errors.New("something odd happened"),
			category:    CategoryUnknown,
			severity:    SeverityMedium,
			recoverable: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info := classifier.Classify(tt.err, "genomics", "wf-1", nil)
			require.Equal(t, tt.category, info.Category)
			require.Equal(t, tt.severity, info.Severity)
			require.Equal(t, tt.recoverable, info.Recoverable)
			require.Equal(t, "genomics", info.Agent)
			require.Equal(t, "wf-1", info.WorkflowID)
			require.Equal(t, fixedClock(), info.Timestamp)
		})
	}
}

func TestClassify_StatusCodeRefinement(t *testing.T) {
	classifier := NewClassifier()

	tests := []struct {
		status      int
		category    Category
		severity    Severity
		recoverable bool
	}{
		{401, CategoryAuthentication, SeverityHigh, false},
		{403, CategoryAuthentication, SeverityHigh, false},
		{429, CategoryRateLimit, SeverityMedium, true},
		{500, CategoryAPI, SeverityHigh, true},
		{503, CategoryAPI, SeverityHigh, true},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("status %d", tt.status), func(t *testing.T) {
			info := classifier.Classify(&APIError{StatusCode: tt.status, Endpoint: "/v1"}, "drug", "", nil)
			require.Equal(t, tt.category, info.Category)
			require.Equal(t, tt.severity, info.Severity)
			require.Equal(t, tt.recoverable, info.Recoverable)
		})
	}
}

func TestClassify_MessageRefinement(t *testing.T) {
	classifier := NewClassifier()

	info := classifier.Classify(errors.New("request timeout after 30s"), "literature", "", nil)
	require.Equal(t, CategoryTimeout, info.Category)

	info = classifier.Classify(errors.New("Too Many Requests, slow down"), "literature", "", nil)
	require.Equal(t, CategoryRateLimit, info.Category)

	info = classifier.Classify(errors.New("rate limit hit for key"), "literature", "", nil)
	require.Equal(t, CategoryRateLimit, info.Category)
}

func TestClassify_AuthAndValidationNeverRecoverable(t *testing.T) {
	classifier := NewClassifier()

	for _, err := range []error{
		&AuthenticationError{Reason: "revoked"},
		&ValidationError{Reason: "truncated record"},
		&APIError{StatusCode: 401},
		&APIError{StatusCode: 403},
	} {
		info := classifier.Classify(err, "proteomics", "wf-2", nil)
		require.False(t, info.Recoverable, "expected %v to be non-recoverable", err)
	}
}

func TestClassify_CriticalSeverityNotRecoverable(t *testing.T) {
	classifier := NewClassifier(WithRule(func(err error) bool {
		return err.Error() == "out of memory"
	}, CategorySystem, SeverityCritical))

	info := classifier.Classify(errors.New("out of memory"), "decision", "", nil)
	require.Equal(t, CategorySystem, info.Category)
	require.Equal(t, SeverityCritical, info.Severity)
	require.False(t, info.Recoverable)
}

func TestClassify_NilError(t *testing.T) {
	classifier := NewClassifier()

	require.NotPanics(t, func() {
		info := classifier.Classify(nil, "genomics", "", nil)
		require.Equal(t, CategoryUnknown, info.Category)
	})
}

func TestClassify_BreakerAndBulkheadSentinels(t *testing.T) {
	classifier := NewClassifier()

	info := classifier.Classify(ErrCircuitOpen, "genomics", "", nil)
	require.Equal(t, CategoryResource, info.Category)

	info = classifier.Classify(fmt.Errorf("agent busy: %w", ErrBulkheadFull), "genomics", "", nil)
	require.Equal(t, CategoryResource, info.Category)
}
