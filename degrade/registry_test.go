package degrade

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/biomerkin-io/resilience-workflow/errclass"
)

func testInfo() errclass.ErrorInfo {
	return errclass.ErrorInfo{
		Category:  errclass.CategoryAPI,
		Severity:  errclass.SeverityHigh,
		Message:   "upstream returned 503",
		Agent:     "literature",
		Timestamp: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestApply_RegisteredStrategy(t *testing.T) {
	r := NewRegistry()
	r.Register("literature", func(info errclass.ErrorInfo, partial map[string]any) map[string]any {
		return map[string]any{
			"status":       "degraded",
			"key_findings": []string{"literature search unavailable"},
		}
	})

	result := r.Apply("literature", testInfo(), map[string]any{"search_terms": []string{"BRCA1"}})

	require.Equal(t, "degraded", result["status"])
	require.Equal(t, true, result["fallback_applied"])
	require.Equal(t, "upstream returned 503", result["fallback_reason"])
	require.NotEmpty(t, result["timestamp"])
	// Partial fields carry over without clobbering the strategy's output.
	require.Equal(t, []string{"BRCA1"}, result["search_terms"])
	require.Equal(t, []string{"literature search unavailable"}, result["key_findings"])
}

func TestApply_StrategyOutputWins(t *testing.T) {
	r := NewRegistry()
	r.Register("drug", func(info errclass.ErrorInfo, partial map[string]any) map[string]any {
		return map[string]any{
			"status":          "degraded",
			"fallback_reason": "drug discovery failed: " + info.Message,
			"candidates":      []string{},
		}
	})

	result := r.Apply("drug", testInfo(), map[string]any{"candidates": []string{"stale"}})

	require.Equal(t, "drug discovery failed: upstream returned 503", result["fallback_reason"])
	require.Equal(t, []string{}, result["candidates"])
}

func TestApply_UnregisteredGetsGeneric(t *testing.T) {
	r := NewRegistry(WithClock(func() time.Time {
		return time.Date(2025, 6, 1, 13, 0, 0, 0, time.UTC)
	}))

	partial := map[string]any{"genes": []string{"TP53"}}
	result := r.Apply("genomics", testInfo(), partial)

	require.Equal(t, "failed", result["status"])
	require.Equal(t, true, result["fallback_applied"])
	require.Equal(t, partial, result["partial_results"])

	errInfo, ok := result["error"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, "api_error", errInfo["category"])
	require.Equal(t, "high", errInfo["severity"])
	require.Equal(t, "upstream returned 503", errInfo["message"])
}

func TestApply_NilPartial(t *testing.T) {
	r := NewRegistry()

	result := r.Apply("decision", testInfo(), nil)
	require.Equal(t, map[string]any{}, result["partial_results"])
}

func TestApply_PanickingStrategyFallsBackToGeneric(t *testing.T) {
	r := NewRegistry()
	r.Register("proteomics", func(info errclass.ErrorInfo, partial map[string]any) map[string]any {
		panic("strategy bug")
	})

	require.NotPanics(t, func() {
		result := r.Apply("proteomics", testInfo(), nil)
		require.Equal(t, "failed", result["status"])
		require.Equal(t, true, result["fallback_applied"])
	})
}

func TestRegistered(t *testing.T) {
	r := NewRegistry()
	require.False(t, r.Registered("genomics"))

	r.Register("genomics", func(errclass.ErrorInfo, map[string]any) map[string]any {
		return map[string]any{}
	})
	require.True(t, r.Registered("genomics"))
}
