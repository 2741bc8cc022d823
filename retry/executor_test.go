package retry

import (
	"context"
	"errors"
	"fmt"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/biomerkin-io/resilience-workflow/errclass"
)

func fastPolicy() Policy {
	p := DefaultPolicy()
	p.BaseDelay = time.Millisecond
	p.MaxDelay = 10 * time.Millisecond
	p.Jitter = false
	return p
}

func TestExecute_NetworkErrorsThenSuccess(t *testing.T) {
	e := NewExecutor(errclass.NewClassifier())

	calls := 0
	op := func(ctx context.Context) (string, error) {
		calls++
		if calls <= 2 {
			return "", fmt.Errorf("dial pubmed: %w", syscall.ECONNRESET)
		}
		return "ok", nil
	}

	val, err := Execute(context.Background(), e, fastPolicy(), "literature", "wf-1", op)
	require.NoError(t, err)
	require.Equal(t, "ok", val)
	require.Equal(t, 3, calls)
}

func TestExecute_ValidationNotRetried(t *testing.T) {
	e := NewExecutor(errclass.NewClassifier())

	calls := 0
	op := func(ctx context.Context) (string, error) {
		calls++
		return "", &errclass.ValidationError{Field: "fasta", Reason: "empty"}
	}

	_, err := Execute(context.Background(), e, fastPolicy(), "genomics", "wf-1", op)
	require.Error(t, err)
	require.Equal(t, 1, calls)

	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	require.Equal(t, errclass.CategoryValidation, exhausted.Info.Category)
	require.Equal(t, 1, exhausted.Attempts)
}

func TestExecute_AuthenticationNotRetried(t *testing.T) {
	e := NewExecutor(errclass.NewClassifier())

	calls := 0
	op := func(ctx context.Context) (string, error) {
		calls++
		return "", &errclass.APIError{StatusCode: 401, Endpoint: "/v1/search"}
	}

	_, err := Execute(context.Background(), e, fastPolicy(), "drug", "wf-1", op)
	require.Error(t, err)
	require.Equal(t, 1, calls)
}

func TestExecute_ExhaustionWrapsLastFailure(t *testing.T) {
	e := NewExecutor(errclass.NewClassifier())
	policy := fastPolicy()
	policy.MaxRetries = 2

	opErr := &errclass.APIError{StatusCode: 503, Endpoint: "/v1/blast"}
	calls := 0
	op := func(ctx context.Context) (string, error) {
		calls++
		return "", opErr
	}

	_, err := Execute(context.Background(), e, policy, "proteomics", "wf-9", op)
	require.Error(t, err)
	require.Equal(t, 3, calls) // initial attempt plus two retries

	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	require.Equal(t, 3, exhausted.Attempts)
	require.Equal(t, errclass.CategoryAPI, exhausted.Info.Category)
	require.ErrorIs(t, err, opErr)
}

func TestExecute_ZeroRetriesMeansSingleAttempt(t *testing.T) {
	e := NewExecutor(errclass.NewClassifier())
	policy := fastPolicy()
	policy.MaxRetries = 0

	calls := 0
	op := func(ctx context.Context) (int, error) {
		calls++
		return 0, errors.New("flaky")
	}

	_, err := Execute(context.Background(), e, policy, "decision", "", op)
	require.Error(t, err)
	require.Equal(t, 1, calls)
}

func TestExecute_CancellationStopsRetries(t *testing.T) {
	e := NewExecutor(errclass.NewClassifier())
	policy := fastPolicy()
	policy.BaseDelay = 50 * time.Millisecond
	policy.MaxDelay = time.Second
	policy.MaxRetries = 10

	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	op := func(ctx context.Context) (string, error) {
		calls++
		if calls == 1 {
			cancel()
		}
		return "", fmt.Errorf("dial ensembl: %w", syscall.ECONNREFUSED)
	}

	_, err := Execute(ctx, e, policy, "genomics", "wf-1", op)
	require.Error(t, err)
	require.ErrorIs(t, err, context.Canceled)
	require.LessOrEqual(t, calls, 2)
}

func TestExecute_NilExecutorStillRuns(t *testing.T) {
	val, err := Execute(context.Background(), nil, fastPolicy(), "genomics", "", func(ctx context.Context) (int, error) {
		return 42, nil
	})
	require.NoError(t, err)
	require.Equal(t, 42, val)
}
