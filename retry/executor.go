package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/biomerkin-io/resilience-workflow/errclass"
)

// Operation is one attemptable unit of work.
type Operation[T any] func(ctx context.Context) (T, error)

// ExhaustedError is returned once a retry loop gives up. It carries the
// classification of the final failure and the number of attempts made, so the
// caller can pick a recovery strategy without re-deriving either.
type ExhaustedError struct {
	Info     errclass.ErrorInfo
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("agent %s failed after %d attempt(s): %v", e.Info.Agent, e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Err
}

// Executor runs operations with classified, category-tuned retries.
type Executor struct {
	classifier *errclass.Classifier
	logger     *zap.Logger
}

type ExecutorOption func(*Executor)

func WithLogger(logger *zap.Logger) ExecutorOption {
	return func(e *Executor) {
		e.logger = logger
	}
}

func NewExecutor(classifier *errclass.Classifier, opts ...ExecutorOption) *Executor {
	e := &Executor{
		classifier: classifier,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.classifier == nil {
		e.classifier = errclass.NewClassifier()
	}
	return e
}

// policyBackOff feeds Policy.DelayFor into the backoff machinery. The retry
// loop stores the category of the last classified failure before the next
// interval is consulted.
type policyBackOff struct {
	policy   Policy
	attempt  int
	category errclass.Category
}

func (b *policyBackOff) NextBackOff() time.Duration {
	if b.attempt >= b.policy.MaxRetries {
		return backoff.Stop
	}
	d := b.policy.DelayFor(b.attempt, b.category)
	b.attempt++
	return d
}

func (b *policyBackOff) Reset() {
	b.attempt = 0
	b.category = ""
}

// Execute runs op under the given policy. Failures are classified on every
// attempt; an attempt is retried only while retries remain, the failure is
// recoverable, and its category is neither authentication nor validation.
// Backoff suspends cooperatively and observes ctx at every suspension point.
// On exhaustion the last failure is returned wrapped in *ExhaustedError.
func Execute[T any](ctx context.Context, e *Executor, policy Policy, agent, workflowID string, op Operation[T]) (T, error) {
	if e == nil {
		e = NewExecutor(nil)
	}

	bo := &policyBackOff{policy: policy}

	var attempts int
	var lastInfo errclass.ErrorInfo

	wrapped := func() (T, error) {
		attempt := attempts
		attempts++

		val, err := op(ctx)
		if err == nil {
			return val, nil
		}

		info := e.classifier.Classify(err, agent, workflowID, map[string]any{"attempt": attempt + 1})
		info.RetryCount = attempt
		lastInfo = info

		e.logger.Warn("attempt failed",
			zap.String("agent", agent),
			zap.String("workflow_id", workflowID),
			zap.Int("attempt", attempt+1),
			zap.String("category", string(info.Category)),
			zap.Bool("recoverable", info.Recoverable),
			zap.Error(err),
		)

		if !shouldRetry(info) {
			return val, backoff.Permanent(err)
		}

		bo.category = info.Category
		return val, err
	}

	notify := func(err error, delay time.Duration) {
		e.logger.Info("retrying agent",
			zap.String("agent", agent),
			zap.String("workflow_id", workflowID),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
	}

	val, err := backoff.RetryNotifyWithData(wrapped, backoff.WithContext(bo, ctx), notify)
	if err == nil {
		return val, nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		// Cancellation unwinds without fabricating a classification.
		return val, ctxErr
	}

	if lastInfo.Agent == "" {
		lastInfo = e.classifier.Classify(err, agent, workflowID, nil)
	}
	return val, &ExhaustedError{Info: lastInfo, Attempts: attempts, Err: err}
}

// shouldRetry is the pure retry decision over a classified failure.
func shouldRetry(info errclass.ErrorInfo) bool {
	if !info.Recoverable {
		return false
	}
	switch info.Category {
	case errclass.CategoryAuthentication, errclass.CategoryValidation:
		return false
	}
	return true
}
