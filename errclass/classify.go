package errclass

import (
	"context"
	"errors"
	"net"
	"os"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// baseRule maps an error kind to its base classification. Rules are checked
// in order, the first match wins.
type baseRule struct {
	match    func(error) bool
	category Category
	severity Severity
}

// Classifier turns raw failures into ErrorInfo values. Classify never fails:
// anything it cannot match becomes unknown/medium.
type Classifier struct {
	rules  []baseRule
	clock  func() time.Time
	logger *zap.Logger
}

type ClassifierOption func(*Classifier)

func WithClock(clock func() time.Time) ClassifierOption {
	return func(c *Classifier) {
		c.clock = clock
	}
}

func WithLogger(logger *zap.Logger) ClassifierOption {
	return func(c *Classifier) {
		c.logger = logger
	}
}

// WithRule prepends a custom base rule, letting callers map their own error
// kinds ahead of the built-ins.
func WithRule(match func(error) bool, category Category, severity Severity) ClassifierOption {
	return func(c *Classifier) {
		c.rules = append([]baseRule{{match: match, category: category, severity: severity}}, c.rules...)
	}
}

func NewClassifier(opts ...ClassifierOption) *Classifier {
	c := &Classifier{
		rules:  builtinRules(),
		clock:  time.Now,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func builtinRules() []baseRule {
	return []baseRule{
		{match: isTimeout, category: CategoryTimeout, severity: SeverityMedium},
		{match: isAuthentication, category: CategoryAuthentication, severity: SeverityHigh},
		{match: isValidation, category: CategoryValidation, severity: SeverityLow},
		{match: isRateLimit, category: CategoryRateLimit, severity: SeverityMedium},
		{match: isAPI, category: CategoryAPI, severity: SeverityMedium},
		{match: isNetwork, category: CategoryNetwork, severity: SeverityMedium},
		{match: isProcessing, category: CategoryProcessing, severity: SeverityMedium},
		{match: isResource, category: CategoryResource, severity: SeverityMedium},
		{match: isSystem, category: CategorySystem, severity: SeverityHigh},
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func isAuthentication(err error) bool {
	var authErr *AuthenticationError
	return errors.As(err, &authErr)
}

func isValidation(err error) bool {
	var valErr *ValidationError
	return errors.As(err, &valErr)
}

func isRateLimit(err error) bool {
	return errors.Is(err, ErrRateLimited)
}

func isAPI(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr)
}

func isNetwork(err error) bool {
	if errors.Is(err, net.ErrClosed) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) {
		return true
	}
	var opErr *net.OpError
	var dnsErr *net.DNSError
	return errors.As(err, &opErr) || errors.As(err, &dnsErr)
}

func isProcessing(err error) bool {
	var procErr *ProcessingError
	return errors.As(err, &procErr)
}

func isResource(err error) bool {
	return errors.Is(err, os.ErrNotExist) ||
		errors.Is(err, ErrBulkheadFull) ||
		errors.Is(err, ErrCircuitOpen)
}

func isSystem(err error) bool {
	return errors.Is(err, os.ErrPermission) || errors.Is(err, context.Canceled)
}

// Classify builds an ErrorInfo for err. The order is fixed: base kind lookup,
// then refinement on structured signals, then the recoverability verdict.
func (c *Classifier) Classify(err error, agent, workflowID string, ctx map[string]any) ErrorInfo {
	if err == nil {
		err = errors.New("unspecified failure")
	}

	category, severity := c.baseClassification(err)
	category, severity = refineClassification(err, category, severity)
	recoverable := isRecoverable(category, severity)

	info := ErrorInfo{
		Category:    category,
		Severity:    severity,
		Message:     err.Error(),
		Agent:       agent,
		WorkflowID:  workflowID,
		Timestamp:   c.clock().UTC(),
		Recoverable: recoverable,
		Context:     ctx,
	}

	c.logger.Debug("classified error",
		zap.String("agent", agent),
		zap.String("category", string(category)),
		zap.String("severity", string(severity)),
		zap.Bool("recoverable", recoverable),
	)

	return info
}

func (c *Classifier) baseClassification(err error) (Category, Severity) {
	for _, rule := range c.rules {
		if rule.match(err) {
			return rule.category, rule.severity
		}
	}
	return CategoryUnknown, SeverityMedium
}

func refineClassification(err error, category Category, severity Severity) (Category, Severity) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == 401 || apiErr.StatusCode == 403:
			return CategoryAuthentication, SeverityHigh
		case apiErr.StatusCode == 429:
			return CategoryRateLimit, SeverityMedium
		case apiErr.StatusCode >= 500 && apiErr.StatusCode < 600:
			return CategoryAPI, SeverityHigh
		}
	}

	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "timeout") {
		return CategoryTimeout, SeverityMedium
	}
	if strings.Contains(msg, "rate limit") || strings.Contains(msg, "too many requests") {
		return CategoryRateLimit, SeverityMedium
	}

	return category, severity
}

// isRecoverable is the final classification step. Critical failures and
// operator mistakes (authentication, validation) are never recoverable.
func isRecoverable(category Category, severity Severity) bool {
	if severity == SeverityCritical {
		return false
	}
	switch category {
	case CategoryAuthentication, CategoryValidation:
		return false
	}
	return true
}
