// Package degrade hosts per-agent graceful degradation strategies. When an
// agent exhausts its retries the orchestrator substitutes the agent's
// registered fallback payload instead of failing the whole workflow. Every
// substitute is explicitly tagged, nothing is silently fabricated.
package degrade

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/biomerkin-io/resilience-workflow/errclass"
)

// Strategy produces a substitute result for a failed agent. partial carries
// whatever the agent managed to produce before failing and may be nil.
type Strategy func(info errclass.ErrorInfo, partial map[string]any) map[string]any

type Registry struct {
	mu         sync.RWMutex
	strategies map[string]Strategy
	clock      func() time.Time
	logger     *zap.Logger
}

type Option func(*Registry)

func WithClock(clock func() time.Time) Option {
	return func(r *Registry) {
		r.clock = clock
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(r *Registry) {
		r.logger = logger
	}
}

func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		strategies: make(map[string]Strategy),
		clock:      time.Now,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Registry) Register(agent string, s Strategy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.strategies[agent] = s
}

func (r *Registry) Registered(agent string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.strategies[agent]
	return ok
}

// Apply produces the degraded result for agent. A registered strategy is
// invoked and its output normalized to carry the required degradation tags;
// agents without a strategy, and strategies that panic, get the generic
// failed payload.
func (r *Registry) Apply(agent string, info errclass.ErrorInfo, partial map[string]any) map[string]any {
	r.mu.RLock()
	strategy, ok := r.strategies[agent]
	r.mu.RUnlock()

	r.logger.Warn("applying graceful degradation",
		zap.String("agent", agent),
		zap.String("category", string(info.Category)),
		zap.Bool("registered_strategy", ok),
	)

	if ok {
		if result := r.applySafely(agent, strategy, info, partial); result != nil {
			return r.normalize(result, info, partial)
		}
	}

	return r.generic(info, partial)
}

func (r *Registry) applySafely(agent string, s Strategy, info errclass.ErrorInfo, partial map[string]any) (result map[string]any) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("degradation strategy panicked",
				zap.String("agent", agent),
				zap.Any("panic", rec),
			)
			result = nil
		}
	}()
	return s(info, partial)
}

// normalize guarantees the minimum degradation contract on a strategy's
// output without clobbering what the strategy chose to set.
func (r *Registry) normalize(result map[string]any, info errclass.ErrorInfo, partial map[string]any) map[string]any {
	if _, ok := result["status"]; !ok {
		result["status"] = "degraded"
	}
	result["fallback_applied"] = true
	if _, ok := result["fallback_reason"]; !ok {
		result["fallback_reason"] = info.Message
	}
	if _, ok := result["timestamp"]; !ok {
		result["timestamp"] = r.clock().UTC().Format(time.RFC3339)
	}
	for key, val := range partial {
		if _, ok := result[key]; !ok {
			result[key] = val
		}
	}
	return result
}

func (r *Registry) generic(info errclass.ErrorInfo, partial map[string]any) map[string]any {
	if partial == nil {
		partial = map[string]any{}
	}
	return map[string]any{
		"status": "failed",
		"error": map[string]any{
			"category":  string(info.Category),
			"severity":  string(info.Severity),
			"message":   info.Message,
			"timestamp": info.Timestamp.Format(time.RFC3339),
		},
		"partial_results":  partial,
		"fallback_applied": true,
		"fallback_reason":  info.Message,
		"timestamp":        r.clock().UTC().Format(time.RFC3339),
	}
}
