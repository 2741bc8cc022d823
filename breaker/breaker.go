package breaker

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

type Config struct {
	FailureThreshold int           `mapstructure:"failure_threshold" json:"failure_threshold"`
	RecoveryTimeout  time.Duration `mapstructure:"recovery_timeout" json:"recovery_timeout"`
	SuccessThreshold int           `mapstructure:"success_threshold" json:"success_threshold"`
}

func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		RecoveryTimeout:  60 * time.Second,
		SuccessThreshold: 3,
	}
}

func (c Config) Validate() error {
	if c.FailureThreshold <= 0 {
		return fmt.Errorf("failure_threshold must be positive, got %d", c.FailureThreshold)
	}
	if c.RecoveryTimeout <= 0 {
		return fmt.Errorf("recovery_timeout must be positive, got %s", c.RecoveryTimeout)
	}
	if c.SuccessThreshold <= 0 {
		return fmt.Errorf("success_threshold must be positive, got %d", c.SuccessThreshold)
	}
	return nil
}

// Status is a point-in-time snapshot of one breaker, JSON-ready for
// operational endpoints.
type Status struct {
	Agent           string    `json:"agent"`
	State           State     `json:"state"`
	FailureCount    int       `json:"failure_count"`
	SuccessCount    int       `json:"success_count"`
	LastFailureTime time.Time `json:"last_failure_time,omitzero"`
}

// Breaker guards one chronically failing agent. ShouldAllowRequest is the
// sole gate and the only place the open to half_open transition happens.
// RecordSuccess and RecordFailure are the only mutators and are called once
// per completed attempt sequence, not per retry.
type Breaker struct {
	mu sync.Mutex

	agent        string
	cfg          Config
	state        State
	failureCount int
	successCount int
	lastFailure  time.Time
	probing      bool

	clock  func() time.Time
	logger *zap.Logger
}

type Option func(*Breaker)

func WithClock(clock func() time.Time) Option {
	return func(b *Breaker) {
		b.clock = clock
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(b *Breaker) {
		b.logger = logger
	}
}

func New(agent string, cfg Config, opts ...Option) *Breaker {
	b := &Breaker{
		agent:  agent,
		cfg:    cfg,
		state:  StateClosed,
		clock:  time.Now,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// ShouldAllowRequest reports whether a call to the agent may proceed. While
// open it stays false until the recovery timeout elapses, then admits exactly
// one probe and moves to half_open. Further requests are held back until that
// probe is recorded.
func (b *Breaker) ShouldAllowRequest() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		if b.clock().Sub(b.lastFailure) >= b.cfg.RecoveryTimeout {
			b.state = StateHalfOpen
			b.successCount = 0
			b.probing = true
			b.logger.Info("circuit breaker half-open",
				zap.String("agent", b.agent))
			return true
		}
		return false
	case StateHalfOpen:
		// One probe in flight at a time.
		if b.probing {
			return false
		}
		b.probing = true
		return true
	}
	return false
}

func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateHalfOpen:
		b.probing = false
		b.successCount++
		if b.successCount >= b.cfg.SuccessThreshold {
			b.state = StateClosed
			b.failureCount = 0
			b.logger.Info("circuit breaker closed",
				zap.String("agent", b.agent))
		}
	case StateClosed:
		b.failureCount = 0
	}
}

func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failureCount++
	b.lastFailure = b.clock()

	switch {
	case b.state == StateClosed && b.failureCount >= b.cfg.FailureThreshold:
		b.state = StateOpen
		b.logger.Warn("circuit breaker opened",
			zap.String("agent", b.agent),
			zap.Int("failure_count", b.failureCount))
	case b.state == StateHalfOpen:
		b.state = StateOpen
		b.successCount = 0
		b.probing = false
		b.logger.Warn("circuit breaker reopened after failed probe",
			zap.String("agent", b.agent))
	}
}

// Reset forces the breaker back to closed, clearing all counters. Intended
// for operator intervention.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.state = StateClosed
	b.failureCount = 0
	b.successCount = 0
	b.probing = false
	b.logger.Info("circuit breaker reset", zap.String("agent", b.agent))
}

func (b *Breaker) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()

	return Status{
		Agent:           b.agent,
		State:           b.state,
		FailureCount:    b.failureCount,
		SuccessCount:    b.successCount,
		LastFailureTime: b.lastFailure,
	}
}

// Registry holds one breaker per agent, created lazily with a shared config.
type Registry struct {
	mu       sync.Mutex
	cfg      Config
	opts     []Option
	breakers map[string]*Breaker
}

func NewRegistry(cfg Config, opts ...Option) *Registry {
	return &Registry{
		cfg:      cfg,
		opts:     opts,
		breakers: make(map[string]*Breaker),
	}
}

func (r *Registry) Get(agent string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.breakers[agent]
	if !ok {
		b = New(agent, r.cfg, r.opts...)
		r.breakers[agent] = b
	}
	return b
}

// Reset resets the named agent's breaker. It reports false when the agent
// has never been seen.
func (r *Registry) Reset(agent string) bool {
	r.mu.Lock()
	b, ok := r.breakers[agent]
	r.mu.Unlock()

	if !ok {
		return false
	}
	b.Reset()
	return true
}

func (r *Registry) StatusAll() map[string]Status {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]Status, len(r.breakers))
	for agent, b := range r.breakers {
		out[agent] = b.Status()
	}
	return out
}
