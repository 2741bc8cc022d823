package health

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

type Status string

const (
	StatusHealthy    Status = "healthy"
	StatusDegraded   Status = "degraded"
	StatusFailed     Status = "failed"
	StatusRecovering Status = "recovering"
)

// rollingWindow is the number of recent outcomes used for the error rate and
// latency averages.
const rollingWindow = 20

type Config struct {
	// FailedThreshold is the consecutive-failure count at which an agent is
	// considered failed rather than degraded.
	FailedThreshold int `mapstructure:"failed_threshold" json:"failed_threshold"`
}

func DefaultConfig() Config {
	return Config{FailedThreshold: 3}
}

func (c Config) Validate() error {
	if c.FailedThreshold <= 0 {
		return fmt.Errorf("failed_threshold must be positive, got %d", c.FailedThreshold)
	}
	return nil
}

// AgentHealth is a snapshot of one agent's rolling health.
type AgentHealth struct {
	Agent                string        `json:"agent"`
	Status               Status        `json:"status"`
	LastSuccess          time.Time     `json:"last_success,omitzero"`
	LastFailure          time.Time     `json:"last_failure,omitzero"`
	ConsecutiveSuccesses int           `json:"consecutive_successes"`
	ConsecutiveFailures  int           `json:"consecutive_failures"`
	ErrorRate            float64       `json:"error_rate"`
	AvgLatency           time.Duration `json:"avg_latency"`
}

type agentState struct {
	health    AgentHealth
	outcomes  []bool // true = success, newest last, bounded by rollingWindow
	latencies []time.Duration
}

// Tracker derives per-agent health from consecutive execution outcomes.
type Tracker struct {
	mu     sync.Mutex
	cfg    Config
	agents map[string]*agentState
	clock  func() time.Time
	logger *zap.Logger
}

type Option func(*Tracker)

func WithClock(clock func() time.Time) Option {
	return func(t *Tracker) {
		t.clock = clock
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(t *Tracker) {
		t.logger = logger
	}
}

func NewTracker(cfg Config, opts ...Option) *Tracker {
	t := &Tracker{
		cfg:    cfg,
		agents: make(map[string]*agentState),
		clock:  time.Now,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.cfg.FailedThreshold <= 0 {
		t.cfg = DefaultConfig()
	}
	return t
}

func (t *Tracker) state(agent string) *agentState {
	s, ok := t.agents[agent]
	if !ok {
		s = &agentState{health: AgentHealth{Agent: agent, Status: StatusHealthy}}
		t.agents[agent] = s
	}
	return s
}

func (t *Tracker) RecordSuccess(agent string, latency time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := t.state(agent)
	recovering := s.health.Status == StatusFailed || s.health.Status == StatusDegraded

	s.health.LastSuccess = t.clock()
	s.health.ConsecutiveSuccesses++
	s.health.ConsecutiveFailures = 0
	s.health.Status = StatusHealthy
	s.push(true, latency)
	s.recompute()

	if recovering {
		t.logger.Info("agent recovered",
			zap.String("agent", agent),
			zap.Int("consecutive_successes", s.health.ConsecutiveSuccesses))
	}
}

func (t *Tracker) RecordFailure(agent string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := t.state(agent)
	s.health.LastFailure = t.clock()
	s.health.ConsecutiveFailures++
	s.health.ConsecutiveSuccesses = 0
	if s.health.ConsecutiveFailures >= t.cfg.FailedThreshold {
		s.health.Status = StatusFailed
	} else {
		s.health.Status = StatusDegraded
	}
	s.push(false, 0)
	s.recompute()

	t.logger.Warn("agent failure recorded",
		zap.String("agent", agent),
		zap.Int("consecutive_failures", s.health.ConsecutiveFailures),
		zap.String("status", string(s.health.Status)))
}

func (s *agentState) push(success bool, latency time.Duration) {
	s.outcomes = append(s.outcomes, success)
	if len(s.outcomes) > rollingWindow {
		s.outcomes = s.outcomes[1:]
	}
	if success {
		s.latencies = append(s.latencies, latency)
		if len(s.latencies) > rollingWindow {
			s.latencies = s.latencies[1:]
		}
	}
}

func (s *agentState) recompute() {
	if len(s.outcomes) > 0 {
		failures := 0
		for _, ok := range s.outcomes {
			if !ok {
				failures++
			}
		}
		s.health.ErrorRate = float64(failures) / float64(len(s.outcomes))
	}
	if len(s.latencies) > 0 {
		var total time.Duration
		for _, d := range s.latencies {
			total += d
		}
		s.health.AvgLatency = total / time.Duration(len(s.latencies))
	}
}

func (t *Tracker) IsHealthy(agent string) bool {
	return t.Snapshot(agent).Status == StatusHealthy
}

func (t *Tracker) IsDegraded(agent string) bool {
	return t.Snapshot(agent).Status == StatusDegraded
}

func (t *Tracker) IsFailed(agent string) bool {
	return t.Snapshot(agent).Status == StatusFailed
}

// Snapshot returns a copy of the agent's current health. Unknown agents
// report healthy with zero counters.
func (t *Tracker) Snapshot(agent string) AgentHealth {
	t.mu.Lock()
	defer t.mu.Unlock()

	if s, ok := t.agents[agent]; ok {
		return s.health
	}
	return AgentHealth{Agent: agent, Status: StatusHealthy}
}

func (t *Tracker) All() map[string]AgentHealth {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make(map[string]AgentHealth, len(t.agents))
	for agent, s := range t.agents {
		out[agent] = s.health
	}
	return out
}
