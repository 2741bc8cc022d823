package bulkhead

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

type Config struct {
	MaxConcurrent int           `mapstructure:"max_concurrent" json:"max_concurrent"`
	QueueSize     int           `mapstructure:"queue_size" json:"queue_size"`
	Timeout       time.Duration `mapstructure:"timeout" json:"timeout"`
}

func DefaultConfig() Config {
	return Config{
		MaxConcurrent: 3,
		QueueSize:     10,
		Timeout:       5 * time.Minute,
	}
}

func (c Config) Validate() error {
	if c.MaxConcurrent <= 0 {
		return fmt.Errorf("max_concurrent must be positive, got %d", c.MaxConcurrent)
	}
	if c.QueueSize < 0 {
		return fmt.Errorf("queue_size must be >= 0, got %d", c.QueueSize)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got %s", c.Timeout)
	}
	return nil
}

type Status struct {
	Agent         string  `json:"agent"`
	InFlight      int     `json:"in_flight"`
	Queued        int     `json:"queued"`
	MaxConcurrent int     `json:"max_concurrent"`
	QueueSize     int     `json:"queue_size"`
	Utilization   float64 `json:"utilization"`
}

// Bulkhead caps concurrent work admitted for one agent. Admission is
// in-flight first, queued second, rejected third. Queued admission is a
// bookkeeping class requiring its own release; it does not block or imply
// FIFO dispatch.
type Bulkhead struct {
	mu sync.Mutex

	agent    string
	cfg      Config
	inFlight int
	queued   int

	logger *zap.Logger
}

type Option func(*Bulkhead)

func WithLogger(logger *zap.Logger) Option {
	return func(b *Bulkhead) {
		b.logger = logger
	}
}

func New(agent string, cfg Config, opts ...Option) *Bulkhead {
	b := &Bulkhead{
		agent:  agent,
		cfg:    cfg,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// AcquireSlot admits the caller if capacity remains. The returned queued flag
// must be passed back to ReleaseSlot. The whole check-and-increment is one
// critical section so concurrent acquirers can never over-admit.
func (b *Bulkhead) AcquireSlot() (queued bool, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.inFlight < b.cfg.MaxConcurrent {
		b.inFlight++
		return false, true
	}
	if b.queued < b.cfg.QueueSize {
		b.queued++
		return true, true
	}

	b.logger.Warn("bulkhead rejected request",
		zap.String("agent", b.agent),
		zap.Int("in_flight", b.inFlight),
		zap.Int("queued", b.queued),
	)
	return false, false
}

// ReleaseSlot returns one admission of the matching class. Counters floor at
// zero so a double release cannot corrupt capacity.
func (b *Bulkhead) ReleaseSlot(wasQueued bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if wasQueued {
		b.queued = max(0, b.queued-1)
		return
	}
	b.inFlight = max(0, b.inFlight-1)
}

func (b *Bulkhead) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()

	return Status{
		Agent:         b.agent,
		InFlight:      b.inFlight,
		Queued:        b.queued,
		MaxConcurrent: b.cfg.MaxConcurrent,
		QueueSize:     b.cfg.QueueSize,
		Utilization:   float64(b.inFlight) / float64(b.cfg.MaxConcurrent),
	}
}

// Timeout is the wall-clock bound for one admitted invocation.
func (b *Bulkhead) Timeout() time.Duration {
	return b.cfg.Timeout
}

// Registry holds one bulkhead per agent, created lazily with a shared config.
type Registry struct {
	mu        sync.Mutex
	cfg       Config
	opts      []Option
	bulkheads map[string]*Bulkhead
}

func NewRegistry(cfg Config, opts ...Option) *Registry {
	return &Registry{
		cfg:       cfg,
		opts:      opts,
		bulkheads: make(map[string]*Bulkhead),
	}
}

func (r *Registry) Get(agent string) *Bulkhead {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.bulkheads[agent]
	if !ok {
		b = New(agent, r.cfg, r.opts...)
		r.bulkheads[agent] = b
	}
	return b
}

func (r *Registry) StatusAll() map[string]Status {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]Status, len(r.bulkheads))
	for agent, b := range r.bulkheads {
		out[agent] = b.Status()
	}
	return out
}
