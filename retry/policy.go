package retry

import (
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/biomerkin-io/resilience-workflow/errclass"
)

// minDelay is the floor applied to every computed backoff.
const minDelay = 100 * time.Millisecond

// Policy is the value configuration for one retry loop.
type Policy struct {
	MaxRetries      int           `mapstructure:"max_retries" json:"max_retries"`
	BaseDelay       time.Duration `mapstructure:"base_delay" json:"base_delay"`
	MaxDelay        time.Duration `mapstructure:"max_delay" json:"max_delay"`
	ExponentialBase float64       `mapstructure:"exponential_base" json:"exponential_base"`
	Jitter          bool          `mapstructure:"jitter" json:"jitter"`
	BackoffFactor   float64       `mapstructure:"backoff_factor" json:"backoff_factor"`

	// CategoryMultipliers scales the delay per error category. Unset
	// categories use 1.0. Defaults double rate-limit delays and halve
	// network ones.
	CategoryMultipliers map[errclass.Category]float64 `mapstructure:"category_multipliers" json:"category_multipliers,omitempty"`
}

func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:      3,
		BaseDelay:       time.Second,
		MaxDelay:        60 * time.Second,
		ExponentialBase: 2.0,
		Jitter:          true,
		BackoffFactor:   1.0,
		CategoryMultipliers: map[errclass.Category]float64{
			errclass.CategoryRateLimit: 2.0,
			errclass.CategoryNetwork:   0.5,
		},
	}
}

func (p Policy) Validate() error {
	if p.MaxRetries < 0 {
		return fmt.Errorf("max_retries must be >= 0, got %d", p.MaxRetries)
	}
	if p.BaseDelay <= 0 {
		return fmt.Errorf("base_delay must be positive, got %s", p.BaseDelay)
	}
	if p.MaxDelay < p.BaseDelay {
		return fmt.Errorf("max_delay %s is below base_delay %s", p.MaxDelay, p.BaseDelay)
	}
	if p.ExponentialBase < 1.0 {
		return fmt.Errorf("exponential_base must be >= 1.0, got %f", p.ExponentialBase)
	}
	if p.BackoffFactor <= 0 {
		return fmt.Errorf("backoff_factor must be positive, got %f", p.BackoffFactor)
	}
	return nil
}

func (p Policy) categoryMultiplier(category errclass.Category) float64 {
	if m, ok := p.CategoryMultipliers[category]; ok && m > 0 {
		return m
	}
	return 1.0
}

// DelayFor computes the backoff before retry number attempt (zero-based) for
// a failure of the given category. The category multiplier applies before the
// max_delay cap, jitter (±10%) after it.
func (p Policy) DelayFor(attempt int, category errclass.Category) time.Duration {
	delay := float64(p.BaseDelay) *
		math.Pow(p.ExponentialBase, float64(attempt)) *
		p.BackoffFactor *
		p.categoryMultiplier(category)

	delay = math.Min(delay, float64(p.MaxDelay))

	if p.Jitter {
		jitter := delay * 0.1
		delay += (rand.Float64()*2 - 1) * jitter
	}

	if delay < float64(minDelay) {
		return minDelay
	}
	return time.Duration(delay)
}
