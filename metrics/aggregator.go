package metrics

import (
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/samber/lo"

	"github.com/biomerkin-io/resilience-workflow/recovery"
)

// ErrorMetrics is a point-in-time copy of the cumulative error aggregate.
// Reading it never mutates the aggregator, two reads without an intervening
// AddError are equal.
type ErrorMetrics struct {
	TotalErrors         int64            `json:"total_errors"`
	ResolvedErrors      int64            `json:"resolved_errors"`
	ErrorsByCategory    map[string]int64 `json:"errors_by_category"`
	ErrorsByAgent       map[string]int64 `json:"errors_by_agent"`
	ErrorsBySeverity    map[string]int64 `json:"errors_by_severity"`
	RecoverySuccessRate float64          `json:"recovery_success_rate"`
	AvgRecoveryTime     time.Duration    `json:"avg_recovery_time"`
	MostCommonErrors    []string         `json:"most_common_errors"`
	ErrorTrends         map[string][]int `json:"error_trends"`
}

// Aggregator accumulates error counts for observability. Counters only ever
// grow; the trend series buckets arrivals per category by minute.
type Aggregator struct {
	mu sync.Mutex

	total           int64
	byCategory      map[string]int64
	byAgent         map[string]int64
	bySeverity      map[string]int64
	resolved        int64
	recoveryTotal   time.Duration
	recoverySamples int64
	trends          map[string][]int
	trendMinute     int64

	clock   func() time.Time
	counter *prometheus.CounterVec
}

type Option func(*Aggregator)

func WithClock(clock func() time.Time) Option {
	return func(a *Aggregator) {
		a.clock = clock
	}
}

// WithRegisterer exports the error counter to Prometheus. The aggregator
// works without it, registration is purely additive.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(a *Aggregator) {
		a.counter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "biomerkin",
			Subsystem: "resilience",
			Name:      "errors_total",
			Help:      "Exhausted agent failures by agent, category and severity.",
		}, []string{"agent", "category", "severity"})
		reg.MustRegister(a.counter)
	}
}

func NewAggregator(opts ...Option) *Aggregator {
	a := &Aggregator{
		byCategory: make(map[string]int64),
		byAgent:    make(map[string]int64),
		bySeverity: make(map[string]int64),
		trends:     make(map[string][]int),
		clock:      time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// AddError records one exhausted failure. Counters increase monotonically.
func (a *Aggregator) AddError(e *recovery.EnhancedError) {
	if e == nil {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.total++
	a.byCategory[string(e.Category)]++
	a.byAgent[e.Agent]++
	a.bySeverity[string(e.Severity)]++
	a.bumpTrend(string(e.Category))

	if a.counter != nil {
		a.counter.WithLabelValues(e.Agent, string(e.Category), string(e.Severity)).Inc()
	}
}

// RecordResolution feeds the recovery-rate and average-recovery-time figures.
// Resolutions with no elapsed time, a denial degraded without running the
// unit, count toward the rate but not the average.
func (a *Aggregator) RecordResolution(took time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.resolved++
	if took > 0 {
		a.recoveryTotal += took
		a.recoverySamples++
	}
}

// CalculateRecoveryRate returns resolved/total, or 1.0 when nothing has
// failed yet.
func (a *Aggregator) CalculateRecoveryRate(resolved int64) float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return recoveryRate(resolved, a.total)
}

func recoveryRate(resolved, total int64) float64 {
	if total == 0 {
		return 1.0
	}
	return float64(resolved) / float64(total)
}

func (a *Aggregator) bumpTrend(category string) {
	minute := a.clock().Unix() / 60
	if a.trendMinute == 0 {
		a.trendMinute = minute
	}
	idx := int(minute - a.trendMinute)
	if idx < 0 {
		idx = 0
	}
	series := a.trends[category]
	for len(series) <= idx {
		series = append(series, 0)
	}
	series[idx]++
	a.trends[category] = series
}

// Snapshot returns a copy of the aggregate. It is safe to hand out, callers
// cannot reach the live counters through it.
func (a *Aggregator) Snapshot() ErrorMetrics {
	a.mu.Lock()
	defer a.mu.Unlock()

	avgRecovery := time.Duration(0)
	if a.recoverySamples > 0 {
		avgRecovery = a.recoveryTotal / time.Duration(a.recoverySamples)
	}

	return ErrorMetrics{
		TotalErrors:         a.total,
		ResolvedErrors:      a.resolved,
		ErrorsByCategory:    lo.Assign(map[string]int64{}, a.byCategory),
		ErrorsByAgent:       lo.Assign(map[string]int64{}, a.byAgent),
		ErrorsBySeverity:    lo.Assign(map[string]int64{}, a.bySeverity),
		RecoverySuccessRate: recoveryRate(a.resolved, a.total),
		AvgRecoveryTime:     avgRecovery,
		MostCommonErrors:    mostCommon(a.byCategory),
		ErrorTrends:         copyTrends(a.trends),
	}
}

// mostCommon ranks categories by count, ties broken alphabetically.
func mostCommon(byCategory map[string]int64) []string {
	categories := lo.Keys(byCategory)
	sort.Slice(categories, func(i, j int) bool {
		if byCategory[categories[i]] != byCategory[categories[j]] {
			return byCategory[categories[i]] > byCategory[categories[j]]
		}
		return categories[i] < categories[j]
	})
	return categories
}

func copyTrends(trends map[string][]int) map[string][]int {
	out := make(map[string][]int, len(trends))
	for category, series := range trends {
		out[category] = append([]int(nil), series...)
	}
	return out
}
