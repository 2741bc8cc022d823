package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/samber/lo"
	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"

	"github.com/biomerkin-io/resilience-workflow/breaker"
	"github.com/biomerkin-io/resilience-workflow/bulkhead"
	"github.com/biomerkin-io/resilience-workflow/degrade"
	"github.com/biomerkin-io/resilience-workflow/errclass"
	"github.com/biomerkin-io/resilience-workflow/health"
	"github.com/biomerkin-io/resilience-workflow/internal/core/ids"
	"github.com/biomerkin-io/resilience-workflow/metrics"
	"github.com/biomerkin-io/resilience-workflow/recovery"
	"github.com/biomerkin-io/resilience-workflow/retry"
)

// StateSink persists workflow snapshots. The orchestrator treats persistence
// as best effort and only logs sink failures.
type StateSink interface {
	Save(ctx context.Context, key string, value any) error
}

// WorkflowSummary is the terminal report for one workflow run.
type WorkflowSummary struct {
	WorkflowID          string                    `json:"workflow_id"`
	Plan                recovery.PlanOutcome      `json:"plan"`
	CompletedAgents     []string                  `json:"completed_agents"`
	DegradedAgents      map[string]string         `json:"degraded_agents"`
	MissingCapabilities []string                  `json:"missing_capabilities"`
	ErrorCount          int                       `json:"error_count"`
	Errors              []*recovery.EnhancedError `json:"errors,omitempty"`
	FinishedAt          time.Time                 `json:"finished_at"`
}

// WorkflowHealthStatus aggregates agent health for the agents a workflow
// actually touched. CompletionProbability multiplies the estimated success
// rates of the strategies assigned to still-unresolved errors.
type WorkflowHealthStatus struct {
	WorkflowID            string                        `json:"workflow_id"`
	OverallStatus         health.Status                 `json:"overall_status"`
	Agents                map[string]health.AgentHealth `json:"agents"`
	ErrorCount            int                           `json:"error_count"`
	ResolvedCount         int                           `json:"resolved_count"`
	ActiveErrors          int                           `json:"active_errors"`
	RecoveryInProgress    bool                          `json:"recovery_in_progress"`
	DegradedCapabilities  []string                      `json:"degraded_capabilities"`
	CompletionProbability float64                       `json:"completion_probability"`
}

type workflowState struct {
	results  map[string]map[string]any
	failed   map[string]bool
	degraded map[string]string
	errors   []*recovery.EnhancedError
}

func newWorkflowState() *workflowState {
	return &workflowState{
		results:  make(map[string]map[string]any),
		failed:   make(map[string]bool),
		degraded: make(map[string]string),
	}
}

// Orchestrator is the composition root. It owns one registry per resilience
// concern and routes every unit execution through the full recovery pipeline.
type Orchestrator struct {
	cfg        Config
	classifier *errclass.Classifier
	executor   *retry.Executor
	breakers   *breaker.Registry
	bulkheads  *bulkhead.Registry
	degrader   *degrade.Registry
	graph      *recovery.Graph
	planner    *recovery.Planner
	health     *health.Tracker
	metrics    *metrics.Aggregator
	sink       StateSink
	logger     *zap.Logger
	clock      func() time.Time

	mu        sync.Mutex
	units     map[string]Unit
	workflows map[string]*workflowState
}

type Option func(*Orchestrator)

func WithLogger(logger *zap.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

func WithClock(clock func() time.Time) Option {
	return func(o *Orchestrator) {
		o.clock = clock
	}
}

func WithClassifier(c *errclass.Classifier) Option {
	return func(o *Orchestrator) {
		o.classifier = c
	}
}

func WithGraph(g *recovery.Graph) Option {
	return func(o *Orchestrator) {
		o.graph = g
	}
}

func WithDegradationRegistry(r *degrade.Registry) Option {
	return func(o *Orchestrator) {
		o.degrader = r
	}
}

func WithMetrics(a *metrics.Aggregator) Option {
	return func(o *Orchestrator) {
		o.metrics = a
	}
}

func WithStateSink(s StateSink) Option {
	return func(o *Orchestrator) {
		o.sink = s
	}
}

func New(cfg Config, opts ...Option) (*Orchestrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("orchestrator config: %w", err)
	}

	o := &Orchestrator{
		cfg:       cfg,
		logger:    zap.NewNop(),
		clock:     time.Now,
		units:     make(map[string]Unit),
		workflows: make(map[string]*workflowState),
	}
	for _, opt := range opts {
		opt(o)
	}

	if o.classifier == nil {
		o.classifier = errclass.NewClassifier(errclass.WithLogger(o.logger))
	}
	if o.graph == nil {
		o.graph = recovery.DefaultGraph()
	}
	if o.degrader == nil {
		o.degrader = degrade.NewRegistry(degrade.WithLogger(o.logger), degrade.WithClock(o.clock))
	}
	if o.metrics == nil {
		o.metrics = metrics.NewAggregator(metrics.WithClock(o.clock))
	}

	o.executor = retry.NewExecutor(o.classifier, retry.WithLogger(o.logger))
	o.breakers = breaker.NewRegistry(cfg.Breaker, breaker.WithClock(o.clock), breaker.WithLogger(o.logger))
	o.bulkheads = bulkhead.NewRegistry(cfg.Bulkhead, bulkhead.WithLogger(o.logger))
	o.planner = recovery.NewPlanner(o.graph, recovery.WithLogger(o.logger))
	o.health = health.NewTracker(cfg.Health, health.WithClock(o.clock), health.WithLogger(o.logger))

	return o, nil
}

// NewWorkflowID mints a sortable identifier for a fresh workflow run.
func NewWorkflowID() string {
	return ids.NewWorkflowID().String()
}

// RegisterUnit binds a unit to an agent name and wires its optional
// capabilities: a self-provided degradation strategy and extra dependency
// graph edges.
func (o *Orchestrator) RegisterUnit(agent string, u Unit) error {
	if agent == "" {
		return errors.New("agent name must not be empty")
	}
	if u == nil {
		return fmt.Errorf("unit for agent %s must not be nil", agent)
	}

	o.mu.Lock()
	o.units[agent] = u
	o.mu.Unlock()

	if provider, ok := u.(DegradationProvider); ok {
		o.degrader.Register(agent, provider.DegradationStrategy())
	}
	if declarer, ok := u.(DependencyDeclarer); ok {
		o.graph.Add(agent, declarer.Dependencies(), declarer.Critical())
	}

	o.logger.Debug("unit registered", zap.String("agent", agent))
	return nil
}

func (o *Orchestrator) unit(agent string) (Unit, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	u, ok := o.units[agent]
	if !ok {
		return nil, fmt.Errorf("no unit registered for agent %s", agent)
	}
	return u, nil
}

// ExecOption adjusts a single ExecuteUnitWithRecovery call.
type ExecOption func(*execSettings)

type execSettings struct {
	policy    retry.Policy
	policySet bool
}

// WithRetryPolicy replaces the configured retry policy for one call.
func WithRetryPolicy(p retry.Policy) ExecOption {
	return func(s *execSettings) {
		s.policy = p
		s.policySet = true
	}
}

// ExecuteUnitWithRecovery runs one agent through the full pipeline: breaker
// gate, bulkhead admission, classified retries, then strategy-driven
// recovery. It returns a result map on success, fallback and skip; an error
// is returned only for aborts, unregistered agents and caller cancellation.
func (o *Orchestrator) ExecuteUnitWithRecovery(ctx context.Context, workflowID, agent string, input map[string]any, opts ...ExecOption) (map[string]any, error) {
	u, err := o.unit(agent)
	if err != nil {
		return nil, err
	}

	settings := execSettings{policy: o.cfg.Retry}
	for _, opt := range opts {
		opt(&settings)
	}
	if settings.policySet {
		if err := settings.policy.Validate(); err != nil {
			return nil, fmt.Errorf("retry policy override for agent %s: %w", agent, err)
		}
	}

	br := o.breakers.Get(agent)
	if !br.ShouldAllowRequest() {
		o.logger.Warn("circuit breaker denied request",
			zap.String("agent", agent),
			zap.String("workflow_id", workflowID),
		)
		return o.degradeDenied(workflowID, agent, errclass.ErrCircuitOpen), nil
	}

	bh := o.bulkheads.Get(agent)
	queued, ok := bh.AcquireSlot()
	if !ok {
		o.logger.Warn("bulkhead rejected request",
			zap.String("agent", agent),
			zap.String("workflow_id", workflowID),
		)
		return o.degradeDenied(workflowID, agent, errclass.ErrBulkheadFull), nil
	}
	defer bh.ReleaseSlot(queued)

	runCtx, cancel := context.WithTimeout(ctx, bh.Timeout())
	defer cancel()

	start := o.clock()
	out, err := retry.Execute(runCtx, o.executor, settings.policy, agent, workflowID, func(ctx context.Context) (map[string]any, error) {
		return u.Execute(ctx, input)
	})
	if err == nil {
		br.RecordSuccess()
		o.health.RecordSuccess(agent, o.clock().Sub(start))
		o.recordSuccess(workflowID, agent, out)
		return out, nil
	}

	if ctx.Err() != nil {
		// Caller cancellation unwinds as-is; only the per-unit timeout is
		// treated as a unit failure.
		return nil, ctx.Err()
	}

	br.RecordFailure()
	o.health.RecordFailure(agent)

	var info errclass.ErrorInfo
	var exhausted *retry.ExhaustedError
	if errors.As(err, &exhausted) {
		info = exhausted.Info
	} else {
		info = o.classifier.Classify(err, agent, workflowID, nil)
	}

	return o.recover(workflowID, agent, info, start, err)
}

// degradeDenied handles breaker and bulkhead rejections. The unit never ran,
// so agent health and breaker counters are left untouched.
func (o *Orchestrator) degradeDenied(workflowID, agent string, cause error) map[string]any {
	info := o.classifier.Classify(cause, agent, workflowID, nil)
	enhanced := recovery.NewEnhancedError(info)
	strategy := recovery.DecideStrategy(enhanced)
	enhanced.Strategy = &strategy
	o.metrics.AddError(enhanced)

	result := o.degrader.Apply(agent, info, o.partialResults(workflowID))
	enhanced.Resolve("fallback", o.clock())
	o.metrics.RecordResolution(0)
	o.recordDegraded(workflowID, agent, enhanced, cause.Error(), result)
	return result
}

// recover applies the decision table to an exhausted failure.
func (o *Orchestrator) recover(workflowID, agent string, info errclass.ErrorInfo, start time.Time, cause error) (map[string]any, error) {
	enhanced := recovery.NewEnhancedError(info)
	strategy := recovery.DecideStrategy(enhanced)
	enhanced.Strategy = &strategy
	o.metrics.AddError(enhanced)

	o.logger.Warn("agent failed, applying recovery strategy",
		zap.String("agent", agent),
		zap.String("workflow_id", workflowID),
		zap.String("category", string(info.Category)),
		zap.String("action", string(strategy.Action)),
		zap.Float64("estimated_success_rate", strategy.EstimatedSuccessRate),
	)

	switch strategy.Action {
	case recovery.ActionAbort:
		o.recordDegraded(workflowID, agent, enhanced, strategy.Description, nil)
		return nil, fmt.Errorf("agent %s aborted workflow %s: %w", agent, workflowID, cause)

	case recovery.ActionSkip:
		result := map[string]any{
			"status":      "skipped",
			"agent":       agent,
			"skip_reason": strategy.SkipReason,
			"timestamp":   o.clock().UTC(),
		}
		enhanced.Resolve("skip", o.clock())
		o.metrics.RecordResolution(o.clock().Sub(start))
		o.recordDegraded(workflowID, agent, enhanced, strategy.SkipReason, result)
		return result, nil

	default:
		result := o.degrader.Apply(agent, info, o.partialResults(workflowID))
		enhanced.Resolve("fallback", o.clock())
		o.metrics.RecordResolution(o.clock().Sub(start))
		o.recordDegraded(workflowID, agent, enhanced, strategy.Description, result)
		return result, nil
	}
}

// ExecuteUnits runs a batch of agents concurrently, bounded by
// max_concurrent_units. Abort errors are joined and returned alongside the
// per-agent results that did complete.
func (o *Orchestrator) ExecuteUnits(ctx context.Context, workflowID string, inputs map[string]map[string]any) (map[string]map[string]any, error) {
	var (
		mu      sync.Mutex
		results = make(map[string]map[string]any, len(inputs))
		errs    []error
	)

	p := pool.New().WithMaxGoroutines(o.cfg.MaxConcurrentUnits)
	for _, agent := range sortedKeys(inputs) {
		agent := agent
		input := inputs[agent]
		p.Go(func() {
			out, err := o.ExecuteUnitWithRecovery(ctx, workflowID, agent, input)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			results[agent] = out
		})
	}
	p.Wait()

	return results, errors.Join(errs...)
}

// FinishWorkflow evaluates the dependency planner over everything recorded
// for the workflow and produces the terminal summary.
func (o *Orchestrator) FinishWorkflow(ctx context.Context, workflowID string) WorkflowSummary {
	o.mu.Lock()
	state, ok := o.workflows[workflowID]
	if !ok {
		state = newWorkflowState()
	}
	failedAgents := sortedSet(state.failed)
	// Fallback payloads stored for failed agents do not count as completed
	// results.
	available := make(map[string]map[string]any, len(state.results))
	for agent, result := range state.results {
		if !state.failed[agent] {
			available[agent] = result
		}
	}
	degraded := lo.Assign(state.degraded)
	errs := append([]*recovery.EnhancedError(nil), state.errors...)
	o.mu.Unlock()

	plan := o.planner.Plan(workflowID, failedAgents, available)

	summary := WorkflowSummary{
		WorkflowID:          workflowID,
		Plan:                plan,
		CompletedAgents:     sortedKeys(available),
		DegradedAgents:      degraded,
		MissingCapabilities: plan.Limitations,
		ErrorCount:          len(errs),
		Errors:              errs,
		FinishedAt:          o.clock().UTC(),
	}

	o.logger.Info("workflow finished",
		zap.String("workflow_id", workflowID),
		zap.Bool("can_continue", plan.CanContinue),
		zap.String("recovery_mode", string(plan.RecoveryMode)),
		zap.Int("error_count", summary.ErrorCount),
		zap.Strings("degraded_agents", lo.Keys(degraded)),
	)

	if o.sink != nil {
		if err := o.sink.Save(ctx, "workflow:"+workflowID+":summary", summary); err != nil {
			o.logger.Warn("state sink save failed",
				zap.String("workflow_id", workflowID),
				zap.Error(err),
			)
		}
	}

	return summary
}

// GetWorkflowHealth reports agent health restricted to the agents the
// workflow touched. Unknown workflows report healthy with no agents.
func (o *Orchestrator) GetWorkflowHealth(workflowID string) WorkflowHealthStatus {
	o.mu.Lock()
	state, ok := o.workflows[workflowID]
	var agents, capabilities []string
	var errCount, resolvedCount int
	probability := 1.0
	if ok {
		seen := make(map[string]bool, len(state.results)+len(state.failed))
		for agent := range state.results {
			seen[agent] = true
		}
		for agent := range state.failed {
			seen[agent] = true
		}
		agents = sortedSet(seen)
		errCount = len(state.errors)
		resolvedCount = lo.CountBy(state.errors, func(e *recovery.EnhancedError) bool {
			return e.Resolved
		})
		capabilities = lo.Map(sortedKeys(state.degraded), func(agent string, _ int) string {
			return recovery.Limitation(agent)
		})
		for _, e := range state.errors {
			if e.Resolved || e.Strategy == nil {
				continue
			}
			probability *= e.Strategy.EstimatedSuccessRate
		}
	}
	o.mu.Unlock()

	status := WorkflowHealthStatus{
		WorkflowID:            workflowID,
		OverallStatus:         health.StatusHealthy,
		Agents:                make(map[string]health.AgentHealth, len(agents)),
		ErrorCount:            errCount,
		ResolvedCount:         resolvedCount,
		ActiveErrors:          errCount - resolvedCount,
		RecoveryInProgress:    errCount > resolvedCount,
		DegradedCapabilities:  capabilities,
		CompletionProbability: probability,
	}
	for _, agent := range agents {
		snapshot := o.health.Snapshot(agent)
		status.Agents[agent] = snapshot
		switch {
		case snapshot.Status == health.StatusFailed:
			status.OverallStatus = health.StatusFailed
		case snapshot.Status == health.StatusDegraded && status.OverallStatus != health.StatusFailed:
			status.OverallStatus = health.StatusDegraded
		}
	}
	return status
}

func (o *Orchestrator) GetErrorMetrics() metrics.ErrorMetrics {
	return o.metrics.Snapshot()
}

// ResetCircuitBreaker force-closes one agent's breaker, reporting whether it
// existed.
func (o *Orchestrator) ResetCircuitBreaker(agent string) bool {
	ok := o.breakers.Reset(agent)
	o.logger.Info("circuit breaker reset requested",
		zap.String("agent", agent),
		zap.Bool("existed", ok),
	)
	return ok
}

func (o *Orchestrator) GetCircuitBreakerStatus() map[string]breaker.Status {
	return o.breakers.StatusAll()
}

func (o *Orchestrator) GetBulkheadStatus() map[string]bulkhead.Status {
	return o.bulkheads.StatusAll()
}

func (o *Orchestrator) state(workflowID string) *workflowState {
	state, ok := o.workflows[workflowID]
	if !ok {
		state = newWorkflowState()
		o.workflows[workflowID] = state
	}
	return state
}

func (o *Orchestrator) recordSuccess(workflowID, agent string, result map[string]any) {
	o.mu.Lock()
	defer o.mu.Unlock()
	state := o.state(workflowID)
	state.results[agent] = result
	delete(state.failed, agent)
	delete(state.degraded, agent)
}

func (o *Orchestrator) recordDegraded(workflowID, agent string, e *recovery.EnhancedError, reason string, result map[string]any) {
	o.mu.Lock()
	defer o.mu.Unlock()
	state := o.state(workflowID)
	state.failed[agent] = true
	state.degraded[agent] = reason
	state.errors = append(state.errors, e)
	if result != nil {
		state.results[agent] = result
	}
}

// partialResults snapshots everything the workflow has produced so far, for
// degradation strategies that can salvage upstream output.
func (o *Orchestrator) partialResults(workflowID string) map[string]any {
	o.mu.Lock()
	defer o.mu.Unlock()
	state, ok := o.workflows[workflowID]
	if !ok {
		return map[string]any{}
	}
	partial := make(map[string]any, len(state.results))
	for agent, result := range state.results {
		partial[agent] = result
	}
	return partial
}

func sortedKeys[V any](m map[string]V) []string {
	keys := lo.Keys(m)
	sort.Strings(keys)
	return keys
}

func sortedSet(set map[string]bool) []string {
	return sortedKeys(set)
}
