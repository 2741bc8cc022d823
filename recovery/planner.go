package recovery

import (
	"fmt"
	"sort"

	"github.com/samber/lo"
	"go.uber.org/zap"
)

// Mode describes how much of the workflow a recovery preserves.
type Mode string

const (
	ModeFull    Mode = "full"
	ModePartial Mode = "partial"
	ModeFailed  Mode = "failed"
)

// PlanOutcome is the planner's verdict for one workflow run.
type PlanOutcome struct {
	WorkflowID      string   `json:"workflow_id"`
	CanContinue     bool     `json:"can_continue"`
	Limitations     []string `json:"limitations"`
	FailureReason   string   `json:"failure_reason,omitempty"`
	RecoveryMode    Mode     `json:"recovery_mode"`
	AvailableAgents []string `json:"available_agents"`
}

// Planner decides whether a partially failed workflow can continue. It is a
// pure function over the static dependency graph: a run is unrecoverable only
// when a critical agent failed and none of its dependents produced a
// substitutable result.
type Planner struct {
	graph  *Graph
	logger *zap.Logger
}

type PlannerOption func(*Planner)

func WithLogger(logger *zap.Logger) PlannerOption {
	return func(p *Planner) {
		p.logger = logger
	}
}

func NewPlanner(graph *Graph, opts ...PlannerOption) *Planner {
	p := &Planner{
		graph:  graph,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.graph == nil {
		p.graph = DefaultGraph()
	}
	return p
}

// Plan evaluates the failed agents against the dependency graph.
// availableResults holds the results of agents that completed, keyed by agent.
func (p *Planner) Plan(workflowID string, failedAgents []string, availableResults map[string]map[string]any) PlanOutcome {
	p.logger.Info("planning workflow recovery",
		zap.String("workflow_id", workflowID),
		zap.Strings("failed_agents", failedAgents),
	)

	outcome := PlanOutcome{
		WorkflowID:  workflowID,
		CanContinue: true,
	}

	failed := lo.SliceToMap(failedAgents, func(agent string) (string, bool) {
		return agent, true
	})

	// Deterministic limitation order regardless of caller ordering.
	ordered := append([]string(nil), failedAgents...)
	sort.Strings(ordered)

	for _, agent := range ordered {
		if p.graph.Critical(agent) && !p.hasSubstitute(agent, failed, availableResults) {
			outcome.CanContinue = false
			outcome.FailureReason = fmt.Sprintf(
				"critical agent %s failed and no dependent produced substitutable results", agent)
			continue
		}
		outcome.Limitations = append(outcome.Limitations, Limitation(agent))
	}

	available := lo.Filter(p.graph.Agents(), func(agent string, _ int) bool {
		return !failed[agent]
	})
	sort.Strings(available)
	outcome.AvailableAgents = available

	switch {
	case !outcome.CanContinue:
		outcome.RecoveryMode = ModeFailed
	case len(outcome.Limitations) > 0:
		outcome.RecoveryMode = ModePartial
	default:
		outcome.RecoveryMode = ModeFull
	}

	return outcome
}

// hasSubstitute reports whether any dependent of a failed critical agent
// completed, meaning downstream partial data can stand in for the lost stage.
func (p *Planner) hasSubstitute(agent string, failed map[string]bool, availableResults map[string]map[string]any) bool {
	for _, dependent := range p.graph.Dependents(agent) {
		if failed[dependent] {
			continue
		}
		if _, ok := availableResults[dependent]; ok {
			return true
		}
	}
	return false
}

// Limitation is the human-readable capability lost when an agent's results
// are missing.
func Limitation(agent string) string {
	switch agent {
	case "genomics":
		return "genomic analysis unavailable - downstream stages run on partial data"
	case "proteomics":
		return "protein structure analysis unavailable"
	case "literature":
		return "literature insights unavailable"
	case "drug":
		return "drug recommendations unavailable"
	case "decision":
		return "automated report generation unavailable"
	default:
		return fmt.Sprintf("%s results unavailable", agent)
	}
}
