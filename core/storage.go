package core

import (
	"context"
	"slices"
	"time"
)

// ExitRuleFilter narrows an exit-rule query
type ExitRuleFilter func(ExitRule) bool

// PlanFilter narrows a plan query
type PlanFilter func(Plan) bool

// OCOFilter narrows an OCO pair query
type OCOFilter func(OCOPair) bool

// StateStore persists the engine's managed state: exit rules, plans, and
// OCO pairs. Every mutation is durable before the call returns.
type StateStore interface {
	SaveExitRule(ctx context.Context, rule *ExitRule) error
	ExitRule(ctx context.Context, ticket int64) (*ExitRule, error)
	ExitRules(ctx context.Context, filters ...ExitRuleFilter) ([]*ExitRule, error)
	DeleteExitRule(ctx context.Context, ticket int64) error

	SavePlan(ctx context.Context, plan *Plan) error
	Plan(ctx context.Context, planID string) (*Plan, error)
	Plans(ctx context.Context, filters ...PlanFilter) ([]*Plan, error)

	SaveOCOPair(ctx context.Context, pair *OCOPair) error
	OCOPair(ctx context.Context, groupID string) (*OCOPair, error)
	OCOPairs(ctx context.Context, filters ...OCOFilter) ([]*OCOPair, error)

	Close() error
}

// EventStore persists the append-only structured event log
type EventStore interface {
	AppendEvents(ctx context.Context, events []Event) error
	// RecentEvents returns up to limit newest events, newest first.
	RecentEvents(ctx context.Context, limit int) ([]Event, error)
	Close() error
}

func WithExitStateIn(states ...ExitState) ExitRuleFilter {
	return func(rule ExitRule) bool {
		return slices.Contains(states, rule.State)
	}
}

func WithExitSymbol(symbol string) ExitRuleFilter {
	return func(rule ExitRule) bool {
		return rule.Symbol == symbol
	}
}

func WithExitActive() ExitRuleFilter {
	return func(rule ExitRule) bool {
		return rule.State != ExitStateClosed
	}
}

func WithPlanStateIn(states ...PlanState) PlanFilter {
	return func(plan Plan) bool {
		return slices.Contains(states, plan.State)
	}
}

func WithPlanSymbol(symbol string) PlanFilter {
	return func(plan Plan) bool {
		return plan.Symbol == symbol
	}
}

func WithPlanExpiringBefore(t time.Time) PlanFilter {
	return func(plan Plan) bool {
		return !plan.ExpiresAt.IsZero() && plan.ExpiresAt.Before(t)
	}
}

func WithOCOStateIn(states ...OCOState) OCOFilter {
	return func(pair OCOPair) bool {
		return slices.Contains(states, pair.State)
	}
}

func WithOCOSymbol(symbol string) OCOFilter {
	return func(pair OCOPair) bool {
		return pair.Symbol == symbol
	}
}
