// Package storage persists the engine's managed state. Exit rules, OCO
// pairs, and plans live in a journaled BuntDB keyspace; the append-only
// event log lives in SQLite behind GORM.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/tidwall/buntdb"

	"github.com/tradewarden/tradewarden/core"
)

const (
	// UpdateIndexName orders every record by its updated_at JSON field.
	UpdateIndexName = "update_index"

	exitKeyPrefix = "exit:"
	planKeyPrefix = "plan:"
	ocoKeyPrefix  = "oco:"
)

// BuntState implements core.StateStore on BuntDB. Each mutation commits
// through the write-ahead journal before returning, so a crash never
// loses an acknowledged state change.
type BuntState struct {
	db *buntdb.DB
}

// BuntConfig holds BuntDB tuning options
type BuntConfig struct {
	SyncPolicy buntdb.SyncPolicy
}

// DefaultBuntConfig syncs every second, the balance between durability
// and the manager cycle rates.
func DefaultBuntConfig() BuntConfig {
	return BuntConfig{SyncPolicy: buntdb.EverySecond}
}

// NewStateFromMemory creates an in-memory state store for tests
func NewStateFromMemory() (*BuntState, error) {
	return NewBuntState(":memory:", DefaultBuntConfig())
}

// NewStateFromFile creates a file-backed state store
func NewStateFromFile(path string) (*BuntState, error) {
	return NewBuntState(path, DefaultBuntConfig())
}

// NewBuntState opens the store and builds the update index
func NewBuntState(sourceFile string, cfg BuntConfig) (*BuntState, error) {
	db, err := buntdb.Open(sourceFile)
	if err != nil {
		return nil, fmt.Errorf("open buntdb: %w", err)
	}
	if err := db.SetConfig(buntdb.Config{SyncPolicy: cfg.SyncPolicy}); err != nil {
		return nil, fmt.Errorf("configure buntdb: %w", err)
	}
	if err := db.CreateIndex(UpdateIndexName, "*", buntdb.IndexJSON("updated_at")); err != nil {
		return nil, fmt.Errorf("create update index: %w", err)
	}
	return &BuntState{db: db}, nil
}

// Close flushes and closes the database
func (s *BuntState) Close() error {
	return s.db.Close()
}

// ---------------------
// Record plumbing
// ---------------------

func (s *BuntState) put(key string, record any) error {
	content, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	return s.db.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set(key, string(content), nil)
		return err
	})
}

func (s *BuntState) get(key string, record any, missing error) error {
	err := s.db.View(func(tx *buntdb.Tx) error {
		value, err := tx.Get(key)
		if err != nil {
			return err
		}
		return json.Unmarshal([]byte(value), record)
	})
	if errors.Is(err, buntdb.ErrNotFound) {
		return missing
	}
	return err
}

// ascend walks every record under the prefix in updated_at order
func (s *BuntState) ascend(prefix string, visit func(value string) error) error {
	return s.db.View(func(tx *buntdb.Tx) error {
		var inner error
		err := tx.Ascend(UpdateIndexName, func(key, value string) bool {
			if len(key) < len(prefix) || key[:len(prefix)] != prefix {
				return true
			}
			if inner = visit(value); inner != nil {
				return false
			}
			return true
		})
		if inner != nil {
			return inner
		}
		return err
	})
}

// ---------------------
// Exit rules
// ---------------------

func exitKey(ticket int64) string {
	return exitKeyPrefix + strconv.FormatInt(ticket, 10)
}

// SaveExitRule persists the full rule record
func (s *BuntState) SaveExitRule(_ context.Context, rule *core.ExitRule) error {
	return s.put(exitKey(rule.Ticket), rule)
}

// ExitRule loads one rule by position ticket
func (s *BuntState) ExitRule(_ context.Context, ticket int64) (*core.ExitRule, error) {
	var rule core.ExitRule
	if err := s.get(exitKey(ticket), &rule, core.ErrRuleNotFound); err != nil {
		return nil, err
	}
	return &rule, nil
}

// ExitRules lists rules matching every filter, oldest update first
func (s *BuntState) ExitRules(_ context.Context, filters ...core.ExitRuleFilter) ([]*core.ExitRule, error) {
	rules := make([]*core.ExitRule, 0)
	err := s.ascend(exitKeyPrefix, func(value string) error {
		var rule core.ExitRule
		if err := json.Unmarshal([]byte(value), &rule); err != nil {
			return err
		}
		for _, filter := range filters {
			if !filter(rule) {
				return nil
			}
		}
		rules = append(rules, &rule)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("query exit rules: %w", err)
	}
	return rules, nil
}

// DeleteExitRule removes a retired rule; deleting a missing rule is a no-op
func (s *BuntState) DeleteExitRule(_ context.Context, ticket int64) error {
	err := s.db.Update(func(tx *buntdb.Tx) error {
		_, err := tx.Delete(exitKey(ticket))
		return err
	})
	if errors.Is(err, buntdb.ErrNotFound) {
		return nil
	}
	return err
}

// ---------------------
// Plans
// ---------------------

// SavePlan persists the full plan record
func (s *BuntState) SavePlan(_ context.Context, plan *core.Plan) error {
	return s.put(planKeyPrefix+plan.PlanID, plan)
}

// Plan loads one plan by ID
func (s *BuntState) Plan(_ context.Context, planID string) (*core.Plan, error) {
	var plan core.Plan
	if err := s.get(planKeyPrefix+planID, &plan, core.ErrPlanNotFound); err != nil {
		return nil, err
	}
	return &plan, nil
}

// Plans lists plans matching every filter, oldest update first
func (s *BuntState) Plans(_ context.Context, filters ...core.PlanFilter) ([]*core.Plan, error) {
	plans := make([]*core.Plan, 0)
	err := s.ascend(planKeyPrefix, func(value string) error {
		var plan core.Plan
		if err := json.Unmarshal([]byte(value), &plan); err != nil {
			return err
		}
		for _, filter := range filters {
			if !filter(plan) {
				return nil
			}
		}
		plans = append(plans, &plan)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("query plans: %w", err)
	}
	return plans, nil
}

// ---------------------
// OCO pairs
// ---------------------

// SaveOCOPair persists the full pair record
func (s *BuntState) SaveOCOPair(_ context.Context, pair *core.OCOPair) error {
	return s.put(ocoKeyPrefix+pair.GroupID, pair)
}

// OCOPair loads one pair by group ID
func (s *BuntState) OCOPair(_ context.Context, groupID string) (*core.OCOPair, error) {
	var pair core.OCOPair
	if err := s.get(ocoKeyPrefix+groupID, &pair, core.ErrPairNotFound); err != nil {
		return nil, err
	}
	return &pair, nil
}

// OCOPairs lists pairs matching every filter, oldest update first
func (s *BuntState) OCOPairs(_ context.Context, filters ...core.OCOFilter) ([]*core.OCOPair, error) {
	pairs := make([]*core.OCOPair, 0)
	err := s.ascend(ocoKeyPrefix, func(value string) error {
		var pair core.OCOPair
		if err := json.Unmarshal([]byte(value), &pair); err != nil {
			return err
		}
		for _, filter := range filters {
			if !filter(pair) {
				return nil
			}
		}
		pairs = append(pairs, &pair)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("query oco pairs: %w", err)
	}
	return pairs, nil
}

var _ core.StateStore = (*BuntState)(nil)
