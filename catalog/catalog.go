// Package catalog provides achievement catalog implementations. Catalogs are
// explicitly constructed and injected; the engine never seeds shared state
// lazily.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"taskquest/core"
)

// Static is an immutable, declaration-ordered achievement catalog.
type Static struct {
	defs []core.Achievement
}

// NewStatic validates and wraps the given definitions. Order is preserved:
// within one unlock pass achievements are evaluated exactly in this order,
// which decides what can chain-unlock together.
func NewStatic(defs []core.Achievement) (*Static, error) {
	seen := make(map[string]struct{}, len(defs))
	for i, d := range defs {
		if err := core.ValidateAchievementID(d.ID); err != nil {
			return nil, fmt.Errorf("achievement %d: %w", i, err)
		}
		if _, dup := seen[d.ID]; dup {
			return nil, fmt.Errorf("duplicate achievement id %q", d.ID)
		}
		if d.Points < 0 {
			return nil, fmt.Errorf("achievement %q: points cannot be negative", d.ID)
		}
		seen[d.ID] = struct{}{}
	}
	cp := make([]core.Achievement, len(defs))
	copy(cp, defs)
	return &Static{defs: cp}, nil
}

// List returns the definitions in declaration order. The returned slice is a
// copy; callers cannot mutate the catalog.
func (s *Static) List(context.Context) ([]core.Achievement, error) {
	out := make([]core.Achievement, len(s.defs))
	copy(out, s.defs)
	return out, nil
}

// LoadFile reads a JSON array of achievements from disk.
func LoadFile(path string) (*Static, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog file: %w", err)
	}
	var defs []core.Achievement
	if err := json.Unmarshal(b, &defs); err != nil {
		return nil, fmt.Errorf("parse catalog file %s: %w", path, err)
	}
	return NewStatic(defs)
}

// Default returns a demo catalog exercising every condition kind.
func Default() *Static {
	defs := []core.Achievement{
		{
			ID: "first_steps", Name: "First Steps", Points: 10, Rarity: core.RarityCommon,
			Description: "Complete your first task.",
			Condition:   core.Condition{Kind: core.ConditionTasksCompleted, Value: 1},
		},
		{
			ID: "regular", Name: "Regular", Points: 25, Rarity: core.RarityCommon,
			Description: "Log in five times.",
			Condition:   core.Condition{Kind: core.ConditionLoginCount, Value: 5},
		},
		{
			ID: "on_a_roll", Name: "On a Roll", Points: 50, Rarity: core.RarityRare,
			Description: "Complete tasks three days in a row.",
			Condition:   core.Condition{Kind: core.ConditionDailyStreak, Value: 3},
		},
		{
			ID: "bookworm", Name: "Bookworm", Points: 40, Rarity: core.RarityRare,
			Description: "Complete ten learning tasks.",
			Condition:   core.Condition{Kind: core.ConditionCategoryTasks, Category: "learning", Value: 10},
		},
		{
			ID: "high_roller", Name: "High Roller", Points: 100, Rarity: core.RarityEpic,
			Description: "Hold five hundred points.",
			Condition:   core.Condition{Kind: core.ConditionTotalPoints, Value: 500},
		},
	}
	c, err := NewStatic(defs)
	if err != nil {
		panic(err)
	}
	return c
}
