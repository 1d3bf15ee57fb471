package workflow

import (
	"sort"
	"strings"
	"sync"

	"github.com/msageha/refinery/internal/events"
)

// BoostConfig describes the alternate processing backend boosted tasks
// are routed to.
type BoostConfig struct {
	Enabled         bool   `yaml:"enabled"`
	ModelID         string `yaml:"model_id"`
	Provider        string `yaml:"provider"`
	ContextWindow   int    `yaml:"context_window"`
	MaxOutputTokens int    `yaml:"max_output_tokens"`
}

// BoostRouter decides whether a task should be redirected to the boost
// backend. The decision is routing-only: it never changes concurrency
// mode or scheduling order. Three mechanisms compose, in priority order:
//
//  1. a boost-next-count that applies to the next N calls regardless of
//     identity, decremented on consumption;
//  2. membership of the task's role prefix in a toggled category set;
//  3. exact task-id membership in a toggled set.
type BoostRouter struct {
	mu sync.Mutex

	config     *BoostConfig
	nextCount  int
	categories map[string]bool
	taskIDs    map[string]bool
	bus        *events.Bus
}

// NewBoostRouter creates a router with boost disabled.
func NewBoostRouter(bus *events.Bus) *BoostRouter {
	return &BoostRouter{
		categories: make(map[string]bool),
		taskIDs:    make(map[string]bool),
		bus:        bus,
	}
}

// SetConfig enables boost routing with the given backend.
func (r *BoostRouter) SetConfig(cfg BoostConfig) {
	r.mu.Lock()
	r.config = &cfg
	r.mu.Unlock()
}

// Clear disables boost routing and resets all three mechanisms.
func (r *BoostRouter) Clear() {
	r.mu.Lock()
	r.config = nil
	r.nextCount = 0
	r.categories = make(map[string]bool)
	r.taskIDs = make(map[string]bool)
	r.mu.Unlock()
}

// SetNextCount sets how many upcoming calls are boosted regardless of
// task identity. Negative values clamp to zero.
func (r *BoostRouter) SetNextCount(count int) {
	r.mu.Lock()
	if count < 0 {
		count = 0
	}
	r.nextCount = count
	r.mu.Unlock()

	r.publish(events.EventBoostNextCountUpdated, map[string]interface{}{"count": count})
}

// ConsumeBoostCount decrements the next-count after a boosted call.
func (r *BoostRouter) ConsumeBoostCount() {
	r.mu.Lock()
	consumed := false
	if r.nextCount > 0 {
		r.nextCount--
		consumed = true
	}
	remaining := r.nextCount
	r.mu.Unlock()

	if consumed {
		r.publish(events.EventBoostNextCountUpdated, map[string]interface{}{"count": remaining})
	}
}

// ToggleCategory flips boost for a role prefix (e.g. "agg_sub1",
// "agg_val") and reports the new state.
func (r *BoostRouter) ToggleCategory(category string) bool {
	r.mu.Lock()
	boosted := !r.categories[category]
	if boosted {
		r.categories[category] = true
	} else {
		delete(r.categories, category)
	}
	all := r.categoriesLocked()
	r.mu.Unlock()

	r.publish(events.EventCategoryBoostToggled, map[string]interface{}{
		"category":       category,
		"boosted":        boosted,
		"all_categories": all,
	})
	return boosted
}

// ToggleTask flips boost for an exact task id and reports the new state.
func (r *BoostRouter) ToggleTask(taskID string) bool {
	r.mu.Lock()
	boosted := !r.taskIDs[taskID]
	if boosted {
		r.taskIDs[taskID] = true
	} else {
		delete(r.taskIDs, taskID)
	}
	r.mu.Unlock()

	r.publish(events.EventTaskBoostToggled, map[string]interface{}{
		"task_id": taskID,
		"boosted": boosted,
	})
	return boosted
}

// ShouldUseBoost reports whether taskID should be routed to the boost
// backend, checking next-count, then category, then exact id.
func (r *BoostRouter) ShouldUseBoost(taskID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.config == nil || !r.config.Enabled {
		return false
	}
	if r.nextCount > 0 {
		return true
	}
	if r.categories[RolePrefix(taskID)] {
		return true
	}
	return r.taskIDs[taskID]
}

// RolePrefix extracts the role prefix from a task id: everything before
// the last underscore ("agg_sub1_001" -> "agg_sub1").
func RolePrefix(taskID string) string {
	if idx := strings.LastIndex(taskID, "_"); idx > 0 {
		return taskID[:idx]
	}
	return taskID
}

// Status is a snapshot of the router's configuration and toggles.
type Status struct {
	Enabled    bool
	ModelID    string
	Provider   string
	NextCount  int
	Categories []string
	TaskIDs    []string
}

// Status reports the current routing state.
func (r *BoostRouter) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()

	st := Status{
		NextCount:  r.nextCount,
		Categories: r.categoriesLocked(),
		TaskIDs:    r.taskIDsLocked(),
	}
	if r.config != nil {
		st.Enabled = r.config.Enabled
		st.ModelID = r.config.ModelID
		st.Provider = r.config.Provider
	}
	return st
}

func (r *BoostRouter) categoriesLocked() []string {
	out := make([]string, 0, len(r.categories))
	for c := range r.categories {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

func (r *BoostRouter) taskIDsLocked() []string {
	out := make([]string, 0, len(r.taskIDs))
	for id := range r.taskIDs {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (r *BoostRouter) publish(eventType events.EventType, data map[string]interface{}) {
	if r.bus != nil {
		r.bus.Publish(eventType, data)
	}
}
