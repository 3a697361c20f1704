package strategy

import (
	"fmt"
	"sync"

	"neuroface-id/internal/session"
)

// Snapshot is what a trigger strategy may look at
type Snapshot struct {
	HasImage bool
	HasModel bool
	Status   session.Status
}

// TriggerStrategy decides when an analysis run starts
type TriggerStrategy interface {
	// ShouldRunOnChange is asked after the image or the model changes
	ShouldRunOnChange(s Snapshot) bool
	// AllowsExplicitRun is asked when the user presses the run control
	AllowsExplicitRun(s Snapshot) bool
	GetStrategyName() string
}

func runnable(s Snapshot) bool {
	return s.HasImage && s.HasModel && s.Status != session.StatusLoading
}

// ExplicitTriggerStrategy only runs on user request
type ExplicitTriggerStrategy struct{}

func NewExplicitTriggerStrategy() TriggerStrategy {
	return &ExplicitTriggerStrategy{}
}

func (ExplicitTriggerStrategy) ShouldRunOnChange(s Snapshot) bool { return false }
func (ExplicitTriggerStrategy) AllowsExplicitRun(s Snapshot) bool { return runnable(s) }
func (ExplicitTriggerStrategy) GetStrategyName() string           { return "explicit" }

// AutoTriggerStrategy runs as soon as image and model are both present.
// It fires only from Idle, so a Failed session never re-triggers itself.
type AutoTriggerStrategy struct{}

func NewAutoTriggerStrategy() TriggerStrategy {
	return &AutoTriggerStrategy{}
}

func (AutoTriggerStrategy) ShouldRunOnChange(s Snapshot) bool {
	return s.HasImage && s.HasModel && s.Status == session.StatusIdle
}

func (AutoTriggerStrategy) AllowsExplicitRun(s Snapshot) bool { return runnable(s) }
func (AutoTriggerStrategy) GetStrategyName() string           { return "auto" }

// NewTriggerStrategy builds a strategy from its configured name
func NewTriggerStrategy(name string) (TriggerStrategy, error) {
	switch name {
	case "", "explicit":
		return NewExplicitTriggerStrategy(), nil
	case "auto":
		return NewAutoTriggerStrategy(), nil
	default:
		return nil, fmt.Errorf("unsupported trigger strategy: %s", name)
	}
}

// TriggerContext holds the active strategy
type TriggerContext struct {
	mu       sync.RWMutex
	strategy TriggerStrategy
}

func NewTriggerContext(strategy TriggerStrategy) *TriggerContext {
	return &TriggerContext{strategy: strategy}
}

// SetStrategy changes the trigger strategy
func (c *TriggerContext) SetStrategy(strategy TriggerStrategy) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.strategy = strategy
}

func (c *TriggerContext) ShouldRunOnChange(s Snapshot) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.strategy.ShouldRunOnChange(s)
}

func (c *TriggerContext) AllowsExplicitRun(s Snapshot) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.strategy.AllowsExplicitRun(s)
}

// GetCurrentStrategy returns the current strategy name
func (c *TriggerContext) GetCurrentStrategy() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.strategy.GetStrategyName()
}
