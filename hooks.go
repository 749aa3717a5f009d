package zenginsync

import (
	"sync"
	"time"

	"github.com/agentstation/zenginsync/pkg/zengin"
)

// Detection outcomes.
const (
	DetectionCreated   = "created"
	DetectionNoChanges = "no_changes"
	DetectionSkipped   = "skipped"
	DetectionDryRun    = "dry_run"
	DetectionFailed    = "failed"
)

// Hook function types for run events
type (
	// DetectionHook is called when a detection pass finishes
	DetectionHook func(outcome string, counts zengin.Counts)

	// ApprovalHook is called when an operator action has been handled
	ApprovalHook func(action zengin.ActionID, outcome string)

	// ExecutionHook is called when a batch execution finishes
	ExecutionHook func(result *zengin.ExecutionResult, elapsed time.Duration)
)

// Hooks registers event callbacks.
type Hooks interface {
	OnDetection(fn DetectionHook)
	OnApproval(fn ApprovalHook)
	OnExecution(fn ExecutionHook)
}

// hooks manages event callbacks for run changes
type hooks struct {
	mu          sync.RWMutex
	onDetection []DetectionHook
	onApproval  []ApprovalHook
	onExecution []ExecutionHook
}

// newHooks creates a new hooks instance
func newHooks() *hooks {
	return &hooks{}
}

// OnDetection registers a callback for finished detections.
func (c *client) OnDetection(fn DetectionHook) {
	c.hooks.mu.Lock()
	defer c.hooks.mu.Unlock()
	c.hooks.onDetection = append(c.hooks.onDetection, fn)
}

// OnApproval registers a callback for handled operator actions.
func (c *client) OnApproval(fn ApprovalHook) {
	c.hooks.mu.Lock()
	defer c.hooks.mu.Unlock()
	c.hooks.onApproval = append(c.hooks.onApproval, fn)
}

// OnExecution registers a callback for finished executions.
func (c *client) OnExecution(fn ExecutionHook) {
	c.hooks.mu.Lock()
	defer c.hooks.mu.Unlock()
	c.hooks.onExecution = append(c.hooks.onExecution, fn)
}

func (h *hooks) triggerDetection(outcome string, counts zengin.Counts) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, fn := range h.onDetection {
		fn(outcome, counts)
	}
}

func (h *hooks) triggerApproval(action zengin.ActionID, outcome string) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, fn := range h.onApproval {
		fn(action, outcome)
	}
}

func (h *hooks) triggerExecution(result *zengin.ExecutionResult, elapsed time.Duration) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, fn := range h.onExecution {
		fn(result, elapsed)
	}
}
