package engine

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/hochfrequenz/workorder-orchestrator/internal/domain"
	"github.com/hochfrequenz/workorder-orchestrator/internal/eventbus"
	"github.com/hochfrequenz/workorder-orchestrator/internal/orderstore"
	"github.com/hochfrequenz/workorder-orchestrator/internal/sandbox"
)

var urlPattern = regexp.MustCompile(`https?://\S+`)

// Runner owns one work order's lifecycle: it iterates the selected step
// sequence through the step executor, persists status transitions, and
// publishes progress to the event bus. It is the only writer of a work
// order's status, phase, and terminal fields.
type Runner struct {
	store    *orderstore.Store
	executor *StepExecutor
	bus      *eventbus.Bus
}

// NewRunner creates a workflow runner
func NewRunner(store *orderstore.Store, executor *StepExecutor, bus *eventbus.Bus) *Runner {
	return &Runner{store: store, executor: executor, bus: bus}
}

// Run drives a work order forward from its persisted state until it
// finishes, fails, suspends at a human gate, or the context is cancelled.
// The starting point is derived from the store alone, so a review-suspended
// or restarted order resumes correctly with no in-memory state.
//
// It returns suspended=true when the order is parked in review: the caller
// must release the execution slot but keep the sandbox.
func (r *Runner) Run(ctx context.Context, orderID string, h *sandbox.Handle) (suspended bool, err error) {
	order, err := r.store.GetOrder(orderID)
	if err != nil {
		return false, err
	}
	if order.Status.Terminal() {
		return false, fmt.Errorf("work order %s already done", orderID)
	}

	history, err := r.store.StepHistory(orderID)
	if err != nil {
		return false, err
	}

	// The history is always a prefix of the command sequence, so its
	// length is the index of the next step to execute.
	total := len(order.SelectedCommands)
	for idx := len(history); idx < total; idx++ {
		// Cancellation is honored between steps, never mid-history
		if ctx.Err() != nil {
			return false, ctx.Err()
		}

		step := order.SelectedCommands[idx]
		if err := r.store.UpdateStatus(orderID, domain.StatusInProgress, &step); err != nil {
			return false, fmt.Errorf("entering step %s: %w", step, err)
		}

		prior := priorOutputs(history)
		result := r.executor.Execute(ctx, order, h.Path, h.Branch, step, idx+1, total, prior)
		if err := r.store.AppendStepResult(result); err != nil {
			return false, fmt.Errorf("recording step %s: %w", step, err)
		}
		history = append(history, result)

		if !result.Success {
			// Fail fast: no later step runs, the workspace stays
			// inspectable for diagnosis
			h.PreserveWorkspace()
			if err := r.store.Finalize(orderID, result.ErrorMessage); err != nil {
				return false, err
			}
			r.publishLifecycle(orderID, domain.LevelError, "work_order_failed", result.ErrorMessage)
			return false, nil
		}

		if err := r.applySideEffects(order, h, result); err != nil {
			return false, err
		}

		if step.HumanGate() && idx+1 < total {
			// Park durably; resumption is an explicit external call
			if err := r.store.UpdateStatus(orderID, domain.StatusReview, &step); err != nil {
				return false, err
			}
			r.publishLifecycle(orderID, domain.LevelInfo, "work_order_suspended", "")
			return true, nil
		}
	}

	if err := r.store.Finalize(orderID, ""); err != nil {
		return false, err
	}
	r.publishLifecycle(orderID, domain.LevelInfo, "work_order_completed", "")
	return false, nil
}

// applySideEffects records the entity fields individual steps establish
func (r *Runner) applySideEffects(order *domain.WorkOrder, h *sandbox.Handle, result *domain.StepResult) error {
	switch result.Step {
	case domain.StepCreateBranch:
		return r.store.SetBranch(order.ID, h.Branch)
	case domain.StepCreatePR:
		if url := urlPattern.FindString(result.Output); url != "" {
			return r.store.SetPullRequestURL(order.ID, strings.TrimRight(url, ".,)"))
		}
	}
	return nil
}

func (r *Runner) publishLifecycle(orderID string, level domain.LogLevel, event, errMsg string) {
	if r.bus == nil {
		return
	}
	r.bus.Publish(domain.LogEntry{
		WorkOrderID: orderID,
		Level:       level,
		Event:       event,
		Timestamp:   time.Now(),
		Error:       errMsg,
	})
}

// priorOutputs joins the successful outputs recorded so far as context for
// the next step's prompt
func priorOutputs(history []*domain.StepResult) string {
	var parts []string
	for _, res := range history {
		if res.Success && res.Output != "" {
			parts = append(parts, fmt.Sprintf("## %s\n%s", res.Step, res.Output))
		}
	}
	return strings.Join(parts, "\n\n")
}
