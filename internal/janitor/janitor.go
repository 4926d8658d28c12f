// Package janitor periodically audits sandbox handles against the work
// order store and reports leaks on the event bus. It never reclaims
// anything itself; review-parked sandboxes are held on purpose and only
// an operator can tell a leak from a long review.
package janitor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/hochfrequenz/workorder-orchestrator/internal/domain"
	"github.com/hochfrequenz/workorder-orchestrator/internal/eventbus"
	"github.com/hochfrequenz/workorder-orchestrator/internal/orderstore"
	"github.com/hochfrequenz/workorder-orchestrator/internal/sandbox"
)

// DefaultSchedule sweeps every ten minutes
const DefaultSchedule = "*/10 * * * *"

// Janitor compares the sandbox manager's live handles with the store
type Janitor struct {
	store     *orderstore.Store
	sandboxes *sandbox.Manager
	bus       *eventbus.Bus
	schedule  cron.Schedule
	staleAge  time.Duration
}

// New creates a Janitor sweeping on the given cron expression. staleAge
// is how long a held sandbox may sit in review before it is flagged.
func New(store *orderstore.Store, sandboxes *sandbox.Manager, bus *eventbus.Bus, expr string, staleAge time.Duration) (*Janitor, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	sched, err := parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid janitor schedule %q: %w", expr, err)
	}
	return &Janitor{
		store:     store,
		sandboxes: sandboxes,
		bus:       bus,
		schedule:  sched,
		staleAge:  staleAge,
	}, nil
}

// Run sweeps on schedule until ctx is cancelled
func (j *Janitor) Run(ctx context.Context) error {
	next := j.schedule.Next(time.Now())
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-time.After(time.Until(next)):
			j.Sweep()
			next = j.schedule.Next(now)
		}
	}
}

// Sweep audits every live sandbox handle once and returns the number of
// findings reported
func (j *Janitor) Sweep() int {
	findings := 0
	for _, h := range j.sandboxes.Active() {
		order, err := j.store.GetOrder(h.WorkOrderID)
		switch {
		case errors.Is(err, orderstore.ErrNotFound):
			j.report(h, "sandbox_orphaned", "work order no longer exists")
			findings++
		case err != nil:
			continue
		case order.Status.Terminal():
			j.report(h, "sandbox_leaked", "work order already finished")
			findings++
		case j.staleAge > 0 && order.Status == domain.StatusReview && time.Since(h.AcquiredAt) > j.staleAge:
			j.report(h, "sandbox_stale", fmt.Sprintf("held in review for %s", time.Since(h.AcquiredAt).Round(time.Minute)))
			findings++
		}
	}
	return findings
}

func (j *Janitor) report(h *sandbox.Handle, event, detail string) {
	if j.bus == nil {
		return
	}
	j.bus.Publish(domain.LogEntry{
		WorkOrderID: h.WorkOrderID,
		Level:       domain.LevelWarn,
		Event:       event,
		Timestamp:   time.Now().UTC(),
		Error:       fmt.Sprintf("%s: %s sandbox for %s at %s", detail, h.Type, h.RepositoryID, h.Path),
	})
}
