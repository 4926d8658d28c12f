package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hochfrequenz/workorder-orchestrator/internal/domain"
	"github.com/hochfrequenz/workorder-orchestrator/internal/eventbus"
	"github.com/hochfrequenz/workorder-orchestrator/internal/orderstore"
	"github.com/hochfrequenz/workorder-orchestrator/internal/sandbox"
	"golang.org/x/sync/semaphore"
)

// Dispatcher assigns work orders to a bounded pool of execution slots.
// Sandbox acquisition happens before a slot is consumed, so a branch
// sandbox waiting for its repository lock never starves the pool. A
// review-suspended order holds no slot but keeps its sandbox until resumed
// or cancelled.
type Dispatcher struct {
	store     *orderstore.Store
	sandboxes *sandbox.Manager
	runner    *Runner
	bus       *eventbus.Bus
	slots     *semaphore.Weighted

	ctx context.Context
	wg  sync.WaitGroup

	mu        sync.Mutex
	cancels   map[string]context.CancelFunc
	held      map[string]*sandbox.Handle // sandboxes parked across review
	cancelled map[string]bool            // in-flight orders whose cancel beat the review parking
	active    int
}

// NewDispatcher creates a dispatcher with maxSlots concurrent execution
// slots
func NewDispatcher(store *orderstore.Store, sandboxes *sandbox.Manager, runner *Runner, bus *eventbus.Bus, maxSlots int) *Dispatcher {
	if maxSlots < 1 {
		maxSlots = 1
	}
	return &Dispatcher{
		store:     store,
		sandboxes: sandboxes,
		runner:    runner,
		bus:       bus,
		slots:     semaphore.NewWeighted(int64(maxSlots)),
		ctx:       context.Background(),
		cancels:   make(map[string]context.CancelFunc),
		held:      make(map[string]*sandbox.Handle),
		cancelled: make(map[string]bool),
	}
}

// Start sets the base context all work order executions derive from
func (d *Dispatcher) Start(ctx context.Context) {
	d.ctx = ctx
}

// Submit schedules a todo work order for execution
func (d *Dispatcher) Submit(orderID string) error {
	order, err := d.store.GetOrder(orderID)
	if err != nil {
		return err
	}
	if order.Status != domain.StatusTodo {
		return fmt.Errorf("%w: cannot submit %s order", orderstore.ErrConflict, order.Status)
	}
	d.launch(orderID)
	return nil
}

// Resume returns a review-suspended work order to the assignment pool. The
// transition is checked against the persisted state; resuming an order
// that is not in review is a conflict.
func (d *Dispatcher) Resume(orderID string) error {
	order, err := d.store.GetOrder(orderID)
	if err != nil {
		return err
	}
	if order.Status != domain.StatusReview {
		return fmt.Errorf("%w: cannot resume %s order", orderstore.ErrConflict, order.Status)
	}
	// Compare-and-set on the persisted status, so of two racing resumes
	// exactly one launches an execution and the other reports a conflict
	if err := d.store.Transition(orderID, domain.StatusReview, domain.StatusInProgress, order.CurrentPhase); err != nil {
		return err
	}
	d.launch(orderID)
	return nil
}

// Cancel stops a work order's execution before its next step, releases its
// sandbox, and leaves already-recorded step results intact
func (d *Dispatcher) Cancel(orderID string) {
	d.mu.Lock()
	cancel := d.cancels[orderID]
	h := d.held[orderID]
	delete(d.held, orderID)
	if cancel != nil {
		// The execution goroutine is still in flight; if it reaches the
		// review gate before observing the cancel, it must not park
		d.cancelled[orderID] = true
	}
	d.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if h != nil {
		d.sandboxes.Release(h)
	}
}

// ActiveSlots returns the number of currently consumed execution slots
func (d *Dispatcher) ActiveSlots() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.active
}

// Wait blocks until all in-flight executions have returned
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) launch(orderID string) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.execute(orderID)
	}()
}

func (d *Dispatcher) execute(orderID string) {
	ctx, cancel := context.WithCancel(d.ctx)
	defer cancel()

	d.mu.Lock()
	d.cancels[orderID] = cancel
	h := d.held[orderID]
	delete(d.held, orderID)
	d.mu.Unlock()

	defer func() {
		d.mu.Lock()
		delete(d.cancels, orderID)
		delete(d.cancelled, orderID)
		d.mu.Unlock()
	}()

	// First assignment: prepare the sandbox before consuming a slot. For
	// branch sandboxes this wait is the per-repository serialization point.
	if h == nil {
		order, err := d.store.GetOrder(orderID)
		if err != nil {
			return
		}
		h, err = d.sandboxes.Acquire(ctx, orderID, order.RepositoryID, order.SandboxType)
		if err != nil {
			if ctx.Err() != nil {
				return // cancelled while waiting for the repository lock
			}
			// Scheduling error: fatal, no step executes
			msg := fmt.Sprintf("sandbox acquisition failed: %v", err)
			if ferr := d.store.Finalize(orderID, msg); ferr != nil {
				return
			}
			d.publish(orderID, domain.LevelError, "work_order_failed", msg)
			return
		}
	}

	if err := d.slots.Acquire(ctx, 1); err != nil {
		d.sandboxes.Release(h)
		return
	}
	d.setActive(+1)

	suspended, err := d.runner.Run(ctx, orderID, h)

	// Park the sandbox before freeing the slot, so a resume or cancel
	// arriving the instant the slot frees always finds the handle. A
	// cancel that already fired wins: its flag is checked under the same
	// lock Cancel takes, so the handle is released instead of parked.
	if suspended {
		d.mu.Lock()
		if d.cancelled[orderID] {
			suspended = false
		} else {
			d.held[orderID] = h
		}
		d.mu.Unlock()
	}

	d.setActive(-1)
	d.slots.Release(1)

	if suspended {
		return
	}
	d.sandboxes.Release(h)

	if err != nil && ctx.Err() == nil {
		d.publish(orderID, domain.LevelError, "work_order_aborted", err.Error())
	}
}

func (d *Dispatcher) setActive(delta int) {
	d.mu.Lock()
	d.active += delta
	d.mu.Unlock()
}

func (d *Dispatcher) publish(orderID string, level domain.LogLevel, event, errMsg string) {
	if d.bus == nil {
		return
	}
	d.bus.Publish(domain.LogEntry{
		WorkOrderID: orderID,
		Level:       level,
		Event:       event,
		Timestamp:   time.Now(),
		Error:       errMsg,
	})
}
