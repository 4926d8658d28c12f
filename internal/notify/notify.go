package notify

import (
	"context"
	"fmt"
	"log"

	"github.com/hochfrequenz/workorder-orchestrator/internal/domain"
	"github.com/hochfrequenz/workorder-orchestrator/internal/eventbus"
)

// NotificationType represents the type of notification
type NotificationType int

const (
	NotifyInfo NotificationType = iota
	NotifySuccess
	NotifyWarning
	NotifyError
)

// Notification represents a notification to be sent
type Notification struct {
	Title   string
	Message string
	Type    NotificationType
	OrderID string // Optional work order reference
	PRURL   string // Optional PR URL
}

// Notifier is the interface for sending notifications
type Notifier interface {
	Send(n Notification) error
}

// MultiNotifier sends to multiple notifiers
type MultiNotifier struct {
	notifiers []Notifier
}

// NewMultiNotifier creates a notifier that sends to all provided notifiers
func NewMultiNotifier(notifiers ...Notifier) *MultiNotifier {
	return &MultiNotifier{notifiers: notifiers}
}

// Send sends the notification to all notifiers
func (m *MultiNotifier) Send(n Notification) error {
	var lastErr error
	for _, notifier := range m.notifiers {
		if err := notifier.Send(n); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// Forwarder turns work order lifecycle events into notifications
type Forwarder struct {
	bus      *eventbus.Bus
	notifier Notifier
}

// NewForwarder creates a Forwarder reading from bus
func NewForwarder(bus *eventbus.Bus, notifier Notifier) *Forwarder {
	return &Forwarder{bus: bus, notifier: notifier}
}

// Run forwards lifecycle events until ctx is cancelled. Step-level
// progress events are deliberately not forwarded.
func (f *Forwarder) Run(ctx context.Context) error {
	entries, cancel := f.bus.Subscribe(eventbus.AllOrders)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case e := <-entries:
			n, ok := FromEntry(e)
			if !ok {
				continue
			}
			if err := f.notifier.Send(n); err != nil {
				log.Printf("notification failed: %v", err)
			}
		}
	}
}

// FromEntry maps a lifecycle event to a notification. The second return
// is false for events that should not notify.
func FromEntry(e domain.LogEntry) (Notification, bool) {
	switch e.Event {
	case "work_order_completed":
		return Notification{
			Title:   "Work order completed",
			Message: fmt.Sprintf("Order %s finished all steps", shortID(e.WorkOrderID)),
			Type:    NotifySuccess,
			OrderID: e.WorkOrderID,
		}, true
	case "work_order_failed":
		return Notification{
			Title:   "Work order failed",
			Message: e.Error,
			Type:    NotifyError,
			OrderID: e.WorkOrderID,
		}, true
	case "work_order_suspended":
		return Notification{
			Title:   "Work order awaiting review",
			Message: fmt.Sprintf("Order %s paused at a review gate", shortID(e.WorkOrderID)),
			Type:    NotifyInfo,
			OrderID: e.WorkOrderID,
		}, true
	}
	return Notification{}, false
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
