// Package notify fans reconciliation alerts out to chat channels. The live
// loop tees its event log through a Notifier so operators hear about
// anomalies and order placements without tailing the CSV.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/whlin/quantpipe/internal/domain"
)

// Sender is one delivery channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// Notifier dispatches to all senders, filtered by reconciliation event type
// (ANOMALY, NEW_ORDER, ERROR, ...). An empty filter forwards everything.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	logger  *slog.Logger
}

// NewNotifier builds a notifier delivering to senders for the listed event
// types.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		allowed[strings.TrimSpace(e)] = true
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notify")),
	}
}

// NotifyEvent formats and delivers one reconciliation event, if its type
// passes the filter.
func (n *Notifier) NotifyEvent(ctx context.Context, ev domain.ReconcileEvent) error {
	if len(n.events) > 0 && !n.events[ev.Event] {
		return nil
	}

	title := fmt.Sprintf("%s %s", ev.Symbol, ev.Event)
	var b strings.Builder
	fmt.Fprintf(&b, "state=%s desired=%d shadow=%d target=%d", ev.State, ev.Desired, ev.Shadow, ev.Target)
	if ev.Side != "" {
		fmt.Fprintf(&b, "\n%s %s @ %s", ev.Side, ev.OrderQty, ev.OrderPrice)
	}
	if ev.Reason != "" {
		fmt.Fprintf(&b, "\n%s", ev.Reason)
	}
	return n.dispatch(ctx, title, b.String())
}

// Notify delivers a free-form message through the same channels, used for
// pipeline run summaries.
func (n *Notifier) Notify(ctx context.Context, title, message string) error {
	return n.dispatch(ctx, title, message)
}

func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	if len(n.senders) == 0 {
		return nil
	}

	var errs []string
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Sprintf("%s: %v", s.Name(), err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %s", len(errs), strings.Join(errs, "; "))
	}
	return nil
}

// EventTee wraps an event log so every appended row also reaches the
// notifier. Delivery is best-effort: a chat outage must never fail a cycle,
// so notify errors are logged by the Notifier and dropped here.
type EventTee struct {
	inner    domain.EventLog
	notifier *Notifier
}

// NewEventTee wraps inner with notification fan-out.
func NewEventTee(inner domain.EventLog, notifier *Notifier) *EventTee {
	return &EventTee{inner: inner, notifier: notifier}
}

// Append writes the row to the underlying log, then notifies.
func (t *EventTee) Append(ctx context.Context, ev domain.ReconcileEvent) error {
	if err := t.inner.Append(ctx, ev); err != nil {
		return err
	}
	_ = t.notifier.NotifyEvent(ctx, ev)
	return nil
}
