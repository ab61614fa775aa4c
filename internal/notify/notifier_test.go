package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whlin/quantpipe/internal/domain"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type fakeSender struct {
	name     string
	err      error
	messages []string
}

func (f *fakeSender) Send(_ context.Context, title, message string) error {
	if f.err != nil {
		return f.err
	}
	f.messages = append(f.messages, title+"\n"+message)
	return nil
}

func (f *fakeSender) Name() string { return f.name }

type sink struct {
	events []domain.ReconcileEvent
}

func (s *sink) Append(_ context.Context, ev domain.ReconcileEvent) error {
	s.events = append(s.events, ev)
	return nil
}

func TestNotifyEventFiltered(t *testing.T) {
	s := &fakeSender{name: "telegram"}
	n := NewNotifier([]Sender{s}, []string{domain.EventAnomaly}, discard)
	ctx := context.Background()

	require.NoError(t, n.NotifyEvent(ctx, domain.ReconcileEvent{Event: domain.EventCycle, Symbol: "BTCUSDT"}))
	assert.Empty(t, s.messages, "unlisted event types stay quiet")

	require.NoError(t, n.NotifyEvent(ctx, domain.ReconcileEvent{
		Event: domain.EventAnomaly, Symbol: "BTCUSDT", State: domain.StateAnomalous,
		Reason: "unexpected open orders: [777]",
	}))
	require.Len(t, s.messages, 1)
	assert.Contains(t, s.messages[0], "BTCUSDT ANOMALY")
	assert.Contains(t, s.messages[0], "unexpected open orders")
}

func TestDispatchContinuesPastFailedSender(t *testing.T) {
	bad := &fakeSender{name: "telegram", err: errors.New("boom")}
	good := &fakeSender{name: "discord"}
	n := NewNotifier([]Sender{bad, good}, nil, discard)

	err := n.Notify(context.Background(), "run summary", "sharpe_net=1.2")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "telegram")
	assert.Len(t, good.messages, 1, "remaining senders still deliver")
}

func TestEventTeeAppendsThenNotifies(t *testing.T) {
	inner := &sink{}
	s := &fakeSender{name: "discord", err: errors.New("webhook down")}
	tee := NewEventTee(inner, NewNotifier([]Sender{s}, nil, discard))

	ev := domain.ReconcileEvent{Event: domain.EventNewOrder, Symbol: "BTCUSDT", Side: "BUY"}
	require.NoError(t, tee.Append(context.Background(), ev), "notify failure never fails the append")
	require.Len(t, inner.events, 1)
	assert.Equal(t, domain.EventNewOrder, inner.events[0].Event)
}
