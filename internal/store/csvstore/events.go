package csvstore

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/whlin/quantpipe/internal/domain"
)

var eventHeader = []string{
	"ts_utc", "event", "symbol", "state",
	"last_price", "prev_close",
	"desired", "shadow", "target", "open_orders",
	"order_id", "order_status", "side", "order_price", "order_qty",
	"reason",
}

// EventLog appends reconciliation audit rows to a CSV file. The file is
// opened, appended, and closed on every call so no handle outlives a cycle
// and a crash loses at most the row being written. Rows are never rewritten.
type EventLog struct {
	path string
}

// NewEventLog builds an event log writing to path.
func NewEventLog(path string) *EventLog {
	return &EventLog{path: path}
}

// Append writes one event row, emitting the header first on an empty file.
func (l *EventLog) Append(_ context.Context, ev domain.ReconcileEvent) error {
	if dir := filepath.Dir(l.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("csvstore: mkdir %s: %w", dir, err)
		}
	}
	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("csvstore: open %s: %w", l.path, err)
	}

	w := csv.NewWriter(f)
	if info, err := f.Stat(); err == nil && info.Size() == 0 {
		if err := w.Write(eventHeader); err != nil {
			f.Close()
			return fmt.Errorf("csvstore: write %s: %w", l.path, err)
		}
	}

	orderID := ""
	if ev.OrderID != 0 {
		orderID = strconv.FormatInt(ev.OrderID, 10)
	}
	row := []string{
		formatTime(ev.Time),
		ev.Event,
		ev.Symbol,
		string(ev.State),
		formatFloat(ev.LastPrice),
		formatFloat(ev.PrevClose),
		strconv.Itoa(ev.Desired),
		strconv.Itoa(ev.Shadow),
		strconv.Itoa(ev.Target),
		strconv.Itoa(ev.OpenOrders),
		orderID,
		ev.OrderStatus,
		ev.Side,
		ev.OrderPrice,
		ev.OrderQty,
		ev.Reason,
	}
	if err := w.Write(row); err != nil {
		f.Close()
		return fmt.Errorf("csvstore: write %s: %w", l.path, err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return fmt.Errorf("csvstore: flush %s: %w", l.path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("csvstore: close %s: %w", l.path, err)
	}
	return nil
}
