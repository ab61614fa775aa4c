// Package dataset fetches kline history into bars and runs data-quality
// checks before anything downstream consumes the series.
package dataset

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/whlin/quantpipe/internal/domain"
)

// KlinesSource serves paginated kline batches. Implemented by the exchange
// REST client; tests supply fakes.
type KlinesSource interface {
	Klines(ctx context.Context, symbol, interval string, startMS, endMS int64, limit int) ([]domain.Bar, error)
}

// FetchSpec bounds one fetch run.
type FetchSpec struct {
	Symbol          string
	Interval        string
	Start           time.Time
	End             time.Time
	LimitPerRequest int
}

// FetchBars pages through [Start, End), advancing the cursor to the last
// open time plus one millisecond between batches. Output is deduplicated by
// open time and sorted ascending.
func FetchBars(ctx context.Context, src KlinesSource, spec FetchSpec, logger *slog.Logger) ([]domain.Bar, error) {
	if spec.Symbol == "" || spec.Interval == "" {
		return nil, fmt.Errorf("dataset: symbol and interval are required: %w", domain.ErrInputData)
	}
	if !spec.End.After(spec.Start) {
		return nil, fmt.Errorf("dataset: end %s must be after start %s: %w", spec.End, spec.Start, domain.ErrInputData)
	}
	limit := spec.LimitPerRequest
	if limit <= 0 {
		limit = 1000
	}

	startMS := spec.Start.UnixMilli()
	endMS := spec.End.UnixMilli()
	cursor := startMS

	var bars []domain.Bar
	requests := 0

	for cursor < endMS {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("dataset: fetch aborted: %w", err)
		}

		batch, err := src.Klines(ctx, spec.Symbol, spec.Interval, cursor, endMS, limit)
		if err != nil {
			return nil, fmt.Errorf("dataset: klines from %d: %w", cursor, err)
		}
		requests++
		if len(batch) == 0 {
			break
		}

		bars = append(bars, batch...)

		lastOpen := batch[len(batch)-1].OpenTime.UnixMilli()
		next := lastOpen + 1
		if next <= cursor {
			// The venue returned no forward progress; step past it.
			next = cursor + 1
		}
		cursor = next
	}

	bars = dedupeSort(bars)

	logger.Info("fetched klines",
		slog.String("symbol", spec.Symbol),
		slog.String("interval", spec.Interval),
		slog.Int("bars", len(bars)),
		slog.Int("requests", requests),
	)

	return bars, nil
}

// dedupeSort sorts bars by open time and keeps the first bar per open time.
func dedupeSort(bars []domain.Bar) []domain.Bar {
	sort.SliceStable(bars, func(i, j int) bool {
		return bars[i].OpenTime.Before(bars[j].OpenTime)
	})
	out := bars[:0]
	var last time.Time
	for i, b := range bars {
		if i > 0 && b.OpenTime.Equal(last) {
			continue
		}
		out = append(out, b)
		last = b.OpenTime
	}
	return out
}
