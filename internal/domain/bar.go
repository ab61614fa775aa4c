// Package domain defines the core data model for the research pipeline:
// bars, exchange filters, order intents, broker snapshots, and the
// reconciliation event vocabulary shared by every other package.
package domain

import "time"

// Bar is a single OHLCV candle. Bar series are immutable, ordered by OpenTime,
// and free of duplicates once they pass the dataset QA stage.
type Bar struct {
	OpenTime time.Time
	Open     float64
	High     float64
	Low      float64
	Close    float64
	Volume   float64
}

// Times extracts the open timestamps of a bar series.
func Times(bars []Bar) []time.Time {
	out := make([]time.Time, len(bars))
	for i, b := range bars {
		out[i] = b.OpenTime
	}
	return out
}

// Closes extracts the close prices of a bar series.
func Closes(bars []Bar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Close
	}
	return out
}

// Volumes extracts the volumes of a bar series.
func Volumes(bars []Bar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Volume
	}
	return out
}
