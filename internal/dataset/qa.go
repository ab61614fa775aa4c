package dataset

import (
	"fmt"
	"math"
	"time"

	"github.com/whlin/quantpipe/internal/domain"
	"github.com/whlin/quantpipe/internal/indicator"
)

// QAConfig controls the data-quality checks.
type QAConfig struct {
	ExpectedInterval time.Duration
	MaxAbsLogReturn  float64
	OutlierWindow    int
	OutlierSigma     float64
}

// DefaultQAConfig matches 15m bars: a 35% single-bar move or a 10-sigma
// move against a one-day rolling std flags an outlier.
func DefaultQAConfig() QAConfig {
	return QAConfig{
		ExpectedInterval: 15 * time.Minute,
		MaxAbsLogReturn:  0.35,
		OutlierWindow:    96,
		OutlierSigma:     10.0,
	}
}

// QAResult summarizes one QA pass. Flag slices align with the cleaned bars.
type QAResult struct {
	Rows              int
	Start             time.Time
	End               time.Time
	DuplicatesRemoved int
	Monotonic         bool
	NegOrZeroPrices   int
	NegVolume         int
	MissingBars       int
	MissingBarsPct    float64
	OutliersAbsLogret int
	OutliersSigma     int

	LogReturns       []float64
	FlagAbsLogret    []bool
	FlagSigmaOutlier []bool
}

// RunQA sorts and deduplicates bars, then checks structural validity,
// completeness against the expected time grid, and log-return outliers.
// The cleaned bars are returned alongside the summary.
func RunQA(bars []domain.Bar, cfg QAConfig) ([]domain.Bar, QAResult, error) {
	if len(bars) == 0 {
		return nil, QAResult{}, fmt.Errorf("dataset: no bars to QA: %w", domain.ErrInputData)
	}
	if cfg.ExpectedInterval <= 0 {
		return nil, QAResult{}, fmt.Errorf("dataset: expected interval must be positive, got %s", cfg.ExpectedInterval)
	}

	before := len(bars)
	clean := dedupeSort(append([]domain.Bar(nil), bars...))

	res := QAResult{
		Rows:              len(clean),
		Start:             clean[0].OpenTime,
		End:               clean[len(clean)-1].OpenTime,
		DuplicatesRemoved: before - len(clean),
		Monotonic:         true,
	}

	for _, b := range clean {
		if b.Open <= 0 || b.High <= 0 || b.Low <= 0 || b.Close <= 0 {
			res.NegOrZeroPrices++
		}
		if b.Volume < 0 {
			res.NegVolume++
		}
	}

	// Completeness against the expected grid between first and last bar.
	expected := int(res.End.Sub(res.Start)/cfg.ExpectedInterval) + 1
	res.MissingBars = expected - len(clean)
	if res.MissingBars < 0 {
		// Off-grid timestamps; completeness is not meaningful.
		res.MissingBars = 0
	}
	res.MissingBarsPct = float64(res.MissingBars) / float64(max(expected, 1))

	closes := domain.Closes(clean)
	logret := indicator.LogReturns(closes)
	res.LogReturns = logret

	minPeriods := cfg.OutlierWindow / 5
	if minPeriods < 5 {
		minPeriods = 5
	}
	rollStd := indicator.RollingStd(logret, cfg.OutlierWindow, minPeriods)

	res.FlagAbsLogret = make([]bool, len(clean))
	res.FlagSigmaOutlier = make([]bool, len(clean))
	for i, r := range logret {
		if math.IsNaN(r) {
			continue
		}
		if math.Abs(r) > cfg.MaxAbsLogReturn {
			res.FlagAbsLogret[i] = true
			res.OutliersAbsLogret++
		}
		if !math.IsNaN(rollStd[i]) && math.Abs(r) > cfg.OutlierSigma*rollStd[i] {
			res.FlagSigmaOutlier[i] = true
			res.OutliersSigma++
		}
	}

	return clean, res, nil
}
