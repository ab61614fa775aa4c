// Package csvstore persists pipeline artifacts as CSV files: bar series,
// indicator and position frames, backtest rows, sweep and dashboard tables,
// and the append-only reconciliation event log. Timestamps are RFC3339 UTC;
// NaN round-trips as the empty cell.
package csvstore

import (
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/whlin/quantpipe/internal/backtest"
	"github.com/whlin/quantpipe/internal/dataset"
	"github.com/whlin/quantpipe/internal/domain"
	"github.com/whlin/quantpipe/internal/risk"
	"github.com/whlin/quantpipe/internal/strategy"
)

func formatFloat(v float64) string {
	if math.IsNaN(v) {
		return ""
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// parseFloat is strict: empty is NaN, anything unparsable is an error.
func parseFloat(s string) (float64, error) {
	if s == "" {
		return math.NaN(), nil
	}
	return strconv.ParseFloat(s, 64)
}

// coerceFloat is lenient: empty or non-numeric cells load as NaN.
func coerceFloat(s string) float64 {
	if v, err := strconv.ParseFloat(s, 64); err == nil {
		return v
	}
	return math.NaN()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func writeCSV(path string, header []string, n int, row func(i int) []string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("csvstore: mkdir %s: %w", dir, err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("csvstore: create %s: %w", path, err)
	}
	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		f.Close()
		return fmt.Errorf("csvstore: write %s: %w", path, err)
	}
	for i := 0; i < n; i++ {
		if err := w.Write(row(i)); err != nil {
			f.Close()
			return fmt.Errorf("csvstore: write %s: %w", path, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return fmt.Errorf("csvstore: flush %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("csvstore: close %s: %w", path, err)
	}
	return nil
}

// readCSV loads a whole file and returns a header-name index plus the data
// records. Files written by this package are small enough to hold in memory.
func readCSV(path string) (map[string]int, [][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("csvstore: open %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	records, err := r.ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("csvstore: read %s: %w", path, err)
	}
	if len(records) == 0 {
		return nil, nil, fmt.Errorf("csvstore: %s: empty file: %w", path, domain.ErrInputData)
	}

	idx := make(map[string]int, len(records[0]))
	for i, name := range records[0] {
		idx[name] = i
	}
	return idx, records[1:], nil
}

func requireColumns(path string, idx map[string]int, names ...string) error {
	var missing []string
	for _, name := range names {
		if _, ok := idx[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("csvstore: %s: missing columns %v: %w", path, missing, domain.ErrInputData)
	}
	return nil
}

var barsHeader = []string{"open_time", "open", "high", "low", "close", "volume"}

// WriteBars writes a raw bar series.
func WriteBars(path string, bars []domain.Bar) error {
	return writeCSV(path, barsHeader, len(bars), func(i int) []string {
		b := bars[i]
		return []string{
			formatTime(b.OpenTime),
			formatFloat(b.Open),
			formatFloat(b.High),
			formatFloat(b.Low),
			formatFloat(b.Close),
			formatFloat(b.Volume),
		}
	})
}

// ReadBars loads a bar series written by WriteBars or WriteProcessedBars.
// Extra columns (QA flags) are ignored.
func ReadBars(path string) ([]domain.Bar, error) {
	idx, records, err := readCSV(path)
	if err != nil {
		return nil, err
	}
	if err := requireColumns(path, idx, barsHeader...); err != nil {
		return nil, err
	}

	bars := make([]domain.Bar, 0, len(records))
	for line, rec := range records {
		t, err := time.Parse(time.RFC3339, rec[idx["open_time"]])
		if err != nil {
			return nil, fmt.Errorf("csvstore: %s line %d: open_time: %w", path, line+2, err)
		}
		b := domain.Bar{OpenTime: t.UTC()}
		for _, col := range []struct {
			name string
			dst  *float64
		}{
			{"open", &b.Open}, {"high", &b.High}, {"low", &b.Low},
			{"close", &b.Close}, {"volume", &b.Volume},
		} {
			v, err := parseFloat(rec[idx[col.name]])
			if err != nil {
				return nil, fmt.Errorf("csvstore: %s line %d: %s: %w", path, line+2, col.name, err)
			}
			*col.dst = v
		}
		bars = append(bars, b)
	}
	return bars, nil
}

// WriteProcessedBars writes the QA-cleaned bars with log returns and the
// outlier flag columns appended.
func WriteProcessedBars(path string, bars []domain.Bar, res dataset.QAResult) error {
	header := append(append([]string(nil), barsHeader...),
		"logret", "flag_abs_logret", "flag_sigma_outlier")
	return writeCSV(path, header, len(bars), func(i int) []string {
		b := bars[i]
		return []string{
			formatTime(b.OpenTime),
			formatFloat(b.Open),
			formatFloat(b.High),
			formatFloat(b.Low),
			formatFloat(b.Close),
			formatFloat(b.Volume),
			formatFloat(res.LogReturns[i]),
			strconv.FormatBool(res.FlagAbsLogret[i]),
			strconv.FormatBool(res.FlagSigmaOutlier[i]),
		}
	})
}

// WriteQASummary writes the one-row QA summary table.
func WriteQASummary(path string, res dataset.QAResult) error {
	header := []string{
		"rows", "start_open_time_utc", "end_open_time_utc",
		"duplicates_removed", "monotonic_increasing",
		"neg_or_zero_prices", "neg_volume",
		"missing_bars_count", "missing_bars_pct",
		"outliers_abslogret_count", "outliers_sigma_count",
	}
	return writeCSV(path, header, 1, func(int) []string {
		return []string{
			strconv.Itoa(res.Rows),
			formatTime(res.Start),
			formatTime(res.End),
			strconv.Itoa(res.DuplicatesRemoved),
			strconv.FormatBool(res.Monotonic),
			strconv.Itoa(res.NegOrZeroPrices),
			strconv.Itoa(res.NegVolume),
			strconv.Itoa(res.MissingBars),
			formatFloat(res.MissingBarsPct),
			strconv.Itoa(res.OutliersAbsLogret),
			strconv.Itoa(res.OutliersSigma),
		}
	})
}

// WriteSeries writes a generic timestamped table of float columns, used for
// indicator outputs.
func WriteSeries(path string, times []time.Time, names []string, series [][]float64) error {
	if len(names) != len(series) {
		return fmt.Errorf("csvstore: %d names for %d series: %w", len(names), len(series), domain.ErrInputData)
	}
	for i, s := range series {
		if len(s) != len(times) {
			return fmt.Errorf("csvstore: column %s has %d rows, want %d: %w", names[i], len(s), len(times), domain.ErrInputData)
		}
	}
	header := append([]string{"open_time"}, names...)
	return writeCSV(path, header, len(times), func(i int) []string {
		row := make([]string, 0, len(header))
		row = append(row, formatTime(times[i]))
		for _, s := range series {
			row = append(row, formatFloat(s[i]))
		}
		return row
	})
}

// WriteFrame writes a strategy frame: the diagnostic columns followed by the
// integer position column, named position_<strategy>.
func WriteFrame(path string, f strategy.Frame, positionName string) error {
	names := make([]string, 0, len(f.Columns))
	series := make([][]float64, 0, len(f.Columns)+1)
	for _, c := range f.Columns {
		names = append(names, c.Name)
		series = append(series, c.Values)
	}
	if positionName != "" {
		pos := make([]float64, len(f.Positions))
		for i, p := range f.Positions {
			pos[i] = float64(p)
		}
		names = append(names, positionName)
		series = append(series, pos)
	}
	return WriteSeries(path, f.Times, names, series)
}

// Table is a loaded timestamped table. Non-numeric cells coerce to NaN, the
// same way the research tooling loads mixed-type CSVs.
type Table struct {
	Times   []time.Time
	Names   []string
	Columns map[string][]float64
}

// Column returns a named column, nil when absent.
func (t Table) Column(name string) []float64 {
	return t.Columns[name]
}

// PositionColumn returns the single position_* column of the table.
func (t Table) PositionColumn() (string, []float64, error) {
	var found string
	for _, name := range t.Names {
		if !strings.HasPrefix(name, "position") {
			continue
		}
		if found != "" {
			return "", nil, fmt.Errorf("csvstore: multiple position columns (%s, %s): %w", found, name, domain.ErrInputData)
		}
		found = name
	}
	if found == "" {
		return "", nil, fmt.Errorf("csvstore: no position column: %w", domain.ErrInputData)
	}
	return found, t.Columns[found], nil
}

// ReadTable loads a table written by WriteSeries or WriteFrame. The
// open_time column is required.
func ReadTable(path string) (Table, error) {
	idx, records, err := readCSV(path)
	if err != nil {
		return Table{}, err
	}
	if err := requireColumns(path, idx, "open_time"); err != nil {
		return Table{}, err
	}

	t := Table{
		Times:   make([]time.Time, 0, len(records)),
		Columns: make(map[string][]float64),
	}
	for name := range idx {
		if name != "open_time" {
			t.Columns[name] = make([]float64, 0, len(records))
		}
	}
	for line, rec := range records {
		ts, err := time.Parse(time.RFC3339, rec[idx["open_time"]])
		if err != nil {
			return Table{}, fmt.Errorf("csvstore: %s line %d: open_time: %w", path, line+2, err)
		}
		t.Times = append(t.Times, ts.UTC())
		for name, col := range idx {
			if name == "open_time" {
				continue
			}
			t.Columns[name] = append(t.Columns[name], coerceFloat(rec[col]))
		}
	}
	for name := range t.Columns {
		t.Names = append(t.Names, name)
	}
	// Map iteration order is random; keep column names stable.
	sort.Strings(t.Names)
	return t, nil
}

var backtestHeader = []string{
	"open_time", "close", "position", "ret", "pos_exec",
	"strat_ret_gross", "turnover", "cost", "strat_ret_net",
	"equity_gross", "equity_net",
}

// WriteBacktest writes per-bar backtest rows.
func WriteBacktest(path string, rows []backtest.Row) error {
	return writeCSV(path, backtestHeader, len(rows), func(i int) []string {
		r := rows[i]
		return []string{
			formatTime(r.Time),
			formatFloat(r.Close),
			formatFloat(r.Position),
			formatFloat(r.Ret),
			formatFloat(r.PosExec),
			formatFloat(r.GrossRet),
			formatFloat(r.Turnover),
			formatFloat(r.Cost),
			formatFloat(r.NetRet),
			formatFloat(r.EquityGross),
			formatFloat(r.EquityNet),
		}
	})
}

// ReadBacktest loads backtest rows written by WriteBacktest.
func ReadBacktest(path string) ([]backtest.Row, error) {
	idx, records, err := readCSV(path)
	if err != nil {
		return nil, err
	}
	if err := requireColumns(path, idx, backtestHeader...); err != nil {
		return nil, err
	}

	rows := make([]backtest.Row, 0, len(records))
	for line, rec := range records {
		t, err := time.Parse(time.RFC3339, rec[idx["open_time"]])
		if err != nil {
			return nil, fmt.Errorf("csvstore: %s line %d: open_time: %w", path, line+2, err)
		}
		r := backtest.Row{Time: t.UTC()}
		for _, col := range []struct {
			name string
			dst  *float64
		}{
			{"close", &r.Close}, {"position", &r.Position}, {"ret", &r.Ret},
			{"pos_exec", &r.PosExec}, {"strat_ret_gross", &r.GrossRet},
			{"turnover", &r.Turnover}, {"cost", &r.Cost},
			{"strat_ret_net", &r.NetRet}, {"equity_gross", &r.EquityGross},
			{"equity_net", &r.EquityNet},
		} {
			v, err := parseFloat(rec[idx[col.name]])
			if err != nil {
				return nil, fmt.Errorf("csvstore: %s line %d: %s: %w", path, line+2, col.name, err)
			}
			*col.dst = v
		}
		rows = append(rows, r)
	}
	return rows, nil
}

// WriteDashboard writes the strategy-comparison risk table.
func WriteDashboard(path string, stats []risk.Stats) error {
	header := []string{
		"strategy", "bars",
		"sharpe_gross", "sharpe_net", "vol_gross", "vol_net",
		"var_gross", "var_net", "es_gross", "es_net",
		"mdd_gross", "mdd_net", "final_equity_gross", "final_equity_net",
		"total_turnover", "pct_time_in_market",
	}
	return writeCSV(path, header, len(stats), func(i int) []string {
		s := stats[i]
		return []string{
			s.Strategy,
			strconv.Itoa(s.Bars),
			formatFloat(s.Gross.Sharpe),
			formatFloat(s.Net.Sharpe),
			formatFloat(s.Gross.Vol),
			formatFloat(s.Net.Vol),
			formatFloat(s.Gross.VaR),
			formatFloat(s.Net.VaR),
			formatFloat(s.Gross.ES),
			formatFloat(s.Net.ES),
			formatFloat(s.Gross.MaxDrawdown),
			formatFloat(s.Net.MaxDrawdown),
			formatFloat(s.Gross.FinalEquity),
			formatFloat(s.Net.FinalEquity),
			formatFloat(s.TotalTurnover),
			formatFloat(s.PctTimeInMarket),
		}
	})
}

// WriteSweep writes the cost-sensitivity sweep table.
func WriteSweep(path string, points []risk.SweepPoint) error {
	header := []string{
		"cost_bps_per_turnover",
		"sharpe_gross", "sharpe_net",
		"mdd_gross", "mdd_net",
		"final_equity_gross", "final_equity_net",
		"total_turnover",
	}
	return writeCSV(path, header, len(points), func(i int) []string {
		p := points[i]
		return []string{
			formatFloat(p.CostBps),
			formatFloat(p.SharpeGross),
			formatFloat(p.SharpeNet),
			formatFloat(p.MDDGross),
			formatFloat(p.MDDNet),
			formatFloat(p.FinalEquityGross),
			formatFloat(p.FinalEquityNet),
			formatFloat(p.TotalTurnover),
		}
	})
}
