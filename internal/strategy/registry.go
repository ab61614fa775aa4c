package strategy

import (
	"fmt"
	"sort"
)

// Strategy names used in config, CSV paths, and the dashboard.
const (
	NameMACD           = "macd"
	NameEMARatio       = "ema_ratio"
	NameVWAPReversion  = "vwap_reversion"
	NameShockReversion = "shock_reversion"
)

// ForName constructs the named strategy with the given parameters.
func ForName(name string, p Params) (Strategy, error) {
	switch name {
	case NameMACD:
		return NewMACDTrend(p), nil
	case NameEMARatio:
		return NewEMARatioTrend(p), nil
	case NameVWAPReversion:
		return NewVWAPReversion(p), nil
	case NameShockReversion:
		return NewShockReversion(p), nil
	default:
		return nil, fmt.Errorf("strategy: unknown strategy %q (have %v)", name, Names())
	}
}

// Names lists every registered strategy name, sorted.
func Names() []string {
	names := []string{NameMACD, NameEMARatio, NameVWAPReversion, NameShockReversion}
	sort.Strings(names)
	return names
}
