// Package marketdata loads the externally produced market tables (regime
// scores, rolling betas, daily prices) and serves them through an immutable
// in-memory context shared by every simulation in a run.
package marketdata

import "time"

// DateFormat is the canonical date layout used across tables and artifacts.
const DateFormat = "2006-01-02"

// Day normalizes a timestamp to UTC midnight. All table keys and calendar
// arithmetic use this representation.
func Day(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// ParseDay parses a YYYY-MM-DD string into a normalized day.
func ParseDay(s string) (time.Time, error) {
	t, err := time.Parse(DateFormat, s)
	if err != nil {
		return time.Time{}, err
	}
	return Day(t), nil
}

// RegimeRow is one day of the market regime score table.
// Score is an integer in −2…+2 summarizing market-wide directional bias.
type RegimeRow struct {
	Date  time.Time `msgpack:"date"`
	Score int       `msgpack:"score"`
}

// BetaRow is one (symbol, date, window) entry of the rolling beta table.
type BetaRow struct {
	Symbol   string    `msgpack:"symbol"`
	Date     time.Time `msgpack:"date"`
	Window   int       `msgpack:"window"`
	BetaUp   float64   `msgpack:"beta_up"`
	BetaDown float64   `msgpack:"beta_down"`
}

// PriceRow is one (symbol, date) closing price.
type PriceRow struct {
	Symbol string    `msgpack:"symbol"`
	Date   time.Time `msgpack:"date"`
	Close  float64   `msgpack:"close"`
}

// BetaValue holds the up/down beta pair for one symbol, date and window.
type BetaValue struct {
	Up   float64
	Down float64
}

// Tables bundles the three raw tables as loaded from storage.
type Tables struct {
	Regime []RegimeRow
	Betas  []BetaRow
	Prices []PriceRow
}
