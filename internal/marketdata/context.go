package marketdata

import (
	"sort"
	"sync/atomic"
	"time"
)

// DefaultMaxPriceLookbackDays bounds the backward walk of the price lookup.
// A price missing on the requested date is resolved from the most recent
// prior day within this horizon, otherwise reported unavailable.
const DefaultMaxPriceLookbackDays = 10

// Context is the immutable, in-memory view of all market tables for a run.
// It is constructed once and shared by reference into every simulator and
// worker; nothing mutates it after construction except the gap counters,
// which are atomic.
type Context struct {
	regime map[time.Time]int
	days   []time.Time // sorted trading calendar (regime table date axis)

	// window → symbol → date → beta pair
	betas map[int]map[string]map[time.Time]BetaValue
	// window → sorted symbols carrying that window
	betaSymbols map[int][]string

	// symbol → date → close
	prices map[string]map[time.Time]float64

	maxLookbackDays int

	priceGaps  atomic.Int64
	betaGaps   atomic.Int64
	regimeGaps atomic.Int64
}

// ContextOption adjusts Context construction.
type ContextOption func(*Context)

// WithMaxPriceLookback overrides the bounded price lookback horizon (in
// calendar days).
func WithMaxPriceLookback(days int) ContextOption {
	return func(c *Context) {
		if days > 0 {
			c.maxLookbackDays = days
		}
	}
}

// NewContext builds the immutable market data context from raw table rows.
func NewContext(tables Tables, opts ...ContextOption) *Context {
	c := &Context{
		regime:          make(map[time.Time]int, len(tables.Regime)),
		betas:           make(map[int]map[string]map[time.Time]BetaValue),
		betaSymbols:     make(map[int][]string),
		prices:          make(map[string]map[time.Time]float64),
		maxLookbackDays: DefaultMaxPriceLookbackDays,
	}

	for _, r := range tables.Regime {
		c.regime[Day(r.Date)] = r.Score
	}
	c.days = make([]time.Time, 0, len(c.regime))
	for d := range c.regime {
		c.days = append(c.days, d)
	}
	sort.Slice(c.days, func(i, j int) bool { return c.days[i].Before(c.days[j]) })

	for _, b := range tables.Betas {
		bySymbol, ok := c.betas[b.Window]
		if !ok {
			bySymbol = make(map[string]map[time.Time]BetaValue)
			c.betas[b.Window] = bySymbol
		}
		byDate, ok := bySymbol[b.Symbol]
		if !ok {
			byDate = make(map[time.Time]BetaValue)
			bySymbol[b.Symbol] = byDate
		}
		byDate[Day(b.Date)] = BetaValue{Up: b.BetaUp, Down: b.BetaDown}
	}
	for window, bySymbol := range c.betas {
		symbols := make([]string, 0, len(bySymbol))
		for sym := range bySymbol {
			symbols = append(symbols, sym)
		}
		sort.Strings(symbols)
		c.betaSymbols[window] = symbols
	}

	for _, p := range tables.Prices {
		byDate, ok := c.prices[p.Symbol]
		if !ok {
			byDate = make(map[time.Time]float64)
			c.prices[p.Symbol] = byDate
		}
		byDate[Day(p.Date)] = p.Close
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Regime returns the regime score for a date. A miss is counted as a data gap.
func (c *Context) Regime(date time.Time) (int, bool) {
	score, ok := c.regime[Day(date)]
	if !ok {
		c.regimeGaps.Add(1)
	}
	return score, ok
}

// Beta returns the beta pair for a symbol, date and window. A date-level
// miss for a known symbol counts as a data gap; unknown symbols or windows
// do not (they are universe membership, not gaps).
func (c *Context) Beta(symbol string, date time.Time, window int) (BetaValue, bool) {
	bySymbol, ok := c.betas[window]
	if !ok {
		return BetaValue{}, false
	}
	byDate, ok := bySymbol[symbol]
	if !ok {
		return BetaValue{}, false
	}
	v, ok := byDate[Day(date)]
	if !ok {
		c.betaGaps.Add(1)
	}
	return v, ok
}

// BetaSymbols returns the sorted universe of symbols carrying beta data for a
// window. The returned slice is shared and must not be mutated.
func (c *Context) BetaSymbols(window int) []string {
	return c.betaSymbols[window]
}

// Price returns the closing price for (date, symbol). On a missing exact
// date it walks backward one calendar day at a time, up to the configured
// lookback horizon, then reports unavailable. Full misses count as data gaps.
func (c *Context) Price(date time.Time, symbol string) (float64, bool) {
	byDate, ok := c.prices[symbol]
	if !ok {
		c.priceGaps.Add(1)
		return 0, false
	}
	d := Day(date)
	for i := 0; i <= c.maxLookbackDays; i++ {
		if px, ok := byDate[d]; ok {
			return px, true
		}
		d = d.AddDate(0, 0, -1)
	}
	c.priceGaps.Add(1)
	return 0, false
}

// Calendar returns the full trading calendar in chronological order. The
// returned slice is shared and must not be mutated.
func (c *Context) Calendar() []time.Time {
	return c.days
}

// TradingDays returns the trading calendar between from and to inclusive.
// The regime table's date axis defines the calendar.
func (c *Context) TradingDays(from, to time.Time) []time.Time {
	f, t := Day(from), Day(to)
	lo := sort.Search(len(c.days), func(i int) bool { return !c.days[i].Before(f) })
	hi := sort.Search(len(c.days), func(i int) bool { return c.days[i].After(t) })
	if lo >= hi {
		return nil
	}
	out := make([]time.Time, hi-lo)
	copy(out, c.days[lo:hi])
	return out
}

// GapCounts reports accumulated data-gap occurrences so results can be
// audited rather than silently approximated.
type GapCounts struct {
	Price  int64 `json:"price"`
	Beta   int64 `json:"beta"`
	Regime int64 `json:"regime"`
}

// Gaps returns the current data-gap counters.
func (c *Context) Gaps() GapCounts {
	return GapCounts{
		Price:  c.priceGaps.Load(),
		Beta:   c.betaGaps.Load(),
		Regime: c.regimeGaps.Load(),
	}
}
