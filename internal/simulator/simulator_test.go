package simulator

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ophirlabs/ophir/internal/marketdata"
	"github.com/ophirlabs/ophir/internal/signals"
)

func day(t *testing.T, s string) time.Time {
	t.Helper()
	d, err := marketdata.ParseDay(s)
	require.NoError(t, err)
	return d
}

// priceContext builds a context whose calendar is one day per price entry,
// starting 2024-01-01, with the given closing prices per symbol.
func priceContext(t *testing.T, series map[string][]float64) *marketdata.Context {
	t.Helper()
	n := 0
	for _, px := range series {
		if len(px) > n {
			n = len(px)
		}
	}
	var tables marketdata.Tables
	for i := 0; i < n; i++ {
		date := day(t, "2024-01-01").AddDate(0, 0, i)
		tables.Regime = append(tables.Regime, marketdata.RegimeRow{Date: date, Score: 1})
		for sym, px := range series {
			if i < len(px) && px[i] > 0 {
				tables.Prices = append(tables.Prices, marketdata.PriceRow{Symbol: sym, Date: date, Close: px[i]})
			}
		}
	}
	return marketdata.NewContext(tables)
}

// calendarLong builds a signal calendar holding the given symbols long on
// days where held[i] is true.
func calendarLong(t *testing.T, n int, symbols []string, held func(i int) bool) []signals.SignalDay {
	t.Helper()
	days := make([]signals.SignalDay, n)
	for i := range days {
		days[i] = signals.SignalDay{Date: day(t, "2024-01-01").AddDate(0, 0, i), Regime: 1}
		if held(i) {
			days[i].Long = symbols
		}
	}
	return days
}

func testConfig() Config {
	return Config{InitialCash: 100_000, MaxPositions: 5, Notional: 10_000}
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, testConfig().Validate())

	bad := testConfig()
	bad.InitialCash = 0
	assert.Error(t, bad.Validate())

	bad = testConfig()
	bad.MaxPositions = 0
	assert.Error(t, bad.Validate())

	bad = testConfig()
	bad.Notional = -1
	assert.Error(t, bad.Validate())
}

func TestNoSignalsLeavesEquityFlat(t *testing.T) {
	ctx := priceContext(t, map[string][]float64{"AAA": {100, 101, 102, 103, 104}})
	sim, err := New(testConfig(), ctx, nil, zerolog.Nop())
	require.NoError(t, err)

	sim.Run(calendarLong(t, 5, nil, func(int) bool { return false }))

	require.Len(t, sim.History(), 5)
	for _, snap := range sim.History() {
		assert.Equal(t, 100_000.0, snap.Equity)
		assert.Zero(t, snap.OpenPositions)
		assert.Zero(t, snap.DailyReturn)
	}
	assert.Empty(t, sim.Trades())
}

func TestLongRoundTripOnSignalDisappearance(t *testing.T) {
	ctx := priceContext(t, map[string][]float64{"AAA": {100, 102, 104, 106, 108}})
	sim, err := New(testConfig(), ctx, nil, zerolog.Nop())
	require.NoError(t, err)

	// Long signal on days 0-2, gone from day 3.
	sim.Run(calendarLong(t, 5, []string{"AAA"}, func(i int) bool { return i < 3 }))

	require.Len(t, sim.Trades(), 1)
	tr := sim.Trades()[0]
	assert.Equal(t, "AAA", tr.Symbol)
	assert.Equal(t, Long, tr.Side)
	assert.Equal(t, 100.0, tr.EntryPrice)
	assert.Equal(t, 106.0, tr.ExitPrice)
	assert.False(t, tr.StopLossTriggered)

	qty := 10_000.0 / 100.0
	assert.InDelta(t, qty*6, tr.RealizedPnL, 1e-9)
	assert.InDelta(t, 100_000+qty*6, sim.Cash(), 1e-9)
	assert.Zero(t, sim.OpenPositions())

	final := sim.History()[len(sim.History())-1]
	assert.InDelta(t, 100_000+qty*6, final.Equity, 1e-9)
}

func TestOpposingRegimeClosesPosition(t *testing.T) {
	ctx := priceContext(t, map[string][]float64{"AAA": {100, 103, 101}})
	sim, err := New(testConfig(), ctx, nil, zerolog.Nop())
	require.NoError(t, err)

	cal := calendarLong(t, 3, []string{"AAA"}, func(int) bool { return true })
	cal[2].Regime = -1
	sim.Run(cal)

	require.Len(t, sim.Trades(), 1)
	assert.Equal(t, 101.0, sim.Trades()[0].ExitPrice)
	assert.False(t, sim.Trades()[0].StopLossTriggered)
}

func TestTrailingStopLocksInGains(t *testing.T) {
	// Entry 100, rally to 110, pullback to 104. Trailing level from the
	// 110 peak is 100 + 0.8*10 = 108, so the pullback exits at 108.
	ctx := priceContext(t, map[string][]float64{"AAA": {100, 110, 104, 104}})
	sim, err := New(testConfig(), ctx, NewStopLossExitPolicy(0, 0), zerolog.Nop())
	require.NoError(t, err)

	sim.Run(calendarLong(t, 4, []string{"AAA"}, func(int) bool { return true }))

	require.Len(t, sim.Trades(), 1)
	tr := sim.Trades()[0]
	assert.True(t, tr.StopLossTriggered)
	assert.InDelta(t, 108.0, tr.ExitPrice, 1e-9)
	qty := 10_000.0 / 100.0
	assert.InDelta(t, qty*8, tr.RealizedPnL, 1e-9)
	// The signal is still active after the stop, so the symbol re-enters.
	assert.Equal(t, 1, sim.OpenPositions())
}

func TestHardStopCapsLoss(t *testing.T) {
	ctx := priceContext(t, map[string][]float64{"AAA": {100, 95}})
	sim, err := New(testConfig(), ctx, NewStopLossExitPolicy(0.03, 0.8), zerolog.Nop())
	require.NoError(t, err)

	sim.Run(calendarLong(t, 2, []string{"AAA"}, func(int) bool { return true }))

	require.NotEmpty(t, sim.Trades())
	tr := sim.Trades()[0]
	assert.True(t, tr.StopLossTriggered)
	assert.InDelta(t, 97.0, tr.ExitPrice, 1e-9)
	qty := 10_000.0 / 100.0
	assert.InDelta(t, -3*qty, tr.RealizedPnL, 1e-9)
}

func TestShortTrailingStop(t *testing.T) {
	// Short entry 100, slide to 90, bounce to 95. Trailing level from the
	// 90 trough is 100 - 0.8*10 = 92; the bounce exits at 92.
	ctx := priceContext(t, map[string][]float64{"BBB": {100, 90, 95}})
	sim, err := New(testConfig(), ctx, NewStopLossExitPolicy(0, 0), zerolog.Nop())
	require.NoError(t, err)

	days := make([]signals.SignalDay, 3)
	for i := range days {
		days[i] = signals.SignalDay{
			Date:   day(t, "2024-01-01").AddDate(0, 0, i),
			Regime: -1,
			Short:  []string{"BBB"},
		}
	}
	sim.Run(days)

	require.NotEmpty(t, sim.Trades())
	tr := sim.Trades()[0]
	assert.Equal(t, Short, tr.Side)
	assert.True(t, tr.StopLossTriggered)
	assert.InDelta(t, 92.0, tr.ExitPrice, 1e-9)
	qty := 10_000.0 / 100.0
	assert.InDelta(t, 8*qty, tr.RealizedPnL, 1e-9)
}

func TestStopLevelNeverLoosens(t *testing.T) {
	pol := NewStopLossExitPolicy(0.03, 0.8)
	p := &Position{Symbol: "AAA", Side: Long, EntryPrice: 100, Quantity: 1}
	pol.OnOpen(p)
	assert.InDelta(t, 97.0, p.StopLoss, 1e-9)

	prev := p.StopLoss
	for _, px := range []float64{101, 105, 110, 108.5, 109, 120} {
		exit, _ := pol.Check(p, px)
		assert.False(t, exit, "price %f above ratcheted stop", px)
		assert.GreaterOrEqual(t, p.StopLoss, prev, "stop loosened at price %f", px)
		prev = p.StopLoss
	}
	assert.InDelta(t, 116.0, p.StopLoss, 1e-9)
}

func TestMaxPositionsCapAndOrdering(t *testing.T) {
	ctx := priceContext(t, map[string][]float64{
		"AAA": {100, 100}, "BBB": {50, 50}, "CCC": {200, 200},
	})
	cfg := testConfig()
	cfg.MaxPositions = 2
	sim, err := New(cfg, ctx, nil, zerolog.Nop())
	require.NoError(t, err)

	sim.Run(calendarLong(t, 2, []string{"AAA", "BBB", "CCC"}, func(int) bool { return true }))

	assert.Equal(t, 2, sim.OpenPositions())
	assert.Equal(t, 2, sim.History()[0].OpenPositions)
}

func TestMissingPriceCarriesLastMark(t *testing.T) {
	// Second calendar day is 30 days out, beyond the price lookback, and
	// the symbol only trades on day one. The position stays open and keeps
	// its last mark in equity.
	start := day(t, "2024-01-01")
	tables := marketdata.Tables{
		Regime: []marketdata.RegimeRow{
			{Date: start, Score: 1},
			{Date: start.AddDate(0, 0, 30), Score: 1},
		},
		Prices: []marketdata.PriceRow{{Symbol: "AAA", Date: start, Close: 100}},
	}
	ctx := marketdata.NewContext(tables)
	sim, err := New(testConfig(), ctx, nil, zerolog.Nop())
	require.NoError(t, err)

	days := []signals.SignalDay{
		{Date: start, Regime: 1, Long: []string{"AAA"}},
		{Date: start.AddDate(0, 0, 30), Regime: 1, Long: []string{"AAA"}},
	}
	sim.Run(days)

	assert.Equal(t, 1, sim.OpenPositions())
	assert.Empty(t, sim.Trades())
	for _, snap := range sim.History() {
		assert.InDelta(t, 100_000.0, snap.Equity, 1e-9)
	}
}

func TestEquityReconciliation(t *testing.T) {
	ctx := priceContext(t, map[string][]float64{
		"AAA": {100, 108, 103, 111, 99},
		"BBB": {40, 41, 39, 44, 45},
	})
	sim, err := New(testConfig(), ctx, NewStopLossExitPolicy(0, 0), zerolog.Nop())
	require.NoError(t, err)

	sim.Run(calendarLong(t, 5, []string{"AAA", "BBB"}, func(i int) bool { return i < 4 }))
	sim.Liquidate(day(t, "2024-01-05"))

	assert.Zero(t, sim.OpenPositions())
	realized := 0.0
	for _, tr := range sim.Trades() {
		realized += tr.RealizedPnL
	}
	assert.InDelta(t, 100_000+realized, sim.Cash(), 1e-9)
}

func TestLiquidateUsesFinalPrice(t *testing.T) {
	ctx := priceContext(t, map[string][]float64{"AAA": {100, 104}})
	sim, err := New(testConfig(), ctx, nil, zerolog.Nop())
	require.NoError(t, err)

	sim.Run(calendarLong(t, 2, []string{"AAA"}, func(int) bool { return true }))
	require.Equal(t, 1, sim.OpenPositions())

	sim.Liquidate(day(t, "2024-01-02"))
	assert.Zero(t, sim.OpenPositions())
	require.Len(t, sim.Trades(), 1)
	tr := sim.Trades()[0]
	assert.Equal(t, 104.0, tr.ExitPrice)
	assert.False(t, tr.StopLossTriggered)
	qty := 10_000.0 / 100.0
	assert.InDelta(t, 100_000+4*qty, sim.Cash(), 1e-9)
}
