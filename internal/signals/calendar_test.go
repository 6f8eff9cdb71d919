package signals

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ophirlabs/ophir/internal/marketdata"
)

func day(t *testing.T, s string) time.Time {
	t.Helper()
	d, err := marketdata.ParseDay(s)
	require.NoError(t, err)
	return d
}

// buildContext creates a 10-day context with a configurable regime path and
// fixed betas at window 30 for three symbols.
func buildContext(t *testing.T, scores []int) *marketdata.Context {
	t.Helper()
	var tables marketdata.Tables
	for i, score := range scores {
		date := day(t, "2024-01-01").AddDate(0, 0, i)
		tables.Regime = append(tables.Regime, marketdata.RegimeRow{Date: date, Score: score})
		for sym, bv := range map[string]marketdata.BetaValue{
			"AAA": {Up: 1.5, Down: 0.8}, // high up-beta, low down-beta
			"BBB": {Up: 0.9, Down: 1.6}, // high down-beta, low up-beta
			"CCC": {Up: 1.4, Down: 1.4}, // high both
		} {
			tables.Betas = append(tables.Betas, marketdata.BetaRow{
				Symbol: sym, Date: date, Window: 30, BetaUp: bv.Up, BetaDown: bv.Down,
			})
		}
	}
	return marketdata.NewContext(tables)
}

func baseConfig(t *testing.T) CalendarConfig {
	return CalendarConfig{
		Start:             day(t, "2024-01-01"),
		End:               day(t, "2024-01-10"),
		Window:            30,
		BetaUpThreshold:   1.2,
		BetaDownThreshold: 1.2,
		PersistenceDays:   1,
		Policy:            PolicySimple,
	}
}

func TestCalendarConfigValidate(t *testing.T) {
	cfg := baseConfig(t)
	require.NoError(t, cfg.Validate())

	bad := cfg
	bad.Window = 0
	assert.Error(t, bad.Validate())

	bad = cfg
	bad.PersistenceDays = 0
	assert.Error(t, bad.Validate())

	bad = cfg
	bad.End = cfg.Start.AddDate(0, 0, -1)
	assert.Error(t, bad.Validate())

	bad = cfg
	bad.Policy = "fancy"
	assert.Error(t, bad.Validate())
}

func TestSimplePolicyBullishSelectsHighUpBeta(t *testing.T) {
	ctx := buildContext(t, []int{1, 1, 1, 1, 1, 1, 1, 1, 1, 1})
	b := NewCalendarBuilder(ctx, zerolog.Nop())

	days, err := b.Build(baseConfig(t))
	require.NoError(t, err)
	require.Len(t, days, 10)

	for _, d := range days {
		assert.Equal(t, 1, d.Regime)
		assert.Equal(t, []string{"AAA", "CCC"}, d.Long)
		assert.Empty(t, d.Short, "bullish regime must not produce shorts")
	}
}

func TestSimplePolicyBearishSelectsHighDownBeta(t *testing.T) {
	ctx := buildContext(t, []int{-2, -2, -2, -2, -2, -2, -2, -2, -2, -2})
	b := NewCalendarBuilder(ctx, zerolog.Nop())

	days, err := b.Build(baseConfig(t))
	require.NoError(t, err)

	for _, d := range days {
		assert.Equal(t, -1, d.Regime)
		assert.Equal(t, []string{"BBB", "CCC"}, d.Short)
		assert.Empty(t, d.Long, "bearish regime must not produce longs")
	}
}

func TestNeutralRegimeProducesEmptyDay(t *testing.T) {
	ctx := buildContext(t, []int{1, 0, 1, 1, 1, 1, 1, 1, 1, 1})
	b := NewCalendarBuilder(ctx, zerolog.Nop())

	days, err := b.Build(baseConfig(t))
	require.NoError(t, err)

	assert.Equal(t, 0, days[1].Regime)
	assert.Zero(t, days[1].SignalCount())
	assert.NotZero(t, days[0].SignalCount())
}

func TestDualPolicyRequiresBothConditions(t *testing.T) {
	ctx := buildContext(t, []int{1, 1, 1, 1, 1, 1, 1, 1, 1, 1})
	b := NewCalendarBuilder(ctx, zerolog.Nop())

	cfg := baseConfig(t)
	cfg.Policy = PolicyDual
	days, err := b.Build(cfg)
	require.NoError(t, err)

	// AAA: up 1.5 >= 1.2 and down 0.8 <= 1.2 - qualifies.
	// CCC: up 1.4 >= 1.2 but down 1.4 > 1.2 - rejected.
	for _, d := range days {
		assert.Equal(t, []string{"AAA"}, d.Long)
	}
}

func TestPersistenceFilterDelaysSignals(t *testing.T) {
	// Bullish from day 3 onward; with 3-day persistence the first signal
	// day is day 5 (third consecutive qualifying day).
	ctx := buildContext(t, []int{0, 0, 1, 1, 1, 1, 1, 1, 1, 1})
	b := NewCalendarBuilder(ctx, zerolog.Nop())

	cfg := baseConfig(t)
	cfg.PersistenceDays = 3
	days, err := b.Build(cfg)
	require.NoError(t, err)

	for i, d := range days {
		if i < 4 {
			assert.Zero(t, d.SignalCount(), "day %d should be filtered", i)
		} else {
			assert.Equal(t, []string{"AAA", "CCC"}, d.Long, "day %d", i)
		}
	}
}

func TestPersistenceUsesHistoryBeforeRangeStart(t *testing.T) {
	ctx := buildContext(t, []int{1, 1, 1, 1, 1, 1, 1, 1, 1, 1})
	b := NewCalendarBuilder(ctx, zerolog.Nop())

	// Range starts at day 3; the 3-day persistence window reaches back to
	// days 1-2, which exist and qualify, so day 3 is a signal day.
	cfg := baseConfig(t)
	cfg.Start = day(t, "2024-01-03")
	cfg.PersistenceDays = 3
	days, err := b.Build(cfg)
	require.NoError(t, err)
	require.NotEmpty(t, days)
	assert.Equal(t, []string{"AAA", "CCC"}, days[0].Long)
}

func TestPersistenceOneIsPassthrough(t *testing.T) {
	ctx := buildContext(t, []int{1, -1, 1, 0, 1, 1, -2, 2, 1, 1})
	b := NewCalendarBuilder(ctx, zerolog.Nop())

	cfg := baseConfig(t)
	a, err := b.Build(cfg)
	require.NoError(t, err)

	cfg.PersistenceDays = 1
	c, err := b.Build(cfg)
	require.NoError(t, err)
	assert.Equal(t, a, c)
}

func TestBuildIsDeterministic(t *testing.T) {
	ctx := buildContext(t, []int{1, 1, -1, -1, 0, 1, 1, 1, -2, 2})
	b := NewCalendarBuilder(ctx, zerolog.Nop())
	cfg := baseConfig(t)
	cfg.PersistenceDays = 2

	a, err := b.Build(cfg)
	require.NoError(t, err)
	c, err := b.Build(cfg)
	require.NoError(t, err)
	assert.Equal(t, a, c)
}

func TestEmptyRangeReturnsNil(t *testing.T) {
	ctx := buildContext(t, []int{1, 1, 1})
	b := NewCalendarBuilder(ctx, zerolog.Nop())

	cfg := baseConfig(t)
	cfg.Start = day(t, "2024-02-01")
	cfg.End = day(t, "2024-02-10")
	days, err := b.Build(cfg)
	require.NoError(t, err)
	assert.Nil(t, days)
}

func TestSignalDayMembership(t *testing.T) {
	d := SignalDay{Long: []string{"AAA", "CCC"}, Short: []string{"BBB"}}
	assert.True(t, d.HasLong("AAA"))
	assert.False(t, d.HasLong("BBB"))
	assert.True(t, d.HasShort("BBB"))
	assert.False(t, d.HasShort("AAA"))
	assert.Equal(t, 3, d.SignalCount())
}
