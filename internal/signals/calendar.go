// Package signals builds the daily signal calendar: for every trading day in
// a range, the sets of symbols eligible for long and short entries given the
// market regime, the rolling beta thresholds and the persistence filter.
package signals

import (
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/ophirlabs/ophir/internal/marketdata"
)

// Policy selects how a symbol qualifies for a side on a given day.
type Policy string

const (
	// PolicySimple - regime direction match plus the symbol's own-direction
	// beta threshold.
	PolicySimple Policy = "simple"
	// PolicyDual - regime direction match plus the two-sided beta condition:
	// long needs beta_up >= up-threshold AND beta_down <= down-threshold,
	// short needs beta_down >= up-threshold AND beta_up <= down-threshold.
	PolicyDual Policy = "dual"
)

// SignalDay holds one day of the signal calendar. Long and Short are sorted
// symbol lists; Regime is the day's direction (+1 bullish, -1 bearish, 0
// neutral or missing).
type SignalDay struct {
	Date   time.Time
	Regime int
	Long   []string
	Short  []string
}

// HasLong reports whether sym is in the day's long set.
func (d SignalDay) HasLong(sym string) bool {
	i := sort.SearchStrings(d.Long, sym)
	return i < len(d.Long) && d.Long[i] == sym
}

// HasShort reports whether sym is in the day's short set.
func (d SignalDay) HasShort(sym string) bool {
	i := sort.SearchStrings(d.Short, sym)
	return i < len(d.Short) && d.Short[i] == sym
}

// SignalCount returns the number of long plus short slots on the day.
func (d SignalDay) SignalCount() int {
	return len(d.Long) + len(d.Short)
}

// CalendarConfig parameterizes one signal calendar build.
type CalendarConfig struct {
	Start             time.Time
	End               time.Time
	Window            int
	BetaUpThreshold   float64
	BetaDownThreshold float64
	PersistenceDays   int
	Policy            Policy
}

// Validate checks the configuration before any work starts.
func (c CalendarConfig) Validate() error {
	if c.Window <= 0 {
		return fmt.Errorf("beta window must be positive, got %d", c.Window)
	}
	if c.PersistenceDays < 1 {
		return fmt.Errorf("persistence days must be >= 1, got %d", c.PersistenceDays)
	}
	if c.End.Before(c.Start) {
		return fmt.Errorf("calendar end %s before start %s",
			c.End.Format(marketdata.DateFormat), c.Start.Format(marketdata.DateFormat))
	}
	switch c.Policy {
	case PolicySimple, PolicyDual:
	default:
		return fmt.Errorf("unknown qualification policy %q", c.Policy)
	}
	return nil
}

// CalendarBuilder derives signal calendars from a shared market data context.
// Build is a pure function of its inputs: identical configuration and context
// always produce the identical calendar.
type CalendarBuilder struct {
	ctx *marketdata.Context
	log zerolog.Logger
}

// NewCalendarBuilder creates a calendar builder.
func NewCalendarBuilder(ctx *marketdata.Context, log zerolog.Logger) *CalendarBuilder {
	return &CalendarBuilder{
		ctx: ctx,
		log: log.With().Str("component", "signal_calendar").Logger(),
	}
}

// sideSet is a raw candidate set for one side of one day.
type sideSet map[string]struct{}

// Build produces the ordered signal calendar for the configured range.
func (b *CalendarBuilder) Build(cfg CalendarConfig) ([]SignalDay, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	calendar := b.ctx.Calendar()
	lo := sort.Search(len(calendar), func(i int) bool { return !calendar[i].Before(marketdata.Day(cfg.Start)) })
	hi := sort.Search(len(calendar), func(i int) bool { return calendar[i].After(marketdata.Day(cfg.End)) })
	if lo >= hi {
		return nil, nil
	}

	// Raw candidate sets extend persistence_days-1 trading days before the
	// range so the filter has history on the first days. When the calendar
	// itself starts later, the missing history breaks the chain and those
	// days come out empty.
	rawLo := lo - (cfg.PersistenceDays - 1)
	if rawLo < 0 {
		rawLo = 0
	}

	type rawDay struct {
		regime int
		long   sideSet
		short  sideSet
	}
	raw := make([]rawDay, hi-rawLo)
	for i := rawLo; i < hi; i++ {
		regime, long, short := b.rawCandidates(calendar[i], cfg)
		raw[i-rawLo] = rawDay{regime: regime, long: long, short: short}
	}

	days := make([]SignalDay, 0, hi-lo)
	for i := lo; i < hi; i++ {
		ri := i - rawLo
		long := raw[ri].long
		short := raw[ri].short
		for j := 1; j < cfg.PersistenceDays; j++ {
			if ri-j < 0 || i-j < rawLo {
				long, short = nil, nil
				break
			}
			long = intersect(long, raw[ri-j].long)
			short = intersect(short, raw[ri-j].short)
		}
		days = append(days, SignalDay{
			Date:   calendar[i],
			Regime: raw[ri].regime,
			Long:   sorted(long),
			Short:  sorted(short),
		})
	}

	b.log.Debug().
		Int("days", len(days)).
		Int("window", cfg.Window).
		Int("persistence", cfg.PersistenceDays).
		Str("policy", string(cfg.Policy)).
		Msg("Signal calendar built")

	return days, nil
}

// rawCandidates computes the day's pre-persistence candidate sets. A missing
// regime score yields a neutral day with empty sets; a symbol missing beta
// data that day is dropped from candidacy.
func (b *CalendarBuilder) rawCandidates(date time.Time, cfg CalendarConfig) (int, sideSet, sideSet) {
	score, ok := b.ctx.Regime(date)
	if !ok {
		return 0, nil, nil
	}

	direction := 0
	switch {
	case score >= 1:
		direction = 1
	case score <= -1:
		direction = -1
	}
	if direction == 0 {
		return 0, nil, nil
	}

	var long, short sideSet
	for _, sym := range b.ctx.BetaSymbols(cfg.Window) {
		bv, ok := b.ctx.Beta(sym, date, cfg.Window)
		if !ok {
			continue
		}

		switch cfg.Policy {
		case PolicySimple:
			if direction == 1 && bv.Up >= cfg.BetaUpThreshold {
				long = add(long, sym)
			}
			if direction == -1 && bv.Down >= cfg.BetaDownThreshold {
				short = add(short, sym)
			}
		case PolicyDual:
			if direction == 1 && bv.Up >= cfg.BetaUpThreshold && bv.Down <= cfg.BetaDownThreshold {
				long = add(long, sym)
			}
			if direction == -1 && bv.Down >= cfg.BetaUpThreshold && bv.Up <= cfg.BetaDownThreshold {
				short = add(short, sym)
			}
		}
	}

	return direction, long, short
}

func add(s sideSet, sym string) sideSet {
	if s == nil {
		s = make(sideSet)
	}
	s[sym] = struct{}{}
	return s
}

func intersect(a, b sideSet) sideSet {
	if len(a) == 0 || len(b) == 0 {
		return nil
	}
	out := make(sideSet)
	for sym := range a {
		if _, ok := b[sym]; ok {
			out[sym] = struct{}{}
		}
	}
	return out
}

func sorted(s sideSet) []string {
	if len(s) == 0 {
		return nil
	}
	out := make([]string, 0, len(s))
	for sym := range s {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}
