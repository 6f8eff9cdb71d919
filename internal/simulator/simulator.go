package simulator

import (
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/ophirlabs/ophir/internal/marketdata"
	"github.com/ophirlabs/ophir/internal/signals"
)

// Config holds the sizing parameters of a simulation run.
type Config struct {
	// InitialCash is the starting cash balance.
	InitialCash float64
	// MaxPositions caps the number of simultaneously open positions.
	MaxPositions int
	// Notional is the target position size; quantity = Notional / entry price.
	Notional float64
}

// Validate checks the config for usable values.
func (c Config) Validate() error {
	if c.InitialCash <= 0 {
		return fmt.Errorf("initial cash must be positive, got %f", c.InitialCash)
	}
	if c.MaxPositions <= 0 {
		return fmt.Errorf("max positions must be positive, got %d", c.MaxPositions)
	}
	if c.Notional <= 0 {
		return fmt.Errorf("notional must be positive, got %f", c.Notional)
	}
	return nil
}

// Simulator replays a signal calendar against market data and tracks cash,
// open positions, closed trades and the daily equity curve. Not safe for
// concurrent use; each worker owns its own instance.
type Simulator struct {
	cfg  Config
	ctx  *marketdata.Context
	exit ExitPolicy
	log  zerolog.Logger

	cash      float64
	positions map[string]*Position
	trades    []Trade
	history   []EquitySnapshot
}

// New creates a simulator. A nil exit policy falls back to RegimeExitPolicy.
func New(cfg Config, ctx *marketdata.Context, exit ExitPolicy, logger zerolog.Logger) (*Simulator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid simulator config: %w", err)
	}
	if exit == nil {
		exit = RegimeExitPolicy{}
	}
	return &Simulator{
		cfg:  cfg,
		ctx:  ctx,
		exit: exit,
		log:  logger.With().Str("component", "simulator").Logger(),
	}, nil
}

// Run replays the calendar day by day. Each day evaluates closes first
// (signal and regime exits before stop exits), then opens (longs before
// shorts), then records an equity snapshot. Run resets any prior state, so
// the same instance can replay multiple calendars sequentially.
func (s *Simulator) Run(calendar []signals.SignalDay) {
	s.cash = s.cfg.InitialCash
	s.positions = make(map[string]*Position)
	s.trades = s.trades[:0]
	s.history = s.history[:0]

	for _, day := range calendar {
		s.evaluateCloses(day)
		s.evaluateOpens(day)
		s.snapshot(day.Date)
	}
}

// Liquidate closes every remaining position at the final date's price, or
// at the last known mark when the final price is missing. Exits recorded by
// Liquidate are never stop hits.
func (s *Simulator) Liquidate(date time.Time) {
	for _, sym := range s.heldSymbols() {
		pos := s.positions[sym]
		fill := pos.markPrice
		if px, ok := s.ctx.Price(date, sym); ok {
			fill = px
		}
		s.close(pos, date, fill, false)
	}
}

// Trades returns the closed trades in close order.
func (s *Simulator) Trades() []Trade { return s.trades }

// History returns the daily equity curve.
func (s *Simulator) History() []EquitySnapshot { return s.history }

// Cash returns the current cash balance.
func (s *Simulator) Cash() float64 { return s.cash }

// OpenPositions returns the number of currently open positions.
func (s *Simulator) OpenPositions() int { return len(s.positions) }

func (s *Simulator) evaluateCloses(day signals.SignalDay) {
	for _, sym := range s.heldSymbols() {
		pos := s.positions[sym]
		px, ok := s.ctx.Price(day.Date, sym)
		if !ok {
			// No price today; position stays open at its last mark.
			continue
		}
		pos.markPrice = px

		signalGone := (pos.Side == Long && !day.HasLong(sym)) ||
			(pos.Side == Short && !day.HasShort(sym))
		regimeOpposed := (pos.Side == Long && day.Regime < 0) ||
			(pos.Side == Short && day.Regime > 0)
		if signalGone || regimeOpposed {
			s.close(pos, day.Date, px, false)
			continue
		}

		if exit, stopHit := s.exit.Check(pos, px); exit {
			fill := px
			if stopHit {
				fill = pos.StopLoss
			}
			s.close(pos, day.Date, fill, stopHit)
		}
	}
}

func (s *Simulator) evaluateOpens(day signals.SignalDay) {
	slots := s.cfg.MaxPositions - len(s.positions)
	if slots <= 0 {
		return
	}
	for _, sym := range day.Long {
		if slots == 0 {
			return
		}
		if s.open(sym, Long, day.Date) {
			slots--
		}
	}
	for _, sym := range day.Short {
		if slots == 0 {
			return
		}
		if s.open(sym, Short, day.Date) {
			slots--
		}
	}
}

func (s *Simulator) open(symbol string, side Side, date time.Time) bool {
	if _, held := s.positions[symbol]; held {
		return false
	}
	px, ok := s.ctx.Price(date, symbol)
	if !ok || px <= 0 {
		return false
	}
	qty := s.cfg.Notional / px
	pos := &Position{
		Symbol:     symbol,
		Side:       side,
		EntryPrice: px,
		EntryDate:  date,
		Quantity:   qty,
		markPrice:  px,
	}
	s.exit.OnOpen(pos)
	s.positions[symbol] = pos
	if len(s.positions) > s.cfg.MaxPositions {
		panic(fmt.Sprintf("simulator: position count %d exceeds max %d", len(s.positions), s.cfg.MaxPositions))
	}
	s.cash -= qty * px
	s.log.Debug().
		Str("symbol", symbol).
		Str("side", side.String()).
		Float64("price", px).
		Time("date", date).
		Msg("Opened position")
	return true
}

func (s *Simulator) close(pos *Position, date time.Time, fill float64, stopHit bool) {
	if _, held := s.positions[pos.Symbol]; !held {
		panic(fmt.Sprintf("simulator: closing %s which is not held", pos.Symbol))
	}
	var pnl, proceeds float64
	if pos.Side == Long {
		pnl = (fill - pos.EntryPrice) * pos.Quantity
		proceeds = pos.Quantity * fill
	} else {
		pnl = (pos.EntryPrice - fill) * pos.Quantity
		proceeds = pos.Quantity * (2*pos.EntryPrice - fill)
	}
	s.cash += proceeds
	delete(s.positions, pos.Symbol)
	s.trades = append(s.trades, Trade{
		Symbol:            pos.Symbol,
		Side:              pos.Side,
		EntryDate:         pos.EntryDate,
		EntryPrice:        pos.EntryPrice,
		Quantity:          pos.Quantity,
		ExitDate:          date,
		ExitPrice:         fill,
		RealizedPnL:       pnl,
		StopLossTriggered: stopHit,
	})
	s.log.Debug().
		Str("symbol", pos.Symbol).
		Str("side", pos.Side.String()).
		Float64("pnl", pnl).
		Bool("stop_hit", stopHit).
		Time("date", date).
		Msg("Closed position")
}

func (s *Simulator) snapshot(date time.Time) {
	equity := s.cash
	for _, pos := range s.positions {
		if pos.Side == Long {
			equity += pos.markPrice * pos.Quantity
		} else {
			equity += (2*pos.EntryPrice - pos.markPrice) * pos.Quantity
		}
	}
	ret := 0.0
	if n := len(s.history); n > 0 && s.history[n-1].Equity != 0 {
		ret = equity/s.history[n-1].Equity - 1
	}
	s.history = append(s.history, EquitySnapshot{
		Date:          date,
		Cash:          s.cash,
		Equity:        equity,
		OpenPositions: len(s.positions),
		DailyReturn:   ret,
	})
}

// heldSymbols returns the open symbols in sorted order so daily evaluation
// is deterministic regardless of map iteration.
func (s *Simulator) heldSymbols() []string {
	syms := make([]string, 0, len(s.positions))
	for sym := range s.positions {
		syms = append(syms, sym)
	}
	sort.Strings(syms)
	return syms
}
