package simulator

const (
	// DefaultHardStopPct is the static stop distance from entry.
	DefaultHardStopPct = 0.03
	// DefaultTrailingFactor is the share of the favorable move the trailing
	// stop locks in once price has improved past entry.
	DefaultTrailingFactor = 0.8
)

// ExitPolicy hooks the simulator's position lifecycle. OnOpen initializes
// stop state on a freshly opened position; Check inspects today's price and
// reports whether the position must be closed and whether a stop level was
// the cause.
type ExitPolicy interface {
	OnOpen(p *Position)
	Check(p *Position, price float64) (exit bool, stopHit bool)
}

// RegimeExitPolicy closes positions only on signal or regime changes, never
// on price. It is the baseline policy.
type RegimeExitPolicy struct{}

func (RegimeExitPolicy) OnOpen(p *Position) {
	p.PeakPrice = p.EntryPrice
}

func (RegimeExitPolicy) Check(*Position, float64) (bool, bool) {
	return false, false
}

// StopLossExitPolicy layers a hard stop at entry and a trailing stop that
// activates once price moves past entry in the position's favor. The
// trailing level locks in TrailingFactor of the peak favorable move and the
// effective stop is the tighter of the two; it never loosens.
type StopLossExitPolicy struct {
	HardStopPct    float64
	TrailingFactor float64
}

// NewStopLossExitPolicy returns the policy with defaults filled in for
// non-positive fields.
func NewStopLossExitPolicy(hardStopPct, trailingFactor float64) *StopLossExitPolicy {
	if hardStopPct <= 0 {
		hardStopPct = DefaultHardStopPct
	}
	if trailingFactor <= 0 {
		trailingFactor = DefaultTrailingFactor
	}
	return &StopLossExitPolicy{HardStopPct: hardStopPct, TrailingFactor: trailingFactor}
}

func (sl *StopLossExitPolicy) OnOpen(p *Position) {
	p.PeakPrice = p.EntryPrice
	if p.Side == Long {
		p.StopLoss = p.EntryPrice * (1 - sl.HardStopPct)
	} else {
		p.StopLoss = p.EntryPrice * (1 + sl.HardStopPct)
	}
}

func (sl *StopLossExitPolicy) Check(p *Position, price float64) (bool, bool) {
	if p.Side == Long {
		if price > p.PeakPrice {
			p.PeakPrice = price
		}
		if p.PeakPrice > p.EntryPrice {
			trail := p.EntryPrice + sl.TrailingFactor*(p.PeakPrice-p.EntryPrice)
			if trail > p.StopLoss {
				p.StopLoss = trail
			}
		}
		if price <= p.StopLoss {
			return true, true
		}
		return false, false
	}

	if price < p.PeakPrice {
		p.PeakPrice = price
	}
	if p.PeakPrice < p.EntryPrice {
		trail := p.EntryPrice - sl.TrailingFactor*(p.EntryPrice-p.PeakPrice)
		if trail < p.StopLoss {
			p.StopLoss = trail
		}
	}
	if price >= p.StopLoss {
		return true, true
	}
	return false, false
}
