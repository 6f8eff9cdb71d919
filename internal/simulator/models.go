// Package simulator runs the daily portfolio state machine over a signal
// calendar: regime-driven entries and exits, optional hard and trailing
// stops, and exact cash/equity bookkeeping.
package simulator

import (
	"encoding/json"
	"fmt"
	"time"
)

// Side is the direction of a position.
type Side int

const (
	// Long - profits when price rises.
	Long Side = iota
	// Short - profits when price falls.
	Short
)

// String returns the side's wire/CSV representation.
func (s Side) String() string {
	if s == Short {
		return "short"
	}
	return "long"
}

// MarshalJSON encodes the side as its string form.
func (s Side) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON decodes "long" or "short".
func (s *Side) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch raw {
	case "long":
		*s = Long
	case "short":
		*s = Short
	default:
		return fmt.Errorf("unknown side %q", raw)
	}
	return nil
}

// Position is one open holding. Owned exclusively by the simulator's active
// position map; at most one Position exists per symbol at any time.
type Position struct {
	Symbol     string
	Side       Side
	EntryPrice float64
	EntryDate  time.Time
	Quantity   float64

	// StopLoss is the effective stop level: the tighter of the static hard
	// stop set at entry and the trailing stop. It only ever moves in the
	// position's favor.
	StopLoss float64
	// PeakPrice is the best price seen since entry (max for Long, min for
	// Short).
	PeakPrice float64

	// markPrice is the last price used to value the position. Carried
	// forward across days with missing prices so equity stays reconcilable.
	markPrice float64
}

// Trade is the immutable record of a closed position.
type Trade struct {
	Symbol            string    `json:"symbol"`
	Side              Side      `json:"side"`
	EntryDate         time.Time `json:"entry_date"`
	EntryPrice        float64   `json:"entry_price"`
	Quantity          float64   `json:"quantity"`
	ExitDate          time.Time `json:"exit_date"`
	ExitPrice         float64   `json:"exit_price"`
	RealizedPnL       float64   `json:"realized_pnl"`
	StopLossTriggered bool      `json:"stop_loss_triggered"`
}

// EquitySnapshot is one day of the equity curve.
type EquitySnapshot struct {
	Date          time.Time `json:"date"`
	Cash          float64   `json:"cash"`
	Equity        float64   `json:"equity"`
	OpenPositions int       `json:"open_positions"`
	DailyReturn   float64   `json:"daily_return"`
}
