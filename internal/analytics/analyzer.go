// Package analytics turns an equity curve and trade log into performance
// metrics: total return, CAGR, annualized volatility, Sharpe ratio, maximum
// drawdown and hit ratio.
package analytics

import (
	"math"
	"sort"

	"github.com/rs/zerolog"

	"github.com/ophirlabs/ophir/internal/simulator"
	"github.com/ophirlabs/ophir/pkg/formulas"
)

// Metrics is the performance summary of one simulation.
type Metrics struct {
	TotalReturn float64 `json:"total_return"`
	// CAGR uses calendar time: (final/initial)^(365.25/days) - 1.
	CAGR       float64 `json:"cagr"`
	Volatility float64 `json:"volatility"`
	// Sharpe is NaN and SharpeValid false when the return series is too
	// short or has zero variance.
	Sharpe      float64 `json:"sharpe"`
	SharpeValid bool    `json:"sharpe_valid"`
	// MaxDrawdown is the largest peak-to-trough equity decline, as a
	// positive fraction of the peak.
	MaxDrawdown float64 `json:"max_drawdown"`
	// HitRatio is the share of days with a positive daily return.
	HitRatio float64 `json:"hit_ratio"`
	// TradeWinRate is the share of closed trades with positive realized PnL.
	TradeWinRate float64 `json:"trade_win_rate"`
	// StopLossHitRatio is the share of closed trades that exited on a stop.
	StopLossHitRatio float64 `json:"stop_loss_hit_ratio"`
	TradeCount       int     `json:"trade_count"`
}

// YearlyTradeStats summarizes the closed trades of one calendar year.
type YearlyTradeStats struct {
	Year          int     `json:"year"`
	Trades        int     `json:"trades"`
	Wins          int     `json:"wins"`
	HitRatio      float64 `json:"hit_ratio"`
	TotalPnL      float64 `json:"total_pnl"`
	StopLossExits int     `json:"stop_loss_exits"`
}

// Analyzer computes performance metrics. Stateless and safe for concurrent
// use.
type Analyzer struct {
	log zerolog.Logger
}

// New creates an analyzer.
func New(logger zerolog.Logger) *Analyzer {
	return &Analyzer{log: logger.With().Str("component", "analytics").Logger()}
}

// Analyze computes the metrics of one equity curve and trade log. An empty
// curve yields zero metrics with an invalid Sharpe.
func (a *Analyzer) Analyze(history []simulator.EquitySnapshot, trades []simulator.Trade) Metrics {
	m := Metrics{Sharpe: math.NaN(), TradeCount: len(trades)}
	if len(history) == 0 {
		return m
	}

	initial := history[0].Equity
	final := history[len(history)-1].Equity
	if initial > 0 {
		m.TotalReturn = final/initial - 1
	}

	days := history[len(history)-1].Date.Sub(history[0].Date).Hours() / 24
	if days > 0 && initial > 0 && final > 0 {
		m.CAGR = math.Pow(final/initial, 365.25/days) - 1
	}

	returns := formulas.CalculateReturns(equities(history))
	m.Volatility = formulas.AnnualizedVolatility(returns)
	m.Sharpe, m.SharpeValid = formulas.SharpeRatio(returns)
	m.MaxDrawdown = maxDrawdown(history)

	// Day-based: up days over all snapshot days. The first day's zero
	// return counts in the denominator only.
	up := 0
	for _, r := range returns {
		if r > 0 {
			up++
		}
	}
	m.HitRatio = float64(up) / float64(len(history))

	wins, stops := 0, 0
	for _, tr := range trades {
		if tr.RealizedPnL > 0 {
			wins++
		}
		if tr.StopLossTriggered {
			stops++
		}
	}
	if len(trades) > 0 {
		m.TradeWinRate = float64(wins) / float64(len(trades))
		m.StopLossHitRatio = float64(stops) / float64(len(trades))
	}
	return m
}

// YearlyReturns computes per-calendar-year equity returns. Each year's
// return is its last equity relative to the previous year's last equity; the
// first year is measured from the curve's starting equity.
func (a *Analyzer) YearlyReturns(history []simulator.EquitySnapshot) map[int]float64 {
	if len(history) == 0 {
		return nil
	}
	lastByYear := make(map[int]float64)
	var years []int
	for _, snap := range history {
		y := snap.Date.Year()
		if _, seen := lastByYear[y]; !seen {
			years = append(years, y)
		}
		lastByYear[y] = snap.Equity
	}
	sort.Ints(years)

	out := make(map[int]float64, len(years))
	prev := history[0].Equity
	for _, y := range years {
		if prev > 0 {
			out[y] = lastByYear[y]/prev - 1
		}
		prev = lastByYear[y]
	}
	return out
}

// YearlyTrades groups the trade log by exit year, in ascending year order.
func (a *Analyzer) YearlyTrades(trades []simulator.Trade) []YearlyTradeStats {
	byYear := make(map[int]*YearlyTradeStats)
	for _, tr := range trades {
		y := tr.ExitDate.Year()
		st, ok := byYear[y]
		if !ok {
			st = &YearlyTradeStats{Year: y}
			byYear[y] = st
		}
		st.Trades++
		st.TotalPnL += tr.RealizedPnL
		if tr.RealizedPnL > 0 {
			st.Wins++
		}
		if tr.StopLossTriggered {
			st.StopLossExits++
		}
	}

	out := make([]YearlyTradeStats, 0, len(byYear))
	for _, st := range byYear {
		if st.Trades > 0 {
			st.HitRatio = float64(st.Wins) / float64(st.Trades)
		}
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Year < out[j].Year })
	return out
}

func equities(history []simulator.EquitySnapshot) []float64 {
	out := make([]float64, len(history))
	for i, snap := range history {
		out[i] = snap.Equity
	}
	return out
}

func maxDrawdown(history []simulator.EquitySnapshot) float64 {
	peak := math.Inf(-1)
	worst := 0.0
	for _, snap := range history {
		if snap.Equity > peak {
			peak = snap.Equity
		}
		if peak > 0 {
			dd := (peak - snap.Equity) / peak
			if dd > worst {
				worst = dd
			}
		}
	}
	return worst
}
