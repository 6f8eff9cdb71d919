package main

import (
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/ophirlabs/ophir/internal/analytics"
	"github.com/ophirlabs/ophir/internal/signals"
	"github.com/ophirlabs/ophir/internal/simulator"
)

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Backtest the pinned parameter set and export its artifacts",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(flagSpec, flagReload)
			if err != nil {
				return err
			}
			return a.runSingle()
		},
	}
}

// runSingle replays the pinned parameter set over the full span (falling
// back to the train span), liquidates, and exports equity and trade
// artifacts.
func (a *app) runSingle() error {
	span := a.spec.Train
	if a.spec.Full != nil {
		span = *a.spec.Full
	}
	calCfg, err := a.spec.CalendarConfig(span)
	if err != nil {
		return err
	}

	calendar, err := signals.NewCalendarBuilder(a.mctx, a.log).Build(calCfg)
	if err != nil {
		return fmt.Errorf("failed to build signal calendar: %w", err)
	}
	if len(calendar) == 0 {
		return fmt.Errorf("no trading days in span %s..%s", span.Start, span.End)
	}

	sim, err := simulator.New(a.spec.SimConfig(), a.mctx, a.spec.ExitPolicy(), a.log)
	if err != nil {
		return err
	}
	sim.Run(calendar)
	sim.Liquidate(calendar[len(calendar)-1].Date)

	analyzer := analytics.New(a.log)
	metrics := analyzer.Analyze(sim.History(), sim.Trades())

	runID := uuid.NewString()
	if _, err := a.writer.WriteEquityCurve(runID, sim.History()); err != nil {
		return err
	}
	if _, err := a.writer.WriteTrades(runID, sim.Trades()); err != nil {
		return err
	}

	a.log.Info().
		Str("run_id", runID).
		Float64("total_return", metrics.TotalReturn).
		Float64("cagr", metrics.CAGR).
		Float64("sharpe", metrics.Sharpe).
		Bool("sharpe_valid", metrics.SharpeValid).
		Float64("max_drawdown", metrics.MaxDrawdown).
		Float64("hit_ratio", metrics.HitRatio).
		Int("trades", metrics.TradeCount).
		Interface("gaps", a.mctx.Gaps()).
		Msg("Backtest complete")

	printYearly(analyzer.YearlyReturns(sim.History()))
	return nil
}

func printYearly(returns map[int]float64) {
	years := make([]int, 0, len(returns))
	for y := range returns {
		years = append(years, y)
	}
	sort.Ints(years)
	for _, y := range years {
		fmt.Printf("%d  %+.2f%%\n", y, returns[y]*100)
	}
}
