// Package report exports run artifacts: CSV files for equity curves, trade
// logs, leaderboards and yearly stats, a JSON run summary, and an optional
// S3 upload of the artifact directory.
package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/ophirlabs/ophir/internal/marketdata"
	"github.com/ophirlabs/ophir/internal/optimizer"
	"github.com/ophirlabs/ophir/internal/simulator"
)

// Writer exports artifacts under <base>/artifacts/<run-id>/.
type Writer struct {
	baseDir string
	log     zerolog.Logger
}

// NewWriter creates a writer rooted at dataDir.
func NewWriter(dataDir string, logger zerolog.Logger) *Writer {
	return &Writer{
		baseDir: filepath.Join(dataDir, "artifacts"),
		log:     logger.With().Str("component", "report").Logger(),
	}
}

// Dir returns (and creates) the artifact directory for a run.
func (w *Writer) Dir(runID string) (string, error) {
	dir := filepath.Join(w.baseDir, runID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create artifact dir: %w", err)
	}
	return dir, nil
}

// WriteEquityCurve exports the daily equity history.
func (w *Writer) WriteEquityCurve(runID string, history []simulator.EquitySnapshot) (string, error) {
	rows := make([][]string, 0, len(history)+1)
	rows = append(rows, []string{"date", "cash", "equity", "open_positions", "daily_return"})
	for _, snap := range history {
		rows = append(rows, []string{
			snap.Date.Format(marketdata.DateFormat),
			formatFloat(snap.Cash),
			formatFloat(snap.Equity),
			strconv.Itoa(snap.OpenPositions),
			formatFloat(snap.DailyReturn),
		})
	}
	return w.writeCSV(runID, "equity_curve.csv", rows)
}

// WriteTrades exports the closed trade log.
func (w *Writer) WriteTrades(runID string, trades []simulator.Trade) (string, error) {
	rows := make([][]string, 0, len(trades)+1)
	rows = append(rows, []string{
		"symbol", "side", "entry_date", "entry_price", "quantity",
		"exit_date", "exit_price", "realized_pnl", "stop_loss_triggered",
	})
	for _, tr := range trades {
		rows = append(rows, []string{
			tr.Symbol,
			tr.Side.String(),
			tr.EntryDate.Format(marketdata.DateFormat),
			formatFloat(tr.EntryPrice),
			formatFloat(tr.Quantity),
			tr.ExitDate.Format(marketdata.DateFormat),
			formatFloat(tr.ExitPrice),
			formatFloat(tr.RealizedPnL),
			strconv.FormatBool(tr.StopLossTriggered),
		})
	}
	return w.writeCSV(runID, "trades.csv", rows)
}

// WriteLeaderboard exports ranked results, best first.
func (w *Writer) WriteLeaderboard(runID string, results []optimizer.Result) (string, error) {
	rows := make([][]string, 0, len(results)+1)
	rows = append(rows, []string{
		"rank", "window", "beta_up_threshold", "beta_down_threshold", "persistence_days",
		"phase", "status", "sharpe", "cagr", "max_drawdown", "stop_loss_hit_ratio",
		"hit_ratio", "trades", "signal_days", "cause",
	})
	for i, r := range results {
		rows = append(rows, []string{
			strconv.Itoa(i + 1),
			strconv.Itoa(r.Params.Window),
			formatFloat(r.Params.BetaUpThreshold),
			formatFloat(r.Params.BetaDownThreshold),
			strconv.Itoa(r.Params.PersistenceDays),
			string(r.Phase),
			string(r.Status),
			formatFloat(r.Metrics.Sharpe),
			formatFloat(r.Metrics.CAGR),
			formatFloat(r.Metrics.MaxDrawdown),
			formatFloat(r.Metrics.StopLossHitRatio),
			formatFloat(r.Metrics.HitRatio),
			strconv.Itoa(r.Metrics.TradeCount),
			strconv.Itoa(r.SignalDays),
			r.Cause,
		})
	}
	return w.writeCSV(runID, "leaderboard.csv", rows)
}

// WriteYearlyStats exports the full-span per-year trade breakdowns.
func (w *Writer) WriteYearlyStats(runID string, reports []optimizer.YearlyReport) (string, error) {
	rows := make([][]string, 0, len(reports)*4+1)
	rows = append(rows, []string{
		"window", "beta_up_threshold", "beta_down_threshold", "persistence_days",
		"year", "trades", "wins", "hit_ratio", "total_pnl", "stop_loss_exits",
	})
	for _, rep := range reports {
		for _, y := range rep.Years {
			rows = append(rows, []string{
				strconv.Itoa(rep.Params.Window),
				formatFloat(rep.Params.BetaUpThreshold),
				formatFloat(rep.Params.BetaDownThreshold),
				strconv.Itoa(rep.Params.PersistenceDays),
				strconv.Itoa(y.Year),
				strconv.Itoa(y.Trades),
				strconv.Itoa(y.Wins),
				formatFloat(y.HitRatio),
				formatFloat(y.TotalPnL),
				strconv.Itoa(y.StopLossExits),
			})
		}
	}
	return w.writeCSV(runID, "yearly_stats.csv", rows)
}

// WriteRunReport exports the full run report as JSON.
func (w *Writer) WriteRunReport(run *optimizer.RunReport) (string, error) {
	dir, err := w.Dir(run.RunID)
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, "run.json")
	data, err := json.MarshalIndent(run, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal run report: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write run report: %w", err)
	}
	w.log.Info().Str("path", path).Msg("Run report written")
	return path, nil
}

func (w *Writer) writeCSV(runID, name string, rows [][]string) (string, error) {
	dir, err := w.Dir(runID)
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create %s: %w", name, err)
	}
	defer f.Close()

	cw := csv.NewWriter(f)
	if err := cw.WriteAll(rows); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", name, err)
	}
	w.log.Debug().Str("path", path).Int("rows", len(rows)-1).Msg("Artifact written")
	return path, nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
