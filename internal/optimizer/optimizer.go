package optimizer

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"

	"github.com/ophirlabs/ophir/internal/analytics"
	"github.com/ophirlabs/ophir/internal/marketdata"
	"github.com/ophirlabs/ophir/internal/signals"
	"github.com/ophirlabs/ophir/internal/simulator"
)

// Phase identifies which span a result was evaluated on.
type Phase string

const (
	PhaseTrain      Phase = "train"
	PhaseValidation Phase = "validation"
	PhaseReport     Phase = "report"
)

// Status classifies a result: ranked results compete on Sharpe, excluded
// results carry the cause and never rank.
type Status string

const (
	StatusRanked   Status = "ranked"
	StatusExcluded Status = "excluded"
)

// Span is a closed date range.
type Span struct {
	Start time.Time
	End   time.Time
}

// Validate checks the span's ordering.
func (s Span) Validate() error {
	if s.End.Before(s.Start) {
		return fmt.Errorf("span end %s before start %s",
			s.End.Format(marketdata.DateFormat), s.Start.Format(marketdata.DateFormat))
	}
	return nil
}

// Config parameterizes one optimization run.
type Config struct {
	TrainSpan      Span
	ValidationSpan Span
	// FullSpan enables the final report phase when non-nil: the best
	// parameter sets are replayed over it with end-of-span liquidation.
	FullSpan *Span

	Grid Grid
	// TopN parameter sets advance from train to validation.
	TopN int
	// ReportTopN parameter sets get the full-span report (default 3).
	ReportTopN int
	// MinSignalDays is the activity floor: parameter sets whose train-span
	// calendars carry fewer total signal slots are excluded before any
	// simulation runs.
	MinSignalDays int
	// Workers sizes the pool; 0 means one worker per logical CPU.
	Workers int

	Policy signals.Policy
	Sim    simulator.Config

	// Stop rule knobs. RegimeExitOnly disables price stops entirely; the
	// percentages fall back to the simulator defaults when zero.
	RegimeExitOnly bool
	HardStopPct    float64
	TrailingFactor float64
}

// Validate checks the run configuration.
func (c Config) Validate() error {
	if err := c.TrainSpan.Validate(); err != nil {
		return fmt.Errorf("train span: %w", err)
	}
	if err := c.ValidationSpan.Validate(); err != nil {
		return fmt.Errorf("validation span: %w", err)
	}
	if c.ValidationSpan.Start.Before(c.TrainSpan.End) {
		return fmt.Errorf("validation span must start at or after train span end")
	}
	if c.FullSpan != nil {
		if err := c.FullSpan.Validate(); err != nil {
			return fmt.Errorf("full span: %w", err)
		}
	}
	if len(c.Grid.Expand()) == 0 {
		return fmt.Errorf("parameter grid is empty")
	}
	if c.TopN <= 0 {
		return fmt.Errorf("top N must be positive, got %d", c.TopN)
	}
	if c.MinSignalDays < 0 {
		return fmt.Errorf("activity floor must be non-negative, got %d", c.MinSignalDays)
	}
	if err := c.Sim.Validate(); err != nil {
		return fmt.Errorf("simulator config: %w", err)
	}
	return nil
}

// Result is the outcome of evaluating one parameter set over one span.
type Result struct {
	Params ParamSet `json:"params"`
	Phase  Phase    `json:"phase"`
	Status Status   `json:"status"`
	// Cause explains an exclusion; empty for ranked results.
	Cause string `json:"cause,omitempty"`
	// SignalDays is the total long+short signal slots in the calendar.
	SignalDays int               `json:"signal_days"`
	Metrics    analytics.Metrics `json:"metrics"`
}

// YearlyReport is the full-span breakdown of one finalist parameter set.
type YearlyReport struct {
	Params  ParamSet                     `json:"params"`
	Metrics analytics.Metrics            `json:"metrics"`
	Years   []analytics.YearlyTradeStats `json:"years"`
}

// RunReport is the complete outcome of one optimization run.
type RunReport struct {
	RunID      string    `json:"run_id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Workers    int       `json:"workers"`
	GridSize   int       `json:"grid_size"`

	Train         []Result `json:"train"`
	TrainExcluded []Result `json:"train_excluded"`
	Validation    []Result `json:"validation"`
	// Leaderboard is the validation ranking; the first entry is the winner.
	Leaderboard []Result       `json:"leaderboard"`
	Reports     []YearlyReport `json:"reports,omitempty"`

	// Winner artifacts: the top leaderboard entry replayed with end-of-span
	// liquidation, over the full span when configured and the validation
	// span otherwise. Exported as CSV, not part of the JSON report.
	WinnerHistory []simulator.EquitySnapshot `json:"-"`
	WinnerTrades  []simulator.Trade          `json:"-"`

	Gaps               marketdata.GapCounts `json:"gaps"`
	TrainDuration      time.Duration        `json:"train_duration"`
	ValidationDuration time.Duration        `json:"validation_duration"`
}

// ProgressFunc receives phase completion events during a run. May be nil.
type ProgressFunc func(phase Phase, done, total int)

// Optimizer owns the grid search over a shared market data context.
type Optimizer struct {
	ctx      *marketdata.Context
	analyzer *analytics.Analyzer
	log      zerolog.Logger
	progress ProgressFunc
	mu       sync.Mutex
	done     int
}

// New creates an optimizer.
func New(mctx *marketdata.Context, analyzer *analytics.Analyzer, logger zerolog.Logger) *Optimizer {
	return &Optimizer{
		ctx:      mctx,
		analyzer: analyzer,
		log:      logger.With().Str("component", "optimizer").Logger(),
	}
}

// OnProgress registers a progress callback. Must be set before Run.
func (o *Optimizer) OnProgress(fn ProgressFunc) { o.progress = fn }

// Run executes the two-phase grid search. Phase one evaluates the whole grid
// over the train span; after a hard barrier the top N survivors are re-run
// and re-ranked over the validation span. Ranking is independent of worker
// count and completion order.
func (o *Optimizer) Run(ctx context.Context, cfg Config) (*RunReport, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid optimizer config: %w", err)
	}

	grid := cfg.Grid.Expand()
	workers := cfg.Workers
	if workers <= 0 {
		workers = defaultWorkers()
	}

	report := &RunReport{
		RunID:     uuid.NewString(),
		StartedAt: time.Now().UTC(),
		Workers:   workers,
		GridSize:  len(grid),
	}
	o.log.Info().
		Str("run_id", report.RunID).
		Int("grid_size", len(grid)).
		Int("workers", workers).
		Msg("Optimization started")

	trainStart := time.Now()
	trainResults := o.evaluateAll(ctx, grid, cfg, cfg.TrainSpan, PhaseTrain, workers, true)
	report.TrainDuration = time.Since(trainStart)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	for _, r := range trainResults {
		if r.Status == StatusRanked {
			report.Train = append(report.Train, r)
		} else {
			report.TrainExcluded = append(report.TrainExcluded, r)
		}
	}
	rank(report.Train)
	o.log.Info().
		Int("ranked", len(report.Train)).
		Int("excluded", len(report.TrainExcluded)).
		Dur("elapsed", report.TrainDuration).
		Msg("Train phase complete")

	topN := cfg.TopN
	if topN > len(report.Train) {
		topN = len(report.Train)
	}
	finalists := make([]ParamSet, 0, topN)
	for _, r := range report.Train[:topN] {
		finalists = append(finalists, r.Params)
	}

	valStart := time.Now()
	valResults := o.evaluateAll(ctx, finalists, cfg, cfg.ValidationSpan, PhaseValidation, workers, false)
	report.ValidationDuration = time.Since(valStart)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	report.Validation = valResults
	for _, r := range valResults {
		if r.Status == StatusRanked {
			report.Leaderboard = append(report.Leaderboard, r)
		}
	}
	rank(report.Leaderboard)
	o.log.Info().
		Int("finalists", len(finalists)).
		Int("ranked", len(report.Leaderboard)).
		Dur("elapsed", report.ValidationDuration).
		Msg("Validation phase complete")

	if cfg.FullSpan != nil {
		reportTopN := cfg.ReportTopN
		if reportTopN <= 0 {
			reportTopN = 3
		}
		if reportTopN > len(report.Leaderboard) {
			reportTopN = len(report.Leaderboard)
		}
		for i, r := range report.Leaderboard[:reportTopN] {
			sim, err := o.replay(r.Params, cfg, *cfg.FullSpan)
			if err != nil {
				o.log.Warn().Err(err).Interface("params", r.Params).Msg("Full-span report failed")
				continue
			}
			report.Reports = append(report.Reports, YearlyReport{
				Params:  r.Params,
				Metrics: o.analyzer.Analyze(sim.History(), sim.Trades()),
				Years:   o.analyzer.YearlyTrades(sim.Trades()),
			})
			if i == 0 {
				report.WinnerHistory = sim.History()
				report.WinnerTrades = sim.Trades()
			}
		}
	}

	// Without a full span the winner's artifacts come from the validation
	// span instead.
	if report.WinnerHistory == nil && len(report.Leaderboard) > 0 {
		sim, err := o.replay(report.Leaderboard[0].Params, cfg, cfg.ValidationSpan)
		if err != nil {
			o.log.Warn().Err(err).Msg("Winner replay failed")
		} else {
			report.WinnerHistory = sim.History()
			report.WinnerTrades = sim.Trades()
		}
	}

	report.Gaps = o.ctx.Gaps()
	report.FinishedAt = time.Now().UTC()
	return report, nil
}

// evaluateAll fans the parameter sets out over a worker pool and collects
// results in input order.
func (o *Optimizer) evaluateAll(ctx context.Context, params []ParamSet, cfg Config, span Span, phase Phase, workers int, applyActivityFloor bool) []Result {
	n := len(params)
	if n == 0 {
		return nil
	}

	type jobItem struct {
		index  int
		params ParamSet
	}
	type resultItem struct {
		index  int
		result Result
	}

	jobs := make(chan jobItem, n)
	results := make(chan resultItem, n)

	if workers > n {
		workers = n
	}
	o.mu.Lock()
	o.done = 0
	o.mu.Unlock()

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobs {
				if err := ctx.Err(); err != nil {
					results <- resultItem{index: job.index, result: Result{
						Params: job.params, Phase: phase, Status: StatusExcluded, Cause: "run cancelled",
					}}
					continue
				}
				results <- resultItem{
					index:  job.index,
					result: o.evaluateOne(job.params, cfg, span, phase, applyActivityFloor),
				}
				o.reportProgress(phase, n)
			}
		}()
	}

	for i, p := range params {
		jobs <- jobItem{index: i, params: p}
	}
	close(jobs)

	wg.Wait()
	close(results)

	out := make([]Result, n)
	for r := range results {
		out[r.index] = r.result
	}
	return out
}

// evaluateOne builds the calendar, runs the simulation and computes metrics
// for a single parameter set. Panics are contained here: a failing
// evaluation becomes an excluded result, never a failed run.
func (o *Optimizer) evaluateOne(p ParamSet, cfg Config, span Span, phase Phase, applyActivityFloor bool) (res Result) {
	res = Result{Params: p, Phase: phase}
	defer func() {
		if r := recover(); r != nil {
			o.log.Error().Interface("panic", r).Interface("params", p).Msg("Evaluation panicked")
			res.Status = StatusExcluded
			res.Cause = fmt.Sprintf("panic: %v", r)
		}
	}()

	builder := signals.NewCalendarBuilder(o.ctx, o.log)
	calendar, err := builder.Build(signals.CalendarConfig{
		Start:             span.Start,
		End:               span.End,
		Window:            p.Window,
		BetaUpThreshold:   p.BetaUpThreshold,
		BetaDownThreshold: p.BetaDownThreshold,
		PersistenceDays:   p.PersistenceDays,
		Policy:            cfg.Policy,
	})
	if err != nil {
		res.Status = StatusExcluded
		res.Cause = fmt.Sprintf("calendar build: %v", err)
		return res
	}

	for _, day := range calendar {
		res.SignalDays += day.SignalCount()
	}
	if applyActivityFloor && res.SignalDays < cfg.MinSignalDays {
		res.Status = StatusExcluded
		res.Cause = fmt.Sprintf("activity %d below floor %d", res.SignalDays, cfg.MinSignalDays)
		return res
	}

	sim, err := simulator.New(cfg.Sim, o.ctx, o.exitPolicy(cfg), o.log)
	if err != nil {
		res.Status = StatusExcluded
		res.Cause = fmt.Sprintf("simulator: %v", err)
		return res
	}
	sim.Run(calendar)

	res.Metrics = o.analyzer.Analyze(sim.History(), sim.Trades())
	if !res.Metrics.SharpeValid {
		res.Status = StatusExcluded
		res.Cause = "undefined sharpe ratio"
		return res
	}
	res.Status = StatusRanked
	return res
}

// replay reruns one finalist over a span with end-of-span liquidation,
// returning the simulator for its history and trade log.
func (o *Optimizer) replay(p ParamSet, cfg Config, span Span) (*simulator.Simulator, error) {
	builder := signals.NewCalendarBuilder(o.ctx, o.log)
	calendar, err := builder.Build(signals.CalendarConfig{
		Start:             span.Start,
		End:               span.End,
		Window:            p.Window,
		BetaUpThreshold:   p.BetaUpThreshold,
		BetaDownThreshold: p.BetaDownThreshold,
		PersistenceDays:   p.PersistenceDays,
		Policy:            cfg.Policy,
	})
	if err != nil {
		return nil, fmt.Errorf("calendar build: %w", err)
	}
	if len(calendar) == 0 {
		return nil, fmt.Errorf("empty replay calendar")
	}

	sim, err := simulator.New(cfg.Sim, o.ctx, o.exitPolicy(cfg), o.log)
	if err != nil {
		return nil, err
	}
	sim.Run(calendar)
	sim.Liquidate(calendar[len(calendar)-1].Date)
	return sim, nil
}

func (o *Optimizer) exitPolicy(cfg Config) simulator.ExitPolicy {
	if cfg.RegimeExitOnly {
		return simulator.RegimeExitPolicy{}
	}
	return simulator.NewStopLossExitPolicy(cfg.HardStopPct, cfg.TrailingFactor)
}

func (o *Optimizer) reportProgress(phase Phase, total int) {
	if o.progress == nil {
		return
	}
	o.mu.Lock()
	o.done++
	done := o.done
	o.mu.Unlock()
	o.progress(phase, done, total)
}

// rank sorts ranked results by Sharpe descending with a deterministic
// tie-break on the parameter fields.
func rank(results []Result) {
	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.Metrics.Sharpe != b.Metrics.Sharpe {
			return a.Metrics.Sharpe > b.Metrics.Sharpe
		}
		return a.Params.less(b.Params)
	})
}

// defaultWorkers sizes the pool to the logical CPU count.
func defaultWorkers() int {
	if n, err := cpu.Counts(true); err == nil && n > 0 {
		return n
	}
	return runtime.NumCPU()
}
