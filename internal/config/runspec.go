package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/ophirlabs/ophir/internal/marketdata"
	"github.com/ophirlabs/ophir/internal/optimizer"
	"github.com/ophirlabs/ophir/internal/signals"
	"github.com/ophirlabs/ophir/internal/simulator"
)

// RunSpec is the YAML run definition: spans, grid, sizing and stop knobs.
type RunSpec struct {
	Policy     string    `yaml:"policy"`
	Train      SpanSpec  `yaml:"train"`
	Validation SpanSpec  `yaml:"validation"`
	Full       *SpanSpec `yaml:"full"`

	Grid          optimizer.Grid `yaml:"grid"`
	TopN          int            `yaml:"top_n"`
	ReportTopN    int            `yaml:"report_top_n"`
	MinSignalDays int            `yaml:"min_signal_days"`
	Workers       int            `yaml:"workers"`

	Simulation SimSpec  `yaml:"simulation"`
	Stops      StopSpec `yaml:"stops"`

	// Params pins a single parameter set for the run subcommand; the
	// optimize subcommand ignores it.
	Params *ParamSpec `yaml:"params"`
}

// SpanSpec is a YYYY-MM-DD date range.
type SpanSpec struct {
	Start string `yaml:"start"`
	End   string `yaml:"end"`
}

// SimSpec sizes the simulated portfolio.
type SimSpec struct {
	InitialCash  float64 `yaml:"initial_cash"`
	MaxPositions int     `yaml:"max_positions"`
	Notional     float64 `yaml:"notional"`
}

// StopSpec configures the exit policy.
type StopSpec struct {
	RegimeExitOnly bool    `yaml:"regime_exit_only"`
	HardStopPct    float64 `yaml:"hard_stop_pct"`
	TrailingFactor float64 `yaml:"trailing_factor"`
}

// ParamSpec is a single pinned parameter set.
type ParamSpec struct {
	Window            int     `yaml:"window"`
	BetaUpThreshold   float64 `yaml:"beta_up_threshold"`
	BetaDownThreshold float64 `yaml:"beta_down_threshold"`
	PersistenceDays   int     `yaml:"persistence_days"`
}

// LoadRunSpec reads and decodes a YAML run definition, applying defaults.
func LoadRunSpec(path string) (*RunSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read run spec: %w", err)
	}
	var spec RunSpec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("failed to parse run spec: %w", err)
	}
	spec.applyDefaults()
	return &spec, nil
}

func (s *RunSpec) applyDefaults() {
	if s.Policy == "" {
		s.Policy = string(signals.PolicySimple)
	}
	if s.TopN == 0 {
		s.TopN = 10
	}
	if s.ReportTopN == 0 {
		s.ReportTopN = 3
	}
	if s.Simulation.InitialCash == 0 {
		s.Simulation.InitialCash = 100_000
	}
	if s.Simulation.MaxPositions == 0 {
		s.Simulation.MaxPositions = 5
	}
	if s.Simulation.Notional == 0 {
		s.Simulation.Notional = s.Simulation.InitialCash / float64(s.Simulation.MaxPositions)
	}
}

func (s SpanSpec) parse() (optimizer.Span, error) {
	start, err := marketdata.ParseDay(s.Start)
	if err != nil {
		return optimizer.Span{}, fmt.Errorf("invalid span start %q: %w", s.Start, err)
	}
	end, err := marketdata.ParseDay(s.End)
	if err != nil {
		return optimizer.Span{}, fmt.Errorf("invalid span end %q: %w", s.End, err)
	}
	return optimizer.Span{Start: start, End: end}, nil
}

// OptimizerConfig maps the run definition onto a validated optimizer
// configuration.
func (s *RunSpec) OptimizerConfig() (optimizer.Config, error) {
	train, err := s.Train.parse()
	if err != nil {
		return optimizer.Config{}, fmt.Errorf("train: %w", err)
	}
	validation, err := s.Validation.parse()
	if err != nil {
		return optimizer.Config{}, fmt.Errorf("validation: %w", err)
	}
	cfg := optimizer.Config{
		TrainSpan:      train,
		ValidationSpan: validation,
		Grid:           s.Grid,
		TopN:           s.TopN,
		ReportTopN:     s.ReportTopN,
		MinSignalDays:  s.MinSignalDays,
		Workers:        s.Workers,
		Policy:         signals.Policy(s.Policy),
		Sim:            s.SimConfig(),
		RegimeExitOnly: s.Stops.RegimeExitOnly,
		HardStopPct:    s.Stops.HardStopPct,
		TrailingFactor: s.Stops.TrailingFactor,
	}
	if s.Full != nil {
		full, err := s.Full.parse()
		if err != nil {
			return optimizer.Config{}, fmt.Errorf("full: %w", err)
		}
		cfg.FullSpan = &full
	}
	if err := cfg.Validate(); err != nil {
		return optimizer.Config{}, err
	}
	return cfg, nil
}

// SimConfig maps the sizing block.
func (s *RunSpec) SimConfig() simulator.Config {
	return simulator.Config{
		InitialCash:  s.Simulation.InitialCash,
		MaxPositions: s.Simulation.MaxPositions,
		Notional:     s.Simulation.Notional,
	}
}

// CalendarConfig maps the pinned parameter set onto a calendar configuration
// over the given span. Errors when no parameter set is pinned.
func (s *RunSpec) CalendarConfig(span SpanSpec) (signals.CalendarConfig, error) {
	if s.Params == nil {
		return signals.CalendarConfig{}, fmt.Errorf("run spec pins no parameter set")
	}
	parsed, err := span.parse()
	if err != nil {
		return signals.CalendarConfig{}, err
	}
	cfg := signals.CalendarConfig{
		Start:             parsed.Start,
		End:               parsed.End,
		Window:            s.Params.Window,
		BetaUpThreshold:   s.Params.BetaUpThreshold,
		BetaDownThreshold: s.Params.BetaDownThreshold,
		PersistenceDays:   s.Params.PersistenceDays,
		Policy:            signals.Policy(s.Policy),
	}
	if err := cfg.Validate(); err != nil {
		return signals.CalendarConfig{}, err
	}
	return cfg, nil
}

// ExitPolicy builds the configured exit policy.
func (s *RunSpec) ExitPolicy() simulator.ExitPolicy {
	if s.Stops.RegimeExitOnly {
		return simulator.RegimeExitPolicy{}
	}
	return simulator.NewStopLossExitPolicy(s.Stops.HardStopPct, s.Stops.TrailingFactor)
}
