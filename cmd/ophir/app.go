package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/ophirlabs/ophir/internal/analytics"
	"github.com/ophirlabs/ophir/internal/config"
	"github.com/ophirlabs/ophir/internal/database"
	"github.com/ophirlabs/ophir/internal/marketdata"
	"github.com/ophirlabs/ophir/internal/optimizer"
	"github.com/ophirlabs/ophir/internal/report"
	"github.com/ophirlabs/ophir/pkg/logger"
)

// app bundles the shared wiring of all subcommands: configuration, logging,
// the market data context and the artifact writer.
type app struct {
	cfg    *config.Config
	spec   *config.RunSpec
	log    zerolog.Logger
	mctx   *marketdata.Context
	writer *report.Writer
}

// loadApp builds the application: env config, logger, market tables (cache
// or sqlite) and the immutable context.
func loadApp(specPath string, forceReload bool) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	log := logger.New(logger.Config{Level: cfg.LogLevel, Pretty: cfg.PrettyLogs})
	logger.SetGlobalLogger(log)

	spec, err := config.LoadRunSpec(specPath)
	if err != nil {
		return nil, err
	}

	db, err := database.New(database.Config{Path: cfg.MarketDBPath, Name: "market"})
	if err != nil {
		return nil, fmt.Errorf("failed to open market database: %w", err)
	}
	defer db.Close()

	store := marketdata.NewStore(
		marketdata.NewRepository(db, log),
		marketdata.NewCache(cfg.CacheDir, log),
		log,
	)
	tables, err := store.LoadTables(forceReload)
	if err != nil {
		return nil, fmt.Errorf("failed to load market tables: %w", err)
	}

	mctx := marketdata.NewContext(tables)
	log.Info().
		Int("regime_days", len(tables.Regime)).
		Int("beta_rows", len(tables.Betas)).
		Int("price_rows", len(tables.Prices)).
		Msg("Market data loaded")

	return &app{
		cfg:    cfg,
		spec:   spec,
		log:    log,
		mctx:   mctx,
		writer: report.NewWriter(cfg.DataDir, log),
	}, nil
}

// optimize executes one grid search and writes its artifacts, optionally
// mirroring them to S3.
func (a *app) optimize(ctx context.Context, progress optimizer.ProgressFunc) (*optimizer.RunReport, error) {
	optCfg, err := a.spec.OptimizerConfig()
	if err != nil {
		return nil, err
	}

	opt := optimizer.New(a.mctx, analytics.New(a.log), a.log)
	if progress != nil {
		opt.OnProgress(progress)
	}
	run, err := opt.Run(ctx, optCfg)
	if err != nil {
		return nil, err
	}

	if _, err := a.writer.WriteRunReport(run); err != nil {
		return nil, err
	}
	if _, err := a.writer.WriteLeaderboard(run.RunID, run.Leaderboard); err != nil {
		return nil, err
	}
	if len(run.WinnerHistory) > 0 {
		if _, err := a.writer.WriteEquityCurve(run.RunID, run.WinnerHistory); err != nil {
			return nil, err
		}
		if _, err := a.writer.WriteTrades(run.RunID, run.WinnerTrades); err != nil {
			return nil, err
		}
	}
	if len(run.Reports) > 0 {
		if _, err := a.writer.WriteYearlyStats(run.RunID, run.Reports); err != nil {
			return nil, err
		}
	}

	if a.cfg.S3Bucket != "" {
		if err := a.uploadArtifacts(ctx, run.RunID); err != nil {
			// Upload failures do not invalidate the local run.
			a.log.Error().Err(err).Msg("Artifact upload failed")
		}
	}

	a.log.Info().
		Str("run_id", run.RunID).
		Int("leaderboard", len(run.Leaderboard)).
		Int("excluded", len(run.TrainExcluded)).
		Interface("gaps", run.Gaps).
		Msg("Optimization complete")
	return run, nil
}

func (a *app) uploadArtifacts(ctx context.Context, runID string) error {
	uploader, err := report.NewS3Uploader(ctx, a.cfg.S3Bucket, a.log)
	if err != nil {
		return err
	}
	dir, err := a.writer.Dir(runID)
	if err != nil {
		return err
	}
	return uploader.UploadDir(ctx, dir, "artifacts/"+runID)
}
