// Command ergowatch runs the Ergo chain watcher: it ingests blocks from a
// node's HTTP API, normalizes them, and keeps a PostgreSQL schema (core.*,
// bal.*, usp.*, mtr.*) in sync, with fork detection and rollback.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/ergowatch/watcher/internal/bootstrap"
	"github.com/ergowatch/watcher/internal/config"
	"github.com/ergowatch/watcher/internal/core"
	"github.com/ergowatch/watcher/internal/derived"
	"github.com/ergowatch/watcher/internal/ergoaddr"
	"github.com/ergowatch/watcher/internal/log"
	"github.com/ergowatch/watcher/internal/nodeclient"
	"github.com/ergowatch/watcher/internal/normalize"
	"github.com/ergowatch/watcher/internal/storage"
	"github.com/ergowatch/watcher/internal/tracker"
	"github.com/ergowatch/watcher/internal/watcherr"
)

var logger = log.New("main")

func main() {
	app := &cli.App{
		Name:  "ergowatch",
		Usage: "index an Ergo-family chain into PostgreSQL",
		Commands: []*cli.Command{
			runCommand(),
			bootstrapCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		os.Exit(exitCodeFor(err))
	}
}

func configFlag() *cli.StringFlag {
	return &cli.StringFlag{
		Name:     "config",
		Aliases:  []string{"c"},
		Usage:    "path to the TOML config file",
		Required: true,
	}
}

func runCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "start the tracking loop (migrates, bootstraps if needed, then follows the chain tip)",
		Flags: []*cli.Flag{configFlag()},
		Action: func(c *cli.Context) error {
			cfg, err := config.Load(c.String("config"))
			if err != nil {
				return err
			}
			return runTracker(c.Context, cfg)
		},
	}
}

func bootstrapCommand() *cli.Command {
	return &cli.Command{
		Name:  "bootstrap",
		Usage: "rebuild bal.*/usp.*/mtr.* from an already-populated core.* schema and exit",
		Flags: []*cli.Flag{configFlag()},
		Action: func(c *cli.Context) error {
			cfg, err := config.Load(c.String("config"))
			if err != nil {
				return err
			}
			return runBootstrap(c.Context, cfg)
		},
	}
}

func runTracker(ctx context.Context, cfg *config.Config) error {
	db, err := storage.Open(ctx, cfg.DB.ConnStr, cfg.DB.StatementTimeoutMs)
	if err != nil {
		return watcherr.NewIntegrity(0, err)
	}
	defer db.Close()

	if err := db.Migrate(cfg.DB.ConnStr); err != nil {
		return watcherr.NewIntegrity(0, err)
	}

	engine := derived.New(
		derived.WithSigmaUSD(cfg.Metrics.SigmaUSDEnabled),
		derived.WithOraclePools(cfg.Metrics.OraclePoolsEnabled),
		derived.WithSnapshotInterval(int64(cfg.Metrics.SnapshotIntervalLen)),
	)

	if shouldBootstrap(ctx, db, cfg) {
		logger.Info("running bootstrap before starting tracker")
		b := bootstrap.New(db.Pool, engine, cfg.DB.StatementTimeoutMs)
		if err := b.Run(ctx); err != nil {
			return watcherr.NewIntegrity(0, err)
		}
	}

	node := nodeclient.New(cfg.Node.URL, cfg.Node.Timeout())
	normalizer := normalize.New(ergoaddr.NewEncoder(cfg.Node.Network))
	persister := core.New()

	tr := tracker.New(node, normalizer, persister, engine, db, cfg.Node.PollInterval(), cfg.Tracker.MaxRollbackDepth)
	if err := tr.Init(ctx); err != nil {
		return watcherr.NewIntegrity(0, err)
	}

	runCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("tracker starting", "tip_height", tr.Tip().Height)
	return tr.Run(runCtx)
}

// shouldBootstrap auto-detects whether C6 needs to run before the tracker
// starts following the tip, unless the operator has overridden the
// decision via bootstrap.enabled.
func shouldBootstrap(ctx context.Context, db *storage.DB, cfg *config.Config) bool {
	if cfg.Bootstrap.Enabled != nil {
		return *cfg.Bootstrap.Enabled
	}
	var value string
	err := db.Pool.QueryRow(ctx, `SELECT value FROM meta WHERE key = 'bootstrapped'`).Scan(&value)
	if err != nil {
		logger.Warn("could not read meta.bootstrapped, skipping auto-bootstrap", "err", err)
		return false
	}
	if value == "true" {
		return false
	}
	var headerCount int
	if err := db.Pool.QueryRow(ctx, `SELECT count(*) FROM core.headers`).Scan(&headerCount); err != nil {
		logger.Warn("could not count core.headers, skipping auto-bootstrap", "err", err)
		return false
	}
	return headerCount > 0
}

func runBootstrap(ctx context.Context, cfg *config.Config) error {
	db, err := storage.Open(ctx, cfg.DB.ConnStr, cfg.DB.StatementTimeoutMs)
	if err != nil {
		return watcherr.NewIntegrity(0, err)
	}
	defer db.Close()

	if err := db.Migrate(cfg.DB.ConnStr); err != nil {
		return watcherr.NewIntegrity(0, err)
	}

	engine := derived.New(
		derived.WithSigmaUSD(cfg.Metrics.SigmaUSDEnabled),
		derived.WithOraclePools(cfg.Metrics.OraclePoolsEnabled),
		derived.WithSnapshotInterval(int64(cfg.Metrics.SnapshotIntervalLen)),
	)
	b := bootstrap.New(db.Pool, engine, cfg.DB.StatementTimeoutMs)
	if err := b.Run(ctx); err != nil {
		return watcherr.NewIntegrity(0, err)
	}
	return nil
}

// exitCodeFor maps a returned error onto the process exit codes: 0
// clean, 2 a configuration error, 1 everything else fatal.
func exitCodeFor(err error) int {
	if err == nil {
		return 0
	}
	if _, ok := err.(*config.ErrConfig); ok {
		fmt.Fprintln(os.Stderr, "config error:", err)
		return 2
	}
	fmt.Fprintln(os.Stderr, "fatal:", err)
	return watcherr.ExitCode(err)
}
