// Command peertrade settles a wallet-to-wallet trade between two parties in
// incremental rounds.
package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli/v2"

	"github.com/peertrade/peertrade/internal/coinmeta"
	"github.com/peertrade/peertrade/internal/config"
	"github.com/peertrade/peertrade/internal/negotiate"
	"github.com/peertrade/peertrade/internal/publish"
	"github.com/peertrade/peertrade/internal/settle"
	"github.com/peertrade/peertrade/internal/storage"
	"github.com/peertrade/peertrade/internal/trader"
	"github.com/peertrade/peertrade/internal/wallet"
	"github.com/peertrade/peertrade/pkg/helpers"
	"github.com/peertrade/peertrade/pkg/logging"
)

var (
	version = "0.1.0-dev"
	commit  = "unknown"
)

const envKey = "env"

func main() {
	app := cli.NewApp()

	app.Version = fmt.Sprintf("%s (commit: %s)", version, commit)
	app.Name = "peertrade"
	app.Usage = "Trade coins wallet to wallet, a little at a time"
	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:  "data-dir",
			Usage: "data directory for settings, ledger and logs",
			Value: config.DefaultDataDir,
		},
		&cli.StringFlag{
			Name:  "config",
			Usage: "config file path (default: <data-dir>/config.yaml)",
		},
		&cli.StringFlag{
			Name:  "log-level",
			Usage: "log level (debug, info, warn, error), overrides config",
		},
		&cli.StringFlag{
			Name:  "metrics",
			Usage: "serve Prometheus metrics on this address, overrides config",
		},
	}
	app.Metadata = map[string]interface{}{}
	app.Before = setup
	app.After = teardown
	app.Commands = append(
		app.Commands,
		&begin,
		&resume,
		&cancel,
		&list,
		&history,
		&tokenCmd,
		&ledgerCmd,
	)

	err := app.Run(os.Args)
	if err != nil {
		fatal(err)
	}
}

// env holds everything a command needs. It is built once in setup.
type env struct {
	cfg    *config.Config
	log    *logging.Logger
	store  *storage.Storage
	coins  *coinmeta.Store
	engine *negotiate.Engine
	trader *trader.Trader
	prompt *prompter

	publisher tradePublisher

	registry *prometheus.Registry
	metrics  *metricsServer
}

func getEnv(ctx *cli.Context) *env {
	return ctx.App.Metadata[envKey].(*env)
}

func setup(ctx *cli.Context) error {
	dataDir := ctx.String("data-dir")

	var (
		cfg *config.Config
		err error
	)
	if path := ctx.String("config"); path != "" {
		cfg, err = config.LoadFile(config.ExpandPath(path), dataDir)
	} else {
		cfg, err = config.LoadConfig(dataDir)
	}
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if lvl := ctx.String("log-level"); lvl != "" {
		cfg.Logging.Level = lvl
	}
	if addr := ctx.String("metrics"); addr != "" {
		cfg.Metrics.Listen = addr
	}

	log := logging.New(&logging.Config{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		TimeFormat: time.TimeOnly,
		File:       cfg.LogFilePath(),
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	})
	logging.SetDefault(log)

	store, err := storage.New(&storage.Config{
		DataDir: cfg.DataPath(),
		Log:     log.Component("ledger"),
	})
	if err != nil {
		return fmt.Errorf("failed to open ledger: %w", err)
	}

	donation, err := cfg.DonationFraction()
	if err != nil {
		store.Close()
		return err
	}

	e := &env{
		cfg:      cfg,
		log:      log,
		store:    store,
		coins:    coinmeta.New(cfg.DataPath(), log.Component("coins")),
		prompt:   newPrompter(os.Stdin, os.Stdout),
		registry: prometheus.NewRegistry(),
	}
	e.prompt.save = e.coins.Save

	e.engine = negotiate.NewEngine(store, e.coins, negotiate.RPCDialer{
		Config: wallet.ClientConfig{Timeout: wallet.DefaultTimeout},
	}, e.prompt, log.Component("negotiate"))
	e.engine.Configurator = e.prompt
	e.engine.DonationFraction = donation
	e.engine.UnlockDuration = cfg.UnlockDuration()

	e.trader = trader.New(&trader.Config{
		Ledger:    store,
		Connector: e.engine,
		Interval:  cfg.Trade.PollInterval,
		Metrics:   settle.NewMetrics(e.registry),
		Observer:  progress(e.prompt),
		Log:       log.Component("trader"),
	})

	if cfg.Trade.PublishURL != "" {
		e.publisher = publish.New(cfg.Trade.PublishURL, log.Component("publish"))
	}

	if cfg.Metrics.Listen != "" {
		e.metrics = serveMetrics(cfg.Metrics.Listen, e.registry, log.Component("metrics"))
	}

	ctx.App.Metadata[envKey] = e
	return nil
}

func teardown(ctx *cli.Context) error {
	e, ok := ctx.App.Metadata[envKey].(*env)
	if !ok {
		return nil
	}
	if e.metrics != nil {
		e.metrics.Close()
	}
	return e.store.Close()
}

// progress prints one line whenever the settlement totals change.
func progress(p *prompter) func(settle.Observation) {
	return func(o settle.Observation) {
		state := "even"
		switch {
		case o.Behind.IsPositive():
			state = "owing " + helpers.FormatAmount(o.Behind)
		case o.Behind.IsNegative():
			state = "ahead by " + helpers.FormatAmount(o.Behind.Neg())
		}
		p.printf("[%s] sent %s (round %d), received %s (round %d), %s\n",
			o.Time.Format(time.TimeOnly),
			helpers.FormatAmount(o.SentToDate), o.SentRound,
			helpers.FormatAmount(o.ReceivedToDate), o.ReceivedRound,
			state)
	}
}

type invalidUsageError struct {
	ctx     *cli.Context
	command string
}

func (e *invalidUsageError) Error() string {
	return fmt.Sprintf("invalid usage of command %s", e.command)
}

func fatal(err error) {
	var e *invalidUsageError
	if errors.As(err, &e) {
		_ = cli.ShowCommandHelp(e.ctx, e.command)
	} else {
		_, _ = fmt.Fprintf(os.Stderr, "[peertrade] %v\n", err)
	}
	os.Exit(1)
}
