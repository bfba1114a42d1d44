// Package trader runs a negotiated trade end to end: it records the trade in
// the ledger, drives settlement, and finishes up once both legs are paid.
package trader

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/peertrade/peertrade/internal/negotiate"
	"github.com/peertrade/peertrade/internal/settle"
	"github.com/peertrade/peertrade/internal/storage"
	"github.com/peertrade/peertrade/internal/trade"
	"github.com/peertrade/peertrade/internal/tradeerr"
	"github.com/peertrade/peertrade/pkg/helpers"
	"github.com/peertrade/peertrade/pkg/logging"
)

// Errors returned for ledger entries in the wrong state.
var (
	ErrFinalized = errors.New("trade is already finalized")
	ErrNoKey     = errors.New("trade has no payment addresses yet")
)

// Ledger is the trade history the trader reads and writes.
type Ledger interface {
	Upsert(key string, snapshot *trade.Config, status trade.Status) error
	SetStatus(key string, status trade.Status) error
	RecordRun(key, runID string) error
	Get(key string) (*storage.Entry, error)
	Load() ([]*storage.Entry, error)
	FindByStatus(status trade.Status) ([]*storage.Entry, error)
}

// Connector reconnects the wallets of a saved trade.
type Connector interface {
	Connect(ctx context.Context, cfg *trade.Config) (*negotiate.Session, error)
}

// Config holds configuration for a Trader.
type Config struct {
	Ledger    Ledger
	Connector Connector

	Interval time.Duration // Settlement poll interval, default 3s
	Metrics  *settle.Metrics
	Observer func(settle.Observation)
	Log      *logging.Logger
}

// Trader runs trades one at a time.
type Trader struct {
	ledger    Ledger
	connector Connector
	interval  time.Duration
	metrics   *settle.Metrics
	observer  func(settle.Observation)
	log       *logging.Logger

	now func() time.Time
}

// New creates a Trader.
func New(cfg *Config) *Trader {
	return &Trader{
		ledger:    cfg.Ledger,
		connector: cfg.Connector,
		interval:  cfg.Interval,
		metrics:   cfg.Metrics,
		observer:  cfg.Observer,
		log:       logging.OrDefault(cfg.Log, "trader"),
		now:       time.Now,
	}
}

// Result describes a finished trade.
type Result struct {
	Config *trade.Config
	Stats  *settle.Stats

	// DonationTxID is set when a donation was sent.
	DonationTxID string
	// DonationErr and RelockErr report post-trade steps that failed. The
	// trade itself is complete either way.
	DonationErr error
	RelockErr   error
}

// Summary is a short human-readable account of the run.
func (r *Result) Summary() string {
	if r.Stats == nil {
		return r.Config.Title()
	}
	return fmt.Sprintf("%s\n  started:  %s\n  ended:    %s\n  duration: %s",
		r.Config.Title(),
		r.Stats.Start.Format(time.RFC3339),
		r.Stats.End.Format(time.RFC3339),
		helpers.HumanDuration(r.Stats.Duration()))
}

func ledgerError(err error, format string, args ...interface{}) error {
	return tradeerr.Wrap(tradeerr.CodeLedgerWrite, err, format, args...)
}

// Begin records sess as an incomplete trade and settles it.
//
// If settlement stops early the ledger entry stays incomplete and the
// returned error says why; the trade can be resumed with Resume.
func (t *Trader) Begin(ctx context.Context, sess *negotiate.Session) (*Result, error) {
	cfg := sess.Config
	if cfg.Send.Address == "" || cfg.Receive.Address == "" {
		return nil, ErrNoKey
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	cfg.StartTime = t.now()
	cfg.EndTime = time.Time{}
	if err := t.ledger.Upsert(cfg.Key(), cfg, trade.StatusIncomplete); err != nil {
		return nil, ledgerError(err, "could not record trade %s; not starting", cfg.Key())
	}

	t.log.Info("Beginning trade", "trade", cfg.Title(), "key", cfg.Key())
	return t.settle(ctx, sess)
}

// Resume reconnects the wallets of an incomplete trade and settles it.
func (t *Trader) Resume(ctx context.Context, key string) (*Result, error) {
	entry, err := t.ledger.Get(key)
	if err != nil {
		return nil, err
	}
	if entry.Status.Finalized() {
		return nil, fmt.Errorf("%w: %s is %s", ErrFinalized, key, entry.Status)
	}

	cfg := entry.Snapshot
	sess, err := t.connector.Connect(ctx, cfg)
	if err != nil {
		return nil, err
	}

	// Connection settings may have been corrected while connecting.
	if err := t.ledger.Upsert(key, cfg, trade.StatusIncomplete); err != nil {
		return nil, ledgerError(err, "could not update trade %s", key)
	}

	t.log.Info("Resuming trade", "trade", cfg.Title(), "key", key)
	return t.settle(ctx, sess)
}

// Cancel marks an incomplete trade cancelled. Nothing is sent or refunded.
func (t *Trader) Cancel(key string) error {
	entry, err := t.ledger.Get(key)
	if err != nil {
		return err
	}
	if entry.Status.Finalized() {
		return fmt.Errorf("%w: %s is %s", ErrFinalized, key, entry.Status)
	}
	if err := t.ledger.SetStatus(key, trade.StatusCancelled); err != nil {
		return ledgerError(err, "could not cancel trade %s", key)
	}
	t.log.Info("Trade cancelled", "key", key)
	return nil
}

func (t *Trader) settle(ctx context.Context, sess *negotiate.Session) (*Result, error) {
	cfg := sess.Config
	loop := settle.NewLoop(&settle.Config{
		Trade:    cfg,
		Send:     sess.Send,
		Receive:  sess.Receive,
		Unlocker: sess.Unlocker,
		Interval: t.interval,
		Metrics:  t.metrics,
		Observer: t.observer,
		Log:      t.log.Trade(cfg.Key()),
	})
	if err := t.ledger.RecordRun(cfg.Key(), loop.RunID()); err != nil {
		return nil, ledgerError(err, "could not record settlement run for %s", cfg.Key())
	}

	stats, err := loop.Run(ctx)
	if err != nil {
		if tradeerr.Resumable(err) {
			t.log.Warn("Trade stopped; it may be resumed", "key", cfg.Key(), "error", err)
		}
		return &Result{Config: cfg, Stats: stats}, err
	}
	return t.finish(ctx, sess, stats)
}

// finish records completion, sends the donation and relocks the wallet.
func (t *Trader) finish(ctx context.Context, sess *negotiate.Session, stats *settle.Stats) (*Result, error) {
	cfg := sess.Config
	res := &Result{Config: cfg, Stats: stats}
	log := t.log.Trade(cfg.Key())

	cfg.EndTime = t.now()
	if err := t.ledger.Upsert(cfg.Key(), cfg, trade.StatusComplete); err != nil {
		return res, ledgerError(err, "trade %s settled but could not be recorded as complete", cfg.Key())
	}

	if cfg.DonateAddress != "" && cfg.DonateAmount.IsPositive() {
		log.Info("Sending donation",
			"amount", helpers.FormatAmount(cfg.DonateAmount), "symbol", cfg.Send.Symbol, "address", cfg.DonateAddress)
		txid, err := sess.Send.SendToAddress(ctx, cfg.DonateAddress, cfg.DonateAmount, "peertrade author tip.")
		if err != nil {
			log.Warn("Donation failed", "error", err)
			res.DonationErr = err
		} else {
			log.Info("Donation sent", "txid", txid)
			res.DonationTxID = txid
		}
	}

	if sess.Unlocker != nil {
		if err := sess.Unlocker.Relock(ctx); err != nil {
			log.Warn("Could not relock wallet", "symbol", cfg.Send.Symbol, "error", err)
			res.RelockErr = err
		}
	}

	log.Info("Trade is complete", "trade", cfg.Title(), "duration", helpers.HumanDuration(stats.Duration()))
	return res, nil
}

// Incomplete lists trades that can be resumed or cancelled.
func (t *Trader) Incomplete() ([]*storage.Entry, error) {
	return t.ledger.FindByStatus(trade.StatusIncomplete)
}

// Complete lists settled trades.
func (t *Trader) Complete() ([]*storage.Entry, error) {
	return t.ledger.FindByStatus(trade.StatusComplete)
}

// All lists every trade in the ledger.
func (t *Trader) All() ([]*storage.Entry, error) {
	return t.ledger.Load()
}
