package settle

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/peertrade/peertrade/internal/readiness"
	"github.com/peertrade/peertrade/internal/trade"
	"github.com/peertrade/peertrade/internal/tradeerr"
	"github.com/peertrade/peertrade/internal/wallet"
	"github.com/peertrade/peertrade/pkg/helpers"
	"github.com/peertrade/peertrade/pkg/logging"
)

const (
	// DefaultInterval is the pause between iterations.
	DefaultInterval = 3 * time.Second

	// historyCount asks listtransactions for the whole wallet history.
	historyCount = 99999999
)

// Observation reports the totals whenever either of them changes.
type Observation struct {
	Time           time.Time
	SentToDate     decimal.Decimal
	ReceivedToDate decimal.Decimal
	SentRound      int64
	ReceivedRound  int64
	// Behind is the signed amount we owe; negative when we are ahead.
	Behind decimal.Decimal
}

// Stats summarize a finished run.
type Stats struct {
	RunID          string
	Start          time.Time
	End            time.Time
	Iterations     int
	Sends          int
	DustSkipped    int
	SentToDate     decimal.Decimal
	ReceivedToDate decimal.Decimal
}

// Duration is End - Start.
func (s *Stats) Duration() time.Duration {
	return s.End.Sub(s.Start)
}

// Config holds configuration for a Loop.
type Config struct {
	Trade   *trade.Config
	Send    wallet.Gateway
	Receive wallet.Gateway

	// Unlocker handles a locked send wallet. Without one a locked wallet
	// aborts the loop.
	Unlocker *readiness.Unlocker

	Interval time.Duration // Poll interval, default 3s
	// ReadRetry bounds how long read-only calls are retried on connection
	// errors. Default 10 intervals.
	ReadRetry time.Duration

	// RunID identifies this run in logs and the ledger. Generated if empty.
	RunID string

	Metrics  *Metrics
	Observer func(Observation)
	Log      *logging.Logger
}

// Loop settles one trade.
type Loop struct {
	cfg      *trade.Config
	send     wallet.Gateway
	receive  wallet.Gateway
	unlocker *readiness.Unlocker

	interval  time.Duration
	readRetry time.Duration
	runID     string

	metrics  *Metrics
	observer func(Observation)
	log      *logging.Logger

	now func() time.Time
}

// NewLoop creates a settlement loop.
func NewLoop(cfg *Config) *Loop {
	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	readRetry := cfg.ReadRetry
	if readRetry <= 0 {
		readRetry = 10 * interval
	}
	runID := cfg.RunID
	if runID == "" {
		runID = uuid.NewString()
	}

	return &Loop{
		cfg:       cfg.Trade,
		send:      cfg.Send,
		receive:   cfg.Receive,
		unlocker:  cfg.Unlocker,
		interval:  interval,
		readRetry: readRetry,
		runID:     runID,
		metrics:   cfg.Metrics,
		observer:  cfg.Observer,
		log:       logging.OrDefault(cfg.Log, "settle").With("run", runID),
		now:       time.Now,
	}
}

// RunID returns the id of this run.
func (l *Loop) RunID() string {
	return l.runID
}

// Run polls both wallets and pays the counterparty until both legs are
// settled. Cancelling ctx stops the loop between iterations with a
// CodeAborted error; the trade can be resumed later. Stats are returned
// even on failure.
func (l *Loop) Run(ctx context.Context) (*Stats, error) {
	cfg := l.cfg
	if err := cfg.ValidateRounds(); err != nil {
		return nil, tradeerr.Wrap(tradeerr.CodeInvalidRounds, err, "cannot settle trade")
	}

	stats := &Stats{RunID: l.runID, Start: l.now()}
	defer func() { stats.End = l.now() }()

	l.log.Info("Performing trade",
		"send_per_round", helpers.FormatAmount(cfg.SendPerRound()),
		"receive_per_round", helpers.FormatAmount(cfg.ReceivePerRound()))
	l.log.Info("Settlement addresses",
		"send", cfg.Send.Symbol+" "+cfg.Send.Address,
		"receive", cfg.Receive.Symbol+" "+cfg.Receive.Address)

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	prevSent := decimal.NewFromInt(-1)
	prevReceived := decimal.NewFromInt(-1)

	for {
		stats.Iterations++

		sent, err := l.sentToDate(ctx)
		if err != nil {
			return stats, err
		}
		received, err := l.receivedToDate(ctx)
		if err != nil {
			return stats, err
		}
		stats.SentToDate, stats.ReceivedToDate = sent, received

		d := Plan(InputFor(cfg, sent, received))

		if !sent.Equal(prevSent) || !received.Equal(prevReceived) {
			l.emit(sent, received, d)
			prevSent, prevReceived = sent, received
		}

		if d.Complete {
			l.log.Info("Trade settled",
				"sent", helpers.FormatAmount(sent), "received", helpers.FormatAmount(received))
			l.metrics.complete()
			return stats, nil
		}

		if d.Send.IsPositive() {
			if err := l.pay(ctx, d, stats); err != nil {
				return stats, err
			}
		} else {
			l.log.Debug("Nothing to send", "rule", d.Rule, "deficit", d.Deficit)
		}

		select {
		case <-ctx.Done():
			l.log.Warn("Settlement interrupted", "sent", helpers.FormatAmount(sent), "received", helpers.FormatAmount(received))
			return stats, tradeerr.Wrap(tradeerr.CodeAborted, ctx.Err(), "trade interrupted; it may be resumed")
		case <-ticker.C:
		}
	}
}

func (l *Loop) emit(sent, received decimal.Decimal, d Decision) {
	cfg := l.cfg
	o := Observation{
		Time:           l.now(),
		SentToDate:     sent,
		ReceivedToDate: received,
		SentRound:      d.SentRound,
		ReceivedRound:  d.ReceivedRound,
		Behind:         d.Behind,
	}

	l.log.Info("Progress",
		"sent", fmt.Sprintf("%s of %s %s", helpers.FormatAmount(sent), helpers.FormatAmount(cfg.Send.Amount), cfg.Send.Symbol),
		"send_round", d.SentRound,
		"received", fmt.Sprintf("%s of %s %s", helpers.FormatAmount(received), helpers.FormatAmount(cfg.Receive.Amount), cfg.Receive.Symbol),
		"receive_round", d.ReceivedRound)

	l.metrics.observe(cfg.Send.Symbol, cfg.Receive.Symbol, o)
	if l.observer != nil {
		l.observer(o)
	}
}

// pay sends d.Send, unlocking the wallet and retrying if it is locked.
func (l *Loop) pay(ctx context.Context, d Decision, stats *Stats) error {
	cfg := l.cfg
	if d.TopUp.IsPositive() {
		l.log.Info("Adding remainder to this round so nothing unsendable is left",
			"extra", helpers.FormatAmount(d.TopUp), "symbol", cfg.Send.Symbol)
	}
	if d.Rule == RuleCatchUp {
		l.log.Info("Counterparty is ahead, catching up", "rounds", d.Deficit, "symbol", cfg.Send.Symbol)
	}

	comment := fmt.Sprintf("PeerTrade exchange with %s.  %s", cfg.Send.Address, cfg.Title())
	for {
		l.log.Info("Sending", "amount", helpers.FormatAmount(d.Send), "symbol", cfg.Send.Symbol, "rule", d.Rule)
		txid, err := l.send.SendToAddress(ctx, cfg.Send.Address, d.Send, comment)
		if err == nil {
			l.log.Info("Send completed", "txid", txid)
			stats.Sends++
			l.metrics.paid(cfg.Send.Symbol)
			return nil
		}

		switch {
		case wallet.IsTooSmallToSend(err):
			l.log.Warn("Wallet refused amount as too small to send; skipping",
				"amount", helpers.FormatAmount(d.Send), "remainder", helpers.FormatAmount(d.Remainder), "error", err)
			stats.DustSkipped++
			l.metrics.dust(cfg.Send.Symbol)
			return nil

		case wallet.IsWalletLocked(err):
			l.log.Warn("Send wallet is encrypted and locked", "symbol", cfg.Send.Symbol)
			l.metrics.locked(cfg.Send.Symbol)
			if l.unlocker == nil {
				return tradeerr.Wrap(tradeerr.CodeWalletLocked, err, "the %s sending wallet is locked; the trade may be resumed", cfg.Send.Symbol).WithSymbol(cfg.Send.Symbol)
			}
			res, herr := l.unlocker.Handle(ctx, true)
			if herr != nil {
				return herr
			}
			if res == readiness.Aborted {
				return tradeerr.New(tradeerr.CodeAborted, "trade aborted at locked %s wallet; it may be resumed", cfg.Send.Symbol).WithSymbol(cfg.Send.Symbol)
			}

		default:
			code := tradeerr.CodeRPC
			if wallet.IsConnectError(err) {
				code = tradeerr.CodeConnectFailed
			}
			return tradeerr.Wrap(code, err, "sending %s %s failed; the trade may be resumed",
				helpers.FormatAmount(d.Send), cfg.Send.Symbol).WithSymbol(cfg.Send.Symbol)
		}
	}
}

// sentToDate sums every send to the counterparty address over the full
// send wallet history.
func (l *Loop) sentToDate(ctx context.Context) (decimal.Decimal, error) {
	var txs []wallet.Transaction
	err := l.readRetrying(ctx, l.cfg.Send.Symbol, "listtransactions", func() error {
		var err error
		txs, err = l.send.ListTransactions(ctx, "", historyCount, 0)
		return err
	})
	if err != nil {
		return decimal.Zero, err
	}
	return wallet.SentTo(txs, l.cfg.Send.Address), nil
}

// receivedToDate is what our receive address has seen with at least MinConf
// confirmations.
func (l *Loop) receivedToDate(ctx context.Context) (decimal.Decimal, error) {
	var amount decimal.Decimal
	err := l.readRetrying(ctx, l.cfg.Receive.Symbol, "getreceivedbyaddress", func() error {
		var err error
		amount, err = l.receive.GetReceivedByAddress(ctx, l.cfg.Receive.Address, l.cfg.MinConf)
		return err
	})
	return amount, err
}

// readRetrying retries a read-only call while it fails to connect.
// Daemon errors are returned at once. Cancellation while waiting to retry
// ends the trade as aborted.
func (l *Loop) readRetrying(ctx context.Context, symbol, method string, op func() error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = l.interval / 4
	bo.MaxInterval = l.interval
	bo.MaxElapsedTime = l.readRetry

	err := backoff.RetryNotify(func() error {
		err := op()
		if err != nil && !wallet.IsConnectError(err) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(bo, ctx), func(err error, next time.Duration) {
		l.log.Warn("Wallet call failed, retrying", "symbol", symbol, "method", method, "in", next, "error", err)
	})
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return tradeerr.Wrap(tradeerr.CodeAborted, ctxErr, "trade interrupted; it may be resumed")
	}

	code := tradeerr.CodeRPC
	if wallet.IsConnectError(err) {
		code = tradeerr.CodeConnectFailed
	}
	return tradeerr.Wrap(code, err, "%s %s failed", symbol, method).WithSymbol(symbol)
}
