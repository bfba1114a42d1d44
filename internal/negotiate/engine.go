// Package negotiate turns a counterparty's token into an agreed trade
// configuration with connected, ready wallets.
package negotiate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/peertrade/peertrade/internal/readiness"
	"github.com/peertrade/peertrade/internal/token"
	"github.com/peertrade/peertrade/internal/trade"
	"github.com/peertrade/peertrade/internal/tradeerr"
	"github.com/peertrade/peertrade/pkg/helpers"
	"github.com/peertrade/peertrade/pkg/logging"
)

// DefaultDonationFraction is 0.5% of the send amount.
var DefaultDonationFraction = decimal.New(5, -3)

// TokenLedger reports whether a token was used by an earlier trade.
type TokenLedger interface {
	FindByToken(normalized string) (trade.Status, bool, error)
}

// Engine validates counterparty tokens and connects the wallets a trade needs.
type Engine struct {
	Ledger       TokenLedger
	Coins        CoinLookup
	Configurator Configurator
	Dialer       Dialer
	Resolver     readiness.Resolver

	// DonationFraction of the send amount is proposed as a donation.
	DonationFraction decimal.Decimal
	// UnlockDuration is how long the send wallet is unlocked for, when we
	// unlock it.
	UnlockDuration time.Duration

	Log *logging.Logger
}

// NewEngine creates an engine with default donation and unlock settings.
func NewEngine(ledger TokenLedger, coins CoinLookup, dialer Dialer, resolver readiness.Resolver, log *logging.Logger) *Engine {
	return &Engine{
		Ledger:           ledger,
		Coins:            coins,
		Dialer:           dialer,
		Resolver:         resolver,
		DonationFraction: DefaultDonationFraction,
		UnlockDuration:   readiness.DefaultUnlockDuration,
		Log:              logging.OrDefault(log, "negotiate"),
	}
}

func (e *Engine) reject(err *tradeerr.Error) error {
	e.Log.Warn("Token rejected", "code", err.Code, "reason", err.Error())
	return err
}

// Merge validates the counterparty token raw against cfg and, on success,
// commits the agreed parameters onto cfg and returns connected wallets.
// On failure cfg is left untouched. Failures are *tradeerr.Error values.
//
// Token fields are from the issuer's point of view: what they receive we
// send, and what they send we receive.
func (e *Engine) Merge(ctx context.Context, raw string, cfg *trade.Config) (*Session, error) {
	return e.merge(ctx, raw, cfg, nil)
}

// Accept merges the counterparty's reply into a session returned by
// Prepare. The send wallet keeps prev's Unlocker, so a relock owed from
// Prepare is still honoured when the trade finishes. On failure prev is
// left as it was and still owns the relock.
func (e *Engine) Accept(ctx context.Context, raw string, prev *Session) (*Session, error) {
	return e.merge(ctx, raw, prev.Config, prev.Unlocker)
}

func (e *Engine) merge(ctx context.Context, raw string, cfg *trade.Config, unlocker *readiness.Unlocker) (*Session, error) {
	if cfg.Token != "" && token.Normalize(raw) == token.Normalize(cfg.Token) {
		return nil, e.reject(&tradeerr.Error{
			Code:   tradeerr.CodeInvalidToken,
			Reason: tradeerr.ReasonOwnToken,
			Msg:    "this is our own token; send it to the counterparty and enter the token they return",
		})
	}

	f, err := token.Decode(raw)
	if err != nil {
		var te *tradeerr.Error
		if errors.As(err, &te) {
			return nil, e.reject(te)
		}
		return nil, err
	}

	work := cfg.Clone()

	if f.SendSymbol == f.ReceiveSymbol {
		return nil, e.reject(tradeerr.New(tradeerr.CodeDuplicateCurrency,
			"counterparty send and receive currency are both %s", f.SendSymbol))
	}
	if f.SendAddress == f.ReceiveAddress {
		return nil, e.reject(tradeerr.New(tradeerr.CodeDuplicateAddress,
			"counterparty send and receive payment addresses are both %q", f.SendAddress))
	}

	if work.Send.Symbol != "" && work.Send.Symbol == f.SendSymbol {
		return nil, e.reject(tradeerr.New(tradeerr.CodeSymbolConflict,
			"counterparty is trying to send us %s instead of %s", f.SendSymbol, work.Receive.Symbol).WithSymbol(f.SendSymbol))
	}
	if work.Receive.Symbol != "" && work.Receive.Symbol == f.ReceiveSymbol {
		return nil, e.reject(tradeerr.New(tradeerr.CodeSymbolConflict,
			"counterparty would be sending us %s instead of %s", f.ReceiveSymbol, work.Send.Symbol).WithSymbol(f.ReceiveSymbol))
	}
	if work.Send.Symbol != "" && work.Send.Symbol != f.ReceiveSymbol {
		return nil, e.reject(tradeerr.New(tradeerr.CodeSymbolMismatch,
			"counterparty receive currency (%s) does not match our send currency (%s)", f.ReceiveSymbol, work.Send.Symbol).WithSymbol(f.ReceiveSymbol))
	}
	if !work.Send.Amount.IsZero() && !work.Send.Amount.Equal(f.ReceiveAmount) {
		return nil, e.reject(tradeerr.New(tradeerr.CodeAmountMismatch,
			"counterparty receive amount (%s) does not match our send amount (%s)",
			helpers.FormatAmount(f.ReceiveAmount), helpers.FormatAmount(work.Send.Amount)).WithSymbol(work.Send.Symbol))
	}

	if work.Send.Symbol == "" {
		c, err := e.coin(ctx, f.ReceiveSymbol, false)
		if err != nil {
			return nil, err
		}
		work.ApplySendConnection(c.Connection())
	}
	if work.Receive.Symbol == "" {
		c, err := e.coin(ctx, f.SendSymbol, false)
		if err != nil {
			return nil, err
		}
		work.ApplyReceiveConnection(c.Connection())
	}

	if work.Receive.Symbol != f.SendSymbol {
		return nil, e.reject(tradeerr.New(tradeerr.CodeSymbolMismatch,
			"counterparty send currency (%s) does not match our receive currency (%s)", f.SendSymbol, work.Receive.Symbol).WithSymbol(f.SendSymbol))
	}
	if !work.Receive.Amount.IsZero() && !work.Receive.Amount.Equal(f.SendAmount) {
		return nil, e.reject(tradeerr.New(tradeerr.CodeAmountMismatch,
			"counterparty send amount (%s) does not match our receive amount (%s)",
			helpers.FormatAmount(f.SendAmount), helpers.FormatAmount(work.Receive.Amount)).WithSymbol(work.Receive.Symbol))
	}
	if work.Receive.Address != "" && work.Receive.Address != f.SendAddress {
		return nil, e.reject(tradeerr.New(tradeerr.CodeAddressMismatch,
			"counterparty send address (%s) does not match our receive address (%s)", f.SendAddress, work.Receive.Address).WithSymbol(work.Receive.Symbol))
	}

	if work.NumRounds != 0 && work.NumRounds != f.NumRounds {
		return nil, e.reject(tradeerr.New(tradeerr.CodeParamMismatch,
			"counterparty num_rounds (%d) does not match our num_rounds (%d)", f.NumRounds, work.NumRounds))
	}
	if work.MinConf != 0 && work.MinConf != f.MinConf {
		return nil, e.reject(tradeerr.New(tradeerr.CodeParamMismatch,
			"counterparty confirmations (%d) does not match our confirmations (%d)", f.MinConf, work.MinConf))
	}

	// Zero rounds, or a leg too small to split, would divide by zero later.
	sched := &trade.Config{NumRounds: f.NumRounds}
	sched.Send.Amount, sched.Send.Symbol = f.ReceiveAmount, f.ReceiveSymbol
	sched.Receive.Amount, sched.Receive.Symbol = f.SendAmount, f.SendSymbol
	if err := sched.ValidateRounds(); err != nil {
		return nil, e.reject(tradeerr.Wrap(tradeerr.CodeInvalidRounds, err, "counterparty round schedule is unusable"))
	}

	if err := e.checkReplay(token.Normalize(raw)); err != nil {
		return nil, err
	}

	// From here on the wallets are involved.
	sess, err := e.connect(ctx, work, unlocker)
	if err != nil {
		return nil, err
	}
	if err := e.agree(ctx, f, work, sess); err != nil {
		if unlocker == nil {
			e.Release(ctx, sess)
		}
		return nil, err
	}

	work.CounterpartyToken = raw
	*cfg = *work
	sess.Config = cfg

	e.Log.Info("Counterparty token accepted", "trade", cfg.Title(), "key", cfg.Key())
	return sess, nil
}

// agree runs the wallet-backed checks and writes the counterparty's terms
// onto work.
func (e *Engine) agree(ctx context.Context, f *token.Fields, work *trade.Config, sess *Session) error {
	v, err := sess.Send.ValidateAddress(ctx, f.ReceiveAddress)
	if err != nil {
		return rpcError(work.Send.Symbol, "validateaddress", err)
	}
	if !v.IsValid {
		return e.reject(tradeerr.New(tradeerr.CodeInvalidAddress,
			"counterparty payment address does not validate (%s %s)", f.ReceiveAddress, f.ReceiveSymbol).WithSymbol(f.ReceiveSymbol))
	}

	if work.Receive.Address == "" && f.SendAddress == "" {
		addr, err := sess.Receive.GetNewAddress(ctx)
		if err != nil {
			return rpcError(work.Receive.Symbol, "getnewaddress", err)
		}
		e.Log.Info("Allocated receive address", "symbol", work.Receive.Symbol, "address", addr)
		work.Receive.Address = addr
	}

	if work.Receive.Address == "" && f.SendAddress != "" {
		v, err := sess.Receive.ValidateAddress(ctx, f.SendAddress)
		if err != nil {
			return rpcError(work.Receive.Symbol, "validateaddress", err)
		}
		if !v.IsValid {
			return e.reject(tradeerr.New(tradeerr.CodeInvalidAddress,
				"counterparty send payment address does not validate (%s %s)", f.SendAddress, f.SendSymbol).WithSymbol(f.SendSymbol))
		}
		if !v.IsMine {
			return e.reject(tradeerr.New(tradeerr.CodeForeignAddress,
				"counterparty send payment address is not in our wallet (%s %s)", f.SendAddress, f.SendSymbol).WithSymbol(f.SendSymbol))
		}
		work.Receive.Address = f.SendAddress
	}

	balance, err := sess.Send.GetBalance(ctx)
	if err != nil {
		return rpcError(work.Send.Symbol, "getbalance", err)
	}
	if balance.LessThan(f.ReceiveAmount) {
		return e.reject(tradeerr.New(tradeerr.CodeInsufficientBalance,
			"your available balance of %s %s is less than the send amount of %s %s",
			helpers.FormatAmount(balance), f.ReceiveSymbol, helpers.FormatAmount(f.ReceiveAmount), f.ReceiveSymbol).WithSymbol(f.ReceiveSymbol))
	}

	work.Send.Symbol = f.ReceiveSymbol
	work.Send.Amount = f.ReceiveAmount
	work.Send.Address = f.ReceiveAddress
	work.Receive.Symbol = f.SendSymbol
	work.Receive.Amount = f.SendAmount
	work.NumRounds = f.NumRounds
	work.MinConf = f.MinConf
	work.DonateAmount = work.Donation(e.DonationFraction)

	if err := checkHello(work); err != nil {
		return e.reject(err)
	}
	return nil
}

// checkReplay rejects a token an earlier trade already used.
func (e *Engine) checkReplay(normalized string) error {
	if e.Ledger == nil {
		return nil
	}
	status, found, err := e.Ledger.FindByToken(normalized)
	if err != nil {
		return fmt.Errorf("checking trade history: %w", err)
	}
	if !found {
		return nil
	}
	if status.Finalized() {
		return e.reject(&tradeerr.Error{
			Code:   tradeerr.CodeTokenReused,
			Status: string(status),
			Msg:    "this token was used in a previous finalized trade; make sure you are using the correct token",
		})
	}
	return e.reject(&tradeerr.Error{
		Code:   tradeerr.CodeTokenReused,
		Status: string(status),
		Msg:    "this token was used in a previous trade that did not complete; resume it from the incomplete trades list",
	})
}

// checkHello requires each leg to be at least its minimum spend.
func checkHello(cfg *trade.Config) *tradeerr.Error {
	if cfg.Send.Amount.LessThan(cfg.Send.HelloAmount) {
		return tradeerr.New(tradeerr.CodeBelowMinimumSpend,
			"send amount %s %s is less than minimum spend amount of %s %s",
			helpers.FormatAmount(cfg.Send.Amount), cfg.Send.Symbol, helpers.FormatAmount(cfg.Send.HelloAmount), cfg.Send.Symbol).WithSymbol(cfg.Send.Symbol)
	}
	if cfg.Receive.Amount.LessThan(cfg.Receive.HelloAmount) {
		return tradeerr.New(tradeerr.CodeBelowMinimumSpend,
			"receive amount %s %s is less than minimum spend amount of %s %s",
			helpers.FormatAmount(cfg.Receive.Amount), cfg.Receive.Symbol, helpers.FormatAmount(cfg.Receive.HelloAmount), cfg.Receive.Symbol).WithSymbol(cfg.Receive.Symbol)
	}
	return nil
}
