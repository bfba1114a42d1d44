package negotiate

import (
	"context"

	"github.com/peertrade/peertrade/internal/token"
	"github.com/peertrade/peertrade/internal/trade"
	"github.com/peertrade/peertrade/internal/tradeerr"
	"github.com/peertrade/peertrade/pkg/helpers"
)

// Prepare is the path for the party that proposes a trade: cfg carries both
// symbols, both amounts, rounds and confirmations. It connects the wallets
// and issues our token. The counterparty's reply goes to Accept with the
// returned session.
func (e *Engine) Prepare(ctx context.Context, cfg *trade.Config) (*Session, error) {
	if err := e.ApplyCoins(ctx, cfg); err != nil {
		return nil, err
	}
	sess, err := e.Connect(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if _, err := e.Issue(ctx, sess); err != nil {
		e.Release(ctx, sess)
		return nil, err
	}
	return sess, nil
}

// Issue checks the proposed schedule against the connected wallets,
// allocates a receive address if we have none, and sets the token to send
// to the counterparty. It returns the token.
func (e *Engine) Issue(ctx context.Context, sess *Session) (string, error) {
	cfg := sess.Config

	if cfg.Send.Symbol == cfg.Receive.Symbol {
		return "", tradeerr.New(tradeerr.CodeDuplicateCurrency, "cannot trade %s for itself", cfg.Send.Symbol)
	}
	if err := cfg.ValidateRounds(); err != nil {
		return "", tradeerr.Wrap(tradeerr.CodeInvalidRounds, err, "unusable round schedule")
	}
	if err := checkHello(cfg); err != nil {
		return "", err
	}

	balance, err := sess.Send.GetBalance(ctx)
	if err != nil {
		return "", rpcError(cfg.Send.Symbol, "getbalance", err)
	}
	if cfg.Send.Amount.GreaterThan(balance) {
		return "", tradeerr.New(tradeerr.CodeInsufficientBalance,
			"%s %s is greater than your wallet balance (%s %s)",
			helpers.FormatAmount(cfg.Send.Amount), cfg.Send.Symbol, helpers.FormatAmount(balance), cfg.Send.Symbol).WithSymbol(cfg.Send.Symbol)
	}

	if cfg.Receive.Address == "" {
		addr, err := sess.Receive.GetNewAddress(ctx)
		if err != nil {
			return "", rpcError(cfg.Receive.Symbol, "getnewaddress", err)
		}
		cfg.Receive.Address = addr
	}

	cfg.DonateAmount = cfg.Donation(e.DonationFraction)
	cfg.Token = token.Encode(cfg)

	e.Log.Info("Issued token", "trade", cfg.Title(), "receive_address", cfg.Receive.Address)
	e.Log.Debug("Token", "token", cfg.Token)
	return cfg.Token, nil
}
