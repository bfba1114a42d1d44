package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/shopspring/decimal"
	"github.com/urfave/cli/v2"

	"github.com/peertrade/peertrade/internal/negotiate"
	"github.com/peertrade/peertrade/internal/trade"
	"github.com/peertrade/peertrade/internal/tradeerr"
	"github.com/peertrade/peertrade/internal/trader"
	"github.com/peertrade/peertrade/pkg/helpers"
)

const maxRounds = 1000

var begin = cli.Command{
	Name:  "begin",
	Usage: "negotiate a new trade and settle it",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "token",
			Usage: "read the counterparty token from this file instead of the terminal",
		},
	},
	Action: beginAction,
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func beginAction(ctx *cli.Context) error {
	e := getEnv(ctx)
	p := e.prompt

	sigCtx, stop := signalContext()
	defer stop()

	var (
		sess *negotiate.Session
		err  error
	)
	if path := ctx.String("token"); path != "" {
		raw, rerr := os.ReadFile(path)
		if rerr != nil {
			return rerr
		}
		sess, err = respond(sigCtx, e, string(raw))
	} else {
		c, cerr := p.choose("Do you have a trade token from your counterparty? [Y/N]", "YN")
		if cerr != nil {
			return cerr
		}
		if c == "Y" {
			sess, err = respond(sigCtx, e, "")
		} else {
			sess, err = propose(sigCtx, e)
		}
	}
	if err != nil {
		return err
	}

	if ok, err := confirm(e, sess.Config); err != nil || !ok {
		e.engine.Release(sigCtx, sess)
		return err
	}
	return report(sigCtx, e, sess.Config.Key(), func() (*trader.Result, error) {
		return e.trader.Begin(sigCtx, sess)
	})
}

// propose asks for the trade terms, issues our token and waits for the
// counterparty's reply.
func propose(ctx context.Context, e *env) (*negotiate.Session, error) {
	p := e.prompt
	cfg := &trade.Config{}

	var err error
	if cfg.Receive.Symbol, err = p.askSymbol("Currency to buy"); err != nil {
		return nil, err
	}
	if cfg.Receive.Amount, err = p.askAmount("Amount of "+cfg.Receive.Symbol+" to buy", decimal.Zero); err != nil {
		return nil, err
	}
	if cfg.Send.Symbol, err = p.askSymbol("Currency to sell"); err != nil {
		return nil, err
	}
	if cfg.Send.Amount, err = p.askAmount("Amount of "+cfg.Send.Symbol+" to sell", decimal.Zero); err != nil {
		return nil, err
	}
	if cfg.NumRounds, err = p.askInt("Number of rounds", e.cfg.Trade.DefaultRounds, 1, maxRounds); err != nil {
		return nil, err
	}
	if cfg.MinConf, err = p.askInt("Confirmations required per payment", e.cfg.Trade.DefaultMinConf, 0, 100); err != nil {
		return nil, err
	}

	prepared, err := e.engine.Prepare(ctx, cfg)
	if err != nil {
		return nil, err
	}

	p.printf("\nSend this token to your counterparty:\n\n%s\n", cfg.Token)
	sess, err := mergeLoop(ctx, e, "", "Paste the token your counterparty sends back:", func(raw string) (*negotiate.Session, error) {
		return e.engine.Accept(ctx, raw, prepared)
	})
	if err != nil {
		e.engine.Release(ctx, prepared)
		return nil, err
	}
	return sess, nil
}

// respond accepts a counterparty token and issues our reply. An empty raw
// token is read from the terminal.
func respond(ctx context.Context, e *env, raw string) (*negotiate.Session, error) {
	cfg := &trade.Config{}
	sess, err := mergeLoop(ctx, e, raw, "Paste the token from your counterparty:", func(raw string) (*negotiate.Session, error) {
		return e.engine.Merge(ctx, raw, cfg)
	})
	if err != nil {
		return nil, err
	}
	reply, err := e.engine.Issue(ctx, sess)
	if err != nil {
		e.engine.Release(ctx, sess)
		return nil, err
	}
	e.prompt.printf("\nSend this token back to your counterparty:\n\n%s\n", reply)
	return sess, nil
}

// mergeLoop reads tokens until merge accepts one. Token errors may be
// corrected by pasting again; anything else ends negotiation.
func mergeLoop(ctx context.Context, e *env, raw, prompt string, merge func(raw string) (*negotiate.Session, error)) (*negotiate.Session, error) {
	p := e.prompt
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if raw == "" {
			var err error
			if raw, err = p.readToken(prompt); err != nil {
				return nil, err
			}
		}
		sess, err := merge(raw)
		if err == nil {
			return sess, nil
		}
		if !retryableToken(err) {
			return nil, err
		}
		p.printf("\nThe token was not accepted: %v\n", err)
		c, cerr := p.choose("[R]e-enter the token or [A]bort?", "RA")
		if cerr != nil {
			return nil, cerr
		}
		if c == "A" {
			return nil, tradeerr.Wrap(tradeerr.CodeAborted, err, "negotiation aborted")
		}
		raw = ""
	}
}

func retryableToken(err error) bool {
	switch tradeerr.CodeOf(err) {
	case tradeerr.CodeInvalidToken, tradeerr.CodeChecksumMismatch:
		return true
	}
	return false
}

// confirm shows the agreed trade and lets the user adjust the tip before
// settlement starts.
func confirm(e *env, cfg *trade.Config) (bool, error) {
	p := e.prompt
	for {
		p.printf("\n%s\n", cfg.Title())
		p.printf("  %d rounds of %s %s for %s %s\n",
			cfg.NumRounds,
			helpers.FormatAmount(cfg.SendPerRound()), cfg.Send.Symbol,
			helpers.FormatAmount(cfg.ReceivePerRound()), cfg.Receive.Symbol)
		p.printf("  paying to   %s\n  receiving at %s\n", cfg.Send.Address, cfg.Receive.Address)
		if cfg.DonateAddress != "" {
			p.printf("  tip on completion: %s %s\n", helpers.FormatAmount(cfg.DonateAmount), cfg.Send.Symbol)
		}

		c, err := p.choose("[A]bort, [B]egin trade, or [C]hange tip?", "ABC")
		if err != nil {
			return false, err
		}
		switch c {
		case "A":
			return false, nil
		case "B":
			return true, nil
		}

		for {
			s, err := p.ask("Tip amount in "+cfg.Send.Symbol+" (0 for none)", helpers.FormatAmount(cfg.DonateAmount))
			if err != nil {
				return false, err
			}
			tip, err := helpers.ParseAmount(s)
			if err == nil && !tip.IsNegative() {
				cfg.DonateAmount = tip
				break
			}
			p.printf("Please enter an amount, or 0 for no tip.\n")
		}
	}
}

// report runs a trade and prints how it ended.
func report(ctx context.Context, e *env, key string, run func() (*trader.Result, error)) error {
	p := e.prompt
	res, err := run()
	if err != nil {
		if errors.Is(err, trader.ErrFinalized) || !tradeerr.Resumable(err) {
			return err
		}
		p.printf("\nTrade stopped: %v\n", err)
		p.printf("It can be resumed with: peertrade resume %s\n", key)
		return nil
	}

	p.printf("\nTrade complete.\n%s\n", res.Summary())
	if res.DonationTxID != "" {
		p.printf("Tip sent, thank you. (%s)\n", res.DonationTxID)
	}
	if res.DonationErr != nil {
		p.printf("The tip could not be sent: %v\n", res.DonationErr)
	}
	if res.RelockErr != nil {
		p.printf("Your wallet could not be locked again: %v\n", res.RelockErr)
	}

	if err := offerPublish(ctx, e, res.Config); err != nil {
		return err
	}
	return backupNotice(e, res.Config.Send.Symbol)
}
