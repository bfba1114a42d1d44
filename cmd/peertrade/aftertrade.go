package main

import (
	"context"
	"errors"
	"time"

	"github.com/peertrade/peertrade/internal/trade"
)

const publishTimeout = 30 * time.Second

type tradePublisher interface {
	Host() string
	Publish(ctx context.Context, cfg *trade.Config) (string, error)
}

// offerPublish asks whether to publish a completed trade and does so on yes.
// Failures are printed; the trade is already recorded.
func offerPublish(ctx context.Context, e *env, cfg *trade.Config) error {
	if e.publisher == nil {
		return nil
	}
	p := e.prompt
	p.printf("\n--- Publish trade data to %s (optional) ---\n", e.publisher.Host())
	p.printf("Published trades help set currency prices for everyone.\n\n")

	c, err := p.choose("Would you like to publish this trade? [Y/N]", "YN")
	if err != nil || c == "N" {
		return err
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	id, err := e.publisher.Publish(ctx, cfg)
	if err != nil {
		p.printf("Unable to publish trade. %v\n", err)
		return nil
	}
	p.printf("Trade published. Trade ID: %s\n", id)
	return nil
}

// backupNotice warns that the sending wallet has new change addresses and
// waits for Enter.
func backupNotice(e *env, sendSymbol string) error {
	p := e.prompt
	p.printf("\n******* BACK UP YOUR SENDING WALLET *******\n")
	p.printf(" Back up your %s wallet now, or you could lose funds.\n", sendSymbol)
	p.printf(" Change from this trade went to new addresses, so existing\n")
	p.printf(" backups may be out of date.\n\n")
	p.printf(" The receiving wallet was not changed, but a fresh backup\n")
	p.printf(" of it does no harm either.\n")
	p.printf("*******************************************\n\n")
	p.printf("Press Enter to continue: ")
	if _, err := p.line(); err != nil && !errors.Is(err, errInputClosed) {
		return err
	}
	return nil
}
