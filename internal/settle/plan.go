// Package settle runs the round-based payment loop that moves both legs of
// a trade to completion.
//
// Neither side lets its cumulative sent total run more than one round ahead
// of the round implied by what it has received. Totals are re-read from the
// wallets every iteration, so a loop can be stopped and resumed at any point.
package settle

import (
	"github.com/shopspring/decimal"

	"github.com/peertrade/peertrade/internal/trade"
	"github.com/peertrade/peertrade/pkg/helpers"
)

// Rules recorded on a Decision.
const (
	RuleComplete      = "complete"
	RuleAhead         = "ahead"
	RuleHello         = "hello"
	RuleAwaitHello    = "await-hello"
	RuleAfterHello    = "after-hello"
	RuleRound         = "round"
	RuleCatchUp       = "catch-up"
	RuleNothingToSend = "nothing-to-send"
)

// PlanInput is everything one iteration needs to decide what to send.
type PlanInput struct {
	SendAmount      decimal.Decimal
	SendHello       decimal.Decimal
	SendPerRound    decimal.Decimal
	ReceiveAmount   decimal.Decimal
	ReceiveHello    decimal.Decimal
	ReceivePerRound decimal.Decimal

	SentToDate     decimal.Decimal
	ReceivedToDate decimal.Decimal
}

// InputFor builds the plan input for cfg at the given totals.
func InputFor(cfg *trade.Config, sent, received decimal.Decimal) PlanInput {
	return PlanInput{
		SendAmount:      cfg.Send.Amount,
		SendHello:       cfg.Send.HelloAmount,
		SendPerRound:    cfg.SendPerRound(),
		ReceiveAmount:   cfg.Receive.Amount,
		ReceiveHello:    cfg.Receive.HelloAmount,
		ReceivePerRound: cfg.ReceivePerRound(),
		SentToDate:      sent,
		ReceivedToDate:  received,
	}
}

// Decision is the outcome of one iteration.
type Decision struct {
	SentRound     int64
	ReceivedRound int64
	// Deficit is ReceivedRound - SentRound. Negative means we are ahead.
	Deficit int64
	// Behind is Deficit * SendPerRound: how much we owe, or how far ahead
	// we are when negative.
	Behind decimal.Decimal

	Complete bool
	// Send is the amount to pay this iteration; zero means wait.
	Send decimal.Decimal
	// TopUp is the part of Send added so no unsendable remainder is left.
	TopUp decimal.Decimal
	// Remainder is what would still be owed after Send.
	Remainder decimal.Decimal
	Rule      string
}

// roundOf returns total / perRound rounded half away from zero.
func roundOf(total, perRound decimal.Decimal) int64 {
	if !perRound.IsPositive() {
		return 0
	}
	return total.Div(perRound).Round(0).IntPart()
}

// Plan decides what to send given the totals in in. It does no I/O.
func Plan(in PlanInput) Decision {
	d := Decision{
		SentRound:     roundOf(in.SentToDate, in.SendPerRound),
		ReceivedRound: roundOf(in.ReceivedToDate, in.ReceivePerRound),
		Send:          decimal.Zero,
		TopUp:         decimal.Zero,
	}
	d.Deficit = d.ReceivedRound - d.SentRound
	d.Behind = decimal.NewFromInt(d.Deficit).Mul(in.SendPerRound)
	d.Remainder = in.SendAmount.Sub(in.SentToDate)

	sentEnough := in.SentToDate.GreaterThanOrEqual(in.SendAmount.Sub(in.SendHello))
	receivedEnough := in.ReceivedToDate.GreaterThanOrEqual(in.ReceiveAmount.Sub(in.ReceiveHello))
	if sentEnough && receivedEnough {
		d.Complete = true
		d.Rule = RuleComplete
		return d
	}

	if d.Deficit < 0 {
		d.Rule = RuleAhead
		return d
	}

	send := decimal.NewFromInt(d.Deficit + 1).Mul(in.SendPerRound)
	d.Rule = RuleRound
	if d.Deficit > 0 {
		d.Rule = RuleCatchUp
	}
	send = decimal.Min(send, in.SendAmount.Sub(in.SentToDate))

	switch {
	case in.SentToDate.IsZero():
		send = decimal.Min(send, in.SendHello)
		d.Rule = RuleHello
	case in.SentToDate.Equal(in.SendHello):
		if !in.ReceivedToDate.IsPositive() {
			d.Rule = RuleAwaitHello
			return d
		}
		// Brings the first full round back onto the per-round schedule.
		send = send.Sub(in.SentToDate)
		d.Rule = RuleAfterHello
	}

	if !send.IsPositive() {
		d.Rule = RuleNothingToSend
		return d
	}

	remainder := in.SendAmount.Sub(in.SentToDate.Add(send))
	if !remainder.IsZero() && remainder.LessThan(in.SendHello) {
		full := in.SendAmount.Sub(in.SentToDate)
		d.TopUp = full.Sub(send)
		send = full
	}

	d.Send = helpers.TruncateCoin(send)
	d.Remainder = in.SendAmount.Sub(in.SentToDate.Add(d.Send))
	return d
}
