package trader

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/peertrade/peertrade/internal/negotiate"
	"github.com/peertrade/peertrade/internal/tradeerr"
	"github.com/peertrade/peertrade/internal/wallet"
)

const (
	sendHistoryCount    = 99999999
	minReceiveHistory   = 200
	receiveHistoryScale = 5
)

// Transactions holds the transaction ids that paid each leg of a trade.
// Ids of unconfirmed transactions may still change.
type Transactions struct {
	Sent     []string
	Received []string
}

// Transactions collects the transactions belonging to the trade in sess,
// stopping on each side once the leg's full amount is accounted for.
func (t *Trader) Transactions(ctx context.Context, sess *negotiate.Session) (*Transactions, error) {
	cfg := sess.Config
	out := &Transactions{}

	sent, err := sess.Send.ListTransactions(ctx, "", sendHistoryCount, 0)
	if err != nil {
		return nil, tradeerr.Wrap(tradeerr.CodeRPC, err, "%s listtransactions failed", cfg.Send.Symbol).WithSymbol(cfg.Send.Symbol)
	}
	out.Sent = collect(sent, cfg.Send.Address, wallet.CategorySend, cfg.Send.Amount)

	// The receive wallet may be busy with unrelated activity; a generous
	// multiple of the round count covers this trade.
	limit := cfg.NumRounds * receiveHistoryScale
	if limit < minReceiveHistory {
		limit = minReceiveHistory
	}
	received, err := sess.Receive.ListTransactions(ctx, "", limit, 0)
	if err != nil {
		return nil, tradeerr.Wrap(tradeerr.CodeRPC, err, "%s listtransactions failed", cfg.Receive.Symbol).WithSymbol(cfg.Receive.Symbol)
	}
	out.Received = collect(received, cfg.Receive.Address, wallet.CategoryReceive, cfg.Receive.Amount)

	t.log.Debug("Trade transactions", "sent", len(out.Sent), "received", len(out.Received))
	return out, nil
}

func collect(txs []wallet.Transaction, address, category string, amount decimal.Decimal) []string {
	var ids []string
	total := decimal.Zero
	for _, tx := range txs {
		if tx.Address == address && tx.Category == category {
			total = total.Add(tx.Amount.Abs())
			ids = append(ids, tx.TxID)
		}
		if total.GreaterThanOrEqual(amount) {
			break
		}
	}
	return ids
}
