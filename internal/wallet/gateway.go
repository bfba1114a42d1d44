// Package wallet talks to a coin wallet daemon over its Bitcoin-Core-style
// JSON-RPC interface.
package wallet

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Gateway is the subset of a wallet daemon's RPC surface a trade needs.
// Every call may block on the network and honours ctx.
type Gateway interface {
	GetNewAddress(ctx context.Context) (string, error)
	GetBalance(ctx context.Context) (decimal.Decimal, error)
	GetReceivedByAddress(ctx context.Context, address string, minConf int) (decimal.Decimal, error)
	ListTransactions(ctx context.Context, account string, count, from int) ([]Transaction, error)
	ValidateAddress(ctx context.Context, address string) (*AddressValidation, error)
	GetInfo(ctx context.Context) (*Info, error)
	GetWork(ctx context.Context) (*Work, error)
	SendToAddress(ctx context.Context, address string, amount decimal.Decimal, comment string) (string, error)
	WalletLock(ctx context.Context) error
	WalletPassphrase(ctx context.Context, passphrase string, seconds int64) error
}

// Transaction categories reported by listtransactions.
const (
	CategorySend    = "send"
	CategoryReceive = "receive"
)

// Transaction is one entry of listtransactions. Amount is negative for sends.
type Transaction struct {
	Address       string          `json:"address"`
	Category      string          `json:"category"`
	Amount        decimal.Decimal `json:"amount"`
	TxID          string          `json:"txid"`
	Confirmations int64           `json:"confirmations"`
}

// AddressValidation is the result of validateaddress.
type AddressValidation struct {
	IsValid bool   `json:"isvalid"`
	IsMine  bool   `json:"ismine"`
	Address string `json:"address"`
}

// Info is the part of getinfo we use.
type Info struct {
	// UnlockedUntil is nil for unencrypted wallets.
	UnlockedUntil *int64 `json:"unlocked_until,omitempty"`
}

// Locked reports whether the wallet is encrypted and currently locked.
func (i *Info) Locked() bool {
	return i != nil && i.UnlockedUntil != nil && *i.UnlockedUntil == 0
}

// Work is the part of getwork we use. A non-empty Target means the daemon
// has caught up with the chain.
type Work struct {
	Target string `json:"target"`
}

// ErrConnect marks transport failures: refused connections, timeouts,
// authentication failures and responses that are not JSON-RPC.
var ErrConnect = errors.New("wallet connection failed")

// RPCError is an error object returned by the daemon.
type RPCError struct {
	Method  string
	Code    int
	Message string
}

func (e *RPCError) Error() string {
	if e.Method != "" {
		return fmt.Sprintf("%s: RPC error %d: %s", e.Method, e.Code, e.Message)
	}
	return fmt.Sprintf("RPC error %d: %s", e.Code, e.Message)
}

// Daemon error codes and messages we react to.
const (
	codeUnlockNeeded        = -13
	codePassphraseIncorrect = -14
	msgPassphraseIncorrect  = "The wallet passphrase entered was incorrect"
	msgWalletPassphrase     = "walletpassphrase"
	msgTooSmallToSend       = "too small to send"
)

// IsConnectError reports whether err is a transport failure rather than a
// daemon-side error.
func IsConnectError(err error) bool {
	return errors.Is(err, ErrConnect)
}

// AsRPCError returns the daemon error in err's chain, if any.
func AsRPCError(err error) (*RPCError, bool) {
	var rpcErr *RPCError
	if errors.As(err, &rpcErr) {
		return rpcErr, true
	}
	return nil, false
}

// IsWalletLocked reports whether a send failed because the wallet needs unlocking.
func IsWalletLocked(err error) bool {
	rpcErr, ok := AsRPCError(err)
	if !ok {
		return false
	}
	return rpcErr.Code == codeUnlockNeeded || strings.Contains(rpcErr.Message, msgWalletPassphrase)
}

// IsWrongPassphrase reports whether walletpassphrase rejected the passphrase.
func IsWrongPassphrase(err error) bool {
	rpcErr, ok := AsRPCError(err)
	if !ok {
		return false
	}
	return rpcErr.Code == codePassphraseIncorrect || strings.Contains(rpcErr.Message, msgPassphraseIncorrect)
}

// IsTooSmallToSend reports whether the daemon refused an amount as dust.
func IsTooSmallToSend(err error) bool {
	rpcErr, ok := AsRPCError(err)
	if !ok {
		return false
	}
	return strings.Contains(strings.ToLower(rpcErr.Message), msgTooSmallToSend)
}

// SentTo sums the absolute amounts of send entries paying address.
func SentTo(txs []Transaction, address string) decimal.Decimal {
	total := decimal.Zero
	for _, tx := range txs {
		if tx.Address == address && tx.Category == CategorySend {
			total = total.Add(tx.Amount.Abs())
		}
	}
	return total
}
