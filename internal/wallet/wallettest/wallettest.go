// Package wallettest provides an in-memory wallet.Gateway for tests. Wallets
// created from the same Network can pay each other.
package wallettest

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/peertrade/peertrade/internal/wallet"
)

// Network records transfers between fake wallets.
type Network struct {
	mu        sync.Mutex
	transfers []transfer
	nextAddr  int
	nextTx    int
}

type transfer struct {
	from    *Wallet
	to      string
	amount  decimal.Decimal
	txid    string
	comment string
}

// NewNetwork creates an empty network.
func NewNetwork() *Network {
	return &Network{}
}

// Wallet creates a wallet for symbol holding balance.
func (n *Network) Wallet(symbol string, balance decimal.Decimal) *Wallet {
	return &Wallet{
		net:        n,
		Symbol:     symbol,
		balance:    balance,
		owned:      make(map[string]bool),
		failures:   make(map[string][]error),
		WorkTarget: "00000000ffff0000000000000000000000000000000000000000000000000000",
	}
}

// Received returns the total paid to address.
func (n *Network) Received(address string) decimal.Decimal {
	n.mu.Lock()
	defer n.mu.Unlock()
	total := decimal.Zero
	for _, t := range n.transfers {
		if t.to == address {
			total = total.Add(t.amount)
		}
	}
	return total
}

// Pay credits address from outside any wallet, as if an unrelated party paid it.
func (n *Network) Pay(address string, amount decimal.Decimal) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.nextTx++
	n.transfers = append(n.transfers, transfer{to: address, amount: amount, txid: fmt.Sprintf("tx%d", n.nextTx)})
}

// Wallet is a fake wallet daemon. Configure exported fields before handing
// it to code under test.
type Wallet struct {
	net    *Network
	Symbol string

	// WorkTarget is returned by GetWork. Empty simulates a daemon that
	// answers without a target.
	WorkTarget string
	// Syncing makes GetWork fail with a server error.
	Syncing bool
	// Down makes every call fail with a connection error.
	Down bool

	// Encrypted wallets start locked and require Passphrase to unlock.
	Encrypted  bool
	Passphrase string

	// Invalid lists addresses ValidateAddress rejects.
	Invalid map[string]bool

	mu       sync.Mutex
	balance  decimal.Decimal
	unlocked bool
	owned    map[string]bool
	failures map[string][]error
	calls    []string
	locks    int
}

// FailNext queues err as the result of the next call to method.
func (w *Wallet) FailNext(method string, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.failures[method] = append(w.failures[method], err)
}

// Own marks address as belonging to this wallet.
func (w *Wallet) Own(address string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.owned[address] = true
}

// Calls returns the RPC methods invoked so far, in order.
func (w *Wallet) Calls() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.calls...)
}

// CallCount returns how many times method was invoked.
func (w *Wallet) CallCount(method string) int {
	n := 0
	for _, c := range w.Calls() {
		if c == method {
			n++
		}
	}
	return n
}

// Unlocked reports whether an encrypted wallet is currently unlocked.
func (w *Wallet) Unlocked() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.unlocked
}

// SetUnlocked changes the lock state, as if the user used the wallet UI.
func (w *Wallet) SetUnlocked(unlocked bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.unlocked = unlocked
}

// LockCount returns how many times WalletLock succeeded.
func (w *Wallet) LockCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.locks
}

// Balance returns the current balance.
func (w *Wallet) Balance() decimal.Decimal {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.balance
}

// SentTo returns the total this wallet paid to address.
func (w *Wallet) SentTo(address string) decimal.Decimal {
	w.net.mu.Lock()
	defer w.net.mu.Unlock()
	total := decimal.Zero
	for _, t := range w.net.transfers {
		if t.from == w && t.to == address {
			total = total.Add(t.amount)
		}
	}
	return total
}

// begin records the call and returns a queued or configured failure.
// Callers must hold w.mu.
func (w *Wallet) begin(method string) error {
	w.calls = append(w.calls, method)
	if q := w.failures[method]; len(q) > 0 {
		w.failures[method] = q[1:]
		return q[0]
	}
	if w.Down {
		return fmt.Errorf("%w: %s: dial tcp 127.0.0.1:0: connect: connection refused", wallet.ErrConnect, method)
	}
	return nil
}

func (w *Wallet) GetNewAddress(ctx context.Context) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.begin("getnewaddress"); err != nil {
		return "", err
	}
	w.net.mu.Lock()
	w.net.nextAddr++
	addr := fmt.Sprintf("%s-addr-%d", w.Symbol, w.net.nextAddr)
	w.net.mu.Unlock()
	w.owned[addr] = true
	return addr, nil
}

func (w *Wallet) GetBalance(ctx context.Context) (decimal.Decimal, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.begin("getbalance"); err != nil {
		return decimal.Zero, err
	}
	return w.balance, nil
}

func (w *Wallet) GetReceivedByAddress(ctx context.Context, address string, minConf int) (decimal.Decimal, error) {
	w.mu.Lock()
	err := w.begin("getreceivedbyaddress")
	w.mu.Unlock()
	if err != nil {
		return decimal.Zero, err
	}
	return w.net.Received(address), nil
}

func (w *Wallet) ListTransactions(ctx context.Context, account string, count, from int) ([]wallet.Transaction, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.begin("listtransactions"); err != nil {
		return nil, err
	}

	w.net.mu.Lock()
	defer w.net.mu.Unlock()
	var txs []wallet.Transaction
	for _, t := range w.net.transfers {
		if t.from == w {
			txs = append(txs, wallet.Transaction{Address: t.to, Category: wallet.CategorySend, Amount: t.amount.Neg(), TxID: t.txid})
		}
		if w.owned[t.to] {
			txs = append(txs, wallet.Transaction{Address: t.to, Category: wallet.CategoryReceive, Amount: t.amount, TxID: t.txid})
		}
	}
	if from > len(txs) {
		return nil, nil
	}
	txs = txs[from:]
	if count < len(txs) {
		txs = txs[:count]
	}
	return txs, nil
}

func (w *Wallet) ValidateAddress(ctx context.Context, address string) (*wallet.AddressValidation, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.begin("validateaddress"); err != nil {
		return nil, err
	}
	valid := address != "" && !w.Invalid[address]
	return &wallet.AddressValidation{IsValid: valid, IsMine: valid && w.owned[address], Address: address}, nil
}

func (w *Wallet) GetInfo(ctx context.Context) (*wallet.Info, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.begin("getinfo"); err != nil {
		return nil, err
	}
	if !w.Encrypted {
		return &wallet.Info{}, nil
	}
	until := int64(0)
	if w.unlocked {
		until = 1999999999
	}
	return &wallet.Info{UnlockedUntil: &until}, nil
}

func (w *Wallet) GetWork(ctx context.Context) (*wallet.Work, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.begin("getwork"); err != nil {
		return nil, err
	}
	if w.Syncing {
		return nil, &wallet.RPCError{Method: "getwork", Code: -10, Message: "Bitcoin is downloading blocks..."}
	}
	return &wallet.Work{Target: w.WorkTarget}, nil
}

func (w *Wallet) SendToAddress(ctx context.Context, address string, amount decimal.Decimal, comment string) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.begin("sendtoaddress"); err != nil {
		return "", err
	}
	if w.Encrypted && !w.unlocked {
		return "", &wallet.RPCError{Method: "sendtoaddress", Code: -13, Message: "Error: Please enter the wallet passphrase with walletpassphrase first."}
	}
	if !amount.IsPositive() {
		return "", &wallet.RPCError{Method: "sendtoaddress", Code: -3, Message: "Invalid amount"}
	}
	if amount.GreaterThan(w.balance) {
		return "", &wallet.RPCError{Method: "sendtoaddress", Code: -6, Message: "Insufficient funds"}
	}
	w.balance = w.balance.Sub(amount)

	w.net.mu.Lock()
	defer w.net.mu.Unlock()
	w.net.nextTx++
	txid := fmt.Sprintf("tx%d", w.net.nextTx)
	w.net.transfers = append(w.net.transfers, transfer{from: w, to: address, amount: amount, txid: txid, comment: comment})
	return txid, nil
}

func (w *Wallet) WalletLock(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.begin("walletlock"); err != nil {
		return err
	}
	w.unlocked = false
	w.locks++
	return nil
}

func (w *Wallet) WalletPassphrase(ctx context.Context, passphrase string, seconds int64) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.begin("walletpassphrase"); err != nil {
		return err
	}
	if !w.Encrypted {
		return &wallet.RPCError{Method: "walletpassphrase", Code: -15, Message: "Error: running with an unencrypted wallet, but walletpassphrase was called."}
	}
	if passphrase != w.Passphrase {
		return &wallet.RPCError{Method: "walletpassphrase", Code: -14, Message: "Error: The wallet passphrase entered was incorrect."}
	}
	w.unlocked = true
	return nil
}

var _ wallet.Gateway = (*Wallet)(nil)
