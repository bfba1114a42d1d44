// Package trade holds the parameter set of a single two-legged trade.
package trade

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/peertrade/peertrade/pkg/helpers"
)

// Status is the ledger status of a trade.
type Status string

const (
	StatusIncomplete Status = "incomplete"
	StatusComplete   Status = "complete"
	StatusCancelled  Status = "cancelled"
)

// Finalized reports whether a trade with this status can no longer be resumed.
func (s Status) Finalized() bool {
	return s == StatusComplete || s == StatusCancelled
}

// Leg describes one side of a trade: the wallet we talk to and the payment
// flowing through it.
type Leg struct {
	Symbol      string          `json:"symbol"`
	Name        string          `json:"name"`
	Host        string          `json:"host"`
	RPCPort     int             `json:"rpc_port"`
	RPCUser     string          `json:"rpc_user"`
	RPCPass     string          `json:"rpc_pass"`
	Address     string          `json:"address"`
	Amount      decimal.Decimal `json:"amount"`
	HelloAmount decimal.Decimal `json:"hello_amount"`
}

// Connection holds the daemon settings a coin lookup supplies for a leg.
type Connection struct {
	Symbol        string
	Name          string
	Host          string
	RPCPort       int
	RPCUser       string
	RPCPass       string
	HelloAmount   decimal.Decimal
	DonateAddress string
}

// ApplyConnection copies daemon settings onto the leg. Address and amount
// are left untouched.
func (l *Leg) ApplyConnection(c Connection) {
	l.Symbol = c.Symbol
	l.Name = c.Name
	l.Host = c.Host
	l.RPCPort = c.RPCPort
	l.RPCUser = c.RPCUser
	l.RPCPass = c.RPCPass
	l.HelloAmount = c.HelloAmount
}

// PerRound returns amount / rounds truncated to 8 decimal places, or zero
// when rounds is not positive.
func (l *Leg) PerRound(rounds int) decimal.Decimal {
	if rounds <= 0 {
		return decimal.Zero
	}
	return helpers.TruncateCoin(l.Amount.Div(decimal.NewFromInt(int64(rounds))))
}

// Threshold is the total that counts as fully settled: amount minus hello.
func (l *Leg) Threshold() decimal.Decimal {
	return l.Amount.Sub(l.HelloAmount)
}

// Config is the full parameter set of one trade. Send is the leg we pay
// out of; Receive is the leg we get paid into.
type Config struct {
	Send    Leg `json:"send"`
	Receive Leg `json:"receive"`

	NumRounds int `json:"num_rounds"`
	MinConf   int `json:"min_conf"`

	DonateAddress string          `json:"donate_address,omitempty"`
	DonateAmount  decimal.Decimal `json:"donate_amount"`

	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`

	Token             string `json:"token"`
	CounterpartyToken string `json:"counterparty_token"`

	Status Status `json:"status,omitempty"`
}

// ApplySendConnection fills the send leg from coin metadata, including the
// donation address that belongs to the currency we pay in.
func (c *Config) ApplySendConnection(conn Connection) {
	c.Send.ApplyConnection(conn)
	c.DonateAddress = conn.DonateAddress
}

// ApplyReceiveConnection fills the receive leg from coin metadata.
func (c *Config) ApplyReceiveConnection(conn Connection) {
	c.Receive.ApplyConnection(conn)
}

// Clone returns a field-by-field copy.
func (c *Config) Clone() *Config {
	return &Config{
		Send:              c.Send,
		Receive:           c.Receive,
		NumRounds:         c.NumRounds,
		MinConf:           c.MinConf,
		DonateAddress:     c.DonateAddress,
		DonateAmount:      c.DonateAmount,
		StartTime:         c.StartTime,
		EndTime:           c.EndTime,
		Token:             c.Token,
		CounterpartyToken: c.CounterpartyToken,
		Status:            c.Status,
	}
}

// Key returns the ledger key, derived from the address pair.
func (c *Config) Key() string {
	return Key(c.Receive.Address, c.Send.Address)
}

// Key builds a ledger key from a receive and a send address.
func Key(receiveAddress, sendAddress string) string {
	return receiveAddress + "_" + sendAddress
}

// Title returns a one-line description such as "Buy 5 LTC, Sell 20 PPC".
func (c *Config) Title() string {
	return fmt.Sprintf("Buy %s %s, Sell %s %s",
		helpers.FormatAmount(c.Receive.Amount), c.Receive.Symbol,
		helpers.FormatAmount(c.Send.Amount), c.Send.Symbol)
}

// SendPerRound returns the amount paid out each round.
func (c *Config) SendPerRound() decimal.Decimal {
	return c.Send.PerRound(c.NumRounds)
}

// ReceivePerRound returns the amount expected each round.
func (c *Config) ReceivePerRound() decimal.Decimal {
	return c.Receive.PerRound(c.NumRounds)
}

// Donation returns the tip for the send amount at the given fraction,
// truncated to 8 places.
func (c *Config) Donation(fraction decimal.Decimal) decimal.Decimal {
	return helpers.TruncateCoin(c.Send.Amount.Mul(fraction))
}

// Validate checks the invariants that must hold once both legs are known.
func (c *Config) Validate() error {
	if c.Send.Symbol != "" && c.Send.Symbol == c.Receive.Symbol {
		return fmt.Errorf("send and receive currency are both %s", c.Send.Symbol)
	}
	if c.Send.Address != "" && c.Send.Address == c.Receive.Address {
		return fmt.Errorf("send and receive address are both %s", c.Send.Address)
	}
	if c.NumRounds < 0 || c.MinConf < 0 {
		return fmt.Errorf("rounds and confirmations must not be negative")
	}
	return nil
}

// ValidateRounds rejects schedules that would divide by zero during
// settlement: no rounds, or a leg whose per-round share truncates to zero.
func (c *Config) ValidateRounds() error {
	if c.NumRounds <= 0 {
		return fmt.Errorf("number of rounds must be positive, got %d", c.NumRounds)
	}
	if !c.SendPerRound().IsPositive() {
		return fmt.Errorf("%s %s over %d rounds leaves nothing per round",
			helpers.FormatAmount(c.Send.Amount), c.Send.Symbol, c.NumRounds)
	}
	if !c.ReceivePerRound().IsPositive() {
		return fmt.Errorf("%s %s over %d rounds leaves nothing per round",
			helpers.FormatAmount(c.Receive.Amount), c.Receive.Symbol, c.NumRounds)
	}
	return nil
}
