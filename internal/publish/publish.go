// Package publish reports completed trades to a market data service over
// JSON-RPC, for price discovery.
package publish

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/peertrade/peertrade/internal/trade"
	"github.com/peertrade/peertrade/internal/wallet"
	"github.com/peertrade/peertrade/pkg/logging"
)

// ErrRejected is returned when the service answers without a trade id.
var ErrRejected = errors.New("trade was not accepted")

// Caller makes one JSON-RPC call.
type Caller interface {
	Call(ctx context.Context, method string, params []interface{}, out interface{}) error
}

// Record is the published form of a trade.
type Record struct {
	Token             string   `json:"token"`
	CounterpartyToken string   `json:"token_counter_party"`
	Start             int64    `json:"timest_start"`
	End               int64    `json:"timest_end"`
	Transactions      []string `json:"transactions"`
}

// NewRecord builds the record for a completed trade. Transaction ids are
// not sent; the payment addresses inside the tokens already identify them.
func NewRecord(cfg *trade.Config) *Record {
	return &Record{
		Token:             cfg.Token,
		CounterpartyToken: cfg.CounterpartyToken,
		Start:             cfg.StartTime.Unix(),
		End:               cfg.EndTime.Unix(),
		Transactions:      []string{},
	}
}

// Publisher sends trade records to one service endpoint.
type Publisher struct {
	url    string
	caller Caller
	log    *logging.Logger
}

// New creates a Publisher for the JSON-RPC endpoint at rawURL.
func New(rawURL string, log *logging.Logger) *Publisher {
	return NewWithCaller(rawURL, wallet.NewClientURL(rawURL, "", ""), log)
}

// NewWithCaller creates a Publisher that sends through caller.
func NewWithCaller(rawURL string, caller Caller, log *logging.Logger) *Publisher {
	return &Publisher{
		url:    rawURL,
		caller: caller,
		log:    logging.OrDefault(log, "publish"),
	}
}

// Host returns the service host name, for prompts.
func (p *Publisher) Host() string {
	u, err := url.Parse(p.url)
	if err != nil || u.Hostname() == "" {
		return p.url
	}
	return u.Hostname()
}

// Publish sends the trade and returns the id the service assigned to it.
func (p *Publisher) Publish(ctx context.Context, cfg *trade.Config) (string, error) {
	var result json.RawMessage
	if err := p.caller.Call(ctx, "publish_trade", []interface{}{NewRecord(cfg)}, &result); err != nil {
		p.log.Warn("Unable to publish trade", "key", cfg.Key(), "error", err)
		return "", err
	}
	id, err := tradeID(result)
	if err != nil {
		p.log.Warn("Unable to publish trade", "key", cfg.Key(), "error", err)
		return "", err
	}
	p.log.Info("Trade published", "key", cfg.Key(), "id", id)
	return id, nil
}

// tradeID reads the service result: a string or number id on success,
// false or null or an object naming an invalid parameter otherwise.
func tradeID(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return "", ErrRejected
	}

	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", fmt.Errorf("unexpected result %s: %w", raw, err)
		}
		if s == "" {
			return "", ErrRejected
		}
		return s, nil
	case '{':
		var obj struct {
			InvalidParam string `json:"invalid_param"`
			Message      string `json:"message"`
		}
		if err := json.Unmarshal(raw, &obj); err != nil {
			return "", fmt.Errorf("unexpected result %s: %w", raw, err)
		}
		if obj.InvalidParam != "" {
			return "", fmt.Errorf("%w: invalid parameter %s", ErrRejected, obj.InvalidParam)
		}
		if obj.Message != "" {
			return "", fmt.Errorf("%w: %s", ErrRejected, obj.Message)
		}
		return "", fmt.Errorf("%w: unexpected result %s", ErrRejected, raw)
	}

	s := string(raw)
	switch s {
	case "null", "false", "0":
		return "", ErrRejected
	case "true":
		return "", fmt.Errorf("%w: no trade id returned", ErrRejected)
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", fmt.Errorf("unexpected result %s: %w", raw, err)
	}
	return strings.TrimSpace(n.String()), nil
}
