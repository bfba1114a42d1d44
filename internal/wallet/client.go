package wallet

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"github.com/peertrade/peertrade/pkg/helpers"
)

// DefaultTimeout bounds a single RPC round trip.
const DefaultTimeout = 30 * time.Second

// ClientConfig holds the connection settings of one wallet daemon.
type ClientConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Timeout  time.Duration
}

// Client implements Gateway over HTTP JSON-RPC.
type Client struct {
	rpcURL     string
	rpcUser    string
	rpcPass    string
	httpClient *http.Client
	requestID  atomic.Uint64
}

// NewClient creates a client for the daemon described by cfg.
func NewClient(cfg *ClientConfig) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	host := cfg.Host
	if host == "" {
		host = "127.0.0.1"
	}
	return &Client{
		rpcURL:  "http://" + net.JoinHostPort(host, strconv.Itoa(cfg.Port)),
		rpcUser: cfg.User,
		rpcPass: cfg.Password,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// NewClientURL creates a client for a full endpoint URL.
func NewClientURL(rpcURL, user, pass string) *Client {
	return &Client{
		rpcURL:     rpcURL,
		rpcUser:    user,
		rpcPass:    pass,
		httpClient: &http.Client{Timeout: DefaultTimeout},
	}
}

// URL returns the endpoint, without credentials.
func (c *Client) URL() string {
	return c.rpcURL
}

// GetNewAddress returns a fresh receiving address.
func (c *Client) GetNewAddress(ctx context.Context) (string, error) {
	var addr string
	if err := c.callInto(ctx, "getnewaddress", []interface{}{}, &addr); err != nil {
		return "", err
	}
	return addr, nil
}

// GetBalance returns the spendable wallet balance.
func (c *Client) GetBalance(ctx context.Context) (decimal.Decimal, error) {
	var balance decimal.Decimal
	if err := c.callInto(ctx, "getbalance", []interface{}{}, &balance); err != nil {
		return decimal.Zero, err
	}
	return balance, nil
}

// GetReceivedByAddress returns the total ever received at address with at
// least minConf confirmations.
func (c *Client) GetReceivedByAddress(ctx context.Context, address string, minConf int) (decimal.Decimal, error) {
	var amount decimal.Decimal
	if err := c.callInto(ctx, "getreceivedbyaddress", []interface{}{address, minConf}, &amount); err != nil {
		return decimal.Zero, err
	}
	return amount, nil
}

// ListTransactions returns wallet history entries.
func (c *Client) ListTransactions(ctx context.Context, account string, count, from int) ([]Transaction, error) {
	var txs []Transaction
	if err := c.callInto(ctx, "listtransactions", []interface{}{account, count, from}, &txs); err != nil {
		return nil, err
	}
	return txs, nil
}

// ValidateAddress checks an address against the daemon.
func (c *Client) ValidateAddress(ctx context.Context, address string) (*AddressValidation, error) {
	var v AddressValidation
	if err := c.callInto(ctx, "validateaddress", []interface{}{address}, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

// GetInfo returns daemon info, including the wallet lock state.
func (c *Client) GetInfo(ctx context.Context) (*Info, error) {
	var info Info
	if err := c.callInto(ctx, "getinfo", []interface{}{}, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// GetWork requests mining work. It fails while the daemon is still
// downloading blocks.
func (c *Client) GetWork(ctx context.Context) (*Work, error) {
	var work Work
	if err := c.callInto(ctx, "getwork", []interface{}{}, &work); err != nil {
		return nil, err
	}
	return &work, nil
}

// SendToAddress pays amount to address and returns the transaction id.
// The amount goes over the wire as a decimal string.
func (c *Client) SendToAddress(ctx context.Context, address string, amount decimal.Decimal, comment string) (string, error) {
	var txid string
	params := []interface{}{address, helpers.FormatAmount(amount), comment}
	if err := c.callInto(ctx, "sendtoaddress", params, &txid); err != nil {
		return "", err
	}
	return txid, nil
}

// WalletLock locks an encrypted wallet.
func (c *Client) WalletLock(ctx context.Context) error {
	_, err := c.call(ctx, "walletlock", []interface{}{})
	return err
}

// WalletPassphrase unlocks an encrypted wallet for the given number of seconds.
func (c *Client) WalletPassphrase(ctx context.Context, passphrase string, seconds int64) error {
	_, err := c.call(ctx, "walletpassphrase", []interface{}{passphrase, seconds})
	return err
}

// Call invokes method with params and decodes the result into out. It is
// for JSON-RPC services other than the wallet daemon.
func (c *Client) Call(ctx context.Context, method string, params []interface{}, out interface{}) error {
	return c.callInto(ctx, method, params, out)
}

func (c *Client) callInto(ctx context.Context, method string, params []interface{}, out interface{}) error {
	result, err := c.call(ctx, method, params)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(result, out); err != nil {
		return fmt.Errorf("failed to parse %s result: %w", method, err)
	}
	return nil
}

func (c *Client) call(ctx context.Context, method string, params []interface{}) (json.RawMessage, error) {
	id := c.requestID.Add(1)

	request := map[string]interface{}{
		"jsonrpc": "1.0",
		"id":      id,
		"method":  method,
		"params":  params,
	}

	data, err := json.Marshal(request)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.rpcURL, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}

	req.Header.Set("Content-Type", "application/json")

	if c.rpcUser != "" {
		req.SetBasicAuth(c.rpcUser, c.rpcPass)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrConnect, method, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrConnect, method, err)
	}

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, fmt.Errorf("%w: %s: HTTP %d, check rpcuser and rpcpassword", ErrConnect, method, resp.StatusCode)
	}

	var response struct {
		Result json.RawMessage `json:"result"`
		Error  *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}

	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("%w: %s: HTTP %d: unparseable response", ErrConnect, method, resp.StatusCode)
	}

	if response.Error != nil {
		return nil, &RPCError{Method: method, Code: response.Error.Code, Message: response.Error.Message}
	}

	return response.Result, nil
}

var _ Gateway = (*Client)(nil)
