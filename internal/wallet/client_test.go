package wallet

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type rpcRequest struct {
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
}

// fakeDaemon answers JSON-RPC requests from a method table.
func fakeDaemon(t *testing.T, handlers map[string]func(params []json.RawMessage) (interface{}, *RPCError)) (*httptest.Server, *[]rpcRequest) {
	t.Helper()
	var seen []rpcRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "rpcuser" || pass != "rpcpass" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var req rpcRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("bad request body: %v", err)
			return
		}
		seen = append(seen, req)

		h, ok := handlers[req.Method]
		resp := map[string]interface{}{"id": 1}
		switch {
		case !ok:
			w.WriteHeader(http.StatusNotFound)
			resp["result"] = nil
			resp["error"] = map[string]interface{}{"code": -32601, "message": "Method not found"}
		default:
			result, rpcErr := h(req.Params)
			if rpcErr != nil {
				w.WriteHeader(http.StatusInternalServerError)
				resp["result"] = nil
				resp["error"] = map[string]interface{}{"code": rpcErr.Code, "message": rpcErr.Message}
			} else {
				resp["result"] = result
				resp["error"] = nil
			}
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)
	return srv, &seen
}

func TestClientCalls(t *testing.T) {
	srv, seen := fakeDaemon(t, map[string]func([]json.RawMessage) (interface{}, *RPCError){
		"getbalance":           func([]json.RawMessage) (interface{}, *RPCError) { return 12.5, nil },
		"getnewaddress":        func([]json.RawMessage) (interface{}, *RPCError) { return "PNewAddr", nil },
		"getreceivedbyaddress": func([]json.RawMessage) (interface{}, *RPCError) { return 0.00100000, nil },
		"getwork": func([]json.RawMessage) (interface{}, *RPCError) {
			return map[string]string{"target": "ffff0000"}, nil
		},
		"getinfo": func([]json.RawMessage) (interface{}, *RPCError) {
			return map[string]interface{}{"version": 80000, "unlocked_until": 0}, nil
		},
		"validateaddress": func([]json.RawMessage) (interface{}, *RPCError) {
			return map[string]interface{}{"isvalid": true, "ismine": true, "address": "PNewAddr"}, nil
		},
		"listtransactions": func([]json.RawMessage) (interface{}, *RPCError) {
			return []map[string]interface{}{
				{"address": "Pdest", "category": "send", "amount": -0.001, "txid": "a"},
				{"address": "Pdest", "category": "send", "amount": -1.999, "txid": "b"},
				{"address": "Pother", "category": "send", "amount": -5, "txid": "c"},
				{"address": "Pdest", "category": "receive", "amount": 3, "txid": "d"},
			}, nil
		},
		"sendtoaddress": func([]json.RawMessage) (interface{}, *RPCError) { return "txid123", nil },
	})

	c := NewClientURL(srv.URL, "rpcuser", "rpcpass")
	ctx := context.Background()

	bal, err := c.GetBalance(ctx)
	require.NoError(t, err)
	assert.True(t, bal.Equal(decimal.RequireFromString("12.5")))

	addr, err := c.GetNewAddress(ctx)
	require.NoError(t, err)
	assert.Equal(t, "PNewAddr", addr)

	recv, err := c.GetReceivedByAddress(ctx, "PNewAddr", 1)
	require.NoError(t, err)
	assert.True(t, recv.Equal(decimal.RequireFromString("0.001")))

	work, err := c.GetWork(ctx)
	require.NoError(t, err)
	assert.Equal(t, "ffff0000", work.Target)

	info, err := c.GetInfo(ctx)
	require.NoError(t, err)
	assert.True(t, info.Locked())

	v, err := c.ValidateAddress(ctx, "PNewAddr")
	require.NoError(t, err)
	assert.True(t, v.IsValid)
	assert.True(t, v.IsMine)

	txs, err := c.ListTransactions(ctx, "", 99999999, 0)
	require.NoError(t, err)
	require.Len(t, txs, 4)
	assert.True(t, SentTo(txs, "Pdest").Equal(decimal.RequireFromString("2")))

	txid, err := c.SendToAddress(ctx, "Pdest", decimal.RequireFromString("1.99900000"), "PeerTrade exchange")
	require.NoError(t, err)
	assert.Equal(t, "txid123", txid)

	last := (*seen)[len(*seen)-1]
	require.Equal(t, "sendtoaddress", last.Method)
	require.Len(t, last.Params, 3)
	assert.JSONEq(t, `"1.999"`, string(last.Params[1]), "amount is sent as a decimal string")

	rr := *seen
	assert.Equal(t, "getreceivedbyaddress", rr[2].Method)
	assert.JSONEq(t, `1`, string(rr[2].Params[1]))
}

func TestInfoLocked(t *testing.T) {
	zero, later := int64(0), int64(1700000000)
	assert.False(t, (&Info{}).Locked(), "unencrypted wallet")
	assert.True(t, (&Info{UnlockedUntil: &zero}).Locked())
	assert.False(t, (&Info{UnlockedUntil: &later}).Locked())
	assert.False(t, (*Info)(nil).Locked())
}

func TestServerErrorIsRPCError(t *testing.T) {
	srv, _ := fakeDaemon(t, map[string]func([]json.RawMessage) (interface{}, *RPCError){
		"getwork": func([]json.RawMessage) (interface{}, *RPCError) {
			return nil, &RPCError{Code: -10, Message: "Bitcoin is downloading blocks..."}
		},
		"sendtoaddress": func([]json.RawMessage) (interface{}, *RPCError) {
			return nil, &RPCError{Code: -13, Message: "Error: Please enter the wallet passphrase with walletpassphrase first."}
		},
		"walletpassphrase": func([]json.RawMessage) (interface{}, *RPCError) {
			return nil, &RPCError{Code: -14, Message: "Error: The wallet passphrase entered was incorrect."}
		},
	})
	c := NewClientURL(srv.URL, "rpcuser", "rpcpass")
	ctx := context.Background()

	_, err := c.GetWork(ctx)
	require.Error(t, err)
	assert.False(t, IsConnectError(err))
	rpcErr, ok := AsRPCError(err)
	require.True(t, ok)
	assert.Equal(t, -10, rpcErr.Code)

	_, err = c.SendToAddress(ctx, "x", decimal.NewFromInt(1), "")
	assert.True(t, IsWalletLocked(err))

	err = c.WalletPassphrase(ctx, "wrong", 86400)
	assert.True(t, IsWrongPassphrase(err))
	assert.False(t, IsWalletLocked(err), "-14 is not the locked code")

	_, err = c.GetBalance(ctx)
	rpcErr, ok = AsRPCError(err)
	require.True(t, ok, "unknown method is a server error")
	assert.Equal(t, -32601, rpcErr.Code)
}

func TestConnectErrors(t *testing.T) {
	ctx := context.Background()

	srv, _ := fakeDaemon(t, nil)
	_, err := NewClientURL(srv.URL, "rpcuser", "wrong").GetBalance(ctx)
	assert.True(t, IsConnectError(err), "bad credentials: %v", err)

	closed := httptest.NewServer(http.NotFoundHandler())
	url := closed.URL
	closed.Close()
	_, err = NewClientURL(url, "rpcuser", "rpcpass").GetWork(ctx)
	assert.True(t, IsConnectError(err), "refused: %v", err)

	html := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html>not a wallet</html>"))
	}))
	defer html.Close()
	_, err = NewClientURL(html.URL, "", "").GetInfo(ctx)
	assert.True(t, IsConnectError(err), "garbage: %v", err)
	assert.False(t, errors.Is(err, &RPCError{}))
}

func TestErrorClassifiers(t *testing.T) {
	assert.True(t, IsTooSmallToSend(&RPCError{Code: -4, Message: "Transaction amount too small to send"}))
	assert.False(t, IsTooSmallToSend(errors.New("too small to send")), "only daemon errors count")
	assert.True(t, IsWalletLocked(&RPCError{Code: -1, Message: "use walletpassphrase to unlock"}))
	assert.True(t, IsWrongPassphrase(&RPCError{Code: -1, Message: "The wallet passphrase entered was incorrect"}))
}

func TestNewClientURL(t *testing.T) {
	c := NewClient(&ClientConfig{Port: 9902})
	assert.Equal(t, "http://127.0.0.1:9902", c.URL())
	c = NewClient(&ClientConfig{Host: "::1", Port: 8332})
	assert.Equal(t, "http://[::1]:8332", c.URL())
}
