package negotiate

import (
	"context"
	"fmt"

	"github.com/peertrade/peertrade/internal/coinmeta"
	"github.com/peertrade/peertrade/internal/readiness"
	"github.com/peertrade/peertrade/internal/trade"
	"github.com/peertrade/peertrade/internal/tradeerr"
	"github.com/peertrade/peertrade/internal/wallet"
)

// Dialer builds a wallet connection for a trade leg.
type Dialer interface {
	Dial(leg *trade.Leg) (gw wallet.Gateway, endpoint string)
}

// RPCDialer dials wallet daemons over JSON-RPC.
type RPCDialer struct {
	Config wallet.ClientConfig
}

// Dial implements Dialer. Connection settings come from leg; timeouts
// come from d.Config.
func (d RPCDialer) Dial(leg *trade.Leg) (wallet.Gateway, string) {
	cfg := d.Config
	cfg.Host = leg.Host
	cfg.Port = leg.RPCPort
	cfg.User = leg.RPCUser
	cfg.Password = leg.RPCPass
	c := wallet.NewClient(&cfg)
	return c, c.URL()
}

// Configurator fills in connection settings the coin store lacks, usually
// by asking the user and saving the answers.
type Configurator interface {
	// Configure returns coin with its connection settings completed.
	// showDefaults is true when the current settings failed and the user
	// should review all of them, not only the missing ones.
	Configure(ctx context.Context, coin *coinmeta.Coin, showDefaults bool) (*coinmeta.Coin, error)
}

// CoinLookup resolves coin metadata by symbol.
type CoinLookup interface {
	Lookup(symbol string) (*coinmeta.Coin, error)
}

// Session is a trade configuration with live, probed wallet connections.
type Session struct {
	Config *trade.Config

	Send            wallet.Gateway
	SendEndpoint    string
	Receive         wallet.Gateway
	ReceiveEndpoint string

	// Unlocker owns the send wallet's lock state for the rest of the trade.
	Unlocker *readiness.Unlocker
}

// coin looks up symbol and completes missing connection settings.
func (e *Engine) coin(ctx context.Context, symbol string, review bool) (*coinmeta.Coin, error) {
	c, err := e.Coins.Lookup(symbol)
	if err != nil {
		return nil, fmt.Errorf("coin settings for %s: %w", symbol, err)
	}
	if e.Configurator != nil && (review || !c.Configured()) {
		if c, err = e.Configurator.Configure(ctx, c, review); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// ApplyCoins fills both legs' connection settings from coin metadata.
// Legs without a symbol are skipped.
func (e *Engine) ApplyCoins(ctx context.Context, cfg *trade.Config) error {
	if cfg.Receive.Symbol != "" {
		c, err := e.coin(ctx, cfg.Receive.Symbol, false)
		if err != nil {
			return err
		}
		cfg.ApplyReceiveConnection(c.Connection())
	}
	if cfg.Send.Symbol != "" {
		c, err := e.coin(ctx, cfg.Send.Symbol, false)
		if err != nil {
			return err
		}
		cfg.ApplySendConnection(c.Connection())
	}
	return nil
}

// Connect dials both wallets and probes them until ready, the receive
// wallet first. Decisions along the way go to e.Resolver. Settings the
// user corrects while reconfiguring are written back to cfg.
func (e *Engine) Connect(ctx context.Context, cfg *trade.Config) (*Session, error) {
	return e.connect(ctx, cfg, nil)
}

// connect is Connect with an optional Unlocker carried over from an
// earlier session. A nil unlocker gets a fresh one, relocked again if the
// send probe fails after unlocking.
func (e *Engine) connect(ctx context.Context, cfg *trade.Config, unlocker *readiness.Unlocker) (*Session, error) {
	sess := &Session{Config: cfg}

	recv, recvEndpoint, err := e.probe(ctx, &cfg.Receive, readiness.RoleReceive, nil)
	if err != nil {
		return nil, err
	}
	sess.Receive, sess.ReceiveEndpoint = recv, recvEndpoint

	sess.Unlocker = unlocker
	if sess.Unlocker == nil {
		sess.Unlocker = readiness.NewUnlocker(cfg.Send.Symbol, nil, e.Resolver, e.Log)
		if e.UnlockDuration > 0 {
			sess.Unlocker.Duration = e.UnlockDuration
		}
	}
	send, sendEndpoint, err := e.probe(ctx, &cfg.Send, readiness.RoleSend, sess.Unlocker)
	if err != nil {
		if unlocker == nil {
			e.Release(ctx, sess)
		}
		return nil, err
	}
	sess.Send, sess.SendEndpoint = send, sendEndpoint

	return sess, nil
}

// Release relocks the send wallet if this session unlocked it. It is for
// sessions that end before settlement starts; a failed relock is logged
// and returned.
func (e *Engine) Release(ctx context.Context, sess *Session) error {
	if sess == nil || sess.Unlocker == nil || !sess.Unlocker.RelockOwed() {
		return nil
	}
	if err := sess.Unlocker.Relock(context.WithoutCancel(ctx)); err != nil {
		e.Log.Warn("Could not relock wallet", "symbol", sess.Unlocker.Symbol, "error", err)
		return err
	}
	return nil
}

func (e *Engine) probe(ctx context.Context, leg *trade.Leg, role readiness.Role, unlocker *readiness.Unlocker) (wallet.Gateway, string, error) {
	if e.Resolver == nil {
		return nil, "", fmt.Errorf("negotiate: no resolver configured")
	}

	gw, endpoint := e.Dialer.Dial(leg)
	if unlocker != nil {
		unlocker.SetGateway(gw)
	}

	p := readiness.New(&readiness.Config{
		Symbol:   leg.Symbol,
		Role:     role,
		Gateway:  gw,
		Endpoint: endpoint,
		Unlocker: unlocker,
		Log:      e.Log,
		Redial: func(ctx context.Context) (wallet.Gateway, string, error) {
			c, err := e.coin(ctx, leg.Symbol, true)
			if err != nil {
				return nil, "", err
			}
			leg.ApplyConnection(c.Connection())
			gw, endpoint := e.Dialer.Dial(leg)
			return gw, endpoint, nil
		},
	})

	if err := p.Run(ctx, e.Resolver); err != nil {
		return nil, "", err
	}
	return p.Gateway(), p.Endpoint(), nil
}

// rpcError tags a failed wallet call.
func rpcError(symbol, method string, err error) error {
	code := tradeerr.CodeRPC
	if wallet.IsConnectError(err) {
		code = tradeerr.CodeConnectFailed
	}
	return tradeerr.Wrap(code, err, "%s %s failed", symbol, method).WithSymbol(symbol)
}
