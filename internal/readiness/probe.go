// Package readiness drives a wallet daemon from "unknown" to "ready to
// trade": reachable, synced and, for the sending wallet, unlocked.
package readiness

import (
	"context"
	"errors"
	"fmt"

	"github.com/qmuntal/stateless"

	"github.com/peertrade/peertrade/internal/tradeerr"
	"github.com/peertrade/peertrade/internal/wallet"
	"github.com/peertrade/peertrade/pkg/logging"
)

// State is a readiness state.
type State string

const (
	StateUnknown       State = "unknown"
	StateChecking      State = "checking"
	StateSynced        State = "synced"
	StateUnsynced      State = "unsynced"
	StateConnectFailed State = "connect_failed"
	StateWalletLocked  State = "wallet_locked"
	StateReady         State = "ready"
	StateAborted       State = "aborted"
)

// Trigger moves the probe between states.
type Trigger string

const (
	TriggerCheck         Trigger = "check"
	TriggerSynced        Trigger = "synced"
	TriggerUnsynced      Trigger = "unsynced"
	TriggerConnectFailed Trigger = "connect_failed"
	TriggerLocked        Trigger = "locked"
	TriggerReady         Trigger = "ready"
	TriggerRetry         Trigger = "retry"
	TriggerReconfigure   Trigger = "reconfigure"
	TriggerUnlocked      Trigger = "unlocked"
	TriggerTryAgain      Trigger = "try_again"
	TriggerAbort         Trigger = "abort"
)

// Role says which side of the trade a wallet serves.
type Role int

const (
	RoleReceive Role = iota
	RoleSend
)

func (r Role) String() string {
	if r == RoleSend {
		return "send"
	}
	return "receive"
}

// Outcome is what a Step leaves the probe waiting on.
type Outcome struct {
	State State
	// Choices lists the valid answers at a decision point. Empty for
	// terminal states.
	Choices []Choice
	// Err is the failure that led to Unsynced or ConnectFailed.
	Err error
}

// Terminal reports whether the probe finished.
func (o *Outcome) Terminal() bool {
	return o.State == StateReady || o.State == StateAborted
}

// Config configures a Probe.
type Config struct {
	Symbol   string
	Role     Role
	Gateway  wallet.Gateway
	Endpoint string

	// Unlocker handles a locked sending wallet. Required for RoleSend.
	Unlocker *Unlocker

	// Redial is called on ChoiceReconfigure to build a new connection from
	// corrected settings. When nil, reconfigure behaves like retry.
	Redial func(ctx context.Context) (wallet.Gateway, string, error)

	Log *logging.Logger
}

// Probe is the readiness state machine for one wallet endpoint.
type Probe struct {
	sm       *stateless.StateMachine
	symbol   string
	role     Role
	gw       wallet.Gateway
	endpoint string
	unlocker *Unlocker
	redial   func(ctx context.Context) (wallet.Gateway, string, error)
	log      *logging.Logger

	lastErr     error
	abortedFrom State
}

// New creates a probe in StateUnknown.
func New(cfg *Config) *Probe {
	p := &Probe{
		sm:       stateless.NewStateMachine(StateUnknown),
		symbol:   cfg.Symbol,
		role:     cfg.Role,
		gw:       cfg.Gateway,
		endpoint: cfg.Endpoint,
		unlocker: cfg.Unlocker,
		redial:   cfg.Redial,
		log:      logging.OrDefault(cfg.Log, "readiness"),
	}

	p.sm.Configure(StateUnknown).
		Permit(TriggerCheck, StateChecking)

	p.sm.Configure(StateChecking).
		Permit(TriggerSynced, StateSynced).
		Permit(TriggerUnsynced, StateUnsynced).
		Permit(TriggerConnectFailed, StateConnectFailed)

	p.sm.Configure(StateSynced).
		Permit(TriggerReady, StateReady).
		Permit(TriggerLocked, StateWalletLocked).
		Permit(TriggerConnectFailed, StateConnectFailed)

	p.sm.Configure(StateUnsynced).
		Permit(TriggerRetry, StateChecking).
		Permit(TriggerAbort, StateAborted)

	p.sm.Configure(StateConnectFailed).
		Permit(TriggerRetry, StateChecking).
		Permit(TriggerReconfigure, StateChecking).
		Permit(TriggerAbort, StateAborted)

	p.sm.Configure(StateWalletLocked).
		Permit(TriggerUnlocked, StateReady).
		Permit(TriggerTryAgain, StateSynced).
		Permit(TriggerAbort, StateAborted)

	p.sm.Configure(StateReady)
	p.sm.Configure(StateAborted)

	return p
}

// State returns the current state.
func (p *Probe) State() State {
	return p.sm.MustState().(State)
}

// Gateway returns the current wallet connection, which may have been
// replaced by a reconfigure.
func (p *Probe) Gateway() wallet.Gateway {
	return p.gw
}

// Endpoint returns the current endpoint description.
func (p *Probe) Endpoint() string {
	return p.endpoint
}

func (p *Probe) fire(t Trigger) error {
	from := p.State()
	if err := p.sm.Fire(t); err != nil {
		return fmt.Errorf("readiness %s: %w", p.symbol, err)
	}
	p.log.Debug("Readiness transition", "symbol", p.symbol, "from", from, "trigger", t, "to", p.State())
	return nil
}

// Step performs the RPCs the current state calls for and advances until
// the probe is terminal or waiting on a decision.
func (p *Probe) Step(ctx context.Context) (*Outcome, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		switch p.State() {
		case StateUnknown:
			if err := p.fire(TriggerCheck); err != nil {
				return nil, err
			}

		case StateChecking:
			if err := p.fire(p.checkSync(ctx)); err != nil {
				return nil, err
			}

		case StateSynced:
			t, err := p.checkLock(ctx)
			if err != nil {
				return nil, err
			}
			if err := p.fire(t); err != nil {
				return nil, err
			}

		case StateUnsynced:
			return &Outcome{State: StateUnsynced, Choices: []Choice{ChoiceRetry, ChoiceAbort}, Err: p.lastErr}, nil

		case StateConnectFailed:
			return &Outcome{State: StateConnectFailed, Choices: []Choice{ChoiceRetry, ChoiceReconfigure, ChoiceAbort}, Err: p.lastErr}, nil

		case StateWalletLocked:
			return &Outcome{State: StateWalletLocked, Choices: []Choice{ChoiceUnlock, ChoiceTryAgain, ChoiceAbort}}, nil

		default:
			return &Outcome{State: p.State()}, nil
		}
	}
}

// checkSync issues getwork and classifies the result.
func (p *Probe) checkSync(ctx context.Context) Trigger {
	p.log.Info("Checking for running wallet", "symbol", p.symbol, "role", p.role)

	work, err := p.gw.GetWork(ctx)
	switch {
	case err == nil && work != nil && work.Target != "":
		p.lastErr = nil
		p.log.Info("Blockchain is synced", "symbol", p.symbol)
		return TriggerSynced
	case err == nil:
		p.lastErr = fmt.Errorf("%s getwork returned a result without a target", p.symbol)
		p.log.Warn("Unrecognized getwork result", "symbol", p.symbol)
		return TriggerConnectFailed
	case wallet.IsConnectError(err):
		p.lastErr = err
		p.log.Warn("Connect failed", "symbol", p.symbol, "endpoint", p.endpoint, "error", err)
		return TriggerConnectFailed
	default:
		p.lastErr = err
		p.log.Warn("Blockchain is not fully synced", "symbol", p.symbol, "error", err)
		return TriggerUnsynced
	}
}

// checkLock decides between Ready and WalletLocked once the chain is synced.
func (p *Probe) checkLock(ctx context.Context) (Trigger, error) {
	if p.role != RoleSend {
		return TriggerReady, nil
	}

	info, err := p.gw.GetInfo(ctx)
	if err != nil {
		if wallet.IsConnectError(err) {
			p.lastErr = err
			return TriggerConnectFailed, nil
		}
		return "", tradeerr.Wrap(tradeerr.CodeRPC, err, "%s getinfo failed", p.symbol).WithSymbol(p.symbol)
	}
	if info.Locked() {
		p.log.Warn("Send wallet is locked", "symbol", p.symbol)
		return TriggerLocked, nil
	}
	return TriggerReady, nil
}

// Retry re-checks the daemon after Unsynced or ConnectFailed.
func (p *Probe) Retry() error {
	return p.fire(TriggerRetry)
}

// Reconfigure swaps in a new connection built by Redial and re-checks.
func (p *Probe) Reconfigure(ctx context.Context) error {
	if p.redial == nil {
		return p.fire(TriggerRetry)
	}
	gw, endpoint, err := p.redial(ctx)
	if err != nil {
		return err
	}
	p.gw = gw
	p.endpoint = endpoint
	if p.unlocker != nil {
		p.unlocker.SetGateway(gw)
	}
	return p.fire(TriggerReconfigure)
}

// MarkUnlocked records that the wallet was unlocked and moves to Ready.
func (p *Probe) MarkUnlocked() error {
	return p.fire(TriggerUnlocked)
}

// TryAgain re-checks the lock state after the user unlocked the wallet elsewhere.
func (p *Probe) TryAgain() error {
	return p.fire(TriggerTryAgain)
}

// Abort gives up from any decision point.
func (p *Probe) Abort() error {
	from := p.State()
	if err := p.fire(TriggerAbort); err != nil {
		return err
	}
	p.abortedFrom = from
	return nil
}

// Err returns the tagged error describing why the probe aborted, or nil.
func (p *Probe) Err() error {
	if p.State() != StateAborted {
		return nil
	}
	switch p.abortedFrom {
	case StateUnsynced:
		return tradeerr.Wrap(tradeerr.CodeUnsyncedChain, p.lastErr, "the %s blockchain must be fully synced before trading can begin", p.symbol).WithSymbol(p.symbol)
	case StateWalletLocked:
		return tradeerr.New(tradeerr.CodeWalletLocked, "the %s sending wallet is locked", p.symbol).WithSymbol(p.symbol)
	default:
		return tradeerr.Wrap(tradeerr.CodeConnectFailed, p.lastErr, "error communicating with %s daemon at %s", p.symbol, p.endpoint).WithSymbol(p.symbol)
	}
}

// Run drives the probe to Ready or Aborted, asking r at every decision point.
func (p *Probe) Run(ctx context.Context, r Resolver) error {
	for {
		out, err := p.Step(ctx)
		if err != nil {
			return err
		}

		switch out.State {
		case StateReady:
			return nil

		case StateAborted:
			return p.Err()

		case StateUnsynced:
			if r.Unsynced(p.symbol) == ChoiceRetry {
				err = p.Retry()
			} else {
				err = p.Abort()
			}

		case StateConnectFailed:
			switch r.ConnectFailed(p.symbol, p.endpoint, out.Err) {
			case ChoiceRetry:
				err = p.Retry()
			case ChoiceReconfigure:
				err = p.Reconfigure(ctx)
			default:
				err = p.Abort()
			}

		case StateWalletLocked:
			err = p.resolveLocked(ctx)
		}

		if err != nil {
			return err
		}
	}
}

func (p *Probe) resolveLocked(ctx context.Context) error {
	if p.unlocker == nil {
		return errors.New("readiness: send wallet locked and no unlocker configured")
	}
	res, err := p.unlocker.Handle(ctx, false)
	if err != nil {
		return err
	}
	switch res {
	case Unlocked:
		return p.MarkUnlocked()
	case TryAgain:
		return p.TryAgain()
	default:
		return p.Abort()
	}
}
