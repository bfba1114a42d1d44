package readiness

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/peertrade/peertrade/internal/wallet"
	"github.com/peertrade/peertrade/pkg/logging"
)

// DefaultUnlockDuration is how long a wallet stays unlocked after we
// unlock it on the user's behalf.
const DefaultUnlockDuration = 24 * time.Hour

// ErrWrongPassphrase is returned by Unlock when the daemon rejects the passphrase.
var ErrWrongPassphrase = errors.New("the wallet passphrase entered was incorrect")

// UnlockResult is the outcome of the locked-wallet sub-flow.
type UnlockResult int

const (
	// Unlocked means we unlocked the wallet and owe a relock.
	Unlocked UnlockResult = iota
	// TryAgain means the user unlocked the wallet elsewhere and wants it re-checked.
	TryAgain
	// Aborted means the user gave up.
	Aborted
)

func (r UnlockResult) String() string {
	switch r {
	case Unlocked:
		return "unlocked"
	case TryAgain:
		return "try again"
	default:
		return "aborted"
	}
}

// Unlocker runs the locked-wallet sub-flow for a sending wallet. It is
// shared by the readiness probe and the settlement loop so a relock owed
// from either is honoured once the trade finishes.
type Unlocker struct {
	Symbol   string
	Resolver Resolver
	Duration time.Duration
	Log      *logging.Logger

	mu         sync.Mutex
	gw         wallet.Gateway
	relockOwed bool
}

// NewUnlocker creates an Unlocker for gw.
func NewUnlocker(symbol string, gw wallet.Gateway, resolver Resolver, log *logging.Logger) *Unlocker {
	return &Unlocker{
		Symbol:   symbol,
		Resolver: resolver,
		Duration: DefaultUnlockDuration,
		Log:      logging.OrDefault(log, "unlock"),
		gw:       gw,
	}
}

// SetGateway replaces the wallet connection, after reconfiguration.
func (u *Unlocker) SetGateway(gw wallet.Gateway) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.gw = gw
}

func (u *Unlocker) gateway() wallet.Gateway {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.gw
}

// Unlock unlocks the wallet with passphrase for Duration and records that
// a relock is owed.
func (u *Unlocker) Unlock(ctx context.Context, passphrase string) error {
	dur := u.Duration
	if dur == 0 {
		dur = DefaultUnlockDuration
	}
	err := u.gateway().WalletPassphrase(ctx, passphrase, int64(dur/time.Second))
	if err != nil {
		if wallet.IsWrongPassphrase(err) {
			return ErrWrongPassphrase
		}
		return err
	}

	u.mu.Lock()
	u.relockOwed = true
	u.mu.Unlock()

	u.Log.Info("Wallet unlocked", "symbol", u.Symbol, "for", dur)
	return nil
}

// Handle asks the resolver what to do about a locked wallet until it
// unlocks, retries or aborts. sending is true when a payment is waiting on
// the unlock.
func (u *Unlocker) Handle(ctx context.Context, sending bool) (UnlockResult, error) {
	for {
		if err := ctx.Err(); err != nil {
			return Aborted, err
		}

		switch u.Resolver.WalletLocked(u.Symbol, sending) {
		case ChoiceUnlock:
			ok, err := u.promptUnlock(ctx)
			if err != nil {
				return Aborted, err
			}
			if ok {
				return Unlocked, nil
			}
		case ChoiceTryAgain:
			return TryAgain, nil
		default:
			u.Log.Warn("User aborted at locked wallet", "symbol", u.Symbol)
			return Aborted, nil
		}
	}
}

// promptUnlock asks for passphrases until one works or the user cancels.
func (u *Unlocker) promptUnlock(ctx context.Context) (bool, error) {
	retry := false
	for {
		pass, ok := u.Resolver.Passphrase(u.Symbol, retry)
		if !ok {
			return false, nil
		}
		if pass == "" {
			continue
		}

		err := u.Unlock(ctx, pass)
		if err == nil {
			return true, nil
		}
		if !errors.Is(err, ErrWrongPassphrase) {
			return false, err
		}
		u.Log.Warn("Wrong wallet passphrase", "symbol", u.Symbol)
		retry = true
	}
}

// RelockOwed reports whether we unlocked the wallet and have not relocked it.
func (u *Unlocker) RelockOwed() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.relockOwed
}

// Relock locks the wallet again if we unlocked it.
func (u *Unlocker) Relock(ctx context.Context) error {
	if !u.RelockOwed() {
		return nil
	}
	u.Log.Info("Relocking wallet that was unlocked during trade", "symbol", u.Symbol)
	if err := u.gateway().WalletLock(ctx); err != nil {
		return err
	}
	u.mu.Lock()
	u.relockOwed = false
	u.mu.Unlock()
	return nil
}
