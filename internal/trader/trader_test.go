package trader

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/peertrade/peertrade/internal/negotiate"
	"github.com/peertrade/peertrade/internal/readiness"
	"github.com/peertrade/peertrade/internal/storage"
	"github.com/peertrade/peertrade/internal/trade"
	"github.com/peertrade/peertrade/internal/tradeerr"
	"github.com/peertrade/peertrade/internal/wallet/wallettest"
	"github.com/peertrade/peertrade/pkg/logging"
)

var d = decimal.RequireFromString

func newLedger(t *testing.T) *storage.Storage {
	t.Helper()
	store, err := storage.New(&storage.Config{DataDir: t.TempDir(), Log: logging.Discard()})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

// fixture is Alice's side of a 20 PPC for 0.5 BTC trade.
type fixture struct {
	net     *wallettest.Network
	ppc     *wallettest.Wallet
	btc     *wallettest.Wallet
	cfg     *trade.Config
	ledger  *storage.Storage
	trader  *Trader
	connect *fakeConnector
}

type fakeConnector struct {
	f     *fixture
	calls int
	err   error
}

func (c *fakeConnector) Connect(ctx context.Context, cfg *trade.Config) (*negotiate.Session, error) {
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	return c.f.session(cfg), nil
}

func newFixture(t *testing.T, ledger Ledger) *fixture {
	net := wallettest.NewNetwork()
	f := &fixture{
		net: net,
		ppc: net.Wallet("PPC", d("100")),
		btc: net.Wallet("BTC", d("0")),
		cfg: &trade.Config{
			Send:          trade.Leg{Symbol: "PPC", Address: "PPC-bob", Amount: d("20"), HelloAmount: d("0.01")},
			Receive:       trade.Leg{Symbol: "BTC", Address: "BTC-alice", Amount: d("0.5"), HelloAmount: d("0.001")},
			NumRounds:     10,
			DonateAddress: "PDonate",
			DonateAmount:  d("0.1"),
			Token:         "alice-token",
		},
		ledger: newLedger(t),
	}
	f.btc.Own("BTC-alice")
	if ledger == nil {
		ledger = f.ledger
	}
	f.connect = &fakeConnector{f: f}
	f.trader = New(&Config{
		Ledger:    ledger,
		Connector: f.connect,
		Interval:  time.Millisecond,
		Log:       logging.Discard(),
	})
	return f
}

func (f *fixture) session(cfg *trade.Config) *negotiate.Session {
	return &negotiate.Session{
		Config:   cfg,
		Send:     f.ppc,
		Receive:  f.btc,
		Unlocker: readiness.NewUnlocker("PPC", f.ppc, nil, logging.Discard()),
	}
}

// bobPays has the counterparty settle their whole leg.
func (f *fixture) bobPays() {
	f.net.Pay("BTC-alice", d("0.5"))
}

func TestBeginCompletesTrade(t *testing.T) {
	f := newFixture(t, nil)
	f.bobPays()

	res, err := f.trader.Begin(context.Background(), f.session(f.cfg))
	require.NoError(t, err)

	entry, err := f.ledger.Get("BTC-alice_PPC-bob")
	require.NoError(t, err)
	assert.Equal(t, trade.StatusComplete, entry.Status)
	assert.Equal(t, res.Stats.RunID, entry.RunID)
	assert.False(t, entry.Snapshot.StartTime.IsZero())
	assert.False(t, entry.Snapshot.EndTime.Before(entry.Snapshot.StartTime))

	assert.NotEmpty(t, res.DonationTxID)
	assert.NoError(t, res.DonationErr)
	assert.Equal(t, "0.1", f.ppc.SentTo("PDonate").String())
	assert.True(t, f.ppc.SentTo("PPC-bob").GreaterThanOrEqual(d("19.99")))
	assert.Contains(t, res.Summary(), "Buy 0.5 BTC, Sell 20 PPC")
	assert.Contains(t, res.Summary(), "duration:")
}

func TestBeginRelocksUnlockedWallet(t *testing.T) {
	f := newFixture(t, nil)
	f.bobPays()
	f.ppc.Encrypted = true
	f.ppc.Passphrase = "pw"

	sess := f.session(f.cfg)
	require.NoError(t, sess.Unlocker.Unlock(context.Background(), "pw"))

	res, err := f.trader.Begin(context.Background(), sess)
	require.NoError(t, err)
	assert.NoError(t, res.RelockErr)
	assert.Equal(t, 1, f.ppc.LockCount())
	assert.False(t, f.ppc.Unlocked())
	assert.False(t, sess.Unlocker.RelockOwed())
}

func TestBeginWithoutDonationAddress(t *testing.T) {
	f := newFixture(t, nil)
	f.bobPays()
	f.cfg.DonateAddress = ""

	res, err := f.trader.Begin(context.Background(), f.session(f.cfg))
	require.NoError(t, err)
	assert.Empty(t, res.DonationTxID)
	assert.True(t, f.ppc.SentTo("PDonate").IsZero())
}

func TestDonationFailureDoesNotFailTrade(t *testing.T) {
	f := newFixture(t, nil)
	f.bobPays()
	f.cfg.DonateAmount = d("90")

	res, err := f.trader.Begin(context.Background(), f.session(f.cfg))
	require.NoError(t, err)
	assert.Error(t, res.DonationErr)

	entry, err := f.ledger.Get(f.cfg.Key())
	require.NoError(t, err)
	assert.Equal(t, trade.StatusComplete, entry.Status)
}

func TestBeginStopsIncompleteAndResumes(t *testing.T) {
	f := newFixture(t, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := f.trader.Begin(ctx, f.session(f.cfg))
	require.Error(t, err)
	assert.Equal(t, tradeerr.CodeAborted, tradeerr.CodeOf(err))

	key := f.cfg.Key()
	entry, err := f.ledger.Get(key)
	require.NoError(t, err)
	assert.Equal(t, trade.StatusIncomplete, entry.Status)
	firstRun := entry.RunID

	incomplete, err := f.trader.Incomplete()
	require.NoError(t, err)
	require.Len(t, incomplete, 1)
	assert.Equal(t, key, incomplete[0].Key)

	f.bobPays()
	res, err := f.trader.Resume(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, 1, f.connect.calls)
	assert.NotEqual(t, firstRun, res.Stats.RunID)

	entry, err = f.ledger.Get(key)
	require.NoError(t, err)
	assert.Equal(t, trade.StatusComplete, entry.Status)
	assert.False(t, entry.Snapshot.StartTime.IsZero(), "start time from the first run is kept")

	_, err = f.trader.Resume(context.Background(), key)
	assert.ErrorIs(t, err, ErrFinalized)
}

func TestResumeUnknownTrade(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.trader.Resume(context.Background(), "nope")
	assert.ErrorIs(t, err, storage.ErrTradeNotFound)
}

func TestResumeConnectFailureLeavesEntry(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.ledger.Upsert(f.cfg.Key(), f.cfg, trade.StatusIncomplete))
	f.connect.err = tradeerr.New(tradeerr.CodeConnectFailed, "down")

	_, err := f.trader.Resume(context.Background(), f.cfg.Key())
	assert.ErrorIs(t, err, tradeerr.ErrConnectFailed)

	entry, err := f.ledger.Get(f.cfg.Key())
	require.NoError(t, err)
	assert.Equal(t, trade.StatusIncomplete, entry.Status)
}

func TestCancel(t *testing.T) {
	f := newFixture(t, nil)
	key := f.cfg.Key()
	require.NoError(t, f.ledger.Upsert(key, f.cfg, trade.StatusIncomplete))

	require.NoError(t, f.trader.Cancel(key))
	entry, err := f.ledger.Get(key)
	require.NoError(t, err)
	assert.Equal(t, trade.StatusCancelled, entry.Status)

	assert.ErrorIs(t, f.trader.Cancel(key), ErrFinalized)
	assert.ErrorIs(t, f.trader.Cancel("missing"), storage.ErrTradeNotFound)
}

func TestLists(t *testing.T) {
	f := newFixture(t, nil)
	a := f.cfg.Clone()
	b := f.cfg.Clone()
	b.Receive.Address = "BTC-other"
	c := f.cfg.Clone()
	c.Receive.Address = "BTC-third"
	require.NoError(t, f.ledger.Upsert(a.Key(), a, trade.StatusIncomplete))
	require.NoError(t, f.ledger.Upsert(b.Key(), b, trade.StatusComplete))
	require.NoError(t, f.ledger.Upsert(c.Key(), c, trade.StatusCancelled))

	incomplete, err := f.trader.Incomplete()
	require.NoError(t, err)
	assert.Len(t, incomplete, 1)

	complete, err := f.trader.Complete()
	require.NoError(t, err)
	require.Len(t, complete, 1)
	assert.Equal(t, b.Key(), complete[0].Key)

	all, err := f.trader.All()
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestBeginNeedsAddresses(t *testing.T) {
	f := newFixture(t, nil)
	f.cfg.Send.Address = ""
	_, err := f.trader.Begin(context.Background(), f.session(f.cfg))
	assert.ErrorIs(t, err, ErrNoKey)
}

// failingLedger fails writes of one status.
type failingLedger struct {
	*storage.Storage
	failOn trade.Status
}

var errDiskFull = errors.New("disk full")

func (l *failingLedger) Upsert(key string, snapshot *trade.Config, status trade.Status) error {
	if status == l.failOn {
		return errDiskFull
	}
	return l.Storage.Upsert(key, snapshot, status)
}

func TestLedgerWriteFailureBeforeStart(t *testing.T) {
	f := newFixture(t, nil)
	f.trader.ledger = &failingLedger{Storage: f.ledger, failOn: trade.StatusIncomplete}
	f.bobPays()

	_, err := f.trader.Begin(context.Background(), f.session(f.cfg))
	assert.ErrorIs(t, err, tradeerr.ErrLedgerWrite)
	assert.ErrorIs(t, err, errDiskFull)
	assert.False(t, tradeerr.Resumable(err))
	assert.Empty(t, f.ppc.Calls(), "nothing is sent before the trade is recorded")
}

func TestLedgerWriteFailureAtCompletion(t *testing.T) {
	f := newFixture(t, nil)
	f.trader.ledger = &failingLedger{Storage: f.ledger, failOn: trade.StatusComplete}
	f.bobPays()

	_, err := f.trader.Begin(context.Background(), f.session(f.cfg))
	assert.ErrorIs(t, err, tradeerr.ErrLedgerWrite)
	assert.True(t, f.ppc.SentTo("PDonate").IsZero(), "no donation without a recorded completion")

	entry, err := f.ledger.Get(f.cfg.Key())
	require.NoError(t, err)
	assert.Equal(t, trade.StatusIncomplete, entry.Status)
}

func TestTransactions(t *testing.T) {
	f := newFixture(t, nil)
	f.bobPays()
	sess := f.session(f.cfg)
	_, err := f.trader.Begin(context.Background(), sess)
	require.NoError(t, err)

	// Unrelated activity is ignored.
	f.net.Pay("BTC-elsewhere", d("1"))

	txs, err := f.trader.Transactions(context.Background(), sess)
	require.NoError(t, err)
	assert.NotEmpty(t, txs.Sent)
	require.Len(t, txs.Received, 1)
	for _, id := range append(txs.Sent, txs.Received...) {
		assert.True(t, strings.HasPrefix(id, "tx"))
	}
}
