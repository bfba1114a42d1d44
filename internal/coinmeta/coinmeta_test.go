package coinmeta

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/peertrade/peertrade/pkg/logging"
)

func newStore(t *testing.T) (*Store, string) {
	t.Helper()
	dataDir := t.TempDir()
	s := New(dataDir, logging.Discard())
	s.HomeDir = t.TempDir()
	return s, dataDir
}

func writeConf(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0700))
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
}

func TestLookupBuiltin(t *testing.T) {
	s, _ := newStore(t)

	c, err := s.Lookup("btc")
	require.NoError(t, err)
	assert.Equal(t, "BTC", c.Symbol)
	assert.Equal(t, "Bitcoin", c.Name)
	assert.Equal(t, 8332, c.RPCPort)
	assert.Equal(t, DefaultHost, c.Host)
	assert.True(t, c.HelloAmount.Equal(DefaultHelloAmount))
	assert.False(t, c.Configured())
}

func TestLookupUnknownSymbol(t *testing.T) {
	s, _ := newStore(t)

	c, err := s.Lookup("XYZ")
	require.NoError(t, err)
	assert.Equal(t, "XYZ", c.Symbol)
	assert.Empty(t, c.Name)
	assert.Equal(t, DefaultHost, c.Host)
	assert.True(t, c.HelloAmount.Equal(DefaultHelloAmount))
}

func TestLookupLayering(t *testing.T) {
	s, dataDir := newStore(t)

	writeConf(t, filepath.Join(dataDir, DefaultsFileName), `
PPC:
  rpcport: 19902
  hello_amount: "0.05"
  donate_address: PDonateDefaults
`)
	writeConf(t, filepath.Join(s.HomeDir, ".peercoin", "peercoin.conf"), `
# comment line
rpcuser=alice
rpcpassword = s3cret
rpcport=29902
server=1
`)

	c, err := s.Lookup("PPC")
	require.NoError(t, err)
	assert.Equal(t, 29902, c.RPCPort, "wallet conf overrides defaults file")
	assert.Equal(t, "alice", c.RPCUser)
	assert.Equal(t, "s3cret", c.RPCPass)
	assert.Equal(t, "0.05", c.HelloAmount.String())
	assert.Equal(t, "PDonateDefaults", c.DonateAddress)
	assert.True(t, c.Configured())

	writeConf(t, filepath.Join(dataDir, UserFileName), `
PPC:
  host: 10.0.0.5
  rpcuser: bob
`)
	c, err = s.Lookup("PPC")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.5", c.Host)
	assert.Equal(t, "bob", c.RPCUser, "user file overrides wallet conf")
	assert.Equal(t, "s3cret", c.RPCPass)
}

func TestLookupUserNameFindsConf(t *testing.T) {
	s, dataDir := newStore(t)

	writeConf(t, filepath.Join(dataDir, UserFileName), `
FOO:
  name: Foocoin
`)
	writeConf(t, filepath.Join(s.HomeDir, ".foocoin", "foocoin.conf"), "rpcport=1234\nrpcuser=u\nrpcpassword=p\n")

	c, err := s.Lookup("FOO")
	require.NoError(t, err)
	assert.Equal(t, "Foocoin", c.Name)
	assert.Equal(t, 1234, c.RPCPort)
	assert.True(t, c.Configured())
}

func TestLookupConfPaths(t *testing.T) {
	s, dataDir := newStore(t)
	custom := filepath.Join(t.TempDir(), "wallet.conf")
	writeConf(t, custom, "rpcport=4444\n")
	writeConf(t, filepath.Join(dataDir, DefaultsFileName), "LTC:\n  confpaths: "+custom+"\n")

	c, err := s.Lookup("LTC")
	require.NoError(t, err)
	assert.Equal(t, 4444, c.RPCPort)
}

func TestLookupBadFile(t *testing.T) {
	s, dataDir := newStore(t)
	writeConf(t, filepath.Join(dataDir, UserFileName), "PPC: [unterminated\n")

	_, err := s.Lookup("PPC")
	assert.Error(t, err)
}

func TestLookupBadHelloAmount(t *testing.T) {
	s, dataDir := newStore(t)
	writeConf(t, filepath.Join(dataDir, UserFileName), "PPC:\n  hello_amount: lots\n")

	_, err := s.Lookup("PPC")
	assert.Error(t, err)
}

func TestSaveAndForget(t *testing.T) {
	s, _ := newStore(t)

	c, err := s.Lookup("DOGE")
	require.NoError(t, err)
	c.RPCUser = "much"
	c.RPCPass = "wow"
	c.HelloAmount = decimal.RequireFromString("2.5")
	require.NoError(t, s.Save(c))

	got, err := s.Lookup("DOGE")
	require.NoError(t, err)
	assert.Equal(t, "much", got.RPCUser)
	assert.Equal(t, "wow", got.RPCPass)
	assert.Equal(t, "2.5", got.HelloAmount.String())

	info, err := os.Stat(s.UserFile())
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
	leftovers, err := filepath.Glob(filepath.Join(filepath.Dir(s.UserFile()), ".*.tmp-*"))
	require.NoError(t, err)
	assert.Empty(t, leftovers, "temp files left after save")

	require.NoError(t, s.Forget("doge"))
	got, err = s.Lookup("DOGE")
	require.NoError(t, err)
	assert.Empty(t, got.RPCUser)
	assert.Equal(t, "1", got.HelloAmount.String())

	require.NoError(t, s.Forget("DOGE"), "forgetting an absent coin is a no-op")
}

func TestSaveFailureKeepsPreviousSettings(t *testing.T) {
	s, _ := newStore(t)

	c, err := s.Lookup("DOGE")
	require.NoError(t, err)
	c.RPCUser, c.RPCPass = "much", "wow"
	require.NoError(t, s.Save(c))

	dir := filepath.Dir(s.UserFile())
	require.NoError(t, os.Chmod(dir, 0500))
	t.Cleanup(func() { os.Chmod(dir, 0700) })
	if f, err := os.CreateTemp(dir, "perm-check-*"); err == nil {
		f.Close()
		os.Remove(f.Name())
		t.Skip("directory permissions are not enforced for this user")
	}

	c.RPCPass = "changed"
	require.Error(t, s.Save(c))

	data, err := os.ReadFile(s.UserFile())
	require.NoError(t, err)
	assert.Contains(t, string(data), "wow")
	assert.NotContains(t, string(data), "changed")
}

func TestConnection(t *testing.T) {
	c := &Coin{Symbol: "BTC", Name: "Bitcoin", Host: "h", RPCPort: 1, RPCUser: "u", RPCPass: "p", HelloAmount: decimal.New(1, -3), DonateAddress: "d"}
	conn := c.Connection()
	assert.Equal(t, "BTC", conn.Symbol)
	assert.Equal(t, "d", conn.DonateAddress)
	assert.True(t, conn.HelloAmount.Equal(c.HelloAmount))
}

func TestKnown(t *testing.T) {
	assert.Equal(t, []string{"BTC", "DOGE", "LTC", "NMC", "PPC"}, Known())
}
