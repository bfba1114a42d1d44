// Package coinmeta resolves per-coin daemon settings: where the wallet
// listens, its RPC credentials and the smallest amount worth sending.
//
// Settings are layered. Later sources win:
//
//  1. built-in defaults
//  2. coin_defaults.yaml in the data directory
//  3. the wallet's own <name>.conf (rpcport, rpcuser, rpcpassword)
//  4. coin_user.yaml in the data directory, written by Save
package coinmeta

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/peertrade/peertrade/internal/trade"
	"github.com/peertrade/peertrade/pkg/helpers"
	"github.com/peertrade/peertrade/pkg/logging"
)

// File names in the data directory.
const (
	DefaultsFileName = "coin_defaults.yaml"
	UserFileName     = "coin_user.yaml"
)

// Coin is the resolved metadata for one currency.
type Coin struct {
	Symbol  string
	Name    string
	Host    string
	RPCPort int
	RPCUser string
	RPCPass string
	// ConfPaths is an OS path list of extra wallet conf files to try
	// before the platform defaults.
	ConfPaths     string
	HelloAmount   decimal.Decimal
	DonateAddress string
}

// Configured reports whether the coin has everything needed to dial its daemon.
func (c *Coin) Configured() bool {
	return c.RPCPort > 0 && c.RPCUser != "" && c.RPCPass != ""
}

// Connection returns the settings a trade leg copies.
func (c *Coin) Connection() trade.Connection {
	return trade.Connection{
		Symbol:        c.Symbol,
		Name:          c.Name,
		Host:          c.Host,
		RPCPort:       c.RPCPort,
		RPCUser:       c.RPCUser,
		RPCPass:       c.RPCPass,
		HelloAmount:   c.HelloAmount,
		DonateAddress: c.DonateAddress,
	}
}

func (c *Coin) setDefaults() {
	if c.Host == "" {
		c.Host = DefaultHost
	}
	if !c.HelloAmount.IsPositive() {
		c.HelloAmount = DefaultHelloAmount
	}
}

// fileCoin is the on-disk form of a coin. Empty fields leave the lower
// layer's value in place.
type fileCoin struct {
	Name          string `yaml:"name,omitempty"`
	Host          string `yaml:"host,omitempty"`
	RPCPort       int    `yaml:"rpcport,omitempty"`
	RPCUser       string `yaml:"rpcuser,omitempty"`
	RPCPass       string `yaml:"rpcpass,omitempty"`
	ConfPaths     string `yaml:"confpaths,omitempty"`
	HelloAmount   string `yaml:"hello_amount,omitempty"`
	DonateAddress string `yaml:"donate_address,omitempty"`
}

func (f *fileCoin) applyTo(c *Coin) error {
	if f.Name != "" {
		c.Name = f.Name
	}
	if f.Host != "" {
		c.Host = f.Host
	}
	if f.RPCPort != 0 {
		c.RPCPort = f.RPCPort
	}
	if f.RPCUser != "" {
		c.RPCUser = f.RPCUser
	}
	if f.RPCPass != "" {
		c.RPCPass = f.RPCPass
	}
	if f.ConfPaths != "" {
		c.ConfPaths = f.ConfPaths
	}
	if f.DonateAddress != "" {
		c.DonateAddress = f.DonateAddress
	}
	if f.HelloAmount != "" {
		amt, err := helpers.ParseAmount(f.HelloAmount)
		if err != nil {
			return fmt.Errorf("hello_amount: %w", err)
		}
		c.HelloAmount = amt
	}
	return nil
}

func toFileCoin(c *Coin) fileCoin {
	f := fileCoin{
		Name:          c.Name,
		Host:          c.Host,
		RPCPort:       c.RPCPort,
		RPCUser:       c.RPCUser,
		RPCPass:       c.RPCPass,
		ConfPaths:     c.ConfPaths,
		DonateAddress: c.DonateAddress,
	}
	if c.HelloAmount.IsPositive() {
		f.HelloAmount = helpers.FormatAmount(c.HelloAmount)
	}
	return f
}

// Store looks up and persists coin settings.
type Store struct {
	dataDir string
	log     *logging.Logger

	// HomeDir overrides the user's home directory when locating wallet
	// conf files.
	HomeDir string

	mu sync.Mutex
}

// New creates a store rooted at dataDir.
func New(dataDir string, log *logging.Logger) *Store {
	return &Store{
		dataDir: dataDir,
		log:     logging.OrDefault(log, "coinmeta"),
	}
}

// UserFile returns the path of the user overrides file.
func (s *Store) UserFile() string {
	return filepath.Join(s.dataDir, UserFileName)
}

// DefaultsFile returns the path of the downloadable defaults file.
func (s *Store) DefaultsFile() string {
	return filepath.Join(s.dataDir, DefaultsFileName)
}

// Lookup resolves settings for symbol. Unknown symbols are not an error:
// they get host and hello amount defaults and whatever the files supply.
func (s *Store) Lookup(symbol string) (*Coin, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	c := builtin[symbol]
	c.Symbol = symbol

	defaults, err := readFile(s.DefaultsFile())
	if err != nil {
		return nil, err
	}
	user, err := readFile(s.UserFile())
	if err != nil {
		return nil, err
	}

	if f, ok := defaults[symbol]; ok {
		if err := f.applyTo(&c); err != nil {
			return nil, fmt.Errorf("%s %s: %w", DefaultsFileName, symbol, err)
		}
	}

	// Without a name or conf paths the wallet conf cannot be found, but the
	// user file may supply either, so peek at it first.
	if c.Name == "" && c.ConfPaths == "" {
		if f, ok := user[symbol]; ok {
			c.Name = f.Name
			c.ConfPaths = f.ConfPaths
		}
	}

	s.applyWalletConf(&c)

	if f, ok := user[symbol]; ok {
		if err := f.applyTo(&c); err != nil {
			return nil, fmt.Errorf("%s %s: %w", UserFileName, symbol, err)
		}
	}

	c.setDefaults()
	return &c, nil
}

// Save stores c in the user overrides file, replacing any earlier entry.
func (s *Store) Save(c *Coin) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, err := readFile(s.UserFile())
	if err != nil {
		return err
	}
	user[strings.ToUpper(c.Symbol)] = toFileCoin(c)
	return writeFile(s.UserFile(), user)
}

// Forget removes symbol from the user overrides file.
func (s *Store) Forget(symbol string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, err := readFile(s.UserFile())
	if err != nil {
		return err
	}
	symbol = strings.ToUpper(symbol)
	if _, ok := user[symbol]; !ok {
		return nil
	}
	delete(user, symbol)
	return writeFile(s.UserFile(), user)
}

// readFile loads a coin settings file. A missing file is empty.
func readFile(path string) (map[string]fileCoin, error) {
	coins := make(map[string]fileCoin)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return coins, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &coins); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if coins == nil {
		coins = make(map[string]fileCoin)
	}
	return coins, nil
}

func writeFile(path string, coins map[string]fileCoin) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	data, err := yaml.Marshal(coins)
	if err != nil {
		return fmt.Errorf("failed to marshal coin settings: %w", err)
	}
	header := []byte("# PeerTrade coin settings\n# Written by peertrade, entries override coin defaults and wallet conf files\n\n")
	if err := helpers.WriteFileAtomic(path, append(header, data...), 0600); err != nil {
		return fmt.Errorf("failed to save coin settings: %w", err)
	}
	return nil
}

func (s *Store) home() string {
	if s.HomeDir != "" {
		return s.HomeDir
	}
	home, _ := os.UserHomeDir()
	return home
}

// confCandidates lists wallet conf files to try, in order.
func (s *Store) confCandidates(c *Coin) []string {
	var paths []string
	if c.ConfPaths != "" {
		paths = append(paths, filepath.SplitList(c.ConfPaths)...)
	}
	if c.Name != "" {
		name := strings.ToLower(c.Name)
		home := s.home()
		paths = append(paths,
			filepath.Join(home, "."+name, name+".conf"),
			filepath.Join(home, "Library", "Application Support", name, name+".conf"),
		)
		if appData := os.Getenv("APPDATA"); appData != "" && s.HomeDir == "" {
			paths = append(paths, filepath.Join(appData, name, name+".conf"))
		}
	}
	for i, p := range paths {
		if strings.HasPrefix(p, "~") {
			paths[i] = filepath.Join(s.home(), p[1:])
		}
	}
	return paths
}

// applyWalletConf copies rpc settings from the first wallet conf file found.
func (s *Store) applyWalletConf(c *Coin) {
	for _, path := range s.confCandidates(c) {
		settings, err := readWalletConf(path)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			s.log.Warn("Failed to read wallet conf", "symbol", c.Symbol, "path", path, "error", err)
			continue
		}

		s.log.Debug("Loaded wallet conf", "symbol", c.Symbol, "path", path)
		if v := settings["rpcport"]; v != "" {
			if port, err := strconv.Atoi(v); err == nil {
				c.RPCPort = port
			} else {
				s.log.Warn("Ignoring bad rpcport in wallet conf", "symbol", c.Symbol, "path", path, "value", v)
			}
		}
		if v := settings["rpcuser"]; v != "" {
			c.RPCUser = v
		}
		if v := settings["rpcpassword"]; v != "" {
			c.RPCPass = v
		}
		return
	}
}

// readWalletConf parses a bitcoind-style key=value conf file.
func readWalletConf(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	settings := make(map[string]string)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, val, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		settings[strings.TrimSpace(key)] = strings.TrimSpace(val)
	}
	return settings, scanner.Err()
}
