package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/peertrade/peertrade/internal/trade"
	"github.com/peertrade/peertrade/pkg/helpers"
)

// exportFile is the JSON layout written by Export.
type exportFile struct {
	Trades map[string]*exportEntry `json:"trades"`
}

type exportEntry struct {
	Status    trade.Status  `json:"trade_status"`
	RunID     string        `json:"run_id,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
	Trade     *trade.Config `json:"trade"`
}

// Export writes the whole ledger to path as JSON. The file is written to a
// temporary name, synced and renamed, so path never holds a partial export.
func (s *Storage) Export(path string) error {
	entries, err := s.Load()
	if err != nil {
		return err
	}

	out := exportFile{Trades: make(map[string]*exportEntry, len(entries))}
	for _, e := range entries {
		out.Trades[e.Key] = &exportEntry{
			Status:    e.Status,
			RunID:     e.RunID,
			CreatedAt: e.CreatedAt.UTC(),
			UpdatedAt: e.UpdatedAt.UTC(),
			Trade:     e.Snapshot,
		}
	}

	data, err := json.MarshalIndent(out, "", "    ")
	if err != nil {
		return fmt.Errorf("failed to encode ledger: %w", err)
	}
	return helpers.WriteFileAtomic(path, data, 0600)
}

// looseString accepts a JSON string, number, boolean or null. The legacy
// history file mixes them freely.
type looseString string

func (l *looseString) UnmarshalJSON(b []byte) error {
	raw := strings.TrimSpace(string(b))
	switch {
	case raw == "null" || raw == "false":
		*l = ""
	case strings.HasPrefix(raw, `"`):
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*l = looseString(s)
	default:
		*l = looseString(raw)
	}
	return nil
}

func (l looseString) amount() (decimal.Decimal, error) {
	if l == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(string(l))
	if err != nil {
		return decimal.Zero, err
	}
	return helpers.TruncateCoin(d), nil
}

func (l looseString) integer() (int, error) {
	if l == "" {
		return 0, nil
	}
	return strconv.Atoi(string(l))
}

func (l looseString) unix() (time.Time, error) {
	n, err := l.integer()
	if err != nil || n == 0 {
		return time.Time{}, err
	}
	return time.Unix(int64(n), 0), nil
}

// legacyTrade is one entry of a legacy trade_history.json.
type legacyTrade struct {
	SendSymbol      looseString `json:"send_coind_symbol"`
	SendName        looseString `json:"send_coind_name"`
	SendHost        looseString `json:"send_coind_host"`
	SendRPCPort     looseString `json:"send_coind_rpcport"`
	SendRPCUser     looseString `json:"send_coind_rpcuser"`
	SendRPCPass     looseString `json:"send_coind_rpcpass"`
	SendAddress     looseString `json:"send_coind_address"`
	SendAmount      looseString `json:"send_coind_amount"`
	SendHelloAmount looseString `json:"send_coind_hello_amount"`

	DonateAddress looseString `json:"author_donate_address"`
	DonateAmount  looseString `json:"author_donate_amount"`

	ReceiveSymbol      looseString `json:"receive_coind_symbol"`
	ReceiveName        looseString `json:"receive_coind_name"`
	ReceiveHost        looseString `json:"receive_coind_host"`
	ReceiveRPCPort     looseString `json:"receive_coind_rpcport"`
	ReceiveRPCUser     looseString `json:"receive_coind_rpcuser"`
	ReceiveRPCPass     looseString `json:"receive_coind_rpcpass"`
	ReceiveAddress     looseString `json:"receive_coind_address"`
	ReceiveAmount      looseString `json:"receive_coind_amount"`
	ReceiveHelloAmount looseString `json:"receive_coind_hello_amount"`

	NumRounds looseString `json:"num_rounds"`
	MinConf   looseString `json:"minconf"`
	StartTime looseString `json:"start_time"`
	EndTime   looseString `json:"end_time"`

	Token             looseString `json:"token"`
	CounterpartyToken looseString `json:"token_counter_party"`
	Status            looseString `json:"trade_status"`
}

func (lt *legacyTrade) leg(symbol, name, host, port, user, pass, addr, amount, hello looseString) (trade.Leg, error) {
	l := trade.Leg{
		Symbol:  string(symbol),
		Name:    string(name),
		Host:    string(host),
		RPCUser: string(user),
		RPCPass: string(pass),
		Address: string(addr),
	}
	var err error
	if l.RPCPort, err = port.integer(); err != nil {
		return l, fmt.Errorf("rpcport: %w", err)
	}
	if l.Amount, err = amount.amount(); err != nil {
		return l, fmt.Errorf("amount: %w", err)
	}
	if l.HelloAmount, err = hello.amount(); err != nil {
		return l, fmt.Errorf("hello amount: %w", err)
	}
	return l, nil
}

func (lt *legacyTrade) config() (*trade.Config, error) {
	send, err := lt.leg(lt.SendSymbol, lt.SendName, lt.SendHost, lt.SendRPCPort, lt.SendRPCUser, lt.SendRPCPass, lt.SendAddress, lt.SendAmount, lt.SendHelloAmount)
	if err != nil {
		return nil, fmt.Errorf("send: %w", err)
	}
	recv, err := lt.leg(lt.ReceiveSymbol, lt.ReceiveName, lt.ReceiveHost, lt.ReceiveRPCPort, lt.ReceiveRPCUser, lt.ReceiveRPCPass, lt.ReceiveAddress, lt.ReceiveAmount, lt.ReceiveHelloAmount)
	if err != nil {
		return nil, fmt.Errorf("receive: %w", err)
	}

	cfg := &trade.Config{
		Send:              send,
		Receive:           recv,
		DonateAddress:     string(lt.DonateAddress),
		Token:             string(lt.Token),
		CounterpartyToken: string(lt.CounterpartyToken),
	}
	if cfg.DonateAmount, err = lt.DonateAmount.amount(); err != nil {
		return nil, fmt.Errorf("donate amount: %w", err)
	}
	if cfg.NumRounds, err = lt.NumRounds.integer(); err != nil {
		return nil, fmt.Errorf("num_rounds: %w", err)
	}
	if cfg.MinConf, err = lt.MinConf.integer(); err != nil {
		return nil, fmt.Errorf("minconf: %w", err)
	}
	if cfg.StartTime, err = lt.StartTime.unix(); err != nil {
		return nil, fmt.Errorf("start_time: %w", err)
	}
	if cfg.EndTime, err = lt.EndTime.unix(); err != nil {
		return nil, fmt.Errorf("end_time: %w", err)
	}

	switch trade.Status(lt.Status) {
	case trade.StatusComplete, trade.StatusCancelled:
		cfg.Status = trade.Status(lt.Status)
	default:
		cfg.Status = trade.StatusIncomplete
	}
	return cfg, nil
}

// ImportLegacy reads a trade_history.json written by earlier PeerTrade
// clients and adds its trades to the ledger. Trades already in the ledger
// are left alone. Entries that cannot be parsed are logged and skipped.
// It returns the number of trades added.
func (s *Storage) ImportLegacy(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to read %s: %w", path, err)
	}

	var history struct {
		Trades map[string]json.RawMessage `json:"trades"`
	}
	if err := json.Unmarshal(data, &history); err != nil {
		return 0, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin import: %w", err)
	}
	defer tx.Rollback()

	now := time.Now()
	added := 0
	for key, raw := range history.Trades {
		var lt legacyTrade
		if err := json.Unmarshal(raw, &lt); err != nil {
			s.log.Warn("Skipping unreadable legacy trade", "key", key, "error", err)
			continue
		}
		cfg, err := lt.config()
		if err != nil {
			s.log.Warn("Skipping unreadable legacy trade", "key", key, "error", err)
			continue
		}
		if key == "" {
			key = cfg.Key()
		}

		var exists int
		if err := tx.QueryRow(`SELECT COUNT(*) FROM trades WHERE key = ?`, key).Scan(&exists); err != nil {
			return 0, fmt.Errorf("failed to check trade %s: %w", key, err)
		}
		if exists > 0 {
			s.log.Info("Legacy trade already in ledger", "key", key)
			continue
		}

		created := now
		if !cfg.StartTime.IsZero() {
			created = cfg.StartTime
		}
		if err := upsertTx(tx, key, cfg, cfg.Status, created); err != nil {
			return 0, err
		}
		added++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit import: %w", err)
	}
	s.log.Info("Imported legacy trade history", "path", path, "added", added)
	return added, nil
}
