package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/howeyc/gopass"
	"github.com/shopspring/decimal"

	"github.com/peertrade/peertrade/internal/coinmeta"
	"github.com/peertrade/peertrade/internal/readiness"
	"github.com/peertrade/peertrade/internal/token"
	"github.com/peertrade/peertrade/pkg/helpers"
)

// errInputClosed is returned when stdin ends while we wait for an answer.
var errInputClosed = errors.New("input closed")

// prompter asks the user questions on a terminal. It implements
// readiness.Resolver and negotiate.Configurator.
type prompter struct {
	in  *bufio.Reader
	out io.Writer

	// readSecret reads a passphrase without echo.
	readSecret func() ([]byte, error)
	// save persists connection settings the user entered.
	save func(*coinmeta.Coin) error
}

func newPrompter(in io.Reader, out io.Writer) *prompter {
	return &prompter{
		in:         bufio.NewReader(in),
		out:        out,
		readSecret: gopass.GetPasswdMasked,
	}
}

func (p *prompter) printf(format string, args ...interface{}) {
	fmt.Fprintf(p.out, format, args...)
}

func (p *prompter) line() (string, error) {
	s, err := p.in.ReadString('\n')
	if err != nil && (err != io.EOF || s == "") {
		if err == io.EOF {
			return "", errInputClosed
		}
		return "", err
	}
	return strings.TrimSpace(s), nil
}

// ask prints prompt and returns the answer, or def for an empty answer.
func (p *prompter) ask(prompt, def string) (string, error) {
	if def != "" {
		p.printf("%s [%s]: ", prompt, def)
	} else {
		p.printf("%s: ", prompt)
	}
	s, err := p.line()
	if err != nil {
		return "", err
	}
	if s == "" {
		return def, nil
	}
	return s, nil
}

// choose asks until the answer is one of the letters in options.
func (p *prompter) choose(prompt, options string) (string, error) {
	for {
		p.printf("%s ", prompt)
		s, err := p.line()
		if err != nil {
			return "", err
		}
		s = strings.ToUpper(s)
		if len(s) == 1 && strings.Contains(options, s) {
			return s, nil
		}
		p.printf("Please enter one of %s.\n", strings.Join(strings.Split(options, ""), "/"))
	}
}

func (p *prompter) askAmount(prompt string, def decimal.Decimal) (decimal.Decimal, error) {
	defStr := ""
	if !def.IsZero() {
		defStr = helpers.FormatAmount(def)
	}
	for {
		s, err := p.ask(prompt, defStr)
		if err != nil {
			return decimal.Zero, err
		}
		amount, err := helpers.ParseAmount(s)
		if err == nil && amount.IsPositive() {
			return amount, nil
		}
		p.printf("Please enter a positive amount.\n")
	}
}

func (p *prompter) askInt(prompt string, def, min, max int) (int, error) {
	for {
		s, err := p.ask(prompt, strconv.Itoa(def))
		if err != nil {
			return 0, err
		}
		n, err := strconv.Atoi(s)
		if err == nil && n >= min && n <= max {
			return n, nil
		}
		p.printf("Please enter a whole number from %d to %d.\n", min, max)
	}
}

func (p *prompter) askSymbol(prompt string) (string, error) {
	for {
		s, err := p.ask(prompt, "")
		if err != nil {
			return "", err
		}
		s = strings.ToUpper(s)
		if s != "" && !strings.ContainsAny(s, "| \t") {
			return s, nil
		}
		p.printf("Please enter a currency symbol, e.g. %s.\n", strings.Join(coinmeta.Known(), ", "))
	}
}

// readToken reads lines until the end marker or an empty line after some
// input.
func (p *prompter) readToken(prompt string) (string, error) {
	p.printf("%s\n", prompt)
	var b strings.Builder
	for {
		s, err := p.line()
		if err != nil {
			if err == errInputClosed && b.Len() > 0 {
				return b.String(), nil
			}
			return "", err
		}
		if s == "" {
			if b.Len() > 0 {
				return b.String(), nil
			}
			continue
		}
		b.WriteString(s)
		b.WriteByte('\n')
		if strings.Contains(s, token.EndMarker) {
			return b.String(), nil
		}
	}
}

// Unsynced implements readiness.Resolver.
func (p *prompter) Unsynced(symbol string) readiness.Choice {
	p.printf("\nThe %s blockchain is not fully synced. Trading cannot begin until it is.\n", symbol)
	c, err := p.choose("[R]etry or [A]bort?", "RA")
	if err != nil || c == "A" {
		return readiness.ChoiceAbort
	}
	return readiness.ChoiceRetry
}

// ConnectFailed implements readiness.Resolver.
func (p *prompter) ConnectFailed(symbol, endpoint string, err error) readiness.Choice {
	p.printf("\nError communicating with %s daemon at %s.\n  %v\n", symbol, endpoint, err)
	p.printf("Please make sure the %s wallet is running with server=1 and RPC enabled.\n", symbol)
	c, cerr := p.choose("[R]etry, [M]odify connection settings, or [A]bort?", "RMA")
	if cerr != nil {
		return readiness.ChoiceAbort
	}
	switch c {
	case "R":
		return readiness.ChoiceRetry
	case "M":
		return readiness.ChoiceReconfigure
	}
	return readiness.ChoiceAbort
}

// WalletLocked implements readiness.Resolver.
func (p *prompter) WalletLocked(symbol string, sending bool) readiness.Choice {
	p.printf("\n ----- Alert -----\n Your %s sending wallet is encrypted and locked.\n -----------------\n\n", symbol)
	p.printf("  [E]nter the unlock passphrase here. It will not be stored.\n")
	p.printf("  [T]ry again once you have unlocked it in your wallet software.\n")
	if sending {
		p.printf("  [A]bort. The trade may still be resumed later.\n\n")
	} else {
		p.printf("  [A]bort.\n\n")
	}
	c, err := p.choose("Please make your selection [E/T/A]", "ETA")
	if err != nil {
		return readiness.ChoiceAbort
	}
	switch c {
	case "E":
		return readiness.ChoiceUnlock
	case "T":
		return readiness.ChoiceTryAgain
	}
	return readiness.ChoiceAbort
}

// Passphrase implements readiness.Resolver.
func (p *prompter) Passphrase(symbol string, retry bool) (string, bool) {
	if retry {
		p.printf("The passphrase was incorrect.\n")
	}
	p.printf("%s wallet passphrase (empty to go back): ", symbol)
	pass, err := p.readSecret()
	if err != nil || len(pass) == 0 {
		return "", false
	}
	return string(pass), true
}

// Configure implements negotiate.Configurator. Answers are saved to the
// user coin settings.
func (p *prompter) Configure(ctx context.Context, coin *coinmeta.Coin, showDefaults bool) (*coinmeta.Coin, error) {
	p.printf("\n%s daemon connection settings", coin.Symbol)
	if coin.Name != "" {
		p.printf(" (%s)", coin.Name)
	}
	p.printf("\n")

	var err error
	ask := func(prompt string, cur string, always bool) string {
		if err != nil || (!always && cur != "" && !showDefaults) {
			return cur
		}
		var s string
		s, err = p.ask(prompt, cur)
		return s
	}

	c := *coin
	c.Host = ask("Host", c.Host, false)
	port := ""
	if c.RPCPort > 0 {
		port = strconv.Itoa(c.RPCPort)
	}
	for {
		port = ask("RPC port", port, false)
		if err != nil {
			return nil, err
		}
		n, perr := strconv.Atoi(port)
		if perr == nil && n > 0 && n < 65536 {
			c.RPCPort = n
			break
		}
		p.printf("Please enter a port number.\n")
		port = ""
	}
	c.RPCUser = ask("RPC user", c.RPCUser, false)
	c.RPCPass = ask("RPC password", c.RPCPass, false)
	if err != nil {
		return nil, err
	}

	if p.save != nil {
		if err := p.save(&c); err != nil {
			return nil, fmt.Errorf("saving %s settings: %w", c.Symbol, err)
		}
	}
	return &c, nil
}

var _ readiness.Resolver = (*prompter)(nil)
