// Package token encodes and decodes the handshake token two parties swap
// out of band to agree on a trade.
//
// The payload is eleven pipe-delimited fields:
//
//	id|version|recv_sym|recv_addr|recv_amt|send_sym|send_addr|send_amt|rounds|minconf|checksum
//
// id is the hex MD5 of "|version|...|minconf|" and checksum is the unpadded
// lowercase hex CRC32 of everything before it, including the trailing pipe.
// The payload is base64 encoded and wrapped at 40 columns between marker lines.
package token

import (
	"crypto/md5"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"hash/crc32"
	"strconv"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"

	"github.com/peertrade/peertrade/internal/trade"
	"github.com/peertrade/peertrade/internal/tradeerr"
	"github.com/peertrade/peertrade/pkg/helpers"
)

const (
	// Version is the only token format version in use.
	Version = "1"

	BeginMarker = "=== BEGIN PEERTRADE TOKEN ==="
	EndMarker   = "=== END PEERTRADE TOKEN ==="

	delimiter  = "|"
	lineWidth  = 40
	fieldCount = 11
)

// Fields are the decoded contents of a token, from the issuer's point of view:
// Receive is what the issuer wants to get, Send is what the issuer pays.
type Fields struct {
	ID             string
	Version        string
	ReceiveSymbol  string
	ReceiveAddress string
	ReceiveAmount  decimal.Decimal
	SendSymbol     string
	SendAddress    string
	SendAmount     decimal.Decimal
	NumRounds      int
	MinConf        int
	Checksum       string
}

// FromConfig collects the token fields of cfg. ID and Checksum are left empty.
func FromConfig(cfg *trade.Config) *Fields {
	return &Fields{
		Version:        Version,
		ReceiveSymbol:  cfg.Receive.Symbol,
		ReceiveAddress: cfg.Receive.Address,
		ReceiveAmount:  cfg.Receive.Amount,
		SendSymbol:     cfg.Send.Symbol,
		SendAddress:    cfg.Send.Address,
		SendAmount:     cfg.Send.Amount,
		NumRounds:      cfg.NumRounds,
		MinConf:        cfg.MinConf,
	}
}

// body returns "|version|...|minconf|".
func (f *Fields) body() string {
	version := f.Version
	if version == "" {
		version = Version
	}
	parts := []string{
		"",
		version,
		f.ReceiveSymbol,
		f.ReceiveAddress,
		helpers.FormatAmount(f.ReceiveAmount),
		f.SendSymbol,
		f.SendAddress,
		helpers.FormatAmount(f.SendAmount),
		strconv.Itoa(f.NumRounds),
		strconv.Itoa(f.MinConf),
		"",
	}
	return strings.Join(parts, delimiter)
}

// Encode renders cfg as a wrapped token string.
func Encode(cfg *trade.Config) string {
	return FromConfig(cfg).Encode()
}

// Encode renders the fields as a wrapped token string, recomputing ID and Checksum.
func (f *Fields) Encode() string {
	body := f.body()
	sum := md5.Sum([]byte(body))
	f.ID = hex.EncodeToString(sum[:])

	payload := f.ID + body
	f.Checksum = checksum(payload)
	payload += f.Checksum

	encoded := base64.StdEncoding.EncodeToString([]byte(payload))

	var b strings.Builder
	b.WriteString(BeginMarker)
	b.WriteByte('\n')
	for len(encoded) > lineWidth {
		b.WriteString(encoded[:lineWidth])
		b.WriteByte('\n')
		encoded = encoded[lineWidth:]
	}
	b.WriteString(encoded)
	b.WriteByte('\n')
	b.WriteString(EndMarker)
	b.WriteByte('\n')
	return b.String()
}

func checksum(s string) string {
	return fmt.Sprintf("%x", crc32.ChecksumIEEE([]byte(s)))
}

// Normalize strips marker lines and all whitespace, giving a form that
// compares equal regardless of wrapping.
func Normalize(s string) string {
	s = strings.ReplaceAll(s, BeginMarker, "")
	s = strings.ReplaceAll(s, EndMarker, "")
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
}

// Decode parses a token. Failures are *tradeerr.Error values tagged
// CodeInvalidToken (reason invalid format) or CodeChecksumMismatch.
func Decode(s string) (*Fields, error) {
	normalized := Normalize(s)
	if normalized == "" {
		return nil, invalidFormat("token is empty")
	}

	raw, err := base64.StdEncoding.DecodeString(normalized)
	if err != nil {
		return nil, invalidFormat("token is not valid base64")
	}

	parts := strings.Split(string(raw), delimiter)
	if len(parts) != fieldCount {
		return nil, invalidFormat(fmt.Sprintf("token has %d fields, want %d", len(parts), fieldCount))
	}

	want := checksum(strings.Join(parts[:fieldCount-1], delimiter) + delimiter)
	if parts[fieldCount-1] != want {
		return nil, &tradeerr.Error{
			Code:   tradeerr.CodeChecksumMismatch,
			Reason: tradeerr.ReasonChecksumMismatch,
			Msg:    "token checksum does not match its contents",
		}
	}

	f := &Fields{
		ID:             parts[0],
		Version:        parts[1],
		ReceiveSymbol:  parts[2],
		ReceiveAddress: parts[3],
		SendSymbol:     parts[5],
		SendAddress:    parts[6],
		Checksum:       parts[10],
	}

	if f.ReceiveAmount, err = helpers.ParseWireAmount(parts[4]); err != nil {
		return nil, invalidFormat("receive amount: " + err.Error())
	}
	if f.SendAmount, err = helpers.ParseWireAmount(parts[7]); err != nil {
		return nil, invalidFormat("send amount: " + err.Error())
	}
	if f.NumRounds, err = parseCount(parts[8]); err != nil {
		return nil, invalidFormat("rounds: " + err.Error())
	}
	if f.MinConf, err = parseCount(parts[9]); err != nil {
		return nil, invalidFormat("confirmations: " + err.Error())
	}

	return f, nil
}

func parseCount(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("not a number: %q", s)
	}
	if n < 0 {
		return 0, fmt.Errorf("negative value %d", n)
	}
	return n, nil
}

func invalidFormat(msg string) error {
	return &tradeerr.Error{
		Code:   tradeerr.CodeInvalidToken,
		Reason: tradeerr.ReasonInvalidFormat,
		Msg:    msg,
	}
}
