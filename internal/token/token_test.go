package token

import (
	"encoding/base64"
	"fmt"
	"math/rand"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/peertrade/peertrade/internal/trade"
	"github.com/peertrade/peertrade/internal/tradeerr"
)

func testConfig() *trade.Config {
	return &trade.Config{
		Send:      trade.Leg{Symbol: "PPC", Address: "", Amount: decimal.RequireFromString("20")},
		Receive:   trade.Leg{Symbol: "LTC", Address: "LQ3B36Yv2rBTxdgAdYpU2UcEZsaNwXeATk", Amount: decimal.RequireFromString("0.5")},
		NumRounds: 10,
		MinConf:   0,
	}
}

func assertSameFields(t *testing.T, cfg *trade.Config, f *Fields) {
	t.Helper()
	assert.Equal(t, Version, f.Version)
	assert.Equal(t, cfg.Receive.Symbol, f.ReceiveSymbol)
	assert.Equal(t, cfg.Receive.Address, f.ReceiveAddress)
	assert.True(t, cfg.Receive.Amount.Equal(f.ReceiveAmount), "receive amount %s != %s", cfg.Receive.Amount, f.ReceiveAmount)
	assert.Equal(t, cfg.Send.Symbol, f.SendSymbol)
	assert.Equal(t, cfg.Send.Address, f.SendAddress)
	assert.True(t, cfg.Send.Amount.Equal(f.SendAmount), "send amount %s != %s", cfg.Send.Amount, f.SendAmount)
	assert.Equal(t, cfg.NumRounds, f.NumRounds)
	assert.Equal(t, cfg.MinConf, f.MinConf)
}

func TestEncodeShape(t *testing.T) {
	tok := Encode(testConfig())

	lines := strings.Split(strings.TrimSuffix(tok, "\n"), "\n")
	require.GreaterOrEqual(t, len(lines), 3)
	assert.Equal(t, BeginMarker, lines[0])
	assert.Equal(t, EndMarker, lines[len(lines)-1])
	for _, l := range lines[1 : len(lines)-2] {
		assert.Len(t, l, 40)
	}
	assert.LessOrEqual(t, len(lines[len(lines)-2]), 40)
	assert.True(t, strings.HasSuffix(tok, EndMarker+"\n"))
}

func TestPayloadLayout(t *testing.T) {
	raw, err := base64.StdEncoding.DecodeString(Normalize(Encode(testConfig())))
	require.NoError(t, err)

	parts := strings.Split(string(raw), "|")
	require.Len(t, parts, 11)
	assert.Len(t, parts[0], 32, "id is hex md5")
	assert.Equal(t, []string{"1", "LTC", "LQ3B36Yv2rBTxdgAdYpU2UcEZsaNwXeATk", "0.5", "PPC", "", "20", "10", "0"}, parts[1:10])
	assert.Equal(t, checksum(strings.Join(parts[:10], "|")+"|"), parts[10])
}

func TestRoundTrip(t *testing.T) {
	cfg := testConfig()
	f, err := Decode(Encode(cfg))
	require.NoError(t, err)
	assertSameFields(t, cfg, f)

	rng := rand.New(rand.NewSource(42))
	symbols := []string{"BTC", "LTC", "PPC", "DOGE", "NMC"}
	for i := 0; i < 200; i++ {
		cfg := &trade.Config{
			Send: trade.Leg{
				Symbol:  symbols[rng.Intn(len(symbols))],
				Address: fmt.Sprintf("addr%d", rng.Int63()),
				Amount:  decimal.New(rng.Int63n(1e12)+1, -int32(rng.Intn(9))),
			},
			Receive: trade.Leg{
				Symbol:  symbols[rng.Intn(len(symbols))],
				Address: fmt.Sprintf("addr%d", rng.Int63()),
				Amount:  decimal.New(rng.Int63n(1e12)+1, -int32(rng.Intn(9))),
			},
			NumRounds: rng.Intn(1000),
			MinConf:   rng.Intn(7),
		}
		f, err := Decode(Encode(cfg))
		require.NoError(t, err, "iteration %d", i)
		assertSameFields(t, cfg, f)
	}
}

func TestDecodeReEncodeIsStable(t *testing.T) {
	tok := Encode(testConfig())
	f, err := Decode(tok)
	require.NoError(t, err)
	id, sum := f.ID, f.Checksum

	assert.Equal(t, tok, f.Encode())
	assert.Equal(t, id, f.ID)
	assert.Equal(t, sum, f.Checksum)
}

func TestChecksumIntegrity(t *testing.T) {
	norm := Normalize(Encode(testConfig()))
	orig, err := base64.StdEncoding.DecodeString(norm)
	require.NoError(t, err)

	const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789+/"
	checked := 0
	for i := 0; i < len(norm); i++ {
		if norm[i] == '=' {
			continue
		}
		repl := alphabet[(strings.IndexByte(alphabet, norm[i])+1+i%63)%len(alphabet)]
		corrupted := norm[:i] + string(repl) + norm[i+1:]

		raw, decErr := base64.StdEncoding.DecodeString(corrupted)
		if decErr == nil && string(raw) == string(orig) {
			continue // only unused trailing bits changed
		}

		_, err := Decode(corrupted)
		require.Error(t, err, "flip at %d accepted", i)

		if decErr == nil && strings.Count(string(raw), "|") == 10 {
			assert.Equal(t, tradeerr.CodeChecksumMismatch, tradeerr.CodeOf(err), "flip at %d", i)
			checked++
		} else {
			assert.Equal(t, tradeerr.CodeInvalidToken, tradeerr.CodeOf(err), "flip at %d", i)
		}
	}
	assert.Greater(t, checked, 0)
}

func TestFieldCountGuard(t *testing.T) {
	for _, n := range []int{1, 10, 12, 20} {
		payload := strings.Repeat("x|", n-1) + "x"
		tok := base64.StdEncoding.EncodeToString([]byte(payload))

		_, err := Decode(tok)
		require.Error(t, err)
		var te *tradeerr.Error
		require.ErrorAs(t, err, &te)
		assert.Equal(t, tradeerr.CodeInvalidToken, te.Code, "n=%d", n)
		assert.Equal(t, tradeerr.ReasonInvalidFormat, te.Reason)
	}
}

func TestDecodeGarbage(t *testing.T) {
	for _, in := range []string{"", "   \n", "!!!not base64!!!", BeginMarker + "\n" + EndMarker} {
		_, err := Decode(in)
		assert.ErrorIs(t, err, tradeerr.ErrInvalidToken, "input %q", in)
	}
}

func TestDecodeRejectsBadNumbers(t *testing.T) {
	body := "|1|LTC|a|abc|PPC|b|20|10|0|"
	payload := "id" + body
	payload += checksum(payload)

	_, err := Decode(base64.StdEncoding.EncodeToString([]byte(payload)))
	assert.ErrorIs(t, err, tradeerr.ErrInvalidToken)
}

// Float amounts printed in exponent form still decode.
func TestDecodeExponentAmounts(t *testing.T) {
	body := "|1|LTC|a|1.0E-5|PPC|b|2.5E+1|10|0|"
	payload := "id" + body
	payload += checksum(payload)

	f, err := Decode(base64.StdEncoding.EncodeToString([]byte(payload)))
	require.NoError(t, err)
	assert.Equal(t, "0.00001", f.ReceiveAmount.String())
	assert.Equal(t, "25", f.SendAmount.String())
}

func TestNormalize(t *testing.T) {
	tok := Encode(testConfig())
	norm := Normalize(tok)

	assert.Equal(t, norm, Normalize(norm), "idempotent")
	assert.NotContains(t, norm, "\n")
	assert.NotContains(t, norm, "===")

	// Re-chunk at a different width and drop the markers.
	var b strings.Builder
	for i := 0; i < len(norm); i += 7 {
		end := i + 7
		if end > len(norm) {
			end = len(norm)
		}
		b.WriteString(norm[i:end])
		b.WriteString("\r\n\t ")
	}
	assert.Equal(t, norm, Normalize(b.String()))
	assert.Equal(t, norm, Normalize("  "+BeginMarker+"\n"+b.String()+EndMarker))
}
