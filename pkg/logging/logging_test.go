package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want Level
	}{
		{"debug", DebugLevel},
		{"INFO", InfoLevel},
		{"warning", WarnLevel},
		{"error", ErrorLevel},
		{"bogus", InfoLevel},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestComponentKeepsOutput(t *testing.T) {
	var buf bytes.Buffer
	cfg := DefaultConfig()
	cfg.Output = &buf
	l := New(cfg).Component("settle")

	l.Info("round sent", "round", 3)

	out := buf.String()
	if !strings.Contains(out, "settle") || !strings.Contains(out, "round sent") {
		t.Errorf("component output = %q, want prefix and message", out)
	}
}

func TestFileSink(t *testing.T) {
	dir := t.TempDir()
	var buf bytes.Buffer
	cfg := DefaultConfig()
	cfg.Output = &buf
	cfg.File = filepath.Join(dir, "logs", "debug.log")

	New(cfg).Warn("wallet locked")

	data, err := os.ReadFile(cfg.File)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if !strings.Contains(string(data), "wallet locked") {
		t.Errorf("log file = %q, want message", data)
	}
	if !strings.Contains(buf.String(), "wallet locked") {
		t.Errorf("console output = %q, want message", buf.String())
	}
}

func TestOrDefault(t *testing.T) {
	l := Discard()
	if OrDefault(l, "x") != l {
		t.Error("OrDefault() should return the supplied logger")
	}
	if OrDefault(nil, "x") == nil {
		t.Error("OrDefault(nil) returned nil")
	}
}

func TestFormats(t *testing.T) {
	tests := []struct {
		format string
		want   string
	}{
		{FormatJSON, `"msg":"trade complete"`},
		{FormatLogfmt, `msg="trade complete"`},
	}
	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			var buf bytes.Buffer
			cfg := DefaultConfig()
			cfg.Output = &buf
			cfg.Format = tt.format
			New(cfg).Component("trader").Info("trade complete", "rounds", 10)

			if !strings.Contains(buf.String(), tt.want) {
				t.Errorf("%s output = %q, want %s", tt.format, buf.String(), tt.want)
			}
		})
	}
}

func TestTradeTagsLines(t *testing.T) {
	var buf bytes.Buffer
	cfg := DefaultConfig()
	cfg.Output = &buf
	cfg.Level = "debug"
	New(cfg).Trade("BTC-alice_PPC-bob").Debug("sending")

	if !strings.Contains(buf.String(), "trade=BTC-alice_PPC-bob") {
		t.Errorf("output = %q, want trade key", buf.String())
	}
}
