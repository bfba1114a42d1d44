package helpers

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestFormatAmount(t *testing.T) {
	tests := []struct {
		amount string
		want   string
	}{
		{"1", "1"},
		{"20.00000000", "20"},
		{"0.5", "0.5"},
		{"0.12345678", "0.12345678"},
		{"0.001", "0.001"},
		{"0.00000001", "0.00000001"},
		{"0.123456789", "0.12345678"}, // truncated, not rounded
		{"0", "0"},
	}

	for _, tt := range tests {
		t.Run(tt.amount, func(t *testing.T) {
			got := FormatAmount(decimal.RequireFromString(tt.amount))
			if got != tt.want {
				t.Errorf("FormatAmount(%s) = %s, want %s", tt.amount, got, tt.want)
			}
		})
	}
}

func TestParseAmount(t *testing.T) {
	tests := []struct {
		input   string
		want    string
		wantErr bool
	}{
		{"1", "1", false},
		{"0.5", "0.5", false},
		{" 0.001 ", "0.001", false},
		{"0.999999999", "0.99999999", false},
		{"0", "0", false},
		{"invalid", "", true},
		{"1.2.3", "", true},
		{"-1", "", true},
		{"1e5", "", true},
		{".", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseAmount(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Error("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !got.Equal(decimal.RequireFromString(tt.want)) {
				t.Errorf("ParseAmount(%q) = %s, want %s", tt.input, got, tt.want)
			}
		})
	}
}

func TestParseWireAmount(t *testing.T) {
	tests := []struct {
		input   string
		want    string
		wantErr bool
	}{
		{"0.5", "0.5", false},
		{"1.0E-5", "0.00001", false},
		{"1.0e-5", "0.00001", false},
		{"2.5E+3", "2500", false},
		{"5E-3", "0.005", false},
		{"1.0E-9", "0", false},
		{"1e5", "100000", false},
		{"-1.0E-5", "", true},
		{"1.0E", "", true},
		{"1.0E-", "", true},
		{"1.0E-x", "", true},
		{"E-5", "", true},
		{"1.0E-5000", "", true},
		{"1.0E-5E2", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseWireAmount(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Errorf("expected error, got %s", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !got.Equal(decimal.RequireFromString(tt.want)) {
				t.Errorf("ParseWireAmount(%q) = %s, want %s", tt.input, got, tt.want)
			}
		})
	}
}

func TestTruncateNeverRoundsUp(t *testing.T) {
	// 20 / 3 = 6.666666666...
	perRound := TruncateCoin(decimal.NewFromInt(20).Div(decimal.NewFromInt(3)))
	if perRound.String() != "6.66666666" {
		t.Errorf("TruncateCoin(20/3) = %s, want 6.66666666", perRound)
	}
	if got := Truncate(decimal.RequireFromString("2.559"), 2); got.String() != "2.55" {
		t.Errorf("Truncate(2.559, 2) = %s, want 2.55", got)
	}
}

func TestHumanDuration(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{0, "0 seconds"},
		{45 * time.Second, "45 seconds"},
		{time.Hour + 2*time.Second, "1 hours 2 seconds"},
		{49*time.Hour + 3*time.Minute, "2 days 1 hours 3 minutes"},
	}

	for _, tt := range tests {
		if got := HumanDuration(tt.in); got != tt.want {
			t.Errorf("HumanDuration(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
