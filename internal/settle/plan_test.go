package settle

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

var d = decimal.RequireFromString

// input20 is a 20-for-0.5 trade over 10 rounds: 2 per round sent,
// 0.05 per round received, hello 0.001 on both sides.
func input20(sent, received string) PlanInput {
	return PlanInput{
		SendAmount:      d("20"),
		SendHello:       d("0.001"),
		SendPerRound:    d("2"),
		ReceiveAmount:   d("0.5"),
		ReceiveHello:    d("0.001"),
		ReceivePerRound: d("0.05"),
		SentToDate:      d(sent),
		ReceivedToDate:  d(received),
	}
}

func TestPlanBootstrapSendsHello(t *testing.T) {
	for _, received := range []string{"0", "0.05", "0.25"} {
		got := Plan(input20("0", received))
		assert.Equal(t, "0.001", got.Send.String(), "received %s", received)
		assert.Equal(t, RuleHello, got.Rule)
	}
}

func TestPlanWaitsForCounterpartyHello(t *testing.T) {
	got := Plan(input20("0.001", "0"))
	assert.True(t, got.Send.IsZero())
	assert.Equal(t, RuleAwaitHello, got.Rule)
}

func TestPlanAfterHelloRestoresSchedule(t *testing.T) {
	got := Plan(input20("0.001", "0.001"))
	assert.Equal(t, "1.999", got.Send.String())
	assert.Equal(t, RuleAfterHello, got.Rule)
	assert.Equal(t, "18", got.Remainder.String())
}

func TestPlanCatchUp(t *testing.T) {
	got := Plan(input20("2", "0.2"))
	assert.Equal(t, int64(1), got.SentRound)
	assert.Equal(t, int64(4), got.ReceivedRound)
	assert.Equal(t, int64(3), got.Deficit)
	assert.Equal(t, "6", got.Behind.String())
	assert.Equal(t, "8", got.Send.String())
	assert.Equal(t, RuleCatchUp, got.Rule)
}

func TestPlanCatchUpIsCapped(t *testing.T) {
	got := Plan(input20("16", "0.5"))
	assert.Equal(t, "4", got.Send.String(), "never more than what is left")
	assert.True(t, got.Remainder.IsZero())
}

func TestPlanAheadWaits(t *testing.T) {
	got := Plan(input20("6", "0.1"))
	assert.Equal(t, int64(-1), got.Deficit)
	assert.Equal(t, "-2", got.Behind.String())
	assert.True(t, got.Send.IsZero())
	assert.Equal(t, RuleAhead, got.Rule)
}

func TestPlanDustTopUp(t *testing.T) {
	// 0.0009 would be left, below the 0.001 hello amount.
	got := Plan(input20("17.9991", "0.45"))
	assert.Equal(t, int64(9), got.SentRound)
	assert.Equal(t, int64(9), got.ReceivedRound)
	assert.Equal(t, "2.0009", got.Send.String())
	assert.Equal(t, "0.0009", got.TopUp.String())
	assert.True(t, got.Remainder.IsZero())
}

func TestPlanComplete(t *testing.T) {
	tests := []struct {
		sent, received string
		complete       bool
	}{
		{"20", "0.5", true},
		{"19.999", "0.499", true},
		{"19.998", "0.5", false},
		{"20", "0.498", false},
	}
	for _, tt := range tests {
		got := Plan(input20(tt.sent, tt.received))
		assert.Equal(t, tt.complete, got.Complete, "sent %s received %s", tt.sent, tt.received)
		if tt.complete {
			assert.True(t, got.Send.IsZero())
		}
	}
}

func TestPlanRoundsHalfAwayFromZero(t *testing.T) {
	assert.Equal(t, int64(1), roundOf(d("1"), d("2")))
	assert.Equal(t, int64(0), roundOf(d("0.999"), d("2")))
	assert.Equal(t, int64(0), roundOf(d("1"), decimal.Zero))
}

func TestPlanOverpaidSendsNothing(t *testing.T) {
	got := Plan(input20("21", "0.3"))
	assert.True(t, got.Send.IsZero())
}
