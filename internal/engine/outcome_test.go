package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/marketmind/decisioncore/internal/domain"
)

func fp(v float64) *float64 { return &v }

func TestOutcomePercent(t *testing.T) {
	tests := []struct {
		name    string
		signal  domain.Signal
		entry   float64
		current float64
		want    float64
	}{
		{"long gain", domain.SignalBuy, 100.0, 100.5, 0.5},
		{"long loss", domain.SignalBuy, 100.0, 99.0, -1.0},
		{"short gain on falling price", domain.SignalSell, 100.0, 99.0, 1.0},
		{"short loss on rising price", domain.SignalSell, 100.0, 101.0, -1.0},
		{"zero entry guards divide", domain.SignalBuy, 0.0, 101.0, 0.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, OutcomePercent(tt.signal, tt.entry, tt.current), 1e-9)
		})
	}
}

func TestLabelOutcome(t *testing.T) {
	tests := []struct {
		name string
		in   OutcomeInput
		want domain.OutcomeLabel
	}{
		{
			name: "long target hit",
			in: OutcomeInput{
				Signal: domain.SignalBuy, EntryPrice: 100, CurrentPrice: 105,
				TargetPrice: fp(104), OutcomePercent: 5.0, HoldMinutes: 8,
			},
			want: domain.OutcomeTargetHit,
		},
		{
			name: "short target hit below entry",
			in: OutcomeInput{
				Signal: domain.SignalSell, EntryPrice: 100, CurrentPrice: 96,
				TargetPrice: fp(97), OutcomePercent: 4.0, HoldMinutes: 8,
			},
			want: domain.OutcomeTargetHit,
		},
		{
			name: "long stop out",
			in: OutcomeInput{
				Signal: domain.SignalBuy, EntryPrice: 100, CurrentPrice: 97,
				StopLoss: fp(98), OutcomePercent: -3.0, HoldMinutes: 4,
			},
			want: domain.OutcomeStopOut,
		},
		{
			name: "fast win inside five minutes",
			in: OutcomeInput{
				Signal: domain.SignalBuy, EntryPrice: 100, CurrentPrice: 100.8,
				OutcomePercent: 0.8, HoldMinutes: 3,
			},
			want: domain.OutcomeFastWin,
		},
		{
			name: "slow win after fifteen minutes",
			in: OutcomeInput{
				Signal: domain.SignalBuy, EntryPrice: 100, CurrentPrice: 100.5,
				OutcomePercent: 0.5, HoldMinutes: 20,
			},
			want: domain.OutcomeSlowWin,
		},
		{
			name: "positive in the dead zone is no edge",
			in: OutcomeInput{
				Signal: domain.SignalBuy, EntryPrice: 100, CurrentPrice: 100.3,
				OutcomePercent: 0.3, HoldMinutes: 10,
			},
			want: domain.OutcomeNoEdge,
		},
		{
			name: "flat trade is no edge",
			in: OutcomeInput{
				Signal: domain.SignalBuy, EntryPrice: 100, CurrentPrice: 100,
				OutcomePercent: 0.0, HoldMinutes: 20,
			},
			want: domain.OutcomeNoEdge,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, LabelOutcome(tt.in))
		})
	}
}

func TestAgentWin(t *testing.T) {
	tests := []struct {
		name        string
		agentSignal domain.Signal
		finalSignal domain.Signal
		outcomePct  float64
		want        bool
	}{
		{"agreed on a profitable trade", domain.SignalBuy, domain.SignalBuy, 0.5, true},
		{"agreed on a losing trade", domain.SignalBuy, domain.SignalBuy, -0.5, false},
		{"dissented from a losing trade", domain.SignalHold, domain.SignalBuy, -0.5, true},
		{"dissented from a winning trade", domain.SignalHold, domain.SignalBuy, 0.5, false},
		{"tiny gain under the noise threshold counts as unprofitable", domain.SignalBuy, domain.SignalBuy, 0.05, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := AgentWin(tt.agentSignal, tt.finalSignal, tt.outcomePct, DefaultProfitThresholdPct)
			assert.Equal(t, tt.want, got)
		})
	}
}
