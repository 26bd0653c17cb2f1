package session

import "testing"

func TestGateDecisions(t *testing.T) {
	t.Parallel()

	gate := NewGate(0.8, 0.5)
	cases := []struct {
		confidence float64
		want       Decision
	}{
		{0.0, DecisionReject},
		{0.49, DecisionReject},
		{0.5, DecisionConfirm},
		{0.65, DecisionConfirm},
		{0.79, DecisionConfirm},
		{0.8, DecisionAccept},
		{0.92, DecisionAccept},
		{1.0, DecisionAccept},
	}
	for _, tc := range cases {
		if got := gate.Decide(tc.confidence); got != tc.want {
			t.Fatalf("Decide(%v) = %v, want %v", tc.confidence, got, tc.want)
		}
	}
}

func TestGateDefaultsOnInvalidThresholds(t *testing.T) {
	t.Parallel()

	gate := NewGate(0, -1)
	if gate.Decide(0.9) != DecisionAccept {
		t.Fatal("expected default auto-accept threshold of 0.8")
	}
	if gate.Decide(0.6) != DecisionConfirm {
		t.Fatal("expected default confirm threshold of 0.5")
	}
	if gate.Decide(0.4) != DecisionReject {
		t.Fatal("expected rejection below default confirm threshold")
	}
}
