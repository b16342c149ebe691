package constants

import "testing"

func TestPhaseNext(t *testing.T) {
	order := []Phase{PhaseSegmenting, PhaseExtracting, PhaseDetectMissing, PhaseEnhancing, PhaseFinalizing}
	for i := 0; i+1 < len(order); i++ {
		if got := order[i].Next(); got != order[i+1] {
			t.Errorf("%s.Next() = %s, want %s", order[i], got, order[i+1])
		}
	}
	if got := PhaseFinalizing.Next(); got != PhaseFinalizing {
		t.Errorf("final phase advanced to %s", got)
	}
}
