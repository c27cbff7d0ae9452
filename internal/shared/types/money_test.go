package types

import "testing"

func TestRoundBps(t *testing.T) {
	tests := []struct {
		name        string
		amountCents int64
		bps         int32
		want        int64
	}{
		{"ten percent", 10000, 1000, 1000},
		{"one percent", 10000, 100, 100},
		{"full rate", 12345, 10000, 12345},
		{"rounds half up", 999, 1000, 100},  // 99.9 -> 100
		{"rounds down", 994, 1000, 99},      // 99.4 -> 99
		{"exact half up", 995, 1000, 100},   // 99.5 -> 100
		{"single cent", 1, 5000, 1},         // 0.5 -> 1
		{"below half", 1, 4999, 0},          // 0.4999 -> 0
		{"zero amount", 0, 1000, 0},
		{"negative amount", -10000, 1000, 0},
		{"zero rate", 10000, 0, 0},
		{"negative rate", 10000, -100, 0},
		{"rate clamped at max", 10000, 20000, 10000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := RoundBps(tt.amountCents, tt.bps); got != tt.want {
				t.Errorf("Expected %d, got %d", tt.want, got)
			}
		})
	}
}

func TestValidBps(t *testing.T) {
	for _, bps := range []int32{0, 1, 100, 10000} {
		if !ValidBps(bps) {
			t.Errorf("Expected %d to be valid", bps)
		}
	}
	for _, bps := range []int32{-1, 10001} {
		if ValidBps(bps) {
			t.Errorf("Expected %d to be invalid", bps)
		}
	}
}

func TestMinCents(t *testing.T) {
	if got := MinCents(5000, 3000); got != 3000 {
		t.Errorf("Expected 3000, got %d", got)
	}
	if got := MinCents(-100, 100); got != -100 {
		t.Errorf("Expected -100, got %d", got)
	}
}
