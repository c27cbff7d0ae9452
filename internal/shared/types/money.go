package types

// Monetary amounts are integer cents throughout the engine. Rates expressed as
// basis points are bounded to [0, 10000]; 100 bps = 1%.

// MaxBps is the upper bound for a basis-point rate (100%).
const MaxBps int32 = 10000

// RoundBps computes amountCents * bps / 10000 with half-up rounding.
// Negative inputs and out-of-range rates yield zero.
func RoundBps(amountCents int64, bps int32) int64 {
	if amountCents <= 0 || bps <= 0 {
		return 0
	}
	b := int64(bps)
	if b > int64(MaxBps) {
		b = int64(MaxBps)
	}
	return (amountCents*b + int64(MaxBps)/2) / int64(MaxBps)
}

// ValidBps reports whether a basis-point rate is within [0, 10000].
func ValidBps(bps int32) bool {
	return bps >= 0 && bps <= MaxBps
}

// MinCents returns the smaller of two cent amounts.
func MinCents(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
