package reporting

import (
	"strconv"

	"github.com/clinicaffil/platform/internal/shared/metrics"
)

// Suppressor withholds exact figures for slices whose conversion count falls
// below the floor. With few referred patients behind a slice, exact revenue
// and commission numbers can narrow down who converted, so those slices only
// report a "< floor" count. Suppression is applied at read time; the stored
// ledger always keeps exact amounts.
type Suppressor struct {
	Floor int
}

// Apply rewrites the slices in place and returns them. A floor of zero or
// below disables suppression.
func (s Suppressor) Apply(slices []AffiliateSlice) []AffiliateSlice {
	for i := range slices {
		sl := &slices[i]
		if s.Floor > 0 && sl.Conversions < int64(s.Floor) {
			sl.Suppressed = true
			sl.ConversionsLabel = suppressedLabel(s.Floor)
			sl.Conversions = 0
			sl.RevenueCents = nil
			sl.PendingCents = nil
			sl.ApprovedCents = nil
			sl.PaidCents = nil
			sl.ClawedBackCents = nil
			sl.TierBonusCents = nil
			metrics.RecordSuppressedSlice()
			continue
		}
		sl.ConversionsLabel = strconv.FormatInt(sl.Conversions, 10)
	}
	return slices
}
