package plan

import (
	"sort"
	"time"

	"github.com/clinicaffil/platform/internal/shared/types"
)

// RateSource records which plan field the selected rate came from
type RateSource string

const (
	RateSourceBase      RateSource = "base"
	RateSourceInitial   RateSource = "initial"
	RateSourceRecurring RateSource = "recurring"
	RateSourceTier      RateSource = "tier"
	RateSourceNone      RateSource = "none"
)

// ZeroReason explains why a payment earned no commission. Zero-amount events
// are still persisted so the ledger stays audit-complete.
type ZeroReason string

const (
	ZeroNone                 ZeroReason = ""
	ZeroMalformedPlan        ZeroReason = "malformed_plan"
	ZeroNoActivePlan         ZeroReason = "no_active_plan"
	ZeroScopeExcluded        ZeroReason = "scope_excluded"
	ZeroRecurringDisabled    ZeroReason = "recurring_disabled"
	ZeroRecurringCycleCapped ZeroReason = "recurring_cycle_capped"
)

// RateSelection is the outcome of rate resolution for one payment. Exactly
// one of FlatCents/Bps is set unless Zero is true.
type RateSelection struct {
	Source    RateSource
	FlatCents *int64
	Bps       *int32
	Zero      bool
	Reason    ZeroReason
}

func zeroRate(reason ZeroReason) RateSelection {
	return RateSelection{Source: RateSourceNone, Zero: true, Reason: reason}
}

// SelectRate resolves the applicable rate for a payment with a fixed
// precedence order: initial override, then base, for first payments;
// recurring override, then base, for recurring payments — after the
// recurring gates (scope, enabled flag, cycle cap) pass. recurringCycle is
// 1-based and trusted from the caller; it is ignored for first payments.
//
// A malformed plan resolves to zero rather than failing: plan
// misconfiguration must never block payment processing.
func SelectRate(p *CommissionPlan, isFirstPayment bool, recurringCycle int32) RateSelection {
	if err := p.Validate(); err != nil {
		return zeroRate(ZeroMalformedPlan)
	}

	if isFirstPayment {
		if p.InitialPercentBps != nil {
			return RateSelection{Source: RateSourceInitial, Bps: p.InitialPercentBps}
		}
		if p.InitialFlatAmountCents != nil {
			return RateSelection{Source: RateSourceInitial, FlatCents: p.InitialFlatAmountCents}
		}
		return baseRate(p)
	}

	if p.AppliesTo == AppliesToFirstPaymentOnly {
		return zeroRate(ZeroScopeExcluded)
	}
	if !p.RecurringEnabled {
		return zeroRate(ZeroRecurringDisabled)
	}
	if p.RecurringMonths != nil && recurringCycle > *p.RecurringMonths {
		return zeroRate(ZeroRecurringCycleCapped)
	}

	if p.RecurringPercentBps != nil {
		return RateSelection{Source: RateSourceRecurring, Bps: p.RecurringPercentBps}
	}
	if p.RecurringFlatAmountCents != nil {
		return RateSelection{Source: RateSourceRecurring, FlatCents: p.RecurringFlatAmountCents}
	}
	return baseRate(p)
}

func baseRate(p *CommissionPlan) RateSelection {
	if p.PlanType == PlanTypeFlat {
		return RateSelection{Source: RateSourceBase, FlatCents: p.FlatAmountCents}
	}
	return RateSelection{Source: RateSourceBase, Bps: p.PercentBps}
}

// ApplyTierOverride replaces the selected rate with the tier's override, when
// the tier carries one. Zero selections stay zero: a tier never resurrects a
// payment the plan gated out.
func ApplyTierOverride(sel RateSelection, tier *CommissionTier) RateSelection {
	if sel.Zero || tier == nil {
		return sel
	}
	if tier.RateOverrideBps != nil {
		return RateSelection{Source: RateSourceTier, Bps: tier.RateOverrideBps}
	}
	if tier.FlatOverrideCents != nil {
		return RateSelection{Source: RateSourceTier, FlatCents: tier.FlatOverrideCents}
	}
	return sel
}

// CommissionCents converts a selected rate into cents owed for a payment.
// Flat amounts are capped at the underlying transaction value.
func CommissionCents(sel RateSelection, eventAmountCents int64) int64 {
	if sel.Zero || eventAmountCents <= 0 {
		return 0
	}
	if sel.FlatCents != nil {
		if *sel.FlatCents > eventAmountCents {
			return eventAmountCents
		}
		return *sel.FlatCents
	}
	if sel.Bps != nil {
		return types.RoundBps(eventAmountCents, *sel.Bps)
	}
	return 0
}

// QualifyingTier evaluates tiers top-down and returns the highest tier whose
// conversion and revenue thresholds are both met, or nil when none qualify.
func QualifyingTier(tiers []CommissionTier, conversions, revenueCents int64) *CommissionTier {
	sorted := make([]CommissionTier, len(tiers))
	copy(sorted, tiers)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Level > sorted[j].Level })

	for i := range sorted {
		if sorted[i].Qualifies(conversions, revenueCents) {
			t := sorted[i]
			return &t
		}
	}
	return nil
}

// PromotionBonusCents sums the bonuses of all promotions live at the payment
// time. Bps bonuses apply to the underlying transaction value.
func PromotionBonusCents(promos []Promotion, at time.Time, isFirstPayment bool, eventAmountCents int64) int64 {
	if eventAmountCents <= 0 {
		return 0
	}

	var total int64
	for i := range promos {
		p := &promos[i]
		if !p.AppliesAt(at, isFirstPayment) {
			continue
		}
		if p.BonusBps != nil {
			total += types.RoundBps(eventAmountCents, *p.BonusBps)
		}
		if p.BonusFlatCents != nil {
			total += *p.BonusFlatCents
		}
	}
	return total
}
