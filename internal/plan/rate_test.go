package plan

import (
	"context"
	"testing"
	"time"

	"github.com/clinicaffil/platform/internal/shared/types"
)

func int32Ptr(v int32) *int32 { return &v }
func int64Ptr(v int64) *int64 { return &v }

func percentPlan(baseBps int32) *CommissionPlan {
	return &CommissionPlan{
		ID:         types.NewID(),
		TenantID:   types.NewID(),
		Name:       "Standard",
		Version:    1,
		PlanType:   PlanTypePercent,
		PercentBps: int32Ptr(baseBps),
		AppliesTo:  AppliesToAllPayments,
	}
}

// TestRateSelectionPrecedence tests the fixed precedence order for a plan
// with distinct initial, recurring and base rates
func TestRateSelectionPrecedence(t *testing.T) {
	p := percentPlan(200)
	p.InitialPercentBps = int32Ptr(1000)
	p.RecurringPercentBps = int32Ptr(500)
	p.RecurringEnabled = true

	tests := []struct {
		name          string
		isFirst       bool
		expectedCents int64
	}{
		{"First payment uses initial rate", true, 1000},  // 10% of $100.00
		{"Recurring payment uses recurring rate", false, 500}, // 5% of $100.00
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sel := SelectRate(p, tt.isFirst, 1)
			if sel.Zero {
				t.Fatalf("Expected non-zero rate, got reason %q", sel.Reason)
			}
			got := CommissionCents(sel, 10000)
			if got != tt.expectedCents {
				t.Errorf("Expected %d cents, got %d", tt.expectedCents, got)
			}
		})
	}
}

// TestRateFallsBackToBase tests base-rate fallback when overrides are unset
func TestRateFallsBackToBase(t *testing.T) {
	p := percentPlan(200)
	p.RecurringEnabled = true

	first := SelectRate(p, true, 0)
	if first.Source != RateSourceBase || CommissionCents(first, 10000) != 200 {
		t.Errorf("Expected base rate 200 cents for first payment, got %d from %s",
			CommissionCents(first, 10000), first.Source)
	}

	recurring := SelectRate(p, false, 1)
	if recurring.Source != RateSourceBase || CommissionCents(recurring, 10000) != 200 {
		t.Errorf("Expected base rate 200 cents for recurring payment, got %d from %s",
			CommissionCents(recurring, 10000), recurring.Source)
	}
}

// TestRecurringDisabledYieldsZero tests that recurring payments earn nothing
// when the plan does not enable them
func TestRecurringDisabledYieldsZero(t *testing.T) {
	p := percentPlan(200)
	p.RecurringPercentBps = int32Ptr(500)

	sel := SelectRate(p, false, 1)
	if !sel.Zero {
		t.Fatal("Expected zero rate")
	}
	if sel.Reason != ZeroRecurringDisabled {
		t.Errorf("Expected reason %q, got %q", ZeroRecurringDisabled, sel.Reason)
	}
	if CommissionCents(sel, 10000) != 0 {
		t.Error("Expected zero commission")
	}
}

// TestFirstPaymentOnlyScope tests the appliesTo gate
func TestFirstPaymentOnlyScope(t *testing.T) {
	p := percentPlan(200)
	p.AppliesTo = AppliesToFirstPaymentOnly
	p.RecurringEnabled = true

	sel := SelectRate(p, false, 1)
	if !sel.Zero || sel.Reason != ZeroScopeExcluded {
		t.Errorf("Expected scope_excluded, got zero=%v reason=%q", sel.Zero, sel.Reason)
	}

	// first payments are unaffected by the scope
	if SelectRate(p, true, 0).Zero {
		t.Error("Expected first payment to earn under first_payment_only scope")
	}
}

// TestRecurringCycleCap tests the recurringMonths cutoff
func TestRecurringCycleCap(t *testing.T) {
	p := percentPlan(200)
	p.RecurringEnabled = true
	p.RecurringMonths = int32Ptr(12)

	if sel := SelectRate(p, false, 12); sel.Zero {
		t.Errorf("Expected cycle 12 to earn, got reason %q", sel.Reason)
	}

	sel := SelectRate(p, false, 13)
	if !sel.Zero || sel.Reason != ZeroRecurringCycleCapped {
		t.Errorf("Expected recurring_cycle_capped at cycle 13, got zero=%v reason=%q", sel.Zero, sel.Reason)
	}
}

// TestFlatAmountCap tests that flat commissions never exceed the underlying
// transaction
func TestFlatAmountCap(t *testing.T) {
	p := &CommissionPlan{
		ID:              types.NewID(),
		TenantID:        types.NewID(),
		Name:            "Flat",
		PlanType:        PlanTypeFlat,
		FlatAmountCents: int64Ptr(5000),
		AppliesTo:       AppliesToAllPayments,
	}

	sel := SelectRate(p, true, 0)
	if got := CommissionCents(sel, 3000); got != 3000 {
		t.Errorf("Expected flat commission capped at 3000 cents, got %d", got)
	}
	if got := CommissionCents(sel, 20000); got != 5000 {
		t.Errorf("Expected flat commission of 5000 cents, got %d", got)
	}
}

// TestMalformedPlanYieldsZero tests the fallback-to-zero rule for plans that
// fail validation
func TestMalformedPlanYieldsZero(t *testing.T) {
	p := percentPlan(200)
	p.FlatAmountCents = int64Ptr(1000) // both rate kinds set

	sel := SelectRate(p, true, 0)
	if !sel.Zero || sel.Reason != ZeroMalformedPlan {
		t.Errorf("Expected malformed_plan, got zero=%v reason=%q", sel.Zero, sel.Reason)
	}
}

// TestRoundingHalfUp tests percentage rounding
func TestRoundingHalfUp(t *testing.T) {
	tests := []struct {
		amount   int64
		bps      int32
		expected int64
	}{
		{10000, 1000, 1000},
		{999, 1000, 100},  // 99.9 rounds up
		{994, 1000, 99},   // 99.4 rounds down
		{995, 1000, 100},  // 99.5 rounds up
		{1, 1, 0},         // 0.0001 rounds down
	}

	for _, tt := range tests {
		if got := types.RoundBps(tt.amount, tt.bps); got != tt.expected {
			t.Errorf("RoundBps(%d, %d): expected %d, got %d", tt.amount, tt.bps, tt.expected, got)
		}
	}
}

// TestApplyTierOverride tests tier rate replacement
func TestApplyTierOverride(t *testing.T) {
	p := percentPlan(1000)
	sel := SelectRate(p, true, 0)

	tier := &CommissionTier{Level: 2, RateOverrideBps: int32Ptr(1200)}
	overridden := ApplyTierOverride(sel, tier)
	if overridden.Source != RateSourceTier {
		t.Errorf("Expected tier source, got %s", overridden.Source)
	}
	if got := CommissionCents(overridden, 10000); got != 1200 {
		t.Errorf("Expected 1200 cents under tier override, got %d", got)
	}

	// a tier without overrides leaves the selection alone
	plain := ApplyTierOverride(sel, &CommissionTier{Level: 1})
	if plain.Source != sel.Source {
		t.Error("Expected selection to pass through unchanged")
	}

	// a zero selection stays zero
	zero := zeroRate(ZeroRecurringDisabled)
	if !ApplyTierOverride(zero, tier).Zero {
		t.Error("Expected zero selection to stay zero")
	}
}

// TestQualifyingTierTopDown tests that the highest qualifying tier wins
func TestQualifyingTierTopDown(t *testing.T) {
	tiers := []CommissionTier{
		{Level: 1, MinConversions: 5, MinRevenueCents: 50000},
		{Level: 2, MinConversions: 10, MinRevenueCents: 100000},
		{Level: 3, MinConversions: 50, MinRevenueCents: 500000},
	}

	tests := []struct {
		name          string
		conversions   int64
		revenueCents  int64
		expectedLevel int32 // 0 = none
	}{
		{"Below all tiers", 4, 40000, 0},
		{"Meets tier 1", 5, 50000, 1},
		{"Conversions alone are not enough", 10, 50000, 1},
		{"Meets tier 2", 10, 100000, 2},
		{"Meets tier 3", 80, 900000, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tier := QualifyingTier(tiers, tt.conversions, tt.revenueCents)
			if tt.expectedLevel == 0 {
				if tier != nil {
					t.Errorf("Expected no tier, got level %d", tier.Level)
				}
				return
			}
			if tier == nil {
				t.Fatal("Expected a qualifying tier")
			}
			if tier.Level != tt.expectedLevel {
				t.Errorf("Expected level %d, got %d", tt.expectedLevel, tier.Level)
			}
		})
	}
}

// TestTierMonotonicity tests that qualifying for tier N implies qualifying
// for every lower tier
func TestTierMonotonicity(t *testing.T) {
	tiers := []CommissionTier{
		{Level: 1, MinConversions: 5, MinRevenueCents: 50000},
		{Level: 2, MinConversions: 10, MinRevenueCents: 100000},
		{Level: 3, MinConversions: 50, MinRevenueCents: 500000},
	}

	top := QualifyingTier(tiers, 60, 600000)
	if top == nil || top.Level != 3 {
		t.Fatal("Expected tier 3 to qualify")
	}

	for _, tier := range tiers {
		if tier.Level < top.Level && !tier.Qualifies(60, 600000) {
			t.Errorf("Expected tier %d to also qualify", tier.Level)
		}
	}
}

// TestPromotionBonus tests time-boxed promotion application
func TestPromotionBonus(t *testing.T) {
	now := time.Now()
	promos := []Promotion{
		{
			Name: "Spring boost", BonusBps: int32Ptr(100), Active: true,
			StartsAt: now.Add(-time.Hour), EndsAt: now.Add(time.Hour),
		},
		{
			Name: "New patient", BonusFlatCents: int64Ptr(500), FirstPaymentOnly: true, Active: true,
			StartsAt: now.Add(-time.Hour), EndsAt: now.Add(time.Hour),
		},
		{
			Name: "Expired", BonusBps: int32Ptr(500), Active: true,
			StartsAt: now.Add(-2 * time.Hour), EndsAt: now.Add(-time.Hour),
		},
	}

	// first payment: 1% of $100.00 + $5.00 flat
	if got := PromotionBonusCents(promos, now, true, 10000); got != 600 {
		t.Errorf("Expected 600 cents, got %d", got)
	}

	// recurring payment: first-payment-only promo drops out
	if got := PromotionBonusCents(promos, now, false, 10000); got != 100 {
		t.Errorf("Expected 100 cents, got %d", got)
	}
}

// TestMemoryReassignSingleOpen tests that any sequence of reassignments
// leaves exactly one open assignment
func TestMemoryReassignSingleOpen(t *testing.T) {
	reg := NewMemoryRegistry()
	ctx := context.Background()

	tenantID := types.NewID()
	affiliateID := types.NewID()

	for i := 0; i < 5; i++ {
		if _, err := reg.Reassign(ctx, tenantID, affiliateID, types.NewID(), time.Now()); err != nil {
			t.Fatalf("Expected no error, got %v", err)
		}
	}

	history, err := reg.AssignmentHistory(ctx, tenantID, affiliateID)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if len(history) != 5 {
		t.Fatalf("Expected 5 assignments, got %d", len(history))
	}

	open := 0
	for _, a := range history {
		if a.Open() {
			open++
		}
	}
	if open != 1 {
		t.Errorf("Expected exactly 1 open assignment, got %d", open)
	}

	current, err := reg.CurrentAssignment(ctx, tenantID, affiliateID)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if current == nil {
		t.Fatal("Expected a current assignment")
	}
}
