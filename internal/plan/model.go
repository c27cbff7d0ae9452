package plan

import (
	"fmt"
	"strings"
	"time"

	"github.com/clinicaffil/platform/internal/shared/types"
)

// PlanType selects how the base rate is expressed
type PlanType string

const (
	PlanTypeFlat    PlanType = "FLAT"
	PlanTypePercent PlanType = "PERCENT"
)

// AppliesTo scopes which payments a plan commissions
type AppliesTo string

const (
	AppliesToAllPayments      AppliesTo = "all_payments"
	AppliesToFirstPaymentOnly AppliesTo = "first_payment_only"
)

// CommissionPlan is a tenant-defined, versioned pricing policy. Exactly one
// of the flat/percent fields is meaningful per PlanType; initial and
// recurring rates optionally override the base rate for their payment kind.
type CommissionPlan struct {
	ID       types.ID `json:"id"`
	TenantID types.ID `json:"tenant_id"`
	Name     string   `json:"name"`
	Version  int32    `json:"version"`
	PlanType PlanType `json:"plan_type"`

	FlatAmountCents *int64 `json:"flat_amount_cents,omitempty"`
	PercentBps      *int32 `json:"percent_bps,omitempty"`

	InitialFlatAmountCents *int64 `json:"initial_flat_amount_cents,omitempty"`
	InitialPercentBps      *int32 `json:"initial_percent_bps,omitempty"`

	RecurringFlatAmountCents *int64 `json:"recurring_flat_amount_cents,omitempty"`
	RecurringPercentBps      *int32 `json:"recurring_percent_bps,omitempty"`

	AppliesTo        AppliesTo `json:"applies_to"`
	HoldDays         int32     `json:"hold_days"`
	ClawbackEnabled  bool      `json:"clawback_enabled"`
	RecurringEnabled bool      `json:"recurring_enabled"`
	RecurringMonths  *int32    `json:"recurring_months,omitempty"`

	Tiers []CommissionTier `json:"tiers,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks plan invariants. A plan failing validation is treated as
// malformed at computation time and earns zero commission rather than
// blocking payment processing.
func (p *CommissionPlan) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("plan name is required")
	}

	switch p.PlanType {
	case PlanTypeFlat:
		if p.FlatAmountCents == nil {
			return fmt.Errorf("FLAT plan requires flat_amount_cents")
		}
		if p.PercentBps != nil {
			return fmt.Errorf("FLAT plan must not set percent_bps")
		}
		if *p.FlatAmountCents < 0 {
			return fmt.Errorf("flat_amount_cents must not be negative")
		}
	case PlanTypePercent:
		if p.PercentBps == nil {
			return fmt.Errorf("PERCENT plan requires percent_bps")
		}
		if p.FlatAmountCents != nil {
			return fmt.Errorf("PERCENT plan must not set flat_amount_cents")
		}
	default:
		return fmt.Errorf("unknown plan type %q", p.PlanType)
	}

	for _, bps := range []*int32{p.PercentBps, p.InitialPercentBps, p.RecurringPercentBps} {
		if bps != nil && !types.ValidBps(*bps) {
			return fmt.Errorf("bps values must be within [0, %d]", types.MaxBps)
		}
	}
	for _, cents := range []*int64{p.InitialFlatAmountCents, p.RecurringFlatAmountCents} {
		if cents != nil && *cents < 0 {
			return fmt.Errorf("flat amounts must not be negative")
		}
	}

	switch p.AppliesTo {
	case AppliesToAllPayments, AppliesToFirstPaymentOnly:
	default:
		return fmt.Errorf("unknown applies_to scope %q", p.AppliesTo)
	}

	if p.RecurringMonths != nil && *p.RecurringMonths < 0 {
		return fmt.Errorf("recurring_months must not be negative")
	}
	if p.HoldDays < 0 {
		return fmt.Errorf("hold_days must not be negative")
	}

	levels := make(map[int32]bool, len(p.Tiers))
	for i := range p.Tiers {
		t := &p.Tiers[i]
		if err := t.Validate(); err != nil {
			return fmt.Errorf("tier level %d: %w", t.Level, err)
		}
		if levels[t.Level] {
			return fmt.Errorf("duplicate tier level %d", t.Level)
		}
		levels[t.Level] = true
	}

	return nil
}

// CommissionTier is a threshold-based override unlocked by lifetime
// performance. Tiers within a plan are totally ordered by Level.
type CommissionTier struct {
	ID                types.ID `json:"id"`
	PlanID            types.ID `json:"plan_id"`
	Level             int32    `json:"level"`
	MinConversions    int64    `json:"min_conversions"`
	MinRevenueCents   int64    `json:"min_revenue_cents"`
	RateOverrideBps   *int32   `json:"rate_override_bps,omitempty"`
	FlatOverrideCents *int64   `json:"flat_override_cents,omitempty"`
	BonusCents        int64    `json:"bonus_cents"`
	Perks             []string `json:"perks,omitempty"`
}

// Validate checks tier invariants
func (t *CommissionTier) Validate() error {
	if t.Level < 1 {
		return fmt.Errorf("level must be at least 1")
	}
	if t.MinConversions < 0 || t.MinRevenueCents < 0 {
		return fmt.Errorf("thresholds must not be negative")
	}
	if t.RateOverrideBps != nil && !types.ValidBps(*t.RateOverrideBps) {
		return fmt.Errorf("rate_override_bps must be within [0, %d]", types.MaxBps)
	}
	if t.FlatOverrideCents != nil && *t.FlatOverrideCents < 0 {
		return fmt.Errorf("flat_override_cents must not be negative")
	}
	if t.BonusCents < 0 {
		return fmt.Errorf("bonus_cents must not be negative")
	}
	return nil
}

// Qualifies reports whether lifetime stats meet both tier thresholds
func (t *CommissionTier) Qualifies(conversions, revenueCents int64) bool {
	return conversions >= t.MinConversions && revenueCents >= t.MinRevenueCents
}

// PlanAssignment is a time-ranged binding of one affiliate to one plan.
// At most one assignment per affiliate has EffectiveTo = nil.
type PlanAssignment struct {
	ID            types.ID   `json:"id"`
	TenantID      types.ID   `json:"tenant_id"`
	AffiliateID   types.ID   `json:"affiliate_id"`
	PlanID        types.ID   `json:"plan_id"`
	EffectiveFrom time.Time  `json:"effective_from"`
	EffectiveTo   *time.Time `json:"effective_to,omitempty"`
}

// Open reports whether this is the affiliate's current assignment
func (a *PlanAssignment) Open() bool {
	return a.EffectiveTo == nil
}

// Promotion is a tenant-wide, time-boxed commission booster applied on top
// of the plan rate at computation time.
type Promotion struct {
	ID               types.ID  `json:"id"`
	TenantID         types.ID  `json:"tenant_id"`
	Name             string    `json:"name"`
	BonusBps         *int32    `json:"bonus_bps,omitempty"`
	BonusFlatCents   *int64    `json:"bonus_flat_cents,omitempty"`
	FirstPaymentOnly bool      `json:"first_payment_only"`
	StartsAt         time.Time `json:"starts_at"`
	EndsAt           time.Time `json:"ends_at"`
	Active           bool      `json:"active"`
}

// Validate checks promotion invariants
func (p *Promotion) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("promotion name is required")
	}
	if p.BonusBps == nil && p.BonusFlatCents == nil {
		return fmt.Errorf("promotion requires bonus_bps or bonus_flat_cents")
	}
	if p.BonusBps != nil && !types.ValidBps(*p.BonusBps) {
		return fmt.Errorf("bonus_bps must be within [0, %d]", types.MaxBps)
	}
	if p.BonusFlatCents != nil && *p.BonusFlatCents < 0 {
		return fmt.Errorf("bonus_flat_cents must not be negative")
	}
	if !p.EndsAt.After(p.StartsAt) {
		return fmt.Errorf("promotion must end after it starts")
	}
	return nil
}

// AppliesAt reports whether the promotion is live for a payment
func (p *Promotion) AppliesAt(at time.Time, isFirstPayment bool) bool {
	if !p.Active {
		return false
	}
	if p.FirstPaymentOnly && !isFirstPayment {
		return false
	}
	return !at.Before(p.StartsAt) && at.Before(p.EndsAt)
}
