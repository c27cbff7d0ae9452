package commission

import (
	"time"

	"github.com/clinicaffil/platform/internal/plan"
	"github.com/clinicaffil/platform/internal/shared/types"
)

// Status is the lifecycle state of a commission event.
//
//	PENDING -> APPROVED -> PAID
//	PENDING|APPROVED -> CLAWED_BACK (terminal)
//
// PAID is terminal except via an explicit reversing entry.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusApproved   Status = "APPROVED"
	StatusPaid       Status = "PAID"
	StatusClawedBack Status = "CLAWED_BACK"
)

// CanTransitionTo reports whether the state machine permits a transition
func (s Status) CanTransitionTo(target Status) bool {
	switch s {
	case StatusPending:
		return target == StatusApproved || target == StatusClawedBack
	case StatusApproved:
		return target == StatusPaid || target == StatusClawedBack
	default:
		return false
	}
}

// AttributionModel tags what kind of ledger entry an event is
type AttributionModel string

const (
	ModelStandardConversion AttributionModel = "standard_conversion"
	ModelTierBonus          AttributionModel = "tier_bonus"
	ModelReversal           AttributionModel = "reversal"
)

// Event is the immutable ledger entry for a single commission owed. Amounts
// never change after creation; status transitions are the only mutation.
type Event struct {
	ID            types.ID  `json:"id"`
	TenantID      types.ID  `json:"tenant_id"`
	AffiliateID   types.ID  `json:"affiliate_id"`
	PlanID        *types.ID `json:"plan_id,omitempty"`
	SourceEventID string    `json:"source_event_id"`

	EventAmountCents       int64 `json:"event_amount_cents"`
	BaseCommissionCents    int64 `json:"base_commission_cents"`
	TierBonusCents         int64 `json:"tier_bonus_cents"`
	PromotionBonusCents    int64 `json:"promotion_bonus_cents"`
	ProductAdjustmentCents int64 `json:"product_adjustment_cents"`
	CommissionAmountCents  int64 `json:"commission_amount_cents"`

	IsRecurring    bool             `json:"is_recurring"`
	Model          AttributionModel `json:"attribution_model"`
	Status         Status           `json:"status"`
	ZeroReason     plan.ZeroReason  `json:"zero_reason,omitempty"`
	ClawbackReason string           `json:"clawback_reason,omitempty"`

	OccurredAt time.Time  `json:"occurred_at"`
	HoldUntil  *time.Time `json:"hold_until,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`

	ApprovedAt   *time.Time `json:"approved_at,omitempty"`
	PaidAt       *time.Time `json:"paid_at,omitempty"`
	ClawedBackAt *time.Time `json:"clawed_back_at,omitempty"`
}

// CounterDelta is the lifetime-counter adjustment applied atomically with a
// ledger write. Counters floor at zero.
type CounterDelta struct {
	Conversions  int64
	RevenueCents int64
}

// Negate returns the opposite delta, used by clawbacks and reversals
func (d CounterDelta) Negate() CounterDelta {
	return CounterDelta{Conversions: -d.Conversions, RevenueCents: -d.RevenueCents}
}

// tierBonusSourceID derives the deterministic idempotency key for a tier
// bonus, so the same tier can never pay out twice for one affiliate.
func tierBonusSourceID(affiliateID, tierID types.ID) string {
	return "tier-bonus:" + types.NewDeterministicID("tier-bonus", affiliateID.String()+":"+tierID.String()).String()
}

// reversalSourceID derives the idempotency key for the reversing entry of a
// paid event.
func reversalSourceID(sourceEventID string) string {
	return sourceEventID + ":reversal"
}
