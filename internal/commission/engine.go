package commission

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/clinicaffil/platform/internal/affiliate"
	"github.com/clinicaffil/platform/internal/plan"
	"github.com/clinicaffil/platform/internal/shared/errors"
	"github.com/clinicaffil/platform/internal/shared/events"
	"github.com/clinicaffil/platform/internal/shared/metrics"
	"github.com/clinicaffil/platform/internal/shared/types"
)

// zero reason outside the plan's own vocabulary: the affiliate relationship
// was paused or terminated when the payment landed
const zeroAffiliateInactive plan.ZeroReason = "affiliate_inactive"

const maturationBatchSize = 200

// Engine turns payment events into commission ledger entries. It owns all
// writes to the ledger; no other component creates or mutates events.
type Engine struct {
	store    Store
	plans    plan.Registry
	bus      events.Publisher
	disputes DisputeChecker
	log      zerolog.Logger
}

// NewEngine creates a commission engine
func NewEngine(store Store, plans plan.Registry, bus events.Publisher, disputes DisputeChecker, log zerolog.Logger) *Engine {
	if bus == nil {
		bus = events.Noop{}
	}
	if disputes == nil {
		disputes = NoDisputes{}
	}
	return &Engine{store: store, plans: plans, bus: bus, disputes: disputes, log: log}
}

// ComputeInput describes one delivered payment event. RecurringCycle is
// 1-based and trusted from the payment source; it is ignored for first
// payments.
type ComputeInput struct {
	TenantID         types.ID  `json:"tenant_id"`
	AffiliateID      types.ID  `json:"affiliate_id"`
	SourceEventID    string    `json:"source_event_id"`
	EventAmountCents int64     `json:"event_amount_cents"`
	IsFirstPayment   bool      `json:"is_first_payment"`
	RecurringCycle   int32     `json:"recurring_cycle"`
	OccurredAt       time.Time `json:"occurred_at"`
}

// Validate checks the input before the engine touches the store
func (in *ComputeInput) Validate() error {
	if in.TenantID.IsZero() || in.AffiliateID.IsZero() {
		return fmt.Errorf("tenant and affiliate are required")
	}
	if strings.TrimSpace(in.SourceEventID) == "" {
		return fmt.Errorf("source event ID is required")
	}
	if in.EventAmountCents < 0 {
		return fmt.Errorf("event amount must not be negative")
	}
	if in.OccurredAt.IsZero() {
		return fmt.Errorf("occurred_at is required")
	}
	return nil
}

// ComputeAndRecord computes the commission owed for a payment and persists
// exactly one ledger entry for it. Redelivery of the same source event
// returns the stored entry unchanged. The affiliate's lifetime counters are
// updated atomically with event creation.
func (e *Engine) ComputeAndRecord(ctx context.Context, in ComputeInput) (*Event, error) {
	if err := in.Validate(); err != nil {
		return nil, errors.BadRequest(err.Error())
	}

	aff, err := e.store.GetAffiliate(ctx, in.TenantID, in.AffiliateID)
	if err != nil {
		return nil, err
	}

	ev, delta, err := e.buildEvent(ctx, in, aff)
	if err != nil {
		return nil, err
	}

	stored, created, err := e.store.InsertEvent(ctx, ev, delta)
	if err != nil {
		return nil, err
	}

	if !created {
		metrics.RecordDuplicateDelivery()
		e.log.Debug().
			Str("tenant_id", in.TenantID.String()).
			Str("source_event_id", in.SourceEventID).
			Msg("duplicate payment delivery, returning existing event")
		return stored, nil
	}

	metrics.RecordCommissionEvent(string(stored.Model), string(stored.Status), stored.CommissionAmountCents)
	if stored.ZeroReason != plan.ZeroNone {
		metrics.RecordZeroCommission(string(stored.ZeroReason))
	}

	e.log.Info().
		Str("tenant_id", in.TenantID.String()).
		Str("affiliate_id", in.AffiliateID.String()).
		Str("event_id", stored.ID.String()).
		Int64("commission_cents", stored.CommissionAmountCents).
		Str("zero_reason", string(stored.ZeroReason)).
		Msg("commission recorded")

	e.bus.Publish(ctx, events.New("commission.recorded", in.TenantID, map[string]any{
		"event_id":         stored.ID,
		"affiliate_id":     stored.AffiliateID,
		"commission_cents": stored.CommissionAmountCents,
		"is_recurring":     stored.IsRecurring,
	}))

	return stored, nil
}

// buildEvent resolves plan, rate, tier override and promotions into a ledger
// entry plus the counter delta to apply with it.
func (e *Engine) buildEvent(ctx context.Context, in ComputeInput, aff *affiliate.Affiliate) (*Event, CounterDelta, error) {
	ev := &Event{
		ID:               types.NewID(),
		TenantID:         in.TenantID,
		AffiliateID:      in.AffiliateID,
		SourceEventID:    in.SourceEventID,
		EventAmountCents: in.EventAmountCents,
		IsRecurring:      !in.IsFirstPayment,
		Model:            ModelStandardConversion,
		Status:           StatusPending,
		OccurredAt:       in.OccurredAt,
		CreatedAt:        time.Now().UTC(),
	}

	if aff.Status != affiliate.StatusActive {
		ev.ZeroReason = zeroAffiliateInactive
		holdUntil := in.OccurredAt
		ev.HoldUntil = &holdUntil
		// inactive relationships accrue neither commission nor tier progress
		return ev, CounterDelta{}, nil
	}

	delta := CounterDelta{Conversions: 1, RevenueCents: in.EventAmountCents}

	assignment, err := e.plans.CurrentAssignment(ctx, in.TenantID, in.AffiliateID)
	if err != nil {
		return nil, CounterDelta{}, err
	}
	if assignment == nil {
		// no plan is a configuration state, recorded for audit completeness
		ev.ZeroReason = plan.ZeroNoActivePlan
		holdUntil := in.OccurredAt
		ev.HoldUntil = &holdUntil
		return ev, delta, nil
	}

	p, err := e.plans.GetPlan(ctx, in.TenantID, assignment.PlanID)
	if err != nil {
		return nil, CounterDelta{}, err
	}
	ev.PlanID = &p.ID

	holdUntil := in.OccurredAt.Add(time.Duration(p.HoldDays) * 24 * time.Hour)
	ev.HoldUntil = &holdUntil

	sel := plan.SelectRate(p, in.IsFirstPayment, in.RecurringCycle)
	sel = plan.ApplyTierOverride(sel, currentTier(p, aff))
	ev.BaseCommissionCents = plan.CommissionCents(sel, in.EventAmountCents)

	if sel.Zero {
		ev.ZeroReason = sel.Reason
		return ev, delta, nil
	}

	promos, err := e.plans.ActivePromotions(ctx, in.TenantID, in.OccurredAt)
	if err != nil {
		return nil, CounterDelta{}, err
	}
	ev.PromotionBonusCents = plan.PromotionBonusCents(promos, in.OccurredAt, in.IsFirstPayment, in.EventAmountCents)
	ev.CommissionAmountCents = ev.BaseCommissionCents + ev.PromotionBonusCents

	return ev, delta, nil
}

// currentTier resolves the affiliate's recorded tier within the plan
func currentTier(p *plan.CommissionPlan, aff *affiliate.Affiliate) *plan.CommissionTier {
	if aff.CurrentTierID == nil {
		return nil
	}
	for i := range p.Tiers {
		if p.Tiers[i].ID == *aff.CurrentTierID {
			return &p.Tiers[i]
		}
	}
	return nil
}

// Clawback voids a PENDING or APPROVED event because the underlying
// transaction was refunded, and decrements the affiliate's lifetime counters
// by the amounts originally added. Clawing back twice is rejected.
func (e *Engine) Clawback(ctx context.Context, tenantID, eventID types.ID, reason string) (*Event, error) {
	ev, err := e.store.GetEvent(ctx, tenantID, eventID)
	if err != nil {
		return nil, err
	}

	switch ev.Status {
	case StatusClawedBack:
		return nil, errors.Conflict("event is already clawed back")
	case StatusPaid:
		return nil, errors.Conflict("paid events can only be reversed, not clawed back")
	}

	if ev.PlanID != nil {
		p, err := e.plans.GetPlan(ctx, tenantID, *ev.PlanID)
		if err != nil {
			return nil, err
		}
		if !p.ClawbackEnabled {
			return nil, errors.BadRequest("plan does not permit clawbacks")
		}
	}

	delta := eventDelta(ev).Negate()
	clawed, err := e.store.Clawback(ctx, tenantID, eventID, reason, time.Now().UTC(), delta)
	if err != nil {
		return nil, err
	}

	metrics.RecordClawback()
	e.log.Info().
		Str("tenant_id", tenantID.String()).
		Str("event_id", eventID.String()).
		Str("reason", reason).
		Msg("commission clawed back")

	e.bus.Publish(ctx, events.New("commission.clawed_back", tenantID, map[string]any{
		"event_id":     clawed.ID,
		"affiliate_id": clawed.AffiliateID,
		"reason":       reason,
	}))

	return clawed, nil
}

// ReversePaid creates the reversing ledger entry for a PAID event. The paid
// record itself is never mutated; the reversal carries negative amounts and
// its own idempotency key, so redelivered refunds create it at most once.
func (e *Engine) ReversePaid(ctx context.Context, tenantID, eventID types.ID, reason string) (*Event, error) {
	orig, err := e.store.GetEvent(ctx, tenantID, eventID)
	if err != nil {
		return nil, err
	}
	if orig.Status != StatusPaid {
		return nil, errors.Conflict("only paid events can be reversed")
	}

	now := time.Now().UTC()
	reversal := &Event{
		ID:                    types.NewID(),
		TenantID:              tenantID,
		AffiliateID:           orig.AffiliateID,
		PlanID:                orig.PlanID,
		SourceEventID:         reversalSourceID(orig.SourceEventID),
		EventAmountCents:      -orig.EventAmountCents,
		BaseCommissionCents:   -orig.BaseCommissionCents,
		TierBonusCents:        -orig.TierBonusCents,
		PromotionBonusCents:   -orig.PromotionBonusCents,
		CommissionAmountCents: -orig.CommissionAmountCents,
		IsRecurring:           orig.IsRecurring,
		Model:                 ModelReversal,
		Status:                StatusApproved,
		ClawbackReason:        reason,
		OccurredAt:            now,
		CreatedAt:             now,
	}

	stored, created, err := e.store.InsertEvent(ctx, reversal, eventDelta(orig).Negate())
	if err != nil {
		return nil, err
	}
	if !created {
		metrics.RecordDuplicateDelivery()
		return stored, nil
	}

	metrics.RecordCommissionEvent(string(ModelReversal), string(StatusApproved), stored.CommissionAmountCents)
	e.log.Info().
		Str("tenant_id", tenantID.String()).
		Str("event_id", eventID.String()).
		Str("reversal_id", stored.ID.String()).
		Msg("paid commission reversed")

	e.bus.Publish(ctx, events.New("commission.reversed", tenantID, map[string]any{
		"event_id":     orig.ID,
		"reversal_id":  stored.ID,
		"affiliate_id": stored.AffiliateID,
	}))

	return stored, nil
}

// eventDelta reconstructs the counter delta an event applied at creation
func eventDelta(ev *Event) CounterDelta {
	switch ev.Model {
	case ModelStandardConversion:
		if ev.ZeroReason == zeroAffiliateInactive {
			return CounterDelta{}
		}
		return CounterDelta{Conversions: 1, RevenueCents: ev.EventAmountCents}
	default:
		// tier bonuses and reversals never touched the counters on their own
		return CounterDelta{}
	}
}

// ApproveMatured transitions PENDING events whose hold has elapsed to
// APPROVED, skipping any whose underlying transaction is disputed. Returns
// the number of events approved. Safe to run concurrently; the store's
// guarded transition makes double approval a no-op.
func (e *Engine) ApproveMatured(ctx context.Context, now time.Time) (int, error) {
	matured, err := e.store.ListMatured(ctx, now, maturationBatchSize)
	if err != nil {
		return 0, err
	}

	approved := 0
	for i := range matured {
		ev := &matured[i]

		disputed, err := e.disputes.Disputed(ctx, ev.TenantID, ev.SourceEventID)
		if err != nil {
			e.log.Warn().Err(err).
				Str("event_id", ev.ID.String()).
				Msg("dispute check failed, leaving event pending")
			continue
		}
		if disputed {
			continue
		}

		if _, err := e.store.Approve(ctx, ev.TenantID, ev.ID, now); err != nil {
			// lost a race with a concurrent approval or clawback
			if appErr, ok := err.(*errors.AppError); ok && appErr.Code == "CONFLICT" {
				continue
			}
			return approved, err
		}
		approved++
		metrics.RecordApproval()
	}

	if approved > 0 {
		e.log.Info().Int("approved", approved).Msg("matured commissions approved")
	}
	return approved, nil
}

// MarkPaid records that a payout run settled an event
func (e *Engine) MarkPaid(ctx context.Context, tenantID, eventID types.ID) (*Event, error) {
	ev, err := e.store.MarkPaid(ctx, tenantID, eventID, time.Now().UTC())
	if err != nil {
		return nil, err
	}

	e.bus.Publish(ctx, events.New("commission.paid", tenantID, map[string]any{
		"event_id":     ev.ID,
		"affiliate_id": ev.AffiliateID,
	}))

	return ev, nil
}
