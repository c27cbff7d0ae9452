package commission

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/clinicaffil/platform/internal/plan"
	"github.com/clinicaffil/platform/internal/shared/events"
	"github.com/clinicaffil/platform/internal/shared/metrics"
	"github.com/clinicaffil/platform/internal/shared/types"
)

// TierService evaluates tier qualification after conversions and corrects
// tier drift on demand. It is the only component that writes tier references
// and tier-bonus ledger entries.
type TierService struct {
	store Store
	plans plan.Registry
	bus   events.Publisher
	log   zerolog.Logger
}

// NewTierService creates a tier service
func NewTierService(store Store, plans plan.Registry, bus events.Publisher, log zerolog.Logger) *TierService {
	if bus == nil {
		bus = events.Noop{}
	}
	return &TierService{store: store, plans: plans, bus: bus, log: log}
}

// UpgradeResult reports what a per-conversion tier check did
type UpgradeResult struct {
	Upgraded      bool   `json:"upgraded"`
	PreviousLevel int32  `json:"previous_level"`
	NewLevel      int32  `json:"new_level,omitempty"`
	BonusAwarded  bool   `json:"bonus_awarded"`
	BonusCents    int64  `json:"bonus_cents,omitempty"`
}

// CheckAndProcessUpgrade evaluates the affiliate's lifetime stats against
// the tiers of its current plan and upgrades when a strictly higher tier
// qualifies. Per-conversion checks only ever upgrade; downgrades belong to
// RecalculateAllTiers. The tier write and the bonus insert happen in one
// atomic unit keyed on the previously observed tier level, so concurrent
// checks crossing the same threshold award exactly one bonus.
func (s *TierService) CheckAndProcessUpgrade(ctx context.Context, tenantID, affiliateID types.ID) (*UpgradeResult, error) {
	aff, err := s.store.GetAffiliate(ctx, tenantID, affiliateID)
	if err != nil {
		return nil, err
	}

	result := &UpgradeResult{PreviousLevel: aff.CurrentTierLevel}

	assignment, err := s.plans.CurrentAssignment(ctx, tenantID, affiliateID)
	if err != nil {
		return nil, err
	}
	if assignment == nil {
		return result, nil
	}

	p, err := s.plans.GetPlan(ctx, tenantID, assignment.PlanID)
	if err != nil {
		return nil, err
	}

	qualifying := plan.QualifyingTier(p.Tiers, aff.LifetimeConversions, aff.LifetimeRevenueCents)
	if qualifying == nil || qualifying.Level <= aff.CurrentTierLevel {
		return result, nil
	}

	now := time.Now().UTC()
	var bonus *Event
	if qualifying.BonusCents > 0 {
		bonus = &Event{
			ID:                    types.NewID(),
			TenantID:              tenantID,
			AffiliateID:           affiliateID,
			PlanID:                &p.ID,
			SourceEventID:         tierBonusSourceID(affiliateID, qualifying.ID),
			TierBonusCents:        qualifying.BonusCents,
			CommissionAmountCents: qualifying.BonusCents,
			Model:                 ModelTierBonus,
			Status:                StatusApproved,
			OccurredAt:            now,
			CreatedAt:             now,
		}
		approvedAt := now
		bonus.ApprovedAt = &approvedAt
	}

	applied, bonusCreated, err := s.store.ApplyTierChange(
		ctx, tenantID, affiliateID, qualifying.ID,
		qualifying.Level, aff.CurrentTierLevel, now, bonus,
	)
	if err != nil {
		return nil, err
	}
	if !applied {
		// another worker upgraded first; its result stands
		return result, nil
	}

	result.Upgraded = true
	result.NewLevel = qualifying.Level
	result.BonusAwarded = bonusCreated
	if bonusCreated {
		result.BonusCents = qualifying.BonusCents
		metrics.RecordCommissionEvent(string(ModelTierBonus), string(StatusApproved), qualifying.BonusCents)
	}
	metrics.RecordTierUpgrade(bonusCreated)

	s.log.Info().
		Str("tenant_id", tenantID.String()).
		Str("affiliate_id", affiliateID.String()).
		Int32("previous_level", result.PreviousLevel).
		Int32("new_level", result.NewLevel).
		Bool("bonus_awarded", bonusCreated).
		Msg("tier upgraded")

	s.bus.Publish(ctx, events.New("tier.upgraded", tenantID, map[string]any{
		"affiliate_id":   affiliateID,
		"previous_level": result.PreviousLevel,
		"new_level":      result.NewLevel,
		"bonus_awarded":  bonusCreated,
	}))

	return result, nil
}

// RecalculateAllTiers re-derives the correct tier for every active affiliate
// assigned to the plan and corrects drift in either direction. It never
// issues bonuses; bonus issuance belongs exclusively to the per-conversion
// upgrade path. Idempotent and safe to run repeatedly.
func (s *TierService) RecalculateAllTiers(ctx context.Context, tenantID, planID types.ID) (int, error) {
	p, err := s.plans.GetPlan(ctx, tenantID, planID)
	if err != nil {
		return 0, err
	}

	affiliates, err := s.store.ListActiveAffiliates(ctx, tenantID)
	if err != nil {
		return 0, err
	}

	changed := 0
	for i := range affiliates {
		aff := &affiliates[i]

		assignment, err := s.plans.CurrentAssignment(ctx, tenantID, aff.ID)
		if err != nil {
			return changed, err
		}
		if assignment == nil || assignment.PlanID != planID {
			continue
		}

		qualifying := plan.QualifyingTier(p.Tiers, aff.LifetimeConversions, aff.LifetimeRevenueCents)

		var wantID *types.ID
		var wantLevel int32
		if qualifying != nil {
			wantID = &qualifying.ID
			wantLevel = qualifying.Level
		}
		if wantLevel == aff.CurrentTierLevel {
			continue
		}

		if err := s.store.SetTier(ctx, tenantID, aff.ID, wantID, wantLevel, time.Now().UTC()); err != nil {
			return changed, err
		}
		changed++

		s.log.Info().
			Str("tenant_id", tenantID.String()).
			Str("affiliate_id", aff.ID.String()).
			Int32("from_level", aff.CurrentTierLevel).
			Int32("to_level", wantLevel).
			Msg("tier corrected by recomputation")
	}

	return changed, nil
}
