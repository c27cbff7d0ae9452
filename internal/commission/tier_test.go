package commission

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/clinicaffil/platform/internal/shared/types"
)

func countBonuses(t *testing.T, h *testHarness) int {
	t.Helper()

	events, err := h.store.ListByAffiliate(context.Background(), h.tenantID, h.aff.ID, 500)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	bonuses := 0
	for i := range events {
		if events[i].Model == ModelTierBonus {
			bonuses++
		}
	}
	return bonuses
}

// TestNoDoubleBonusUnderConcurrency tests that 50 concurrent upgrade checks
// crossing the same threshold award exactly one bonus
func TestNoDoubleBonusUnderConcurrency(t *testing.T) {
	h := newHarness(t)
	h.standardPlan(t)
	ctx := context.Background()

	for i := 1; i <= 10; i++ {
		if _, err := h.engine.ComputeAndRecord(ctx, h.payment(fmt.Sprintf("pay-%d", i), 10000, true)); err != nil {
			t.Fatalf("Expected no error, got %v", err)
		}
	}

	var wg sync.WaitGroup
	upgrades := make(chan *UpgradeResult, 50)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := h.tiers.CheckAndProcessUpgrade(ctx, h.tenantID, h.aff.ID)
			if err != nil {
				t.Errorf("Expected no error, got %v", err)
				return
			}
			upgrades <- result
		}()
	}
	wg.Wait()
	close(upgrades)

	upgraded := 0
	bonusAwards := 0
	for result := range upgrades {
		if result.Upgraded {
			upgraded++
		}
		if result.BonusAwarded {
			bonusAwards++
		}
	}

	if upgraded != 1 {
		t.Errorf("Expected exactly 1 successful upgrade, got %d", upgraded)
	}
	if bonusAwards != 1 {
		t.Errorf("Expected exactly 1 bonus award, got %d", bonusAwards)
	}
	if got := countBonuses(t, h); got != 1 {
		t.Errorf("Expected exactly 1 stored bonus event, got %d", got)
	}

	aff, _ := h.store.GetAffiliate(ctx, h.tenantID, h.aff.ID)
	if aff.CurrentTierLevel != 1 {
		t.Errorf("Expected tier level 1, got %d", aff.CurrentTierLevel)
	}
}

// TestNoRepeatBonusAfterUpgrade tests that later checks at the same tier do
// not re-award
func TestNoRepeatBonusAfterUpgrade(t *testing.T) {
	h := newHarness(t)
	h.standardPlan(t)
	ctx := context.Background()

	for i := 1; i <= 10; i++ {
		h.engine.ComputeAndRecord(ctx, h.payment(fmt.Sprintf("pay-%d", i), 10000, true))
	}

	first, err := h.tiers.CheckAndProcessUpgrade(ctx, h.tenantID, h.aff.ID)
	if err != nil || !first.Upgraded {
		t.Fatalf("Expected upgrade, got %+v err=%v", first, err)
	}

	second, err := h.tiers.CheckAndProcessUpgrade(ctx, h.tenantID, h.aff.ID)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if second.Upgraded || second.BonusAwarded {
		t.Errorf("Expected no-op on repeat check, got %+v", second)
	}

	if got := countBonuses(t, h); got != 1 {
		t.Errorf("Expected 1 bonus event, got %d", got)
	}
}

// TestPerConversionCheckNeverDowngrades tests that the upgrade path ignores
// stats below the current tier
func TestPerConversionCheckNeverDowngrades(t *testing.T) {
	h := newHarness(t)
	p := h.standardPlan(t)
	ctx := context.Background()

	// place the affiliate at tier 1 with stats that no longer qualify
	tierID := p.Tiers[0].ID
	if err := h.store.SetTier(ctx, h.tenantID, h.aff.ID, &tierID, 1, time.Now()); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	result, err := h.tiers.CheckAndProcessUpgrade(ctx, h.tenantID, h.aff.ID)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if result.Upgraded {
		t.Error("Expected no change from the per-conversion check")
	}

	aff, _ := h.store.GetAffiliate(ctx, h.tenantID, h.aff.ID)
	if aff.CurrentTierLevel != 1 {
		t.Errorf("Expected tier level to stay 1, got %d", aff.CurrentTierLevel)
	}
}

// TestUpgradeWithoutBonus tests tiers that carry no bonus
func TestUpgradeWithoutBonus(t *testing.T) {
	h := newHarness(t)
	p := h.standardPlan(t)
	p.Tiers[0].BonusCents = 0
	h.registry.PutPlan(p)
	ctx := context.Background()

	for i := 1; i <= 10; i++ {
		h.engine.ComputeAndRecord(ctx, h.payment(fmt.Sprintf("pay-%d", i), 10000, true))
	}

	result, err := h.tiers.CheckAndProcessUpgrade(ctx, h.tenantID, h.aff.ID)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if !result.Upgraded {
		t.Fatal("Expected upgrade")
	}
	if result.BonusAwarded {
		t.Error("Expected no bonus for a zero-bonus tier")
	}
	if got := countBonuses(t, h); got != 0 {
		t.Errorf("Expected 0 bonus events, got %d", got)
	}
}

// TestRecalculateCorrectsDrift tests the maintenance recomputation in both
// directions without issuing bonuses
func TestRecalculateCorrectsDrift(t *testing.T) {
	h := newHarness(t)
	p := h.standardPlan(t)
	ctx := context.Background()

	// downgrade: recorded at tier 1 with stats below the threshold
	tierID := p.Tiers[0].ID
	if err := h.store.SetTier(ctx, h.tenantID, h.aff.ID, &tierID, 1, time.Now()); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	changed, err := h.tiers.RecalculateAllTiers(ctx, h.tenantID, p.ID)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if changed != 1 {
		t.Errorf("Expected 1 correction, got %d", changed)
	}

	aff, _ := h.store.GetAffiliate(ctx, h.tenantID, h.aff.ID)
	if aff.CurrentTierLevel != 0 {
		t.Errorf("Expected downgrade to no tier, got level %d", aff.CurrentTierLevel)
	}

	// upgrade: stats now qualify but the tier reference lags
	for i := 1; i <= 10; i++ {
		h.engine.ComputeAndRecord(ctx, h.payment(fmt.Sprintf("pay-%d", i), 10000, true))
	}

	changed, err = h.tiers.RecalculateAllTiers(ctx, h.tenantID, p.ID)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if changed != 1 {
		t.Errorf("Expected 1 correction, got %d", changed)
	}

	aff, _ = h.store.GetAffiliate(ctx, h.tenantID, h.aff.ID)
	if aff.CurrentTierLevel != 1 {
		t.Errorf("Expected tier level 1 after recomputation, got %d", aff.CurrentTierLevel)
	}

	// recomputation never issues bonuses
	if got := countBonuses(t, h); got != 0 {
		t.Errorf("Expected 0 bonus events from recomputation, got %d", got)
	}

	// idempotent: a second run changes nothing
	changed, err = h.tiers.RecalculateAllTiers(ctx, h.tenantID, p.ID)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if changed != 0 {
		t.Errorf("Expected 0 corrections on repeat run, got %d", changed)
	}
}

// TestNoUpgradeWithoutAssignment tests that unassigned affiliates keep no
// tier
func TestNoUpgradeWithoutAssignment(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	result, err := h.tiers.CheckAndProcessUpgrade(ctx, h.tenantID, h.aff.ID)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if result.Upgraded {
		t.Error("Expected no upgrade without a plan assignment")
	}
}

// TestDeterministicBonusKey tests the bonus idempotency key derivation
func TestDeterministicBonusKey(t *testing.T) {
	affiliateID := types.NewID()
	tierID := types.NewID()

	a := tierBonusSourceID(affiliateID, tierID)
	b := tierBonusSourceID(affiliateID, tierID)
	if a != b {
		t.Error("Expected the same key for the same affiliate and tier")
	}

	other := tierBonusSourceID(affiliateID, types.NewID())
	if a == other {
		t.Error("Expected different keys for different tiers")
	}
}
