package legacybilling

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/clinicaffil/platform/internal/attribution"
	"github.com/clinicaffil/platform/internal/commission"
	"github.com/clinicaffil/platform/internal/shared/config"
	"github.com/clinicaffil/platform/internal/shared/errors"
	"github.com/clinicaffil/platform/internal/shared/types"
)

type fakeLedger struct {
	inputs  []commission.ComputeInput
	failOn  string
	tenants map[string]bool
}

func (f *fakeLedger) ComputeAndRecord(ctx context.Context, in commission.ComputeInput) (*commission.Event, error) {
	if in.SourceEventID == f.failOn {
		return nil, errors.Transient("ledger write contention, retry the delivery", nil)
	}
	f.inputs = append(f.inputs, in)
	return &commission.Event{
		ID:          types.NewID(),
		TenantID:    in.TenantID,
		AffiliateID: in.AffiliateID,
		Model:       commission.ModelStandardConversion,
	}, nil
}

type fakeTiers struct {
	checks int
}

func (f *fakeTiers) CheckAndProcessUpgrade(ctx context.Context, tenantID, affiliateID types.ID) (*commission.UpgradeResult, error) {
	f.checks++
	return &commission.UpgradeResult{}, nil
}

func newTestAdapter(t *testing.T, touches attribution.Store, ledger Ledger, tiers TierChecker) (*Adapter, types.ID) {
	t.Helper()

	tenantID := types.NewID()
	adapter, err := New(config.LegacyBillingConfig{
		TenantID:     tenantID.String(),
		PaymentTable: "dbo.SettledPayments",
		PollInterval: time.Minute,
	}, touches, ledger, tiers, zerolog.Nop())
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	return adapter, tenantID
}

func seedTouch(t *testing.T, touches *attribution.MemoryStore, tenantID types.ID, visitorKey string) types.ID {
	t.Helper()

	affiliateID := types.NewID()
	err := touches.RecordTouch(context.Background(), &attribution.Touch{
		ID:             types.NewID(),
		TenantID:       tenantID,
		ReferralCodeID: types.NewID(),
		AffiliateID:    affiliateID,
		VisitorKey:     visitorKey,
		OccurredAt:     time.Now().UTC().Add(-time.Hour),
	})
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	return affiliateID
}

func TestProcessRecordsAttributedPayments(t *testing.T) {
	touches := attribution.NewMemoryStore()
	ledger := &fakeLedger{}
	tiers := &fakeTiers{}
	adapter, tenantID := newTestAdapter(t, touches, ledger, tiers)

	affiliateID := seedTouch(t, touches, tenantID, "patient-1")
	settled := time.Now().UTC()

	recorded, advance := adapter.process(context.Background(), []settledPayment{
		{TransactionID: "txn-1", VisitorKey: "patient-1", AmountCents: 25000, InstallmentNum: 1, SettledAt: settled.Add(-time.Minute)},
		{TransactionID: "txn-2", VisitorKey: "walk-in", AmountCents: 9000, InstallmentNum: 1, SettledAt: settled},
	})

	if recorded != 1 {
		t.Errorf("Expected 1 recorded payment, got %d", recorded)
	}
	if !advance.Equal(settled) {
		t.Errorf("Expected high-water mark %v, got %v", settled, advance)
	}
	if len(ledger.inputs) != 1 {
		t.Fatalf("Expected 1 ledger write, got %d", len(ledger.inputs))
	}

	in := ledger.inputs[0]
	if in.SourceEventID != "txn-1" {
		t.Errorf("Expected source event txn-1, got %s", in.SourceEventID)
	}
	if in.AffiliateID != affiliateID {
		t.Errorf("Expected affiliate %s, got %s", affiliateID, in.AffiliateID)
	}
	if !in.IsFirstPayment {
		t.Error("Expected installment 1 to map to a first payment")
	}
	if tiers.checks != 1 {
		t.Errorf("Expected 1 tier check, got %d", tiers.checks)
	}
}

func TestProcessMapsInstallmentsToRecurring(t *testing.T) {
	touches := attribution.NewMemoryStore()
	ledger := &fakeLedger{}
	adapter, tenantID := newTestAdapter(t, touches, ledger, &fakeTiers{})

	seedTouch(t, touches, tenantID, "patient-1")

	adapter.process(context.Background(), []settledPayment{
		{TransactionID: "txn-5", VisitorKey: "patient-1", AmountCents: 5000, InstallmentNum: 4, SettledAt: time.Now().UTC()},
	})

	if len(ledger.inputs) != 1 {
		t.Fatalf("Expected 1 ledger write, got %d", len(ledger.inputs))
	}
	if ledger.inputs[0].IsFirstPayment {
		t.Error("Expected installment 4 to map to a recurring payment")
	}
	if ledger.inputs[0].RecurringCycle != 4 {
		t.Errorf("Expected cycle 4, got %d", ledger.inputs[0].RecurringCycle)
	}
}

func TestProcessHoldsHighWaterAtFirstFailure(t *testing.T) {
	touches := attribution.NewMemoryStore()
	ledger := &fakeLedger{failOn: "txn-2"}
	adapter, tenantID := newTestAdapter(t, touches, ledger, &fakeTiers{})

	seedTouch(t, touches, tenantID, "patient-1")
	base := time.Now().UTC()
	payments := []settledPayment{
		{TransactionID: "txn-1", VisitorKey: "patient-1", AmountCents: 1000, InstallmentNum: 1, SettledAt: base},
		{TransactionID: "txn-2", VisitorKey: "patient-1", AmountCents: 2000, InstallmentNum: 2, SettledAt: base.Add(time.Second)},
		{TransactionID: "txn-3", VisitorKey: "patient-1", AmountCents: 3000, InstallmentNum: 3, SettledAt: base.Add(2 * time.Second)},
	}

	recorded, advance := adapter.process(context.Background(), payments)

	if recorded != 2 {
		t.Errorf("Expected 2 recorded payments, got %d", recorded)
	}
	// the mark stops just short of txn-2 so the next poll re-reads it
	if !advance.Before(payments[1].SettledAt) {
		t.Errorf("Expected high-water mark before the failed payment, got %v", advance)
	}
	if !advance.After(payments[0].SettledAt.Add(-time.Second)) {
		t.Errorf("Expected high-water mark near the failure, got %v", advance)
	}
}

func TestNewRejectsBadTenant(t *testing.T) {
	if _, err := New(config.LegacyBillingConfig{TenantID: "not-a-uuid"}, attribution.NewMemoryStore(), &fakeLedger{}, &fakeTiers{}, zerolog.Nop()); err == nil {
		t.Fatal("Expected error for a malformed tenant id")
	}
}
