package commission

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/clinicaffil/platform/internal/shared/errors"
	"github.com/clinicaffil/platform/internal/shared/types"
)

func TestStatusTransitions(t *testing.T) {
	tests := []struct {
		from    Status
		to      Status
		allowed bool
	}{
		{StatusPending, StatusApproved, true},
		{StatusPending, StatusClawedBack, true},
		{StatusPending, StatusPaid, false},
		{StatusApproved, StatusPaid, true},
		{StatusApproved, StatusClawedBack, true},
		{StatusApproved, StatusPending, false},
		{StatusPaid, StatusClawedBack, false},
		{StatusPaid, StatusApproved, false},
		{StatusClawedBack, StatusPending, false},
		{StatusClawedBack, StatusApproved, false},
		{StatusClawedBack, StatusPaid, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"_to_"+string(tt.to), func(t *testing.T) {
			if got := tt.from.CanTransitionTo(tt.to); got != tt.allowed {
				t.Errorf("Expected %v for %s -> %s, got %v", tt.allowed, tt.from, tt.to, got)
			}
		})
	}
}

func TestApproveMatured(t *testing.T) {
	h := newHarness(t)
	h.standardPlan(t)
	ctx := context.Background()

	// hold is 7 days: one payment well in the past, one just now
	matured := h.payment("pay-old", 10000, true)
	matured.OccurredAt = time.Now().UTC().Add(-30 * 24 * time.Hour)
	if _, err := h.engine.ComputeAndRecord(ctx, matured); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	fresh := h.payment("pay-new", 10000, false)
	if _, err := h.engine.ComputeAndRecord(ctx, fresh); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	approved, err := h.engine.ApproveMatured(ctx, time.Now().UTC())
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if approved != 1 {
		t.Errorf("Expected 1 approval, got %d", approved)
	}

	events, _ := h.store.ListByAffiliate(ctx, h.tenantID, h.aff.ID, 10)
	statuses := map[string]Status{}
	for i := range events {
		statuses[events[i].SourceEventID] = events[i].Status
	}
	if statuses["pay-old"] != StatusApproved {
		t.Errorf("Expected matured event APPROVED, got %s", statuses["pay-old"])
	}
	if statuses["pay-new"] != StatusPending {
		t.Errorf("Expected event within hold to stay PENDING, got %s", statuses["pay-new"])
	}

	// repeat run approves nothing further
	approved, err = h.engine.ApproveMatured(ctx, time.Now().UTC())
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if approved != 0 {
		t.Errorf("Expected 0 approvals on repeat run, got %d", approved)
	}
}

type fakeDisputes struct {
	disputed map[string]bool
}

func (f *fakeDisputes) Disputed(ctx context.Context, tenantID types.ID, sourceEventID string) (bool, error) {
	return f.disputed[sourceEventID], nil
}

func TestApproveMaturedSkipsDisputed(t *testing.T) {
	h := newHarness(t)
	h.standardPlan(t)
	disputes := &fakeDisputes{disputed: map[string]bool{"pay-1": true}}
	engine := NewEngine(h.store, h.registry, nil, disputes, zerolog.Nop())
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		in := h.payment(fmt.Sprintf("pay-%d", i), 10000, false)
		in.OccurredAt = time.Now().UTC().Add(-30 * 24 * time.Hour)
		if _, err := engine.ComputeAndRecord(ctx, in); err != nil {
			t.Fatalf("Expected no error, got %v", err)
		}
	}

	approved, err := engine.ApproveMatured(ctx, time.Now().UTC())
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if approved != 2 {
		t.Errorf("Expected 2 approvals, got %d", approved)
	}

	ev, err := h.store.GetBySourceEvent(ctx, h.tenantID, "pay-1")
	if err != nil || ev == nil {
		t.Fatalf("Expected disputed event to exist, got %v", err)
	}
	if ev.Status != StatusPending {
		t.Errorf("Expected disputed event to stay PENDING, got %s", ev.Status)
	}

	// once the dispute clears, the next run picks it up
	disputes.disputed["pay-1"] = false
	approved, err = engine.ApproveMatured(ctx, time.Now().UTC())
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if approved != 1 {
		t.Errorf("Expected 1 approval after the dispute cleared, got %d", approved)
	}
}

func TestMarkPaidRequiresApproved(t *testing.T) {
	h := newHarness(t)
	h.standardPlan(t)
	ctx := context.Background()

	ev, err := h.engine.ComputeAndRecord(ctx, h.payment("pay-1", 10000, true))
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	if _, err := h.engine.MarkPaid(ctx, h.tenantID, ev.ID); err == nil {
		t.Fatal("Expected error paying a PENDING event")
	} else if appErr, ok := err.(*errors.AppError); !ok || appErr.Code != "CONFLICT" {
		t.Errorf("Expected CONFLICT, got %v", err)
	}

	if _, err := h.store.Approve(ctx, h.tenantID, ev.ID, time.Now().UTC()); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	paid, err := h.engine.MarkPaid(ctx, h.tenantID, ev.ID)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if paid.Status != StatusPaid {
		t.Errorf("Expected PAID, got %s", paid.Status)
	}
	if paid.PaidAt == nil {
		t.Error("Expected PaidAt to be set")
	}

	// paying twice is a conflict, not a silent success
	if _, err := h.engine.MarkPaid(ctx, h.tenantID, ev.ID); err == nil {
		t.Fatal("Expected error paying a PAID event")
	}
}

func TestApproveGuardsAgainstClawback(t *testing.T) {
	h := newHarness(t)
	h.standardPlan(t)
	ctx := context.Background()

	ev, err := h.engine.ComputeAndRecord(ctx, h.payment("pay-1", 10000, true))
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	if _, err := h.engine.Clawback(ctx, h.tenantID, ev.ID, "chargeback"); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	if _, err := h.store.Approve(ctx, h.tenantID, ev.ID, time.Now().UTC()); err == nil {
		t.Fatal("Expected error approving a clawed-back event")
	} else if appErr, ok := err.(*errors.AppError); !ok || appErr.Code != "CONFLICT" {
		t.Errorf("Expected CONFLICT, got %v", err)
	}

	got, _ := h.store.GetEvent(ctx, h.tenantID, ev.ID)
	if got.Status != StatusClawedBack {
		t.Errorf("Expected CLAWED_BACK, got %s", got.Status)
	}
}
