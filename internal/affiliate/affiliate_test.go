package affiliate

import (
	"context"
	"strings"
	"testing"

	"github.com/clinicaffil/platform/internal/shared/errors"
	"github.com/clinicaffil/platform/internal/shared/types"
)

func TestNewAffiliate(t *testing.T) {
	tenantID := types.NewID()

	a, err := New(tenantID, "  Dr. Petrov Clinic Network  ")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if a.DisplayName != "Dr. Petrov Clinic Network" {
		t.Errorf("Expected trimmed display name, got %q", a.DisplayName)
	}
	if a.Status != StatusActive {
		t.Errorf("Expected active status, got %s", a.Status)
	}
	if a.CurrentTierLevel != 0 {
		t.Errorf("Expected no tier, got level %d", a.CurrentTierLevel)
	}

	if _, err := New(tenantID, "   "); err == nil {
		t.Error("Expected error for a blank display name")
	}
	if _, err := New(types.ID(""), "Partner"); err == nil {
		t.Error("Expected error for a missing tenant")
	}
}

func TestNewReferralCode(t *testing.T) {
	tenantID := types.NewID()
	affiliateID := types.NewID()

	rc, err := NewReferralCode(tenantID, affiliateID, "SPRING24")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if !rc.Active {
		t.Error("Expected a new code to be active")
	}

	if _, err := NewReferralCode(tenantID, affiliateID, ""); err == nil {
		t.Error("Expected error for an empty code")
	}
	if _, err := NewReferralCode(tenantID, affiliateID, strings.Repeat("x", 65)); err == nil {
		t.Error("Expected error for an oversized code")
	}
	if _, err := NewReferralCode(tenantID, types.ID(""), "SPRING24"); err == nil {
		t.Error("Expected error for a missing affiliate")
	}
}

func TestDirectoryCodeResolution(t *testing.T) {
	dir := NewMemoryDirectory()
	ctx := context.Background()
	tenantID := types.NewID()

	a, _ := New(tenantID, "Partner")
	dir.Put(a)

	rc, _ := NewReferralCode(tenantID, a.ID, "WELCOME")
	if err := dir.PutCode(rc); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	got, err := dir.GetActiveCode(ctx, tenantID, "WELCOME")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if got.AffiliateID != a.ID {
		t.Errorf("Expected affiliate %s, got %s", a.ID, got.AffiliateID)
	}

	// same code string under another tenant is independent
	if _, err := dir.GetActiveCode(ctx, types.NewID(), "WELCOME"); err == nil {
		t.Error("Expected code lookup to be tenant-scoped")
	}
}

func TestDirectoryDuplicateCode(t *testing.T) {
	dir := NewMemoryDirectory()
	tenantID := types.NewID()

	a, _ := New(tenantID, "Partner")
	dir.Put(a)

	first, _ := NewReferralCode(tenantID, a.ID, "WELCOME")
	if err := dir.PutCode(first); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	second, _ := NewReferralCode(tenantID, a.ID, "WELCOME")
	err := dir.PutCode(second)
	if err == nil {
		t.Fatal("Expected error for a duplicate code")
	}
	if appErr, ok := err.(*errors.AppError); !ok || appErr.Code != "CONFLICT" {
		t.Errorf("Expected CONFLICT, got %v", err)
	}

	// other tenants can reuse the string
	other, _ := NewReferralCode(types.NewID(), types.NewID(), "WELCOME")
	if err := dir.PutCode(other); err != nil {
		t.Errorf("Expected no error for another tenant, got %v", err)
	}
}

func TestDirectoryDeactivatedCode(t *testing.T) {
	dir := NewMemoryDirectory()
	ctx := context.Background()
	tenantID := types.NewID()

	a, _ := New(tenantID, "Partner")
	dir.Put(a)
	rc, _ := NewReferralCode(tenantID, a.ID, "OLD")
	dir.PutCode(rc)

	if err := dir.DeactivateCode(ctx, tenantID, "OLD"); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if _, err := dir.GetActiveCode(ctx, tenantID, "OLD"); err == nil {
		t.Error("Expected a deactivated code to stop resolving")
	}
}
