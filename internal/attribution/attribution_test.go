package attribution

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/clinicaffil/platform/internal/affiliate"
	"github.com/clinicaffil/platform/internal/shared/types"
)

func newTouch(tenantID, affiliateID, codeID types.ID, visitor string, at time.Time) *Touch {
	return &Touch{
		ID:             types.NewID(),
		TenantID:       tenantID,
		ReferralCodeID: codeID,
		AffiliateID:    affiliateID,
		VisitorKey:     visitor,
		OccurredAt:     at,
	}
}

// TestRecordTouchAppends tests that every hit creates a new row
func TestRecordTouchAppends(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	tenantID := types.NewID()
	affiliateID := types.NewID()
	codeID := types.NewID()
	now := time.Now()

	for i := 0; i < 3; i++ {
		touch := newTouch(tenantID, affiliateID, codeID, "visitor-1", now.Add(time.Duration(i)*time.Minute))
		if err := store.RecordTouch(ctx, touch); err != nil {
			t.Fatalf("Expected no error, got %v", err)
		}
	}

	touches, err := store.ListByAffiliate(ctx, tenantID, affiliateID, 10)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if len(touches) != 3 {
		t.Errorf("Expected 3 touches, got %d", len(touches))
	}
}

// TestMarkConvertedLatestTouch tests that conversion lands on the most recent
// unconverted touch
func TestMarkConvertedLatestTouch(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	tenantID := types.NewID()
	affiliateID := types.NewID()
	codeID := types.NewID()
	now := time.Now()

	older := newTouch(tenantID, affiliateID, codeID, "visitor-1", now.Add(-time.Hour))
	newer := newTouch(tenantID, affiliateID, codeID, "visitor-1", now)
	store.RecordTouch(ctx, older)
	store.RecordTouch(ctx, newer)

	touch, marked, err := store.MarkConverted(ctx, tenantID, "visitor-1", now)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if !marked {
		t.Fatal("Expected a touch to be marked")
	}
	if touch.ID != newer.ID {
		t.Errorf("Expected latest touch %s to convert, got %s", newer.ID, touch.ID)
	}
	if touch.ConvertedAt == nil {
		t.Error("Expected converted timestamp to be set")
	}
}

// TestMarkConvertedIdempotent tests that re-delivered conversions do not
// double-count
func TestMarkConvertedIdempotent(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	tenantID := types.NewID()
	touch := newTouch(tenantID, types.NewID(), types.NewID(), "visitor-1", time.Now())
	store.RecordTouch(ctx, touch)

	_, marked, err := store.MarkConverted(ctx, tenantID, "visitor-1", time.Now())
	if err != nil || !marked {
		t.Fatalf("Expected first conversion to mark, got marked=%v err=%v", marked, err)
	}

	_, marked, err = store.MarkConverted(ctx, tenantID, "visitor-1", time.Now())
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if marked {
		t.Error("Expected redelivered conversion to be a no-op")
	}
}

// TestMarkConvertedNoTouch tests the silent no-op for unknown visitors
func TestMarkConvertedNoTouch(t *testing.T) {
	store := NewMemoryStore()

	touch, marked, err := store.MarkConverted(context.Background(), types.NewID(), "nobody", time.Now())
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if marked || touch != nil {
		t.Error("Expected no-op for a visitor with no touches")
	}
}

// TestResolveVisitorPrefersConverted tests payer resolution
func TestResolveVisitorPrefersConverted(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	tenantID := types.NewID()
	affiliateA := types.NewID()
	affiliateB := types.NewID()
	now := time.Now()

	converted := newTouch(tenantID, affiliateA, types.NewID(), "visitor-1", now.Add(-time.Hour))
	at := now.Add(-30 * time.Minute)
	converted.ConvertedAt = &at
	store.RecordTouch(ctx, converted)
	store.RecordTouch(ctx, newTouch(tenantID, affiliateB, types.NewID(), "visitor-1", now))

	touch, err := store.ResolveVisitor(ctx, tenantID, "visitor-1")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if touch == nil {
		t.Fatal("Expected a touch")
	}
	if touch.AffiliateID != affiliateA {
		t.Errorf("Expected converted touch to win, got affiliate %s", touch.AffiliateID)
	}
}

// TestTenantIsolation tests that visitors do not leak across tenants
func TestTenantIsolation(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	tenantA := types.NewID()
	tenantB := types.NewID()
	store.RecordTouch(ctx, newTouch(tenantA, types.NewID(), types.NewID(), "visitor-1", time.Now()))

	touch, err := store.ResolveVisitor(ctx, tenantB, "visitor-1")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if touch != nil {
		t.Error("Expected no touch for the other tenant")
	}
}

// TestTouchEndpoint tests the public capture handler end to end
func TestTouchEndpoint(t *testing.T) {
	store := NewMemoryStore()
	dir := affiliate.NewMemoryDirectory()

	tenantID := types.NewID()
	aff, _ := affiliate.New(tenantID, "Dr. Referrer")
	dir.Put(aff)
	code, _ := affiliate.NewReferralCode(tenantID, aff.ID, "WELCOME10")
	if err := dir.PutCode(code); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	handler := NewHandler(store, dir)

	body, _ := json.Marshal(RecordTouchRequest{
		ReferralCode: "WELCOME10",
		Visitor:      VisitorContext{VisitorKey: "visitor-1", LandingPage: "/pricing"},
	})
	req := httptest.NewRequest(http.MethodPost, "/touch", bytes.NewReader(body))
	req.Header.Set("X-Tenant-ID", tenantID.String())
	rec := httptest.NewRecorder()

	handler.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d: %s", rec.Code, rec.Body.String())
	}

	touches, _ := store.ListByAffiliate(context.Background(), tenantID, aff.ID, 10)
	if len(touches) != 1 {
		t.Fatalf("Expected 1 touch, got %d", len(touches))
	}
	if touches[0].VisitorKey != "visitor-1" {
		t.Errorf("Expected visitor key to persist, got %s", touches[0].VisitorKey)
	}
}

// TestTouchEndpointUnknownCode tests rejection of unknown referral codes
func TestTouchEndpointUnknownCode(t *testing.T) {
	handler := NewHandler(NewMemoryStore(), affiliate.NewMemoryDirectory())

	body, _ := json.Marshal(RecordTouchRequest{
		ReferralCode: "NOPE",
		Visitor:      VisitorContext{VisitorKey: "visitor-1"},
	})
	req := httptest.NewRequest(http.MethodPost, "/touch", bytes.NewReader(body))
	req.Header.Set("X-Tenant-ID", types.NewID().String())
	rec := httptest.NewRecorder()

	handler.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", rec.Code)
	}
}
