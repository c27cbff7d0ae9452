package reporting

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/clinicaffil/platform/internal/shared/types"
)

func int64Ptr(v int64) *int64 { return &v }

func slice(conversions, revenue int64) AffiliateSlice {
	return AffiliateSlice{
		AffiliateID:     types.NewID(),
		DisplayName:     "Affiliate",
		Conversions:     conversions,
		RevenueCents:    int64Ptr(revenue),
		PendingCents:    int64Ptr(100),
		ApprovedCents:   int64Ptr(200),
		PaidCents:       int64Ptr(300),
		ClawedBackCents: int64Ptr(0),
		TierBonusCents:  int64Ptr(0),
	}
}

func TestSuppressionBelowFloor(t *testing.T) {
	sup := Suppressor{Floor: 5}

	slices := sup.Apply([]AffiliateSlice{slice(4, 40000), slice(5, 50000), slice(12, 120000)})

	if !slices[0].Suppressed {
		t.Error("Expected slice below the floor to be suppressed")
	}
	if slices[0].ConversionsLabel != "< 5" {
		t.Errorf("Expected label '< 5', got %q", slices[0].ConversionsLabel)
	}
	if slices[0].Conversions != 0 || slices[0].RevenueCents != nil || slices[0].PendingCents != nil {
		t.Error("Expected suppressed slice to withhold exact figures")
	}

	for _, i := range []int{1, 2} {
		if slices[i].Suppressed {
			t.Errorf("Expected slice %d at or above the floor to pass through", i)
		}
		if slices[i].RevenueCents == nil {
			t.Errorf("Expected slice %d to keep its figures", i)
		}
	}
	if slices[1].ConversionsLabel != "5" {
		t.Errorf("Expected label '5', got %q", slices[1].ConversionsLabel)
	}
	if slices[2].ConversionsLabel != "12" {
		t.Errorf("Expected label '12', got %q", slices[2].ConversionsLabel)
	}
}

func TestSuppressionDisabledByZeroFloor(t *testing.T) {
	sup := Suppressor{Floor: 0}

	slices := sup.Apply([]AffiliateSlice{slice(1, 10000)})

	if slices[0].Suppressed {
		t.Error("Expected no suppression with a zero floor")
	}
	if slices[0].ConversionsLabel != "1" {
		t.Errorf("Expected label '1', got %q", slices[0].ConversionsLabel)
	}
}

func TestSuppressionZeroConversions(t *testing.T) {
	sup := Suppressor{Floor: 5}

	slices := sup.Apply([]AffiliateSlice{slice(0, 0)})

	if !slices[0].Suppressed {
		t.Error("Expected an empty slice to be suppressed")
	}
}

func TestParseWindowDefaults(t *testing.T) {
	r := httptest.NewRequest("GET", "/summary", nil)

	w, err := parseWindow(r)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if !w.To.After(w.From) {
		t.Error("Expected a forward window")
	}
	if got := w.To.Sub(w.From); got != defaultWindow {
		t.Errorf("Expected the default 30-day window, got %v", got)
	}
}

func TestParseWindowExplicit(t *testing.T) {
	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	r := httptest.NewRequest("GET", "/summary?from="+from.Format(time.RFC3339)+"&to="+to.Format(time.RFC3339), nil)

	w, err := parseWindow(r)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if !w.From.Equal(from) || !w.To.Equal(to) {
		t.Errorf("Expected [%v, %v), got [%v, %v)", from, to, w.From, w.To)
	}
}

func TestParseWindowRejectsInverted(t *testing.T) {
	from := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	r := httptest.NewRequest("GET", "/summary?from="+from.Format(time.RFC3339)+"&to="+to.Format(time.RFC3339), nil)

	if _, err := parseWindow(r); err == nil {
		t.Fatal("Expected error for an inverted window")
	}
}
