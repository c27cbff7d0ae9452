package reporting

import (
	"fmt"
	"time"

	"github.com/clinicaffil/platform/internal/shared/types"
)

// Window bounds a reporting query. From is inclusive, To exclusive.
type Window struct {
	From time.Time
	To   time.Time
}

// AffiliateSlice is one affiliate's aggregate over a window. Money fields are
// pointers so a suppressed slice can omit them entirely rather than report
// misleading zeros.
type AffiliateSlice struct {
	AffiliateID      types.ID `json:"affiliate_id"`
	DisplayName      string   `json:"display_name"`
	TierLevel        int32    `json:"tier_level"`
	Conversions      int64    `json:"conversion_count"`
	ConversionsLabel string   `json:"conversions"`
	RevenueCents     *int64   `json:"revenue_cents,omitempty"`
	PendingCents     *int64   `json:"pending_cents,omitempty"`
	ApprovedCents    *int64   `json:"approved_cents,omitempty"`
	PaidCents        *int64   `json:"paid_cents,omitempty"`
	ClawedBackCents  *int64   `json:"clawed_back_cents,omitempty"`
	TierBonusCents   *int64   `json:"tier_bonus_cents,omitempty"`
	Suppressed       bool     `json:"suppressed"`
}

// TenantSummary rolls the whole tenant up for the dashboard header.
type TenantSummary struct {
	TenantID         types.ID  `json:"tenant_id"`
	From             time.Time `json:"from"`
	To               time.Time `json:"to"`
	ActiveAffiliates int64     `json:"active_affiliates"`
	Conversions      int64     `json:"conversions"`
	RevenueCents     int64     `json:"revenue_cents"`
	PendingCents     int64     `json:"pending_cents"`
	ApprovedCents    int64     `json:"approved_cents"`
	PaidCents        int64     `json:"paid_cents"`
	ClawedBackCents  int64     `json:"clawed_back_cents"`
}

func suppressedLabel(floor int) string {
	return fmt.Sprintf("< %d", floor)
}
