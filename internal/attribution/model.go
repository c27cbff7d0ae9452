package attribution

import (
	"fmt"
	"strings"
	"time"

	"github.com/clinicaffil/platform/internal/shared/types"
)

// Touch is an append-only record of a referral hit. Every inbound click
// creates a new row; the only later mutation is setting ConvertedAt once.
type Touch struct {
	ID             types.ID   `json:"id"`
	TenantID       types.ID   `json:"tenant_id"`
	ReferralCodeID types.ID   `json:"referral_code_id"`
	AffiliateID    types.ID   `json:"affiliate_id"`
	VisitorKey     string     `json:"visitor_key"`
	LandingPage    string     `json:"landing_page,omitempty"`
	UserAgent      string     `json:"user_agent,omitempty"`
	OccurredAt     time.Time  `json:"occurred_at"`
	ConvertedAt    *time.Time `json:"converted_at,omitempty"`
}

// VisitorContext carries what the public capture endpoint knows about the
// visitor. VisitorKey is an opaque browser identifier set by the tenant's
// site; the engine never interprets it.
type VisitorContext struct {
	VisitorKey  string `json:"visitor_key"`
	LandingPage string `json:"landing_page,omitempty"`
	UserAgent   string `json:"user_agent,omitempty"`
}

// Validate checks the visitor context for the capture path.
func (v VisitorContext) Validate() error {
	if strings.TrimSpace(v.VisitorKey) == "" {
		return fmt.Errorf("visitor key is required")
	}
	if len(v.VisitorKey) > 128 {
		return fmt.Errorf("visitor key must be at most 128 characters")
	}
	return nil
}

// RecordTouchRequest is the public request body for a referral hit
type RecordTouchRequest struct {
	ReferralCode string         `json:"referral_code"`
	Visitor      VisitorContext `json:"visitor"`
}

// RecordConversionRequest marks a visitor as converted
type RecordConversionRequest struct {
	Visitor     VisitorContext `json:"visitor"`
	ConvertedAt *time.Time     `json:"converted_at,omitempty"`
}
