package affiliate

import (
	"fmt"
	"strings"
	"time"

	"github.com/clinicaffil/platform/internal/shared/types"
)

// Status defines the lifecycle status of an affiliate. Affiliates are never
// deleted while commission events reference them; termination is soft.
type Status string

const (
	StatusActive     Status = "active"
	StatusPaused     Status = "paused"
	StatusTerminated Status = "terminated"
)

// Affiliate is a referring party belonging to exactly one tenant (clinic).
// Lifetime counters are mutated only by the commission store, atomically with
// commission-event writes; the tier reference only by the tier service.
type Affiliate struct {
	ID          types.ID `json:"id"`
	TenantID    types.ID `json:"tenant_id"`
	DisplayName string   `json:"display_name"`
	Status      Status   `json:"status"`

	LifetimeConversions  int64 `json:"lifetime_conversions"`
	LifetimeRevenueCents int64 `json:"lifetime_revenue_cents"`

	// CurrentTierLevel is denormalized from the tier catalog so the upgrade
	// compare-and-set needs no join. 0 means no tier.
	CurrentTierID    *types.ID  `json:"current_tier_id,omitempty"`
	CurrentTierLevel int32      `json:"current_tier_level"`
	TierQualifiedAt  *time.Time `json:"tier_qualified_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// New creates an active affiliate with validation.
func New(tenantID types.ID, displayName string) (*Affiliate, error) {
	if tenantID.IsZero() {
		return nil, fmt.Errorf("tenant is required")
	}
	displayName = strings.TrimSpace(displayName)
	if displayName == "" {
		return nil, fmt.Errorf("display name is required")
	}

	now := time.Now()
	return &Affiliate{
		ID:          types.NewID(),
		TenantID:    tenantID,
		DisplayName: displayName,
		Status:      StatusActive,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// ReferralCode is a short code bound to one affiliate. Many codes may map to
// one affiliate (rotation, campaigns). Immutable once issued except for the
// active flag.
type ReferralCode struct {
	ID          types.ID  `json:"id"`
	TenantID    types.ID  `json:"tenant_id"`
	AffiliateID types.ID  `json:"affiliate_id"`
	Code        string    `json:"code"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"created_at"`
}

// NewReferralCode issues an active code for an affiliate.
func NewReferralCode(tenantID, affiliateID types.ID, code string) (*ReferralCode, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, fmt.Errorf("code is required")
	}
	if len(code) > 64 {
		return nil, fmt.Errorf("code must be at most 64 characters")
	}
	if affiliateID.IsZero() || tenantID.IsZero() {
		return nil, fmt.Errorf("tenant and affiliate are required")
	}

	return &ReferralCode{
		ID:          types.NewID(),
		TenantID:    tenantID,
		AffiliateID: affiliateID,
		Code:        code,
		Active:      true,
		CreatedAt:   time.Now(),
	}, nil
}

// CreateAffiliateRequest is the admin request to register an affiliate
type CreateAffiliateRequest struct {
	DisplayName string `json:"display_name"`
}

// CreateCodeRequest is the admin request to issue a referral code
type CreateCodeRequest struct {
	Code string `json:"code"`
}

// ListFilter defines filters for listing affiliates
type ListFilter struct {
	Status *Status `json:"status,omitempty"`
	Search string  `json:"search,omitempty"`
	Limit  int     `json:"limit,omitempty"`
	Offset int     `json:"offset,omitempty"`
}
