package plan

import (
	"context"
	"time"

	"github.com/clinicaffil/platform/internal/shared/types"
)

// Registry is the read side the commission engine depends on. The engine
// only ever reads plan data; tenant administrators own the writes.
type Registry interface {
	// GetPlan returns a plan with its tiers loaded.
	GetPlan(ctx context.Context, tenantID, planID types.ID) (*CommissionPlan, error)

	// CurrentAssignment returns the affiliate's open assignment, or
	// (nil, nil) when the affiliate has no plan — which is a configuration
	// state, not an error.
	CurrentAssignment(ctx context.Context, tenantID, affiliateID types.ID) (*PlanAssignment, error)

	// ActivePromotions returns promotions live at the given instant.
	ActivePromotions(ctx context.Context, tenantID types.ID, at time.Time) ([]Promotion, error)
}
