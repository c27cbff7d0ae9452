package plan

import (
	"context"
	"sync"
	"time"

	"github.com/clinicaffil/platform/internal/shared/errors"
	"github.com/clinicaffil/platform/internal/shared/types"
)

// MemoryRegistry is an in-memory plan registry for tests and the degraded
// no-database mode. Reassignment holds the registry lock for the whole
// close-then-open step, which gives the same single-open guarantee the
// Postgres store gets from its partial unique index.
type MemoryRegistry struct {
	mu          sync.RWMutex
	plans       map[types.ID]*CommissionPlan
	assignments []*PlanAssignment
	promotions  []*Promotion
}

// NewMemoryRegistry creates an empty registry
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		plans: make(map[types.ID]*CommissionPlan),
	}
}

var _ Registry = (*MemoryRegistry)(nil)

// PutPlan registers or replaces a plan
func (m *MemoryRegistry) PutPlan(p *CommissionPlan) {
	m.mu.Lock()
	defer m.mu.Unlock()

	copied := *p
	copied.Tiers = append([]CommissionTier(nil), p.Tiers...)
	m.plans[p.ID] = &copied
}

// GetPlan returns a plan with its tiers
func (m *MemoryRegistry) GetPlan(ctx context.Context, tenantID, planID types.ID) (*CommissionPlan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.plans[planID]
	if !ok || p.TenantID != tenantID {
		return nil, errors.NotFound("plan", planID.String())
	}
	copied := *p
	copied.Tiers = append([]CommissionTier(nil), p.Tiers...)
	return &copied, nil
}

// CurrentAssignment returns the open assignment, or (nil, nil) when none
func (m *MemoryRegistry) CurrentAssignment(ctx context.Context, tenantID, affiliateID types.ID) (*PlanAssignment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, a := range m.assignments {
		if a.TenantID == tenantID && a.AffiliateID == affiliateID && a.EffectiveTo == nil {
			copied := *a
			return &copied, nil
		}
	}
	return nil, nil
}

// Reassign closes the open assignment, if any, and opens a new one
func (m *MemoryRegistry) Reassign(ctx context.Context, tenantID, affiliateID, planID types.ID, at time.Time) (*PlanAssignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, a := range m.assignments {
		if a.TenantID == tenantID && a.AffiliateID == affiliateID && a.EffectiveTo == nil {
			closed := at
			a.EffectiveTo = &closed
		}
	}

	assignment := &PlanAssignment{
		ID:            types.NewID(),
		TenantID:      tenantID,
		AffiliateID:   affiliateID,
		PlanID:        planID,
		EffectiveFrom: at,
	}
	m.assignments = append(m.assignments, assignment)

	copied := *assignment
	return &copied, nil
}

// AssignmentHistory lists all assignments of an affiliate
func (m *MemoryRegistry) AssignmentHistory(ctx context.Context, tenantID, affiliateID types.ID) ([]PlanAssignment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []PlanAssignment
	for _, a := range m.assignments {
		if a.TenantID == tenantID && a.AffiliateID == affiliateID {
			out = append(out, *a)
		}
	}
	return out, nil
}

// PutPromotion registers a promotion
func (m *MemoryRegistry) PutPromotion(p *Promotion) {
	m.mu.Lock()
	defer m.mu.Unlock()

	copied := *p
	m.promotions = append(m.promotions, &copied)
}

// ActivePromotions returns promotions live at the given instant
func (m *MemoryRegistry) ActivePromotions(ctx context.Context, tenantID types.ID, at time.Time) ([]Promotion, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Promotion
	for _, p := range m.promotions {
		if p.TenantID == tenantID && p.Active && !at.Before(p.StartsAt) && at.Before(p.EndsAt) {
			out = append(out, *p)
		}
	}
	return out, nil
}
