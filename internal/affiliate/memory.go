package affiliate

import (
	"context"
	"sync"

	"github.com/clinicaffil/platform/internal/shared/errors"
	"github.com/clinicaffil/platform/internal/shared/types"
)

// MemoryDirectory is an in-memory affiliate and referral-code registry.
// It backs tests and the degraded no-database mode; it does not hold
// lifetime counters, which live in the commission store.
type MemoryDirectory struct {
	mu         sync.RWMutex
	affiliates map[types.ID]*Affiliate
	codes      map[string]*ReferralCode // key: tenantID + "/" + code
}

// NewMemoryDirectory creates an empty directory
func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{
		affiliates: make(map[types.ID]*Affiliate),
		codes:      make(map[string]*ReferralCode),
	}
}

func codeKey(tenantID types.ID, code string) string {
	return tenantID.String() + "/" + code
}

// Put registers or replaces an affiliate
func (d *MemoryDirectory) Put(a *Affiliate) {
	d.mu.Lock()
	defer d.mu.Unlock()

	copied := *a
	d.affiliates[a.ID] = &copied
}

// Get returns an affiliate by ID within a tenant
func (d *MemoryDirectory) Get(ctx context.Context, tenantID, id types.ID) (*Affiliate, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	a, ok := d.affiliates[id]
	if !ok || a.TenantID != tenantID {
		return nil, errors.NotFound("affiliate", id.String())
	}
	copied := *a
	return &copied, nil
}

// PutCode registers a referral code. Duplicate codes per tenant conflict.
func (d *MemoryDirectory) PutCode(code *ReferralCode) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	key := codeKey(code.TenantID, code.Code)
	if _, exists := d.codes[key]; exists {
		return errors.Conflict("referral code already exists for this tenant")
	}
	copied := *code
	d.codes[key] = &copied
	return nil
}

// GetActiveCode resolves an active referral code within a tenant
func (d *MemoryDirectory) GetActiveCode(ctx context.Context, tenantID types.ID, code string) (*ReferralCode, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	rc, ok := d.codes[codeKey(tenantID, code)]
	if !ok || !rc.Active {
		return nil, errors.NotFound("referral code", code)
	}
	copied := *rc
	return &copied, nil
}

// DeactivateCode retires a code
func (d *MemoryDirectory) DeactivateCode(ctx context.Context, tenantID types.ID, code string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	rc, ok := d.codes[codeKey(tenantID, code)]
	if !ok {
		return errors.NotFound("referral code", code)
	}
	rc.Active = false
	return nil
}
