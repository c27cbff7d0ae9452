package commission

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/clinicaffil/platform/internal/affiliate"
	"github.com/clinicaffil/platform/internal/shared/errors"
	"github.com/clinicaffil/platform/internal/shared/types"
)

// MemoryStore is an in-memory ledger store with the same atomicity
// guarantees as the Postgres store, provided by a single mutex instead of
// serializable transactions. It backs tests and the degraded no-database
// mode.
type MemoryStore struct {
	mu         sync.Mutex
	events     map[types.ID]*Event
	bySource   map[string]types.ID // key: tenantID + "/" + sourceEventID
	affiliates map[types.ID]*affiliate.Affiliate
}

// NewMemoryStore creates an empty ledger store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		events:     make(map[types.ID]*Event),
		bySource:   make(map[string]types.ID),
		affiliates: make(map[types.ID]*affiliate.Affiliate),
	}
}

var _ Store = (*MemoryStore)(nil)

func sourceKey(tenantID types.ID, sourceEventID string) string {
	return tenantID.String() + "/" + sourceEventID
}

// PutAffiliate registers an affiliate with the ledger
func (s *MemoryStore) PutAffiliate(a *affiliate.Affiliate) {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := *a
	s.affiliates[a.ID] = &copied
}

// InsertEvent writes a ledger entry and applies the counter delta
func (s *MemoryStore) InsertEvent(ctx context.Context, ev *Event, delta CounterDelta) (*Event, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := sourceKey(ev.TenantID, ev.SourceEventID)
	if existingID, ok := s.bySource[key]; ok {
		copied := *s.events[existingID]
		return &copied, false, nil
	}

	aff, ok := s.affiliates[ev.AffiliateID]
	if !ok || aff.TenantID != ev.TenantID {
		return nil, false, errors.NotFound("affiliate", ev.AffiliateID.String())
	}

	copied := *ev
	s.events[ev.ID] = &copied
	s.bySource[key] = ev.ID

	applyDeltaLocked(aff, delta)

	result := copied
	return &result, true, nil
}

func applyDeltaLocked(aff *affiliate.Affiliate, delta CounterDelta) {
	aff.LifetimeConversions += delta.Conversions
	if aff.LifetimeConversions < 0 {
		aff.LifetimeConversions = 0
	}
	aff.LifetimeRevenueCents += delta.RevenueCents
	if aff.LifetimeRevenueCents < 0 {
		aff.LifetimeRevenueCents = 0
	}
	aff.UpdatedAt = time.Now()
}

// GetEvent returns a ledger entry by ID
func (s *MemoryStore) GetEvent(ctx context.Context, tenantID, eventID types.ID) (*Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ev, ok := s.events[eventID]
	if !ok || ev.TenantID != tenantID {
		return nil, errors.NotFound("commission event", eventID.String())
	}
	copied := *ev
	return &copied, nil
}

// GetBySourceEvent returns the entry for a source key, or (nil, nil)
func (s *MemoryStore) GetBySourceEvent(ctx context.Context, tenantID types.ID, sourceEventID string) (*Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.bySource[sourceKey(tenantID, sourceEventID)]
	if !ok {
		return nil, nil
	}
	copied := *s.events[id]
	return &copied, nil
}

// ListByAffiliate returns an affiliate's ledger entries, newest first
func (s *MemoryStore) ListByAffiliate(ctx context.Context, tenantID, affiliateID types.ID, limit int) ([]Event, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Event
	for _, ev := range s.events {
		if ev.TenantID == tenantID && ev.AffiliateID == affiliateID {
			out = append(out, *ev)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].OccurredAt.After(out[j].OccurredAt)
	})

	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// GetAffiliate reads the affiliate with its lifetime counters
func (s *MemoryStore) GetAffiliate(ctx context.Context, tenantID, affiliateID types.ID) (*affiliate.Affiliate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	aff, ok := s.affiliates[affiliateID]
	if !ok || aff.TenantID != tenantID {
		return nil, errors.NotFound("affiliate", affiliateID.String())
	}
	copied := *aff
	return &copied, nil
}

// ListActiveAffiliates returns all active affiliates of a tenant
func (s *MemoryStore) ListActiveAffiliates(ctx context.Context, tenantID types.ID) ([]affiliate.Affiliate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []affiliate.Affiliate
	for _, aff := range s.affiliates {
		if aff.TenantID == tenantID && aff.Status == affiliate.StatusActive {
			out = append(out, *aff)
		}
	}
	return out, nil
}

// ApplyTierChange performs the upgrade compare-and-set with optional bonus
func (s *MemoryStore) ApplyTierChange(ctx context.Context, tenantID, affiliateID, tierID types.ID, newLevel, prevLevel int32, qualifiedAt time.Time, bonus *Event) (bool, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	aff, ok := s.affiliates[affiliateID]
	if !ok || aff.TenantID != tenantID {
		return false, false, errors.NotFound("affiliate", affiliateID.String())
	}
	if aff.CurrentTierLevel != prevLevel {
		return false, false, nil
	}

	tier := tierID
	aff.CurrentTierID = &tier
	aff.CurrentTierLevel = newLevel
	at := qualifiedAt
	aff.TierQualifiedAt = &at
	aff.UpdatedAt = time.Now()

	if bonus == nil {
		return true, false, nil
	}

	key := sourceKey(bonus.TenantID, bonus.SourceEventID)
	if _, exists := s.bySource[key]; exists {
		return true, false, nil
	}

	copied := *bonus
	s.events[bonus.ID] = &copied
	s.bySource[key] = bonus.ID
	return true, true, nil
}

// SetTier force-sets the tier reference
func (s *MemoryStore) SetTier(ctx context.Context, tenantID, affiliateID types.ID, tierID *types.ID, level int32, qualifiedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	aff, ok := s.affiliates[affiliateID]
	if !ok || aff.TenantID != tenantID {
		return errors.NotFound("affiliate", affiliateID.String())
	}

	if tierID == nil {
		aff.CurrentTierID = nil
	} else {
		tier := *tierID
		aff.CurrentTierID = &tier
	}
	aff.CurrentTierLevel = level
	at := qualifiedAt
	aff.TierQualifiedAt = &at
	aff.UpdatedAt = time.Now()
	return nil
}

// ListMatured returns PENDING events whose hold has elapsed
func (s *MemoryStore) ListMatured(ctx context.Context, now time.Time, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = maturationBatchSize
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Event
	for _, ev := range s.events {
		if ev.Status == StatusPending && ev.HoldUntil != nil && !ev.HoldUntil.After(now) {
			out = append(out, *ev)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].HoldUntil.Before(*out[j].HoldUntil)
	})

	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Approve transitions PENDING -> APPROVED
func (s *MemoryStore) Approve(ctx context.Context, tenantID, eventID types.ID, at time.Time) (*Event, error) {
	return s.transition(tenantID, eventID, StatusPending, StatusApproved, at)
}

// MarkPaid transitions APPROVED -> PAID
func (s *MemoryStore) MarkPaid(ctx context.Context, tenantID, eventID types.ID, at time.Time) (*Event, error) {
	return s.transition(tenantID, eventID, StatusApproved, StatusPaid, at)
}

func (s *MemoryStore) transition(tenantID, eventID types.ID, from, to Status, at time.Time) (*Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ev, ok := s.events[eventID]
	if !ok || ev.TenantID != tenantID {
		return nil, errors.NotFound("commission event", eventID.String())
	}
	if ev.Status != from {
		return nil, errors.Conflict("event is " + string(ev.Status) + ", expected " + string(from))
	}

	ev.Status = to
	ts := at
	switch to {
	case StatusApproved:
		ev.ApprovedAt = &ts
	case StatusPaid:
		ev.PaidAt = &ts
	}

	copied := *ev
	return &copied, nil
}

// Clawback transitions to CLAWED_BACK and applies the negative delta
func (s *MemoryStore) Clawback(ctx context.Context, tenantID, eventID types.ID, reason string, at time.Time, delta CounterDelta) (*Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ev, ok := s.events[eventID]
	if !ok || ev.TenantID != tenantID {
		return nil, errors.NotFound("commission event", eventID.String())
	}
	if ev.Status != StatusPending && ev.Status != StatusApproved {
		return nil, errors.Conflict("event is not in a clawable state")
	}

	ev.Status = StatusClawedBack
	ev.ClawbackReason = reason
	ts := at
	ev.ClawedBackAt = &ts

	if aff, ok := s.affiliates[ev.AffiliateID]; ok {
		applyDeltaLocked(aff, delta)
	}

	copied := *ev
	return &copied, nil
}
