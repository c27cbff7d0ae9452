package attribution

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/clinicaffil/platform/internal/shared/types"
)

// MemoryStore is an in-memory attribution store. It backs tests and the
// degraded no-database mode.
type MemoryStore struct {
	mu      sync.RWMutex
	touches []*Touch
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

var _ Store = (*MemoryStore)(nil)

// RecordTouch appends a touch
func (s *MemoryStore) RecordTouch(ctx context.Context, touch *Touch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := *touch
	s.touches = append(s.touches, &copied)
	return nil
}

// MarkConverted converts the most recent unconverted touch for the visitor
func (s *MemoryStore) MarkConverted(ctx context.Context, tenantID types.ID, visitorKey string, at time.Time) (*Touch, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var latest *Touch
	for _, t := range s.touches {
		if t.TenantID != tenantID || t.VisitorKey != visitorKey || t.ConvertedAt != nil {
			continue
		}
		if latest == nil || t.OccurredAt.After(latest.OccurredAt) {
			latest = t
		}
	}

	if latest == nil {
		return nil, false, nil
	}

	converted := at
	latest.ConvertedAt = &converted
	copied := *latest
	return &copied, true, nil
}

// ResolveVisitor returns the latest touch for a visitor, converted first
func (s *MemoryStore) ResolveVisitor(ctx context.Context, tenantID types.ID, visitorKey string) (*Touch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var best *Touch
	for _, t := range s.touches {
		if t.TenantID != tenantID || t.VisitorKey != visitorKey {
			continue
		}
		if best == nil {
			best = t
			continue
		}
		bestConverted := best.ConvertedAt != nil
		tConverted := t.ConvertedAt != nil
		if tConverted != bestConverted {
			if tConverted {
				best = t
			}
			continue
		}
		if t.OccurredAt.After(best.OccurredAt) {
			best = t
		}
	}

	if best == nil {
		return nil, nil
	}
	copied := *best
	return &copied, nil
}

// ListByAffiliate returns recent touches for an affiliate, newest first
func (s *MemoryStore) ListByAffiliate(ctx context.Context, tenantID, affiliateID types.ID, limit int) ([]Touch, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var touches []Touch
	for _, t := range s.touches {
		if t.TenantID == tenantID && t.AffiliateID == affiliateID {
			touches = append(touches, *t)
		}
	}

	sort.Slice(touches, func(i, j int) bool {
		return touches[i].OccurredAt.After(touches[j].OccurredAt)
	})

	if len(touches) > limit {
		touches = touches[:limit]
	}
	return touches, nil
}
