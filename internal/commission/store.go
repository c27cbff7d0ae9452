package commission

import (
	"context"
	"time"

	"github.com/clinicaffil/platform/internal/affiliate"
	"github.com/clinicaffil/platform/internal/shared/types"
)

// Store is the transactional ledger the engine writes through. Every method
// that pairs a ledger write with a counter or tier change must apply both in
// one serializable unit of work.
type Store interface {
	// InsertEvent writes a ledger entry and applies the counter delta to the
	// affiliate atomically. When an event with the same (tenant, source
	// event) key already exists, the existing row is returned with
	// created=false and the delta is not applied.
	InsertEvent(ctx context.Context, ev *Event, delta CounterDelta) (*Event, bool, error)

	// GetEvent returns a ledger entry by ID.
	GetEvent(ctx context.Context, tenantID, eventID types.ID) (*Event, error)

	// GetBySourceEvent returns the entry for a source idempotency key, or
	// (nil, nil) when none exists.
	GetBySourceEvent(ctx context.Context, tenantID types.ID, sourceEventID string) (*Event, error)

	// ListByAffiliate returns an affiliate's ledger entries, newest first.
	ListByAffiliate(ctx context.Context, tenantID, affiliateID types.ID, limit int) ([]Event, error)

	// GetAffiliate reads the affiliate row the engine needs for rate and
	// tier decisions, including its lifetime counters.
	GetAffiliate(ctx context.Context, tenantID, affiliateID types.ID) (*affiliate.Affiliate, error)

	// ListActiveAffiliates returns all active affiliates of a tenant, for
	// the maintenance recomputation.
	ListActiveAffiliates(ctx context.Context, tenantID types.ID) ([]affiliate.Affiliate, error)

	// ApplyTierChange performs the upgrade read-modify-write: the tier
	// reference is set only if the affiliate's recorded tier level still
	// equals prevLevel, and the bonus event, when given, is inserted under
	// its deterministic key. applied=false means another worker won the
	// race; bonusCreated=false with applied=true means the bonus had
	// already been issued for this tier.
	ApplyTierChange(ctx context.Context, tenantID, affiliateID, tierID types.ID, newLevel, prevLevel int32, qualifiedAt time.Time, bonus *Event) (applied bool, bonusCreated bool, err error)

	// SetTier force-sets the tier reference regardless of the current
	// level. Used by the maintenance recomputation, which corrects drift in
	// both directions and never issues bonuses. A nil tierID clears the
	// tier.
	SetTier(ctx context.Context, tenantID, affiliateID types.ID, tierID *types.ID, level int32, qualifiedAt time.Time) error

	// ListMatured returns PENDING events whose hold has elapsed.
	ListMatured(ctx context.Context, now time.Time, limit int) ([]Event, error)

	// Approve transitions PENDING -> APPROVED.
	Approve(ctx context.Context, tenantID, eventID types.ID, at time.Time) (*Event, error)

	// MarkPaid transitions APPROVED -> PAID.
	MarkPaid(ctx context.Context, tenantID, eventID types.ID, at time.Time) (*Event, error)

	// Clawback transitions PENDING|APPROVED -> CLAWED_BACK and applies the
	// (negative) counter delta atomically. Fails with a conflict when the
	// event is already terminal.
	Clawback(ctx context.Context, tenantID, eventID types.ID, reason string, at time.Time, delta CounterDelta) (*Event, error)
}

// DisputeChecker asks the payment source of truth whether the underlying
// transaction of an event has been disputed or refunded. The maturation job
// consults it before approving.
type DisputeChecker interface {
	Disputed(ctx context.Context, tenantID types.ID, sourceEventID string) (bool, error)
}

// NoDisputes approves everything. Used when no payment source is wired.
type NoDisputes struct{}

func (NoDisputes) Disputed(ctx context.Context, tenantID types.ID, sourceEventID string) (bool, error) {
	return false, nil
}
