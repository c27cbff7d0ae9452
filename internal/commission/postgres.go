package commission

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinicaffil/platform/internal/affiliate"
	"github.com/clinicaffil/platform/internal/shared/database"
	"github.com/clinicaffil/platform/internal/shared/errors"
	"github.com/clinicaffil/platform/internal/shared/types"
)

const eventColumns = `
	id, tenant_id, affiliate_id, plan_id, source_event_id,
	event_amount_cents, base_commission_cents, tier_bonus_cents,
	promotion_bonus_cents, product_adjustment_cents, commission_amount_cents,
	is_recurring, attribution_model, status, zero_reason, clawback_reason,
	occurred_at, hold_until, created_at, approved_at, paid_at, clawed_back_at`

// PostgresStore is the production ledger store. Every mutating method runs
// in a serializable transaction with bounded retries.
type PostgresStore struct {
	pool     *pgxpool.Pool
	attempts int
	backoff  time.Duration
}

// NewPostgresStore creates a Postgres-backed commission store
func NewPostgresStore(pool *pgxpool.Pool, attempts int, backoff time.Duration) *PostgresStore {
	return &PostgresStore{pool: pool, attempts: attempts, backoff: backoff}
}

var _ Store = (*PostgresStore)(nil)

func (s *PostgresStore) serializable(ctx context.Context, fn func(pgx.Tx) error) error {
	err := database.Serializable(ctx, s.pool, s.attempts, s.backoff, fn)
	if database.IsSerializationFailure(err) {
		return errors.Transient("ledger write contention, retry the delivery", err)
	}
	return err
}

// InsertEvent writes a ledger entry and applies the counter delta. The
// unique key on (tenant_id, source_event_id) makes duplicate deliveries
// resolve to the existing row.
func (s *PostgresStore) InsertEvent(ctx context.Context, ev *Event, delta CounterDelta) (*Event, bool, error) {
	created := false
	err := s.serializable(ctx, func(tx pgx.Tx) error {
		created = false

		tag, err := tx.Exec(ctx, `
			INSERT INTO affil.commission_events (
				id, tenant_id, affiliate_id, plan_id, source_event_id,
				event_amount_cents, base_commission_cents, tier_bonus_cents,
				promotion_bonus_cents, product_adjustment_cents, commission_amount_cents,
				is_recurring, attribution_model, status, zero_reason, clawback_reason,
				occurred_at, hold_until, created_at, approved_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
			ON CONFLICT (tenant_id, source_event_id) DO NOTHING`,
			ev.ID, ev.TenantID, ev.AffiliateID, ev.PlanID, ev.SourceEventID,
			ev.EventAmountCents, ev.BaseCommissionCents, ev.TierBonusCents,
			ev.PromotionBonusCents, ev.ProductAdjustmentCents, ev.CommissionAmountCents,
			ev.IsRecurring, ev.Model, ev.Status, ev.ZeroReason, ev.ClawbackReason,
			ev.OccurredAt, ev.HoldUntil, ev.CreatedAt, ev.ApprovedAt,
		)
		if err != nil {
			return errors.Wrap(err, "failed to insert commission event")
		}
		if tag.RowsAffected() == 0 {
			return nil
		}
		created = true

		return applyCounterDelta(ctx, tx, ev.TenantID, ev.AffiliateID, delta)
	})
	if err != nil {
		return nil, false, err
	}

	if created {
		return ev, true, nil
	}

	existing, err := s.GetBySourceEvent(ctx, ev.TenantID, ev.SourceEventID)
	if err != nil {
		return nil, false, err
	}
	if existing == nil {
		return nil, false, errors.Wrap(pgx.ErrNoRows, "conflicting event vanished")
	}
	return existing, false, nil
}

func applyCounterDelta(ctx context.Context, tx pgx.Tx, tenantID, affiliateID types.ID, delta CounterDelta) error {
	if delta == (CounterDelta{}) {
		return nil
	}

	tag, err := tx.Exec(ctx, `
		UPDATE affil.affiliates SET
			lifetime_conversions = GREATEST(0, lifetime_conversions + $3),
			lifetime_revenue_cents = GREATEST(0, lifetime_revenue_cents + $4),
			updated_at = NOW()
		WHERE tenant_id = $1 AND id = $2`,
		tenantID, affiliateID, delta.Conversions, delta.RevenueCents,
	)
	if err != nil {
		return errors.Wrap(err, "failed to apply counter delta")
	}
	if tag.RowsAffected() == 0 {
		return errors.NotFound("affiliate", affiliateID.String())
	}
	return nil
}

// GetEvent returns a ledger entry by ID
func (s *PostgresStore) GetEvent(ctx context.Context, tenantID, eventID types.ID) (*Event, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+eventColumns+` FROM affil.commission_events WHERE tenant_id = $1 AND id = $2`,
		tenantID, eventID,
	)

	ev, err := scanEvent(row)
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("commission event", eventID.String())
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get commission event")
	}
	return ev, nil
}

// GetBySourceEvent returns the entry for a source key, or (nil, nil)
func (s *PostgresStore) GetBySourceEvent(ctx context.Context, tenantID types.ID, sourceEventID string) (*Event, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+eventColumns+` FROM affil.commission_events WHERE tenant_id = $1 AND source_event_id = $2`,
		tenantID, sourceEventID,
	)

	ev, err := scanEvent(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get commission event by source")
	}
	return ev, nil
}

// ListByAffiliate returns an affiliate's ledger entries, newest first
func (s *PostgresStore) ListByAffiliate(ctx context.Context, tenantID, affiliateID types.ID, limit int) ([]Event, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	rows, err := s.pool.Query(ctx,
		`SELECT `+eventColumns+` FROM affil.commission_events
		WHERE tenant_id = $1 AND affiliate_id = $2
		ORDER BY occurred_at DESC
		LIMIT $3`,
		tenantID, affiliateID, limit,
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list commission events")
	}
	defer rows.Close()

	return collectEvents(rows)
}

// GetAffiliate reads the affiliate row with its lifetime counters
func (s *PostgresStore) GetAffiliate(ctx context.Context, tenantID, affiliateID types.ID) (*affiliate.Affiliate, error) {
	query := `
		SELECT id, tenant_id, display_name, status,
			lifetime_conversions, lifetime_revenue_cents,
			current_tier_id, current_tier_level, tier_qualified_at,
			created_at, updated_at
		FROM affil.affiliates
		WHERE tenant_id = $1 AND id = $2`

	a := &affiliate.Affiliate{}
	err := s.pool.QueryRow(ctx, query, tenantID, affiliateID).Scan(
		&a.ID, &a.TenantID, &a.DisplayName, &a.Status,
		&a.LifetimeConversions, &a.LifetimeRevenueCents,
		&a.CurrentTierID, &a.CurrentTierLevel, &a.TierQualifiedAt,
		&a.CreatedAt, &a.UpdatedAt,
	)

	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("affiliate", affiliateID.String())
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get affiliate")
	}

	return a, nil
}

// ListActiveAffiliates returns all active affiliates of a tenant
func (s *PostgresStore) ListActiveAffiliates(ctx context.Context, tenantID types.ID) ([]affiliate.Affiliate, error) {
	query := `
		SELECT id, tenant_id, display_name, status,
			lifetime_conversions, lifetime_revenue_cents,
			current_tier_id, current_tier_level, tier_qualified_at,
			created_at, updated_at
		FROM affil.affiliates
		WHERE tenant_id = $1 AND status = 'active'`

	rows, err := s.pool.Query(ctx, query, tenantID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list affiliates")
	}
	defer rows.Close()

	var affiliates []affiliate.Affiliate
	for rows.Next() {
		var a affiliate.Affiliate
		err := rows.Scan(
			&a.ID, &a.TenantID, &a.DisplayName, &a.Status,
			&a.LifetimeConversions, &a.LifetimeRevenueCents,
			&a.CurrentTierID, &a.CurrentTierLevel, &a.TierQualifiedAt,
			&a.CreatedAt, &a.UpdatedAt,
		)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan affiliate")
		}
		affiliates = append(affiliates, a)
	}

	return affiliates, nil
}

// ApplyTierChange performs the upgrade read-modify-write. The compare-and-set
// on current_tier_level plus serializable isolation guarantee that two
// concurrent upgrades for the same affiliate commit at most once, and the
// bonus insert's deterministic key guarantees at most one bonus per tier.
func (s *PostgresStore) ApplyTierChange(ctx context.Context, tenantID, affiliateID, tierID types.ID, newLevel, prevLevel int32, qualifiedAt time.Time, bonus *Event) (bool, bool, error) {
	applied := false
	bonusCreated := false

	err := s.serializable(ctx, func(tx pgx.Tx) error {
		applied = false
		bonusCreated = false

		tag, err := tx.Exec(ctx, `
			UPDATE affil.affiliates SET
				current_tier_id = $3, current_tier_level = $4,
				tier_qualified_at = $5, updated_at = NOW()
			WHERE tenant_id = $1 AND id = $2 AND current_tier_level = $6`,
			tenantID, affiliateID, tierID, newLevel, qualifiedAt, prevLevel,
		)
		if err != nil {
			return errors.Wrap(err, "failed to update tier reference")
		}
		if tag.RowsAffected() == 0 {
			return nil
		}
		applied = true

		if bonus == nil {
			return nil
		}

		tag, err = tx.Exec(ctx, `
			INSERT INTO affil.commission_events (
				id, tenant_id, affiliate_id, plan_id, source_event_id,
				event_amount_cents, tier_bonus_cents, commission_amount_cents,
				attribution_model, status, occurred_at, created_at, approved_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
			ON CONFLICT (tenant_id, source_event_id) DO NOTHING`,
			bonus.ID, bonus.TenantID, bonus.AffiliateID, bonus.PlanID, bonus.SourceEventID,
			bonus.EventAmountCents, bonus.TierBonusCents, bonus.CommissionAmountCents,
			bonus.Model, bonus.Status, bonus.OccurredAt, bonus.CreatedAt, bonus.ApprovedAt,
		)
		if err != nil {
			return errors.Wrap(err, "failed to insert tier bonus")
		}
		bonusCreated = tag.RowsAffected() == 1

		return nil
	})
	if err != nil {
		return false, false, err
	}

	return applied, bonusCreated, nil
}

// SetTier force-sets the tier reference, used by maintenance recomputation
func (s *PostgresStore) SetTier(ctx context.Context, tenantID, affiliateID types.ID, tierID *types.ID, level int32, qualifiedAt time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE affil.affiliates SET
			current_tier_id = $3, current_tier_level = $4,
			tier_qualified_at = $5, updated_at = NOW()
		WHERE tenant_id = $1 AND id = $2`,
		tenantID, affiliateID, tierID, level, qualifiedAt,
	)
	if err != nil {
		return errors.Wrap(err, "failed to set tier")
	}
	if tag.RowsAffected() == 0 {
		return errors.NotFound("affiliate", affiliateID.String())
	}
	return nil
}

// ListMatured returns PENDING events whose hold has elapsed
func (s *PostgresStore) ListMatured(ctx context.Context, now time.Time, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = maturationBatchSize
	}

	rows, err := s.pool.Query(ctx,
		`SELECT `+eventColumns+` FROM affil.commission_events
		WHERE status = 'PENDING' AND hold_until IS NOT NULL AND hold_until <= $1
		ORDER BY hold_until
		LIMIT $2`,
		now, limit,
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list matured events")
	}
	defer rows.Close()

	return collectEvents(rows)
}

// Approve transitions PENDING -> APPROVED
func (s *PostgresStore) Approve(ctx context.Context, tenantID, eventID types.ID, at time.Time) (*Event, error) {
	return s.transition(ctx, tenantID, eventID, StatusPending, `
		UPDATE affil.commission_events SET status = 'APPROVED', approved_at = $3
		WHERE tenant_id = $1 AND id = $2 AND status = 'PENDING'`, at)
}

// MarkPaid transitions APPROVED -> PAID
func (s *PostgresStore) MarkPaid(ctx context.Context, tenantID, eventID types.ID, at time.Time) (*Event, error) {
	return s.transition(ctx, tenantID, eventID, StatusApproved, `
		UPDATE affil.commission_events SET status = 'PAID', paid_at = $3
		WHERE tenant_id = $1 AND id = $2 AND status = 'APPROVED'`, at)
}

func (s *PostgresStore) transition(ctx context.Context, tenantID, eventID types.ID, required Status, query string, at time.Time) (*Event, error) {
	tag, err := s.pool.Exec(ctx, query, tenantID, eventID, at)
	if err != nil {
		return nil, errors.Wrap(err, "failed to transition commission event")
	}

	if tag.RowsAffected() == 0 {
		ev, err := s.GetEvent(ctx, tenantID, eventID)
		if err != nil {
			return nil, err
		}
		return nil, errors.Conflict("event is " + string(ev.Status) + ", expected " + string(required))
	}

	return s.GetEvent(ctx, tenantID, eventID)
}

// Clawback transitions to CLAWED_BACK and applies the negative delta
func (s *PostgresStore) Clawback(ctx context.Context, tenantID, eventID types.ID, reason string, at time.Time, delta CounterDelta) (*Event, error) {
	var affiliateID types.ID

	err := s.serializable(ctx, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
			UPDATE affil.commission_events SET
				status = 'CLAWED_BACK', clawback_reason = $3, clawed_back_at = $4
			WHERE tenant_id = $1 AND id = $2 AND status IN ('PENDING', 'APPROVED')
			RETURNING affiliate_id`,
			tenantID, eventID, reason, at,
		).Scan(&affiliateID)

		if err == pgx.ErrNoRows {
			return errors.Conflict("event is not in a clawable state")
		}
		if err != nil {
			return errors.Wrap(err, "failed to claw back commission event")
		}

		return applyCounterDelta(ctx, tx, tenantID, affiliateID, delta)
	})
	if err != nil {
		return nil, err
	}

	return s.GetEvent(ctx, tenantID, eventID)
}

// --- scan helpers ---

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (*Event, error) {
	ev := &Event{}
	err := row.Scan(
		&ev.ID, &ev.TenantID, &ev.AffiliateID, &ev.PlanID, &ev.SourceEventID,
		&ev.EventAmountCents, &ev.BaseCommissionCents, &ev.TierBonusCents,
		&ev.PromotionBonusCents, &ev.ProductAdjustmentCents, &ev.CommissionAmountCents,
		&ev.IsRecurring, &ev.Model, &ev.Status, &ev.ZeroReason, &ev.ClawbackReason,
		&ev.OccurredAt, &ev.HoldUntil, &ev.CreatedAt, &ev.ApprovedAt, &ev.PaidAt, &ev.ClawedBackAt,
	)
	if err != nil {
		return nil, err
	}
	return ev, nil
}

func collectEvents(rows pgx.Rows) ([]Event, error) {
	var out []Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan commission event")
		}
		out = append(out, *ev)
	}
	return out, nil
}
