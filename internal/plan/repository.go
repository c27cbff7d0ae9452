package plan

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinicaffil/platform/internal/shared/database"
	"github.com/clinicaffil/platform/internal/shared/errors"
	"github.com/clinicaffil/platform/internal/shared/types"
)

// reassignment touches two rows that must flip together
const (
	reassignAttempts = 5
	reassignBackoff  = 50 * time.Millisecond
)

// Repository provides database operations for plans, tiers, assignments and
// promotions
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new plan repository
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var _ Registry = (*Repository)(nil)

// --- Plan Operations ---

// CreatePlan inserts a plan and its tiers in one transaction
func (r *Repository) CreatePlan(ctx context.Context, p *CommissionPlan) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO affil.commission_plans (
			id, tenant_id, name, version, plan_type,
			flat_amount_cents, percent_bps,
			initial_flat_amount_cents, initial_percent_bps,
			recurring_flat_amount_cents, recurring_percent_bps,
			applies_to, hold_days, clawback_enabled,
			recurring_enabled, recurring_months
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`

	_, err = tx.Exec(ctx, query,
		p.ID, p.TenantID, p.Name, p.Version, p.PlanType,
		p.FlatAmountCents, p.PercentBps,
		p.InitialFlatAmountCents, p.InitialPercentBps,
		p.RecurringFlatAmountCents, p.RecurringPercentBps,
		p.AppliesTo, p.HoldDays, p.ClawbackEnabled,
		p.RecurringEnabled, p.RecurringMonths,
	)
	if err != nil {
		return errors.Wrap(err, "failed to create plan")
	}

	for i := range p.Tiers {
		if err := insertTier(ctx, tx, &p.Tiers[i]); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return errors.Wrap(err, "failed to commit transaction")
	}

	return nil
}

func insertTier(ctx context.Context, tx pgx.Tx, t *CommissionTier) error {
	query := `
		INSERT INTO affil.commission_tiers (
			id, plan_id, level, min_conversions, min_revenue_cents,
			rate_override_bps, flat_override_cents, bonus_cents, perks
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := tx.Exec(ctx, query,
		t.ID, t.PlanID, t.Level, t.MinConversions, t.MinRevenueCents,
		t.RateOverrideBps, t.FlatOverrideCents, t.BonusCents, t.Perks,
	)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return errors.Conflict("tier level already exists for this plan")
		}
		return errors.Wrap(err, "failed to create tier")
	}
	return nil
}

// GetPlan returns a plan with its tiers loaded
func (r *Repository) GetPlan(ctx context.Context, tenantID, planID types.ID) (*CommissionPlan, error) {
	query := `
		SELECT id, tenant_id, name, version, plan_type,
			flat_amount_cents, percent_bps,
			initial_flat_amount_cents, initial_percent_bps,
			recurring_flat_amount_cents, recurring_percent_bps,
			applies_to, hold_days, clawback_enabled,
			recurring_enabled, recurring_months,
			created_at, updated_at
		FROM affil.commission_plans
		WHERE tenant_id = $1 AND id = $2`

	p := &CommissionPlan{}
	err := r.pool.QueryRow(ctx, query, tenantID, planID).Scan(
		&p.ID, &p.TenantID, &p.Name, &p.Version, &p.PlanType,
		&p.FlatAmountCents, &p.PercentBps,
		&p.InitialFlatAmountCents, &p.InitialPercentBps,
		&p.RecurringFlatAmountCents, &p.RecurringPercentBps,
		&p.AppliesTo, &p.HoldDays, &p.ClawbackEnabled,
		&p.RecurringEnabled, &p.RecurringMonths,
		&p.CreatedAt, &p.UpdatedAt,
	)

	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("plan", planID.String())
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get plan")
	}

	tiers, err := r.listTiers(ctx, planID)
	if err != nil {
		return nil, err
	}
	p.Tiers = tiers

	return p, nil
}

func (r *Repository) listTiers(ctx context.Context, planID types.ID) ([]CommissionTier, error) {
	query := `
		SELECT id, plan_id, level, min_conversions, min_revenue_cents,
			rate_override_bps, flat_override_cents, bonus_cents, perks
		FROM affil.commission_tiers
		WHERE plan_id = $1
		ORDER BY level`

	rows, err := r.pool.Query(ctx, query, planID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list tiers")
	}
	defer rows.Close()

	var tiers []CommissionTier
	for rows.Next() {
		var t CommissionTier
		err := rows.Scan(
			&t.ID, &t.PlanID, &t.Level, &t.MinConversions, &t.MinRevenueCents,
			&t.RateOverrideBps, &t.FlatOverrideCents, &t.BonusCents, &t.Perks,
		)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan tier")
		}
		tiers = append(tiers, t)
	}

	return tiers, nil
}

// ListPlans lists all plans of a tenant, without tiers
func (r *Repository) ListPlans(ctx context.Context, tenantID types.ID) ([]CommissionPlan, error) {
	query := `
		SELECT id, tenant_id, name, version, plan_type,
			flat_amount_cents, percent_bps,
			initial_flat_amount_cents, initial_percent_bps,
			recurring_flat_amount_cents, recurring_percent_bps,
			applies_to, hold_days, clawback_enabled,
			recurring_enabled, recurring_months,
			created_at, updated_at
		FROM affil.commission_plans
		WHERE tenant_id = $1
		ORDER BY name, version DESC`

	rows, err := r.pool.Query(ctx, query, tenantID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list plans")
	}
	defer rows.Close()

	var plans []CommissionPlan
	for rows.Next() {
		var p CommissionPlan
		err := rows.Scan(
			&p.ID, &p.TenantID, &p.Name, &p.Version, &p.PlanType,
			&p.FlatAmountCents, &p.PercentBps,
			&p.InitialFlatAmountCents, &p.InitialPercentBps,
			&p.RecurringFlatAmountCents, &p.RecurringPercentBps,
			&p.AppliesTo, &p.HoldDays, &p.ClawbackEnabled,
			&p.RecurringEnabled, &p.RecurringMonths,
			&p.CreatedAt, &p.UpdatedAt,
		)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan plan")
		}
		plans = append(plans, p)
	}

	return plans, nil
}

// AddTier appends a tier to an existing plan
func (r *Repository) AddTier(ctx context.Context, tenantID types.ID, t *CommissionTier) error {
	// ensure the plan belongs to the tenant before writing
	if _, err := r.GetPlan(ctx, tenantID, t.PlanID); err != nil {
		return err
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback(ctx)

	if err := insertTier(ctx, tx, t); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return errors.Wrap(err, "failed to commit transaction")
	}

	return nil
}

// --- Assignment Operations ---

// CurrentAssignment returns the affiliate's open assignment, or (nil, nil)
// when there is none
func (r *Repository) CurrentAssignment(ctx context.Context, tenantID, affiliateID types.ID) (*PlanAssignment, error) {
	query := `
		SELECT id, tenant_id, affiliate_id, plan_id, effective_from, effective_to
		FROM affil.plan_assignments
		WHERE tenant_id = $1 AND affiliate_id = $2 AND effective_to IS NULL`

	a := &PlanAssignment{}
	err := r.pool.QueryRow(ctx, query, tenantID, affiliateID).Scan(
		&a.ID, &a.TenantID, &a.AffiliateID, &a.PlanID, &a.EffectiveFrom, &a.EffectiveTo,
	)

	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get current assignment")
	}

	return a, nil
}

// Reassign closes the affiliate's open assignment, if any, and opens a new
// one for the given plan atomically. A partial unique index on open
// assignments backstops the transaction: two concurrent reassignments can
// never leave two open rows.
func (r *Repository) Reassign(ctx context.Context, tenantID, affiliateID, planID types.ID, at time.Time) (*PlanAssignment, error) {
	assignment := &PlanAssignment{
		ID:            types.NewID(),
		TenantID:      tenantID,
		AffiliateID:   affiliateID,
		PlanID:        planID,
		EffectiveFrom: at,
	}

	err := database.Serializable(ctx, r.pool, reassignAttempts, reassignBackoff, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			UPDATE affil.plan_assignments SET effective_to = $3
			WHERE tenant_id = $1 AND affiliate_id = $2 AND effective_to IS NULL`,
			tenantID, affiliateID, at,
		)
		if err != nil {
			return errors.Wrap(err, "failed to close open assignment")
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO affil.plan_assignments (id, tenant_id, affiliate_id, plan_id, effective_from)
			VALUES ($1, $2, $3, $4, $5)`,
			assignment.ID, tenantID, affiliateID, planID, at,
		)
		if err != nil {
			return errors.Wrap(err, "failed to open assignment")
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return assignment, nil
}

// AssignmentHistory lists all assignments of an affiliate, newest first
func (r *Repository) AssignmentHistory(ctx context.Context, tenantID, affiliateID types.ID) ([]PlanAssignment, error) {
	query := `
		SELECT id, tenant_id, affiliate_id, plan_id, effective_from, effective_to
		FROM affil.plan_assignments
		WHERE tenant_id = $1 AND affiliate_id = $2
		ORDER BY effective_from DESC`

	rows, err := r.pool.Query(ctx, query, tenantID, affiliateID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list assignments")
	}
	defer rows.Close()

	var assignments []PlanAssignment
	for rows.Next() {
		var a PlanAssignment
		if err := rows.Scan(&a.ID, &a.TenantID, &a.AffiliateID, &a.PlanID, &a.EffectiveFrom, &a.EffectiveTo); err != nil {
			return nil, errors.Wrap(err, "failed to scan assignment")
		}
		assignments = append(assignments, a)
	}

	return assignments, nil
}

// --- Promotion Operations ---

// CreatePromotion inserts a promotion
func (r *Repository) CreatePromotion(ctx context.Context, p *Promotion) error {
	query := `
		INSERT INTO affil.promotions (
			id, tenant_id, name, bonus_bps, bonus_flat_cents,
			first_payment_only, starts_at, ends_at, active
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := r.pool.Exec(ctx, query,
		p.ID, p.TenantID, p.Name, p.BonusBps, p.BonusFlatCents,
		p.FirstPaymentOnly, p.StartsAt, p.EndsAt, p.Active,
	)
	if err != nil {
		return errors.Wrap(err, "failed to create promotion")
	}

	return nil
}

// ActivePromotions returns promotions live at the given instant
func (r *Repository) ActivePromotions(ctx context.Context, tenantID types.ID, at time.Time) ([]Promotion, error) {
	query := `
		SELECT id, tenant_id, name, bonus_bps, bonus_flat_cents,
			first_payment_only, starts_at, ends_at, active
		FROM affil.promotions
		WHERE tenant_id = $1 AND active = TRUE AND starts_at <= $2 AND ends_at > $2`

	rows, err := r.pool.Query(ctx, query, tenantID, at)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list promotions")
	}
	defer rows.Close()

	var promos []Promotion
	for rows.Next() {
		var p Promotion
		err := rows.Scan(
			&p.ID, &p.TenantID, &p.Name, &p.BonusBps, &p.BonusFlatCents,
			&p.FirstPaymentOnly, &p.StartsAt, &p.EndsAt, &p.Active,
		)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan promotion")
		}
		promos = append(promos, p)
	}

	return promos, nil
}

// DeactivatePromotion ends a promotion early
func (r *Repository) DeactivatePromotion(ctx context.Context, tenantID, promoID types.ID) error {
	result, err := r.pool.Exec(ctx,
		`UPDATE affil.promotions SET active = FALSE WHERE tenant_id = $1 AND id = $2`,
		tenantID, promoID,
	)
	if err != nil {
		return errors.Wrap(err, "failed to deactivate promotion")
	}

	if result.RowsAffected() == 0 {
		return errors.NotFound("promotion", promoID.String())
	}

	return nil
}
