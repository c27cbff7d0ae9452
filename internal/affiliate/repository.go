package affiliate

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinicaffil/platform/internal/shared/database"
	"github.com/clinicaffil/platform/internal/shared/errors"
	"github.com/clinicaffil/platform/internal/shared/types"
)

// Repository provides database operations for affiliates and referral codes
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new affiliate repository
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// --- Affiliate Operations ---

// Create inserts a new affiliate
func (r *Repository) Create(ctx context.Context, a *Affiliate) error {
	query := `
		INSERT INTO affil.affiliates (
			id, tenant_id, display_name, status,
			lifetime_conversions, lifetime_revenue_cents,
			current_tier_id, current_tier_level, tier_qualified_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := r.pool.Exec(ctx, query,
		a.ID, a.TenantID, a.DisplayName, a.Status,
		a.LifetimeConversions, a.LifetimeRevenueCents,
		a.CurrentTierID, a.CurrentTierLevel, a.TierQualifiedAt,
	)

	if err != nil {
		return errors.Wrap(err, "failed to create affiliate")
	}

	return nil
}

// Get retrieves an affiliate by ID scoped to a tenant
func (r *Repository) Get(ctx context.Context, tenantID, id types.ID) (*Affiliate, error) {
	query := `
		SELECT id, tenant_id, display_name, status,
			lifetime_conversions, lifetime_revenue_cents,
			current_tier_id, current_tier_level, tier_qualified_at,
			created_at, updated_at
		FROM affil.affiliates
		WHERE tenant_id = $1 AND id = $2`

	a := &Affiliate{}
	err := r.pool.QueryRow(ctx, query, tenantID, id).Scan(
		&a.ID, &a.TenantID, &a.DisplayName, &a.Status,
		&a.LifetimeConversions, &a.LifetimeRevenueCents,
		&a.CurrentTierID, &a.CurrentTierLevel, &a.TierQualifiedAt,
		&a.CreatedAt, &a.UpdatedAt,
	)

	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("affiliate", id.String())
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get affiliate")
	}

	return a, nil
}

// UpdateStatus transitions an affiliate's lifecycle status
func (r *Repository) UpdateStatus(ctx context.Context, tenantID, id types.ID, status Status) error {
	query := `
		UPDATE affil.affiliates SET status = $3, updated_at = NOW()
		WHERE tenant_id = $1 AND id = $2`

	result, err := r.pool.Exec(ctx, query, tenantID, id, status)
	if err != nil {
		return errors.Wrap(err, "failed to update affiliate status")
	}

	if result.RowsAffected() == 0 {
		return errors.NotFound("affiliate", id.String())
	}

	return nil
}

// List lists affiliates of a tenant with optional filters
func (r *Repository) List(ctx context.Context, tenantID types.ID, filter ListFilter) ([]Affiliate, int, error) {
	conditions := []string{"tenant_id = $1"}
	args := []interface{}{tenantID}
	argNum := 2

	if filter.Status != nil {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argNum))
		args = append(args, *filter.Status)
		argNum++
	}

	if filter.Search != "" {
		conditions = append(conditions, fmt.Sprintf("display_name ILIKE $%d", argNum))
		args = append(args, "%"+filter.Search+"%")
		argNum++
	}

	whereClause := "WHERE " + strings.Join(conditions, " AND ")

	// Get total count
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM affil.affiliates %s", whereClause)
	var total int
	if err := r.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, errors.Wrap(err, "failed to count affiliates")
	}

	limit := 50
	if filter.Limit > 0 && filter.Limit <= 100 {
		limit = filter.Limit
	}

	query := fmt.Sprintf(`
		SELECT id, tenant_id, display_name, status,
			lifetime_conversions, lifetime_revenue_cents,
			current_tier_id, current_tier_level, tier_qualified_at,
			created_at, updated_at
		FROM affil.affiliates
		%s
		ORDER BY display_name
		LIMIT $%d OFFSET $%d`, whereClause, argNum, argNum+1)

	args = append(args, limit, filter.Offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, errors.Wrap(err, "failed to list affiliates")
	}
	defer rows.Close()

	var affiliates []Affiliate
	for rows.Next() {
		var a Affiliate
		err := rows.Scan(
			&a.ID, &a.TenantID, &a.DisplayName, &a.Status,
			&a.LifetimeConversions, &a.LifetimeRevenueCents,
			&a.CurrentTierID, &a.CurrentTierLevel, &a.TierQualifiedAt,
			&a.CreatedAt, &a.UpdatedAt,
		)
		if err != nil {
			return nil, 0, errors.Wrap(err, "failed to scan affiliate")
		}
		affiliates = append(affiliates, a)
	}

	return affiliates, total, nil
}

// --- Referral Code Operations ---

// CreateCode issues a referral code. Code values are unique per tenant.
func (r *Repository) CreateCode(ctx context.Context, code *ReferralCode) error {
	query := `
		INSERT INTO affil.referral_codes (id, tenant_id, affiliate_id, code, active)
		VALUES ($1, $2, $3, $4, $5)`

	_, err := r.pool.Exec(ctx, query,
		code.ID, code.TenantID, code.AffiliateID, code.Code, code.Active,
	)

	if err != nil {
		if database.IsUniqueViolation(err) {
			return errors.Conflict("referral code already exists for this tenant")
		}
		return errors.Wrap(err, "failed to create referral code")
	}

	return nil
}

// GetActiveCode resolves an active referral code within a tenant
func (r *Repository) GetActiveCode(ctx context.Context, tenantID types.ID, code string) (*ReferralCode, error) {
	query := `
		SELECT id, tenant_id, affiliate_id, code, active, created_at
		FROM affil.referral_codes
		WHERE tenant_id = $1 AND code = $2 AND active = TRUE`

	rc := &ReferralCode{}
	err := r.pool.QueryRow(ctx, query, tenantID, code).Scan(
		&rc.ID, &rc.TenantID, &rc.AffiliateID, &rc.Code, &rc.Active, &rc.CreatedAt,
	)

	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("referral code", code)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get referral code")
	}

	return rc, nil
}

// ListCodes lists all codes bound to an affiliate
func (r *Repository) ListCodes(ctx context.Context, tenantID, affiliateID types.ID) ([]ReferralCode, error) {
	query := `
		SELECT id, tenant_id, affiliate_id, code, active, created_at
		FROM affil.referral_codes
		WHERE tenant_id = $1 AND affiliate_id = $2
		ORDER BY created_at DESC`

	rows, err := r.pool.Query(ctx, query, tenantID, affiliateID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list referral codes")
	}
	defer rows.Close()

	var codes []ReferralCode
	for rows.Next() {
		var rc ReferralCode
		if err := rows.Scan(&rc.ID, &rc.TenantID, &rc.AffiliateID, &rc.Code, &rc.Active, &rc.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "failed to scan referral code")
		}
		codes = append(codes, rc)
	}

	return codes, nil
}

// DeactivateCode retires a code without deleting its attribution history
func (r *Repository) DeactivateCode(ctx context.Context, tenantID, codeID types.ID) error {
	result, err := r.pool.Exec(ctx,
		`UPDATE affil.referral_codes SET active = FALSE WHERE tenant_id = $1 AND id = $2`,
		tenantID, codeID,
	)
	if err != nil {
		return errors.Wrap(err, "failed to deactivate referral code")
	}

	if result.RowsAffected() == 0 {
		return errors.NotFound("referral code", codeID.String())
	}

	return nil
}
