package attribution

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinicaffil/platform/internal/shared/errors"
	"github.com/clinicaffil/platform/internal/shared/types"
)

// Repository is the Postgres-backed attribution store
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new attribution repository
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var _ Store = (*Repository)(nil)

// RecordTouch appends a touch row
func (r *Repository) RecordTouch(ctx context.Context, touch *Touch) error {
	query := `
		INSERT INTO affil.attribution_touches (
			id, tenant_id, referral_code_id, affiliate_id,
			visitor_key, landing_page, user_agent, occurred_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := r.pool.Exec(ctx, query,
		touch.ID, touch.TenantID, touch.ReferralCodeID, touch.AffiliateID,
		touch.VisitorKey, touch.LandingPage, touch.UserAgent, touch.OccurredAt,
	)

	if err != nil {
		return errors.Wrap(err, "failed to record touch")
	}

	return nil
}

// MarkConverted converts the most recent unconverted touch for the visitor.
// The subquery plus the converted_at IS NULL guard make redelivery a no-op:
// once a touch is converted it never matches again.
func (r *Repository) MarkConverted(ctx context.Context, tenantID types.ID, visitorKey string, at time.Time) (*Touch, bool, error) {
	query := `
		UPDATE affil.attribution_touches SET converted_at = $3
		WHERE id = (
			SELECT id FROM affil.attribution_touches
			WHERE tenant_id = $1 AND visitor_key = $2 AND converted_at IS NULL
			ORDER BY occurred_at DESC
			LIMIT 1
		)
		AND converted_at IS NULL
		RETURNING id, tenant_id, referral_code_id, affiliate_id,
			visitor_key, landing_page, user_agent, occurred_at, converted_at`

	touch := &Touch{}
	err := r.pool.QueryRow(ctx, query, tenantID, visitorKey, at).Scan(
		&touch.ID, &touch.TenantID, &touch.ReferralCodeID, &touch.AffiliateID,
		&touch.VisitorKey, &touch.LandingPage, &touch.UserAgent, &touch.OccurredAt, &touch.ConvertedAt,
	)

	if err == pgx.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrap(err, "failed to mark conversion")
	}

	return touch, true, nil
}

// ResolveVisitor returns the latest touch for a visitor, converted first
func (r *Repository) ResolveVisitor(ctx context.Context, tenantID types.ID, visitorKey string) (*Touch, error) {
	query := `
		SELECT id, tenant_id, referral_code_id, affiliate_id,
			visitor_key, landing_page, user_agent, occurred_at, converted_at
		FROM affil.attribution_touches
		WHERE tenant_id = $1 AND visitor_key = $2
		ORDER BY (converted_at IS NOT NULL) DESC, occurred_at DESC
		LIMIT 1`

	touch := &Touch{}
	err := r.pool.QueryRow(ctx, query, tenantID, visitorKey).Scan(
		&touch.ID, &touch.TenantID, &touch.ReferralCodeID, &touch.AffiliateID,
		&touch.VisitorKey, &touch.LandingPage, &touch.UserAgent, &touch.OccurredAt, &touch.ConvertedAt,
	)

	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to resolve visitor")
	}

	return touch, nil
}

// ListByAffiliate returns recent touches credited to an affiliate
func (r *Repository) ListByAffiliate(ctx context.Context, tenantID, affiliateID types.ID, limit int) ([]Touch, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	query := `
		SELECT id, tenant_id, referral_code_id, affiliate_id,
			visitor_key, landing_page, user_agent, occurred_at, converted_at
		FROM affil.attribution_touches
		WHERE tenant_id = $1 AND affiliate_id = $2
		ORDER BY occurred_at DESC
		LIMIT $3`

	rows, err := r.pool.Query(ctx, query, tenantID, affiliateID, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list touches")
	}
	defer rows.Close()

	var touches []Touch
	for rows.Next() {
		var t Touch
		err := rows.Scan(
			&t.ID, &t.TenantID, &t.ReferralCodeID, &t.AffiliateID,
			&t.VisitorKey, &t.LandingPage, &t.UserAgent, &t.OccurredAt, &t.ConvertedAt,
		)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan touch")
		}
		touches = append(touches, t)
	}

	return touches, nil
}
