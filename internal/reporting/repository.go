package reporting

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinicaffil/platform/internal/shared/errors"
	"github.com/clinicaffil/platform/internal/shared/types"
)

// Repository aggregates the commission ledger for dashboards. All queries are
// read-only and tolerate concurrent ledger writes; a dashboard that is a few
// events behind is acceptable.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// conversionFilter matches the events that count as conversions for
// reporting: standard conversions, including zero-amount config failures,
// but not events recorded against an inactive affiliate (those never accrue).
const conversionFilter = `e.attribution_model = 'standard_conversion' AND e.zero_reason <> 'affiliate_inactive'`

// AffiliateSlices returns one aggregate row per affiliate over the window.
// Affiliates with no events in the window still appear with zero counts.
func (r *Repository) AffiliateSlices(ctx context.Context, tenantID types.ID, w Window) ([]AffiliateSlice, error) {
	query := `
		SELECT a.id, a.display_name, a.current_tier_level,
		       COUNT(e.id) FILTER (WHERE ` + conversionFilter + `) AS conversions,
		       COALESCE(SUM(e.event_amount_cents) FILTER (WHERE ` + conversionFilter + `), 0) AS revenue_cents,
		       COALESCE(SUM(e.commission_amount_cents) FILTER (WHERE e.status = 'PENDING'), 0) AS pending_cents,
		       COALESCE(SUM(e.commission_amount_cents) FILTER (WHERE e.status = 'APPROVED'), 0) AS approved_cents,
		       COALESCE(SUM(e.commission_amount_cents) FILTER (WHERE e.status = 'PAID'), 0) AS paid_cents,
		       COALESCE(SUM(e.commission_amount_cents) FILTER (WHERE e.status = 'CLAWED_BACK'), 0) AS clawed_back_cents,
		       COALESCE(SUM(e.tier_bonus_cents), 0) AS tier_bonus_cents
		FROM affil.affiliates a
		LEFT JOIN affil.commission_events e
		       ON e.affiliate_id = a.id AND e.tenant_id = a.tenant_id
		      AND e.occurred_at >= $2 AND e.occurred_at < $3
		WHERE a.tenant_id = $1
		GROUP BY a.id, a.display_name, a.current_tier_level
		ORDER BY conversions DESC, a.display_name ASC`

	rows, err := r.pool.Query(ctx, query, tenantID, w.From, w.To)
	if err != nil {
		return nil, errors.Wrap(err, "failed to aggregate affiliate slices")
	}
	defer rows.Close()

	var slices []AffiliateSlice
	for rows.Next() {
		var (
			sl                                              AffiliateSlice
			revenue, pending, approved, paid, clawed, bonus int64
		)
		if err := rows.Scan(
			&sl.AffiliateID, &sl.DisplayName, &sl.TierLevel, &sl.Conversions,
			&revenue, &pending, &approved, &paid, &clawed, &bonus,
		); err != nil {
			return nil, errors.Wrap(err, "failed to scan affiliate slice")
		}
		sl.RevenueCents = &revenue
		sl.PendingCents = &pending
		sl.ApprovedCents = &approved
		sl.PaidCents = &paid
		sl.ClawedBackCents = &clawed
		sl.TierBonusCents = &bonus
		slices = append(slices, sl)
	}
	return slices, rows.Err()
}

// TenantSummary returns the tenant-wide rollup for the window.
func (r *Repository) TenantSummary(ctx context.Context, tenantID types.ID, w Window) (*TenantSummary, error) {
	summary := &TenantSummary{TenantID: tenantID, From: w.From, To: w.To}

	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*) FILTER (WHERE status = 'active')
		FROM affil.affiliates WHERE tenant_id = $1`, tenantID,
	).Scan(&summary.ActiveAffiliates)
	if err != nil {
		return nil, errors.Wrap(err, "failed to count active affiliates")
	}

	err = r.pool.QueryRow(ctx, `
		SELECT COUNT(e.id) FILTER (WHERE `+conversionFilter+`),
		       COALESCE(SUM(e.event_amount_cents) FILTER (WHERE `+conversionFilter+`), 0),
		       COALESCE(SUM(e.commission_amount_cents) FILTER (WHERE e.status = 'PENDING'), 0),
		       COALESCE(SUM(e.commission_amount_cents) FILTER (WHERE e.status = 'APPROVED'), 0),
		       COALESCE(SUM(e.commission_amount_cents) FILTER (WHERE e.status = 'PAID'), 0),
		       COALESCE(SUM(e.commission_amount_cents) FILTER (WHERE e.status = 'CLAWED_BACK'), 0)
		FROM affil.commission_events e
		WHERE e.tenant_id = $1 AND e.occurred_at >= $2 AND e.occurred_at < $3`,
		tenantID, w.From, w.To,
	).Scan(
		&summary.Conversions, &summary.RevenueCents, &summary.PendingCents,
		&summary.ApprovedCents, &summary.PaidCents, &summary.ClawedBackCents,
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to aggregate tenant summary")
	}

	return summary, nil
}
