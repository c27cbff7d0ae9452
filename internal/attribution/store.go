package attribution

import (
	"context"
	"time"

	"github.com/clinicaffil/platform/internal/shared/types"
)

// Store persists attribution touches. Touches are append-only; the single
// permitted mutation is setting the conversion timestamp once.
type Store interface {
	// RecordTouch appends a touch row. Every referral hit is a new row.
	RecordTouch(ctx context.Context, touch *Touch) error

	// MarkConverted sets the conversion timestamp on the most recent
	// unconverted touch for the visitor. Returns the touch and true when a
	// touch was marked; (nil, false, nil) when the visitor has no
	// unconverted touch, which is not an error.
	MarkConverted(ctx context.Context, tenantID types.ID, visitorKey string, at time.Time) (*Touch, bool, error)

	// ResolveVisitor returns the most recent touch for a visitor, preferring
	// converted touches. Used by the payment path to map a payer back to an
	// affiliate. Returns nil when the visitor was never referred.
	ResolveVisitor(ctx context.Context, tenantID types.ID, visitorKey string) (*Touch, error)

	// ListByAffiliate returns recent touches credited to an affiliate.
	ListByAffiliate(ctx context.Context, tenantID, affiliateID types.ID, limit int) ([]Touch, error)
}
