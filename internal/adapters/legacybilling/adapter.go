package legacybilling

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/denisenkom/go-mssqldb" // SQL Server driver
	"github.com/rs/zerolog"

	"github.com/clinicaffil/platform/internal/attribution"
	"github.com/clinicaffil/platform/internal/commission"
	"github.com/clinicaffil/platform/internal/shared/config"
	"github.com/clinicaffil/platform/internal/shared/types"
)

// Ledger records settled payments as commission events. Satisfied by
// commission.Engine.
type Ledger interface {
	ComputeAndRecord(ctx context.Context, in commission.ComputeInput) (*commission.Event, error)
}

// TierChecker runs the tier follow-on after a recorded conversion. Satisfied
// by commission.TierService.
type TierChecker interface {
	CheckAndProcessUpgrade(ctx context.Context, tenantID, affiliateID types.ID) (*commission.UpgradeResult, error)
}

// Adapter polls a legacy practice-management billing database for settled
// payments and feeds them into the commission ledger. The ledger's
// source-event idempotency makes overlapping polls safe, so the adapter
// tracks its high-water mark loosely and re-reads on restart.
type Adapter struct {
	db       *sql.DB
	config   config.LegacyBillingConfig
	tenantID types.ID
	touches  attribution.Store
	ledger   Ledger
	tiers    TierChecker
	log      zerolog.Logger

	running   bool
	mu        sync.RWMutex
	cancel    context.CancelFunc
	highWater time.Time
	wg        sync.WaitGroup
}

// settledPayment is one row from the legacy payment table.
type settledPayment struct {
	TransactionID  string
	VisitorKey     string
	AmountCents    int64
	InstallmentNum int32
	SettledAt      time.Time
}

// New creates a new legacy billing adapter
func New(cfg config.LegacyBillingConfig, touches attribution.Store, ledger Ledger, tiers TierChecker, log zerolog.Logger) (*Adapter, error) {
	tenantID, err := types.ParseID(cfg.TenantID)
	if err != nil {
		return nil, fmt.Errorf("invalid legacy billing tenant id: %w", err)
	}

	return &Adapter{
		config:   cfg,
		tenantID: tenantID,
		touches:  touches,
		ledger:   ledger,
		tiers:    tiers,
		log:      log.With().Str("component", "legacybilling").Logger(),
	}, nil
}

// Start initializes the database connection and starts polling
func (a *Adapter) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.running {
		return fmt.Errorf("adapter already running")
	}

	connStr := fmt.Sprintf("server=%s;port=%d;database=%s;user id=%s;password=%s",
		a.config.Host,
		a.config.Port,
		a.config.Database,
		a.config.User,
		a.config.Password,
	)
	if a.config.Encrypt {
		connStr += ";encrypt=true;TrustServerCertificate=true"
	}

	db, err := sql.Open("sqlserver", connStr)
	if err != nil {
		return fmt.Errorf("failed to open billing database: %w", err)
	}

	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("failed to ping billing database: %w", err)
	}

	a.db = db
	a.running = true
	// start one interval back; duplicate reads are absorbed downstream
	a.highWater = time.Now().Add(-a.config.PollInterval)

	pollCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	a.wg.Add(1)
	go a.pollLoop(pollCtx)

	a.log.Info().
		Str("table", a.config.PaymentTable).
		Dur("interval", a.config.PollInterval).
		Msg("legacy billing poller started")
	return nil
}

// Stop stops the adapter and closes the connection
func (a *Adapter) Stop(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.running {
		return nil
	}

	if a.cancel != nil {
		a.cancel()
	}

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	if a.db != nil {
		a.db.Close()
	}

	a.running = false
	return nil
}

// Health checks database connectivity
func (a *Adapter) Health(ctx context.Context) error {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if !a.running {
		return fmt.Errorf("adapter not running")
	}
	return a.db.PingContext(ctx)
}

func (a *Adapter) pollLoop(ctx context.Context) {
	defer a.wg.Done()

	ticker := time.NewTicker(a.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.mu.Lock()
			since := a.highWater
			a.mu.Unlock()

			payments, err := a.fetchSettled(ctx, since)
			if err != nil {
				a.log.Error().Err(err).Msg("failed to poll settled payments")
				continue
			}
			if len(payments) == 0 {
				continue
			}

			recorded, advanceTo := a.process(ctx, payments)

			a.mu.Lock()
			a.highWater = advanceTo
			a.mu.Unlock()

			a.log.Info().
				Int("fetched", len(payments)).
				Int("recorded", recorded).
				Msg("settled payments processed")
		}
	}
}

// fetchSettled reads settled payments after the high-water mark, oldest
// first. InstallmentNumber is 1 for the first charge of a payment plan.
func (a *Adapter) fetchSettled(ctx context.Context, since time.Time) ([]settledPayment, error) {
	query := fmt.Sprintf(`
		SELECT TOP 500
			TransactionID,
			PatientRef,
			AmountCents,
			InstallmentNumber,
			SettledAt
		FROM %s
		WHERE SettledAt > @since
		ORDER BY SettledAt ASC
	`, a.config.PaymentTable)

	rows, err := a.db.QueryContext(ctx, query, sql.Named("since", since))
	if err != nil {
		return nil, fmt.Errorf("failed to query settled payments: %w", err)
	}
	defer rows.Close()

	var payments []settledPayment
	for rows.Next() {
		var p settledPayment
		if err := rows.Scan(&p.TransactionID, &p.VisitorKey, &p.AmountCents, &p.InstallmentNum, &p.SettledAt); err != nil {
			return nil, fmt.Errorf("failed to scan settled payment: %w", err)
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

// process resolves each payment's referral and records it. Unattributed
// payments are skipped silently. Per-payment failures are logged and do not
// stop the batch; the returned high-water mark stops just short of the first
// failure so the next poll re-reads it, duplicates downstream are no-ops.
func (a *Adapter) process(ctx context.Context, payments []settledPayment) (int, time.Time) {
	recorded := 0
	advance := payments[len(payments)-1].SettledAt
	failed := false
	fail := func(p settledPayment) {
		if !failed {
			advance = p.SettledAt.Add(-time.Millisecond)
			failed = true
		}
	}

	for _, p := range payments {
		touch, err := a.touches.ResolveVisitor(ctx, a.tenantID, p.VisitorKey)
		if err != nil {
			a.log.Error().Err(err).Str("transaction_id", p.TransactionID).Msg("attribution lookup failed")
			fail(p)
			continue
		}
		if touch == nil {
			continue // not referred
		}

		ev, err := a.ledger.ComputeAndRecord(ctx, commission.ComputeInput{
			TenantID:         a.tenantID,
			AffiliateID:      touch.AffiliateID,
			SourceEventID:    p.TransactionID,
			EventAmountCents: p.AmountCents,
			IsFirstPayment:   p.InstallmentNum <= 1,
			RecurringCycle:   p.InstallmentNum,
			OccurredAt:       p.SettledAt,
		})
		if err != nil {
			a.log.Error().Err(err).Str("transaction_id", p.TransactionID).Msg("failed to record settled payment")
			fail(p)
			continue
		}
		recorded++

		if ev.Model != commission.ModelStandardConversion {
			continue
		}
		if _, err := a.tiers.CheckAndProcessUpgrade(ctx, a.tenantID, ev.AffiliateID); err != nil {
			a.log.Error().Err(err).Str("affiliate_id", ev.AffiliateID.String()).Msg("tier check failed")
		}
	}
	return recorded, advance
}
