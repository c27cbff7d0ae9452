package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path"},
	)

	// Engine metrics
	commissionEventsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "commission_events_created_total",
			Help: "Commission events persisted, by attribution model and initial status",
		},
		[]string{"model", "status"},
	)

	commissionCents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "commission_cents_total",
			Help: "Total commission cents recorded, by attribution model",
		},
		[]string{"model"},
	)

	zeroCommissions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "commission_zero_events_total",
			Help: "Zero-amount commission events, by reason",
		},
		[]string{"reason"},
	)

	duplicateDeliveries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "commission_duplicate_deliveries_total",
			Help: "Payment event deliveries resolved to an existing commission event",
		},
	)

	clawbacks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "commission_clawbacks_total",
			Help: "Commission events transitioned to CLAWED_BACK",
		},
	)

	approvals = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "commission_approvals_total",
			Help: "PENDING commission events matured to APPROVED",
		},
	)

	tierUpgrades = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tier_upgrades_total",
			Help: "Affiliate tier upgrades recognized",
		},
	)

	tierBonuses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tier_bonuses_awarded_total",
			Help: "One-time tier bonus events created",
		},
	)

	touchesRecorded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "attribution_touches_total",
			Help: "Referral touches recorded",
		},
	)

	conversionsRecorded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "attribution_conversions_total",
			Help: "Touches marked converted",
		},
	)

	suppressedSlices = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "report_suppressed_slices_total",
			Help: "Reporting slices withheld by small-number suppression",
		},
	)
)

// RecordCommissionEvent counts a persisted commission event.
func RecordCommissionEvent(model, status string, cents int64) {
	commissionEventsCreated.WithLabelValues(model, status).Inc()
	if cents > 0 {
		commissionCents.WithLabelValues(model).Add(float64(cents))
	}
}

// RecordZeroCommission counts a zero-amount event by reason.
func RecordZeroCommission(reason string) {
	zeroCommissions.WithLabelValues(reason).Inc()
}

// RecordDuplicateDelivery counts a redelivered payment event.
func RecordDuplicateDelivery() { duplicateDeliveries.Inc() }

// RecordClawback counts a clawback.
func RecordClawback() { clawbacks.Inc() }

// RecordApproval counts a hold-maturation approval.
func RecordApproval() { approvals.Inc() }

// RecordTierUpgrade counts a tier upgrade, and the bonus if one was awarded.
func RecordTierUpgrade(bonusAwarded bool) {
	tierUpgrades.Inc()
	if bonusAwarded {
		tierBonuses.Inc()
	}
}

// RecordTouch counts a referral touch.
func RecordTouch() { touchesRecorded.Inc() }

// RecordConversion counts a conversion mark.
func RecordConversion() { conversionsRecorded.Inc() }

// RecordSuppressedSlice counts a withheld reporting slice.
func RecordSuppressedSlice() { suppressedSlices.Inc() }

// Handler returns the prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware instruments HTTP requests.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		httpRequestsTotal.WithLabelValues(r.Method, r.URL.Path, strconv.Itoa(wrapped.status)).Inc()
		httpRequestDuration.WithLabelValues(r.Method, r.URL.Path).Observe(time.Since(start).Seconds())
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
