package commission

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/clinicaffil/platform/internal/attribution"
	"github.com/clinicaffil/platform/internal/shared/auth"
	"github.com/clinicaffil/platform/internal/shared/errors"
	"github.com/clinicaffil/platform/internal/shared/types"
)

// Handler provides the payment webhook and the admin ledger surface
type Handler struct {
	engine  *Engine
	tiers   *TierService
	touches attribution.Store
	log     zerolog.Logger
}

// NewHandler creates a new commission handler
func NewHandler(engine *Engine, tiers *TierService, touches attribution.Store, log zerolog.Logger) *Handler {
	return &Handler{engine: engine, tiers: tiers, touches: touches, log: log}
}

// WebhookRoutes registers the payment-source webhook
func (h *Handler) WebhookRoutes() chi.Router {
	r := chi.NewRouter()
	r.Post("/payments", h.PaymentEvent)
	return r
}

// Routes registers the admin ledger routes
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/affiliate/{affiliateID}", h.AffiliateEvents)
	r.Post("/recalculate/{planID}", h.RecalculateTiers)

	r.Route("/{eventID}", func(r chi.Router) {
		r.Get("/", h.GetEvent)
		r.Post("/clawback", h.ClawbackEvent)
		r.Post("/pay", h.MarkPaid)
	})

	return r
}

// PaymentEventRequest is one delivery from the payment source. The payer is
// referenced either directly by affiliate ID or by the visitor key captured
// at attribution time.
type PaymentEventRequest struct {
	Type                  string     `json:"type"` // payment.succeeded | payment.refunded
	SourceEventID         string     `json:"source_event_id"`
	OriginalSourceEventID string     `json:"original_source_event_id,omitempty"` // refunds only
	AmountCents           int64      `json:"amount_cents"`
	IsFirstPayment        bool       `json:"is_first_payment"`
	RecurringCycle        int32      `json:"recurring_cycle,omitempty"`
	AffiliateID           *types.ID  `json:"affiliate_id,omitempty"`
	VisitorKey            string     `json:"visitor_key,omitempty"`
	Reason                string     `json:"reason,omitempty"`
	OccurredAt            *time.Time `json:"occurred_at,omitempty"`
}

// PaymentEvent handles a payment webhook delivery. Redelivery of the same
// source event is a no-op returning the stored ledger entry.
func (h *Handler) PaymentEvent(w http.ResponseWriter, r *http.Request) {
	tenantID := auth.TenantID(r)
	if tenantID.IsZero() {
		writeError(w, errors.Unauthorized("tenant context required"))
		return
	}

	var req PaymentEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.BadRequest("invalid request body"))
		return
	}

	switch req.Type {
	case "payment.succeeded":
		h.paymentSucceeded(w, r, tenantID, req)
	case "payment.refunded":
		h.paymentRefunded(w, r, tenantID, req)
	default:
		writeError(w, errors.BadRequest("unknown payment event type"))
	}
}

func (h *Handler) paymentSucceeded(w http.ResponseWriter, r *http.Request, tenantID types.ID, req PaymentEventRequest) {
	affiliateID, err := h.resolveAffiliate(r, tenantID, req)
	if err != nil {
		writeError(w, err)
		return
	}

	occurredAt := time.Now().UTC()
	if req.OccurredAt != nil {
		occurredAt = req.OccurredAt.UTC()
	}

	ev, err := h.engine.ComputeAndRecord(r.Context(), ComputeInput{
		TenantID:         tenantID,
		AffiliateID:      affiliateID,
		SourceEventID:    req.SourceEventID,
		EventAmountCents: req.AmountCents,
		IsFirstPayment:   req.IsFirstPayment,
		RecurringCycle:   req.RecurringCycle,
		OccurredAt:       occurredAt,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	// tier evaluation is a follow-on step: its failure must never undo or
	// block the committed ledger write
	var upgrade *UpgradeResult
	if ev.Model == ModelStandardConversion && ev.ZeroReason != zeroAffiliateInactive {
		upgrade, err = h.tiers.CheckAndProcessUpgrade(r.Context(), tenantID, affiliateID)
		if err != nil {
			h.log.Error().Err(err).
				Str("affiliate_id", affiliateID.String()).
				Msg("tier check failed after commission write")
			upgrade = nil
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"event": ev,
		"tier":  upgrade,
	})
}

func (h *Handler) paymentRefunded(w http.ResponseWriter, r *http.Request, tenantID types.ID, req PaymentEventRequest) {
	original := req.OriginalSourceEventID
	if original == "" {
		original = req.SourceEventID
	}

	ev, err := h.engine.store.GetBySourceEvent(r.Context(), tenantID, original)
	if err != nil {
		writeError(w, err)
		return
	}
	if ev == nil {
		writeError(w, errors.NotFound("commission event", original))
		return
	}

	reason := req.Reason
	if reason == "" {
		reason = "payment refunded"
	}

	var result *Event
	if ev.Status == StatusPaid {
		result, err = h.engine.ReversePaid(r.Context(), tenantID, ev.ID, reason)
	} else {
		result, err = h.engine.Clawback(r.Context(), tenantID, ev.ID, reason)
	}
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"event": result})
}

// resolveAffiliate maps the payment's reference back to an affiliate, via
// the attribution store when only a visitor key is given
func (h *Handler) resolveAffiliate(r *http.Request, tenantID types.ID, req PaymentEventRequest) (types.ID, error) {
	if req.AffiliateID != nil && !req.AffiliateID.IsZero() {
		return *req.AffiliateID, nil
	}
	if req.VisitorKey == "" {
		return types.ID(""), errors.BadRequest("affiliate_id or visitor_key is required")
	}

	touch, err := h.touches.ResolveVisitor(r.Context(), tenantID, req.VisitorKey)
	if err != nil {
		return types.ID(""), err
	}
	if touch == nil {
		return types.ID(""), errors.NotFound("attribution", req.VisitorKey)
	}
	return touch.AffiliateID, nil
}

// GetEvent returns a ledger entry
func (h *Handler) GetEvent(w http.ResponseWriter, r *http.Request) {
	tenantID := auth.TenantID(r)
	if tenantID.IsZero() {
		writeError(w, errors.Unauthorized("tenant context required"))
		return
	}

	eventID, err := types.ParseID(chi.URLParam(r, "eventID"))
	if err != nil {
		writeError(w, errors.BadRequest("invalid event ID"))
		return
	}

	ev, err := h.engine.store.GetEvent(r.Context(), tenantID, eventID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, ev)
}

// ClawbackRequest carries the operator-supplied clawback reason
type ClawbackRequest struct {
	Reason string `json:"reason"`
}

// ClawbackEvent voids a pending or approved ledger entry
func (h *Handler) ClawbackEvent(w http.ResponseWriter, r *http.Request) {
	tenantID := auth.TenantID(r)
	if tenantID.IsZero() {
		writeError(w, errors.Unauthorized("tenant context required"))
		return
	}

	eventID, err := types.ParseID(chi.URLParam(r, "eventID"))
	if err != nil {
		writeError(w, errors.BadRequest("invalid event ID"))
		return
	}

	var req ClawbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.BadRequest("invalid request body"))
		return
	}
	if req.Reason == "" {
		writeError(w, errors.BadRequest("reason is required"))
		return
	}

	ev, err := h.engine.Clawback(r.Context(), tenantID, eventID, req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, ev)
}

// MarkPaid records a payout-run settlement for an approved event
func (h *Handler) MarkPaid(w http.ResponseWriter, r *http.Request) {
	tenantID := auth.TenantID(r)
	if tenantID.IsZero() {
		writeError(w, errors.Unauthorized("tenant context required"))
		return
	}

	eventID, err := types.ParseID(chi.URLParam(r, "eventID"))
	if err != nil {
		writeError(w, errors.BadRequest("invalid event ID"))
		return
	}

	ev, err := h.engine.MarkPaid(r.Context(), tenantID, eventID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, ev)
}

// AffiliateEvents lists an affiliate's ledger entries
func (h *Handler) AffiliateEvents(w http.ResponseWriter, r *http.Request) {
	tenantID := auth.TenantID(r)
	if tenantID.IsZero() {
		writeError(w, errors.Unauthorized("tenant context required"))
		return
	}

	affiliateID, err := types.ParseID(chi.URLParam(r, "affiliateID"))
	if err != nil {
		writeError(w, errors.BadRequest("invalid affiliate ID"))
		return
	}

	list, err := h.engine.store.ListByAffiliate(r.Context(), tenantID, affiliateID, 100)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"data": list})
}

// RecalculateTiers runs the maintenance recomputation for a plan
func (h *Handler) RecalculateTiers(w http.ResponseWriter, r *http.Request) {
	tenantID := auth.TenantID(r)
	if tenantID.IsZero() {
		writeError(w, errors.Unauthorized("tenant context required"))
		return
	}

	planID, err := types.ParseID(chi.URLParam(r, "planID"))
	if err != nil {
		writeError(w, errors.BadRequest("invalid plan ID"))
		return
	}

	changed, err := h.tiers.RecalculateAllTiers(r.Context(), tenantID, planID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"changed": changed})
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")

	if appErr, ok := err.(*errors.AppError); ok {
		w.WriteHeader(appErr.HTTPStatus)
		json.NewEncoder(w).Encode(map[string]any{
			"error":   appErr.Message,
			"code":    appErr.Code,
			"details": appErr.Details,
		})
		return
	}

	w.WriteHeader(http.StatusInternalServerError)
	json.NewEncoder(w).Encode(map[string]string{"error": "internal server error"})
}
