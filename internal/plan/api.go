package plan

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/clinicaffil/platform/internal/shared/auth"
	"github.com/clinicaffil/platform/internal/shared/errors"
	"github.com/clinicaffil/platform/internal/shared/types"
)

// Handler provides the tenant-admin HTTP surface for plans, tiers,
// assignments and promotions
type Handler struct {
	repo *Repository
}

// NewHandler creates a new plan handler
func NewHandler(repo *Repository) *Handler {
	return &Handler{repo: repo}
}

// Routes registers the plan routes
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/", h.ListPlans)
	r.Post("/", h.CreatePlan)

	r.Route("/{planID}", func(r chi.Router) {
		r.Get("/", h.GetPlan)
		r.Post("/tiers", h.AddTier)
	})

	return r
}

// AssignmentRoutes registers the assignment routes, mounted per affiliate
func (h *Handler) AssignmentRoutes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.AssignmentHistory)
	r.Post("/", h.Reassign)
	return r
}

// PromotionRoutes registers the promotion routes
func (h *Handler) PromotionRoutes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.ListActivePromotions)
	r.Post("/", h.CreatePromotion)
	r.Delete("/{promotionID}", h.DeactivatePromotion)
	return r
}

// CreatePlanRequest is the admin request to create a plan with its tiers
type CreatePlanRequest struct {
	Name                     string    `json:"name"`
	PlanType                 PlanType  `json:"plan_type"`
	FlatAmountCents          *int64    `json:"flat_amount_cents,omitempty"`
	PercentBps               *int32    `json:"percent_bps,omitempty"`
	InitialFlatAmountCents   *int64    `json:"initial_flat_amount_cents,omitempty"`
	InitialPercentBps        *int32    `json:"initial_percent_bps,omitempty"`
	RecurringFlatAmountCents *int64    `json:"recurring_flat_amount_cents,omitempty"`
	RecurringPercentBps      *int32    `json:"recurring_percent_bps,omitempty"`
	AppliesTo                AppliesTo `json:"applies_to"`
	HoldDays                 int32     `json:"hold_days"`
	ClawbackEnabled          *bool     `json:"clawback_enabled,omitempty"`
	RecurringEnabled         bool      `json:"recurring_enabled"`
	RecurringMonths          *int32    `json:"recurring_months,omitempty"`
	Tiers                    []TierRequest `json:"tiers,omitempty"`
}

// TierRequest describes one tier inside a plan create request
type TierRequest struct {
	Level             int32    `json:"level"`
	MinConversions    int64    `json:"min_conversions"`
	MinRevenueCents   int64    `json:"min_revenue_cents"`
	RateOverrideBps   *int32   `json:"rate_override_bps,omitempty"`
	FlatOverrideCents *int64   `json:"flat_override_cents,omitempty"`
	BonusCents        int64    `json:"bonus_cents"`
	Perks             []string `json:"perks,omitempty"`
}

// CreatePlan creates a plan with its tiers
func (h *Handler) CreatePlan(w http.ResponseWriter, r *http.Request) {
	tenantID := auth.TenantID(r)
	if tenantID.IsZero() {
		writeError(w, errors.Unauthorized("tenant context required"))
		return
	}

	var req CreatePlanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.BadRequest("invalid request body"))
		return
	}

	appliesTo := req.AppliesTo
	if appliesTo == "" {
		appliesTo = AppliesToAllPayments
	}
	clawbackEnabled := true
	if req.ClawbackEnabled != nil {
		clawbackEnabled = *req.ClawbackEnabled
	}

	p := &CommissionPlan{
		ID:                       types.NewID(),
		TenantID:                 tenantID,
		Name:                     req.Name,
		Version:                  1,
		PlanType:                 req.PlanType,
		FlatAmountCents:          req.FlatAmountCents,
		PercentBps:               req.PercentBps,
		InitialFlatAmountCents:   req.InitialFlatAmountCents,
		InitialPercentBps:        req.InitialPercentBps,
		RecurringFlatAmountCents: req.RecurringFlatAmountCents,
		RecurringPercentBps:      req.RecurringPercentBps,
		AppliesTo:                appliesTo,
		HoldDays:                 req.HoldDays,
		ClawbackEnabled:          clawbackEnabled,
		RecurringEnabled:         req.RecurringEnabled,
		RecurringMonths:          req.RecurringMonths,
	}
	for _, tr := range req.Tiers {
		p.Tiers = append(p.Tiers, CommissionTier{
			ID:                types.NewID(),
			PlanID:            p.ID,
			Level:             tr.Level,
			MinConversions:    tr.MinConversions,
			MinRevenueCents:   tr.MinRevenueCents,
			RateOverrideBps:   tr.RateOverrideBps,
			FlatOverrideCents: tr.FlatOverrideCents,
			BonusCents:        tr.BonusCents,
			Perks:             tr.Perks,
		})
	}

	if err := p.Validate(); err != nil {
		writeError(w, errors.BadRequest(err.Error()))
		return
	}

	if err := h.repo.CreatePlan(r.Context(), p); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, p)
}

// GetPlan returns a plan with its tiers
func (h *Handler) GetPlan(w http.ResponseWriter, r *http.Request) {
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

	p, err := h.repo.GetPlan(r.Context(), tenantID, planID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, p)
}

// ListPlans lists the tenant's plans
func (h *Handler) ListPlans(w http.ResponseWriter, r *http.Request) {
	tenantID := auth.TenantID(r)
	if tenantID.IsZero() {
		writeError(w, errors.Unauthorized("tenant context required"))
		return
	}

	plans, err := h.repo.ListPlans(r.Context(), tenantID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"data": plans})
}

// AddTier appends a tier to an existing plan
func (h *Handler) AddTier(w http.ResponseWriter, r *http.Request) {
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

	var req TierRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.BadRequest("invalid request body"))
		return
	}

	tier := &CommissionTier{
		ID:                types.NewID(),
		PlanID:            planID,
		Level:             req.Level,
		MinConversions:    req.MinConversions,
		MinRevenueCents:   req.MinRevenueCents,
		RateOverrideBps:   req.RateOverrideBps,
		FlatOverrideCents: req.FlatOverrideCents,
		BonusCents:        req.BonusCents,
		Perks:             req.Perks,
	}
	if err := tier.Validate(); err != nil {
		writeError(w, errors.BadRequest(err.Error()))
		return
	}

	if err := h.repo.AddTier(r.Context(), tenantID, tier); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, tier)
}

// --- Assignment Handlers ---

// ReassignRequest binds an affiliate to a plan
type ReassignRequest struct {
	PlanID types.ID `json:"plan_id"`
}

// Reassign closes the affiliate's current assignment and opens a new one
func (h *Handler) Reassign(w http.ResponseWriter, r *http.Request) {
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

	var req ReassignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.BadRequest("invalid request body"))
		return
	}

	// reject assignments to plans of other tenants
	if _, err := h.repo.GetPlan(r.Context(), tenantID, req.PlanID); err != nil {
		writeError(w, err)
		return
	}

	assignment, err := h.repo.Reassign(r.Context(), tenantID, affiliateID, req.PlanID, time.Now().UTC())
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, assignment)
}

// AssignmentHistory lists all assignments of an affiliate
func (h *Handler) AssignmentHistory(w http.ResponseWriter, r *http.Request) {
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

	assignments, err := h.repo.AssignmentHistory(r.Context(), tenantID, affiliateID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"data": assignments})
}

// --- Promotion Handlers ---

// CreatePromotionRequest is the admin request to create a promotion
type CreatePromotionRequest struct {
	Name             string    `json:"name"`
	BonusBps         *int32    `json:"bonus_bps,omitempty"`
	BonusFlatCents   *int64    `json:"bonus_flat_cents,omitempty"`
	FirstPaymentOnly bool      `json:"first_payment_only"`
	StartsAt         time.Time `json:"starts_at"`
	EndsAt           time.Time `json:"ends_at"`
}

// CreatePromotion creates a promotion
func (h *Handler) CreatePromotion(w http.ResponseWriter, r *http.Request) {
	tenantID := auth.TenantID(r)
	if tenantID.IsZero() {
		writeError(w, errors.Unauthorized("tenant context required"))
		return
	}

	var req CreatePromotionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.BadRequest("invalid request body"))
		return
	}

	p := &Promotion{
		ID:               types.NewID(),
		TenantID:         tenantID,
		Name:             req.Name,
		BonusBps:         req.BonusBps,
		BonusFlatCents:   req.BonusFlatCents,
		FirstPaymentOnly: req.FirstPaymentOnly,
		StartsAt:         req.StartsAt,
		EndsAt:           req.EndsAt,
		Active:           true,
	}
	if err := p.Validate(); err != nil {
		writeError(w, errors.BadRequest(err.Error()))
		return
	}

	if err := h.repo.CreatePromotion(r.Context(), p); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, p)
}

// ListActivePromotions lists promotions currently live
func (h *Handler) ListActivePromotions(w http.ResponseWriter, r *http.Request) {
	tenantID := auth.TenantID(r)
	if tenantID.IsZero() {
		writeError(w, errors.Unauthorized("tenant context required"))
		return
	}

	promos, err := h.repo.ActivePromotions(r.Context(), tenantID, time.Now().UTC())
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"data": promos})
}

// DeactivatePromotion ends a promotion early
func (h *Handler) DeactivatePromotion(w http.ResponseWriter, r *http.Request) {
	tenantID := auth.TenantID(r)
	if tenantID.IsZero() {
		writeError(w, errors.Unauthorized("tenant context required"))
		return
	}

	promoID, err := types.ParseID(chi.URLParam(r, "promotionID"))
	if err != nil {
		writeError(w, errors.BadRequest("invalid promotion ID"))
		return
	}

	if err := h.repo.DeactivatePromotion(r.Context(), tenantID, promoID); err != nil {
		writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
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
