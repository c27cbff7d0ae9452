package affiliate

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/clinicaffil/platform/internal/shared/auth"
	"github.com/clinicaffil/platform/internal/shared/errors"
	"github.com/clinicaffil/platform/internal/shared/events"
	"github.com/clinicaffil/platform/internal/shared/types"
)

// Handler provides HTTP handlers for the affiliate module
type Handler struct {
	repo *Repository
	bus  events.Publisher
}

// NewHandler creates a new affiliate handler
func NewHandler(repo *Repository, bus events.Publisher) *Handler {
	return &Handler{repo: repo, bus: bus}
}

// Routes registers the affiliate routes
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/", h.List)
	r.Post("/", h.Create)

	r.Route("/{affiliateID}", func(r chi.Router) {
		r.Get("/", h.Get)
		r.Post("/pause", h.Pause)
		r.Post("/resume", h.Resume)
		r.Post("/terminate", h.Terminate)

		r.Route("/codes", func(r chi.Router) {
			r.Get("/", h.ListCodes)
			r.Post("/", h.CreateCode)
			r.Delete("/{codeID}", h.DeactivateCode)
		})
	})

	return r
}

// List lists affiliates of the caller's tenant
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	tenantID := auth.TenantID(r)
	if tenantID.IsZero() {
		writeError(w, errors.Unauthorized("tenant context required"))
		return
	}

	filter := ListFilter{
		Search: r.URL.Query().Get("search"),
	}
	if s := r.URL.Query().Get("status"); s != "" {
		status := Status(s)
		filter.Status = &status
	}

	affiliates, total, err := h.repo.List(r.Context(), tenantID, filter)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data":  affiliates,
		"total": total,
	})
}

// Get gets an affiliate by ID
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	tenantID := auth.TenantID(r)
	if tenantID.IsZero() {
		writeError(w, errors.Unauthorized("tenant context required"))
		return
	}

	id, err := types.ParseID(chi.URLParam(r, "affiliateID"))
	if err != nil {
		writeError(w, errors.BadRequest("invalid affiliate ID"))
		return
	}

	a, err := h.repo.Get(r.Context(), tenantID, id)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, a)
}

// Create registers a new affiliate
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	tenantID := auth.TenantID(r)
	if tenantID.IsZero() {
		writeError(w, errors.Unauthorized("tenant context required"))
		return
	}

	var req CreateAffiliateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.BadRequest("invalid request body"))
		return
	}

	a, err := New(tenantID, req.DisplayName)
	if err != nil {
		writeError(w, errors.BadRequest(err.Error()))
		return
	}

	if err := h.repo.Create(r.Context(), a); err != nil {
		writeError(w, err)
		return
	}

	if h.bus != nil {
		h.bus.Publish(r.Context(), events.New("affiliate.created", tenantID, map[string]any{
			"affiliate_id": a.ID,
			"display_name": a.DisplayName,
		}))
	}

	writeJSON(w, http.StatusCreated, a)
}

// Pause suspends an affiliate; conversions stop accruing commission
func (h *Handler) Pause(w http.ResponseWriter, r *http.Request) {
	h.setStatus(w, r, StatusPaused, "affiliate.paused")
}

// Resume reactivates a paused affiliate
func (h *Handler) Resume(w http.ResponseWriter, r *http.Request) {
	h.setStatus(w, r, StatusActive, "affiliate.resumed")
}

// Terminate permanently closes an affiliate relationship
func (h *Handler) Terminate(w http.ResponseWriter, r *http.Request) {
	h.setStatus(w, r, StatusTerminated, "affiliate.terminated")
}

func (h *Handler) setStatus(w http.ResponseWriter, r *http.Request, status Status, eventType string) {
	tenantID := auth.TenantID(r)
	if tenantID.IsZero() {
		writeError(w, errors.Unauthorized("tenant context required"))
		return
	}

	id, err := types.ParseID(chi.URLParam(r, "affiliateID"))
	if err != nil {
		writeError(w, errors.BadRequest("invalid affiliate ID"))
		return
	}

	current, err := h.repo.Get(r.Context(), tenantID, id)
	if err != nil {
		writeError(w, err)
		return
	}
	if current.Status == StatusTerminated {
		writeError(w, errors.Conflict("affiliate is terminated"))
		return
	}

	if err := h.repo.UpdateStatus(r.Context(), tenantID, id, status); err != nil {
		writeError(w, err)
		return
	}

	if h.bus != nil {
		h.bus.Publish(r.Context(), events.New(eventType, tenantID, map[string]any{
			"affiliate_id": id,
		}))
	}

	current.Status = status
	writeJSON(w, http.StatusOK, current)
}

// --- Referral Code Handlers ---

// ListCodes lists referral codes of an affiliate
func (h *Handler) ListCodes(w http.ResponseWriter, r *http.Request) {
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

	codes, err := h.repo.ListCodes(r.Context(), tenantID, affiliateID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"data": codes})
}

// CreateCode issues a referral code for an affiliate
func (h *Handler) CreateCode(w http.ResponseWriter, r *http.Request) {
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

	var req CreateCodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.BadRequest("invalid request body"))
		return
	}

	// Codes may only be issued against affiliates that can still earn.
	a, err := h.repo.Get(r.Context(), tenantID, affiliateID)
	if err != nil {
		writeError(w, err)
		return
	}
	if a.Status == StatusTerminated {
		writeError(w, errors.Conflict("cannot issue codes for a terminated affiliate"))
		return
	}

	code, err := NewReferralCode(tenantID, affiliateID, req.Code)
	if err != nil {
		writeError(w, errors.BadRequest(err.Error()))
		return
	}

	if err := h.repo.CreateCode(r.Context(), code); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, code)
}

// DeactivateCode retires a referral code
func (h *Handler) DeactivateCode(w http.ResponseWriter, r *http.Request) {
	tenantID := auth.TenantID(r)
	if tenantID.IsZero() {
		writeError(w, errors.Unauthorized("tenant context required"))
		return
	}

	codeID, err := types.ParseID(chi.URLParam(r, "codeID"))
	if err != nil {
		writeError(w, errors.BadRequest("invalid code ID"))
		return
	}

	if err := h.repo.DeactivateCode(r.Context(), tenantID, codeID); err != nil {
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
