package attribution

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/clinicaffil/platform/internal/affiliate"
	"github.com/clinicaffil/platform/internal/shared/auth"
	"github.com/clinicaffil/platform/internal/shared/errors"
	"github.com/clinicaffil/platform/internal/shared/metrics"
	"github.com/clinicaffil/platform/internal/shared/types"
)

// CodeResolver maps a referral code string to its issued code record.
// Satisfied by affiliate.Repository and affiliate.MemoryDirectory.
type CodeResolver interface {
	GetActiveCode(ctx context.Context, tenantID types.ID, code string) (*affiliate.ReferralCode, error)
}

// Handler provides the public capture endpoints. These are unauthenticated
// (called from tenant landing pages) and rate-limited at the router.
type Handler struct {
	store Store
	codes CodeResolver
}

// NewHandler creates a new attribution handler
func NewHandler(store Store, codes CodeResolver) *Handler {
	return &Handler{store: store, codes: codes}
}

// Routes registers the attribution routes
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/touch", h.RecordTouch)
	r.Post("/conversion", h.RecordConversion)
	return r
}

// RecordTouch captures a referral hit. Every call appends a new touch.
func (h *Handler) RecordTouch(w http.ResponseWriter, r *http.Request) {
	tenantID := auth.TenantID(r)
	if tenantID.IsZero() {
		writeError(w, errors.BadRequest("tenant is required"))
		return
	}

	var req RecordTouchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.BadRequest("invalid request body"))
		return
	}
	if req.ReferralCode == "" {
		writeError(w, errors.BadRequest("referral code is required"))
		return
	}
	if err := req.Visitor.Validate(); err != nil {
		writeError(w, errors.BadRequest(err.Error()))
		return
	}

	code, err := h.codes.GetActiveCode(r.Context(), tenantID, req.ReferralCode)
	if err != nil {
		writeError(w, err)
		return
	}

	userAgent := req.Visitor.UserAgent
	if userAgent == "" {
		userAgent = r.UserAgent()
	}

	touch := &Touch{
		ID:             types.NewID(),
		TenantID:       tenantID,
		ReferralCodeID: code.ID,
		AffiliateID:    code.AffiliateID,
		VisitorKey:     req.Visitor.VisitorKey,
		LandingPage:    req.Visitor.LandingPage,
		UserAgent:      userAgent,
		OccurredAt:     time.Now().UTC(),
	}

	if err := h.store.RecordTouch(r.Context(), touch); err != nil {
		writeError(w, err)
		return
	}

	metrics.RecordTouch()

	writeJSON(w, http.StatusCreated, map[string]any{"touch_id": touch.ID})
}

// RecordConversion marks the visitor's latest unconverted touch as converted.
// A visitor with no referral history is a no-op, not an error.
func (h *Handler) RecordConversion(w http.ResponseWriter, r *http.Request) {
	tenantID := auth.TenantID(r)
	if tenantID.IsZero() {
		writeError(w, errors.BadRequest("tenant is required"))
		return
	}

	var req RecordConversionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.BadRequest("invalid request body"))
		return
	}
	if err := req.Visitor.Validate(); err != nil {
		writeError(w, errors.BadRequest(err.Error()))
		return
	}

	convertedAt := time.Now().UTC()
	if req.ConvertedAt != nil {
		convertedAt = req.ConvertedAt.UTC()
	}

	touch, marked, err := h.store.MarkConverted(r.Context(), tenantID, req.Visitor.VisitorKey, convertedAt)
	if err != nil {
		writeError(w, err)
		return
	}

	if !marked {
		writeJSON(w, http.StatusOK, map[string]any{"attributed": false})
		return
	}

	metrics.RecordConversion()

	writeJSON(w, http.StatusOK, map[string]any{
		"attributed":   true,
		"touch_id":     touch.ID,
		"affiliate_id": touch.AffiliateID,
	})
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
			"error": appErr.Message,
			"code":  appErr.Code,
		})
		return
	}

	w.WriteHeader(http.StatusInternalServerError)
	json.NewEncoder(w).Encode(map[string]string{"error": "internal server error"})
}
