package reporting

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/clinicaffil/platform/internal/shared/auth"
	"github.com/clinicaffil/platform/internal/shared/errors"
)

const defaultWindow = 30 * 24 * time.Hour

// Handler provides the read-only dashboard surface
type Handler struct {
	repo  *Repository
	cache *Cache
	sup   Suppressor
}

// NewHandler creates a new reporting handler. cache may be nil when Redis is
// not configured.
func NewHandler(repo *Repository, cache *Cache, sup Suppressor) *Handler {
	return &Handler{repo: repo, cache: cache, sup: sup}
}

// Routes registers the reporting routes
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/summary", h.Summary)
	r.Get("/affiliates", h.Affiliates)

	return r
}

// parseWindow reads from/to query parameters (RFC 3339), defaulting to the
// trailing 30 days.
func parseWindow(r *http.Request) (Window, error) {
	now := time.Now().UTC()
	w := Window{From: now.Add(-defaultWindow), To: now}

	if raw := r.URL.Query().Get("from"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return w, errors.BadRequest("from must be an RFC 3339 timestamp")
		}
		w.From = t
	}
	if raw := r.URL.Query().Get("to"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return w, errors.BadRequest("to must be an RFC 3339 timestamp")
		}
		w.To = t
	}
	if !w.To.After(w.From) {
		return w, errors.BadRequest("to must be after from")
	}
	return w, nil
}

// Summary handles GET /summary
func (h *Handler) Summary(w http.ResponseWriter, r *http.Request) {
	tenantID := auth.TenantID(r)
	if tenantID.IsZero() {
		writeError(w, errors.Unauthorized("tenant context required"))
		return
	}

	window, err := parseWindow(r)
	if err != nil {
		writeError(w, err)
		return
	}

	summary, err := h.cache.Summary(r.Context(), tenantID, window, func() (*TenantSummary, error) {
		return h.repo.TenantSummary(r.Context(), tenantID, window)
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, summary)
}

// Affiliates handles GET /affiliates
func (h *Handler) Affiliates(w http.ResponseWriter, r *http.Request) {
	tenantID := auth.TenantID(r)
	if tenantID.IsZero() {
		writeError(w, errors.Unauthorized("tenant context required"))
		return
	}

	window, err := parseWindow(r)
	if err != nil {
		writeError(w, err)
		return
	}

	slices, err := h.cache.Slices(r.Context(), tenantID, window, func() ([]AffiliateSlice, error) {
		return h.repo.AffiliateSlices(r.Context(), tenantID, window)
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"from":       window.From,
		"to":         window.To,
		"affiliates": h.sup.Apply(slices),
	})
}

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
