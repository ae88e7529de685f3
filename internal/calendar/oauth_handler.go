package calendar

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/turnia/turnia-platform/internal/http/middleware"
	"github.com/turnia/turnia-platform/pkg/logging"
)

// OAuthHandler serves the Google Calendar connect flow.
type OAuthHandler struct {
	adapter *GoogleAdapter
	logger  *logging.Logger
}

func NewOAuthHandler(adapter *GoogleAdapter, logger *logging.Logger) *OAuthHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &OAuthHandler{adapter: adapter, logger: logger}
}

// Connect handles GET /me/calendar/connect (authenticated): returns the
// consent URL for the professional to open.
func (h *OAuthHandler) Connect(w http.ResponseWriter, r *http.Request) {
	professionalID, ok := middleware.ProfessionalIDFromContext(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"url": h.adapter.AuthURL(professionalID),
	})
}

// Callback handles GET /oauth/google/callback, the redirect target Google
// calls after consent. It renders a tiny HTML page because the professional
// lands here in a browser.
func (h *OAuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if errMsg := q.Get("error"); errMsg != "" {
		h.writePage(w, http.StatusOK, "No conectamos tu calendario: el permiso fue denegado.")
		return
	}
	code, state := q.Get("code"), q.Get("state")
	if code == "" || state == "" {
		h.writePage(w, http.StatusBadRequest, "La respuesta de Google es inválida.")
		return
	}
	professionalID, err := h.adapter.Exchange(r.Context(), state, code)
	if err != nil {
		h.logger.Error("calendar connect failed", "error", err)
		h.writePage(w, http.StatusInternalServerError, "No pudimos conectar tu calendario. Intentá de nuevo.")
		return
	}
	h.logger.Info("calendar oauth completed", "professional_id", professionalID)
	h.writePage(w, http.StatusOK, "Tu calendario de Google quedó conectado. Ya podés cerrar esta pestaña.")
}

// Disconnect handles DELETE /me/calendar (authenticated).
func (h *OAuthHandler) Disconnect(w http.ResponseWriter, r *http.Request) {
	professionalID, ok := middleware.ProfessionalIDFromContext(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if err := h.adapter.Disconnect(r.Context(), professionalID); err != nil {
		h.logger.Error("calendar disconnect failed", "error", err, "professional_id", professionalID)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *OAuthHandler) writePage(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	fmt.Fprintf(w, `<!DOCTYPE html><html lang="es"><head><meta charset="utf-8"><title>Turnia</title></head><body><p>%s</p></body></html>`, message)
}
