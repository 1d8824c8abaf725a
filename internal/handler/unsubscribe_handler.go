// internal/handler/unsubscribe_handler.go
package handler

import (
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"html"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	appErrors "github.com/unclebandit/supportmail-backend/internal/errors"
	"github.com/unclebandit/supportmail-backend/internal/service"
)

const APIKeyHeader = "X-PLP-Api-Key"

const pageTemplate = `<!DOCTYPE html>
<html><head><meta charset="utf-8"><title>%[1]s</title></head>
<body><h1>%[1]s</h1><p>%[2]s</p></body></html>`

// UnsubscribeHandler serves the public endpoints reached from mail clients
// and partner services.
type UnsubscribeHandler struct {
	Service      *service.UnsubscribeService
	PlatformName string
	APIKeys      []string
	Log          *logrus.Logger
}

func (h *UnsubscribeHandler) page(w http.ResponseWriter, status int, title, body string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	fmt.Fprintf(w, pageTemplate, html.EscapeString(title), html.EscapeString(body))
}

// Unsubscribe handles GET /unsubscribe/{token}?id={campaign_id}. Repeat
// visits render the same success page.
func (h *UnsubscribeHandler) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	err := h.Service.Unsubscribe(r.Context(), chi.URLParam(r, "token"), r.URL.Query().Get("id"))
	switch {
	case appErrors.IsNotFound(err):
		h.page(w, http.StatusNotFound, "Not found", "This unsubscribe link is not valid.")
	case err != nil:
		h.Log.WithError(err).Error("❌ unsubscribe failed")
		h.page(w, http.StatusInternalServerError, "Error", "Something went wrong, please try again later.")
	default:
		h.page(w, http.StatusOK, "Unsubscribed",
			fmt.Sprintf("You will no longer receive %s mailings.", h.PlatformName))
	}
}

// RequireAPIKey rejects requests whose X-PLP-Api-Key is not configured.
func (h *UnsubscribeHandler) RequireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := r.Header.Get(APIKeyHeader)
		for _, key := range h.APIKeys {
			if key != "" && subtle.ConstantTimeCompare([]byte(got), []byte(key)) == 1 {
				next.ServeHTTP(w, r)
				return
			}
		}
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "invalid api key"})
	})
}

func (h *UnsubscribeHandler) fail(w http.ResponseWriter, err error) {
	if appErrors.IsNotFound(err) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "user not found"})
		return
	}
	h.Log.WithError(err).Error("❌ optout status failed")
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
}

// GetOptoutStatus handles GET /api/optout_status?user=<username>.
func (h *UnsubscribeHandler) GetOptoutStatus(w http.ResponseWriter, r *http.Request) {
	username := r.URL.Query().Get("user")
	if username == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "user is required"})
		return
	}
	subscribed, err := h.Service.OptoutStatus(r.Context(), username)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"status": subscribed})
}

// SetOptoutStatus handles POST /api/optout_status {"user": ..., "status": bool}.
func (h *UnsubscribeHandler) SetOptoutStatus(w http.ResponseWriter, r *http.Request) {
	var body struct {
		User   string `json:"user"`
		Status *bool  `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.User == "" || body.Status == nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "user and status are required"})
		return
	}
	subscribed, err := h.Service.SetOptoutStatus(r.Context(), body.User, *body.Status)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"status": subscribed})
}

// Routes registers the public endpoints on r.
func (h *UnsubscribeHandler) Routes(r chi.Router) {
	r.Get("/unsubscribe/{token}", h.Unsubscribe)
	r.Group(func(r chi.Router) {
		r.Use(h.RequireAPIKey)
		r.Get("/api/optout_status", h.GetOptoutStatus)
		r.Post("/api/optout_status", h.SetOptoutStatus)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
