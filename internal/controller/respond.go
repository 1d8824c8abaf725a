package controller

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/sirupsen/logrus"

	appErrors "github.com/unclebandit/supportmail-backend/internal/errors"
	"github.com/unclebandit/supportmail-backend/internal/model"
	"github.com/unclebandit/supportmail-backend/internal/repository"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// StatusFor maps service errors onto HTTP status codes.
func StatusFor(err error) int {
	switch {
	case appErrors.IsValidation(err):
		return http.StatusBadRequest
	case appErrors.IsNotFound(err):
		return http.StatusNotFound
	case appErrors.IsForbidden(err):
		return http.StatusForbidden
	case appErrors.IsConflict(err):
		return http.StatusConflict
	case appErrors.IsResolution(err):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// WriteError renders err as JSON. Validation errors carry their field map;
// unexpected errors are logged and hidden from the client.
func WriteError(w http.ResponseWriter, log *logrus.Logger, err error) {
	status := StatusFor(err)

	var ve *appErrors.ValidationError
	if errors.As(err, &ve) {
		writeJSON(w, status, map[string]any{"error": "validation failed", "fields": ve.Fields, "non_field": ve.NonField})
		return
	}
	if status == http.StatusInternalServerError {
		log.WithError(err).Error("❌ request failed")
		writeJSON(w, status, map[string]string{"error": "internal error"})
		return
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// ====================== Staff auth ======================

type ctxKey struct{}

const UserHeader = "X-User-ID"

// StaffOnly resolves the acting user from the X-User-ID header set by the
// upstream auth proxy and rejects anyone who is not staff.
func StaffOnly(users repository.UserRepositoryInterface, log *logrus.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, err := strconv.Atoi(r.Header.Get(UserHeader))
			if err != nil {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "missing user"})
				return
			}
			user, err := users.GetByID(r.Context(), id)
			if appErrors.IsNotFound(err) {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unknown user"})
				return
			}
			if err != nil {
				WriteError(w, log, err)
				return
			}
			if !user.IsStaff {
				writeJSON(w, http.StatusForbidden, map[string]string{"error": "staff only"})
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, user)))
		})
	}
}

// UserFromContext returns the user stored by StaffOnly.
func UserFromContext(ctx context.Context) *model.User {
	u, _ := ctx.Value(ctxKey{}).(*model.User)
	return u
}
