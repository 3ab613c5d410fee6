package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"moddepot/internal/models"
)

type contextKey string

const userContextKey contextKey = "authenticatedUser"

// ContextWithUser stores the authenticated user in the provided context.
func ContextWithUser(ctx context.Context, user models.User) context.Context {
	return context.WithValue(ctx, userContextKey, user)
}

// UserFromContext retrieves the authenticated user from context if present.
func UserFromContext(ctx context.Context) (models.User, bool) {
	user, ok := ctx.Value(userContextKey).(models.User)
	return user, ok
}

// ExtractToken pulls the session token from the cookie or the Authorization
// header, preferring the cookie.
func ExtractToken(r *http.Request) string {
	if cookie, err := r.Cookie(sessionCookieName); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
		return strings.TrimSpace(parts[1])
	}
	return ""
}

// AuthenticateRequest validates the session token on the request and returns the user.
func (h *Handler) AuthenticateRequest(r *http.Request) (models.User, error) {
	token := ExtractToken(r)
	if token == "" {
		return models.User{}, fmt.Errorf("missing session token")
	}
	userID, _, ok, err := h.sessionManager().Validate(token)
	if err != nil {
		return models.User{}, fmt.Errorf("validate session: %w", err)
	}
	if !ok {
		return models.User{}, fmt.Errorf("invalid or expired session")
	}
	user, exists := h.Store.GetUser(userID)
	if !exists {
		return models.User{}, fmt.Errorf("account not found")
	}
	return user, nil
}

func (h *Handler) requireAuthenticatedUser(w http.ResponseWriter, r *http.Request) (models.User, bool) {
	user, ok := UserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, fmt.Errorf("authentication required"))
		return models.User{}, false
	}
	return user, true
}
