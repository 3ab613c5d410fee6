package api

import (
	"fmt"
	"net/http"
	"strings"

	"moddepot/internal/observability/metrics"
	"moddepot/internal/storage"
)

type signupRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Public   bool   `json:"public"`
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Signup registers a new account and issues a session cookie.
func (h *Handler) Signup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w, r, http.MethodPost)
		return
	}

	var req signupRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	user, err := h.Store.CreateUser(storage.CreateUserParams{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
		Public:   req.Public,
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	token, expiresAt, err := h.sessionManager().Create(user.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	metrics.ObserveAuthEvent("signup")
	setSessionCookie(w, r, token, expiresAt)
	writeJSON(w, http.StatusCreated, newAuthResponse(user, expiresAt))
}

// Login authenticates a username/password pair and issues a session cookie.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w, r, http.MethodPost)
		return
	}

	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	user, err := h.Store.AuthenticateUser(req.Username, req.Password)
	if err != nil {
		metrics.ObserveAuthEvent("login_failed")
		writeError(w, http.StatusUnauthorized, fmt.Errorf("username or password is incorrect"))
		return
	}

	token, expiresAt, err := h.sessionManager().Create(user.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	metrics.ObserveAuthEvent("login")
	setSessionCookie(w, r, token, expiresAt)
	writeJSON(w, http.StatusOK, newAuthResponse(user, expiresAt))
}

// Session reports the current session on GET and revokes it on DELETE.
func (h *Handler) Session(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		user, ok := h.requireAuthenticatedUser(w, r)
		if !ok {
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"error": false, "user": newUserResponse(user)})
	case http.MethodDelete:
		if token := ExtractToken(r); token != "" {
			if err := h.sessionManager().Revoke(token); err != nil {
				h.logger().Warn("session revoke failed", "error", err)
			}
		}
		metrics.ObserveAuthEvent("logout")
		clearSessionCookie(w, r)
		writeJSON(w, http.StatusOK, map[string]interface{}{"error": false})
	default:
		writeMethodNotAllowed(w, r, http.MethodGet, http.MethodDelete)
	}
}

// UserProfile serves GET /api/user/{username}: the profile plus published
// mods. Non-public profiles are hidden from everyone but the owner and
// admins.
func (h *Handler) UserProfile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w, r, http.MethodGet)
		return
	}
	username := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/user/"), "/")
	if username == "" || strings.Contains(username, "/") {
		writeError(w, http.StatusNotFound, fmt.Errorf("user not found"))
		return
	}
	user, ok := h.Store.FindUserByUsername(username)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("user not found"))
		return
	}
	if !user.Public {
		viewer, authed := UserFromContext(r.Context())
		if !authed || (viewer.ID != user.ID && !viewer.Admin) {
			writeError(w, http.StatusUnauthorized, fmt.Errorf("profile is not public"))
			return
		}
	}

	mods := h.Store.ListModsByOwner(user.ID, true)
	payload := profileResponse{User: newUserResponse(user), Mods: make([]modResponse, 0, len(mods))}
	for _, mod := range mods {
		payload.Mods = append(payload.Mods, h.newModResponse(mod, false))
	}
	writeJSON(w, http.StatusOK, payload)
}

// SearchUsers serves GET /api/search/user?query=&page=.
func (h *Handler) SearchUsers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w, r, http.MethodGet)
		return
	}
	query := r.URL.Query().Get("query")
	page := parsePage(r.URL.Query().Get("page"))
	users := h.Store.SearchUsers(query, page, 30)
	results := make([]userResponse, 0, len(users))
	for _, user := range users {
		results = append(results, newUserResponse(user))
	}
	writeJSON(w, http.StatusOK, results)
}

// SearchMods serves GET /api/search/mod?query=&page=.
func (h *Handler) SearchMods(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w, r, http.MethodGet)
		return
	}
	query := r.URL.Query().Get("query")
	page := parsePage(r.URL.Query().Get("page"))
	mods := h.Store.SearchMods(query, page, 30)
	results := make([]modResponse, 0, len(mods))
	for _, mod := range mods {
		results = append(results, h.newModResponse(mod, false))
	}
	writeJSON(w, http.StatusOK, results)
}
