package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"moddepot/internal/models"
	"moddepot/internal/notify"
	"moddepot/internal/observability/metrics"
	"moddepot/internal/storage"
)

// requireGrantManager loads the mod and enforces the author-management
// policy: admins and the owner only.
func (h *Handler) requireGrantManager(w http.ResponseWriter, r *http.Request, modID int64) (models.User, models.Mod, bool) {
	actor, ok := h.requireAuthenticatedUser(w, r)
	if !ok {
		return models.User{}, models.Mod{}, false
	}
	mod, found := h.Store.GetMod(modID)
	if !found {
		writeError(w, http.StatusNotFound, fmt.Errorf("mod not found"))
		return models.User{}, models.Mod{}, false
	}
	if !canManageAuthors(actor, mod) {
		writeError(w, http.StatusUnauthorized, fmt.Errorf("you do not have permission to manage this mod's authors"))
		return models.User{}, models.Mod{}, false
	}
	return actor, mod, true
}

// targetFromForm resolves the "user" form field to an account.
func (h *Handler) targetFromForm(w http.ResponseWriter, r *http.Request) (models.User, bool) {
	username := strings.TrimSpace(r.FormValue("user"))
	if username == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("user is required"))
		return models.User{}, false
	}
	target, ok := h.Store.FindUserByUsername(username)
	if !ok {
		writeError(w, http.StatusBadRequest, fmt.Errorf("the specified user does not exist"))
		return models.User{}, false
	}
	return target, true
}

// GrantSharedAuthor handles POST /api/mod/{id}/grant: issues a pending
// co-authorship invite to the named user.
func (h *Handler) GrantSharedAuthor(w http.ResponseWriter, r *http.Request, modID int64) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w, r, http.MethodPost)
		return
	}
	actor, mod, ok := h.requireGrantManager(w, r, modID)
	if !ok {
		return
	}
	target, ok := h.targetFromForm(w, r)
	if !ok {
		return
	}

	grant, err := h.Store.GrantSharedAuthor(mod.ID, target.ID)
	if err != nil {
		metrics.ObserveGrantEvent("refused")
		switch {
		case errors.Is(err, storage.ErrGrantExists):
			writeError(w, http.StatusBadRequest, fmt.Errorf("this user is already an author of this mod"))
		case errors.Is(err, storage.ErrProfileNotPublic):
			writeError(w, http.StatusBadRequest, fmt.Errorf("this user has not made their profile public"))
		case errors.Is(err, storage.ErrNotFound):
			writeError(w, http.StatusNotFound, fmt.Errorf("mod not found"))
		default:
			h.logger().Error("grant failed", "modId", mod.ID, "targetId", target.ID, "error", err)
			writeError(w, http.StatusInternalServerError, fmt.Errorf("could not grant co-authorship"))
		}
		return
	}

	metrics.ObserveGrantEvent("issued")
	_ = h.events().Publish(r.Context(), notify.Event{
		Type:     notify.EventGrantIssued,
		ModID:    mod.ID,
		ModName:  mod.Name,
		UserID:   target.ID,
		Username: target.Username,
	})
	h.logger().Info("co-authorship granted", "modId", mod.ID, "targetId", target.ID, "actorId", actor.ID)
	writeJSON(w, http.StatusOK, map[string]interface{}{"error": false, "grant": h.newGrantResponse(grant)})
}

// AcceptSharedAuthor handles POST /api/mod/{id}/accept_grant: the invited
// user accepts their own pending invite.
func (h *Handler) AcceptSharedAuthor(w http.ResponseWriter, r *http.Request, modID int64) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w, r, http.MethodPost)
		return
	}
	actor, ok := h.requireAuthenticatedUser(w, r)
	if !ok {
		return
	}

	grant, err := h.Store.AcceptSharedAuthor(modID, actor.ID)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrNoPendingInvite):
			writeError(w, http.StatusBadRequest, fmt.Errorf("you do not have a pending invite for this mod"))
		case errors.Is(err, storage.ErrNotFound):
			writeError(w, http.StatusNotFound, fmt.Errorf("mod not found"))
		default:
			h.logger().Error("grant accept failed", "modId", modID, "actorId", actor.ID, "error", err)
			writeError(w, http.StatusInternalServerError, fmt.Errorf("could not accept invite"))
		}
		return
	}

	metrics.ObserveGrantEvent("accepted")
	if mod, ok := h.Store.GetMod(modID); ok {
		_ = h.events().Publish(r.Context(), notify.Event{
			Type:     notify.EventGrantAccepted,
			ModID:    mod.ID,
			ModName:  mod.Name,
			UserID:   actor.ID,
			Username: actor.Username,
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"error": false, "grant": h.newGrantResponse(grant)})
}

// RejectSharedAuthor handles POST /api/mod/{id}/reject_grant: the invited
// user declines their own pending invite.
func (h *Handler) RejectSharedAuthor(w http.ResponseWriter, r *http.Request, modID int64) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w, r, http.MethodPost)
		return
	}
	actor, ok := h.requireAuthenticatedUser(w, r)
	if !ok {
		return
	}

	if err := h.Store.RejectSharedAuthor(modID, actor.ID); err != nil {
		switch {
		case errors.Is(err, storage.ErrNoPendingInvite):
			writeError(w, http.StatusBadRequest, fmt.Errorf("you do not have a pending invite for this mod"))
		case errors.Is(err, storage.ErrNotFound):
			writeError(w, http.StatusNotFound, fmt.Errorf("mod not found"))
		default:
			h.logger().Error("grant reject failed", "modId", modID, "actorId", actor.ID, "error", err)
			writeError(w, http.StatusInternalServerError, fmt.Errorf("could not reject invite"))
		}
		return
	}

	metrics.ObserveGrantEvent("rejected")
	writeJSON(w, http.StatusOK, map[string]interface{}{"error": false})
}

// RevokeSharedAuthor handles POST /api/mod/{id}/revoke: the owner or an
// admin removes the named user's grant regardless of its state.
func (h *Handler) RevokeSharedAuthor(w http.ResponseWriter, r *http.Request, modID int64) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w, r, http.MethodPost)
		return
	}
	_, mod, ok := h.requireGrantManager(w, r, modID)
	if !ok {
		return
	}
	target, ok := h.targetFromForm(w, r)
	if !ok {
		return
	}

	if err := h.Store.RevokeSharedAuthor(mod.ID, target.ID); err != nil {
		switch {
		case errors.Is(err, storage.ErrOwnerGrant):
			writeError(w, http.StatusBadRequest, fmt.Errorf("the owner's authorship cannot be revoked"))
		case errors.Is(err, storage.ErrNotAnAuthor):
			writeError(w, http.StatusBadRequest, fmt.Errorf("this user is not an author of this mod"))
		case errors.Is(err, storage.ErrNotFound):
			writeError(w, http.StatusNotFound, fmt.Errorf("mod not found"))
		default:
			h.logger().Error("grant revoke failed", "modId", mod.ID, "targetId", target.ID, "error", err)
			writeError(w, http.StatusInternalServerError, fmt.Errorf("could not revoke co-authorship"))
		}
		return
	}

	metrics.ObserveGrantEvent("revoked")
	writeJSON(w, http.StatusOK, map[string]interface{}{"error": false})
}
