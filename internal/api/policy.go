package api

import "moddepot/internal/models"

// canEditMod reports whether the actor may upload versions to the mod:
// admins, the owner, and accepted co-authors. Pending invites confer nothing.
func (h *Handler) canEditMod(actor models.User, mod models.Mod) bool {
	if actor.Admin || actor.ID == mod.OwnerID {
		return true
	}
	grant, ok := h.Store.SharedAuthorFor(mod.ID, actor.ID)
	return ok && grant.Accepted
}

// canManageAuthors reports whether the actor may grant or revoke
// co-authorship: admins and the owner only. Accepted co-authors cannot
// manage the author list.
func canManageAuthors(actor models.User, mod models.Mod) bool {
	return actor.Admin || actor.ID == mod.OwnerID
}

// canViewMod reports whether the actor may read an unpublished mod.
func (h *Handler) canViewMod(actor models.User, mod models.Mod) bool {
	if mod.Published {
		return true
	}
	return h.canEditMod(actor, mod)
}
