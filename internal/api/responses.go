package api

import (
	"fmt"
	"time"

	"moddepot/internal/models"
	"moddepot/internal/storage"
)

type userResponse struct {
	ID            int64  `json:"id"`
	Username      string `json:"username"`
	Description   string `json:"description,omitempty"`
	ForumUsername string `json:"forumUsername,omitempty"`
	IRCNick       string `json:"ircNick,omitempty"`
	Admin         bool   `json:"admin"`
}

func newUserResponse(user models.User) userResponse {
	return userResponse{
		ID:            user.ID,
		Username:      user.Username,
		Description:   user.Description,
		ForumUsername: user.ForumUsername,
		IRCNick:       user.IRCNick,
		Admin:         user.Admin,
	}
}

type authResponse struct {
	Error     bool         `json:"error"`
	User      userResponse `json:"user"`
	ExpiresAt time.Time    `json:"expiresAt"`
}

func newAuthResponse(user models.User, expiresAt time.Time) authResponse {
	return authResponse{User: newUserResponse(user), ExpiresAt: expiresAt.UTC()}
}

type versionResponse struct {
	ID              int64     `json:"id"`
	FriendlyVersion string    `json:"friendly_version"`
	GameVersion     string    `json:"game_version"`
	SortIndex       int       `json:"sort_index"`
	DownloadPath    string    `json:"download_path"`
	Changelog       string    `json:"changelog,omitempty"`
	CreatedAt       time.Time `json:"created"`
}

func newVersionResponse(modID int64, version models.ModVersion) versionResponse {
	return versionResponse{
		ID:              version.ID,
		FriendlyVersion: version.FriendlyVersion,
		GameVersion:     version.GameVersion,
		SortIndex:       version.SortIndex,
		DownloadPath:    fmt.Sprintf("/api/mod/%d/download/%d", modID, version.ID),
		Changelog:       version.Changelog,
		CreatedAt:       version.CreatedAt.UTC(),
	}
}

type modResponse struct {
	ID               int64             `json:"id"`
	Name             string            `json:"name"`
	OwnerID          int64             `json:"ownerId"`
	Author           string            `json:"author,omitempty"`
	ShortDescription string            `json:"short_description"`
	Description      string            `json:"description,omitempty"`
	License          string            `json:"license"`
	Published        bool              `json:"published"`
	Downloads        int64             `json:"downloads"`
	URL              string            `json:"url"`
	DefaultVersionID int64             `json:"defaultVersionId,omitempty"`
	Versions         []versionResponse `json:"versions"`
	SharedAuthors    []grantResponse   `json:"sharedAuthors,omitempty"`
}

func (h *Handler) newModResponse(mod models.Mod, includeAuthors bool) modResponse {
	versions := h.Store.ListVersions(mod.ID)
	out := modResponse{
		ID:               mod.ID,
		Name:             mod.Name,
		OwnerID:          mod.OwnerID,
		ShortDescription: mod.ShortDescription,
		Description:      mod.Description,
		License:          mod.License,
		Published:        mod.Published,
		Downloads:        mod.DownloadCount,
		URL:              canonicalModURL(mod),
		DefaultVersionID: mod.DefaultVersionID,
		Versions:         make([]versionResponse, 0, len(versions)),
	}
	if owner, ok := h.Store.GetUser(mod.OwnerID); ok {
		out.Author = owner.Username
	}
	for _, version := range versions {
		out.Versions = append(out.Versions, newVersionResponse(mod.ID, version))
	}
	if includeAuthors {
		for _, grant := range h.Store.ListSharedAuthors(mod.ID) {
			out.SharedAuthors = append(out.SharedAuthors, h.newGrantResponse(grant))
		}
	}
	return out
}

type grantResponse struct {
	UserID   int64  `json:"userId"`
	Username string `json:"username,omitempty"`
	Accepted bool   `json:"accepted"`
}

func (h *Handler) newGrantResponse(grant models.SharedAuthor) grantResponse {
	out := grantResponse{UserID: grant.UserID, Accepted: grant.Accepted}
	if user, ok := h.Store.GetUser(grant.UserID); ok {
		out.Username = user.Username
	}
	return out
}

type profileResponse struct {
	User userResponse  `json:"user"`
	Mods []modResponse `json:"mods"`
}

// canonicalModURL mirrors the site's mod page path: the display name is
// sanitized the same way artifact path segments are.
func canonicalModURL(mod models.Mod) string {
	return fmt.Sprintf("/mod/%d/%s", mod.ID, storage.SanitizeSegment(mod.Name))
}
