package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"moddepot/internal/models"
	"moddepot/internal/notify"
	"moddepot/internal/observability/metrics"
	"moddepot/internal/storage"
)

const (
	maxModNameLength          = 100
	maxShortDescriptionLength = 1000
	maxLicenseLength          = 128
)

// ModResource dispatches everything below /api/mod/. The create endpoint is
// routed here too so the whole mod surface lives behind one prefix:
//
//	POST /api/mod/create
//	GET  /api/mod/{id}
//	GET  /api/mod/{id}/{version}        ("latest" and "latest_version" resolve the default)
//	GET  /api/mod/{id}/download/{version}
//	POST /api/mod/{id}/update
//	POST /api/mod/{id}/publish
//	POST /api/mod/{id}/grant | accept_grant | reject_grant | revoke
func (h *Handler) ModResource(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/mod"), "/")
	if rest == "" {
		writeError(w, http.StatusNotFound, fmt.Errorf("mod not found"))
		return
	}
	segments := strings.Split(rest, "/")

	if segments[0] == "create" {
		h.CreateMod(w, r)
		return
	}

	modID, err := parseID(segments[0])
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	switch {
	case len(segments) == 1:
		h.getMod(w, r, modID)
	case len(segments) == 2:
		switch segments[1] {
		case "update":
			h.UpdateMod(w, r, modID)
		case "publish":
			h.PublishMod(w, r, modID)
		case "grant":
			h.GrantSharedAuthor(w, r, modID)
		case "accept_grant":
			h.AcceptSharedAuthor(w, r, modID)
		case "reject_grant":
			h.RejectSharedAuthor(w, r, modID)
		case "revoke":
			h.RevokeSharedAuthor(w, r, modID)
		default:
			h.getVersion(w, r, modID, segments[1])
		}
	case len(segments) == 3 && segments[1] == "download":
		h.DownloadVersion(w, r, modID, segments[2])
	default:
		writeError(w, http.StatusNotFound, fmt.Errorf("mod not found"))
	}
}

// requireVisibleMod loads the mod and enforces read visibility for the
// current viewer. Unpublished mods are only readable by users who can edit
// them.
func (h *Handler) requireVisibleMod(w http.ResponseWriter, r *http.Request, modID int64) (models.Mod, bool) {
	mod, ok := h.Store.GetMod(modID)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("mod not found"))
		return models.Mod{}, false
	}
	if !mod.Published {
		viewer, authed := UserFromContext(r.Context())
		if !authed || !h.canEditMod(viewer, mod) {
			writeError(w, http.StatusUnauthorized, fmt.Errorf("mod is not published"))
			return models.Mod{}, false
		}
	}
	return mod, true
}

func (h *Handler) getMod(w http.ResponseWriter, r *http.Request, modID int64) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w, r, http.MethodGet)
		return
	}
	mod, ok := h.requireVisibleMod(w, r, modID)
	if !ok {
		return
	}
	viewer, authed := UserFromContext(r.Context())
	includeAuthors := authed && canManageAuthors(viewer, mod)
	writeJSON(w, http.StatusOK, h.newModResponse(mod, includeAuthors))
}

// resolveVersionRef maps a path segment onto one of the mod's versions.
// "latest" and "latest_version" follow the default pointer; anything else
// must be a numeric version ID belonging to this mod.
func (h *Handler) resolveVersionRef(mod models.Mod, ref string) (models.ModVersion, int, error) {
	if ref == "latest" || ref == "latest_version" {
		version, ok := h.Store.LatestVersion(mod.ID)
		if !ok {
			return models.ModVersion{}, http.StatusNotFound, fmt.Errorf("version not found")
		}
		return version, 0, nil
	}
	versionID, err := parseID(ref)
	if err != nil {
		return models.ModVersion{}, http.StatusBadRequest, fmt.Errorf("invalid version %q", ref)
	}
	version, ok := h.Store.GetVersion(mod.ID, versionID)
	if !ok {
		return models.ModVersion{}, http.StatusNotFound, fmt.Errorf("version not found")
	}
	return version, 0, nil
}

func (h *Handler) getVersion(w http.ResponseWriter, r *http.Request, modID int64, ref string) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w, r, http.MethodGet)
		return
	}
	mod, ok := h.requireVisibleMod(w, r, modID)
	if !ok {
		return
	}
	version, status, err := h.resolveVersionRef(mod, ref)
	if err != nil {
		writeError(w, status, err)
		return
	}
	writeJSON(w, http.StatusOK, newVersionResponse(mod.ID, version))
}

// DownloadVersion streams the stored artifact for the referenced version.
func (h *Handler) DownloadVersion(w http.ResponseWriter, r *http.Request, modID int64, ref string) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w, r, http.MethodGet)
		return
	}
	mod, ok := h.requireVisibleMod(w, r, modID)
	if !ok {
		return
	}
	version, status, err := h.resolveVersionRef(mod, ref)
	if err != nil {
		writeError(w, status, err)
		return
	}

	file, err := h.Artifacts.Open(version.DownloadPath)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, fmt.Errorf("artifact not found"))
			return
		}
		h.logger().Error("artifact open failed", "modId", mod.ID, "versionId", version.ID, "error", err)
		writeError(w, http.StatusInternalServerError, fmt.Errorf("artifact unavailable"))
		return
	}
	defer file.Close()

	if err := h.Store.RecordDownload(mod.ID); err != nil {
		h.logger().Warn("download count update failed", "modId", mod.ID, "error", err)
	}
	metrics.ObserveDownload()

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", path.Base(version.DownloadPath)))
	if info, statErr := file.Stat(); statErr == nil {
		w.Header().Set("Content-Length", fmt.Sprintf("%d", info.Size()))
	}
	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(w, file)
}

// CreateMod handles POST /api/mod/create: a multipart form carrying the mod
// metadata and the first version's zipball. The artifact is written and
// validated before any rows exist; a failed record write removes it again.
func (h *Handler) CreateMod(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w, r, http.MethodPost)
		return
	}
	actor, ok := h.requireAuthenticatedUser(w, r)
	if !ok {
		return
	}
	if !actor.Public {
		writeError(w, http.StatusForbidden, fmt.Errorf("only users with public profiles may create mods"))
		return
	}

	if err := r.ParseMultipartForm(h.MaxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("parse upload: %w", err))
		return
	}
	name := strings.TrimSpace(r.FormValue("name"))
	shortDescription := strings.TrimSpace(r.FormValue("short-description"))
	versionLabel := strings.TrimSpace(r.FormValue("version"))
	gameVersion := strings.TrimSpace(r.FormValue("game-version"))
	license := strings.TrimSpace(r.FormValue("license"))
	zipball, _, err := r.FormFile("zipball")
	if name == "" || shortDescription == "" || versionLabel == "" || gameVersion == "" || license == "" || err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("all fields are required"))
		return
	}
	defer zipball.Close()

	if len(name) > maxModNameLength {
		writeError(w, http.StatusBadRequest, fmt.Errorf("mod name is too long (max %d)", maxModNameLength))
		return
	}
	if len(shortDescription) > maxShortDescriptionLength {
		writeError(w, http.StatusBadRequest, fmt.Errorf("short description is too long (max %d)", maxShortDescriptionLength))
		return
	}
	if len(license) > maxLicenseLength {
		writeError(w, http.StatusBadRequest, fmt.Errorf("license is too long (max %d)", maxLicenseLength))
		return
	}

	artifactPath := storage.ResolveArtifactPath(actor.Username, actor.ID, name, versionLabel)
	if err := h.Artifacts.Store(artifactPath.Relative(), zipball, true); err != nil {
		h.writeUploadError(w, err, "create")
		return
	}

	mod, version, err := h.Store.CreateMod(storage.CreateModParams{
		OwnerID:          actor.ID,
		Name:             name,
		ShortDescription: shortDescription,
		Description:      defaultModDescription,
		License:          license,
		FirstVersion: storage.CreateVersionParams{
			FriendlyVersion: versionLabel,
			GameVersion:     gameVersion,
			DownloadPath:    artifactPath.Relative(),
		},
	})
	if err != nil {
		_ = h.Artifacts.Remove(artifactPath.Relative())
		h.logger().Error("mod create failed", "name", name, "error", err)
		writeError(w, http.StatusInternalServerError, fmt.Errorf("could not create mod"))
		return
	}
	if _, err := h.Store.SetDefaultVersion(mod.ID, version.ID); err != nil {
		h.logger().Error("default version assignment failed", "modId", mod.ID, "error", err)
	}

	metrics.ObserveUpload("created")
	_ = h.events().Publish(r.Context(), notify.Event{
		Type:     notify.EventModCreated,
		ModID:    mod.ID,
		ModName:  mod.Name,
		UserID:   actor.ID,
		Username: actor.Username,
		Version:  version.FriendlyVersion,
	})
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"error": false,
		"id":    mod.ID,
		"url":   canonicalModURL(mod),
	})
}

// defaultModDescription seeds the long description of a freshly created mod;
// owners replace it from the site before publishing.
const defaultModDescription = "This is your mod description. Edit it to tell players what your mod does and how to use it."

// UpdateMod handles POST /api/mod/{id}/update: appends one version and
// advances the default pointer. A version label whose artifact already exists
// on disk is the duplicate-version conflict and leaves everything untouched.
func (h *Handler) UpdateMod(w http.ResponseWriter, r *http.Request, modID int64) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w, r, http.MethodPost)
		return
	}
	actor, ok := h.requireAuthenticatedUser(w, r)
	if !ok {
		return
	}
	mod, found := h.Store.GetMod(modID)
	if !found {
		writeError(w, http.StatusNotFound, fmt.Errorf("mod not found"))
		return
	}
	if !h.canEditMod(actor, mod) {
		writeError(w, http.StatusUnauthorized, fmt.Errorf("you do not have permission to update this mod"))
		return
	}

	if err := r.ParseMultipartForm(h.MaxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("parse upload: %w", err))
		return
	}
	versionLabel := strings.TrimSpace(r.FormValue("version"))
	gameVersion := strings.TrimSpace(r.FormValue("game-version"))
	changelog := r.FormValue("changelog")
	notifyFollowers := parseBoolField(r.FormValue("notify-followers"))
	zipball, _, err := r.FormFile("zipball")
	if versionLabel == "" || gameVersion == "" || err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("all fields are required"))
		return
	}
	defer zipball.Close()

	owner, ok := h.Store.GetUser(mod.OwnerID)
	if !ok {
		writeError(w, http.StatusInternalServerError, fmt.Errorf("mod owner missing"))
		return
	}

	artifactPath := storage.ResolveArtifactPath(owner.Username, owner.ID, mod.Name, versionLabel)
	if err := h.Artifacts.Store(artifactPath.Relative(), zipball, false); err != nil {
		h.writeUploadError(w, err, "update")
		return
	}

	version, err := h.Store.CreateVersion(mod.ID, storage.CreateVersionParams{
		FriendlyVersion: versionLabel,
		GameVersion:     gameVersion,
		DownloadPath:    artifactPath.Relative(),
		Changelog:       changelog,
	})
	if err != nil {
		_ = h.Artifacts.Remove(artifactPath.Relative())
		h.logger().Error("version create failed", "modId", mod.ID, "error", err)
		writeError(w, http.StatusInternalServerError, fmt.Errorf("could not update mod"))
		return
	}
	if _, err := h.Store.SetDefaultVersion(mod.ID, version.ID); err != nil {
		h.logger().Error("default version assignment failed", "modId", mod.ID, "error", err)
	}

	metrics.ObserveUpload("created")
	if notifyFollowers {
		_ = h.events().Publish(r.Context(), notify.Event{
			Type:     notify.EventModUpdated,
			ModID:    mod.ID,
			ModName:  mod.Name,
			UserID:   actor.ID,
			Username: actor.Username,
			Version:  version.FriendlyVersion,
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"error": false,
		"id":    version.ID,
		"url":   canonicalModURL(mod),
	})
}

// PublishMod handles POST /api/mod/{id}/publish.
func (h *Handler) PublishMod(w http.ResponseWriter, r *http.Request, modID int64) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w, r, http.MethodPost)
		return
	}
	actor, ok := h.requireAuthenticatedUser(w, r)
	if !ok {
		return
	}
	mod, found := h.Store.GetMod(modID)
	if !found {
		writeError(w, http.StatusNotFound, fmt.Errorf("mod not found"))
		return
	}
	if !canManageAuthors(actor, mod) {
		writeError(w, http.StatusUnauthorized, fmt.Errorf("you do not have permission to publish this mod"))
		return
	}

	mod, err := h.Store.PublishMod(mod.ID)
	if err != nil {
		h.logger().Error("mod publish failed", "modId", modID, "error", err)
		writeError(w, http.StatusInternalServerError, fmt.Errorf("could not publish mod"))
		return
	}
	_ = h.events().Publish(r.Context(), notify.Event{
		Type:     notify.EventModPublished,
		ModID:    mod.ID,
		ModName:  mod.Name,
		UserID:   actor.ID,
		Username: actor.Username,
	})
	writeJSON(w, http.StatusOK, map[string]interface{}{"error": false})
}

// writeUploadError maps artifact store failures onto API responses and
// records the upload outcome.
func (h *Handler) writeUploadError(w http.ResponseWriter, err error, flow string) {
	switch {
	case errors.Is(err, storage.ErrVersionOnDisk):
		metrics.ObserveUpload("conflict")
		writeError(w, http.StatusBadRequest, fmt.Errorf("we already have a file for that version; please try a different version label"))
	case errors.Is(err, storage.ErrInvalidArchive):
		metrics.ObserveUpload("invalid_archive")
		writeError(w, http.StatusBadRequest, fmt.Errorf("this is not a valid zip file"))
	case errors.Is(err, storage.ErrStorageUnavailable):
		metrics.ObserveUpload("storage_error")
		h.logger().Error("artifact store failed", "flow", flow, "error", err)
		writeError(w, http.StatusInternalServerError, fmt.Errorf("could not store upload"))
	default:
		metrics.ObserveUpload("storage_error")
		h.logger().Error("artifact store failed", "flow", flow, "error", err)
		writeError(w, http.StatusInternalServerError, fmt.Errorf("could not store upload"))
	}
}

func parseBoolField(raw string) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "true", "yes", "on", "1":
		return true
	default:
		return false
	}
}
