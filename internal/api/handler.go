package api

import (
	"log/slog"
	"time"

	"moddepot/internal/auth"
	"moddepot/internal/notify"
	"moddepot/internal/storage"
)

// Handler bundles the dependencies shared by every endpoint.
type Handler struct {
	Store     storage.Repository
	Sessions  *auth.SessionManager
	Artifacts *storage.ArtifactStore
	Events    notify.Notifier
	Logger    *slog.Logger

	// MaxUploadBytes caps multipart parsing for artifact uploads.
	MaxUploadBytes int64
}

// NewHandler wires a Handler with sane defaults for optional dependencies.
func NewHandler(store storage.Repository, sessions *auth.SessionManager, artifacts *storage.ArtifactStore) *Handler {
	if sessions == nil {
		sessions = auth.NewSessionManager(24 * time.Hour)
	}
	return &Handler{
		Store:          store,
		Sessions:       sessions,
		Artifacts:      artifacts,
		Events:         notify.NoopNotifier{},
		Logger:         slog.Default(),
		MaxUploadBytes: 256 << 20,
	}
}

func (h *Handler) sessionManager() *auth.SessionManager {
	if h.Sessions == nil {
		h.Sessions = auth.NewSessionManager(24 * time.Hour)
	}
	return h.Sessions
}

func (h *Handler) events() notify.Notifier {
	if h.Events == nil {
		return notify.NoopNotifier{}
	}
	return h.Events
}

func (h *Handler) logger() *slog.Logger {
	if h.Logger == nil {
		return slog.Default()
	}
	return h.Logger
}
