package storage

import (
	"context"

	"moddepot/internal/models"
)

// Repository exposes the datastore operations required by the API handlers
// and the bootstrap tooling. Two implementations exist: the JSON-file Storage
// for development and a Postgres repository for production.
type Repository interface {
	Ping(ctx context.Context) error
	Close(ctx context.Context) error

	CreateUser(params CreateUserParams) (models.User, error)
	AuthenticateUser(username, password string) (models.User, error)
	GetUser(id int64) (models.User, bool)
	FindUserByUsername(username string) (models.User, bool)
	UpdateUser(id int64, update UserUpdate) (models.User, error)
	SetUserPassword(id int64, password string) (models.User, error)
	SearchUsers(query string, page, perPage int) []models.User

	CreateMod(params CreateModParams) (models.Mod, models.ModVersion, error)
	GetMod(id int64) (models.Mod, bool)
	PublishMod(id int64) (models.Mod, error)
	RecordDownload(id int64) error
	ListModsByOwner(ownerID int64, publishedOnly bool) []models.Mod
	SearchMods(query string, page, perPage int) []models.Mod

	CreateVersion(modID int64, params CreateVersionParams) (models.ModVersion, error)
	SetDefaultVersion(modID, versionID int64) (models.Mod, error)
	GetVersion(modID, versionID int64) (models.ModVersion, bool)
	LatestVersion(modID int64) (models.ModVersion, bool)
	ListVersions(modID int64) []models.ModVersion

	GrantSharedAuthor(modID, targetID int64) (models.SharedAuthor, error)
	AcceptSharedAuthor(modID, actorID int64) (models.SharedAuthor, error)
	RejectSharedAuthor(modID, actorID int64) error
	RevokeSharedAuthor(modID, targetID int64) error
	SharedAuthorFor(modID, userID int64) (models.SharedAuthor, bool)
	ListSharedAuthors(modID int64) []models.SharedAuthor
}

// CreateUserParams captures the attributes that can be set at signup.
type CreateUserParams struct {
	Username string
	Email    string
	Password string
	Public   bool
	Admin    bool
}

// UserUpdate mutates profile fields; nil pointers leave the field untouched.
type UserUpdate struct {
	Email         *string
	Description   *string
	ForumUsername *string
	IRCNick       *string
	Public        *bool
	Admin         *bool
}

// CreateModParams creates a mod together with its first version. The two are
// written in one transaction: a mod never exists without at least one
// version.
type CreateModParams struct {
	OwnerID          int64
	Name             string
	ShortDescription string
	Description      string
	License          string
	FirstVersion     CreateVersionParams
}

// CreateVersionParams appends one version to a mod's ledger. SortIndex is
// assigned by the repository, never by the caller.
type CreateVersionParams struct {
	FriendlyVersion string
	GameVersion     string
	DownloadPath    string
	Changelog       string
}

var _ Repository = (*Storage)(nil)
