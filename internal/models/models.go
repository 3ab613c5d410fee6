package models

import (
	"time"
)

// User is an account on the platform. Profile fields are only exposed to
// other users while Public is set; a non-public user cannot be granted
// co-authorship and their mod listing is hidden.
type User struct {
	ID            int64     `json:"id"`
	Username      string    `json:"username"`
	Email         string    `json:"email"`
	Description   string    `json:"description,omitempty"`
	ForumUsername string    `json:"forumUsername,omitempty"`
	IRCNick       string    `json:"ircNick,omitempty"`
	Public        bool      `json:"public"`
	Admin         bool      `json:"admin"`
	PasswordHash  string    `json:"passwordHash,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
}

// Mod is a hosted add-on package owned by exactly one user. DefaultVersionID
// is a weak reference: zero means unset, otherwise it always resolves to one
// of this mod's versions after any successful create or update.
type Mod struct {
	ID               int64     `json:"id"`
	OwnerID          int64     `json:"ownerId"`
	Name             string    `json:"name"`
	ShortDescription string    `json:"shortDescription"`
	Description      string    `json:"description,omitempty"`
	License          string    `json:"license"`
	Published        bool      `json:"published"`
	DefaultVersionID int64     `json:"defaultVersionId,omitempty"`
	DownloadCount    int64     `json:"downloadCount"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

// ModVersion is one uploaded release of a mod. SortIndex is a per-mod
// monotonic counter assigned at creation; versions are never mutated after
// creation and never deleted.
type ModVersion struct {
	ID              int64     `json:"id"`
	ModID           int64     `json:"modId"`
	FriendlyVersion string    `json:"friendlyVersion"`
	GameVersion     string    `json:"gameVersion"`
	SortIndex       int       `json:"sortIndex"`
	DownloadPath    string    `json:"downloadPath"`
	Changelog       string    `json:"changelog,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
}

// SharedAuthor is a co-authorship grant on a mod. It is created pending,
// flipped to accepted exactly once, and removed by reject or revoke; there is
// no way back from accepted except deletion.
type SharedAuthor struct {
	ModID     int64     `json:"modId"`
	UserID    int64     `json:"userId"`
	Accepted  bool      `json:"accepted"`
	CreatedAt time.Time `json:"createdAt"`
}
