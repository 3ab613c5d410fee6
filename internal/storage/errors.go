package storage

import "errors"

// Sentinel errors for business-rule rejections. Handlers map these onto HTTP
// statuses and user-facing messages with errors.Is; anything else coming out
// of the repository is treated as an internal storage failure.
var (
	ErrNotFound           = errors.New("record not found")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUsernameTaken      = errors.New("username is already taken")
	ErrVersionOnDisk      = errors.New("version already exists")
	ErrGrantExists        = errors.New("user is already an author")
	ErrNoPendingInvite    = errors.New("no pending authorship invite")
	ErrNotAnAuthor        = errors.New("user is not an author")
	ErrOwnerGrant         = errors.New("cannot change the mod owner's authorship")
	ErrProfileNotPublic   = errors.New("user profile is not public")
	ErrInvalidArchive     = errors.New("not a valid zip archive")
	ErrStorageUnavailable = errors.New("artifact storage unavailable")
)
