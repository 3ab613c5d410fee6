package storage

import (
	"errors"
	"sort"
	"strings"
	"time"

	"moddepot/internal/models"
)

// CreateMod creates a mod together with its first version in one write. The
// first version gets sort index 1; the default pointer stays unset until the
// caller assigns it.
func (s *Storage) CreateMod(params CreateModParams) (models.Mod, models.ModVersion, error) {
	name := strings.TrimSpace(params.Name)
	if name == "" {
		return models.Mod{}, models.ModVersion{}, errors.New("name is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.data.Users[params.OwnerID]; !ok {
		return models.Mod{}, models.ModVersion{}, ErrNotFound
	}

	updatedData := cloneDataset(s.data)
	now := time.Now().UTC()

	mod := models.Mod{
		ID:               updatedData.NextModID + 1,
		OwnerID:          params.OwnerID,
		Name:             name,
		ShortDescription: strings.TrimSpace(params.ShortDescription),
		Description:      params.Description,
		License:          strings.TrimSpace(params.License),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	updatedData.NextModID = mod.ID

	version := models.ModVersion{
		ID:              updatedData.NextVersionID + 1,
		ModID:           mod.ID,
		FriendlyVersion: strings.TrimSpace(params.FirstVersion.FriendlyVersion),
		GameVersion:     strings.TrimSpace(params.FirstVersion.GameVersion),
		SortIndex:       1,
		DownloadPath:    params.FirstVersion.DownloadPath,
		Changelog:       params.FirstVersion.Changelog,
		CreatedAt:       now,
	}
	updatedData.NextVersionID = version.ID

	updatedData.Mods[mod.ID] = mod
	updatedData.Versions[version.ID] = version

	if err := s.persistDataset(updatedData); err != nil {
		return models.Mod{}, models.ModVersion{}, err
	}
	s.data = updatedData

	return mod, version, nil
}

// GetMod fetches a mod by ID.
func (s *Storage) GetMod(id int64) (models.Mod, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	mod, ok := s.data.Mods[id]
	return mod, ok
}

// PublishMod flips the published flag. Publishing twice is harmless.
func (s *Storage) PublishMod(id int64) (models.Mod, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	updatedData := cloneDataset(s.data)
	mod, ok := updatedData.Mods[id]
	if !ok {
		return models.Mod{}, ErrNotFound
	}
	mod.Published = true
	mod.UpdatedAt = time.Now().UTC()
	updatedData.Mods[id] = mod

	if err := s.persistDataset(updatedData); err != nil {
		return models.Mod{}, err
	}
	s.data = updatedData

	return mod, nil
}

// RecordDownload bumps the mod's download counter.
func (s *Storage) RecordDownload(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	updatedData := cloneDataset(s.data)
	mod, ok := updatedData.Mods[id]
	if !ok {
		return ErrNotFound
	}
	mod.DownloadCount++
	updatedData.Mods[id] = mod

	if err := s.persistDataset(updatedData); err != nil {
		return err
	}
	s.data = updatedData

	return nil
}

// ListModsByOwner returns a user's mods ordered by creation time.
func (s *Storage) ListModsByOwner(ownerID int64, publishedOnly bool) []models.Mod {
	s.mu.RLock()
	mods := make([]models.Mod, 0)
	for _, mod := range s.data.Mods {
		if mod.OwnerID != ownerID {
			continue
		}
		if publishedOnly && !mod.Published {
			continue
		}
		mods = append(mods, mod)
	}
	s.mu.RUnlock()

	sort.Slice(mods, func(i, j int) bool { return mods[i].ID < mods[j].ID })
	return mods
}

// SearchMods returns published mods whose name or short description contains
// the query, case-insensitively, paged and ordered by ID.
func (s *Storage) SearchMods(query string, page, perPage int) []models.Mod {
	needle := strings.ToLower(strings.TrimSpace(query))

	s.mu.RLock()
	matched := make([]models.Mod, 0)
	for _, mod := range s.data.Mods {
		if !mod.Published {
			continue
		}
		if needle != "" &&
			!strings.Contains(strings.ToLower(mod.Name), needle) &&
			!strings.Contains(strings.ToLower(mod.ShortDescription), needle) {
			continue
		}
		matched = append(matched, mod)
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool { return matched[i].ID < matched[j].ID })
	return pageSlice(matched, page, perPage)
}

// CreateVersion appends a version to the mod's ledger. The sort index is
// computed under the store lock: 1 for the first version, max+1 afterwards,
// so concurrent uploads to the same mod can never produce duplicates or
// gaps. The default pointer is not touched here; SetDefaultVersion is the
// caller's explicit follow-up.
func (s *Storage) CreateVersion(modID int64, params CreateVersionParams) (models.ModVersion, error) {
	friendly := strings.TrimSpace(params.FriendlyVersion)
	if friendly == "" {
		return models.ModVersion{}, errors.New("version label is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	mod, ok := s.data.Mods[modID]
	if !ok {
		return models.ModVersion{}, ErrNotFound
	}

	updatedData := cloneDataset(s.data)

	sortIndex := 0
	for _, existing := range updatedData.Versions {
		if existing.ModID == modID && existing.SortIndex > sortIndex {
			sortIndex = existing.SortIndex
		}
	}
	sortIndex++

	version := models.ModVersion{
		ID:              updatedData.NextVersionID + 1,
		ModID:           modID,
		FriendlyVersion: friendly,
		GameVersion:     strings.TrimSpace(params.GameVersion),
		SortIndex:       sortIndex,
		DownloadPath:    params.DownloadPath,
		Changelog:       params.Changelog,
		CreatedAt:       time.Now().UTC(),
	}
	updatedData.NextVersionID = version.ID
	updatedData.Versions[version.ID] = version

	mod.UpdatedAt = version.CreatedAt
	updatedData.Mods[modID] = mod

	if err := s.persistDataset(updatedData); err != nil {
		return models.ModVersion{}, err
	}
	s.data = updatedData

	return version, nil
}

// SetDefaultVersion points the mod's default at an existing version of that
// same mod. A version belonging to another mod never resolves.
func (s *Storage) SetDefaultVersion(modID, versionID int64) (models.Mod, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	updatedData := cloneDataset(s.data)
	mod, ok := updatedData.Mods[modID]
	if !ok {
		return models.Mod{}, ErrNotFound
	}
	version, ok := updatedData.Versions[versionID]
	if !ok || version.ModID != modID {
		return models.Mod{}, ErrNotFound
	}

	mod.DefaultVersionID = versionID
	updatedData.Mods[modID] = mod

	if err := s.persistDataset(updatedData); err != nil {
		return models.Mod{}, err
	}
	s.data = updatedData

	return mod, nil
}

// GetVersion fetches a version scoped to the given mod.
func (s *Storage) GetVersion(modID, versionID int64) (models.ModVersion, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	version, ok := s.data.Versions[versionID]
	if !ok || version.ModID != modID {
		return models.ModVersion{}, false
	}
	return version, true
}

// LatestVersion resolves the mod's default pointer, falling back to the
// highest sort index while the pointer is unset.
func (s *Storage) LatestVersion(modID int64) (models.ModVersion, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	mod, ok := s.data.Mods[modID]
	if !ok {
		return models.ModVersion{}, false
	}
	if mod.DefaultVersionID != 0 {
		version, ok := s.data.Versions[mod.DefaultVersionID]
		if ok && version.ModID == modID {
			return version, true
		}
	}
	var latest models.ModVersion
	found := false
	for _, version := range s.data.Versions {
		if version.ModID != modID {
			continue
		}
		if !found || version.SortIndex > latest.SortIndex {
			latest = version
			found = true
		}
	}
	return latest, found
}

// ListVersions returns the mod's versions ordered by sort index.
func (s *Storage) ListVersions(modID int64) []models.ModVersion {
	s.mu.RLock()
	versions := make([]models.ModVersion, 0)
	for _, version := range s.data.Versions {
		if version.ModID == modID {
			versions = append(versions, version)
		}
	}
	s.mu.RUnlock()

	sort.Slice(versions, func(i, j int) bool { return versions[i].SortIndex < versions[j].SortIndex })
	return versions
}

// GrantSharedAuthor creates a pending co-authorship grant for the target.
// The owner cannot be granted, an existing record in any state blocks a new
// one, and non-public targets are refused.
func (s *Storage) GrantSharedAuthor(modID, targetID int64) (models.SharedAuthor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	mod, ok := s.data.Mods[modID]
	if !ok {
		return models.SharedAuthor{}, ErrNotFound
	}
	target, ok := s.data.Users[targetID]
	if !ok {
		return models.SharedAuthor{}, ErrNotFound
	}
	if mod.OwnerID == targetID {
		return models.SharedAuthor{}, ErrGrantExists
	}
	if _, exists := s.data.SharedAuthors[modID][targetID]; exists {
		return models.SharedAuthor{}, ErrGrantExists
	}
	if !target.Public {
		return models.SharedAuthor{}, ErrProfileNotPublic
	}

	updatedData := cloneDataset(s.data)
	grant := models.SharedAuthor{
		ModID:     modID,
		UserID:    targetID,
		CreatedAt: time.Now().UTC(),
	}
	if updatedData.SharedAuthors[modID] == nil {
		updatedData.SharedAuthors[modID] = make(map[int64]models.SharedAuthor)
	}
	updatedData.SharedAuthors[modID][targetID] = grant

	if err := s.persistDataset(updatedData); err != nil {
		return models.SharedAuthor{}, err
	}
	s.data = updatedData

	return grant, nil
}

// AcceptSharedAuthor flips the actor's pending grant to accepted. The
// transition is one-way: a repeat accept reports no pending invite, and at
// most one accepted record per (mod, user) can ever exist.
func (s *Storage) AcceptSharedAuthor(modID, actorID int64) (models.SharedAuthor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.data.Mods[modID]; !ok {
		return models.SharedAuthor{}, ErrNotFound
	}
	grant, ok := s.data.SharedAuthors[modID][actorID]
	if !ok || grant.Accepted {
		return models.SharedAuthor{}, ErrNoPendingInvite
	}

	updatedData := cloneDataset(s.data)
	grant.Accepted = true
	updatedData.SharedAuthors[modID][actorID] = grant

	if err := s.persistDataset(updatedData); err != nil {
		return models.SharedAuthor{}, err
	}
	s.data = updatedData

	return grant, nil
}

// RejectSharedAuthor deletes the actor's own pending grant. Like accept it
// only acts on a pending record; rejecting an accepted grant is refused,
// revoke is the tool for that.
func (s *Storage) RejectSharedAuthor(modID, actorID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.data.Mods[modID]; !ok {
		return ErrNotFound
	}
	grant, ok := s.data.SharedAuthors[modID][actorID]
	if !ok || grant.Accepted {
		return ErrNoPendingInvite
	}

	updatedData := cloneDataset(s.data)
	delete(updatedData.SharedAuthors[modID], actorID)

	if err := s.persistDataset(updatedData); err != nil {
		return err
	}
	s.data = updatedData

	return nil
}

// RevokeSharedAuthor deletes the target's grant in any state. It removes the
// target's record, never the acting user's.
func (s *Storage) RevokeSharedAuthor(modID, targetID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	mod, ok := s.data.Mods[modID]
	if !ok {
		return ErrNotFound
	}
	if mod.OwnerID == targetID {
		return ErrOwnerGrant
	}
	if _, exists := s.data.SharedAuthors[modID][targetID]; !exists {
		return ErrNotAnAuthor
	}

	updatedData := cloneDataset(s.data)
	delete(updatedData.SharedAuthors[modID], targetID)

	if err := s.persistDataset(updatedData); err != nil {
		return err
	}
	s.data = updatedData

	return nil
}

// SharedAuthorFor fetches the grant for a (mod, user) pair.
func (s *Storage) SharedAuthorFor(modID, userID int64) (models.SharedAuthor, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	grant, ok := s.data.SharedAuthors[modID][userID]
	return grant, ok
}

// ListSharedAuthors returns the mod's grants ordered by user ID.
func (s *Storage) ListSharedAuthors(modID int64) []models.SharedAuthor {
	s.mu.RLock()
	grants := make([]models.SharedAuthor, 0)
	for _, grant := range s.data.SharedAuthors[modID] {
		grants = append(grants, grant)
	}
	s.mu.RUnlock()

	sort.Slice(grants, func(i, j int) bool { return grants[i].UserID < grants[j].UserID })
	return grants
}
