package storage

import (
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"moddepot/internal/models"
)

func createTestUser(t *testing.T, store *Storage, username string, public bool) models.User {
	t.Helper()
	user, err := store.CreateUser(CreateUserParams{
		Username: username,
		Email:    username + "@example.com",
		Password: "supersecret",
		Public:   public,
	})
	if err != nil {
		t.Fatalf("CreateUser %s: %v", username, err)
	}
	return user
}

func createTestMod(t *testing.T, store *Storage, ownerID int64, name string) (models.Mod, models.ModVersion) {
	t.Helper()
	mod, version, err := store.CreateMod(CreateModParams{
		OwnerID:          ownerID,
		Name:             name,
		ShortDescription: "a mod",
		License:          "MIT",
		FirstVersion: CreateVersionParams{
			FriendlyVersion: "1.0",
			GameVersion:     "0.25",
			DownloadPath:    "owner/mod/mod-1.0.zip",
		},
	})
	if err != nil {
		t.Fatalf("CreateMod %s: %v", name, err)
	}
	return mod, version
}

func TestCreateModCreatesFirstVersion(t *testing.T) {
	store := newTestStorage(t)
	owner := createTestUser(t, store, "owner", true)

	mod, version, err := store.CreateMod(CreateModParams{
		OwnerID:          owner.ID,
		Name:             "  Trim Me  ",
		ShortDescription: "desc",
		License:          "MIT",
		FirstVersion: CreateVersionParams{
			FriendlyVersion: "1.0",
			GameVersion:     "0.25",
			DownloadPath:    "p.zip",
		},
	})
	if err != nil {
		t.Fatalf("CreateMod: %v", err)
	}
	if mod.Name != "Trim Me" {
		t.Fatalf("expected trimmed name, got %q", mod.Name)
	}
	if version.ModID != mod.ID {
		t.Fatalf("version bound to mod %d, want %d", version.ModID, mod.ID)
	}
	if version.SortIndex != 1 {
		t.Fatalf("first version sort index = %d, want 1", version.SortIndex)
	}
	if mod.Published {
		t.Fatal("new mods must start unpublished")
	}
	if mod.DefaultVersionID != 0 {
		t.Fatal("default pointer must start unset")
	}
}

func TestCreateModUnknownOwner(t *testing.T) {
	store := newTestStorage(t)
	_, _, err := store.CreateMod(CreateModParams{
		OwnerID:      42,
		Name:         "orphan",
		FirstVersion: CreateVersionParams{FriendlyVersion: "1.0"},
	})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCreateVersionSortIndexIsGapFree(t *testing.T) {
	store := newTestStorage(t)
	owner := createTestUser(t, store, "owner", true)
	mod, _ := createTestMod(t, store, owner.ID, "ledger")

	for i := 2; i <= 5; i++ {
		version, err := store.CreateVersion(mod.ID, CreateVersionParams{
			FriendlyVersion: fmt.Sprintf("1.%d", i),
			GameVersion:     "0.25",
			DownloadPath:    fmt.Sprintf("p-%d.zip", i),
		})
		if err != nil {
			t.Fatalf("CreateVersion %d: %v", i, err)
		}
		if version.SortIndex != i {
			t.Fatalf("version %d sort index = %d", i, version.SortIndex)
		}
	}

	versions := store.ListVersions(mod.ID)
	if len(versions) != 5 {
		t.Fatalf("expected 5 versions, got %d", len(versions))
	}
	for i, version := range versions {
		if version.SortIndex != i+1 {
			t.Fatalf("ledger out of order at %d: sort index %d", i, version.SortIndex)
		}
	}
}

func TestCreateVersionUnknownMod(t *testing.T) {
	store := newTestStorage(t)
	_, err := store.CreateVersion(99, CreateVersionParams{FriendlyVersion: "1.0"})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSetDefaultVersionRejectsForeignVersion(t *testing.T) {
	store := newTestStorage(t)
	owner := createTestUser(t, store, "owner", true)
	modA, _ := createTestMod(t, store, owner.ID, "mod-a")
	_, versionB := createTestMod(t, store, owner.ID, "mod-b")

	if _, err := store.SetDefaultVersion(modA.ID, versionB.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for foreign version, got %v", err)
	}
}

func TestLatestVersionFollowsDefaultPointer(t *testing.T) {
	store := newTestStorage(t)
	owner := createTestUser(t, store, "owner", true)
	mod, first := createTestMod(t, store, owner.ID, "pointer")

	// Unset pointer falls back to the highest sort index.
	latest, ok := store.LatestVersion(mod.ID)
	if !ok || latest.ID != first.ID {
		t.Fatalf("expected fallback to first version, got %+v ok=%v", latest, ok)
	}

	second, err := store.CreateVersion(mod.ID, CreateVersionParams{FriendlyVersion: "2.0", GameVersion: "0.25", DownloadPath: "p2.zip"})
	if err != nil {
		t.Fatalf("CreateVersion: %v", err)
	}
	latest, ok = store.LatestVersion(mod.ID)
	if !ok || latest.ID != second.ID {
		t.Fatalf("expected fallback to newest version, got %+v", latest)
	}

	// An explicit pointer wins even when newer versions exist.
	if _, err := store.SetDefaultVersion(mod.ID, first.ID); err != nil {
		t.Fatalf("SetDefaultVersion: %v", err)
	}
	latest, ok = store.LatestVersion(mod.ID)
	if !ok || latest.ID != first.ID {
		t.Fatalf("expected pinned default version, got %+v", latest)
	}
}

func TestGetVersionIsModScoped(t *testing.T) {
	store := newTestStorage(t)
	owner := createTestUser(t, store, "owner", true)
	modA, versionA := createTestMod(t, store, owner.ID, "mod-a")
	modB, _ := createTestMod(t, store, owner.ID, "mod-b")

	if _, ok := store.GetVersion(modB.ID, versionA.ID); ok {
		t.Fatal("version must not resolve under another mod")
	}
	if _, ok := store.GetVersion(modA.ID, versionA.ID); !ok {
		t.Fatal("version must resolve under its own mod")
	}
}

func TestPublishMod(t *testing.T) {
	store := newTestStorage(t)
	owner := createTestUser(t, store, "owner", true)
	mod, _ := createTestMod(t, store, owner.ID, "publish-me")

	published, err := store.PublishMod(mod.ID)
	if err != nil {
		t.Fatalf("PublishMod: %v", err)
	}
	if !published.Published {
		t.Fatal("expected mod to be published")
	}

	// Publishing twice is harmless.
	if _, err := store.PublishMod(mod.ID); err != nil {
		t.Fatalf("second PublishMod: %v", err)
	}
	if _, err := store.PublishMod(999); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRecordDownload(t *testing.T) {
	store := newTestStorage(t)
	owner := createTestUser(t, store, "owner", true)
	mod, _ := createTestMod(t, store, owner.ID, "counted")

	for i := 0; i < 3; i++ {
		if err := store.RecordDownload(mod.ID); err != nil {
			t.Fatalf("RecordDownload: %v", err)
		}
	}
	got, _ := store.GetMod(mod.ID)
	if got.DownloadCount != 3 {
		t.Fatalf("download count = %d, want 3", got.DownloadCount)
	}
	if err := store.RecordDownload(999); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSearchModsOnlyReturnsPublished(t *testing.T) {
	store := newTestStorage(t)
	owner := createTestUser(t, store, "owner", true)
	published, _ := createTestMod(t, store, owner.ID, "Visible Rockets")
	createTestMod(t, store, owner.ID, "Hidden Rockets")
	if _, err := store.PublishMod(published.ID); err != nil {
		t.Fatalf("PublishMod: %v", err)
	}

	results := store.SearchMods("rockets", 1, 30)
	if len(results) != 1 || results[0].ID != published.ID {
		t.Fatalf("unexpected search results: %+v", results)
	}
	if got := store.SearchMods("nomatch", 1, 30); len(got) != 0 {
		t.Fatalf("expected no results, got %d", len(got))
	}
}

func TestGrantLifecycle(t *testing.T) {
	store := newTestStorage(t)
	owner := createTestUser(t, store, "owner", true)
	target := createTestUser(t, store, "coauthor", true)
	mod, _ := createTestMod(t, store, owner.ID, "shared")

	grant, err := store.GrantSharedAuthor(mod.ID, target.ID)
	if err != nil {
		t.Fatalf("GrantSharedAuthor: %v", err)
	}
	if grant.Accepted {
		t.Fatal("new grant must start pending")
	}

	// A record in any state blocks a second grant.
	if _, err := store.GrantSharedAuthor(mod.ID, target.ID); !errors.Is(err, ErrGrantExists) {
		t.Fatalf("expected ErrGrantExists for duplicate, got %v", err)
	}

	accepted, err := store.AcceptSharedAuthor(mod.ID, target.ID)
	if err != nil {
		t.Fatalf("AcceptSharedAuthor: %v", err)
	}
	if !accepted.Accepted {
		t.Fatal("expected accepted grant")
	}

	// Accept is one-way: a repeat accept reports no pending invite.
	if _, err := store.AcceptSharedAuthor(mod.ID, target.ID); !errors.Is(err, ErrNoPendingInvite) {
		t.Fatalf("expected ErrNoPendingInvite on repeat accept, got %v", err)
	}
	// An accepted grant cannot be rejected either.
	if err := store.RejectSharedAuthor(mod.ID, target.ID); !errors.Is(err, ErrNoPendingInvite) {
		t.Fatalf("expected ErrNoPendingInvite on reject of accepted grant, got %v", err)
	}

	// Revoke removes the grant in any state.
	if err := store.RevokeSharedAuthor(mod.ID, target.ID); err != nil {
		t.Fatalf("RevokeSharedAuthor: %v", err)
	}
	if _, ok := store.SharedAuthorFor(mod.ID, target.ID); ok {
		t.Fatal("expected grant removed after revoke")
	}

	// After a revoke the user can be invited again.
	if _, err := store.GrantSharedAuthor(mod.ID, target.ID); err != nil {
		t.Fatalf("re-grant after revoke: %v", err)
	}
}

func TestGrantRefusals(t *testing.T) {
	store := newTestStorage(t)
	owner := createTestUser(t, store, "owner", true)
	private := createTestUser(t, store, "private", false)
	mod, _ := createTestMod(t, store, owner.ID, "shared")

	if _, err := store.GrantSharedAuthor(mod.ID, owner.ID); !errors.Is(err, ErrGrantExists) {
		t.Fatalf("expected ErrGrantExists for owner grant, got %v", err)
	}
	if _, err := store.GrantSharedAuthor(mod.ID, private.ID); !errors.Is(err, ErrProfileNotPublic) {
		t.Fatalf("expected ErrProfileNotPublic, got %v", err)
	}
	if _, err := store.GrantSharedAuthor(mod.ID, 999); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown target, got %v", err)
	}
	if _, err := store.GrantSharedAuthor(999, owner.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown mod, got %v", err)
	}
}

func TestRejectDeletesPendingGrant(t *testing.T) {
	store := newTestStorage(t)
	owner := createTestUser(t, store, "owner", true)
	target := createTestUser(t, store, "coauthor", true)
	mod, _ := createTestMod(t, store, owner.ID, "shared")

	if _, err := store.GrantSharedAuthor(mod.ID, target.ID); err != nil {
		t.Fatalf("GrantSharedAuthor: %v", err)
	}
	if err := store.RejectSharedAuthor(mod.ID, target.ID); err != nil {
		t.Fatalf("RejectSharedAuthor: %v", err)
	}
	if _, ok := store.SharedAuthorFor(mod.ID, target.ID); ok {
		t.Fatal("expected rejected grant to be deleted")
	}
	if err := store.RejectSharedAuthor(mod.ID, target.ID); !errors.Is(err, ErrNoPendingInvite) {
		t.Fatalf("expected ErrNoPendingInvite on repeat reject, got %v", err)
	}
}

func TestRevokeRemovesTargetNotActor(t *testing.T) {
	store := newTestStorage(t)
	owner := createTestUser(t, store, "owner", true)
	first := createTestUser(t, store, "first", true)
	second := createTestUser(t, store, "second", true)
	mod, _ := createTestMod(t, store, owner.ID, "shared")

	for _, target := range []models.User{first, second} {
		if _, err := store.GrantSharedAuthor(mod.ID, target.ID); err != nil {
			t.Fatalf("GrantSharedAuthor: %v", err)
		}
		if _, err := store.AcceptSharedAuthor(mod.ID, target.ID); err != nil {
			t.Fatalf("AcceptSharedAuthor: %v", err)
		}
	}

	if err := store.RevokeSharedAuthor(mod.ID, first.ID); err != nil {
		t.Fatalf("RevokeSharedAuthor: %v", err)
	}
	if _, ok := store.SharedAuthorFor(mod.ID, first.ID); ok {
		t.Fatal("revoked grant still present")
	}
	if _, ok := store.SharedAuthorFor(mod.ID, second.ID); !ok {
		t.Fatal("revoke removed the wrong user's grant")
	}
}

func TestRevokeRefusals(t *testing.T) {
	store := newTestStorage(t)
	owner := createTestUser(t, store, "owner", true)
	stranger := createTestUser(t, store, "stranger", true)
	mod, _ := createTestMod(t, store, owner.ID, "shared")

	if err := store.RevokeSharedAuthor(mod.ID, owner.ID); !errors.Is(err, ErrOwnerGrant) {
		t.Fatalf("expected ErrOwnerGrant, got %v", err)
	}
	if err := store.RevokeSharedAuthor(mod.ID, stranger.ID); !errors.Is(err, ErrNotAnAuthor) {
		t.Fatalf("expected ErrNotAnAuthor, got %v", err)
	}
	if err := store.RevokeSharedAuthor(999, stranger.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestLedgerSurvivesReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.json")
	store, err := NewStorage(path)
	if err != nil {
		t.Fatalf("NewStorage: %v", err)
	}
	owner := createTestUser(t, store, "owner", true)
	mod, first := createTestMod(t, store, owner.ID, "durable")
	second, err := store.CreateVersion(mod.ID, CreateVersionParams{FriendlyVersion: "2.0", GameVersion: "0.25", DownloadPath: "p2.zip"})
	if err != nil {
		t.Fatalf("CreateVersion: %v", err)
	}
	if _, err := store.SetDefaultVersion(mod.ID, second.ID); err != nil {
		t.Fatalf("SetDefaultVersion: %v", err)
	}

	reloaded, err := NewStorage(path)
	if err != nil {
		t.Fatalf("reopen storage: %v", err)
	}
	versions := reloaded.ListVersions(mod.ID)
	if len(versions) != 2 || versions[0].ID != first.ID || versions[1].ID != second.ID {
		t.Fatalf("ledger mismatch after reload: %+v", versions)
	}
	latest, ok := reloaded.LatestVersion(mod.ID)
	if !ok || latest.ID != second.ID {
		t.Fatalf("default pointer lost on reload: %+v", latest)
	}

	// New versions continue the sequence rather than reusing IDs.
	third, err := reloaded.CreateVersion(mod.ID, CreateVersionParams{FriendlyVersion: "3.0", GameVersion: "0.25", DownloadPath: "p3.zip"})
	if err != nil {
		t.Fatalf("CreateVersion after reload: %v", err)
	}
	if third.ID <= second.ID || third.SortIndex != 3 {
		t.Fatalf("sequence broken after reload: %+v", third)
	}
}

func TestConcurrentVersionCreation(t *testing.T) {
	store := newTestStorage(t)
	owner := createTestUser(t, store, "owner", true)
	mod, _ := createTestMod(t, store, owner.ID, "contended")

	const uploads = 8
	done := make(chan error, uploads)
	for i := 0; i < uploads; i++ {
		go func(n int) {
			_, err := store.CreateVersion(mod.ID, CreateVersionParams{
				FriendlyVersion: fmt.Sprintf("2.%d", n),
				GameVersion:     "0.25",
				DownloadPath:    fmt.Sprintf("c-%d.zip", n),
			})
			done <- err
		}(i)
	}
	for i := 0; i < uploads; i++ {
		if err := <-done; err != nil {
			t.Fatalf("concurrent CreateVersion: %v", err)
		}
	}

	versions := store.ListVersions(mod.ID)
	if len(versions) != uploads+1 {
		t.Fatalf("expected %d versions, got %d", uploads+1, len(versions))
	}
	seen := make(map[int]bool)
	for _, version := range versions {
		if seen[version.SortIndex] {
			t.Fatalf("duplicate sort index %d", version.SortIndex)
		}
		seen[version.SortIndex] = true
	}
	for i := 1; i <= uploads+1; i++ {
		if !seen[i] {
			t.Fatalf("gap at sort index %d", i)
		}
	}
}
