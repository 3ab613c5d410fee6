package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"moddepot/internal/models"
)

const modColumns = `id, owner_id, name, short_description, description, license, published,
COALESCE(default_version_id, 0), download_count, created_at, updated_at`

const versionColumns = `id, mod_id, friendly_version, game_version, sort_index, download_path, changelog, created_at`

func scanMod(row pgx.Row) (models.Mod, error) {
	var mod models.Mod
	err := row.Scan(
		&mod.ID,
		&mod.OwnerID,
		&mod.Name,
		&mod.ShortDescription,
		&mod.Description,
		&mod.License,
		&mod.Published,
		&mod.DefaultVersionID,
		&mod.DownloadCount,
		&mod.CreatedAt,
		&mod.UpdatedAt,
	)
	return mod, err
}

func scanVersion(row pgx.Row) (models.ModVersion, error) {
	var version models.ModVersion
	err := row.Scan(
		&version.ID,
		&version.ModID,
		&version.FriendlyVersion,
		&version.GameVersion,
		&version.SortIndex,
		&version.DownloadPath,
		&version.Changelog,
		&version.CreatedAt,
	)
	return version, err
}

// CreateMod inserts the mod and its first version in one transaction so a mod
// never exists without at least one version. The first version gets sort
// index 1; the default pointer stays unset until the caller assigns it.
func (r *postgresRepository) CreateMod(params CreateModParams) (models.Mod, models.ModVersion, error) {
	name := strings.TrimSpace(params.Name)
	if name == "" {
		return models.Mod{}, models.ModVersion{}, errors.New("name is required")
	}

	ctx := context.Background()
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return models.Mod{}, models.ModVersion{}, fmt.Errorf("begin create mod: %w", err)
	}
	defer tx.Rollback(ctx)

	var ownerExists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)`, params.OwnerID).Scan(&ownerExists); err != nil {
		return models.Mod{}, models.ModVersion{}, fmt.Errorf("check owner: %w", err)
	}
	if !ownerExists {
		return models.Mod{}, models.ModVersion{}, ErrNotFound
	}

	mod, err := scanMod(tx.QueryRow(ctx, `
INSERT INTO mods (owner_id, name, short_description, description, license)
VALUES ($1, $2, $3, $4, $5)
RETURNING `+modColumns,
		params.OwnerID, name, strings.TrimSpace(params.ShortDescription),
		params.Description, strings.TrimSpace(params.License)))
	if err != nil {
		return models.Mod{}, models.ModVersion{}, fmt.Errorf("insert mod: %w", err)
	}

	version, err := scanVersion(tx.QueryRow(ctx, `
INSERT INTO mod_versions (mod_id, friendly_version, game_version, sort_index, download_path, changelog)
VALUES ($1, $2, $3, 1, $4, $5)
RETURNING `+versionColumns,
		mod.ID, strings.TrimSpace(params.FirstVersion.FriendlyVersion),
		strings.TrimSpace(params.FirstVersion.GameVersion),
		params.FirstVersion.DownloadPath, params.FirstVersion.Changelog))
	if err != nil {
		return models.Mod{}, models.ModVersion{}, fmt.Errorf("insert first version: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return models.Mod{}, models.ModVersion{}, fmt.Errorf("commit create mod: %w", err)
	}
	return mod, version, nil
}

func (r *postgresRepository) GetMod(id int64) (models.Mod, bool) {
	mod, err := scanMod(r.pool.QueryRow(context.Background(),
		`SELECT `+modColumns+` FROM mods WHERE id = $1`, id))
	if err != nil {
		return models.Mod{}, false
	}
	return mod, true
}

func (r *postgresRepository) PublishMod(id int64) (models.Mod, error) {
	mod, err := scanMod(r.pool.QueryRow(context.Background(), `
UPDATE mods SET published = TRUE, updated_at = NOW()
WHERE id = $1
RETURNING `+modColumns, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Mod{}, ErrNotFound
		}
		return models.Mod{}, fmt.Errorf("publish mod: %w", err)
	}
	return mod, nil
}

func (r *postgresRepository) RecordDownload(id int64) error {
	tag, err := r.pool.Exec(context.Background(),
		`UPDATE mods SET download_count = download_count + 1 WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("record download: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *postgresRepository) ListModsByOwner(ownerID int64, publishedOnly bool) []models.Mod {
	query := `SELECT ` + modColumns + ` FROM mods WHERE owner_id = $1`
	if publishedOnly {
		query += ` AND published`
	}
	query += ` ORDER BY id`
	return r.collectMods(query, ownerID)
}

func (r *postgresRepository) SearchMods(query string, page, perPage int) []models.Mod {
	if perPage <= 0 {
		perPage = 30
	}
	if page < 1 {
		page = 1
	}
	pattern := "%" + escapeLike(strings.TrimSpace(query)) + "%"
	return r.collectMods(`
SELECT `+modColumns+`
FROM mods
WHERE published AND (name ILIKE $1 OR short_description ILIKE $1)
ORDER BY id
LIMIT $2 OFFSET $3`, pattern, perPage, (page-1)*perPage)
}

func (r *postgresRepository) collectMods(query string, args ...any) []models.Mod {
	rows, err := r.pool.Query(context.Background(), query, args...)
	if err != nil {
		return []models.Mod{}
	}
	defer rows.Close()

	mods := make([]models.Mod, 0)
	for rows.Next() {
		mod, err := scanMod(rows)
		if err != nil {
			return []models.Mod{}
		}
		mods = append(mods, mod)
	}
	return mods
}

// CreateVersion appends a version to the mod's ledger. The mod row is locked
// with SELECT ... FOR UPDATE so the max+1 sort-index read and the insert
// happen atomically; concurrent uploads to the same mod serialize on that
// lock and can never produce duplicate or gapped indexes.
func (r *postgresRepository) CreateVersion(modID int64, params CreateVersionParams) (models.ModVersion, error) {
	friendly := strings.TrimSpace(params.FriendlyVersion)
	if friendly == "" {
		return models.ModVersion{}, errors.New("version label is required")
	}

	ctx := context.Background()
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return models.ModVersion{}, fmt.Errorf("begin create version: %w", err)
	}
	defer tx.Rollback(ctx)

	var lockedID int64
	if err := tx.QueryRow(ctx, `SELECT id FROM mods WHERE id = $1 FOR UPDATE`, modID).Scan(&lockedID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.ModVersion{}, ErrNotFound
		}
		return models.ModVersion{}, fmt.Errorf("lock mod: %w", err)
	}

	version, err := scanVersion(tx.QueryRow(ctx, `
INSERT INTO mod_versions (mod_id, friendly_version, game_version, sort_index, download_path, changelog)
SELECT $1, $2, $3, COALESCE(MAX(sort_index), 0) + 1, $4, $5
FROM mod_versions WHERE mod_id = $1
RETURNING `+versionColumns,
		modID, friendly, strings.TrimSpace(params.GameVersion), params.DownloadPath, params.Changelog))
	if err != nil {
		return models.ModVersion{}, fmt.Errorf("insert version: %w", err)
	}

	if _, err := tx.Exec(ctx, `UPDATE mods SET updated_at = NOW() WHERE id = $1`, modID); err != nil {
		return models.ModVersion{}, fmt.Errorf("touch mod: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return models.ModVersion{}, fmt.Errorf("commit create version: %w", err)
	}
	return version, nil
}

// SetDefaultVersion points the mod's default at an existing version of that
// same mod. A version belonging to another mod never resolves.
func (r *postgresRepository) SetDefaultVersion(modID, versionID int64) (models.Mod, error) {
	mod, err := scanMod(r.pool.QueryRow(context.Background(), `
UPDATE mods SET default_version_id = $2
WHERE id = $1
  AND EXISTS (SELECT 1 FROM mod_versions WHERE id = $2 AND mod_id = $1)
RETURNING `+modColumns, modID, versionID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Mod{}, ErrNotFound
		}
		return models.Mod{}, fmt.Errorf("set default version: %w", err)
	}
	return mod, nil
}

func (r *postgresRepository) GetVersion(modID, versionID int64) (models.ModVersion, bool) {
	version, err := scanVersion(r.pool.QueryRow(context.Background(),
		`SELECT `+versionColumns+` FROM mod_versions WHERE id = $1 AND mod_id = $2`, versionID, modID))
	if err != nil {
		return models.ModVersion{}, false
	}
	return version, true
}

// LatestVersion resolves the mod's default pointer, falling back to the
// highest sort index while the pointer is unset.
func (r *postgresRepository) LatestVersion(modID int64) (models.ModVersion, bool) {
	version, err := scanVersion(r.pool.QueryRow(context.Background(), `
SELECT `+versionColumns+`
FROM mod_versions v
WHERE v.mod_id = $1
ORDER BY (v.id = (SELECT COALESCE(default_version_id, 0) FROM mods WHERE id = $1)) DESC,
         v.sort_index DESC
LIMIT 1`, modID))
	if err != nil {
		return models.ModVersion{}, false
	}
	return version, true
}

func (r *postgresRepository) ListVersions(modID int64) []models.ModVersion {
	rows, err := r.pool.Query(context.Background(),
		`SELECT `+versionColumns+` FROM mod_versions WHERE mod_id = $1 ORDER BY sort_index`, modID)
	if err != nil {
		return []models.ModVersion{}
	}
	defer rows.Close()

	versions := make([]models.ModVersion, 0)
	for rows.Next() {
		version, err := scanVersion(rows)
		if err != nil {
			return []models.ModVersion{}
		}
		versions = append(versions, version)
	}
	return versions
}

func scanSharedAuthor(row pgx.Row) (models.SharedAuthor, error) {
	var grant models.SharedAuthor
	err := row.Scan(&grant.ModID, &grant.UserID, &grant.Accepted, &grant.CreatedAt)
	return grant, err
}

// GrantSharedAuthor creates a pending co-authorship grant for the target.
// The owner cannot be granted, an existing record in any state blocks a new
// one, and non-public targets are refused.
func (r *postgresRepository) GrantSharedAuthor(modID, targetID int64) (models.SharedAuthor, error) {
	ctx := context.Background()
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return models.SharedAuthor{}, fmt.Errorf("begin grant: %w", err)
	}
	defer tx.Rollback(ctx)

	var ownerID int64
	if err := tx.QueryRow(ctx, `SELECT owner_id FROM mods WHERE id = $1 FOR UPDATE`, modID).Scan(&ownerID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.SharedAuthor{}, ErrNotFound
		}
		return models.SharedAuthor{}, fmt.Errorf("lock mod: %w", err)
	}
	var targetPublic bool
	if err := tx.QueryRow(ctx, `SELECT public FROM users WHERE id = $1`, targetID).Scan(&targetPublic); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.SharedAuthor{}, ErrNotFound
		}
		return models.SharedAuthor{}, fmt.Errorf("load target: %w", err)
	}
	if ownerID == targetID {
		return models.SharedAuthor{}, ErrGrantExists
	}
	var exists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM shared_authors WHERE mod_id = $1 AND user_id = $2)`,
		modID, targetID).Scan(&exists); err != nil {
		return models.SharedAuthor{}, fmt.Errorf("check grant: %w", err)
	}
	if exists {
		return models.SharedAuthor{}, ErrGrantExists
	}
	if !targetPublic {
		return models.SharedAuthor{}, ErrProfileNotPublic
	}

	grant, err := scanSharedAuthor(tx.QueryRow(ctx, `
INSERT INTO shared_authors (mod_id, user_id)
VALUES ($1, $2)
RETURNING mod_id, user_id, accepted, created_at`, modID, targetID))
	if err != nil {
		if isUniqueViolation(err) {
			return models.SharedAuthor{}, ErrGrantExists
		}
		return models.SharedAuthor{}, fmt.Errorf("insert grant: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return models.SharedAuthor{}, fmt.Errorf("commit grant: %w", err)
	}
	return grant, nil
}

// AcceptSharedAuthor flips the actor's pending grant to accepted. A repeat
// accept reports no pending invite.
func (r *postgresRepository) AcceptSharedAuthor(modID, actorID int64) (models.SharedAuthor, error) {
	if _, ok := r.GetMod(modID); !ok {
		return models.SharedAuthor{}, ErrNotFound
	}
	grant, err := scanSharedAuthor(r.pool.QueryRow(context.Background(), `
UPDATE shared_authors SET accepted = TRUE
WHERE mod_id = $1 AND user_id = $2 AND NOT accepted
RETURNING mod_id, user_id, accepted, created_at`, modID, actorID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.SharedAuthor{}, ErrNoPendingInvite
		}
		return models.SharedAuthor{}, fmt.Errorf("accept grant: %w", err)
	}
	return grant, nil
}

// RejectSharedAuthor deletes the actor's own pending grant. Rejecting an
// accepted grant is refused; revoke is the tool for that.
func (r *postgresRepository) RejectSharedAuthor(modID, actorID int64) error {
	if _, ok := r.GetMod(modID); !ok {
		return ErrNotFound
	}
	tag, err := r.pool.Exec(context.Background(),
		`DELETE FROM shared_authors WHERE mod_id = $1 AND user_id = $2 AND NOT accepted`, modID, actorID)
	if err != nil {
		return fmt.Errorf("reject grant: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNoPendingInvite
	}
	return nil
}

// RevokeSharedAuthor deletes the target's grant in any state. It removes the
// target's record, never the acting user's.
func (r *postgresRepository) RevokeSharedAuthor(modID, targetID int64) error {
	mod, ok := r.GetMod(modID)
	if !ok {
		return ErrNotFound
	}
	if mod.OwnerID == targetID {
		return ErrOwnerGrant
	}
	tag, err := r.pool.Exec(context.Background(),
		`DELETE FROM shared_authors WHERE mod_id = $1 AND user_id = $2`, modID, targetID)
	if err != nil {
		return fmt.Errorf("revoke grant: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotAnAuthor
	}
	return nil
}

func (r *postgresRepository) SharedAuthorFor(modID, userID int64) (models.SharedAuthor, bool) {
	grant, err := scanSharedAuthor(r.pool.QueryRow(context.Background(),
		`SELECT mod_id, user_id, accepted, created_at FROM shared_authors WHERE mod_id = $1 AND user_id = $2`,
		modID, userID))
	if err != nil {
		return models.SharedAuthor{}, false
	}
	return grant, true
}

func (r *postgresRepository) ListSharedAuthors(modID int64) []models.SharedAuthor {
	rows, err := r.pool.Query(context.Background(), `
SELECT mod_id, user_id, accepted, created_at
FROM shared_authors WHERE mod_id = $1 ORDER BY user_id`, modID)
	if err != nil {
		return []models.SharedAuthor{}
	}
	defer rows.Close()

	grants := make([]models.SharedAuthor, 0)
	for rows.Next() {
		grant, err := scanSharedAuthor(rows)
		if err != nil {
			return []models.SharedAuthor{}
		}
		grants = append(grants, grant)
	}
	return grants
}
