package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"moddepot/internal/models"
)

const userColumns = `id, username, email, description, forum_username, irc_nick, public, admin, password_hash, created_at`

func scanUser(row pgx.Row) (models.User, error) {
	var user models.User
	err := row.Scan(
		&user.ID,
		&user.Username,
		&user.Email,
		&user.Description,
		&user.ForumUsername,
		&user.IRCNick,
		&user.Public,
		&user.Admin,
		&user.PasswordHash,
		&user.CreatedAt,
	)
	return user, err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func (r *postgresRepository) CreateUser(params CreateUserParams) (models.User, error) {
	username := strings.TrimSpace(params.Username)
	if username == "" {
		return models.User{}, errors.New("username is required")
	}
	if strings.TrimSpace(params.Email) == "" {
		return models.User{}, errors.New("email is required")
	}
	if len(params.Password) < 8 {
		return models.User{}, errors.New("password must be at least 8 characters")
	}
	hashed, err := hashPassword(params.Password)
	if err != nil {
		return models.User{}, fmt.Errorf("hash password: %w", err)
	}

	row := r.pool.QueryRow(context.Background(), `
INSERT INTO users (username, email, public, admin, password_hash)
VALUES ($1, $2, $3, $4, $5)
RETURNING `+userColumns, username, strings.TrimSpace(params.Email), params.Public, params.Admin, hashed)
	user, err := scanUser(row)
	if err != nil {
		if isUniqueViolation(err) {
			return models.User{}, ErrUsernameTaken
		}
		return models.User{}, fmt.Errorf("create user: %w", err)
	}
	return user, nil
}

func (r *postgresRepository) AuthenticateUser(username, password string) (models.User, error) {
	if password == "" {
		return models.User{}, errors.New("password is required")
	}
	user, ok := r.FindUserByUsername(username)
	if !ok {
		return models.User{}, ErrInvalidCredentials
	}
	if err := verifyPassword(user.PasswordHash, password); err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			return models.User{}, ErrInvalidCredentials
		}
		return models.User{}, err
	}
	return user, nil
}

func (r *postgresRepository) GetUser(id int64) (models.User, bool) {
	row := r.pool.QueryRow(context.Background(), `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	user, err := scanUser(row)
	if err != nil {
		return models.User{}, false
	}
	return user, true
}

func (r *postgresRepository) FindUserByUsername(username string) (models.User, bool) {
	trimmed := strings.TrimSpace(username)
	if trimmed == "" {
		return models.User{}, false
	}
	row := r.pool.QueryRow(context.Background(),
		`SELECT `+userColumns+` FROM users WHERE LOWER(username) = LOWER($1)`, trimmed)
	user, err := scanUser(row)
	if err != nil {
		return models.User{}, false
	}
	return user, true
}

func (r *postgresRepository) UpdateUser(id int64, update UserUpdate) (models.User, error) {
	ctx := context.Background()
	sets := make([]string, 0, 6)
	args := make([]any, 0, 7)
	add := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	if update.Email != nil {
		email := strings.TrimSpace(*update.Email)
		if email == "" {
			return models.User{}, errors.New("email is required")
		}
		add("email", email)
	}
	if update.Description != nil {
		add("description", strings.TrimSpace(*update.Description))
	}
	if update.ForumUsername != nil {
		add("forum_username", strings.TrimSpace(*update.ForumUsername))
	}
	if update.IRCNick != nil {
		add("irc_nick", strings.TrimSpace(*update.IRCNick))
	}
	if update.Public != nil {
		add("public", *update.Public)
	}
	if update.Admin != nil {
		add("admin", *update.Admin)
	}
	if len(sets) == 0 {
		user, ok := r.GetUser(id)
		if !ok {
			return models.User{}, ErrNotFound
		}
		return user, nil
	}
	args = append(args, id)
	query := fmt.Sprintf(`UPDATE users SET %s WHERE id = $%d RETURNING `+userColumns,
		strings.Join(sets, ", "), len(args))
	user, err := scanUser(r.pool.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.User{}, ErrNotFound
		}
		return models.User{}, fmt.Errorf("update user: %w", err)
	}
	return user, nil
}

func (r *postgresRepository) SetUserPassword(id int64, password string) (models.User, error) {
	if len(password) < 8 {
		return models.User{}, errors.New("password must be at least 8 characters")
	}
	hashed, err := hashPassword(password)
	if err != nil {
		return models.User{}, fmt.Errorf("hash password: %w", err)
	}
	row := r.pool.QueryRow(context.Background(),
		`UPDATE users SET password_hash = $1 WHERE id = $2 RETURNING `+userColumns, hashed, id)
	user, err := scanUser(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.User{}, ErrNotFound
		}
		return models.User{}, fmt.Errorf("set user password: %w", err)
	}
	return user, nil
}

func (r *postgresRepository) SearchUsers(query string, page, perPage int) []models.User {
	if perPage <= 0 {
		perPage = 30
	}
	if page < 1 {
		page = 1
	}
	pattern := "%" + escapeLike(strings.TrimSpace(query)) + "%"
	rows, err := r.pool.Query(context.Background(), `
SELECT `+userColumns+`
FROM users
WHERE public AND username ILIKE $1
ORDER BY username
LIMIT $2 OFFSET $3`, pattern, perPage, (page-1)*perPage)
	if err != nil {
		return []models.User{}
	}
	defer rows.Close()

	users := make([]models.User, 0)
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return []models.User{}
		}
		users = append(users, user)
	}
	return users
}

func escapeLike(raw string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return replacer.Replace(raw)
}
