package storage

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/pbkdf2"
	"golang.org/x/text/cases"

	"moddepot/internal/models"
)

const (
	passwordHashSaltLength = 16
	passwordHashKeyLength  = 32
	passwordHashIterations = 120000
)

// usernameFold is the Unicode case folding used for username matching, so
// lookups behave like the case-insensitive queries users expect.
var usernameFold = cases.Fold()

// FoldUsername normalizes a username for case-insensitive comparison.
func FoldUsername(username string) string {
	return usernameFold.String(strings.TrimSpace(username))
}

// CreateUser registers a new account. Usernames are unique under case
// folding.
func (s *Storage) CreateUser(params CreateUserParams) (models.User, error) {
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

	s.mu.Lock()
	defer s.mu.Unlock()

	folded := FoldUsername(username)
	for _, existing := range s.data.Users {
		if FoldUsername(existing.Username) == folded {
			return models.User{}, ErrUsernameTaken
		}
	}

	updatedData := cloneDataset(s.data)
	user := models.User{
		ID:           updatedData.NextUserID + 1,
		Username:     username,
		Email:        strings.TrimSpace(params.Email),
		Public:       params.Public,
		Admin:        params.Admin,
		PasswordHash: hashed,
		CreatedAt:    time.Now().UTC(),
	}
	updatedData.NextUserID = user.ID
	updatedData.Users[user.ID] = user

	if err := s.persistDataset(updatedData); err != nil {
		return models.User{}, err
	}
	s.data = updatedData

	return user, nil
}

// AuthenticateUser verifies credentials and returns the matching user.
func (s *Storage) AuthenticateUser(username, password string) (models.User, error) {
	if password == "" {
		return models.User{}, errors.New("password is required")
	}
	user, ok := s.FindUserByUsername(username)
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

// GetUser fetches a user by ID.
func (s *Storage) GetUser(id int64) (models.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.data.Users[id]
	return user, ok
}

// FindUserByUsername performs a case-folded username lookup.
func (s *Storage) FindUserByUsername(username string) (models.User, bool) {
	folded := FoldUsername(username)
	if folded == "" {
		return models.User{}, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, user := range s.data.Users {
		if FoldUsername(user.Username) == folded {
			return user, true
		}
	}
	return models.User{}, false
}

// UpdateUser applies the provided profile changes.
func (s *Storage) UpdateUser(id int64, update UserUpdate) (models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	updatedData := cloneDataset(s.data)
	user, ok := updatedData.Users[id]
	if !ok {
		return models.User{}, ErrNotFound
	}

	if update.Email != nil {
		email := strings.TrimSpace(*update.Email)
		if email == "" {
			return models.User{}, errors.New("email is required")
		}
		user.Email = email
	}
	if update.Description != nil {
		user.Description = strings.TrimSpace(*update.Description)
	}
	if update.ForumUsername != nil {
		user.ForumUsername = strings.TrimSpace(*update.ForumUsername)
	}
	if update.IRCNick != nil {
		user.IRCNick = strings.TrimSpace(*update.IRCNick)
	}
	if update.Public != nil {
		user.Public = *update.Public
	}
	if update.Admin != nil {
		user.Admin = *update.Admin
	}

	updatedData.Users[id] = user
	if err := s.persistDataset(updatedData); err != nil {
		return models.User{}, err
	}
	s.data = updatedData

	return user, nil
}

// SetUserPassword replaces the stored password hash for the provided user.
func (s *Storage) SetUserPassword(id int64, password string) (models.User, error) {
	if len(password) < 8 {
		return models.User{}, errors.New("password must be at least 8 characters")
	}

	hashed, err := hashPassword(password)
	if err != nil {
		return models.User{}, fmt.Errorf("hash password: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	updatedData := cloneDataset(s.data)
	user, ok := updatedData.Users[id]
	if !ok {
		return models.User{}, ErrNotFound
	}

	user.PasswordHash = hashed
	updatedData.Users[id] = user

	if err := s.persistDataset(updatedData); err != nil {
		return models.User{}, err
	}
	s.data = updatedData

	return user, nil
}

// SearchUsers returns public users whose username matches the query as a
// case-folded substring, paged and ordered by username. Page numbering
// starts at 1; an empty query matches everyone.
func (s *Storage) SearchUsers(query string, page, perPage int) []models.User {
	folded := usernameFold.String(strings.TrimSpace(query))

	s.mu.RLock()
	matched := make([]models.User, 0)
	for _, user := range s.data.Users {
		if !user.Public {
			continue
		}
		if folded != "" && !strings.Contains(usernameFold.String(user.Username), folded) {
			continue
		}
		matched = append(matched, user)
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool { return matched[i].Username < matched[j].Username })
	return pageSlice(matched, page, perPage)
}

func pageSlice[T any](items []T, page, perPage int) []T {
	if perPage <= 0 {
		perPage = 30
	}
	if page < 1 {
		page = 1
	}
	start := (page - 1) * perPage
	if start >= len(items) {
		return []T{}
	}
	end := start + perPage
	if end > len(items) {
		end = len(items)
	}
	return items[start:end]
}

func hashPassword(password string) (string, error) {
	salt := make([]byte, passwordHashSaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	derived := pbkdf2.Key([]byte(password), salt, passwordHashIterations, passwordHashKeyLength, sha256.New)
	encodedSalt := base64.RawStdEncoding.EncodeToString(salt)
	encodedKey := base64.RawStdEncoding.EncodeToString(derived)
	return fmt.Sprintf("pbkdf2$sha256$%d$%s$%s", passwordHashIterations, encodedSalt, encodedKey), nil
}

func verifyPassword(encodedHash, candidate string) error {
	parts := strings.Split(encodedHash, "$")
	if len(parts) != 5 {
		return fmt.Errorf("verify password: invalid hash format")
	}
	if parts[0] != "pbkdf2" || parts[1] != "sha256" {
		return fmt.Errorf("verify password: unsupported hash identifier")
	}
	iterations, err := strconv.Atoi(parts[2])
	if err != nil || iterations <= 0 {
		return fmt.Errorf("verify password: invalid iteration count")
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[3])
	if err != nil {
		return fmt.Errorf("verify password: decode salt: %w", err)
	}
	storedKey, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return fmt.Errorf("verify password: decode hash: %w", err)
	}
	derived := pbkdf2.Key([]byte(candidate), salt, iterations, len(storedKey), sha256.New)
	if len(derived) != len(storedKey) || subtle.ConstantTimeCompare(derived, storedKey) != 1 {
		return ErrInvalidCredentials
	}
	return nil
}
