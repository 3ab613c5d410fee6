package storage

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ArtifactStore persists uploaded archives beneath a single root directory.
// Paths handed to it come from ResolveArtifactPath and are always relative;
// anything that escapes the root is rejected outright.
type ArtifactStore struct {
	root string
}

// NewArtifactStore returns a store rooted at the provided directory. The
// directory itself is created lazily on first write.
func NewArtifactStore(root string) *ArtifactStore {
	return &ArtifactStore{root: filepath.Clean(root)}
}

// Root exposes the configured storage root.
func (s *ArtifactStore) Root() string {
	return s.root
}

func (s *ArtifactStore) fullPath(rel string) (string, error) {
	cleaned := filepath.Clean(filepath.FromSlash(rel))
	if cleaned == "." || strings.HasPrefix(cleaned, "..") || filepath.IsAbs(cleaned) {
		return "", fmt.Errorf("artifact path %q escapes storage root", rel)
	}
	return filepath.Join(s.root, cleaned), nil
}

// Exists reports whether an artifact is already present at the relative path.
func (s *ArtifactStore) Exists(rel string) bool {
	full, err := s.fullPath(rel)
	if err != nil {
		return false
	}
	info, err := os.Stat(full)
	return err == nil && !info.IsDir()
}

// Store writes the archive bytes to the relative path and validates the
// result is a well-formed zip. With replaceExisting (the create flow) a stale
// file at the target is removed first: the only way it can be there is a
// prior failed attempt. Without it (the update flow) an existing file is the
// user-facing duplicate-version conflict and the original is left untouched.
// An upload that fails zip validation is deleted before the error returns,
// so a retry never sees a stale or invalid artifact.
func (s *ArtifactStore) Store(rel string, r io.Reader, replaceExisting bool) error {
	full, err := s.fullPath(rel)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("%w: create artifact dir: %v", ErrStorageUnavailable, err)
	}
	if _, statErr := os.Stat(full); statErr == nil {
		if !replaceExisting {
			return ErrVersionOnDisk
		}
		if err := os.Remove(full); err != nil {
			return fmt.Errorf("%w: remove stale artifact: %v", ErrStorageUnavailable, err)
		}
	} else if !errors.Is(statErr, os.ErrNotExist) {
		return fmt.Errorf("%w: stat artifact: %v", ErrStorageUnavailable, statErr)
	}

	file, err := os.OpenFile(full, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("%w: create artifact: %v", ErrStorageUnavailable, err)
	}
	_, copyErr := io.Copy(file, r)
	closeErr := file.Close()
	if copyErr != nil {
		_ = os.Remove(full)
		return fmt.Errorf("%w: write artifact: %v", ErrStorageUnavailable, copyErr)
	}
	if closeErr != nil {
		_ = os.Remove(full)
		return fmt.Errorf("%w: flush artifact: %v", ErrStorageUnavailable, closeErr)
	}

	if !isZipFile(full) {
		_ = os.Remove(full)
		return ErrInvalidArchive
	}
	return nil
}

// Remove deletes the artifact at the relative path. A missing file is not an
// error.
func (s *ArtifactStore) Remove(rel string) error {
	full, err := s.fullPath(rel)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove artifact: %w", err)
	}
	return nil
}

// Open returns the stored artifact for streaming to a download response.
func (s *ArtifactStore) Open(rel string) (*os.File, error) {
	full, err := s.fullPath(rel)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(full)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("open artifact: %w", err)
	}
	return file, nil
}

func isZipFile(path string) bool {
	reader, err := zip.OpenReader(path)
	if err != nil {
		return false
	}
	_ = reader.Close()
	return true
}
