package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"moddepot/internal/models"
)

type dataset struct {
	Users         map[int64]models.User                  `json:"users"`
	Mods          map[int64]models.Mod                   `json:"mods"`
	Versions      map[int64]models.ModVersion            `json:"versions"`
	SharedAuthors map[int64]map[int64]models.SharedAuthor `json:"sharedAuthors"`
	NextUserID    int64                                  `json:"nextUserId"`
	NextModID     int64                                  `json:"nextModId"`
	NextVersionID int64                                  `json:"nextVersionId"`
}

// Storage is the JSON-file repository. A single mutex serializes mutations,
// which also satisfies the per-mod serialization the version ledger needs:
// the sort-index read-then-write always happens under the lock.
type Storage struct {
	mu       sync.RWMutex
	filePath string
	data     dataset
	// persistOverride allows tests to intercept persist operations.
	persistOverride func(dataset) error
}

func newDataset() dataset {
	return dataset{
		Users:         make(map[int64]models.User),
		Mods:          make(map[int64]models.Mod),
		Versions:      make(map[int64]models.ModVersion),
		SharedAuthors: make(map[int64]map[int64]models.SharedAuthor),
	}
}

func (s *Storage) ensureDatasetInitializedLocked() {
	if s.data.Users == nil {
		s.data.Users = make(map[int64]models.User)
	}
	if s.data.Mods == nil {
		s.data.Mods = make(map[int64]models.Mod)
	}
	if s.data.Versions == nil {
		s.data.Versions = make(map[int64]models.ModVersion)
	}
	if s.data.SharedAuthors == nil {
		s.data.SharedAuthors = make(map[int64]map[int64]models.SharedAuthor)
	}
}

// NewStorage opens (or initializes) the JSON datastore at path.
func NewStorage(path string) (*Storage, error) {
	store := &Storage{filePath: path}
	if err := store.load(); err != nil {
		return nil, err
	}
	return store, nil
}

// Ping reports whether the backing file's directory is reachable.
func (s *Storage) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := os.Stat(filepath.Dir(s.filePath))
	return err
}

// Close is a no-op for the file-backed store.
func (s *Storage) Close(ctx context.Context) error {
	return nil
}

func (s *Storage) load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.filePath), 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	file, err := os.Open(s.filePath)
	if errors.Is(err, os.ErrNotExist) {
		s.data = newDataset()
		return nil
	} else if err != nil {
		return fmt.Errorf("open store file: %w", err)
	}
	defer file.Close()

	decoder := json.NewDecoder(file)
	if err := decoder.Decode(&s.data); err != nil {
		if errors.Is(err, io.EOF) {
			s.data = newDataset()
			return nil
		}
		return fmt.Errorf("decode store file: %w", err)
	}

	s.ensureDatasetInitializedLocked()

	return nil
}

func (s *Storage) persist() error {
	return s.persistDataset(s.data)
}

func (s *Storage) persistDataset(data dataset) error {
	if s.persistOverride != nil {
		if err := s.persistOverride(data); err != nil {
			return err
		}
	}

	dir := filepath.Dir(s.filePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	tmpFile, err := os.CreateTemp(dir, "store-*.json")
	if err != nil {
		return fmt.Errorf("create temp store file: %w", err)
	}
	tmpPath := tmpFile.Name()
	success := false
	defer func() {
		if !success {
			_ = tmpFile.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	encoder := json.NewEncoder(tmpFile)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(data); err != nil {
		return fmt.Errorf("encode store file: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		return fmt.Errorf("flush store file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("close temp store file: %w", err)
	}

	if err := os.Rename(tmpPath, s.filePath); err != nil {
		return fmt.Errorf("replace store file: %w", err)
	}
	success = true
	return nil
}

func cloneDataset(src dataset) dataset {
	clone := dataset{
		NextUserID:    src.NextUserID,
		NextModID:     src.NextModID,
		NextVersionID: src.NextVersionID,
	}

	if src.Users != nil {
		clone.Users = make(map[int64]models.User, len(src.Users))
		for id, user := range src.Users {
			clone.Users[id] = user
		}
	}
	if src.Mods != nil {
		clone.Mods = make(map[int64]models.Mod, len(src.Mods))
		for id, mod := range src.Mods {
			clone.Mods[id] = mod
		}
	}
	if src.Versions != nil {
		clone.Versions = make(map[int64]models.ModVersion, len(src.Versions))
		for id, version := range src.Versions {
			clone.Versions[id] = version
		}
	}
	if src.SharedAuthors != nil {
		clone.SharedAuthors = make(map[int64]map[int64]models.SharedAuthor, len(src.SharedAuthors))
		for modID, grants := range src.SharedAuthors {
			if grants == nil {
				clone.SharedAuthors[modID] = nil
				continue
			}
			cloned := make(map[int64]models.SharedAuthor, len(grants))
			for userID, grant := range grants {
				cloned[userID] = grant
			}
			clone.SharedAuthors[modID] = cloned
		}
	}
	return clone
}

func (s *Storage) nextUserIDLocked() int64 {
	s.data.NextUserID++
	return s.data.NextUserID
}

func (s *Storage) nextModIDLocked() int64 {
	s.data.NextModID++
	return s.data.NextModID
}

func (s *Storage) nextVersionIDLocked() int64 {
	s.data.NextVersionID++
	return s.data.NextVersionID
}
