package storage

import (
	"archive/zip"
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
)

func zipBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	writer := zip.NewWriter(&buf)
	file, err := writer.Create("readme.txt")
	if err != nil {
		t.Fatalf("create zip entry: %v", err)
	}
	if _, err := file.Write([]byte("hello")); err != nil {
		t.Fatalf("write zip entry: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close zip writer: %v", err)
	}
	return buf.Bytes()
}

func TestArtifactStoreRoundTrip(t *testing.T) {
	store := NewArtifactStore(t.TempDir())
	payload := zipBytes(t)

	if err := store.Store("alice_1/mod/mod-1.0.zip", bytes.NewReader(payload), true); err != nil {
		t.Fatalf("Store: %v", err)
	}
	if !store.Exists("alice_1/mod/mod-1.0.zip") {
		t.Fatal("expected stored artifact to exist")
	}

	file, err := store.Open("alice_1/mod/mod-1.0.zip")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer file.Close()
	got, err := io.ReadAll(file)
	if err != nil {
		t.Fatalf("read artifact: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatal("stored artifact does not match upload")
	}
}

func TestArtifactStoreRejectsInvalidZip(t *testing.T) {
	store := NewArtifactStore(t.TempDir())

	err := store.Store("alice_1/mod/mod-1.0.zip", bytes.NewReader([]byte("not a zip")), true)
	if !errors.Is(err, ErrInvalidArchive) {
		t.Fatalf("expected ErrInvalidArchive, got %v", err)
	}
	if store.Exists("alice_1/mod/mod-1.0.zip") {
		t.Fatal("invalid upload must be removed from disk")
	}
}

func TestArtifactStoreDuplicateVersionConflict(t *testing.T) {
	store := NewArtifactStore(t.TempDir())
	payload := zipBytes(t)

	if err := store.Store("alice_1/mod/mod-1.0.zip", bytes.NewReader(payload), false); err != nil {
		t.Fatalf("first Store: %v", err)
	}
	err := store.Store("alice_1/mod/mod-1.0.zip", bytes.NewReader([]byte("other")), false)
	if !errors.Is(err, ErrVersionOnDisk) {
		t.Fatalf("expected ErrVersionOnDisk, got %v", err)
	}

	// The original artifact is untouched by the refused write.
	file, err := store.Open("alice_1/mod/mod-1.0.zip")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer file.Close()
	got, err := io.ReadAll(file)
	if err != nil {
		t.Fatalf("read artifact: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatal("conflicting upload must leave the original intact")
	}
}

func TestArtifactStoreReplaceExisting(t *testing.T) {
	store := NewArtifactStore(t.TempDir())

	if err := store.Store("a_1/m/m-1.zip", bytes.NewReader(zipBytes(t)), true); err != nil {
		t.Fatalf("first Store: %v", err)
	}
	if err := store.Store("a_1/m/m-1.zip", bytes.NewReader(zipBytes(t)), true); err != nil {
		t.Fatalf("replacing Store: %v", err)
	}
}

func TestArtifactStoreRejectsEscapingPaths(t *testing.T) {
	root := t.TempDir()
	store := NewArtifactStore(root)

	for _, rel := range []string{"../outside.zip", "/abs/path.zip", "."} {
		if err := store.Store(rel, bytes.NewReader(zipBytes(t)), true); err == nil {
			t.Fatalf("expected Store(%q) to be rejected", rel)
		}
		if _, err := store.Open(rel); err == nil {
			t.Fatalf("expected Open(%q) to be rejected", rel)
		}
	}

	entries, err := os.ReadDir(filepath.Dir(root))
	if err != nil {
		t.Fatalf("read parent dir: %v", err)
	}
	for _, entry := range entries {
		if entry.Name() == "outside.zip" {
			t.Fatal("artifact escaped the storage root")
		}
	}
}

func TestArtifactStoreOpenMissing(t *testing.T) {
	store := NewArtifactStore(t.TempDir())
	if _, err := store.Open("nope/missing.zip"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestArtifactStoreRemoveMissingIsNoError(t *testing.T) {
	store := NewArtifactStore(t.TempDir())
	if err := store.Remove("nope/missing.zip"); err != nil {
		t.Fatalf("Remove missing: %v", err)
	}
}
