package overlay

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
)

// FileStore persists the overlay mapping to a single JSON file.
type FileStore struct {
	path string
}

// NewFileStore creates a file-backed overlay store. The file does not need
// to exist yet; the parent directory is created on first save.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) Load(_ context.Context) (Snapshot, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return Snapshot{Entries: map[string]Flags{}, Origin: OriginAbsent}, nil
		}
		log.Printf("[warn] operation=overlay_load path=%s error=%v recovering with empty mapping", s.path, err)
		return Snapshot{Entries: map[string]Flags{}, Origin: OriginCorrupt}, nil
	}

	entries, err := Decode(data)
	if err != nil {
		log.Printf("[warn] operation=overlay_load path=%s error=%v recovering with empty mapping", s.path, err)
		return Snapshot{Entries: map[string]Flags{}, Origin: OriginCorrupt}, nil
	}

	return Snapshot{Entries: entries, Origin: OriginLoaded}, nil
}

// Save writes the full mapping via a temp file in the target directory and
// an atomic rename, so a crash mid-write never leaves a half-written file.
func (s *FileStore) Save(_ context.Context, snap *Snapshot) error {
	data, err := Encode(snap.Entries)
	if err != nil {
		return err
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create overlay dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".overlay-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp overlay file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write overlay: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close overlay: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("chmod overlay: %w", err)
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace overlay file: %w", err)
	}
	return nil
}
