// Package docstore provides JSON-document-store implementations of the
// wb.DocStore interface. Documents are small and read/written wholesale;
// the filesystem backend guarantees atomic writes via temp file + rename.
package docstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"wb-go/internal/wb"
)

// FS stores documents as pretty-printed JSON files on disk.
type FS struct{}

// NewFS creates a filesystem-backed document store.
func NewFS() *FS { return &FS{} }

var _ wb.DocStore = (*FS)(nil)

// Read decodes the document at path into dest.
func (s *FS) Read(path string, dest any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("decoding %s: %w", filepath.Base(path), err)
	}
	return nil
}

// Write marshals doc and writes it atomically, creating parent directories
// as needed.
func (s *FS) Write(path string, doc any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding %s: %w", filepath.Base(path), err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp")
	if err != nil {
		return err
	}
	name := tmp.Name()
	defer os.Remove(name)
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(name, 0o600); err != nil {
		return err
	}
	return os.Rename(name, path)
}

// Remove deletes the document at path. Removing an absent document is not
// an error.
func (s *FS) Remove(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}
