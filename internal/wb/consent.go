package wb

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
)

// ComputeScopeHash fingerprints the manifest for consent gating: entries
// are sorted by path and the (path, size, modified_at) triple of each is
// hashed. File content is deliberately not read: adding, removing, or
// renaming a file changes the hash and forces re-consent, while a
// content-only edit that preserves size and modification time does not.
func (s *Service) ComputeScopeHash(id string) (string, error) {
	root, err := s.root(id)
	if err != nil {
		return "", err
	}
	manifest, err := s.readManifest(root)
	if err != nil {
		return "", err
	}
	entries := make([]FileEntry, len(manifest.Files))
	copy(entries, manifest.Files)
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	hasher := sha256.New()
	for _, entry := range entries {
		fmt.Fprintf(hasher, "%s\n%d\n%s\n", entry.Path, entry.Size, entry.ModifiedAt)
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// ReadConsent returns the persisted consent record. A missing record reads
// as an empty consent, never an error.
func (s *Service) ReadConsent(id string) (*Consent, error) {
	root, err := s.root(id)
	if err != nil {
		return nil, err
	}
	var consent Consent
	if err := s.store.Read(filepath.Join(root, metaDirName, consentDoc), &consent); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &Consent{SchemaVersion: manifestSchema}, nil
		}
		return nil, err
	}
	return &consent, nil
}

// WriteConsent persists the consent record for a workbench.
func (s *Service) WriteConsent(id string, consent *Consent) error {
	root, err := s.root(id)
	if err != nil {
		return err
	}
	consent.SchemaVersion = manifestSchema
	return s.store.Write(filepath.Join(root, metaDirName, consentDoc), consent)
}

// ConsentValid reports whether the stored consent still covers the current
// manifest fingerprint.
func (s *Service) ConsentValid(id string) (bool, error) {
	consent, err := s.ReadConsent(id)
	if err != nil {
		return false, err
	}
	if consent.Workshop.ScopeHash == "" {
		return false, nil
	}
	current, err := s.ComputeScopeHash(id)
	if err != nil {
		return false, err
	}
	return consent.Workshop.ScopeHash == current, nil
}
