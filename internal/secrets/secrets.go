// Package secrets stores provider API keys in a single file encrypted with
// the user's passphrase via age's scrypt-based passphrase encryption. Keys
// never touch disk in plaintext.
package secrets

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"filippo.io/age"
)

// ErrNotFound is returned when no key is stored for a provider.
var ErrNotFound = errors.New("no secret stored for provider")

// Store is an age-encrypted map of provider ID to API key.
type Store struct {
	path string
}

// NewStore creates a Store backed by the file at path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Exists reports whether the secrets file has been created.
func (s *Store) Exists() bool {
	_, err := os.Stat(s.path)
	return err == nil
}

// Set stores or replaces the API key for a provider, re-encrypting the
// whole file under the passphrase.
func (s *Store) Set(passphrase, providerID, apiKey string) error {
	keys, err := s.load(passphrase)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		keys = make(map[string]string)
	}
	keys[providerID] = apiKey
	return s.save(passphrase, keys)
}

// Get returns the API key stored for a provider.
func (s *Store) Get(passphrase, providerID string) (string, error) {
	keys, err := s.load(passphrase)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", ErrNotFound, providerID)
		}
		return "", err
	}
	key, ok := keys[providerID]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, providerID)
	}
	return key, nil
}

// Delete removes the stored key for a provider. Deleting an absent key is
// not an error.
func (s *Store) Delete(passphrase, providerID string) error {
	keys, err := s.load(passphrase)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	delete(keys, providerID)
	return s.save(passphrase, keys)
}

// List returns the provider IDs with stored keys, sorted. The keys
// themselves are not returned.
func (s *Store) List(passphrase string) ([]string, error) {
	keys, err := s.load(passphrase)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	ids := make([]string, 0, len(keys))
	for id := range keys {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// load decrypts and decodes the secrets file.
func (s *Store) load(passphrase string) (map[string]string, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, err
	}

	identity, err := age.NewScryptIdentity(passphrase)
	if err != nil {
		return nil, fmt.Errorf("creating scrypt identity: %w", err)
	}

	decReader, err := age.Decrypt(bytes.NewReader(data), identity)
	if err != nil {
		return nil, fmt.Errorf("decrypting secrets: %w", err)
	}

	plaintext, err := io.ReadAll(decReader)
	if err != nil {
		return nil, fmt.Errorf("reading decrypted secrets: %w", err)
	}

	var keys map[string]string
	if err := json.Unmarshal(plaintext, &keys); err != nil {
		return nil, fmt.Errorf("parsing secrets: %w", err)
	}
	return keys, nil
}

// save encrypts and writes the secrets file atomically.
func (s *Store) save(passphrase string, keys map[string]string) error {
	plaintext, err := json.Marshal(keys)
	if err != nil {
		return fmt.Errorf("encoding secrets: %w", err)
	}

	recipient, err := age.NewScryptRecipient(passphrase)
	if err != nil {
		return fmt.Errorf("creating scrypt recipient: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return fmt.Errorf("creating secrets directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".secrets-*")
	if err != nil {
		return fmt.Errorf("creating temp secrets file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	encWriter, err := age.Encrypt(tmp, recipient)
	if err != nil {
		tmp.Close()
		return fmt.Errorf("creating encrypted writer: %w", err)
	}
	if _, err := encWriter.Write(plaintext); err != nil {
		tmp.Close()
		return fmt.Errorf("encrypting secrets: %w", err)
	}
	if err := encWriter.Close(); err != nil {
		tmp.Close()
		return fmt.Errorf("finalizing encryption: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpPath, 0600); err != nil {
		return err
	}
	return os.Rename(tmpPath, s.path)
}
