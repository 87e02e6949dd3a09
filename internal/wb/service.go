package wb

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Service is the workbench manager: the facade composing the sandbox, the
// manifest, the draft lifecycle, checkpoints, restore, consent, and fork
// per workbench ID. It exclusively owns all on-disk state under baseDir.
type Service struct {
	baseDir string
	limits  Limits
	store   DocStore
	cache   DerivedCache
	locks   Locker
	logger  Logger
	clock   Clock
	idgen   IDGenerator
}

// NewService creates a Service rooted at baseDir with the provided
// dependencies. Call Init before serving any operation.
func NewService(baseDir string, limits Limits, store DocStore, cache DerivedCache, locks Locker, logger Logger, clock Clock, idgen IDGenerator) *Service {
	return &Service{
		baseDir: baseDir,
		limits:  limits,
		store:   store,
		cache:   cache,
		locks:   locks,
		logger:  logger,
		clock:   clock,
		idgen:   idgen,
	}
}

// Init creates the base directory and runs the one-time startup cleanup:
// orphaned staging and rollback directories, interrupted restores, and
// review artifacts for drafts that no longer exist. It must complete before
// the engine accepts calls.
func (s *Service) Init() error {
	if err := os.MkdirAll(s.baseDir, 0o755); err != nil {
		return fmt.Errorf("creating base directory: %w", err)
	}
	if err := s.sweepTransientDirs(); err != nil {
		return fmt.Errorf("sweeping transient directories: %w", err)
	}
	if err := s.recoverRestores(); err != nil {
		return fmt.Errorf("recovering interrupted restores: %w", err)
	}
	return s.sweepReviewArtifacts()
}

// sweepTransientDirs removes rollback copies and orphaned tool-worker
// staging areas left behind by an unclean shutdown.
func (s *Service) sweepTransientDirs() error {
	roots, err := s.workbenchRoots()
	if err != nil {
		return err
	}
	for _, root := range roots {
		_ = os.RemoveAll(filepath.Join(root, draftDirName+".prev"))
		children, err := os.ReadDir(root)
		if err != nil {
			continue
		}
		for _, child := range children {
			if !child.IsDir() {
				continue
			}
			name := child.Name()
			if strings.HasPrefix(name, draftDirName+".") && strings.HasSuffix(name, ".staging") {
				s.logger.Warn("removing orphaned staging area", "dir", name)
				_ = os.RemoveAll(filepath.Join(root, name))
			}
		}
	}
	return nil
}

// sweepReviewArtifacts deletes review data for drafts that no longer exist,
// and review subtrees for draft IDs other than the live one.
func (s *Service) sweepReviewArtifacts() error {
	roots, err := s.workbenchRoots()
	if err != nil {
		return err
	}
	for _, root := range roots {
		reviewRoot := filepath.Join(root, metaDirName, "review")
		var state DraftState
		err := s.store.Read(filepath.Join(root, metaDirName, draftDoc), &state)
		if err != nil || state.DraftID == "" {
			_ = os.RemoveAll(reviewRoot)
			continue
		}
		entries, err := os.ReadDir(reviewRoot)
		if err != nil {
			continue
		}
		for _, entry := range entries {
			if entry.IsDir() && entry.Name() != state.DraftID {
				_ = os.RemoveAll(filepath.Join(reviewRoot, entry.Name()))
			}
		}
	}
	return nil
}

// Create makes a new empty workbench and returns its record.
func (s *Service) Create(name, defaultModelID string) (*Workbench, error) {
	if strings.TrimSpace(name) == "" {
		name = "Untitled Workbench"
	}
	id := s.idgen.New()
	root := filepath.Join(s.baseDir, id)
	if err := os.MkdirAll(filepath.Join(root, publishedDirName), 0o755); err != nil {
		return nil, fmt.Errorf("creating published directory: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(root, metaDirName), 0o755); err != nil {
		return nil, fmt.Errorf("creating meta directory: %w", err)
	}
	now := s.nowString()
	bench := &Workbench{ID: id, Name: name, CreatedAt: now, UpdatedAt: now, DefaultModelID: defaultModelID}
	if err := s.store.Write(filepath.Join(root, metaDirName, workbenchDoc), bench); err != nil {
		return nil, fmt.Errorf("writing workbench record: %w", err)
	}
	manifest := &FileManifest{SchemaVersion: manifestSchema, Files: []FileEntry{}}
	if err := s.writeManifest(root, manifest); err != nil {
		return nil, err
	}
	s.logger.Info("workbench created", "id", id, "name", name)
	return bench, nil
}

// Open reads a workbench record by ID.
func (s *Service) Open(id string) (*Workbench, error) {
	root, err := s.root(id)
	if err != nil {
		return nil, err
	}
	var bench Workbench
	if err := s.store.Read(filepath.Join(root, metaDirName, workbenchDoc), &bench); err != nil {
		return nil, fmt.Errorf("reading workbench record: %w", err)
	}
	return &bench, nil
}

// List returns all workbenches, most recently updated first.
func (s *Service) List() ([]Workbench, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []Workbench{}, nil
		}
		return nil, err
	}
	var benches []Workbench
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		bench, err := s.Open(entry.Name())
		if err != nil {
			continue
		}
		benches = append(benches, *bench)
	}
	sort.Slice(benches, func(i, j int) bool {
		return benches[i].UpdatedAt > benches[j].UpdatedAt
	})
	return benches, nil
}

// Delete removes a workbench and everything under its root. Blocked while a
// draft exists.
func (s *Service) Delete(id string) error {
	defer s.locks.Lock(id)()
	root, err := s.root(id)
	if err != nil {
		return err
	}
	if _, err := os.Stat(root); err != nil {
		return err
	}
	if s.hasDraft(root) {
		return ErrDraftExists
	}
	if err := os.RemoveAll(root); err != nil {
		return fmt.Errorf("deleting workbench: %w", err)
	}
	s.logger.Info("workbench deleted", "id", id)
	return nil
}

// Rename updates the workbench display name.
func (s *Service) Rename(id, name string) (*Workbench, error) {
	if strings.TrimSpace(name) == "" {
		return nil, errors.New("empty workbench name")
	}
	return s.updateRecord(id, func(bench *Workbench) {
		bench.Name = strings.TrimSpace(name)
	})
}

// SetDefaultModel updates the workbench default model ID.
func (s *Service) SetDefaultModel(id, modelID string) (*Workbench, error) {
	return s.updateRecord(id, func(bench *Workbench) {
		bench.DefaultModelID = modelID
	})
}

func (s *Service) updateRecord(id string, mutate func(*Workbench)) (*Workbench, error) {
	defer s.locks.Lock(id)()
	root, err := s.root(id)
	if err != nil {
		return nil, err
	}
	path := filepath.Join(root, metaDirName, workbenchDoc)
	var bench Workbench
	if err := s.store.Read(path, &bench); err != nil {
		return nil, fmt.Errorf("reading workbench record: %w", err)
	}
	mutate(&bench)
	bench.UpdatedAt = s.nowString()
	if err := s.store.Write(path, &bench); err != nil {
		return nil, fmt.Errorf("writing workbench record: %w", err)
	}
	return &bench, nil
}

// root validates a workbench ID and returns its on-disk root.
func (s *Service) root(id string) (string, error) {
	if id == "" || strings.ContainsAny(id, string(filepath.Separator)+"\\") || strings.Contains(id, "..") {
		return "", errors.New("invalid workbench id")
	}
	return filepath.Join(s.baseDir, id), nil
}

// workbenchRoots lists the root directory of every workbench on disk.
func (s *Service) workbenchRoots() ([]string, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var roots []string
	for _, entry := range entries {
		if entry.IsDir() {
			roots = append(roots, filepath.Join(s.baseDir, entry.Name()))
		}
	}
	return roots, nil
}

// TabularPaths returns the metadata directory and the published data
// directory for a workbench, for building derived query caches.
func (s *Service) TabularPaths(id string) (metaDir, dataDir string, err error) {
	root, err := s.root(id)
	if err != nil {
		return "", "", err
	}
	return filepath.Join(root, metaDirName), filepath.Join(root, publishedDirName), nil
}

func (s *Service) hasDraft(root string) bool {
	_, err := os.Stat(filepath.Join(root, draftDirName))
	return err == nil
}

func (s *Service) nowString() string {
	return s.clock.Now().UTC().Format(time.RFC3339)
}

// readManifest loads the manifest, applying the in-place schema migration.
// A missing manifest reads as empty.
func (s *Service) readManifest(root string) (*FileManifest, error) {
	var manifest FileManifest
	path := filepath.Join(root, metaDirName, manifestDoc)
	if err := s.store.Read(path, &manifest); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &FileManifest{SchemaVersion: manifestSchema, Files: []FileEntry{}}, nil
		}
		return nil, fmt.Errorf("reading manifest: %w", err)
	}
	if migrateManifest(&manifest) {
		if err := s.writeManifest(root, &manifest); err != nil {
			return nil, err
		}
	}
	return &manifest, nil
}

func (s *Service) writeManifest(root string, manifest *FileManifest) error {
	manifest.SchemaVersion = manifestSchema
	if err := s.store.Write(filepath.Join(root, metaDirName, manifestDoc), manifest); err != nil {
		return fmt.Errorf("writing manifest: %w", err)
	}
	return nil
}

// touchUpdated bumps the workbench updated_at timestamp.
func (s *Service) touchUpdated(root string, at time.Time) error {
	path := filepath.Join(root, metaDirName, workbenchDoc)
	var bench Workbench
	if err := s.store.Read(path, &bench); err != nil {
		return err
	}
	bench.UpdatedAt = at.UTC().Format(time.RFC3339)
	return s.store.Write(path, &bench)
}
