package wb

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// DraftState returns the live draft record, or nil when no draft exists.
func (s *Service) DraftState(id string) (*DraftState, error) {
	root, err := s.root(id)
	if err != nil {
		return nil, err
	}
	state, err := s.readDraftState(root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	return state, nil
}

// readDraftState loads meta/draft.json, tolerating the legacy layout that
// nested the source under a "source" object.
func (s *Service) readDraftState(root string) (*DraftState, error) {
	path := filepath.Join(root, metaDirName, draftDoc)
	var state DraftState
	if err := s.store.Read(path, &state); err != nil {
		return nil, err
	}
	if state.SourceKind == "" || state.SourceRef == "" {
		var legacy struct {
			Source struct {
				Kind  string `json:"kind"`
				Ref   string `json:"ref"`
				JobID string `json:"job_id"`
			} `json:"source"`
		}
		if err := s.store.Read(path, &legacy); err == nil {
			if state.SourceKind == "" {
				state.SourceKind = strings.TrimSpace(legacy.Source.Kind)
			}
			if state.SourceRef == "" {
				if ref := strings.TrimSpace(legacy.Source.Ref); ref != "" {
					state.SourceRef = ref
				} else {
					state.SourceRef = strings.TrimSpace(legacy.Source.JobID)
				}
			}
		}
	}
	return &state, nil
}

// CreateDraft starts an edit session by copying published into an isolated
// draft area. Idempotent: if a draft already exists, its state is returned
// unchanged rather than erroring.
func (s *Service) CreateDraft(id string) (*DraftState, error) {
	return s.CreateDraftWithSource(id, "", "")
}

// CreateDraftWithSource is CreateDraft with provenance recorded on the
// draft state (e.g. which chat message triggered the edit).
func (s *Service) CreateDraftWithSource(id, sourceKind, sourceRef string) (*DraftState, error) {
	defer s.locks.Lock(id)()
	root, err := s.root(id)
	if err != nil {
		return nil, err
	}
	if s.hasDraft(root) {
		return s.DraftState(id)
	}
	if err := copyDir(filepath.Join(root, publishedDirName), filepath.Join(root, draftDirName)); err != nil {
		return nil, fmt.Errorf("copying published to draft: %w", err)
	}
	state := &DraftState{DraftID: s.idgen.New(), CreatedAt: s.nowString()}
	if trimmed := strings.TrimSpace(sourceKind); trimmed != "" {
		state.SourceKind = trimmed
	}
	if trimmed := strings.TrimSpace(sourceRef); trimmed != "" {
		state.SourceRef = trimmed
	}
	if err := s.store.Write(filepath.Join(root, metaDirName, draftDoc), state); err != nil {
		return nil, fmt.Errorf("writing draft state: %w", err)
	}
	s.logger.Info("draft created", "workbench", id, "draft", state.DraftID)
	return state, nil
}

// ApplyDraftWrite writes content to a file in the draft area.
func (s *Service) ApplyDraftWrite(id, relPath, content string) error {
	return s.ApplyWriteToArea(id, draftDirName, relPath, content)
}

// ApplyWriteToArea writes content to a file in the named area (the draft or
// a tool-worker staging area). The path must be flat and sandboxed and the
// extension must be in the editable allow-list. The write is atomic per
// file. Writes to tabular files invalidate the derived query cache.
func (s *Service) ApplyWriteToArea(id, area, relPath, content string) error {
	root, err := s.root(id)
	if err != nil {
		return err
	}
	if err := validateAreaName(area); err != nil {
		return err
	}
	if err := ValidateFlatPath(relPath); err != nil {
		return err
	}
	ext := strings.ToLower(filepath.Ext(relPath))
	if !editableExtensions[ext] {
		return fmt.Errorf("unsupported extension %q", ext)
	}
	full, err := ResolveUnderRoot(filepath.Join(root, area), relPath)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return err
	}
	if err := atomicWriteFile(full, []byte(content)); err != nil {
		return fmt.Errorf("writing %s: %w", relPath, err)
	}
	if area == draftDirName && ext == ".csv" {
		s.cache.Invalidate(filepath.Join(root, metaDirName), []string{relPath})
	}
	return nil
}

// CreateDraftStaging copies the draft into a named staging area for the
// tool worker. An existing staging area of the same name is replaced.
func (s *Service) CreateDraftStaging(id, stagingName string) error {
	root, err := s.root(id)
	if err != nil {
		return err
	}
	if err := validateAreaName(stagingName); err != nil {
		return err
	}
	draftPath := filepath.Join(root, draftDirName)
	if _, err := os.Stat(draftPath); err != nil {
		return fmt.Errorf("%w: %s", ErrNoDraft, id)
	}
	stagingPath := filepath.Join(root, stagingName)
	_ = os.RemoveAll(stagingPath)
	return copyDir(draftPath, stagingPath)
}

// CommitDraftStaging swaps a staging area into place as the draft. On the
// second rename failing the first is rolled back, so a draft directory is
// always present.
func (s *Service) CommitDraftStaging(id, stagingName string) error {
	root, err := s.root(id)
	if err != nil {
		return err
	}
	if err := validateAreaName(stagingName); err != nil {
		return err
	}
	draftPath := filepath.Join(root, draftDirName)
	stagingPath := filepath.Join(root, stagingName)
	if _, err := os.Stat(stagingPath); err != nil {
		return err
	}
	prevPath := filepath.Join(root, draftDirName+".prev")
	_ = os.RemoveAll(prevPath)
	if err := os.Rename(draftPath, prevPath); err != nil {
		return err
	}
	if err := os.Rename(stagingPath, draftPath); err != nil {
		_ = os.Rename(prevPath, draftPath)
		return err
	}
	_ = os.RemoveAll(prevPath)
	return nil
}

// RemoveDraftStaging deletes a staging area.
func (s *Service) RemoveDraftStaging(id, stagingName string) error {
	root, err := s.root(id)
	if err != nil {
		return err
	}
	if err := validateAreaName(stagingName); err != nil {
		return err
	}
	return os.RemoveAll(filepath.Join(root, stagingName))
}

// PublishDraft atomically promotes the draft to published. The previous
// published tree is renamed aside first; if promoting the draft fails, the
// rename is rolled back so published is never missing. On success, scratch
// files are deleted, the manifest is rebuilt from a directory scan of the
// new published tree, the draft state and its review artifacts are removed,
// and updated_at is bumped. Returns the publish timestamp.
func (s *Service) PublishDraft(id string) (time.Time, error) {
	defer s.locks.Lock(id)()
	root, err := s.root(id)
	if err != nil {
		return time.Time{}, err
	}
	state, _ := s.DraftState(id)
	draftPath := filepath.Join(root, draftDirName)
	if _, err := os.Stat(draftPath); err != nil {
		return time.Time{}, fmt.Errorf("%w: %s", ErrNoDraft, id)
	}
	publishedPath := filepath.Join(root, publishedDirName)
	prevPath := filepath.Join(root, publishedDirName+".prev")
	_ = os.RemoveAll(prevPath)
	if err := os.Rename(publishedPath, prevPath); err != nil {
		return time.Time{}, fmt.Errorf("moving published aside: %w", err)
	}
	if err := os.Rename(draftPath, publishedPath); err != nil {
		_ = os.Rename(prevPath, publishedPath)
		return time.Time{}, fmt.Errorf("promoting draft: %w", err)
	}
	_ = os.RemoveAll(prevPath)
	_ = s.store.Remove(filepath.Join(root, metaDirName, draftDoc))
	if state != nil && state.DraftID != "" {
		_ = os.RemoveAll(filepath.Join(root, metaDirName, "review", state.DraftID))
	}
	deleteScratchFiles(publishedPath)
	if manifest, err := buildManifestFromDir(publishedPath, s.clock.Now()); err == nil {
		_ = s.writeManifest(root, manifest)
	}
	now := s.clock.Now().UTC()
	_ = s.touchUpdated(root, now)
	s.logger.Info("draft published", "workbench", id)
	return now, nil
}

// DiscardDraft deletes the draft area, its state record, and any review
// artifacts tied to it. Published is untouched.
func (s *Service) DiscardDraft(id string) error {
	defer s.locks.Lock(id)()
	root, err := s.root(id)
	if err != nil {
		return err
	}
	state, _ := s.DraftState(id)
	_ = os.RemoveAll(filepath.Join(root, draftDirName))
	_ = s.store.Remove(filepath.Join(root, metaDirName, draftDoc))
	if state != nil && state.DraftID != "" {
		_ = os.RemoveAll(filepath.Join(root, metaDirName, "review", state.DraftID))
	}
	s.logger.Info("draft discarded", "workbench", id)
	return nil
}
