package wb

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// forkClearedHistory lists the metadata subtrees cleared by fork modes that
// do not carry conversation and job history across.
var forkClearedHistory = []string{
	"conversation.jsonl",
	"workshop_state.json",
	"workshop",
	"checkpoints",
	"jobs",
	"workbench_events.jsonl",
	"egress_events.jsonl",
}

// Fork clones a source workbench into a new one under the given
// metadata-retention mode. All modes strip any in-progress draft, review
// artifacts, and the consent record: consent is never inherited across a
// fork. Blocked while the source has an active draft.
func (s *Service) Fork(sourceID, mode, name, fromMessageID string) (*Workbench, error) {
	if err := validateForkMode(mode); err != nil {
		return nil, err
	}
	defer s.locks.Lock(sourceID)()
	sourceRoot, err := s.root(sourceID)
	if err != nil {
		return nil, err
	}
	source, err := s.Open(sourceID)
	if err != nil {
		return nil, err
	}
	if s.hasDraft(sourceRoot) {
		return nil, ErrDraftExists
	}
	if strings.TrimSpace(name) == "" {
		name = source.Name
	}
	target, err := s.Create(name, source.DefaultModelID)
	if err != nil {
		return nil, err
	}
	targetRoot := filepath.Join(s.baseDir, target.ID)
	if err := s.copyForkData(sourceRoot, targetRoot); err != nil {
		_ = os.RemoveAll(targetRoot)
		return nil, fmt.Errorf("copying fork data: %w", err)
	}
	s.stripForkMetadata(targetRoot, mode)
	now := s.nowString()
	target.ParentWorkbenchID = source.ID
	target.ForkMode = mode
	target.ForkedAt = now
	target.UpdatedAt = now
	if trimmed := strings.TrimSpace(fromMessageID); trimmed != "" {
		target.ForkedFromMessageID = trimmed
	}
	if err := s.store.Write(filepath.Join(targetRoot, metaDirName, workbenchDoc), target); err != nil {
		_ = os.RemoveAll(targetRoot)
		return nil, fmt.Errorf("writing forked workbench record: %w", err)
	}
	s.logger.Info("workbench forked", "source", sourceID, "target", target.ID, "mode", mode)
	return target, nil
}

func validateForkMode(mode string) error {
	switch mode {
	case ForkModeCloneFilesOnly, ForkModeCloneFilesAndContextNoChat, ForkModeCloneAll:
		return nil
	default:
		return errors.New("invalid fork mode")
	}
}

// copyForkData replaces the target's published and meta trees with full
// copies of the source's.
func (s *Service) copyForkData(sourceRoot, targetRoot string) error {
	targetPublished := filepath.Join(targetRoot, publishedDirName)
	_ = os.RemoveAll(targetPublished)
	if err := copyDir(filepath.Join(sourceRoot, publishedDirName), targetPublished); err != nil {
		return err
	}
	targetMeta := filepath.Join(targetRoot, metaDirName)
	_ = os.RemoveAll(targetMeta)
	return copyDir(filepath.Join(sourceRoot, metaDirName), targetMeta)
}

// stripForkMetadata deletes the subtrees the chosen mode does not retain.
func (s *Service) stripForkMetadata(targetRoot, mode string) {
	metaRoot := filepath.Join(targetRoot, metaDirName)
	_ = os.RemoveAll(filepath.Join(targetRoot, draftDirName))
	_ = os.Remove(filepath.Join(metaRoot, draftDoc))
	_ = os.RemoveAll(filepath.Join(metaRoot, "review"))
	// Consent is scoped per workbench and must be granted independently.
	_ = os.Remove(filepath.Join(metaRoot, consentDoc))

	if mode == ForkModeCloneFilesAndContextNoChat || mode == ForkModeCloneFilesOnly {
		for _, rel := range forkClearedHistory {
			_ = os.RemoveAll(filepath.Join(metaRoot, rel))
		}
		if mode == ForkModeCloneFilesOnly {
			_ = os.RemoveAll(filepath.Join(metaRoot, "context"))
		}
	}
}
