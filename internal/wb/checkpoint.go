package wb

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// CheckpointMetadata describes one immutable snapshot. It is never mutated
// after creation.
type CheckpointMetadata struct {
	CheckpointID string          `json:"checkpoint_id"`
	CreatedAt    string          `json:"created_at"`
	Reason       string          `json:"reason"`
	Description  string          `json:"description,omitempty"`
	Stats        CheckpointStats `json:"stats,omitempty"`
}

type CheckpointStats struct {
	Files      int   `json:"files"`
	TotalBytes int64 `json:"total_bytes"`
}

// metaSnapshotAllowList is the fixed set of metadata entries captured in a
// checkpoint alongside the published tree.
var metaSnapshotAllowList = []string{
	workbenchDoc,
	manifestDoc,
	"conversation.jsonl",
	"workshop_state.json",
	consentDoc,
	"workbench_events.jsonl",
	"egress_events.jsonl",
	"jobs",
}

func (s *Service) checkpointsRoot(id string) (string, error) {
	root, err := s.root(id)
	if err != nil {
		return "", err
	}
	return filepath.Join(root, metaDirName, "checkpoints"), nil
}

// CheckpointsList returns checkpoint metadata, newest first.
func (s *Service) CheckpointsList(id string) ([]CheckpointMetadata, error) {
	root, err := s.checkpointsRoot(id)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []CheckpointMetadata{}, nil
		}
		return nil, err
	}
	var results []CheckpointMetadata
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		var meta CheckpointMetadata
		if err := s.store.Read(filepath.Join(root, entry.Name()), &meta); err != nil {
			continue
		}
		results = append(results, meta)
	}
	sort.Slice(results, func(i, j int) bool {
		return results[i].CreatedAt > results[j].CreatedAt
	})
	return results, nil
}

// CheckpointGet reads one checkpoint's metadata.
func (s *Service) CheckpointGet(id, checkpointID string) (*CheckpointMetadata, error) {
	root, err := s.checkpointsRoot(id)
	if err != nil {
		return nil, err
	}
	var meta CheckpointMetadata
	if err := s.store.Read(filepath.Join(root, checkpointID+".json"), &meta); err != nil {
		return nil, fmt.Errorf("reading checkpoint metadata: %w", err)
	}
	return &meta, nil
}

// CheckpointCreate snapshots the published tree and the metadata allow-list
// into a new checkpoint, then runs the retention pass. Snapshot files are
// hard-linked when possible and copied otherwise.
func (s *Service) CheckpointCreate(id, reason, description string) (string, error) {
	defer s.locks.Lock(id)()
	root, err := s.root(id)
	if err != nil {
		return "", err
	}
	checkpointsRoot, err := s.checkpointsRoot(id)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(checkpointsRoot, 0o755); err != nil {
		return "", err
	}
	checkpointID := s.idgen.New()
	checkpointDir := filepath.Join(checkpointsRoot, checkpointID)
	publishedSnapshot := filepath.Join(checkpointDir, "published_snapshot")
	metaSnapshot := filepath.Join(checkpointDir, "meta_snapshot")
	if err := os.MkdirAll(publishedSnapshot, 0o755); err != nil {
		return "", err
	}
	if err := os.MkdirAll(metaSnapshot, 0o755); err != nil {
		return "", err
	}
	if err := snapshotDir(filepath.Join(root, publishedDirName), publishedSnapshot); err != nil {
		return "", fmt.Errorf("snapshotting published: %w", err)
	}
	if err := s.snapshotMeta(filepath.Join(root, metaDirName), metaSnapshot); err != nil {
		return "", fmt.Errorf("snapshotting metadata: %w", err)
	}
	files, totalBytes := treeStats(publishedSnapshot)
	meta := CheckpointMetadata{
		CheckpointID: checkpointID,
		CreatedAt:    s.nowString(),
		Reason:       reason,
		Description:  description,
		Stats:        CheckpointStats{Files: files, TotalBytes: totalBytes},
	}
	if err := s.store.Write(filepath.Join(checkpointsRoot, checkpointID+".json"), meta); err != nil {
		return "", fmt.Errorf("writing checkpoint metadata: %w", err)
	}
	s.logger.Info("checkpoint created", "workbench", id, "checkpoint", checkpointID, "reason", reason, "files", files)
	s.pruneCheckpoints(id)
	return checkpointID, nil
}

// snapshotMeta copies the allow-listed metadata entries into dest. Absent
// entries are skipped.
func (s *Service) snapshotMeta(metaRoot, dest string) error {
	for _, entry := range metaSnapshotAllowList {
		src := filepath.Join(metaRoot, entry)
		info, err := os.Stat(src)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return err
		}
		destPath := filepath.Join(dest, entry)
		if info.IsDir() {
			if err := snapshotDir(src, destPath); err != nil {
				return err
			}
			continue
		}
		if err := copyOrLinkFile(src, destPath); err != nil {
			return err
		}
	}
	return nil
}

// pruneCheckpoints enforces retention: manual checkpoints are capped at
// MaxManualCheckpoints and all others at MaxAutoCheckpoints, oldest first.
// The most recent publish and pre_restore checkpoints are pinned regardless
// of age. Pruning is best-effort; failures only cost disk.
func (s *Service) pruneCheckpoints(id string) {
	checkpoints, err := s.CheckpointsList(id)
	if err != nil {
		return
	}
	var manual, auto []CheckpointMetadata
	var pinnedPublish, pinnedPreRestore string
	for _, cp := range checkpoints {
		// List is newest-first, so the first hit per reason is the most recent.
		switch cp.Reason {
		case ReasonPublish:
			if pinnedPublish == "" {
				pinnedPublish = cp.CheckpointID
			}
			auto = append(auto, cp)
		case ReasonPreRestore:
			if pinnedPreRestore == "" {
				pinnedPreRestore = cp.CheckpointID
			}
			auto = append(auto, cp)
		case ReasonManual:
			manual = append(manual, cp)
		default:
			auto = append(auto, cp)
		}
	}
	prune := func(list []CheckpointMetadata, keep int) {
		if keep < 0 || len(list) <= keep {
			return
		}
		for _, cp := range list[keep:] {
			if cp.CheckpointID == pinnedPublish || cp.CheckpointID == pinnedPreRestore {
				continue
			}
			_ = s.deleteCheckpoint(id, cp.CheckpointID)
		}
	}
	prune(manual, s.limits.MaxManualCheckpoints)
	prune(auto, s.limits.MaxAutoCheckpoints)
}

func (s *Service) deleteCheckpoint(id, checkpointID string) error {
	checkpointsRoot, err := s.checkpointsRoot(id)
	if err != nil {
		return err
	}
	_ = os.RemoveAll(filepath.Join(checkpointsRoot, checkpointID))
	_ = s.store.Remove(filepath.Join(checkpointsRoot, checkpointID+".json"))
	return nil
}
