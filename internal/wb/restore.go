package wb

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// restoreMarker is written to disk before a restore mutates any live state.
// Its presence after an unclean shutdown signals that the restore must be
// completed or rolled back on next startup.
type restoreMarker struct {
	CheckpointID   string `json:"checkpoint_id"`
	PreRestoreID   string `json:"pre_restore_checkpoint_id,omitempty"`
	CreatedAt      string `json:"created_at"`
	PublishedPrev  string `json:"published_prev,omitempty"`
	MetaRestoreTmp string `json:"meta_restore_tmp,omitempty"`
}

const (
	publishedRestoreTmp = publishedDirName + ".restore_tmp"
	metaRestoreTmp      = "restore_tmp"
)

// RestoreCheckpoint performs a full restore: published tree plus the
// checkpoint's metadata snapshot, i.e. time travel for both files and
// conversation/job history. preRestoreID optionally names a checkpoint
// taken immediately before, recorded in the marker for diagnostics.
//
// Protocol: stage the snapshot into temp directories, write the restore
// marker, rename the live directories aside, rename the staged directories
// into place, and only then delete the marker and aside-copies.
func (s *Service) RestoreCheckpoint(id, checkpointID, preRestoreID string) error {
	defer s.locks.Lock(id)()
	root, err := s.root(id)
	if err != nil {
		return err
	}
	checkpointsRoot, err := s.checkpointsRoot(id)
	if err != nil {
		return err
	}
	checkpointDir := filepath.Join(checkpointsRoot, checkpointID)
	publishedSnapshot := filepath.Join(checkpointDir, "published_snapshot")
	metaSnapshot := filepath.Join(checkpointDir, "meta_snapshot")
	if _, err := os.Stat(publishedSnapshot); err != nil {
		return fmt.Errorf("checkpoint published snapshot: %w", err)
	}
	if _, err := os.Stat(metaSnapshot); err != nil {
		return fmt.Errorf("checkpoint meta snapshot: %w", err)
	}

	publishedTmp := filepath.Join(root, publishedRestoreTmp)
	metaTmp := filepath.Join(root, metaDirName, metaRestoreTmp)
	_ = os.RemoveAll(publishedTmp)
	_ = os.RemoveAll(metaTmp)
	if err := snapshotDir(publishedSnapshot, publishedTmp); err != nil {
		return fmt.Errorf("staging published restore: %w", err)
	}
	if err := snapshotDir(metaSnapshot, metaTmp); err != nil {
		return fmt.Errorf("staging meta restore: %w", err)
	}

	marker := restoreMarker{
		CheckpointID:   checkpointID,
		PreRestoreID:   preRestoreID,
		CreatedAt:      s.nowString(),
		PublishedPrev:  filepath.Join(root, publishedDirName+".prev"),
		MetaRestoreTmp: metaTmp,
	}
	markerPath := filepath.Join(root, metaDirName, markerDoc)
	if err := s.store.Write(markerPath, marker); err != nil {
		return fmt.Errorf("writing restore marker: %w", err)
	}

	if err := s.swapPublished(root, publishedTmp); err != nil {
		return err
	}
	if err := s.replaceMetaEntries(filepath.Join(root, metaDirName), metaTmp); err != nil {
		return fmt.Errorf("replacing metadata: %w", err)
	}
	_ = os.RemoveAll(filepath.Join(root, publishedDirName+".prev"))
	_ = os.RemoveAll(metaTmp)
	_ = s.store.Remove(markerPath)
	s.logger.Info("checkpoint restored", "workbench", id, "checkpoint", checkpointID)
	return nil
}

// RestoreCheckpointPublished restores files alone, leaving conversation and
// job history untouched.
func (s *Service) RestoreCheckpointPublished(id, checkpointID string) error {
	defer s.locks.Lock(id)()
	root, err := s.root(id)
	if err != nil {
		return err
	}
	checkpointsRoot, err := s.checkpointsRoot(id)
	if err != nil {
		return err
	}
	publishedSnapshot := filepath.Join(checkpointsRoot, checkpointID, "published_snapshot")
	if _, err := os.Stat(publishedSnapshot); err != nil {
		return fmt.Errorf("checkpoint published snapshot: %w", err)
	}
	publishedTmp := filepath.Join(root, publishedRestoreTmp)
	_ = os.RemoveAll(publishedTmp)
	if err := snapshotDir(publishedSnapshot, publishedTmp); err != nil {
		return fmt.Errorf("staging published restore: %w", err)
	}
	marker := restoreMarker{
		CheckpointID:  checkpointID,
		CreatedAt:     s.nowString(),
		PublishedPrev: filepath.Join(root, publishedDirName+".prev"),
	}
	markerPath := filepath.Join(root, metaDirName, markerDoc)
	if err := s.store.Write(markerPath, marker); err != nil {
		return fmt.Errorf("writing restore marker: %w", err)
	}
	if err := s.swapPublished(root, publishedTmp); err != nil {
		return err
	}
	_ = os.RemoveAll(filepath.Join(root, publishedDirName+".prev"))
	_ = s.store.Remove(markerPath)
	s.logger.Info("published restored", "workbench", id, "checkpoint", checkpointID)
	return nil
}

// swapPublished renames published aside and the staged directory into
// place, rolling the first rename back when the second fails so a published
// directory always exists.
func (s *Service) swapPublished(root, stagedDir string) error {
	publishedPath := filepath.Join(root, publishedDirName)
	prevPath := filepath.Join(root, publishedDirName+".prev")
	_ = os.RemoveAll(prevPath)
	if err := os.Rename(publishedPath, prevPath); err != nil {
		return fmt.Errorf("moving published aside: %w", err)
	}
	if err := os.Rename(stagedDir, publishedPath); err != nil {
		_ = os.Rename(prevPath, publishedPath)
		return fmt.Errorf("installing restored published: %w", err)
	}
	return nil
}

// replaceMetaEntries installs each staged metadata entry over the live one,
// renaming the live entry to <name>.prev first and sweeping the .prev
// copies afterwards.
func (s *Service) replaceMetaEntries(metaRoot, stagedDir string) error {
	entries, err := os.ReadDir(stagedDir)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		src := filepath.Join(stagedDir, entry.Name())
		dest := filepath.Join(metaRoot, entry.Name())
		prev := dest + ".prev"
		_ = os.RemoveAll(prev)
		if _, err := os.Stat(dest); err == nil {
			if err := os.Rename(dest, prev); err != nil {
				return err
			}
		}
		if err := os.Rename(src, dest); err != nil {
			return err
		}
	}
	swept, _ := os.ReadDir(metaRoot)
	for _, entry := range swept {
		if strings.HasSuffix(entry.Name(), ".prev") {
			_ = os.RemoveAll(filepath.Join(metaRoot, entry.Name()))
		}
	}
	return nil
}

// recoverRestores scans every workbench for a leftover restore marker or
// staging directory and rolls the half-finished restore back so no
// workbench serves a torn state. The checkpoint itself is untouched, so the
// caller can simply retry the restore.
func (s *Service) recoverRestores() error {
	roots, err := s.workbenchRoots()
	if err != nil {
		return err
	}
	for _, root := range roots {
		markerPath := filepath.Join(root, metaDirName, markerDoc)
		var marker restoreMarker
		hasMarker := s.store.Read(markerPath, &marker) == nil
		publishedPath := filepath.Join(root, publishedDirName)
		publishedPrev := filepath.Join(root, publishedDirName+".prev")
		if hasMarker {
			s.logger.Warn("rolling back interrupted restore", "root", root, "checkpoint", marker.CheckpointID)
			if _, err := os.Stat(publishedPath); errors.Is(err, fs.ErrNotExist) {
				if _, err := os.Stat(publishedPrev); err == nil {
					_ = os.Rename(publishedPrev, publishedPath)
				}
			}
		}
		_ = os.RemoveAll(filepath.Join(root, publishedRestoreTmp))
		_ = os.RemoveAll(filepath.Join(root, metaDirName, metaRestoreTmp))
		_ = s.store.Remove(markerPath)
	}
	return nil
}
