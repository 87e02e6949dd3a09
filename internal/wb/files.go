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

// Per-item batch outcomes. Batch operations never abort on individual
// rejects; each file's outcome carries a status and reason code instead.
type AddResult struct {
	SourcePath string `json:"source_path"`
	FileName   string `json:"file_name"`
	Status     string `json:"status"`
	Reason     string `json:"reason,omitempty"`
}

type RemoveResult struct {
	Path   string `json:"path"`
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

type ExtractResult struct {
	Path      string `json:"path"`
	Status    string `json:"status"`
	Reason    string `json:"reason,omitempty"`
	FinalPath string `json:"final_path,omitempty"`
}

// FilesList returns the manifest entries: the authoritative published file
// set, regardless of what is physically on disk.
func (s *Service) FilesList(id string) ([]FileEntry, error) {
	root, err := s.root(id)
	if err != nil {
		return nil, err
	}
	manifest, err := s.readManifest(root)
	if err != nil {
		return nil, err
	}
	return manifest.Files, nil
}

// DraftFilesList returns file entries by scanning the draft directory, so
// callers see files the agent created mid-edit. Falls back to the published
// manifest when no draft exists.
func (s *Service) DraftFilesList(id string) ([]FileEntry, error) {
	root, err := s.root(id)
	if err != nil {
		return nil, err
	}
	if !s.hasDraft(root) {
		return s.FilesList(id)
	}
	manifest, err := buildManifestFromDir(filepath.Join(root, draftDirName), s.clock.Now())
	if err != nil {
		return s.FilesList(id)
	}
	return manifest.Files, nil
}

// FilesAdd imports the given source files into the published area.
//
// Per-file rejects (symlink, directory, unreadable, over the size ceiling,
// duplicate basename) skip that file and let the rest of the batch proceed.
// The count limit is different on purpose: if the accepted files plus the
// existing manifest would exceed MaxFiles, the entire batch fails and
// nothing is added.
func (s *Service) FilesAdd(id string, sourcePaths []string) ([]AddResult, error) {
	defer s.locks.Lock(id)()
	root, err := s.root(id)
	if err != nil {
		return nil, err
	}
	if s.hasDraft(root) {
		return nil, ErrDraftExists
	}
	manifest, err := s.readManifest(root)
	if err != nil {
		return nil, err
	}
	existing := make(map[string]bool, len(manifest.Files))
	for _, entry := range manifest.Files {
		existing[strings.ToLower(entry.Path)] = true
	}

	type candidate struct {
		source string
		name   string
		info   os.FileInfo
	}
	batch := make(map[string]bool)
	var results []AddResult
	var accepted []candidate
	for _, src := range sourcePaths {
		result := AddResult{SourcePath: src}
		info, err := os.Lstat(src)
		if err != nil {
			result.Status = "skipped"
			result.Reason = "unreadable"
			results = append(results, result)
			continue
		}
		if info.Mode()&os.ModeSymlink != 0 {
			result.Status = "skipped"
			result.Reason = "symlink"
			results = append(results, result)
			continue
		}
		if info.IsDir() {
			result.Status = "skipped"
			result.Reason = "directory"
			results = append(results, result)
			continue
		}
		if info.Size() > s.limits.MaxFileSize {
			result.Status = "skipped"
			result.Reason = "size_limit"
			results = append(results, result)
			continue
		}
		name := filepath.Base(src)
		result.FileName = name
		key := strings.ToLower(name)
		if existing[key] || batch[key] {
			result.Status = "skipped"
			result.Reason = "duplicate"
			results = append(results, result)
			continue
		}
		batch[key] = true
		result.Status = "added"
		results = append(results, result)
		accepted = append(accepted, candidate{source: src, name: name, info: info})
	}

	if len(manifest.Files)+len(accepted) > s.limits.MaxFiles {
		return nil, fmt.Errorf("file limit exceeded: %d existing + %d new > %d", len(manifest.Files), len(accepted), s.limits.MaxFiles)
	}

	for _, item := range accepted {
		dest := filepath.Join(root, publishedDirName, item.name)
		if err := copyFile(item.source, dest); err != nil {
			return nil, fmt.Errorf("copying %s: %w", item.name, err)
		}
		kind, mimeType, opaque := ClassifyPath(item.name)
		manifest.Files = append(manifest.Files, FileEntry{
			Path:       item.name,
			Size:       item.info.Size(),
			ModifiedAt: item.info.ModTime().UTC().Format(time.RFC3339),
			AddedAt:    s.nowString(),
			FileKind:   kind,
			MimeType:   mimeType,
			IsOpaque:   opaque,
		})
	}
	if err := s.writeManifest(root, manifest); err != nil {
		return nil, err
	}
	s.logger.Info("files added", "workbench", id, "count", len(accepted))
	return results, nil
}

// FilesRemove deletes published files and their manifest entries. A file
// missing on disk is tolerated and still drops the manifest entry. Derived
// cache artifacts keyed by the removed paths are invalidated. Blocked while
// a draft exists.
func (s *Service) FilesRemove(id string, paths []string) ([]RemoveResult, error) {
	defer s.locks.Lock(id)()
	root, err := s.root(id)
	if err != nil {
		return nil, err
	}
	if s.hasDraft(root) {
		return nil, ErrDraftExists
	}
	manifest, err := s.readManifest(root)
	if err != nil {
		return nil, err
	}
	results := make([]RemoveResult, 0, len(paths))
	if len(paths) == 0 {
		return results, nil
	}
	index := make(map[string]FileEntry, len(manifest.Files))
	for _, entry := range manifest.Files {
		index[strings.ToLower(entry.Path)] = entry
	}
	seen := make(map[string]bool)
	dropped := make(map[string]bool)
	invalidate := make(map[string]string)
	for _, path := range paths {
		result := RemoveResult{Path: path}
		if err := ValidateFlatPath(path); err != nil {
			result.Status = "failed"
			result.Reason = "invalid_path"
			results = append(results, result)
			continue
		}
		key := strings.ToLower(path)
		if seen[key] {
			result.Status = "skipped"
			result.Reason = "duplicate_request"
			results = append(results, result)
			continue
		}
		seen[key] = true
		if entry, ok := index[key]; ok {
			target := filepath.Join(root, publishedDirName, entry.Path)
			switch err := os.Remove(target); {
			case err == nil:
				result.Status = "removed"
				dropped[key] = true
				invalidate[key] = entry.Path
			case errors.Is(err, fs.ErrNotExist):
				result.Status = "removed"
				result.Reason = "missing_on_disk"
				dropped[key] = true
				invalidate[key] = entry.Path
			default:
				result.Status = "failed"
				result.Reason = "delete_failed"
			}
			results = append(results, result)
			continue
		}
		// Not tracked: still remove a stray physical file if one exists.
		target := filepath.Join(root, publishedDirName, path)
		switch err := os.Remove(target); {
		case err == nil:
			result.Status = "removed"
			result.Reason = "untracked"
			invalidate[key] = path
		case errors.Is(err, fs.ErrNotExist):
			result.Status = "skipped"
			result.Reason = "not_found"
		default:
			result.Status = "failed"
			result.Reason = "delete_failed"
		}
		results = append(results, result)
	}
	if len(dropped) > 0 {
		kept := make([]FileEntry, 0, len(manifest.Files))
		for _, entry := range manifest.Files {
			if dropped[strings.ToLower(entry.Path)] {
				continue
			}
			kept = append(kept, entry)
		}
		manifest.Files = kept
		if err := s.writeManifest(root, manifest); err != nil {
			return nil, err
		}
	}
	if len(invalidate) > 0 {
		stale := make([]string, 0, len(invalidate))
		for _, path := range invalidate {
			stale = append(stale, path)
		}
		s.cache.Invalidate(filepath.Join(root, metaDirName), stale)
	}
	return results, nil
}

// FilesExtract copies published files to an external destination directory
// with collision-safe naming. Blocked while a draft exists. With no paths
// given, every manifest entry is extracted.
func (s *Service) FilesExtract(id, destinationDir string, paths []string) ([]ExtractResult, error) {
	root, err := s.root(id)
	if err != nil {
		return nil, err
	}
	if s.hasDraft(root) {
		return nil, ErrDraftExists
	}
	destinationDir = strings.TrimSpace(destinationDir)
	if destinationDir == "" {
		return nil, ErrInvalidDestination
	}
	destInfo, err := os.Stat(destinationDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: destination not found", ErrInvalidDestination)
		}
		return nil, err
	}
	if !destInfo.IsDir() {
		return nil, ErrInvalidDestination
	}

	manifest, err := s.readManifest(root)
	if err != nil {
		return nil, err
	}
	requested := paths
	if len(requested) == 0 {
		requested = make([]string, 0, len(manifest.Files))
		for _, entry := range manifest.Files {
			requested = append(requested, entry.Path)
		}
	}

	index := make(map[string]FileEntry, len(manifest.Files))
	for _, entry := range manifest.Files {
		index[strings.ToLower(entry.Path)] = entry
	}
	seen := make(map[string]bool, len(requested))
	results := make([]ExtractResult, 0, len(requested))
	for _, path := range requested {
		result := ExtractResult{Path: path}
		if err := ValidateFlatPath(path); err != nil {
			result.Status = "failed"
			result.Reason = "invalid_path"
			results = append(results, result)
			continue
		}
		key := strings.ToLower(path)
		if seen[key] {
			result.Status = "skipped"
			result.Reason = "duplicate_request"
			results = append(results, result)
			continue
		}
		seen[key] = true

		sourceName := path
		if entry, ok := index[key]; ok {
			sourceName = entry.Path
		}
		src := filepath.Join(root, publishedDirName, sourceName)
		if _, err := os.Stat(src); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				result.Status = "skipped"
				result.Reason = "not_found"
			} else {
				result.Status = "failed"
				result.Reason = "copy_failed"
			}
			results = append(results, result)
			continue
		}

		dest, finalName, err := uniqueExtractDestination(destinationDir, sourceName)
		if err != nil {
			result.Status = "failed"
			result.Reason = "copy_failed"
			results = append(results, result)
			continue
		}
		if err := copyFile(src, dest); err != nil {
			result.Status = "failed"
			result.Reason = "copy_failed"
		} else {
			result.Status = "extracted"
			result.FinalPath = finalName
		}
		results = append(results, result)
	}
	return results, nil
}

// uniqueExtractDestination finds an unused destination name, inserting
// "(1)", "(2)", ... before the extension on collision.
func uniqueExtractDestination(destinationDir, sourceName string) (string, string, error) {
	candidate := sourceName
	for i := 0; ; i++ {
		if i > 0 {
			stem, ext := splitExtractFileName(sourceName)
			candidate = fmt.Sprintf("%s(%d)%s", stem, i, ext)
		}
		dest := filepath.Join(destinationDir, candidate)
		_, err := os.Stat(dest)
		switch {
		case err == nil:
			continue
		case errors.Is(err, fs.ErrNotExist):
			return dest, candidate, nil
		default:
			return "", "", err
		}
	}
}

// splitExtractFileName splits a name for collision suffixing. Dotfiles with
// no further extension and extensionless names take the suffix after the
// full name.
func splitExtractFileName(name string) (stem, ext string) {
	if strings.HasPrefix(name, ".") && strings.Count(name, ".") == 1 {
		return name, ""
	}
	ext = filepath.Ext(name)
	if ext == "" {
		return name, ""
	}
	stem = strings.TrimSuffix(name, ext)
	if stem == "" {
		return name, ""
	}
	return stem, ext
}

// ReadFileBytes reads a file from a workbench area (published or draft)
// after sandbox validation. This is the only read path handed to the tool
// worker and review surface.
func (s *Service) ReadFileBytes(id, area, relPath string) ([]byte, error) {
	full, err := s.areaFilePath(id, area, relPath)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(full)
}

// ReadFile is ReadFileBytes with a string result.
func (s *Service) ReadFile(id, area, relPath string) (string, error) {
	data, err := s.ReadFileBytes(id, area, relPath)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// StatFile stats a file in a workbench area after sandbox validation.
func (s *Service) StatFile(id, area, relPath string) (os.FileInfo, error) {
	full, err := s.areaFilePath(id, area, relPath)
	if err != nil {
		return nil, err
	}
	return os.Stat(full)
}

func (s *Service) areaFilePath(id, area, relPath string) (string, error) {
	root, err := s.root(id)
	if err != nil {
		return "", err
	}
	if err := validateAreaName(area); err != nil {
		return "", err
	}
	if err := ValidateFlatPath(relPath); err != nil {
		return "", err
	}
	return ResolveUnderRoot(filepath.Join(root, area), relPath)
}
