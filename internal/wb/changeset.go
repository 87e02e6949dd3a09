package wb

import (
	"os"
	"path/filepath"
	"sort"

	"wb-go/internal/diff"
)

const (
	ChangeAdded    = "added"
	ChangeModified = "modified"
)

// Change is one entry of the published-vs-draft change set. Lines carries a
// rendered diff for modified text files small enough to diff.
type Change struct {
	Path          string      `json:"path"`
	ChangeType    string      `json:"change_type"`
	Lines         []diff.Line `json:"lines,omitempty"`
	DiffTruncated bool        `json:"diff_truncated,omitempty"`
}

// ChangeSet compares published against the draft and reports additions and
// modifications. Deletions are deliberately not reported as diff entries:
// if any published file is absent from the draft, ErrDeletionDetected is
// returned so the caller routes destructive changes through an explicit
// confirmation path.
func (s *Service) ChangeSet(id string) ([]Change, error) {
	root, err := s.root(id)
	if err != nil {
		return nil, err
	}
	publishedDir := filepath.Join(root, publishedDirName)
	draftDir := filepath.Join(root, draftDirName)
	publishedFiles, err := hashFilesInDir(publishedDir)
	if err != nil {
		return nil, err
	}
	draftFiles, err := hashFilesInDir(draftDir)
	if err != nil {
		return nil, err
	}
	for path := range publishedFiles {
		if _, ok := draftFiles[path]; !ok {
			return nil, ErrDeletionDetected
		}
	}
	changes := []Change{}
	for path, draftHash := range draftFiles {
		publishedHash, ok := publishedFiles[path]
		if !ok {
			changes = append(changes, Change{Path: path, ChangeType: ChangeAdded})
			continue
		}
		if publishedHash == draftHash {
			continue
		}
		change := Change{Path: path, ChangeType: ChangeModified}
		if kind, _, _ := ClassifyPath(path); kind == FileKindText {
			before, errBefore := os.ReadFile(filepath.Join(publishedDir, path))
			after, errAfter := os.ReadFile(filepath.Join(draftDir, path))
			if errBefore == nil && errAfter == nil {
				change.Lines, change.DiffTruncated = diff.LinesWithLimit(string(before), string(after), 0)
			}
		}
		changes = append(changes, change)
	}
	sort.Slice(changes, func(i, j int) bool { return changes[i].Path < changes[j].Path })
	return changes, nil
}
