package wb

import (
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// File kinds form a closed classification derived from the file extension.
// Unknown extensions classify as binary and opaque.
const (
	FileKindText   = "text"
	FileKindDocx   = "docx"
	FileKindOdt    = "odt"
	FileKindXlsx   = "xlsx"
	FileKindPptx   = "pptx"
	FileKindPdf    = "pdf"
	FileKindImage  = "image"
	FileKindBinary = "binary"
)

// FileEntry is one tracked file in the manifest. Path is a single flat file
// name, unique case-insensitively within a workbench.
type FileEntry struct {
	Path       string `json:"path"`
	Size       int64  `json:"size"`
	ModifiedAt string `json:"modified_at"`
	AddedAt    string `json:"added_at"`
	FileKind   string `json:"file_kind"`
	MimeType   string `json:"mime_type"`
	IsOpaque   bool   `json:"is_opaque"`
}

// FileManifest is the authoritative record of which files a workbench
// contains, independent of the physical directory listing.
type FileManifest struct {
	SchemaVersion int         `json:"schema_version"`
	Files         []FileEntry `json:"files"`
}

// editableExtensions is the allow-list of extensions the draft write path
// accepts. Office formats are mutated by the external tool worker, never
// through ApplyDraftWrite.
var editableExtensions = map[string]bool{
	".txt":  true,
	".csv":  true,
	".md":   true,
	".json": true,
	".xml":  true,
	".yaml": true,
	".yml":  true,
	".html": true,
	".js":   true,
	".ts":   true,
	".py":   true,
	".java": true,
	".go":   true,
	".rb":   true,
	".rs":   true,
	".c":    true,
	".cpp":  true,
	".h":    true,
	".css":  true,
	".sql":  true,
}

var officeKinds = map[string]string{
	".docx": FileKindDocx,
	".odt":  FileKindOdt,
	".xlsx": FileKindXlsx,
	".pptx": FileKindPptx,
}

var imageExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".gif":  true,
	".webp": true,
	".svg":  true,
}

// mimeFallbacks covers extensions the platform MIME database may not know.
var mimeFallbacks = map[string]string{
	".md":   "text/markdown",
	".csv":  "text/csv",
	".yaml": "text/yaml",
	".yml":  "text/yaml",
	".json": "application/json",
	".xml":  "application/xml",
	".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	".odt":  "application/vnd.oasis.opendocument.text",
	".xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	".pptx": "application/vnd.openxmlformats-officedocument.presentationml.presentation",
	".pdf":  "application/pdf",
	".svg":  "image/svg+xml",
}

// ClassifyPath derives (kind, mimeType, opaque) from a file name.
func ClassifyPath(path string) (string, string, bool) {
	ext := strings.ToLower(filepath.Ext(path))
	if ext == "" {
		return FileKindBinary, "application/octet-stream", true
	}
	if editableExtensions[ext] {
		return FileKindText, mimeTypeForExtension(ext), false
	}
	if kind, ok := officeKinds[ext]; ok {
		return kind, mimeTypeForExtension(ext), false
	}
	if ext == ".pdf" {
		return FileKindPdf, mimeTypeForExtension(ext), false
	}
	if imageExtensions[ext] {
		return FileKindImage, mimeTypeForExtension(ext), false
	}
	return FileKindBinary, mimeTypeForExtension(ext), true
}

// IsEditablePath reports whether the draft write path accepts this file name.
func IsEditablePath(path string) bool {
	return editableExtensions[strings.ToLower(filepath.Ext(path))]
}

func mimeTypeForExtension(ext string) string {
	if ext == "" {
		return "application/octet-stream"
	}
	mimeType := mime.TypeByExtension(ext)
	if mimeType == "" {
		mimeType = mimeFallbacks[ext]
	}
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	if idx := strings.Index(mimeType, ";"); idx >= 0 {
		mimeType = strings.TrimSpace(mimeType[:idx])
	}
	return mimeType
}

// buildManifestFromDir reconstructs a manifest from a directory scan,
// reconciling files created or removed outside the manifest API. Scratch
// files and subdirectories are excluded.
func buildManifestFromDir(dir string, now time.Time) (*FileManifest, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	manifest := &FileManifest{SchemaVersion: manifestSchema}
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), scratchPrefix) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		kind, mimeType, opaque := ClassifyPath(entry.Name())
		manifest.Files = append(manifest.Files, FileEntry{
			Path:       entry.Name(),
			Size:       info.Size(),
			ModifiedAt: info.ModTime().UTC().Format(time.RFC3339),
			AddedAt:    now.UTC().Format(time.RFC3339),
			FileKind:   kind,
			MimeType:   mimeType,
			IsOpaque:   opaque,
		})
	}
	return manifest, nil
}

// migrateManifest upgrades older schema entries in place. Returns true when
// anything changed and the manifest should be rewritten.
func migrateManifest(manifest *FileManifest) bool {
	changed := false
	for i := range manifest.Files {
		entry := &manifest.Files[i]
		expectedKind, expectedMime, expectedOpaque := ClassifyPath(entry.Path)
		incomplete := entry.FileKind == "" || entry.MimeType == ""

		normalized := normalizeLegacyFileKind(entry.Path, entry.FileKind)
		kindChanged := normalized != entry.FileKind
		if kindChanged {
			entry.FileKind = normalized
			changed = true
		}
		if entry.FileKind == "" {
			entry.FileKind = expectedKind
			kindChanged = true
			changed = true
		}

		if incomplete || kindChanged {
			if entry.MimeType != expectedMime {
				entry.MimeType = expectedMime
				changed = true
			}
			if entry.IsOpaque != expectedOpaque {
				entry.IsOpaque = expectedOpaque
				changed = true
			}
		}
	}
	if manifest.SchemaVersion < manifestSchema {
		manifest.SchemaVersion = manifestSchema
		changed = true
	}
	return changed
}

// normalizeLegacyFileKind maps early manifests that stored raw extensions
// (".csv", "csv") in the kind field onto the closed classification.
func normalizeLegacyFileKind(path, kind string) string {
	normalized := strings.ToLower(strings.TrimSpace(kind))
	switch normalized {
	case "":
		return ""
	case FileKindText, FileKindDocx, FileKindOdt, FileKindXlsx, FileKindPptx, FileKindPdf, FileKindImage, FileKindBinary:
		return normalized
	}

	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	alias := strings.TrimPrefix(normalized, ".")
	if ext != "" && alias == ext {
		inferred, _, _ := ClassifyPath(path)
		return inferred
	}
	return kind
}
