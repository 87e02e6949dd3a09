package wb

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// copyFile copies a regular file, creating the destination's parent
// directory, and syncs before returning.
func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer out.Close()
	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}

// copyDir recursively copies a directory tree.
func copyDir(src, dest string) error {
	entries, err := os.ReadDir(src)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return err
	}
	for _, entry := range entries {
		srcPath := filepath.Join(src, entry.Name())
		destPath := filepath.Join(dest, entry.Name())
		if entry.IsDir() {
			if err := copyDir(srcPath, destPath); err != nil {
				return err
			}
			continue
		}
		if err := copyFile(srcPath, destPath); err != nil {
			return err
		}
	}
	return nil
}

// copyOrLinkFile prefers a hard link (zero-copy, byte-identical) and falls
// back to a real copy when linking is unavailable, e.g. cross-filesystem.
func copyOrLinkFile(src, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	if err := os.Link(src, dest); err == nil {
		return nil
	}
	return copyFile(src, dest)
}

// snapshotDir mirrors a directory tree using copyOrLinkFile per file.
func snapshotDir(src, dest string) error {
	entries, err := os.ReadDir(src)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return err
	}
	for _, entry := range entries {
		srcPath := filepath.Join(src, entry.Name())
		destPath := filepath.Join(dest, entry.Name())
		if entry.IsDir() {
			if err := snapshotDir(srcPath, destPath); err != nil {
				return err
			}
			continue
		}
		if err := copyOrLinkFile(srcPath, destPath); err != nil {
			return err
		}
	}
	return nil
}

// atomicWriteFile writes data via a temp file in the same directory followed
// by a rename, so readers never observe a partial file.
func atomicWriteFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp")
	if err != nil {
		return err
	}
	name := tmp.Name()
	defer os.Remove(name)
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(name, path)
}

// hashFilesInDir returns path -> sha256 for the regular files directly in
// dir, skipping scratch files.
func hashFilesInDir(dir string) (map[string]string, error) {
	results := make(map[string]string)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), scratchPrefix) {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, err
		}
		sum := sha256.Sum256(data)
		results[entry.Name()] = hex.EncodeToString(sum[:])
	}
	return results, nil
}

// deleteScratchFiles removes scratch-prefixed files directly under dir.
func deleteScratchFiles(dir string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasPrefix(entry.Name(), scratchPrefix) {
			_ = os.Remove(filepath.Join(dir, entry.Name()))
		}
	}
}

// treeStats counts files and bytes under root.
func treeStats(root string) (files int, totalBytes int64) {
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		files++
		totalBytes += info.Size()
		return nil
	})
	return files, totalBytes
}
