package wb

// DocStore reads and writes small JSON documents wholesale. Implementations
// must provide atomic write semantics (temp file + rename) so a document is
// never observed half-written. Read returns an error satisfying
// errors.Is(err, fs.ErrNotExist) when the document is absent.
type DocStore interface {
	Read(path string, dest any) error
	Write(path string, doc any) error
	Remove(path string) error
}

// DerivedCache removes cache artifacts derived from workbench files, such as
// query-engine databases built over tabular files. Invalidation is
// best-effort: a stale artifact is rebuilt on next use, never served.
type DerivedCache interface {
	Invalidate(metaDir string, paths []string)
}

// NopDerivedCache ignores invalidation. Use in tests.
type NopDerivedCache struct{}

func (NopDerivedCache) Invalidate(string, []string) {}
