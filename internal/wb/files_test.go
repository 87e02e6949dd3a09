package wb_test

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"wb-go/internal/wb"
)

func TestFilesAddBatchOutcomes(t *testing.T) {
	limits := wb.DefaultLimits()
	limits.MaxFileSize = 16
	env := newTestEnvWithLimits(t, limits)
	bench := mustCreate(t, env, "bench")
	src := t.TempDir()

	good := seedFile(t, src, "notes.txt", "hello")
	big := seedFile(t, src, "big.bin", "this line is well over sixteen bytes")
	subdir := filepath.Join(src, "somedir")
	if err := os.MkdirAll(subdir, 0o755); err != nil {
		t.Fatal(err)
	}
	link := filepath.Join(src, "link.txt")
	if err := os.Symlink(good, link); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	results, err := env.svc.FilesAdd(bench.ID, []string{good, big, subdir, link, filepath.Join(src, "missing.txt")})
	if err != nil {
		t.Fatalf("FilesAdd() error = %v", err)
	}

	want := map[string][2]string{
		good:                            {"added", ""},
		big:                             {"skipped", "size_limit"},
		subdir:                          {"skipped", "directory"},
		link:                            {"skipped", "symlink"},
		filepath.Join(src, "missing.txt"): {"skipped", "unreadable"},
	}
	for _, r := range results {
		expected, ok := want[r.SourcePath]
		if !ok {
			t.Errorf("unexpected result for %s", r.SourcePath)
			continue
		}
		if r.Status != expected[0] || r.Reason != expected[1] {
			t.Errorf("%s: got (%s, %s), want (%s, %s)", r.SourcePath, r.Status, r.Reason, expected[0], expected[1])
		}
	}

	entries, err := env.svc.FilesList(bench.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Path != "notes.txt" {
		t.Fatalf("manifest = %+v, want single notes.txt entry", entries)
	}
	if entries[0].FileKind != wb.FileKindText {
		t.Errorf("FileKind = %q, want text", entries[0].FileKind)
	}
}

func TestFilesAddDuplicateIsCaseInsensitive(t *testing.T) {
	env := newTestEnv(t)
	bench := mustCreate(t, env, "bench")
	src := t.TempDir()

	mustAdd(t, env, bench.ID, seedFile(t, src, "Report.txt", "v1"))

	other := t.TempDir()
	dup := seedFile(t, other, "report.TXT", "v2")
	results, err := env.svc.FilesAdd(bench.ID, []string{dup})
	if err != nil {
		t.Fatalf("FilesAdd() error = %v", err)
	}
	if results[0].Status != "skipped" || results[0].Reason != "duplicate" {
		t.Errorf("case-variant duplicate: got (%s, %s), want (skipped, duplicate)", results[0].Status, results[0].Reason)
	}
}

// The count ceiling is atomic where per-file rejects are not: a batch whose
// accepted files would push the manifest over MaxFiles fails wholesale.
func TestFilesAddCountLimitFailsWholeBatch(t *testing.T) {
	limits := wb.DefaultLimits()
	limits.MaxFiles = 10
	env := newTestEnvWithLimits(t, limits)
	bench := mustCreate(t, env, "bench")
	src := t.TempDir()

	var nine []string
	for i := 0; i < 9; i++ {
		nine = append(nine, seedFile(t, src, fmt.Sprintf("file%d.txt", i), "x"))
	}
	mustAdd(t, env, bench.ID, nine...)

	two := []string{
		seedFile(t, src, "extra1.txt", "x"),
		seedFile(t, src, "extra2.txt", "x"),
	}
	if _, err := env.svc.FilesAdd(bench.ID, two); err == nil {
		t.Fatal("FilesAdd over the count limit succeeded, want error")
	}

	entries, err := env.svc.FilesList(bench.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 9 {
		t.Fatalf("failed batch mutated manifest: %d entries, want 9", len(entries))
	}

	// Skipped files do not count toward the ceiling: one accepted plus one
	// duplicate fits in the single remaining slot.
	mixed := []string{
		seedFile(t, src, "last.txt", "x"),
		seedFile(t, t.TempDir(), "file0.txt", "dup"),
	}
	results, err := env.svc.FilesAdd(bench.ID, mixed)
	if err != nil {
		t.Fatalf("FilesAdd with one free slot error = %v", err)
	}
	if results[0].Status != "added" {
		t.Errorf("last.txt status = %s, want added", results[0].Status)
	}
	if results[1].Status != "skipped" || results[1].Reason != "duplicate" {
		t.Errorf("file0.txt: got (%s, %s), want (skipped, duplicate)", results[1].Status, results[1].Reason)
	}
}

func TestFilesAddBlockedByDraft(t *testing.T) {
	env := newTestEnv(t)
	bench := mustCreate(t, env, "bench")
	src := t.TempDir()

	if _, err := env.svc.CreateDraft(bench.ID); err != nil {
		t.Fatal(err)
	}
	_, err := env.svc.FilesAdd(bench.ID, []string{seedFile(t, src, "a.txt", "x")})
	if !errors.Is(err, wb.ErrDraftExists) {
		t.Fatalf("FilesAdd with draft = %v, want ErrDraftExists", err)
	}
}

func TestFilesRemove(t *testing.T) {
	env := newTestEnv(t)
	bench := mustCreate(t, env, "bench")
	src := t.TempDir()
	mustAdd(t, env, bench.ID,
		seedFile(t, src, "keep.txt", "keep"),
		seedFile(t, src, "gone.csv", "a,b\n1,2"),
		seedFile(t, src, "vanished.txt", "poof"),
	)

	// Simulate external deletion so the manifest entry is stale.
	if err := os.Remove(filepath.Join(env.baseDir, bench.ID, "published", "vanished.txt")); err != nil {
		t.Fatal(err)
	}
	// A stray file nothing tracks.
	if err := os.WriteFile(filepath.Join(env.baseDir, bench.ID, "published", "stray.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	results, err := env.svc.FilesRemove(bench.ID, []string{
		"gone.csv", "GONE.csv", "vanished.txt", "stray.txt", "nothere.txt", "../evil",
	})
	if err != nil {
		t.Fatalf("FilesRemove() error = %v", err)
	}

	want := []struct{ status, reason string }{
		{"removed", ""},
		{"skipped", "duplicate_request"},
		{"removed", "missing_on_disk"},
		{"removed", "untracked"},
		{"skipped", "not_found"},
		{"failed", "invalid_path"},
	}
	for i, expected := range want {
		if results[i].Status != expected.status || results[i].Reason != expected.reason {
			t.Errorf("result[%d] %s: got (%s, %s), want (%s, %s)",
				i, results[i].Path, results[i].Status, results[i].Reason, expected.status, expected.reason)
		}
	}

	entries, err := env.svc.FilesList(bench.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Path != "keep.txt" {
		t.Fatalf("manifest after remove = %+v, want only keep.txt", entries)
	}

	invalidated := env.cache.Paths()
	found := map[string]bool{}
	for _, p := range invalidated {
		found[p] = true
	}
	if !found["gone.csv"] || !found["vanished.txt"] {
		t.Errorf("cache invalidations = %v, want gone.csv and vanished.txt", invalidated)
	}
}

func TestFilesExtractCollisionNaming(t *testing.T) {
	env := newTestEnv(t)
	bench := mustCreate(t, env, "bench")
	src := t.TempDir()
	mustAdd(t, env, bench.ID,
		seedFile(t, src, "report.xlsx", "sheet"),
		seedFile(t, src, ".env", "SECRET=1"),
		seedFile(t, src, "Makefile", "all:"),
	)

	dest := t.TempDir()
	// Pre-existing files force the collision path.
	for _, name := range []string{"report.xlsx", "report(1).xlsx", ".env", "Makefile"} {
		if err := os.WriteFile(filepath.Join(dest, name), []byte("existing"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	results, err := env.svc.FilesExtract(bench.ID, dest, nil)
	if err != nil {
		t.Fatalf("FilesExtract() error = %v", err)
	}

	want := map[string]string{
		"report.xlsx": "report(2).xlsx",
		".env":        ".env(1)",
		"Makefile":    "Makefile(1)",
	}
	for _, r := range results {
		if r.Status != "extracted" {
			t.Errorf("%s: status %s (%s), want extracted", r.Path, r.Status, r.Reason)
			continue
		}
		if got := want[r.Path]; r.FinalPath != got {
			t.Errorf("%s extracted as %q, want %q", r.Path, r.FinalPath, got)
		}
	}

	data, err := os.ReadFile(filepath.Join(dest, "report(2).xlsx"))
	if err != nil || string(data) != "sheet" {
		t.Errorf("extracted content = %q, %v; want %q", data, err, "sheet")
	}
}

func TestFilesExtractDestinationValidation(t *testing.T) {
	env := newTestEnv(t)
	bench := mustCreate(t, env, "bench")

	if _, err := env.svc.FilesExtract(bench.ID, "  ", nil); !errors.Is(err, wb.ErrInvalidDestination) {
		t.Errorf("blank destination = %v, want ErrInvalidDestination", err)
	}
	if _, err := env.svc.FilesExtract(bench.ID, filepath.Join(t.TempDir(), "missing"), nil); !errors.Is(err, wb.ErrInvalidDestination) {
		t.Errorf("missing destination = %v, want ErrInvalidDestination", err)
	}
	file := seedFile(t, t.TempDir(), "f.txt", "x")
	if _, err := env.svc.FilesExtract(bench.ID, file, nil); !errors.Is(err, wb.ErrInvalidDestination) {
		t.Errorf("file destination = %v, want ErrInvalidDestination", err)
	}
}

func TestReadAndStatFile(t *testing.T) {
	env := newTestEnv(t)
	bench := mustCreate(t, env, "bench")
	src := t.TempDir()
	mustAdd(t, env, bench.ID, seedFile(t, src, "doc.md", "# Title"))

	content, err := env.svc.ReadFile(bench.ID, "published", "doc.md")
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if content != "# Title" {
		t.Errorf("ReadFile() = %q, want %q", content, "# Title")
	}

	info, err := env.svc.StatFile(bench.ID, "published", "doc.md")
	if err != nil {
		t.Fatalf("StatFile() error = %v", err)
	}
	if info.Size() != int64(len("# Title")) {
		t.Errorf("StatFile() size = %d, want %d", info.Size(), len("# Title"))
	}

	if _, err := env.svc.ReadFile(bench.ID, "published", "../doc.md"); !errors.Is(err, wb.ErrInvalidPath) {
		t.Errorf("traversal read = %v, want ErrInvalidPath", err)
	}
	if _, err := env.svc.ReadFile(bench.ID, "../published", "doc.md"); !errors.Is(err, wb.ErrInvalidPath) {
		t.Errorf("traversal area = %v, want ErrInvalidPath", err)
	}
}
