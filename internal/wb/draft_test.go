package wb_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"wb-go/internal/wb"
)

func TestCreateDraftIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	bench := mustCreate(t, env, "bench")
	src := t.TempDir()
	mustAdd(t, env, bench.ID, seedFile(t, src, "doc.txt", "published"))

	first, err := env.svc.CreateDraftWithSource(bench.ID, "job", "job-42")
	if err != nil {
		t.Fatalf("CreateDraft() error = %v", err)
	}
	second, err := env.svc.CreateDraft(bench.ID)
	if err != nil {
		t.Fatalf("second CreateDraft() error = %v", err)
	}
	if first.DraftID != second.DraftID {
		t.Errorf("second CreateDraft returned new draft %s, want existing %s", second.DraftID, first.DraftID)
	}
	if second.SourceKind != "job" || second.SourceRef != "job-42" {
		t.Errorf("draft source = (%s, %s), want (job, job-42)", second.SourceKind, second.SourceRef)
	}

	// The draft starts as a full copy of published.
	content, err := env.svc.ReadFile(bench.ID, "draft", "doc.txt")
	if err != nil || content != "published" {
		t.Errorf("draft copy = %q, %v; want %q", content, err, "published")
	}
}

func TestDraftStateNilWithoutDraft(t *testing.T) {
	env := newTestEnv(t)
	bench := mustCreate(t, env, "bench")

	state, err := env.svc.DraftState(bench.ID)
	if err != nil {
		t.Fatalf("DraftState() error = %v", err)
	}
	if state != nil {
		t.Errorf("DraftState() = %+v, want nil", state)
	}
}

func TestDraftStateLegacyNestedSource(t *testing.T) {
	env := newTestEnv(t)
	bench := mustCreate(t, env, "bench")

	legacy := []byte(`{"draft_id":"d-legacy","created_at":"2023-01-01T00:00:00Z","source":{"kind":"job","job_id":"job-7"}}`)
	path := filepath.Join(env.baseDir, bench.ID, "meta", "draft.json")
	if err := os.WriteFile(path, legacy, 0o644); err != nil {
		t.Fatal(err)
	}

	state, err := env.svc.DraftState(bench.ID)
	if err != nil {
		t.Fatalf("DraftState() error = %v", err)
	}
	if state.DraftID != "d-legacy" || state.SourceKind != "job" || state.SourceRef != "job-7" {
		t.Errorf("legacy decode = %+v, want draft d-legacy from job job-7", state)
	}
}

func TestApplyDraftWriteValidation(t *testing.T) {
	env := newTestEnv(t)
	bench := mustCreate(t, env, "bench")
	if _, err := env.svc.CreateDraft(bench.ID); err != nil {
		t.Fatal(err)
	}

	if err := env.svc.ApplyDraftWrite(bench.ID, "notes.txt", "hello"); err != nil {
		t.Fatalf("ApplyDraftWrite() error = %v", err)
	}
	if err := env.svc.ApplyDraftWrite(bench.ID, "binary.exe", "x"); err == nil {
		t.Error("write with non-editable extension succeeded, want error")
	}
	if err := env.svc.ApplyDraftWrite(bench.ID, "sub/notes.txt", "x"); !errors.Is(err, wb.ErrInvalidPath) {
		t.Errorf("nested path write = %v, want ErrInvalidPath", err)
	}
	if err := env.svc.ApplyDraftWrite(bench.ID, "../escape.txt", "x"); !errors.Is(err, wb.ErrInvalidPath) {
		t.Errorf("traversal write = %v, want ErrInvalidPath", err)
	}
}

func TestApplyDraftWriteInvalidatesTabularCache(t *testing.T) {
	env := newTestEnv(t)
	bench := mustCreate(t, env, "bench")
	if _, err := env.svc.CreateDraft(bench.ID); err != nil {
		t.Fatal(err)
	}

	if err := env.svc.ApplyDraftWrite(bench.ID, "data.csv", "a,b\n1,2"); err != nil {
		t.Fatal(err)
	}
	if err := env.svc.ApplyDraftWrite(bench.ID, "notes.txt", "no cache"); err != nil {
		t.Fatal(err)
	}

	paths := env.cache.Paths()
	if len(paths) != 1 || paths[0] != "data.csv" {
		t.Errorf("cache invalidations = %v, want [data.csv]", paths)
	}
}

func TestPublishDraft(t *testing.T) {
	env := newTestEnv(t)
	bench := mustCreate(t, env, "bench")
	src := t.TempDir()
	mustAdd(t, env, bench.ID, seedFile(t, src, "doc.txt", "v1"))

	if _, err := env.svc.CreateDraft(bench.ID); err != nil {
		t.Fatal(err)
	}
	if err := env.svc.ApplyDraftWrite(bench.ID, "doc.txt", "v2"); err != nil {
		t.Fatal(err)
	}
	if err := env.svc.ApplyDraftWrite(bench.ID, "new.md", "fresh"); err != nil {
		t.Fatal(err)
	}
	if err := env.svc.ApplyDraftWrite(bench.ID, "_scratch.txt", "internal"); err != nil {
		t.Fatal(err)
	}

	if _, err := env.svc.PublishDraft(bench.ID); err != nil {
		t.Fatalf("PublishDraft() error = %v", err)
	}

	// Draft is gone.
	if state, _ := env.svc.DraftState(bench.ID); state != nil {
		t.Error("draft state survived publish")
	}
	if _, err := os.Stat(filepath.Join(env.baseDir, bench.ID, "draft")); !errors.Is(err, os.ErrNotExist) {
		t.Error("draft directory survived publish")
	}

	// Published carries the edits, scratch files are deleted.
	content, err := env.svc.ReadFile(bench.ID, "published", "doc.txt")
	if err != nil || content != "v2" {
		t.Errorf("published doc.txt = %q, %v; want v2", content, err)
	}
	if _, err := os.Stat(filepath.Join(env.baseDir, bench.ID, "published", "_scratch.txt")); !errors.Is(err, os.ErrNotExist) {
		t.Error("scratch file survived publish")
	}

	// Manifest is rebuilt from the new tree.
	entries, err := env.svc.FilesList(bench.ID)
	if err != nil {
		t.Fatal(err)
	}
	got := map[string]bool{}
	for _, e := range entries {
		got[e.Path] = true
	}
	if len(entries) != 2 || !got["doc.txt"] || !got["new.md"] {
		t.Errorf("rebuilt manifest = %v, want doc.txt and new.md", got)
	}
}

func TestPublishWithoutDraft(t *testing.T) {
	env := newTestEnv(t)
	bench := mustCreate(t, env, "bench")

	if _, err := env.svc.PublishDraft(bench.ID); !errors.Is(err, wb.ErrNoDraft) {
		t.Fatalf("PublishDraft without draft = %v, want ErrNoDraft", err)
	}
}

func TestDiscardDraftLeavesPublishedUntouched(t *testing.T) {
	env := newTestEnv(t)
	bench := mustCreate(t, env, "bench")
	src := t.TempDir()
	mustAdd(t, env, bench.ID, seedFile(t, src, "doc.txt", "original"))

	if _, err := env.svc.CreateDraft(bench.ID); err != nil {
		t.Fatal(err)
	}
	if err := env.svc.ApplyDraftWrite(bench.ID, "doc.txt", "mutated"); err != nil {
		t.Fatal(err)
	}
	if err := env.svc.DiscardDraft(bench.ID); err != nil {
		t.Fatalf("DiscardDraft() error = %v", err)
	}

	content, err := env.svc.ReadFile(bench.ID, "published", "doc.txt")
	if err != nil || content != "original" {
		t.Errorf("published after discard = %q, %v; want original", content, err)
	}
	if state, _ := env.svc.DraftState(bench.ID); state != nil {
		t.Error("draft state survived discard")
	}
}

func TestDraftStagingCommit(t *testing.T) {
	env := newTestEnv(t)
	bench := mustCreate(t, env, "bench")
	if _, err := env.svc.CreateDraft(bench.ID); err != nil {
		t.Fatal(err)
	}
	if err := env.svc.ApplyDraftWrite(bench.ID, "doc.txt", "draft version"); err != nil {
		t.Fatal(err)
	}

	staging := "draft.tool1.staging"
	if err := env.svc.CreateDraftStaging(bench.ID, staging); err != nil {
		t.Fatalf("CreateDraftStaging() error = %v", err)
	}
	if err := env.svc.ApplyWriteToArea(bench.ID, staging, "doc.txt", "staged version"); err != nil {
		t.Fatal(err)
	}
	if err := env.svc.CommitDraftStaging(bench.ID, staging); err != nil {
		t.Fatalf("CommitDraftStaging() error = %v", err)
	}

	content, err := env.svc.ReadFile(bench.ID, "draft", "doc.txt")
	if err != nil || content != "staged version" {
		t.Errorf("draft after commit = %q, %v; want staged version", content, err)
	}
	if _, err := os.Stat(filepath.Join(env.baseDir, bench.ID, staging)); !errors.Is(err, os.ErrNotExist) {
		t.Error("staging area survived commit")
	}
}

func TestDraftStagingRemove(t *testing.T) {
	env := newTestEnv(t)
	bench := mustCreate(t, env, "bench")
	if _, err := env.svc.CreateDraft(bench.ID); err != nil {
		t.Fatal(err)
	}
	staging := "draft.tool2.staging"
	if err := env.svc.CreateDraftStaging(bench.ID, staging); err != nil {
		t.Fatal(err)
	}
	if err := env.svc.RemoveDraftStaging(bench.ID, staging); err != nil {
		t.Fatalf("RemoveDraftStaging() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(env.baseDir, bench.ID, staging)); !errors.Is(err, os.ErrNotExist) {
		t.Error("staging area survived removal")
	}
}

func TestDraftFilesListScansDraft(t *testing.T) {
	env := newTestEnv(t)
	bench := mustCreate(t, env, "bench")
	src := t.TempDir()
	mustAdd(t, env, bench.ID, seedFile(t, src, "doc.txt", "x"))

	// Without a draft, falls back to the manifest.
	entries, err := env.svc.DraftFilesList(bench.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Path != "doc.txt" {
		t.Fatalf("fallback list = %+v, want doc.txt", entries)
	}

	if _, err := env.svc.CreateDraft(bench.ID); err != nil {
		t.Fatal(err)
	}
	if err := env.svc.ApplyDraftWrite(bench.ID, "wip.md", "mid-edit"); err != nil {
		t.Fatal(err)
	}

	entries, err = env.svc.DraftFilesList(bench.ID)
	if err != nil {
		t.Fatal(err)
	}
	got := map[string]bool{}
	for _, e := range entries {
		got[e.Path] = true
	}
	if len(entries) != 2 || !got["doc.txt"] || !got["wip.md"] {
		t.Errorf("draft list = %v, want doc.txt and wip.md", got)
	}
}

func TestChangeSet(t *testing.T) {
	env := newTestEnv(t)
	bench := mustCreate(t, env, "bench")
	src := t.TempDir()
	mustAdd(t, env, bench.ID,
		seedFile(t, src, "keep.txt", "same"),
		seedFile(t, src, "edit.txt", "line one\nline two\n"),
	)
	if _, err := env.svc.CreateDraft(bench.ID); err != nil {
		t.Fatal(err)
	}
	if err := env.svc.ApplyDraftWrite(bench.ID, "edit.txt", "line one\nline 2\n"); err != nil {
		t.Fatal(err)
	}
	if err := env.svc.ApplyDraftWrite(bench.ID, "added.md", "brand new"); err != nil {
		t.Fatal(err)
	}

	changes, err := env.svc.ChangeSet(bench.ID)
	if err != nil {
		t.Fatalf("ChangeSet() error = %v", err)
	}
	if len(changes) != 2 {
		t.Fatalf("ChangeSet() returned %d changes, want 2: %+v", len(changes), changes)
	}
	// Sorted by path.
	if changes[0].Path != "added.md" || changes[0].ChangeType != wb.ChangeAdded {
		t.Errorf("changes[0] = %+v, want added.md/added", changes[0])
	}
	if changes[1].Path != "edit.txt" || changes[1].ChangeType != wb.ChangeModified {
		t.Errorf("changes[1] = %+v, want edit.txt/modified", changes[1])
	}
	if len(changes[1].Lines) == 0 {
		t.Error("modified text file has no diff lines")
	}
}

func TestChangeSetDeletionDetected(t *testing.T) {
	env := newTestEnv(t)
	bench := mustCreate(t, env, "bench")
	src := t.TempDir()
	mustAdd(t, env, bench.ID, seedFile(t, src, "doomed.txt", "x"))
	if _, err := env.svc.CreateDraft(bench.ID); err != nil {
		t.Fatal(err)
	}
	if err := os.Remove(filepath.Join(env.baseDir, bench.ID, "draft", "doomed.txt")); err != nil {
		t.Fatal(err)
	}

	if _, err := env.svc.ChangeSet(bench.ID); !errors.Is(err, wb.ErrDeletionDetected) {
		t.Fatalf("ChangeSet with deleted file = %v, want ErrDeletionDetected", err)
	}
}
