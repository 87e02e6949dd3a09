package secrets

import (
	"errors"
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(filepath.Join(t.TempDir(), "secrets.age"))
}

func TestSetAndGet(t *testing.T) {
	store := newTestStore(t)

	if store.Exists() {
		t.Error("Exists() = true before first write")
	}

	if err := store.Set("hunter2", "acme", "sk-12345"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if !store.Exists() {
		t.Error("Exists() = false after write")
	}

	key, err := store.Get("hunter2", "acme")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if key != "sk-12345" {
		t.Errorf("Get() = %q, want sk-12345", key)
	}
}

func TestGetUnknownProvider(t *testing.T) {
	store := newTestStore(t)
	if err := store.Set("hunter2", "acme", "sk-1"); err != nil {
		t.Fatal(err)
	}

	if _, err := store.Get("hunter2", "other"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get(unknown) = %v, want ErrNotFound", err)
	}
}

func TestGetMissingFile(t *testing.T) {
	store := newTestStore(t)
	if _, err := store.Get("hunter2", "acme"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get on missing file = %v, want ErrNotFound", err)
	}
}

func TestWrongPassphrase(t *testing.T) {
	store := newTestStore(t)
	if err := store.Set("correct", "acme", "sk-1"); err != nil {
		t.Fatal(err)
	}

	if _, err := store.Get("wrong", "acme"); err == nil {
		t.Fatal("Get with wrong passphrase succeeded, want error")
	}
}

func TestSetReplacesKey(t *testing.T) {
	store := newTestStore(t)
	if err := store.Set("p", "acme", "old"); err != nil {
		t.Fatal(err)
	}
	if err := store.Set("p", "acme", "new"); err != nil {
		t.Fatal(err)
	}

	key, err := store.Get("p", "acme")
	if err != nil {
		t.Fatal(err)
	}
	if key != "new" {
		t.Errorf("Get() = %q, want new", key)
	}
}

func TestDeleteAndList(t *testing.T) {
	store := newTestStore(t)
	if err := store.Set("p", "beta", "k2"); err != nil {
		t.Fatal(err)
	}
	if err := store.Set("p", "alpha", "k1"); err != nil {
		t.Fatal(err)
	}

	ids, err := store.List("p")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(ids) != 2 || ids[0] != "alpha" || ids[1] != "beta" {
		t.Errorf("List() = %v, want [alpha beta]", ids)
	}

	if err := store.Delete("p", "alpha"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	ids, err = store.List("p")
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 1 || ids[0] != "beta" {
		t.Errorf("List() after delete = %v, want [beta]", ids)
	}

	// Deleting an absent provider is a no-op.
	if err := store.Delete("p", "ghost"); err != nil {
		t.Fatalf("Delete(absent) error = %v", err)
	}
}

func TestListMissingFile(t *testing.T) {
	store := newTestStore(t)
	ids, err := store.List("p")
	if err != nil || ids != nil {
		t.Fatalf("List on missing file = (%v, %v), want (nil, nil)", ids, err)
	}
}
