package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestLocalStorageSaveAndExists(t *testing.T) {
	ctx := context.Background()
	ls := NewLocalStorage(t.TempDir())

	path, err := ls.Save(ctx, "j1", "meeting.mp3", []byte("audio-bytes"))
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if filepath.Ext(path) != ".mp3" {
		t.Fatalf("expected original extension preserved, got %s", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if string(data) != "audio-bytes" {
		t.Fatalf("unexpected content %q", data)
	}

	ok, err := ls.Exists(ctx, path)
	if err != nil || !ok {
		t.Fatalf("expected file to exist, ok=%v err=%v", ok, err)
	}
}

func TestLocalStorageDeleteMissingIsSuccess(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	ls := NewLocalStorage(dir)

	missing := filepath.Join(dir, "nope.wav")
	if err := ls.Delete(ctx, missing); err != nil {
		t.Fatalf("delete of missing path must succeed, got %v", err)
	}

	ok, err := ls.Exists(ctx, missing)
	if err != nil {
		t.Fatalf("exists: %v", err)
	}
	if ok {
		t.Fatal("missing path reported as existing")
	}
}

func TestLocalStorageDeleteRemovesFile(t *testing.T) {
	ctx := context.Background()
	ls := NewLocalStorage(t.TempDir())

	path, err := ls.Save(ctx, "j2", "call.wav", []byte("x"))
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := ls.Delete(ctx, path); err != nil {
		t.Fatalf("delete: %v", err)
	}
	ok, err := ls.Exists(ctx, path)
	if err != nil {
		t.Fatalf("exists: %v", err)
	}
	if ok {
		t.Fatal("file still exists after delete")
	}
}
