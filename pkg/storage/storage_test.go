package storage

import (
	"context"
	"errors"
	"io"
	"os"
	"testing"
)

func writeFile(t *testing.T, store *FileStorage, name, content string) {
	t.Helper()
	path, err := store.Path(name)
	if err != nil {
		t.Fatalf("bad name %s: %v", name, err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
}

func TestFileStorage_LoadStatDelete(t *testing.T) {
	store, err := NewFileStorage(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}

	ctx := context.Background()
	writeFile(t, store, "event_1_a.wav", "RIFF")

	rc, err := store.Load(ctx, "event_1_a.wav")
	if err != nil {
		t.Fatalf("failed to load: %v", err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("failed to read: %v", err)
	}
	if string(data) != "RIFF" {
		t.Errorf("expected 'RIFF', got %q", data)
	}

	info, err := store.Stat("event_1_a.wav")
	if err != nil {
		t.Fatalf("failed to stat: %v", err)
	}
	if info.Size() != 4 {
		t.Errorf("expected size 4, got %d", info.Size())
	}

	if err := store.Delete(ctx, "event_1_a.wav"); err != nil {
		t.Fatalf("failed to delete: %v", err)
	}
	if _, err := store.Stat("event_1_a.wav"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestFileStorage_ListByPrefix(t *testing.T) {
	store, err := NewFileStorage(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}

	ctx := context.Background()
	for _, name := range []string{"event_2_b.wav", "event_1_a.wav", "event_2_a.wav"} {
		writeFile(t, store, name, "x")
	}

	files, err := store.List(ctx, "event_2_")
	if err != nil {
		t.Fatalf("failed to list: %v", err)
	}
	if len(files) != 2 || files[0] != "event_2_a.wav" || files[1] != "event_2_b.wav" {
		t.Errorf("unexpected listing: %v", files)
	}
}

func TestFileStorage_Missing(t *testing.T) {
	store, err := NewFileStorage(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}

	if _, err := store.Load(context.Background(), "nope.wav"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := store.Delete(context.Background(), "nope.wav"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestValidateName(t *testing.T) {
	for _, name := range []string{"", ".", "..", "../etc/passwd", "a/b.wav", `a\b.wav`, "x..wav"} {
		if err := ValidateName(name); !errors.Is(err, ErrInvalidName) {
			t.Errorf("expected %q to be rejected", name)
		}
	}
	if err := ValidateName("event_9_20240101T000000.000Z.wav"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}
