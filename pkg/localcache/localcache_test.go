package localcache

import (
	"bytes"
	"errors"
	"testing"
	"time"
)

func newCache(t *testing.T, options ...Option) *Cache {
	t.Helper()

	cache, err := CreateCache(t.TempDir(), nil, options...)
	if err != nil {
		t.Fatalf("CreateCache failed: %v", err)
	}
	return cache
}

func TestRoomIDRoundTrip(t *testing.T) {
	cache := newCache(t)

	if _, ok := cache.LastRoomID(); ok {
		t.Error("LastRoomID returned a value on an empty cache")
	}

	if err := cache.SetLastRoomID("R1"); err != nil {
		t.Fatalf("SetLastRoomID failed: %v", err)
	}

	roomID, ok := cache.LastRoomID()
	if !ok || roomID != "R1" {
		t.Errorf("LastRoomID mismatch: got (%q, %v), want (\"R1\", true)", roomID, ok)
	}
}

func TestConnectionRecordRoundTrip(t *testing.T) {
	cache := newCache(t)

	record := ConnectionRecord{
		RoomID:    "R1",
		Connected: true,
		Timestamp: time.Now().Truncate(time.Millisecond),
	}
	if err := cache.SetConnectionRecord(record); err != nil {
		t.Fatalf("SetConnectionRecord failed: %v", err)
	}

	loaded, ok := cache.ConnectionRecord()
	if !ok {
		t.Fatal("ConnectionRecord not found after write")
	}
	if loaded.RoomID != record.RoomID || loaded.Connected != record.Connected {
		t.Errorf("record mismatch: got %+v, want %+v", loaded, record)
	}
}

func TestNotesRoundTrip(t *testing.T) {
	cache := newCache(t)

	if err := cache.SetNotes("shared notes"); err != nil {
		t.Fatalf("SetNotes failed: %v", err)
	}

	notes, ok := cache.Notes()
	if !ok || notes != "shared notes" {
		t.Errorf("Notes mismatch: got (%q, %v)", notes, ok)
	}
}

func TestFileStorage(t *testing.T) {
	cache := newCache(t)

	data := []byte{0x00, 0x01, 0xFE, 0xFF}
	if err := cache.StoreFile("photo.png", "image/png", data); err != nil {
		t.Fatalf("StoreFile failed: %v", err)
	}
	if err := cache.StoreFile("notes.txt", "text/plain", []byte("hi")); err != nil {
		t.Fatalf("StoreFile failed: %v", err)
	}

	files := cache.Files()
	if len(files) != 2 {
		t.Fatalf("file count mismatch: got %d, want 2", len(files))
	}

	byName := map[string]CachedFile{}
	for _, f := range files {
		byName[f.Name] = f
	}

	photo, ok := byName["photo.png"]
	if !ok {
		t.Fatal("photo.png missing from Files()")
	}
	if photo.Type != "image/png" {
		t.Errorf("Type mismatch: got %q, want %q", photo.Type, "image/png")
	}
	if !bytes.Equal(photo.Data, data) {
		t.Errorf("Data mismatch: got %v, want %v", photo.Data, data)
	}

	cache.RemoveFile("photo.png")
	if got := len(cache.Files()); got != 1 {
		t.Errorf("file count after remove: got %d, want 1", got)
	}
}

func TestEntryLimit(t *testing.T) {
	cache := newCache(t, WithEntryLimit(128))

	err := cache.StoreFile("big.bin", "application/octet-stream", make([]byte, 4096))
	if !errors.Is(err, ErrEntryTooLarge) {
		t.Errorf("StoreFile over limit: got %v, want ErrEntryTooLarge", err)
	}

	if got := len(cache.Files()); got != 0 {
		t.Errorf("oversized file was cached: found %d entries", got)
	}
}

func TestKeysWithUnsafeCharacters(t *testing.T) {
	cache := newCache(t)

	name := "../escape attempt/na me.bin"
	if err := cache.StoreFile(name, "application/octet-stream", []byte{1}); err != nil {
		t.Fatalf("StoreFile failed: %v", err)
	}

	files := cache.Files()
	if len(files) != 1 || files[0].Name != name {
		t.Fatalf("unsafe-named file not recovered: %+v", files)
	}
}
