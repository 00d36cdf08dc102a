// Package localcache persists small pieces of session state between runs:
// the last room id, the last connection state, cached notes, and small files.
// It repopulates application state after a restart and is never used as a
// transport between peers.
package localcache

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pion/logging"
)

// DefaultEntryLimit caps the size of a single cache entry. Oversized entries
// (large files, mostly) are skipped with a warning rather than failing the
// operation that produced them.
const DefaultEntryLimit = 4_500_000

var ErrEntryTooLarge = errors.New("cache entry exceeds size limit")

const (
	keyLastRoomID    = "lastRoomId"
	keyLastState     = "lastConnectionState"
	keyCachedNotes   = "cachedNotes"
	keyFilePrefix    = "file_"
	entryFileSuffix  = ".json"
	cacheDirFileMode = 0o755
)

type Option = func(*Cache) error

// WithEntryLimit overrides the per-entry size cap.
func WithEntryLimit(limit int) Option {
	return func(cache *Cache) error {
		if limit <= 0 {
			return errors.New("entry limit must be positive")
		}
		cache.limit = limit
		return nil
	}
}

// Cache is a directory-backed key-value store with one JSON file per entry.
type Cache struct {
	dir    string
	limit  int
	logger logging.LeveledLogger
}

func CreateCache(dir string, loggerFactory logging.LoggerFactory, options ...Option) (*Cache, error) {
	if loggerFactory == nil {
		loggerFactory = logging.NewDefaultLoggerFactory()
	}

	if err := os.MkdirAll(dir, cacheDirFileMode); err != nil {
		return nil, fmt.Errorf("error while creating cache directory %s: %w", dir, err)
	}

	cache := &Cache{
		dir:    dir,
		limit:  DefaultEntryLimit,
		logger: loggerFactory.NewLogger("localcache"),
	}

	for _, option := range options {
		if err := option(cache); err != nil {
			return nil, err
		}
	}

	return cache, nil
}

func (cache *Cache) path(key string) string {
	return filepath.Join(cache.dir, url.PathEscape(key)+entryFileSuffix)
}

func (cache *Cache) put(key string, value []byte) error {
	if len(value) > cache.limit {
		return fmt.Errorf("%w: %d > %d bytes for key %q", ErrEntryTooLarge, len(value), cache.limit, key)
	}
	if err := os.WriteFile(cache.path(key), value, 0o644); err != nil {
		return fmt.Errorf("error while writing cache entry %q: %w", key, err)
	}
	return nil
}

func (cache *Cache) get(key string) ([]byte, bool) {
	value, err := os.ReadFile(cache.path(key))
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			cache.logger.Warnf("failed to read cache entry %q: %v", key, err)
		}
		return nil, false
	}
	return value, true
}

func (cache *Cache) delete(key string) {
	if err := os.Remove(cache.path(key)); err != nil && !errors.Is(err, os.ErrNotExist) {
		cache.logger.Warnf("failed to remove cache entry %q: %v", key, err)
	}
}

// SetLastRoomID records the most recently created or joined room.
func (cache *Cache) SetLastRoomID(roomID string) error {
	return cache.put(keyLastRoomID, []byte(roomID))
}

func (cache *Cache) LastRoomID() (string, bool) {
	value, ok := cache.get(keyLastRoomID)
	return string(value), ok
}

// ConnectionRecord mirrors the last observed connection state so a restarted
// session can offer to rejoin the room it was in.
type ConnectionRecord struct {
	RoomID    string    `json:"roomId"`
	Connected bool      `json:"isConnected"`
	Timestamp time.Time `json:"timestamp"`
}

func (cache *Cache) SetConnectionRecord(record ConnectionRecord) error {
	value, err := json.Marshal(record)
	if err != nil {
		return err
	}
	return cache.put(keyLastState, value)
}

func (cache *Cache) ConnectionRecord() (ConnectionRecord, bool) {
	value, ok := cache.get(keyLastState)
	if !ok {
		return ConnectionRecord{}, false
	}
	var record ConnectionRecord
	if err := json.Unmarshal(value, &record); err != nil {
		cache.logger.Warnf("discarding unreadable connection record: %v", err)
		cache.delete(keyLastState)
		return ConnectionRecord{}, false
	}
	return record, true
}

func (cache *Cache) SetNotes(content string) error {
	return cache.put(keyCachedNotes, []byte(content))
}

func (cache *Cache) Notes() (string, bool) {
	value, ok := cache.get(keyCachedNotes)
	return string(value), ok
}

// cachedFile is the stored shape of a small file: a base64 data blob plus
// metadata, one entry per file name.
type cachedFile struct {
	Name      string `json:"name"`
	Type      string `json:"type"`
	Data      string `json:"data"`
	Timestamp int64  `json:"timestamp"`
}

// StoreFile caches a small file by name. Files over the entry limit are
// rejected with ErrEntryTooLarge; callers treat that as "not cached", not as
// a failure of the transfer that produced the file.
func (cache *Cache) StoreFile(name, mimeType string, data []byte) error {
	encoded := base64.StdEncoding.EncodeToString(data)
	entry, err := json.Marshal(cachedFile{
		Name:      name,
		Type:      mimeType,
		Data:      fmt.Sprintf("data:%s;base64,%s", mimeType, encoded),
		Timestamp: time.Now().UnixMilli(),
	})
	if err != nil {
		return err
	}
	return cache.put(keyFilePrefix+name, entry)
}

// CachedFile is a file recovered from the cache.
type CachedFile struct {
	Name string
	Type string
	Data []byte
}

// Files returns every cached file that can still be decoded. Unreadable
// entries are skipped with a warning.
func (cache *Cache) Files() []CachedFile {
	entries, err := os.ReadDir(cache.dir)
	if err != nil {
		cache.logger.Warnf("failed to list cache directory: %v", err)
		return nil
	}

	var files []CachedFile
	for _, entry := range entries {
		name, err := url.PathUnescape(strings.TrimSuffix(entry.Name(), entryFileSuffix))
		if err != nil || !strings.HasPrefix(name, keyFilePrefix) {
			continue
		}

		raw, ok := cache.get(name)
		if !ok {
			continue
		}

		var stored cachedFile
		if err := json.Unmarshal(raw, &stored); err != nil {
			cache.logger.Warnf("skipping unreadable cached file %q: %v", name, err)
			continue
		}

		payload := stored.Data
		if idx := strings.IndexByte(payload, ','); idx >= 0 {
			payload = payload[idx+1:]
		}
		data, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			cache.logger.Warnf("skipping cached file %q with bad payload: %v", name, err)
			continue
		}

		files = append(files, CachedFile{Name: stored.Name, Type: stored.Type, Data: data})
	}

	return files
}

// RemoveFile drops one cached file by name.
func (cache *Cache) RemoveFile(name string) {
	cache.delete(keyFilePrefix + name)
}
