// Package cloudsync is the optional cloud persistence backend: notes are
// upserted to a per-room row, shared files are uploaded to object storage
// with a metadata row alongside. The backend is strictly best-effort — every
// failure is reported as a warning and collaboration over the peer
// connection continues unaffected. A nil *Store degrades to local-only
// operation.
package cloudsync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/storage"
	"github.com/google/uuid"
	"github.com/pion/logging"
	"google.golang.org/api/iterator"
)

const (
	notesCollection = "notes"
	filesCollection = "files"

	fieldRoomID      = "room_id"
	fieldUserID      = "user_id"
	fieldContent     = "content"
	fieldUpdatedAt   = "updated_at"
	fieldName        = "name"
	fieldSize        = "size"
	fieldType        = "type"
	fieldStoragePath = "storage_path"
	fieldCreatedAt   = "created_at"

	// urlShareType marks rows that reference external content by URL; such
	// rows carry the URL in storage_path and have no stored object.
	urlShareType = "video/url"
)

type Store struct {
	client *firestore.Client
	bucket *storage.BucketHandle
	userID string
	logger logging.LeveledLogger
}

// CreateStore builds a cloud persistence store over a Firestore client and a
// storage bucket. bucket may be nil, in which case file payloads are not
// persisted (metadata rows still are).
func CreateStore(client *firestore.Client, bucket *storage.BucketHandle, userID string, loggerFactory logging.LoggerFactory) (*Store, error) {
	if client == nil {
		return nil, errors.New("cloudsync requires a firestore client")
	}
	if loggerFactory == nil {
		loggerFactory = logging.NewDefaultLoggerFactory()
	}

	return &Store{
		client: client,
		bucket: bucket,
		userID: userID,
		logger: loggerFactory.NewLogger("cloudsync"),
	}, nil
}

// UpsertNotes writes the full current notes state for a room. Keyed by
// room id, so the row is shared by both participants: last write wins.
func (store *Store) UpsertNotes(ctx context.Context, roomID, content string) error {
	_, err := store.client.Collection(notesCollection).Doc(roomID).Set(ctx, map[string]interface{}{
		fieldRoomID:    roomID,
		fieldUserID:    store.userID,
		fieldContent:   content,
		fieldUpdatedAt: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("error while upserting notes for room %s: %w", roomID, err)
	}
	return nil
}

// FileRecord is one row of the files table.
type FileRecord struct {
	ID          string
	Name        string
	Size        int64
	Type        string
	StoragePath string
}

// IsURLShare reports whether the record references external content by URL
// rather than a stored object.
func (record FileRecord) IsURLShare() bool {
	return record.Type == urlShareType
}

// SaveFile uploads the payload to object storage at {roomID}/{fileID} and
// inserts the metadata row. Returns the assigned file id.
func (store *Store) SaveFile(ctx context.Context, roomID, name, mimeType string, data []byte) (string, error) {
	fileID := "file-" + uuid.NewString()
	storagePath := fmt.Sprintf("%s/%s", roomID, fileID)

	if store.bucket != nil {
		writer := store.bucket.Object(storagePath).NewWriter(ctx)
		writer.ContentType = mimeType
		if _, err := writer.Write(data); err != nil {
			_ = writer.Close()
			return "", fmt.Errorf("error while uploading file %s: %w", storagePath, err)
		}
		if err := writer.Close(); err != nil {
			return "", fmt.Errorf("error while finalising upload of %s: %w", storagePath, err)
		}
	} else {
		store.logger.Warnf("no storage bucket configured; persisting metadata only for %q", name)
	}

	if err := store.insertFileRow(ctx, fileID, roomID, name, mimeType, storagePath, int64(len(data))); err != nil {
		return "", err
	}

	store.logger.Infof("saved file %q (%d bytes) as %s", name, len(data), storagePath)
	return fileID, nil
}

// SaveURLShare records a shared URL as a zero-size row with the URL standing
// in for a storage path.
func (store *Store) SaveURLShare(ctx context.Context, roomID, name, url string) error {
	fileID := "file-" + uuid.NewString()
	return store.insertFileRow(ctx, fileID, roomID, name, urlShareType, url, 0)
}

func (store *Store) insertFileRow(ctx context.Context, fileID, roomID, name, mimeType, storagePath string, size int64) error {
	_, err := store.client.Collection(filesCollection).Doc(fileID).Create(ctx, map[string]interface{}{
		"id":             fileID,
		fieldName:        name,
		fieldSize:        size,
		fieldType:        mimeType,
		fieldStoragePath: storagePath,
		fieldRoomID:      roomID,
		fieldUserID:      store.userID,
		fieldCreatedAt:   time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("error while inserting file row %s: %w", fileID, err)
	}
	return nil
}

// Files lists the metadata rows for a room.
func (store *Store) Files(ctx context.Context, roomID string) ([]FileRecord, error) {
	iter := store.client.Collection(filesCollection).Where(fieldRoomID, "==", roomID).Documents(ctx)
	defer iter.Stop()

	var records []FileRecord
	for {
		snapshot, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error while listing files for room %s: %w", roomID, err)
		}

		data := snapshot.Data()
		record := FileRecord{ID: snapshot.Ref.ID}
		record.Name, _ = data[fieldName].(string)
		record.Size, _ = data[fieldSize].(int64)
		record.Type, _ = data[fieldType].(string)
		record.StoragePath, _ = data[fieldStoragePath].(string)
		records = append(records, record)
	}

	return records, nil
}

// Download fetches a stored object's payload by its storage path.
func (store *Store) Download(ctx context.Context, storagePath string) ([]byte, error) {
	if store.bucket == nil {
		return nil, errors.New("no storage bucket configured")
	}

	reader, err := store.bucket.Object(storagePath).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("error while opening object %s: %w", storagePath, err)
	}
	defer func() {
		if err := reader.Close(); err != nil {
			store.logger.Warnf("error while closing object reader for %s: %v", storagePath, err)
		}
	}()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("error while reading object %s: %w", storagePath, err)
	}
	return data, nil
}
