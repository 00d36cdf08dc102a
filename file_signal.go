package connect

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/logging"
	"github.com/pion/webrtc/v4"
)

const filePollInterval = 1 * time.Second

// FileRoomStore is a RoomStore over a shared directory, for two peers on the
// same host or a shared filesystem: no Firestore project needed. Each room
// is a directory holding room.json and two candidate subdirectories; watches
// poll at one-second intervals.
type FileRoomStore struct {
	root   string
	logger logging.LeveledLogger
	mux    sync.Mutex
}

type fileRoomDocument struct {
	Offer  *SessionDescription `json:"offer,omitempty"`
	Answer *SessionDescription `json:"answer,omitempty"`
}

func CreateFileRoomStore(root string, loggerFactory logging.LoggerFactory) (*FileRoomStore, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("error while creating signal directory %s: %w", root, err)
	}
	if loggerFactory == nil {
		loggerFactory = logging.NewDefaultLoggerFactory()
	}
	return &FileRoomStore{
		root:   root,
		logger: loggerFactory.NewLogger("filestore"),
	}, nil
}

func (store *FileRoomStore) roomDir(roomID string) string {
	return filepath.Join(store.root, roomID)
}

func (store *FileRoomStore) roomFile(roomID string) string {
	return filepath.Join(store.roomDir(roomID), "room.json")
}

func (store *FileRoomStore) CreateRoom(_ context.Context) (string, error) {
	store.mux.Lock()
	defer store.mux.Unlock()

	roomID := uuid.NewString()
	if err := os.MkdirAll(filepath.Join(store.roomDir(roomID), CollectionCallerCandidates), 0755); err != nil {
		return "", fmt.Errorf("error while creating room directory: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(store.roomDir(roomID), CollectionCalleeCandidates), 0755); err != nil {
		return "", fmt.Errorf("error while creating room directory: %w", err)
	}
	if err := store.writeDocument(roomID, fileRoomDocument{}); err != nil {
		return "", err
	}
	return roomID, nil
}

func (store *FileRoomStore) GetRoom(_ context.Context, roomID string) (RoomSnapshot, error) {
	store.mux.Lock()
	defer store.mux.Unlock()
	return store.readSnapshot(roomID)
}

func (store *FileRoomStore) readSnapshot(roomID string) (RoomSnapshot, error) {
	data, err := os.ReadFile(store.roomFile(roomID))
	if os.IsNotExist(err) {
		return RoomSnapshot{Exists: false}, nil
	}
	if err != nil {
		return RoomSnapshot{}, fmt.Errorf("error while reading room %s: %w", roomID, err)
	}

	var document fileRoomDocument
	if err := json.Unmarshal(data, &document); err != nil {
		return RoomSnapshot{}, fmt.Errorf("error while decoding room %s: %w", roomID, err)
	}

	return RoomSnapshot{Exists: true, Offer: document.Offer, Answer: document.Answer}, nil
}

func (store *FileRoomStore) writeDocument(roomID string, document fileRoomDocument) error {
	data, err := json.Marshal(document)
	if err != nil {
		return err
	}
	if err := os.WriteFile(store.roomFile(roomID), data, 0644); err != nil {
		return fmt.Errorf("error while writing room %s: %w", roomID, err)
	}
	return nil
}

func (store *FileRoomStore) updateDocument(roomID string, update func(*fileRoomDocument)) error {
	store.mux.Lock()
	defer store.mux.Unlock()

	snapshot, err := store.readSnapshot(roomID)
	if err != nil {
		return err
	}
	if !snapshot.Exists {
		return fmt.Errorf("%w: %s", ErrRoomNotFound, roomID)
	}

	document := fileRoomDocument{Offer: snapshot.Offer, Answer: snapshot.Answer}
	update(&document)
	return store.writeDocument(roomID, document)
}

func (store *FileRoomStore) SetOffer(_ context.Context, roomID string, offer SessionDescription) error {
	return store.updateDocument(roomID, func(document *fileRoomDocument) {
		document.Offer = &offer
	})
}

func (store *FileRoomStore) SetAnswer(_ context.Context, roomID string, answer SessionDescription) error {
	return store.updateDocument(roomID, func(document *fileRoomDocument) {
		document.Answer = &answer
	})
}

func (store *FileRoomStore) DeleteRoom(_ context.Context, roomID string) error {
	store.mux.Lock()
	defer store.mux.Unlock()

	if err := os.RemoveAll(store.roomDir(roomID)); err != nil {
		return fmt.Errorf("error while deleting room %s: %w", roomID, err)
	}
	return nil
}

func (store *FileRoomStore) AddCallerCandidate(_ context.Context, roomID string, candidate webrtc.ICECandidateInit) error {
	return store.addCandidate(roomID, CollectionCallerCandidates, candidate)
}

func (store *FileRoomStore) AddCalleeCandidate(_ context.Context, roomID string, candidate webrtc.ICECandidateInit) error {
	return store.addCandidate(roomID, CollectionCalleeCandidates, candidate)
}

func (store *FileRoomStore) addCandidate(roomID, side string, candidate webrtc.ICECandidateInit) error {
	store.mux.Lock()
	defer store.mux.Unlock()

	data, err := json.Marshal(candidate)
	if err != nil {
		return err
	}

	// Timestamp prefix keeps lexical order equal to arrival order.
	name := fmt.Sprintf("%020d-%s.json", time.Now().UnixNano(), uuid.NewString())
	path := filepath.Join(store.roomDir(roomID), side, name)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("error while writing %s entry for room %s: %w", side, roomID, err)
	}
	return nil
}

func (store *FileRoomStore) WatchRoom(ctx context.Context, roomID string, onChange func(RoomSnapshot)) (UnsubscribeFunc, error) {
	watchCtx, cancel := context.WithCancel(ctx)

	go func() {
		ticker := time.NewTicker(filePollInterval)
		defer ticker.Stop()

		var last *RoomSnapshot
		for {
			store.mux.Lock()
			snapshot, err := store.readSnapshot(roomID)
			store.mux.Unlock()
			if err != nil {
				store.logger.Warnf("room watch for %s failed: %v", roomID, err)
			} else if last == nil || !snapshotsEqual(*last, snapshot) {
				last = &snapshot
				onChange(snapshot)
			}

			select {
			case <-watchCtx.Done():
				return
			case <-ticker.C:
			}
		}
	}()

	return func() { cancel() }, nil
}

func (store *FileRoomStore) WatchCallerCandidates(ctx context.Context, roomID string, onAdded func(webrtc.ICECandidateInit)) (UnsubscribeFunc, error) {
	return store.watchCandidates(ctx, roomID, CollectionCallerCandidates, onAdded)
}

func (store *FileRoomStore) WatchCalleeCandidates(ctx context.Context, roomID string, onAdded func(webrtc.ICECandidateInit)) (UnsubscribeFunc, error) {
	return store.watchCandidates(ctx, roomID, CollectionCalleeCandidates, onAdded)
}

func (store *FileRoomStore) watchCandidates(ctx context.Context, roomID, side string, onAdded func(webrtc.ICECandidateInit)) (UnsubscribeFunc, error) {
	watchCtx, cancel := context.WithCancel(ctx)
	dir := filepath.Join(store.roomDir(roomID), side)

	go func() {
		ticker := time.NewTicker(filePollInterval)
		defer ticker.Stop()

		seen := map[string]bool{}
		for {
			entries, err := os.ReadDir(dir)
			if err != nil && !os.IsNotExist(err) {
				store.logger.Warnf("%s watch for room %s failed: %v", side, roomID, err)
			}

			names := make([]string, 0, len(entries))
			for _, entry := range entries {
				if !entry.IsDir() && !seen[entry.Name()] {
					names = append(names, entry.Name())
				}
			}
			sort.Strings(names)

			for _, name := range names {
				seen[name] = true
				data, err := os.ReadFile(filepath.Join(dir, name))
				if err != nil {
					store.logger.Warnf("error while reading candidate %s: %v", name, err)
					continue
				}
				var candidate webrtc.ICECandidateInit
				if err := json.Unmarshal(data, &candidate); err != nil {
					store.logger.Warnf("error while decoding candidate %s: %v", name, err)
					continue
				}
				onAdded(candidate)
			}

			select {
			case <-watchCtx.Done():
				return
			case <-ticker.C:
			}
		}
	}()

	return func() { cancel() }, nil
}

func (store *FileRoomStore) Ping(_ context.Context) error {
	_, err := os.Stat(store.root)
	return err
}

func (store *FileRoomStore) Close() error {
	return nil
}

func snapshotsEqual(a, b RoomSnapshot) bool {
	return a.Exists == b.Exists &&
		descriptionsEqual(a.Offer, b.Offer) &&
		descriptionsEqual(a.Answer, b.Answer)
}

func descriptionsEqual(a, b *SessionDescription) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
