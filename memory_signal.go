package connect

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
)

// MemoryRoomStore is an in-process RoomStore. Watch callbacks fire
// synchronously with each mutation, which makes it deterministic enough for
// tests and good enough for two sessions sharing one process.
type MemoryRoomStore struct {
	mux    sync.Mutex
	rooms  map[string]*memoryRoom
	nextID int
}

type memoryRoom struct {
	offer  *SessionDescription
	answer *SessionDescription

	callerCandidates []webrtc.ICECandidateInit
	calleeCandidates []webrtc.ICECandidateInit

	roomWatchers   map[int]func(RoomSnapshot)
	callerWatchers map[int]func(webrtc.ICECandidateInit)
	calleeWatchers map[int]func(webrtc.ICECandidateInit)
}

func NewMemoryRoomStore() *MemoryRoomStore {
	return &MemoryRoomStore{rooms: map[string]*memoryRoom{}}
}

func (store *MemoryRoomStore) CreateRoom(_ context.Context) (string, error) {
	store.mux.Lock()
	defer store.mux.Unlock()

	roomID := uuid.NewString()
	store.rooms[roomID] = &memoryRoom{
		roomWatchers:   map[int]func(RoomSnapshot){},
		callerWatchers: map[int]func(webrtc.ICECandidateInit){},
		calleeWatchers: map[int]func(webrtc.ICECandidateInit){},
	}
	return roomID, nil
}

func (store *MemoryRoomStore) GetRoom(_ context.Context, roomID string) (RoomSnapshot, error) {
	store.mux.Lock()
	defer store.mux.Unlock()

	room, exists := store.rooms[roomID]
	if !exists {
		return RoomSnapshot{Exists: false}, nil
	}
	return snapshotOf(room), nil
}

func snapshotOf(room *memoryRoom) RoomSnapshot {
	return RoomSnapshot{Exists: true, Offer: room.offer, Answer: room.answer}
}

func (store *MemoryRoomStore) SetOffer(_ context.Context, roomID string, offer SessionDescription) error {
	return store.updateRoom(roomID, func(room *memoryRoom) {
		room.offer = &offer
	})
}

func (store *MemoryRoomStore) SetAnswer(_ context.Context, roomID string, answer SessionDescription) error {
	return store.updateRoom(roomID, func(room *memoryRoom) {
		room.answer = &answer
	})
}

func (store *MemoryRoomStore) updateRoom(roomID string, update func(*memoryRoom)) error {
	store.mux.Lock()
	room, exists := store.rooms[roomID]
	if !exists {
		store.mux.Unlock()
		return fmt.Errorf("%w: %s", ErrRoomNotFound, roomID)
	}

	update(room)
	snapshot := snapshotOf(room)
	watchers := collectWatchers(room.roomWatchers)
	store.mux.Unlock()

	for _, watcher := range watchers {
		watcher(snapshot)
	}
	return nil
}

func (store *MemoryRoomStore) DeleteRoom(_ context.Context, roomID string) error {
	store.mux.Lock()
	room, exists := store.rooms[roomID]
	if exists {
		delete(store.rooms, roomID)
	}
	var watchers []func(RoomSnapshot)
	if exists {
		watchers = collectWatchers(room.roomWatchers)
	}
	store.mux.Unlock()

	for _, watcher := range watchers {
		watcher(RoomSnapshot{Exists: false})
	}
	return nil
}

func (store *MemoryRoomStore) AddCallerCandidate(_ context.Context, roomID string, candidate webrtc.ICECandidateInit) error {
	return store.addCandidate(roomID, candidate, true)
}

func (store *MemoryRoomStore) AddCalleeCandidate(_ context.Context, roomID string, candidate webrtc.ICECandidateInit) error {
	return store.addCandidate(roomID, candidate, false)
}

func (store *MemoryRoomStore) addCandidate(roomID string, candidate webrtc.ICECandidateInit, caller bool) error {
	store.mux.Lock()
	room, exists := store.rooms[roomID]
	if !exists {
		store.mux.Unlock()
		return fmt.Errorf("%w: %s", ErrRoomNotFound, roomID)
	}

	var watchers []func(webrtc.ICECandidateInit)
	if caller {
		room.callerCandidates = append(room.callerCandidates, candidate)
		watchers = collectWatchers(room.callerWatchers)
	} else {
		room.calleeCandidates = append(room.calleeCandidates, candidate)
		watchers = collectWatchers(room.calleeWatchers)
	}
	store.mux.Unlock()

	for _, watcher := range watchers {
		watcher(candidate)
	}
	return nil
}

func (store *MemoryRoomStore) WatchRoom(_ context.Context, roomID string, onChange func(RoomSnapshot)) (UnsubscribeFunc, error) {
	store.mux.Lock()
	room, exists := store.rooms[roomID]
	if !exists {
		store.mux.Unlock()
		onChange(RoomSnapshot{Exists: false})
		return func() {}, nil
	}

	id := store.nextID
	store.nextID++
	room.roomWatchers[id] = onChange
	snapshot := snapshotOf(room)
	store.mux.Unlock()

	// Initial snapshot, matching the push-style stores.
	onChange(snapshot)

	return store.unsubscriber(roomID, func(room *memoryRoom) {
		delete(room.roomWatchers, id)
	}), nil
}

func (store *MemoryRoomStore) WatchCallerCandidates(_ context.Context, roomID string, onAdded func(webrtc.ICECandidateInit)) (UnsubscribeFunc, error) {
	return store.watchCandidates(roomID, onAdded, true)
}

func (store *MemoryRoomStore) WatchCalleeCandidates(_ context.Context, roomID string, onAdded func(webrtc.ICECandidateInit)) (UnsubscribeFunc, error) {
	return store.watchCandidates(roomID, onAdded, false)
}

func (store *MemoryRoomStore) watchCandidates(roomID string, onAdded func(webrtc.ICECandidateInit), caller bool) (UnsubscribeFunc, error) {
	store.mux.Lock()
	room, exists := store.rooms[roomID]
	if !exists {
		store.mux.Unlock()
		return func() {}, fmt.Errorf("%w: %s", ErrRoomNotFound, roomID)
	}

	id := store.nextID
	store.nextID++

	var backlog []webrtc.ICECandidateInit
	if caller {
		room.callerWatchers[id] = onAdded
		backlog = append(backlog, room.callerCandidates...)
	} else {
		room.calleeWatchers[id] = onAdded
		backlog = append(backlog, room.calleeCandidates...)
	}
	store.mux.Unlock()

	for _, candidate := range backlog {
		onAdded(candidate)
	}

	return store.unsubscriber(roomID, func(room *memoryRoom) {
		if caller {
			delete(room.callerWatchers, id)
		} else {
			delete(room.calleeWatchers, id)
		}
	}), nil
}

func (store *MemoryRoomStore) unsubscriber(roomID string, remove func(*memoryRoom)) UnsubscribeFunc {
	return func() {
		store.mux.Lock()
		defer store.mux.Unlock()
		if room, exists := store.rooms[roomID]; exists {
			remove(room)
		}
	}
}

func (store *MemoryRoomStore) Ping(_ context.Context) error {
	return nil
}

func (store *MemoryRoomStore) Close() error {
	return nil
}

func collectWatchers[T any](watchers map[int]T) []T {
	collected := make([]T, 0, len(watchers))
	for _, watcher := range watchers {
		collected = append(collected, watcher)
	}
	return collected
}
