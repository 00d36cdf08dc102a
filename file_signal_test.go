package connect

import (
	"context"
	"sync"
	"testing"

	"github.com/pion/webrtc/v4"
)

func TestFileRoomStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, err := CreateFileRoomStore(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("CreateFileRoomStore failed: %v", err)
	}

	roomID, err := store.CreateRoom(ctx)
	if err != nil {
		t.Fatalf("CreateRoom failed: %v", err)
	}

	offer := SessionDescription{SDP: "v=0\r\noffer", Type: "offer"}
	if err := store.SetOffer(ctx, roomID, offer); err != nil {
		t.Fatalf("SetOffer failed: %v", err)
	}
	answer := SessionDescription{SDP: "v=0\r\nanswer", Type: "answer"}
	if err := store.SetAnswer(ctx, roomID, answer); err != nil {
		t.Fatalf("SetAnswer failed: %v", err)
	}

	snapshot, err := store.GetRoom(ctx, roomID)
	if err != nil {
		t.Fatalf("GetRoom failed: %v", err)
	}
	if !snapshot.Exists {
		t.Fatal("room reported missing")
	}
	if snapshot.Offer == nil || *snapshot.Offer != offer {
		t.Errorf("offer = %+v, want %+v", snapshot.Offer, offer)
	}
	if snapshot.Answer == nil || *snapshot.Answer != answer {
		t.Errorf("answer = %+v, want %+v", snapshot.Answer, answer)
	}
}

func TestFileRoomStoreMissingRoom(t *testing.T) {
	ctx := context.Background()
	store, err := CreateFileRoomStore(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("CreateFileRoomStore failed: %v", err)
	}

	snapshot, err := store.GetRoom(ctx, "nope")
	if err != nil {
		t.Fatalf("GetRoom failed: %v", err)
	}
	if snapshot.Exists {
		t.Error("missing room reported as existing")
	}

	if err := store.SetAnswer(ctx, "nope", SessionDescription{}); err == nil {
		t.Error("SetAnswer on a missing room succeeded")
	}
}

func TestFileRoomStoreCandidateReplayInOrder(t *testing.T) {
	ctx := context.Background()
	store, err := CreateFileRoomStore(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("CreateFileRoomStore failed: %v", err)
	}

	roomID, err := store.CreateRoom(ctx)
	if err != nil {
		t.Fatalf("CreateRoom failed: %v", err)
	}

	for _, candidate := range []string{"one", "two", "three"} {
		if err := store.AddCallerCandidate(ctx, roomID, webrtc.ICECandidateInit{Candidate: candidate}); err != nil {
			t.Fatalf("AddCallerCandidate failed: %v", err)
		}
	}

	var (
		mux      sync.Mutex
		received []string
	)
	unsubscribe, err := store.WatchCallerCandidates(ctx, roomID, func(candidate webrtc.ICECandidateInit) {
		mux.Lock()
		received = append(received, candidate.Candidate)
		mux.Unlock()
	})
	if err != nil {
		t.Fatalf("WatchCallerCandidates failed: %v", err)
	}
	defer unsubscribe()

	waitFor(t, "candidate replay", func() bool {
		mux.Lock()
		defer mux.Unlock()
		return len(received) == 3
	})

	mux.Lock()
	defer mux.Unlock()
	for i, want := range []string{"one", "two", "three"} {
		if received[i] != want {
			t.Errorf("candidate[%d] = %q, want %q", i, received[i], want)
		}
	}
}

func TestFileRoomStoreWatchRoomSeesAnswer(t *testing.T) {
	ctx := context.Background()
	store, err := CreateFileRoomStore(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("CreateFileRoomStore failed: %v", err)
	}

	roomID, err := store.CreateRoom(ctx)
	if err != nil {
		t.Fatalf("CreateRoom failed: %v", err)
	}
	if err := store.SetAnswer(ctx, roomID, SessionDescription{SDP: "v=0\r\nanswer", Type: "answer"}); err != nil {
		t.Fatalf("SetAnswer failed: %v", err)
	}

	var (
		mux  sync.Mutex
		seen *RoomSnapshot
	)
	unsubscribe, err := store.WatchRoom(ctx, roomID, func(snapshot RoomSnapshot) {
		mux.Lock()
		seen = &snapshot
		mux.Unlock()
	})
	if err != nil {
		t.Fatalf("WatchRoom failed: %v", err)
	}
	defer unsubscribe()

	waitFor(t, "room snapshot with answer", func() bool {
		mux.Lock()
		defer mux.Unlock()
		return seen != nil && seen.Answer != nil
	})
}

func TestFileRoomStoreDeleteRoom(t *testing.T) {
	ctx := context.Background()
	store, err := CreateFileRoomStore(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("CreateFileRoomStore failed: %v", err)
	}

	roomID, err := store.CreateRoom(ctx)
	if err != nil {
		t.Fatalf("CreateRoom failed: %v", err)
	}
	if err := store.DeleteRoom(ctx, roomID); err != nil {
		t.Fatalf("DeleteRoom failed: %v", err)
	}

	snapshot, err := store.GetRoom(ctx, roomID)
	if err != nil {
		t.Fatalf("GetRoom failed: %v", err)
	}
	if snapshot.Exists {
		t.Error("deleted room still reported as existing")
	}
}
