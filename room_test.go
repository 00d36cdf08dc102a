package connect

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/jonboulle/clockwork"
	"github.com/pion/webrtc/v4"

	"github.com/pwartc/connect/pkg/localcache"
	"github.com/pwartc/connect/pkg/protocol"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	client, err := NewClient(context.Background(), nil, nil, nil)
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	return client
}

// pipeRooms connects the creator's data channel to a channel announced on
// the joiner's transport, then opens both ends.
func pipeRooms(t *testing.T, creatorTransport, joinerTransport *fakeTransport) (*fakeChannel, *fakeChannel) {
	t.Helper()

	creatorTransport.mux.Lock()
	creatorChannel := creatorTransport.channels[MainChannelLabel]
	creatorTransport.mux.Unlock()
	if creatorChannel == nil {
		t.Fatal("creator never created the main channel")
	}

	joinerChannel := newFakeChannel(MainChannelLabel)
	creatorChannel.peer = joinerChannel
	joinerChannel.peer = creatorChannel
	joinerTransport.announceChannel(joinerChannel)

	creatorChannel.fireOpen()
	joinerChannel.fireOpen()
	return creatorChannel, joinerChannel
}

func TestRoomSessionNotesReachPeerAndCache(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryRoomStore()
	client := newTestClient(t)

	cacheDir := t.TempDir()
	cache, err := localcache.CreateCache(cacheDir, nil)
	if err != nil {
		t.Fatalf("CreateCache failed: %v", err)
	}

	creatorTransport := newFakeTransport()
	creatorRoom, err := client.JoinRoom(ctx, store, "",
		WithTransportFactory(factoryOf(creatorTransport)),
		WithLocalCache(cache),
	)
	if err != nil {
		t.Fatalf("JoinRoom (create) failed: %v", err)
	}
	defer creatorRoom.Leave()

	var (
		mux      sync.Mutex
		received []string
	)
	joinerTransport := newFakeTransport()
	joinerRoom, err := client.JoinRoom(ctx, store, creatorRoom.RoomID(),
		WithTransportFactory(factoryOf(joinerTransport)),
		WithNotesCallback(func(update protocol.NotesUpdate) {
			mux.Lock()
			received = append(received, update.Content)
			mux.Unlock()
		}),
	)
	if err != nil {
		t.Fatalf("JoinRoom failed: %v", err)
	}
	defer joinerRoom.Leave()

	pipeRooms(t, creatorTransport, joinerTransport)

	if err := creatorRoom.SendNotes("hello"); err != nil {
		t.Fatalf("SendNotes failed: %v", err)
	}
	if err := creatorRoom.SendNotes("hello world"); err != nil {
		t.Fatalf("SendNotes failed: %v", err)
	}

	mux.Lock()
	got := append([]string(nil), received...)
	mux.Unlock()
	if len(got) != 2 || got[1] != "hello world" {
		t.Errorf("joiner received %v, want last write to win", got)
	}

	if notes, ok := cache.Notes(); !ok || notes != "hello world" {
		t.Errorf("cached notes = %q (ok=%v), want the latest content", notes, ok)
	}
}

func TestRoomSessionSendBeforeChannelOpenFails(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryRoomStore()
	client := newTestClient(t)

	transport := newFakeTransport()
	room, err := client.JoinRoom(ctx, store, "", WithTransportFactory(factoryOf(transport)))
	if err != nil {
		t.Fatalf("JoinRoom (create) failed: %v", err)
	}
	defer room.Leave()

	// The channel exists but is not open: sends are rejected, not queued.
	if err := room.SendNotes("too early"); err == nil {
		t.Error("SendNotes succeeded before the channel opened")
	}
}

func TestCreatorLeaveDeletesRoom(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryRoomStore()
	client := newTestClient(t)

	transport := newFakeTransport()
	room, err := client.JoinRoom(ctx, store, "", WithTransportFactory(factoryOf(transport)))
	if err != nil {
		t.Fatalf("JoinRoom (create) failed: %v", err)
	}
	roomID := room.RoomID()

	if err := room.Leave(); err != nil {
		t.Fatalf("Leave failed: %v", err)
	}

	snapshot, err := store.GetRoom(ctx, roomID)
	if err != nil {
		t.Fatalf("GetRoom failed: %v", err)
	}
	if snapshot.Exists {
		t.Error("room document survived the creator leaving")
	}

	if err := room.SendNotes("after leave"); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("SendNotes after Leave = %v, want ErrSessionClosed", err)
	}
}

func TestJoinerReconnectRejoinsSameRoom(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryRoomStore()
	client := newTestClient(t)

	creatorTransport := newFakeTransport()
	creatorRoom, err := client.JoinRoom(ctx, store, "", WithTransportFactory(factoryOf(creatorTransport)))
	if err != nil {
		t.Fatalf("JoinRoom (create) failed: %v", err)
	}
	defer creatorRoom.Leave()

	first := newFakeTransport()
	second := newFakeTransport()
	joinerRoom, err := client.JoinRoom(ctx, store, creatorRoom.RoomID(),
		WithTransportFactory(factoryOf(first, second)),
		WithReconnectClock(clockwork.NewFakeClock()),
	)
	if err != nil {
		t.Fatalf("JoinRoom failed: %v", err)
	}
	defer joinerRoom.Leave()

	first.fireState(webrtc.PeerConnectionStateFailed)
	joinerRoom.ReconnectNow()

	if !first.closed {
		t.Error("old transport left open across reconnect")
	}
	if remote := second.remoteDescription(); remote == nil || remote.Type != "offer" {
		t.Errorf("replacement transport remote description = %+v, want the offer", remote)
	}
	if got := joinerRoom.RoomID(); got != creatorRoom.RoomID() {
		t.Errorf("joiner rejoined room %q, want %q", got, creatorRoom.RoomID())
	}
}

func TestCreatorReconnectMintsNewRoom(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryRoomStore()
	client := newTestClient(t)

	first := newFakeTransport()
	second := newFakeTransport()
	room, err := client.JoinRoom(ctx, store, "",
		WithTransportFactory(factoryOf(first, second)),
		WithReconnectClock(clockwork.NewFakeClock()),
	)
	if err != nil {
		t.Fatalf("JoinRoom (create) failed: %v", err)
	}
	defer room.Leave()

	oldRoomID := room.RoomID()

	first.fireState(webrtc.PeerConnectionStateFailed)
	room.ReconnectNow()

	newRoomID := room.RoomID()
	if newRoomID == oldRoomID {
		t.Error("creator reconnect reused the old room id")
	}

	snapshot, err := store.GetRoom(ctx, newRoomID)
	if err != nil {
		t.Fatalf("GetRoom failed: %v", err)
	}
	if !snapshot.Exists || snapshot.Offer == nil {
		t.Errorf("new room snapshot = %+v, want an offer published", snapshot)
	}
}

func TestStaleTransportCloseDoesNotRestartReconnect(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryRoomStore()
	client := newTestClient(t)

	first := newFakeTransport()
	second := newFakeTransport()
	room, err := client.JoinRoom(ctx, store, "",
		WithTransportFactory(factoryOf(first, second)),
		WithReconnectClock(clockwork.NewFakeClock()),
	)
	if err != nil {
		t.Fatalf("JoinRoom (create) failed: %v", err)
	}
	defer room.Leave()

	first.fireState(webrtc.PeerConnectionStateFailed)
	room.ReconnectNow()
	second.fireState(webrtc.PeerConnectionStateConnected)

	if got := room.Status().State; got != StateConnected {
		t.Fatalf("state after reconnect = %s, want connected", got)
	}

	// The torn-down transport reports its close asynchronously, after the
	// replacement is already connected.
	first.fireState(webrtc.PeerConnectionStateClosed)

	status := room.Status()
	if status.State != StateConnected {
		t.Errorf("state after stale close = %s, want connected", status.State)
	}
	if n := room.reconnector.Attempts(); n != 0 {
		t.Errorf("stale close restarted the reconnect cycle; attempts = %d", n)
	}
}

func TestReconnectStatusCarriesAttemptAndDelay(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryRoomStore()
	client := newTestClient(t)

	transport := newFakeTransport()
	room, err := client.JoinRoom(ctx, store, "",
		WithTransportFactory(factoryOf(transport)),
		WithReconnectClock(clockwork.NewFakeClock()),
	)
	if err != nil {
		t.Fatalf("JoinRoom (create) failed: %v", err)
	}
	defer room.Leave()

	transport.fireState(webrtc.PeerConnectionStateDisconnected)

	status := room.Status()
	if status.State != StateReconnecting {
		t.Fatalf("state = %s, want reconnecting", status.State)
	}
	if status.Message != "Reconnecting attempt 1 in 2s..." {
		t.Errorf("message = %q", status.Message)
	}
	if status.Attempt != 1 || status.Delay.Seconds() != 2 {
		t.Errorf("attempt/delay = %d/%s", status.Attempt, status.Delay)
	}

	room.CancelReconnect()
	if got := room.Status().Message; got != "Reconnect canceled." {
		t.Errorf("message after cancel = %q", got)
	}
}
