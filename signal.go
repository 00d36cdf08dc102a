package connect

import (
	"context"

	"github.com/pion/webrtc/v4"
)

const (
	CollectionRooms            = "rooms"
	CollectionCallerCandidates = "callerCandidates"
	CollectionCalleeCandidates = "calleeCandidates"

	FieldOffer  = "offer"
	FieldAnswer = "answer"
	FieldSDP    = "sdp"
	FieldType   = "type"
)

// SessionDescription is the signaling payload for an SDP offer or answer.
type SessionDescription struct {
	SDP  string `json:"sdp"`
	Type string `json:"type"`
}

// RoomSnapshot is one observed state of a room document. A room holds at
// most one offer and one answer for its whole lifetime.
type RoomSnapshot struct {
	Exists bool
	Offer  *SessionDescription
	Answer *SessionDescription
}

// UnsubscribeFunc cancels a signaling subscription. Safe to call more than
// once. Every active subscription must be unsubscribed before the peer
// connection it feeds is replaced.
type UnsubscribeFunc = func()

// RoomStore is the document-store contract the negotiation runs against:
// one document per room carrying the offer and answer, plus two append-only
// candidate subcollections (caller side and callee side). Implementations
// exist for Firestore (production), a local directory (offline fallback)
// and in-memory (tests).
type RoomStore interface {
	// CreateRoom creates an empty room document and returns its
	// provider-assigned identifier.
	CreateRoom(ctx context.Context) (string, error)

	// GetRoom fetches the room's current state. A missing room is reported
	// through RoomSnapshot.Exists, not an error.
	GetRoom(ctx context.Context, roomID string) (RoomSnapshot, error)

	SetOffer(ctx context.Context, roomID string, offer SessionDescription) error
	SetAnswer(ctx context.Context, roomID string, answer SessionDescription) error

	// DeleteRoom removes the room document. Only the room's creator deletes
	// it, and only when leaving voluntarily.
	DeleteRoom(ctx context.Context, roomID string) error

	AddCallerCandidate(ctx context.Context, roomID string, candidate webrtc.ICECandidateInit) error
	AddCalleeCandidate(ctx context.Context, roomID string, candidate webrtc.ICECandidateInit) error

	// WatchRoom invokes onChange for every observed state of the room
	// document, including an initial snapshot and non-existence.
	WatchRoom(ctx context.Context, roomID string, onChange func(RoomSnapshot)) (UnsubscribeFunc, error)

	// WatchCallerCandidates and WatchCalleeCandidates invoke onAdded once
	// per newly appended candidate, in arrival order. Modifications and
	// removals are never reported.
	WatchCallerCandidates(ctx context.Context, roomID string, onAdded func(webrtc.ICECandidateInit)) (UnsubscribeFunc, error)
	WatchCalleeCandidates(ctx context.Context, roomID string, onAdded func(webrtc.ICECandidateInit)) (UnsubscribeFunc, error)

	// Ping is a cheap health probe used by the connectivity indicator.
	Ping(ctx context.Context) error

	Close() error
}
