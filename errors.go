package connect

import (
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var (
	// ErrRoomNotFound is terminal for a join attempt: retrying would hit the
	// same missing room, so no automatic retry follows it.
	ErrRoomNotFound = errors.New("room not found")

	// ErrSignalingUnavailable wraps store read/write failures. Never fatal
	// to an already-established connection.
	ErrSignalingUnavailable = errors.New("signaling store unavailable")

	// ErrReconnectExhausted reports that the automatic reconnection ceiling
	// was reached. No further attempts happen until a new negotiation is
	// started externally.
	ErrReconnectExhausted = errors.New("reconnect failed after multiple attempts")

	// ErrSessionClosed reports use of a room session after Leave.
	ErrSessionClosed = errors.New("room session is closed")
)

// MediaAccessError is the tolerated failure to acquire local capture
// devices; negotiation continues data-channel-only.
type MediaAccessError struct {
	Cause error
}

func (e *MediaAccessError) Error() string {
	return fmt.Sprintf("could not access camera or microphone: %v", e.Cause)
}

func (e *MediaAccessError) Unwrap() error {
	return e.Cause
}

// classifySignalError maps a store error into the local taxonomy. Firestore
// surfaces grpc status codes; NotFound keeps its meaning, everything else is
// a signaling availability problem.
func classifySignalError(err error) error {
	if err == nil {
		return nil
	}
	if status.Code(err) == codes.NotFound {
		return fmt.Errorf("%w: %v", ErrRoomNotFound, err)
	}
	return fmt.Errorf("%w: %v", ErrSignalingUnavailable, err)
}
