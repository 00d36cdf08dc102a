package connect

import (
	"sync"

	"go.uber.org/multierr"
)

// Role distinguishes the peer that mints the room from the peer that joins
// it by id. The creator always produces the offer and the data channel; the
// joiner always answers and adopts the channel.
type Role int

const (
	RoleCreator Role = iota
	RoleJoiner
)

func (r Role) String() string {
	if r == RoleCreator {
		return "creator"
	}
	return "joiner"
}

// NegotiationSession owns everything one negotiation produced: the transport,
// its signaling subscriptions, and the room id. Reconnection tears the whole
// session down and negotiates a new one; nothing inside is reused.
type NegotiationSession struct {
	role   Role
	roomID string

	transport Transport

	mux          sync.Mutex
	unsubscribes []UnsubscribeFunc
	channel      DataChannelHandle

	teardownOnce sync.Once
	teardownErr  error
}

func (session *NegotiationSession) Role() Role {
	return session.role
}

func (session *NegotiationSession) RoomID() string {
	return session.roomID
}

func (session *NegotiationSession) Transport() Transport {
	return session.transport
}

// Channel returns the main data channel, or nil if the remote peer has not
// announced it yet (joiner side, before the channel arrives).
func (session *NegotiationSession) Channel() DataChannelHandle {
	session.mux.Lock()
	defer session.mux.Unlock()
	return session.channel
}

func (session *NegotiationSession) setChannel(channel DataChannelHandle) {
	session.mux.Lock()
	defer session.mux.Unlock()
	session.channel = channel
}

func (session *NegotiationSession) addUnsubscribe(unsubscribe UnsubscribeFunc) {
	session.mux.Lock()
	defer session.mux.Unlock()
	session.unsubscribes = append(session.unsubscribes, unsubscribe)
}

// Teardown cancels every signaling subscription before closing the
// transport. Ordering matters: a subscription outliving its transport would
// feed candidates into a closed peer connection.
func (session *NegotiationSession) Teardown() error {
	session.teardownOnce.Do(func() {
		session.mux.Lock()
		unsubscribes := session.unsubscribes
		session.unsubscribes = nil
		session.mux.Unlock()

		for _, unsubscribe := range unsubscribes {
			unsubscribe()
		}

		session.teardownErr = multierr.Append(session.teardownErr, session.transport.Close())
	})
	return session.teardownErr
}
