package connect

import (
	"context"
	"fmt"
	"sync"

	"github.com/pion/logging"
	"github.com/pion/sdp/v3"
	"github.com/pion/webrtc/v4"

	"github.com/pwartc/connect/pkg/mediasource"
)

// TransportFactory builds a fresh transport for one negotiation attempt.
type TransportFactory = func(ctx context.Context) (Transport, error)

// Negotiator runs the offer/answer exchange between a transport and a room
// store. It is stateless across negotiations: every CreateRoom or JoinRoom
// call produces an independent NegotiationSession, which is how reconnection
// gets a clean slate each attempt.
type Negotiator struct {
	store        RoomStore
	newTransport TransportFactory
	logger       logging.LeveledLogger
	feed         *statusFeed

	media             mediasource.Provider
	transportObserver func(Transport)
	channelObserver   func(DataChannelHandle)
}

type NegotiatorOption = func(*Negotiator) error

// WithMediaProvider adds local capture to each negotiation. Capture failure
// degrades the session to data-only rather than failing it.
func WithMediaProvider(provider mediasource.Provider) NegotiatorOption {
	return func(negotiator *Negotiator) error {
		negotiator.media = provider
		return nil
	}
}

// WithTransportObserver registers a callback invoked with every new
// transport before negotiation touches it. The health monitor hooks in here.
func WithTransportObserver(fn func(Transport)) NegotiatorOption {
	return func(negotiator *Negotiator) error {
		negotiator.transportObserver = fn
		return nil
	}
}

// WithChannelObserver registers a callback invoked with the main data
// channel as soon as it exists, on both roles.
func WithChannelObserver(fn func(DataChannelHandle)) NegotiatorOption {
	return func(negotiator *Negotiator) error {
		negotiator.channelObserver = fn
		return nil
	}
}

func CreateNegotiator(store RoomStore, newTransport TransportFactory, feed *statusFeed, loggerFactory logging.LoggerFactory, options ...NegotiatorOption) (*Negotiator, error) {
	if loggerFactory == nil {
		loggerFactory = logging.NewDefaultLoggerFactory()
	}

	negotiator := &Negotiator{
		store:        store,
		newTransport: newTransport,
		logger:       loggerFactory.NewLogger("negotiator"),
		feed:         feed,
	}

	for _, option := range options {
		if err := option(negotiator); err != nil {
			return nil, err
		}
	}

	return negotiator, nil
}

// CreateRoom negotiates as the creator: mint a room, publish an offer into
// it, then wait for an answer and callee candidates to arrive through the
// store watches. Returns as soon as the local side is fully published; the
// connection itself completes asynchronously.
func (negotiator *Negotiator) CreateRoom(ctx context.Context) (*NegotiationSession, error) {
	transport, err := negotiator.newTransport(ctx)
	if err != nil {
		return nil, err
	}
	if negotiator.transportObserver != nil {
		negotiator.transportObserver(transport)
	}

	session := &NegotiationSession{role: RoleCreator, transport: transport}

	// The channel must exist before the offer is created so its description
	// is part of the SDP.
	channel, err := transport.CreateDataChannel(MainChannelLabel)
	if err != nil {
		return nil, teardownOnError(session, fmt.Errorf("error while creating data channel: %w", err))
	}
	session.setChannel(channel)
	if negotiator.channelObserver != nil {
		negotiator.channelObserver(channel)
	}

	negotiator.attachMedia(ctx, transport)

	negotiator.feed.publish(Status{State: StateConnecting, Message: "Creating new room..."})

	roomID, err := negotiator.store.CreateRoom(ctx)
	if err != nil {
		return nil, teardownOnError(session, classifySignalError(err))
	}
	session.roomID = roomID

	transport.OnICECandidate(func(candidate webrtc.ICECandidateInit) {
		go func() {
			if err := negotiator.store.AddCallerCandidate(ctx, roomID, candidate); err != nil {
				negotiator.logger.Warnf("error while publishing caller candidate: %v", err)
			}
		}()
	})

	offer, err := transport.CreateOffer()
	if err != nil {
		return nil, teardownOnError(session, err)
	}
	if err := transport.SetLocalDescription(offer); err != nil {
		return nil, teardownOnError(session, err)
	}
	if err := negotiator.store.SetOffer(ctx, roomID, offer); err != nil {
		return nil, teardownOnError(session, classifySignalError(err))
	}

	negotiator.feed.publish(Status{
		State:   StateConnecting,
		Message: fmt.Sprintf("Room created. Share the ID: %s", roomID),
		RoomID:  roomID,
	})

	unsubscribeRoom, err := negotiator.store.WatchRoom(ctx, roomID, func(snapshot RoomSnapshot) {
		// The room only ever carries one answer; the guard makes redundant
		// snapshots harmless.
		if snapshot.Answer == nil || transport.RemoteDescriptionSet() {
			return
		}
		negotiator.feed.publish(Status{State: StateConnecting, Message: "Connection offer accepted.", RoomID: roomID})
		if err := transport.SetRemoteDescription(*snapshot.Answer); err != nil {
			negotiator.logger.Errorf("error while applying remote answer: %v", err)
		}
	})
	if err != nil {
		return nil, teardownOnError(session, classifySignalError(err))
	}
	session.addUnsubscribe(unsubscribeRoom)

	unsubscribeCandidates, err := negotiator.store.WatchCalleeCandidates(ctx, roomID, func(candidate webrtc.ICECandidateInit) {
		if err := transport.AddICECandidate(candidate); err != nil {
			negotiator.logger.Warnf("error while adding callee candidate: %v", err)
		}
	})
	if err != nil {
		return nil, teardownOnError(session, classifySignalError(err))
	}
	session.addUnsubscribe(unsubscribeCandidates)

	return session, nil
}

// JoinRoom negotiates as the joiner: read the room's offer, publish an
// answer, and adopt the creator's data channel when it is announced. A
// missing room fails immediately with ErrRoomNotFound; no retry follows.
func (negotiator *Negotiator) JoinRoom(ctx context.Context, roomID string) (*NegotiationSession, error) {
	negotiator.feed.publish(Status{State: StateConnecting, Message: fmt.Sprintf("Joining room: %s...", roomID), RoomID: roomID})

	snapshot, err := negotiator.store.GetRoom(ctx, roomID)
	if err != nil {
		return nil, classifySignalError(err)
	}
	if !snapshot.Exists {
		negotiator.feed.publish(Status{State: StateFailed, Message: fmt.Sprintf("Error: Room %s not found.", roomID), RoomID: roomID})
		return nil, fmt.Errorf("%w: %s", ErrRoomNotFound, roomID)
	}

	transport, err := negotiator.newTransport(ctx)
	if err != nil {
		return nil, err
	}
	if negotiator.transportObserver != nil {
		negotiator.transportObserver(transport)
	}

	session := &NegotiationSession{role: RoleJoiner, roomID: roomID, transport: transport}

	transport.OnDataChannel(func(channel DataChannelHandle) {
		if channel.GetLabel() != MainChannelLabel {
			negotiator.logger.Warnf("ignoring unexpected data channel %q", channel.GetLabel())
			return
		}
		session.setChannel(channel)
		if negotiator.channelObserver != nil {
			negotiator.channelObserver(channel)
		}
	})

	negotiator.attachMedia(ctx, transport)

	transport.OnICECandidate(func(candidate webrtc.ICECandidateInit) {
		go func() {
			if err := negotiator.store.AddCalleeCandidate(ctx, roomID, candidate); err != nil {
				negotiator.logger.Warnf("error while publishing callee candidate: %v", err)
			}
		}()
	})

	// Usually the offer is already in the snapshot; the watch covers the
	// race where the creator has minted the room but not yet published it.
	var answerOnce sync.Once
	answer := func(offer SessionDescription) {
		answerOnce.Do(func() {
			if err := negotiator.answerOffer(ctx, transport, roomID, offer); err != nil {
				negotiator.logger.Errorf("error while answering offer: %v", err)
			}
		})
	}

	if snapshot.Offer == nil {
		unsubscribeRoom, err := negotiator.store.WatchRoom(ctx, roomID, func(snapshot RoomSnapshot) {
			if snapshot.Offer == nil || transport.RemoteDescriptionSet() {
				return
			}
			answer(*snapshot.Offer)
		})
		if err != nil {
			return nil, teardownOnError(session, classifySignalError(err))
		}
		session.addUnsubscribe(unsubscribeRoom)
	} else {
		answer(*snapshot.Offer)
	}

	unsubscribeCandidates, err := negotiator.store.WatchCallerCandidates(ctx, roomID, func(candidate webrtc.ICECandidateInit) {
		if err := transport.AddICECandidate(candidate); err != nil {
			negotiator.logger.Warnf("error while adding caller candidate: %v", err)
		}
	})
	if err != nil {
		return nil, teardownOnError(session, classifySignalError(err))
	}
	session.addUnsubscribe(unsubscribeCandidates)

	return session, nil
}

func (negotiator *Negotiator) answerOffer(ctx context.Context, transport Transport, roomID string, offer SessionDescription) error {
	negotiator.feed.publish(Status{State: StateConnecting, Message: "Peer found. Sending answer...", RoomID: roomID})
	negotiator.logger.Infof("remote offer carries media sections: %v", remoteMediaKinds(offer.SDP))

	if err := transport.SetRemoteDescription(offer); err != nil {
		return err
	}

	answer, err := transport.CreateAnswer()
	if err != nil {
		return err
	}
	if err := transport.SetLocalDescription(answer); err != nil {
		return err
	}
	if err := negotiator.store.SetAnswer(ctx, roomID, answer); err != nil {
		return classifySignalError(err)
	}

	return nil
}

// attachMedia tries to add local capture and treats failure as a warning:
// collaboration over the data channel does not depend on media.
func (negotiator *Negotiator) attachMedia(ctx context.Context, transport Transport) {
	if negotiator.media == nil {
		return
	}
	if err := transport.AttachMedia(ctx, negotiator.media); err != nil {
		negotiator.logger.Warnf("media unavailable, continuing data-only: %v", err)
		negotiator.feed.publish(Status{
			State:   StateConnecting,
			Message: "Error: Could not access camera or microphone. Continuing with chat only.",
			RoomID:  negotiator.feed.get().RoomID,
		})
	}
}

// remoteMediaKinds lists the media section types of an SDP body, for the log
// line that shows what the remote side intends to send.
func remoteMediaKinds(body string) []string {
	var description sdp.SessionDescription
	if err := description.UnmarshalString(body); err != nil {
		return nil
	}

	kinds := make([]string, 0, len(description.MediaDescriptions))
	for _, media := range description.MediaDescriptions {
		kinds = append(kinds, media.MediaName.Media)
	}
	return kinds
}

func teardownOnError(session *NegotiationSession, err error) error {
	if teardownErr := session.Teardown(); teardownErr != nil {
		return fmt.Errorf("%w (teardown: %v)", err, teardownErr)
	}
	return err
}
