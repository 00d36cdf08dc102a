package connect

import (
	"context"
	"fmt"
	"sync"

	"github.com/pion/logging"
	"github.com/pion/webrtc/v4"

	"go.uber.org/multierr"

	"github.com/pwartc/connect/pkg/datachannel"
	"github.com/pwartc/connect/pkg/mediasource"
)

// DataChannelHandle is the surface the negotiation and the application
// protocol need from a data channel. *datachannel.DataChannel satisfies it.
type DataChannelHandle interface {
	GetLabel() string
	Open() <-chan struct{}
	IsOpen() bool
	Send(payload []byte) error
	OnOpen(fn func())
	OnClose(fn func())
	OnError(fn func(error))
	OnMessage(fn func([]byte))
	Close() error
}

// Transport is one peer connection's worth of WebRTC machinery. The
// negotiator drives it through SDP and candidate exchange; it deliberately
// knows nothing about the signaling store. A fresh Transport is created for
// every negotiation attempt, including reconnects.
type Transport interface {
	CreateDataChannel(label string, options ...datachannel.Option) (DataChannelHandle, error)
	OnDataChannel(fn func(DataChannelHandle))

	CreateOffer() (SessionDescription, error)
	CreateAnswer() (SessionDescription, error)
	SetLocalDescription(description SessionDescription) error
	SetRemoteDescription(description SessionDescription) error
	RemoteDescriptionSet() bool

	AddICECandidate(candidate webrtc.ICECandidateInit) error
	OnICECandidate(fn func(webrtc.ICECandidateInit))

	OnConnectionStateChange(fn func(webrtc.PeerConnectionState))
	ConnectionState() webrtc.PeerConnectionState
	OnTrack(fn func(*webrtc.TrackRemote, *webrtc.RTPReceiver))

	// AttachMedia adds local camera and microphone tracks from the provider.
	// Failure is reported but leaves the transport usable for data-only.
	AttachMedia(ctx context.Context, provider mediasource.Provider) error

	Close() error
}

type webrtcTransport struct {
	peerConnection *webrtc.PeerConnection
	dataChannels   *datachannel.DataChannels
	tracks         *mediasource.Tracks
	loggerFactory  logging.LoggerFactory
	logger         logging.LeveledLogger

	ctx    context.Context
	cancel context.CancelFunc

	closeOnce sync.Once
	closeErr  error
}

func createWebRTCTransport(ctx context.Context, api *webrtc.API, configuration webrtc.Configuration, loggerFactory logging.LoggerFactory) (*webrtcTransport, error) {
	peerConnection, err := api.NewPeerConnection(configuration)
	if err != nil {
		return nil, fmt.Errorf("error while creating peer connection: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)

	return &webrtcTransport{
		peerConnection: peerConnection,
		dataChannels:   datachannel.CreateDataChannels(ctx, loggerFactory),
		tracks:         mediasource.CreateTracks(ctx, loggerFactory),
		loggerFactory:  loggerFactory,
		logger:         loggerFactory.NewLogger("transport"),
		ctx:            ctx,
		cancel:         cancel,
	}, nil
}

func (transport *webrtcTransport) CreateDataChannel(label string, options ...datachannel.Option) (DataChannelHandle, error) {
	return transport.dataChannels.CreateDataChannel(label, transport.peerConnection, options...)
}

func (transport *webrtcTransport) OnDataChannel(fn func(DataChannelHandle)) {
	transport.peerConnection.OnDataChannel(func(channel *webrtc.DataChannel) {
		adopted, err := transport.dataChannels.AdoptRawDataChannel(channel)
		if err != nil {
			transport.logger.Errorf("error while adopting remote data channel %q: %v", channel.Label(), err)
			return
		}
		fn(adopted)
	})
}

func (transport *webrtcTransport) CreateOffer() (SessionDescription, error) {
	offer, err := transport.peerConnection.CreateOffer(nil)
	if err != nil {
		return SessionDescription{}, fmt.Errorf("error while creating offer: %w", err)
	}
	return SessionDescription{SDP: offer.SDP, Type: offer.Type.String()}, nil
}

func (transport *webrtcTransport) CreateAnswer() (SessionDescription, error) {
	answer, err := transport.peerConnection.CreateAnswer(nil)
	if err != nil {
		return SessionDescription{}, fmt.Errorf("error while creating answer: %w", err)
	}
	return SessionDescription{SDP: answer.SDP, Type: answer.Type.String()}, nil
}

func (transport *webrtcTransport) SetLocalDescription(description SessionDescription) error {
	if err := transport.peerConnection.SetLocalDescription(webrtc.SessionDescription{
		Type: webrtc.NewSDPType(description.Type),
		SDP:  description.SDP,
	}); err != nil {
		return fmt.Errorf("error while setting local description: %w", err)
	}
	return nil
}

func (transport *webrtcTransport) SetRemoteDescription(description SessionDescription) error {
	if err := transport.peerConnection.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.NewSDPType(description.Type),
		SDP:  description.SDP,
	}); err != nil {
		return fmt.Errorf("error while setting remote description: %w", err)
	}
	return nil
}

func (transport *webrtcTransport) RemoteDescriptionSet() bool {
	return transport.peerConnection.RemoteDescription() != nil
}

func (transport *webrtcTransport) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	if err := transport.peerConnection.AddICECandidate(candidate); err != nil {
		return fmt.Errorf("error while adding ice candidate: %w", err)
	}
	return nil
}

func (transport *webrtcTransport) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	transport.peerConnection.OnICECandidate(func(candidate *webrtc.ICECandidate) {
		// Gathering-complete is signalled with nil; the store only ever sees
		// real candidates.
		if candidate == nil {
			return
		}
		fn(candidate.ToJSON())
	})
}

func (transport *webrtcTransport) OnConnectionStateChange(fn func(webrtc.PeerConnectionState)) {
	transport.peerConnection.OnConnectionStateChange(fn)
}

func (transport *webrtcTransport) ConnectionState() webrtc.PeerConnectionState {
	return transport.peerConnection.ConnectionState()
}

func (transport *webrtcTransport) OnTrack(fn func(*webrtc.TrackRemote, *webrtc.RTPReceiver)) {
	transport.peerConnection.OnTrack(fn)
}

func (transport *webrtcTransport) AttachMedia(ctx context.Context, provider mediasource.Provider) error {
	camera, videoCapability, err := provider.OpenCamera(ctx)
	if err != nil {
		return &MediaAccessError{Cause: err}
	}

	microphone, audioCapability, err := provider.OpenMicrophone(ctx)
	if err != nil {
		closeErr := camera.Close()
		return &MediaAccessError{Cause: multierr.Append(err, closeErr)}
	}

	if _, err := transport.tracks.CreateTrack("camera", transport.peerConnection,
		mediasource.WithCodecCapability(videoCapability),
		mediasource.WithSampleSource(camera),
	); err != nil {
		return fmt.Errorf("error while creating camera track: %w", err)
	}

	if _, err := transport.tracks.CreateTrack("microphone", transport.peerConnection,
		mediasource.WithCodecCapability(audioCapability),
		mediasource.WithSampleSource(microphone),
	); err != nil {
		return fmt.Errorf("error while creating microphone track: %w", err)
	}

	return nil
}

// Stats exposes the raw pion stats report for the metrics collector.
func (transport *webrtcTransport) Stats() webrtc.StatsReport {
	return transport.peerConnection.GetStats()
}

func (transport *webrtcTransport) Close() error {
	transport.closeOnce.Do(func() {
		transport.cancel()
		transport.closeErr = multierr.Append(
			transport.dataChannels.Close(),
			transport.peerConnection.Close(),
		)
	})
	return transport.closeErr
}
