package mediasource

import (
	"context"
	"errors"
	"io"

	"github.com/pion/logging"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

// RTPTrack carries pre-packetised RTP from a PacketSource onto the peer
// connection, for sources that already speak RTP (restreamed feeds, capture
// pipelines with their own packetiser).
type RTPTrack struct {
	label           string
	codecCapability *webrtc.RTPCodecCapability
	consumer        *webrtc.TrackLocalStaticRTP
	rtpSender       *webrtc.RTPSender
	source          PacketSource
	logger          logging.LeveledLogger
	ctx             context.Context
}

func CreateRTPTrack(ctx context.Context, label string, peerConnection *webrtc.PeerConnection, loggerFactory logging.LoggerFactory, options ...RTPTrackOption) (*RTPTrack, error) {
	if loggerFactory == nil {
		loggerFactory = logging.NewDefaultLoggerFactory()
	}

	track := &RTPTrack{
		label:  label,
		logger: loggerFactory.NewLogger("mediasource"),
		ctx:    ctx,
	}

	for _, option := range options {
		if err := option(track); err != nil {
			return nil, err
		}
	}

	if track.codecCapability == nil {
		return nil, errors.New("no track capabilities given")
	}

	consumer, err := webrtc.NewTrackLocalStaticRTP(*track.codecCapability, label, "connect")
	if err != nil {
		return nil, err
	}
	track.consumer = consumer

	if track.rtpSender, err = peerConnection.AddTrack(consumer); err != nil {
		return nil, err
	}

	go track.rtcpDrainLoop()

	if track.source != nil {
		go track.pumpLoop()
	}

	return track, nil
}

func (track *RTPTrack) GetLabel() string {
	return track.label
}

func (track *RTPTrack) WriteRTP(packet *rtp.Packet) error {
	return track.consumer.WriteRTP(packet)
}

func (track *RTPTrack) rtcpDrainLoop() {
	rtcpBuf := make([]byte, 1500)
	for {
		select {
		case <-track.ctx.Done():
			return
		default:
			if _, _, err := track.rtpSender.Read(rtcpBuf); err != nil {
				return
			}
		}
	}
}

func (track *RTPTrack) pumpLoop() {
	defer func() {
		if err := track.source.Close(); err != nil {
			track.logger.Warnf("error while closing packet source (label=%s): %v", track.label, err)
		}
	}()

	for {
		packet, err := track.source.ReadPacket(track.ctx)
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, context.Canceled) {
				track.logger.Errorf("packet source failed (label=%s): %v", track.label, err)
			}
			return
		}
		if err := track.consumer.WriteRTP(packet); err != nil {
			track.logger.Errorf("error while writing rtp packet (label=%s): %v", track.label, err)
			return
		}
	}
}
