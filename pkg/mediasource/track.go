package mediasource

import (
	"context"
	"errors"
	"io"

	"github.com/pion/logging"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
)

type Track struct {
	label           string
	codecCapability *webrtc.RTPCodecCapability
	consumer        *webrtc.TrackLocalStaticSample
	rtpSender       *webrtc.RTPSender
	source          SampleSource
	logger          logging.LeveledLogger
	ctx             context.Context
}

func CreateTrack(ctx context.Context, label string, peerConnection *webrtc.PeerConnection, loggerFactory logging.LoggerFactory, options ...TrackOption) (*Track, error) {
	if loggerFactory == nil {
		loggerFactory = logging.NewDefaultLoggerFactory()
	}

	track := &Track{
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

	consumer, err := webrtc.NewTrackLocalStaticSample(*track.codecCapability, label, "connect")
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

func (track *Track) GetLabel() string {
	return track.label
}

// WriteSample pushes one encoded sample onto the track. Callers without a
// SampleSource drive the track through this directly.
func (track *Track) WriteSample(sample media.Sample) error {
	return track.consumer.WriteSample(sample)
}

// rtcpDrainLoop reads and discards inbound RTCP so interceptors keep running.
func (track *Track) rtcpDrainLoop() {
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

func (track *Track) pumpLoop() {
	defer func() {
		if err := track.source.Close(); err != nil {
			track.logger.Warnf("error while closing sample source (label=%s): %v", track.label, err)
		}
	}()

	for {
		sample, err := track.source.ReadSample(track.ctx)
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, context.Canceled) {
				track.logger.Errorf("sample source failed (label=%s): %v", track.label, err)
			}
			return
		}
		if err := track.consumer.WriteSample(sample); err != nil {
			track.logger.Errorf("error while writing sample (label=%s): %v", track.label, err)
			return
		}
	}
}
