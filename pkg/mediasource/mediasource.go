// Package mediasource publishes local audio/video to the peer connection.
// Unlike a browser, a Go process has no standard capture stack, so sources
// are supplied by the caller behind small interfaces; the package only moves
// encoded samples or RTP packets onto pion tracks.
package mediasource

import (
	"context"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
)

// SampleSource yields encoded media samples, one ReadSample call per sample.
// ReadSample blocks until a sample is available, the source ends, or ctx is
// cancelled.
type SampleSource interface {
	ReadSample(ctx context.Context) (media.Sample, error)
	Close() error
}

// PacketSource yields ready-made RTP packets for sources that packetise
// themselves.
type PacketSource interface {
	ReadPacket(ctx context.Context) (*rtp.Packet, error)
	Close() error
}

// Provider acquires the local capture devices. Acquisition failure is a
// tolerated condition for the session: it degrades to data-channel-only and
// keeps negotiating.
type Provider interface {
	OpenCamera(ctx context.Context) (SampleSource, webrtc.RTPCodecCapability, error)
	OpenMicrophone(ctx context.Context) (SampleSource, webrtc.RTPCodecCapability, error)
}
