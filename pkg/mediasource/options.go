package mediasource

import "github.com/pion/webrtc/v4"

type (
	TrackOption    = func(*Track) error
	RTPTrackOption = func(*RTPTrack) error
)

func WithVP8Track(clockRate uint32) TrackOption {
	return func(track *Track) error {
		track.codecCapability = &webrtc.RTPCodecCapability{
			MimeType:  webrtc.MimeTypeVP8,
			ClockRate: clockRate,
		}
		return nil
	}
}

func WithH264Track(clockRate uint32) TrackOption {
	return func(track *Track) error {
		track.codecCapability = &webrtc.RTPCodecCapability{
			MimeType:    webrtc.MimeTypeH264,
			ClockRate:   clockRate,
			SDPFmtpLine: "level-asymmetry-allowed=1;packetization-mode=1",
		}
		return nil
	}
}

func WithOpusTrack(sampleRate uint32, channels uint16) TrackOption {
	return func(track *Track) error {
		track.codecCapability = &webrtc.RTPCodecCapability{
			MimeType:  webrtc.MimeTypeOpus,
			ClockRate: sampleRate,
			Channels:  channels,
		}
		return nil
	}
}

// WithCodecCapability sets the capability directly, for sources that report
// their own codec.
func WithCodecCapability(capability webrtc.RTPCodecCapability) TrackOption {
	return func(track *Track) error {
		track.codecCapability = &capability
		return nil
	}
}

// WithSampleSource attaches a source whose samples are pumped onto the track
// for its whole lifetime.
func WithSampleSource(source SampleSource) TrackOption {
	return func(track *Track) error {
		track.source = source
		return nil
	}
}

func WithRTPCodecCapability(capability webrtc.RTPCodecCapability) RTPTrackOption {
	return func(track *RTPTrack) error {
		track.codecCapability = &capability
		return nil
	}
}

func WithPacketSource(source PacketSource) RTPTrackOption {
	return func(track *RTPTrack) error {
		track.source = source
		return nil
	}
}
