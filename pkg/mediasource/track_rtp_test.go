package mediasource

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

type queuedPacketSource struct {
	mux     sync.Mutex
	packets []*rtp.Packet
	closed  bool
}

func (source *queuedPacketSource) ReadPacket(ctx context.Context) (*rtp.Packet, error) {
	source.mux.Lock()
	defer source.mux.Unlock()
	if len(source.packets) == 0 {
		return nil, io.EOF
	}
	packet := source.packets[0]
	source.packets = source.packets[1:]
	return packet, nil
}

func (source *queuedPacketSource) Close() error {
	source.mux.Lock()
	defer source.mux.Unlock()
	source.closed = true
	return nil
}

func (source *queuedPacketSource) isClosed() bool {
	source.mux.Lock()
	defer source.mux.Unlock()
	return source.closed
}

func TestRTPTrackPumpsSourceToCompletion(t *testing.T) {
	peerConnection, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		t.Fatalf("NewPeerConnection failed: %v", err)
	}
	defer peerConnection.Close()

	source := &queuedPacketSource{packets: []*rtp.Packet{
		{Header: rtp.Header{Version: 2, SequenceNumber: 1}},
		{Header: rtp.Header{Version: 2, SequenceNumber: 2}},
		{Header: rtp.Header{Version: 2, SequenceNumber: 3}},
	}}

	track, err := CreateRTPTrack(context.Background(), "restream", peerConnection, nil,
		WithRTPCodecCapability(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}),
		WithPacketSource(source),
	)
	if err != nil {
		t.Fatalf("CreateRTPTrack failed: %v", err)
	}
	if got := track.GetLabel(); got != "restream" {
		t.Errorf("GetLabel() = %q, want %q", got, "restream")
	}

	// The pump closes the source once it has drained every packet.
	deadline := time.Now().Add(2 * time.Second)
	for !source.isClosed() {
		if time.Now().After(deadline) {
			t.Fatal("packet source never drained")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestRTPTrackWritesDirectlyWithoutSource(t *testing.T) {
	peerConnection, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		t.Fatalf("NewPeerConnection failed: %v", err)
	}
	defer peerConnection.Close()

	track, err := CreateRTPTrack(context.Background(), "manual", peerConnection, nil,
		WithRTPCodecCapability(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}),
	)
	if err != nil {
		t.Fatalf("CreateRTPTrack failed: %v", err)
	}

	if err := track.WriteRTP(&rtp.Packet{Header: rtp.Header{Version: 2, SequenceNumber: 1}}); err != nil {
		t.Errorf("WriteRTP failed: %v", err)
	}
}

func TestRTPTrackRequiresCodecCapability(t *testing.T) {
	peerConnection, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		t.Fatalf("NewPeerConnection failed: %v", err)
	}
	defer peerConnection.Close()

	if _, err := CreateRTPTrack(context.Background(), "bare", peerConnection, nil); err == nil {
		t.Error("CreateRTPTrack succeeded without a codec capability")
	}
}
