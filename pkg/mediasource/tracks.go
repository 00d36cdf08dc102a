package mediasource

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sync"

	"github.com/pion/logging"
	"github.com/pion/webrtc/v4"
)

type Tracks struct {
	tracks        map[string]*Track
	rtpTracks     map[string]*RTPTrack
	loggerFactory logging.LoggerFactory
	mux           sync.RWMutex
	ctx           context.Context
}

func CreateTracks(ctx context.Context, loggerFactory logging.LoggerFactory) *Tracks {
	return &Tracks{
		tracks:        map[string]*Track{},
		rtpTracks:     map[string]*RTPTrack{},
		loggerFactory: loggerFactory,
		ctx:           ctx,
	}
}

func (tracks *Tracks) CreateTrack(label string, peerConnection *webrtc.PeerConnection, options ...TrackOption) (*Track, error) {
	tracks.mux.Lock()
	defer tracks.mux.Unlock()

	if _, exists := tracks.tracks[label]; exists {
		return nil, fmt.Errorf("track with label = '%s' already exists", label)
	}

	track, err := CreateTrack(tracks.ctx, label, peerConnection, tracks.loggerFactory, options...)
	if err != nil {
		return nil, err
	}

	tracks.tracks[label] = track
	return track, nil
}

func (tracks *Tracks) CreateRTPTrack(label string, peerConnection *webrtc.PeerConnection, options ...RTPTrackOption) (*RTPTrack, error) {
	tracks.mux.Lock()
	defer tracks.mux.Unlock()

	if _, exists := tracks.rtpTracks[label]; exists {
		return nil, fmt.Errorf("rtp track with label = '%s' already exists", label)
	}

	track, err := CreateRTPTrack(tracks.ctx, label, peerConnection, tracks.loggerFactory, options...)
	if err != nil {
		return nil, err
	}

	tracks.rtpTracks[label] = track
	return track, nil
}

func (tracks *Tracks) GetTrack(label string) (*Track, error) {
	tracks.mux.RLock()
	defer tracks.mux.RUnlock()

	track, exists := tracks.tracks[label]
	if !exists {
		return nil, errors.New("track does not exist")
	}
	return track, nil
}

func (tracks *Tracks) GetRTPTrack(label string) (*RTPTrack, error) {
	tracks.mux.RLock()
	defer tracks.mux.RUnlock()

	track, exists := tracks.rtpTracks[label]
	if !exists {
		return nil, errors.New("rtp track does not exist")
	}
	return track, nil
}

func (tracks *Tracks) Tracks() iter.Seq2[string, *Track] {
	return func(yield func(string, *Track) bool) {
		tracks.mux.RLock()
		defer tracks.mux.RUnlock()

		for label, track := range tracks.tracks {
			if !yield(label, track) {
				return
			}
		}
	}
}
