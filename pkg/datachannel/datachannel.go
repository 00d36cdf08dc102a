// Package datachannel wraps pion data channels with multiplexed event
// callbacks and an open gate, so several observers (health monitoring, the
// application protocol, caches) can watch one channel without fighting over
// pion's single-handler slots.
package datachannel

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/pion/logging"
	"github.com/pion/webrtc/v4"

	"go.uber.org/multierr"
)

var ErrNotOpen = errors.New("data channel is not open")

type DataChannel struct {
	label       string
	datachannel *webrtc.DataChannel
	init        *webrtc.DataChannelInit
	logger      logging.LeveledLogger

	openSignal chan struct{}
	openOnce   sync.Once

	mux       sync.RWMutex
	onOpen    []func()
	onClose   []func()
	onError   []func(error)
	onMessage []func([]byte)
}

func CreateDataChannel(ctx context.Context, label string, peerConnection *webrtc.PeerConnection, loggerFactory logging.LoggerFactory, options ...Option) (*DataChannel, error) {
	dc := newDataChannel(label, loggerFactory)

	for _, option := range options {
		if err := option(dc); err != nil {
			return nil, err
		}
	}

	channel, err := peerConnection.CreateDataChannel(label, dc.init)
	if err != nil {
		return nil, err
	}
	dc.datachannel = channel

	return dc.wire(ctx), nil
}

// CreateRawDataChannel adopts a channel announced by the remote peer; the
// answering side never creates the channel itself.
func CreateRawDataChannel(ctx context.Context, channel *webrtc.DataChannel, loggerFactory logging.LoggerFactory) *DataChannel {
	dc := newDataChannel(channel.Label(), loggerFactory)
	dc.datachannel = channel
	return dc.wire(ctx)
}

func newDataChannel(label string, loggerFactory logging.LoggerFactory) *DataChannel {
	if loggerFactory == nil {
		loggerFactory = logging.NewDefaultLoggerFactory()
	}
	return &DataChannel{
		label:      label,
		logger:     loggerFactory.NewLogger("datachannel"),
		openSignal: make(chan struct{}),
	}
}

func (dc *DataChannel) wire(ctx context.Context) *DataChannel {
	dc.datachannel.OnOpen(func() {
		dc.logger.Infof("data channel open (label=%s)", dc.label)
		dc.openOnce.Do(func() { close(dc.openSignal) })
		for _, fn := range dc.openCallbacks() {
			fn()
		}
	})

	dc.datachannel.OnClose(func() {
		dc.logger.Infof("data channel closed (label=%s)", dc.label)
		for _, fn := range dc.closeCallbacks() {
			fn()
		}
	})

	dc.datachannel.OnError(func(err error) {
		if ctx.Err() != nil {
			return
		}
		dc.logger.Errorf("data channel error (label=%s): %v", dc.label, err)
		for _, fn := range dc.errorCallbacks() {
			fn(err)
		}
	})

	dc.datachannel.OnMessage(func(msg webrtc.DataChannelMessage) {
		for _, fn := range dc.messageCallbacks() {
			fn(msg.Data)
		}
	})

	return dc
}

func (dc *DataChannel) openCallbacks() []func() {
	dc.mux.RLock()
	defer dc.mux.RUnlock()
	return dc.onOpen
}

func (dc *DataChannel) closeCallbacks() []func() {
	dc.mux.RLock()
	defer dc.mux.RUnlock()
	return dc.onClose
}

func (dc *DataChannel) errorCallbacks() []func(error) {
	dc.mux.RLock()
	defer dc.mux.RUnlock()
	return dc.onError
}

func (dc *DataChannel) messageCallbacks() []func([]byte) {
	dc.mux.RLock()
	defer dc.mux.RUnlock()
	return dc.onMessage
}

func (dc *DataChannel) GetLabel() string {
	return dc.label
}

// Open returns a channel closed once the data channel reports open.
func (dc *DataChannel) Open() <-chan struct{} {
	return dc.openSignal
}

func (dc *DataChannel) IsOpen() bool {
	return dc.datachannel.ReadyState() == webrtc.DataChannelStateOpen
}

// Send transmits one message. Callers must wait for Open; pre-open sends are
// rejected, not queued.
func (dc *DataChannel) Send(payload []byte) error {
	if !dc.IsOpen() {
		return fmt.Errorf("%w (label=%s, state=%s)", ErrNotOpen, dc.label, dc.datachannel.ReadyState())
	}
	return dc.datachannel.Send(payload)
}

func (dc *DataChannel) OnOpen(fn func()) {
	dc.mux.Lock()
	defer dc.mux.Unlock()
	dc.onOpen = append(dc.onOpen, fn)
}

func (dc *DataChannel) OnClose(fn func()) {
	dc.mux.Lock()
	defer dc.mux.Unlock()
	dc.onClose = append(dc.onClose, fn)
}

func (dc *DataChannel) OnError(fn func(error)) {
	dc.mux.Lock()
	defer dc.mux.Unlock()
	dc.onError = append(dc.onError, fn)
}

func (dc *DataChannel) OnMessage(fn func([]byte)) {
	dc.mux.Lock()
	defer dc.mux.Unlock()
	dc.onMessage = append(dc.onMessage, fn)
}

func (dc *DataChannel) DataChannel() *webrtc.DataChannel {
	return dc.datachannel
}

func (dc *DataChannel) Close() error {
	return dc.datachannel.Close()
}

// +++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++

type DataChannels struct {
	datachannel   map[string]*DataChannel
	loggerFactory logging.LoggerFactory
	mux           sync.RWMutex
	ctx           context.Context
}

func CreateDataChannels(ctx context.Context, loggerFactory logging.LoggerFactory) *DataChannels {
	return &DataChannels{
		datachannel:   map[string]*DataChannel{},
		loggerFactory: loggerFactory,
		ctx:           ctx,
	}
}

func (dataChannels *DataChannels) CreateDataChannel(label string, peerConnection *webrtc.PeerConnection, options ...Option) (*DataChannel, error) {
	dataChannels.mux.Lock()
	defer dataChannels.mux.Unlock()

	if _, exists := dataChannels.datachannel[label]; exists {
		return nil, fmt.Errorf("datachannel with label = '%s' already exists", label)
	}

	channel, err := CreateDataChannel(dataChannels.ctx, label, peerConnection, dataChannels.loggerFactory, options...)
	if err != nil {
		return nil, err
	}

	dataChannels.datachannel[label] = channel
	return channel, nil
}

func (dataChannels *DataChannels) AdoptRawDataChannel(channel *webrtc.DataChannel) (*DataChannel, error) {
	dataChannels.mux.Lock()
	defer dataChannels.mux.Unlock()

	if _, exists := dataChannels.datachannel[channel.Label()]; exists {
		return nil, fmt.Errorf("data channel already exists with label: %s", channel.Label())
	}

	dataChannel := CreateRawDataChannel(dataChannels.ctx, channel, dataChannels.loggerFactory)
	dataChannels.datachannel[channel.Label()] = dataChannel

	return dataChannel, nil
}

func (dataChannels *DataChannels) GetDataChannel(label string) (*DataChannel, error) {
	dataChannels.mux.RLock()
	defer dataChannels.mux.RUnlock()

	dataChannel, exists := dataChannels.datachannel[label]
	if !exists {
		return nil, errors.New("datachannel does not exist")
	}
	return dataChannel, nil
}

func (dataChannels *DataChannels) Close() error {
	dataChannels.mux.Lock()
	defer dataChannels.mux.Unlock()

	var merr error
	for label, channel := range dataChannels.datachannel {
		if err := channel.Close(); err != nil {
			merr = multierr.Append(merr, err)
		}
		delete(dataChannels.datachannel, label)
	}
	return merr
}
