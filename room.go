package connect

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pion/logging"
	"github.com/pion/webrtc/v4"

	"go.uber.org/multierr"

	"github.com/pwartc/connect/pkg/cloudsync"
	"github.com/pwartc/connect/pkg/datachannel"
	"github.com/pwartc/connect/pkg/localcache"
	"github.com/pwartc/connect/pkg/mediasource"
	"github.com/pwartc/connect/pkg/protocol"
)

const statsPollInterval = 5 * time.Second

// RoomSession is the full lifecycle of one participant in a room: signaling,
// the data-channel protocol, health monitoring with automatic reconnection,
// and best-effort local plus cloud persistence of whatever flows through.
type RoomSession struct {
	client *Client
	store  RoomStore
	logger logging.LeveledLogger
	feed   *statusFeed

	configuration    webrtc.Configuration
	transportFactory TransportFactory
	media            mediasource.Provider
	clock            clockwork.Clock
	cache            *localcache.Cache
	cloud            *cloudsync.Store

	onNotes func(protocol.NotesUpdate)
	onURL   func(protocol.URLShare)
	onFile  func(protocol.File)

	negotiator  *Negotiator
	reconnector *Reconnector
	monitor     *HealthMonitor
	collector   *StatsCollector
	handler     *protocol.Handler

	ctx    context.Context
	cancel context.CancelFunc

	mux     sync.Mutex
	session *NegotiationSession
	sender  *protocol.Sender
	closed  bool

	closeOnce sync.Once
	closeErr  error
}

type RoomOption = func(*RoomSession) error

func WithRTCConfiguration(configuration webrtc.Configuration) RoomOption {
	return func(room *RoomSession) error {
		room.configuration = configuration
		return nil
	}
}

// WithTransportFactory overrides how peer connections are built, mainly so
// tests can substitute a transport without ICE underneath.
func WithTransportFactory(factory TransportFactory) RoomOption {
	return func(room *RoomSession) error {
		room.transportFactory = factory
		return nil
	}
}

// WithMedia adds local camera and microphone capture to the session.
func WithMedia(provider mediasource.Provider) RoomOption {
	return func(room *RoomSession) error {
		room.media = provider
		return nil
	}
}

// WithLocalCache persists notes, files and connection state across restarts.
func WithLocalCache(cache *localcache.Cache) RoomOption {
	return func(room *RoomSession) error {
		room.cache = cache
		return nil
	}
}

// WithCloudStore mirrors notes and shared files to the cloud, best-effort.
func WithCloudStore(store *cloudsync.Store) RoomOption {
	return func(room *RoomSession) error {
		room.cloud = store
		return nil
	}
}

func WithNotesCallback(fn func(protocol.NotesUpdate)) RoomOption {
	return func(room *RoomSession) error {
		room.onNotes = fn
		return nil
	}
}

func WithURLShareCallback(fn func(protocol.URLShare)) RoomOption {
	return func(room *RoomSession) error {
		room.onURL = fn
		return nil
	}
}

func WithFileCallback(fn func(protocol.File)) RoomOption {
	return func(room *RoomSession) error {
		room.onFile = fn
		return nil
	}
}

// WithReconnectClock swaps the clock behind the backoff schedule.
func WithReconnectClock(clock clockwork.Clock) RoomOption {
	return func(room *RoomSession) error {
		room.clock = clock
		return nil
	}
}

// JoinRoom enters a room as the joiner, or creates a fresh room when roomID
// is empty. The call returns once the local half of the negotiation is
// published; connection progress streams through WatchStatus.
func (c *Client) JoinRoom(ctx context.Context, store RoomStore, roomID string, options ...RoomOption) (*RoomSession, error) {
	ctx, cancel := context.WithCancel(ctx)

	room := &RoomSession{
		client:        c,
		store:         store,
		logger:        c.loggerFactory.NewLogger("room"),
		feed:          newStatusFeed(),
		configuration: GetSTUNRTCConfiguration(),
		clock:         clockwork.NewRealClock(),
		ctx:           ctx,
		cancel:        cancel,
	}

	for _, option := range options {
		if err := option(room); err != nil {
			cancel()
			return nil, err
		}
	}

	if err := room.build(); err != nil {
		cancel()
		return nil, err
	}

	go room.recordConnectionChanges()

	if err := room.negotiate(ctx, roomID); err != nil {
		room.collector.Close()
		cancel()
		return nil, err
	}

	return room, nil
}

func (room *RoomSession) build() error {
	loggerFactory := room.client.loggerFactory

	handler, err := protocol.CreateHandler(loggerFactory,
		protocol.WithNotesHandler(room.handleRemoteNotes),
		protocol.WithURLShareHandler(room.handleRemoteURL),
		protocol.WithFileHandler(room.handleRemoteFile),
	)
	if err != nil {
		return err
	}
	room.handler = handler

	reconnector, err := CreateReconnector(room.ctx, loggerFactory, room.renegotiate,
		WithClock(room.clock),
		WithScheduledCallback(room.publishReconnectSchedule),
		WithGaveUpCallback(func() {
			if room.isClosed() {
				return
			}
			room.publish(StateGaveUp, "Reconnect failed after multiple attempts.")
		}),
		WithCanceledCallback(func() {
			if room.isClosed() {
				return
			}
			room.publish(StateDisconnected, "Reconnect canceled.")
		}),
	)
	if err != nil {
		return err
	}
	room.reconnector = reconnector

	room.monitor = CreateHealthMonitor(loggerFactory, room.feed, reconnector)
	room.collector = CreateStatsCollector(room.ctx, loggerFactory, statsPollInterval)

	negotiatorOptions := []NegotiatorOption{
		WithTransportObserver(func(transport Transport) {
			room.monitor.Watch(transport)
			if source, ok := transport.(StatsSource); ok {
				room.collector.Observe(source)
			}
		}),
		WithChannelObserver(room.adoptChannel),
	}
	if room.media != nil {
		negotiatorOptions = append(negotiatorOptions, WithMediaProvider(room.media))
	}

	factory := room.transportFactory
	if factory == nil {
		factory = room.client.TransportFactory(room.configuration)
	}

	negotiator, err := CreateNegotiator(room.store, factory, room.feed, loggerFactory, negotiatorOptions...)
	if err != nil {
		return err
	}
	room.negotiator = negotiator

	return nil
}

func (room *RoomSession) negotiate(ctx context.Context, roomID string) error {
	var (
		session *NegotiationSession
		err     error
	)
	if roomID == "" {
		session, err = room.negotiator.CreateRoom(ctx)
	} else {
		session, err = room.negotiator.JoinRoom(ctx, roomID)
	}
	if err != nil {
		return err
	}

	room.mux.Lock()
	room.session = session
	room.mux.Unlock()

	if room.cache != nil {
		if err := room.cache.SetLastRoomID(session.RoomID()); err != nil {
			room.logger.Warnf("error while caching room id: %v", err)
		}
	}

	return nil
}

// renegotiate is the reconnection attempt: tear the old session down and run
// the negotiation again. The creator mints a brand new room, since the peer
// may still hold the answer slot of the old one; the joiner rejoins by id. A
// vanished room ends the cycle instead of burning the remaining attempts.
func (room *RoomSession) renegotiate(ctx context.Context) error {
	room.mux.Lock()
	session := room.session
	room.mux.Unlock()

	if session == nil {
		return ErrSessionClosed
	}
	if err := session.Teardown(); err != nil {
		room.logger.Warnf("error while tearing down session before reconnect: %v", err)
	}
	room.handler.Assembler().Reset()

	roomID := ""
	if session.Role() == RoleJoiner {
		roomID = session.RoomID()
	}

	if err := room.negotiate(ctx, roomID); err != nil {
		if errors.Is(err, ErrRoomNotFound) {
			room.logger.Errorf("room %s is gone; not retrying", roomID)
			return nil
		}
		return err
	}
	return nil
}

// adoptChannel wires a fresh main channel into the protocol machinery. Runs
// once per negotiation, on both roles.
func (room *RoomSession) adoptChannel(channel DataChannelHandle) {
	room.monitor.WatchChannel(channel)
	channel.OnMessage(room.handler.Handle)

	sender, err := protocol.CreateSender(channel.Send, room.client.loggerFactory)
	if err != nil {
		room.logger.Errorf("error while creating protocol sender: %v", err)
		return
	}

	room.mux.Lock()
	room.sender = sender
	room.mux.Unlock()
}

// recordConnectionChanges mirrors connection state transitions into the
// local cache, so a restarted process can show where it left off.
func (room *RoomSession) recordConnectionChanges() {
	if room.cache == nil {
		return
	}

	watcher, unsubscribe := room.feed.watch()
	defer unsubscribe()

	var last ConnectionState = -1
	for {
		select {
		case <-room.ctx.Done():
			return
		case status := <-watcher:
			if status.State == last {
				continue
			}
			last = status.State
			record := localcache.ConnectionRecord{
				RoomID:    status.RoomID,
				Connected: status.State == StateConnected,
				Timestamp: time.Now().UTC(),
			}
			if err := room.cache.SetConnectionRecord(record); err != nil {
				room.logger.Warnf("error while caching connection state: %v", err)
			}
		}
	}
}

func (room *RoomSession) handleRemoteNotes(update protocol.NotesUpdate) {
	if room.cache != nil {
		if err := room.cache.SetNotes(update.Content); err != nil {
			room.logger.Warnf("error while caching notes: %v", err)
		}
	}
	if room.onNotes != nil {
		room.onNotes(update)
	}
}

func (room *RoomSession) handleRemoteURL(share protocol.URLShare) {
	if room.onURL != nil {
		room.onURL(share)
	}
}

func (room *RoomSession) handleRemoteFile(file protocol.File) {
	if room.cache != nil {
		if err := room.cache.StoreFile(file.Name, file.Type, file.Data); err != nil {
			room.logger.Warnf("error while caching received file %q: %v", file.Name, err)
		}
	}
	if room.onFile != nil {
		room.onFile(file)
	}
}

func (room *RoomSession) publishReconnectSchedule(attempt int, delay time.Duration) {
	if room.isClosed() {
		return
	}

	stat := room.collector.Snapshot()
	room.logger.Infof("connection degraded (rtt=%s, bytes sent=%d, received=%d); attempt %d in %s",
		stat.RoundTripTime(), stat.ICECandidatePairStat.BytesSent, stat.ICECandidatePairStat.BytesReceived, attempt, delay)

	room.feed.publish(Status{
		State:   StateReconnecting,
		Message: fmt.Sprintf("Reconnecting attempt %d in %ds...", attempt, int(delay.Seconds())),
		RoomID:  room.RoomID(),
		Attempt: attempt,
		Delay:   delay,
	})
}

func (room *RoomSession) publish(state ConnectionState, message string) {
	room.feed.publish(Status{State: state, Message: message, RoomID: room.RoomID()})
}

func (room *RoomSession) isClosed() bool {
	room.mux.Lock()
	defer room.mux.Unlock()
	return room.closed
}

func (room *RoomSession) currentSender() (*protocol.Sender, error) {
	room.mux.Lock()
	defer room.mux.Unlock()

	if room.closed {
		return nil, ErrSessionClosed
	}
	if room.sender == nil {
		return nil, datachannel.ErrNotOpen
	}
	return room.sender, nil
}

func (room *RoomSession) RoomID() string {
	room.mux.Lock()
	defer room.mux.Unlock()
	if room.session == nil {
		return ""
	}
	return room.session.RoomID()
}

func (room *RoomSession) Role() Role {
	room.mux.Lock()
	defer room.mux.Unlock()
	if room.session == nil {
		return RoleCreator
	}
	return room.session.Role()
}

func (room *RoomSession) Status() Status {
	return room.feed.get()
}

func (room *RoomSession) WatchStatus() (<-chan Status, UnsubscribeFunc) {
	return room.feed.watch()
}

// SendNotes publishes the full current notes text to the peer and persists
// it locally and, when configured, to the cloud.
func (room *RoomSession) SendNotes(content string) error {
	sender, err := room.currentSender()
	if err != nil {
		return err
	}

	if room.cache != nil {
		if err := room.cache.SetNotes(content); err != nil {
			room.logger.Warnf("error while caching notes: %v", err)
		}
	}
	room.syncToCloud(func(ctx context.Context) error {
		return room.cloud.UpsertNotes(ctx, room.RoomID(), content)
	})

	return sender.SendNotes(content)
}

// ShareURL sends a URL reference to the peer.
func (room *RoomSession) ShareURL(name, url string) error {
	sender, err := room.currentSender()
	if err != nil {
		return err
	}

	room.syncToCloud(func(ctx context.Context) error {
		return room.cloud.SaveURLShare(ctx, room.RoomID(), name, url)
	})

	return sender.SendURLShare(name, url)
}

// ShareFile streams a file to the peer in chunks and persists a copy.
func (room *RoomSession) ShareFile(name, mimeType string, data []byte) error {
	sender, err := room.currentSender()
	if err != nil {
		return err
	}

	if room.cache != nil {
		if err := room.cache.StoreFile(name, mimeType, data); err != nil {
			room.logger.Warnf("error while caching file %q: %v", name, err)
		}
	}
	room.syncToCloud(func(ctx context.Context) error {
		_, err := room.cloud.SaveFile(ctx, room.RoomID(), name, mimeType, data)
		return err
	})

	return sender.SendFile(name, mimeType, data)
}

// syncToCloud runs a cloud write off the send path. Failures are warnings;
// the peer-to-peer exchange never waits on the cloud.
func (room *RoomSession) syncToCloud(operation func(ctx context.Context) error) {
	if room.cloud == nil {
		return
	}
	go func() {
		if err := operation(room.ctx); err != nil && room.ctx.Err() == nil {
			room.logger.Warnf("cloud sync failed: %v", err)
		}
	}()
}

// CachedFiles lists files persisted in the local cache.
func (room *RoomSession) CachedFiles() []localcache.CachedFile {
	if room.cache == nil {
		return nil
	}
	return room.cache.Files()
}

// CloudFiles lists files recorded in the cloud for this room.
func (room *RoomSession) CloudFiles(ctx context.Context) ([]cloudsync.FileRecord, error) {
	if room.cloud == nil {
		return nil, nil
	}
	return room.cloud.Files(ctx, room.RoomID())
}

// Stats returns the latest connection-quality snapshot.
func (room *RoomSession) Stats() Stat {
	return room.collector.Snapshot()
}

// CheckConnectivity probes the signaling backend.
func (room *RoomSession) CheckConnectivity(ctx context.Context) error {
	return room.store.Ping(ctx)
}

// ReconnectNow skips the pending backoff delay and retries immediately.
func (room *RoomSession) ReconnectNow() {
	room.reconnector.ReconnectNow()
}

// CancelReconnect abandons the automatic reconnection cycle.
func (room *RoomSession) CancelReconnect() {
	room.reconnector.Cancel()
}

// Leave tears the session down. The creator also deletes the room document,
// so stale ids stop resolving; the joiner leaves the room in place.
func (room *RoomSession) Leave() error {
	room.closeOnce.Do(func() {
		room.mux.Lock()
		room.closed = true
		session := room.session
		room.session = nil
		room.sender = nil
		room.mux.Unlock()

		room.monitor.Mute()
		room.reconnector.Cancel()

		var err error
		if session != nil {
			err = multierr.Append(err, session.Teardown())
			if session.Role() == RoleCreator {
				if deleteErr := room.store.DeleteRoom(context.Background(), session.RoomID()); deleteErr != nil {
					err = multierr.Append(err, deleteErr)
				}
			}
		}

		if room.cache != nil {
			record := localcache.ConnectionRecord{RoomID: "", Connected: false, Timestamp: time.Now().UTC()}
			if session != nil {
				record.RoomID = session.RoomID()
			}
			if cacheErr := room.cache.SetConnectionRecord(record); cacheErr != nil {
				room.logger.Warnf("error while caching connection state: %v", cacheErr)
			}
		}

		err = multierr.Append(err, room.collector.Close())
		room.cancel()
		room.closeErr = err
	})
	return room.closeErr
}
