package connect

import (
	"sync"
	"time"
)

// ConnectionState is the application-facing classification of the room
// session's transport health.
type ConnectionState int

const (
	StateInitializing ConnectionState = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateDisconnected
	StateFailed
	StateClosed

	// StateGaveUp is deliberately distinct from StateReconnecting: the
	// backoff ceiling was reached (or the user cancelled) and no further
	// automatic attempts will happen.
	StateGaveUp
)

func (s ConnectionState) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateDisconnected:
		return "disconnected"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	case StateGaveUp:
		return "gave-up"
	default:
		return "unknown"
	}
}

// Status is one observed state of the session, carrying the user-facing
// message alongside the machine-readable classification. During
// reconnection, Attempt and Delay describe the scheduled retry.
type Status struct {
	State   ConnectionState
	Message string
	RoomID  string

	Attempt int
	Delay   time.Duration
}

// statusFeed fans a Status stream out to any number of watchers. Watchers
// that fall behind lose intermediate states but always see the latest one;
// the feed never blocks the event path.
type statusFeed struct {
	mux      sync.RWMutex
	current  Status
	watchers map[int]chan Status
	nextID   int
}

func newStatusFeed() *statusFeed {
	return &statusFeed{
		current:  Status{State: StateInitializing, Message: "Initializing..."},
		watchers: map[int]chan Status{},
	}
}

func (feed *statusFeed) publish(status Status) {
	feed.mux.Lock()
	defer feed.mux.Unlock()

	feed.current = status
	for _, watcher := range feed.watchers {
		// Drop the stale value, keep the latest.
		select {
		case <-watcher:
		default:
		}
		select {
		case watcher <- status:
		default:
		}
	}
}

func (feed *statusFeed) get() Status {
	feed.mux.RLock()
	defer feed.mux.RUnlock()
	return feed.current
}

func (feed *statusFeed) watch() (<-chan Status, UnsubscribeFunc) {
	feed.mux.Lock()
	defer feed.mux.Unlock()

	id := feed.nextID
	feed.nextID++

	watcher := make(chan Status, 1)
	watcher <- feed.current
	feed.watchers[id] = watcher

	var once sync.Once
	return watcher, func() {
		once.Do(func() {
			feed.mux.Lock()
			defer feed.mux.Unlock()
			delete(feed.watchers, id)
		})
	}
}
