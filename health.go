package connect

import (
	"sync"

	"github.com/pion/logging"
	"github.com/pion/webrtc/v4"
)

// HealthMonitor translates transport and data channel events into status
// updates and reconnection triggers. One monitor outlives the transports it
// watches: every renegotiation hands it a fresh transport to observe while
// the reconnector and status feed stay put.
type HealthMonitor struct {
	logger      logging.LeveledLogger
	feed        *statusFeed
	reconnector *Reconnector

	mux     sync.Mutex
	muted   bool
	current Transport
	channel DataChannelHandle
}

func CreateHealthMonitor(loggerFactory logging.LoggerFactory, feed *statusFeed, reconnector *Reconnector) *HealthMonitor {
	if loggerFactory == nil {
		loggerFactory = logging.NewDefaultLoggerFactory()
	}
	return &HealthMonitor{
		logger:      loggerFactory.NewLogger("health"),
		feed:        feed,
		reconnector: reconnector,
	}
}

// Mute stops the monitor from reacting to further events. Called on
// deliberate teardown, so the close events it provokes are not mistaken for
// an outage.
func (monitor *HealthMonitor) Mute() {
	monitor.mux.Lock()
	defer monitor.mux.Unlock()
	monitor.muted = true
}

func (monitor *HealthMonitor) watches(transport Transport) bool {
	monitor.mux.Lock()
	defer monitor.mux.Unlock()
	return !monitor.muted && monitor.current == transport
}

func (monitor *HealthMonitor) watchesChannel(channel DataChannelHandle) bool {
	monitor.mux.Lock()
	defer monitor.mux.Unlock()
	return !monitor.muted && monitor.channel == channel
}

// Watch observes a transport's connection state. The transport becomes the
// monitor's current one: a replaced transport fires its close events
// asynchronously after teardown, and those must not be mistaken for an
// outage on the live connection, so events from anything but the current
// transport are dropped.
func (monitor *HealthMonitor) Watch(transport Transport) {
	monitor.mux.Lock()
	monitor.current = transport
	monitor.mux.Unlock()

	transport.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		if !monitor.watches(transport) {
			return
		}

		monitor.logger.Infof("peer connection state: %s", state)

		switch state {
		case webrtc.PeerConnectionStateConnecting:
			monitor.publish(StateConnecting, "")

		case webrtc.PeerConnectionStateConnected:
			monitor.reconnector.NotifyConnected()
			monitor.publish(StateConnected, "Connection successful! Ready to collaborate.")

		case webrtc.PeerConnectionStateDisconnected:
			monitor.publish(StateDisconnected, "")
			monitor.reconnector.Start()

		case webrtc.PeerConnectionStateFailed:
			monitor.publish(StateFailed, "")
			monitor.reconnector.Start()

		case webrtc.PeerConnectionStateClosed:
			monitor.publish(StateClosed, "")
			monitor.reconnector.Start()
		}
	})
}

// WatchChannel observes the main data channel. The channel opening is the
// secondary readiness signal; its closing is reported but does not start a
// reconnect cycle, since the peer connection events already cover outages.
func (monitor *HealthMonitor) WatchChannel(channel DataChannelHandle) {
	monitor.mux.Lock()
	monitor.channel = channel
	monitor.mux.Unlock()

	channel.OnOpen(func() {
		if !monitor.watchesChannel(channel) {
			return
		}
		monitor.reconnector.NotifyConnected()
		monitor.publish(StateConnected, "Connection successful! Ready to collaborate.")
	})

	channel.OnClose(func() {
		if !monitor.watchesChannel(channel) {
			return
		}
		monitor.publish(StateClosed, "Connection closed by peer.")
	})

	channel.OnError(func(err error) {
		if !monitor.watchesChannel(channel) {
			return
		}
		monitor.logger.Errorf("data channel error on %q: %v", channel.GetLabel(), err)
	})
}

// publish keeps the current room id and replaces state and message. An empty
// message keeps the previous one.
func (monitor *HealthMonitor) publish(state ConnectionState, message string) {
	current := monitor.feed.get()
	if message == "" {
		message = current.Message
	}
	monitor.feed.publish(Status{State: state, Message: message, RoomID: current.RoomID})
}
