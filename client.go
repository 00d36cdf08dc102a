// Package connect establishes direct peer-to-peer collaboration sessions
// between two participants: a document-store signaling exchange negotiates a
// WebRTC connection, a single data channel carries notes, shared URLs and
// chunked file transfers, and a health monitor drives exponential-backoff
// reconnection when the link drops.
package connect

import (
	"context"
	"sync"

	"github.com/pion/interceptor"
	"github.com/pion/interceptor/pkg/stats"
	"github.com/pion/logging"
	"github.com/pion/webrtc/v4"
)

// Client holds the engines shared by every transport it mints: codecs,
// interceptors and settings are configured once, then each negotiation
// attempt gets its own peer connection built from the same API.
type Client struct {
	mediaEngine         *webrtc.MediaEngine
	settingsEngine      *webrtc.SettingEngine
	interceptorRegistry *interceptor.Registry
	api                 *webrtc.API

	loggerFactory logging.LoggerFactory

	mux         sync.Mutex
	statsGetter stats.Getter

	ctx context.Context
}

func NewClient(ctx context.Context, mediaEngine *webrtc.MediaEngine, interceptorRegistry *interceptor.Registry, settings *webrtc.SettingEngine, options ...ClientOption) (*Client, error) {
	if mediaEngine == nil {
		mediaEngine = &webrtc.MediaEngine{}
	}
	if interceptorRegistry == nil {
		interceptorRegistry = &interceptor.Registry{}
	}
	if settings == nil {
		settings = &webrtc.SettingEngine{}
	}

	c := &Client{
		mediaEngine:         mediaEngine,
		interceptorRegistry: interceptorRegistry,
		settingsEngine:      settings,
		loggerFactory:       logging.NewDefaultLoggerFactory(),
		ctx:                 ctx,
	}

	for _, option := range options {
		if err := option(c); err != nil {
			return nil, err
		}
	}

	c.api = webrtc.NewAPI(
		webrtc.WithMediaEngine(c.mediaEngine),
		webrtc.WithInterceptorRegistry(c.interceptorRegistry),
		webrtc.WithSettingEngine(*c.settingsEngine),
	)

	return c, nil
}

func (c *Client) LoggerFactory() logging.LoggerFactory {
	return c.loggerFactory
}

func (c *Client) setStatsGetter(getter stats.Getter) {
	c.mux.Lock()
	defer c.mux.Unlock()
	c.statsGetter = getter
}

// StatsGetter returns the per-stream stats getter from the most recently
// built peer connection, or nil when WithStatsInterceptor is not in use.
// Reconnection mints a fresh transport per attempt, so each new peer
// connection replaces the getter; queries against a superseded one return
// stale streams.
func (c *Client) StatsGetter() stats.Getter {
	c.mux.Lock()
	defer c.mux.Unlock()
	return c.statsGetter
}

// NewTransport builds a fresh peer connection wrapped as a Transport.
func (c *Client) NewTransport(ctx context.Context, configuration webrtc.Configuration) (Transport, error) {
	return createWebRTCTransport(ctx, c.api, configuration, c.loggerFactory)
}

// TransportFactory binds a configuration into the factory shape the
// negotiator consumes.
func (c *Client) TransportFactory(configuration webrtc.Configuration) TransportFactory {
	return func(ctx context.Context) (Transport, error) {
		return c.NewTransport(ctx, configuration)
	}
}
