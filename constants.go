package connect

import "time"

const (
	// MainChannelLabel is the single negotiated data channel every room uses.
	MainChannelLabel = "mainChannel"

	// MaxReconnectAttempts caps automatic reconnection; after the fifth
	// failure the session reports StateGaveUp and waits for manual action.
	MaxReconnectAttempts = 5

	// BaseReconnectDelay and MaxReconnectDelay bound the exponential backoff
	// schedule: 2s, 4s, 8s, 16s, 30s.
	BaseReconnectDelay = 1 * time.Second
	MaxReconnectDelay  = 30 * time.Second
)
