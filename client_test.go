package connect

import (
	"context"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
)

func TestStatsInterceptorNeverBlocksTransportCreation(t *testing.T) {
	client, err := NewClient(context.Background(), nil, nil, nil, WithStatsInterceptor())
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	// Reconnection mints a fresh transport per attempt, so a long-lived
	// session builds far more peer connections than any fixed buffer holds.
	done := make(chan error, 1)
	go func() {
		for i := 0; i < 12; i++ {
			transport, err := client.NewTransport(context.Background(), webrtc.Configuration{})
			if err != nil {
				done <- err
				return
			}
			if err := transport.Close(); err != nil {
				done <- err
				return
			}
		}
		done <- nil
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("transport creation failed: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("transport creation blocked")
	}

	if client.StatsGetter() == nil {
		t.Error("no stats getter retained after building transports")
	}
}

func TestStatsGetterNilWithoutInterceptor(t *testing.T) {
	client, err := NewClient(context.Background(), nil, nil, nil)
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	if client.StatsGetter() != nil {
		t.Error("stats getter present without WithStatsInterceptor")
	}
}
