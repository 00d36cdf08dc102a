package connect

import (
	"context"
	"sync"
	"time"

	"github.com/pion/logging"
	"github.com/pion/webrtc/v4"
)

// Stat is the connection-quality snapshot assembled from a pion stats
// report: the nominated candidate pair for round-trip time and throughput,
// the transports underneath, and per-channel counters.
type Stat struct {
	PeerConnectionStat   webrtc.PeerConnectionStats
	ICECandidatePairStat webrtc.ICECandidatePairStats
	ICETransportStat     webrtc.TransportStats
	SCTPTransportStat    webrtc.SCTPTransportStats
	DataChannelStats     map[string]webrtc.DataChannelStats
}

// Consume folds one stats entry into the snapshot. Entries of no interest
// pass through untouched.
func (stat *Stat) Consume(s webrtc.Stats) {
	switch value := s.(type) {
	case webrtc.PeerConnectionStats:
		stat.PeerConnectionStat = value
	case webrtc.ICECandidatePairStats:
		if value.Nominated {
			stat.ICECandidatePairStat = value
		}
	case webrtc.TransportStats:
		stat.ICETransportStat = value
	case webrtc.SCTPTransportStats:
		stat.SCTPTransportStat = value
	case webrtc.DataChannelStats:
		if stat.DataChannelStats == nil {
			stat.DataChannelStats = map[string]webrtc.DataChannelStats{}
		}
		stat.DataChannelStats[value.Label] = value
	}
}

// RoundTripTime returns the current RTT on the nominated pair.
func (stat *Stat) RoundTripTime() time.Duration {
	return time.Duration(stat.ICECandidatePairStat.CurrentRoundTripTime * float64(time.Second))
}

// StatsSource is anything that can produce a pion stats report; the webrtc
// transport satisfies it.
type StatsSource interface {
	Stats() webrtc.StatsReport
}

// StatsCollector polls a source on an interval and keeps a rolling
// snapshot. The source is replaced on every reconnect while the collector
// itself keeps running.
type StatsCollector struct {
	logger   logging.LeveledLogger
	interval time.Duration

	mux    sync.Mutex
	source StatsSource
	stat   Stat

	once   sync.Once
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func CreateStatsCollector(ctx context.Context, loggerFactory logging.LoggerFactory, interval time.Duration) *StatsCollector {
	if loggerFactory == nil {
		loggerFactory = logging.NewDefaultLoggerFactory()
	}

	ctx, cancel := context.WithCancel(ctx)
	collector := &StatsCollector{
		logger:   loggerFactory.NewLogger("stats"),
		interval: interval,
		cancel:   cancel,
	}

	collector.wg.Add(1)
	go collector.loop(ctx)

	return collector
}

// Observe points the collector at a new source, discarding the previous
// snapshot so numbers from a dead transport do not linger.
func (collector *StatsCollector) Observe(source StatsSource) {
	collector.mux.Lock()
	defer collector.mux.Unlock()
	collector.source = source
	collector.stat = Stat{}
}

func (collector *StatsCollector) Snapshot() Stat {
	collector.mux.Lock()
	defer collector.mux.Unlock()
	return collector.stat
}

func (collector *StatsCollector) loop(ctx context.Context) {
	defer collector.wg.Done()

	ticker := time.NewTicker(collector.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			collector.collect()
		}
	}
}

func (collector *StatsCollector) collect() {
	collector.mux.Lock()
	defer collector.mux.Unlock()

	if collector.source == nil {
		return
	}
	for _, entry := range collector.source.Stats() {
		collector.stat.Consume(entry)
	}
}

func (collector *StatsCollector) Close() error {
	collector.once.Do(func() {
		collector.cancel()
		collector.wg.Wait()
	})
	return nil
}
