package metrics

import "time"

// ServiceSnapshot is the aggregate session state a Collector samples from a
// hosted service instance. Kept as a plain struct so this package does not
// need to import pkg/service, which would otherwise create an import cycle
// once pkg/service starts using these metrics directly.
type ServiceSnapshot struct {
	SessionsByState  map[string]int
	EventQueueDepth  int
	ResultCacheSize  int
	PendingCommands  int
	IsLeader         bool
	RaftAppliedIndex uint64
	RaftPeers        int
}

// Source is implemented by anything a Collector can sample, typically
// pkg/service.Host.
type Source interface {
	Snapshot() ServiceSnapshot
}

// Collector polls a Source on an interval and republishes its state as
// Prometheus gauges.
type Collector struct {
	source Source
	stopCh chan struct{}
}

// NewCollector creates a Collector over source.
func NewCollector(source Source) *Collector {
	return &Collector{source: source, stopCh: make(chan struct{})}
}

// Start begins collecting on a 15-second interval.
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		c.collect()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	snap := c.source.Snapshot()

	for state, count := range snap.SessionsByState {
		SessionsTotal.WithLabelValues(state).Set(float64(count))
	}
	EventQueueDepth.Set(float64(snap.EventQueueDepth))
	ResultCacheSize.Set(float64(snap.ResultCacheSize))
	PendingCommandsGauge.Set(float64(snap.PendingCommands))

	if snap.IsLeader {
		RaftLeader.Set(1)
	} else {
		RaftLeader.Set(0)
	}
	RaftAppliedIndex.Set(float64(snap.RaftAppliedIndex))
	RaftPeers.Set(float64(snap.RaftPeers))
}
