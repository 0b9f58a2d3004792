package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCollectorPublishesSnapshot(t *testing.T) {
	src := fakeSource{snap: ServiceSnapshot{
		SessionsByState:  map[string]int{"OPEN": 3, "CLOSED": 1},
		EventQueueDepth:  5,
		ResultCacheSize:  10,
		PendingCommands:  2,
		IsLeader:         true,
		RaftAppliedIndex: 42,
		RaftPeers:        3,
	}}

	c := NewCollector(src)
	c.collect()

	assert.Equal(t, float64(3), testGaugeValue(SessionsTotal.WithLabelValues("OPEN")))
	assert.Equal(t, float64(5), testGaugeValue(EventQueueDepth))
	assert.Equal(t, float64(1), testGaugeValue(RaftLeader))
	assert.Equal(t, float64(42), testGaugeValue(RaftAppliedIndex))
}
