package metrics

import (
	dto "github.com/prometheus/client_model/go"

	"github.com/prometheus/client_golang/prometheus"
)

// testGaugeValue reads back the current value of a Prometheus gauge metric,
// used to assert on Collector's output without standing up a scrape server.
func testGaugeValue(g prometheus.Metric) float64 {
	var m dto.Metric
	if err := g.Write(&m); err != nil {
		return 0
	}
	return m.GetGauge().GetValue()
}
