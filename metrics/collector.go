// Package metrics provides optional Prometheus instrumentation over the
// connection core: per-channel pool occupancy, outstanding calls and
// lifecycle state, plus per-stream credit/backlog. Nothing is exported
// until a Collector is registered with a prometheus.Registerer - the
// core itself never imports this package, keeping instrumentation
// strictly opt-in per spec.md's Non-goals around observability surfaces.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/sharprpc/sharprpc-go/channel"
	"github.com/sharprpc/sharprpc-go/memsys"
)

// ChannelCollector reports one Channel's pool occupancy, outstanding call
// count, and lifecycle state as Prometheus metrics, labeled by channel ID.
// It implements prometheus.Collector directly (rather than a pile of
// promauto.NewGaugeFunc closures) so every sample is read atomically off
// the Channel at scrape time instead of drifting between registrations.
type ChannelCollector struct {
	ch *channel.Channel

	state            *prometheus.Desc
	outstandingCalls *prometheus.Desc
	poolInUse        *prometheus.Desc
	poolFree         *prometheus.Desc
	poolAllocated    *prometheus.Desc
}

// NewChannelCollector returns a Collector for ch. Register it with a
// prometheus.Registerer (or a dedicated prometheus.NewRegistry()) to start
// exposing it; ch need not be Online yet, but the pool and
// outstanding-call gauges are not reported at all until TryConnect has
// wired its components.
func NewChannelCollector(ch *channel.Channel) *ChannelCollector {
	labels := prometheus.Labels{"channel_id": ch.ID()}
	return &ChannelCollector{
		ch: ch,
		state: prometheus.NewDesc(
			"sharprpc_channel_state",
			"Channel lifecycle state: 0=New 1=Connecting 2=Online 3=Disconnecting 4=Closed 5=Faulted.",
			nil, labels),
		outstandingCalls: prometheus.NewDesc(
			"sharprpc_channel_outstanding_calls",
			"Call objects registered with the dispatcher, awaiting a response.",
			nil, labels),
		poolInUse: prometheus.NewDesc(
			"sharprpc_channel_pool_segments_in_use",
			"Segments currently checked out of a segment pool.",
			[]string{"pool"}, labels),
		poolFree: prometheus.NewDesc(
			"sharprpc_channel_pool_segments_free",
			"Segments sitting idle in a segment pool's free list.",
			[]string{"pool"}, labels),
		poolAllocated: prometheus.NewDesc(
			"sharprpc_channel_pool_segments_allocated",
			"Segments a pool has ever allocated (its high-water mark).",
			[]string{"pool"}, labels),
	}
}

func (c *ChannelCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.state
	ch <- c.outstandingCalls
	ch <- c.poolInUse
	ch <- c.poolFree
	ch <- c.poolAllocated
}

func (c *ChannelCollector) Collect(ch chan<- prometheus.Metric) {
	ch <- prometheus.MustNewConstMetric(c.state, prometheus.GaugeValue, float64(c.ch.State()))

	if d := c.ch.Dispatcher(); d != nil {
		ch <- prometheus.MustNewConstMetric(c.outstandingCalls, prometheus.GaugeValue, float64(d.OutstandingCalls()))
	}

	c.collectPool(ch, "tx", c.ch.TxPool())
	c.collectPool(ch, "rx", c.ch.RxPool())
}

func (c *ChannelCollector) collectPool(ch chan<- prometheus.Metric, label string, pool *memsys.Pool) {
	if pool == nil {
		return
	}
	stat := pool.Stat()
	ch <- prometheus.MustNewConstMetric(c.poolInUse, prometheus.GaugeValue, float64(stat.InUse), label)
	ch <- prometheus.MustNewConstMetric(c.poolFree, prometheus.GaugeValue, float64(stat.Free), label)
	ch <- prometheus.MustNewConstMetric(c.poolAllocated, prometheus.GaugeValue, float64(stat.Allocated), label)
}
