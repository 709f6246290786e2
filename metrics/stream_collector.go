package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/sharprpc/sharprpc-go/wire"
)

// streamWriter and streamReader narrow streaming.Writer/Reader to the
// accessors this package needs, avoiding an import of the streaming
// package's Options/Sender machinery that a pure metrics consumer has no
// use for.
type streamWriter interface{ Credit() int }
type streamReader interface{ Pending() int }

// StreamCollector reports one stream call's write-side credit balance
// and/or read-side backlog, labeled by the stream's CallID. A unary call
// has neither and gets no Collector; register one only for calls that
// opened a Writer or Reader.
type StreamCollector struct {
	callID wire.CallID
	writer streamWriter
	reader streamReader

	credit  *prometheus.Desc
	pending *prometheus.Desc
}

// NewStreamCollector builds a Collector for callID. Either w or r may be
// nil depending on which side of the stream the caller holds.
func NewStreamCollector(callID wire.CallID, w streamWriter, r streamReader) *StreamCollector {
	labels := prometheus.Labels{"call_id": callID.String()}
	return &StreamCollector{
		callID: callID,
		writer: w,
		reader: r,
		credit: prometheus.NewDesc(
			"sharprpc_stream_writer_credit",
			"Send-credit units the writer currently holds, replenished by StreamAck.",
			nil, labels),
		pending: prometheus.NewDesc(
			"sharprpc_stream_reader_pending_items",
			"Items buffered on the reader, received but not yet popped by ReadOne.",
			nil, labels),
	}
}

func (c *StreamCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.credit
	ch <- c.pending
}

func (c *StreamCollector) Collect(ch chan<- prometheus.Metric) {
	if c.writer != nil {
		ch <- prometheus.MustNewConstMetric(c.credit, prometheus.GaugeValue, float64(c.writer.Credit()))
	}
	if c.reader != nil {
		ch <- prometheus.MustNewConstMetric(c.pending, prometheus.GaugeValue, float64(c.reader.Pending()))
	}
}
