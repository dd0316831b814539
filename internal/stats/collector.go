package stats

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "lotus"

// Collector exposes Stats to a prometheus registry. Values are read at
// scrape time so the hot path only touches atomics.
type Collector struct {
	stats *Stats

	messages       *prometheus.Desc
	bytes          *prometheus.Desc
	decodeErrors   *prometheus.Desc
	dropped        *prometheus.Desc
	overflows      *prometheus.Desc
	forwardErrors  *prometheus.Desc
	streams        *prometheus.Desc
	connections    *prometheus.Desc
	disconnections *prometheus.Desc
	activeClients  *prometheus.Desc
	rejected       *prometheus.Desc
	fanout         *prometheus.Desc
	filterErrors   *prometheus.Desc
}

// NewCollector returns a prometheus.Collector backed by s.
func NewCollector(s *Stats) *Collector {
	return &Collector{
		stats: s,
		messages: prometheus.NewDesc(prometheus.BuildFQName(namespace, "ingest", "messages_total"),
			"Events received, by protocol.", []string{"protocol"}, nil),
		bytes: prometheus.NewDesc(prometheus.BuildFQName(namespace, "ingest", "bytes_total"),
			"Payload bytes received, by protocol.", []string{"protocol"}, nil),
		decodeErrors: prometheus.NewDesc(prometheus.BuildFQName(namespace, "ingest", "decode_errors_total"),
			"Payloads that failed to decode, by protocol.", []string{"protocol"}, nil),
		dropped: prometheus.NewDesc(prometheus.BuildFQName(namespace, "ingest", "dropped_total"),
			"Envelopes dropped on a full dispatcher queue, by protocol.", []string{"protocol"}, nil),
		overflows: prometheus.NewDesc(prometheus.BuildFQName(namespace, "ingest", "frame_overflows_total"),
			"Frames discarded by stream reassembly, by protocol.", []string{"protocol"}, nil),
		forwardErrors: prometheus.NewDesc(prometheus.BuildFQName(namespace, "dispatch", "forward_errors_total"),
			"Consumer failures while forwarding events.", nil, nil),
		streams: prometheus.NewDesc(prometheus.BuildFQName(namespace, "ingest", "streams_total"),
			"Ingestion connections, by state.", []string{"state"}, nil),
		connections: prometheus.NewDesc(prometheus.BuildFQName(namespace, "hub", "connections_total"),
			"Subscriber connections admitted.", nil, nil),
		disconnections: prometheus.NewDesc(prometheus.BuildFQName(namespace, "hub", "disconnections_total"),
			"Subscriber connections closed.", nil, nil),
		activeClients: prometheus.NewDesc(prometheus.BuildFQName(namespace, "hub", "active_clients"),
			"Subscribers currently connected.", nil, nil),
		rejected: prometheus.NewDesc(prometheus.BuildFQName(namespace, "hub", "admission_rejected_total"),
			"Subscriber connections refused by admission control.", nil, nil),
		fanout: prometheus.NewDesc(prometheus.BuildFQName(namespace, "hub", "events_total"),
			"Fan-out decisions, by outcome.", []string{"outcome"}, nil),
		filterErrors: prometheus.NewDesc(prometheus.BuildFQName(namespace, "hub", "filter_errors_total"),
			"Custom filter evaluations that failed open.", nil, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.messages, c.bytes, c.decodeErrors, c.dropped, c.overflows, c.forwardErrors, c.streams,
		c.connections, c.disconnections, c.activeClients, c.rejected, c.fanout, c.filterErrors,
	} {
		ch <- d
	}
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	snap := c.stats.Snapshot()

	for protocol, ps := range snap.Protocols {
		ch <- prometheus.MustNewConstMetric(c.messages, prometheus.CounterValue, float64(ps.Messages), protocol)
		ch <- prometheus.MustNewConstMetric(c.bytes, prometheus.CounterValue, float64(ps.Bytes), protocol)
		ch <- prometheus.MustNewConstMetric(c.decodeErrors, prometheus.CounterValue, float64(ps.DecodeErrors), protocol)
		ch <- prometheus.MustNewConstMetric(c.dropped, prometheus.CounterValue, float64(ps.Dropped), protocol)
		ch <- prometheus.MustNewConstMetric(c.overflows, prometheus.CounterValue, float64(ps.Overflows), protocol)
	}
	ch <- prometheus.MustNewConstMetric(c.forwardErrors, prometheus.CounterValue, float64(snap.ForwardErrors))
	ch <- prometheus.MustNewConstMetric(c.streams, prometheus.CounterValue, float64(snap.StreamsOpened), "opened")
	ch <- prometheus.MustNewConstMetric(c.streams, prometheus.CounterValue, float64(snap.StreamsClosed), "closed")
	ch <- prometheus.MustNewConstMetric(c.connections, prometheus.CounterValue, float64(snap.Connections))
	ch <- prometheus.MustNewConstMetric(c.disconnections, prometheus.CounterValue, float64(snap.Disconnections))
	ch <- prometheus.MustNewConstMetric(c.activeClients, prometheus.GaugeValue, float64(snap.ActiveClients))
	ch <- prometheus.MustNewConstMetric(c.rejected, prometheus.CounterValue, float64(snap.AdmissionRejected))
	ch <- prometheus.MustNewConstMetric(c.fanout, prometheus.CounterValue, float64(snap.EventsDelivered), "delivered")
	ch <- prometheus.MustNewConstMetric(c.fanout, prometheus.CounterValue, float64(snap.EventsFiltered), "filtered")
	ch <- prometheus.MustNewConstMetric(c.fanout, prometheus.CounterValue, float64(snap.EventsDropped), "dropped")
	ch <- prometheus.MustNewConstMetric(c.filterErrors, prometheus.CounterValue, float64(snap.FilterErrors))
}
