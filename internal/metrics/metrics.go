// Package metrics holds the Prometheus counters and gauges exposed by the
// Metrics Surface (spec §4.G), served on a port distinct from the
// signaling WebSocket and any peer-mesh listeners. All updates happen
// through prometheus's own atomic collectors, so nothing here holds a
// lock across a suspension point.
package metrics

import (
	"encoding/json"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
)

// Metrics holds every collector the node reports. Each instance owns an
// isolated registry so tests don't collide with the process-wide default
// registry or with each other.
type Metrics struct {
	Registry *prometheus.Registry

	// Peer-mesh gauges/counters (components C, E).
	PeersConnected *prometheus.GaugeVec
	PeersEverSeen  prometheus.Counter
	DialAttempts   *prometheus.CounterVec // labels: source (mdns|bootnode), outcome (ok|fail)

	// PubSub counters (component D).
	PubsubMessagesSent     *prometheus.CounterVec // labels: topic
	PubsubMessagesReceived *prometheus.CounterVec // labels: topic
	PubsubBytesSent        *prometheus.CounterVec // labels: topic
	PubsubBytesReceived    *prometheus.CounterVec // labels: topic
	PubsubMeshDrops        prometheus.Counter

	// Signaling hub gauges/counters (component F).
	SignalingClients         prometheus.Gauge
	SignalingFramesForwarded *prometheus.CounterVec // labels: frame_type
	SignalingEvictions       *prometheus.CounterVec // labels: reason
}

// New creates a Metrics instance registered on a fresh, isolated registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGoCollector())
	reg.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	m := &Metrics{
		Registry: reg,

		PeersConnected: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "hippius_peers_connected",
				Help: "Number of peers currently connected.",
			},
			[]string{"source"},
		),
		PeersEverSeen: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "hippius_peers_ever_seen_total",
				Help: "Total number of distinct peers ever observed.",
			},
		),
		DialAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hippius_dial_attempts_total",
				Help: "Dial attempts by source and outcome.",
			},
			[]string{"source", "outcome"},
		),

		PubsubMessagesSent: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hippius_pubsub_messages_sent_total",
				Help: "Pubsub messages published, by topic.",
			},
			[]string{"topic"},
		),
		PubsubMessagesReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hippius_pubsub_messages_received_total",
				Help: "Pubsub messages delivered to local subscribers, by topic.",
			},
			[]string{"topic"},
		),
		PubsubBytesSent: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hippius_pubsub_bytes_sent_total",
				Help: "Pubsub payload bytes published, by topic.",
			},
			[]string{"topic"},
		),
		PubsubBytesReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hippius_pubsub_bytes_received_total",
				Help: "Pubsub payload bytes delivered to local subscribers, by topic.",
			},
			[]string{"topic"},
		),
		PubsubMeshDrops: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "hippius_pubsub_mesh_drops_total",
				Help: "Messages dropped because a peer's send queue overflowed.",
			},
		),

		SignalingClients: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "hippius_signaling_clients",
				Help: "Number of currently registered signaling clients.",
			},
		),
		SignalingFramesForwarded: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hippius_signaling_frames_forwarded_total",
				Help: "Signaling frames forwarded between clients, by frame type.",
			},
			[]string{"frame_type"},
		),
		SignalingEvictions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hippius_signaling_evictions_total",
				Help: "Signaling clients evicted, by reason.",
			},
			[]string{"reason"},
		),
	}

	reg.MustRegister(
		m.PeersConnected,
		m.PeersEverSeen,
		m.DialAttempts,
		m.PubsubMessagesSent,
		m.PubsubMessagesReceived,
		m.PubsubBytesSent,
		m.PubsubBytesReceived,
		m.PubsubMeshDrops,
		m.SignalingClients,
		m.SignalingFramesForwarded,
		m.SignalingEvictions,
	)

	return m
}

// Handler returns the text-exposition HTTP handler for GET /metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

// statsSnapshot is the self-describing record returned by GET /stats.
type statsSnapshot struct {
	PeersConnected     float64            `json:"peers_connected"`
	SignalingClients   float64            `json:"signaling_clients"`
	PubsubMeshDrops    float64            `json:"pubsub_mesh_drops"`
	FramesByType       map[string]float64 `json:"signaling_frames_forwarded_by_type,omitempty"`
	EvictionsByReason   map[string]float64 `json:"signaling_evictions_by_reason,omitempty"`
}

// StatsHandler serves GET /stats: the same data as /metrics, reshaped as
// a JSON record for callers that would rather not parse the text
// exposition format.
func (m *Metrics) StatsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		families, err := m.Registry.Gather()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		snap := statsSnapshot{
			FramesByType:      make(map[string]float64),
			EvictionsByReason: make(map[string]float64),
		}
		for _, f := range families {
			switch f.GetName() {
			case "hippius_peers_connected":
				for _, mt := range f.GetMetric() {
					snap.PeersConnected += mt.GetGauge().GetValue()
				}
			case "hippius_signaling_clients":
				for _, mt := range f.GetMetric() {
					snap.SignalingClients += mt.GetGauge().GetValue()
				}
			case "hippius_pubsub_mesh_drops_total":
				for _, mt := range f.GetMetric() {
					snap.PubsubMeshDrops += mt.GetCounter().GetValue()
				}
			case "hippius_signaling_frames_forwarded_total":
				for _, mt := range f.GetMetric() {
					snap.FramesByType[labelValue(mt.GetLabel(), "frame_type")] = mt.GetCounter().GetValue()
				}
			case "hippius_signaling_evictions_total":
				for _, mt := range f.GetMetric() {
					snap.EvictionsByReason[labelValue(mt.GetLabel(), "reason")] = mt.GetCounter().GetValue()
				}
			}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(snap)
	}
}

func labelValue(labels []*dto.LabelPair, name string) string {
	for _, l := range labels {
		if l.GetName() == name {
			return l.GetValue()
		}
	}
	return ""
}
