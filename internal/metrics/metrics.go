// Package metrics defines the engine's prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles every collector the engine exports.
type Metrics struct {
	BidsAccepted    *prometheus.CounterVec
	BidsRejected    *prometheus.CounterVec
	BidCommitTime   prometheus.Histogram
	Transitions     *prometheus.CounterVec
	ActiveLanes     prometheus.Gauge
	WSConnections   prometheus.Gauge
	BroadcastDrops  prometheus.Counter
	AuthThrottled   prometheus.Counter
	LaneQuarantines prometheus.Counter
}

// New creates and registers the collectors against reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		BidsAccepted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "auction_bids_accepted_total",
			Help: "Committed bids by kind.",
		}, []string{"kind"}),
		BidsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "auction_bids_rejected_total",
			Help: "Rejected bids by stable reason code.",
		}, []string{"reason"}),
		BidCommitTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "auction_bid_commit_duration_seconds",
			Help:    "Wall time of the lane commit transaction.",
			Buckets: prometheus.DefBuckets,
		}),
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "auction_transitions_total",
			Help: "Lifecycle transitions by target status.",
		}, []string{"to"}),
		ActiveLanes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "auction_active_lanes",
			Help: "Lanes currently registered.",
		}),
		WSConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "auction_ws_connections",
			Help: "Open websocket connections.",
		}),
		BroadcastDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "auction_broadcast_dropped_subscribers_total",
			Help: "Subscribers evicted for not keeping up.",
		}),
		AuthThrottled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "auction_auth_throttled_total",
			Help: "Connection attempts refused by the login throttle.",
		}),
		LaneQuarantines: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "auction_lane_quarantines_total",
			Help: "Lanes quarantined after an invariant violation.",
		}),
	}

	reg.MustRegister(
		m.BidsAccepted, m.BidsRejected, m.BidCommitTime, m.Transitions,
		m.ActiveLanes, m.WSConnections, m.BroadcastDrops, m.AuthThrottled,
		m.LaneQuarantines,
	)
	return m
}

// NewUnregistered creates collectors without registering them, for tests.
func NewUnregistered() *Metrics {
	return New(prometheus.NewRegistry())
}
