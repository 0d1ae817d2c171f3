package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EmissionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "alarm_emissions_total",
		Help: "Events enqueued for downstream delivery, by reason",
	}, []string{"camera", "reason"})

	EventsReceivedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "alarm_events_received_total",
		Help: "Normalized events handed to the debounce engine",
	}, []string{"camera", "kind"})

	FramesDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "alarm_frames_dropped_total",
		Help: "Incomplete stream frames or unparseable notifications dropped",
	}, []string{"camera", "source"})

	SourceRestartsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "alarm_source_restarts_total",
		Help: "Event source restarts performed by the reconnect supervisor",
	}, []string{"camera", "source", "reason"})

	StreamTimeoutsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "alarm_stream_timeouts_total",
		Help: "Alarm stream reads that lost the race against the inactivity timeout",
	}, []string{"camera"})

	SubscriptionRenewalsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "alarm_pullpoint_renewals_total",
		Help: "Pull-point subscription renew calls",
	}, []string{"camera", "result"})

	QueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "alarm_output_queue_depth",
		Help: "Emissions waiting in the per-camera output queue",
	}, []string{"camera"})

	ActiveIdentities = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "alarm_active_identities",
		Help: "Identities currently in the active state",
	}, []string{"camera"})

	LinkUp = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "alarm_link_up",
		Help: "Ingestion link connectivity (1=up, 0=down)",
	}, []string{"camera", "source"})

	SinkErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "alarm_sink_errors_total",
		Help: "Delivery failures per sink",
	}, []string{"sink"})

	FeedSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "alarm_feed_subscribers",
		Help: "Connected live feed subscribers (WebSocket and gRPC)",
	})
)
