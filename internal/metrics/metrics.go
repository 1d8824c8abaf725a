package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	Deliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "supportmail_deliveries_total",
			Help: "Delivery records moved to a terminal status",
		},
		[]string{"status"},
	)

	Unsubscriptions = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "supportmail_unsubscriptions_total",
			Help: "Optouts created from unsubscribe links",
		},
	)

	Resolutions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "supportmail_resolutions_total",
			Help: "Recipient resolutions by outcome",
		},
		[]string{"kind"},
	)

	SendDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "supportmail_send_duration_seconds",
			Help:    "Time spent handing one message to the transport",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func Init() {
	prometheus.MustRegister(Deliveries, Unsubscriptions, Resolutions, SendDuration)
}
