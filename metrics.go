package framegear

import (
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "framegear"

var (
	// framesSentTotal counts frames handed to the socket.
	framesSentTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_sent_total",
			Help:      "Total number of frames sent",
		},
		[]string{"pattern"},
	)

	// framesReceivedTotal counts frames delivered to consumers.
	framesReceivedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_received_total",
			Help:      "Total number of frames received",
		},
		[]string{"pattern"},
	)

	// framesDroppedTotal counts frames dropped under publish-subscribe load.
	framesDroppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_dropped_total",
			Help:      "Total number of frames dropped because a queue was full",
		},
		[]string{"pattern", "role"},
	)

	// decodeErrorsTotal counts payloads that failed to decode.
	decodeErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decode_errors_total",
			Help:      "Total number of frame payloads that failed to decode",
		},
		[]string{"pattern"},
	)

	// bytesTotal counts payload bytes moved over the socket.
	bytesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payload_bytes_total",
			Help:      "Total frame payload bytes written or read",
		},
		[]string{"pattern", "direction"}, // direction: out, in
	)

	// sessionsActive is a gauge of open sessions.
	sessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of currently open sessions",
		},
	)

	allMetrics = []prometheus.Collector{
		framesSentTotal,
		framesReceivedTotal,
		framesDroppedTotal,
		decodeErrorsTotal,
		bytesTotal,
		sessionsActive,
	}
)

// RegisterMetrics registers the gear metrics with reg. Metrics are
// recorded whether or not they are registered. Registering twice is not
// an error.
func RegisterMetrics(reg prometheus.Registerer) error {
	for _, c := range allMetrics {
		if err := reg.Register(c); err != nil {
			var already prometheus.AlreadyRegisteredError
			if errors.As(err, &already) {
				continue
			}
			return err
		}
	}
	return nil
}

func recordSent(p Pattern, n int) {
	framesSentTotal.WithLabelValues(p.String()).Inc()
	bytesTotal.WithLabelValues(p.String(), "out").Add(float64(n))
}

func recordReceived(p Pattern, n int) {
	framesReceivedTotal.WithLabelValues(p.String()).Inc()
	bytesTotal.WithLabelValues(p.String(), "in").Add(float64(n))
}

func recordDropped(p Pattern, r Role) {
	framesDroppedTotal.WithLabelValues(p.String(), r.String()).Inc()
}

func recordDecodeError(p Pattern) {
	decodeErrorsTotal.WithLabelValues(p.String()).Inc()
}
