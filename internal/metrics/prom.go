package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/gaspardpetit/chatrelay/internal/relay"
)

var (
	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name:        "chatrelay_build_info",
			Help:        "Build information",
			ConstLabels: prometheus.Labels{"component": "server"},
		},
		[]string{"date", "sha", "version"},
	)

	chatRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatrelay_chat_requests_total",
			Help: "Chat requests by transport and outcome",
		},
		[]string{"transport", "outcome"},
	)

	chatInflight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "chatrelay_chat_inflight",
			Help: "Chat streams currently open",
		},
	)

	fragments = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chatrelay_fragments_total",
			Help: "Text fragments forwarded to clients",
		},
	)

	fragmentBytes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chatrelay_fragment_bytes_total",
			Help: "Bytes of text forwarded to clients",
		},
	)

	blockedChunks = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chatrelay_blocked_chunks_total",
			Help: "Chunks withheld by the upstream safety filter",
		},
	)

	streamDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chatrelay_stream_duration_seconds",
			Help:    "Duration of a chat stream",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"outcome"},
	)

	firstFragment = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "chatrelay_first_fragment_seconds",
			Help:    "Time from request to the first forwarded fragment",
			Buckets: prometheus.DefBuckets,
		},
	)
)

// Register registers all collectors with r.
func Register(r prometheus.Registerer) {
	r.MustRegister(buildInfo, chatRequests, chatInflight, fragments, fragmentBytes,
		blockedChunks, streamDuration, firstFragment)
}

// SetServerBuildInfo sets the build info metric.
func SetServerBuildInfo(version, sha, date string) {
	buildInfo.WithLabelValues(date, sha, version).Set(1)
}

// StreamStart marks a stream as open.
func StreamStart() { chatInflight.Inc() }

// StreamEnd records the result of a finished stream for transport.
func StreamEnd(transport string, res relay.Result) {
	chatInflight.Dec()
	chatRequests.WithLabelValues(transport, string(res.Outcome)).Inc()
	fragments.Add(float64(res.Fragments))
	fragmentBytes.Add(float64(res.Bytes))
	blockedChunks.Add(float64(res.Blocked))
	streamDuration.WithLabelValues(string(res.Outcome)).Observe(res.Duration.Seconds())
	if res.FirstFragment > 0 {
		firstFragment.Observe(res.FirstFragment.Seconds())
	}
}
