package distribution

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	outcomeAck      = "ack"
	outcomeRejected = "rejected"
	outcomeFailed   = "failed"
	outcomeAborted  = "aborted"

	reasonUpstream  = "upstream"
	reasonTransport = "transport"
	reasonKilled    = "killed"
	reasonTimeout   = "timeout"
)

type metrics struct {
	pagesSent        *prometheus.CounterVec
	rowsSent         prometheus.Counter
	sendRetries      prometheus.Counter
	pagesInFlight    prometheus.Gauge
	sendDuration     prometheus.Histogram
	consumersStarted prometheus.Counter
	consumersDone    prometheus.Counter
	consumersAborted *prometheus.CounterVec
	abortNotices     *prometheus.CounterVec
}

func newMetrics(reg prometheus.Registerer) *metrics {
	return &metrics{
		pagesSent: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: "cortex",
			Name:      "distribution_pages_sent_total",
			Help:      "Total number of result pages sent to downstream nodes, by outcome.",
		}, []string{"outcome"}),
		rowsSent: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: "cortex",
			Name:      "distribution_rows_sent_total",
			Help:      "Total number of rows acknowledged by downstream nodes.",
		}),
		sendRetries: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: "cortex",
			Name:      "distribution_send_retries_total",
			Help:      "Total number of page sends retried after a transient failure.",
		}),
		pagesInFlight: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Namespace: "cortex",
			Name:      "distribution_pages_in_flight",
			Help:      "Number of pages sent and not yet acknowledged.",
		}),
		sendDuration: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Namespace: "cortex",
			Name:      "distribution_send_duration_seconds",
			Help:      "Time spent delivering a page, retries included.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 7),
		}),
		consumersStarted: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: "cortex",
			Name:      "distribution_consumers_started_total",
			Help:      "Total number of distributing consumers created.",
		}),
		consumersDone: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: "cortex",
			Name:      "distribution_consumers_done_total",
			Help:      "Total number of distributing consumers whose downstream nodes acknowledged every page.",
		}),
		consumersAborted: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: "cortex",
			Name:      "distribution_consumers_aborted_total",
			Help:      "Total number of distributing consumers aborted, by reason.",
		}, []string{"reason"}),
		abortNotices: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: "cortex",
			Name:      "distribution_abort_notices_total",
			Help:      "Total number of abort notices sent to downstream nodes, by outcome.",
		}, []string{"outcome"}),
	}
}
