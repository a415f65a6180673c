// Package metrics provides Prometheus metrics for the capture pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	framesRecorded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rtsptrace",
		Subsystem: "recorder",
		Name:      "frames_recorded_total",
		Help:      "Frames durably recorded",
	}, []string{"media"})

	lossRecorded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rtsptrace",
		Subsystem: "recorder",
		Name:      "loss_recorded_total",
		Help:      "Frames or packets the producer reported as lost",
	}, []string{"media"})

	senderReportsRecorded = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "rtsptrace",
		Subsystem: "recorder",
		Name:      "sender_reports_recorded_total",
		Help:      "RTCP sender reports durably recorded",
	})

	writeDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "rtsptrace",
		Subsystem: "storage",
		Name:      "write_duration_seconds",
		Help:      "Time to complete one durable write",
		Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8),
	}, []string{"table"})
)

// FrameRecorded counts one recorded frame and any loss reported with it.
func FrameRecorded(media string, loss int64) {
	framesRecorded.WithLabelValues(media).Inc()
	if loss > 0 {
		lossRecorded.WithLabelValues(media).Add(float64(loss))
	}
}

// SenderReportRecorded counts one recorded sender report.
func SenderReportRecorded() {
	senderReportsRecorded.Inc()
}

// ObserveWrite records the duration of one durable write to a table.
func ObserveWrite(table string, d time.Duration) {
	writeDuration.WithLabelValues(table).Observe(d.Seconds())
}
