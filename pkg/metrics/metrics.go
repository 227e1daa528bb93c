package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "pdfocr"

// Metrics groups the pipeline collectors on their own registry.
type Metrics struct {
	Registry *prometheus.Registry

	FilesProcessed  prometheus.Counter
	FilesFailed     prometheus.Counter
	PagesRecognized prometheus.Counter
	EmptyPages      prometheus.Counter
	Uploads         prometheus.Counter
	QueueDepth      prometheus.Gauge
	FileDuration    prometheus.Histogram
}

func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		FilesProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "files_processed_total",
			Help:      "PDF files whose text result was written.",
		}),
		FilesFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "files_failed_total",
			Help:      "PDF files skipped because of an error.",
		}),
		PagesRecognized: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pages_recognized_total",
			Help:      "Pages passed through OCR.",
		}),
		EmptyPages: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pages_empty_total",
			Help:      "Pages on which no text was recognized.",
		}),
		Uploads: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploads_total",
			Help:      "Files accepted for processing.",
		}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Files waiting in the queue.",
		}),
		FileDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "file_duration_seconds",
			Help:      "Time spent recognizing one file.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		}),
	}
	m.Registry.MustRegister(
		m.FilesProcessed,
		m.FilesFailed,
		m.PagesRecognized,
		m.EmptyPages,
		m.Uploads,
		m.QueueDepth,
		m.FileDuration,
		prometheus.NewGoCollector(),
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}
