package prometheus

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/slok/transcribeq/internal/metrics"
	"github.com/slok/transcribeq/internal/model"
)

const namespace = "transcribeq"

// Recorder is a Prometheus implementation of metrics.Recorder.
type Recorder struct {
	submissions  *prometheus.CounterVec
	queueDepth   prometheus.Gauge
	taskDuration *prometheus.HistogramVec
	trimmedFiles *prometheus.CounterVec
	evictedTasks prometheus.Counter
	chunkSize    prometheus.Histogram
}

// NewRecorder returns a new Prometheus recorder registered on reg.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "submission",
			Name:      "total",
			Help:      "Total number of transcription submissions by outcome.",
		}, []string{"outcome"}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "depth",
			Help:      "Current number of admitted jobs waiting for the worker.",
		}),
		taskDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "task",
			Name:      "execution_duration_seconds",
			Help:      "Duration of the transcription task executions.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
		}, []string{"status"}),
		trimmedFiles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "retention",
			Name:      "trimmed_files_total",
			Help:      "Total number of files deleted by the retention trims.",
		}, []string{"dir"}),
		evictedTasks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "evicted_tasks_total",
			Help:      "Total number of task records evicted from the registry.",
		}),
		chunkSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "chunk_size_bytes",
			Help:      "Size of the assembled stream chunks.",
			Buckets:   prometheus.ExponentialBuckets(16000, 2, 8),
		}),
	}

	reg.MustRegister(
		r.submissions,
		r.queueDepth,
		r.taskDuration,
		r.trimmedFiles,
		r.evictedTasks,
		r.chunkSize,
	)

	return r
}

func (r *Recorder) ObserveSubmission(_ context.Context, outcome string) {
	r.submissions.WithLabelValues(outcome).Inc()
}

func (r *Recorder) SetQueueDepth(_ context.Context, depth int) {
	r.queueDepth.Set(float64(depth))
}

func (r *Recorder) ObserveTaskExecution(_ context.Context, status model.TaskStatus, duration time.Duration) {
	r.taskDuration.WithLabelValues(string(status)).Observe(duration.Seconds())
}

func (r *Recorder) AddTrimmedFiles(_ context.Context, dir string, files int) {
	r.trimmedFiles.WithLabelValues(dir).Add(float64(files))
}

func (r *Recorder) AddEvictedTasks(_ context.Context, tasks int) {
	r.evictedTasks.Add(float64(tasks))
}

func (r *Recorder) ObserveChunk(_ context.Context, size int) {
	r.chunkSize.Observe(float64(size))
}

var _ metrics.Recorder = &Recorder{}
