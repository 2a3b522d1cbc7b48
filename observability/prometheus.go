// Package observability exports job lifecycle activity as Prometheus
// metrics. The Exporter implements the hook event interfaces, so it
// plugs into the engine the same way any other hook does.
package observability

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/stagepass/workq/job"
)

// Exporter translates hook events into Prometheus counters and a
// processing-duration histogram.
type Exporter struct {
	registry *prometheus.Registry

	submitted *prometheus.CounterVec
	processed *prometheus.CounterVec
	dlq       *prometheus.CounterVec
	duration  *prometheus.HistogramVec
}

// NewExporter builds an Exporter backed by its own registry, so
// multiple engines in one process do not collide on metric names.
func NewExporter() *Exporter {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Exporter{
		registry: registry,

		submitted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "workq_jobs_submitted_total",
			Help: "The total number of submitted jobs",
		}, []string{"type", "priority"}),

		processed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "workq_jobs_processed_total",
			Help: "The total number of processed jobs",
		}, []string{"type", "status"}), // status: completed, failed, retried, cancelled

		dlq: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "workq_jobs_dead_lettered_total",
			Help: "The total number of jobs moved to the dead letter queue",
		}, []string{"type"}),

		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "workq_job_duration_seconds",
			Help:    "Duration of job processing.",
			Buckets: prometheus.LinearBuckets(0.1, 0.2, 10),
		}, []string{"type"}),
	}
}

// Name implements hook.Hook.
func (e *Exporter) Name() string { return "prometheus" }

// Handler serves the exporter's registry in the Prometheus text format.
func (e *Exporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for scrape-free inspection.
func (e *Exporter) Registry() *prometheus.Registry {
	return e.registry
}

// OnJobAdded implements hook.JobAdded.
func (e *Exporter) OnJobAdded(_ context.Context, j *job.Job) error {
	e.submitted.WithLabelValues(j.Type, strconv.Itoa(j.Priority)).Inc()
	return nil
}

// OnJobCompleted implements hook.JobCompleted.
func (e *Exporter) OnJobCompleted(_ context.Context, j *job.Job, elapsed time.Duration) error {
	e.processed.WithLabelValues(j.Type, "completed").Inc()
	e.duration.WithLabelValues(j.Type).Observe(elapsed.Seconds())
	return nil
}

// OnJobRetrying implements hook.JobRetrying.
func (e *Exporter) OnJobRetrying(_ context.Context, j *job.Job, attempt int, nextRunAt time.Time) error {
	e.processed.WithLabelValues(j.Type, "retried").Inc()
	return nil
}

// OnJobFailed implements hook.JobFailed.
func (e *Exporter) OnJobFailed(_ context.Context, j *job.Job, jobErr error) error {
	e.processed.WithLabelValues(j.Type, "failed").Inc()
	return nil
}

// OnJobDLQ implements hook.JobDLQ.
func (e *Exporter) OnJobDLQ(_ context.Context, j *job.Job, jobErr error) error {
	e.dlq.WithLabelValues(j.Type).Inc()
	return nil
}

// OnJobCancelled implements hook.JobCancelled.
func (e *Exporter) OnJobCancelled(_ context.Context, j *job.Job) error {
	e.processed.WithLabelValues(j.Type, "cancelled").Inc()
	return nil
}
