package workers

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var jobsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "tube_jobs_processed_total",
	Help: "Jobs run by the queue, by type and outcome",
}, []string{"type", "result"})

var jobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "tube_job_duration_seconds",
	Help:    "Time spent running a job",
	Buckets: prometheus.ExponentialBucketsRange(0.001, 600, 20),
}, []string{"type"})

var followsPruned = promauto.NewCounter(prometheus.CounterOpts{
	Name: "tube_follows_pruned_total",
	Help: "Follows removed because their score dropped to zero",
})

var redundancyEvents = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "tube_redundancies_total",
	Help: "Video files mirrored or released, by strategy",
}, []string{"strategy", "action"})
