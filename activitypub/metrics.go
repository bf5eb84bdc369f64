package activitypub

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var actorCacheHits = promauto.NewCounter(prometheus.CounterOpts{
	Name: "tube_actor_cache_hits_total",
	Help: "Actor lookups served from memory",
})

var actorCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
	Name: "tube_actor_cache_misses_total",
	Help: "Actor lookups not served from memory",
})

var deliveries = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "tube_deliveries_total",
	Help: "Activities posted to remote inboxes",
}, []string{"status"})

var deliveryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "tube_delivery_duration_seconds",
	Help:    "Time to post an activity to a remote inbox",
	Buckets: prometheus.ExponentialBucketsRange(0.01, 30, 15),
}, []string{"status"})

var inboxReceived = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "tube_inbox_received_total",
	Help: "Signed activities accepted by the inbox",
}, []string{"status"})

var activitiesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "tube_activities_processed_total",
	Help: "Inbound activities processed, by kind",
}, []string{"kind", "status"})
