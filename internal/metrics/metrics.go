// Package metrics exposes Prometheus counters and gauges for the browser
// cluster scheduler as package-level vars built with promauto at import
// time.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// JobsQueued tracks the number of job instances pushed onto the queue.
	JobsQueued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "browsercluster_jobs_queued_total",
		Help: "The total number of job instances queued.",
	})
	// JobsCompleted tracks the number of job instances a worker finished
	// executing, successfully or not.
	JobsCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "browsercluster_jobs_completed_total",
		Help: "The total number of job instances a worker finished executing.",
	})
	// ResultsHandled tracks the number of results routed to callbacks.
	ResultsHandled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "browsercluster_results_total",
		Help: "The total number of results routed to registered callbacks.",
	})
	// SkipHits tracks fingerprints that were already present in the skip
	// registry when a worker attempted to mark them.
	SkipHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "browsercluster_skip_hits_total",
		Help: "The total number of DOM actions skipped due to prior execution.",
	})
	// BrowserRecycles tracks TTL-driven worker browser recycle events. The
	// final browser teardown when a worker stops is not counted.
	BrowserRecycles = promauto.NewCounter(prometheus.CounterOpts{
		Name: "browsercluster_browser_recycles_total",
		Help: "The total number of browser processes recycled after reaching their page time-to-live.",
	})
	// PendingJobs mirrors the supervisor's global pending counter.
	PendingJobs = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "browsercluster_pending_jobs",
		Help: "The current number of outstanding job instances across all ids.",
	})
	// QueueDepth mirrors the queue's resident-plus-spilled item count.
	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "browsercluster_queue_depth",
		Help: "The current number of items resident in or spilled by the job queue.",
	})
)
