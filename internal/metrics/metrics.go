// Package metrics registers the watcher's runtime gauges and meters against
// github.com/rcrowley/go-metrics.
package metrics

import "github.com/rcrowley/go-metrics"

var (
	BlocksProcessed   = metrics.NewRegisteredCounter("watcher/tracker/blocks/processed", metrics.DefaultRegistry)
	ForksDetected     = metrics.NewRegisteredCounter("watcher/tracker/forks/detected", metrics.DefaultRegistry)
	RollbackDepth     = metrics.NewRegisteredGauge("watcher/tracker/rollback/depth", metrics.DefaultRegistry)
	TipHeight         = metrics.NewRegisteredGauge("watcher/tracker/tip/height", metrics.DefaultRegistry)
	CommitLatencyMs   = metrics.NewRegisteredTimer("watcher/core/commit/latency", metrics.DefaultRegistry)
	RevertLatencyMs   = metrics.NewRegisteredTimer("watcher/core/revert/latency", metrics.DefaultRegistry)
	NodeRequestErrors = metrics.NewRegisteredMeter("watcher/node/request/errors", metrics.DefaultRegistry)
	NodeRequestRetry  = metrics.NewRegisteredMeter("watcher/node/request/retries", metrics.DefaultRegistry)
	BootstrapRows     = metrics.NewRegisteredCounter("watcher/bootstrap/rows/applied", metrics.DefaultRegistry)
)
