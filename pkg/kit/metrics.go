package kit

import "time"

// Metrics observes kit activity. internal/metrics provides a Prometheus
// implementation.
type Metrics interface {
	ObserveCycle(fetched int, elapsed time.Duration)
	ObserveClean(deleted int)
	ObserveError(stage string)
	ObserveWatermark(t time.Time)
}

// NoopMetrics is used when no Metrics is configured.
type NoopMetrics struct{}

func (NoopMetrics) ObserveCycle(int, time.Duration) {}
func (NoopMetrics) ObserveClean(int)                {}
func (NoopMetrics) ObserveError(string)             {}
func (NoopMetrics) ObserveWatermark(time.Time)      {}

// Stages reported through ObserveError.
const (
	StageTimestamps = "timestamps"
	StageFetch      = "fetch"
	StageObserve    = "observe"
	StageMerge      = "merge"
	StageClean      = "clean"
)
