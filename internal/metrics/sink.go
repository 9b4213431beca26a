// Package metrics records run counters for external collection.
package metrics

import "time"

// Sink defines the interface for recording metrics.
// All methods are fire-and-forget: implementations must not block or propagate errors.
type Sink interface {
	// Discovery
	PageCrawled(keyword string, cards int)
	CardSkipped(reason string)

	// Filter
	OracleCall(duration time.Duration, err error)
	OracleCacheHit()
	ScoreSourced(source string)

	// Submitter and coordinator
	AttemptRecorded(outcome string)
	LocatorMiss(target string)
	RunCompleted(status string, duration time.Duration)
}

// Card skip reasons for CardSkipped.
const (
	CardStale   = "stale"
	CardTimeout = "timeout"
	CardInvalid = "invalid"
)
