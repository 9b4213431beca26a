package metrics

import "time"

// NoopSink is a no-op implementation of Sink.
// Used when metrics are disabled to avoid nil checks.
type NoopSink struct{}

// NewNoopSink returns a no-op metrics sink.
func NewNoopSink() *NoopSink {
	return &NoopSink{}
}

func (n *NoopSink) PageCrawled(keyword string, cards int)              {}
func (n *NoopSink) CardSkipped(reason string)                          {}
func (n *NoopSink) OracleCall(duration time.Duration, err error)       {}
func (n *NoopSink) OracleCacheHit()                                    {}
func (n *NoopSink) ScoreSourced(source string)                         {}
func (n *NoopSink) AttemptRecorded(outcome string)                     {}
func (n *NoopSink) LocatorMiss(target string)                          {}
func (n *NoopSink) RunCompleted(status string, duration time.Duration) {}

// OrNoop returns s, or a NoopSink when s is nil.
func OrNoop(s Sink) Sink {
	if s == nil {
		return NewNoopSink()
	}
	return s
}
