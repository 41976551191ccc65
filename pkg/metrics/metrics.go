// Package metrics instruments the telemetry pipeline itself: batches
// flushed, events rejected, time spent waiting on transports. Components
// accept a Recorder through their options and default to the no-op
// implementation.
package metrics

// Recorder receives pipeline instrumentation signals.
type Recorder interface {
	// EntriesFlushed records one log batch of the given size handed to a transport.
	EntriesFlushed(count int)

	// EventsFlushed records one per-topic event batch handed to a transport.
	EventsFlushed(topic string, count int)

	// EventOverflow records an emission rejected by the admission check.
	EventOverflow()

	// FlushDuration records how long one flush of the named component took.
	FlushDuration(component string, seconds float64)

	// RequestTimeout records a request that hit its deadline before completing.
	RequestTimeout()
}

// Noop is a Recorder that discards everything.
type Noop struct{}

func (Noop) EntriesFlushed(int)            {}
func (Noop) EventsFlushed(string, int)     {}
func (Noop) EventOverflow()                {}
func (Noop) FlushDuration(string, float64) {}
func (Noop) RequestTimeout()               {}
