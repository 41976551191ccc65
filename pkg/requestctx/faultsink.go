package requestctx

import (
	"fmt"
	"sync/atomic"

	"github.com/faaskit/telemetry-go/pkg/logging"
)

// FaultSink records process-wide uncaught faults through the last logger it
// saw. It is constructed once at process startup with a base logger and
// rebound by every request context, so faults unrelated to any live request
// still land on a working pipeline. Reporting never mutates process state
// beyond logging.
type FaultSink struct {
	last atomic.Pointer[logging.Logger]
}

// NewFaultSink creates a sink bound to the process's base logger.
func NewFaultSink(base *logging.Logger) *FaultSink {
	s := &FaultSink{}
	if base != nil {
		s.last.Store(base)
	}
	return s
}

// Bind rebinds the sink to the most recently created request logger.
func (s *FaultSink) Bind(log *logging.Logger) {
	if log != nil {
		s.last.Store(log)
	}
}

// Report records an uncaught fault as a fatal entry.
func (s *FaultSink) Report(v any) {
	log := s.last.Load()
	if log == nil {
		return
	}
	switch err := v.(type) {
	case error:
		log.Fatal("uncaught fault", err)
	default:
		log.Fatal("uncaught fault", fmt.Errorf("%v", v))
	}
}

// ReportPanic records a recovered panic value with its stack.
func (s *FaultSink) ReportPanic(v any, stack []byte) {
	log := s.last.Load()
	if log == nil {
		return
	}
	var err error
	if e, ok := v.(error); ok {
		err = e
	} else {
		err = fmt.Errorf("%v", v)
	}
	log.Fatal("uncaught panic", err, logging.String("stack", string(stack)))
}
