package logging

import (
	"context"
	"errors"
	"math"
)

// Transport delivers batches of log entries to an external sink.
//
// SendEntries follows an awaitable-or-nothing contract: a transport that
// finishes delivery before returning reports (nil, err). A transport that
// delivers in the background returns a done channel that receives the
// terminal error (nil on success) exactly once; err is then nil. The buffer
// uses the presence of the done channel on the first send to decide between
// synchronous and batching mode.
//
// The context carries the transport-layer cancellation signal; a slow
// transport is expected to abandon in-flight I/O when it fires.
type Transport interface {
	SendEntries(ctx context.Context, entries []*Entry) (done <-chan error, err error)
}

// RateHinted is implemented by transports that publish a sustained-capacity
// hint, in entries per second. It is unused for log delivery itself but a
// fanout propagates the minimum of its members' hints.
type RateHinted interface {
	PublishRate() float64
}

// fanout delivers every batch to all member transports.
type fanout struct {
	transports []Transport
}

// NewFanout merges several log transports into one. Its send launches all
// member sends and completes when all of them have; it completes
// synchronously iff every member did. Its publish rate is the minimum of the
// members' hints.
func NewFanout(transports ...Transport) (Transport, error) {
	if len(transports) == 0 {
		return nil, ErrNoTransport
	}
	if len(transports) == 1 {
		return transports[0], nil
	}
	return &fanout{transports: transports}, nil
}

func (f *fanout) SendEntries(ctx context.Context, entries []*Entry) (<-chan error, error) {
	var (
		pending []<-chan error
		errs    []error
	)
	for _, t := range f.transports {
		ch, err := t.SendEntries(ctx, entries)
		if err != nil {
			errs = append(errs, err)
		}
		if ch != nil {
			pending = append(pending, ch)
		}
	}

	if len(pending) == 0 {
		return nil, errors.Join(errs...)
	}

	done := make(chan error, 1)
	go func() {
		for _, ch := range pending {
			if err := <-ch; err != nil {
				errs = append(errs, err)
			}
		}
		done <- errors.Join(errs...)
	}()
	return done, nil
}

func (f *fanout) PublishRate() float64 {
	rate := math.Inf(1)
	for _, t := range f.transports {
		if h, ok := t.(RateHinted); ok {
			if r := h.PublishRate(); r > 0 && r < rate {
				rate = r
			}
		}
	}
	if math.IsInf(rate, 1) {
		return 0
	}
	return rate
}
