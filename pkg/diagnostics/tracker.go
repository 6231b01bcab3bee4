// Package diagnostics records per-request outcomes without ever blocking or
// failing the request path. Events are handed to a single drain goroutine
// through a bounded buffer; when the buffer is full the event is dropped
// and counted instead.
package diagnostics

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/entitlekit/backend-client/pkg/api"
)

// NoStatusCode is the sentinel response code recorded when a request failed
// before any response was received.
const NoStatusCode = -1

// defaultBufferSize bounds the number of undelivered events.
const defaultBufferSize = 256

// Event describes the outcome of one logical request. A request that needed
// the internal revalidation retry still produces exactly one event.
type Event struct {
	// Endpoint is the logical endpoint name.
	Endpoint string

	// ResponseTime is the total elapsed time including any revalidation
	// round-trip.
	ResponseTime time.Duration

	// Successful is true only for a 2xx final status.
	Successful bool

	// ResponseCode is the final status code, or NoStatusCode for transport
	// failures.
	ResponseCode int

	// Origin is where the payload came from; empty when no response was
	// received.
	Origin api.Origin

	// VerificationResult is the signature verification outcome.
	VerificationResult api.VerificationResult
}

// Sink receives drained events. Record is called from a single goroutine;
// implementations only need to be safe against their own consumers.
type Sink interface {
	Record(event Event)
}

// Tracker dispatches events to a Sink without blocking callers.
type Tracker struct {
	sink   Sink
	events chan Event
	quit   chan struct{}
	once   sync.Once
	wg     sync.WaitGroup
}

// NewTracker creates a tracker draining into sink and starts its drain
// goroutine.
func NewTracker(sink Sink) *Tracker {
	if sink == nil {
		panic("diagnostics sink cannot be nil")
	}

	t := &Tracker{
		sink:   sink,
		events: make(chan Event, defaultBufferSize),
		quit:   make(chan struct{}),
	}

	t.wg.Add(1)
	go t.drain()

	return t
}

// TrackHTTPRequestPerformed records one request outcome. It never blocks:
// when the buffer is full the event is dropped and counted in the dropped
// metric. Metrics are updated even for dropped events.
func (t *Tracker) TrackHTTPRequestPerformed(event Event) {
	observeEvent(event)

	select {
	case t.events <- event:
	default:
		eventsDropped.Inc()
	}
}

// Close stops the drain goroutine after delivering all buffered events.
// Safe to call more than once. Events tracked after Close may be lost.
func (t *Tracker) Close() {
	t.once.Do(func() {
		close(t.quit)
	})
	t.wg.Wait()
}

func (t *Tracker) drain() {
	defer t.wg.Done()
	for {
		select {
		case event := <-t.events:
			t.sink.Record(event)
		case <-t.quit:
			for {
				select {
				case event := <-t.events:
					t.sink.Record(event)
				default:
					return
				}
			}
		}
	}
}

// LogSink writes events to a structured logger.
type LogSink struct {
	logger zerolog.Logger
}

// NewLogSink creates a sink logging events at debug level.
func NewLogSink(logger zerolog.Logger) *LogSink {
	return &LogSink{
		logger: logger.With().Str("component", "diagnostics").Logger(),
	}
}

// Record logs the event.
func (s *LogSink) Record(event Event) {
	s.logger.Debug().
		Str("endpoint", event.Endpoint).
		Dur("response_time", event.ResponseTime).
		Bool("successful", event.Successful).
		Int("status_code", event.ResponseCode).
		Str("origin", string(event.Origin)).
		Str("verification_result", string(event.VerificationResult)).
		Msg("HTTP request performed")
}

// MemorySink collects events for inspection in tests.
type MemorySink struct {
	mu     sync.Mutex
	events []Event
}

// NewMemorySink creates an empty in-memory sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// Record appends the event.
func (s *MemorySink) Record(event Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

// Events returns a snapshot of the recorded events. The returned slice is a
// copy; iterating it is safe during concurrent Record calls.
func (s *MemorySink) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot := make([]Event, len(s.events))
	copy(snapshot, s.events)
	return snapshot
}
