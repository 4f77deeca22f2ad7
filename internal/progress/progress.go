package progress

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Stage identifies a point in a request's fallback chain.
type Stage string

const (
	StageAttemptProvider Stage = "attempt_provider"
	StageAttemptVariant  Stage = "attempt_variant"
	StageProviderFailed  Stage = "provider_failed"
	StageSucceeded       Stage = "succeeded"
	StageExhausted       Stage = "exhausted"
)

// Event describes which provider and variant a request is currently on.
type Event struct {
	RequestID string        `json:"request_id"`
	Stage     Stage         `json:"stage"`
	Provider  string        `json:"provider,omitempty"`
	Variant   string        `json:"variant,omitempty"`
	Region    string        `json:"region,omitempty"`
	Endpoint  string        `json:"endpoint,omitempty"`
	Class     string        `json:"class,omitempty"`
	Elapsed   time.Duration `json:"elapsed_ns"`
	At        time.Time     `json:"at"`
}

// Emitter accepts progress events. Implementations must not block the caller.
type Emitter interface {
	Emit(Event)
}

// Discard drops every event.
type Discard struct{}

func (Discard) Emit(Event) {}

// Sink receives events from a Dispatcher, one at a time and in order.
type Sink interface {
	Deliver(ctx context.Context, ev Event) error
}

const sinkTimeout = 2 * time.Second

// Dispatcher queues events and delivers them to its sinks from a single
// goroutine. A full queue drops the event.
type Dispatcher struct {
	queue    chan Event
	sinks    []Sink
	wg       sync.WaitGroup
	mu       sync.RWMutex
	closed   bool
	stopOnce sync.Once
}

func NewDispatcher(queueSize int, sinks ...Sink) *Dispatcher {
	if queueSize <= 0 {
		queueSize = 1
	}
	d := &Dispatcher{
		queue: make(chan Event, queueSize),
		sinks: sinks,
	}
	d.wg.Add(1)
	go d.run()
	return d
}

func (d *Dispatcher) Emit(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return
	}
	select {
	case d.queue <- ev:
	default:
		slog.Debug("progress queue full, dropping event", "request_id", ev.RequestID, "stage", string(ev.Stage))
	}
}

// Close stops accepting events and waits until the queue has drained.
func (d *Dispatcher) Close() {
	d.stopOnce.Do(func() {
		d.mu.Lock()
		d.closed = true
		close(d.queue)
		d.mu.Unlock()
		d.wg.Wait()
	})
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for ev := range d.queue {
		for _, sink := range d.sinks {
			ctx, cancel := context.WithTimeout(context.Background(), sinkTimeout)
			if err := sink.Deliver(ctx, ev); err != nil {
				slog.Warn("progress sink failed", "stage", string(ev.Stage), "error", err)
			}
			cancel()
		}
	}
}

// LogSink writes events to the default logger at debug level.
type LogSink struct{}

func (LogSink) Deliver(ctx context.Context, ev Event) error {
	slog.DebugContext(ctx, "progress",
		"request_id", ev.RequestID,
		"stage", string(ev.Stage),
		"provider", ev.Provider,
		"variant", ev.Variant,
		"region", ev.Region,
		"endpoint", ev.Endpoint,
		"elapsed", ev.Elapsed.Round(time.Millisecond).String(),
	)
	return nil
}
