package history

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Event is one completed request, successful or not.
type Event struct {
	RequestID     string        `json:"request_id"`
	Timestamp     time.Time     `json:"timestamp"`
	Success       bool          `json:"success"`
	Tokens        int           `json:"tokens_used"`
	OriginalModel string        `json:"original_model"`
	Provider      string        `json:"provider"`
	RoutedModel   string        `json:"routed_model"`
	Duration      time.Duration `json:"-"`
	ErrorMessage  string        `json:"error_message,omitempty"`
	Streaming     bool          `json:"is_streaming"`
}

// DurationSeconds is the request duration as stored.
func (e Event) DurationSeconds() float64 {
	return e.Duration.Seconds()
}

// Recorder persists completion events.
type Recorder interface {
	Record(ctx context.Context, ev Event) error
}

// Store is a Recorder that can also list and prune what it holds.
type Store interface {
	Recorder
	List(ctx context.Context, limit, offset int) ([]Event, error)
	Prune(ctx context.Context, before time.Time) (int64, error)
	Close() error
}

// Discard drops every event. It is used when history.driver is none.
type Discard struct{}

func (Discard) Record(context.Context, Event) error { return nil }

const writeTimeout = 5 * time.Second

// AsyncRecorder hands events to a single writer goroutine so the request
// path never waits on storage. A full buffer drops the event.
type AsyncRecorder struct {
	next     Recorder
	queue    chan Event
	wg       sync.WaitGroup
	mu       sync.RWMutex
	closed   bool
	stopOnce sync.Once
}

func NewAsyncRecorder(next Recorder, bufferSize int) *AsyncRecorder {
	if bufferSize <= 0 {
		bufferSize = 1
	}
	r := &AsyncRecorder{
		next:  next,
		queue: make(chan Event, bufferSize),
	}
	r.wg.Add(1)
	go r.run()
	return r
}

// Record enqueues ev. It never blocks and always returns nil.
func (r *AsyncRecorder) Record(_ context.Context, ev Event) error {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		slog.Warn("history recorder closed, dropping event", "request_id", ev.RequestID)
		return nil
	}
	select {
	case r.queue <- ev:
	default:
		slog.Warn("history buffer full, dropping event", "request_id", ev.RequestID)
	}
	return nil
}

// Close stops accepting events and waits for the buffer to drain.
func (r *AsyncRecorder) Close() {
	r.stopOnce.Do(func() {
		r.mu.Lock()
		r.closed = true
		close(r.queue)
		r.mu.Unlock()
		r.wg.Wait()
	})
}

func (r *AsyncRecorder) run() {
	defer r.wg.Done()
	for ev := range r.queue {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		if err := r.next.Record(ctx, ev); err != nil {
			slog.Error("failed to record request history", "request_id", ev.RequestID, "error", err)
		}
		cancel()
	}
}
