package progress

import (
	"encoding/json"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Sink receives events in emission order.
type Sink interface {
	Emit(Event) error
}

// SinkFunc adapts a function to a Sink.
type SinkFunc func(Event) error

func (f SinkFunc) Emit(e Event) error { return f(e) }

// JSONSink writes one JSON object per line.
type JSONSink struct {
	mu  sync.Mutex
	enc *json.Encoder
}

// NewJSONSink returns a sink writing to w.
func NewJSONSink(w io.Writer) *JSONSink {
	return &JSONSink{enc: json.NewEncoder(w)}
}

func (s *JSONSink) Emit(e Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enc.Encode(e)
}

// Recorder keeps events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Emit(e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Steps returns "stage/status" for every recorded event.
func (r *Recorder) Steps() []string {
	var out []string
	for _, e := range r.Events() {
		out = append(out, e.Stage+"/"+e.Status)
	}
	return out
}

// Last returns the most recent event with the given stage and status.
func (r *Recorder) Last(stage, status string) (Event, bool) {
	events := r.Events()
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].Stage == stage && events[i].Status == status {
			return events[i], true
		}
	}
	return Event{}, false
}

// Emitter stamps events and forwards them to a Sink.
type Emitter struct {
	sink   Sink
	logger *zap.Logger
	now    func() time.Time
}

// NewEmitter returns an Emitter writing to sink. A nil sink drops events.
func NewEmitter(sink Sink, logger *zap.Logger) *Emitter {
	if sink == nil {
		sink = SinkFunc(func(Event) error { return nil })
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Emitter{sink: sink, logger: logger, now: time.Now}
}

// Emit sends one event. A sink error is logged and otherwise ignored.
func (em *Emitter) Emit(stage, status string, fields Fields) {
	e := Event{Stage: stage, Status: status, Time: em.now(), Fields: fields}
	em.logger.Debug("progress", zap.String("stage", stage), zap.String("status", status), zap.Any("fields", fields))
	if err := em.sink.Emit(e); err != nil {
		em.logger.Warn("dropping progress event", zap.String("stage", stage), zap.Error(err))
	}
}
