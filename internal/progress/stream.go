package progress

import "sync"

// Stream delivers events to a single consumer in emission order without
// dropping any. Emit blocks until the consumer receives the event or the
// stream is abandoned.
type Stream struct {
	events    chan Event
	done      chan struct{}
	closeOnce sync.Once
	abandon   sync.Once
}

// NewStream creates a Stream with the given channel buffer.
func NewStream(buffer int) *Stream {
	if buffer < 0 {
		buffer = 0
	}
	return &Stream{
		events: make(chan Event, buffer),
		done:   make(chan struct{}),
	}
}

// Emit hands evt to the consumer. Events emitted after Abandon are discarded.
func (s *Stream) Emit(evt Event) {
	select {
	case <-s.done:
		return
	default:
	}
	select {
	case s.events <- evt:
	case <-s.done:
	}
}

// Events is the consumer side; it is closed by Close.
func (s *Stream) Events() <-chan Event {
	return s.events
}

// Close is called by the producer after its final Emit.
func (s *Stream) Close() {
	s.closeOnce.Do(func() {
		close(s.events)
	})
}

// Abandon is called by the consumer when it stops reading, releasing any
// blocked producer.
func (s *Stream) Abandon() {
	s.abandon.Do(func() {
		close(s.done)
	})
}
