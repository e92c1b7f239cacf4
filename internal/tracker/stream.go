package tracker

import (
	"sync"

	"squad/internal/history"
	"squad/internal/shared/logging"
)

// streamBuffer is the default subscriber channel bound. A slow consumer loses
// events rather than blocking the execution.
const streamBuffer = 1000

// Stream is a live event feed for one execution.
type Stream struct {
	events chan history.Event
	hub    *hub
	id     string

	mu     sync.Mutex
	closed bool
	kinds  map[string]bool
}

// Events returns the feed channel. Closed after a lifecycle-final event or
// after Close.
func (s *Stream) Events() <-chan history.Event { return s.events }

// Close detaches the stream.
func (s *Stream) Close() {
	s.hub.unsubscribe(s.id, s)
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.events)
	}
}

// hub fans execution events out to per-execution subscribers.
type hub struct {
	mu      sync.Mutex
	streams map[string][]*Stream
	logger  logging.Logger
	buffer  int
}

func newHub(logger logging.Logger, buffer int) *hub {
	if buffer <= 0 {
		buffer = streamBuffer
	}
	return &hub{streams: make(map[string][]*Stream), logger: logging.OrNop(logger), buffer: buffer}
}

func (h *hub) subscribe(executionID string, kinds []string) *Stream {
	s := &Stream{
		events: make(chan history.Event, h.buffer),
		hub:    h,
		id:     executionID,
	}
	if len(kinds) > 0 {
		s.kinds = make(map[string]bool, len(kinds))
		for _, k := range kinds {
			s.kinds[k] = true
		}
	}
	h.mu.Lock()
	h.streams[executionID] = append(h.streams[executionID], s)
	h.mu.Unlock()
	return s
}

func (h *hub) unsubscribe(executionID string, s *Stream) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs := h.streams[executionID]
	for i, sub := range subs {
		if sub == s {
			h.streams[executionID] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(h.streams[executionID]) == 0 {
		delete(h.streams, executionID)
	}
}

// publish delivers the event to every subscriber of the execution. Full
// buffers drop the event; a lifecycle-final event ends every stream.
func (h *hub) publish(executionID string, event history.Event) {
	h.mu.Lock()
	subs := append([]*Stream(nil), h.streams[executionID]...)
	final := event.IsLifecycleFinal()
	if final {
		delete(h.streams, executionID)
	}
	h.mu.Unlock()

	for _, s := range subs {
		s.deliver(event, h.logger)
		if final {
			s.mu.Lock()
			if !s.closed {
				s.closed = true
				close(s.events)
			}
			s.mu.Unlock()
		}
	}
}

func (s *Stream) deliver(event history.Event, logger logging.Logger) {
	if s.kinds != nil && !s.kinds[event.Kind] && !event.IsLifecycleFinal() {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.events <- event:
	default:
		logger.Warn("execution %s: stream buffer full, dropping %s", event.Execution, event.Kind)
	}
}
