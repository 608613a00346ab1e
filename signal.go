package echorm

import "sync"

// Signal is a minimal synchronous dispatcher. Receivers connect with Connect
// and are invoked in connection order on every Send. It replaces the event
// layer a host application would otherwise hand-wire around commit hooks.
type Signal[T any] struct {
	mu       sync.RWMutex
	nextID   uint64
	handlers []signalHandler[T]
}

type signalHandler[T any] struct {
	id uint64
	fn func(T)
}

// NewSignal creates an empty signal.
func NewSignal[T any]() *Signal[T] {
	return &Signal[T]{}
}

// Connect registers fn and returns a disconnect function. Disconnecting twice
// is harmless.
func (s *Signal[T]) Connect(fn func(T)) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.handlers = append(s.handlers, signalHandler[T]{id: id, fn: fn})
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, h := range s.handlers {
			if h.id == id {
				s.handlers = append(s.handlers[:i], s.handlers[i+1:]...)
				return
			}
		}
	}
}

// Send delivers v to every connected receiver, synchronously, on the calling
// goroutine.
func (s *Signal[T]) Send(v T) {
	s.mu.RLock()
	handlers := make([]signalHandler[T], len(s.handlers))
	copy(handlers, s.handlers)
	s.mu.RUnlock()

	for _, h := range handlers {
		h.fn(v)
	}
}
