package agent

import "sync"

// EventSink receives loop events in emission order. Emit is called from the
// loop goroutine and, for heartbeats, from the heartbeat ticker.
type EventSink interface {
	Emit(Event)
}

// NopSink discards everything.
type NopSink struct{}

func (NopSink) Emit(Event) {}

// FuncSink adapts a function to EventSink.
type FuncSink func(Event)

func (f FuncSink) Emit(e Event) {
	if f != nil {
		f(e)
	}
}

// MultiSink fans each event out to every sink in order.
type MultiSink []EventSink

func (m MultiSink) Emit(e Event) {
	for _, sink := range m {
		if sink != nil {
			sink.Emit(e)
		}
	}
}

// ChannelSink delivers events on a bounded channel. Heartbeats are dropped
// when the buffer is full; every other event blocks until there is room or
// the sink is closed.
type ChannelSink struct {
	ch        chan Event
	done      chan struct{}
	closeOnce sync.Once
	mu        sync.RWMutex
	closed    bool
}

func NewChannelSink(buffer int) *ChannelSink {
	if buffer < 0 {
		buffer = 0
	}
	return &ChannelSink{
		ch:   make(chan Event, buffer),
		done: make(chan struct{}),
	}
}

func (s *ChannelSink) Events() <-chan Event {
	return s.ch
}

func (s *ChannelSink) Emit(e Event) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}

	if e.Type == TypeHeartbeat {
		select {
		case s.ch <- e:
		default:
		}
		return
	}
	select {
	case s.ch <- e:
	case <-s.done:
	}
}

// Close closes the channel. Blocked and later emits are discarded, so Close
// never waits on a consumer that stopped reading.
func (s *ChannelSink) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.mu.Lock()
		defer s.mu.Unlock()
		s.closed = true
		close(s.ch)
	})
}

// Forward delivers every event to dst until the sink is closed.
func (s *ChannelSink) Forward(dst EventSink) {
	for e := range s.ch {
		dst.Emit(e)
	}
}

// Buffered decouples dst from the emitter through a ChannelSink drained on
// its own goroutine. The returned stop closes the sink and waits until every
// queued event has reached dst.
func Buffered(dst EventSink, buffer int) (EventSink, func()) {
	sink := NewChannelSink(buffer)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		sink.Forward(dst)
	}()
	return sink, func() {
		sink.Close()
		wg.Wait()
	}
}

// syncSink serializes emits from the loop and the heartbeat ticker so a
// sink never sees concurrent calls.
type syncSink struct {
	mu   sync.Mutex
	next EventSink
}

func (s *syncSink) Emit(e Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next.Emit(e)
}

// tryEmit emits unless another emit is in progress. Heartbeats use it so a
// slow consumer never stalls the ticker.
func (s *syncSink) tryEmit(e Event) bool {
	if !s.mu.TryLock() {
		return false
	}
	defer s.mu.Unlock()
	s.next.Emit(e)
	return true
}
