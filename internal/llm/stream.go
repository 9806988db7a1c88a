package llm

import (
	"context"
	"io"
	"sync"
)

// eventStream adapts a producer function into a Stream. The producer runs in
// its own goroutine and pushes events into a channel; Recv pulls from it until
// the producer returns, at which point Recv yields io.EOF (or the producer's
// error). Channel sends inside the producer must honor ctx so cancellation
// unblocks a producer whose consumer has gone away.
type eventStream struct {
	events <-chan Event
	errc   <-chan error

	cancel    context.CancelFunc
	closeOnce sync.Once
	err       error
	done      bool
}

// newEventStream runs produce in a goroutine and returns a Stream over its
// events. The stream owns a derived context; Close cancels it.
func newEventStream(ctx context.Context, produce func(ctx context.Context, events chan<- Event) error) Stream {
	ctx, cancel := context.WithCancel(ctx)
	events := make(chan Event)
	errc := make(chan error, 1)

	go func() {
		defer close(events)
		errc <- produce(ctx, events)
	}()

	return &eventStream{events: events, errc: errc, cancel: cancel}
}

func (s *eventStream) Recv() (Event, error) {
	if s.done {
		return Event{}, s.finalErr()
	}
	select {
	case event, ok := <-s.events:
		if !ok {
			s.done = true
			return Event{}, s.finalErr()
		}
		return event, nil
	case err := <-s.errc:
		// Producer finished before (or instead of) sending more events.
		// Drain anything it managed to queue first.
		s.err = err
		for event := range s.events {
			return event, nil
		}
		s.done = true
		return Event{}, s.finalErr()
	}
}

func (s *eventStream) finalErr() error {
	if s.err == nil {
		select {
		case s.err = <-s.errc:
		default:
		}
	}
	if s.err != nil {
		return s.err
	}
	return io.EOF
}

func (s *eventStream) Close() error {
	s.closeOnce.Do(s.cancel)
	return nil
}

// sendEvent delivers an event unless the stream context has been cancelled.
// Providers use it so a cancelled turn never blocks on an abandoned channel.
func sendEvent(ctx context.Context, events chan<- Event, event Event) error {
	select {
	case events <- event:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
