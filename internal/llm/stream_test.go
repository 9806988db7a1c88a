package llm

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"
)

func TestEventStream_DeliversEventsThenEOF(t *testing.T) {
	s := newEventStream(context.Background(), func(ctx context.Context, events chan<- Event) error {
		for _, text := range []string{"a", "b", "c"} {
			if err := sendEvent(ctx, events, Event{Type: EventTextDelta, Text: text}); err != nil {
				return err
			}
		}
		return nil
	})
	defer s.Close()

	var got string
	for {
		ev, err := s.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Recv: %v", err)
		}
		got += ev.Text
	}
	if got != "abc" {
		t.Errorf("got %q, want %q", got, "abc")
	}

	// Recv after EOF keeps returning EOF.
	if _, err := s.Recv(); err != io.EOF {
		t.Errorf("Recv after EOF = %v", err)
	}
}

func TestEventStream_ProducerError(t *testing.T) {
	want := errors.New("upstream failed")
	s := newEventStream(context.Background(), func(ctx context.Context, events chan<- Event) error {
		if err := sendEvent(ctx, events, Event{Type: EventTextDelta, Text: "partial"}); err != nil {
			return err
		}
		return want
	})
	defer s.Close()

	ev, err := s.Recv()
	if err != nil || ev.Text != "partial" {
		t.Fatalf("first Recv = (%+v, %v)", ev, err)
	}
	if _, err := s.Recv(); !errors.Is(err, want) {
		t.Errorf("Recv = %v, want producer error", err)
	}
}

func TestEventStream_CloseUnblocksProducer(t *testing.T) {
	done := make(chan struct{})
	s := newEventStream(context.Background(), func(ctx context.Context, events chan<- Event) error {
		defer close(done)
		// No consumer ever reads this event; Close must unblock the send.
		return sendEvent(ctx, events, Event{Type: EventTextDelta, Text: "stuck"})
	})

	s.Close()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("producer still blocked after Close")
	}
}

func TestCollectText(t *testing.T) {
	msg := Message{Role: RoleAssistant, Parts: []Part{
		{Type: PartText, Text: "hello "},
		{Type: PartToolCall, ToolCall: &ToolCall{ID: "c1", Name: "t"}},
		{Type: PartText, Text: "world"},
	}}
	if got := CollectText(msg.Parts); got != "hello world" {
		t.Errorf("CollectText = %q", got)
	}
}
