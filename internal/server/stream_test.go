package server

import (
	"testing"
	"time"
)

func TestEventBroadcaster_ReplaysLastEvent(t *testing.T) {
	eb := NewEventBroadcaster()
	eb.Broadcast(ProgressEvent{JobID: "job", Iterations: 7})

	ch := eb.Subscribe("job")
	defer eb.Unsubscribe("job", ch)

	select {
	case event := <-ch:
		if event.Iterations != 7 {
			t.Errorf("Expected replayed event at 7, got %d", event.Iterations)
		}
	default:
		t.Fatal("New subscribers should get the last event")
	}
}

func TestEventBroadcaster_FinalEventNeverDropped(t *testing.T) {
	eb := NewEventBroadcaster()
	ch := eb.Subscribe("job")
	defer eb.Unsubscribe("job", ch)

	for i := 0; i < cap(ch)+5; i++ {
		eb.Broadcast(ProgressEvent{JobID: "job", Iterations: i})
	}
	eb.Broadcast(ProgressEvent{JobID: "job", Iterations: 999, Final: true})

	var last ProgressEvent
	for len(ch) > 0 {
		last = <-ch
	}
	if !last.Final || last.Iterations != 999 {
		t.Errorf("Final event should be delivered last, got %+v", last)
	}
}

func TestEventBroadcaster_IsolatesJobs(t *testing.T) {
	eb := NewEventBroadcaster()
	a := eb.Subscribe("a")
	defer eb.Unsubscribe("a", a)

	eb.Broadcast(ProgressEvent{JobID: "b"})
	if len(a) != 0 {
		t.Error("Events of other jobs should not be delivered")
	}
}

func TestEventBroadcaster_UnsubscribeClosesChannel(t *testing.T) {
	eb := NewEventBroadcaster()
	ch := eb.Subscribe("job")
	eb.Unsubscribe("job", ch)

	if _, ok := <-ch; ok {
		t.Error("Channel should be closed")
	}
	// A second unsubscribe is a no-op
	eb.Unsubscribe("job", ch)
}

func TestEventBroadcaster_FinalEventWithConcurrentReader(t *testing.T) {
	eb := NewEventBroadcaster()
	ch := eb.Subscribe("job")

	lastFinal := make(chan int, 1)
	go func() {
		last := -1
		for event := range ch {
			if event.Final {
				last = event.Iterations
			}
		}
		lastFinal <- last
	}()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for round := 0; round < 200; round++ {
			for i := 0; i < cap(ch)+2; i++ {
				eb.Broadcast(ProgressEvent{JobID: "job", Iterations: i})
			}
			eb.Broadcast(ProgressEvent{JobID: "job", Iterations: round, Final: true})
		}
	}()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("Broadcast blocked while the subscriber was draining")
	}

	eb.Unsubscribe("job", ch)
	if last := <-lastFinal; last != 199 {
		t.Errorf("Expected the last final event from round 199, got %d", last)
	}
}
