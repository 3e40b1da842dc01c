package progress

import "testing"

func TestCancelToken(t *testing.T) {
	var c CancelToken
	if c.IsSet() {
		t.Fatalf("expected unset by default")
	}
	c.Set()
	if !c.IsSet() {
		t.Fatalf("expected set after Set()")
	}
}

func TestReporterEmitsToCallback(t *testing.T) {
	var got []Event
	r := NewReporter(func(e Event) { got = append(got, e) })

	r.Emit(Event{Kind: EventStart})
	r.Emit(Event{Kind: EventDone})

	if len(got) != 2 {
		t.Fatalf("expected 2 events, got %d", len(got))
	}
}

func TestReporterDisablesOnPanic(t *testing.T) {
	calls := 0
	r := NewReporter(func(e Event) {
		calls++
		panic("boom")
	})

	r.Emit(Event{Kind: EventStart}) // panics, should be caught and disable
	r.Emit(Event{Kind: EventChunk}) // should be a no-op now

	if calls != 1 {
		t.Fatalf("expected exactly 1 call before disabling, got %d", calls)
	}
}

func TestReporterNilCallback(t *testing.T) {
	r := NewReporter(nil)
	// Should not panic.
	r.Emit(Event{Kind: EventStart})
}
