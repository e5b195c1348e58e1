package events

import "testing"

type testEvent string

func (e testEvent) EventType() string { return string(e) }

func TestRecorderRetainsBoundedHistory(t *testing.T) {
	recorder := NewRecorder(3)
	for _, name := range []string{"a", "b", "c", "d", "e"} {
		recorder.Emit(testEvent(name))
	}

	recorded := recorder.List(0)
	if len(recorded) != 3 {
		t.Fatalf("expected 3 retained events, got %d", len(recorded))
	}
	if recorded[0].Event.EventType() != "c" || recorded[2].Event.EventType() != "e" {
		t.Fatalf("expected oldest entries dropped, got %+v", recorded)
	}
	// Sequence numbers keep counting across dropped entries.
	if recorded[0].Sequence != 3 || recorded[2].Sequence != 5 {
		t.Fatalf("unexpected sequences: %+v", recorded)
	}

	limited := recorder.List(1)
	if len(limited) != 1 || limited[0].Event.EventType() != "e" {
		t.Fatalf("expected newest event only, got %+v", limited)
	}
}

func TestRecorderIgnoresNilEvents(t *testing.T) {
	recorder := NewRecorder(2)
	recorder.Emit(nil)
	if got := recorder.List(0); len(got) != 0 {
		t.Fatalf("expected empty history, got %+v", got)
	}
}
