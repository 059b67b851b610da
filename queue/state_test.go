package queue

import "testing"

func TestStateString(t *testing.T) {
	cases := map[State]string{
		Connecting:  "Connecting",
		Consuming:   "Consuming",
		Paused:      "Paused",
		Draining:    "Draining",
		Closed:      "Closed",
		State(99):   "Unknown",
	}
	for s, want := range cases {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", s, got, want)
		}
	}
}

func TestStateCellLoadStore(t *testing.T) {
	var c stateCell
	if got := c.load(); got != Connecting {
		t.Errorf("zero-value stateCell should be Connecting, got %s", got)
	}
	c.store(Consuming)
	if got := c.load(); got != Consuming {
		t.Errorf("expected Consuming after store, got %s", got)
	}
}

func TestStateCellCAS(t *testing.T) {
	var c stateCell
	c.store(Consuming)

	if ok := c.cas(Paused, Draining); ok {
		t.Fatal("CAS should fail when current state does not match old")
	}
	if got := c.load(); got != Consuming {
		t.Errorf("state should be unchanged after failed CAS, got %s", got)
	}

	if ok := c.cas(Consuming, Paused); !ok {
		t.Fatal("CAS should succeed when current state matches old")
	}
	if got := c.load(); got != Paused {
		t.Errorf("expected Paused after successful CAS, got %s", got)
	}
}
