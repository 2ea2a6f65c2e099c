// SPDX-FileCopyrightText: © 2023 Siemens AG
// SPDX-License-Identifier: MIT

package bus

import (
	"sync"
	"testing"

	"github.com/race-rt/race/addr"
)

// recordingSink is a test Sink that appends delivered events to a slice.
type recordingSink struct {
	mu   sync.Mutex
	addr addr.Address
	got  []Event
}

func newSink(name string) *recordingSink {
	return &recordingSink{addr: addr.LocalAddr(name, addr.Handle{Index: len(name)})}
}

func (s *recordingSink) Address() addr.Address { return s.addr }

func (s *recordingSink) Deliver(e Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, e)
	return nil
}

func (s *recordingSink) events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.got))
	copy(out, s.got)
	return out
}

func TestSingleNodePubSub(t *testing.T) {
	b := New()
	a := newSink("A")
	bSink := newSink("B")

	b.Subscribe("/x", bSink)
	b.Publish("/x", "hello", a.Address())

	evts := bSink.events()
	if len(evts) != 1 {
		t.Fatalf("expected exactly 1 BusEvent, got %d", len(evts))
	}
	if evts[0].Channel != "/x" || evts[0].Payload != "hello" || !evts[0].Sender.Equal(a.Address()) {
		t.Fatalf("unexpected event: %+v", evts[0])
	}
}

func TestPatternSubscriptionNoDuplicates(t *testing.T) {
	b := New()
	a := newSink("A")
	bSink := newSink("B")

	b.Subscribe("/x/*", bSink)
	b.Subscribe("/x/foo", bSink)
	b.Publish("/x/foo", 42, a.Address())

	evts := bSink.events()
	if len(evts) != 1 {
		t.Fatalf("expected exactly 1 BusEvent despite double match, got %d", len(evts))
	}
}

func TestDoubleStarMatchesAnyDepth(t *testing.T) {
	b := New()
	a := newSink("A")
	s := newSink("S")
	b.Subscribe("/swim/**", s)

	b.Publish("/swim/sfdps/flights", 1, a.Address())
	if len(s.events()) != 1 {
		t.Fatalf("expected ** to match nested path")
	}
}

func TestPerPairFIFO(t *testing.T) {
	b := New()
	a := newSink("A")
	s := newSink("S")
	b.Subscribe("/x", s)

	for i := 0; i < 100; i++ {
		b.Publish("/x", i, a.Address())
	}

	evts := s.events()
	if len(evts) != 100 {
		t.Fatalf("expected 100 events, got %d", len(evts))
	}
	for i, e := range evts {
		if e.Payload.(int) != i {
			t.Fatalf("expected FIFO order, got %v at index %d", e.Payload, i)
		}
	}
}

func TestSubscriptionRevocation(t *testing.T) {
	b := New()
	a := newSink("A")
	s := newSink("S")
	b.Subscribe("/x", s)
	b.Publish("/x", 1, a.Address())
	b.Unsubscribe("/x", s)
	b.Publish("/x", 2, a.Address())

	evts := s.events()
	if len(evts) != 1 {
		t.Fatalf("expected only pre-unsubscribe event, got %d", len(evts))
	}
}

func TestIdempotentSubscribe(t *testing.T) {
	b := New()
	a := newSink("A")
	s := newSink("S")
	b.Subscribe("/x", s)
	b.Subscribe("/x", s)
	b.Subscribe("/x", s)

	b.Publish("/x", 1, a.Address())
	evts := s.events()
	if len(evts) != 1 {
		t.Fatalf("subscribing N times should be equivalent to once, got %d deliveries", len(evts))
	}
}

func TestUnsubscribeAll(t *testing.T) {
	b := New()
	a := newSink("A")
	s := newSink("S")
	b.Subscribe("/x", s)
	b.Subscribe("/y/*", s)
	b.UnsubscribeAll(s)

	b.Publish("/x", 1, a.Address())
	b.Publish("/y/z", 1, a.Address())
	if len(s.events()) != 0 {
		t.Fatalf("expected no deliveries after UnsubscribeAll")
	}
}
