// SPDX-FileCopyrightText: © 2023 Siemens AG
// SPDX-License-Identifier: MIT

package clock

import (
	"sync"
	"testing"
	"time"
)

func TestMonotonicNow(t *testing.T) {
	base := time.Date(2016, 7, 3, 13, 53, 17, 0, time.UTC)
	c := New(base)

	var last time.Time
	for i := 0; i < 100; i++ {
		now := c.Now()
		if now.Before(last) {
			t.Fatalf("Now went backwards: %v then %v", last, now)
		}
		last = now
	}
}

func TestScaledClock(t *testing.T) {
	base := time.Date(2016, 7, 3, 13, 53, 17, 0, time.UTC)
	c := New(base, WithScale(10.0))

	time.Sleep(500 * time.Millisecond)
	now := c.Now()

	want := base.Add(5 * time.Second)
	diff := now.Sub(want)
	if diff < -200*time.Millisecond || diff > 200*time.Millisecond {
		t.Fatalf("expected ~%v, got %v (diff %v)", want, now, diff)
	}
}

func TestPauseFreezesTime(t *testing.T) {
	base := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	c := New(base, WithScale(100.0))

	time.Sleep(10 * time.Millisecond)
	c.Pause()
	frozen := c.Now()

	time.Sleep(20 * time.Millisecond)
	if !c.Now().Equal(frozen) {
		t.Fatalf("time advanced while paused: %v -> %v", frozen, c.Now())
	}

	c.Resume()
	time.Sleep(10 * time.Millisecond)
	if !c.Now().After(frozen) {
		t.Fatalf("time did not resume advancing")
	}
}

func TestSetBaseForwardAlwaysAllowed(t *testing.T) {
	c := New(time.Now())
	future := time.Now().Add(time.Hour)
	if err := c.SetBase(future); err != nil {
		t.Fatalf("forward SetBase should be allowed: %v", err)
	}
	if c.Now().Before(future) {
		t.Fatalf("expected rebase to take effect")
	}
}

func TestSetBaseBackwardRequiresPause(t *testing.T) {
	c := New(time.Now())
	past := time.Now().Add(-time.Hour)
	if err := c.SetBase(past); err == nil {
		t.Fatalf("expected backward SetBase to fail while Running")
	}

	c.Pause()
	if err := c.SetBase(past); err != nil {
		t.Fatalf("backward SetBase should be allowed while Paused: %v", err)
	}
}

func TestSetScaleRejectsNonPositive(t *testing.T) {
	c := New(time.Now())
	if err := c.SetScale(0); err == nil {
		t.Fatalf("expected error for zero scale")
	}
	if err := c.SetScale(-1); err == nil {
		t.Fatalf("expected error for negative scale")
	}
}

func TestResetNotifiesSubscribers(t *testing.T) {
	c := New(time.Now())

	var mu sync.Mutex
	var got []Reset
	c.Subscribe(func(r Reset) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, r)
	})

	c.Pause()
	c.Resume()
	_ = c.SetScale(2.0)

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 3 {
		t.Fatalf("expected 3 reset notifications, got %d", len(got))
	}
}

func TestSchedulerFiresInOrder(t *testing.T) {
	c := New(time.Now(), WithScale(1000.0))
	s := NewScheduler(c)
	defer s.Close()

	var mu sync.Mutex
	var order []int
	done := make(chan struct{})

	s.ScheduleAfter(30*time.Millisecond, func() {
		mu.Lock()
		order = append(order, 2)
		mu.Unlock()
	})
	s.ScheduleAfter(10*time.Millisecond, func() {
		mu.Lock()
		order = append(order, 1)
		mu.Unlock()
		close(done)
	})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for scheduled entries")
	}
	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Fatalf("expected firing order [1 2], got %v", order)
	}
}

func TestSchedulerCancelIsBestEffort(t *testing.T) {
	c := New(time.Now(), WithScale(1000.0))
	s := NewScheduler(c)
	defer s.Close()

	fired := false
	tok := s.ScheduleAfter(50*time.Millisecond, func() { fired = true })
	s.Cancel(tok)

	time.Sleep(150 * time.Millisecond)
	if fired {
		t.Fatalf("cancelled entry should not have fired")
	}
}

func TestSamePairDueTimeOrderedByScheduleCallOrder(t *testing.T) {
	c := New(time.Now())
	c.Pause() // freeze sim-time so both entries share the exact due instant
	s := NewScheduler(c)
	defer s.Close()

	due := c.Now().Add(time.Second)
	var mu sync.Mutex
	var order []int
	s.ScheduleAt(due, func() { mu.Lock(); order = append(order, 1); mu.Unlock() })
	s.ScheduleAt(due, func() { mu.Lock(); order = append(order, 2); mu.Unlock() })

	c.Resume()
	c.SetBase(due.Add(time.Millisecond))

	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		n := len(order)
		mu.Unlock()
		if n == 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("entries never fired")
		}
		time.Sleep(10 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if order[0] != 1 || order[1] != 2 {
		t.Fatalf("expected schedule-call order [1 2], got %v", order)
	}
}
