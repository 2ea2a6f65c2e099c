// SPDX-FileCopyrightText: © 2023 Siemens AG
// SPDX-License-Identifier: MIT

package clock

import (
	"container/heap"
	"sync"
	"time"

	desertbit "github.com/desertbit/timer"
)

// Token cancels a scheduled entry. Cancellation is best-effort: a
// concurrently-firing timer may still deliver once (spec §5).
type Token uint64

// entry is one pending scheduled message, indexed by sim-time due instant.
// Ties are broken by seq (insertion order), so "earlier schedule_* call
// wins" (spec §4.1) for equal due times.
type entry struct {
	due       time.Time
	seq       uint64
	token     Token
	fire      func()
	cancelled bool
}

type entryHeap []*entry

func (h entryHeap) Len() int { return len(h) }
func (h entryHeap) Less(i, j int) bool {
	if h[i].due.Equal(h[j].due) {
		return h[i].seq < h[j].seq
	}
	return h[i].due.Before(h[j].due)
}
func (h entryHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *entryHeap) Push(x any)        { *h = append(*h, x.(*entry)) }
func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

// Scheduler services schedule_after/schedule_at (spec §4.1) by maintaining a
// min-heap of due sim-instants and firing entries through a dedicated
// goroutine, per Design Notes ("Coroutine/async control flow").
type Scheduler struct {
	clock *Clock

	mu      sync.Mutex
	h       entryHeap
	byToken map[Token]*entry
	nextSeq uint64
	nextTok uint64

	wake chan struct{}
	done chan struct{}
	unsub func()
}

// NewScheduler creates and starts a Scheduler bound to clk.
func NewScheduler(clk *Clock) *Scheduler {
	s := &Scheduler{
		clock:   clk,
		byToken: make(map[Token]*entry),
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	s.unsub = clk.Subscribe(func(Reset) { s.signal() })
	go s.run()
	return s
}

// Close stops the scheduler goroutine. Pending entries are discarded.
func (s *Scheduler) Close() {
	s.unsub()
	close(s.done)
}

func (s *Scheduler) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// ScheduleAt arranges for fire to be invoked once the clock's sim-time
// reaches due. Returns a cancellation token.
func (s *Scheduler) ScheduleAt(due time.Time, fire func()) Token {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextTok++
	tok := Token(s.nextTok)
	s.nextSeq++
	e := &entry{due: due, seq: s.nextSeq, token: tok, fire: fire}
	heap.Push(&s.h, e)
	s.byToken[tok] = e
	s.signal()
	return tok
}

// ScheduleAfter arranges for fire to be invoked after d of sim-time has
// elapsed.
func (s *Scheduler) ScheduleAfter(d time.Duration, fire func()) Token {
	return s.ScheduleAt(s.clock.Now().Add(d), fire)
}

// Cancel cancels a previously scheduled entry. Best-effort (spec §5): if the
// timer has already begun firing, the callback may still run once.
func (s *Scheduler) Cancel(tok Token) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.byToken[tok]; ok {
		e.cancelled = true
		delete(s.byToken, tok)
	}
}

func (s *Scheduler) run() {
	timer := desertbit.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		delay, hasWork := s.nextDelay()
		if hasWork {
			timer.Reset(delay)
		} else {
			timer.Reset(time.Hour)
		}

		select {
		case <-s.done:
			return
		case <-s.wake:
			continue
		case <-timer.C:
			s.fireDue()
		}
	}
}

// nextDelay computes the wall-clock delay until the top heap entry is due,
// translating the sim-time delta through the clock's current scale. While
// Paused/Stopped, the scheduler simply waits to be woken by a clock reset.
func (s *Scheduler) nextDelay() (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.h) == 0 {
		return 0, false
	}
	top := s.h[0]

	if s.clock.State() != Running {
		return 0, false
	}

	simDelta := top.due.Sub(s.clock.Now())
	if simDelta <= 0 {
		return time.Millisecond, true
	}
	scale := s.clock.Scale()
	if scale <= 0 {
		scale = 1
	}
	wallDelta := time.Duration(float64(simDelta) / scale)
	if wallDelta < time.Millisecond {
		wallDelta = time.Millisecond
	}
	return wallDelta, true
}

func (s *Scheduler) fireDue() {
	now := s.clock.Now()
	var toFire []func()

	s.mu.Lock()
	for len(s.h) > 0 {
		top := s.h[0]
		if top.due.After(now) {
			break
		}
		heap.Pop(&s.h)
		delete(s.byToken, top.token)
		if !top.cancelled {
			toFire = append(toFire, top.fire)
		}
	}
	s.mu.Unlock()

	for _, fn := range toFire {
		fn()
	}
}
