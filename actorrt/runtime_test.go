// SPDX-FileCopyrightText: © 2023 Siemens AG
// SPDX-License-Identifier: MIT

package actorrt

import (
	"sync"
	"testing"
	"time"

	"github.com/race-rt/race/addr"
	"github.com/race-rt/race/bus"
	"github.com/race-rt/race/clock"
)

// echoActor replies to every AskRequest with the request's own Msg, and
// records every other message it sees.
type echoActor struct {
	mu  sync.Mutex
	got []any
}

func (e *echoActor) Initialize(ctx *Context) error { return nil }
func (e *echoActor) Start(ctx *Context) error       { return nil }
func (e *echoActor) Terminate(ctx *Context) error   { return nil }

func (e *echoActor) Handle(ctx *Context, msg any) {
	if req, ok := msg.(AskRequest); ok {
		ctx.Reply(req, req.Msg, nil)
		return
	}
	e.mu.Lock()
	e.got = append(e.got, msg)
	e.mu.Unlock()
}

func (e *echoActor) seen() []any {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]any, len(e.got))
	copy(out, e.got)
	return out
}

func newTestRuntime() *Runtime {
	clk := clock.New(time.Unix(0, 0))
	sched := clock.NewScheduler(clk)
	return NewRuntime("local", bus.New(), clk, sched)
}

func bootAndRun(t *testing.T, rt *Runtime, a addr.Address) {
	t.Helper()
	if err := rt.Command(a, InitializeCmd{Timeout: time.Second}); err != nil {
		t.Fatalf("InitializeCmd: %v", err)
	}
	if err := rt.Command(a, StartCmd{Timeout: time.Second}); err != nil {
		t.Fatalf("StartCmd: %v", err)
	}
	// give the executor goroutine a chance to process the two commands
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		var reached bool
		func() {
			rt.mu.Lock()
			defer rt.mu.Unlock()
			c, ok := rt.cells[a.Handle.Index]
			reached = ok && c.getPhase() == Running
		}()
		if reached {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("actor %s never reached Running", a)
}

func TestSpawnReachesRunning(t *testing.T) {
	rt := newTestRuntime()
	a := rt.Spawn("echo", &echoActor{}, Spec{})
	bootAndRun(t, rt, a)
}

func TestTellDeliversToHandle(t *testing.T) {
	rt := newTestRuntime()
	actor := &echoActor{}
	a := rt.Spawn("echo", actor, Spec{})
	bootAndRun(t, rt, a)

	if err := rt.Tell(addr.Address{}, a, "hi"); err != nil {
		t.Fatalf("Tell: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && len(actor.seen()) == 0 {
		time.Sleep(time.Millisecond)
	}
	got := actor.seen()
	if len(got) != 1 || got[0] != "hi" {
		t.Fatalf("expected [\"hi\"], got %v", got)
	}
}

func TestAskRoundTrips(t *testing.T) {
	rt := newTestRuntime()
	a := rt.Spawn("echo", &echoActor{}, Spec{})
	bootAndRun(t, rt, a)

	result, err := rt.Ask(addr.Address{}, a, 42, time.Second)
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if result != 42 {
		t.Fatalf("expected echoed 42, got %v", result)
	}
}

func TestAskTimesOutWhenNoReply(t *testing.T) {
	rt := newTestRuntime()
	// a mute actor never replies to AskRequest
	a := rt.Spawn("mute", &muteActor{}, Spec{})
	bootAndRun(t, rt, a)

	_, err := rt.Ask(addr.Address{}, a, "?", 20*time.Millisecond)
	if err == nil {
		t.Fatalf("expected timeout error")
	}
}

type muteActor struct{}

func (muteActor) Initialize(ctx *Context) error { return nil }
func (muteActor) Start(ctx *Context) error       { return nil }
func (muteActor) Terminate(ctx *Context) error   { return nil }
func (muteActor) Handle(ctx *Context, msg any)   {}

func TestTerminateRecyclesAddressGeneration(t *testing.T) {
	rt := newTestRuntime()
	a1 := rt.Spawn("once", &muteActor{}, Spec{})
	bootAndRun(t, rt, a1)

	if err := rt.Command(a1, TerminateCmd{Timeout: time.Second}); err != nil {
		t.Fatalf("TerminateCmd: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if _, ok := rt.lookup(a1); !ok {
			break
		}
		time.Sleep(time.Millisecond)
	}
	if _, ok := rt.lookup(a1); ok {
		t.Fatalf("expected a1 to be invalidated after Terminate")
	}

	a2 := rt.Spawn("twice", &muteActor{}, Spec{})
	if a1.Handle.Index != a2.Handle.Index {
		t.Fatalf("expected arena slot reuse, got indices %d and %d", a1.Handle.Index, a2.Handle.Index)
	}
	if a1.Handle.Generation == a2.Handle.Generation {
		t.Fatalf("expected bumped generation on reuse")
	}
	if _, ok := rt.lookup(a1); ok {
		t.Fatalf("stale address a1 must not resolve after slot reuse")
	}
}

type failingInitActor struct{ muteActor }

func (failingInitActor) Initialize(ctx *Context) error { panic("boom") }

type capturingFailureNotifier struct {
	mu   sync.Mutex
	fail []addr.Address
}

func (c *capturingFailureNotifier) NotifyFailed(a addr.Address, reason error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fail = append(c.fail, a)
}

func TestPanicDuringInitializeFailsActor(t *testing.T) {
	rt := newTestRuntime()
	fn := &capturingFailureNotifier{}
	rt.SetFailureNotifier(fn)

	a := rt.Spawn("boom", &failingInitActor{}, Spec{})
	if err := rt.Command(a, InitializeCmd{Timeout: time.Second}); err != nil {
		t.Fatalf("InitializeCmd: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		fn.mu.Lock()
		n := len(fn.fail)
		fn.mu.Unlock()
		if n > 0 {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("expected failure notifier to observe the panic")
}

func TestPauseBufferHoldsMessagesUntilResume(t *testing.T) {
	rt := newTestRuntime()
	actor := &echoActor{}
	a := rt.Spawn("echo", actor, Spec{}) // PausePolicy zero value is PauseBuffer
	bootAndRun(t, rt, a)

	if err := rt.Command(a, PauseCmd{}); err != nil {
		t.Fatalf("PauseCmd: %v", err)
	}
	waitForPhase(t, rt, a, Paused)

	if err := rt.Tell(addr.Address{}, a, "while-paused"); err != nil {
		t.Fatalf("Tell: %v", err)
	}

	// Give the executor time to dequeue the message; it must not reach
	// Handle while Paused.
	time.Sleep(20 * time.Millisecond)
	if got := actor.seen(); len(got) != 0 {
		t.Fatalf("expected no delivery while paused, got %v", got)
	}

	if err := rt.Command(a, ResumeCmd{}); err != nil {
		t.Fatalf("ResumeCmd: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && len(actor.seen()) == 0 {
		time.Sleep(time.Millisecond)
	}
	got := actor.seen()
	if len(got) != 1 || got[0] != "while-paused" {
		t.Fatalf("expected buffered message delivered on resume, got %v", got)
	}
}

func TestPauseDropDiscardsMessages(t *testing.T) {
	rt := newTestRuntime()
	actor := &echoActor{}
	a := rt.Spawn("echo", actor, Spec{PausePolicy: PauseDrop})
	bootAndRun(t, rt, a)

	if err := rt.Command(a, PauseCmd{}); err != nil {
		t.Fatalf("PauseCmd: %v", err)
	}
	waitForPhase(t, rt, a, Paused)

	if err := rt.Tell(addr.Address{}, a, "dropped"); err != nil {
		t.Fatalf("Tell: %v", err)
	}
	if err := rt.Command(a, ResumeCmd{}); err != nil {
		t.Fatalf("ResumeCmd: %v", err)
	}

	time.Sleep(20 * time.Millisecond)
	if got := actor.seen(); len(got) != 0 {
		t.Fatalf("expected PauseDrop to discard the message, got %v", got)
	}
}

func waitForPhase(t *testing.T, rt *Runtime, a addr.Address, want Phase) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		var got Phase
		func() {
			rt.mu.Lock()
			defer rt.mu.Unlock()
			c, ok := rt.cells[a.Handle.Index]
			if ok {
				got = c.getPhase()
			}
		}()
		if got == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("actor %s never reached phase %v", a, want)
}
