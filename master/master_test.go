// SPDX-FileCopyrightText: © 2023 Siemens AG
// SPDX-License-Identifier: MIT

package master

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/race-rt/race/actorrt"
	"github.com/race-rt/race/bus"
	"github.com/race-rt/race/clock"
)

type okActor struct{}

func (okActor) Initialize(ctx *actorrt.Context) error { return nil }
func (okActor) Start(ctx *actorrt.Context) error       { return nil }
func (okActor) Terminate(ctx *actorrt.Context) error   { return nil }
func (okActor) Handle(ctx *actorrt.Context, msg any)   {}

type failInitActor struct{}

func (failInitActor) Initialize(ctx *actorrt.Context) error { return errBoom }
func (failInitActor) Start(ctx *actorrt.Context) error       { return nil }
func (failInitActor) Terminate(ctx *actorrt.Context) error   { return nil }
func (failInitActor) Handle(ctx *actorrt.Context, msg any)   {}

var errBoom = &boomErr{}

type boomErr struct{}

func (*boomErr) Error() string { return "boom" }

func newTestMaster() (*Master, *actorrt.Runtime) {
	clk := clock.New(time.Unix(0, 0))
	sched := clock.NewScheduler(clk)
	rt := actorrt.NewRuntime("local", bus.New(), clk, sched)
	return New(rt), rt
}

func TestInitializeAllSucceedsForHealthyGraph(t *testing.T) {
	m, _ := newTestMaster()
	m.Register("a", Optional, actorrt.Spec{}, func() actorrt.Actor { return okActor{} })
	m.Register("b", Optional, actorrt.Spec{}, func() actorrt.Actor { return okActor{} })

	if err := m.InitializeAll(context.Background(), time.Second); err != nil {
		t.Fatalf("InitializeAll: %v", err)
	}
}

func TestInitializeAllRollsBackOnFailure(t *testing.T) {
	m, _ := newTestMaster()
	m.Register("good", Optional, actorrt.Spec{}, func() actorrt.Actor { return okActor{} })
	m.Register("bad", Optional, actorrt.Spec{}, func() actorrt.Actor { return failInitActor{} })

	if err := m.InitializeAll(context.Background(), time.Second); err == nil {
		t.Fatalf("expected InitializeAll to fail when one actor's Initialize errors")
	}
}

func TestFullLifecycleStartPauseResumeTerminate(t *testing.T) {
	m, _ := newTestMaster()
	m.Register("a", Critical, actorrt.Spec{}, func() actorrt.Actor { return okActor{} })

	if err := m.InitializeAll(context.Background(), time.Second); err != nil {
		t.Fatalf("InitializeAll: %v", err)
	}
	if err := m.StartAll(context.Background(), time.Unix(0, 0), time.Second); err != nil {
		t.Fatalf("StartAll: %v", err)
	}

	m.PauseAll()
	m.ResumeAll()
	m.TerminateAll(time.Second)
}

// orderRecorder is an okActor that appends its own name to a shared,
// mutex-guarded slice when Initialize runs, so tests can assert on the
// order actors were actually initialized in.
type orderRecorder struct {
	name string
	mu   *sync.Mutex
	seen *[]string
}

func (r orderRecorder) Initialize(ctx *actorrt.Context) error {
	r.mu.Lock()
	*r.seen = append(*r.seen, r.name)
	r.mu.Unlock()
	return nil
}
func (orderRecorder) Start(ctx *actorrt.Context) error     { return nil }
func (orderRecorder) Terminate(ctx *actorrt.Context) error { return nil }
func (orderRecorder) Handle(ctx *actorrt.Context, msg any) {}

func TestInitializeAllRespectsDependsOn(t *testing.T) {
	m, _ := newTestMaster()
	var mu sync.Mutex
	var seen []string

	recorder := func(name string) func() actorrt.Actor {
		return func() actorrt.Actor { return orderRecorder{name: name, mu: &mu, seen: &seen} }
	}

	// "consumer" depends on "producer"; registered in reverse order so a
	// plain fan-out (ignoring depends-on) would very likely initialize
	// "consumer" first.
	m.Register("consumer", Optional, actorrt.Spec{}, recorder("consumer"), "producer")
	m.Register("producer", Optional, actorrt.Spec{}, recorder("producer"))

	if err := m.InitializeAll(context.Background(), time.Second); err != nil {
		t.Fatalf("InitializeAll: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 2 || seen[0] != "producer" || seen[1] != "consumer" {
		t.Fatalf("expected producer before consumer, got %v", seen)
	}
}

func TestInitializeAllRejectsDependencyCycle(t *testing.T) {
	m, _ := newTestMaster()
	m.Register("a", Optional, actorrt.Spec{}, func() actorrt.Actor { return okActor{} }, "b")
	m.Register("b", Optional, actorrt.Spec{}, func() actorrt.Actor { return okActor{} }, "a")

	if err := m.InitializeAll(context.Background(), time.Second); err == nil {
		t.Fatalf("expected InitializeAll to reject a dependency cycle")
	}
}

func TestInitializeAllRejectsUnknownDependency(t *testing.T) {
	m, _ := newTestMaster()
	m.Register("a", Optional, actorrt.Spec{}, func() actorrt.Actor { return okActor{} }, "nonexistent")

	if err := m.InitializeAll(context.Background(), time.Second); err == nil {
		t.Fatalf("expected InitializeAll to reject an unknown dependency")
	}
}

type countingClockSyncer struct {
	mu    sync.Mutex
	calls int
}

func (c *countingClockSyncer) SyncSimClock() {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
}

func TestStartAllBroadcastsClockSyncOnSuccess(t *testing.T) {
	m, _ := newTestMaster()
	syncer := &countingClockSyncer{}
	m.SetClockSyncer(syncer)
	m.Register("a", Critical, actorrt.Spec{}, func() actorrt.Actor { return okActor{} })

	if err := m.InitializeAll(context.Background(), time.Second); err != nil {
		t.Fatalf("InitializeAll: %v", err)
	}
	if err := m.StartAll(context.Background(), time.Unix(0, 0), time.Second); err != nil {
		t.Fatalf("StartAll: %v", err)
	}

	syncer.mu.Lock()
	defer syncer.mu.Unlock()
	if syncer.calls != 1 {
		t.Fatalf("expected SyncSimClock to be called once after StartAll, got %d", syncer.calls)
	}
}

func TestNotifyRequiredPeerLostTerminatesGraph(t *testing.T) {
	m, _ := newTestMaster()
	m.Register("a", Critical, actorrt.Spec{}, func() actorrt.Actor { return okActor{} })

	if err := m.InitializeAll(context.Background(), time.Second); err != nil {
		t.Fatalf("InitializeAll: %v", err)
	}
	if err := m.StartAll(context.Background(), time.Unix(0, 0), time.Second); err != nil {
		t.Fatalf("StartAll: %v", err)
	}

	m.NotifyRequiredPeerLost("node-b")

	for _, mt := range m.rt.AllMetrics() {
		if mt.Name == "a" && mt.Phase.String() != "Terminated" {
			t.Fatalf("expected actor to be terminated after required peer loss, got phase %s", mt.Phase.String())
		}
	}
}

func TestMetricsTableIncludesRegisteredActors(t *testing.T) {
	m, _ := newTestMaster()
	m.Register("worker-1", Optional, actorrt.Spec{}, func() actorrt.Actor { return okActor{} })

	table := m.MetricsTable()
	if !strings.Contains(table, "worker-1") {
		t.Fatalf("expected metrics table to list worker-1, got:\n%s", table)
	}
}
