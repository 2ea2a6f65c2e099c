// SPDX-FileCopyrightText: © 2023 Siemens AG
// SPDX-License-Identifier: MIT

// Package actorrt implements the RACE actor runtime (spec §4.1): mailboxes,
// the per-actor phase lifecycle, untyped message dispatch, and the
// tell/ask/schedule operations exposed to actor authors.
package actorrt

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/race-rt/race/addr"
	"github.com/race-rt/race/bus"
	"github.com/race-rt/race/clock"
	"github.com/race-rt/race/clog"
	"github.com/race-rt/race/raceerr"
)

// Default phase and ask timeouts (spec §5: "Phase timeouts ... default 5
// seconds ... ask timeouts default to 2 seconds").
const (
	DefaultPhaseTimeout    = 5 * time.Second
	DefaultAskTimeout      = 2 * time.Second
	DefaultFailureThreshold = 5
)

// RemoteSender delivers a message to an actor hosted on another node
// (spec §4.6). The remote package supplies the implementation; actorrt only
// depends on this narrow interface to avoid a package cycle.
type RemoteSender interface {
	SendRemote(from, to addr.Address, msg any) error
}

// FailureNotifier is notified when an actor transitions to Failed (spec
// §4.3 "The master receives ActorFailed(address, reason) notifications").
type FailureNotifier interface {
	NotifyFailed(a addr.Address, reason error)
}

// PhaseListener is notified of phase-command outcomes, letting the Master
// controller fan in per-actor acks during Initialize/Start/Terminate (spec
// §4.3). All methods must return quickly; they run on the actor's own
// executor goroutine.
type PhaseListener interface {
	OnInitialized(a addr.Address, caps []string)
	OnInitializeFailed(a addr.Address, reason error)
	OnStarted(a addr.Address)
	OnStartFailed(a addr.Address, reason error)
	OnTerminated(a addr.Address)
}

// Runtime is the local arena owning every actor hosted on this node (Design
// Notes, "arena + integer handles").
type Runtime struct {
	nodeID    string
	bus       *bus.Bus
	clock     *clock.Clock
	scheduler *clock.Scheduler
	log       *clog.CLogger

	mu          sync.Mutex
	cells       map[int]*cell
	freeIndices []int
	nextIndex   int
	generation  map[int]uint64
	byName      map[string]addr.Address

	remoteSender    RemoteSender
	failureNotifier FailureNotifier
	phaseListener   PhaseListener

	pendingMu sync.Mutex
	pending   map[string]chan AskReply
}

// NewRuntime creates a Runtime bound to the given node id, bus, clock, and
// scheduler.
func NewRuntime(nodeID string, b *bus.Bus, clk *clock.Clock, sched *clock.Scheduler) *Runtime {
	return &Runtime{
		nodeID:     nodeID,
		bus:        b,
		clock:      clk,
		scheduler:  sched,
		log:        clog.New("runtime %s ", nodeID),
		cells:      make(map[int]*cell),
		generation: make(map[int]uint64),
		byName:     make(map[string]addr.Address),
		pending:    make(map[string]chan AskReply),
	}
}

// SetRemoteSender wires the remote-federation transport (spec §4.6).
func (rt *Runtime) SetRemoteSender(rs RemoteSender) { rt.remoteSender = rs }

// SetFailureNotifier wires the Master's supervision hook (spec §4.3).
func (rt *Runtime) SetFailureNotifier(fn FailureNotifier) { rt.failureNotifier = fn }

// SetPhaseListener wires the Master's per-actor phase-ack fan-in (spec §4.3).
func (rt *Runtime) SetPhaseListener(pl PhaseListener) { rt.phaseListener = pl }

// Bus returns the underlying local bus.
func (rt *Runtime) Bus() *bus.Bus { return rt.bus }

// Spawn allocates an arena slot for actor and starts its executor goroutine.
// The returned address is valid until the actor reaches Terminated, at which
// point its arena slot is recycled with a bumped generation counter.
func (rt *Runtime) Spawn(name string, actor Actor, spec Spec) addr.Address {
	rt.mu.Lock()

	var idx int
	if n := len(rt.freeIndices); n > 0 {
		idx = rt.freeIndices[n-1]
		rt.freeIndices = rt.freeIndices[:n-1]
	} else {
		idx = rt.nextIndex
		rt.nextIndex++
	}
	rt.generation[idx]++
	gen := rt.generation[idx]

	address := addr.LocalAddr(name, addr.Handle{Index: idx, Generation: gen})

	c := &cell{
		address: address,
		name:    name,
		actor:   actor,
		spec:    spec,
		scope:   &Scope{},
		log:     clog.New("actor %s ", name),
		phase:   Created,
		done:    make(chan struct{}),
	}
	c.mailbox = NewMailbox(address, spec.MailboxCapacity, spec.Overflow)
	rt.cells[idx] = c
	rt.byName[name] = address
	rt.mu.Unlock()

	for _, pattern := range spec.ReadFrom {
		rt.bus.Subscribe(pattern, c.mailbox)
	}

	go rt.runExecutor(c)
	return address
}

func (rt *Runtime) lookup(a addr.Address) (*cell, bool) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	c, ok := rt.cells[a.Handle.Index]
	if !ok || rt.generation[a.Handle.Index] != a.Handle.Generation {
		return nil, false
	}
	return c, true
}

// ResolveLocal translates a symbolic actor name into its current local
// address, used by the remote package to turn a wire message's name-only
// address into a handle valid in this node's arena (spec §4.6: arena
// handles never cross the wire, only names do).
func (rt *Runtime) ResolveLocal(name string) (addr.Address, bool) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	a, ok := rt.byName[name]
	return a, ok
}

// recycle frees idx's arena slot so a later Spawn reuses it under a new
// generation, invalidating any address still referencing the old one.
func (rt *Runtime) recycle(idx int) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if c, ok := rt.cells[idx]; ok && rt.byName[c.name] == c.address {
		delete(rt.byName, c.name)
	}
	delete(rt.cells, idx)
	rt.freeIndices = append(rt.freeIndices, idx)
}

// Command sends a lifecycle system command into actor's mailbox.
func (rt *Runtime) Command(a addr.Address, cmd any) error {
	c, ok := rt.lookup(a)
	if !ok {
		return raceerr.Wrap(raceerr.KindHandlerException, a.String(), raceerr.ErrCancelled)
	}
	return c.mailbox.Offer(Envelope{Kind: EnvSystem, Msg: cmd})
}

// tell implements point-to-point send (spec §4.1).
func (rt *Runtime) tell(from, to addr.Address, msg any) error {
	if !to.IsLocal() {
		if rt.remoteSender == nil {
			return raceerr.Wrap(raceerr.KindRemoteUnreachable, to.String(), raceerr.ErrRemoteUnreachable)
		}
		if err := rt.remoteSender.SendRemote(from, to, msg); err != nil {
			return raceerr.Wrap(raceerr.KindRemoteUnreachable, to.String(), err)
		}
		return nil
	}
	c, ok := rt.lookup(to)
	if !ok {
		return raceerr.Wrap(raceerr.KindRemoteUnreachable, to.String(), raceerr.ErrCancelled)
	}
	return c.mailbox.Offer(Envelope{Kind: EnvUser, Msg: msg, Sender: from})
}

// Tell is the externally-callable form of tell, used by the Master and by
// remote delivery to post into a local actor's mailbox.
func (rt *Runtime) Tell(from, to addr.Address, msg any) error {
	return rt.tell(from, to, msg)
}

// ask implements request/reply (spec §4.1). timeout is wall-clock (spec §5).
func (rt *Runtime) ask(from, to addr.Address, msg any, timeout time.Duration) (any, error) {
	if timeout <= 0 {
		timeout = DefaultAskTimeout
	}
	id := uuid.NewString()
	ch := make(chan AskReply, 1)

	rt.pendingMu.Lock()
	rt.pending[id] = ch
	rt.pendingMu.Unlock()

	defer func() {
		rt.pendingMu.Lock()
		delete(rt.pending, id)
		rt.pendingMu.Unlock()
	}()

	if err := rt.tell(from, to, AskRequest{ID: id, From: from, Msg: msg}); err != nil {
		return nil, err
	}

	select {
	case reply := <-ch:
		return reply.Result, reply.Err
	case <-time.After(timeout):
		return nil, raceerr.Wrap(raceerr.KindTimeout, to.String(), raceerr.ErrTimeout)
	}
}

// Ask is the externally-callable form of ask.
func (rt *Runtime) Ask(from, to addr.Address, msg any, timeout time.Duration) (any, error) {
	return rt.ask(from, to, msg, timeout)
}

// reply fulfills a pending ask. If the requester's correlation id is not
// known locally, the requester must be remote: route the reply back over
// the wire as an ordinary tell (spec §4.6).
func (rt *Runtime) reply(req AskRequest, result any, err error) {
	rt.pendingMu.Lock()
	ch, ok := rt.pending[req.ID]
	if ok {
		delete(rt.pending, req.ID)
	}
	rt.pendingMu.Unlock()

	if ok {
		select {
		case ch <- AskReply{ID: req.ID, Result: result, Err: err}:
		default:
		}
		return
	}

	if !req.From.IsLocal() {
		_ = rt.tell(addr.Address{}, req.From, AskReply{ID: req.ID, Result: result, Err: err})
	}
}

// DeliverRemoteAskReply routes an AskReply that arrived over the wire to the
// matching local pending ask, used by the remote package.
func (rt *Runtime) DeliverRemoteAskReply(reply AskReply) bool {
	rt.pendingMu.Lock()
	ch, ok := rt.pending[reply.ID]
	if ok {
		delete(rt.pending, reply.ID)
	}
	rt.pendingMu.Unlock()
	if ok {
		select {
		case ch <- reply:
		default:
		}
	}
	return ok
}

func (rt *Runtime) deliverScheduled(to addr.Address, msg any) {
	c, ok := rt.lookup(to)
	if !ok {
		return
	}
	_ = c.mailbox.Offer(Envelope{Kind: EnvScheduled, Msg: msg, Sender: to})
}

// Metrics is a snapshot of one actor's runtime counters (spec §7 "Master
// maintains ... messages_received, messages_dropped, failures").
type Metrics struct {
	Name             string
	Phase            Phase
	MessagesReceived int64
	MessagesDropped  int64
	Failures         int
}

// AllMetrics returns a snapshot for every currently-hosted actor.
func (rt *Runtime) AllMetrics() []Metrics {
	rt.mu.Lock()
	cells := make([]*cell, 0, len(rt.cells))
	for _, c := range rt.cells {
		cells = append(cells, c)
	}
	rt.mu.Unlock()

	out := make([]Metrics, 0, len(cells))
	for _, c := range cells {
		received, dropped := c.mailbox.Stats()
		out = append(out, Metrics{
			Name:             c.name,
			Phase:            c.getPhase(),
			MessagesReceived: received,
			MessagesDropped:  dropped,
			Failures:         c.failureCount,
		})
	}
	return out
}
