// SPDX-FileCopyrightText: © 2023 Siemens AG
// SPDX-License-Identifier: MIT

package actorrt

import (
	"sync"

	"github.com/race-rt/race/addr"
	"github.com/race-rt/race/clog"
)

// Spec configures one actor instance (spec §6 "actor spec": timeouts,
// mailbox policy, failure budget).
type Spec struct {
	MailboxCapacity  int // 0 = unbounded
	Overflow         OverflowPolicy
	PausePolicy      PausePolicy
	InitTimeout      int64 // nanoseconds; > 0 overrides the command's timeout, 0 = use the command's (DefaultPhaseTimeout if that is 0 too)
	StartTimeout     int64 // same rule as InitTimeout, for Start
	TerminateTimeout int64 // same rule as InitTimeout, for Terminate
	FailureThreshold int   // consecutive HandlerExceptions before escalation; 0 = DefaultFailureThreshold
	Optional         bool

	// ReadFrom lists the channel patterns this actor is subscribed to as
	// soon as it is spawned (spec §6 "read-from ... conventional key
	// consumed by the core"): the launcher binds these, actor code never
	// has to call Context.Subscribe for its own config-declared inputs.
	ReadFrom []string

	// WriteTo lists the channels an actor's config declares as its output
	// (spec §6 "write-to ... conventional key consumed by the core").
	// Unlike ReadFrom this has no side effect at spawn time — there is
	// nothing for the runtime to subscribe — but it is surfaced through
	// Context.WriteTo so actor code publishes to a config-declared
	// destination instead of hardcoding a channel name.
	WriteTo []string
}

// cell is one arena slot: an actor instance plus its runtime-owned state.
// The bus stores addresses (index+generation), never cell pointers directly
// (Design Notes, "Cyclic references between bus, actors, and master").
type cell struct {
	address addr.Address
	name    string
	actor   Actor
	mailbox *Mailbox
	scope   *Scope
	spec    Spec
	log     *clog.CLogger

	phaseMu sync.Mutex
	phase   Phase

	failureCount int

	// pausedQueue holds user envelopes received while phase == Paused and
	// PausePolicy == PauseBuffer, for delivery in arrival order once the
	// actor transitions back to Running (spec §4.3). Touched only by the
	// cell's own executor goroutine, so it needs no lock of its own.
	pausedQueue []Envelope

	done chan struct{}
}

func (c *cell) getPhase() Phase {
	c.phaseMu.Lock()
	defer c.phaseMu.Unlock()
	return c.phase
}

// transition attempts to move the cell to next, enforcing the phase state
// machine (spec §4.1). Returns false if the transition is not a valid arrow.
func (c *cell) transition(next Phase) bool {
	c.phaseMu.Lock()
	defer c.phaseMu.Unlock()
	if !CanTransition(c.phase, next) {
		return false
	}
	c.phase = next
	return true
}
