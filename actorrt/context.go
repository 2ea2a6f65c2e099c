// SPDX-FileCopyrightText: © 2023 Siemens AG
// SPDX-License-Identifier: MIT

package actorrt

import (
	"time"

	"github.com/race-rt/race/addr"
	"github.com/race-rt/race/bus"
	"github.com/race-rt/race/clock"
	"github.com/race-rt/race/clog"
)

// Actor is the contract a race actor author implements (spec §4.1). The
// only way to mutate an actor's state is through Handle (spec §3 invariant).
type Actor interface {
	// Initialize performs blocking setup bounded by the actor's
	// init-timeout; return a non-nil error to fail initialization.
	Initialize(ctx *Context) error

	// Start performs blocking startup bounded by the actor's start-timeout.
	Start(ctx *Context) error

	// Handle processes one message. msg is polymorphic over system-message
	// variants, bus.Event, and user messages; an unrecognized variant
	// should simply be ignored (it will be logged at debug by the runtime
	// regardless).
	Handle(ctx *Context, msg any)

	// Terminate releases actor-owned state. Called whenever the actor
	// processes a Terminate command, whatever its phase, including Failed;
	// the Master's Initialize rollback sends Terminate only to actors whose
	// Initialize succeeded. The runtime unwinds the actor's Scope after
	// Terminate, and also as soon as Initialize, Start, or the failure
	// budget fails.
	Terminate(ctx *Context) error
}

// Context is the per-actor handle passed to every Actor method, exposing the
// operations of spec §4.1.
type Context struct {
	cell *cell
	rt   *Runtime
}

// Address returns this actor's own address.
func (c *Context) Address() addr.Address { return c.cell.address }

// Phase returns the actor's current lifecycle phase.
func (c *Context) Phase() Phase { return c.cell.getPhase() }

// Logger returns a logger scoped to this actor.
func (c *Context) Logger() *clog.CLogger { return c.cell.log }

// Clock returns the shared logical clock.
func (c *Context) Clock() *clock.Clock { return c.rt.clock }

// Bus returns the local bus, for actors that need to build auxiliary
// protocol state directly on top of it (e.g. a topic.Negotiator).
func (c *Context) Bus() *bus.Bus { return c.rt.bus }

// Scope returns the resource-acquisition scope for Initialize/Terminate
// bracketing (spec §5).
func (c *Context) Scope() *Scope { return c.cell.scope }

// WriteTo returns the channels this actor's config declared via "write-to"
// (spec §6 "conventional key consumed by the core"), so actor code can
// publish results to a config-declared destination rather than a channel
// name hardcoded into the actor implementation.
func (c *Context) WriteTo() []string { return c.cell.spec.WriteTo }

// Subscribe registers interest in channel_pattern (spec §4.1). Idempotent.
func (c *Context) Subscribe(channelPattern string) {
	c.rt.bus.Subscribe(channelPattern, c.cell.mailbox)
}

// Unsubscribe removes interest in channel_pattern. Messages already enqueued
// are not removed (spec §4.1).
func (c *Context) Unsubscribe(channelPattern string) {
	c.rt.bus.Unsubscribe(channelPattern, c.cell.mailbox)
}

// Publish posts payload to channel, returning after enqueue to all matched
// mailboxes (spec §4.1, §4.2).
func (c *Context) Publish(channel string, payload any) {
	c.rt.bus.Publish(channel, payload, c.cell.address)
}

// Tell sends msg to other without waiting for a reply (spec §4.1).
func (c *Context) Tell(to addr.Address, msg any) error {
	return c.rt.tell(c.cell.address, to, msg)
}

// Ask sends msg to other and blocks for a reply, failing with
// raceerr.ErrTimeout if none arrives within timeout (spec §4.1).
func (c *Context) Ask(to addr.Address, msg any, timeout time.Duration) (any, error) {
	return c.rt.ask(c.cell.address, to, msg, timeout)
}

// Reply answers a received AskRequest. Only meaningful when msg passed to
// Handle was an AskRequest.
func (c *Context) Reply(req AskRequest, result any, err error) {
	c.rt.reply(req, result, err)
}

// ScheduleAfter arranges self-delivery of msg after d of sim-time (spec
// §4.1). For two scheduled messages with the same due time, the earlier
// ScheduleAfter/ScheduleAt call wins (spec §4.1).
func (c *Context) ScheduleAfter(d time.Duration, msg any) clock.Token {
	addr := c.cell.address
	return c.rt.scheduler.ScheduleAfter(d, func() {
		c.rt.deliverScheduled(addr, msg)
	})
}

// ScheduleAt arranges self-delivery of msg at the given sim-instant.
func (c *Context) ScheduleAt(t time.Time, msg any) clock.Token {
	addr := c.cell.address
	return c.rt.scheduler.ScheduleAt(t, func() {
		c.rt.deliverScheduled(addr, msg)
	})
}

// CancelSchedule cancels a pending scheduled message (best-effort, spec §5).
func (c *Context) CancelSchedule(tok clock.Token) {
	c.rt.scheduler.Cancel(tok)
}
