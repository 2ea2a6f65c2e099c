// SPDX-FileCopyrightText: © 2023 Siemens AG
// SPDX-License-Identifier: MIT

package actorrt

import (
	"fmt"
	"time"

	"github.com/race-rt/race/raceerr"
)

// runExecutor is the per-actor goroutine: it dequeues envelopes and drives
// both the phase state machine and ordinary message dispatch (spec §4.1).
// Exactly one goroutine ever touches a given actor instance, so Actor
// implementations need no internal locking.
func (rt *Runtime) runExecutor(c *cell) {
	ctx := &Context{cell: c, rt: rt}
	defer close(c.done)

	for {
		env, ok := c.mailbox.Dequeue()
		if !ok {
			return // mailbox closed: Terminated already reached
		}

		if env.Kind == EnvSystem {
			terminal := rt.dispatchSystem(ctx, c, env.Msg)
			if terminal {
				return
			}
			continue
		}

		rt.dispatchUser(ctx, c, env)
	}
}

// dispatchSystem advances the phase machine for one system command. Returns
// true once the cell has reached Terminated and its executor should exit.
func (rt *Runtime) dispatchSystem(ctx *Context, c *cell, msg any) bool {
	switch m := msg.(type) {
	case InitializeCmd:
		timeout := m.Timeout
		if c.spec.InitTimeout > 0 {
			timeout = time.Duration(c.spec.InitTimeout)
		}
		rt.runPhase(ctx, c, Initializing, Initialized, timeout, raceerr.KindInitialization,
			c.actor.Initialize,
			func() {
				if rt.phaseListener != nil {
					rt.phaseListener.OnInitialized(c.address, nil)
				}
			},
			func(err error) {
				if rt.phaseListener != nil {
					rt.phaseListener.OnInitializeFailed(c.address, err)
				}
			},
		)
		return false

	case StartCmd:
		timeout := m.Timeout
		if c.spec.StartTimeout > 0 {
			timeout = time.Duration(c.spec.StartTimeout)
		}
		rt.runPhase(ctx, c, Starting, Running, timeout, raceerr.KindStart,
			c.actor.Start,
			func() {
				if rt.phaseListener != nil {
					rt.phaseListener.OnStarted(c.address)
				}
			},
			func(err error) {
				if rt.phaseListener != nil {
					rt.phaseListener.OnStartFailed(c.address, err)
				}
			},
		)
		return false

	case PauseCmd:
		if c.transition(Paused) {
			c.log.Printf("paused")
		}
		return false

	case ResumeCmd:
		if c.transition(Running) {
			c.log.Printf("resumed")
			rt.drainPausedQueue(ctx, c)
		}
		return false

	case TerminateCmd:
		timeout := m.Timeout
		if c.spec.TerminateTimeout > 0 {
			timeout = time.Duration(c.spec.TerminateTimeout)
		}
		rt.terminate(ctx, c, timeout)
		return true

	default:
		c.log.Printf("unrecognized system message %T", m)
		return false
	}
}

// runPhase executes a blocking lifecycle step (Initialize or Start) with a
// timeout, translating panics and deadline overruns into the phase's failure
// variant (spec §7: handler_exception, timeout).
func (rt *Runtime) runPhase(ctx *Context, c *cell, during, onSuccess Phase, timeout time.Duration,
	errKind raceerr.Kind, step func(*Context) error, notifyOK func(), notifyFail func(error)) {

	if !c.transition(during) {
		return
	}
	if timeout <= 0 {
		timeout = DefaultPhaseTimeout
	}

	result := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				result <- fmt.Errorf("panic: %v", r)
			}
		}()
		result <- step(ctx)
	}()

	var err error
	select {
	case err = <-result:
	case <-time.After(timeout):
		err = raceerr.Wrap(errKind, c.address.String(), raceerr.ErrTimeout)
	}

	if err != nil {
		if !raceerr.Is(err, errKind) {
			err = raceerr.Wrap(errKind, c.address.String(), err)
		}
		c.transition(Failed)
		c.scope.Unwind()
		notifyFail(err)
		if rt.failureNotifier != nil {
			rt.failureNotifier.NotifyFailed(c.address, err)
		}
		return
	}

	c.transition(onSuccess)
	notifyOK()
}

// terminate runs Actor.Terminate (best-effort, bounded by timeout) and
// unwinds the resource scope regardless of outcome (spec §5).
func (rt *Runtime) terminate(ctx *Context, c *cell, timeout time.Duration) {
	c.transition(Terminating)
	if timeout <= 0 {
		timeout = DefaultPhaseTimeout
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		defer func() {
			if r := recover(); r != nil {
				c.log.Errorf("panic during terminate: %v", r)
			}
		}()
		if err := c.actor.Terminate(ctx); err != nil {
			c.log.Errorf("terminate returned error: %v", err)
		}
	}()

	select {
	case <-done:
	case <-time.After(timeout):
		c.log.Warnf("terminate exceeded timeout, proceeding with teardown")
	}

	c.scope.Unwind()
	rt.bus.UnsubscribeAll(c.mailbox)
	c.transition(Terminated)
	c.mailbox.Close()
	if rt.phaseListener != nil {
		rt.phaseListener.OnTerminated(c.address)
	}
	rt.recycle(c.address.Handle.Index)
}

// dispatchUser routes bus events, user sends, and scheduled self-messages to
// Actor.Handle, recovering panics as HandlerException failures and escalating
// once the cell's failure budget is exhausted (spec §4.3, §7).
func (rt *Runtime) dispatchUser(ctx *Context, c *cell, env Envelope) {
	phase := c.getPhase()
	if phase != Running && phase != Paused {
		return // actor not accepting user traffic in this phase
	}

	if phase == Paused {
		if c.spec.PausePolicy == PauseDrop {
			return
		}
		// PauseBuffer (default): hold for delivery on Resume (spec §4.3).
		c.pausedQueue = append(c.pausedQueue, env)
		return
	}

	rt.deliverUser(ctx, c, env)
}

// drainPausedQueue delivers every envelope buffered while Paused, in
// arrival order, stopping early if a handler failure moves the cell out of
// Running (e.g. into Failed) partway through.
func (rt *Runtime) drainPausedQueue(ctx *Context, c *cell) {
	queued := c.pausedQueue
	c.pausedQueue = nil
	for _, env := range queued {
		if c.getPhase() != Running {
			return
		}
		rt.deliverUser(ctx, c, env)
	}
}

// deliverUser invokes Actor.Handle for one envelope and applies the
// failure-threshold escalation policy (spec §7).
func (rt *Runtime) deliverUser(ctx *Context, c *cell, env Envelope) {
	err := rt.invokeHandle(ctx, c, env.Msg)
	if err == nil {
		c.failureCount = 0
		return
	}

	c.failureCount++
	threshold := c.spec.FailureThreshold
	if threshold <= 0 {
		threshold = DefaultFailureThreshold
	}
	c.log.Errorf("handler error (%d/%d): %v", c.failureCount, threshold, err)

	if c.failureCount < threshold {
		return
	}

	c.transition(Failed)
	c.scope.Unwind()
	if rt.failureNotifier != nil {
		rt.failureNotifier.NotifyFailed(c.address, err)
	}
}

func (rt *Runtime) invokeHandle(ctx *Context, c *cell, msg any) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = raceerr.Wrap(raceerr.KindHandlerException, c.address.String(), fmt.Errorf("panic: %v", r))
		}
	}()
	c.log.Printf("handle %T", msg)
	c.actor.Handle(ctx, msg)
	return nil
}
