// SPDX-FileCopyrightText: © 2023 Siemens AG
// SPDX-License-Identifier: MIT

package actorrt

import (
	"errors"
	"sync"

	"github.com/race-rt/race/addr"
	"github.com/race-rt/race/bus"
	"github.com/race-rt/race/clog"
)

var errMailboxClosed = errors.New("actorrt: mailbox closed")

// OverflowPolicy governs behavior when a bounded mailbox is full (spec §4.1).
type OverflowPolicy int

const (
	// DropNewest rejects the incoming message, keeping the mailbox contents
	// unchanged. This is the default.
	DropNewest OverflowPolicy = iota
	DropOldest
	BlockSender
)

// Mailbox is the FIFO, per-actor message queue (spec §3). Capacity 0 means
// unbounded. Safe for concurrent Offer by many senders (MPSC discipline,
// spec §5); Dequeue is called only by the owning actor's executor goroutine.
type Mailbox struct {
	mu       sync.Mutex
	notEmpty *sync.Cond
	notFull  *sync.Cond
	queue    []Envelope
	capacity int
	policy   OverflowPolicy
	closed   bool

	address addr.Address
	log     *clog.CLogger

	received int64
	dropped  int64
}

// NewMailbox creates a Mailbox for the given owning address.
func NewMailbox(owner addr.Address, capacity int, policy OverflowPolicy) *Mailbox {
	m := &Mailbox{capacity: capacity, policy: policy, address: owner, log: clog.New("mailbox %s ", owner)}
	m.notEmpty = sync.NewCond(&m.mu)
	m.notFull = sync.NewCond(&m.mu)
	return m
}

// Address returns the owning actor's address, satisfying bus.Sink.
func (m *Mailbox) Address() addr.Address { return m.address }

// Deliver adapts a bus.Event into an Envelope, satisfying bus.Sink so a
// Mailbox can be subscribed directly on the Bus.
func (m *Mailbox) Deliver(evt bus.Event) error {
	return m.Offer(Envelope{Kind: EnvBusEvent, Msg: evt})
}

// Offer enqueues env, applying the configured overflow policy if the
// mailbox is bounded and full (spec §4.1, §7 MailboxOverflow).
func (m *Mailbox) Offer(env Envelope) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return errMailboxClosed
	}

	for m.capacity > 0 && len(m.queue) >= m.capacity {
		switch m.policy {
		case DropNewest:
			m.dropped++
			m.log.Warnf("mailbox overflow: dropping newest message (kind=%v)", env.Kind)
			return nil
		case DropOldest:
			m.queue = m.queue[1:]
			m.dropped++
			m.log.Warnf("mailbox overflow: dropping oldest message")
		case BlockSender:
			m.notFull.Wait()
			if m.closed {
				return errMailboxClosed
			}
		}
	}

	m.queue = append(m.queue, env)
	m.received++
	m.notEmpty.Signal()
	return nil
}

// Dequeue blocks until a message is available or the mailbox is closed.
func (m *Mailbox) Dequeue() (Envelope, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for len(m.queue) == 0 {
		if m.closed {
			return Envelope{}, false
		}
		m.notEmpty.Wait()
	}
	env := m.queue[0]
	m.queue = m.queue[1:]
	m.notFull.Signal()
	return env, true
}

// Len returns the current queue depth.
func (m *Mailbox) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}

// Stats returns cumulative received/dropped counters for the Master's
// metrics table (spec §7).
func (m *Mailbox) Stats() (received, dropped int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.received, m.dropped
}

// Close stops further Dequeue calls from blocking; pending messages are
// discarded per spec §4.3 "Master then tears down the bus" on forced stop.
func (m *Mailbox) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.queue = nil
	m.notEmpty.Broadcast()
	m.notFull.Broadcast()
}
