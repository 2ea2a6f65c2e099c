// SPDX-FileCopyrightText: © 2023 Siemens AG
// SPDX-License-Identifier: MIT

package actorrt

import (
	"time"

	"github.com/race-rt/race/addr"
)

// EnvelopeKind classifies an Envelope for the executor's dispatch switch. The
// Actor.Handle method itself only ever sees the Msg payload, polymorphic over
// system-message variants, bus.Event, and user messages (spec §4.1).
type EnvelopeKind int

const (
	EnvSystem EnvelopeKind = iota
	EnvBusEvent
	EnvUser
	EnvScheduled
)

// Envelope is the unit of mailbox transport.
type Envelope struct {
	Kind   EnvelopeKind
	Msg    any
	Sender addr.Address
}

// System message variants (spec §3 "System messages").

type InitializeCmd struct {
	Timeout time.Duration
}

type StartCmd struct {
	Base    time.Time
	Timeout time.Duration
}

type PauseCmd struct{}

type ResumeCmd struct{}

type TerminateCmd struct {
	Timeout time.Duration
	Forced  bool
}

type TerminatedAck struct{}

type ActorFailed struct {
	Address addr.Address
	Reason  error
}

type Ping struct{ From addr.Address }

type ClockSyncCmd struct {
	Base  time.Time
	Scale float64
}

// AskRequest is delivered to the target actor's Handle when another actor
// (or the runtime, on behalf of an external caller) issues ask(...). The
// handling actor replies via Context.Reply.
type AskRequest struct {
	ID     string
	From   addr.Address
	Msg    any
}

// AskReply carries the result of a prior AskRequest back to the requester.
type AskReply struct {
	ID     string
	Result any
	Err    error
}
