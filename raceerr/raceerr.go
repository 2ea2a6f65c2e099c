// SPDX-FileCopyrightText: © 2023 Siemens AG
// SPDX-License-Identifier: MIT

// Package raceerr defines the error kinds exposed by the RACE core runtime
// (spec §7) and the propagation policy attached to each.
package raceerr

import (
	"errors"
	"fmt"
)

// Kind classifies a runtime error for logging, metrics and propagation
// policy decisions.
type Kind string

const (
	KindConfiguration     Kind = "ConfigurationError"   // startup config parse; fail fast, exit 1
	KindInitialization    Kind = "InitializationFailure" // actor init; Master tears down graph unless optional
	KindStart             Kind = "StartFailure"          // actor start; same policy as InitializationFailure
	KindHandlerException  Kind = "HandlerException"      // in-handler exception; drop message
	KindTimeout           Kind = "Timeout"                // ask / phase / resource
	KindMailboxOverflow   Kind = "MailboxOverflow"        // bus enqueue; apply per-mailbox policy
	KindRemoteUnreachable Kind = "RemoteUnreachable"      // peer disconnect
	KindSerialization     Kind = "SerializationError"     // outgoing wire encode
	KindClockSkew         Kind = "ClockSkew"              // remote clock sync rejected
)

// Error is a RACE runtime error carrying a Kind plus contextual fields for
// structured logging (actor name, channel, node, etc).
type Error struct {
	Kind   Kind
	Actor  string // actor name, if applicable
	Detail string
	Err    error // wrapped cause, if any
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s", e.Kind)
	if e.Actor != "" {
		msg += fmt.Sprintf(" actor=%s", e.Actor)
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += fmt.Sprintf(": %v", e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// New constructs an Error of the given kind with a formatted detail message.
func New(kind Kind, actor string, format string, a ...any) *Error {
	return &Error{Kind: kind, Actor: actor, Detail: fmt.Sprintf(format, a...)}
}

// Wrap constructs an Error of the given kind wrapping an existing cause.
func Wrap(kind Kind, actor string, err error) *Error {
	return &Error{Kind: kind, Actor: actor, Err: err}
}

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// Sentinel errors returned directly by operations (spec §7: "Surface to user
// code for Timeout, RemoteUnreachable, and SerializationError via the
// operation's result").
var (
	ErrTimeout           = errors.New("operation timed out")
	ErrRemoteUnreachable = errors.New("remote node unreachable")
	ErrCancelled         = errors.New("operation cancelled")
)
