// SPDX-FileCopyrightText: © 2023 Siemens AG
// SPDX-License-Identifier: MIT

package actorrt

// Phase is an actor's position in the lifecycle state machine (spec §3, §4.1).
type Phase int

const (
	Created Phase = iota
	Initializing
	Initialized
	Starting
	Running
	Paused
	Terminating
	Terminated
	Failed
)

func (p Phase) String() string {
	switch p {
	case Created:
		return "Created"
	case Initializing:
		return "Initializing"
	case Initialized:
		return "Initialized"
	case Starting:
		return "Starting"
	case Running:
		return "Running"
	case Paused:
		return "Paused"
	case Terminating:
		return "Terminating"
	case Terminated:
		return "Terminated"
	case Failed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// validTransitions enumerates exactly the arrows of spec §4.1's phase state
// machine. Any command whose transition is not listed here is rejected.
var validTransitions = map[Phase][]Phase{
	Created:      {Initializing},
	Initializing: {Initialized, Failed},
	Initialized:  {Starting},
	Starting:     {Running, Failed},
	Running:      {Paused, Terminating, Failed},
	Paused:       {Running, Terminating, Failed},
	Terminating:  {Terminated, Failed},
	Terminated:   {},
	Failed:       {},
}

// CanTransition reports whether moving from p to next is one of the exact
// arrows defined by the phase state machine.
func CanTransition(p, next Phase) bool {
	for _, n := range validTransitions[p] {
		if n == next {
			return true
		}
	}
	return false
}

// PausePolicy governs how an actor's mailbox behaves while Paused (spec §4.3
// "each actor may buffer, drop, or ignore incoming messages per its pause
// policy"; the exact default is an Open Question — see DESIGN.md).
type PausePolicy int

const (
	// PauseBuffer holds messages received while Paused and delivers them to
	// Handle, in arrival order, once Resume is issued. This is the default.
	PauseBuffer PausePolicy = iota
	// PauseDrop discards messages that arrive while Paused.
	PauseDrop
)
