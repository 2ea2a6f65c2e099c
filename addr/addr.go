// SPDX-FileCopyrightText: © 2023 Siemens AG
// SPDX-License-Identifier: MIT

// Package addr defines actor addressing for RACE: a tagged union of local
// arena handles and remote (node, name) references (spec §9 Design Notes,
// "Remote references and object identity").
package addr

import "fmt"

// Kind distinguishes a Local arena-indexed address from a Remote
// node-qualified one.
type Kind int

const (
	Local Kind = iota
	Remote
)

// Handle is an arena index plus generation counter, invalidated once the
// referenced actor slot is recycled after Terminated (Design Notes, "Cyclic
// references between bus, actors, and master").
type Handle struct {
	Index      int
	Generation uint64
}

// Address identifies an actor, either local to this node (via arena Handle)
// or remote (via node id and symbolic name). Local sends bypass
// serialization; remote sends go through the codec registry (Design Notes).
type Address struct {
	Kind   Kind
	Handle Handle // valid iff Kind == Local
	NodeID string // valid iff Kind == Remote
	Name   string // human-readable actor name, valid for both kinds
}

// LocalAddr constructs a local address.
func LocalAddr(name string, h Handle) Address {
	return Address{Kind: Local, Handle: h, Name: name}
}

// RemoteAddr constructs a remote address.
func RemoteAddr(nodeID, name string) Address {
	return Address{Kind: Remote, NodeID: nodeID, Name: name}
}

// IsLocal reports whether a is a local address.
func (a Address) IsLocal() bool { return a.Kind == Local }

// String renders a human-readable identifier, e.g. "worker" (local) or
// "node-2/worker" (remote).
func (a Address) String() string {
	if a.Kind == Remote {
		return fmt.Sprintf("%s/%s", a.NodeID, a.Name)
	}
	return a.Name
}

// Equal reports whether two addresses refer to the same actor identity.
func (a Address) Equal(b Address) bool {
	if a.Kind != b.Kind {
		return false
	}
	if a.Kind == Remote {
		return a.NodeID == b.NodeID && a.Name == b.Name
	}
	return a.Handle == b.Handle
}
