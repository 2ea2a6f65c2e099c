// SPDX-FileCopyrightText: © 2023 Siemens AG
// SPDX-License-Identifier: MIT

package actorrt

import "sync"

// Scope is a stack of resource-release functions (spec §5 "Resource
// acquisition": any resource acquired during Initialize must be released
// during Terminate on all paths, including failed initialization). Actors
// push a release hook immediately after acquiring a resource; the runtime
// guarantees every pushed hook runs exactly once, in reverse acquisition
// order, regardless of which phase the actor exits through.
type Scope struct {
	mu       sync.Mutex
	releases []func()
	unwound  bool
}

// Acquire pushes release onto the scope, to be invoked when the scope is
// unwound.
func (s *Scope) Acquire(release func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.unwound {
		release() // scope already torn down: release immediately, do not leak
		return
	}
	s.releases = append(s.releases, release)
}

// Unwind runs every pushed release function in reverse order. Idempotent.
func (s *Scope) Unwind() {
	s.mu.Lock()
	if s.unwound {
		s.mu.Unlock()
		return
	}
	s.unwound = true
	releases := s.releases
	s.releases = nil
	s.mu.Unlock()

	for i := len(releases) - 1; i >= 0; i-- {
		releases[i]()
	}
}
