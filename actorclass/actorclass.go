// SPDX-FileCopyrightText: © 2023 Siemens AG
// SPDX-License-Identifier: MIT

// Package actorclass is the process-wide lookup table from a universe
// config's "class" string (spec §6 "actor spec") to the factory that builds
// one instance of that actor. Concrete actor implementations register
// themselves here via a blank import's init(), the same named-lookup shape
// as the computation registry in package registry.
package actorclass

import (
	"slices"

	"github.com/race-rt/race/actorrt"
)

// Factory builds one actor instance, given its config-supplied params
// (spec §6 actor spec's free-form per-class keys).
type Factory func(params map[string]string) (actorrt.Actor, error)

var byClass = make(map[string]Factory)

// Register makes class available to Lookup. Called from an actor
// implementation package's init().
func Register(class string, f Factory) {
	byClass[class] = f
}

// Lookup returns the factory registered for class, if any.
func Lookup(class string) (Factory, bool) {
	f, ok := byClass[class]
	return f, ok
}

// Names returns every registered class name in ascending order, for --check
// diagnostics and usage text.
func Names() []string {
	out := make([]string, 0, len(byClass))
	for k := range byClass {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}
