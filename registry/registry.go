// SPDX-FileCopyrightText: © 2023 Siemens AG
// SPDX-License-Identifier: MIT

package registry

import (
	"slices"

	cmpt "github.com/race-rt/race/computation"
	"github.com/race-rt/race/registry/fac"
	"github.com/race-rt/race/registry/pi"
	"github.com/race-rt/race/registry/wf"
)

// A Registry is the name-to-Computation lookup table a pcompute coordinator
// consults to validate its configured "computation" param and a pcompute
// worker consults to run a PartialCompute request by name (spec §6 actor
// params, §4.2 ask/reply).
type Registry struct {
	computations map[string]cmpt.Computation
}

// NewRegistry returns a Registry pre-populated with every computation built
// into this binary. Each call builds fresh Computation instances rather than
// sharing process-wide ones, since a Computation carries per-request state
// (cmpt.Computation's Partition/Accumulate/Finalize methods share a
// receiver). No pcompute actor package that would call it is present in
// this repository.
func NewRegistry() *Registry {
	reg := &Registry{make(map[string]cmpt.Computation)}

	reg.Register(&pi.PiComputation{})
	reg.Register(&wf.WordFrequencyComputation{})
	reg.Register(&fac.FacComputation{})

	return reg
}

// Register the given computation.
func (r *Registry) Register(cmp cmpt.Computation) {
	r.computations[cmp.Name()] = cmp
}

// ComputationByName gets the computation of the given name if it has been
// registered; otherwise nil.
func (r *Registry) ComputationByName(name string) cmpt.Computation {
	if v, ok := r.computations[name]; ok {
		return v
	}
	return nil
}

// Names gets a slice of all defined computation names ordered ascendingly.
func (r *Registry) Names() []string {
	names := make([]string, len(r.computations))
	i := 0
	for k := range r.computations {
		names[i] = k
		i++
	}
	slices.Sort(names)
	return names
}
