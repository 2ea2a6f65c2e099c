// SPDX-FileCopyrightText: © 2023 Siemens AG
// SPDX-License-Identifier: MIT

// Package fac is a registry.Registry entry that computes n! of a given
// non-negative integer, split one multiplicand per partial computation —
// the simplest possible stand-in for exercising a pcompute coordinator's
// dispatch loop and a worker's PartialCompute path end to end.
package fac

import (
	"fmt"
	"math/big"
	"strconv"
	"time"

	cmpt "github.com/race-rt/race/computation"
)

// FacComputation computes n! by partitioning into one partial input per
// multiplicand from 2 to n and accumulating their product; each partial
// computation is the identity function, so the actual multiplication work
// happens on the coordinator side in Accumulate rather than on a worker.
type FacComputation struct {
	request cmpt.ComputeRequest // only available in Partition, Accumulate, Finalize
	result  *big.Int            // only available in Partition, Accumulate, Finalize
}

func (c *FacComputation) Name() string {
	return "fac"
}

func (c *FacComputation) Description() string {
	return "computes factorial of a given non-negative integer (for demonstration and testing purposes)"
}

func (c *FacComputation) Partition(request cmpt.ComputeRequest) (input <-chan cmpt.BinaryData, err error) {
	if len(request.Args) != 1 {
		return nil, fmt.Errorf("one integer argument required")
	}
	n, err := strconv.ParseUint(request.Args[0], 10, 0)
	if err != nil {
		return nil, fmt.Errorf("one non-negative integer argument required")
	}

	c.request = request
	c.result = big.NewInt(1)

	in := make(chan cmpt.BinaryData, 1)

	go func() {
		defer close(in)
		for i := uint64(2); i <= n; i++ {
			// Transmit input in UTF-8 encoded binary serialization format.
			in <- []byte(strconv.FormatUint(i, 10))
		}
	}()

	return in, nil
}

func (c *FacComputation) PartialCompute(input cmpt.BinaryData) (output cmpt.BinaryData) {
	time.Sleep(1 * time.Second) // use constant delay for demonstration purposes
	return input                // identity function
}

func (c *FacComputation) PartialComputeTimeout() time.Duration {
	return 5 * time.Second
}

func (c *FacComputation) Accumulate(output cmpt.BinaryData) {
	if n, err := strconv.ParseUint(string(output), 10, 0); err != nil {
		fmt.Fprintf(c.request.OutputWriter, "Skipping undecodable output: %v\n", err)
	} else {
		c.result.Mul(c.result, big.NewInt(int64(n)))
	}
}

func (c *FacComputation) Finalize(start time.Time) {
	fmt.Fprintf(c.request.OutputWriter, "Computation time: %v\n", time.Since(start))
	fmt.Fprintf(c.request.OutputWriter, "Computation %s%v = %v\n", c.request.Name, c.request.Args, c.result)
}
