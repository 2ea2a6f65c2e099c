// SPDX-FileCopyrightText: © 2023 Siemens AG
// SPDX-License-Identifier: MIT

package fac

import (
	"bytes"
	"testing"
	"time"

	cmpt "github.com/race-rt/race/computation"
)

func TestFacComputationEndToEnd(t *testing.T) {
	c := &FacComputation{}
	var out bytes.Buffer

	input, err := c.Partition(cmpt.ComputeRequest{Name: "fac", Args: []string{"4"}, OutputWriter: &out})
	if err != nil {
		t.Fatalf("Partition: %v", err)
	}

	for in := range input {
		c.Accumulate(c.PartialCompute(in))
	}
	c.Finalize(time.Now())

	if got := c.result.String(); got != "24" {
		t.Fatalf("expected 4! = 24, got %s", got)
	}
}

func TestFacComputationRejectsNonIntegerArgument(t *testing.T) {
	c := &FacComputation{}
	if _, err := c.Partition(cmpt.ComputeRequest{Args: []string{"not-a-number"}}); err == nil {
		t.Fatalf("expected Partition to reject a non-integer argument")
	}
}

func TestFacComputationRejectsWrongArgCount(t *testing.T) {
	c := &FacComputation{}
	if _, err := c.Partition(cmpt.ComputeRequest{Args: []string{"1", "2"}}); err == nil {
		t.Fatalf("expected Partition to reject more than one argument")
	}
}
