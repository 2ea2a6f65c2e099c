// SPDX-FileCopyrightText: © 2023 Siemens AG
// SPDX-License-Identifier: MIT

package pi

import (
	"bytes"
	"testing"

	cmpt "github.com/race-rt/race/computation"
	"github.com/race-rt/race/raceerr"
)

func TestEncodeDecodeDataRoundTrips(t *testing.T) {
	c := &PiComputation{}
	want := PiComputeData{K: 3, Prec: 64}

	encoded, err := c.encodeData(want)
	if err != nil {
		t.Fatalf("encodeData: %v", err)
	}
	got, err := c.decodeData(encoded)
	if err != nil {
		t.Fatalf("decodeData: %v", err)
	}
	if got.K != want.K || got.Prec != want.Prec {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, want)
	}
}

func TestDecodeDataWrapsSerializationError(t *testing.T) {
	c := &PiComputation{}
	_, err := c.decodeData(bytes.Repeat([]byte{0xff}, 8))
	if err == nil {
		t.Fatalf("expected decodeData to reject garbage input")
	}
	if !raceerr.Is(err, raceerr.KindSerialization) {
		t.Fatalf("expected a KindSerialization error, got %v", err)
	}
}

func TestPartitionRejectsInvalidDigitCount(t *testing.T) {
	c := &PiComputation{}
	if _, err := c.Partition(cmpt.ComputeRequest{Args: []string{"0"}}); err == nil {
		t.Fatalf("expected Partition to reject a zero digit count")
	}
}
