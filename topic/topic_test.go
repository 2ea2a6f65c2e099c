// SPDX-FileCopyrightText: © 2023 Siemens AG
// SPDX-License-Identifier: MIT

package topic

import (
	"testing"
	"time"

	"github.com/race-rt/race/addr"
	"github.com/race-rt/race/bus"
)

// nextTestIndex hands each test node its own arena index: local addresses
// compare equal by handle, so two nodes sharing one would be one actor.
var nextTestIndex int

func newNode(name string, b *bus.Bus) *Negotiator {
	nextTestIndex++
	a := addr.LocalAddr(name, addr.Handle{Index: nextTestIndex})
	return NewNegotiator(a, b)
}

func TestConsumerRequestAcceptedByExistingProvider(t *testing.T) {
	b := bus.New()
	provider := newNode("provider", b)
	consumer := newNode("consumer", b)

	provider.Provide("weather")

	bindings, err := consumer.Request("weather", time.Second)
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if len(bindings) != 1 || bindings[0].Topic != "weather" || !bindings[0].Provider.Equal(provider.self) {
		t.Fatalf("unexpected bindings: %+v", bindings)
	}
}

func TestConsumerRequestTimesOutWithNoProvider(t *testing.T) {
	b := bus.New()
	consumer := newNode("consumer", b)

	_, err := consumer.Request("nobody-home", 20*time.Millisecond)
	if err == nil {
		t.Fatalf("expected timeout error with no provider")
	}
}

func TestWithdrawRemovesBindingOnConsumerSide(t *testing.T) {
	b := bus.New()
	provider := newNode("provider", b)
	consumer := newNode("consumer", b)

	provider.Provide("weather")
	if _, err := consumer.Request("weather", time.Second); err != nil {
		t.Fatalf("Request: %v", err)
	}
	if len(consumer.Bindings("weather")) != 1 {
		t.Fatalf("expected one binding before withdraw")
	}

	provider.Withdraw("weather")
	time.Sleep(10 * time.Millisecond)

	if len(consumer.Bindings("weather")) != 0 {
		t.Fatalf("expected binding removed after provider withdraw")
	}
}

func TestTransitiveProviderAnnouncesAfterUpstreamAccept(t *testing.T) {
	b := bus.New()
	upstream := newNode("upstream", b)
	relay := newNode("relay", b)
	downstreamConsumer := newNode("downstream-consumer", b)

	upstream.Provide("raw-feed")
	relay.DependsOn("processed-feed", "raw-feed")
	relay.Provide("processed-feed") // deferred: relay has not yet been accepted upstream

	if _, err := relay.Request("raw-feed", time.Second); err != nil {
		t.Fatalf("relay Request upstream: %v", err)
	}

	bindings, err := downstreamConsumer.Request("processed-feed", time.Second)
	if err != nil {
		t.Fatalf("downstream Request: %v", err)
	}
	if len(bindings) != 1 || !bindings[0].Provider.Equal(relay.self) {
		t.Fatalf("expected relay as transitive provider, got %+v", bindings)
	}
}

func TestRequestUnionsConcurrentProviders(t *testing.T) {
	b := bus.New()
	providerA := newNode("provider-a", b)
	providerB := newNode("provider-b", b)
	consumer := newNode("consumer", b)

	providerA.Provide("weather")
	providerB.Provide("weather")

	bindings, err := consumer.Request("weather", time.Second)
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if len(bindings) != 2 {
		t.Fatalf("expected a binding to both providers, got %+v", bindings)
	}

	seen := map[string]bool{}
	for _, bd := range bindings {
		seen[bd.Provider.String()] = true
	}
	if !seen[providerA.self.String()] || !seen[providerB.self.String()] {
		t.Fatalf("expected bindings to both provider-a and provider-b, got %+v", bindings)
	}
}
