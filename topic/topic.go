// SPDX-FileCopyrightText: © 2023 Siemens AG
// SPDX-License-Identifier: MIT

// Package topic implements the RACE channel-topic negotiation protocol
// (spec §4.4): providers announce which topics they can serve on a channel,
// consumers request a topic and wait for a provider to accept, and either
// side can release the binding. A provider that is itself a consumer of an
// upstream topic transitively re-announces availability once its own
// upstream binding is accepted.
package topic

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/race-rt/race/addr"
	"github.com/race-rt/race/bus"
	"github.com/race-rt/race/clog"
)

// controlChannel is the well-known bus channel carrying negotiation
// messages for a given topic (spec §4.4 "negotiation messages are
// themselves ordinary bus events on a reserved channel namespace").
func controlChannel(topicName string) string {
	return "/race/topic/" + topicName
}

// Provider advertises availability (spec §4.4 "provider").
type Provider struct {
	Topic  string
	Source addr.Address
}

// Request is a consumer's bid for a topic (spec §4.4 "consumer request").
type Request struct {
	ID       string
	Topic    string
	Consumer addr.Address
}

// Accept confirms a Request, binding consumer to provider (spec §4.4
// "accept").
type Accept struct {
	RequestID string
	Topic     string
	Provider  addr.Address
}

// Release tears down a previously accepted binding, from either side (spec
// §4.4 "release").
type Release struct {
	Topic string
	Peer  addr.Address
}

// announce is published by a provider so that consumers subscribed to the
// topic's control channel discover it without a prior handshake.
type announce struct {
	Topic  string
	Source addr.Address
}

// withdraw is published when a provider stops serving a topic.
type withdraw struct {
	Topic  string
	Source addr.Address
}

// Binding is one consumer-provider pairing currently in effect.
type Binding struct {
	Topic    string
	Consumer addr.Address
	Provider addr.Address
}

// acceptGraceWindow is how long Request keeps collecting Accepts after the
// first one arrives, so concurrent providers that all answer a Request get
// folded into one union binding set instead of only the fastest responder
// winning (spec §4.4 "accept from all ... default: accept all, union
// streams"). Capped well below typical per-call timeouts so the common
// single-provider case still returns close to as soon as that one Accept
// lands.
const acceptGraceWindow = 50 * time.Millisecond

// pendingRequest accumulates every Accept a Request receives while it is in
// flight, deduplicated by provider.
type pendingRequest struct {
	mu       sync.Mutex
	accepted []Accept
	first    chan struct{}
	gotFirst bool
}

func (pr *pendingRequest) add(acc Accept) {
	pr.mu.Lock()
	defer pr.mu.Unlock()
	for _, a := range pr.accepted {
		if a.Provider.Equal(acc.Provider) {
			return
		}
	}
	pr.accepted = append(pr.accepted, acc)
	if !pr.gotFirst {
		pr.gotFirst = true
		close(pr.first)
	}
}

func (pr *pendingRequest) snapshot() []Accept {
	pr.mu.Lock()
	defer pr.mu.Unlock()
	out := make([]Accept, len(pr.accepted))
	copy(out, pr.accepted)
	return out
}

// Negotiator runs the channel-topic protocol for one node over the shared
// bus. A single Negotiator serves every topic the node's actors provide or
// consume.
type Negotiator struct {
	self addr.Address
	b    *bus.Bus
	log  *clog.CLogger

	mu        sync.Mutex
	providing map[string]bool               // topics this node currently provides
	consuming map[string]*pendingRequest    // topic -> in-flight request collecting Accepts
	bindings  map[string][]Binding          // topic -> active bindings this node is party to
	upstream  map[string]string             // downstream topic -> upstream topic it transitively depends on
	listeners map[string]bus.Sink           // topic -> control-channel subscription sink
}

// NewNegotiator creates a Negotiator bound to self's address on bus b.
func NewNegotiator(self addr.Address, b *bus.Bus) *Negotiator {
	return &Negotiator{
		self:      self,
		b:         b,
		log:       clog.New("topic %s ", self),
		providing: make(map[string]bool),
		consuming: make(map[string]*pendingRequest),
		bindings:  make(map[string][]Binding),
		upstream:  make(map[string]string),
		listeners: make(map[string]bus.Sink),
	}
}

// controlSink adapts bus events on a topic's control channel into calls on
// the owning Negotiator.
type controlSink struct {
	addr addr.Address
	n    *Negotiator
}

func (s *controlSink) Address() addr.Address { return s.addr }

func (s *controlSink) Deliver(evt bus.Event) error {
	s.n.handleControl(evt)
	return nil
}

func (n *Negotiator) subscribeControl(topicName string) {
	n.mu.Lock()
	_, already := n.listeners[topicName]
	n.mu.Unlock()
	if already {
		return
	}
	sink := &controlSink{addr: n.self, n: n}
	n.mu.Lock()
	n.listeners[topicName] = sink
	n.mu.Unlock()
	n.b.Subscribe(controlChannel(topicName), sink)
}

func (n *Negotiator) handleControl(evt bus.Event) {
	switch m := evt.Payload.(type) {
	case announce:
		n.onAnnounce(m)
	case withdraw:
		n.onWithdraw(m)
	case Request:
		n.onRequest(m)
	case Accept:
		n.onAccept(m)
	case Release:
		n.onRelease(m)
	default:
		n.log.Printf("ignoring unrecognized control message %T", m)
	}
}

// Provide registers self as a provider of topicName. Transitively-dependent
// providers should call DependsOn first so that upstream acceptance
// triggers this node's own announcement (spec §4.4 "transitive providers").
func (n *Negotiator) Provide(topicName string) {
	n.subscribeControl(topicName)
	n.mu.Lock()
	n.providing[topicName] = true
	_, transitive := n.upstream[topicName]
	n.mu.Unlock()

	if transitive {
		return // wait for the upstream Accept before announcing downstream
	}
	n.announceNow(topicName)
}

// announceNow publishes the announce message unconditionally, used both by
// Provide for non-transitive topics and by Request once an upstream Accept
// unblocks a pending transitive provider.
func (n *Negotiator) announceNow(topicName string) {
	n.b.Publish(controlChannel(topicName), announce{Topic: topicName, Source: n.self}, n.self)
}

// Withdraw stops serving topicName and releases any bindings held as its
// provider.
func (n *Negotiator) Withdraw(topicName string) {
	n.mu.Lock()
	delete(n.providing, topicName)
	delete(n.bindings, topicName)
	n.mu.Unlock()

	n.b.Publish(controlChannel(topicName), withdraw{Topic: topicName, Source: n.self}, n.self)
}

// DependsOn marks downstreamTopic as transitively served by upstreamTopic:
// once this node is accepted as a consumer of upstreamTopic, it announces
// itself as a provider of downstreamTopic (spec §4.4 "transitive
// providers").
func (n *Negotiator) DependsOn(downstreamTopic, upstreamTopic string) {
	n.mu.Lock()
	n.upstream[downstreamTopic] = upstreamTopic
	n.mu.Unlock()
}

// Request asks for a binding to topicName and returns the union of every
// provider that accepts within timeout (spec §4.4 "multiple providers for
// the same pair: accept from all; consumer's policy picks the winning set
// (default: accept all, union streams)"). It waits for the first Accept (or
// the full timeout, if none arrives), then keeps collecting for a further
// acceptGraceWindow so concurrent providers are not dropped in favor of
// whichever answered first. Callers that want single-provider semantics can
// simply use bindings[0].
func (n *Negotiator) Request(topicName string, timeout time.Duration) ([]Binding, error) {
	n.subscribeControl(topicName)

	pr := &pendingRequest{first: make(chan struct{})}
	n.mu.Lock()
	n.consuming[topicName] = pr
	n.mu.Unlock()

	req := Request{ID: uuid.NewString(), Topic: topicName, Consumer: n.self}
	n.b.Publish(controlChannel(topicName), req, n.self)

	select {
	case <-pr.first:
		time.Sleep(acceptGraceWindow)
	case <-time.After(timeout):
	}

	n.mu.Lock()
	delete(n.consuming, topicName)
	n.mu.Unlock()

	accepted := pr.snapshot()
	if len(accepted) == 0 {
		return nil, errNoProvider
	}

	bindings := make([]Binding, len(accepted))
	for i, acc := range accepted {
		bindings[i] = Binding{Topic: topicName, Consumer: n.self, Provider: acc.Provider}
	}

	n.mu.Lock()
	n.bindings[topicName] = append(n.bindings[topicName], bindings...)
	n.mu.Unlock()

	if downstream, ok := n.downstreamOf(topicName); ok {
		n.announceNow(downstream)
	}
	return bindings, nil
}

func (n *Negotiator) downstreamOf(upstreamTopic string) (string, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for down, up := range n.upstream {
		if up == upstreamTopic {
			return down, true
		}
	}
	return "", false
}

// Release tears down every binding this node holds for topicName, as either
// consumer or provider (spec §4.4 "release").
func (n *Negotiator) Release(topicName string) {
	n.mu.Lock()
	delete(n.bindings, topicName)
	n.mu.Unlock()
	n.b.Publish(controlChannel(topicName), Release{Topic: topicName, Peer: n.self}, n.self)
}

// Bindings returns a snapshot of active bindings for topicName.
func (n *Negotiator) Bindings(topicName string) []Binding {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]Binding, len(n.bindings[topicName]))
	copy(out, n.bindings[topicName])
	return out
}

func (n *Negotiator) onAnnounce(m announce) {
	n.mu.Lock()
	_, waiting := n.consuming[m.Topic]
	n.mu.Unlock()
	if !waiting {
		return
	}
	// A provider announced after we were already waiting on a Request; issue
	// a fresh Request addressed to the whole topic so it can Accept us.
	n.b.Publish(controlChannel(m.Topic), Request{ID: uuid.NewString(), Topic: m.Topic, Consumer: n.self}, n.self)
}

func (n *Negotiator) onWithdraw(m withdraw) {
	n.mu.Lock()
	bindings := n.bindings[m.Topic]
	kept := bindings[:0]
	for _, b := range bindings {
		if !b.Provider.Equal(m.Source) {
			kept = append(kept, b)
		}
	}
	n.bindings[m.Topic] = kept
	n.mu.Unlock()
}

func (n *Negotiator) onRequest(m Request) {
	n.mu.Lock()
	providing := n.providing[m.Topic]
	n.mu.Unlock()
	if !providing {
		return
	}
	n.b.Publish(controlChannel(m.Topic), Accept{RequestID: m.ID, Topic: m.Topic, Provider: n.self}, n.self)

	n.mu.Lock()
	n.bindings[m.Topic] = append(n.bindings[m.Topic], Binding{Topic: m.Topic, Consumer: m.Consumer, Provider: n.self})
	n.mu.Unlock()
}

func (n *Negotiator) onAccept(m Accept) {
	n.mu.Lock()
	pr, ok := n.consuming[m.Topic]
	n.mu.Unlock()
	if !ok {
		return
	}
	pr.add(m)
}

func (n *Negotiator) onRelease(m Release) {
	n.mu.Lock()
	for topicName, bindings := range n.bindings {
		if topicName != m.Topic {
			continue
		}
		kept := bindings[:0]
		for _, b := range bindings {
			if !b.Consumer.Equal(m.Peer) && !b.Provider.Equal(m.Peer) {
				kept = append(kept, b)
			}
		}
		n.bindings[topicName] = kept
	}
	n.mu.Unlock()
}
