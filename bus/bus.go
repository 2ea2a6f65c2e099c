// SPDX-FileCopyrightText: © 2023 Siemens AG
// SPDX-License-Identifier: MIT

// Package bus implements the RACE local publish/subscribe bus (spec §4.2):
// multi-writer / multi-reader channels with exact and glob-pattern
// subscription matching, and multicast dispatch to actor mailboxes.
package bus

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/race-rt/race/addr"
	"github.com/race-rt/race/clog"
)

// Event is a BusEvent(channel, payload, sender) as delivered to a matching
// subscriber's mailbox (spec §3).
type Event struct {
	Channel string
	Payload any
	Sender  addr.Address
	Time    time.Time
}

// Sink is anything that can receive a bus Event — normally an actor's
// mailbox. Deliver must not block indefinitely; mailbox overflow policy
// (spec §4.1) is applied inside the Sink implementation, not by the bus.
type Sink interface {
	Address() addr.Address
	Deliver(Event) error
}

// subscription is one (subscriber, pattern) registration (spec §3
// "Subscription record"; topic filtering for channel-topic pairs is layered
// on top in package topic, not here).
type subscription struct {
	pattern string
	exact   bool // true if pattern contains no glob metacharacters
	sink    Sink
}

// index is an immutable snapshot of the registry, swapped atomically on
// every subscribe/unsubscribe so dispatch reads never block on registry
// mutation (spec §4.2 "dispatch reads are non-blocking").
type index struct {
	exact map[string][]*subscription // fast path: exact channel name -> subs
	globs []*subscription            // glob-pattern subs, checked on publish
}

// Bus is the process-wide pub/sub registry (spec §4.2). The zero value is
// not usable; construct with New.
type Bus struct {
	mu      sync.Mutex // serializes mutations (subscribe/unsubscribe)
	current atomic.Value // holds *index

	log *clog.CLogger
}

// New creates an empty Bus.
func New() *Bus {
	b := &Bus{log: clog.New("bus ")}
	b.current.Store(&index{exact: make(map[string][]*subscription)})
	return b
}

func isGlobPattern(pattern string) bool {
	for _, r := range pattern {
		if r == '*' || r == '?' || r == '[' || r == '{' {
			return true
		}
	}
	return false
}

// Subscribe registers sink's interest in channel names matching pattern.
// Idempotent: subscribing the same (sink, pattern) pair again is a no-op
// (spec §8 "Idempotent subscribe"). Effective before the next Publish that
// observes the returned snapshot (spec §4.2 "eventual" semantics relative to
// concurrent publishes, guaranteed for publishes issued after Subscribe
// returns).
func (b *Bus) Subscribe(pattern string, sink Sink) {
	b.mu.Lock()
	defer b.mu.Unlock()

	old := b.snapshot()
	for _, s := range old.allSubsOf(sink) {
		if s.pattern == pattern {
			return // idempotent
		}
	}

	next := old.clone()
	sub := &subscription{pattern: pattern, exact: !isGlobPattern(pattern), sink: sink}
	if sub.exact {
		next.exact[pattern] = append(next.exact[pattern], sub)
	} else {
		next.globs = append(next.globs, sub)
	}
	b.current.Store(next)
	b.log.Printf("subscribe %s -> %s", sink.Address(), pattern)
}

// Unsubscribe removes sink's subscription to pattern. After Unsubscribe
// returns, no BusEvent generated by a subsequent Publish matching pattern is
// delivered to sink (spec §8 "Subscription revocation"). Messages already
// enqueued in sink's mailbox are not removed (spec §4.1).
func (b *Bus) Unsubscribe(pattern string, sink Sink) {
	b.mu.Lock()
	defer b.mu.Unlock()

	old := b.snapshot()
	next := old.clone()
	if isGlobPattern(pattern) {
		next.globs = filterOut(next.globs, pattern, sink)
	} else {
		filtered := filterOut(next.exact[pattern], pattern, sink)
		if len(filtered) == 0 {
			delete(next.exact, pattern)
		} else {
			next.exact[pattern] = filtered
		}
	}
	b.current.Store(next)
	b.log.Printf("unsubscribe %s -> %s", sink.Address(), pattern)
}

// UnsubscribeAll removes every subscription owned by sink, used on actor
// termination (spec §3 "Subscription record" lifecycle).
func (b *Bus) UnsubscribeAll(sink Sink) {
	b.mu.Lock()
	defer b.mu.Unlock()

	old := b.snapshot()
	next := &index{exact: make(map[string][]*subscription, len(old.exact))}
	for ch, subs := range old.exact {
		filtered := filterOutSink(subs, sink)
		if len(filtered) > 0 {
			next.exact[ch] = filtered
		}
	}
	next.globs = filterOutSink(old.globs, sink)
	b.current.Store(next)
}

func filterOut(subs []*subscription, pattern string, sink Sink) []*subscription {
	out := subs[:0:0]
	for _, s := range subs {
		if s.pattern == pattern && s.sink.Address().Equal(sink.Address()) {
			continue
		}
		out = append(out, s)
	}
	return out
}

func filterOutSink(subs []*subscription, sink Sink) []*subscription {
	out := subs[:0:0]
	for _, s := range subs {
		if s.sink.Address().Equal(sink.Address()) {
			continue
		}
		out = append(out, s)
	}
	return out
}

func (b *Bus) snapshot() *index {
	return b.current.Load().(*index)
}

func (idx *index) clone() *index {
	next := &index{exact: make(map[string][]*subscription, len(idx.exact))}
	for k, v := range idx.exact {
		cp := make([]*subscription, len(v))
		copy(cp, v)
		next.exact[k] = cp
	}
	next.globs = make([]*subscription, len(idx.globs))
	copy(next.globs, idx.globs)
	return next
}

func (idx *index) allSubsOf(sink Sink) []*subscription {
	var out []*subscription
	for _, s := range idx.exact {
		for _, sub := range s {
			if sub.sink.Address().Equal(sink.Address()) {
				out = append(out, sub)
			}
		}
	}
	for _, sub := range idx.globs {
		if sub.sink.Address().Equal(sink.Address()) {
			out = append(out, sub)
		}
	}
	return out
}

// Matches reports whether a channel name matches a subscription pattern.
// `*` matches one path segment, `**` matches any depth, following
// doublestar's semantics applied to `/`-separated channel paths (spec §3).
func Matches(pattern, channel string) bool {
	if pattern == channel {
		return true
	}
	ok, err := doublestar.Match(pattern, channel)
	return err == nil && ok
}

// Publish dispatches payload on channel, delivering BusEvent(channel,
// payload, sender) to every subscriber whose pattern matches channel,
// exactly once each even if matched through both an exact and a glob
// subscription (spec §4.2, §8 "No duplicate delivery"). Returns after all
// enqueues have completed or been rejected.
func (b *Bus) Publish(channel string, payload any, sender addr.Address) {
	idx := b.snapshot()

	seen := make(map[addr.Address]struct{})
	var targets []Sink

	for _, sub := range idx.exact[channel] {
		if _, dup := seen[sub.sink.Address()]; !dup {
			seen[sub.sink.Address()] = struct{}{}
			targets = append(targets, sub.sink)
		}
	}
	for _, sub := range idx.globs {
		if !Matches(sub.pattern, channel) {
			continue
		}
		if _, dup := seen[sub.sink.Address()]; dup {
			continue
		}
		seen[sub.sink.Address()] = struct{}{}
		targets = append(targets, sub.sink)
	}

	evt := Event{Channel: channel, Payload: payload, Sender: sender, Time: time.Now()}
	for _, sink := range targets {
		if err := sink.Deliver(evt); err != nil {
			b.log.Errorf("delivery to %s on %s failed: %v", sink.Address(), channel, err)
		}
	}
}

// Subscribers returns the current set of addresses subscribed (directly or
// via pattern) to channel, for diagnostics and channel-topic provider
// matching.
func (b *Bus) Subscribers(channel string) []addr.Address {
	idx := b.snapshot()
	seen := make(map[addr.Address]struct{})
	var out []addr.Address
	for _, sub := range idx.exact[channel] {
		if _, dup := seen[sub.sink.Address()]; !dup {
			seen[sub.sink.Address()] = struct{}{}
			out = append(out, sub.sink.Address())
		}
	}
	for _, sub := range idx.globs {
		if Matches(sub.pattern, channel) {
			if _, dup := seen[sub.sink.Address()]; !dup {
				seen[sub.sink.Address()] = struct{}{}
				out = append(out, sub.sink.Address())
			}
		}
	}
	return out
}
