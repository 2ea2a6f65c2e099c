// SPDX-FileCopyrightText: © 2023 Siemens AG
// SPDX-License-Identifier: MIT

package remote

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/race-rt/race/actorrt"
	"github.com/race-rt/race/addr"
	"github.com/race-rt/race/bus"
	"github.com/race-rt/race/clock"
	"github.com/race-rt/race/clog"
	"github.com/race-rt/race/raceerr"
)

// remoteSink adapts a locally-subscribed channel into PublishWire frames
// sent to the peer that asked for it (spec §4.6 "remote subscriptions").
type remoteSink struct {
	address addr.Address
	n       *Node
	peer    string
}

func (s *remoteSink) Address() addr.Address { return s.address }

func (s *remoteSink) Deliver(evt bus.Event) error {
	s.n.peersMu.Lock()
	p, ok := s.n.peers[s.peer]
	s.n.peersMu.Unlock()
	if !ok {
		return raceerr.Wrap(raceerr.KindRemoteUnreachable, s.peer, raceerr.ErrRemoteUnreachable)
	}
	return p.SendBody(PublishWire{Channel: evt.Channel, Payload: evt.Payload, Sender: evt.Sender})
}

// PeerDisconnectNotifier is told when a peer that was dialed as required
// (spec §4.6 "if the peer is required (not optional)") drops its
// connection, so the Master can tear down the graph.
type PeerDisconnectNotifier interface {
	NotifyRequiredPeerLost(peerID string)
}

// Node is this process's RACE federation endpoint: it accepts inbound peer
// connections, dials configured outbound peers with backoff, and implements
// actorrt.RemoteSender so the local Runtime can address remote actors (spec
// §4.6).
type Node struct {
	id       string
	rt       *actorrt.Runtime
	bus      *bus.Bus
	clock    *clock.Clock
	log      *clog.CLogger
	listener net.Listener

	// maxSkew bounds how far a peer's reported sim-time may differ from
	// this node's own before a handshake or clock sync is rejected (spec
	// §4.6, §9 "left as a required configuration value with no implicit
	// default"). Zero disables the check.
	maxSkew time.Duration

	peerNotifier PeerDisconnectNotifier

	peersMu       sync.Mutex
	peers         map[string]*peer
	requiredPeers map[string]bool    // peerID -> dialed as required
	pendingSubs   map[string][]string // peerID -> channels to (re-)request once connected

	stopOnce sync.Once
	stop     chan struct{}
}

// NewNode creates a Node identified by id, wired to rt's bus and clock.
func NewNode(id string, rt *actorrt.Runtime, b *bus.Bus, clk *clock.Clock) *Node {
	n := &Node{
		id:            id,
		rt:            rt,
		bus:           b,
		clock:         clk,
		log:           clog.New("remote node %s ", id),
		peers:         make(map[string]*peer),
		requiredPeers: make(map[string]bool),
		pendingSubs:   make(map[string][]string),
		stop:          make(chan struct{}),
	}
	rt.SetRemoteSender(n)
	return n
}

// SetMaxClockSkew sets the maximum tolerated difference between a peer's
// reported sim-time and this node's own before clock sync is rejected
// (spec §4.6). Must be called before Listen/DialPeer to take effect on the
// handshake; zero (the default) disables skew checking entirely.
func (n *Node) SetMaxClockSkew(d time.Duration) {
	n.maxSkew = d
}

// SetPeerDisconnectNotifier registers the callback invoked when a required
// peer's connection is lost (spec §4.6).
func (n *Node) SetPeerDisconnectNotifier(notifier PeerDisconnectNotifier) {
	n.peerNotifier = notifier
}

// skewExceeds reports whether remoteBase (unix nanos) differs from this
// node's current sim-time by more than maxSkew.
func (n *Node) skewExceeds(remoteBase int64) bool {
	if n.maxSkew <= 0 {
		return false
	}
	diff := n.clock.Now().Sub(time.Unix(0, remoteBase))
	if diff < 0 {
		diff = -diff
	}
	return diff > n.maxSkew
}

// Listen starts accepting inbound connections on addr (host:port).
func (n *Node) Listen(address string) error {
	ln, err := net.Listen("tcp", address)
	if err != nil {
		return raceerr.Wrap(raceerr.KindConfiguration, n.id, err)
	}
	n.listener = ln
	go n.acceptLoop()
	return nil
}

func (n *Node) acceptLoop() {
	for {
		conn, err := n.listener.Accept()
		if err != nil {
			select {
			case <-n.stop:
				return
			default:
				n.log.Errorf("accept error: %v", err)
				return
			}
		}
		go n.handleInbound(conn)
	}
}

func (n *Node) handleInbound(conn net.Conn) {
	peerID, err := n.handshake(conn, true)
	if err != nil {
		n.log.Errorf("inbound handshake failed: %v", err)
		_ = conn.Close()
		return
	}
	n.registerPeer(peerID, conn)
}

// DialPeer connects to a remote node at address, retrying with exponential
// backoff until one handshake succeeds, a clock-skew rejection occurs, or
// Close is called. A connection that is lost later is not re-dialed. required marks
// this peer as one whose loss should terminate the graph (spec §4.6 "if the
// peer is required (not optional), the Master terminates the graph").
func (n *Node) DialPeer(address string, required bool) {
	go func() {
		b := backoff.NewExponentialBackOff()
		b.MaxElapsedTime = 0 // retry forever until Close

		_ = backoff.Retry(func() error {
			select {
			case <-n.stop:
				return backoff.Permanent(fmt.Errorf("node closed"))
			default:
			}

			conn, err := net.DialTimeout("tcp", address, 5*time.Second)
			if err != nil {
				n.log.Printf("dial %s failed, retrying: %v", address, err)
				return err
			}

			peerID, err := n.handshake(conn, false)
			if err != nil {
				_ = conn.Close()
				if raceerr.Is(err, raceerr.KindClockSkew) {
					return backoff.Permanent(err)
				}
				return err
			}

			n.peersMu.Lock()
			n.requiredPeers[peerID] = required
			n.peersMu.Unlock()
			n.registerPeer(peerID, conn)
			return nil
		}, b)
	}()
}

func (n *Node) handshake(conn net.Conn, inbound bool) (string, error) {
	hello := Hello{NodeID: n.id, ClockBase: n.clock.Now().UnixNano(), ClockScale: n.clock.Scale()}
	payload, err := encodeEnvelope(hello)
	if err != nil {
		return "", err
	}

	if inbound {
		f, err := readFrame(conn)
		if err != nil {
			return "", err
		}
		body, err := decodeEnvelope(f.payload)
		if err != nil {
			return "", err
		}
		remoteHello, ok := body.(Hello)
		if !ok {
			return "", fmt.Errorf("remote: expected Hello, got %T", body)
		}
		if n.skewExceeds(remoteHello.ClockBase) {
			return "", raceerr.New(raceerr.KindClockSkew, remoteHello.NodeID, "peer clock differs from local sim-time by more than max-clock-diff (%v)", n.maxSkew)
		}
		if err := writeFrame(conn, frame{payload: payload}); err != nil {
			return "", err
		}
		return remoteHello.NodeID, nil
	}

	if err := writeFrame(conn, frame{payload: payload}); err != nil {
		return "", err
	}
	f, err := readFrame(conn)
	if err != nil {
		return "", err
	}
	body, err := decodeEnvelope(f.payload)
	if err != nil {
		return "", err
	}
	remoteHello, ok := body.(Hello)
	if !ok {
		return "", fmt.Errorf("remote: expected Hello, got %T", body)
	}
	if n.skewExceeds(remoteHello.ClockBase) {
		return "", raceerr.New(raceerr.KindClockSkew, remoteHello.NodeID, "peer clock differs from local sim-time by more than max-clock-diff (%v)", n.maxSkew)
	}
	return remoteHello.NodeID, nil
}

func (n *Node) registerPeer(peerID string, conn net.Conn) {
	p := newPeer(peerID, conn, n.onMessage, n.onDisconnect)
	n.peersMu.Lock()
	n.peers[peerID] = p
	pending := n.pendingSubs[peerID]
	delete(n.pendingSubs, peerID)
	n.peersMu.Unlock()
	n.log.Printf("connected to peer %s", peerID)
	go p.run()
	for _, channel := range pending {
		if err := p.SendBody(SubscribeWire{Channel: channel}); err != nil {
			n.log.Errorf("replaying remote subscribe %q to %s failed: %v", channel, peerID, err)
		}
	}
}

func (n *Node) onDisconnect(peerID string) {
	n.peersMu.Lock()
	delete(n.peers, peerID)
	required := n.requiredPeers[peerID]
	delete(n.requiredPeers, peerID)
	n.peersMu.Unlock()
	n.log.Printf("peer %s disconnected", peerID)

	if required && n.peerNotifier != nil {
		n.log.Errorf("required peer %s disconnected", peerID)
		n.peerNotifier.NotifyRequiredPeerLost(peerID)
	}
}

func (n *Node) onMessage(peerID string, body interface{}) {
	switch m := body.(type) {
	case TellWire:
		local, ok := n.rt.ResolveLocal(m.To.Name)
		if !ok {
			n.log.Errorf("tell for unknown local actor %q from %s", m.To.Name, peerID)
			return
		}
		_ = n.rt.Tell(m.From, local, m.Msg)
	case AskRequestWire:
		local, ok := n.rt.ResolveLocal(m.To.Name)
		reply := AskReplyWire{ID: m.ID}
		if !ok {
			reply.ErrMsg = fmt.Sprintf("no local actor named %q", m.To.Name)
		} else {
			result, err := n.rt.Ask(m.From, local, m.Msg, actorrt.DefaultAskTimeout)
			reply.Result = result
			if err != nil {
				reply.ErrMsg = err.Error()
			}
		}
		n.peersMu.Lock()
		p := n.peers[peerID]
		n.peersMu.Unlock()
		if p != nil {
			_ = p.SendBody(reply)
		}
	case AskReplyWire:
		var replyErr error
		if m.ErrMsg != "" {
			replyErr = fmt.Errorf("%s", m.ErrMsg)
		}
		n.rt.DeliverRemoteAskReply(actorrt.AskReply{ID: m.ID, Result: m.Result, Err: replyErr})
	case PublishWire:
		n.bus.Publish(m.Channel, m.Payload, m.Sender)
	case SubscribeWire:
		n.bus.Subscribe(m.Channel, &remoteSink{address: addr.RemoteAddr(peerID, m.Channel), n: n, peer: peerID})
	case ClockSyncWire:
		if n.skewExceeds(m.Base) {
			err := raceerr.New(raceerr.KindClockSkew, peerID, "rejecting clock sync: skew exceeds max-clock-diff (%v)", n.maxSkew)
			n.log.Errorf("%v", err)
			return
		}
		if err := n.clock.SetScale(m.Scale); err != nil {
			n.log.Errorf("rejecting clock sync scale from %s: %v", peerID, err)
			return
		}
		if err := n.clock.SetBase(time.Unix(0, m.Base)); err != nil {
			n.log.Errorf("rejecting clock sync base from %s: %v", peerID, err)
		}
	default:
		n.log.Printf("ignoring unrecognized wire message %T from %s", m, peerID)
	}
}

// SendRemote implements actorrt.RemoteSender, routing to to its node's peer
// connection.
func (n *Node) SendRemote(from, to addr.Address, msg interface{}) error {
	n.peersMu.Lock()
	p, ok := n.peers[to.NodeID]
	n.peersMu.Unlock()
	if !ok {
		return raceerr.Wrap(raceerr.KindRemoteUnreachable, to.String(), raceerr.ErrRemoteUnreachable)
	}

	if req, isAsk := msg.(actorrt.AskRequest); isAsk {
		return p.SendBody(AskRequestWire{ID: req.ID, From: req.From, To: to, Msg: req.Msg})
	}
	if reply, isReply := msg.(actorrt.AskReply); isReply {
		errMsg := ""
		if reply.Err != nil {
			errMsg = reply.Err.Error()
		}
		return p.SendBody(AskReplyWire{ID: reply.ID, Result: reply.Result, ErrMsg: errMsg})
	}
	return p.SendBody(TellWire{From: from, To: to, Msg: msg})
}

// RemoteSubscribe asks the peer identified by nodeID to forward publishes on
// channel back to this node (spec §4.6 "remote subscriptions"). It fails
// immediately if nodeID is not currently connected; see RequestRemoteChannel
// for a version that survives a peer that has not connected yet.
func (n *Node) RemoteSubscribe(nodeID, channel string) error {
	n.peersMu.Lock()
	p, ok := n.peers[nodeID]
	n.peersMu.Unlock()
	if !ok {
		return raceerr.Wrap(raceerr.KindRemoteUnreachable, nodeID, raceerr.ErrRemoteUnreachable)
	}
	return p.SendBody(SubscribeWire{Channel: channel})
}

// RequestRemoteChannel is the runtime-level trigger for spec §4.6's "when a
// local actor subscribes to a channel published by a remote actor, the
// local runtime sends RemoteSubscribe(channel) to the owning peer": it is
// called once per (remote node, channel) an actor's config declares via its
// "remote"/"read-from" keys. If nodeID is already connected the request is
// sent immediately; otherwise it is queued and replayed from registerPeer
// once that peer's connection comes up, so dial order relative to actor
// registration doesn't matter.
func (n *Node) RequestRemoteChannel(nodeID, channel string) {
	n.peersMu.Lock()
	_, connected := n.peers[nodeID]
	if !connected {
		n.pendingSubs[nodeID] = append(n.pendingSubs[nodeID], channel)
	}
	n.peersMu.Unlock()

	if connected {
		if err := n.RemoteSubscribe(nodeID, channel); err != nil {
			n.log.Errorf("remote subscribe to %s channel %q failed: %v", nodeID, channel, err)
		}
	}
}

// SyncSimClock broadcasts the current logical clock state to every connected
// peer (spec §4.6 "clock sync").
func (n *Node) SyncSimClock() {
	msg := ClockSyncWire{Base: n.clock.Now().UnixNano(), Scale: n.clock.Scale()}
	n.peersMu.Lock()
	defer n.peersMu.Unlock()
	for _, p := range n.peers {
		_ = p.SendBody(msg)
	}
}

// Close stops accepting new connections and tears down every peer.
func (n *Node) Close() {
	n.stopOnce.Do(func() {
		close(n.stop)
		if n.listener != nil {
			_ = n.listener.Close()
		}
		n.peersMu.Lock()
		peers := make([]*peer, 0, len(n.peers))
		for _, p := range n.peers {
			peers = append(peers, p)
		}
		n.peersMu.Unlock()
		for _, p := range peers {
			p.Close()
		}
	})
}
