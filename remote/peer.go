// SPDX-FileCopyrightText: © 2023 Siemens AG
// SPDX-License-Identifier: MIT

package remote

import (
	"net"
	"sync"
	"time"

	"github.com/race-rt/race/clog"
	"github.com/race-rt/race/raceerr"
)

// pingInterval and pongGrace implement disconnect detection (spec §4.6
// "ping-based liveness"): the peer is sent a ping every pingInterval, and a
// peer from which no frame has arrived for more than pingInterval+pongGrace
// at a tick is treated as dead.
const (
	pingInterval = 5 * time.Second
	pongGrace    = 10 * time.Second
)

// peer owns one live connection to a remote node.
type peer struct {
	nodeID string
	conn   net.Conn
	log    *clog.CLogger

	writeMu sync.Mutex

	lastRecvMu sync.Mutex
	lastRecv   time.Time

	onMessage  func(nodeID string, body interface{})
	onDisconnect func(nodeID string)

	closeOnce sync.Once
	done      chan struct{}
}

func newPeer(nodeID string, conn net.Conn, onMessage func(string, interface{}), onDisconnect func(string)) *peer {
	p := &peer{
		nodeID:       nodeID,
		conn:         conn,
		log:          clog.New("remote peer %s ", nodeID),
		onMessage:    onMessage,
		onDisconnect: onDisconnect,
		done:         make(chan struct{}),
	}
	p.touch()
	return p
}

func (p *peer) touch() {
	p.lastRecvMu.Lock()
	p.lastRecv = time.Now()
	p.lastRecvMu.Unlock()
}

func (p *peer) idleFor() time.Duration {
	p.lastRecvMu.Lock()
	defer p.lastRecvMu.Unlock()
	return time.Since(p.lastRecv)
}

// run drives the peer's read loop and liveness timer until the connection
// closes or goes unresponsive. Blocks until the peer is done.
func (p *peer) run() {
	go p.livenessLoop()

	for {
		f, err := readFrame(p.conn)
		if err != nil {
			p.log.Printf("read error, disconnecting: %v", err)
			p.Close()
			return
		}
		p.touch()

		if f.flags&FlagPing != 0 {
			_ = p.send(frame{flags: FlagPong})
			continue
		}
		if f.flags&FlagPong != 0 {
			continue // liveness already updated by touch()
		}

		body, err := decodeEnvelope(f.payload)
		if err != nil {
			p.log.Errorf("failed decoding frame from %s: %v", p.nodeID, err)
			continue
		}
		p.onMessage(p.nodeID, body)
	}
}

func (p *peer) livenessLoop() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-p.done:
			return
		case <-ticker.C:
			if p.idleFor() > pingInterval+pongGrace {
				p.log.Printf("no traffic for %s, treating as disconnected", p.idleFor())
				p.Close()
				return
			}
			_ = p.send(frame{flags: FlagPing})
		}
	}
}

func (p *peer) send(f frame) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	if err := writeFrame(p.conn, f); err != nil {
		return raceerr.Wrap(raceerr.KindRemoteUnreachable, p.nodeID, err)
	}
	return nil
}

// SendBody gob-encodes body and writes it as a data frame.
func (p *peer) SendBody(body interface{}) error {
	payload, err := encodeEnvelope(body)
	if err != nil {
		return raceerr.Wrap(raceerr.KindSerialization, p.nodeID, err)
	}
	return p.send(frame{payload: payload})
}

func (p *peer) Close() {
	p.closeOnce.Do(func() {
		close(p.done)
		_ = p.conn.Close()
		if p.onDisconnect != nil {
			p.onDisconnect(p.nodeID)
		}
	})
}
