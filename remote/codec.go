// SPDX-FileCopyrightText: © 2023 Siemens AG
// SPDX-License-Identifier: MIT

package remote

import (
	"bytes"
	"encoding/gob"

	"github.com/race-rt/race/addr"
)

// RegisterType makes a concrete message payload type decodable across the
// wire. Every type ever sent as a Tell/Ask payload to a remote actor must be
// registered on both ends before any connection is established (spec §4.6
// "codec registry"). Mirrors the gob registration idiom used by the
// computation registry's own encode/decode helpers: a fresh encoder is
// created per message rather than reused across a connection, so a
// late-registered type on one side never desyncs an already-open stream's
// type table.
func RegisterType(value interface{}) {
	gob.Register(value)
}

func init() {
	gob.Register(addr.Address{})
	gob.Register(Hello{})
	gob.Register(TellWire{})
	gob.Register(AskRequestWire{})
	gob.Register(AskReplyWire{})
	gob.Register(PublishWire{})
	gob.Register(SubscribeWire{})
	gob.Register(ClockSyncWire{})
}

// wireEnvelope is the single gob-encoded type ever placed in a frame's
// payload; Body carries the actual protocol message as an interface{} value
// whose concrete type must already be registered via RegisterType.
type wireEnvelope struct {
	Body interface{}
}

func encodeEnvelope(body interface{}) ([]byte, error) {
	buf := &bytes.Buffer{}
	enc := gob.NewEncoder(buf)
	if err := enc.Encode(wireEnvelope{Body: body}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeEnvelope(data []byte) (interface{}, error) {
	dec := gob.NewDecoder(bytes.NewReader(data))
	var env wireEnvelope
	if err := dec.Decode(&env); err != nil {
		return nil, err
	}
	return env.Body, nil
}

// Wire message types exchanged between nodes (spec §4.6).

// Hello is the first message on a new connection, identifying the peer and
// syncing the initial logical clock (spec §4.6 "handshake").
type Hello struct {
	NodeID     string
	ClockBase  int64 // unix nanos
	ClockScale float64
}

// TellWire carries a point-to-point send to a remote actor.
type TellWire struct {
	From addr.Address
	To   addr.Address
	Msg  interface{}
}

// AskRequestWire carries a remote ask.
type AskRequestWire struct {
	ID   string
	From addr.Address
	To   addr.Address
	Msg  interface{}
}

// AskReplyWire carries the result of a remote ask back to the requester.
type AskReplyWire struct {
	ID     string
	Result interface{}
	ErrMsg string // empty means no error
}

// PublishWire republishes a local bus event to subscribers on a remote node
// (spec §4.6 "remote subscriptions").
type PublishWire struct {
	Channel string
	Payload interface{}
	Sender  addr.Address
}

// SubscribeWire asks the remote node to forward publishes on Channel back
// to this node.
type SubscribeWire struct {
	Channel string
}

// ClockSyncWire propagates a clock reset across the federation (spec §4.6
// "clock sync").
type ClockSyncWire struct {
	Base  int64
	Scale float64
}
