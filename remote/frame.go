// SPDX-FileCopyrightText: © 2023 Siemens AG
// SPDX-License-Identifier: MIT

// Package remote implements RACE node-to-node federation (spec §4.6): a
// length-prefixed wire frame, a gob codec registry for message payloads, and
// the peer/node machinery for handshake, remote tell/ask, clock sync, and
// reconnection.
package remote

import (
	"encoding/binary"
	"fmt"
	"io"
)

const (
	magic         uint32 = 0x52414345 // "RACE"
	protoVersion  uint16 = 1
	maxFrameBytes        = 16 << 20 // 16 MiB, generous bound against a corrupt length prefix
)

// Flag bits carried in a frame header (spec §6 wire protocol: "flags").
type Flag uint16

const (
	FlagNone Flag = 0
	FlagPing Flag = 1 << 0
	FlagPong Flag = 1 << 1
)

// frame is one wire message: magic(4) version(2) flags(2) payload_len(4)
// followed by payload_len bytes of gob-encoded payload (spec §6).
type frame struct {
	flags   Flag
	payload []byte
}

func writeFrame(w io.Writer, f frame) error {
	header := make([]byte, 12)
	binary.BigEndian.PutUint32(header[0:4], magic)
	binary.BigEndian.PutUint16(header[4:6], protoVersion)
	binary.BigEndian.PutUint16(header[6:8], uint16(f.flags))
	binary.BigEndian.PutUint32(header[8:12], uint32(len(f.payload)))
	if _, err := w.Write(header); err != nil {
		return err
	}
	if len(f.payload) == 0 {
		return nil
	}
	_, err := w.Write(f.payload)
	return err
}

func readFrame(r io.Reader) (frame, error) {
	header := make([]byte, 12)
	if _, err := io.ReadFull(r, header); err != nil {
		return frame{}, err
	}
	gotMagic := binary.BigEndian.Uint32(header[0:4])
	if gotMagic != magic {
		return frame{}, fmt.Errorf("remote: bad frame magic %#x", gotMagic)
	}
	version := binary.BigEndian.Uint16(header[4:6])
	if version != protoVersion {
		return frame{}, fmt.Errorf("remote: unsupported wire version %d", version)
	}
	flags := Flag(binary.BigEndian.Uint16(header[6:8]))
	payloadLen := binary.BigEndian.Uint32(header[8:12])
	if payloadLen > maxFrameBytes {
		return frame{}, fmt.Errorf("remote: frame payload %d exceeds max %d", payloadLen, maxFrameBytes)
	}

	payload := make([]byte, payloadLen)
	if payloadLen > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return frame{}, err
		}
	}
	return frame{flags: flags, payload: payload}, nil
}
