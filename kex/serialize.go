// Copyright 2024 Cloudflare, Inc. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package kex

import "encoding/binary"

// serializeMagic and serializeVersion identify the blob format below.
// Record-layer framing (sequence numbers, the TLS-1.2 master-secret
// extension) is out of this core's scope per spec.md §1's Non-goals, so the
// blob this package produces carries only what a HandshakeContext actually
// owns: enough to reconstruct a context whose key-schedule output is
// identical, not enough to resume record encryption on its own — a caller
// layering a record layer on top concatenates its own sequence-number and
// master-secret fields onto this blob, the same way spec.md's TLS-1.2
// extension adds fields onto the base prefix.
var serializeMagic = [6]byte{'k', 'e', 'x', 'b', 'l', 'b'}

const serializeVersion uint16 = 1

// serializedGroupKind distinguishes a hybrid from a classical selection in
// the blob's fixed header, mirroring selectedKind without exposing it.
type serializedGroupKind uint8

const (
	serializedGroupHybrid    serializedGroupKind = 1
	serializedGroupClassical serializedGroupKind = 2
)

// Serialize exports a completed HandshakeContext (state APPLICATION_DATA)
// as a fixed-prefix blob: 6-byte magic + 2-byte version + u16 cipher suite
// id + 1-byte hash id + 1-byte group kind + u16 group id + the three
// key-schedule secrets, each length-prefixed. Only a context that reached
// APPLICATION_DATA may be serialized; anything else returns
// ErrIllegalParameter, since an in-progress context has no stable secrets
// to export.
func Serialize(c *HandshakeContext) ([]byte, error) {
	if c.state != StateApplicationData {
		return nil, ErrIllegalParameter("kex: Serialize called in state %s, want %s", c.state, StateApplicationData)
	}

	var kind serializedGroupKind
	var groupID uint16
	if c.Negotiated.IsHybrid() {
		kind = serializedGroupHybrid
		groupID = c.Negotiated.Group().IanaID
	} else {
		kind = serializedGroupClassical
		groupID = c.Negotiated.Curve().IanaID
	}

	out := make([]byte, 0, 6+2+2+1+1+2+3*2+len(c.Derived.ExtractSecret)+len(c.Derived.ClientHandshakeSecret)+len(c.Derived.ServerHandshakeSecret))
	out = append(out, serializeMagic[:]...)
	out = binary.BigEndian.AppendUint16(out, serializeVersion)
	out = binary.BigEndian.AppendUint16(out, c.CipherSuite)
	out = append(out, byte(c.hashID))
	out = append(out, byte(kind))
	out = binary.BigEndian.AppendUint16(out, groupID)
	out = appendLenPrefixed(out, c.Derived.ExtractSecret)
	out = appendLenPrefixed(out, c.Derived.ClientHandshakeSecret)
	out = appendLenPrefixed(out, c.Derived.ServerHandshakeSecret)
	return out, nil
}

func appendLenPrefixed(out []byte, b []byte) []byte {
	out = binary.BigEndian.AppendUint16(out, uint16(len(b)))
	return append(out, b...)
}

// DeserializedConnection is what Deserialize recovers: enough of a
// completed negotiation's outcome to drive a record layer built on top of
// this package, but not a full HandshakeContext — a deserialized
// connection cannot resume the handshake state machine, only the
// already-derived key material.
type DeserializedConnection struct {
	CipherSuite uint16
	HashID      HashID
	Group       KeyExchangeGroup
	Derived     DerivedSecrets
}

// Deserialize parses a blob produced by Serialize. It validates the magic
// and version before touching anything else, and rejects any length
// prefix that would read past the end of data as ErrDecodeError.
func Deserialize(r *Registry, data []byte) (*DeserializedConnection, error) {
	if len(data) < 6+2+2+1+1+2 {
		return nil, ErrDecodeError("kex: serialized blob truncated: %d bytes", len(data))
	}
	if string(data[:6]) != string(serializeMagic[:]) {
		return nil, ErrDecodeError("kex: serialized blob has wrong magic")
	}
	rest := data[6:]
	version := binary.BigEndian.Uint16(rest[:2])
	rest = rest[2:]
	if version != serializeVersion {
		return nil, ErrDecodeError("kex: serialized blob version %d unsupported", version)
	}

	cipherSuite := binary.BigEndian.Uint16(rest[:2])
	rest = rest[2:]
	hashID := HashID(rest[0])
	rest = rest[1:]
	kind := serializedGroupKind(rest[0])
	rest = rest[1:]
	groupID := binary.BigEndian.Uint16(rest[:2])
	rest = rest[2:]

	extract, rest, err := readLenPrefixed(rest)
	if err != nil {
		return nil, err
	}
	clientHS, rest, err := readLenPrefixed(rest)
	if err != nil {
		return nil, err
	}
	serverHS, _, err := readLenPrefixed(rest)
	if err != nil {
		return nil, err
	}

	group := KeyExchangeGroup{GroupID: groupID}
	switch kind {
	case serializedGroupHybrid:
		g, ok := r.ByID(groupID)
		if !ok {
			return nil, ErrDecodeError("kex: serialized blob names unknown hybrid group %#04x", groupID)
		}
		group.IsHybrid = true
		group.Name = g.Name
	case serializedGroupClassical:
		c, ok := curveByID(groupID)
		if !ok {
			return nil, ErrDecodeError("kex: serialized blob names unknown curve %#04x", groupID)
		}
		group.Name = c.Name
	default:
		return nil, ErrDecodeError("kex: serialized blob has unknown group kind %d", kind)
	}

	return &DeserializedConnection{
		CipherSuite: cipherSuite,
		HashID:      hashID,
		Group:       group,
		Derived: DerivedSecrets{
			ExtractSecret:         extract,
			ClientHandshakeSecret: clientHS,
			ServerHandshakeSecret: serverHS,
		},
	}, nil
}

func readLenPrefixed(b []byte) (value []byte, rest []byte, err error) {
	if len(b) < 2 {
		return nil, nil, ErrDecodeError("kex: serialized blob truncated length prefix")
	}
	n := int(binary.BigEndian.Uint16(b[:2]))
	b = b[2:]
	if len(b) < n {
		return nil, nil, ErrDecodeError("kex: serialized blob truncated field: want %d bytes, have %d", n, len(b))
	}
	return b[:n], b[n:], nil
}
