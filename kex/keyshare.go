// Copyright 2024 Cloudflare, Inc. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package kex

import (
	"encoding/binary"
	"io"
)

// KeyShareEntry is the wire entity carried in the key_share extension: a
// group id and an opaque payload whose interpretation depends on the
// group's kind and, for hybrid groups, the negotiated wire format.
type KeyShareEntry struct {
	GroupID uint16
	Payload []byte
}

// hybridPayloadKind distinguishes the two directions a hybrid payload can
// travel in: the client's offer carries two public keys, the server's
// response carries the server's own curve public key and a KEM ciphertext
// in place of a public key.
type hybridPayloadKind int

const (
	hybridOffer    hybridPayloadKind = iota // ec_pub || kem_pub
	hybridResponse                          // ec_pub || kem_ciphertext
)

func ecPublicKeySize(c EcCurve) int {
	switch c.IanaID {
	case CurveX25519.IanaID:
		return 32
	case CurveP256.IanaID:
		return 65
	case CurveP384.IanaID:
		return 97
	case CurveP521.IanaID:
		return 133
	default:
		return 0
	}
}

func kemComponentSize(g KemGroup, kind hybridPayloadKind) int {
	scheme := circlScheme(g.Kem)
	if scheme == nil {
		return 0
	}
	if kind == hybridResponse {
		return scheme.CiphertextSize()
	}
	return scheme.PublicKeySize()
}

// encodeHybridPayload lays out the classical and PQ components per the
// negotiated wire format. Order is fixed: classical component first, PQ
// component second, matching the order spec.md §4.5 fixes for the derived
// secret itself.
func encodeHybridPayload(format WireFormat, ecShare, pqShare []byte) []byte {
	if format == WireLengthPrefixed {
		out := make([]byte, 0, 2+len(ecShare)+2+len(pqShare))
		out = binary.BigEndian.AppendUint16(out, uint16(len(ecShare)))
		out = append(out, ecShare...)
		out = binary.BigEndian.AppendUint16(out, uint16(len(pqShare)))
		out = append(out, pqShare...)
		return out
	}
	out := make([]byte, 0, len(ecShare)+len(pqShare))
	out = append(out, ecShare...)
	out = append(out, pqShare...)
	return out
}

// decodeHybridPayload parses payload per format, validating component
// lengths against what group and kind imply. Any mismatch — concatenated
// expected but a length prefix makes the total not add up, length-prefixed
// expected but the encoded lengths overflow the payload, or the decoded
// component size disagreeing with what the negotiated group requires — is
// a DecodeError, never a silent truncation.
func decodeHybridPayload(format WireFormat, g KemGroup, kind hybridPayloadKind, payload []byte) (ecShare, pqShare []byte, err error) {
	wantEC := ecPublicKeySize(g.Curve)
	wantPQ := kemComponentSize(g, kind)
	if wantEC == 0 || wantPQ == 0 {
		return nil, nil, ErrDecodeError("kex: group %s has no known component sizes", g.Name)
	}

	if format == WireConcatenated {
		if len(payload) != wantEC+wantPQ {
			return nil, nil, ErrDecodeError("kex: concatenated hybrid share for %s: want %d bytes, got %d", g.Name, wantEC+wantPQ, len(payload))
		}
		return payload[:wantEC], payload[wantEC:], nil
	}

	// Length-prefixed (draft-5).
	if len(payload) < 2 {
		return nil, nil, ErrDecodeError("kex: length-prefixed hybrid share for %s: truncated ec length", g.Name)
	}
	ecLen := int(binary.BigEndian.Uint16(payload[:2]))
	rest := payload[2:]
	if ecLen != wantEC || len(rest) < ecLen+2 {
		return nil, nil, ErrDecodeError("kex: length-prefixed hybrid share for %s: bad ec length %d", g.Name, ecLen)
	}
	ec := rest[:ecLen]
	rest = rest[ecLen:]
	pqLen := int(binary.BigEndian.Uint16(rest[:2]))
	rest = rest[2:]
	if pqLen != wantPQ || len(rest) != pqLen {
		return nil, nil, ErrDecodeError("kex: length-prefixed hybrid share for %s: bad pq length %d", g.Name, pqLen)
	}
	return ec, rest, nil
}

// HybridClientShare is the client-generated key-share material for one
// hybrid group offer: its own private halves plus the wire payload to
// send.
type HybridClientShare struct {
	Group   KemGroup
	ECPriv  []byte
	KemPriv []byte
	Entry   KeyShareEntry
}

// GenerateHybridClientOffer produces (ec_priv, ec_pub) and (kem_pub,
// kem_priv) for g and encodes the offer payload per format, per spec.md
// §4.5's "Generate share" operation on the client/offering side.
func GenerateHybridClientOffer(p Provider, rand io.Reader, g KemGroup, format WireFormat) (*HybridClientShare, error) {
	ecPriv, ecPub, err := p.ECDHKeygen(g.Curve, rand)
	if err != nil {
		return nil, err
	}
	kemPub, kemPriv, err := p.KEMKeygen(g.Kem, rand)
	if err != nil {
		return nil, err
	}
	payload := encodeHybridPayload(format, ecPub, kemPub)
	return &HybridClientShare{
		Group:   g,
		ECPriv:  ecPriv,
		KemPriv: kemPriv,
		Entry:   KeyShareEntry{GroupID: g.IanaID, Payload: payload},
	}, nil
}

// HybridServerResponse is what the server produces after selecting a
// hybrid group and processing the client's offer: the (EC)DHE secret to
// feed the key schedule, plus the wire payload to send back.
type HybridServerResponse struct {
	Secret []byte
	Entry  KeyShareEntry
}

// ProcessHybridClientOffer is the server's "process share" + "generate
// share" operations combined: it parses the client's offer, generates the
// server's own ephemeral EC key, performs ECDH, encapsulates against the
// client's KEM public key, and concatenates classical-then-PQ into the
// (EC)DHE key-schedule input.
func ProcessHybridClientOffer(p Provider, rand io.Reader, g KemGroup, format WireFormat, clientOffer []byte) (*HybridServerResponse, error) {
	clientECPub, clientKemPub, err := decodeHybridPayload(format, g, hybridOffer, clientOffer)
	if err != nil {
		return nil, err
	}

	serverECPriv, serverECPub, err := p.ECDHKeygen(g.Curve, rand)
	if err != nil {
		return nil, err
	}
	ecShared, err := p.ECDH(g.Curve, serverECPriv, clientECPub)
	if err != nil {
		return nil, err
	}

	ciphertext, kemShared, err := p.KEMEncapsulate(g.Kem, rand, clientKemPub)
	if err != nil {
		return nil, err
	}

	secret := concatSecret(ecShared, kemShared)
	payload := encodeHybridPayload(format, serverECPub, ciphertext)
	return &HybridServerResponse{
		Secret: secret,
		Entry:  KeyShareEntry{GroupID: g.IanaID, Payload: payload},
	}, nil
}

// ProcessHybridServerResponse is the client's "process share" operation:
// parse the server's response, ECDH against the server's EC public key,
// decapsulate the server's KEM ciphertext, and concatenate
// classical-then-PQ.
func ProcessHybridServerResponse(p Provider, client *HybridClientShare, format WireFormat, serverResponse []byte) ([]byte, error) {
	serverECPub, ciphertext, err := decodeHybridPayload(format, client.Group, hybridResponse, serverResponse)
	if err != nil {
		return nil, err
	}

	ecShared, err := p.ECDH(client.Group.Curve, client.ECPriv, serverECPub)
	if err != nil {
		return nil, err
	}

	kemShared, err := p.KEMDecapsulate(client.Group.Kem, client.KemPriv, ciphertext)
	if err != nil {
		return nil, err
	}

	return concatSecret(ecShared, kemShared), nil
}

// concatSecret implements the fixed ordering from spec.md §4.5: classical
// secret first, PQ secret second.
func concatSecret(ecShared, kemShared []byte) []byte {
	out := make([]byte, 0, len(ecShared)+len(kemShared))
	out = append(out, ecShared...)
	out = append(out, kemShared...)
	return out
}

// ClassicalShare is the non-hybrid fallback: a plain ECDHE key share, used
// when selection falls through to a classical curve (spec.md §4.3 step 3).
type ClassicalShare struct {
	Curve EcCurve
	Priv  []byte
	Entry KeyShareEntry
}

// GenerateClassicalShare produces an ECDHE keypair for curve c.
func GenerateClassicalShare(p Provider, rand io.Reader, c EcCurve) (*ClassicalShare, error) {
	priv, pub, err := p.ECDHKeygen(c, rand)
	if err != nil {
		return nil, err
	}
	return &ClassicalShare{Curve: c, Priv: priv, Entry: KeyShareEntry{GroupID: c.IanaID, Payload: pub}}, nil
}

// ProcessClassicalShare computes the (EC)DHE secret against a peer's
// classical public key.
func ProcessClassicalShare(p Provider, c EcCurve, priv []byte, peerPub []byte) ([]byte, error) {
	wantLen := ecPublicKeySize(c)
	if wantLen != 0 && len(peerPub) != wantLen {
		return nil, ErrDecodeError("kex: classical share for %s: want %d bytes, got %d", c.Name, wantLen, len(peerPub))
	}
	return p.ECDH(c, priv, peerPub)
}
