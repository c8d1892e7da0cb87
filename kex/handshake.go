// Copyright 2024 Cloudflare, Inc. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package kex

import (
	"encoding/binary"
	"hash"
	"io"

	"github.com/rs/zerolog/log"
)

// Role is which side of the handshake a HandshakeContext plays.
type Role int

const (
	RoleClient Role = iota
	RoleServer
)

func (r Role) String() string {
	if r == RoleServer {
		return "server"
	}
	return "client"
}

// HandshakeState is the state machine's current position, per spec.md
// §4.4. Initial is EXPECT_CLIENT_HELLO (server) or SEND_CLIENT_HELLO
// (client); terminal is APPLICATION_DATA or ABORTED.
type HandshakeState int

const (
	StateExpectClientHello HandshakeState = iota
	StateSendClientHello
	StateSelecting
	StateSendHRR
	StateExpectClientHello2
	StateSelecting2
	StateAwaitingServerHello
	StateSendClientHello2
	StateAwaitingServerHello2
	StateSendServerHello
	StateDeriveHandshakeSecrets
	StateAwaitingFinished
	StateApplicationData
	StateAborted
)

func (s HandshakeState) String() string {
	switch s {
	case StateExpectClientHello:
		return "EXPECT_CLIENT_HELLO"
	case StateSendClientHello:
		return "SEND_CLIENT_HELLO"
	case StateSelecting:
		return "SELECTING"
	case StateSendHRR:
		return "SEND_HRR"
	case StateExpectClientHello2:
		return "EXPECT_CH2"
	case StateSelecting2:
		return "SELECTING2"
	case StateAwaitingServerHello:
		return "AWAITING_SERVER_HELLO"
	case StateSendClientHello2:
		return "SEND_CLIENT_HELLO2"
	case StateAwaitingServerHello2:
		return "AWAITING_SERVER_HELLO2"
	case StateSendServerHello:
		return "SEND_SERVER_HELLO"
	case StateDeriveHandshakeSecrets:
		return "DERIVE_HS_SECRETS"
	case StateAwaitingFinished:
		return "AWAITING_FINISHED"
	case StateApplicationData:
		return "APPLICATION_DATA"
	case StateAborted:
		return "ABORTED"
	default:
		return "UNKNOWN"
	}
}

// HandshakeTypeFlags is a bitset recording which handshake-shape facts have
// been observed. Modeling HRR as a single bit (rather than a separate
// state) keeps every "did an HRR happen?" query O(1) and keeps the main
// state enum small, per spec.md §9's design note.
type HandshakeTypeFlags uint8

const (
	FlagInitial           HandshakeTypeFlags = 1 << 0
	FlagHelloRetryRequest HandshakeTypeFlags = 1 << 1
)

func (f HandshakeTypeFlags) HasHRR() bool { return f&FlagHelloRetryRequest != 0 }

// HandshakeAction is a marker interface for side effects the driver asks
// the caller to perform, mirroring the mint-style action list pattern
// found in the retrieval pack (send this message, rekey in this
// direction) instead of the driver doing I/O itself.
type HandshakeAction interface{ isHandshakeAction() }

type SendClientHello struct{ Message ClientHello }
type SendHelloRetryRequest struct{ Message HelloRetryRequest }
type SendServerHello struct{ Message ServerHello }
type EmitChangeCipherSpec struct{}
type ConsumeChangeCipherSpec struct{}
type RekeyHandshakeTraffic struct {
	ClientSecret []byte
	ServerSecret []byte
}

func (SendClientHello) isHandshakeAction()        {}
func (SendHelloRetryRequest) isHandshakeAction()   {}
func (SendServerHello) isHandshakeAction()         {}
func (EmitChangeCipherSpec) isHandshakeAction()    {}
func (ConsumeChangeCipherSpec) isHandshakeAction() {}
func (RekeyHandshakeTraffic) isHandshakeAction()   {}

// ClientHello is the subset of the real message this core cares about:
// the key-exchange-relevant extensions. HybridDraftRevision stands in for
// whatever extension or codepoint convention signals which hybrid-KEM
// draft revision the client speaks; spec.md leaves the exact signaling
// mechanism undefined (§9), so it is modeled as an explicit field here.
type ClientHello struct {
	Random              [32]byte
	CipherSuites        []uint16
	SupportedGroups     []uint16
	KeyShares           []KeyShareEntry
	HybridDraftRevision HybridDraftRevision
}

func (ch ClientHello) marshalTranscript() []byte {
	out := make([]byte, 0, 64+len(ch.KeyShares)*64)
	out = append(out, ch.Random[:]...)
	out = append(out, byte(ch.HybridDraftRevision))
	for _, cs := range ch.CipherSuites {
		out = binary.BigEndian.AppendUint16(out, cs)
	}
	for _, g := range ch.SupportedGroups {
		out = binary.BigEndian.AppendUint16(out, g)
	}
	for _, ks := range ch.KeyShares {
		out = binary.BigEndian.AppendUint16(out, ks.GroupID)
		out = binary.BigEndian.AppendUint16(out, uint16(len(ks.Payload)))
		out = append(out, ks.Payload...)
	}
	return out
}

func (ch ClientHello) keyShareFor(groupID uint16) (KeyShareEntry, bool) {
	for _, ks := range ch.KeyShares {
		if ks.GroupID == groupID {
			return ks, true
		}
	}
	return KeyShareEntry{}, false
}

// HelloRetryRequest carries the group the server wants the client to
// retry with.
type HelloRetryRequest struct {
	SelectedGroup uint16
	CipherSuite   uint16
}

func (hrr HelloRetryRequest) marshalTranscript() []byte {
	out := make([]byte, 0, 4)
	out = binary.BigEndian.AppendUint16(out, hrr.SelectedGroup)
	out = binary.BigEndian.AppendUint16(out, hrr.CipherSuite)
	return out
}

// ServerHello carries the server's selection and its half of the key
// share.
type ServerHello struct {
	Random      [32]byte
	CipherSuite uint16
	KeyShare    KeyShareEntry // for a classical selection, the server's ECDHE public key for the named curve
}

func (sh ServerHello) marshalTranscript() []byte {
	out := make([]byte, 0, 40+len(sh.KeyShare.Payload))
	out = append(out, sh.Random[:]...)
	out = binary.BigEndian.AppendUint16(out, sh.CipherSuite)
	out = binary.BigEndian.AppendUint16(out, sh.KeyShare.GroupID)
	out = append(out, sh.KeyShare.Payload...)
	return out
}

// DerivedSecrets holds the three key-schedule outputs spec.md §8 requires
// to be byte-equal and non-zero on both peers.
type DerivedSecrets struct {
	ExtractSecret         []byte
	ClientHandshakeSecret []byte
	ServerHandshakeSecret []byte
}

// pendingOffer is the private half of a key share this side generated and
// is waiting to use once the peer responds.
type pendingOffer struct {
	groupID uint16
	hybrid  *HybridClientShare
	classic *ClassicalShare
}

// HandshakeContext is the mutable per-connection negotiation state. It is
// created per connection, mutated only by its owning driver goroutine, and
// is not safe for concurrent use — exactly one owner for its lifetime,
// matching crypto/tls.Conn's documented (not mutex-enforced) contract.
type HandshakeContext struct {
	Role     Role
	registry *Registry
	provider Provider
	rand     io.Reader
	hashID   HashID

	state HandshakeState
	flags HandshakeTypeFlags

	LocalPrefs PreferenceSet

	CipherSuite uint16

	peerOfferedGroups []uint16
	peerKeyShares     map[uint16]KeyShareEntry
	peerDraftRevision HybridDraftRevision

	Negotiated  Selected
	wireFormat  WireFormat
	transcript  hash.Hash
	pending     map[uint16]*pendingOffer
	clientHello ClientHello // most recent ClientHello sent; the first one is used to rebuild on HRR

	Derived DerivedSecrets
}

// NewServerContext creates a server-side context, initial state
// EXPECT_CLIENT_HELLO. Returns a KindUnavailable NegotiationError if
// localPrefs names a KEM group this build's crypto provider cannot
// actually perform.
func NewServerContext(r *Registry, p Provider, rand io.Reader, localPrefs PreferenceSet, cipherSuite uint16, h HashID) (*HandshakeContext, error) {
	if err := ValidatePreferenceSet(localPrefs); err != nil {
		return nil, err
	}
	return &HandshakeContext{
		Role:        RoleServer,
		registry:    r,
		provider:    p,
		rand:        rand,
		hashID:      h,
		state:       StateExpectClientHello,
		flags:       FlagInitial,
		LocalPrefs:  localPrefs,
		CipherSuite: cipherSuite,
		pending:     make(map[uint16]*pendingOffer),
	}, nil
}

// NewClientContext creates a client-side context, initial state
// SEND_CLIENT_HELLO. Returns a KindUnavailable NegotiationError if
// localPrefs names a KEM group this build's crypto provider cannot
// actually perform.
func NewClientContext(r *Registry, p Provider, rand io.Reader, localPrefs PreferenceSet, cipherSuite uint16, h HashID) (*HandshakeContext, error) {
	if err := ValidatePreferenceSet(localPrefs); err != nil {
		return nil, err
	}
	return &HandshakeContext{
		Role:        RoleClient,
		registry:    r,
		provider:    p,
		rand:        rand,
		hashID:      h,
		state:       StateSendClientHello,
		flags:       FlagInitial,
		LocalPrefs:  localPrefs,
		CipherSuite: cipherSuite,
		pending:     make(map[uint16]*pendingOffer),
	}, nil
}

func (c *HandshakeContext) State() HandshakeState       { return c.state }
func (c *HandshakeContext) Flags() HandshakeTypeFlags   { return c.flags }
func (c *HandshakeContext) WireFormat() WireFormat      { return c.wireFormat }

func (c *HandshakeContext) abort(err error) error {
	c.state = StateAborted
	c.zeroSecrets()
	if ne, ok := err.(*NegotiationError); ok {
		recordNegotiationError(ne.Kind)
	}
	log.Error().Str("role", c.Role.String()).Str("state", c.state.String()).Err(err).Msg("kex: handshake aborted")
	return err
}

// zeroSecrets overwrites secret-bearing memory before it becomes garbage,
// per spec.md §5's teardown requirement.
func (c *HandshakeContext) zeroSecrets() {
	wipe(c.Derived.ExtractSecret)
	wipe(c.Derived.ClientHandshakeSecret)
	wipe(c.Derived.ServerHandshakeSecret)
	for _, p := range c.pending {
		if p.hybrid != nil {
			wipe(p.hybrid.ECPriv)
			wipe(p.hybrid.KemPriv)
		}
		if p.classic != nil {
			wipe(p.classic.Priv)
		}
	}
}

// Close tears the context down, zeroing all secret material. Safe to call
// more than once.
func (c *HandshakeContext) Close() {
	c.zeroSecrets()
	c.state = StateAborted
}

func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

func (c *HandshakeContext) extendTranscript(msg []byte) {
	if c.transcript == nil {
		c.transcript = c.hashID.new()()
	}
	c.transcript.Write(msg)
}

func (c *HandshakeContext) transcriptSum() []byte {
	if c.transcript == nil {
		return c.hashID.new()().Sum(nil)
	}
	// Sum does not reset state; cloning isn't exposed by hash.Hash, so
	// callers only read the running transcript at points where nothing
	// further will be appended before the next read (the driver never
	// reads mid-message).
	return c.transcript.Sum(nil)
}

func buildPeerPreferenceSet(r *Registry, groups []uint16, rev HybridDraftRevision) PreferenceSet {
	var kemGroups []KemGroup
	var curves []EcCurve
	for _, id := range groups {
		if g, ok := r.ByID(id); ok {
			kemGroups = append(kemGroups, g)
			continue
		}
		if c, ok := curveByID(id); ok {
			curves = append(curves, c)
		}
	}
	return PreferenceSet{KemGroups: kemGroups, Curves: curves, HybridDraftRevision: rev}
}

func curveByID(id uint16) (EcCurve, bool) {
	for _, c := range []EcCurve{CurveX25519, CurveP256, CurveP384, CurveP521} {
		if c.IanaID == id {
			return c, true
		}
	}
	return EcCurve{}, false
}

func keyShareGroupSet(shares map[uint16]KeyShareEntry) map[uint16]bool {
	out := make(map[uint16]bool, len(shares))
	for id := range shares {
		out[id] = true
	}
	return out
}
