// Copyright 2024 Cloudflare, Inc. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package kex

import (
	"io"

	"github.com/rs/zerolog/log"
)

// ClientOffer builds the first ClientHello: a key share for the most
// preferred hybrid group (if any) plus one for the most preferred
// classical curve, sent together for fallback compatibility with a server
// that only understands classical groups — the same "send both" shape the
// retrieval pack's uTLS fork demonstrates for its hybrid ClientHello
// fingerprints.
func (c *HandshakeContext) ClientOffer() (ClientHello, error) {
	if c.Role != RoleClient || c.state != StateSendClientHello {
		return ClientHello{}, ErrIllegalParameter("kex: ClientOffer called in state %s", c.state)
	}

	ch := ClientHello{
		CipherSuites:        []uint16{c.CipherSuite},
		HybridDraftRevision: c.LocalPrefs.HybridDraftRevision,
	}
	if _, err := io.ReadFull(c.rand, ch.Random[:]); err != nil {
		return ClientHello{}, c.abort(ErrCryptoFailure(err))
	}

	for _, g := range c.LocalPrefs.KemGroups {
		ch.SupportedGroups = append(ch.SupportedGroups, g.IanaID)
	}
	for _, curve := range c.LocalPrefs.Curves {
		ch.SupportedGroups = append(ch.SupportedGroups, curve.IanaID)
	}

	if len(c.LocalPrefs.KemGroups) > 0 {
		g := c.LocalPrefs.KemGroups[0]
		format := wireFormatFor(c.LocalPrefs.HybridDraftRevision)
		offer, err := GenerateHybridClientOffer(c.provider, c.rand, g, format)
		if err != nil {
			return ClientHello{}, c.abort(err)
		}
		c.pending[g.IanaID] = &pendingOffer{groupID: g.IanaID, hybrid: offer}
		ch.KeyShares = append(ch.KeyShares, offer.Entry)
	}
	if len(c.LocalPrefs.Curves) > 0 {
		curve := c.LocalPrefs.Curves[0]
		share, err := GenerateClassicalShare(c.provider, c.rand, curve)
		if err != nil {
			return ClientHello{}, c.abort(err)
		}
		c.pending[curve.IanaID] = &pendingOffer{groupID: curve.IanaID, classic: share}
		ch.KeyShares = append(ch.KeyShares, share.Entry)
	}

	c.clientHello = ch
	c.extendTranscript(ch.marshalTranscript())
	c.state = StateAwaitingServerHello
	return ch, nil
}

func wireFormatFor(rev HybridDraftRevision) WireFormat {
	if rev == DraftRevision5 {
		return WireLengthPrefixed
	}
	return WireConcatenated
}

// ServerReceiveClientHello runs the selection engine against ch and
// returns the action the caller must take: send a HelloRetryRequest, or
// proceed to ServerHello.
func (c *HandshakeContext) ServerReceiveClientHello(ch ClientHello) ([]HandshakeAction, error) {
	switch c.state {
	case StateExpectClientHello:
		return c.serverHandleFirstClientHello(ch)
	case StateExpectClientHello2:
		return c.serverHandleSecondClientHello(ch)
	default:
		return nil, c.abort(ErrIllegalParameter("kex: unexpected ClientHello in state %s", c.state))
	}
}

func (c *HandshakeContext) serverHandleFirstClientHello(ch ClientHello) ([]HandshakeAction, error) {
	c.extendTranscript(ch.marshalTranscript())
	c.recordPeerHello(ch)
	c.state = StateSelecting

	res, err := Select(SelectionInput{
		Local:               c.LocalPrefs,
		Peer:                buildPeerPreferenceSet(c.registry, ch.SupportedGroups, ch.HybridDraftRevision),
		PeerKeyShareGroups:  keyShareGroupSet(c.peerKeyShares),
		ClientDraftRevision: ch.HybridDraftRevision,
	})
	if err != nil {
		return nil, c.abort(err)
	}
	c.Negotiated = res.Selected
	if res.Selected.IsHybrid() {
		c.wireFormat = res.Selected.WireFormat()
	}

	if res.RequiresHRR {
		c.flags |= FlagHelloRetryRequest
		hrr := HelloRetryRequest{SelectedGroup: negotiatedGroupID(res.Selected), CipherSuite: c.CipherSuite}
		c.extendTranscript(hrr.marshalTranscript())
		c.state = StateExpectClientHello2
		return []HandshakeAction{SendHelloRetryRequest{Message: hrr}, EmitChangeCipherSpec{}}, nil
	}

	return c.serverEmitServerHello()
}

func (c *HandshakeContext) serverHandleSecondClientHello(ch ClientHello) ([]HandshakeAction, error) {
	c.extendTranscript(ch.marshalTranscript())
	c.recordPeerHello(ch)
	c.state = StateSelecting2

	groupID := negotiatedGroupID(c.Negotiated)
	if _, ok := c.peerKeyShares[groupID]; !ok {
		return nil, c.abort(ErrIllegalParameter("kex: second ClientHello still missing key share for negotiated group %#04x", groupID))
	}

	return c.serverEmitServerHello()
}

func (c *HandshakeContext) recordPeerHello(ch ClientHello) {
	c.peerOfferedGroups = ch.SupportedGroups
	c.peerDraftRevision = ch.HybridDraftRevision
	if c.peerKeyShares == nil {
		c.peerKeyShares = make(map[uint16]KeyShareEntry)
	}
	for _, ks := range ch.KeyShares {
		c.peerKeyShares[ks.GroupID] = ks
	}
}

func negotiatedGroupID(s Selected) uint16 {
	if s.IsHybrid() {
		return s.Group().IanaID
	}
	return s.Curve().IanaID
}

func (c *HandshakeContext) serverEmitServerHello() ([]HandshakeAction, error) {
	groupID := negotiatedGroupID(c.Negotiated)
	clientEntry, ok := c.peerKeyShares[groupID]
	if !ok {
		return nil, c.abort(ErrIllegalParameter("kex: no client key share for negotiated group %#04x", groupID))
	}

	var secret []byte
	var responseEntry KeyShareEntry
	if c.Negotiated.IsHybrid() {
		resp, err := ProcessHybridClientOffer(c.provider, c.rand, c.Negotiated.Group(), c.wireFormat, clientEntry.Payload)
		if err != nil {
			return nil, c.abort(err)
		}
		secret = resp.Secret
		responseEntry = resp.Entry
	} else {
		curve := c.Negotiated.Curve()
		share, err := GenerateClassicalShare(c.provider, c.rand, curve)
		if err != nil {
			return nil, c.abort(err)
		}
		s, err := ProcessClassicalShare(c.provider, curve, share.Priv, clientEntry.Payload)
		if err != nil {
			return nil, c.abort(err)
		}
		secret = s
		responseEntry = share.Entry
	}

	sh := ServerHello{CipherSuite: c.CipherSuite, KeyShare: responseEntry}
	if _, err := io.ReadFull(c.rand, sh.Random[:]); err != nil {
		return nil, c.abort(ErrCryptoFailure(err))
	}
	c.extendTranscript(sh.marshalTranscript())
	c.state = StateSendServerHello

	if err := c.deriveHandshakeSecrets(secret); err != nil {
		return nil, c.abort(err)
	}

	actions := []HandshakeAction{SendServerHello{Message: sh}}
	if !c.flags.HasHRR() {
		actions = append(actions, EmitChangeCipherSpec{})
	}
	actions = append(actions, RekeyHandshakeTraffic{ClientSecret: c.Derived.ClientHandshakeSecret, ServerSecret: c.Derived.ServerHandshakeSecret})
	c.state = StateAwaitingFinished
	return actions, nil
}

// ClientReceiveHelloRetryRequest handles an HRR: regenerate a key share
// only for the indicated group, return the second ClientHello, and move to
// AWAITING_SERVER_HELLO2.
func (c *HandshakeContext) ClientReceiveHelloRetryRequest(hrr HelloRetryRequest) (ClientHello, error) {
	if c.state != StateAwaitingServerHello {
		return ClientHello{}, c.abort(ErrIllegalParameter("kex: unexpected HelloRetryRequest in state %s", c.state))
	}
	c.extendTranscript(hrr.marshalTranscript())
	c.flags |= FlagHelloRetryRequest
	c.state = StateSendClientHello2

	group, isKem := c.registry.ByID(hrr.SelectedGroup)
	ch := ClientHello{
		CipherSuites:        c.clientHello.CipherSuites,
		SupportedGroups:     c.clientHello.SupportedGroups,
		HybridDraftRevision: c.clientHello.HybridDraftRevision,
	}
	if _, err := io.ReadFull(c.rand, ch.Random[:]); err != nil {
		return ClientHello{}, c.abort(ErrCryptoFailure(err))
	}

	if isKem {
		format := wireFormatFor(c.LocalPrefs.HybridDraftRevision)
		offer, err := GenerateHybridClientOffer(c.provider, c.rand, group, format)
		if err != nil {
			return ClientHello{}, c.abort(err)
		}
		c.pending[group.IanaID] = &pendingOffer{groupID: group.IanaID, hybrid: offer}
		ch.KeyShares = []KeyShareEntry{offer.Entry}
		c.wireFormat = format
	} else {
		curve, ok := curveByID(hrr.SelectedGroup)
		if !ok {
			return ClientHello{}, c.abort(ErrIllegalParameter("kex: HelloRetryRequest names unknown group %#04x", hrr.SelectedGroup))
		}
		share, err := GenerateClassicalShare(c.provider, c.rand, curve)
		if err != nil {
			return ClientHello{}, c.abort(err)
		}
		c.pending[curve.IanaID] = &pendingOffer{groupID: curve.IanaID, classic: share}
		ch.KeyShares = []KeyShareEntry{share.Entry}
	}

	c.clientHello = ch
	c.extendTranscript(ch.marshalTranscript())
	c.state = StateAwaitingServerHello2
	return ch, nil
}

// ClientReceiveServerHello processes the server's key share, asserting the
// server's choice is consistent with whichever offer the client sent for
// it, then derives the handshake secrets.
func (c *HandshakeContext) ClientReceiveServerHello(sh ServerHello) ([]HandshakeAction, error) {
	if c.state != StateAwaitingServerHello && c.state != StateAwaitingServerHello2 {
		return nil, c.abort(ErrIllegalParameter("kex: unexpected ServerHello in state %s", c.state))
	}

	pending, ok := c.pending[sh.KeyShare.GroupID]
	if !ok {
		return nil, c.abort(ErrIllegalParameter("kex: ServerHello names group %#04x the client never offered", sh.KeyShare.GroupID))
	}

	var secret []byte
	if group, isKem := c.registry.ByID(sh.KeyShare.GroupID); isKem {
		if pending.hybrid == nil {
			return nil, c.abort(ErrIllegalParameter("kex: ServerHello names hybrid group %#04x but client offer for it was classical", sh.KeyShare.GroupID))
		}
		format := wireFormatFor(c.LocalPrefs.HybridDraftRevision)
		c.wireFormat = format
		c.Negotiated = SelectedHybrid(group, format == WireLengthPrefixed)
		s, err := ProcessHybridServerResponse(c.provider, pending.hybrid, format, sh.KeyShare.Payload)
		if err != nil {
			return nil, c.abort(err)
		}
		secret = s
	} else {
		curve, ok := curveByID(sh.KeyShare.GroupID)
		if !ok || pending.classic == nil {
			return nil, c.abort(ErrIllegalParameter("kex: ServerHello names unknown or mismatched curve %#04x", sh.KeyShare.GroupID))
		}
		c.Negotiated = SelectedClassical(curve)
		s, err := ProcessClassicalShare(c.provider, curve, pending.classic.Priv, sh.KeyShare.Payload)
		if err != nil {
			return nil, c.abort(err)
		}
		secret = s
	}

	c.extendTranscript(sh.marshalTranscript())

	if err := c.deriveHandshakeSecrets(secret); err != nil {
		return nil, c.abort(err)
	}

	actions := []HandshakeAction{ConsumeChangeCipherSpec{}, RekeyHandshakeTraffic{ClientSecret: c.Derived.ClientHandshakeSecret, ServerSecret: c.Derived.ServerHandshakeSecret}}
	c.state = StateAwaitingFinished
	return actions, nil
}

// Finish transitions a context that has exchanged Finished messages into
// APPLICATION_DATA. The core does not implement Finished verification
// itself (authentication is out of scope per spec.md §1); callers call
// Finish once their own Finished exchange succeeds.
func (c *HandshakeContext) Finish() error {
	if c.state != StateAwaitingFinished {
		return c.abort(ErrIllegalParameter("kex: Finish called in state %s", c.state))
	}
	c.state = StateApplicationData
	kg := GetKeyExchangeGroup(c)
	log.Info().Str("role", c.Role.String()).Str("group", kg.Name).Bool("hybrid", kg.IsHybrid).Bool("hrr", kg.HRR).Msg("kex: handshake complete")
	recordNegotiationOutcome(c)
	return nil
}

// deriveHandshakeSecrets implements the TLS 1.3 key schedule (RFC 8446
// §7.1) up through the handshake traffic secrets, using the (EC)DHE
// secret the key-share exchanger produced and the transcript hash
// accumulated so far.
func (c *HandshakeContext) deriveHandshakeSecrets(dheSecret []byte) error {
	hashSize := c.hashID.size()
	zeros := make([]byte, hashSize)

	earlySecret := c.provider.HKDFExtract(c.hashID, zeros, zeros)
	emptyHash := c.hashID.new()().Sum(nil)
	derived := c.provider.HKDFExpandLabel(c.hashID, earlySecret, "derived", emptyHash, hashSize)

	handshakeSecret := c.provider.HKDFExtract(c.hashID, derived, dheSecret)
	transcript := c.transcriptSum()

	clientHS := c.provider.HKDFExpandLabel(c.hashID, handshakeSecret, "c hs traffic", transcript, hashSize)
	serverHS := c.provider.HKDFExpandLabel(c.hashID, handshakeSecret, "s hs traffic", transcript, hashSize)

	if isAllZero(handshakeSecret) || isAllZero(clientHS) || isAllZero(serverHS) {
		return ErrCryptoFailure(errAllZeroSecret{})
	}

	c.Derived = DerivedSecrets{
		ExtractSecret:         handshakeSecret,
		ClientHandshakeSecret: clientHS,
		ServerHandshakeSecret: serverHS,
	}
	return nil
}

func isAllZero(b []byte) bool {
	if len(b) == 0 {
		return true
	}
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}

type errAllZeroSecret struct{}

func (errAllZeroSecret) Error() string { return "kex: derived secret is all-zero" }
