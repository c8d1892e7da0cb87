// Copyright 2024 Cloudflare, Inc. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package kex

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// TestSelectBoundaryScenarios exercises the two-tier hybrid rule against
// the boundary shapes from spec.md §8: the 1-RTT fast path, an HRR forced
// by a deep preference match, and a client key share sent ahead of time for
// a non-top choice. Availability-driven fallback to classical and
// classical-only peers on both sides are covered by
// TestSelectUnavailableGroupFallsBackToClassical and
// TestSelectClassicalOnlyBothSides below.
func TestSelectBoundaryScenarios(t *testing.T) {
	r := newTestRegistry()
	x25519Kyber512 := mustGroup(r, 0xfe30)
	x25519Kyber768 := mustGroup(r, 0x6399)
	p256Kyber768 := mustGroup(r, 0xfe32)
	x25519MLKEM768 := mustGroup(r, 0x11EC)

	tests := []struct {
		name        string
		local       []KemGroup
		peer        []KemGroup
		keyShares   map[uint16]bool
		wantGroupID uint16
		wantHRR     bool
	}{
		{
			name:        "fast path: peer's top choice is mutual and came with a key share",
			local:       []KemGroup{x25519Kyber512, x25519MLKEM768},
			peer:        []KemGroup{x25519Kyber512},
			keyShares:   map[uint16]bool{x25519Kyber512.IanaID: true},
			wantGroupID: x25519Kyber512.IanaID,
			wantHRR:     false,
		},
		{
			name:        "deep match forces HRR: peer's top isn't locally supported, its key share is for something else",
			local:       []KemGroup{x25519MLKEM768, x25519Kyber512},
			peer:        []KemGroup{p256Kyber768, x25519Kyber512},
			keyShares:   map[uint16]bool{p256Kyber768.IanaID: true},
			wantGroupID: x25519Kyber512.IanaID,
			wantHRR:     true,
		},
		{
			name:        "deep match avoids HRR when the peer already sent a share for the fallback group",
			local:       []KemGroup{x25519MLKEM768, x25519Kyber768},
			peer:        []KemGroup{p256Kyber768, x25519Kyber768},
			keyShares:   map[uint16]bool{p256Kyber768.IanaID: true, x25519Kyber768.IanaID: true},
			wantGroupID: x25519Kyber768.IanaID,
			wantHRR:     false,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			res, err := Select(SelectionInput{
				Local:               PreferenceSet{KemGroups: tc.local, Curves: []EcCurve{CurveX25519}},
				Peer:                PreferenceSet{KemGroups: tc.peer, Curves: []EcCurve{CurveX25519}},
				PeerKeyShareGroups:  tc.keyShares,
				ClientDraftRevision: DraftRevision0,
			})
			require.NoError(t, err)
			require.True(t, res.Selected.IsHybrid())
			require.Equal(t, tc.wantGroupID, res.Selected.Group().IanaID)
			require.Equal(t, tc.wantHRR, res.RequiresHRR)
		})
	}
}

func TestSelectClassicalFastPath(t *testing.T) {
	res, err := Select(SelectionInput{
		Local: PreferenceSet{Curves: []EcCurve{CurveX25519, CurveP256, CurveP384, CurveP521}},
		Peer:  PreferenceSet{Curves: []EcCurve{CurveP384, CurveX25519}},
	})
	require.NoError(t, err)
	require.True(t, res.Selected.IsClassical())
	require.Equal(t, CurveP384.IanaID, res.Selected.Curve().IanaID)
	require.False(t, res.RequiresHRR)
}

func TestSelectClassicalDeepMatchRequiresHRR(t *testing.T) {
	res, err := Select(SelectionInput{
		Local: PreferenceSet{Curves: []EcCurve{CurveP256, CurveX25519, CurveP384}},
		Peer:  PreferenceSet{Curves: []EcCurve{CurveP521, CurveX25519}},
	})
	require.NoError(t, err)
	require.True(t, res.Selected.IsClassical())
	require.Equal(t, CurveX25519.IanaID, res.Selected.Curve().IanaID)
	require.True(t, res.RequiresHRR)
}

func TestSelectNoMutualGroup(t *testing.T) {
	_, err := Select(SelectionInput{
		Local: PreferenceSet{Curves: []EcCurve{CurveP256}},
		Peer:  PreferenceSet{Curves: []EcCurve{CurveP384}},
	})
	require.Error(t, err)
	var negErr *NegotiationError
	require.ErrorAs(t, err, &negErr)
	require.Equal(t, KindNoMutualGroup, negErr.Kind)
	require.Equal(t, AlertHandshakeFailure, negErr.Alert)
}

// TestSelectClassicalOnlyBothSides covers boundary scenario #6: a
// classical-only peer talking to a classical-only (or PQ-capable-but-
// disabled) local side.
func TestSelectClassicalOnlyBothSides(t *testing.T) {
	local := PolicyClassicalOnly()
	peer := PolicyClassicalOnly()
	res, err := Select(SelectionInput{Local: local, Peer: peer})
	require.NoError(t, err)
	require.True(t, res.Selected.IsClassical())
	require.False(t, res.RequiresHRR)
}

// TestSelectUnavailableGroupFallsBackToClassical covers boundary scenario
// #4's "or classical fallback if ML-KEM unavailable" branch: a probe that
// disables ML-KEM removes the only KEM group both sides offered, so
// Select falls through to the classical two-tier rule.
func TestSelectUnavailableGroupFallsBackToClassical(t *testing.T) {
	r := NewRegistry(AvailabilityProbe{
		SupportsKEM:    func() bool { return true },
		SupportsX25519: func() bool { return true },
		SupportsMLKEM:  func() bool { return false },
	})
	mlkem := mustGroup(r, 0x11EC)
	require.False(t, mlkem.IsAvailable())

	res, err := Select(SelectionInput{
		Local: PreferenceSet{KemGroups: []KemGroup{mlkem}, Curves: []EcCurve{CurveX25519}},
		Peer:  PreferenceSet{KemGroups: []KemGroup{mlkem}, Curves: []EcCurve{CurveX25519}},
		PeerKeyShareGroups: map[uint16]bool{mlkem.IanaID: true},
	})
	require.NoError(t, err)
	require.True(t, res.Selected.IsClassical())
	require.Equal(t, CurveX25519.IanaID, res.Selected.Curve().IanaID)
}

// TestSelectMLKEM1024AlwaysUnavailable documents the concrete trigger for
// KindUnavailable: circl v1.4.0 does not ship an mlkem1024 scheme, so the
// registry hardcodes these groups unavailable regardless of probe.
func TestSelectMLKEM1024AlwaysUnavailable(t *testing.T) {
	r := newTestRegistry()
	g, ok := r.ByID(0x11fa) // X25519MLKEM1024
	require.True(t, ok)
	require.False(t, g.IsAvailable())
}

func TestSelectWireFormatFollowsClientDraftRevision(t *testing.T) {
	r := newTestRegistry()
	group := mustGroup(r, 0xfe30)

	for _, tc := range []struct {
		rev             HybridDraftRevision
		wantLenPrefixed bool
	}{
		{DraftRevision0, false},
		{DraftRevision5, true},
	} {
		res, err := Select(SelectionInput{
			Local:               PreferenceSet{KemGroups: []KemGroup{group}, Curves: []EcCurve{CurveX25519}},
			Peer:                PreferenceSet{KemGroups: []KemGroup{group}, Curves: []EcCurve{CurveX25519}},
			PeerKeyShareGroups:  map[uint16]bool{group.IanaID: true},
			ClientDraftRevision: tc.rev,
		})
		require.NoError(t, err)
		require.Equal(t, tc.wantLenPrefixed, res.Selected.LenPrefixed())
	}
}

// TestSelectIsPure asserts running the selection engine twice on the same
// input yields identical output (spec.md §8's round-trip property). The
// results are compared field by field: KemGroup carries a func-valued
// availability field, which reflect.DeepEqual never treats as equal.
func TestSelectIsPure(t *testing.T) {
	r := newTestRegistry()
	group := mustGroup(r, 0x6399)
	in := SelectionInput{
		Local:               PreferenceSet{KemGroups: []KemGroup{group}, Curves: []EcCurve{CurveX25519}},
		Peer:                PreferenceSet{KemGroups: []KemGroup{group}, Curves: []EcCurve{CurveX25519}},
		PeerKeyShareGroups:  map[uint16]bool{group.IanaID: true},
		ClientDraftRevision: DraftRevision0,
	}
	first, err := Select(in)
	require.NoError(t, err)
	second, err := Select(in)
	require.NoError(t, err)
	require.Equal(t, first.RequiresHRR, second.RequiresHRR)
	require.Equal(t, first.Selected.IsHybrid(), second.Selected.IsHybrid())
	require.Equal(t, first.Selected.Group().IanaID, second.Selected.Group().IanaID)
	require.Equal(t, first.Selected.LenPrefixed(), second.Selected.LenPrefixed())
}
