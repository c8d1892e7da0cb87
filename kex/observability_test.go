// Copyright 2024 Cloudflare, Inc. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package kex

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestObservabilityBeforeNegotiationIsZero(t *testing.T) {
	r := newTestRegistry()
	c := newClient(t, r, &fakeProvider{}, &constantReader{seed: 1}, PreferenceSet{}, 0x1301, HashSHA256)

	kg := GetKeyExchangeGroup(c)
	require.False(t, kg.IsHybrid)
	require.Empty(t, kg.Name)
	require.Empty(t, GetKemGroupName(c))
	require.Equal(t, EcCurve{}, GetCurve(c))
}

// TestObservabilityMutualExclusion covers spec.md §8 invariant 5:
// get_kem_group_name is non-empty iff hybrid was negotiated, get_curve is
// non-empty iff classical was negotiated; GetCurve returns the zero EcCurve
// for a hybrid negotiation even though the hybrid group itself has a curve
// component (reachable only through KemGroup.Curve, not this accessor).
func TestObservabilityMutualExclusion(t *testing.T) {
	r := newTestRegistry()
	group := mustGroup(r, 0x6399)

	hybridCtx := newServer(t, r, &fakeProvider{}, &constantReader{seed: 1}, PreferenceSet{}, 0x1301, HashSHA256)
	hybridCtx.Negotiated = SelectedHybrid(group, false)
	require.NotEmpty(t, GetKemGroupName(hybridCtx))
	require.Equal(t, EcCurve{}, GetCurve(hybridCtx))
	kg := GetKeyExchangeGroup(hybridCtx)
	require.True(t, kg.IsHybrid)
	require.Equal(t, group.Name, kg.Name)

	classicalCtx := newServer(t, r, &fakeProvider{}, &constantReader{seed: 1}, PreferenceSet{}, 0x1301, HashSHA256)
	classicalCtx.Negotiated = SelectedClassical(CurveP384)
	require.Empty(t, GetKemGroupName(classicalCtx))
	require.Equal(t, "secp384r1", GetCurve(classicalCtx).Name)
	kg = GetKeyExchangeGroup(classicalCtx)
	require.False(t, kg.IsHybrid)
	require.Equal(t, "secp384r1", kg.Name)
}

func TestObservabilityReportsHRR(t *testing.T) {
	r := newTestRegistry()
	group := mustGroup(r, 0x6399)
	c := newServer(t, r, &fakeProvider{}, &constantReader{seed: 1}, PreferenceSet{}, 0x1301, HashSHA256)
	c.Negotiated = SelectedHybrid(group, false)
	c.flags |= FlagHelloRetryRequest

	kg := GetKeyExchangeGroup(c)
	require.True(t, kg.HRR)
}
