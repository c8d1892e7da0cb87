// Copyright 2024 Cloudflare, Inc. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package kex

// KeyExchangeGroup is the read-only summary of what a completed (or
// in-progress) handshake negotiated, per spec.md §6's observability API. It
// is a plain value so callers can log or export it without holding a
// reference into the HandshakeContext itself.
type KeyExchangeGroup struct {
	// IsHybrid is false for a classical-only negotiation.
	IsHybrid bool
	// Name is the KemGroup.Name for a hybrid selection, or the EcCurve.Name
	// for a classical one.
	Name string
	// GroupID is the IANA (or private-use) codepoint that was negotiated.
	GroupID uint16
	// HRR reports whether reaching this selection required a
	// HelloRetryRequest round trip.
	HRR bool
}

// GetKeyExchangeGroup reports what c has negotiated so far. Before
// selection completes it reports the zero value (IsHybrid false, Name "").
func GetKeyExchangeGroup(c *HandshakeContext) KeyExchangeGroup {
	if c.Negotiated.IsZero() {
		return KeyExchangeGroup{}
	}
	if c.Negotiated.IsHybrid() {
		g := c.Negotiated.Group()
		return KeyExchangeGroup{IsHybrid: true, Name: g.Name, GroupID: g.IanaID, HRR: c.flags.HasHRR()}
	}
	curve := c.Negotiated.Curve()
	return KeyExchangeGroup{Name: curve.Name, GroupID: curve.IanaID, HRR: c.flags.HasHRR()}
}

// GetKemGroupName returns the negotiated KemGroup's name, or "" if the
// negotiation selected a classical curve or has not completed.
func GetKemGroupName(c *HandshakeContext) string {
	if !c.Negotiated.IsHybrid() {
		return ""
	}
	return c.Negotiated.Group().Name
}

// GetCurve returns the negotiated classical EcCurve, or the zero EcCurve if
// the negotiation selected a hybrid group or has not completed. Mutually
// exclusive with GetKemGroupName: exactly one of the two is non-empty once
// negotiation completes. A hybrid group's classical component is available
// via KemGroup.Curve on the value GetKeyExchangeGroup/GetKemGroupName
// describe, not through this accessor.
func GetCurve(c *HandshakeContext) EcCurve {
	if c.Negotiated.IsZero() || c.Negotiated.IsHybrid() {
		return EcCurve{}
	}
	return c.Negotiated.Curve()
}
