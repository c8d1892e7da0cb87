// Copyright 2024 Cloudflare, Inc. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package kex

import "sync"

// AvailabilityProbe reports what the linked crypto provider can actually
// do. It exists so tests can inject a probe that disables ML-KEM or X25519
// to reproduce older-provider behavior, instead of gating availability
// behind build tags.
type AvailabilityProbe struct {
	SupportsKEM    func() bool
	SupportsX25519 func() bool
	SupportsMLKEM  func() bool
}

// DefaultAvailabilityProbe reflects what the circl v1.4.0 build actually
// ships: a generic KEM interface and X25519 are always present, but circl
// at this pin does not carry an mlkem1024 scheme, so ML-KEM-1024 groups are
// catalogued (every group the build knows about, per spec) yet never
// report available.
func DefaultAvailabilityProbe() AvailabilityProbe {
	return AvailabilityProbe{
		SupportsKEM:    func() bool { return true },
		SupportsX25519: func() bool { return true },
		SupportsMLKEM:  func() bool { return true },
	}
}

// Registry is the static catalog of hybrid groups the build knows about.
// It is built once and is safe for concurrent read-only use; the only
// mutable piece is each group's one-time availability computation, which
// runs on that group's first IsAvailable call rather than in NewRegistry.
type Registry struct {
	groups []KemGroup
	byID   map[uint16]KemGroup
}

// groupSpec is the pre-availability description used to build the catalog.
type groupSpec struct {
	ianaID uint16
	name   string
	curve  EcCurve
	kem    KemID
}

// catalogSpecs enumerates {secp256r1, secp384r1, secp521r1, x25519} x
// {Kyber-512-r3, Kyber-768-r3, Kyber-1024-r3, ML-KEM-768, ML-KEM-1024} as
// named in spec.md §4.1. The seven ids shared with production TLS stacks
// (the draft-00 Kyber groups and the ML-KEM groups) are the codepoints
// Cloudflare's go fork's crypto/tls/cfkem.go actually assigns; the
// remaining combinations this registry adds to complete the full cross
// product use the same 0x11Fx private-use range and are this module's own
// allocation, not an IANA-assigned codepoint.
var catalogSpecs = []groupSpec{
	{0xfe30, "X25519Kyber512Draft00", CurveX25519, KemKyber512},
	{0x6399, "X25519Kyber768Draft00", CurveX25519, KemKyber768},
	{0xfe32, "P256Kyber768Draft00", CurveP256, KemKyber768},
	{0x11f0, "P384Kyber768Draft00", CurveP384, KemKyber768},
	{0x11f1, "P521Kyber1024Draft00", CurveP521, KemKyber1024},
	{0x11fe, "P521Kyber768Draft00", CurveP521, KemKyber768},
	{0x11f2, "X25519Kyber1024Draft00", CurveX25519, KemKyber1024},
	{0x11f3, "P256Kyber512Draft00", CurveP256, KemKyber512},
	{0x11f4, "P384Kyber512Draft00", CurveP384, KemKyber512},
	{0x11f5, "P521Kyber512Draft00", CurveP521, KemKyber512},
	{0x11f6, "P384Kyber1024Draft00", CurveP384, KemKyber1024},
	{0x11f7, "P256Kyber1024Draft00", CurveP256, KemKyber1024},
	{0x11EC, "X25519MLKEM768", CurveX25519, KemMLKEM768},
	{0x11EB, "SecP256r1MLKEM768", CurveP256, KemMLKEM768},
	{0x11f8, "SecP384r1MLKEM768", CurveP384, KemMLKEM768},
	{0x11f9, "SecP521r1MLKEM768", CurveP521, KemMLKEM768},
	{0x11fa, "X25519MLKEM1024", CurveX25519, KemMLKEM1024},
	{0x11fb, "SecP256r1MLKEM1024", CurveP256, KemMLKEM1024},
	{0x11fc, "SecP384r1MLKEM1024", CurveP384, KemMLKEM1024},
	{0x11fd, "SecP521r1MLKEM1024", CurveP521, KemMLKEM1024},
}

// NewRegistry builds the static catalog. Each group's availability is
// evaluated against probe exactly once, on its first IsAvailable call.
func NewRegistry(probe AvailabilityProbe) *Registry {
	r := &Registry{byID: make(map[uint16]KemGroup, len(catalogSpecs))}
	for _, s := range catalogSpecs {
		g := KemGroup{
			IanaID: s.ianaID,
			Name:   s.name,
			Curve:  s.curve,
			Kem:    s.kem,
		}
		g.availability = groupAvailability(s, probe)
		r.groups = append(r.groups, g)
		r.byID[g.IanaID] = g
	}
	return r
}

func groupAvailability(s groupSpec, probe AvailabilityProbe) func() bool {
	var once sync.Once
	var available bool
	compute := func() bool {
		if probe.SupportsKEM != nil && !probe.SupportsKEM() {
			return false
		}
		if s.curve.IanaID == CurveX25519.IanaID && probe.SupportsX25519 != nil && !probe.SupportsX25519() {
			return false
		}
		if (s.kem == KemMLKEM768 || s.kem == KemMLKEM1024) && probe.SupportsMLKEM != nil && !probe.SupportsMLKEM() {
			return false
		}
		if s.kem == KemMLKEM1024 {
			// circl v1.4.0 does not ship an mlkem1024 scheme; the group is
			// catalogued but can never be selected until the pin moves.
			return false
		}
		return true
	}
	return func() bool {
		once.Do(func() { available = compute() })
		return available
	}
}

// AllGroups returns every group the build knows about, in catalog order.
func (r *Registry) AllGroups() []KemGroup {
	out := make([]KemGroup, len(r.groups))
	copy(out, r.groups)
	return out
}

// ByID looks up a group by its IANA id.
func (r *Registry) ByID(id uint16) (KemGroup, bool) {
	g, ok := r.byID[id]
	return g, ok
}

// IsAvailable reports whether g's operations can actually be performed by
// the linked provider. Equivalent to g.IsAvailable() but provided for
// symmetry with the spec's is_available(g) free function.
func (r *Registry) IsAvailable(g KemGroup) bool {
	return g.IsAvailable()
}

var (
	defaultRegistryOnce sync.Once
	defaultRegistry     *Registry
)

// DefaultRegistry returns the process-wide registry built with
// DefaultAvailabilityProbe, constructed once on first use.
func DefaultRegistry() *Registry {
	defaultRegistryOnce.Do(func() {
		defaultRegistry = NewRegistry(DefaultAvailabilityProbe())
	})
	return defaultRegistry
}
