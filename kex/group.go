// Copyright 2024 Cloudflare, Inc. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package kex

// EcCurve identifies a classical ECDHE curve by its IANA NamedGroup id.
//
// EcCurve values are immutable and process-lifetime; identity is IanaID.
type EcCurve struct {
	IanaID uint16
	Name   string
}

var (
	CurveX25519  = EcCurve{IanaID: 0x001d, Name: "x25519"}
	CurveP256    = EcCurve{IanaID: 0x0017, Name: "secp256r1"}
	CurveP384    = EcCurve{IanaID: 0x0018, Name: "secp384r1"}
	CurveP521    = EcCurve{IanaID: 0x0019, Name: "secp521r1"}
)

// KemID names one of the post-quantum KEMs the registry knows about.
type KemID int

const (
	KemKyber512 KemID = iota
	KemKyber768
	KemKyber1024
	KemMLKEM768
	KemMLKEM1024
)

func (k KemID) String() string {
	switch k {
	case KemKyber512:
		return "Kyber-512-r3"
	case KemKyber768:
		return "Kyber-768-r3"
	case KemKyber1024:
		return "Kyber-1024-r3"
	case KemMLKEM768:
		return "ML-KEM-768"
	case KemMLKEM1024:
		return "ML-KEM-1024"
	default:
		return "unknown-kem"
	}
}

// KemGroup is an immutable hybrid group record: a classical curve paired
// with a KEM, carrying the IANA group id the wire uses and a runtime
// availability predicate.
//
// Identity is IanaID, never the KemGroup value's address: two KemGroup
// values with the same IanaID are the same group, even if constructed
// independently (this lets tests build synthetic groups without touching
// package-level state).
type KemGroup struct {
	IanaID       uint16
	Name         string
	Curve        EcCurve
	Kem          KemID
	availability func() bool
}

// IsAvailable reports whether the linked crypto provider can actually
// perform this group's operations. For a registry-built group,
// availability is computed on the first call, not when the registry is
// constructed, and then cached; later calls are cheap and always return the
// same answer for the process's lifetime.
func (g KemGroup) IsAvailable() bool {
	if g.availability == nil {
		return true
	}
	return g.availability()
}

// SameGroup reports whether a and b name the same group by IANA identity.
func SameGroup(a, b KemGroup) bool {
	return a.IanaID == b.IanaID
}
