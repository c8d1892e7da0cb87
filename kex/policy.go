// Copyright 2024 Cloudflare, Inc. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package kex

import "github.com/pkg/errors"

// HybridDraftRevision identifies the revision of the hybrid-PQ key-exchange
// draft a PreferenceSet's owner speaks. Only two revisions are modeled: 0
// (concatenated wire format) and 5 (length-prefixed wire format).
type HybridDraftRevision uint8

const (
	DraftRevision0 HybridDraftRevision = 0
	DraftRevision5 HybridDraftRevision = 5
)

// PreferenceSet is a named, versioned security policy: an ordered list of
// KEM groups (most preferred first), an ordered list of classical curves,
// and the hybrid-draft revision the policy's owner speaks.
//
// Order encodes priority. No duplicate IanaID may appear within either
// list; ValidatePreferenceSet checks this.
type PreferenceSet struct {
	Name                string
	KemGroups           []KemGroup
	Curves              []EcCurve
	HybridDraftRevision HybridDraftRevision
	MinTLSVersion       uint16
}

// ValidatePreferenceSet checks the no-duplicate-iana-id invariant and, per
// spec.md §7's KindUnavailable kind, rejects any listed KEM group whose
// runtime availability probe returns false — a misconfigured policy is
// caught at configuration time rather than surfacing mid-handshake as a
// confusing no-mutual-group failure.
func ValidatePreferenceSet(p PreferenceSet) error {
	seen := make(map[uint16]bool, len(p.KemGroups))
	for _, g := range p.KemGroups {
		if seen[g.IanaID] {
			return errors.Errorf("kex: duplicate kem group iana id %#04x in preference set %q", g.IanaID, p.Name)
		}
		seen[g.IanaID] = true
		if !g.IsAvailable() {
			return ErrUnavailable(g)
		}
	}
	seenCurve := make(map[uint16]bool, len(p.Curves))
	for _, c := range p.Curves {
		if seenCurve[c.IanaID] {
			return errors.Errorf("kex: duplicate curve iana id %#04x in preference set %q", c.IanaID, p.Name)
		}
		seenCurve[c.IanaID] = true
	}
	return nil
}

func mustGroup(r *Registry, id uint16) KemGroup {
	g, ok := r.ByID(id)
	if !ok {
		panic(errors.Errorf("kex: unknown group id %#04x in canonical policy", id))
	}
	return g
}

// DefaultPQPolicy is the current recommended policy: ML-KEM first, draft-5
// length-prefixed wire format, falling back through the Kyber round-3
// groups and then classical curves.
func DefaultPQPolicy(r *Registry) PreferenceSet {
	return PreferenceSet{
		Name: "default_pq",
		KemGroups: []KemGroup{
			mustGroup(r, 0x11EC), // X25519MLKEM768
			mustGroup(r, 0x11EB), // SecP256r1MLKEM768
			mustGroup(r, 0x6399), // X25519Kyber768Draft00
		},
		Curves:              []EcCurve{CurveX25519, CurveP256, CurveP384, CurveP521},
		HybridDraftRevision: DraftRevision5,
		MinTLSVersion:       0x0304,
	}
}

// Policy20250721 is a dated snapshot policy, same shape as DefaultPQPolicy
// but with a wider PQ group list: it adds SecP384r1MLKEM768 and
// P256Kyber768Draft00 to DefaultPQPolicy's three groups.
func Policy20250721(r *Registry) PreferenceSet {
	return PreferenceSet{
		Name: "20250721",
		KemGroups: []KemGroup{
			mustGroup(r, 0x11EC), // X25519MLKEM768
			mustGroup(r, 0x11EB), // SecP256r1MLKEM768
			mustGroup(r, 0x11f8), // SecP384r1MLKEM768
			mustGroup(r, 0x6399), // X25519Kyber768Draft00
			mustGroup(r, 0xfe32), // P256Kyber768Draft00
		},
		Curves:              []EcCurve{CurveX25519, CurveP256, CurveP384, CurveP521},
		HybridDraftRevision: DraftRevision5,
		MinTLSVersion:       0x0304,
	}
}

// PolicyPQTLS1v0 is a legacy concatenated-wire-format (draft-0) policy
// covering the original Kyber round-3 groups cfkem.go shipped first.
func PolicyPQTLS1v0(r *Registry) PreferenceSet {
	return PreferenceSet{
		Name: "PQ-TLS-1-0",
		KemGroups: []KemGroup{
			mustGroup(r, 0xfe30), // X25519Kyber512Draft00
		},
		Curves:              []EcCurve{CurveX25519, CurveP256},
		HybridDraftRevision: DraftRevision0,
		MinTLSVersion:       0x0304,
	}
}

// PolicyPQTLS1v1 extends PolicyPQTLS1v0 with the wider Kyber768 draft-0
// group while staying on the concatenated wire format.
func PolicyPQTLS1v1(r *Registry) PreferenceSet {
	return PreferenceSet{
		Name: "PQ-TLS-1-1",
		KemGroups: []KemGroup{
			mustGroup(r, 0x6399), // X25519Kyber768Draft00
			mustGroup(r, 0xfe32), // P256Kyber768Draft00
			mustGroup(r, 0xfe30), // X25519Kyber512Draft00
		},
		Curves:              []EcCurve{CurveX25519, CurveP256, CurveP384},
		HybridDraftRevision: DraftRevision0,
		MinTLSVersion:       0x0304,
	}
}

// PolicyClassicalOnly has no KEM groups at all: a peer running pre-PQ TLS
// 1.3, used by boundary scenarios #3 and #6 in spec.md §8.
func PolicyClassicalOnly() PreferenceSet {
	return PreferenceSet{
		Name:                "classical-only",
		KemGroups:           nil,
		Curves:              []EcCurve{CurveX25519, CurveP256, CurveP384, CurveP521},
		HybridDraftRevision: DraftRevision0,
		MinTLSVersion:       0x0304,
	}
}
