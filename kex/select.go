// Copyright 2024 Cloudflare, Inc. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package kex

// WireFormat identifies how a hybrid key share's classical and PQ
// components are laid out on the wire.
type WireFormat int

const (
	// WireConcatenated is ec_share || kem_share with no length fields
	// (draft-0). Component lengths are implied by the negotiated group.
	WireConcatenated WireFormat = iota
	// WireLengthPrefixed is len(ec) || ec_share || len(kem) || kem_share
	// (draft-5).
	WireLengthPrefixed
	// wireNone is the zero value for a Classical selection, where no
	// hybrid wire format question applies.
	wireNone = WireConcatenated
)

// selectedKind distinguishes the two Selected variants. Selected is Go's
// approximation of the sum type in spec.md §3: exactly one of Hybrid or
// Classical is ever populated, enforced by only constructing Selected
// through SelectedHybrid/SelectedClassical, never by literal.
type selectedKind int

const (
	selectedNone selectedKind = iota
	selectedHybrid
	selectedClassical
)

// Selected is the outcome of the selection engine: either a hybrid KEM
// group or a classical curve, never both, never neither, once set.
type Selected struct {
	kind        selectedKind
	group       KemGroup
	lenPrefixed bool
	curve       EcCurve
}

// SelectedHybrid builds a Selected naming a hybrid KEM group.
func SelectedHybrid(g KemGroup, lenPrefixed bool) Selected {
	return Selected{kind: selectedHybrid, group: g, lenPrefixed: lenPrefixed}
}

// SelectedClassical builds a Selected naming a classical curve.
func SelectedClassical(c EcCurve) Selected {
	return Selected{kind: selectedClassical, curve: c}
}

// IsHybrid reports whether a hybrid KEM group was selected.
func (s Selected) IsHybrid() bool { return s.kind == selectedHybrid }

// IsClassical reports whether a classical curve was selected.
func (s Selected) IsClassical() bool { return s.kind == selectedClassical }

// IsZero reports whether no selection has been made yet.
func (s Selected) IsZero() bool { return s.kind == selectedNone }

// Group returns the selected hybrid group; only valid when IsHybrid.
func (s Selected) Group() KemGroup { return s.group }

// LenPrefixed reports the selected hybrid group's wire format; only valid
// when IsHybrid. len_prefixed = (client.hybrid_draft_revision == 5).
func (s Selected) LenPrefixed() bool { return s.lenPrefixed }

// Curve returns the selected classical curve; only valid when IsClassical.
func (s Selected) Curve() EcCurve { return s.curve }

// WireFormat returns the wire format implied by this selection. Only
// meaningful for a hybrid selection.
func (s Selected) WireFormat() WireFormat {
	if s.lenPrefixed {
		return WireLengthPrefixed
	}
	return WireConcatenated
}

// SelectionInput bundles the inputs the selection engine needs: the two
// preference sets, plus (server-side) which of the peer's offered groups
// actually arrived with a key share attached. The driver calls Select only
// on the server side, when a ClientHello arrives.
type SelectionInput struct {
	Local PreferenceSet
	Peer  PreferenceSet
	// PeerKeyShareGroups is the set of group ids the peer actually sent a
	// key_share entry for (not merely listed in supported_groups).
	PeerKeyShareGroups map[uint16]bool
	// ClientDraftRevision is the hybrid-draft revision of whichever side
	// is playing the client role in this negotiation — the client is
	// authoritative for the wire format (spec.md §4.3), regardless of
	// whether Select is being called from the client or the server side.
	ClientDraftRevision HybridDraftRevision
}

// SelectionResult is the selection engine's pure output.
type SelectionResult struct {
	Selected    Selected
	RequiresHRR bool
}

// Select runs the server-side preference-intersection algorithm from
// spec.md §4.3. It is a pure function: same input always yields the same
// output, and it performs no I/O and mutates nothing.
//
// Availability is checked exactly once per candidate — when building the
// filtered local/peer candidate lists below — never again inside the scan
// loop, resolving the redundant-double-check open question in spec.md §9.
func Select(in SelectionInput) (SelectionResult, error) {
	local := filterAvailable(in.Local.KemGroups)
	peer := filterAvailable(in.Peer.KemGroups)

	if len(peer) > 0 && len(local) > 0 {
		if res, ok := selectHybrid(local, peer, in.PeerKeyShareGroups, in.ClientDraftRevision); ok {
			return res, nil
		}
	}

	return selectClassical(in.Local.Curves, in.Peer.Curves)
}

func filterAvailable(groups []KemGroup) []KemGroup {
	out := make([]KemGroup, 0, len(groups))
	seen := make(map[uint16]bool, len(groups))
	for _, g := range groups {
		if seen[g.IanaID] {
			continue // duplicates: earliest-indexed occurrence wins
		}
		seen[g.IanaID] = true
		if g.IsAvailable() {
			out = append(out, g)
		}
	}
	return out
}

// selectHybrid implements the two-tier hybrid rule. C = peer's available
// groups (client-offered order), S = local's available groups (server
// preference order).
func selectHybrid(local, peer []KemGroup, peerKeyShareGroups map[uint16]bool, clientRev HybridDraftRevision) (SelectionResult, bool) {
	lenPrefixed := clientRev == DraftRevision5

	// Step 1: 1-RTT fast path. If the peer's top choice is also locally
	// supported and the peer actually sent a key share for it, take it
	// immediately without regard to the server's own preference order —
	// avoiding an HRR round trip is worth more than the marginal
	// preference gain.
	top := peer[0]
	if peerKeyShareGroups[top.IanaID] {
		if local0, ok := findByID(local, top.IanaID); ok {
			return SelectionResult{Selected: SelectedHybrid(local0, lenPrefixed)}, true
		}
	}

	// Step 2: scan S (local preference order); for each s, look for a
	// match anywhere in C[1:]. The peer listing it (even without a key
	// share) is enough to select it — it just costs an HRR round trip.
	for _, s := range local {
		if _, ok := findByID(peer[1:], s.IanaID); ok {
			requiresHRR := !peerKeyShareGroups[s.IanaID]
			return SelectionResult{Selected: SelectedHybrid(s, lenPrefixed), RequiresHRR: requiresHRR}, true
		}
	}

	return SelectionResult{}, false
}

func findByID(groups []KemGroup, id uint16) (KemGroup, bool) {
	for _, g := range groups {
		if g.IanaID == id {
			return g, true
		}
	}
	return KemGroup{}, false
}

// selectClassical is the classical ECDHE fallback: the same two-tier
// preference order, applied to the curves lists, but without consulting
// key shares. The peer's top curve is taken without HRR whenever it is
// mutual, whether or not the peer sent a share for it, and a deeper match
// always sets RequiresHRR. Curves have no availability predicate of
// their own (every build that links this package can do ECDH on the four
// catalogued curves), so there's no availability filter here.
func selectClassical(local, peer []EcCurve) (SelectionResult, error) {
	dedupedLocal := dedupCurves(local)
	dedupedPeer := dedupCurves(peer)

	if len(dedupedPeer) == 0 || len(dedupedLocal) == 0 {
		return SelectionResult{}, ErrNoMutualGroup()
	}

	top := dedupedPeer[0]
	if _, ok := findCurveByID(dedupedLocal, top.IanaID); ok {
		return SelectionResult{Selected: SelectedClassical(top)}, nil
	}

	for _, s := range dedupedLocal {
		if c, ok := findCurveByID(dedupedPeer[1:], s.IanaID); ok {
			return SelectionResult{Selected: SelectedClassical(c), RequiresHRR: true}, nil
		}
	}

	return SelectionResult{}, ErrNoMutualGroup()
}

func dedupCurves(curves []EcCurve) []EcCurve {
	out := make([]EcCurve, 0, len(curves))
	seen := make(map[uint16]bool, len(curves))
	for _, c := range curves {
		if seen[c.IanaID] {
			continue
		}
		seen[c.IanaID] = true
		out = append(out, c)
	}
	return out
}

func findCurveByID(curves []EcCurve, id uint16) (EcCurve, bool) {
	for _, c := range curves {
		if c.IanaID == id {
			return c, true
		}
	}
	return EcCurve{}, false
}
