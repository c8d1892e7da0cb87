// Copyright 2024 Cloudflare, Inc. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package kex

import (
	"bytes"
	"crypto/sha256"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

// fakeProvider is a deterministic stand-in for CirclProvider: "ECDH" and
// "KEM" here are not cryptographically meaningful, only consistent between
// the two sides of a simulated handshake, which is all the negotiation
// core's own tests need to assert (secret agreement, wire-format framing,
// error propagation). Real primitive correctness is CirclProvider's
// concern, not this package's.
type fakeProvider struct {
	unsupportedCurve *EcCurve
	unsupportedKEM   *KemID
}

var _ Provider = (*fakeProvider)(nil)

func fixedSizeFor(curve EcCurve) int {
	switch curve.IanaID {
	case CurveX25519.IanaID:
		return 32
	case CurveP256.IanaID:
		return 65
	case CurveP384.IanaID:
		return 97
	case CurveP521.IanaID:
		return 133
	default:
		return 32
	}
}

func kemSizesFor(k KemID) (pubSize, ctSize, ssSize int) {
	switch k {
	case KemKyber512:
		return 800, 768, 32
	case KemKyber768:
		return 1184, 1088, 32
	case KemKyber1024:
		return 1568, 1568, 32
	case KemMLKEM768:
		return 1184, 1088, 32
	case KemMLKEM1024:
		return 1568, 1568, 32
	default:
		return 32, 32, 32
	}
}

func (p *fakeProvider) ECDHKeygen(curve EcCurve, rand io.Reader) ([]byte, []byte, error) {
	if p.unsupportedCurve != nil && p.unsupportedCurve.IanaID == curve.IanaID {
		return nil, nil, ErrCryptoFailure(errUnsupportedCurve(curve))
	}
	size := fixedSizeFor(curve)
	priv := make([]byte, size)
	if _, err := io.ReadFull(rand, priv); err != nil {
		return nil, nil, ErrCryptoFailure(err)
	}
	pub := resize(fakeDerive(priv, "ecdh-pub"), size)
	return priv, pub, nil
}

func (p *fakeProvider) ECDH(curve EcCurve, priv []byte, peerPub []byte) ([]byte, error) {
	if p.unsupportedCurve != nil && p.unsupportedCurve.IanaID == curve.IanaID {
		return nil, ErrCryptoFailure(errUnsupportedCurve(curve))
	}
	// Real ECDH is commutative in the two sides' public keys; this fake
	// recomputes its own public key from priv and sorts the pair before
	// hashing so both peers land on the same shared secret without any
	// real group structure.
	ownPub := resize(fakeDerive(priv, "ecdh-pub"), len(peerPub))
	a, b := ownPub, peerPub
	if bytes.Compare(a, b) > 0 {
		a, b = b, a
	}
	return fakeCombine("ecdh-shared", a, b), nil
}

func (p *fakeProvider) KEMKeygen(k KemID, rand io.Reader) ([]byte, []byte, error) {
	if p.unsupportedKEM != nil && *p.unsupportedKEM == k {
		return nil, nil, ErrCryptoFailure(errUnsupportedKEM(k))
	}
	pubSize, _, _ := kemSizesFor(k)
	priv := make([]byte, 32)
	if _, err := io.ReadFull(rand, priv); err != nil {
		return nil, nil, ErrCryptoFailure(err)
	}
	pub := fakeDerive(priv, "kem-pub")
	return resize(pub, pubSize), priv, nil
}

// KEMEncapsulate packs a random 16-byte nonce as the first bytes of the
// ciphertext (padded out to ctSize) so KEMDecapsulate can recover it
// without needing the real algebraic structure this fake stands in for.
func (p *fakeProvider) KEMEncapsulate(k KemID, rand io.Reader, peerPub []byte) ([]byte, []byte, error) {
	if p.unsupportedKEM != nil && *p.unsupportedKEM == k {
		return nil, nil, ErrCryptoFailure(errUnsupportedKEM(k))
	}
	_, ctSize, ssSize := kemSizesFor(k)
	nonce := make([]byte, 16)
	if _, err := io.ReadFull(rand, nonce); err != nil {
		return nil, nil, ErrCryptoFailure(err)
	}
	ct := make([]byte, ctSize)
	copy(ct, nonce)
	ss := resize(fakeCombine("kem-ss", peerPub, nonce), ssSize)
	return ct, ss, nil
}

func (p *fakeProvider) KEMDecapsulate(k KemID, priv []byte, ciphertext []byte) ([]byte, error) {
	if p.unsupportedKEM != nil && *p.unsupportedKEM == k {
		return nil, ErrCryptoFailure(errUnsupportedKEM(k))
	}
	if len(ciphertext) < 16 {
		return nil, ErrCryptoFailure(errMalformedCiphertext{})
	}
	pubSize, _, ssSize := kemSizesFor(k)
	pub := resize(fakeDerive(priv, "kem-pub"), pubSize)
	nonce := ciphertext[:16]
	return resize(fakeCombine("kem-ss", pub, nonce), ssSize), nil
}

func (p *fakeProvider) HKDFExtract(h HashID, salt, ikm []byte) []byte {
	return CirclProvider{}.HKDFExtract(h, salt, ikm)
}

func (p *fakeProvider) HKDFExpandLabel(h HashID, secret []byte, label string, context []byte, length int) []byte {
	return CirclProvider{}.HKDFExpandLabel(h, secret, label, context, length)
}

func (p *fakeProvider) SupportsEVPKEM() bool { return p.unsupportedKEM == nil }
func (p *fakeProvider) SupportsX25519() bool { return true }
func (p *fakeProvider) SupportsMLKEM() bool  { return true }

type errMalformedCiphertext struct{}

func (errMalformedCiphertext) Error() string { return "fakeProvider: ciphertext shorter than 16 bytes" }

func fakeDerive(seed []byte, domain string) []byte {
	h := sha256.Sum256(append([]byte(domain+":"), seed...))
	return h[:]
}

func fakeCombine(domain string, a, b []byte) []byte {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write(a)
	h.Write(b)
	return h.Sum(nil)
}

func resize(b []byte, n int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = b[i%len(b)]
	}
	return out
}

// constantReader yields the same repeating byte sequence forever; handshake
// tests use it where output needs to be deterministic across runs (the
// actual random bytes consumed don't affect secret agreement, only the
// Random fields and keygen seeds, none of which this package's invariants
// depend on being unpredictable in tests).
type constantReader struct{ seed byte }

func (r *constantReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = r.seed
		r.seed++
	}
	return len(p), nil
}

// newClient and newServer wrap NewClientContext/NewServerContext for tests
// that don't exercise the KindUnavailable configuration-time rejection
// path themselves — the preference sets they build are always available
// under newTestRegistry's all-true probe, so a construction error here
// indicates a test bug, not an expected outcome.
func newClient(t *testing.T, r *Registry, p Provider, rand io.Reader, prefs PreferenceSet, cipherSuite uint16, h HashID) *HandshakeContext {
	t.Helper()
	c, err := NewClientContext(r, p, rand, prefs, cipherSuite, h)
	require.NoError(t, err)
	return c
}

func newServer(t *testing.T, r *Registry, p Provider, rand io.Reader, prefs PreferenceSet, cipherSuite uint16, h HashID) *HandshakeContext {
	t.Helper()
	c, err := NewServerContext(r, p, rand, prefs, cipherSuite, h)
	require.NoError(t, err)
	return c
}

func newTestRegistry() *Registry {
	return NewRegistry(AvailabilityProbe{
		SupportsKEM:    func() bool { return true },
		SupportsX25519: func() bool { return true },
		SupportsMLKEM:  func() bool { return true },
	})
}
