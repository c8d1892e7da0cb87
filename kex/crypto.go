// Copyright 2024 Cloudflare, Inc. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package kex

import (
	"crypto/ecdh"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/binary"
	"hash"
	"io"

	circlkem "github.com/cloudflare/circl/kem"
	"github.com/cloudflare/circl/kem/kyber/kyber1024"
	"github.com/cloudflare/circl/kem/kyber/kyber512"
	"github.com/cloudflare/circl/kem/kyber/kyber768"
	"github.com/cloudflare/circl/kem/mlkem/mlkem768"
	"golang.org/x/crypto/hkdf"
)

// HashID names the hash function a Provider uses for HKDF operations. Only
// the two hashes TLS 1.3 cipher suites actually use are modeled.
type HashID int

const (
	HashSHA256 HashID = iota
	HashSHA384
)

func (h HashID) new() func() hash.Hash {
	if h == HashSHA384 {
		return sha512.New384
	}
	return sha256.New
}

func (h HashID) size() int {
	if h == HashSHA384 {
		return 48
	}
	return 32
}

// Provider is the external crypto collaborator from spec.md §6. The
// negotiation core never implements ECDH, KEM, or HKDF itself — it only
// calls through this interface, so the primitive crypto can be swapped
// (e.g. for a fake in tests, or a different provider build) without
// touching any negotiation logic.
//
// Every operation fails fast on a provider error; implementations return
// that error already wrapped with ErrCryptoFailure, and callers pass it
// through unchanged.
type Provider interface {
	ECDHKeygen(curve EcCurve, rand io.Reader) (priv []byte, pub []byte, err error)
	ECDH(curve EcCurve, priv []byte, peerPub []byte) (shared []byte, err error)

	KEMKeygen(k KemID, rand io.Reader) (pub []byte, priv []byte, err error)
	KEMEncapsulate(k KemID, rand io.Reader, peerPub []byte) (ciphertext []byte, shared []byte, err error)
	KEMDecapsulate(k KemID, priv []byte, ciphertext []byte) (shared []byte, err error)

	HKDFExtract(h HashID, salt, ikm []byte) []byte
	HKDFExpandLabel(h HashID, secret []byte, label string, context []byte, length int) []byte

	SupportsEVPKEM() bool
	SupportsX25519() bool
	SupportsMLKEM() bool
}

// CirclProvider is the production Provider: classical ECDH via crypto/ecdh,
// post-quantum KEMs via github.com/cloudflare/circl, HKDF via
// golang.org/x/crypto/hkdf. It is grounded on the Cloudflare Go fork's
// crypto/tls/cfkem.go group-to-scheme dispatch, generalized from the
// pre-fused hybrid.Scheme objects cfkem.go uses to the separate classical
// and PQ primitives this core's wire-format logic needs to control
// independently.
type CirclProvider struct{}

var _ Provider = CirclProvider{}

func ecdhCurve(c EcCurve) (ecdh.Curve, bool) {
	switch c.IanaID {
	case CurveX25519.IanaID:
		return ecdh.X25519(), true
	case CurveP256.IanaID:
		return ecdh.P256(), true
	case CurveP384.IanaID:
		return ecdh.P384(), true
	case CurveP521.IanaID:
		return ecdh.P521(), true
	default:
		return nil, false
	}
}

func (CirclProvider) ECDHKeygen(curve EcCurve, rand io.Reader) ([]byte, []byte, error) {
	c, ok := ecdhCurve(curve)
	if !ok {
		return nil, nil, ErrCryptoFailure(errUnsupportedCurve(curve))
	}
	priv, err := c.GenerateKey(rand)
	if err != nil {
		return nil, nil, ErrCryptoFailure(err)
	}
	return priv.Bytes(), priv.PublicKey().Bytes(), nil
}

func (CirclProvider) ECDH(curve EcCurve, privBytes []byte, peerPubBytes []byte) ([]byte, error) {
	c, ok := ecdhCurve(curve)
	if !ok {
		return nil, ErrCryptoFailure(errUnsupportedCurve(curve))
	}
	priv, err := c.NewPrivateKey(privBytes)
	if err != nil {
		return nil, ErrCryptoFailure(err)
	}
	peerPub, err := c.NewPublicKey(peerPubBytes)
	if err != nil {
		return nil, ErrCryptoFailure(err)
	}
	shared, err := priv.ECDH(peerPub)
	if err != nil {
		return nil, ErrCryptoFailure(err)
	}
	return shared, nil
}

func circlScheme(k KemID) circlkem.Scheme {
	switch k {
	case KemKyber512:
		return kyber512.Scheme()
	case KemKyber768:
		return kyber768.Scheme()
	case KemKyber1024:
		return kyber1024.Scheme()
	case KemMLKEM768:
		return mlkem768.Scheme()
	default:
		return nil
	}
}

func (CirclProvider) KEMKeygen(k KemID, rand io.Reader) ([]byte, []byte, error) {
	scheme := circlScheme(k)
	if scheme == nil {
		return nil, nil, ErrCryptoFailure(errUnsupportedKEM(k))
	}
	seed := make([]byte, scheme.SeedSize())
	if _, err := io.ReadFull(rand, seed); err != nil {
		return nil, nil, ErrCryptoFailure(err)
	}
	pk, sk := scheme.DeriveKeyPair(seed)
	pubBytes, err := pk.MarshalBinary()
	if err != nil {
		return nil, nil, ErrCryptoFailure(err)
	}
	privBytes, err := sk.MarshalBinary()
	if err != nil {
		return nil, nil, ErrCryptoFailure(err)
	}
	return pubBytes, privBytes, nil
}

func (CirclProvider) KEMEncapsulate(k KemID, rand io.Reader, peerPubBytes []byte) ([]byte, []byte, error) {
	scheme := circlScheme(k)
	if scheme == nil {
		return nil, nil, ErrCryptoFailure(errUnsupportedKEM(k))
	}
	pk, err := scheme.UnmarshalBinaryPublicKey(peerPubBytes)
	if err != nil {
		return nil, nil, ErrCryptoFailure(err)
	}
	seed := make([]byte, scheme.EncapsulationSeedSize())
	if _, err := io.ReadFull(rand, seed); err != nil {
		return nil, nil, ErrCryptoFailure(err)
	}
	ct, ss, err := scheme.EncapsulateDeterministically(pk, seed)
	if err != nil {
		return nil, nil, ErrCryptoFailure(err)
	}
	return ct, ss, nil
}

func (CirclProvider) KEMDecapsulate(k KemID, privBytes []byte, ciphertext []byte) ([]byte, error) {
	scheme := circlScheme(k)
	if scheme == nil {
		return nil, ErrCryptoFailure(errUnsupportedKEM(k))
	}
	sk, err := scheme.UnmarshalBinaryPrivateKey(privBytes)
	if err != nil {
		return nil, ErrCryptoFailure(err)
	}
	ss, err := scheme.Decapsulate(sk, ciphertext)
	if err != nil {
		// Reported as KindCryptoFailure, which alertFor maps to alert
		// internal_error rather than anything more specific.
		return nil, ErrCryptoFailure(err)
	}
	return ss, nil
}

func (CirclProvider) HKDFExtract(h HashID, salt, ikm []byte) []byte {
	return hkdf.Extract(h.new(), ikm, salt)
}

// hkdfLabel encodes the RFC 8446 §7.1 HkdfLabel structure:
//
//	uint16 length;
//	opaque label<7..255> = "tls13 " + Label;
//	opaque context<0..255> = Context;
func hkdfLabel(length int, label string, context []byte) []byte {
	fullLabel := "tls13 " + label
	out := make([]byte, 0, 2+1+len(fullLabel)+1+len(context))
	out = binary.BigEndian.AppendUint16(out, uint16(length))
	out = append(out, byte(len(fullLabel)))
	out = append(out, fullLabel...)
	out = append(out, byte(len(context)))
	out = append(out, context...)
	return out
}

func (CirclProvider) HKDFExpandLabel(h HashID, secret []byte, label string, context []byte, length int) []byte {
	info := hkdfLabel(length, label, context)
	out := make([]byte, length)
	r := hkdf.Expand(h.new(), secret, info)
	if _, err := io.ReadFull(r, out); err != nil {
		// hkdf.Expand only fails when the requested length exceeds
		// 255*hashSize, which never happens for TLS 1.3 key-schedule
		// outputs; treat it as a provider invariant violation.
		panic(ErrCryptoFailure(err))
	}
	return out
}

func (CirclProvider) SupportsEVPKEM() bool  { return true }
func (CirclProvider) SupportsX25519() bool  { return true }
func (CirclProvider) SupportsMLKEM() bool   { return true }

func errUnsupportedCurve(c EcCurve) error {
	return &unsupportedPrimitiveError{what: "curve", name: c.Name}
}

func errUnsupportedKEM(k KemID) error {
	return &unsupportedPrimitiveError{what: "kem", name: k.String()}
}

type unsupportedPrimitiveError struct {
	what string
	name string
}

func (e *unsupportedPrimitiveError) Error() string {
	return "kex: unsupported " + e.what + " " + e.name
}

// hmacEqual is a constant-time equality check for secret-bearing byte
// slices (derived handshake secrets, MAC tags), used in place of
// bytes.Equal wherever comparing two such values is itself a point where a
// timing side channel could leak key material.
func hmacEqual(a, b []byte) bool {
	return hmac.Equal(a, b)
}
