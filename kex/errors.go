// Copyright 2024 Cloudflare, Inc. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package kex

import (
	"fmt"

	"github.com/pkg/errors"
)

// Alert is a TLS 1.3 alert description, dispatched on the wire alongside a
// NegotiationError before the connection aborts.
type Alert uint8

const (
	AlertHandshakeFailure  Alert = 40
	AlertIllegalParameter  Alert = 47
	AlertDecodeError       Alert = 50
	AlertInternalError     Alert = 80
)

// Kind identifies one of the five non-recoverable negotiation error kinds
// from spec.md §7.
type Kind int

const (
	// KindNoMutualGroup: the selection engine found no intersection
	// between the peers' KEM groups and curves.
	KindNoMutualGroup Kind = iota
	// KindIllegalParameter: the peer sent a key share for a group it did
	// not list, or re-sent an invalid share after HRR.
	KindIllegalParameter
	// KindDecodeError: wire format mismatch, e.g. length-prefixed
	// expected but concatenated received, or a length overflow.
	KindDecodeError
	// KindCryptoFailure: the underlying primitive returned failure (KEM
	// decaps on a malformed ciphertext, ECDH point not on curve).
	KindCryptoFailure
	// KindUnavailable: the caller configured a group whose availability
	// probe returns false. Surfaced at configuration time, never during
	// the handshake itself.
	KindUnavailable
)

func (k Kind) String() string {
	switch k {
	case KindNoMutualGroup:
		return "no_mutual_group"
	case KindIllegalParameter:
		return "illegal_parameter"
	case KindDecodeError:
		return "decode_error"
	case KindCryptoFailure:
		return "crypto_failure"
	case KindUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// alertFor maps a Kind to the TLS alert the state machine dispatches on
// the wire before aborting. CryptoFailure always maps to internal_error,
// never a more specific alert, so a KEM decapsulation failure is
// indistinguishable on the wire from any other internal fault — per
// ML-KEM's requirement that decaps failure not be a side channel visible
// before MAC verification.
func alertFor(k Kind) Alert {
	switch k {
	case KindNoMutualGroup:
		return AlertHandshakeFailure
	case KindIllegalParameter:
		return AlertIllegalParameter
	case KindDecodeError:
		return AlertDecodeError
	case KindCryptoFailure:
		return AlertInternalError
	default:
		return AlertInternalError
	}
}

// NegotiationError is the single error type the handshake driver returns
// for all five non-recoverable kinds. It carries the TLS alert already
// dispatched on the wire and wraps the underlying cause with a stack,
// matching the wrap-with-stack idiom used throughout cloudflared's
// internal error handling.
type NegotiationError struct {
	Kind  Kind
	Alert Alert
	cause error
}

func newNegotiationError(kind Kind, format string, args ...interface{}) *NegotiationError {
	return &NegotiationError{
		Kind:  kind,
		Alert: alertFor(kind),
		cause: errors.Wrap(fmt.Errorf(format, args...), kind.String()),
	}
}

func (e *NegotiationError) Error() string {
	return e.cause.Error()
}

func (e *NegotiationError) Unwrap() error {
	return e.cause
}

// ErrNoMutualGroup reports that the selection engine found no intersection
// of KEM groups or curves between the two peers.
func ErrNoMutualGroup() *NegotiationError {
	return newNegotiationError(KindNoMutualGroup, "kex: no mutual key-exchange group or curve")
}

// ErrIllegalParameter reports a peer sending a key share inconsistent with
// its own advertised groups or with a prior HelloRetryRequest.
func ErrIllegalParameter(format string, args ...interface{}) *NegotiationError {
	return newNegotiationError(KindIllegalParameter, format, args...)
}

// ErrDecodeError reports a wire-format mismatch while parsing a key share.
func ErrDecodeError(format string, args ...interface{}) *NegotiationError {
	return newNegotiationError(KindDecodeError, format, args...)
}

// ErrCryptoFailure reports the underlying provider failing an ECDH or KEM
// operation.
func ErrCryptoFailure(cause error) *NegotiationError {
	e := newNegotiationError(KindCryptoFailure, "kex: crypto provider failure")
	e.cause = errors.Wrap(cause, "crypto_failure")
	return e
}

// ErrUnavailable reports the caller configuring a group whose availability
// probe returns false. Unlike the other four kinds this is raised at
// configuration time, never mid-handshake.
func ErrUnavailable(g KemGroup) *NegotiationError {
	return newNegotiationError(KindUnavailable, "kex: group %s (%#04x) is not available in this build", g.Name, g.IanaID)
}
