// Copyright 2024 Cloudflare, Inc. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

// Package kex implements the post-quantum hybrid key-exchange negotiation
// core of a TLS 1.3 handshake: the KEM-group registry, the
// preference-intersection selection engine, the HelloRetryRequest trigger
// policy, and the hybrid key-share wire format.
//
// The underlying primitives (ECDH, KEM encapsulate/decapsulate, HKDF) are
// not implemented here; they are consumed through the Provider interface in
// crypto.go. Certificate validation, record-layer framing, and session
// resumption live outside this package.
package kex
