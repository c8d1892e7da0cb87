// Copyright 2024 Cloudflare, Inc. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package kex

import "github.com/prometheus/client_golang/prometheus"

const (
	metricsNamespace = "kex"
	metricsSubsystem = "negotiation"
)

var (
	negotiationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "completed_total",
			Help:      "Completed key-exchange negotiations, by negotiated group and whether a HelloRetryRequest occurred.",
		},
		[]string{"group", "hybrid", "hrr"},
	)
	negotiationErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "errors_total",
			Help:      "Negotiations aborted, by NegotiationError kind.",
		},
		[]string{"kind"},
	)
)

func init() {
	prometheus.MustRegister(negotiationsTotal, negotiationErrorsTotal)
}

// recordNegotiationOutcome exports a completed handshake's negotiated group
// to negotiationsTotal. Called once, from Finish, after the context has
// reached APPLICATION_DATA.
func recordNegotiationOutcome(c *HandshakeContext) {
	kg := GetKeyExchangeGroup(c)
	negotiationsTotal.WithLabelValues(kg.Name, boolLabel(kg.IsHybrid), boolLabel(kg.HRR)).Inc()
}

// recordNegotiationError exports an aborted handshake's error kind to
// negotiationErrorsTotal. Called from abort whenever err is a
// *NegotiationError.
func recordNegotiationError(kind Kind) {
	negotiationErrorsTotal.WithLabelValues(kind.String()).Inc()
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
