// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package bridge

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus metrics for one domain's coordinator.
type Metrics struct {
	messagesSent     *prometheus.CounterVec
	messagesReceived *prometheus.CounterVec
	messagesHeld     prometheus.Counter
	retriesStored    *prometheus.CounterVec
	cachedDeliveries prometheus.Counter
	recoveries       *prometheus.CounterVec
}

// NewMetrics creates and registers the metrics for domain. Several domains
// may share a registry.
func NewMetrics(reg prometheus.Registerer, domain uint32) *Metrics {
	labels := prometheus.Labels{"domain": strconv.FormatUint(uint64(domain), 10)}
	m := &Metrics{
		messagesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "omnipool_messages_sent_total",
			Help:        "Messages handed to the transport, labeled by kind.",
			ConstLabels: labels,
		}, []string{"kind"}),
		messagesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "omnipool_messages_received_total",
			Help:        "Inbound messages processed, labeled by kind.",
			ConstLabels: labels,
		}, []string{"kind"}),
		messagesHeld: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "omnipool_messages_held_total",
			Help:        "Committed messages the transport refused and that were held for resend.",
			ConstLabels: labels,
		}),
		retriesStored: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "omnipool_pending_retries_stored_total",
			Help:        "Remote steps that failed and were persisted for replay, labeled by retry kind.",
			ConstLabels: labels,
		}, []string{"kind"}),
		cachedDeliveries: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "omnipool_cached_deliveries_stored_total",
			Help:        "Recipient notifications that failed and were cached.",
			ConstLabels: labels,
		}),
		recoveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "omnipool_recoveries_total",
			Help:        "Recovery operations, labeled by operation and result.",
			ConstLabels: labels,
		}, []string{"op", "result"}),
	}
	reg.MustRegister(m.messagesSent, m.messagesReceived, m.messagesHeld, m.retriesStored, m.cachedDeliveries, m.recoveries)
	return m
}

func (m *Metrics) recovery(op string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.recoveries.WithLabelValues(op, result).Inc()
}
