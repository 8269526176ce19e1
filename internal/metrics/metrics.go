// SPDX-License-Identifier: MIT

// Package metrics exposes the engine's prometheus instrumentation.
// Collectors are registered on the default registry; the daemon serves
// them on an optional local listener.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RechargesTotal counts recharge outcomes per service and result
	// (inserted, duplicate, failed).
	RechargesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "recargas_recharges_total",
		Help: "Recharge outcomes by service type and result.",
	}, []string{"service", "result"})

	// RechargedAmount accumulates pesos charged per service and provider.
	RechargedAmount = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "recargas_amount_pesos_total",
		Help: "Total recharged amount in pesos by service and provider.",
	}, []string{"service", "provider"})

	// WebserviceErrors counts provider call failures by provider and kind
	// (transport, credentials, domain).
	WebserviceErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "recargas_webservice_errors_total",
		Help: "Provider webservice failures by provider and error kind.",
	}, []string{"provider", "kind"})

	// LockAcquisitions counts lock manager outcomes (acquired, exists,
	// backend_error) per lock key, e.g. "pipeline:gps".
	LockAcquisitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "recargas_lock_acquisitions_total",
		Help: "Distributed lock acquisition outcomes by lock key.",
	}, []string{"key", "outcome"})

	// QueueDepth tracks auxiliary queue items pending DB insertion per
	// service.
	QueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "recargas_queue_pending_items",
		Help: "Auxiliary queue items awaiting DB confirmation.",
	}, []string{"service"})

	// PipelineTicks counts pipeline runs per service and terminal state
	// (completed, skipped, blocked, failed).
	PipelineTicks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "recargas_pipeline_ticks_total",
		Help: "Pipeline tick outcomes by service type.",
	}, []string{"service", "outcome"})

	// ProviderBalance is the last probed balance per provider.
	ProviderBalance = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "recargas_provider_balance_pesos",
		Help: "Last known provider balance in pesos.",
	}, []string{"provider"})
)
