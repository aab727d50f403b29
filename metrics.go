// metrics.go
//
// This source file is part of the FoundationDB open source project
//
// Copyright 2021-2025 Apple Inc. and the FoundationDB project authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//

package main

import (
	"github.com/apple/foundationdb/fdbtracedebugger/internal/tracker"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	// kindLabel represents the kind of file label for the prometheus metrics.
	kindLabel = "kind"
	// bufferLabel represents the session buffer label for the prometheus metrics.
	bufferLabel = "buffer"
	// requestTypeLabel represents the client request type label for the prometheus metrics.
	requestTypeLabel = "type"
	// serviceLabel represents the service title label for the prometheus metrics.
	serviceLabel = "service"
	// namespace is the prometheus namespace for the metrics
	prometheusNamespace = "fdbtracedebugger"
	// activeSessionsMetricName represents the name of the active_sessions metric.
	activeSessionsMetricName = "active_sessions"
	// trackedServicesMetricName represents the name of the tracked_services metric.
	trackedServicesMetricName = "tracked_services"
	// serviceGenerationMetricName represents the name of the service_generation metric.
	serviceGenerationMetricName = "service_generation"
	// openReadersMetricName represents the name of the open_readers metric.
	openReadersMetricName = "open_readers"
	// recordsTailedMetricName represents the name of the records_tailed_total metric.
	recordsTailedMetricName = "records_tailed_total"
	// recordsDroppedMetricName represents the name of the records_dropped_total metric.
	recordsDroppedMetricName = "records_dropped_total"
	// framesSentMetricName represents the name of the frames_sent_total metric.
	framesSentMetricName = "frames_sent_total"
	// clientRequestsMetricName represents the name of the client_requests_total metric.
	clientRequestsMetricName = "client_requests_total"
	// generationChangesMetricName represents the name of the generation_changes_total metric.
	generationChangesMetricName = "generation_changes_total"
)

// metrics represents the custom prometheus metrics for the debugger.
type metrics struct {
	// activeSessions represents the number of connected clients.
	activeSessions prometheus.Gauge
	// trackedServices represents the number of services announced by marker files.
	trackedServices prometheus.Gauge
	// serviceGeneration represents the current generation of every tracked service.
	serviceGeneration *prometheus.GaugeVec
	// openReaders represents the number of open files per kind.
	openReaders *prometheus.GaugeVec
	// recordsTailed represents the total number of records read by the live tail per kind.
	recordsTailed *prometheus.CounterVec
	// recordsDropped represents the total number of records dropped because a session buffer was full.
	recordsDropped *prometheus.CounterVec
	// framesSent represents the total number of frames sent to clients per buffer.
	framesSent *prometheus.CounterVec
	// clientRequests represents the total number of decoded client requests per type.
	clientRequests *prometheus.CounterVec
	// generationChanges represents the total number of new service generations observed.
	generationChanges prometheus.Counter
}

// RecordDropped is called by a session when a record does not fit the buffer.
func (metrics *metrics) RecordDropped(buffer string) {
	metrics.recordsDropped.With(prometheus.Labels{bufferLabel: buffer}).Inc()
}

// FrameSent is called by a session after a frame was sent.
func (metrics *metrics) FrameSent(buffer string) {
	metrics.framesSent.With(prometheus.Labels{bufferLabel: buffer}).Inc()
}

// registerServices will update the service metrics after a poll discovered the added services.
func (metrics *metrics) registerServices(current []tracker.Service, added []tracker.Service) {
	metrics.trackedServices.Set(float64(len(current)))
	metrics.generationChanges.Add(float64(len(added)))
	for _, service := range added {
		metrics.serviceGeneration.With(prometheus.Labels{serviceLabel: service.Title}).Set(float64(service.Generation))
	}
}

// registerMetrics will register the debugger metrics and returns a metrics struct to update the current metrics.
func registerMetrics(reg prometheus.Registerer) *metrics {
	debuggerMetrics := &metrics{
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: prometheusNamespace,
			Name:      activeSessionsMetricName,
			Help:      "Number of connected debugger clients.",
		}),
		trackedServices: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: prometheusNamespace,
			Name:      trackedServicesMetricName,
			Help:      "Number of services announced by marker files.",
		}),
		serviceGeneration: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: prometheusNamespace,
			Name:      serviceGenerationMetricName,
			Help:      "The current generation of a tracked service.",
		}, []string{serviceLabel}),
		openReaders: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: prometheusNamespace,
			Name:      openReadersMetricName,
			Help:      "Number of files opened by the live tail.",
		}, []string{kindLabel}),
		recordsTailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: prometheusNamespace,
			Name:      recordsTailedMetricName,
			Help:      "Number of records read by the live tail in total.",
		}, []string{kindLabel}),
		recordsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: prometheusNamespace,
			Name:      recordsDroppedMetricName,
			Help:      "Number of records dropped because a session buffer was full.",
		}, []string{bufferLabel}),
		framesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: prometheusNamespace,
			Name:      framesSentMetricName,
			Help:      "Number of frames sent to debugger clients.",
		}, []string{bufferLabel}),
		clientRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: prometheusNamespace,
			Name:      clientRequestsMetricName,
			Help:      "Number of decoded client requests.",
		}, []string{requestTypeLabel}),
		generationChanges: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: prometheusNamespace,
			Name:      generationChangesMetricName,
			Help:      "Number of new service generations observed.",
		}),
	}

	reg.MustRegister(debuggerMetrics.activeSessions)
	reg.MustRegister(debuggerMetrics.trackedServices)
	reg.MustRegister(debuggerMetrics.serviceGeneration)
	reg.MustRegister(debuggerMetrics.openReaders)
	reg.MustRegister(debuggerMetrics.recordsTailed)
	reg.MustRegister(debuggerMetrics.recordsDropped)
	reg.MustRegister(debuggerMetrics.framesSent)
	reg.MustRegister(debuggerMetrics.clientRequests)
	reg.MustRegister(debuggerMetrics.generationChanges)

	return debuggerMetrics
}
