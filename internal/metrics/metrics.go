// Copyright (c) 2025, WSO2 LLC. (https://www.wso2.com).
//
// WSO2 LLC. licenses this file to you under the Apache License,
// Version 2.0 (the "License"); you may not use this file except
// in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing,
// software distributed under the License is distributed on an
// "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
// KIND, either express or implied. See the License for the
// specific language governing permissions and limitations
// under the License.

package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the relay's Prometheus collectors. Each instance owns its
// registry so several can coexist in one process.
type Metrics struct {
	registry *prometheus.Registry

	// Device link
	LinkActive    prometheus.Gauge
	LinkConnects  *prometheus.CounterVec
	LinkCloses    *prometheus.CounterVec
	BytesRead     prometheus.Counter
	FramesDecoded prometheus.Counter
	BytesDropped  prometheus.Counter
	ResyncEvents  prometheus.Counter
	CommandsSent  *prometheus.CounterVec
	CommandErrors *prometheus.CounterVec
	TrailingBytes prometheus.Counter

	// Bus and sessions
	EventsPublished prometheus.Counter
	ActiveSessions  prometheus.Gauge
	LaggedEntries   prometheus.Counter
	SessionsEnded   *prometheus.CounterVec

	// Bridges
	BridgePublished *prometheus.CounterVec
	BridgeErrors    *prometheus.CounterVec

	// HTTP API
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		LinkActive: f.NewGauge(prometheus.GaugeOpts{
			Name: "relay_link_active",
			Help: "1 while a device connection is open",
		}),
		LinkConnects: f.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_link_connects_total",
			Help: "Device connection attempts by result",
		}, []string{"result"}),
		LinkCloses: f.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_link_closes_total",
			Help: "Device read loop terminations by reason",
		}, []string{"reason"}),
		BytesRead: f.NewCounter(prometheus.CounterOpts{
			Name: "relay_device_bytes_read_total",
			Help: "Bytes read from the device socket",
		}),
		FramesDecoded: f.NewCounter(prometheus.CounterOpts{
			Name: "relay_frames_decoded_total",
			Help: "JSON values extracted from the device stream",
		}),
		BytesDropped: f.NewCounter(prometheus.CounterOpts{
			Name: "relay_frame_bytes_dropped_total",
			Help: "Bytes skipped while resynchronizing after malformed input",
		}),
		ResyncEvents: f.NewCounter(prometheus.CounterOpts{
			Name: "relay_frame_resync_total",
			Help: "Runs of malformed input skipped by the extractor",
		}),
		CommandsSent: f.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_commands_sent_total",
			Help: "Commands written to the device by kind",
		}, []string{"kind"}),
		CommandErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_command_errors_total",
			Help: "Commands that could not be written by kind",
		}, []string{"kind"}),
		TrailingBytes: f.NewCounter(prometheus.CounterOpts{
			Name: "relay_trailing_bytes_discarded_total",
			Help: "Incomplete bytes discarded when the device stream ended",
		}),

		EventsPublished: f.NewCounter(prometheus.CounterOpts{
			Name: "relay_bus_events_published_total",
			Help: "Events published to the broadcast bus",
		}),
		ActiveSessions: f.NewGauge(prometheus.GaugeOpts{
			Name: "relay_active_sessions",
			Help: "Subscriber sessions currently attached",
		}),
		LaggedEntries: f.NewCounter(prometheus.CounterOpts{
			Name: "relay_session_lagged_entries_total",
			Help: "Events lost by subscribers that fell behind",
		}),
		SessionsEnded: f.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_sessions_ended_total",
			Help: "Subscriber sessions ended by reason",
		}, []string{"reason"}),

		BridgePublished: f.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_bridge_published_total",
			Help: "Events mirrored to a broker bridge",
		}, []string{"bridge"}),
		BridgeErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_bridge_errors_total",
			Help: "Broker bridge publish failures",
		}, []string{"bridge"}),

		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_http_requests_total",
			Help: "HTTP requests by route and status",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "relay_http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
	}
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) SetLinkActive(active bool) {
	if active {
		m.LinkActive.Set(1)
		return
	}
	m.LinkActive.Set(0)
}

func (m *Metrics) RecordConnect(ok bool) {
	if ok {
		m.LinkConnects.WithLabelValues("success").Inc()
		return
	}
	m.LinkConnects.WithLabelValues("failure").Inc()
}

func (m *Metrics) RecordLinkClosed(reason string) {
	m.LinkCloses.WithLabelValues(reason).Inc()
}

func (m *Metrics) RecordRead(n int) {
	m.BytesRead.Add(float64(n))
}

func (m *Metrics) RecordFrames(decoded int) {
	m.FramesDecoded.Add(float64(decoded))
}

func (m *Metrics) RecordDrop(bytes int) {
	m.ResyncEvents.Inc()
	m.BytesDropped.Add(float64(bytes))
}

func (m *Metrics) RecordTrailing(bytes int) {
	m.TrailingBytes.Add(float64(bytes))
}

func (m *Metrics) RecordCommand(kind string, err error) {
	if err != nil {
		m.CommandErrors.WithLabelValues(kind).Inc()
		return
	}
	m.CommandsSent.WithLabelValues(kind).Inc()
}

func (m *Metrics) RecordPublished() {
	m.EventsPublished.Inc()
}

func (m *Metrics) SetActiveSessions(n int) {
	m.ActiveSessions.Set(float64(n))
}

func (m *Metrics) RecordLag(skipped uint64) {
	m.LaggedEntries.Add(float64(skipped))
}

func (m *Metrics) RecordSessionEnded(reason string) {
	m.SessionsEnded.WithLabelValues(reason).Inc()
}

func (m *Metrics) RecordBridgePublish(bridge string, err error) {
	if err != nil {
		m.BridgeErrors.WithLabelValues(bridge).Inc()
		return
	}
	m.BridgePublished.WithLabelValues(bridge).Inc()
}

func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}
