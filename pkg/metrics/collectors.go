/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package metrics exposes the bridge's Prometheus collectors.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/carverauto/fleetbridge/pkg/version"
)

const namespace = "fleetbridge"

// Inbound message outcomes.
const (
	OutcomeRecorded  = "recorded"
	OutcomeFiltered  = "filtered"
	OutcomeUnknown   = "unknown_robot"
	OutcomeMalformed = "malformed_topic"
	OutcomePanic     = "panic"
)

// Collectors groups the bridge metrics. A nil *Collectors is valid and
// records nothing.
type Collectors struct {
	registry *prometheus.Registry

	messages       *prometheus.CounterVec
	decodeErrors   *prometheus.CounterVec
	handling       prometheus.Histogram
	state          *prometheus.GaugeVec
	reconnects     prometheus.Counter
	viewers        prometheus.Gauge
	dropped        prometheus.Counter
	commands       *prometheus.CounterVec
	commandLatency prometheus.Histogram
}

// New builds collectors on a private registry that also carries the Go
// runtime and process collectors.
func New() *Collectors {
	c := &Collectors{
		registry: prometheus.NewRegistry(),
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "messages_total",
			Help:      "Inbound broker messages by outcome",
		}, []string{"outcome"}),
		decodeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "decode_errors_total",
			Help:      "Payloads stored as error markers, by marker message",
		}, []string{"marker"}),
		handling: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "handle_seconds",
			Help:      "Time spent decoding, storing and fanning out one message",
			Buckets:   prometheus.ExponentialBuckets(0.00001, 4, 10),
		}),
		state: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "subscriber_state",
			Help:      "1 for the subscriber's current state",
		}, []string{"state"}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "connect_attempts_total",
			Help:      "Broker connection attempts by the telemetry subscriber",
		}),
		viewers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "viewers",
			Help:      "Connected viewers",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "events_dropped_total",
			Help:      "Events discarded from full viewer queues",
		}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "command",
			Name:      "results_total",
			Help:      "Command publish results by status",
		}, []string{"status"}),
		commandLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "command",
			Name:      "publish_seconds",
			Help:      "Time from command receipt to publish result",
			Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}),
	}

	buildInfo := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace:   namespace,
		Name:        "build_info",
		Help:        "Always 1, labelled with the running build",
		ConstLabels: prometheus.Labels{"version": version.GetVersion(), "build": version.GetBuildID()},
	})
	buildInfo.Set(1)

	c.registry.MustRegister(
		collectors.NewGoCollector(),
		buildInfo,
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c.messages, c.decodeErrors, c.handling, c.state, c.reconnects, c.viewers, c.dropped, c.commands, c.commandLatency,
	)

	return c
}

// Registry returns the underlying registry.
func (c *Collectors) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}

	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collectors) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}

	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

func (c *Collectors) Message(outcome string) {
	if c == nil {
		return
	}

	c.messages.WithLabelValues(outcome).Inc()
}

func (c *Collectors) DecodeError(marker string) {
	if c == nil {
		return
	}

	c.decodeErrors.WithLabelValues(marker).Inc()
}

func (c *Collectors) Handled(took time.Duration) {
	if c == nil {
		return
	}

	c.handling.Observe(took.Seconds())
}

// SubscriberState marks state as the only active subscriber state.
func (c *Collectors) SubscriberState(state string) {
	if c == nil {
		return
	}

	c.state.Reset()
	c.state.WithLabelValues(state).Set(1)
}

func (c *Collectors) ConnectAttempt() {
	if c == nil {
		return
	}

	c.reconnects.Inc()
}

func (c *Collectors) ViewerJoined() {
	if c == nil {
		return
	}

	c.viewers.Inc()
}

func (c *Collectors) ViewerLeft() {
	if c == nil {
		return
	}

	c.viewers.Dec()
}

func (c *Collectors) EventDropped() {
	if c == nil {
		return
	}

	c.dropped.Inc()
}

// Command records one command result and how long it took.
func (c *Collectors) Command(status string, took time.Duration) {
	if c == nil {
		return
	}

	c.commands.WithLabelValues(status).Inc()
	c.commandLatency.Observe(took.Seconds())
}
