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

// Package bridge wires the telemetry subscriber, viewer hub, command
// publisher and HTTP surface into one runnable service.
package bridge

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/carverauto/fleetbridge/pkg/api"
	"github.com/carverauto/fleetbridge/pkg/broker"
	"github.com/carverauto/fleetbridge/pkg/command"
	"github.com/carverauto/fleetbridge/pkg/hub"
	"github.com/carverauto/fleetbridge/pkg/ingest"
	"github.com/carverauto/fleetbridge/pkg/lifecycle"
	"github.com/carverauto/fleetbridge/pkg/logger"
	"github.com/carverauto/fleetbridge/pkg/metrics"
	"github.com/carverauto/fleetbridge/pkg/state"
	"github.com/carverauto/fleetbridge/pkg/version"
)

// Service owns every component of a running bridge.
type Service struct {
	cfg        *Config
	log        logger.Logger
	metrics    *metrics.Collectors
	store      *state.Store
	hub        *hub.Hub
	subscriber *ingest.Subscriber
	publisher  *command.Publisher
	server     *api.Server
}

// Option customizes NewService.
type Option func(*options)

type options struct {
	dialer  broker.Dialer
	metrics *metrics.Collectors
}

// WithDialer replaces the dialer built from the broker config.
func WithDialer(d broker.Dialer) Option {
	return func(o *options) { o.dialer = d }
}

// WithMetrics shares an existing collector set.
func WithMetrics(m *metrics.Collectors) Option {
	return func(o *options) { o.metrics = m }
}

// NewService validates cfg and builds the component graph.
func NewService(cfg *Config, log logger.Logger, opts ...Option) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	if log == nil {
		log = logger.NewTestLogger()
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	if o.dialer == nil {
		d, err := broker.NewDialer(cfg.Broker.Transport, cfg.BrokerOptions())
		if err != nil {
			return nil, err
		}

		o.dialer = d
	}

	if o.metrics == nil {
		o.metrics = metrics.New()
	}

	s := &Service{cfg: cfg, log: log, metrics: o.metrics}

	s.store = state.New(cfg.KnownRobots, cfg.ExpectedTopics(), state.Options{
		AllowDynamicRobots: cfg.AllowDynamicRobots,
	})

	s.hub = hub.New(s.store, hub.Config{
		QueueSize: cfg.Viewer.QueueSize,
		R2STopics: cfg.R2STopics,
		S2RTopics: cfg.S2RTopics,
	}, lifecycle.ComponentOf(log, "hub"), s.metrics)

	s.subscriber = ingest.New(o.dialer, s.store, s.hub, ingest.Config{
		ClientPrefix: cfg.Broker.ListenerClientPrefix,
		Backoff:      time.Duration(cfg.Broker.ReconnectBackoff),
		ImageTopics:  cfg.ImageTopics,
	}, lifecycle.ComponentOf(log, "ingest"), s.metrics)

	s.publisher = command.New(o.dialer, s.store, command.Config{
		ClientPrefix:   cfg.Broker.PublisherClientPrefix,
		PublishTimeout: time.Duration(cfg.Broker.PublishTimeout),
	}, lifecycle.ComponentOf(log, "command"), s.metrics)

	s.server = api.NewServer(api.Options{
		Addr:               cfg.ListenAddr,
		StaticDir:          cfg.StaticDir,
		AllowedOrigins:     cfg.Viewer.AllowedOrigins,
		ViewerWriteTimeout: time.Duration(cfg.Viewer.WriteTimeout),
		PingInterval:       time.Duration(cfg.Viewer.PingInterval),
		CommandRate:        *cfg.Viewer.CommandRate,
		CommandBurst:       cfg.Viewer.CommandBurst,
	}, s.store, s.hub, s.publisher, lifecycle.ComponentOf(log, "api"), s.metrics)

	return s, nil
}

// Run serves viewers and consumes telemetry until ctx is cancelled or either
// side fails. A failure of one stops the other.
func (s *Service) Run(ctx context.Context) error {
	s.log.Info().
		Str("version", version.GetFullVersion()).
		Str("transport", s.cfg.Broker.Transport).
		Str("broker", fmt.Sprintf("%s:%d", s.cfg.Broker.Host, s.cfg.Broker.Port)).
		Strs("known_robots", s.cfg.KnownRobots).
		Bool("allow_dynamic_robots", s.cfg.AllowDynamicRobots).
		Msg("Starting fleet bridge")

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return s.subscriber.Run(gctx)
	})

	g.Go(func() error {
		if err := s.server.Run(gctx); err != nil {
			return fmt.Errorf("http server: %w", err)
		}

		return nil
	})

	return g.Wait()
}

// Handler exposes the HTTP routes without starting a listener.
func (s *Service) Handler() http.Handler {
	return s.server.Handler()
}

func (s *Service) Store() *state.Store {
	return s.store
}

func (s *Service) Subscriber() *ingest.Subscriber {
	return s.subscriber
}

func (s *Service) Metrics() *metrics.Collectors {
	return s.metrics
}
