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

// Package ingest runs the telemetry subscription: it keeps one broker
// session alive, decodes every robot message and records it in the store.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/carverauto/fleetbridge/pkg/broker"
	"github.com/carverauto/fleetbridge/pkg/logger"
	"github.com/carverauto/fleetbridge/pkg/metrics"
	"github.com/carverauto/fleetbridge/pkg/payload"
	"github.com/carverauto/fleetbridge/pkg/state"
)

// State is the subscriber's connection state.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateSubscribed
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateSubscribed:
		return "subscribed"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

const (
	defaultBackoff      = 15 * time.Second
	defaultClientPrefix = "dashboard_listener_"
	previewBytes        = 60

	tracerName = "github.com/carverauto/fleetbridge/pkg/ingest"
)

// Sink receives every applied store update, in the order applied.
type Sink interface {
	Publish(u state.Update)
}

// Config controls the subscriber.
type Config struct {
	// ClientPrefix is joined with the process start time to form the
	// listener client id.
	ClientPrefix string
	Filter       string
	Backoff      time.Duration
	ImageTopics  []string
}

// Subscriber owns the inbound broker session.
type Subscriber struct {
	dialer   broker.Dialer
	store    *state.Store
	sink     Sink
	images   *payload.ImageNormalizer
	cfg      Config
	clientID string
	log      logger.Logger
	metrics  *metrics.Collectors
	tracer   oteltrace.Tracer

	now   func() time.Time
	state atomic.Int32
}

// Option customizes a Subscriber.
type Option func(*Subscriber)

// WithClock replaces time.Now for receive timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Subscriber) {
		s.now = now
	}
}

// WithTracer replaces the tracer taken from the global provider.
func WithTracer(t oteltrace.Tracer) Option {
	return func(s *Subscriber) {
		s.tracer = t
	}
}

// New returns a subscriber that feeds store and sink from dialer.
func New(dialer broker.Dialer, store *state.Store, sink Sink, cfg Config,
	log logger.Logger, m *metrics.Collectors, opts ...Option) *Subscriber {
	if cfg.Backoff <= 0 {
		cfg.Backoff = defaultBackoff
	}

	if cfg.ClientPrefix == "" {
		cfg.ClientPrefix = defaultClientPrefix
	}

	if cfg.Filter == "" {
		cfg.Filter = broker.TelemetryFilter
	}

	s := &Subscriber{
		dialer:  dialer,
		store:   store,
		sink:    sink,
		images:  payload.NewImageNormalizer(cfg.ImageTopics),
		cfg:     cfg,
		log:     log,
		metrics: m,
		tracer:  logger.GetTracer(tracerName),
		now:     time.Now,
	}

	for _, opt := range opts {
		opt(s)
	}

	s.clientID = cfg.ClientPrefix + strconv.FormatInt(s.now().Unix(), 10)

	return s
}

// ClientID returns the listener client id used for every connection.
func (s *Subscriber) ClientID() string {
	return s.clientID
}

// State returns the current connection state.
func (s *Subscriber) State() State {
	return State(s.state.Load())
}

func (s *Subscriber) setState(st State) {
	s.state.Store(int32(st))
	s.metrics.SubscriberState(st.String())
}

// Run connects, subscribes and handles messages until ctx is cancelled,
// reconnecting after a fixed backoff whenever the session fails. It returns
// nil once stopped.
func (s *Subscriber) Run(ctx context.Context) error {
	defer s.setState(StateStopped)

	s.log.Info().Str("client_id", s.clientID).Str("filter", s.cfg.Filter).Msg("Telemetry subscriber started")

	for {
		err := s.session(ctx)
		if ctx.Err() != nil {
			s.log.Info().Msg("Telemetry subscriber stopped")
			return nil
		}

		s.setState(StateDisconnected)
		s.log.Warn().Err(err).Dur("backoff", s.cfg.Backoff).Msg("Telemetry session ended, reconnecting after backoff")

		timer := time.NewTimer(s.cfg.Backoff)

		select {
		case <-ctx.Done():
			timer.Stop()
			s.log.Info().Msg("Telemetry subscriber stopped")

			return nil
		case <-timer.C:
		}
	}
}

func (s *Subscriber) session(ctx context.Context) error {
	s.setState(StateConnecting)
	s.metrics.ConnectAttempt()

	conn, err := s.dialer.Dial(ctx, s.clientID)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}

	defer func() {
		if err := conn.Close(); err != nil {
			s.log.Debug().Err(err).Msg("Error closing telemetry connection")
		}
	}()

	if err := conn.Subscribe(ctx, s.cfg.Filter); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	s.setState(StateSubscribed)
	s.log.Info().Str("filter", s.cfg.Filter).Msg("Subscribed to robot telemetry")

	for {
		msg, err := conn.Receive(ctx)
		if err != nil {
			if errors.Is(err, broker.ErrConnectionLost) {
				return err
			}

			return fmt.Errorf("receive: %w", err)
		}

		s.Handle(msg)
	}
}

// Handle runs one message through parse, decode, normalize, record and
// fan-out. It never fails; undecodable payloads are stored as error markers.
func (s *Subscriber) Handle(msg broker.Message) {
	start := time.Now()

	_, span := s.tracer.Start(context.Background(), "ingest.handle",
		oteltrace.WithSpanKind(oteltrace.SpanKindConsumer),
		oteltrace.WithAttributes(attribute.String("topic", msg.Topic), attribute.Int("bytes", len(msg.Payload))))
	defer span.End()

	outcome := func(o string) {
		s.metrics.Message(o)
		span.SetAttributes(attribute.String("outcome", o))
	}

	defer func() {
		if r := recover(); r != nil {
			outcome(metrics.OutcomePanic)
			span.SetStatus(codes.Error, fmt.Sprint(r))
			s.log.Error().Interface("panic", r).Str("topic", msg.Topic).Msg("Recovered from panic while handling message")
		}
	}()

	topic, ok := broker.ParseTopic(msg.Topic)
	if !ok {
		outcome(metrics.OutcomeMalformed)
		return
	}

	if topic.Direction != broker.DirectionRobotToServer {
		outcome(metrics.OutcomeFiltered)
		return
	}

	if !s.store.Accepts(topic.RobotID) {
		outcome(metrics.OutcomeUnknown)
		return
	}

	value := s.images.Normalize(topic.SubTopic, payload.Decode(msg.Payload))

	span.SetAttributes(attribute.String("robot_id", topic.RobotID), attribute.String("sub_topic", topic.SubTopic))

	if marker, isErr := value.(payload.ErrorMarker); isErr {
		s.metrics.DecodeError(marker.Message)
		span.SetAttributes(attribute.String("error_marker", marker.Message))
		s.log.Warn().
			Str("robot_id", topic.RobotID).
			Str("sub_topic", topic.SubTopic).
			Str("error", marker.Message).
			Int("bytes", len(msg.Payload)).
			Hex("preview", preview(msg.Payload)).
			Msg("Stored error marker for undecodable payload")
	}

	update, ok := s.store.Record(topic.RobotID, topic.SubTopic, value, s.now().UnixMilli())
	if !ok {
		outcome(metrics.OutcomeUnknown)
		return
	}

	if update.Added {
		s.log.Info().Str("robot_id", topic.RobotID).Msg("Discovered new robot")
	}

	s.sink.Publish(update)

	outcome(metrics.OutcomeRecorded)
	s.metrics.Handled(time.Since(start))
	s.log.Debug().Str("robot_id", topic.RobotID).Str("sub_topic", topic.SubTopic).Uint64("revision", update.Revision).Msg("Recorded telemetry")
}

func preview(b []byte) []byte {
	if len(b) > previewBytes {
		return b[:previewBytes]
	}

	return b
}
