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

// Package command publishes viewer commands to robots. Every command gets its
// own short-lived broker connection with a unique client id, released on every
// exit path.
package command

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/carverauto/fleetbridge/pkg/broker"
	"github.com/carverauto/fleetbridge/pkg/logger"
	"github.com/carverauto/fleetbridge/pkg/metrics"
	"github.com/carverauto/fleetbridge/pkg/payload"
)

const (
	defaultClientPrefix   = "dashboard_publisher_"
	defaultPublishTimeout = time.Second

	tracerName = "github.com/carverauto/fleetbridge/pkg/command"
)

// Roster reports whether a robot id may receive commands.
type Roster interface {
	Known(robotID string) bool
}

// Config controls the publisher.
type Config struct {
	ClientPrefix   string
	PublishTimeout time.Duration
}

// Publisher sends commands.
type Publisher struct {
	dialer  broker.Dialer
	roster  Roster
	cfg     Config
	log     logger.Logger
	metrics *metrics.Collectors
	tracer  oteltrace.Tracer
	now     func() time.Time
}

// New returns a publisher that dials through dialer and validates targets
// against roster.
func New(dialer broker.Dialer, roster Roster, cfg Config, log logger.Logger, m *metrics.Collectors) *Publisher {
	if cfg.ClientPrefix == "" {
		cfg.ClientPrefix = defaultClientPrefix
	}

	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = defaultPublishTimeout
	}

	return &Publisher{
		dialer:  dialer,
		roster:  roster,
		cfg:     cfg,
		log:     log,
		metrics: m,
		tracer:  logger.GetTracer(tracerName),
		now:     time.Now,
	}
}

// Publish validates, encodes and sends one command on behalf of viewerID. It
// never panics or returns an error; the result is described by the Outcome.
func (p *Publisher) Publish(ctx context.Context, viewerID, robotID, commandType string, body payload.Value) (out Outcome) {
	start := p.now()

	ctx, span := p.tracer.Start(ctx, "command.publish",
		oteltrace.WithSpanKind(oteltrace.SpanKindProducer),
		oteltrace.WithAttributes(
			attribute.String("robot_id", robotID),
			attribute.String("command_type", commandType),
			attribute.String("viewer_id", viewerID),
		))

	defer func() {
		fb := out.Feedback()
		p.metrics.Command(fb.Status, p.now().Sub(start))

		span.SetAttributes(attribute.String("outcome", out.Kind.String()))
		if out.Kind != KindSuccess {
			span.SetStatus(codes.Error, fb.Message)
		}

		span.End()
	}()

	out = Outcome{RobotID: robotID, CommandType: commandType}

	if err := p.validate(robotID, commandType, body); err != nil {
		p.log.Warn().Err(err).Str("viewer_id", viewerID).Str("robot_id", robotID).Str("command_type", commandType).Msg("Rejected command")
		return Rejected(robotID, commandType, err)
	}

	data, err := payload.Encode(body)
	if err != nil {
		p.log.Error().Err(err).Str("robot_id", robotID).Msg("Failed to encode command")
		return Rejected(robotID, commandType, err)
	}

	out.Topic = broker.CommandTopic(robotID, commandType)
	clientID := p.clientID(viewerID, start)

	conn, err := p.dialer.Dial(ctx, clientID)
	if err != nil {
		p.log.Error().Err(err).Str("client_id", clientID).Str("topic", out.Topic).Msg("Publisher connection failed")

		out.Kind = KindConnectionError
		out.Err = err

		return out
	}

	defer func() {
		if err := conn.Close(); err != nil {
			p.log.Debug().Err(err).Str("client_id", clientID).Msg("Error closing publisher connection")
		}
	}()

	pubCtx, cancel := context.WithTimeout(ctx, p.cfg.PublishTimeout)
	defer cancel()

	if err := conn.Publish(pubCtx, out.Topic, data); err != nil {
		out.Err = err

		var pe *broker.PublishError
		if errors.As(err, &pe) {
			out.Kind = KindPublishFailed
			out.Code = int(pe.Code)
			p.log.Warn().Err(err).Str("topic", out.Topic).Int("rc", out.Code).Msg("Command publish may have failed")
		} else {
			out.Kind = KindConnectionError
			p.log.Error().Err(err).Str("topic", out.Topic).Msg("Command publish error")
		}

		return out
	}

	out.Kind = KindSuccess
	p.log.Info().Str("topic", out.Topic).Int("bytes", len(data)).Str("viewer_id", viewerID).Msg("Command published")

	return out
}

func (p *Publisher) validate(robotID, commandType string, body payload.Value) error {
	if robotID == "" || !p.roster.Known(robotID) {
		return fmt.Errorf("%w: %q", ErrUnknownRobot, robotID)
	}

	if !validCommandType(commandType) {
		return fmt.Errorf("%w: %q", ErrInvalidCommandType, commandType)
	}

	if _, ok := body.(payload.Map); !ok {
		return ErrInvalidPayload
	}

	return nil
}

// validCommandType accepts a single topic segment without wildcards.
func validCommandType(s string) bool {
	return s != "" && !strings.ContainsAny(s, "/+#\x00 \t\r\n")
}

func (p *Publisher) clientID(viewerID string, at time.Time) string {
	suffix := uuid.NewString()[:8]

	return p.cfg.ClientPrefix + viewerID + "_" + strconv.FormatInt(at.UnixMilli(), 10) + "_" + suffix
}
