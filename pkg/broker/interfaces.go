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

//go:generate mockgen -destination=mock_broker.go -package=broker github.com/carverauto/fleetbridge/pkg/broker Dialer,Conn

// Package broker abstracts the publish/subscribe broker the robots talk to.
package broker

import (
	"context"
	"fmt"
	"time"
)

// Message is one inbound broker message.
type Message struct {
	Topic   string
	Payload []byte
}

// Conn is a single broker session. Messages matching a subscription are
// pulled one at a time with Receive.
type Conn interface {
	// Subscribe registers a topic filter in MQTT wildcard syntax.
	Subscribe(ctx context.Context, filter string) error
	// Receive blocks until a message arrives, the session ends or ctx is done.
	// A dropped session returns an error wrapping ErrConnectionLost.
	Receive(ctx context.Context) (Message, error)
	// Publish sends payload at best-effort delivery and waits until the
	// client has written it or ctx is done.
	Publish(ctx context.Context, topic string, payload []byte) error
	// Close ends the session. It is safe to call more than once.
	Close() error
}

// Dialer opens broker sessions.
type Dialer interface {
	Dial(ctx context.Context, clientID string) (Conn, error)
}

// Options configures a Dialer.
type Options struct {
	Host           string
	Port           int
	Username       string
	Password       string
	KeepAlive      time.Duration
	ConnectTimeout time.Duration
	// InboundQueue bounds messages buffered between the network and Receive.
	InboundQueue int
}

const (
	TransportMQTT = "mqtt"
	TransportNATS = "nats"

	defaultKeepAlive      = 60 * time.Second
	defaultConnectTimeout = 10 * time.Second
	defaultInboundQueue   = 1024
	defaultPublishTimeout = time.Second
)

func (o Options) withDefaults() Options {
	if o.KeepAlive <= 0 {
		o.KeepAlive = defaultKeepAlive
	}

	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = defaultConnectTimeout
	}

	if o.InboundQueue <= 0 {
		o.InboundQueue = defaultInboundQueue
	}

	return o
}

// NewDialer returns the dialer for transport ("mqtt" or "nats").
func NewDialer(transport string, opts Options) (Dialer, error) {
	switch transport {
	case TransportMQTT, "":
		return NewMQTTDialer(opts), nil
	case TransportNATS:
		return NewNATSDialer(opts), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownTransport, transport)
	}
}
