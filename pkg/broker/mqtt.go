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

package broker

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/carverauto/fleetbridge/pkg/logger"
)

const (
	mqttQoSAtMostOnce     = 0
	mqttDisconnectQuiesce = 250 // milliseconds
	mqttSubscribeFailure  = 0x80
)

// MQTTDialer opens MQTT 3.1.1 sessions with a clean session and without
// client-side auto reconnect; reconnect policy belongs to the caller.
type MQTTDialer struct {
	opts Options
}

// NewMQTTDialer returns a dialer for the broker described by opts.
func NewMQTTDialer(opts Options) *MQTTDialer {
	return &MQTTDialer{opts: opts.withDefaults()}
}

// Dial connects with clientID.
func (d *MQTTDialer) Dial(ctx context.Context, clientID string) (Conn, error) {
	conn := newSession(d.opts.InboundQueue)

	co := mqtt.NewClientOptions().
		AddBroker("tcp://" + net.JoinHostPort(d.opts.Host, strconv.Itoa(d.opts.Port))).
		SetClientID(clientID).
		SetCleanSession(true).
		SetProtocolVersion(4).
		SetKeepAlive(d.opts.KeepAlive).
		SetConnectTimeout(d.opts.ConnectTimeout).
		SetAutoReconnect(false).
		SetConnectRetry(false).
		SetOrderMatters(true).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			conn.fail(fmt.Errorf("%w: %w", ErrConnectionLost, err))
		})

	if d.opts.Username != "" {
		co.SetUsername(d.opts.Username)
		co.SetPassword(d.opts.Password)
	}

	client := mqtt.NewClient(co)
	token := client.Connect()

	if err := waitToken(ctx, token, d.opts.ConnectTimeout); err != nil {
		client.Disconnect(0)

		if errors.Is(err, ErrConnectTimeout) || errors.Is(err, ctx.Err()) {
			return nil, err
		}

		code := 0
		if ct, ok := token.(*mqtt.ConnectToken); ok {
			code = int(ct.ReturnCode())
		}

		return nil, &ConnectError{Code: code, Err: err}
	}

	return &mqttConn{session: conn, client: client, timeout: d.opts.ConnectTimeout}, nil
}

type mqttConn struct {
	*session
	client  mqtt.Client
	timeout time.Duration
}

func (c *mqttConn) Subscribe(ctx context.Context, filter string) error {
	token := c.client.Subscribe(filter, mqttQoSAtMostOnce, func(_ mqtt.Client, m mqtt.Message) {
		c.deliver(Message{Topic: m.Topic(), Payload: m.Payload()})
	})

	if err := waitToken(ctx, token, c.timeout); err != nil {
		return fmt.Errorf("subscribe %q: %w", filter, err)
	}

	if st, ok := token.(*mqtt.SubscribeToken); ok {
		if rc, found := st.Result()[filter]; found && rc == mqttSubscribeFailure {
			return fmt.Errorf("subscribe %q: %w", filter, errSubscribeRejected)
		}
	}

	return nil
}

func (c *mqttConn) Publish(ctx context.Context, topic string, payload []byte) error {
	if !c.client.IsConnected() {
		return &PublishError{Code: PublishCodeNotConnected, Err: mqtt.ErrNotConnected}
	}

	ctx, cancel := withPublishDeadline(ctx)
	defer cancel()

	token := c.client.Publish(topic, mqttQoSAtMostOnce, false, payload)

	select {
	case <-token.Done():
	case <-ctx.Done():
		return &PublishError{Code: PublishCodeTimeout, Err: ctx.Err()}
	}

	if err := token.Error(); err != nil {
		if errors.Is(err, mqtt.ErrNotConnected) {
			return &PublishError{Code: PublishCodeNotConnected, Err: err}
		}

		return &PublishError{Code: PublishCodeRejected, Err: err}
	}

	return nil
}

func (c *mqttConn) Close() error {
	c.fail(ErrClosed)

	if c.client.IsConnectionOpen() {
		c.client.Disconnect(mqttDisconnectQuiesce)
	}

	return nil
}

func waitToken(ctx context.Context, token mqtt.Token, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-token.Done():
		return token.Error()
	case <-timer.C:
		return ErrConnectTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

// withPublishDeadline bounds a publish wait when the caller did not.
func withPublishDeadline(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}

	return context.WithTimeout(ctx, defaultPublishTimeout)
}

// session is the inbound half shared by transports: a bounded message
// queue and a terminal error set once by fail.
type session struct {
	msgs chan Message
	done chan struct{}
	once sync.Once
	mu   sync.Mutex
	err  error
}

func newSession(queue int) *session {
	return &session{
		msgs: make(chan Message, queue),
		done: make(chan struct{}),
	}
}

// deliver blocks while the queue is full so that ordering is kept and the
// network reader is throttled to the consumer.
func (s *session) deliver(m Message) {
	select {
	case s.msgs <- m:
	case <-s.done:
	}
}

func (s *session) fail(err error) {
	s.once.Do(func() {
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		close(s.done)
	})
}

func (s *session) Receive(ctx context.Context) (Message, error) {
	select {
	case m := <-s.msgs:
		return m, nil
	case <-s.done:
		s.mu.Lock()
		defer s.mu.Unlock()

		return Message{}, s.err
	case <-ctx.Done():
		return Message{}, ctx.Err()
	}
}

type pahoLogger struct {
	log   zerolog.Logger
	level zerolog.Level
}

func (p pahoLogger) Println(v ...interface{}) {
	p.log.WithLevel(p.level).Msg(fmt.Sprint(v...))
}

func (p pahoLogger) Printf(format string, v ...interface{}) {
	p.log.WithLevel(p.level).Msgf(format, v...)
}

// RouteClientLogs sends the MQTT client library's error and warning output
// through log.
func RouteClientLogs(log logger.Logger) {
	l := log.WithComponent("paho")
	mqtt.ERROR = pahoLogger{log: l, level: zerolog.ErrorLevel}
	mqtt.CRITICAL = pahoLogger{log: l, level: zerolog.ErrorLevel}
	mqtt.WARN = pahoLogger{log: l, level: zerolog.WarnLevel}
}
