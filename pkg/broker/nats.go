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
	"strings"

	"github.com/nats-io/nats.go"
)

// NATSDialer speaks core NATS. Topics are mapped to subjects the way the
// NATS server's MQTT gateway maps them, so robots may publish over either
// protocol: "/" becomes "." and a literal "." becomes "//".
type NATSDialer struct {
	opts Options
}

// NewNATSDialer returns a dialer for the NATS server described by opts.
func NewNATSDialer(opts Options) *NATSDialer {
	return &NATSDialer{opts: opts.withDefaults()}
}

// Dial connects with clientID as the connection name.
func (d *NATSDialer) Dial(ctx context.Context, clientID string) (Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	conn := &natsConn{session: newSession(d.opts.InboundQueue)}

	opts := []nats.Option{
		nats.Name(clientID),
		nats.Timeout(d.opts.ConnectTimeout),
		nats.PingInterval(d.opts.KeepAlive),
		nats.NoReconnect(),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err == nil {
				err = nats.ErrConnectionClosed
			}

			conn.fail(fmt.Errorf("%w: %w", ErrConnectionLost, err))
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			conn.fail(fmt.Errorf("%w: %w", ErrConnectionLost, nats.ErrConnectionClosed))
		}),
	}

	if d.opts.Username != "" {
		opts = append(opts, nats.UserInfo(d.opts.Username, d.opts.Password))
	}

	url := "nats://" + net.JoinHostPort(d.opts.Host, strconv.Itoa(d.opts.Port))

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		if errors.Is(err, nats.ErrTimeout) {
			return nil, fmt.Errorf("%w: %w", ErrConnectTimeout, err)
		}

		code := 0
		if errors.Is(err, nats.ErrAuthorization) {
			code = 5
		}

		return nil, &ConnectError{Code: code, Err: err}
	}

	conn.nc = nc

	return conn, nil
}

type natsConn struct {
	*session
	nc *nats.Conn
}

func (c *natsConn) Subscribe(_ context.Context, filter string) error {
	subject := FilterToSubject(filter)

	_, err := c.nc.Subscribe(subject, func(m *nats.Msg) {
		c.deliver(Message{Topic: SubjectToTopic(m.Subject), Payload: m.Data})
	})
	if err != nil {
		return fmt.Errorf("subscribe %q: %w", subject, err)
	}

	return c.nc.Flush()
}

func (c *natsConn) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := c.nc.Publish(TopicToSubject(topic), payload); err != nil {
		return natsPublishError(err)
	}

	ctx, cancel := withPublishDeadline(ctx)
	defer cancel()

	if err := c.nc.FlushWithContext(ctx); err != nil {
		return natsPublishError(err)
	}

	return nil
}

func (c *natsConn) Close() error {
	c.fail(ErrClosed)
	c.nc.Close()

	return nil
}

func natsPublishError(err error) error {
	switch {
	case errors.Is(err, nats.ErrConnectionClosed), errors.Is(err, nats.ErrConnectionDraining):
		return &PublishError{Code: PublishCodeNotConnected, Err: err}
	case errors.Is(err, nats.ErrTimeout), errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return &PublishError{Code: PublishCodeTimeout, Err: err}
	default:
		return &PublishError{Code: PublishCodeRejected, Err: err}
	}
}

// TopicToSubject maps a topic to a NATS subject.
func TopicToSubject(topic string) string {
	parts := strings.Split(topic, Separator)
	for i, p := range parts {
		parts[i] = strings.ReplaceAll(p, ".", "//")
	}

	return strings.Join(parts, ".")
}

// SubjectToTopic is the inverse of TopicToSubject.
func SubjectToTopic(subject string) string {
	parts := strings.Split(subject, ".")
	for i, p := range parts {
		parts[i] = strings.ReplaceAll(p, "//", ".")
	}

	return strings.Join(parts, Separator)
}

// FilterToSubject maps an MQTT topic filter to a NATS subscription subject.
func FilterToSubject(filter string) string {
	parts := strings.Split(filter, Separator)
	for i, p := range parts {
		switch p {
		case "+":
			parts[i] = "*"
		case "#":
			parts[i] = ">"
		default:
			parts[i] = strings.ReplaceAll(p, ".", "//")
		}
	}

	return strings.Join(parts, ".")
}
