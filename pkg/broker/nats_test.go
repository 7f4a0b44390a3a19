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
	"net"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runNATSServer(t *testing.T) (*server.Server, Options) {
	t.Helper()

	srv, err := server.NewServer(&server.Options{Host: "127.0.0.1", Port: -1, NoLog: true, NoSigs: true})
	require.NoError(t, err)

	go srv.Start()

	if !srv.ReadyForConnections(10 * time.Second) {
		srv.Shutdown()
		t.Fatalf("embedded NATS server not ready for connections")
	}

	t.Cleanup(srv.Shutdown)

	addr, ok := srv.Addr().(*net.TCPAddr)
	require.True(t, ok, "expected TCP address from embedded NATS server")

	return srv, Options{Host: "127.0.0.1", Port: addr.Port, ConnectTimeout: 2 * time.Second}
}

func TestNATSTelemetryRoundTrip(t *testing.T) {
	t.Parallel()

	if testing.Short() {
		t.Skip("skipping embedded NATS test in short mode")
	}

	_, opts := runNATSServer(t)
	dialer := NewNATSDialer(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	listener, err := dialer.Dial(ctx, "dashboard_listener_test")
	require.NoError(t, err)

	defer func() { _ = listener.Close() }()

	require.NoError(t, listener.Subscribe(ctx, TelemetryFilter))

	robot, err := dialer.Dial(ctx, "robot")
	require.NoError(t, err)

	defer func() { _ = robot.Close() }()

	require.NoError(t, robot.Publish(ctx, CommandTopic("sim_robot_1", "server_cmd"), []byte("ignored")))
	require.NoError(t, robot.Publish(ctx, TelemetryTopic("sim_robot_1", "robot_status"), []byte{0x81, 0xa1, 'a', 0x01}))
	require.NoError(t, robot.Publish(ctx, TelemetryTopic("sim_robot_2", "sensors/imu"), []byte("ok")))

	msg, err := listener.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "sim_robot_1/r2s/robot_status", msg.Topic)
	assert.Equal(t, []byte{0x81, 0xa1, 'a', 0x01}, msg.Payload)

	msg, err = listener.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "sim_robot_2/r2s/sensors/imu", msg.Topic)
}

func TestNATSConnectionLoss(t *testing.T) {
	t.Parallel()

	if testing.Short() {
		t.Skip("skipping embedded NATS test in short mode")
	}

	srv, opts := runNATSServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conn, err := NewNATSDialer(opts).Dial(ctx, "dashboard_listener_loss")
	require.NoError(t, err)
	require.NoError(t, conn.Subscribe(ctx, TelemetryFilter))

	srv.Shutdown()

	_, err = conn.Receive(ctx)
	require.ErrorIs(t, err, ErrConnectionLost)

	err = conn.Publish(ctx, "sim_robot_1/s2r/server_cmd", []byte{0x80})

	var pe *PublishError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, PublishCodeNotConnected, pe.Code)

	require.NoError(t, conn.Close())
	require.NoError(t, conn.Close())
}

func TestNATSDialRefused(t *testing.T) {
	t.Parallel()

	if testing.Short() {
		t.Skip("skipping embedded NATS test in short mode")
	}

	srv, opts := runNATSServer(t)
	srv.Shutdown()

	_, err := NewNATSDialer(opts).Dial(context.Background(), "nobody")
	require.Error(t, err)
}
