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

package cli

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/carverauto/fleetbridge/pkg/broker"
	"github.com/carverauto/fleetbridge/pkg/payload"
)

func TestParseFlags(t *testing.T) {
	t.Setenv("FLEETBRIDGE_BROKER_HOST", "")
	t.Setenv("FLEETBRIDGE_BROKER_PORT", "")
	t.Setenv("FLEETBRIDGE_BROKER_TRANSPORT", "")

	tests := []struct {
		name    string
		args    []string
		wantErr error
		check   func(t *testing.T, cfg *CmdConfig)
	}{
		{
			name:  "no args shows help",
			args:  nil,
			check: func(t *testing.T, cfg *CmdConfig) { assert.True(t, cfg.Help) },
		},
		{
			name: "tail defaults",
			args: []string{"tail"},
			check: func(t *testing.T, cfg *CmdConfig) {
				assert.Equal(t, broker.AllTrafficFilter, cfg.Filter)
				assert.Equal(t, "localhost", cfg.Broker.Host)
				assert.Equal(t, 1883, cfg.Broker.Port)
				assert.Equal(t, 10*time.Second, cfg.Broker.ConnectTimeout)
			},
		},
		{
			name: "tail over nats",
			args: []string{"tail", "-transport", "nats", "-filter", "sim_robot_1/r2s/#", "-n", "3"},
			check: func(t *testing.T, cfg *CmdConfig) {
				assert.Equal(t, 4222, cfg.Broker.Port)
				assert.Equal(t, "sim_robot_1/r2s/#", cfg.Filter)
				assert.Equal(t, 3, cfg.Count)
			},
		},
		{
			name: "send default payload",
			args: []string{"send", "-robot", "bulldog01_5f899b"},
			check: func(t *testing.T, cfg *CmdConfig) {
				assert.Equal(t, "server_cmd", cfg.CommandType)
				assert.Equal(t, DefaultCommandPayload, cfg.Payload)
			},
		},
		{
			name: "send explicit payload",
			args: []string{"send", "-robot", "r1", "-type", "joystick_control", `{"linear":0.2}`},
			check: func(t *testing.T, cfg *CmdConfig) {
				assert.Equal(t, "joystick_control", cfg.CommandType)
				assert.Equal(t, `{"linear":0.2}`, cfg.Payload)
			},
		},
		{name: "send without robot", args: []string{"send"}, wantErr: errRobotRequired},
		{name: "send empty type", args: []string{"send", "-robot", "r1", "-type", ""}, wantErr: errCommandRequired},
		{name: "send extra args", args: []string{"send", "-robot", "r1", "{}", "{}"}, wantErr: errTooManyArgs},
		{name: "unknown", args: []string{"publish"}, wantErr: errUnknownCommand},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := ParseFlags(tt.args)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}

			require.NoError(t, err)
			tt.check(t, cfg)
		})
	}
}

func TestParseFlagsEnvDefaults(t *testing.T) {
	t.Setenv("FLEETBRIDGE_BROKER_HOST", "mq.example")
	t.Setenv("FLEETBRIDGE_BROKER_PORT", "11883")
	t.Setenv("FLEETBRIDGE_BROKER_PASSWORD", "pw")

	cfg, err := ParseFlags([]string{"tail"})
	require.NoError(t, err)

	assert.Equal(t, "mq.example", cfg.Broker.Host)
	assert.Equal(t, 11883, cfg.Broker.Port)
	assert.Equal(t, "pw", cfg.Broker.Password)
}

func TestParsePayload(t *testing.T) {
	m, err := ParsePayload(DefaultCommandPayload)
	require.NoError(t, err)

	mode, ok := m["server_cmd_state"].(payload.Number)
	require.True(t, ok)

	got, exact := mode.Int64()
	assert.True(t, exact)
	assert.Equal(t, int64(2), got)
	assert.Equal(t, payload.String("OCP"), m["emb_map"])

	_, err = ParsePayload(`[1,2]`)
	require.ErrorIs(t, err, errPayloadNotObject)

	_, err = ParsePayload(`{"a":`)
	require.ErrorIs(t, err, errInvalidPayload)

	_, err = ParsePayload(`{} {}`)
	require.ErrorIs(t, err, errInvalidPayload)
}

func TestRunSendPublishesMsgpack(t *testing.T) {
	ctrl := gomock.NewController(t)
	dialer := broker.NewMockDialer(ctrl)
	conn := broker.NewMockConn(ctrl)

	dialer.EXPECT().Dial(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, id string) (broker.Conn, error) {
		assert.True(t, strings.HasPrefix(id, "fleetctl_send_"))
		return conn, nil
	})
	conn.EXPECT().Publish(gomock.Any(), "r1/s2r/server_cmd", []byte{0x81, 0xa1, 'a', 0x01}).Return(nil)
	conn.EXPECT().Close().Return(nil)

	var out bytes.Buffer

	cfg := &CmdConfig{RobotID: "r1", CommandType: "server_cmd", Payload: `{"a":1}`, Timeout: time.Second}
	require.NoError(t, RunSend(context.Background(), dialer, cfg, &out))
	assert.Equal(t, "sent 4 bytes to r1/s2r/server_cmd\n", out.String())
}

func TestRunSendReportsPublishFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	dialer := broker.NewMockDialer(ctrl)
	conn := broker.NewMockConn(ctrl)

	dialer.EXPECT().Dial(gomock.Any(), gomock.Any()).Return(conn, nil)
	conn.EXPECT().Publish(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(&broker.PublishError{Code: broker.PublishCodeNotConnected, Err: errors.New("gone")})
	conn.EXPECT().Close().Return(nil)

	cfg := &CmdConfig{RobotID: "r1", CommandType: "server_cmd", Payload: `{}`, Timeout: time.Second}
	err := RunSend(context.Background(), dialer, cfg, &bytes.Buffer{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not_connected")
}

func TestRunSendRejectsBadPayloadWithoutDialing(t *testing.T) {
	ctrl := gomock.NewController(t)
	dialer := broker.NewMockDialer(ctrl)

	cfg := &CmdConfig{RobotID: "r1", CommandType: "server_cmd", Payload: `"text"`, Timeout: time.Second}
	require.ErrorIs(t, RunSend(context.Background(), dialer, cfg, &bytes.Buffer{}), errPayloadNotObject)
}

func TestRunTailDecodesMessages(t *testing.T) {
	ctrl := gomock.NewController(t)
	dialer := broker.NewMockDialer(ctrl)
	conn := broker.NewMockConn(ctrl)

	dialer.EXPECT().Dial(gomock.Any(), gomock.Any()).Return(conn, nil)
	conn.EXPECT().Subscribe(gomock.Any(), broker.AllTrafficFilter).Return(nil)
	gomock.InOrder(
		conn.EXPECT().Receive(gomock.Any()).Return(broker.Message{
			Topic: "sim_robot_1/r2s/robot_status", Payload: []byte{0x81, 0xa1, 'a', 0x01},
		}, nil),
		conn.EXPECT().Receive(gomock.Any()).Return(broker.Message{
			Topic: "sim_robot_1/s2r/server_cmd", Payload: []byte(`{"stop":true}`),
		}, nil),
	)
	conn.EXPECT().Close().Return(nil)

	var out bytes.Buffer

	cfg := &CmdConfig{Filter: broker.AllTrafficFilter, Count: 2, Timeout: time.Second}
	require.NoError(t, RunTail(context.Background(), dialer, cfg, &out))

	scanner := bufio.NewScanner(&out)

	var lines []map[string]interface{}

	for scanner.Scan() {
		var line map[string]interface{}
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &line))
		lines = append(lines, line)
	}

	require.Len(t, lines, 2)
	assert.Equal(t, "robot_status", lines[0]["sub_topic"])
	assert.Equal(t, map[string]interface{}{"a": float64(1)}, lines[0]["payload"])
	assert.Equal(t, "server_cmd", lines[1]["sub_topic"])
	assert.Equal(t, map[string]interface{}{"stop": true}, lines[1]["payload"])
}

func TestRunTailStopsOnCancel(t *testing.T) {
	ctrl := gomock.NewController(t)
	dialer := broker.NewMockDialer(ctrl)
	conn := broker.NewMockConn(ctrl)

	ctx, cancel := context.WithCancel(context.Background())

	dialer.EXPECT().Dial(gomock.Any(), gomock.Any()).Return(conn, nil)
	conn.EXPECT().Subscribe(gomock.Any(), gomock.Any()).Return(nil)
	conn.EXPECT().Receive(gomock.Any()).DoAndReturn(func(context.Context) (broker.Message, error) {
		cancel()
		return broker.Message{}, context.Canceled
	})
	conn.EXPECT().Close().Return(nil)

	require.NoError(t, RunTail(ctx, dialer, &CmdConfig{Filter: "#", Timeout: time.Second}, &bytes.Buffer{}))
}

func TestShowHelp(t *testing.T) {
	var out bytes.Buffer

	ShowHelp(&out)
	assert.Contains(t, out.String(), "fleetctl tail")
	assert.Contains(t, out.String(), "fleetctl send")
}
