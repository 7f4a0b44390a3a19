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

package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/fleetbridge/pkg/command"
	"github.com/carverauto/fleetbridge/pkg/hub"
	"github.com/carverauto/fleetbridge/pkg/logger"
	"github.com/carverauto/fleetbridge/pkg/metrics"
	"github.com/carverauto/fleetbridge/pkg/payload"
	"github.com/carverauto/fleetbridge/pkg/state"
)

type fakeCommander struct {
	mu    sync.Mutex
	calls []commandRequest
}

func (f *fakeCommander) Publish(_ context.Context, _, robotID, commandType string, body payload.Value) command.Outcome {
	f.mu.Lock()
	f.calls = append(f.calls, commandRequest{RobotID: robotID, CommandType: commandType, Payload: body})
	f.mu.Unlock()

	return command.Outcome{Kind: command.KindSuccess, RobotID: robotID, CommandType: commandType}
}

type fixture struct {
	store     *state.Store
	hub       *hub.Hub
	server    *Server
	commander *fakeCommander
	http      *httptest.Server
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()

	m := metrics.New()
	store := state.New([]string{"sim_robot_1", "embed_e6d9e2"}, []string{"robot_status", "camera"}, state.Options{})
	h := hub.New(store, hub.Config{QueueSize: 16, R2STopics: []string{"robot_status", "camera"}}, logger.NewTestLogger(), m)
	fc := &fakeCommander{}
	srv := NewServer(opts, store, h, fc, logger.NewTestLogger(), m)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		h.Close()
		ts.Close()
	})

	return &fixture{store: store, hub: h, server: srv, commander: fc, http: ts}
}

func (f *fixture) dial(t *testing.T) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(f.http.URL, "http") + "/ws"

	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)

	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	t.Cleanup(func() { _ = conn.Close() })

	return conn
}

type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func readFrame(t *testing.T, conn *websocket.Conn) frame {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))

	var f frame
	require.NoError(t, conn.ReadJSON(&f))

	return f
}

func TestRESTSnapshot(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Options{})
	_, ok := f.store.Record("sim_robot_1", "robot_status", payload.Map{"battery": payload.Float(0.5)}, 42)
	require.True(t, ok)

	resp, err := http.Get(f.http.URL + "/data")
	require.NoError(t, err)

	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var all map[string]struct {
		LastSeen int64 `json:"last_seen"`
		Topics   map[string]struct {
			Payload   interface{} `json:"payload"`
			Timestamp int64       `json:"timestamp"`
		} `json:"topics"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&all))

	require.Contains(t, all, "sim_robot_1")
	assert.Equal(t, int64(42), all["sim_robot_1"].LastSeen)
	assert.Equal(t, map[string]interface{}{"battery": 0.5}, all["sim_robot_1"].Topics["robot_status"].Payload)
	assert.Equal(t, "waiting...", all["embed_e6d9e2"].Topics["camera"].Payload)
}

func TestRESTRobot(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Options{})

	resp, err := http.Get(f.http.URL + "/data/sim_robot_1")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(f.http.URL + "/data/robotX")
	require.NoError(t, err)

	defer resp.Body.Close()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, map[string]string{"error": "Robot not found"}, body)
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Options{})

	resp, err := http.Get(f.http.URL + "/metrics")
	require.NoError(t, err)

	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestViewerReceivesSnapshotThenUpdates(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Options{PingInterval: 50 * time.Millisecond})
	conn := f.dial(t)

	first := readFrame(t, conn)
	require.Equal(t, hub.EventInitialState, first.Event)

	var snapshot struct {
		KnownRobots []string                   `json:"known_robots"`
		AllData     map[string]json.RawMessage `json:"all_data"`
		SubTopics   []string                   `json:"robot_sub_topics"`
	}
	require.NoError(t, json.Unmarshal(first.Data, &snapshot))
	assert.Equal(t, []string{"embed_e6d9e2", "sim_robot_1"}, snapshot.KnownRobots)
	assert.Len(t, snapshot.AllData, 2)

	u, ok := f.store.Record("embed_e6d9e2", "robot_status", payload.Error(payload.MsgCannotDecode), 99)
	require.True(t, ok)
	f.hub.Publish(u)

	data := readFrame(t, conn)
	require.Equal(t, hub.EventData, data.Event)
	assert.JSONEq(t, `{
		"robot_id": "embed_e6d9e2",
		"sub_topic": "robot_status",
		"data": {"payload": "Error: cannot decode payload", "timestamp": 99},
		"robot_last_seen": 99
	}`, string(data.Data))
}

func TestViewerCommandFeedback(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Options{})
	conn := f.dial(t)
	_ = readFrame(t, conn)

	require.NoError(t, conn.WriteJSON(map[string]interface{}{
		"event": "send_command",
		"data": map[string]interface{}{
			"robot_id":     "sim_robot_1",
			"command_type": "server_cmd",
			"payload":      map[string]interface{}{"a": 1},
		},
	}))

	fb := readFrame(t, conn)
	require.Equal(t, hub.EventCommandFeedback, fb.Event)

	var got command.Feedback
	require.NoError(t, json.Unmarshal(fb.Data, &got))
	assert.Equal(t, command.StatusSuccess, got.Status)
	assert.Equal(t, "server_cmd command sent to sim_robot_1.", got.Message)

	f.commander.mu.Lock()
	defer f.commander.mu.Unlock()

	require.Len(t, f.commander.calls, 1)
	assert.True(t, payload.Equal(payload.Map{"a": payload.Int(1)}, f.commander.calls[0].Payload.(payload.Value)))
}

func TestViewerCommandAfterShutdown(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Options{})
	conn := f.dial(t)
	_ = readFrame(t, conn)

	f.server.BeginShutdown()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage,
		[]byte(`{"event":"send_command","data":{"robot_id":"sim_robot_1","command_type":"server_cmd","payload":{}}}`)))

	fb := readFrame(t, conn)
	require.Equal(t, hub.EventCommandFeedback, fb.Event)
	assert.JSONEq(t, `{"status":"error","message":"Server shutting down.","robot_id":"sim_robot_1","command_type":"server_cmd"}`, string(fb.Data))

	f.commander.mu.Lock()
	defer f.commander.mu.Unlock()

	assert.Empty(t, f.commander.calls)
}

func TestViewerCommandRateLimit(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Options{CommandRate: 0.001, CommandBurst: 1})
	conn := f.dial(t)
	_ = readFrame(t, conn)

	msg := []byte(`{"event":"send_command","data":{"robot_id":"sim_robot_1","command_type":"server_cmd","payload":{}}}`)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, msg))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, msg))

	statuses := map[string]int{}

	for i := 0; i < 2; i++ {
		var got command.Feedback
		require.NoError(t, json.Unmarshal(readFrame(t, conn).Data, &got))
		statuses[got.Message]++
	}

	assert.Equal(t, map[string]int{
		"server_cmd command sent to sim_robot_1.": 1,
		"Too many commands, slow down.":           1,
	}, statuses)
}

func TestViewerClosedWhenHubCloses(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Options{})
	conn := f.dial(t)
	_ = readFrame(t, conn)

	require.Eventually(t, func() bool { return f.hub.Viewers() == 1 }, time.Second, 5*time.Millisecond)

	f.hub.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))

	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)
}

func TestCheckOrigin(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Options{AllowedOrigins: []string{"https://dash.example"}})

	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	assert.True(t, f.server.checkOrigin(req))

	req.Header.Set("Origin", "https://dash.example")
	assert.True(t, f.server.checkOrigin(req))

	req.Header.Set("Origin", "https://evil.example")
	assert.False(t, f.server.checkOrigin(req))
}
