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

package ingest

import (
	"context"
	"encoding/base64"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/mock/gomock"

	"github.com/carverauto/fleetbridge/pkg/broker"
	"github.com/carverauto/fleetbridge/pkg/logger"
	"github.com/carverauto/fleetbridge/pkg/metrics"
	"github.com/carverauto/fleetbridge/pkg/payload"
	"github.com/carverauto/fleetbridge/pkg/state"
)

var (
	testRoster = []string{"embed_e6d9e2", "sim_robot_1"}
	testTopics = []string{"robot_status", "camera"}
	fixedNow   = time.UnixMilli(1_700_000_000_123)
)

type recordingSink struct {
	mu      sync.Mutex
	updates []state.Update
	ch      chan state.Update
}

func newRecordingSink() *recordingSink {
	return &recordingSink{ch: make(chan state.Update, 64)}
}

func (r *recordingSink) Publish(u state.Update) {
	r.mu.Lock()
	r.updates = append(r.updates, u)
	r.mu.Unlock()

	r.ch <- u
}

func (r *recordingSink) all() []state.Update {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]state.Update(nil), r.updates...)
}

func newTestSubscriber(d broker.Dialer, store *state.Store, sink Sink, backoff time.Duration) *Subscriber {
	return New(d, store, sink, Config{
		Backoff:     backoff,
		ImageTopics: []string{"camera"},
	}, logger.NewTestLogger(), metrics.New(), WithClock(func() time.Time { return fixedNow }))
}

func TestClientID(t *testing.T) {
	t.Parallel()

	s := newTestSubscriber(nil, state.New(testRoster, testTopics, state.Options{}), newRecordingSink(), 0)
	assert.Equal(t, "dashboard_listener_1700000000", s.ClientID())
	assert.Equal(t, StateDisconnected, s.State())
	assert.Equal(t, "disconnected", s.State().String())
}

func TestHandleFiltersBeforeDecoding(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		topic string
	}{
		{name: "command direction", topic: "embed_e6d9e2/s2r/server_cmd"},
		{name: "too few segments", topic: "embed_e6d9e2/r2s"},
		{name: "unknown robot", topic: "not_in_roster/r2s/robot_status"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			store := state.New(testRoster, testTopics, state.Options{})
			sink := newRecordingSink()
			s := newTestSubscriber(nil, store, sink, 0)

			s.Handle(broker.Message{Topic: tt.topic, Payload: []byte(`{"a":1}`)})

			assert.Empty(t, sink.all())
			assert.Zero(t, store.Revision())
		})
	}
}

func TestHandleIgnoresEmptyRobotIDWithDynamicRoster(t *testing.T) {
	t.Parallel()

	store := state.New(testRoster, testTopics, state.Options{AllowDynamicRobots: true})
	sink := newRecordingSink()
	s := newTestSubscriber(nil, store, sink, 0)

	s.Handle(broker.Message{Topic: "/r2s/robot_status", Payload: []byte(`{"a":1}`)})

	assert.Empty(t, sink.all())
	assert.Equal(t, testRoster, store.Roster())
}

func TestHandleRecordsDecodedValues(t *testing.T) {
	t.Parallel()

	frame := base64.StdEncoding.EncodeToString([]byte{0, 1, 2, 253, 254, 255})

	tests := []struct {
		name     string
		topic    string
		payload  []byte
		subTopic string
		want     payload.Value
	}{
		{
			name:     "msgpack map",
			topic:    "embed_e6d9e2/r2s/robot_status",
			payload:  []byte{0x81, 0xa1, 'a', 0x01},
			subTopic: "robot_status",
			want:     payload.Map{"a": payload.Int(1)},
		},
		{
			name:     "nested sub-topic text",
			topic:    "sim_robot_1/r2s/diag/battery",
			payload:  []byte("low voltage"),
			subTopic: "diag/battery",
			want:     payload.String("low voltage"),
		},
		{
			name:     "image frame from json base64",
			topic:    "sim_robot_1/r2s/camera",
			payload:  []byte(`{"width":2,"height":3,"encoding":"mono8","data":"` + frame + `"}`),
			subTopic: "camera",
			want: payload.Map{
				"width":    payload.Int(2),
				"height":   payload.Int(3),
				"encoding": payload.String("mono8"),
				"data": payload.Sequence{
					payload.Int(0), payload.Int(1), payload.Int(2),
					payload.Int(253), payload.Int(254), payload.Int(255),
				},
			},
		},
		{
			name:     "image topic with text payload",
			topic:    "sim_robot_1/r2s/camera",
			payload:  []byte("not an image"),
			subTopic: "camera",
			want:     payload.Error(payload.MsgImageStructure),
		},
		{
			name:     "undecodable bytes",
			topic:    "embed_e6d9e2/r2s/robot_status",
			payload:  []byte{0xff, 0xfe, 0xc1},
			subTopic: "robot_status",
			want:     payload.Error(payload.MsgCannotDecode),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			store := state.New(testRoster, testTopics, state.Options{})
			sink := newRecordingSink()
			s := newTestSubscriber(nil, store, sink, 0)

			s.Handle(broker.Message{Topic: tt.topic, Payload: tt.payload})

			updates := sink.all()
			require.Len(t, updates, 1)
			assert.Equal(t, tt.subTopic, updates[0].Topic)
			assert.Equal(t, fixedNow.UnixMilli(), updates[0].Entry.ReceivedAtMillis)
			assert.True(t, payload.Equal(tt.want, updates[0].Entry.Value), "got %#v", updates[0].Entry.Value)

			robot, _ := broker.ParseTopic(tt.topic)
			rec, ok := store.Robot(robot.RobotID)
			require.True(t, ok)
			assert.Equal(t, fixedNow.UnixMilli(), rec.LastSeenMillis)
			assert.True(t, payload.Equal(tt.want, rec.Topics[tt.subTopic].Value))
		})
	}
}

func TestHandleSurvivesSinkPanic(t *testing.T) {
	t.Parallel()

	store := state.New(testRoster, testTopics, state.Options{})
	s := newTestSubscriber(nil, store, panicSink{}, 0)

	assert.NotPanics(t, func() {
		s.Handle(broker.Message{Topic: "embed_e6d9e2/r2s/robot_status", Payload: []byte("x")})
	})
}

type panicSink struct{}

func (panicSink) Publish(state.Update) { panic("boom") }

func blockUntilDone(ctx context.Context) (broker.Message, error) {
	<-ctx.Done()
	return broker.Message{}, ctx.Err()
}

func TestRunReconnectsAfterConnectionLoss(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	dialer := broker.NewMockDialer(ctrl)
	first := broker.NewMockConn(ctrl)
	second := broker.NewMockConn(ctrl)

	store := state.New(testRoster, testTopics, state.Options{})
	sink := newRecordingSink()
	s := newTestSubscriber(dialer, store, sink, 10*time.Millisecond)

	clientID := gomock.Eq("dashboard_listener_1700000000")

	gomock.InOrder(
		dialer.EXPECT().Dial(gomock.Any(), clientID).Return(first, nil),
		first.EXPECT().Subscribe(gomock.Any(), broker.TelemetryFilter).Return(nil),
		first.EXPECT().Receive(gomock.Any()).Return(broker.Message{
			Topic: "embed_e6d9e2/r2s/robot_status", Payload: []byte("one"),
		}, nil),
		first.EXPECT().Receive(gomock.Any()).Return(broker.Message{}, broker.ErrConnectionLost),
		first.EXPECT().Close().Return(nil),
		dialer.EXPECT().Dial(gomock.Any(), clientID).Return(nil, &broker.ConnectError{Code: 5, Err: errors.New("not authorized")}),
		dialer.EXPECT().Dial(gomock.Any(), clientID).Return(second, nil),
		second.EXPECT().Subscribe(gomock.Any(), broker.TelemetryFilter).Return(nil),
		second.EXPECT().Receive(gomock.Any()).Return(broker.Message{
			Topic: "embed_e6d9e2/r2s/robot_status", Payload: []byte("two"),
		}, nil),
		second.EXPECT().Receive(gomock.Any()).DoAndReturn(blockUntilDone),
		second.EXPECT().Close().Return(nil),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)

	go func() { done <- s.Run(ctx) }()

	for _, want := range []string{"one", "two"} {
		select {
		case u := <-sink.ch:
			assert.Equal(t, payload.String(want), u.Entry.Value)
		case <-time.After(5 * time.Second):
			t.Fatalf("update %q not delivered", want)
		}
	}

	require.Eventually(t, func() bool { return s.State() == StateSubscribed }, time.Second, 5*time.Millisecond)

	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	assert.Equal(t, StateStopped, s.State())
}

func TestRunStopsDuringBackoff(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	dialer := broker.NewMockDialer(ctrl)
	dialed := make(chan struct{})
	dialer.EXPECT().Dial(gomock.Any(), gomock.Any()).DoAndReturn(func(context.Context, string) (broker.Conn, error) {
		close(dialed)
		return nil, broker.ErrConnectTimeout
	})

	s := newTestSubscriber(dialer, state.New(testRoster, testTopics, state.Options{}), newRecordingSink(), time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	go func() { done <- s.Run(ctx) }()

	<-dialed
	require.Eventually(t, func() bool { return s.State() == StateDisconnected }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run blocked in backoff after cancel")
	}
}

func TestRunClosesConnectionWhenSubscribeFails(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	dialer := broker.NewMockDialer(ctrl)
	conn := broker.NewMockConn(ctrl)

	ctx, cancel := context.WithCancel(context.Background())

	gomock.InOrder(
		dialer.EXPECT().Dial(gomock.Any(), gomock.Any()).Return(conn, nil),
		conn.EXPECT().Subscribe(gomock.Any(), gomock.Any()).Return(errors.New("rejected")),
		conn.EXPECT().Close().DoAndReturn(func() error {
			cancel()
			return nil
		}),
	)

	s := newTestSubscriber(dialer, state.New(testRoster, testTopics, state.Options{}), newRecordingSink(), time.Hour)

	require.NoError(t, s.Run(ctx))
	assert.Equal(t, StateStopped, s.State())
}

func spanAttr(attrs []attribute.KeyValue, key string) string {
	for _, kv := range attrs {
		if string(kv.Key) == key {
			return kv.Value.Emit()
		}
	}

	return ""
}

func TestHandleRecordsSpanPerMessage(t *testing.T) {
	t.Parallel()

	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))

	store := state.New(testRoster, testTopics, state.Options{})
	s := New(nil, store, newRecordingSink(), Config{}, logger.NewTestLogger(), metrics.New(),
		WithClock(func() time.Time { return fixedNow }),
		WithTracer(tp.Tracer("ingest-test")))

	s.Handle(broker.Message{Topic: "embed_e6d9e2/r2s/robot_status", Payload: []byte(`{"a":1}`)})
	s.Handle(broker.Message{Topic: "not_in_roster/r2s/robot_status", Payload: []byte(`{"a":1}`)})
	s.Handle(broker.Message{Topic: "embed_e6d9e2/s2r/server_cmd", Payload: []byte(`{}`)})

	spans := recorder.Ended()
	require.Len(t, spans, 3)

	want := []string{metrics.OutcomeRecorded, metrics.OutcomeUnknown, metrics.OutcomeFiltered}
	for i, span := range spans {
		assert.Equal(t, "ingest.handle", span.Name())
		assert.Equal(t, want[i], spanAttr(span.Attributes(), "outcome"))
	}

	assert.Equal(t, "embed_e6d9e2", spanAttr(spans[0].Attributes(), "robot_id"))
	assert.Equal(t, "robot_status", spanAttr(spans[0].Attributes(), "sub_topic"))
}
