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
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/carverauto/fleetbridge/pkg/broker"
	"github.com/carverauto/fleetbridge/pkg/payload"
)

// TailRecord is one line of tail output.
type TailRecord struct {
	Time     time.Time     `json:"time"`
	Topic    string        `json:"topic"`
	RobotID  string        `json:"robot_id,omitempty"`
	SubTopic string        `json:"sub_topic,omitempty"`
	Bytes    int           `json:"bytes"`
	Payload  payload.Value `json:"payload"`
}

// RunTail prints every message matching cfg.Filter as one JSON line until
// ctx is done or cfg.Count messages were printed.
func RunTail(ctx context.Context, dialer broker.Dialer, cfg *CmdConfig, w io.Writer) error {
	dialCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	conn, err := dialer.Dial(dialCtx, clientID("tail"))
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}

	defer func() { _ = conn.Close() }()

	if err := conn.Subscribe(dialCtx, cfg.Filter); err != nil {
		return fmt.Errorf("subscribe %q: %w", cfg.Filter, err)
	}

	enc := json.NewEncoder(w)

	for seen := 0; cfg.Count == 0 || seen < cfg.Count; seen++ {
		msg, err := conn.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}

			return err
		}

		rec := TailRecord{
			Time:    time.Now().UTC(),
			Topic:   msg.Topic,
			Bytes:   len(msg.Payload),
			Payload: payload.Decode(msg.Payload),
		}

		if t, ok := broker.ParseTopic(msg.Topic); ok {
			rec.RobotID = t.RobotID
			rec.SubTopic = t.SubTopic
		}

		if err := enc.Encode(rec); err != nil {
			return err
		}
	}

	return nil
}

// RunSend publishes cfg.Payload, msgpack-encoded, to the robot's command topic.
func RunSend(ctx context.Context, dialer broker.Dialer, cfg *CmdConfig, w io.Writer) error {
	body, err := ParsePayload(cfg.Payload)
	if err != nil {
		return err
	}

	raw, err := payload.Encode(body)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	conn, err := dialer.Dial(ctx, clientID("send"))
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}

	defer func() { _ = conn.Close() }()

	topic := broker.CommandTopic(cfg.RobotID, cfg.CommandType)

	if err := conn.Publish(ctx, topic, raw); err != nil {
		var pe *broker.PublishError
		if errors.As(err, &pe) {
			return fmt.Errorf("publish to %s failed (%s): %w", topic, pe.Code, err)
		}

		return fmt.Errorf("publish to %s: %w", topic, err)
	}

	_, err = fmt.Fprintf(w, "sent %d bytes to %s\n", len(raw), topic)

	return err
}

// ParsePayload converts a JSON object into a payload.Map, keeping integers exact.
func ParsePayload(text string) (payload.Map, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(text)))
	dec.UseNumber()

	var generic interface{}
	if err := dec.Decode(&generic); err != nil {
		return nil, fmt.Errorf("%w: %w", errInvalidPayload, err)
	}

	if dec.More() {
		return nil, fmt.Errorf("%w: trailing data", errInvalidPayload)
	}

	v, err := payload.FromInterface(generic)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errInvalidPayload, err)
	}

	m, ok := v.(payload.Map)
	if !ok {
		return nil, errPayloadNotObject
	}

	return m, nil
}

func clientID(role string) string {
	return "fleetctl_" + role + "_" + uuid.NewString()[:8]
}
