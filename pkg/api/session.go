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
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/carverauto/fleetbridge/pkg/command"
	"github.com/carverauto/fleetbridge/pkg/hub"
	"github.com/carverauto/fleetbridge/pkg/payload"
)

const maxInboundBytes = 1 << 20

// inbound is a viewer-to-server frame.
type inbound struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type commandRequest struct {
	RobotID     string      `json:"robot_id"`
	CommandType string      `json:"command_type"`
	Payload     interface{} `json:"payload"`
}

type session struct {
	srv     *Server
	conn    *websocket.Conn
	viewer  *hub.Viewer
	limiter *rate.Limiter
	log     zerolog.Logger
}

func (s *Server) serveViewer(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error().Err(err).Str("remote_addr", r.RemoteAddr).Msg("Failed to upgrade to WebSocket")
		return
	}

	id := uuid.NewString()

	viewer, err := s.hub.Join(id)
	if err != nil {
		s.log.Error().Err(err).Str("viewer_id", id).Msg("Failed to register viewer")
		_ = conn.Close()

		return
	}

	sess := &session{
		srv:    s,
		conn:   conn,
		viewer: viewer,
		log:    s.log.With().Str("viewer_id", id).Str("remote_addr", r.RemoteAddr).Logger(),
	}

	if s.opts.CommandRate > 0 {
		burst := s.opts.CommandBurst
		if burst < 1 {
			burst = 1
		}

		sess.limiter = rate.NewLimiter(rate.Limit(s.opts.CommandRate), burst)
	}

	sess.run()
}

// run owns the connection until the viewer disconnects or the hub drops it.
func (sess *session) run() {
	ctx, cancel := context.WithCancel(context.Background())

	var wg sync.WaitGroup

	wg.Add(1)

	go func() {
		defer wg.Done()
		sess.writeLoop(ctx)
	}()

	if sess.srv.opts.PingInterval > 0 {
		wg.Add(1)

		go func() {
			defer wg.Done()
			sess.pingLoop(ctx)
		}()
	}

	sess.readLoop()

	cancel()
	sess.srv.hub.Leave(sess.viewer.ID())
	_ = sess.conn.Close()
	wg.Wait()
}

func (sess *session) writeLoop(ctx context.Context) {
	for {
		e, err := sess.viewer.Next(ctx)
		if err != nil {
			if errors.Is(err, hub.ErrViewerGone) {
				deadline := time.Now().Add(sess.srv.opts.ViewerWriteTimeout)
				msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server closing")
				_ = sess.conn.WriteControl(websocket.CloseMessage, msg, deadline)
				_ = sess.conn.Close()
			}

			return
		}

		if err := sess.conn.SetWriteDeadline(time.Now().Add(sess.srv.opts.ViewerWriteTimeout)); err != nil {
			sess.log.Warn().Err(err).Msg("Failed to set WebSocket write deadline")
		}

		if err := sess.conn.WriteJSON(e); err != nil {
			sess.log.Debug().Err(err).Str("event", e.Name).Msg("Viewer write failed, closing")
			_ = sess.conn.Close()

			return
		}
	}
}

func (sess *session) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(sess.srv.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deadline := time.Now().Add(sess.srv.opts.ViewerWriteTimeout)
			if err := sess.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				sess.log.Debug().Err(err).Msg("WebSocket ping failed")
				return
			}
		}
	}
}

func (sess *session) readLoop() {
	sess.conn.SetReadLimit(maxInboundBytes)

	pongWait := 2 * sess.srv.opts.PingInterval
	extend := func() {
		if pongWait > 0 {
			_ = sess.conn.SetReadDeadline(time.Now().Add(pongWait))
		}
	}

	extend()
	sess.conn.SetPongHandler(func(string) error {
		extend()
		return nil
	})

	for {
		_, data, err := sess.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				sess.log.Debug().Err(err).Msg("Viewer connection closed unexpectedly")
			}

			return
		}

		extend()
		sess.handleFrame(data)
	}
}

func (sess *session) handleFrame(data []byte) {
	var msg inbound
	if err := json.Unmarshal(data, &msg); err != nil {
		sess.log.Debug().Err(err).Msg("Ignoring malformed viewer frame")
		return
	}

	if msg.Event != hub.EventSendCommand {
		sess.log.Debug().Str("event", msg.Event).Msg("Ignoring unknown viewer event")
		return
	}

	var req commandRequest

	dec := json.NewDecoder(bytes.NewReader(msg.Data))
	dec.UseNumber()

	if err := dec.Decode(&req); err != nil {
		sess.feedback(command.Rejected("", "", command.ErrInvalidPayload))
		return
	}

	sess.handleCommand(req)
}

func (sess *session) handleCommand(req commandRequest) {
	if sess.limiter != nil && !sess.limiter.Allow() {
		sess.feedback(command.Rejected(req.RobotID, req.CommandType, command.ErrRateLimited))
		return
	}

	var body payload.Value

	if req.Payload != nil {
		v, err := payload.FromInterface(req.Payload)
		if err != nil {
			sess.feedback(command.Rejected(req.RobotID, req.CommandType, command.ErrInvalidPayload))
			return
		}

		body = v
	}

	if !sess.srv.track() {
		sess.feedback(command.Rejected(req.RobotID, req.CommandType, command.ErrShuttingDown))
		return
	}

	go func() {
		defer sess.srv.inflight.Done()

		out := sess.srv.commander.Publish(context.Background(), sess.viewer.ID(), req.RobotID, req.CommandType, body)
		sess.feedback(out)
	}()
}

func (sess *session) feedback(out command.Outcome) {
	err := sess.srv.hub.Send(sess.viewer.ID(), hub.Event{Name: hub.EventCommandFeedback, Data: out.Feedback()})
	if err != nil {
		sess.log.Debug().Err(err).Msg("Viewer left before command feedback")
	}
}
