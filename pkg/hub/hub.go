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

// Package hub fans store updates out to connected viewers. Every viewer gets
// the full store once on join, then each later update exactly once, through
// its own bounded queue so a slow viewer never holds up the others.
package hub

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/carverauto/fleetbridge/pkg/logger"
	"github.com/carverauto/fleetbridge/pkg/metrics"
	"github.com/carverauto/fleetbridge/pkg/state"
)

var (
	ErrViewerExists = errors.New("viewer already joined")
	ErrViewerGone   = errors.New("viewer left")
)

const defaultQueueSize = 256

// Config sets queue sizing and the topic lists announced on join.
type Config struct {
	QueueSize int
	R2STopics []string
	S2RTopics []string
}

// Hub is the viewer registry.
type Hub struct {
	store   *state.Store
	cfg     Config
	log     logger.Logger
	metrics *metrics.Collectors

	mu      sync.RWMutex
	viewers map[string]*Viewer
}

// New returns a hub serving snapshots of store.
func New(store *state.Store, cfg Config, log logger.Logger, m *metrics.Collectors) *Hub {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}

	return &Hub{
		store:   store,
		cfg:     cfg,
		log:     log,
		metrics: m,
		viewers: make(map[string]*Viewer),
	}
}

// Viewer is one joined client.
type Viewer struct {
	id    string
	since uint64
	q     *queue

	mu      sync.Mutex
	initial *Event
}

// ID returns the viewer id given to Join.
func (v *Viewer) ID() string {
	return v.id
}

// Next returns the next event for the viewer, blocking until one is
// available. The join snapshot is always returned first. After Leave it
// returns ErrViewerGone.
func (v *Viewer) Next(ctx context.Context) (Event, error) {
	v.mu.Lock()
	if e := v.initial; e != nil {
		v.initial = nil
		v.mu.Unlock()

		return *e, nil
	}
	v.mu.Unlock()

	return v.q.next(ctx)
}

// Pending returns the number of queued incremental events.
func (v *Viewer) Pending() int {
	return v.q.len()
}

// Join registers a viewer. The snapshot and the registration happen under
// the store lock, so every update is either folded into the snapshot or
// queued afterwards, never both.
func (h *Hub) Join(id string) (*Viewer, error) {
	v := &Viewer{id: id, q: newQueue(h.cfg.QueueSize)}

	var err error

	h.store.View(func(snap state.Snapshot, roster []string, revision uint64) {
		h.mu.Lock()
		defer h.mu.Unlock()

		if _, dup := h.viewers[id]; dup {
			err = fmt.Errorf("%w: %s", ErrViewerExists, id)
			return
		}

		v.since = revision
		v.initial = &Event{Name: EventInitialState, Data: InitialState{
			KnownRobots:    roster,
			AllData:        snap,
			RobotSubTopics: h.store.ExpectedTopics(),
			R2STopics:      h.cfg.R2STopics,
			S2RTopics:      h.cfg.S2RTopics,
		}}
		h.viewers[id] = v
	})

	if err != nil {
		return nil, err
	}

	h.metrics.ViewerJoined()
	h.log.Info().Str("viewer_id", id).Uint64("revision", v.since).Msg("Viewer joined")

	return v, nil
}

// Leave unregisters a viewer and wakes any pending Next call.
func (h *Hub) Leave(id string) {
	h.mu.Lock()
	v, ok := h.viewers[id]
	delete(h.viewers, id)
	h.mu.Unlock()

	if !ok {
		return
	}

	v.q.close()
	h.metrics.ViewerLeft()
	h.log.Info().Str("viewer_id", id).Msg("Viewer left")
}

// Close removes every viewer.
func (h *Hub) Close() {
	h.mu.RLock()
	ids := make([]string, 0, len(h.viewers))
	for id := range h.viewers {
		ids = append(ids, id)
	}
	h.mu.RUnlock()

	for _, id := range ids {
		h.Leave(id)
	}
}

// Publish queues an update for every viewer whose snapshot predates it. It
// never blocks on a viewer.
func (h *Hub) Publish(u state.Update) {
	data := Event{Name: EventData, Data: DataUpdate{
		RobotID:       u.RobotID,
		SubTopic:      u.Topic,
		Data:          u.Entry,
		RobotLastSeen: u.LastSeenMillis,
	}}

	var added *Event
	if u.Added && u.Record != nil {
		added = &Event{Name: EventRobotAdded, Data: RobotAdded{RobotID: u.RobotID, Record: *u.Record}}
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, v := range h.viewers {
		if u.Revision <= v.since {
			continue
		}

		if added != nil {
			h.enqueue(v, *added)
		}

		h.enqueue(v, data)
	}
}

// Send queues an event for a single viewer.
func (h *Hub) Send(id string, e Event) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	v, ok := h.viewers[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrViewerGone, id)
	}

	h.enqueue(v, e)

	return nil
}

// Viewers returns the number of joined viewers.
func (h *Hub) Viewers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.viewers)
}

func (h *Hub) enqueue(v *Viewer, e Event) {
	if v.q.push(e) {
		h.metrics.EventDropped()
		h.log.Debug().Str("viewer_id", v.id).Str("event", e.Name).Msg("Viewer queue full, dropped oldest event")
	}
}
