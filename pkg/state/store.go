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

// Package state holds the latest decoded value per robot and sub-topic.
package state

import (
	"sort"
	"sync"

	"github.com/carverauto/fleetbridge/pkg/broker"
	"github.com/carverauto/fleetbridge/pkg/payload"
)

// TopicEntry is the latest value received on one sub-topic. Entries are never
// mutated after construction; a new message always produces a new entry.
type TopicEntry struct {
	Value            payload.Value `json:"payload"`
	ReceivedAtMillis int64         `json:"timestamp"`
}

// RobotRecord is everything known about one robot.
type RobotRecord struct {
	LastSeenMillis int64                 `json:"last_seen"`
	Topics         map[string]TopicEntry `json:"topics"`
}

// Snapshot maps robot id to a deep copy of its record.
type Snapshot map[string]RobotRecord

// Update describes one applied Record call. Entry shares its value with the
// store and must be treated as read-only.
type Update struct {
	RobotID        string
	Topic          string
	Entry          TopicEntry
	LastSeenMillis int64
	// Revision increases by one with every applied Record call.
	Revision uint64
	// Added is set when the robot was created by this call; Record then holds
	// a deep copy of the new robot's record.
	Added  bool
	Record *RobotRecord
}

// Options controls the roster policy of a Store.
type Options struct {
	// AllowDynamicRobots adds unknown robots on first sighting instead of
	// dropping their messages.
	AllowDynamicRobots bool
}

// Store is the single owned copy of robot state. One mutex guards the whole
// map and is held only while mutating or copying it.
type Store struct {
	mu       sync.Mutex
	robots   map[string]*RobotRecord
	revision uint64
	expected []string
	opts     Options
}

// New builds a store with one record per roster entry, each expected topic
// pre-populated with the waiting placeholder at timestamp 0.
func New(roster, expectedTopics []string, opts Options) *Store {
	s := &Store{
		robots:   make(map[string]*RobotRecord, len(roster)),
		expected: append([]string(nil), expectedTopics...),
		opts:     opts,
	}

	for _, id := range roster {
		if _, dup := s.robots[id]; dup {
			continue
		}

		s.robots[id] = s.newRecord()
	}

	return s
}

func (s *Store) newRecord() *RobotRecord {
	rec := &RobotRecord{Topics: make(map[string]TopicEntry, len(s.expected))}
	for _, topic := range s.expected {
		rec.Topics[topic] = TopicEntry{Value: payload.Waiting}
	}

	return rec
}

// Record stores value as the latest entry for (robotID, topic) and stamps the
// robot as seen. It returns ok=false without touching the store when robotID
// is not on the roster and either dynamic robots are disabled or robotID is
// not a valid topic segment.
func (s *Store) Record(robotID, topic string, value payload.Value, nowMillis int64) (Update, bool) {
	entry := TopicEntry{Value: value, ReceivedAtMillis: nowMillis}

	s.mu.Lock()
	defer s.mu.Unlock()

	added := false

	rec, known := s.robots[robotID]
	if !known {
		if !s.opts.AllowDynamicRobots || !broker.ValidSegment(robotID) {
			return Update{}, false
		}

		rec = s.newRecord()
		s.robots[robotID] = rec
		added = true
	}

	rec.Topics[topic] = entry
	rec.LastSeenMillis = nowMillis
	s.revision++

	u := Update{
		RobotID:        robotID,
		Topic:          topic,
		Entry:          entry,
		LastSeenMillis: nowMillis,
		Revision:       s.revision,
		Added:          added,
	}

	if added {
		rc := copyRecord(rec)
		u.Record = &rc
	}

	return u, true
}

// Known reports whether robotID has a record.
func (s *Store) Known(robotID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.robots[robotID]

	return ok
}

// Accepts reports whether Record would accept a message from robotID.
func (s *Store) Accepts(robotID string) bool {
	if s.opts.AllowDynamicRobots && broker.ValidSegment(robotID) {
		return true
	}

	return s.Known(robotID)
}

// Roster returns the sorted ids of all robots in the store.
func (s *Store) Roster() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.rosterLocked()
}

func (s *Store) rosterLocked() []string {
	ids := make([]string, 0, len(s.robots))
	for id := range s.robots {
		ids = append(ids, id)
	}

	sort.Strings(ids)

	return ids
}

// ExpectedTopics returns the topics every record is pre-populated with.
func (s *Store) ExpectedTopics() []string {
	return append([]string(nil), s.expected...)
}

// Snapshot returns a deep copy of every record.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.snapshotLocked()
}

func (s *Store) snapshotLocked() Snapshot {
	out := make(Snapshot, len(s.robots))
	for id, rec := range s.robots {
		out[id] = copyRecord(rec)
	}

	return out
}

// Robot returns a deep copy of one record.
func (s *Store) Robot(robotID string) (RobotRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.robots[robotID]
	if !ok {
		return RobotRecord{}, false
	}

	return copyRecord(rec), true
}

// View takes a snapshot and calls fn with it while still holding the store
// lock, so no Record call can land between the copy and fn. revision is the
// revision of the last update folded into the snapshot. fn must not block and
// must not call back into the store.
func (s *Store) View(fn func(snap Snapshot, roster []string, revision uint64)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	fn(s.snapshotLocked(), s.rosterLocked(), s.revision)
}

// Revision returns the revision of the last applied update.
func (s *Store) Revision() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.revision
}

func copyRecord(rec *RobotRecord) RobotRecord {
	out := RobotRecord{
		LastSeenMillis: rec.LastSeenMillis,
		Topics:         make(map[string]TopicEntry, len(rec.Topics)),
	}

	for topic, entry := range rec.Topics {
		out.Topics[topic] = TopicEntry{
			Value:            payload.Clone(entry.Value),
			ReceivedAtMillis: entry.ReceivedAtMillis,
		}
	}

	return out
}
