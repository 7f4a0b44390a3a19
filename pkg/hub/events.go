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

package hub

import "github.com/carverauto/fleetbridge/pkg/state"

// Event names on the viewer wire protocol.
const (
	EventInitialState    = "initial_state"
	EventData            = "mqtt_data"
	EventCommandFeedback = "command_feedback"
	EventRobotAdded      = "robot_added"
	EventSendCommand     = "send_command"
)

// Event is one message to a viewer. Data is shared between viewers and must
// not be modified once the event is queued.
type Event struct {
	Name string `json:"event"`
	Data any    `json:"data"`
}

// InitialState is the join snapshot.
type InitialState struct {
	KnownRobots    []string       `json:"known_robots"`
	AllData        state.Snapshot `json:"all_data"`
	RobotSubTopics []string       `json:"robot_sub_topics"`
	R2STopics      []string       `json:"r2s_topics"`
	S2RTopics      []string       `json:"s2r_topics"`
}

// DataUpdate carries one applied store update.
type DataUpdate struct {
	RobotID       string           `json:"robot_id"`
	SubTopic      string           `json:"sub_topic"`
	Data          state.TopicEntry `json:"data"`
	RobotLastSeen int64            `json:"robot_last_seen"`
}

// RobotAdded announces a robot created on first sighting.
type RobotAdded struct {
	RobotID string            `json:"robot_id"`
	Record  state.RobotRecord `json:"record"`
}
