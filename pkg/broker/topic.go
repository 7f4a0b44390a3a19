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

import "strings"

// Topic grammar: {robotId}/{direction}/{subTopic...}.
const (
	Separator = "/"

	// DirectionRobotToServer marks telemetry published by robots.
	DirectionRobotToServer = "r2s"
	// DirectionServerToRobot marks commands published to robots.
	DirectionServerToRobot = "s2r"

	// TelemetryFilter matches any robot, the r2s direction and any sub-topic.
	TelemetryFilter = "+" + Separator + DirectionRobotToServer + Separator + "#"
	// AllTrafficFilter matches every robot topic in either direction.
	AllTrafficFilter = "+" + Separator + "+" + Separator + "#"
)

// Topic is a parsed broker topic.
type Topic struct {
	RobotID   string
	Direction string
	// SubTopic is everything after the second separator, verbatim.
	SubTopic string
}

// ParseTopic splits topic into its robot id, direction and sub-topic. It
// fails when there are fewer than three segments or the robot id is not a
// valid segment.
func ParseTopic(topic string) (Topic, bool) {
	parts := strings.SplitN(topic, Separator, 3)
	if len(parts) < 3 || !ValidSegment(parts[0]) {
		return Topic{}, false
	}

	return Topic{RobotID: parts[0], Direction: parts[1], SubTopic: parts[2]}, true
}

// CommandTopic returns the topic a command of commandType for robotID is
// published on.
func CommandTopic(robotID, commandType string) string {
	return robotID + Separator + DirectionServerToRobot + Separator + commandType
}

// TelemetryTopic returns the topic robotID publishes subTopic on.
func TelemetryTopic(robotID, subTopic string) string {
	return robotID + Separator + DirectionRobotToServer + Separator + subTopic
}

// ValidSegment reports whether id can stand as one topic level: non-empty,
// with no separator and no wildcard.
func ValidSegment(id string) bool {
	return id != "" && !strings.ContainsAny(id, Separator+"+#")
}
