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

package bridge

import "errors"

var (
	errNoRobots         = errors.New("known_robots must not be empty")
	errDuplicateRobot   = errors.New("duplicate robot id")
	errInvalidRobotID   = errors.New("invalid robot id")
	errInvalidTopic     = errors.New("invalid sub-topic name")
	errInvalidPort      = errors.New("broker port out of range")
	errNegativeDuration = errors.New("duration must not be negative")
	errNegativeSetting  = errors.New("setting must not be negative")
	errUnknownTransport = errors.New("unknown broker transport")
)
