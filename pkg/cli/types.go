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
	"time"

	"github.com/carverauto/fleetbridge/pkg/broker"
)

// CmdConfig holds parsed command-line configuration.
type CmdConfig struct {
	Help        bool
	SubCmd      string
	Transport   string
	Broker      broker.Options
	Filter      string
	Count       int
	RobotID     string
	CommandType string
	Payload     string
	Timeout     time.Duration
	Args        []string
}

// DefaultCommandPayload is the reference server_cmd used when send gets no payload.
const DefaultCommandPayload = `{
  "operation_mode": 2,
  "drive_tele_mode": 0,
  "server_cmd_state": 2,
  "confirmation": 0,
  "store_location": {"x": 21.0285, "y": 105.8542, "z": 0.0},
  "customer_location": {"x": 21.0295, "y": 105.8552, "z": 0.0},
  "open_lid_cmd": 0,
  "emb_map": "OCP",
  "tele_cmd_vel": {
    "linear": {"x": 0.0, "y": 0.0, "z": 0.0},
    "angular": {"x": 0.0, "y": 0.0, "z": 0.0}
  }
}`
