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
	"fmt"
	"io"
)

// ShowHelp writes the usage message.
func ShowHelp(w io.Writer) {
	fmt.Fprint(w, `fleetctl: inspect fleet broker traffic and send test commands
Usage:
  fleetctl tail [options]
  fleetctl send -robot <id> [options] ['<json payload>']

Commands:
  tail    subscribe to robot traffic and print every message decoded
  send    publish one msgpack-encoded command to <robot>/s2r/<type>

Broker options (all commands, defaults from FLEETBRIDGE_BROKER_*):
  -transport string   mqtt or nats (default "mqtt")
  -host string        broker host (default "localhost")
  -port int           broker port (default 1883 for mqtt, 4222 for nats)
  -username string    broker username
  -password string    broker password
  -timeout duration   connect and publish timeout (default 10s)

Options for tail:
  -filter string      topic filter (default "+/+/#")
  -n int              exit after this many messages

Options for send:
  -robot string       target robot id (required)
  -type string        command type (default "server_cmd")

Examples:
  fleetctl tail -host broker.local
  fleetctl tail -filter 'sim_robot_1/r2s/#' -n 10
  fleetctl send -robot bulldog01_5f899b
  fleetctl send -robot sim_robot_1 -type joystick_control '{"linear": 0.2, "angular": 0}'
`)
}
