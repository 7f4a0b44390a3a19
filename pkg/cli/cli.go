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
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/carverauto/fleetbridge/pkg/broker"
)

const (
	cmdTail = "tail"
	cmdSend = "send"

	defaultTimeout = 10 * time.Second
)

// SubcommandHandler parses the flags of one subcommand.
type SubcommandHandler interface {
	Parse(args []string, cfg *CmdConfig) error
}

// TailHandler handles flags for the tail subcommand.
type TailHandler struct{}

// Parse processes the command-line arguments for the tail subcommand.
func (TailHandler) Parse(args []string, cfg *CmdConfig) error {
	fs := newFlagSet(cmdTail, cfg)
	filter := fs.String("filter", broker.AllTrafficFilter, "topic filter to subscribe to")
	count := fs.Int("n", 0, "exit after this many messages (0 = run until interrupted)")

	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("parsing tail flags: %w", err)
	}

	if fs.NArg() > 0 {
		return fmt.Errorf("%w: %v", errTooManyArgs, fs.Args())
	}

	cfg.Filter = *filter
	cfg.Count = *count

	return nil
}

// SendHandler handles flags for the send subcommand.
type SendHandler struct{}

// Parse processes the command-line arguments for the send subcommand. An
// optional positional argument carries the JSON payload.
func (SendHandler) Parse(args []string, cfg *CmdConfig) error {
	fs := newFlagSet(cmdSend, cfg)
	robot := fs.String("robot", "", "target robot id")
	commandType := fs.String("type", "server_cmd", "command type (topic suffix after s2r/)")

	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("parsing send flags: %w", err)
	}

	switch fs.NArg() {
	case 0:
		cfg.Payload = DefaultCommandPayload
	case 1:
		cfg.Payload = fs.Arg(0)
	default:
		return fmt.Errorf("%w: %v", errTooManyArgs, fs.Args()[1:])
	}

	if *robot == "" {
		return errRobotRequired
	}

	if *commandType == "" {
		return errCommandRequired
	}

	cfg.RobotID = *robot
	cfg.CommandType = *commandType

	return nil
}

// newFlagSet registers the broker connection flags shared by every
// subcommand. Defaults come from the FLEETBRIDGE_BROKER_* environment.
func newFlagSet(name string, cfg *CmdConfig) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)

	fs.StringVar(&cfg.Transport, "transport", envOr("FLEETBRIDGE_BROKER_TRANSPORT", broker.TransportMQTT), "broker transport: mqtt or nats")
	fs.StringVar(&cfg.Broker.Host, "host", envOr("FLEETBRIDGE_BROKER_HOST", "localhost"), "broker host")
	fs.IntVar(&cfg.Broker.Port, "port", envIntOr("FLEETBRIDGE_BROKER_PORT", 0), "broker port (0 = transport default)")
	fs.StringVar(&cfg.Broker.Username, "username", os.Getenv("FLEETBRIDGE_BROKER_USERNAME"), "broker username")
	fs.StringVar(&cfg.Broker.Password, "password", os.Getenv("FLEETBRIDGE_BROKER_PASSWORD"), "broker password")
	fs.DurationVar(&cfg.Timeout, "timeout", defaultTimeout, "connect and publish timeout")

	return fs
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}

	return def
}

func envIntOr(key string, def int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return def
	}

	return v
}

// ParseFlags reads the subcommand from args[0] and parses its flags.
func ParseFlags(args []string) (*CmdConfig, error) {
	cfg := &CmdConfig{}

	if len(args) == 0 || args[0] == "-help" || args[0] == "--help" || args[0] == "help" {
		cfg.Help = true
		return cfg, nil
	}

	cfg.SubCmd = args[0]
	cfg.Args = args[1:]

	subcommands := map[string]SubcommandHandler{
		cmdTail: TailHandler{},
		cmdSend: SendHandler{},
	}

	handler, ok := subcommands[cfg.SubCmd]
	if !ok {
		return cfg, fmt.Errorf("%w: %q", errUnknownCommand, cfg.SubCmd)
	}

	if err := handler.Parse(cfg.Args, cfg); err != nil {
		return cfg, err
	}

	if cfg.Broker.Port == 0 {
		cfg.Broker.Port = 1883
		if cfg.Transport == broker.TransportNATS {
			cfg.Broker.Port = 4222
		}
	}

	cfg.Broker.ConnectTimeout = cfg.Timeout

	return cfg, nil
}
