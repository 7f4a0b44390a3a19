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

package command

import (
	"errors"
	"fmt"

	"github.com/carverauto/fleetbridge/pkg/broker"
)

var (
	ErrUnknownRobot       = errors.New("unknown robot id")
	ErrInvalidCommandType = errors.New("invalid command type")
	ErrInvalidPayload     = errors.New("command payload must be a map")
	ErrShuttingDown       = errors.New("server shutting down")
	ErrRateLimited        = errors.New("command rate limit exceeded")
)

// Kind classifies the result of a command.
type Kind int

const (
	KindSuccess Kind = iota
	KindPublishFailed
	KindConnectionError
	KindValidationError
)

func (k Kind) String() string {
	switch k {
	case KindSuccess:
		return "success"
	case KindPublishFailed:
		return "publish_failed"
	case KindConnectionError:
		return "connection_error"
	case KindValidationError:
		return "validation_error"
	default:
		return "unknown"
	}
}

// Feedback statuses sent to the issuing viewer.
const (
	StatusSuccess = "success"
	StatusWarning = "warning"
	StatusError   = "error"
)

// Outcome is the result of one Publish call.
type Outcome struct {
	Kind        Kind
	RobotID     string
	CommandType string
	Topic       string
	// Code is the publish failure code for KindPublishFailed.
	Code int
	Err  error
}

// Feedback is the viewer-facing report of an outcome.
type Feedback struct {
	Status      string `json:"status"`
	Message     string `json:"message"`
	RobotID     string `json:"robot_id,omitempty"`
	CommandType string `json:"command_type,omitempty"`
	Code        int    `json:"code,omitempty"`
}

// Feedback renders the outcome for the viewer that sent the command.
func (o Outcome) Feedback() Feedback {
	fb := Feedback{RobotID: o.RobotID, CommandType: o.CommandType}

	switch o.Kind {
	case KindSuccess:
		fb.Status = StatusSuccess
		fb.Message = fmt.Sprintf("%s command sent to %s.", o.CommandType, o.RobotID)
	case KindPublishFailed:
		fb.Status = StatusWarning
		fb.Code = o.Code
		fb.Message = fmt.Sprintf("Command publish failed (rc=%d) for %s.", o.Code, o.RobotID)
	case KindConnectionError:
		fb.Status = StatusError

		var ce *broker.ConnectError
		if errors.As(o.Err, &ce) && ce.Code != 0 {
			fb.Code = ce.Code
			fb.Message = "Broker Connection Refused (Publisher)."
		} else {
			fb.Message = fmt.Sprintf("Broker Network Error (Publisher): %v.", o.Err)
		}
	case KindValidationError:
		fb.Status = StatusError

		switch {
		case errors.Is(o.Err, ErrUnknownRobot):
			fb.Message = fmt.Sprintf("Invalid robot ID: %s.", o.RobotID)
		case errors.Is(o.Err, ErrShuttingDown):
			fb.Message = "Server shutting down."
		case errors.Is(o.Err, ErrRateLimited):
			fb.Message = "Too many commands, slow down."
		case errors.Is(o.Err, ErrInvalidCommandType), errors.Is(o.Err, ErrInvalidPayload):
			fb.Message = "Invalid command format."
		default:
			fb.Message = fmt.Sprintf("Serialization Error: %v", o.Err)
		}
	}

	return fb
}

// Rejected returns a validation outcome for a command refused before it
// reached the publisher.
func Rejected(robotID, commandType string, err error) Outcome {
	return Outcome{Kind: KindValidationError, RobotID: robotID, CommandType: commandType, Err: err}
}
