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

import (
	"errors"
	"fmt"
)

var (
	// ErrConnectionLost reports that an established session dropped.
	ErrConnectionLost = errors.New("broker connection lost")
	// ErrConnectTimeout reports that connect or subscribe did not finish in time.
	ErrConnectTimeout = errors.New("broker connect timed out")
	// ErrClosed is returned by Receive after Close.
	ErrClosed = errors.New("broker connection closed")
	// ErrUnknownTransport reports an unsupported transport name.
	ErrUnknownTransport = errors.New("unknown broker transport")

	errSubscribeRejected = errors.New("broker rejected subscription")
)

// ConnectError is a refused connection. Code is the broker's return code
// when it sent one (MQTT CONNACK codes: 4 bad credentials, 5 not authorized).
type ConnectError struct {
	Code int
	Err  error
}

func (e *ConnectError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("broker refused connection (code %d): %v", e.Code, e.Err)
	}

	return fmt.Sprintf("broker connection failed: %v", e.Err)
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}

// PublishCode classifies a failed publish.
type PublishCode int

const (
	PublishCodeTimeout PublishCode = iota + 1
	PublishCodeNotConnected
	PublishCodeRejected
)

func (c PublishCode) String() string {
	switch c {
	case PublishCodeTimeout:
		return "timeout"
	case PublishCodeNotConnected:
		return "not_connected"
	case PublishCodeRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// PublishError is a publish the client could not complete.
type PublishError struct {
	Code PublishCode
	Err  error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("publish failed (%s, rc=%d): %v", e.Code, int(e.Code), e.Err)
}

func (e *PublishError) Unwrap() error {
	return e.Err
}
