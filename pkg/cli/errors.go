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
	"errors"
)

var (
	errUnknownCommand   = errors.New("unknown command")
	errRobotRequired    = errors.New("send requires -robot")
	errCommandRequired  = errors.New("send requires a non-empty -type")
	errPayloadNotObject = errors.New("command payload must be a JSON object")
	errInvalidPayload   = errors.New("invalid command payload")
	errTooManyArgs      = errors.New("unexpected extra arguments")
)
