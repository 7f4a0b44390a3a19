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

package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/carverauto/fleetbridge/pkg/logger"
)

// Service is a long-running component. Run blocks until ctx is cancelled or
// the service fails, and returns nil on a clean stop.
type Service interface {
	Run(ctx context.Context) error
}

// ServerOptions describes how to run a service.
type ServerOptions struct {
	ServiceName string
	Service     Service
	Logger      logger.Logger
	// Signals overrides the stop signals; SIGINT and SIGTERM when empty.
	Signals []os.Signal
}

// RunServer runs opts.Service until it returns or a stop signal arrives.
func RunServer(ctx context.Context, opts *ServerOptions) error {
	if opts == nil || opts.Service == nil {
		return errNoService
	}

	log := opts.Logger
	if log == nil {
		log = logger.NewTestLogger()
	}

	signals := opts.Signals
	if len(signals) == 0 {
		signals = []os.Signal{os.Interrupt, syscall.SIGTERM}
	}

	ctx, stop := signal.NotifyContext(ctx, signals...)
	defer stop()

	log.Info().Str("service", opts.ServiceName).Msg("Starting service")

	err := opts.Service.Run(ctx)

	switch {
	case err == nil, errors.Is(err, context.Canceled):
		log.Info().Str("service", opts.ServiceName).Msg("Service stopped")

		return nil
	default:
		log.Error().Err(err).Str("service", opts.ServiceName).Msg("Service failed")

		return fmt.Errorf("%s: %w", opts.ServiceName, err)
	}
}
