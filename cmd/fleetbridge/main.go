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

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"

	"github.com/carverauto/fleetbridge/pkg/bridge"
	"github.com/carverauto/fleetbridge/pkg/broker"
	"github.com/carverauto/fleetbridge/pkg/config"
	"github.com/carverauto/fleetbridge/pkg/lifecycle"
	"github.com/carverauto/fleetbridge/pkg/logger"
	"github.com/carverauto/fleetbridge/pkg/version"
)

var (
	errFailedToLoadConfig = errors.New("failed to load config")
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	configPath := flag.String("config", "/etc/fleetbridge/fleetbridge.json", "Path to fleetbridge config file")
	envFile := flag.String("env-file", "", "Optional .env file loaded before the config")
	showVersion := flag.Bool("version", false, "Print the version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("fleetbridge", version.GetFullVersion())
		return nil
	}

	if *envFile != "" {
		if err := godotenv.Load(*envFile); err != nil {
			return fmt.Errorf("loading env file %s: %w", *envFile, err)
		}
	}

	ctx := context.Background()

	var cfg bridge.Config

	if err := config.NewConfig(nil).LoadAndValidate(ctx, *configPath, &cfg); err != nil {
		return fmt.Errorf("%w: %w", errFailedToLoadConfig, err)
	}

	if err := cfg.ApplyPortOverride(os.Getenv("PORT")); err != nil {
		return fmt.Errorf("%w: %w", errFailedToLoadConfig, err)
	}

	logConfig := cfg.Logging
	if logConfig == nil {
		logConfig = logger.DefaultConfig()
	}

	bridgeLogger, err := lifecycle.CreateLogger(logConfig)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	defer func() { _ = bridgeLogger.Close() }()

	mainLogger := bridgeLogger.Component("fleetbridge")

	tp, err := logger.InitializeTracing(ctx, logConfig.OTel)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}

	defer func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			mainLogger.Warn().Err(err).Msg("Tracer provider shutdown failed")
		}
	}()

	broker.RouteClientLogs(bridgeLogger.Component("paho"))

	if redacted, err := config.Redacted(&cfg); err == nil {
		mainLogger.Debug().RawJSON("config", redacted).Msg("Effective configuration")
	}

	svc, err := bridge.NewService(&cfg, bridgeLogger)
	if err != nil {
		return err
	}

	return lifecycle.RunServer(ctx, &lifecycle.ServerOptions{
		ServiceName: "fleetbridge",
		Service:     svc,
		Logger:      mainLogger,
	})
}
