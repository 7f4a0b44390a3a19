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
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/carverauto/fleetbridge/pkg/broker"
	"github.com/carverauto/fleetbridge/pkg/cli"
)

func main() {
	// A local .env is optional and never overrides the real environment.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("Ignoring .env: %v", err)
	}

	cfg, err := cli.ParseFlags(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}

		cli.ShowHelp(os.Stderr)
		log.Fatalf("Error: %v", err)
	}

	if cfg.Help {
		cli.ShowHelp(os.Stdout)
		return
	}

	dialer, err := broker.NewDialer(cfg.Transport, cfg.Broker)
	if err != nil {
		log.Fatalf("Error: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch cfg.SubCmd {
	case "tail":
		err = cli.RunTail(ctx, dialer, cfg, os.Stdout)
	case "send":
		err = cli.RunSend(ctx, dialer, cfg, os.Stdout)
	}

	if err != nil {
		stop()
		log.Fatalf("Error: %v", err)
	}
}
