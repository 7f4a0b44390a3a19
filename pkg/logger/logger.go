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

// Package logger provides JSON structured logging using zerolog
package logger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	errUnknownOutput = errors.New("unknown log output")
	errNoFilePath    = errors.New("log output is file but no file path is set")
)

// ParseLevel returns the level selected by config. Debug wins over Level.
func ParseLevel(config *Config) (zerolog.Level, error) {
	if config.Debug {
		return zerolog.DebugLevel, nil
	}

	if config.Level == "" {
		return zerolog.InfoLevel, nil
	}

	return zerolog.ParseLevel(config.Level)
}

// NewWriter opens the sink selected by config. The returned closer releases
// the file sink and is a no-op for the standard streams.
func NewWriter(config *Config) (io.Writer, io.Closer, error) {
	switch config.Output {
	case "", OutputStdout:
		return os.Stdout, nopCloser{}, nil
	case OutputStderr:
		return os.Stderr, nopCloser{}, nil
	case OutputFile:
		if config.File.Path == "" {
			return nil, nil, errNoFilePath
		}

		w := &lumberjack.Logger{
			Filename:   config.File.Path,
			MaxSize:    config.File.MaxSizeMB,
			MaxBackups: config.File.MaxBackups,
			MaxAge:     config.File.MaxAgeDays,
			Compress:   config.File.Compress,
		}

		return w, w, nil
	default:
		return nil, nil, fmt.Errorf("%w: %q", errUnknownOutput, config.Output)
	}
}

// New builds a zerolog logger for config. With OTel enabled and an endpoint
// set, every line is also exported as an OTel log record; the returned closer
// then flushes the exporter as well.
func New(config *Config) (zerolog.Logger, io.Closer, error) {
	if config == nil {
		config = DefaultConfig()
	}

	level, err := ParseLevel(config)
	if err != nil {
		return zerolog.Nop(), nil, err
	}

	output, closer, err := NewWriter(config)
	if err != nil {
		return zerolog.Nop(), nil, err
	}

	if config.OTel.Enabled && config.OTel.Endpoint != "" {
		otelWriter, err := NewOTelWriter(context.Background(), config.OTel)
		if err != nil {
			_ = closer.Close()

			return zerolog.Nop(), nil, err
		}

		output = NewMultiWriter(output, otelWriter)
		closer = closers{otelWriter, closer}
	}

	zerolog.TimeFieldFormat = time.RFC3339
	if config.TimeFormat != "" {
		zerolog.TimeFieldFormat = config.TimeFormat
	}

	zl := zerolog.New(output).
		Level(level).
		With().
		Timestamp().
		Logger()

	return zl, closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// closers closes each member in order and joins the errors.
type closers []io.Closer

func (cs closers) Close() error {
	var errs []error

	for _, c := range cs {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}
