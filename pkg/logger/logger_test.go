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

package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		want    zerolog.Level
		wantErr bool
	}{
		{name: "empty defaults to info", config: Config{}, want: zerolog.InfoLevel},
		{name: "explicit", config: Config{Level: "warn"}, want: zerolog.WarnLevel},
		{name: "debug flag wins", config: Config{Level: "error", Debug: true}, want: zerolog.DebugLevel},
		{name: "invalid", config: Config{Level: "loud"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseLevel(&tt.config)
			if tt.wantErr {
				require.Error(t, err)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNewWriter(t *testing.T) {
	w, c, err := NewWriter(&Config{Output: OutputStderr})
	require.NoError(t, err)
	assert.Equal(t, os.Stderr, w)
	require.NoError(t, c.Close())

	_, _, err = NewWriter(&Config{Output: "syslog"})
	require.ErrorIs(t, err, errUnknownOutput)

	_, _, err = NewWriter(&Config{Output: OutputFile})
	require.ErrorIs(t, err, errNoFilePath)
}

func TestNewWritesToRotatingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bridge.log")

	zl, closer, err := New(&Config{
		Level:  "info",
		Output: OutputFile,
		File:   FileConfig{Path: path, MaxSizeMB: 1},
	})
	require.NoError(t, err)

	zl.Info().Str("robot_id", "robot1").Msg("hello")
	zl.Debug().Msg("suppressed")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"robot_id":"robot1"`)
	assert.Contains(t, string(data), `"message":"hello"`)
	assert.NotContains(t, string(data), "suppressed")
}

func TestDefaultConfig(t *testing.T) {
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LOG_OUTPUT", "stderr")
	t.Setenv("LOG_FILE_MAX_BACKUPS", "9")
	t.Setenv("LOG_FILE_COMPRESS", "no")

	config := DefaultConfig()
	assert.Equal(t, "debug", config.Level)
	assert.Equal(t, OutputStderr, config.Output)
	assert.Equal(t, 9, config.File.MaxBackups)
	assert.Equal(t, 100, config.File.MaxSizeMB)
	assert.False(t, config.File.Compress)
}

func TestTestLoggerIsSilent(t *testing.T) {
	l := NewTestLogger()
	assert.Equal(t, zerolog.Disabled, l.WithComponent("hub").GetLevel())

	assert.NotPanics(t, func() {
		l.Info().Msg("nothing")
		hubLog := l.WithComponent("hub")
		hubLog.Info().Msg("nothing")
		l.SetDebug(true)
	})
}
