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

package config

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type interval time.Duration

func (i *interval) UnmarshalText(text []byte) error {
	d, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}

	*i = interval(d)

	return nil
}

func (i interval) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(i).String())
}

type brokerSection struct {
	Host     string   `json:"host"`
	Port     int      `json:"port"`
	Password string   `json:"password" sensitive:"true"`
	Backoff  interval `json:"backoff"`
}

type logSection struct {
	Level string `json:"level"`
	Debug bool   `json:"debug"`
}

type sampleConfig struct {
	Listen  string        `json:"listen_addr"`
	Robots  []string      `json:"known_robots"`
	Dynamic bool          `json:"allow_dynamic_robots"`
	Rate    *float64      `json:"command_rate"`
	Timeout interval      `json:"timeout"`
	Broker  brokerSection `json:"broker"`
	Logging *logSection   `json:"logging"`
	Hidden  string        `json:"-"`
}

var errNoRobots = errors.New("no robots")

type validatedConfig struct {
	Robots []string `json:"known_robots"`
}

func (v *validatedConfig) Validate() error {
	if len(v.Robots) == 0 {
		return errNoRobots
	}

	return nil
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	return path
}

func TestLoadAndValidateFromFile(t *testing.T) {
	t.Setenv("CONFIG_SOURCE", "")

	path := writeConfig(t, `{"listen_addr":":5000","known_robots":["r1","r2"],"broker":{"host":"h","port":1883}}`)

	var cfg sampleConfig
	require.NoError(t, NewConfig(nil).LoadAndValidate(context.Background(), path, &cfg))

	assert.Equal(t, ":5000", cfg.Listen)
	assert.Equal(t, []string{"r1", "r2"}, cfg.Robots)
	assert.Equal(t, 1883, cfg.Broker.Port)
}

func TestLoadAndValidateRunsValidator(t *testing.T) {
	t.Setenv("CONFIG_SOURCE", "file")

	path := writeConfig(t, `{"known_robots":[]}`)

	var cfg validatedConfig
	err := NewConfig(nil).LoadAndValidate(context.Background(), path, &cfg)
	require.ErrorIs(t, err, errNoRobots)
}

func TestLoadAndValidateMissingFile(t *testing.T) {
	t.Setenv("CONFIG_SOURCE", "")

	var cfg sampleConfig
	err := NewConfig(nil).LoadAndValidate(context.Background(), filepath.Join(t.TempDir(), "nope.json"), &cfg)
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoadAndValidateRejectsUnknownSource(t *testing.T) {
	t.Setenv("CONFIG_SOURCE", "etcd")

	var cfg sampleConfig
	err := NewConfig(nil).LoadAndValidate(context.Background(), "", &cfg)
	require.ErrorIs(t, err, errInvalidConfigSource)
}

func TestEnvSourceUsesDefaultPrefix(t *testing.T) {
	t.Setenv("CONFIG_SOURCE", "env")
	t.Setenv("CONFIG_ENV_PREFIX", "")
	t.Setenv("FLEETBRIDGE_KNOWN_ROBOTS", "robot1, robot2")
	t.Setenv("FLEETBRIDGE_BROKER_HOST", "broker.local")

	var cfg sampleConfig
	require.NoError(t, NewConfig(nil).LoadAndValidate(context.Background(), "", &cfg))

	assert.Equal(t, []string{"robot1", "robot2"}, cfg.Robots)
	assert.Equal(t, "broker.local", cfg.Broker.Host)
}

func TestEnvConfigLoaderFields(t *testing.T) {
	t.Setenv("APP_LISTEN_ADDR", ":8080")
	t.Setenv("APP_ALLOW_DYNAMIC_ROBOTS", "true")
	t.Setenv("APP_COMMAND_RATE", "2.5")
	t.Setenv("APP_TIMEOUT", "750ms")
	t.Setenv("APP_BROKER_PORT", "4222")
	t.Setenv("APP_BROKER_BACKOFF", "15s")
	t.Setenv("APP_BROKER_PASSWORD", "secret")

	var cfg sampleConfig
	require.NoError(t, NewEnvConfigLoader(nil, "APP_").Load(context.Background(), "", &cfg))

	assert.Equal(t, ":8080", cfg.Listen)
	assert.True(t, cfg.Dynamic)
	require.NotNil(t, cfg.Rate)
	assert.InDelta(t, 2.5, *cfg.Rate, 0)
	assert.Equal(t, interval(750*time.Millisecond), cfg.Timeout)
	assert.Equal(t, 4222, cfg.Broker.Port)
	assert.Equal(t, interval(15*time.Second), cfg.Broker.Backoff)
	assert.Equal(t, "secret", cfg.Broker.Password)
}

func TestEnvConfigLoaderPointerSections(t *testing.T) {
	var unset sampleConfig
	require.NoError(t, NewEnvConfigLoader(nil, "APP_").Load(context.Background(), "", &unset))
	assert.Nil(t, unset.Logging)
	assert.Nil(t, unset.Rate)

	t.Setenv("APP_LOGGING_LEVEL", "warn")
	t.Setenv("APP_KNOWN_ROBOTS", " a, ,b ")

	var cfg sampleConfig
	require.NoError(t, NewEnvConfigLoader(nil, "APP_").Load(context.Background(), "", &cfg))
	require.NotNil(t, cfg.Logging)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, []string{"a", "b"}, cfg.Robots)
}

func TestEnvConfigLoaderSkipsInvalidValues(t *testing.T) {
	t.Setenv("APP_BROKER_PORT", "not-a-number")
	t.Setenv("APP_BROKER_BACKOFF", "soon")
	t.Setenv("APP_BROKER_HOST", "still-set")
	t.Setenv("APP_COMMAND_RATE", "fast")

	cfg := sampleConfig{Broker: brokerSection{Port: 1883}}
	require.NoError(t, NewEnvConfigLoader(nil, "APP_").Load(context.Background(), "", &cfg))

	assert.Equal(t, 1883, cfg.Broker.Port)
	assert.Zero(t, cfg.Broker.Backoff)
	assert.Equal(t, "still-set", cfg.Broker.Host)
	assert.Nil(t, cfg.Rate)
}

func TestEnvConfigLoaderConfigJSON(t *testing.T) {
	t.Setenv("APP_CONFIG_JSON", `{"known_robots":["solo"],"broker":{"host":"json-host"}}`)
	t.Setenv("APP_BROKER_HOST", "ignored")

	var cfg sampleConfig
	require.NoError(t, NewEnvConfigLoader(nil, "APP_").Load(context.Background(), "", &cfg))

	assert.Equal(t, []string{"solo"}, cfg.Robots)
	assert.Equal(t, "json-host", cfg.Broker.Host)
}

func TestEnvConfigLoaderRejectsNonPointer(t *testing.T) {
	var cfg sampleConfig

	require.ErrorIs(t, NewEnvConfigLoader(nil, "APP_").Load(context.Background(), "", cfg), ErrDstMustBeNonNilPointer)

	s := "x"
	require.ErrorIs(t, NewEnvConfigLoader(nil, "APP_").Load(context.Background(), "", &s), ErrDstMustBePointerToStruct)
}

func TestRedactedDropsSensitiveFields(t *testing.T) {
	cfg := &sampleConfig{
		Listen: ":5000",
		Hidden: "internal",
		Broker: brokerSection{Host: "h", Password: "top-secret", Backoff: interval(15 * time.Second)},
	}

	data, err := Redacted(cfg)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "top-secret")
	assert.NotContains(t, string(data), "internal")

	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &out))

	broker := out["broker"].(map[string]interface{})
	assert.Equal(t, "h", broker["host"])
	assert.Equal(t, "15s", broker["backoff"])
	assert.NotContains(t, broker, "password")
}

func TestRedactedRejectsNonStruct(t *testing.T) {
	_, err := Redacted("plain")
	require.ErrorIs(t, err, errInvalidConfigPtr)
}
