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
	"encoding"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"

	"github.com/carverauto/fleetbridge/pkg/logger"
)

var (
	// ErrDstMustBeNonNilPointer indicates that the destination must be a non-nil pointer.
	ErrDstMustBeNonNilPointer = errors.New("dst must be a non-nil pointer")
	// ErrDstMustBePointerToStruct indicates that the destination must be a pointer to a struct.
	ErrDstMustBePointerToStruct = errors.New("dst must be a pointer to a struct")

	errUnsupportedKind = errors.New("unsupported field kind")
)

// EnvConfigLoader loads configuration from environment variables.
//
// Field names come from json tags, upper-cased and joined to their section
// with an underscore: with prefix FLEETBRIDGE_ the broker host is read from
// FLEETBRIDGE_BROKER_HOST. String lists are comma-separated. Types that
// implement encoding.TextUnmarshaler (durations) parse themselves. Pointer
// fields stay nil unless one of their variables is set.
type EnvConfigLoader struct {
	logger logger.Logger
	prefix string
}

// NewEnvConfigLoader creates a new environment variable config loader.
func NewEnvConfigLoader(log logger.Logger, prefix string) *EnvConfigLoader {
	if log == nil {
		log = logger.NewTestLogger()
	}

	return &EnvConfigLoader{
		logger: log,
		prefix: prefix,
	}
}

// Load implements ConfigLoader. A whole JSON document in <prefix>CONFIG_JSON
// takes precedence over individual variables.
func (e *EnvConfigLoader) Load(_ context.Context, _ string, dst interface{}) error {
	if doc := os.Getenv(e.prefix + "CONFIG_JSON"); doc != "" {
		if err := json.Unmarshal([]byte(doc), dst); err != nil {
			return fmt.Errorf("failed to unmarshal %sCONFIG_JSON: %w", e.prefix, err)
		}

		e.logger.Info().Str("env", e.prefix+"CONFIG_JSON").Msg("Loaded configuration from JSON environment variable")

		return nil
	}

	v := reflect.ValueOf(dst)
	if v.Kind() != reflect.Ptr || v.IsNil() {
		return ErrDstMustBeNonNilPointer
	}

	v = v.Elem()
	if v.Kind() != reflect.Struct {
		return ErrDstMustBePointerToStruct
	}

	set := e.loadStruct(v, e.prefix)

	e.logger.Info().Str("prefix", e.prefix).Bool("any_set", set).Msg("Loaded configuration from environment variables")

	return nil
}

// loadStruct fills the tagged fields of v and reports whether any variable
// was applied. A field whose variable does not parse is left untouched.
func (e *EnvConfigLoader) loadStruct(v reflect.Value, prefix string) bool {
	t := v.Type()
	applied := false

	for i := 0; i < t.NumField(); i++ {
		field := v.Field(i)
		if !field.CanSet() {
			continue
		}

		name, _, _ := strings.Cut(t.Field(i).Tag.Get("json"), ",")
		if name == "" || name == "-" {
			continue
		}

		envName := prefix + strings.ToUpper(name)

		set, err := e.loadField(field, envName)
		if err != nil {
			e.logger.Warn().Err(err).Str("env", envName).Msg("Ignoring invalid environment variable")
			continue
		}

		applied = applied || set
	}

	return applied
}

func (e *EnvConfigLoader) loadField(field reflect.Value, envName string) (bool, error) {
	if u, ok := field.Addr().Interface().(encoding.TextUnmarshaler); ok {
		value, found := os.LookupEnv(envName)
		if !found || value == "" {
			return false, nil
		}

		if err := u.UnmarshalText([]byte(value)); err != nil {
			return false, fmt.Errorf("invalid value for %s: %w", envName, err)
		}

		return true, nil
	}

	switch field.Kind() {
	case reflect.Struct:
		return e.loadStruct(field, envName+"_"), nil
	case reflect.Ptr:
		// Load into a scratch value so an unset section keeps its nil default.
		target := field
		if field.IsNil() {
			target = reflect.New(field.Type().Elem())
		}

		set, err := e.loadField(target.Elem(), envName)
		if err != nil || !set {
			return false, err
		}

		if field.IsNil() {
			field.Set(target)
		}

		return true, nil
	}

	value := os.Getenv(envName)
	if value == "" {
		return false, nil
	}

	if err := setScalar(field, envName, value); err != nil {
		return false, err
	}

	return true, nil
}

// setScalar parses value into one of the leaf kinds used by the bridge
// configuration.
func setScalar(field reflect.Value, envName, value string) error {
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean value for %s: %w", envName, err)
		}

		field.SetBool(b)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		i, err := strconv.ParseInt(value, 10, field.Type().Bits())
		if err != nil {
			return fmt.Errorf("invalid integer value for %s: %w", envName, err)
		}

		field.SetInt(i)
	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, field.Type().Bits())
		if err != nil {
			return fmt.Errorf("invalid float value for %s: %w", envName, err)
		}

		field.SetFloat(f)
	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("%w: %s for %s", errUnsupportedKind, field.Type(), envName)
		}

		var items []string

		for _, item := range strings.Split(value, ",") {
			if item = strings.TrimSpace(item); item != "" {
				items = append(items, item)
			}
		}

		field.Set(reflect.ValueOf(items).Convert(field.Type()))
	default:
		return fmt.Errorf("%w: %s for %s", errUnsupportedKind, field.Kind(), envName)
	}

	return nil
}
