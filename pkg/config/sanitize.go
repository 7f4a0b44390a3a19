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
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
)

// Redacted renders cfg as JSON with every field tagged `sensitive:"true"`
// removed, for logging the effective configuration.
func Redacted(cfg interface{}) ([]byte, error) {
	if cfg == nil {
		return []byte("null"), nil
	}

	safe := filterSensitive(reflect.ValueOf(cfg))
	if safe == nil {
		return nil, fmt.Errorf("%w: got %T", errInvalidConfigPtr, cfg)
	}

	return json.Marshal(safe)
}

func filterSensitive(rv reflect.Value) interface{} {
	if rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return nil
		}

		rv = rv.Elem()
	}

	if rv.Kind() != reflect.Struct {
		return nil
	}

	// Types with their own JSON form (durations and the like) are kept whole.
	if _, ok := rv.Interface().(json.Marshaler); ok {
		return rv.Interface()
	}

	rt := rv.Type()
	out := make(map[string]interface{}, rt.NumField())

	for i := 0; i < rt.NumField(); i++ {
		field := rt.Field(i)
		if !field.IsExported() || field.Tag.Get("sensitive") == "true" {
			continue
		}

		name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		if name == "-" {
			continue
		}

		if name == "" {
			name = field.Name
		}

		value := rv.Field(i)
		if nested := filterSensitive(value); nested != nil {
			out[name] = nested
			continue
		}

		out[name] = value.Interface()
	}

	return out
}
