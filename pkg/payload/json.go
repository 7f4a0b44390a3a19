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

package payload

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
)

var errUnsupportedType = errors.New("unsupported value type")

const errorPrefix = "Error: "

// FromInterface converts the generic result of encoding/json (decoded with
// UseNumber or not) into a Value.
func FromInterface(v interface{}) (Value, error) {
	switch t := v.(type) {
	case nil:
		return Null{}, nil
	case map[string]interface{}:
		m := make(Map, len(t))

		for k, e := range t {
			val, err := FromInterface(e)
			if err != nil {
				return nil, fmt.Errorf("key %q: %w", k, err)
			}

			m[k] = val
		}

		return m, nil
	case []interface{}:
		seq := make(Sequence, len(t))

		for i, e := range t {
			val, err := FromInterface(e)
			if err != nil {
				return nil, fmt.Errorf("index %d: %w", i, err)
			}

			seq[i] = val
		}

		return seq, nil
	case string:
		return String(t), nil
	case bool:
		return Bool(t), nil
	case json.Number:
		return numberFromJSON(t)
	case float64:
		return Float(t), nil
	case int:
		return Int(int64(t)), nil
	case int64:
		return Int(t), nil
	case []byte:
		return Bytes(t), nil
	case Value:
		return t, nil
	default:
		return nil, fmt.Errorf("%w: %T", errUnsupportedType, v)
	}
}

func numberFromJSON(n json.Number) (Value, error) {
	if i, err := n.Int64(); err == nil {
		return Int(i), nil
	}

	if u, err := strconv.ParseUint(n.String(), 10, 64); err == nil {
		return Uint(u), nil
	}

	f, err := n.Float64()
	if err != nil {
		return nil, err
	}

	return Float(f), nil
}

// MarshalJSON renders an integer exactly and a float in its shortest form.
// NaN and infinities have no JSON form and render as null.
func (n Number) MarshalJSON() ([]byte, error) {
	return appendNumber(nil, n), nil
}

func appendNumber(dst []byte, n Number) []byte {
	if n.exact {
		return strconv.AppendInt(dst, n.i, 10)
	}

	if n.unsigned {
		return strconv.AppendUint(dst, n.u, 10)
	}

	if math.IsNaN(n.f) || math.IsInf(n.f, 0) {
		return append(dst, "null"...)
	}

	return strconv.AppendFloat(dst, n.f, 'g', -1, 64)
}

// MarshalJSON renders the marker the way viewers recognise failed topics.
func (e ErrorMarker) MarshalJSON() ([]byte, error) {
	return json.Marshal(errorPrefix + e.Message)
}

// MarshalJSON renders Null as JSON null.
func (Null) MarshalJSON() ([]byte, error) {
	return []byte("null"), nil
}

// MarshalJSON renders the sequence, writing numbers directly since image
// frames are long runs of them.
func (s Sequence) MarshalJSON() ([]byte, error) {
	out := make([]byte, 0, 2+len(s)*4)
	out = append(out, '[')

	for i, v := range s {
		if i > 0 {
			out = append(out, ',')
		}

		if n, ok := v.(Number); ok {
			out = appendNumber(out, n)
			continue
		}

		if v == nil {
			out = append(out, "null"...)
			continue
		}

		b, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}

		out = append(out, b...)
	}

	return append(out, ']'), nil
}
