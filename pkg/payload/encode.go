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
	"bytes"
	"fmt"
	"sort"

	"github.com/vmihailenco/msgpack/v5"
)

// Encode serializes v as msgpack. Bytes are written as bin and String as str
// so that DecodeMsgpack restores the same value. Map keys are written in
// sorted order.
func Encode(v Value) ([]byte, error) {
	var buf bytes.Buffer

	enc := msgpack.NewEncoder(&buf)

	if err := writeMsgpack(enc, v); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

func writeMsgpack(enc *msgpack.Encoder, v Value) error {
	switch t := v.(type) {
	case nil, Null:
		return enc.EncodeNil()
	case Bool:
		return enc.EncodeBool(bool(t))
	case Number:
		if i, ok := t.Int64(); ok {
			return enc.EncodeInt(i)
		}

		if u, ok := t.Uint64(); ok {
			return enc.EncodeUint(u)
		}

		return enc.EncodeFloat64(t.Float64())
	case String:
		return enc.EncodeString(string(t))
	case Bytes:
		return enc.EncodeBytes([]byte(t))
	case ErrorMarker:
		return enc.EncodeString(errorPrefix + t.Message)
	case Sequence:
		if err := enc.EncodeArrayLen(len(t)); err != nil {
			return err
		}

		for _, e := range t {
			if err := writeMsgpack(enc, e); err != nil {
				return err
			}
		}

		return nil
	case Map:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}

		sort.Strings(keys)

		if err := enc.EncodeMapLen(len(keys)); err != nil {
			return err
		}

		for _, k := range keys {
			if err := enc.EncodeString(k); err != nil {
				return err
			}

			if err := writeMsgpack(enc, t[k]); err != nil {
				return fmt.Errorf("key %q: %w", k, err)
			}
		}

		return nil
	default:
		return fmt.Errorf("%w: %T", errUnsupportedType, v)
	}
}
