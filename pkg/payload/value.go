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

// Package payload decodes telemetry payloads into a closed set of value types,
// normalizes image frames and renders values for viewers.
package payload

import (
	"bytes"
	"math"
)

// Value is a decoded payload. The concrete types are Map, Sequence, String,
// Bytes, Number, Bool, Null and ErrorMarker; consumers switch over them.
type Value interface {
	isValue()
}

// Map is a decoded map. Non-string keys are stringified at decode time.
type Map map[string]Value

// Sequence is a decoded array.
type Sequence []Value

// String is decoded text.
type String string

// Bytes is a binary string. It is kept distinct from String.
type Bytes []byte

// Bool is a decoded boolean.
type Bool bool

// Null is the decoded nil value.
type Null struct{}

// ErrorMarker stands in for a payload that could not be decoded or did not
// have the expected structure. It is stored and forwarded like any other value.
type ErrorMarker struct {
	Message string
}

// Number is a decoded number. Integers that fit an int64 or a uint64 are
// kept exact.
type Number struct {
	f        float64
	i        int64
	u        uint64
	exact    bool
	unsigned bool
}

func (Map) isValue()         {}
func (Sequence) isValue()    {}
func (String) isValue()      {}
func (Bytes) isValue()       {}
func (Bool) isValue()        {}
func (Null) isValue()        {}
func (ErrorMarker) isValue() {}
func (Number) isValue()      {}

// Error markers produced by the decode pipeline.
const (
	MsgCannotDecode   = "cannot decode payload"
	MsgImageStructure = "image structure incorrect"
	MsgInvalidBase64  = "invalid base64 in image data"
	MsgImageDataType  = "unexpected data type in image field"
)

// Waiting is the placeholder value of a topic that has not reported yet.
const Waiting = String("waiting...")

// Int returns an exact integer Number.
func Int(v int64) Number {
	return Number{f: float64(v), i: v, exact: true}
}

// Uint returns an exact integer Number for v.
func Uint(v uint64) Number {
	if v > math.MaxInt64 {
		return Number{f: float64(v), u: v, unsigned: true}
	}

	return Int(int64(v))
}

// Float returns a floating point Number.
func Float(v float64) Number {
	return Number{f: v}
}

// Float64 returns n as a float64.
func (n Number) Float64() float64 {
	return n.f
}

// Int64 returns n as an int64 when n holds an exact integer.
func (n Number) Int64() (int64, bool) {
	return n.i, n.exact
}

// Uint64 returns n as a uint64 when n holds an exact non-negative integer.
func (n Number) Uint64() (uint64, bool) {
	switch {
	case n.unsigned:
		return n.u, true
	case n.exact && n.i >= 0:
		return uint64(n.i), true
	default:
		return 0, false
	}
}

// IsInt reports whether n holds an exact integer.
func (n Number) IsInt() bool {
	return n.exact || n.unsigned
}

// Error returns an ErrorMarker carrying msg.
func Error(msg string) ErrorMarker {
	return ErrorMarker{Message: msg}
}

// IsError reports whether v is an ErrorMarker.
func IsError(v Value) bool {
	_, ok := v.(ErrorMarker)
	return ok
}

// Clone returns a deep copy of v. Scalars are immutable and shared.
func Clone(v Value) Value {
	switch t := v.(type) {
	case Map:
		out := make(Map, len(t))
		for k, e := range t {
			out[k] = Clone(e)
		}

		return out
	case Sequence:
		out := make(Sequence, len(t))
		for i, e := range t {
			out[i] = Clone(e)
		}

		return out
	case Bytes:
		out := make(Bytes, len(t))
		copy(out, t)

		return out
	default:
		return v
	}
}

// Equal reports whether a and b hold the same value. Numbers compare by value,
// so Int(1) equals Float(1).
func Equal(a, b Value) bool {
	switch x := a.(type) {
	case Map:
		y, ok := b.(Map)
		if !ok || len(x) != len(y) {
			return false
		}

		for k, v := range x {
			w, found := y[k]
			if !found || !Equal(v, w) {
				return false
			}
		}

		return true
	case Sequence:
		y, ok := b.(Sequence)
		if !ok || len(x) != len(y) {
			return false
		}

		for i := range x {
			if !Equal(x[i], y[i]) {
				return false
			}
		}

		return true
	case Bytes:
		y, ok := b.(Bytes)
		return ok && bytes.Equal(x, y)
	case Number:
		y, ok := b.(Number)
		if !ok {
			return false
		}

		if x.unsigned || y.unsigned {
			if x.IsInt() && y.IsInt() {
				xu, xok := x.Uint64()
				yu, yok := y.Uint64()

				return xok && yok && xu == yu
			}
		}

		if x.exact && y.exact {
			return x.i == y.i
		}

		return x.f == y.f
	case String, Bool, Null, ErrorMarker:
		return a == b
	default:
		return a == nil && b == nil
	}
}
