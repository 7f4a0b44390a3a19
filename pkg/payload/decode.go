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
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/vmihailenco/msgpack/v5"
	"github.com/vmihailenco/msgpack/v5/msgpcode"
)

const maxDepth = 1000

var (
	errTooDeep         = errors.New("payload nested too deeply")
	errInvalidUTF8     = errors.New("msgpack string is not valid UTF-8")
	errUnsupportedCode = errors.New("unsupported msgpack code")
	errLengthOverrun   = errors.New("msgpack length exceeds remaining input")
	errUnhashableKey   = errors.New("msgpack map key is a container")
	errTrailingData    = errors.New("trailing data after payload")
)

// Decode turns raw broker bytes into a Value. It never fails: the cascade is
// msgpack, then JSON for JSON-shaped UTF-8 text, then the text itself, and an
// ErrorMarker when the bytes are not even valid UTF-8.
func Decode(raw []byte) Value {
	if v, err := DecodeMsgpack(raw); err == nil {
		return v
	}

	if !utf8.Valid(raw) {
		return Error(MsgCannotDecode)
	}

	text := string(raw)

	trimmed := strings.TrimSpace(text)
	if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
		if v, err := DecodeJSON(raw); err == nil {
			return v
		}
	}

	return String(text)
}

// DecodeMsgpack decodes exactly one msgpack value spanning all of raw.
// Binary strings decode to Bytes and text strings to String.
func DecodeMsgpack(raw []byte) (v Value, err error) {
	if len(raw) == 0 {
		return nil, io.ErrUnexpectedEOF
	}

	defer func() {
		if r := recover(); r != nil {
			v = nil
			err = fmt.Errorf("msgpack decoder panic: %v", r)
		}
	}()

	r := bytes.NewReader(raw)
	dec := msgpack.NewDecoder(r)

	v, err = readMsgpack(dec, r, 0)
	if err != nil {
		return nil, err
	}

	if r.Len() != 0 {
		return nil, errTrailingData
	}

	return v, nil
}

func readMsgpack(dec *msgpack.Decoder, r *bytes.Reader, depth int) (Value, error) {
	if depth > maxDepth {
		return nil, errTooDeep
	}

	c, err := dec.PeekCode()
	if err != nil {
		return nil, err
	}

	switch {
	case c == msgpcode.Nil:
		return Null{}, dec.DecodeNil()
	case c == msgpcode.False || c == msgpcode.True:
		b, err := dec.DecodeBool()
		return Bool(b), err
	case msgpcode.IsFixedNum(c), c == msgpcode.Int8, c == msgpcode.Int16,
		c == msgpcode.Int32, c == msgpcode.Int64:
		i, err := dec.DecodeInt64()
		return Int(i), err
	case c == msgpcode.Uint8, c == msgpcode.Uint16, c == msgpcode.Uint32, c == msgpcode.Uint64:
		u, err := dec.DecodeUint64()
		return Uint(u), err
	case c == msgpcode.Float, c == msgpcode.Double:
		f, err := dec.DecodeFloat64()
		return Float(f), err
	case msgpcode.IsString(c):
		b, err := readMsgpackRaw(dec, r)
		if err != nil {
			return nil, err
		}

		if !utf8.Valid(b) {
			return nil, errInvalidUTF8
		}

		return String(b), nil
	case msgpcode.IsBin(c):
		b, err := readMsgpackRaw(dec, r)
		if err != nil {
			return nil, err
		}

		return Bytes(b), nil
	case msgpcode.IsFixedArray(c), c == msgpcode.Array16, c == msgpcode.Array32:
		return readMsgpackArray(dec, r, depth)
	case msgpcode.IsFixedMap(c), c == msgpcode.Map16, c == msgpcode.Map32:
		return readMsgpackMap(dec, r, depth)
	default:
		return nil, fmt.Errorf("%w: 0x%02x", errUnsupportedCode, c)
	}
}

// readMsgpackRaw reads a str or bin body. The declared length is checked
// against the remaining input before anything is allocated.
func readMsgpackRaw(dec *msgpack.Decoder, r *bytes.Reader) ([]byte, error) {
	n, err := dec.DecodeBytesLen()
	if err != nil {
		return nil, err
	}

	if n < 0 || n > r.Len() {
		return nil, errLengthOverrun
	}

	b := make([]byte, n)
	if err := dec.ReadFull(b); err != nil {
		return nil, err
	}

	return b, nil
}

func readMsgpackArray(dec *msgpack.Decoder, r *bytes.Reader, depth int) (Value, error) {
	n, err := dec.DecodeArrayLen()
	if err != nil {
		return nil, err
	}

	// every element takes at least one byte
	if n < 0 || n > r.Len() {
		return nil, errLengthOverrun
	}

	seq := make(Sequence, 0, n)

	for i := 0; i < n; i++ {
		v, err := readMsgpack(dec, r, depth+1)
		if err != nil {
			return nil, err
		}

		seq = append(seq, v)
	}

	return seq, nil
}

func readMsgpackMap(dec *msgpack.Decoder, r *bytes.Reader, depth int) (Value, error) {
	n, err := dec.DecodeMapLen()
	if err != nil {
		return nil, err
	}

	if n < 0 || n > r.Len()/2 {
		return nil, errLengthOverrun
	}

	m := make(Map, n)

	for i := 0; i < n; i++ {
		k, err := readMsgpack(dec, r, depth+1)
		if err != nil {
			return nil, err
		}

		key, err := mapKey(k)
		if err != nil {
			return nil, err
		}

		v, err := readMsgpack(dec, r, depth+1)
		if err != nil {
			return nil, err
		}

		m[key] = v
	}

	return m, nil
}

func mapKey(k Value) (string, error) {
	switch t := k.(type) {
	case String:
		return string(t), nil
	case Bytes:
		return string(t), nil
	case Number:
		if i, ok := t.Int64(); ok {
			return strconv.FormatInt(i, 10), nil
		}

		if u, ok := t.Uint64(); ok {
			return strconv.FormatUint(u, 10), nil
		}

		return strconv.FormatFloat(t.Float64(), 'g', -1, 64), nil
	case Bool:
		return strconv.FormatBool(bool(t)), nil
	case Null:
		return "null", nil
	default:
		return "", errUnhashableKey
	}
}

// DecodeJSON decodes a single JSON document spanning all of raw.
func DecodeJSON(raw []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var doc interface{}
	if err := dec.Decode(&doc); err != nil {
		return nil, err
	}

	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errTrailingData
	}

	return FromInterface(doc)
}
